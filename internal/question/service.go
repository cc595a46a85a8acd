package question

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quizduel/internal/domain"
	"quizduel/internal/errors"
)

type Config struct {
	DB *pgxpool.Pool
}

// Service reads authored questions. It is a read-only collaborator: nothing
// in the duel pipeline ever writes to the question store.
type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		db: c.DB,
	}
}

// Sample returns up to count active questions for the category, uniformly at
// random without replacement. A RANDOM topic disables the topic filter.
func (s *Service) Sample(ctx context.Context, category, topic string, count int) ([]domain.Question, error) {
	const stmt = `
SELECT question_id, title, description, difficulty, topic, category, type, options, correct_answer
FROM questions
WHERE is_active
  AND category = $1
  AND ($2 = '' OR topic = $2)
ORDER BY random()
LIMIT $3;`

	topicFilter := topic
	if topicFilter == domain.TopicRandom {
		topicFilter = ""
	}

	rows, err := s.db.Query(ctx, stmt, category, topicFilter, count)
	if err != nil {
		return nil, fmt.Errorf("question: sample: %w", err)
	}

	questions, err := pgx.CollectRows(rows, scanQuestion)
	if err != nil {
		return nil, fmt.Errorf("question: sample: %w", err)
	}

	return questions, nil
}

// Get fetches a single question by id.
func (s *Service) Get(ctx context.Context, questionID string) (*domain.Question, error) {
	const stmt = `
SELECT question_id, title, description, difficulty, topic, category, type, options, correct_answer
FROM questions
WHERE question_id = $1;`

	rows, err := s.db.Query(ctx, stmt, questionID)
	if err != nil {
		return nil, fmt.Errorf("question: get: %w", err)
	}

	q, err := pgx.CollectOneRow(rows, scanQuestion)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeQuestionNotFound,
			errors.WithMessagef("question not found: %s", questionID))
	}
	if err != nil {
		return nil, fmt.Errorf("question: get: %w", err)
	}

	return &q, nil
}

func scanQuestion(r pgx.CollectableRow) (domain.Question, error) {
	var q domain.Question
	if err := r.Scan(&q.QuestionID, &q.Title, &q.Description, &q.Difficulty,
		&q.Topic, &q.Category, &q.Type, &q.Options, &q.CorrectAnswer); err != nil {
		return domain.Question{}, err
	}
	q.IsActive = true
	return q, nil
}
