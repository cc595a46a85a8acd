package rating

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quizduel/internal/domain"
)

type Config struct {
	DB *pgxpool.Pool
}

// Service persists per-player rating aggregates. It is the only writer of
// rating state, and it only runs at game completion, so per-player updates
// never contend with each other.
type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		db: c.DB,
	}
}

// Get returns the player's rating record, defaulting to a fresh record at
// the base rating for players who have never finished a game.
func (s *Service) Get(ctx context.Context, playerID string) (*domain.RatingRecord, error) {
	const stmt = `
SELECT rating, wins, losses, games_played
FROM player_ratings
WHERE player_id = $1;`

	rec := &domain.RatingRecord{
		PlayerID:     playerID,
		Rating:       domain.DefaultRating,
		TopicRatings: make(map[string]int),
	}

	err := s.db.QueryRow(ctx, stmt, playerID).Scan(&rec.Rating, &rec.Wins, &rec.Losses, &rec.GamesPlayed)
	if err != nil && !stderrors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("rating: get %s: %w", playerID, err)
	}

	const topicStmt = `
SELECT topic, rating
FROM player_topic_ratings
WHERE player_id = $1;`

	rows, err := s.db.Query(ctx, topicStmt, playerID)
	if err != nil {
		return nil, fmt.Errorf("rating: get topics %s: %w", playerID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			topic string
			r     int
		)
		if err := rows.Scan(&topic, &r); err != nil {
			return nil, fmt.Errorf("rating: scan topic %s: %w", playerID, err)
		}
		rec.TopicRatings[topic] = r
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rating: get topics %s: %w", playerID, err)
	}

	return rec, nil
}

// ApplyDelta folds one finished game into the player's aggregates: overall
// rating, win/loss counters, games played, and the per-topic rating. Each
// statement is arithmetic against the stored row, so concurrent completions
// of different games never lose an update.
func (s *Service) ApplyDelta(ctx context.Context, playerID string, result domain.Result, delta int, topic string) error {
	const stmt = `
INSERT INTO player_ratings (player_id, rating, wins, losses, games_played)
VALUES ($1, $2 + $3, $4, $5, 1)
ON CONFLICT (player_id) DO UPDATE SET
	rating       = player_ratings.rating + $3,
	wins         = player_ratings.wins + $4,
	losses       = player_ratings.losses + $5,
	games_played = player_ratings.games_played + 1;`

	wins, losses := 0, 0
	switch result {
	case domain.ResultWin:
		wins = 1
	case domain.ResultLoss:
		losses = 1
	}

	if _, err := s.db.Exec(ctx, stmt, playerID, domain.DefaultRating, delta, wins, losses); err != nil {
		return fmt.Errorf("rating: apply delta %s: %w", playerID, err)
	}

	if topic == "" || topic == domain.TopicRandom {
		return nil
	}

	const topicStmt = `
INSERT INTO player_topic_ratings (player_id, topic, rating)
VALUES ($1, $2, $3 + $4)
ON CONFLICT (player_id, topic) DO UPDATE SET
	rating = player_topic_ratings.rating + $4;`

	if _, err := s.db.Exec(ctx, topicStmt, playerID, topic, domain.DefaultRating, delta); err != nil {
		return fmt.Errorf("rating: apply topic delta %s/%s: %w", playerID, topic, err)
	}

	return nil
}
