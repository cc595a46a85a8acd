package game

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"quizduel/internal/domain"
	"quizduel/internal/errors"
	"quizduel/internal/event"
	"quizduel/internal/rating"
)

const (
	defaultQuestionsPerGame = 3
	defaultReviewDelay      = 5 * time.Second
	defaultRoundGrace       = 5 * time.Second

	wrongAnswerPenalty = -20
)

// QuestionStore is the read-only question collaborator.
type QuestionStore interface {
	Sample(ctx context.Context, category, topic string, count int) ([]domain.Question, error)
	Get(ctx context.Context, questionID string) (*domain.Question, error)
}

// RatingStore persists per-player skill aggregates at game completion.
type RatingStore interface {
	Get(ctx context.Context, playerID string) (*domain.RatingRecord, error)
	ApplyDelta(ctx context.Context, playerID string, result domain.Result, delta int, topic string) error
}

type Config struct {
	Redis     redis.UniversalClient
	Prefix    string
	EventBus  *event.Bus
	Questions QuestionStore
	Ratings   RatingStore

	QuestionsPerGame int
	ReviewDelay      time.Duration
	RoundGrace       time.Duration

	// Now is the clock; nil means time.Now. Tests inject a fixed clock.
	Now func() time.Time

	// NewTimerFunc creates round force-close timers; nil means time.AfterFunc.
	NewTimerFunc func(d time.Duration, f func()) RoundTimer
}

// RoundTimer is a cancellable one-shot timer.
type RoundTimer interface {
	Stop() bool
}

// Service owns game sessions from creation to FINISHED. It is the only
// writer of session state while a duel is in progress.
type Service struct {
	store     *store
	eb        *event.Bus
	questions QuestionStore
	ratings   RatingStore

	perGame     int
	reviewDelay time.Duration
	roundGrace  time.Duration
	now         func() time.Time
	newTimer    func(d time.Duration, f func()) RoundTimer

	mu     sync.Mutex
	timers map[string]RoundTimer
}

func NewService(c Config) *Service {
	s := &Service{
		store:       newStore(c.Redis, c.Prefix),
		eb:          c.EventBus,
		questions:   c.Questions,
		ratings:     c.Ratings,
		perGame:     c.QuestionsPerGame,
		reviewDelay: c.ReviewDelay,
		roundGrace:  c.RoundGrace,
		now:         c.Now,
		newTimer:    c.NewTimerFunc,
		timers:      make(map[string]RoundTimer),
	}

	if s.perGame <= 0 {
		s.perGame = defaultQuestionsPerGame
	}
	if s.reviewDelay <= 0 {
		s.reviewDelay = defaultReviewDelay
	}
	if s.roundGrace <= 0 {
		s.roundGrace = defaultRoundGrace
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newTimer == nil {
		s.newTimer = func(d time.Duration, f func()) RoundTimer {
			return time.AfterFunc(d, f)
		}
	}

	return s
}

// Close cancels all pending round timers.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

type Participant struct {
	PlayerID     string
	ConnectionID string
}

type CreateGameRequest struct {
	Players  [2]Participant
	Topic    string
	Category string
}

// CreateGame creates a public session for a matched pair and starts it
// immediately. Both players learn about it through the game.started event.
func (s *Service) CreateGame(ctx context.Context, req CreateGameRequest) (*domain.Game, error) {
	questions, err := s.sampleQuestions(ctx, req.Category, req.Topic)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("game: generate id: %w", err)
	}

	now := s.now()
	g := &domain.Game{
		ID:                    id.String(),
		Mode:                  domain.ModePublic,
		Status:                domain.StatusInProgress,
		Topic:                 req.Topic,
		Category:              req.Category,
		Questions:             toGameQuestions(questions),
		StartedAt:             now,
		CurrentRoundStartedAt: now,
	}
	for _, p := range req.Players {
		g.Players = append(g.Players, domain.PlayerState{
			PlayerID:     p.PlayerID,
			ConnectionID: p.ConnectionID,
		})
	}

	if err := s.store.Create(ctx, g); err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventGameStarted{Game: *g, Questions: questions})
	s.scheduleRoundTimer(g, 0, time.Duration(g.Questions[0].TimeLimitSec)*time.Second+s.roundGrace)

	slog.InfoContext(ctx, "game: public session started",
		"game", g.ID, "topic", g.Topic, "category", g.Category)

	return g, nil
}

type CreatePrivateRequest struct {
	PlayerID     string
	ConnectionID string
	Topic        string
	Category     string
}

type CreatePrivateResponse struct {
	GameID   string
	JoinCode string
}

// CreatePrivate creates a WAITING session with the creator as sole player and
// a shareable join code. Code collisions are not checked; see DESIGN.md.
func (s *Service) CreatePrivate(ctx context.Context, req CreatePrivateRequest) (*CreatePrivateResponse, error) {
	topic := req.Topic
	if topic == "" {
		topic = domain.DefaultTopic
	}
	category := req.Category
	if category == "" {
		category = domain.DefaultCategory
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("game: generate id: %w", err)
	}

	code, err := generateJoinCode()
	if err != nil {
		return nil, fmt.Errorf("game: generate join code: %w", err)
	}

	g := &domain.Game{
		ID:       id.String(),
		Mode:     domain.ModePrivate,
		Status:   domain.StatusWaiting,
		JoinCode: code,
		Topic:    topic,
		Category: category,
		Players: []domain.PlayerState{
			{PlayerID: req.PlayerID, ConnectionID: req.ConnectionID},
		},
	}

	if err := s.store.Create(ctx, g); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "game: private session created", "game", g.ID, "code", code)

	return &CreatePrivateResponse{GameID: g.ID, JoinCode: code}, nil
}

type JoinPrivateRequest struct {
	PlayerID     string
	ConnectionID string
	JoinCode     string
}

// JoinPrivate adds the second player to a WAITING private session and starts
// the duel. Of two racing joiners exactly one wins the start claim; the
// other sees InvalidCode, same as any session that is no longer joinable.
func (s *Service) JoinPrivate(ctx context.Context, req JoinPrivateRequest) (*domain.Game, error) {
	code := strings.ToUpper(strings.TrimSpace(req.JoinCode))

	id, err := s.store.LookupCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errors.New(errors.CodeInvalidCode,
			errors.WithMessagef("invalid or expired code"))
	}

	g, err := s.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if g == nil || g.Status != domain.StatusWaiting {
		return nil, errors.New(errors.CodeInvalidCode,
			errors.WithMessagef("invalid or expired code"))
	}

	if g.Player(req.PlayerID) != nil {
		return nil, errors.New(errors.CodeAlreadyJoined,
			errors.WithMessagef("you are already in this game"))
	}

	ok, err := s.store.TryStart(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.CodeInvalidCode,
			errors.WithMessagef("invalid or expired code"))
	}

	questions, err := s.sampleQuestions(ctx, g.Category, g.Topic)
	if err != nil {
		// The start claim is held and cannot be released; the session is
		// unrecoverable without questions.
		if aerr := s.store.SetAborted(ctx, id, s.now()); aerr != nil {
			slog.ErrorContext(ctx, "game: abort after sampling failure", "game", id, "error", aerr)
		}
		return nil, err
	}

	now := s.now()
	g.Players = append(g.Players, domain.PlayerState{
		PlayerID:     req.PlayerID,
		ConnectionID: req.ConnectionID,
	})
	g.Questions = toGameQuestions(questions)
	g.Status = domain.StatusInProgress
	g.StartedAt = now
	g.CurrentRoundStartedAt = now

	if err := s.store.Start(ctx, g); err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventGameStarted{Game: *g, Questions: questions})
	s.scheduleRoundTimer(g, 0, time.Duration(g.Questions[0].TimeLimitSec)*time.Second+s.roundGrace)

	slog.InfoContext(ctx, "game: private session started", "game", g.ID, "code", code)

	return g, nil
}

type SubmitAnswerRequest struct {
	GameID     string
	PlayerID   string
	QuestionID string
	Answer     string
}

type SubmitAnswerResponse struct {
	QuestionID    string `json:"question_id"`
	IsCorrect     bool   `json:"is_correct"`
	Points        int    `json:"points"`
	NewScore      int    `json:"new_score"`
	Replayed      bool   `json:"-"`
	RoundComplete bool   `json:"-"`
	PlayerDone    bool   `json:"-"`
}

// SubmitAnswer validates and applies one answer. Timing is always computed
// server-side from the round baseline; client-reported timing is never
// trusted. A duplicate submission, whether a retransmission or a reconnect
// replay, returns the original result without scoring again.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	g, err := s.store.Load(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	if g == nil || g.Status != domain.StatusInProgress {
		return nil, errors.New(errors.CodeGameNotActive,
			errors.WithMessagef("game not active: %s", req.GameID))
	}

	player := g.Player(req.PlayerID)
	if player == nil {
		return nil, errors.New(errors.CodePlayerNotFound,
			errors.WithMessagef("player %s is not in game %s", req.PlayerID, req.GameID))
	}

	gq, ok := g.Question(req.QuestionID)
	if !ok {
		return nil, errors.New(errors.CodeQuestionNotFound,
			errors.WithMessagef("question %s is not part of game %s", req.QuestionID, req.GameID))
	}

	q, err := s.questions.Get(ctx, req.QuestionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	taken := now.Sub(g.CurrentRoundStartedAt).Seconds()
	taken = clamp(taken, 0, float64(gq.TimeLimitSec))

	correct := q.IsCorrectAnswer(req.Answer)

	rec := domain.AnswerRecord{
		QuestionID:      req.QuestionID,
		SubmittedAnswer: req.Answer,
		IsCorrect:       correct,
		TimeTakenSec:    taken,
		PointsAwarded:   answerPoints(gq.TimeLimitSec, taken, correct),
		SubmittedAt:     now,
	}

	applied, stored, err := s.store.ApplyAnswer(ctx, req.GameID, req.PlayerID, rec)
	if err != nil {
		return nil, err
	}

	// Re-read so scoring and completion see the opponent's near-simultaneous
	// writes as well as our own. Scores are derived from the answer records,
	// so this one read is a consistent snapshot.
	g, err = s.store.Load(ctx, req.GameID)
	if err != nil {
		return nil, err
	}

	if !applied {
		// Replay: same payload as the first accepted submission, including
		// the score as it stood right after that answer.
		return &SubmitAnswerResponse{
			QuestionID: stored.QuestionID,
			IsCorrect:  stored.IsCorrect,
			Points:     stored.PointsAwarded,
			NewScore:   scoreAfter(g.Player(req.PlayerID), stored.QuestionID),
			Replayed:   true,
		}, nil
	}

	resp := &SubmitAnswerResponse{
		QuestionID:    rec.QuestionID,
		IsCorrect:     rec.IsCorrect,
		Points:        rec.PointsAwarded,
		NewScore:      scoreAfter(g.Player(req.PlayerID), rec.QuestionID),
		RoundComplete: roundComplete(g, req.QuestionID),
		PlayerDone:    len(g.Player(req.PlayerID).Answers) == len(g.Questions),
	}

	if !resp.RoundComplete {
		var opponentID string
		if o := g.Opponent(req.PlayerID); o != nil {
			opponentID = o.PlayerID
		}
		s.eb.Publish(ctx, domain.EventPlayerAnswered{
			GameID:      g.ID,
			PlayerID:    req.PlayerID,
			OpponentID:  opponentID,
			AnswerCount: len(g.Player(req.PlayerID).Answers),
		})
		return resp, nil
	}

	// Both closing submissions can observe the round complete; the claim
	// picks the one that broadcasts and advances the baseline.
	claimed, err := s.store.TryCloseRound(ctx, g.ID, req.QuestionID)
	if err != nil {
		return nil, err
	}
	if claimed {
		if err := s.completeRound(ctx, g, req.QuestionID, q); err != nil {
			return nil, err
		}
	}

	if bothDone(g) {
		if err := s.finishGame(ctx, g); err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// completeRound broadcasts the round outcome and advances the timing
// baseline for the next round. The caller guarantees every player has an
// answer for questionID.
func (s *Service) completeRound(ctx context.Context, g *domain.Game, questionID string, q *domain.Question) error {
	s.cancelRoundTimer(g.ID)

	results := make([]domain.RoundResult, 0, len(g.Players))
	for i := range g.Players {
		p := &g.Players[i]
		a, _ := p.AnswerFor(questionID)
		results = append(results, domain.RoundResult{
			PlayerID:     p.PlayerID,
			IsCorrect:    a.IsCorrect,
			Points:       a.PointsAwarded,
			Score:        p.Score,
			TimeTakenSec: a.TimeTakenSec,
		})
	}

	next := s.now().Add(s.reviewDelay)
	if err := s.store.SetRoundStart(ctx, g.ID, next); err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventRoundOver{
		GameID:         g.ID,
		QuestionID:     questionID,
		CorrectAnswer:  correctAnswerText(q),
		Results:        results,
		NextRoundStart: next,
	})

	if idx := questionIndex(g, questionID); idx >= 0 && idx+1 < len(g.Questions) {
		limit := time.Duration(g.Questions[idx+1].TimeLimitSec) * time.Second
		s.scheduleRoundTimer(g, idx+1, s.reviewDelay+limit+s.roundGrace)
	}

	return nil
}

// finishGame runs once per game: determines the winner, applies zero-sum Elo
// deltas, persists final state, and broadcasts game over. Concurrent
// triggers from both players' last submissions are collapsed by the finish
// claim.
func (s *Service) finishGame(ctx context.Context, g *domain.Game) error {
	ok, err := s.store.TryFinish(ctx, g.ID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	s.cancelRoundTimer(g.ID)

	p1, p2 := &g.Players[0], &g.Players[1]
	res1, res2 := rating.Outcome(p1.Score, p2.Score)

	r1, err := s.ratings.Get(ctx, p1.PlayerID)
	if err != nil {
		return err
	}
	r2, err := s.ratings.Get(ctx, p2.PlayerID)
	if err != nil {
		return err
	}

	delta1 := rating.Delta(r1.Rating, r2.Rating, res1)
	delta2 := -delta1 // zero-sum by assignment, never recomputed

	outcomes := map[string]playerOutcome{
		p1.PlayerID: {Result: res1, RatingChange: delta1, RatingAfter: r1.Rating + delta1},
		p2.PlayerID: {Result: res2, RatingChange: delta2, RatingAfter: r2.Rating + delta2},
	}

	endedAt := s.now()
	if err := s.store.Finalize(ctx, g.ID, endedAt, outcomes); err != nil {
		return err
	}

	if err := s.ratings.ApplyDelta(ctx, p1.PlayerID, res1, delta1, g.Topic); err != nil {
		return err
	}
	if err := s.ratings.ApplyDelta(ctx, p2.PlayerID, res2, delta2, g.Topic); err != nil {
		return err
	}

	var winnerID string
	if res1 == domain.ResultWin {
		winnerID = p1.PlayerID
	} else if res2 == domain.ResultWin {
		winnerID = p2.PlayerID
	}

	s.eb.Publish(ctx, domain.EventGameOver{
		GameID:   g.ID,
		WinnerID: winnerID,
		Results: []domain.PlayerOutcome{
			{PlayerID: p1.PlayerID, Score: p1.Score, Result: res1, RatingChange: delta1, RatingAfter: r1.Rating + delta1},
			{PlayerID: p2.PlayerID, Score: p2.Score, Result: res2, RatingChange: delta2, RatingAfter: r2.Rating + delta2},
		},
	})

	slog.InfoContext(ctx, "game: finished",
		"game", g.ID, "winner", winnerID,
		"score1", p1.Score, "score2", p2.Score,
		"delta", delta1)

	return nil
}

// Abort terminally aborts a session that cannot continue.
func (s *Service) Abort(ctx context.Context, gameID string) error {
	s.cancelRoundTimer(gameID)
	return s.store.SetAborted(ctx, gameID, s.now())
}

type SyncRequest struct {
	GameID   string
	PlayerID string
}

type SyncResponse struct {
	Game                 *domain.Game
	CurrentQuestionIndex int
	Questions            []domain.Question
}

// Sync is the reconnection read: a pure, repeatable snapshot of the
// requester's position in an in-progress game.
func (s *Service) Sync(ctx context.Context, req SyncRequest) (*SyncResponse, error) {
	g, err := s.store.Load(ctx, req.GameID)
	if err != nil {
		return nil, err
	}
	if g == nil || g.Status != domain.StatusInProgress {
		return nil, errors.New(errors.CodeGameNotActive,
			errors.WithMessagef("game not active: %s", req.GameID))
	}

	player := g.Player(req.PlayerID)
	if player == nil {
		return nil, errors.New(errors.CodePlayerNotFound,
			errors.WithMessagef("player %s is not in game %s", req.PlayerID, req.GameID))
	}

	questions := make([]domain.Question, len(g.Questions))
	var eg errgroup.Group
	for i, gq := range g.Questions {
		i, gq := i, gq
		eg.Go(func() error {
			q, err := s.questions.Get(ctx, gq.QuestionID)
			if err != nil {
				return err
			}
			questions[i] = *q
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return &SyncResponse{
		Game:                 g,
		CurrentQuestionIndex: len(player.Answers),
		Questions:            questions,
	}, nil
}

func (s *Service) sampleQuestions(ctx context.Context, category, topic string) ([]domain.Question, error) {
	questions, err := s.questions.Sample(ctx, category, topic, s.perGame)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, errors.New(errors.CodeInternal,
			errors.WithMessagef("no active questions for category=%s topic=%s", category, topic))
	}
	return questions, nil
}

// scheduleRoundTimer arms the force-close timer for one round. At most one
// timer exists per game.
func (s *Service) scheduleRoundTimer(g *domain.Game, round int, d time.Duration) {
	gameID := g.ID
	questionID := g.Questions[round].QuestionID
	limit := g.Questions[round].TimeLimitSec

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[gameID]; ok {
		t.Stop()
	}
	s.timers[gameID] = s.newTimer(d, func() {
		s.forceCloseRound(gameID, questionID, limit)
	})
}

func (s *Service) cancelRoundTimer(gameID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[gameID]; ok {
		t.Stop()
		delete(s.timers, gameID)
	}
}

// forceCloseRound fires when a round overruns its time limit plus grace. Any
// player still without an answer gets a timed-out record, written through the
// same conditional path as a real submission so a last-instant answer always
// beats the timeout. Then the usual round and game completion runs.
func (s *Service) forceCloseRound(gameID, questionID string, limitSec int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	g, err := s.store.Load(ctx, gameID)
	if err != nil {
		slog.ErrorContext(ctx, "game: force close: load failed", "game", gameID, "error", err)
		return
	}
	if g == nil || g.Status != domain.StatusInProgress {
		return
	}

	now := s.now()
	for i := range g.Players {
		p := &g.Players[i]
		if _, answered := p.AnswerFor(questionID); answered {
			continue
		}

		rec := domain.AnswerRecord{
			QuestionID:   questionID,
			IsCorrect:    false,
			TimeTakenSec: float64(limitSec),
			SubmittedAt:  now,
		}
		if _, _, err := s.store.ApplyAnswer(ctx, gameID, p.PlayerID, rec); err != nil {
			slog.ErrorContext(ctx, "game: force close: apply timeout failed",
				"game", gameID, "player", p.PlayerID, "error", err)
			return
		}
	}

	g, err = s.store.Load(ctx, gameID)
	if err != nil {
		slog.ErrorContext(ctx, "game: force close: reload failed", "game", gameID, "error", err)
		return
	}

	q, err := s.questions.Get(ctx, questionID)
	if err != nil {
		slog.ErrorContext(ctx, "game: force close: question lookup failed", "game", gameID, "error", err)
		return
	}

	// A submission landing in the same instant may already hold the claim.
	claimed, err := s.store.TryCloseRound(ctx, gameID, questionID)
	if err != nil {
		slog.ErrorContext(ctx, "game: force close: claim round failed", "game", gameID, "error", err)
		return
	}
	if claimed {
		if err := s.completeRound(ctx, g, questionID, q); err != nil {
			slog.ErrorContext(ctx, "game: force close: complete round failed", "game", gameID, "error", err)
			return
		}
		slog.InfoContext(ctx, "game: round force-closed", "game", gameID, "question", questionID)
	}

	if bothDone(g) {
		if err := s.finishGame(ctx, g); err != nil {
			slog.ErrorContext(ctx, "game: force close: finish failed", "game", gameID, "error", err)
		}
	}
}

// answerPoints scores one answer: a correct answer earns a base 100 plus a
// time bonus of up to 50, an incorrect one costs 20. A missing answer (round
// timeout) scores zero and never reaches this function.
func answerPoints(limitSec int, takenSec float64, correct bool) int {
	if !correct {
		return wrongAnswerPenalty
	}

	bonus := math.Max(0, (float64(limitSec)-takenSec)/float64(limitSec)*50)
	return 100 + int(math.Round(bonus))
}

// scoreAfter returns the player's running score as it stood immediately
// after answering questionID. Answers are ordered by their write sequence,
// so the replay of a duplicate submission is byte-identical to the original
// even when submission timestamps collide.
func scoreAfter(p *domain.PlayerState, questionID string) int {
	total := 0
	for _, a := range p.Answers {
		total += a.PointsAwarded
		if a.QuestionID == questionID {
			break
		}
	}
	return total
}

func roundComplete(g *domain.Game, questionID string) bool {
	if len(g.Players) < 2 {
		return false
	}
	for i := range g.Players {
		if _, ok := g.Players[i].AnswerFor(questionID); !ok {
			return false
		}
	}
	return true
}

func bothDone(g *domain.Game) bool {
	if len(g.Players) < 2 {
		return false
	}
	for i := range g.Players {
		if len(g.Players[i].Answers) != len(g.Questions) {
			return false
		}
	}
	return true
}

func questionIndex(g *domain.Game, questionID string) int {
	for i, q := range g.Questions {
		if q.QuestionID == questionID {
			return i
		}
	}
	return -1
}

func correctAnswerText(q *domain.Question) string {
	if q.Type == domain.QuestionMultipleChoice {
		for _, o := range q.Options {
			if o.IsCorrect {
				return o.Text
			}
		}
	}
	return q.CorrectAnswer
}

func toGameQuestions(questions []domain.Question) []domain.GameQuestion {
	out := make([]domain.GameQuestion, 0, len(questions))
	for _, q := range questions {
		out = append(out, domain.GameQuestion{
			QuestionID:   q.QuestionID,
			TimeLimitSec: domain.TimeLimitFor(q.Difficulty),
		})
	}
	return out
}

func generateJoinCode() (string, error) {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(b)), nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
