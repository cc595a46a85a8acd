package game_test

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"quizduel/internal/domain"
	"quizduel/internal/errors"
	"quizduel/internal/event"
	"quizduel/internal/game"
)

func TestCreateGame(t *testing.T) {
	f := makeFixture(t)

	var (
		mu      sync.Mutex
		started []domain.EventGameStarted
	)
	f.bus.Subscribe(domain.EventNameGameStarted, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		started = append(started, e.(domain.EventGameStarted))
		mu.Unlock()
		return nil
	})

	g, err := f.svc.CreateGame(context.Background(), game.CreateGameRequest{
		Players: [2]game.Participant{
			{PlayerID: "p1", ConnectionID: "c1"},
			{PlayerID: "p2", ConnectionID: "c2"},
		},
		Topic:    "DSA",
		Category: "CS",
	})
	require.NoError(t, err)
	require.Equal(t, domain.ModePublic, g.Mode)
	require.Equal(t, domain.StatusInProgress, g.Status)
	require.Len(t, g.Players, 2)
	require.Len(t, g.Questions, 3)
	for _, q := range g.Questions {
		require.Equal(t, domain.TimeLimitEasy, q.TimeLimitSec)
	}
	require.True(t, g.StartedAt.Equal(f.clock.Now()))
	require.True(t, g.CurrentRoundStartedAt.Equal(f.clock.Now()))

	f.bus.Stop()
	require.Len(t, started, 1)
	require.Equal(t, g.ID, started[0].Game.ID)
	require.Len(t, started[0].Questions, 3)

	// Force-close timer for round 0 spans the round limit plus grace.
	require.Len(t, f.timers.all(), 1)
	require.Equal(t, 20*time.Second, f.timers.all()[0].d)
}

func TestSubmitAnswer_Scoring(t *testing.T) {
	f := makeFixture(t)
	g := startDuel(t, f)

	var (
		mu        sync.Mutex
		answered  []domain.EventPlayerAnswered
		roundOver []domain.EventRoundOver
	)
	f.bus.Subscribe(domain.EventNamePlayerAnswered, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		answered = append(answered, e.(domain.EventPlayerAnswered))
		mu.Unlock()
		return nil
	})
	f.bus.Subscribe(domain.EventNameRoundOver, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		roundOver = append(roundOver, e.(domain.EventRoundOver))
		mu.Unlock()
		return nil
	})

	f.clock.Advance(5 * time.Second)

	// 5s on a 15s limit: 100 base + round(10/15*50) bonus.
	resp, err := f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		GameID:     g.ID,
		PlayerID:   "p1",
		QuestionID: "q1",
		Answer:     "A",
	})
	require.NoError(t, err)
	require.True(t, resp.IsCorrect)
	require.Equal(t, 133, resp.Points)
	require.Equal(t, 133, resp.NewScore)
	require.False(t, resp.RoundComplete)

	resp, err = f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		GameID:     g.ID,
		PlayerID:   "p2",
		QuestionID: "q1",
		Answer:     "B",
	})
	require.NoError(t, err)
	require.False(t, resp.IsCorrect)
	require.Equal(t, -20, resp.Points)
	require.Equal(t, -20, resp.NewScore)
	require.True(t, resp.RoundComplete)

	f.bus.Stop()

	require.Len(t, answered, 1, "only the non-closing submission notifies the opponent")
	require.Equal(t, "p1", answered[0].PlayerID)
	require.Equal(t, "p2", answered[0].OpponentID)
	require.Equal(t, 1, answered[0].AnswerCount)

	require.Len(t, roundOver, 1)
	require.Equal(t, "q1", roundOver[0].QuestionID)
	require.Equal(t, "A", roundOver[0].CorrectAnswer)
	require.True(t, roundOver[0].NextRoundStart.Equal(f.clock.Now().Add(5*time.Second)))
	scores := map[string]int{}
	for _, r := range roundOver[0].Results {
		scores[r.PlayerID] = r.Score
	}
	require.Equal(t, map[string]int{"p1": 133, "p2": -20}, scores)

	// Next round's timer covers the review delay too.
	last := f.timers.latest()
	require.Equal(t, 25*time.Second, last.d)
}

func TestSubmitAnswer_DuplicateReplaysOriginal(t *testing.T) {
	f := makeFixture(t)
	g := startDuel(t, f)

	f.clock.Advance(5 * time.Second)

	first, err := f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		GameID:     g.ID,
		PlayerID:   "p1",
		QuestionID: "q1",
		Answer:     "A",
	})
	require.NoError(t, err)
	require.False(t, first.Replayed)

	// A later resubmission for the same question, even with a different
	// answer, replays the stored result and never scores again.
	f.clock.Advance(3 * time.Second)
	second, err := f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		GameID:     g.ID,
		PlayerID:   "p1",
		QuestionID: "q1",
		Answer:     "B",
	})
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.QuestionID, second.QuestionID)
	require.Equal(t, first.IsCorrect, second.IsCorrect)
	require.Equal(t, first.Points, second.Points)
	require.Equal(t, first.NewScore, second.NewScore)

	snap, err := f.svc.Sync(context.Background(), game.SyncRequest{GameID: g.ID, PlayerID: "p1"})
	require.NoError(t, err)
	require.Equal(t, 133, snap.Game.Player("p1").Score)
	require.Len(t, snap.Game.Player("p1").Answers, 1)
	require.Equal(t, 1, snap.CurrentQuestionIndex)

	f.bus.Stop()
}

func TestSubmitAnswer_SimultaneousRoundClose(t *testing.T) {
	f := makeFixture(t)
	g := startDuel(t, f)

	var (
		mu        sync.Mutex
		roundOver []domain.EventRoundOver
		gameOver  []domain.EventGameOver
	)
	f.bus.Subscribe(domain.EventNameRoundOver, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		roundOver = append(roundOver, e.(domain.EventRoundOver))
		mu.Unlock()
		return nil
	})
	f.bus.Subscribe(domain.EventNameGameOver, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		gameOver = append(gameOver, e.(domain.EventGameOver))
		mu.Unlock()
		return nil
	})

	// Both players race every closing submission; each round must still
	// close exactly once, with both answers in its results.
	for _, qid := range []string{"q1", "q2", "q3"} {
		f.clock.Advance(5 * time.Second)

		var wg sync.WaitGroup
		for _, sub := range []struct{ pid, answer string }{{"p1", "A"}, {"p2", "B"}} {
			sub := sub
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
					GameID: g.ID, PlayerID: sub.pid, QuestionID: qid, Answer: sub.answer,
				})
				require.NoError(t, err)
			}()
		}
		wg.Wait()

		f.clock.Advance(5 * time.Second)
	}

	f.bus.Stop()

	require.Len(t, roundOver, 3, "each round closes exactly once")
	wantScores := map[string]map[string]int{
		"q1": {"p1": 133, "p2": -20},
		"q2": {"p1": 266, "p2": -40},
		"q3": {"p1": 399, "p2": -60},
	}
	for _, e := range roundOver {
		scores := map[string]int{}
		for _, r := range e.Results {
			scores[r.PlayerID] = r.Score
		}
		require.Equal(t, wantScores[e.QuestionID], scores,
			"round %s results must include both closing answers", e.QuestionID)
	}

	require.Len(t, gameOver, 1, "the game finishes exactly once")
	require.Equal(t, "p1", gameOver[0].WinnerID)
	for _, r := range gameOver[0].Results {
		switch r.PlayerID {
		case "p1":
			require.Equal(t, 399, r.Score)
			require.Equal(t, 16, r.RatingChange)
		case "p2":
			require.Equal(t, -60, r.Score)
			require.Equal(t, -16, r.RatingChange)
		}
	}
	require.Len(t, f.ratings.applied(), 2, "ratings apply once per player")
}

func TestSubmitAnswer_ReplayKeepsOriginalScore(t *testing.T) {
	f := makeFixture(t)
	g := startDuel(t, f)

	// No clock movement: every record carries the same timestamp, so replay
	// ordering must come from the write sequence alone.
	resp, err := f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		GameID: g.ID, PlayerID: "p1", QuestionID: "q2", Answer: "A",
	})
	require.NoError(t, err)
	require.Equal(t, 150, resp.Points)
	require.Equal(t, 150, resp.NewScore)

	resp, err = f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		GameID: g.ID, PlayerID: "p1", QuestionID: "q1", Answer: "A",
	})
	require.NoError(t, err)
	require.Equal(t, 300, resp.NewScore)

	resp, err = f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		GameID: g.ID, PlayerID: "p1", QuestionID: "q2", Answer: "A",
	})
	require.NoError(t, err)
	require.True(t, resp.Replayed)
	require.Equal(t, 150, resp.Points)
	require.Equal(t, 150, resp.NewScore, "replay reports the score as it stood after that answer")

	f.bus.Stop()
}

func TestSubmitAnswer_Rejections(t *testing.T) {
	f := makeFixture(t)
	g := startDuel(t, f)

	tests := map[string]struct {
		req  game.SubmitAnswerRequest
		code errors.Code
	}{
		"unknown game": {
			req:  game.SubmitAnswerRequest{GameID: "nope", PlayerID: "p1", QuestionID: "q1", Answer: "A"},
			code: errors.CodeGameNotActive,
		},
		"player not in game": {
			req:  game.SubmitAnswerRequest{GameID: g.ID, PlayerID: "p3", QuestionID: "q1", Answer: "A"},
			code: errors.CodePlayerNotFound,
		},
		"question not in game": {
			req:  game.SubmitAnswerRequest{GameID: g.ID, PlayerID: "p1", QuestionID: "q9", Answer: "A"},
			code: errors.CodeQuestionNotFound,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.SubmitAnswer(context.Background(), tt.req)
			require.True(t, errors.Is(err, tt.code), "want %s, got %v", tt.code, err)
		})
	}

	f.bus.Stop()
}

func TestFullDuel(t *testing.T) {
	f := makeFixture(t)
	g := startDuel(t, f)

	var (
		mu       sync.Mutex
		gameOver []domain.EventGameOver
	)
	f.bus.Subscribe(domain.EventNameGameOver, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		gameOver = append(gameOver, e.(domain.EventGameOver))
		mu.Unlock()
		return nil
	})

	// Every round: p1 answers correctly at 5s, p2 wrong. The next round's
	// baseline sits one review delay after the closing answer.
	for _, qid := range []string{"q1", "q2", "q3"} {
		f.clock.Advance(5 * time.Second)

		resp, err := f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
			GameID: g.ID, PlayerID: "p1", QuestionID: qid, Answer: "A",
		})
		require.NoError(t, err)
		require.Equal(t, 133, resp.Points)

		resp, err = f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
			GameID: g.ID, PlayerID: "p2", QuestionID: qid, Answer: "B",
		})
		require.NoError(t, err)
		require.True(t, resp.RoundComplete)

		// Land one review delay past the close, so the next answer is again
		// 5s after its round baseline.
		f.clock.Advance(5 * time.Second)
	}

	f.bus.Stop()

	require.Len(t, gameOver, 1)
	over := gameOver[0]
	require.Equal(t, "p1", over.WinnerID)
	require.Len(t, over.Results, 2)

	byPlayer := map[string]domain.PlayerOutcome{}
	for _, r := range over.Results {
		byPlayer[r.PlayerID] = r
	}
	require.Equal(t, 399, byPlayer["p1"].Score)
	require.Equal(t, -60, byPlayer["p2"].Score)
	require.Equal(t, domain.ResultWin, byPlayer["p1"].Result)
	require.Equal(t, domain.ResultLoss, byPlayer["p2"].Result)
	require.Equal(t, 16, byPlayer["p1"].RatingChange)
	require.Equal(t, -16, byPlayer["p2"].RatingChange)
	require.Zero(t, byPlayer["p1"].RatingChange+byPlayer["p2"].RatingChange)
	require.Equal(t, 1016, byPlayer["p1"].RatingAfter)
	require.Equal(t, 984, byPlayer["p2"].RatingAfter)

	require.Equal(t, []ratingCall{
		{PlayerID: "p1", Result: domain.ResultWin, Delta: 16, Topic: "DSA"},
		{PlayerID: "p2", Result: domain.ResultLoss, Delta: -16, Topic: "DSA"},
	}, f.ratings.applied())

	// A finished game rejects everything.
	_, err := f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		GameID: g.ID, PlayerID: "p1", QuestionID: "q3", Answer: "A",
	})
	require.True(t, errors.Is(err, errors.CodeGameNotActive))

	_, err = f.svc.Sync(context.Background(), game.SyncRequest{GameID: g.ID, PlayerID: "p1"})
	require.True(t, errors.Is(err, errors.CodeGameNotActive))
}

func TestPrivateGame(t *testing.T) {
	f := makeFixture(t)

	created, err := f.svc.CreatePrivate(context.Background(), game.CreatePrivateRequest{
		PlayerID:     "p1",
		ConnectionID: "c1",
	})
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^[0-9A-F]{6}$`), created.JoinCode)

	t.Run("unknown code", func(t *testing.T) {
		_, err := f.svc.JoinPrivate(context.Background(), game.JoinPrivateRequest{
			PlayerID: "p2", ConnectionID: "c2", JoinCode: "ZZZZZZ",
		})
		require.True(t, errors.Is(err, errors.CodeInvalidCode))
	})

	t.Run("creator joins own game", func(t *testing.T) {
		_, err := f.svc.JoinPrivate(context.Background(), game.JoinPrivateRequest{
			PlayerID: "p1", ConnectionID: "c1", JoinCode: created.JoinCode,
		})
		require.True(t, errors.Is(err, errors.CodeAlreadyJoined))
	})

	t.Run("second player starts the duel", func(t *testing.T) {
		// Codes are matched case-insensitively and trimmed.
		g, err := f.svc.JoinPrivate(context.Background(), game.JoinPrivateRequest{
			PlayerID:     "p2",
			ConnectionID: "c2",
			JoinCode:     "  " + strings.ToLower(created.JoinCode) + " ",
		})
		require.NoError(t, err)
		require.Equal(t, created.GameID, g.ID)
		require.Equal(t, domain.ModePrivate, g.Mode)
		require.Equal(t, domain.StatusInProgress, g.Status)
		require.Equal(t, domain.DefaultTopic, g.Topic)
		require.Equal(t, domain.DefaultCategory, g.Category)
		require.Len(t, g.Players, 2)
		require.Len(t, g.Questions, 3)
	})

	t.Run("third player after start", func(t *testing.T) {
		_, err := f.svc.JoinPrivate(context.Background(), game.JoinPrivateRequest{
			PlayerID: "p3", ConnectionID: "c3", JoinCode: created.JoinCode,
		})
		require.True(t, errors.Is(err, errors.CodeInvalidCode))
	})

	f.bus.Stop()
}

func TestRoundTimer_ForceClosesRound(t *testing.T) {
	f := makeFixture(t)
	g := startDuel(t, f)

	var (
		mu        sync.Mutex
		roundOver []domain.EventRoundOver
	)
	f.bus.Subscribe(domain.EventNameRoundOver, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		roundOver = append(roundOver, e.(domain.EventRoundOver))
		mu.Unlock()
		return nil
	})

	f.clock.Advance(5 * time.Second)
	_, err := f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
		GameID: g.ID, PlayerID: "p1", QuestionID: "q1", Answer: "A",
	})
	require.NoError(t, err)

	// The limit plus grace elapses with p2 silent.
	f.clock.Advance(15 * time.Second)
	f.timers.latest().fire()

	f.bus.Stop()

	require.Len(t, roundOver, 1)
	results := map[string]domain.RoundResult{}
	for _, r := range roundOver[0].Results {
		results[r.PlayerID] = r
	}
	require.Equal(t, 133, results["p1"].Points)
	require.False(t, results["p2"].IsCorrect)
	require.Zero(t, results["p2"].Points, "a timeout scores zero, not the wrong-answer penalty")
	require.Equal(t, float64(15), results["p2"].TimeTakenSec)

	snap, err := f.svc.Sync(context.Background(), game.SyncRequest{GameID: g.ID, PlayerID: "p2"})
	require.NoError(t, err)
	require.Equal(t, 1, snap.CurrentQuestionIndex)
	require.Zero(t, snap.Game.Player("p2").Score)
}

func TestRoundTimer_AllRoundsTimeOut(t *testing.T) {
	f := makeFixture(t)
	g := startDuel(t, f)

	var (
		mu       sync.Mutex
		gameOver []domain.EventGameOver
	)
	f.bus.Subscribe(domain.EventNameGameOver, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		gameOver = append(gameOver, e.(domain.EventGameOver))
		mu.Unlock()
		return nil
	})

	for i := 0; i < 3; i++ {
		f.clock.Advance(25 * time.Second)
		f.timers.latest().fire()
	}

	f.bus.Stop()

	require.Len(t, gameOver, 1)
	require.Empty(t, gameOver[0].WinnerID, "an all-timeout duel is a draw")
	for _, r := range gameOver[0].Results {
		require.Equal(t, domain.ResultDraw, r.Result)
		require.Zero(t, r.Score)
		require.Zero(t, r.RatingChange)
	}

	_, err := f.svc.Sync(context.Background(), game.SyncRequest{GameID: g.ID, PlayerID: "p1"})
	require.True(t, errors.Is(err, errors.CodeGameNotActive))
}

func TestRoundTimer_NoOpWhenRoundComplete(t *testing.T) {
	f := makeFixture(t)
	g := startDuel(t, f)

	f.clock.Advance(5 * time.Second)
	for _, pid := range []string{"p1", "p2"} {
		_, err := f.svc.SubmitAnswer(context.Background(), game.SubmitAnswerRequest{
			GameID: g.ID, PlayerID: pid, QuestionID: "q1", Answer: "A",
		})
		require.NoError(t, err)
	}

	// A stale round-0 timer firing after the round closed changes nothing.
	f.timers.all()[0].fire()

	snap, err := f.svc.Sync(context.Background(), game.SyncRequest{GameID: g.ID, PlayerID: "p1"})
	require.NoError(t, err)
	require.Len(t, snap.Game.Player("p1").Answers, 1)
	require.Len(t, snap.Game.Player("p2").Answers, 1)

	f.bus.Stop()
}

type fixture struct {
	svc       *game.Service
	bus       *event.Bus
	clock     *fakeClock
	questions *fakeQuestions
	ratings   *fakeRatings
	timers    *timerSet
}

func makeFixture(t *testing.T) *fixture {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	f := &fixture{
		bus:       event.NewBus(),
		clock:     &fakeClock{now: time.UnixMilli(1_700_000_000_000)},
		questions: &fakeQuestions{questions: easyQuestions(3)},
		ratings:   &fakeRatings{},
		timers:    &timerSet{},
	}

	f.svc = game.NewService(game.Config{
		Redis:        rc,
		Prefix:       "quizduel_test",
		EventBus:     f.bus,
		Questions:    f.questions,
		Ratings:      f.ratings,
		Now:          f.clock.Now,
		NewTimerFunc: f.timers.new,
	})
	t.Cleanup(f.svc.Close)

	return f
}

func startDuel(t *testing.T, f *fixture) *domain.Game {
	t.Helper()

	g, err := f.svc.CreateGame(context.Background(), game.CreateGameRequest{
		Players: [2]game.Participant{
			{PlayerID: "p1", ConnectionID: "c1"},
			{PlayerID: "p2", ConnectionID: "c2"},
		},
		Topic:    "DSA",
		Category: "CS",
	})
	require.NoError(t, err)
	return g
}

// easyQuestions builds q1..qN, multiple choice, EASY, with "A" correct.
func easyQuestions(n int) []domain.Question {
	out := make([]domain.Question, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, domain.Question{
			QuestionID: fmt.Sprintf("q%d", i),
			Title:      fmt.Sprintf("Question %d", i),
			Difficulty: "EASY",
			Topic:      "DSA",
			Category:   "CS",
			Type:       domain.QuestionMultipleChoice,
			Options: []domain.Option{
				{Text: "A", IsCorrect: true},
				{Text: "B"},
			},
			IsActive: true,
		})
	}
	return out
}

type fakeQuestions struct {
	questions []domain.Question
}

func (f *fakeQuestions) Sample(_ context.Context, _, _ string, count int) ([]domain.Question, error) {
	if count > len(f.questions) {
		count = len(f.questions)
	}
	return f.questions[:count], nil
}

func (f *fakeQuestions) Get(_ context.Context, questionID string) (*domain.Question, error) {
	for i := range f.questions {
		if f.questions[i].QuestionID == questionID {
			return &f.questions[i], nil
		}
	}
	return nil, errors.New(errors.CodeQuestionNotFound)
}

type ratingCall struct {
	PlayerID string
	Result   domain.Result
	Delta    int
	Topic    string
}

type fakeRatings struct {
	mu      sync.Mutex
	ratings map[string]int
	calls   []ratingCall
}

func (f *fakeRatings) Get(_ context.Context, playerID string) (*domain.RatingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	r := domain.DefaultRating
	if v, ok := f.ratings[playerID]; ok {
		r = v
	}
	return &domain.RatingRecord{PlayerID: playerID, Rating: r}, nil
}

func (f *fakeRatings) ApplyDelta(_ context.Context, playerID string, result domain.Result, delta int, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, ratingCall{PlayerID: playerID, Result: result, Delta: delta, Topic: topic})
	return nil
}

func (f *fakeRatings) applied() []ratingCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]ratingCall, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// timerSet captures round timers so tests fire them deterministically.
type timerSet struct {
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	d time.Duration
	f func()
}

func (m *manualTimer) Stop() bool { return true }
func (m *manualTimer) fire()      { m.f() }

func (s *timerSet) new(d time.Duration, f func()) game.RoundTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &manualTimer{d: d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (s *timerSet) all() []*manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*manualTimer, len(s.timers))
	copy(out, s.timers)
	return out
}

func (s *timerSet) latest() *manualTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.timers[len(s.timers)-1]
}
