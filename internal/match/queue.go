// Package match holds the public matchmaking queue. The queue is a single
// critical resource mutated by every connection handler, so all operations
// funnel through one owner goroutine; two handlers can never pop the same
// entry.
package match

import (
	"context"
	"log/slog"
	"time"

	"quizduel/internal/domain"
	"quizduel/internal/game"
)

// SessionCreator creates the session for a matched pair.
type SessionCreator interface {
	CreateGame(ctx context.Context, req game.CreateGameRequest) (*domain.Game, error)
}

// ConnLookup resolves a player's live connection, if any.
type ConnLookup interface {
	Lookup(playerID string) (string, bool)
}

type Config struct {
	Registry ConnLookup
	Games    SessionCreator

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

type Queue struct {
	registry ConnLookup
	games    SessionCreator
	now      func() time.Time

	entries []domain.QueueEntry
	ops     chan func()
	stop    chan struct{}
	stopped chan struct{}
}

func NewQueue(c Config) *Queue {
	q := &Queue{
		registry: c.Registry,
		games:    c.Games,
		now:      c.Now,
		ops:      make(chan func()),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if q.now == nil {
		q.now = time.Now
	}

	go q.loop()

	return q
}

func (q *Queue) loop() {
	defer close(q.stopped)

	for {
		select {
		case op := <-q.ops:
			op()
		case <-q.stop:
			return
		}
	}
}

// Stop shuts the owner goroutine down. Pending entries are dropped.
func (q *Queue) Stop() {
	close(q.stop)
	<-q.stopped
}

// do runs fn on the owner goroutine and waits for it.
func (q *Queue) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}

	select {
	case q.ops <- wrapped:
	case <-q.stop:
		return context.Canceled
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type JoinRequest struct {
	PlayerID     string
	ConnectionID string
	Rating       int
	Topic        string
	Category     string
}

type JoinResponse struct {
	// Matched is false when the player was enqueued to wait.
	Matched bool
	Game    *domain.Game
}

// Join matches the player against the first compatible waiting entry, or
// enqueues them. Re-joining replaces any previous entry for the same player.
// A matched opponent whose connection has since died is dropped and the
// joiner waits instead; that is never an error.
func (q *Queue) Join(ctx context.Context, req JoinRequest) (*JoinResponse, error) {
	topic := req.Topic
	if topic == "" {
		topic = domain.TopicRandom
	}
	category := req.Category
	if category == "" {
		category = domain.DefaultCategory
	}

	var (
		resp *JoinResponse
		err  error
	)
	doErr := q.do(ctx, func() {
		resp, err = q.join(ctx, req.PlayerID, req.ConnectionID, req.Rating, topic, category)
	})
	if doErr != nil {
		return nil, doErr
	}
	return resp, err
}

func (q *Queue) join(ctx context.Context, playerID, connID string, playerRating int, topic, category string) (*JoinResponse, error) {
	q.removeByPlayer(playerID)

	idx := -1
	for i, e := range q.entries {
		if e.Category != category {
			continue
		}
		if e.Topic != topic && topic != domain.TopicRandom && e.Topic != domain.TopicRandom {
			continue
		}
		if e.PlayerID == playerID {
			continue
		}
		idx = i
		break
	}

	enqueue := func() *JoinResponse {
		q.entries = append(q.entries, domain.QueueEntry{
			PlayerID:     playerID,
			ConnectionID: connID,
			Rating:       playerRating,
			Topic:        topic,
			Category:     category,
			JoinedAt:     q.now(),
		})
		return &JoinResponse{Matched: false}
	}

	if idx < 0 {
		return enqueue(), nil
	}

	opponent := q.entries[idx]
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)

	opponentConn, ok := q.registry.Lookup(opponent.PlayerID)
	if !ok {
		// Stale entry: the opponent's connection is gone. Fail open to
		// waiting, not to error.
		slog.InfoContext(ctx, "match: opponent connection gone, requeueing joiner",
			"player", playerID, "stale", opponent.PlayerID)
		return enqueue(), nil
	}

	gameTopic := topic
	if gameTopic == domain.TopicRandom {
		gameTopic = opponent.Topic
	}

	g, err := q.games.CreateGame(ctx, game.CreateGameRequest{
		Players: [2]game.Participant{
			{PlayerID: playerID, ConnectionID: connID},
			{PlayerID: opponent.PlayerID, ConnectionID: opponentConn},
		},
		Topic:    gameTopic,
		Category: category,
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "match: paired",
		"game", g.ID, "player", playerID, "opponent", opponent.PlayerID,
		"topic", gameTopic, "category", category,
		"waited", q.now().Sub(opponent.JoinedAt).String())

	return &JoinResponse{Matched: true, Game: g}, nil
}

// Leave removes any entry for the given connection. Called on disconnect;
// a no-op when the player was not waiting.
func (q *Queue) Leave(ctx context.Context, connID string) error {
	return q.do(ctx, func() {
		for i, e := range q.entries {
			if e.ConnectionID == connID {
				q.entries = append(q.entries[:i], q.entries[i+1:]...)
				slog.InfoContext(ctx, "match: removed from queue on disconnect", "player", e.PlayerID)
				return
			}
		}
	})
}

// Waiting reports the number of queued players.
func (q *Queue) Waiting(ctx context.Context) (int, error) {
	var n int
	err := q.do(ctx, func() {
		n = len(q.entries)
	})
	return n, err
}

func (q *Queue) removeByPlayer(playerID string) {
	for i, e := range q.entries {
		if e.PlayerID == playerID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}
