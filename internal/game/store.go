package game

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"quizduel/internal/domain"
)

// store keeps each session as one redis hash. Everything two connections can
// race on lives in its own field, guarded by a set-if-absent write or an
// atomic increment; the immutable creation-time shape lives in a single
// "meta" JSON field. The hash layout:
//
//	meta                    creation-time document (players, questions, topic)
//	status                  WAITING | IN_PROGRESS | FINISHED | ABORTED
//	started / finished      one-shot transition markers (HSETNX)
//	round_done:<question>   one-shot round-completion markers (HSETNX)
//	started_at, ended_at,
//	round_started_at        unix milliseconds
//	seq:<player>            answer sequence counter (HINCRBY)
//	ans:<player>:<question> AnswerRecord JSON (HSETNX)
//	outcome:<player>        final result/rating JSON, written once at finish
//
// Scores are not stored: Load derives them from the answer records, so the
// HSETNX on an answer field is the whole write and any HGETALL snapshot has
// answers and scores in agreement.
type store struct {
	rdb    redis.UniversalClient
	prefix string
}

func newStore(rdb redis.UniversalClient, prefix string) *store {
	return &store{rdb: rdb, prefix: prefix}
}

func (s *store) gameKey(id string) string {
	return fmt.Sprintf("%s:game:%s", s.prefix, id)
}

func (s *store) codeKey(code string) string {
	return fmt.Sprintf("%s:code:%s", s.prefix, code)
}

type gameMeta struct {
	ID        string                `json:"id"`
	Mode      domain.GameMode       `json:"mode"`
	JoinCode  string                `json:"join_code,omitempty"`
	Topic     string                `json:"topic"`
	Category  string                `json:"category"`
	Questions []domain.GameQuestion `json:"questions"`
	Players   []metaPlayer          `json:"players"`
}

type metaPlayer struct {
	PlayerID     string `json:"player_id"`
	ConnectionID string `json:"connection_id"`
}

type playerOutcome struct {
	Result       domain.Result `json:"result"`
	RatingChange int           `json:"rating_change"`
	RatingAfter  int           `json:"rating_after"`
}

// Create writes a fresh session document. For private sessions it also
// indexes the join code; codes are not checked for collisions, a later
// session with the same code simply points the index at itself.
func (s *store) Create(ctx context.Context, g *domain.Game) error {
	m := gameMeta{
		ID:        g.ID,
		Mode:      g.Mode,
		JoinCode:  g.JoinCode,
		Topic:     g.Topic,
		Category:  g.Category,
		Questions: g.Questions,
	}
	for _, p := range g.Players {
		m.Players = append(m.Players, metaPlayer{PlayerID: p.PlayerID, ConnectionID: p.ConnectionID})
	}

	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: marshal meta: %w", err)
	}

	fields := map[string]any{
		"meta":   b,
		"status": string(g.Status),
	}
	if !g.StartedAt.IsZero() {
		fields["started_at"] = g.StartedAt.UnixMilli()
	}
	if !g.CurrentRoundStartedAt.IsZero() {
		fields["round_started_at"] = g.CurrentRoundStartedAt.UnixMilli()
	}

	if err := s.rdb.HSet(ctx, s.gameKey(g.ID), fields).Err(); err != nil {
		return fmt.Errorf("store: create game %s: %w", g.ID, err)
	}

	if g.Mode == domain.ModePrivate && g.JoinCode != "" {
		if err := s.rdb.Set(ctx, s.codeKey(g.JoinCode), g.ID, 0).Err(); err != nil {
			return fmt.Errorf("store: index join code: %w", err)
		}
	}

	return nil
}

// Load assembles the full session from the hash. Returns (nil, nil) when the
// session does not exist.
func (s *store) Load(ctx context.Context, id string) (*domain.Game, error) {
	fields, err := s.rdb.HGetAll(ctx, s.gameKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: load game %s: %w", id, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	var m gameMeta
	if err := json.Unmarshal([]byte(fields["meta"]), &m); err != nil {
		return nil, fmt.Errorf("store: unmarshal meta %s: %w", id, err)
	}

	g := &domain.Game{
		ID:        m.ID,
		Mode:      m.Mode,
		JoinCode:  m.JoinCode,
		Topic:     m.Topic,
		Category:  m.Category,
		Questions: m.Questions,
		Status:    domain.GameStatus(fields["status"]),
	}
	g.StartedAt = parseMilli(fields["started_at"])
	g.EndedAt = parseMilli(fields["ended_at"])
	g.CurrentRoundStartedAt = parseMilli(fields["round_started_at"])

	for _, mp := range m.Players {
		p := domain.PlayerState{
			PlayerID:     mp.PlayerID,
			ConnectionID: mp.ConnectionID,
		}

		if raw, ok := fields["outcome:"+mp.PlayerID]; ok {
			var o playerOutcome
			if err := json.Unmarshal([]byte(raw), &o); err != nil {
				return nil, fmt.Errorf("store: unmarshal outcome %s/%s: %w", id, mp.PlayerID, err)
			}
			p.Result = o.Result
			p.RatingChange = o.RatingChange
			p.RatingAfter = o.RatingAfter
		}

		prefix := "ans:" + mp.PlayerID + ":"
		for field, raw := range fields {
			if !strings.HasPrefix(field, prefix) {
				continue
			}
			var a domain.AnswerRecord
			if err := json.Unmarshal([]byte(raw), &a); err != nil {
				return nil, fmt.Errorf("store: unmarshal answer %s/%s: %w", id, field, err)
			}
			p.Answers = append(p.Answers, a)
		}
		sort.Slice(p.Answers, func(i, j int) bool {
			return p.Answers[i].Seq < p.Answers[j].Seq
		})
		for _, a := range p.Answers {
			p.Score += a.PointsAwarded
		}

		g.Players = append(g.Players, p)
	}

	return g, nil
}

// LookupCode resolves a join code to a game id, "" when unknown.
func (s *store) LookupCode(ctx context.Context, code string) (string, error) {
	id, err := s.rdb.Get(ctx, s.codeKey(code)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: lookup code %s: %w", code, err)
	}
	return id, nil
}

// TryStart claims the WAITING -> IN_PROGRESS transition. Exactly one caller
// wins when two players race to join the same private session.
func (s *store) TryStart(ctx context.Context, id string) (bool, error) {
	ok, err := s.rdb.HSetNX(ctx, s.gameKey(id), "started", 1).Result()
	if err != nil {
		return false, fmt.Errorf("store: try start %s: %w", id, err)
	}
	return ok, nil
}

// Start rewrites the creation-time document and flips the session to
// IN_PROGRESS. Callers must hold the TryStart claim; nothing else rewrites
// meta after creation.
func (s *store) Start(ctx context.Context, g *domain.Game) error {
	m := gameMeta{
		ID:        g.ID,
		Mode:      g.Mode,
		JoinCode:  g.JoinCode,
		Topic:     g.Topic,
		Category:  g.Category,
		Questions: g.Questions,
	}
	for _, p := range g.Players {
		m.Players = append(m.Players, metaPlayer{PlayerID: p.PlayerID, ConnectionID: p.ConnectionID})
	}

	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: marshal meta: %w", err)
	}

	err = s.rdb.HSet(ctx, s.gameKey(g.ID), map[string]any{
		"meta":             b,
		"status":           string(domain.StatusInProgress),
		"started_at":       g.StartedAt.UnixMilli(),
		"round_started_at": g.CurrentRoundStartedAt.UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("store: start game %s: %w", g.ID, err)
	}

	return nil
}

// ApplyAnswer appends the record, but only if this player has not answered
// this question yet. The uniqueness check and the append are one HSETNX, and
// scores are derived from the records on Load, so a retransmitted submission
// can never double-count and no reader can see an answer without its points.
// On a duplicate the original record is returned for replay.
func (s *store) ApplyAnswer(ctx context.Context, id, playerID string, rec domain.AnswerRecord) (applied bool, stored domain.AnswerRecord, err error) {
	key := s.gameKey(id)
	field := "ans:" + playerID + ":" + rec.QuestionID

	// The sequence number fixes replay ordering. A losing write burns one;
	// gaps are harmless, only the order matters.
	seq, err := s.rdb.HIncrBy(ctx, key, "seq:"+playerID, 1).Result()
	if err != nil {
		return false, stored, fmt.Errorf("store: next answer seq %s/%s: %w", id, playerID, err)
	}
	rec.Seq = int(seq)

	b, err := json.Marshal(rec)
	if err != nil {
		return false, stored, fmt.Errorf("store: marshal answer: %w", err)
	}

	ok, err := s.rdb.HSetNX(ctx, key, field, b).Result()
	if err != nil {
		return false, stored, fmt.Errorf("store: apply answer %s/%s: %w", id, field, err)
	}

	if !ok {
		raw, err := s.rdb.HGet(ctx, key, field).Result()
		if err != nil {
			return false, stored, fmt.Errorf("store: read existing answer %s/%s: %w", id, field, err)
		}
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return false, stored, fmt.Errorf("store: unmarshal existing answer %s/%s: %w", id, field, err)
		}
		return false, stored, nil
	}

	return true, rec, nil
}

// TryCloseRound claims the completion of one round. Both players' closing
// submissions and the force-close timer can all observe the round complete;
// exactly one claim wins and runs the round-over flow.
func (s *store) TryCloseRound(ctx context.Context, id, questionID string) (bool, error) {
	ok, err := s.rdb.HSetNX(ctx, s.gameKey(id), "round_done:"+questionID, 1).Result()
	if err != nil {
		return false, fmt.Errorf("store: try close round %s/%s: %w", id, questionID, err)
	}
	return ok, nil
}

// SetRoundStart advances the timing baseline for the next round.
func (s *store) SetRoundStart(ctx context.Context, id string, ts time.Time) error {
	if err := s.rdb.HSet(ctx, s.gameKey(id), "round_started_at", ts.UnixMilli()).Err(); err != nil {
		return fmt.Errorf("store: set round start %s: %w", id, err)
	}
	return nil
}

// TryFinish claims the IN_PROGRESS -> FINISHED transition. Both players'
// final submissions can trigger completion concurrently; one claim wins.
func (s *store) TryFinish(ctx context.Context, id string) (bool, error) {
	ok, err := s.rdb.HSetNX(ctx, s.gameKey(id), "finished", 1).Result()
	if err != nil {
		return false, fmt.Errorf("store: try finish %s: %w", id, err)
	}
	return ok, nil
}

// Finalize writes the terminal state: status, end time, and both players'
// outcomes, in one HSET. Callers must hold the TryFinish claim.
func (s *store) Finalize(ctx context.Context, id string, endedAt time.Time, outcomes map[string]playerOutcome) error {
	fields := map[string]any{
		"status":   string(domain.StatusFinished),
		"ended_at": endedAt.UnixMilli(),
	}
	for playerID, o := range outcomes {
		b, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("store: marshal outcome: %w", err)
		}
		fields["outcome:"+playerID] = b
	}

	if err := s.rdb.HSet(ctx, s.gameKey(id), fields).Err(); err != nil {
		return fmt.Errorf("store: finalize %s: %w", id, err)
	}

	return nil
}

// SetAborted marks the session terminally aborted.
func (s *store) SetAborted(ctx context.Context, id string, endedAt time.Time) error {
	err := s.rdb.HSet(ctx, s.gameKey(id), map[string]any{
		"status":   string(domain.StatusAborted),
		"ended_at": endedAt.UnixMilli(),
	}).Err()
	if err != nil {
		return fmt.Errorf("store: abort %s: %w", id, err)
	}
	return nil
}

func parseMilli(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
