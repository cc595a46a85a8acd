// Package api is the websocket edge of the service: it authenticates
// connections, decodes the closed inbound command set once at the boundary,
// routes commands to the matchmaking and game services, and fans domain
// events back out to the two participants' connections.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quizduel/internal/domain"
	"quizduel/internal/errors"
	"quizduel/internal/event"
	"quizduel/internal/game"
	"quizduel/internal/match"
	"quizduel/internal/registry"
	"quizduel/internal/telemetry"
)

const (
	eventJoinQueue     = "join_queue"
	eventCreatePrivate = "create_private"
	eventJoinPrivate   = "join_private"
	eventJoinGame      = "join_game"
	eventSubmitAnswer  = "submit_answer"

	eventQueueJoined      = "queue_joined"
	eventMatchFound       = "match_found"
	eventPrivateCreated   = "private_created"
	eventGameStarted      = "game_started"
	eventAnswerResult     = "answer_result"
	eventWaiting          = "waiting_for_opponent"
	eventOpponentProgress = "opponent_answered"
	eventRoundOver        = "round_over"
	eventGameSync         = "game_sync"
	eventGameOver         = "game_over"
	eventError            = "error"
)

type Config struct {
	Engine     *gin.Engine
	EventBus   *event.Bus
	Queue      *match.Queue
	Games      *game.Service
	Registry   *registry.Registry
	Metrics    *telemetry.Metrics
	AuthSecret string
}

type API struct {
	queue    *match.Queue
	games    *game.Service
	registry *registry.Registry
	metrics  *telemetry.Metrics

	hub        *hub
	upgrader   websocket.Upgrader
	authSecret string
	handlers   map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

func New(c Config) *API {
	a := &API{
		queue:      c.Queue,
		games:      c.Games,
		registry:   c.Registry,
		metrics:    c.Metrics,
		hub:        newHub(),
		authSecret: c.AuthSecret,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	a.handlers = map[string]handlerFunc{
		eventJoinQueue:     a.handleJoinQueue,
		eventCreatePrivate: a.handleCreatePrivate,
		eventJoinPrivate:   a.handleJoinPrivate,
		eventJoinGame:      a.handleJoinGame,
		eventSubmitAnswer:  a.handleSubmitAnswer,
	}

	c.Engine.GET("/ws", a.serveWS)

	c.EventBus.Subscribe(domain.EventNameGameStarted, func(ctx context.Context, e event.Event) error {
		return a.onGameStarted(ctx, e.(domain.EventGameStarted))
	})
	c.EventBus.Subscribe(domain.EventNamePlayerAnswered, func(ctx context.Context, e event.Event) error {
		return a.onPlayerAnswered(ctx, e.(domain.EventPlayerAnswered))
	})
	c.EventBus.Subscribe(domain.EventNameRoundOver, func(ctx context.Context, e event.Event) error {
		return a.onRoundOver(ctx, e.(domain.EventRoundOver))
	})
	c.EventBus.Subscribe(domain.EventNameGameOver, func(ctx context.Context, e event.Event) error {
		return a.onGameOver(ctx, e.(domain.EventGameOver))
	})

	return a
}

// notification is the outbound frame envelope.
type notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// inbound is the inbound frame envelope; Data stays raw until the handler
// table has picked a decoder.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (a *API) serveWS(c *gin.Context) {
	playerID, err := a.authenticate(c.Request)
	if err != nil {
		e := errors.Convert(err)
		c.JSON(e.HTTPStatusCode(), e)
		return
	}

	conn, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "ws: upgrade failed", "player", playerID, "error", err)
		return
	}

	client := newClient(playerID, conn)
	a.hub.add(client)
	a.registry.Register(playerID, client.ID)
	a.metrics.Connections.Inc()

	slog.InfoContext(c.Request.Context(), "ws: connected", "player", playerID, "conn", client.ID)

	go client.writePump()
	client.readPump(a)
}

// disconnect tears down one connection: the queue entry and the registry
// mapping go away, an in-progress game does not. The registry removal is
// conditional so a stale disconnect never displaces a fresh reconnect.
func (a *API) disconnect(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.hub.remove(c.ID)
	if err := a.queue.Leave(ctx, c.ID); err != nil {
		slog.ErrorContext(ctx, "ws: leave queue on disconnect", "player", c.PlayerID, "error", err)
	}
	a.registry.Unregister(c.PlayerID, c.ID)
	c.closeSend()
	a.metrics.Connections.Dec()

	slog.InfoContext(ctx, "ws: disconnected", "player", c.PlayerID, "conn", c.ID)
}

func (a *API) dispatch(ctx context.Context, c *Client, raw []byte) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		a.sendError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed frame"), errors.WithCause(err)))
		return
	}

	h, ok := a.handlers[in.Event]
	if !ok {
		a.sendError(c, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown event %q", in.Event)))
		return
	}

	if err := h(ctx, c, in.Data); err != nil {
		e := errors.Convert(err)
		if e.Code == errors.CodeInternal {
			slog.ErrorContext(ctx, "ws: handler failed",
				"event", in.Event, "player", c.PlayerID, "error", err)
		}
		a.sendError(c, e)
	}
}

func (a *API) handleJoinQueue(ctx context.Context, c *Client, data json.RawMessage) error {
	var req struct {
		Topic    string `json:"topic"`
		Category string `json:"category"`
		Rating   int    `json:"rating"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	a.metrics.QueueJoins.Inc()

	resp, err := a.queue.Join(ctx, match.JoinRequest{
		PlayerID:     c.PlayerID,
		ConnectionID: c.ID,
		Rating:       req.Rating,
		Topic:        req.Topic,
		Category:     req.Category,
	})
	if err != nil {
		return err
	}

	if !resp.Matched {
		a.sendTo(c, eventQueueJoined, map[string]any{"message": "Waiting for opponent..."})
		return nil
	}

	a.metrics.MatchesMade.Inc()
	// match_found and game_started reach both players through the event bus.
	return nil
}

func (a *API) handleCreatePrivate(ctx context.Context, c *Client, data json.RawMessage) error {
	var req struct {
		Topic    string `json:"topic"`
		Category string `json:"category"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	resp, err := a.games.CreatePrivate(ctx, game.CreatePrivateRequest{
		PlayerID:     c.PlayerID,
		ConnectionID: c.ID,
		Topic:        req.Topic,
		Category:     req.Category,
	})
	if err != nil {
		return err
	}

	a.sendTo(c, eventPrivateCreated, map[string]any{
		"game_id": resp.GameID,
		"code":    resp.JoinCode,
	})
	return nil
}

func (a *API) handleJoinPrivate(ctx context.Context, c *Client, data json.RawMessage) error {
	var req struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	_, err := a.games.JoinPrivate(ctx, game.JoinPrivateRequest{
		PlayerID:     c.PlayerID,
		ConnectionID: c.ID,
		JoinCode:     req.Code,
	})
	// game_started reaches both players through the event bus.
	return err
}

func (a *API) handleJoinGame(ctx context.Context, c *Client, data json.RawMessage) error {
	var req struct {
		GameID string `json:"game_id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	sync, err := a.games.Sync(ctx, game.SyncRequest{
		GameID:   req.GameID,
		PlayerID: c.PlayerID,
	})
	if err != nil {
		return err
	}

	players := make([]map[string]any, 0, len(sync.Game.Players))
	for _, p := range sync.Game.Players {
		players = append(players, map[string]any{
			"player_id": p.PlayerID,
			"score":     p.Score,
		})
	}

	a.sendTo(c, eventGameSync, map[string]any{
		"game_id":                sync.Game.ID,
		"status":                 sync.Game.Status,
		"current_question_index": sync.CurrentQuestionIndex,
		"round_started_at":       sync.Game.CurrentRoundStartedAt,
		"players":                players,
		"questions":              questionViews(sync.Questions, sync.Game.Questions),
	})
	return nil
}

func (a *API) handleSubmitAnswer(ctx context.Context, c *Client, data json.RawMessage) error {
	var req struct {
		GameID     string `json:"game_id"`
		QuestionID string `json:"question_id"`
		Answer     string `json:"answer"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithCause(err))
	}

	resp, err := a.games.SubmitAnswer(ctx, game.SubmitAnswerRequest{
		GameID:     req.GameID,
		PlayerID:   c.PlayerID,
		QuestionID: req.QuestionID,
		Answer:     req.Answer,
	})
	if err != nil {
		return err
	}

	if resp.Replayed {
		a.metrics.DuplicateSubmissions.Inc()
	} else {
		a.metrics.AnswersAccepted.Inc()
	}

	a.sendTo(c, eventAnswerResult, resp)

	if !resp.RoundComplete {
		a.sendTo(c, eventWaiting, map[string]any{"message": "Waiting for opponent..."})
	}
	return nil
}

func (a *API) onGameStarted(ctx context.Context, e domain.EventGameStarted) error {
	players := make([]map[string]any, 0, len(e.Game.Players))
	for _, p := range e.Game.Players {
		players = append(players, map[string]any{"player_id": p.PlayerID})
	}

	started := map[string]any{
		"game_id":    e.Game.ID,
		"players":    players,
		"questions":  questionViews(e.Questions, e.Game.Questions),
		"start_time": e.Game.StartedAt,
	}

	for _, p := range e.Game.Players {
		if e.Game.Mode == domain.ModePublic {
			a.sendToPlayer(ctx, p.PlayerID, eventMatchFound, map[string]any{"game_id": e.Game.ID})
		}
		a.sendToPlayer(ctx, p.PlayerID, eventGameStarted, started)
	}
	return nil
}

func (a *API) onPlayerAnswered(ctx context.Context, e domain.EventPlayerAnswered) error {
	a.sendToPlayer(ctx, e.OpponentID, eventOpponentProgress, map[string]any{
		"player_id":    e.PlayerID,
		"answer_count": e.AnswerCount,
	})
	return nil
}

func (a *API) onRoundOver(ctx context.Context, e domain.EventRoundOver) error {
	payload := map[string]any{
		"question_id":      e.QuestionID,
		"correct_answer":   e.CorrectAnswer,
		"results":          e.Results,
		"next_round_start": e.NextRoundStart,
	}

	for _, r := range e.Results {
		a.sendToPlayer(ctx, r.PlayerID, eventRoundOver, payload)
	}
	return nil
}

func (a *API) onGameOver(ctx context.Context, e domain.EventGameOver) error {
	a.metrics.GamesFinished.Inc()

	payload := map[string]any{
		"game_id":   e.GameID,
		"winner_id": e.WinnerID,
		"results":   e.Results,
	}

	for _, r := range e.Results {
		a.sendToPlayer(ctx, r.PlayerID, eventGameOver, payload)
	}
	return nil
}

func (a *API) sendTo(c *Client, eventName string, data any) {
	b, err := json.Marshal(notification{Event: eventName, Data: data})
	if err != nil {
		slog.Error("ws: marshal outbound", "event", eventName, "error", err)
		return
	}
	if !c.enqueue(b) {
		slog.Info("ws: dropping frame, send buffer full", "event", eventName, "player", c.PlayerID)
	}
}

// sendToPlayer routes through the registry so a reconnected player receives
// events on their newest connection.
func (a *API) sendToPlayer(ctx context.Context, playerID, eventName string, data any) {
	connID, ok := a.registry.Lookup(playerID)
	if !ok {
		slog.InfoContext(ctx, "ws: player offline, skipping event", "event", eventName, "player", playerID)
		return
	}
	c, ok := a.hub.get(connID)
	if !ok {
		return
	}
	a.sendTo(c, eventName, data)
}

func (a *API) sendError(c *Client, e *errors.Error) {
	a.sendTo(c, eventError, e)
}

// questionView is a question as shown to players: never the correct answer
// or option flags.
type questionView struct {
	QuestionID   string       `json:"question_id"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Type         string       `json:"type"`
	Options      []optionView `json:"options,omitempty"`
	TimeLimitSec int          `json:"time_limit_sec"`
}

type optionView struct {
	Text string `json:"text"`
}

func questionViews(questions []domain.Question, refs []domain.GameQuestion) []questionView {
	limits := make(map[string]int, len(refs))
	for _, r := range refs {
		limits[r.QuestionID] = r.TimeLimitSec
	}

	views := make([]questionView, 0, len(questions))
	for _, q := range questions {
		v := questionView{
			QuestionID:   q.QuestionID,
			Title:        q.Title,
			Description:  q.Description,
			Type:         string(q.Type),
			TimeLimitSec: limits[q.QuestionID],
		}
		for _, o := range q.Options {
			v.Options = append(v.Options, optionView{Text: o.Text})
		}
		views = append(views, v)
	}
	return views
}
