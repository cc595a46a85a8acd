package domain

import "time"

const (
	EventNameGameStarted    = "game.started"
	EventNamePlayerAnswered = "game.player_answered"
	EventNameRoundOver      = "game.round_over"
	EventNameGameOver       = "game.over"
)

// EventGameStarted fires once for every WAITING -> IN_PROGRESS transition,
// public or private. Questions carry solutions; the transport strips them.
type EventGameStarted struct {
	Game      Game
	Questions []Question
}

func (EventGameStarted) Name() string { return EventNameGameStarted }

// EventPlayerAnswered fires after a submission is accepted but before the
// round completes. It never carries the answer content.
type EventPlayerAnswered struct {
	GameID      string
	PlayerID    string
	OpponentID  string
	AnswerCount int
}

func (EventPlayerAnswered) Name() string { return EventNamePlayerAnswered }

// RoundResult is one player's outcome for a completed round.
type RoundResult struct {
	PlayerID     string  `json:"player_id"`
	IsCorrect    bool    `json:"is_correct"`
	Points       int     `json:"points"`
	Score        int     `json:"score"`
	TimeTakenSec float64 `json:"time_taken_sec"`
}

type EventRoundOver struct {
	GameID         string
	QuestionID     string
	CorrectAnswer  string
	Results        []RoundResult
	NextRoundStart time.Time
}

func (EventRoundOver) Name() string { return EventNameRoundOver }

// PlayerOutcome is one player's final line in a finished game.
type PlayerOutcome struct {
	PlayerID     string `json:"player_id"`
	Score        int    `json:"score"`
	Result       Result `json:"result"`
	RatingChange int    `json:"rating_change"`
	RatingAfter  int    `json:"rating_after"`
}

type EventGameOver struct {
	GameID   string
	WinnerID string // empty on draw
	Results  []PlayerOutcome
}

func (EventGameOver) Name() string { return EventNameGameOver }
