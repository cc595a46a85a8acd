package domain

import (
	"strings"
	"time"
)

type GameStatus string

const (
	StatusWaiting    GameStatus = "WAITING"
	StatusInProgress GameStatus = "IN_PROGRESS"
	StatusFinished   GameStatus = "FINISHED"
	StatusAborted    GameStatus = "ABORTED"
)

type GameMode string

const (
	ModePublic  GameMode = "PUBLIC"
	ModePrivate GameMode = "PRIVATE"
)

type Result string

const (
	ResultWin   Result = "win"
	ResultLoss  Result = "loss"
	ResultDraw  Result = "draw"
	ResultUnset Result = ""
)

// TopicRandom is the wildcard topic: it matches any concrete topic in the
// queue and disables the topic filter when sampling questions.
const TopicRandom = "RANDOM"

const (
	DefaultTopic    = "DSA"
	DefaultCategory = "CS"
)

// QueueEntry is a waiting player in the public matchmaking queue. Entries are
// transient and owned by the queue; at most one exists per player.
type QueueEntry struct {
	PlayerID     string
	ConnectionID string
	Rating       int
	Topic        string
	Category     string
	JoinedAt     time.Time
}

// GameQuestion is a question reference attached to a session, with the time
// limit resolved at creation so scoring never re-derives it.
type GameQuestion struct {
	QuestionID   string `json:"question_id"`
	TimeLimitSec int    `json:"time_limit_sec"`
}

// AnswerRecord is one player's answer to one question. Immutable once
// written. Seq is the player's answer sequence number, assigned at write
// time; replay ordering follows it, never timestamps.
type AnswerRecord struct {
	Seq             int       `json:"seq"`
	QuestionID      string    `json:"question_id"`
	SubmittedAnswer string    `json:"submitted_answer"`
	IsCorrect       bool      `json:"is_correct"`
	TimeTakenSec    float64   `json:"time_taken_sec"`
	PointsAwarded   int       `json:"points_awarded"`
	SubmittedAt     time.Time `json:"submitted_at"`
}

// PlayerState is one side of a session.
type PlayerState struct {
	PlayerID     string         `json:"player_id"`
	ConnectionID string         `json:"connection_id"`
	Score        int            `json:"score"`
	Answers      []AnswerRecord `json:"answers"`
	Result       Result         `json:"result"`
	RatingChange int            `json:"rating_change"`
	RatingAfter  int            `json:"rating_after"`
}

// AnswerFor returns this player's answer to the given question, if any.
func (p *PlayerState) AnswerFor(questionID string) (AnswerRecord, bool) {
	for _, a := range p.Answers {
		if a.QuestionID == questionID {
			return a, true
		}
	}
	return AnswerRecord{}, false
}

// Game is a duel between exactly two players. It is the aggregate root owned
// by the session store; once IN_PROGRESS it always holds two PlayerState
// entries and status only moves forward.
type Game struct {
	ID                    string         `json:"id"`
	Mode                  GameMode       `json:"mode"`
	Status                GameStatus     `json:"status"`
	JoinCode              string         `json:"join_code,omitempty"`
	Topic                 string         `json:"topic"`
	Category              string         `json:"category"`
	Questions             []GameQuestion `json:"questions"`
	Players               []PlayerState  `json:"players"`
	CurrentRoundStartedAt time.Time      `json:"current_round_started_at"`
	StartedAt             time.Time      `json:"started_at"`
	EndedAt               time.Time      `json:"ended_at,omitempty"`
}

// Player returns the state for the given player id, or nil.
func (g *Game) Player(playerID string) *PlayerState {
	for i := range g.Players {
		if g.Players[i].PlayerID == playerID {
			return &g.Players[i]
		}
	}
	return nil
}

// Opponent returns the state for the other player, or nil.
func (g *Game) Opponent(playerID string) *PlayerState {
	for i := range g.Players {
		if g.Players[i].PlayerID != playerID {
			return &g.Players[i]
		}
	}
	return nil
}

// Question returns the session's reference for the given question id.
func (g *Game) Question(questionID string) (GameQuestion, bool) {
	for _, q := range g.Questions {
		if q.QuestionID == questionID {
			return q, true
		}
	}
	return GameQuestion{}, false
}

type QuestionType string

const (
	QuestionMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionCode           QuestionType = "CODE"
)

type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Question is the authored question document, read-only for this service.
type Question struct {
	QuestionID    string
	Title         string
	Description   string
	Difficulty    string
	Topic         string
	Category      string
	Type          QuestionType
	Options       []Option
	CorrectAnswer string
	IsActive      bool
}

// IsCorrectAnswer reports whether the submitted text answers the question.
// Multiple choice compares against the option flagged correct, trimmed on
// both sides; anything else is an exact match against the stored answer.
func (q *Question) IsCorrectAnswer(submitted string) bool {
	if q.Type == QuestionMultipleChoice {
		for _, o := range q.Options {
			if o.IsCorrect {
				return strings.TrimSpace(o.Text) == strings.TrimSpace(submitted)
			}
		}
		return false
	}
	return q.CorrectAnswer == submitted
}

// Per-difficulty round time limits, in seconds.
const (
	TimeLimitEasy    = 15
	TimeLimitMedium  = 20
	TimeLimitHard    = 25
	TimeLimitDefault = 30
)

// TimeLimitFor maps a question difficulty to its round time limit.
func TimeLimitFor(difficulty string) int {
	switch strings.ToUpper(difficulty) {
	case "EASY":
		return TimeLimitEasy
	case "MEDIUM":
		return TimeLimitMedium
	case "HARD":
		return TimeLimitHard
	default:
		return TimeLimitDefault
	}
}

// DefaultRating is the rating assumed for a player with no RatingRecord yet.
const DefaultRating = 1000

// RatingRecord is a player's skill aggregate. Only the rating engine writes
// it, and only when a game finishes.
type RatingRecord struct {
	PlayerID     string
	Rating       int
	Wins         int
	Losses       int
	GamesPlayed  int
	TopicRatings map[string]int
}
