package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the service's prometheus collector set, exposed on /metrics.
type Metrics struct {
	Connections          prometheus.Gauge
	QueueJoins           prometheus.Counter
	MatchesMade          prometheus.Counter
	AnswersAccepted      prometheus.Counter
	DuplicateSubmissions prometheus.Counter
	GamesFinished        prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		Connections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "quizduel_websocket_connections",
			Help: "Currently open websocket connections.",
		}),
		QueueJoins: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quizduel_queue_joins_total",
			Help: "Players that joined the public matchmaking queue.",
		}),
		MatchesMade: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quizduel_matches_total",
			Help: "Pairs matched out of the public queue.",
		}),
		AnswersAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quizduel_answers_accepted_total",
			Help: "Answer submissions applied to a session.",
		}),
		DuplicateSubmissions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quizduel_duplicate_submissions_total",
			Help: "Answer submissions replayed from a stored result.",
		}),
		GamesFinished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "quizduel_games_finished_total",
			Help: "Games that reached FINISHED.",
		}),
	}
}
