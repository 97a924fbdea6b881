package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "debate_arena"

var (
	TurnAdvances = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turn_advances_total",
		Help:      "Turn advances by cause (complete, deadline).",
	}, []string{"cause"})

	StaleCallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stale_callbacks_total",
		Help:      "Timer callbacks and requests that found state already moved on.",
	}, []string{"kind"})

	DebatesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "debates_finished_total",
		Help:      "Finish calls by outcome (fresh, repeat).",
	}, []string{"outcome"})

	ConnectionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connection_transitions_total",
		Help:      "Connection log writes by resulting status and context type.",
	}, []string{"status", "context_type"})

	Finalizations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connection_finalizations_total",
		Help:      "Grace periods that expired into a definitive disconnect.",
	})

	JobsScheduled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_scheduled_total",
		Help:      "Scheduled jobs by kind.",
	}, []string{"kind"})

	JobsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_completed_total",
		Help:      "Job runs by kind and result (done, retry, failed).",
	}, []string{"kind", "result"})

	EventSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "event_subscribers",
		Help:      "Live event subscribers across all topics.",
	})

	PresenceSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "presence_sockets",
		Help:      "Open presence websockets.",
	})

	AIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ai_requests_total",
		Help:      "AI collaborator calls by operation and result.",
	}, []string{"op", "result"})
)

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
