// Package metrics provides Prometheus metrics for the care-intelligence
// pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	EventsIngested        *prometheus.CounterVec
	DuplicateEvents       prometheus.Counter
	AlertsRaised          prometheus.Counter
	AlertsResolved        prometheus.Counter
	AlertsDismissed       prometheus.Counter
	RangeWarnings         prometheus.Counter
	ActionsGenerated      prometheus.Counter
	PipelineDuration      prometheus.Histogram
	SnapshotDuration      prometheus.Histogram
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
	CircuitBreakerState   *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		EventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "care_events_ingested_total",
			Help: "Total care events appended to the event store",
		}, []string{"kind"}),
		DuplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "care_events_duplicate_total",
			Help: "Total duplicate event ids dropped on append",
		}),
		AlertsRaised: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_raised_total",
			Help: "Total alerts raised",
		}),
		AlertsResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_resolved_total",
			Help: "Total alerts auto-resolved",
		}),
		AlertsDismissed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alerts_dismissed_total",
			Help: "Total alerts dismissed by caregivers",
		}),
		RangeWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prediction_range_warnings_total",
			Help: "Total out-of-range prediction probabilities clamped",
		}),
		ActionsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "next_best_actions_generated_total",
			Help: "Total next-best-actions generated",
		}),
		PipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pipeline_pass_duration_seconds",
			Help:    "Per-patient pipeline pass duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		SnapshotDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "snapshot_assembly_duration_seconds",
			Help:    "Dashboard snapshot assembly duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.EventsIngested,
		m.DuplicateEvents,
		m.AlertsRaised,
		m.AlertsResolved,
		m.AlertsDismissed,
		m.RangeWarnings,
		m.ActionsGenerated,
		m.PipelineDuration,
		m.SnapshotDuration,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
