package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Command metrics
	Commands             *prometheus.CounterVec
	CommandDuration      *prometheus.HistogramVec
	ConcurrencyConflicts *prometheus.CounterVec
	CommandRetries       *prometheus.CounterVec

	// Snapshot metrics
	SnapshotsSaved   prometheus.Counter
	SnapshotFailures *prometheus.CounterVec
	ReplayedEvents   prometheus.Histogram

	// Outbox metrics
	OutboxPublished prometheus.Counter
	OutboxFailures  prometheus.Counter

	// Projection metrics
	ProjectionApplied      prometheus.Counter
	ProjectionRejected     *prometheus.CounterVec
	ProjectionDeadLettered *prometheus.CounterVec

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Command metrics
		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_commands_total",
				Help: "Total account commands by type and result",
			},
			[]string{"command", "result"},
		),
		CommandDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventledger_command_duration_seconds",
				Help:    "Duration of account commands",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"command"},
		),
		ConcurrencyConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_concurrency_conflicts_total",
				Help: "Optimistic concurrency conflicts on append",
			},
			[]string{"command"},
		),
		CommandRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_command_retries_total",
				Help: "Full command retries after a transient failure",
			},
			[]string{"command"},
		),

		// Snapshot metrics
		SnapshotsSaved: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventledger_snapshots_saved_total",
			Help: "Total snapshots written",
		}),
		SnapshotFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_snapshot_failures_total",
				Help: "Snapshot load or save failures",
			},
			[]string{"operation"},
		),
		ReplayedEvents: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "eventledger_replayed_events",
			Help:    "Events replayed to rehydrate an account",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		// Outbox metrics
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventledger_outbox_published_total",
			Help: "Outbox events published to the broker",
		}),
		OutboxFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventledger_outbox_failures_total",
			Help: "Outbox publish failures",
		}),

		// Projection metrics
		ProjectionApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "eventledger_projection_applied_total",
			Help: "Events applied to the balance read model",
		}),
		ProjectionRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_projection_rejected_total",
				Help: "Events rejected by the balance projection",
			},
			[]string{"reason"},
		),
		ProjectionDeadLettered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_projection_dead_lettered_total",
				Help: "Messages moved to the dead-letter topic by the projection consumer",
			},
			[]string{"reason"},
		),

		// API metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventledger_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "eventledger_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}
