package automation

import "github.com/prometheus/client_golang/prometheus"

// Metrics contains the engine's Prometheus collectors. Attach an instance
// with WithMetrics; a nil Metrics disables instrumentation entirely.
type Metrics struct {
	EventsProcessed    *prometheus.CounterVec
	RuleExecutions     *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	QueueDepth         prometheus.Gauge
	ActiveRules        prometheus.Gauge
}

// NewMetrics creates the engine metric set.
func NewMetrics() *Metrics {
	return &Metrics{
		EventsProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "automation",
				Subsystem: "events",
				Name:      "processed_total",
				Help:      "Total number of events dispatched through the engine",
			},
			[]string{"event_type", "status"},
		),

		RuleExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "automation",
				Subsystem: "rules",
				Name:      "executions_total",
				Help:      "Total number of rule execution attempts",
			},
			[]string{"status"},
		),

		ProcessingDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "automation",
				Subsystem: "events",
				Name:      "processing_duration_seconds",
				Help:      "Event dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "automation",
				Subsystem: "queue",
				Name:      "depth",
				Help:      "Number of events waiting in the execution queue",
			},
		),

		ActiveRules: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "automation",
				Subsystem: "rules",
				Name:      "active",
				Help:      "Number of active rules in the engine cache",
			},
		),
	}
}

// Register registers all collectors with the given registerer.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.EventsProcessed,
		m.RuleExecutions,
		m.ProcessingDuration,
		m.QueueDepth,
		m.ActiveRules,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
