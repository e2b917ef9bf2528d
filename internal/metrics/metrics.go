package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "keepwarm"

// Label names.
const (
	ModeLabel     = "mode"
	OutcomeLabel  = "outcome"
	ResultLabel   = "result"
	DocumentLabel = "document"
)

// Outcome and result label values.
const (
	OutcomeResponse  = "response"
	OutcomeTransport = "transport_error"

	ResultSent    = "sent"
	ResultFailed  = "failed"
	ResultSkipped = "skipped"
)

// Measures holds every collector the application records into.
type Measures struct {
	Visits          *prometheus.CounterVec
	VisitDuration   *prometheus.HistogramVec
	Notifications   *prometheus.CounterVec
	WindowedActive  prometheus.Gauge
	LogRecords      prometheus.Gauge
	PersistFailures *prometheus.CounterVec
	LogsSwept       prometheus.Counter
}

// New builds the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Measures {
	m := &Measures{
		Visits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "visits_total",
				Help:      "Total target visits by mode and outcome.",
			},
			[]string{ModeLabel, OutcomeLabel},
		),
		VisitDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "visit_duration_seconds",
				Help:      "Latency of target visits.",
				Buckets:   []float64{0.0625, 0.125, .25, .5, 1, 2, 5, 10, 30},
			},
			[]string{ModeLabel},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Alert delivery attempts by result.",
			},
			[]string{ResultLabel},
		),
		WindowedActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "windowed_scheduler_active",
			Help:      "1 while the windowed scheduler is ticking, 0 while dormant.",
		}),
		LogRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "access_log_records",
			Help:      "Number of access log records held in memory.",
		}),
		PersistFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Failed document writes by document.",
			},
			[]string{DocumentLabel},
		),
		LogsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logs_swept_total",
			Help:      "Access log records dropped by the retention sweep.",
		}),
	}
	reg.MustRegister(
		m.Visits,
		m.VisitDuration,
		m.Notifications,
		m.WindowedActive,
		m.LogRecords,
		m.PersistFailures,
		m.LogsSwept,
	)
	return m
}

// NewNop returns Measures registered with a throwaway registry.
func NewNop() *Measures {
	return New(prometheus.NewRegistry())
}
