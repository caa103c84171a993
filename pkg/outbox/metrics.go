package outbox

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus instruments for the outbox publisher.
type Metrics struct {
	Published   *prometheus.CounterVec
	Failures    *prometheus.CounterVec
	Exhausted   *prometheus.CounterVec
	Pending     prometheus.Gauge
	PollLatency prometheus.Histogram
}

// NewMetrics creates and registers outbox metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer, service string) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "outbox_published_total",
				Help:        "Outbox messages successfully published to the bus.",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"topic"},
		),
		Failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "outbox_publish_failures_total",
				Help:        "Outbox publish attempts that failed and were rescheduled.",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"topic"},
		),
		Exhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "outbox_exhausted_total",
				Help:        "Outbox messages that hit the retry ceiling and were marked FAILED.",
				ConstLabels: prometheus.Labels{"service": service},
			},
			[]string{"topic"},
		),
		Pending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name:        "outbox_pending_messages",
				Help:        "Outbox messages currently waiting to be published.",
				ConstLabels: prometheus.Labels{"service": service},
			},
		),
		PollLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:        "outbox_poll_duration_seconds",
				Help:        "Duration of a single outbox poll cycle.",
				ConstLabels: prometheus.Labels{"service": service},
				Buckets:     prometheus.DefBuckets,
			},
		),
	}

	reg.MustRegister(m.Published, m.Failures, m.Exhausted, m.Pending, m.PollLatency)
	return m
}
