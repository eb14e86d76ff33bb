package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_fanout"

type Metrics struct {
	Ingested          *prometheus.CounterVec
	IngestFailures    *prometheus.CounterVec
	Projected         *prometheus.CounterVec
	ProjectionErrors  *prometheus.CounterVec
	Duplicates        *prometheus.CounterVec
	Broadcasts        *prometheus.CounterVec
	Subscribers       prometheus.Gauge
	SlowSubscribers   prometheus.Counter
	CommittedOffsets  *prometheus.GaugeVec
	UndecodableEvents prometheus.Counter

	gatherer prometheus.Gatherer
}

// New registers all collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so collectors never collide.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		Ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_ingested_total",
			Help: "Events acknowledged by the append log.",
		}, []string{"type"}),
		IngestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "ingest_failures_total",
			Help: "Events rejected or not acknowledged, by reason.",
		}, []string{"reason"}),
		Projected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_projected_total",
			Help: "Events applied by the projector.",
		}, []string{"type", "outcome"}),
		ProjectionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "projection_errors_total",
			Help: "Events skipped after a processing error.",
		}, []string{"type"}),
		Duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "duplicates_suppressed_total",
			Help: "Idempotent operations that changed nothing.",
		}, []string{"kind"}),
		Broadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcasts_total",
			Help: "Events published to the fan-out transport.",
		}, []string{"type"}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "subscribers",
			Help: "Live subscribers on this process.",
		}),
		SlowSubscribers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "slow_subscribers_dropped_total",
			Help: "Subscribers dropped because their buffer was full.",
		}),
		CommittedOffsets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "committed_offset",
			Help: "Last committed log offset per partition.",
		}, []string{"partition"}),
		UndecodableEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "undecodable_events_total",
			Help: "Log records that could not be decoded and were skipped.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(
		m.Ingested, m.IngestFailures, m.Projected, m.ProjectionErrors, m.Duplicates,
		m.Broadcasts, m.Subscribers, m.SlowSubscribers, m.CommittedOffsets, m.UndecodableEvents,
	)
	return m
}

// Handler returns an http.Handler for Prometheus scraping
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
