// Package metrics owns the Prometheus collectors of the relay.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Latency buckets in milliseconds. Cache tiers land in the first bucket,
// fallbacks in the upper half.
var latencyBuckets = []float64{
	0.05, 0.25, 1, // cache tiers
	10, 50, 250, // fast collaborators
	1000, 2500, 5000, // typical generation
	10000, 20000, 30000, // timeout territory
}

// Metrics is a private registry plus the collectors registered on it.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Resolutions       *prometheus.CounterVec
	ResolutionLatency *prometheus.HistogramVec
	RelayMessages     *prometheus.CounterVec
	RelaySendFailures prometheus.Counter
	Connections       *prometheus.GaugeVec
	SessionsCreated   prometheus.Counter
	SessionsSwept     prometheus.Counter
	QuestionsRejected *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry, so tests and multiple
// applications in one process never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Resolutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachrelay_resolutions_total",
				Help: "Total number of resolved questions by cache source",
			},
			[]string{"source"},
		),
		ResolutionLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "coachrelay_resolution_latency_ms",
				Help:    "Question resolution latency in milliseconds by cache source",
				Buckets: latencyBuckets,
			},
			[]string{"source"},
		),
		RelayMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachrelay_relay_messages_total",
				Help: "Messages delivered to a peer by kind",
			},
			[]string{"kind"},
		),
		RelaySendFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "coachrelay_relay_send_failures_total",
			Help: "Peer sends that failed and were swallowed",
		}),
		Connections: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "coachrelay_connections",
				Help: "Live connections by role",
			},
			[]string{"role"},
		),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "coachrelay_sessions_created_total",
			Help: "Sessions created",
		}),
		SessionsSwept: factory.NewCounter(prometheus.CounterOpts{
			Name: "coachrelay_sessions_swept_total",
			Help: "Expired sessions removed by the sweeper",
		}),
		QuestionsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "coachrelay_questions_rejected_total",
				Help: "Questions refused by the hub by reason",
			},
			[]string{"reason"},
		),
	}
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry for gathering in tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveResolution(source string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(source).Inc()
	m.ResolutionLatency.WithLabelValues(source).Observe(float64(elapsed) / float64(time.Millisecond))
}

func (m *Metrics) RelayDelivered(kind string) {
	if m == nil {
		return
	}
	m.RelayMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) RelayFailed() {
	if m == nil {
		return
	}
	m.RelaySendFailures.Inc()
}

func (m *Metrics) ConnectionOpened(role string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(role).Inc()
}

func (m *Metrics) ConnectionClosed(role string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(role).Dec()
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

func (m *Metrics) Swept(n int) {
	if m == nil {
		return
	}
	m.SessionsSwept.Add(float64(n))
}

func (m *Metrics) QuestionRejected(reason string) {
	if m == nil {
		return
	}
	m.QuestionsRejected.WithLabelValues(reason).Inc()
}
