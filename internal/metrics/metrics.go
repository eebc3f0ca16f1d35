// Package metrics exposes Prometheus counters for sessions, turns and
// provider calls. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	TurnsTotal      *prometheus.CounterVec
	StageDuration   *prometheus.HistogramVec
	DiscardsTotal   *prometheus.CounterVec
	FallbacksTotal  prometheus.Counter
	ForwardsTotal   *prometheus.CounterVec
	AudioBytesTotal *prometheus.CounterVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "covercall"
	}
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live dialog sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Sessions ended, by final state",
		}, []string{"state"}),
		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed round trips, by reply kind",
		}, []string{"kind"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Provider call latency per round-trip stage",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}, []string{"stage", "status"}),
		DiscardsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discards_total",
			Help:      "Utterances dropped without a reply",
			// reason: short, small, empty, language
		}, []string{"reason"}),
		FallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Persona fallback lines spoken after repeated failures",
		}),
		ForwardsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forwards_total",
			Help:      "Emergency records sent to the dispatch sink",
		}, []string{"status"}),
		AudioBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "PCM bytes processed",
		}, []string{"direction"}),
	}
	registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.TurnsTotal,
		m.StageDuration,
		m.DiscardsTotal,
		m.FallbacksTotal,
		m.ForwardsTotal,
		m.AudioBytesTotal,
	)
	return m
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionEnded(state string) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(state).Inc()
}

func (m *Metrics) Turn(kind string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(kind).Inc()
}

// Stage records one provider call.
func (m *Metrics) Stage(stage string, d time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.StageDuration.WithLabelValues(stage, status).Observe(d.Seconds())
}

func (m *Metrics) Discard(reason string) {
	if m == nil {
		return
	}
	m.DiscardsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) Fallback() {
	if m == nil {
		return
	}
	m.FallbacksTotal.Inc()
}

func (m *Metrics) Forward(err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ForwardsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) Audio(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(n))
}
