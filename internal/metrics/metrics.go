// Package metrics exposes emitter activity as Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/curium-rocks/owm-emitter/internal/emitter"
)

const namespace = "owm_emitter"

// Metrics holds the collectors of one process. Each instance owns its registry so tests
// can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	PollsTotal        *prometheus.CounterVec
	PollDuration      *prometheus.HistogramVec
	DataEventsTotal   *prometheus.CounterVec
	StatusTransitions *prometheus.CounterVec
	Connected         *prometheus.GaugeVec
	Emitters          prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PollsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Total number of polls by emitter and result",
		}, []string{"emitter", "result"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "poll_duration_seconds",
			Help:      "Duration of source fetches in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"emitter"}),
		DataEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_events_total",
			Help:      "Total number of data events emitted after change detection",
		}, []string{"emitter"}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Total number of connection status transitions",
		}, []string{"emitter", "connected"}),
		Connected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 when the emitter's source is considered connected",
		}, []string{"emitter"}),
		Emitters: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "emitters",
			Help:      "Number of live emitters",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.PollsTotal,
		m.PollDuration,
		m.DataEventsTotal,
		m.StatusTransitions,
		m.Connected,
		m.Emitters,
	)
	return m
}

// Handler returns an HTTP handler that exposes the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObservePoll records a finished poll.
func (m *Metrics) ObservePoll(outcome emitter.PollOutcome) {
	result := "ok"
	if outcome.Err != nil {
		result = "error"
	} else if !outcome.Changed {
		result = "unchanged"
	}
	m.PollsTotal.WithLabelValues(outcome.EmitterID, result).Inc()
	if outcome.Duration >= 0 {
		m.PollDuration.WithLabelValues(outcome.EmitterID).Observe(outcome.Duration.Seconds())
	}
}

func (m *Metrics) ObserveData(evt emitter.DataEvent[any]) {
	m.DataEventsTotal.WithLabelValues(evt.EmitterID).Inc()
}

// ObserveStatus records a transition and updates the connected gauge.
func (m *Metrics) ObserveStatus(evt emitter.StatusEvent) {
	m.StatusTransitions.WithLabelValues(evt.EmitterID, strconv.FormatBool(evt.Connected)).Inc()
	m.SetConnected(evt.EmitterID, evt.Connected)
}

func (m *Metrics) SetConnected(emitterID string, connected bool) {
	v := 0.0
	if connected {
		v = 1
	}
	m.Connected.WithLabelValues(emitterID).Set(v)
}

// Forget drops the per-emitter series of a removed emitter.
func (m *Metrics) Forget(emitterID string) {
	labels := prometheus.Labels{"emitter": emitterID}
	m.PollsTotal.DeletePartialMatch(labels)
	m.PollDuration.DeletePartialMatch(labels)
	m.DataEventsTotal.DeletePartialMatch(labels)
	m.StatusTransitions.DeletePartialMatch(labels)
	m.Connected.DeletePartialMatch(labels)
}
