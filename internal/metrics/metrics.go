package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ari_calllog"

// Drop reasons for EventsDropped.
const (
	ReasonMalformed     = "malformed"
	ReasonUnknownType   = "unknown_type"
	ReasonMissingField  = "missing_field"
	ReasonUnknownChan   = "unknown_channel"
	ReasonInvariant     = "invariant_violation"
	ReasonDuplicate     = "duplicate"
	ReasonIgnoredStatus = "ignored_status"
)

// Metrics holds the engine's collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	EventsReceived   *prometheus.CounterVec
	EventsDropped    *prometheus.CounterVec
	Reconnects       prometheus.Counter
	TrackedCalls     prometheus.Gauge
	OrphansReaped    prometheus.Counter
	RecordsFinalized prometheus.Counter
	RecordsSubmitted prometheus.Counter
	RecordsDropped   *prometheus.CounterVec
	SubmitRetries    prometheus.Counter
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
			Help:      "Decoded events routed to a handler, by type.",
		}, []string{"type"}),
		EventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events discarded without changing call state, by reason.",
		}, []string{"reason"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Event feed connection attempts after a failure.",
		}),
		TrackedCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_calls",
			Help:      "Calls currently held by the tracker.",
		}),
		OrphansReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_reaped_total",
			Help:      "Tracked calls discarded by the orphan reaper.",
		}),
		RecordsFinalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_finalized_total",
			Help:      "Call records built from completed calls.",
		}),
		RecordsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_submitted_total",
			Help:      "Call records accepted by the call log.",
		}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Call records lost before reaching the call log, by reason.",
		}, []string{"reason"}),
		SubmitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submit_retries_total",
			Help:      "Call log submissions retried after a failure.",
		}),
	}

	m.registry.MustRegister(
		m.EventsReceived,
		m.EventsDropped,
		m.Reconnects,
		m.TrackedCalls,
		m.OrphansReaped,
		m.RecordsFinalized,
		m.RecordsSubmitted,
		m.RecordsDropped,
		m.SubmitRetries,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Received(eventType string) {
	if m == nil {
		return
	}
	m.EventsReceived.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Reconnected() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

func (m *Metrics) SetTracked(n int) {
	if m == nil {
		return
	}
	m.TrackedCalls.Set(float64(n))
}

func (m *Metrics) Reaped(n int) {
	if m == nil {
		return
	}
	m.OrphansReaped.Add(float64(n))
}

func (m *Metrics) Finalized() {
	if m == nil {
		return
	}
	m.RecordsFinalized.Inc()
}

func (m *Metrics) Submitted() {
	if m == nil {
		return
	}
	m.RecordsSubmitted.Inc()
}

func (m *Metrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.RecordsDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Retried() {
	if m == nil {
		return
	}
	m.SubmitRetries.Inc()
}
