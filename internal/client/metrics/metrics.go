// Package metrics provides Prometheus metrics for the sync core.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// Metrics holds the collectors of one client. A nil *Metrics records
// nothing, so components can run without metrics wired.
type Metrics struct {
	registry *prometheus.Registry

	syncCycles          *prometheus.CounterVec
	syncCycleDuration   prometheus.Histogram
	activeSubscriptions prometheus.Gauge
	liveEvents          *prometheus.CounterVec
	recoveredKeys       prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		syncCycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatkeeper_sync_cycles_total",
				Help: "Total number of sync cycles by outcome",
			},
			[]string{"outcome"},
		),
		syncCycleDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatkeeper_sync_cycle_duration_seconds",
				Help:    "Duration of sync cycles",
				Buckets: prometheus.DefBuckets,
			},
		),
		activeSubscriptions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatkeeper_active_subscriptions",
				Help: "Number of live subscription handles",
			},
		),
		liveEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatkeeper_live_events_total",
				Help: "Total number of live events handled by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		recoveredKeys: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatkeeper_conversation_keys",
				Help: "Number of conversation keys recovered by the last sync cycle",
			},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSyncCycle records a finished cycle.
func (m *Metrics) RecordSyncCycle(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.syncCycles.WithLabelValues(outcome(err)).Inc()
	m.syncCycleDuration.Observe(d.Seconds())
}

func (m *Metrics) SetActiveSubscriptions(n int) {
	if m == nil {
		return
	}
	m.activeSubscriptions.Set(float64(n))
}

func (m *Metrics) SetRecoveredKeys(n int) {
	if m == nil {
		return
	}
	m.recoveredKeys.Set(float64(n))
}

// RecordLiveEvent records one handled live event.
func (m *Metrics) RecordLiveEvent(eventType string, err error) {
	if m == nil {
		return
	}
	m.liveEvents.WithLabelValues(eventType, outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeSuccess
}
