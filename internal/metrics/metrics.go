// Package metrics exposes Prometheus collectors for the browser core. All
// recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ryxsurf"

// Eviction reasons.
const (
	ReasonOverflow  = "overflow"
	ReasonIdle      = "idle"
	ReasonLowMemory = "low_memory"
)

// Metrics holds all collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	TabsTotal        prometheus.Gauge
	TabsLoaded       prometheus.Gauge
	Evictions        *prometheus.CounterVec
	SnapshotFailures prometheus.Counter
	SweepDuration    prometheus.Histogram

	Saves        *prometheus.CounterVec
	SaveDuration prometheus.Histogram
	Loads        *prometheus.CounterVec

	VaultOps  *prometheus.CounterVec
	Autofills prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		TabsTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tabs",
			Help:      "Number of tabs across all workspaces",
		}),
		TabsLoaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tabs_loaded",
			Help:      "Number of tabs holding a live rendering resource",
		}),
		Evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Tabs unloaded by the eviction manager",
		}, []string{"reason"}),
		SnapshotFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_failures_total",
			Help:      "Snapshots that failed before an eviction",
		}),
		SweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of eviction sweeps",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
		Saves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Hierarchy saves by result",
		}, []string{"result"}),
		SaveDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "save_duration_seconds",
			Help:      "Duration of full hierarchy saves",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		Loads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      "Hierarchy loads by result",
		}, []string{"result"}),
		VaultOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vault_operations_total",
			Help:      "Credential vault operations by operation and backend",
		}, []string{"op", "backend"}),
		Autofills: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autofills_total",
			Help:      "Successful credential autofills",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// Eviction counts one unloaded tab.
func (m *Metrics) Eviction(reason string) {
	if m == nil {
		return
	}
	m.Evictions.WithLabelValues(reason).Inc()
}

// SnapshotFailed counts a failed pre-eviction snapshot.
func (m *Metrics) SnapshotFailed() {
	if m == nil {
		return
	}
	m.SnapshotFailures.Inc()
}

// Sweep records the duration of an eviction sweep.
func (m *Metrics) Sweep(d time.Duration) {
	if m == nil {
		return
	}
	m.SweepDuration.Observe(d.Seconds())
}

// Tabs sets the tab gauges.
func (m *Metrics) Tabs(total, loaded int) {
	if m == nil {
		return
	}
	m.TabsTotal.Set(float64(total))
	m.TabsLoaded.Set(float64(loaded))
}

// Save records a save attempt.
func (m *Metrics) Save(err error, d time.Duration) {
	if m == nil {
		return
	}
	m.Saves.WithLabelValues(result(err)).Inc()
	m.SaveDuration.Observe(d.Seconds())
}

// Load records a load attempt.
func (m *Metrics) Load(err error) {
	if m == nil {
		return
	}
	m.Loads.WithLabelValues(result(err)).Inc()
}

// VaultOp counts a vault operation against a backend.
func (m *Metrics) VaultOp(op, backend string) {
	if m == nil {
		return
	}
	m.VaultOps.WithLabelValues(op, backend).Inc()
}

// Autofill counts a successful autofill.
func (m *Metrics) Autofill() {
	if m == nil {
		return
	}
	m.Autofills.Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
