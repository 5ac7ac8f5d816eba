// Package stats exposes the orchestrator's periodic "emit stats" step
// (spec §4.10 step 7) as Prometheus counters/gauges, plus the thin,
// thread-safe UI-facade snapshot getter spec §6 requires ("every call is
// thread-safe and non-blocking").
package stats

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/gamegov/optimizer/internal/types"
)

// Snapshot is the read-only view the UI facade polls (spec §6).
type Snapshot struct {
	Mode              string
	ForegroundPID     int
	CacheHitRate      float64
	CacheSize         int
	ApplicatorErrors  uint64
	ThermalSoftHit    bool
	MaxTempC          int
	ExtremeActive     bool
	PrivilegesMissing []string
	MemAvail          types.Bytes
}

// Registry bundles the Prometheus collectors the orchestrator updates on
// every tick/emit-stats step, alongside the last Snapshot for the UI.
type Registry struct {
	reg *prometheus.Registry

	cacheHitRate  prometheus.Gauge
	cacheSize     prometheus.Gauge
	applicatorErr prometheus.Counter
	maxTempC      prometheus.Gauge
	extremeActive prometheus.Gauge
	thermalDemote prometheus.Counter

	mu   sync.RWMutex
	last Snapshot
}

// New builds a Registry with every collector registered.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.cacheHitRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamegov", Subsystem: "handlecache", Name: "hit_rate",
		Help: "Fraction of handle-cache lookups served from cache.",
	})
	r.cacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamegov", Subsystem: "handlecache", Name: "size",
		Help: "Current number of cached OS handles.",
	})
	r.applicatorErr = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gamegov", Subsystem: "applicator", Name: "errors_total",
		Help: "Count of per-field settings-applicator failures.",
	})
	r.maxTempC = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamegov", Subsystem: "thermal", Name: "max_temp_celsius",
		Help: "Last observed maximum CPU-package temperature in Celsius.",
	})
	r.extremeActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamegov", Subsystem: "extreme", Name: "active",
		Help: "1 if the extreme-latency transaction is active, 0 otherwise.",
	})
	r.thermalDemote = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gamegov", Subsystem: "thermal", Name: "demotions_total",
		Help: "Count of background-priority demotions triggered by thermal checks.",
	})

	r.reg.MustRegister(r.cacheHitRate, r.cacheSize, r.applicatorErr, r.maxTempC, r.extremeActive, r.thermalDemote)
	return r
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler,
// scraped by the out-of-scope tray UI.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// RecordCache updates the cache-effectiveness gauges.
func (r *Registry) RecordCache(hitRate float64, size int) {
	r.cacheHitRate.Set(hitRate)
	r.cacheSize.Set(float64(size))
}

// RecordApplicatorError increments the applicator error counter.
func (r *Registry) RecordApplicatorError() { r.applicatorErr.Inc() }

// RecordThermal updates the thermal gauge and, if demoted is true, counts
// a background-priority demotion (spec §4.10 step 3).
func (r *Registry) RecordThermal(maxTempC int, demoted bool) {
	r.maxTempC.Set(float64(maxTempC))
	if demoted {
		r.thermalDemote.Inc()
	}
}

// RecordExtremeActive sets whether extreme mode is currently active.
func (r *Registry) RecordExtremeActive(active bool) {
	if active {
		r.extremeActive.Set(1)
	} else {
		r.extremeActive.Set(0)
	}
}

// SetSnapshot publishes the latest Snapshot for UI-facade consumption.
func (r *Registry) SetSnapshot(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last = s
}

// Snapshot returns the most recently published Snapshot. Thread-safe,
// non-blocking (spec §6).
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}
