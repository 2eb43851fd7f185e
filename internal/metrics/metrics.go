// Package metrics provides allocator metrics using atomic counters, with an
// optional Prometheus view.
package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "noncer"

// Metrics holds allocator metrics using atomic counters for thread safety.
type Metrics struct {
	// Allocation metrics
	allocationsTotal atomic.Int64
	overridesTotal   atomic.Int64
	incrementsTotal  atomic.Int64

	// Chain baseline metrics
	baselineFetches      atomic.Int64
	baselineFetchErrors  atomic.Int64
	baselineLatencyNanos atomic.Int64

	// Failure metrics
	storeErrors  atomic.Int64
	submitErrors atomic.Int64
}

// Global is the global metrics instance.
//
//nolint:gochecknoglobals // Intentional global for metrics access
var Global = &Metrics{}

// RecordAllocation records an automatically allocated nonce.
func (m *Metrics) RecordAllocation() {
	m.allocationsTotal.Add(1)
}

// RecordOverride records an explicit nonce override.
func (m *Metrics) RecordOverride() {
	m.overridesTotal.Add(1)
}

// RecordIncrement records a remote delta increment of count.
func (m *Metrics) RecordIncrement(count int64) {
	m.incrementsTotal.Add(count)
}

// RecordBaselineFetch records a chain baseline fetch with its duration and outcome.
func (m *Metrics) RecordBaselineFetch(duration time.Duration, err error) {
	m.baselineFetches.Add(1)
	m.baselineLatencyNanos.Add(duration.Nanoseconds())
	if err != nil {
		m.baselineFetchErrors.Add(1)
	}
}

// RecordStoreError records a failed counter store operation.
func (m *Metrics) RecordStoreError() {
	m.storeErrors.Add(1)
}

// RecordSubmitError records a failed transaction submission.
func (m *Metrics) RecordSubmitError() {
	m.submitErrors.Add(1)
}

// Snapshot is a point-in-time copy of all metrics.
type Snapshot struct {
	AllocationsTotal     int64 `json:"allocations_total"`
	OverridesTotal       int64 `json:"overrides_total"`
	IncrementsTotal      int64 `json:"increments_total"`
	BaselineFetches      int64 `json:"baseline_fetches"`
	BaselineFetchErrors  int64 `json:"baseline_fetch_errors"`
	BaselineLatencyNanos int64 `json:"baseline_latency_nanos"`
	StoreErrors          int64 `json:"store_errors"`
	SubmitErrors         int64 `json:"submit_errors"`
}

// Snapshot returns a point-in-time copy of all metrics.
func (m *Metrics) Snapshot() Snapshot {
	return Snapshot{
		AllocationsTotal:     m.allocationsTotal.Load(),
		OverridesTotal:       m.overridesTotal.Load(),
		IncrementsTotal:      m.incrementsTotal.Load(),
		BaselineFetches:      m.baselineFetches.Load(),
		BaselineFetchErrors:  m.baselineFetchErrors.Load(),
		BaselineLatencyNanos: m.baselineLatencyNanos.Load(),
		StoreErrors:          m.storeErrors.Load(),
		SubmitErrors:         m.submitErrors.Load(),
	}
}

// BaselineLatencyAvgMs returns the average baseline fetch latency in milliseconds.
// Returns 0 if no fetches have been made.
func (m *Metrics) BaselineLatencyAvgMs() float64 {
	fetches := m.baselineFetches.Load()
	if fetches == 0 {
		return 0
	}
	return float64(m.baselineLatencyNanos.Load()) / float64(fetches) / 1e6
}

// Reset resets all metrics to zero.
// Useful for testing.
func (m *Metrics) Reset() {
	m.allocationsTotal.Store(0)
	m.overridesTotal.Store(0)
	m.incrementsTotal.Store(0)
	m.baselineFetches.Store(0)
	m.baselineFetchErrors.Store(0)
	m.baselineLatencyNanos.Store(0)
	m.storeErrors.Store(0)
	m.submitErrors.Store(0)
}

// Register exposes the counters on reg as Prometheus counters.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	counters := []struct {
		name string
		help string
		load func() int64
	}{
		{"allocations_total", "Nonces allocated automatically.", m.allocationsTotal.Load},
		{"overrides_total", "Explicit nonce overrides.", m.overridesTotal.Load},
		{"increments_total", "Sum of remote delta increments.", m.incrementsTotal.Load},
		{"baseline_fetches_total", "Chain baseline fetches.", m.baselineFetches.Load},
		{"baseline_fetch_errors_total", "Failed chain baseline fetches.", m.baselineFetchErrors.Load},
		{"store_errors_total", "Failed counter store operations.", m.storeErrors.Load},
		{"submit_errors_total", "Failed transaction submissions.", m.submitErrors.Load},
	}

	for _, c := range counters {
		load := c.load
		collector := prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      c.name,
			Help:      c.help,
		}, func() float64 { return float64(load()) })
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

// Handler returns an HTTP handler serving the metrics in gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
