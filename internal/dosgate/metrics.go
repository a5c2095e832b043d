// Package dosgate provides gate metrics.
package dosgate

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rejection reasons reported to metrics.
const (
	RejectReasonOverflow = "overflow"
	RejectReasonNoID     = "no_id"
	RejectReasonRate     = "rate"
	RejectReasonShed     = "shed"
)

// Metrics records gate decision counters and gauges.
type Metrics interface {
	IncAdmitted(idType string)
	IncRejected(reason string, idType string)
	ObserveGateLatency(d time.Duration)
	SetTrackerCount(n int)
	SetDelayQueueDepth(n int)
}

// InMemoryMetrics stores counters and gauges for the snapshot endpoint and
// tests.
type InMemoryMetrics struct {
	counters   sync.Map
	trackers   atomic.Int64
	queueDepth atomic.Int64
	latency    latencySummary
}

type latencySummary struct {
	count      atomic.Int64
	totalNanos atomic.Int64
	maxNanos   atomic.Int64
}

// NewInMemoryMetrics constructs an in-memory metrics recorder.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{}
}

// IncAdmitted increments the admitted counter.
func (m *InMemoryMetrics) IncAdmitted(idType string) {
	if m == nil {
		return
	}
	m.incCounter(fmt.Sprintf("admitted|%s", idType))
}

// IncRejected increments a rejection counter.
func (m *InMemoryMetrics) IncRejected(reason string, idType string) {
	if m == nil {
		return
	}
	m.incCounter(fmt.Sprintf("rejected|%s|%s", reason, idType))
}

// ObserveGateLatency tracks gate decision latency.
func (m *InMemoryMetrics) ObserveGateLatency(d time.Duration) {
	if m == nil {
		return
	}
	nanos := d.Nanoseconds()
	m.latency.count.Add(1)
	m.latency.totalNanos.Add(nanos)
	for {
		current := m.latency.maxNanos.Load()
		if nanos <= current {
			break
		}
		if m.latency.maxNanos.CompareAndSwap(current, nanos) {
			break
		}
	}
}

// SetTrackerCount records the approximate tracker table size.
func (m *InMemoryMetrics) SetTrackerCount(n int) {
	if m == nil {
		return
	}
	m.trackers.Store(int64(n))
}

// SetDelayQueueDepth records the delay queue length.
func (m *InMemoryMetrics) SetDelayQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Store(int64(n))
}

// Snapshot exports metrics values.
func (m *InMemoryMetrics) Snapshot() map[string]any {
	result := map[string]any{}
	if m == nil {
		return result
	}
	counters := map[string]int64{}
	m.counters.Range(func(key, value any) bool {
		k, ok := key.(string)
		if !ok {
			return true
		}
		counter, ok := value.(*atomic.Int64)
		if !ok || counter == nil {
			return true
		}
		counters[k] = counter.Load()
		return true
	})
	result["counters"] = counters
	result["trackers"] = m.trackers.Load()
	result["delayQueueDepth"] = m.queueDepth.Load()
	result["gateLatency"] = map[string]int64{
		"count":      m.latency.count.Load(),
		"totalNanos": m.latency.totalNanos.Load(),
		"maxNanos":   m.latency.maxNanos.Load(),
	}
	return result
}

func (m *InMemoryMetrics) incCounter(key string) {
	counter := m.getCounter(key)
	if counter == nil {
		return
	}
	counter.Add(1)
}

func (m *InMemoryMetrics) getCounter(key string) *atomic.Int64 {
	if key == "" {
		return nil
	}
	if existing, ok := m.counters.Load(key); ok {
		if counter, ok := existing.(*atomic.Int64); ok {
			return counter
		}
	}
	counter := &atomic.Int64{}
	actual, _ := m.counters.LoadOrStore(key, counter)
	if stored, ok := actual.(*atomic.Int64); ok {
		return stored
	}
	return counter
}

// PromMetrics exports gate metrics through a Prometheus registry.
type PromMetrics struct {
	registry   *prometheus.Registry
	admitted   *prometheus.CounterVec
	rejected   *prometheus.CounterVec
	latency    prometheus.Histogram
	trackers   prometheus.Gauge
	queueDepth prometheus.Gauge
}

// NewPromMetrics constructs metrics registered on a fresh registry.
func NewPromMetrics() *PromMetrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)
	return &PromMetrics{
		registry: registry,
		admitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dosgate_admitted_total",
			Help: "Requests forwarded to the next handler.",
		}, []string{"id_type"}),
		rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dosgate_rejected_total",
			Help: "Requests diverted to the rejection handler.",
		}, []string{"reason", "id_type"}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dosgate_gate_latency_seconds",
			Help:    "Time spent deciding whether to forward a request.",
			Buckets: []float64{0.000001, 0.000005, 0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005},
		}),
		trackers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dosgate_trackers",
			Help: "Approximate tracker table size.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "dosgate_delay_queue_depth",
			Help: "Rejected exchanges waiting in the delay queue.",
		}),
	}
}

// Registry exposes the backing registry for the metrics endpoint.
func (m *PromMetrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// IncAdmitted increments the admitted counter.
func (m *PromMetrics) IncAdmitted(idType string) {
	if m == nil {
		return
	}
	m.admitted.WithLabelValues(idType).Inc()
}

// IncRejected increments a rejection counter.
func (m *PromMetrics) IncRejected(reason string, idType string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason, idType).Inc()
}

// ObserveGateLatency tracks gate decision latency.
func (m *PromMetrics) ObserveGateLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.latency.Observe(d.Seconds())
}

// SetTrackerCount records the approximate tracker table size.
func (m *PromMetrics) SetTrackerCount(n int) {
	if m == nil {
		return
	}
	m.trackers.Set(float64(n))
}

// SetDelayQueueDepth records the delay queue length.
func (m *PromMetrics) SetDelayQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
