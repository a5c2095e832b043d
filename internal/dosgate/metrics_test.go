package dosgate

import (
	"testing"
	"time"
)

func TestInMemoryMetrics_Snapshot(t *testing.T) {
	t.Parallel()

	metrics := NewInMemoryMetrics()
	metrics.IncAdmitted("remote_address")
	metrics.IncAdmitted("remote_address")
	metrics.IncRejected(RejectReasonRate, "remote_address")
	metrics.SetTrackerCount(7)
	metrics.SetDelayQueueDepth(2)
	metrics.ObserveGateLatency(3 * time.Microsecond)
	metrics.ObserveGateLatency(time.Microsecond)

	snapshot := metrics.Snapshot()
	counters := snapshot["counters"].(map[string]int64)
	if counters["admitted|remote_address"] != 2 {
		t.Fatalf("unexpected admitted count: %#v", counters)
	}
	if counters["rejected|rate|remote_address"] != 1 {
		t.Fatalf("unexpected rejected count: %#v", counters)
	}
	if snapshot["trackers"] != int64(7) || snapshot["delayQueueDepth"] != int64(2) {
		t.Fatalf("unexpected gauges: %#v", snapshot)
	}
	latency := snapshot["gateLatency"].(map[string]int64)
	if latency["count"] != 2 || latency["maxNanos"] != 3000 {
		t.Fatalf("unexpected latency summary: %#v", latency)
	}
}

func TestPromMetrics_RegistersGateSeries(t *testing.T) {
	t.Parallel()

	metrics := NewPromMetrics()
	metrics.IncAdmitted("remote_address")
	metrics.IncRejected(RejectReasonOverflow, "remote_address")
	metrics.ObserveGateLatency(time.Microsecond)
	metrics.SetTrackerCount(3)
	metrics.SetDelayQueueDepth(1)

	families, err := metrics.Registry().Gather()
	if err != nil {
		t.Fatalf("unexpected gather error: %v", err)
	}
	names := map[string]bool{}
	for _, family := range families {
		names[family.GetName()] = true
	}
	for _, want := range []string{
		"dosgate_admitted_total",
		"dosgate_rejected_total",
		"dosgate_gate_latency_seconds",
		"dosgate_trackers",
		"dosgate_delay_queue_depth",
	} {
		if !names[want] {
			t.Fatalf("series %s missing from registry: %v", want, names)
		}
	}
}

func TestPromMetrics_IsolatedRegistries(t *testing.T) {
	t.Parallel()

	// Two instances must not collide; each owns its registry.
	first := NewPromMetrics()
	second := NewPromMetrics()
	first.IncAdmitted("a")
	second.IncAdmitted("b")
	if first.Registry() == second.Registry() {
		t.Fatalf("registries are shared")
	}
}
