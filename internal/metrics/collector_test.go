package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/dantte-lp/hcsim/internal/metrics"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	if c.EventsProcessed == nil {
		t.Error("EventsProcessed is nil")
	}
	if c.QueueDepth == nil {
		t.Error("QueueDepth is nil")
	}
	if c.PacketsSent == nil {
		t.Error("PacketsSent is nil")
	}
	if c.PacketsReceived == nil {
		t.Error("PacketsReceived is nil")
	}
	if c.PacketsDropped == nil {
		t.Error("PacketsDropped is nil")
	}
	if c.StateTransitions == nil {
		t.Error("StateTransitions is nil")
	}
	if c.RendezVousCacheHits == nil {
		t.Error("RendezVousCacheHits is nil")
	}
	if c.RendezVousCacheMisses == nil {
		t.Error("RendezVousCacheMisses is nil")
	}

	// Registration must not panic; gathering may legitimately be empty.
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
}

func TestRecordEventFired(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordEventFired(4)
	c.RecordEventFired(3)

	if got := counterValue(t, c.EventsProcessed); got != 2 {
		t.Errorf("EventsProcessed = %v, want 2", got)
	}
	if got := gaugeValue(t, c.QueueDepth); got != 3 {
		t.Errorf("QueueDepth = %v, want 3", got)
	}
}

func TestPacketCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.IncPacketsSent("node-0")
	c.IncPacketsSent("node-0")
	c.IncPacketsSent("node-0")

	if got := counterVecValue(t, c.PacketsSent, "node-0"); got != 3 {
		t.Errorf("PacketsSent = %v, want 3", got)
	}

	c.IncPacketsReceived("node-0")
	c.IncPacketsReceived("node-0")

	if got := counterVecValue(t, c.PacketsReceived, "node-0"); got != 2 {
		t.Errorf("PacketsReceived = %v, want 2", got)
	}

	c.IncPacketsDropped("node-1")

	if got := counterVecValue(t, c.PacketsDropped, "node-1"); got != 1 {
		t.Errorf("PacketsDropped(node-1) = %v, want 1", got)
	}
	if got := counterVecValue(t, c.PacketsDropped, "node-0"); got != 0 {
		t.Errorf("PacketsDropped(node-0) = %v, want 0 (unaffected)", got)
	}
}

func TestStateTransition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordStateTransition("node-0", "main", "Disconnected", "WaitPAP")
	c.RecordStateTransition("node-0", "main", "Disconnected", "WaitPAP")
	c.RecordStateTransition("node-0", "hbl", "ListenHB", "WaitSAN")

	if got := counterVecValue(t, c.StateTransitions, "node-0", "main", "Disconnected", "WaitPAP"); got != 2 {
		t.Errorf("StateTransitions(main Disconnected->WaitPAP) = %v, want 2", got)
	}
	if got := counterVecValue(t, c.StateTransitions, "node-0", "hbl", "ListenHB", "WaitSAN"); got != 1 {
		t.Errorf("StateTransitions(hbl ListenHB->WaitSAN) = %v, want 1", got)
	}
}

func TestRendezVousCacheCounters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := metrics.NewCollector(reg)

	c.RecordRendezVousLookup(true)
	c.RecordRendezVousLookup(true)
	c.RecordRendezVousLookup(false)

	if got := counterValue(t, c.RendezVousCacheHits); got != 2 {
		t.Errorf("RendezVousCacheHits = %v, want 2", got)
	}
	if got := counterValue(t, c.RendezVousCacheMisses); got != 1 {
		t.Errorf("RendezVousCacheMisses = %v, want 1", got)
	}
}

// -------------------------------------------------------------------------
// Helpers
// -------------------------------------------------------------------------

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func counterVecValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	counter, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v): %v", labels, err)
	}
	m := &dto.Metric{}
	if err := counter.Write(m); err != nil {
		t.Fatalf("Write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}
