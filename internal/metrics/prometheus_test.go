package metrics

import "testing"

func TestPrometheusBridgeObserveAndGather(t *testing.T) {
	b := NewPrometheusBridge()
	b.Observe("tool_latency_ms", "ms", 12.5, map[string]string{"tool": "time.now"})
	b.Observe("tool_latency_ms", "ms", 40, map[string]string{"tool": "time.now"})

	families, err := b.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 1 {
		t.Fatalf("expected one metric family, got %d", len(families))
	}
	mf := families[0]
	if mf.GetName() != "bantz_orchestrator_tool_latency_ms" {
		t.Fatalf("unexpected metric name %q", mf.GetName())
	}
	if count := mf.GetMetric()[0].GetHistogram().GetSampleCount(); count != 2 {
		t.Fatalf("expected 2 samples, got %d", count)
	}
}

func TestPrometheusBridgeSinkMirrorsCollectorRecords(t *testing.T) {
	b := NewPrometheusBridge()
	c := New(Config{MaxRecords: 10})
	c.AddSink(b.Sink())
	c.Record("finalize_ms", 120, "ms", map[string]string{"tier": "fast"})

	families, err := b.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 1 {
		t.Fatal("expected the collector record mirrored into the bridge")
	}
}
