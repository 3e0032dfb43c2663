package toolexec

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecuteSuccessRecordsAndReturnsValue(t *testing.T) {
	m := New()
	res := m.Execute(context.Background(), "time.now", func(ctx context.Context) (any, error) {
		return "12:00", nil
	}, 0)
	if !res.Success || res.Value != "12:00" {
		t.Fatalf("expected success with value, got %+v", res)
	}
}

func TestExecuteTimeout(t *testing.T) {
	m := New(WithDefaultTimeout(10 * time.Millisecond))
	res := m.Execute(context.Background(), "slow.tool", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, 0)
	if !res.TimedOut || res.Success {
		t.Fatalf("expected timeout result, got %+v", res)
	}
	if res.Error == "" {
		t.Fatal("expected Turkish timeout message")
	}
}

func TestExecuteErrorRecordsFailure(t *testing.T) {
	m := New()
	res := m.Execute(context.Background(), "failing.tool", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}, 0)
	if res.Success || res.Error != "boom" {
		t.Fatalf("expected failure with error message, got %+v", res)
	}
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	m := New(WithFailureThreshold(2), WithDefaultTimeout(50*time.Millisecond))
	failing := func(ctx context.Context) (any, error) { return nil, errors.New("fail") }

	m.Execute(context.Background(), "flaky.tool", failing, 0)
	m.Execute(context.Background(), "flaky.tool", failing, 0)

	if m.CircuitState("flaky.tool") != CircuitOpen {
		t.Fatalf("expected circuit open after threshold failures, got %s", m.CircuitState("flaky.tool"))
	}

	res := m.Execute(context.Background(), "flaky.tool", func(ctx context.Context) (any, error) { return "ok", nil }, 0)
	if !res.CircuitOpen {
		t.Fatal("expected execution to be rejected while circuit open")
	}
}

func TestCircuitHalfOpenSingleSuccessCloses(t *testing.T) {
	m := New(WithFailureThreshold(1), WithRecoveryTimeout(10*time.Millisecond))
	failing := func(ctx context.Context) (any, error) { return nil, errors.New("fail") }
	m.Execute(context.Background(), "flaky.tool", failing, 0)

	if m.CircuitState("flaky.tool") != CircuitOpen {
		t.Fatalf("expected open after single failure with threshold 1, got %s", m.CircuitState("flaky.tool"))
	}

	time.Sleep(20 * time.Millisecond)
	if m.CircuitState("flaky.tool") != CircuitHalfOpen {
		t.Fatalf("expected half-open after recovery timeout, got %s", m.CircuitState("flaky.tool"))
	}

	res := m.Execute(context.Background(), "flaky.tool", func(ctx context.Context) (any, error) { return "ok", nil }, 0)
	if !res.Success {
		t.Fatalf("expected probe success, got %+v", res)
	}
	if m.CircuitState("flaky.tool") != CircuitClosed {
		t.Fatalf("expected single success to close circuit immediately, got %s", m.CircuitState("flaky.tool"))
	}
}

func TestResetBreakerAndResetAll(t *testing.T) {
	m := New(WithFailureThreshold(1))
	failing := func(ctx context.Context) (any, error) { return nil, errors.New("fail") }
	m.Execute(context.Background(), "a.tool", failing, 0)
	m.Execute(context.Background(), "b.tool", failing, 0)

	m.ResetBreaker("a.tool")
	if m.CircuitState("a.tool") != CircuitClosed {
		t.Fatal("expected a.tool reset to closed")
	}
	if m.CircuitState("b.tool") != CircuitOpen {
		t.Fatal("expected b.tool to remain open")
	}

	m.ResetAll()
	if m.CircuitState("b.tool") != CircuitClosed {
		t.Fatal("expected ResetAll to close b.tool too")
	}
}

func TestGetTimeoutPerToolOverridesDefault(t *testing.T) {
	m := New()
	if got := m.GetTimeout("time.now"); got != 2*time.Second {
		t.Fatalf("expected per-tool timeout for time.now, got %s", got)
	}
	if got := m.GetTimeout("unknown.tool"); got != defaultTimeout {
		t.Fatalf("expected default timeout for unknown tool, got %s", got)
	}
}

func TestWithToolTimeoutsOverlaysBuiltinTable(t *testing.T) {
	m := New(WithToolTimeouts(map[string]time.Duration{
		"time.now":    9 * time.Second,
		"custom.tool": 3 * time.Second,
	}))
	if got := m.GetTimeout("time.now"); got != 9*time.Second {
		t.Fatalf("expected override to win over the built-in table, got %s", got)
	}
	if got := m.GetTimeout("custom.tool"); got != 3*time.Second {
		t.Fatalf("expected override for a tool outside the table, got %s", got)
	}
	if got := m.GetTimeout("gmail.send"); got != 15*time.Second {
		t.Fatalf("expected untouched built-in entry, got %s", got)
	}
}

func TestDashboardReportsTrackedTools(t *testing.T) {
	m := New()
	m.Execute(context.Background(), "time.now", func(ctx context.Context) (any, error) { return nil, nil }, 0)

	dash := m.Dashboard()
	status, ok := dash["time.now"]
	if !ok {
		t.Fatal("expected time.now in dashboard")
	}
	if status.State != CircuitClosed || !status.Available {
		t.Fatalf("expected closed+available after success, got %+v", status)
	}
}
