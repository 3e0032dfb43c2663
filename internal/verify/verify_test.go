package verify

import (
	"errors"
	"strings"
	"testing"
)

func TestValidEmptyToolPassesWithoutRetry(t *testing.T) {
	results := []ToolResult{{Tool: "calendar.list_events", Success: true, Result: []any{}}}
	res := VerifyToolResults(results, DefaultConfig(), nil, nil)
	if !res.Verified || res.ToolsOK != 1 || res.ToolsRetry != 0 {
		t.Fatalf("expected valid-empty tool to pass, got %+v", res)
	}
}

func TestSafetyRejectedNeverRetried(t *testing.T) {
	calls := 0
	retryFn := func(tool string, original ToolResult) (ToolResult, error) {
		calls++
		return ToolResult{Tool: tool, Success: true}, nil
	}
	results := []ToolResult{{Tool: "system.execute_command", SafetyRejected: true}}
	res := VerifyToolResults(results, DefaultConfig(), retryFn, nil)
	if res.Verified || res.ToolsFail != 1 {
		t.Fatalf("expected safety-rejected to count as failure, got %+v", res)
	}
	if calls != 0 {
		t.Fatal("expected retryFn never called for safety-rejected result")
	}
}

func TestRetryableErrorRetriesAndSucceeds(t *testing.T) {
	retryFn := func(tool string, original ToolResult) (ToolResult, error) {
		return ToolResult{Tool: tool, Success: true, Result: []any{"event"}}, nil
	}
	results := []ToolResult{{Tool: "calendar.list_events", Success: false, Error: "transient"}}
	res := VerifyToolResults(results, DefaultConfig(), retryFn, nil)
	if !res.Verified || res.ToolsRetry != 1 || res.ToolsOK != 1 {
		t.Fatalf("expected retry success, got %+v", res)
	}
	if !res.VerifiedResults[0].Retried {
		t.Fatal("expected retried flag set on verified result")
	}
}

func TestRetryableErrorRetriesAndStillFails(t *testing.T) {
	retryFn := func(tool string, original ToolResult) (ToolResult, error) {
		return ToolResult{Tool: tool, Success: false, Error: "still broken"}, nil
	}
	results := []ToolResult{{Tool: "gmail.list_messages", Success: false, Error: "transient"}}
	res := VerifyToolResults(results, DefaultConfig(), retryFn, nil)
	if res.Verified || res.ToolsFail != 1 {
		t.Fatalf("expected failure after failed retry, got %+v", res)
	}
	if res.VerifiedResults[0].Error != "transient" {
		t.Fatal("expected original result kept when retry still fails")
	}
}

func TestNonRetryableToolFailsWithoutCallingRetryFn(t *testing.T) {
	calls := 0
	retryFn := func(tool string, original ToolResult) (ToolResult, error) {
		calls++
		return ToolResult{Tool: tool, Success: true}, nil
	}
	results := []ToolResult{{Tool: "system.shutdown", Success: false, Error: "boom"}}
	res := VerifyToolResults(results, DefaultConfig(), retryFn, nil)
	if res.Verified || res.ToolsFail != 1 {
		t.Fatalf("expected non-retryable tool to fail, got %+v", res)
	}
	if calls != 0 {
		t.Fatal("expected retryFn not invoked for non-whitelisted tool")
	}
}

func TestRetryFnErrorCountsAsFailure(t *testing.T) {
	retryFn := func(tool string, original ToolResult) (ToolResult, error) {
		return ToolResult{}, errors.New("retry transport error")
	}
	results := []ToolResult{{Tool: "time.now", Success: false, Error: "x"}}
	res := VerifyToolResults(results, DefaultConfig(), retryFn, nil)
	if res.Verified || res.ToolsFail != 1 {
		t.Fatalf("expected retryFn error to count as failure, got %+v", res)
	}
}

func TestSuccessfulNonEmptyResultPassesThrough(t *testing.T) {
	results := []ToolResult{{Tool: "time.now", Success: true, Result: "12:00"}}
	res := VerifyToolResults(results, DefaultConfig(), nil, nil)
	if !res.Verified || res.ToolsOK != 1 {
		t.Fatalf("expected clean success to pass through, got %+v", res)
	}
}

func TestTraceLineFormat(t *testing.T) {
	results := []ToolResult{{Tool: "time.now", Success: true, Result: "x"}}
	res := VerifyToolResults(results, DefaultConfig(), nil, nil)
	line := res.TraceLine()
	if !strings.HasPrefix(line, "[verify] verified=true tools_ok=1 tools_retry=0 tools_fail=0 elapsed=") {
		t.Fatalf("unexpected trace line: %q", line)
	}
}
