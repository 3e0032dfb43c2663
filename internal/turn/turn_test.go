package turn

import (
	"testing"
	"time"
)

func TestCancellationTokenMonotonic(t *testing.T) {
	tok := NewCancellationToken()
	if tok.IsCancelled() {
		t.Fatal("new token must not be cancelled")
	}
	tok.Cancel()
	tok.Cancel() // repeated cancel must not panic
	if !tok.IsCancelled() {
		t.Fatal("token must be cancelled after Cancel()")
	}
}

func TestCancellationTokenWaitTimesOut(t *testing.T) {
	tok := NewCancellationToken()
	if tok.Wait(20 * time.Millisecond) {
		t.Fatal("Wait must return false on timeout when never cancelled")
	}
}

func TestCancellationTokenWaitWakesOnCancel(t *testing.T) {
	tok := NewCancellationToken()
	go func() {
		time.Sleep(10 * time.Millisecond)
		tok.Cancel()
	}()
	if !tok.Wait(time.Second) {
		t.Fatal("Wait must return true once cancelled")
	}
}

func TestContextAddToolResultStampsTurnID(t *testing.T) {
	c := New()
	r := c.AddToolResult(Result{Tool: "calendar.list_events", Success: true})
	if r.TurnID != c.TurnID {
		t.Fatalf("expected stamped turn ID %s, got %s", c.TurnID, r.TurnID)
	}

	results := c.ToolResults()
	if len(results) != 1 || results[0].TurnID != c.TurnID {
		t.Fatalf("expected one result tagged with turn ID, got %+v", results)
	}

	// Mutating the returned slice must not affect the context's internal state.
	results[0].Tool = "mutated"
	if c.ToolResults()[0].Tool != "calendar.list_events" {
		t.Fatal("ToolResults() must return a defensive copy")
	}
}

func TestNewTurnsGetDistinctIDs(t *testing.T) {
	a, b := New(), New()
	if a.TurnID == b.TurnID {
		t.Fatal("turn IDs must be unique per turn")
	}
	if a.Token == b.Token {
		t.Fatal("each turn must get its own cancellation token")
	}
}
