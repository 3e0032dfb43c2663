// Package turn provides the per-turn cancellation token and tool-result
// container that every phase of the orchestrator loop shares.
//
// A Turn is the atomic unit of orchestration: one call to
// orchestrator.ProcessTurn. Its CancellationToken is monotonic: once
// cancelled it never resets. A fresh token is minted per turn so that
// a cancelled turn can never contaminate the one that follows it.
package turn

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CancellationToken is a cooperative cancellation latch. Tools, LLM calls,
// and loop iterations poll IsCancelled() at well-defined points rather than
// relying on exceptions or context.Context cancellation propagation.
type CancellationToken struct {
	mu        sync.Mutex
	cancelled bool
	done      chan struct{}
}

// NewCancellationToken returns a fresh, uncancelled token.
func NewCancellationToken() *CancellationToken {
	return &CancellationToken{done: make(chan struct{})}
}

// Cancel trips the latch. Safe to call repeatedly and from any goroutine.
func (t *CancellationToken) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelled {
		return
	}
	t.cancelled = true
	close(t.done)
}

// IsCancelled reports whether Cancel has been called.
func (t *CancellationToken) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Wait blocks until the token is cancelled or timeout elapses, returning
// true iff it was cancelled before the deadline.
func (t *CancellationToken) Wait(timeout time.Duration) bool {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return t.IsCancelled()
	}
}

// Result is the outcome of a single tool execution, tagged with the turn
// that produced it. Every field beyond Tool/Success is optional and is
// left zero-valued when it doesn't apply, matching the compact-envelope
// convention the audit and metrics records use.
type Result struct {
	Tool           string
	Success        bool
	Value          any
	Error          string
	ElapsedMs      int64
	TimedOut       bool
	CircuitOpen    bool
	SafetyRejected bool
	Retried        bool
	TurnID         string
	StepIndex      int
}

// Context is the per-turn mutable state: the turn's identity, its
// cancellation token, and the tool results accumulated so far. A Context
// is owned by exactly one turn and released when that turn ends.
type Context struct {
	TurnID    string
	StartedAt time.Time
	Token     *CancellationToken

	mu      sync.Mutex
	results []Result
}

// New creates a Context for a freshly-started turn with a monotonically
// unique turn ID and a brand new cancellation token.
func New() *Context {
	return &Context{
		TurnID:    uuid.NewString(),
		StartedAt: time.Now(),
		Token:     NewCancellationToken(),
	}
}

// AddToolResult clones r, stamps it with this turn's ID, and appends it.
// Results from a cancelled turn are still appended here; it is the
// caller's responsibility (per the turn-isolation invariant) to discard
// them by checking turnID before feeding them to later phases.
func (c *Context) AddToolResult(r Result) Result {
	r.TurnID = c.TurnID
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
	return r
}

// ToolResults returns a defensive copy so callers cannot mutate the
// turn's internal result slice.
func (c *Context) ToolResults() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Result, len(c.results))
	copy(out, c.results)
	return out
}

// IsCancelled is a convenience forward to the turn's token.
func (c *Context) IsCancelled() bool {
	return c.Token.IsCancelled()
}
