// Package toolexec implements the tool timeout manager: per-tool
// timeout enforcement plus a per-tool circuit breaker that disables a
// tool after consecutive failures and probes it again once a recovery
// window elapses. A single success in the half-open state closes the
// breaker immediately; there is no success-threshold counter.
package toolexec

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultTimeout = 10 * time.Second

// toolTimeouts is the built-in per-tool timeout table; WithToolTimeouts
// overlays configured overrides per Manager instance.
var toolTimeouts = map[string]time.Duration{
	"calendar.list_events":     10 * time.Second,
	"calendar.create_event":    15 * time.Second,
	"calendar.update_event":    15 * time.Second,
	"calendar.delete_event":    10 * time.Second,
	"calendar.find_free_slots": 12 * time.Second,
	"gmail.list_messages":      10 * time.Second,
	"gmail.get_message":        8 * time.Second,
	"gmail.send":               15 * time.Second,
	"gmail.smart_search":       12 * time.Second,
	"gmail.archive":            8 * time.Second,
	"gmail.generate_reply":     20 * time.Second,
	"time.now":                 2 * time.Second,
	"system.status":            5 * time.Second,
	"system.open_app":          10 * time.Second,
	"system.shutdown":          5 * time.Second,
	"browser.open":             10 * time.Second,
	"browser.search":           15 * time.Second,
}

// CircuitState is a per-tool circuit breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// circuitBreaker is a single tool's breaker. Not safe for concurrent use
// on its own; callers hold Manager.mu.
type circuitBreaker struct {
	failureThreshold    int
	recoveryTimeout     time.Duration
	consecutiveFailures int
	state               CircuitState
	lastFailure         time.Time
}

func newCircuitBreaker(failureThreshold int, recoveryTimeout time.Duration) *circuitBreaker {
	return &circuitBreaker{failureThreshold: failureThreshold, recoveryTimeout: recoveryTimeout, state: CircuitClosed}
}

// State returns the breaker's state, auto-transitioning Open→HalfOpen
// once the recovery timeout has elapsed since the last failure.
func (b *circuitBreaker) State() CircuitState {
	if b.state == CircuitOpen && time.Since(b.lastFailure) >= b.recoveryTimeout {
		b.state = CircuitHalfOpen
	}
	return b.state
}

func (b *circuitBreaker) IsAvailable() bool {
	s := b.State()
	return s == CircuitClosed || s == CircuitHalfOpen
}

// RecordSuccess closes the breaker immediately; a single success in
// HalfOpen (or Closed) resets the failure count, with no threshold
// counter.
func (b *circuitBreaker) RecordSuccess() {
	b.consecutiveFailures = 0
	b.state = CircuitClosed
}

func (b *circuitBreaker) RecordFailure(log *slog.Logger) {
	b.consecutiveFailures++
	b.lastFailure = time.Now()
	if b.consecutiveFailures >= b.failureThreshold {
		b.state = CircuitOpen
		log.Warn("toolexec: circuit breaker opened", "consecutive_failures", b.consecutiveFailures, "recovery_timeout", b.recoveryTimeout)
	}
}

func (b *circuitBreaker) Reset() {
	b.consecutiveFailures = 0
	b.state = CircuitClosed
	b.lastFailure = time.Time{}
}

// Result is the outcome of a timeout/circuit-guarded tool execution.
type Result struct {
	Tool        string
	Success     bool
	Value       any
	Error       string
	ElapsedMs   float64
	TimedOut    bool
	CircuitOpen bool
}

// Task is the work a tool performs; it must respect ctx cancellation
// for the timeout to actually interrupt it.
type Task func(ctx context.Context) (any, error)

// BreakerStatus is a snapshot of one tool's breaker for Dashboard().
type BreakerStatus struct {
	State               CircuitState
	ConsecutiveFailures int
	Available           bool
}

// Manager guards tool execution with per-tool timeouts and circuit
// breakers. Safe for concurrent use.
type Manager struct {
	mu               sync.Mutex
	log              *slog.Logger
	defaultTimeout   time.Duration
	failureThreshold int
	recoveryTimeout  time.Duration
	timeoutOverrides map[string]time.Duration
	breakers         map[string]*circuitBreaker
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithDefaultTimeout overrides the default per-tool timeout (10s).
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) { m.defaultTimeout = d }
}

// WithFailureThreshold overrides consecutive failures before opening (3).
func WithFailureThreshold(n int) Option {
	return func(m *Manager) { m.failureThreshold = n }
}

// WithRecoveryTimeout overrides the Open→HalfOpen wait (60s).
func WithRecoveryTimeout(d time.Duration) Option {
	return func(m *Manager) { m.recoveryTimeout = d }
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithToolTimeouts overlays per-tool timeout overrides on the built-in
// table for this Manager only.
func WithToolTimeouts(overrides map[string]time.Duration) Option {
	return func(m *Manager) {
		if m.timeoutOverrides == nil {
			m.timeoutOverrides = make(map[string]time.Duration, len(overrides))
		}
		for tool, d := range overrides {
			m.timeoutOverrides[tool] = d
		}
	}
}

// New creates a Manager with the default timeout table.
func New(opts ...Option) *Manager {
	m := &Manager{
		defaultTimeout:   defaultTimeout,
		failureThreshold: 3,
		recoveryTimeout:  60 * time.Second,
		breakers:         make(map[string]*circuitBreaker),
		log:              slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) breaker(tool string) *circuitBreaker {
	b, ok := m.breakers[tool]
	if !ok {
		b = newCircuitBreaker(m.failureThreshold, m.recoveryTimeout)
		m.breakers[tool] = b
	}
	return b
}

// GetTimeout returns the configured timeout for tool: an override if
// one was set, then the built-in table, then the manager's default.
func (m *Manager) GetTimeout(tool string) time.Duration {
	if d, ok := m.timeoutOverrides[tool]; ok {
		return d
	}
	if d, ok := toolTimeouts[tool]; ok {
		return d
	}
	return m.defaultTimeout
}

// IsAvailable reports whether tool's circuit is not open.
func (m *Manager) IsAvailable(tool string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breaker(tool).IsAvailable()
}

// CircuitState returns tool's current breaker state.
func (m *Manager) CircuitState(tool string) CircuitState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breaker(tool).State()
}

// Execute runs task under tool's timeout and circuit breaker. A zero
// override uses the configured per-tool timeout.
func (m *Manager) Execute(ctx context.Context, tool string, task Task, override time.Duration) Result {
	m.mu.Lock()
	b := m.breaker(tool)
	if !b.IsAvailable() {
		m.mu.Unlock()
		return Result{
			Tool:        tool,
			Success:     false,
			Error:       fmt.Sprintf("Tool '%s' temporarily disabled (circuit breaker open)", tool),
			CircuitOpen: true,
		}
	}
	m.mu.Unlock()

	timeout := override
	if timeout <= 0 {
		timeout = m.GetTimeout(tool)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	type outcome struct {
		val any
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := task(runCtx)
		done <- outcome{v, err}
	}()

	select {
	case out := <-done:
		elapsed := time.Since(start).Seconds() * 1000
		m.mu.Lock()
		defer m.mu.Unlock()
		if out.err != nil {
			b.RecordFailure(m.log)
			return Result{Tool: tool, Success: false, Error: out.err.Error(), ElapsedMs: elapsed}
		}
		b.RecordSuccess()
		return Result{Tool: tool, Success: true, Value: out.val, ElapsedMs: elapsed}

	case <-runCtx.Done():
		elapsed := time.Since(start).Seconds() * 1000
		m.mu.Lock()
		defer m.mu.Unlock()
		b.RecordFailure(m.log)
		m.log.Warn("toolexec: tool timed out", "tool", tool, "elapsed_ms", elapsed, "limit", timeout)
		return Result{
			Tool:      tool,
			Success:   false,
			Error:     fmt.Sprintf("İşlem zaman aşımına uğradı (%s, %.0fs)", tool, timeout.Seconds()),
			ElapsedMs: elapsed,
			TimedOut:  true,
		}
	}
}

// ResetBreaker force-resets a single tool's breaker to Closed.
func (m *Manager) ResetBreaker(tool string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.breakers[tool]; ok {
		b.Reset()
	}
}

// ResetAll force-resets every tracked breaker.
func (m *Manager) ResetAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.breakers {
		b.Reset()
	}
}

// Dashboard exports the status of every tracked tool's breaker.
func (m *Manager) Dashboard() map[string]BreakerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]BreakerStatus, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = BreakerStatus{
			State:               b.State(),
			ConsecutiveFailures: b.consecutiveFailures,
			Available:           b.IsAvailable(),
		}
	}
	return out
}
