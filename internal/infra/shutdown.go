// Package infra holds the process-lifecycle plumbing the runtime
// shares: a phased shutdown coordinator that drains registered
// components in a fixed order at teardown. Signal handling lives with
// the caller (the serve command routes SIGINT through the interrupt
// controller); this package only runs the teardown itself.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ShutdownPhase orders teardown. Services drain first so nothing keeps
// producing work, connections close second, cleanup flushes last.
type ShutdownPhase int

const (
	PhaseServices ShutdownPhase = iota
	PhaseConnections
	PhaseCleanup
)

// shutdownOrder is the fixed phase sequence Shutdown walks.
var shutdownOrder = []ShutdownPhase{PhaseServices, PhaseConnections, PhaseCleanup}

func (p ShutdownPhase) String() string {
	switch p {
	case PhaseServices:
		return "services"
	case PhaseConnections:
		return "connections"
	case PhaseCleanup:
		return "cleanup"
	default:
		return fmt.Sprintf("phase-%d", p)
	}
}

// ShutdownFunc tears one component down. The context it receives is
// cancelled if the handler overruns its timeout.
type ShutdownFunc func(ctx context.Context) error

// handler is one registered teardown step.
type handler struct {
	name  string
	phase ShutdownPhase
	fn    ShutdownFunc
}

// ShutdownResult reports one handler's teardown outcome.
type ShutdownResult struct {
	Name     string
	Phase    ShutdownPhase
	Duration time.Duration
	Error    error
}

// ShutdownCoordinator drains registered handlers phase by phase on
// Shutdown. Handlers within one phase run concurrently; phases run in
// shutdownOrder. Shutdown only ever runs once per coordinator.
type ShutdownCoordinator struct {
	mu       sync.Mutex
	handlers []handler
	timeout  time.Duration
	log      *slog.Logger
	once     sync.Once
}

// NewShutdownCoordinator creates a coordinator whose handlers each get
// at most perHandlerTimeout to finish.
func NewShutdownCoordinator(perHandlerTimeout time.Duration, log *slog.Logger) *ShutdownCoordinator {
	if perHandlerTimeout <= 0 {
		perHandlerTimeout = 30 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &ShutdownCoordinator{timeout: perHandlerTimeout, log: log}
}

// RegisterFunc adds a teardown step to phase. An out-of-range phase is
// coerced to PhaseCleanup so a registration mistake still runs.
func (c *ShutdownCoordinator) RegisterFunc(name string, phase ShutdownPhase, fn ShutdownFunc) {
	if phase < PhaseServices || phase > PhaseCleanup {
		phase = PhaseCleanup
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handler{name: name, phase: phase, fn: fn})
}

// RegisterService adds a teardown step to the services phase.
func (c *ShutdownCoordinator) RegisterService(name string, fn ShutdownFunc) {
	c.RegisterFunc(name, PhaseServices, fn)
}

// RegisterConnection adds a teardown step to the connections phase.
func (c *ShutdownCoordinator) RegisterConnection(name string, fn ShutdownFunc) {
	c.RegisterFunc(name, PhaseConnections, fn)
}

// Shutdown drains every registered handler, phase by phase, and returns
// one result per handler run. If ctx expires mid-teardown, remaining
// phases are skipped. Calls after the first return nil without running
// anything.
func (c *ShutdownCoordinator) Shutdown(ctx context.Context) []ShutdownResult {
	var results []ShutdownResult
	c.once.Do(func() {
		c.mu.Lock()
		handlers := append([]handler(nil), c.handlers...)
		c.mu.Unlock()

		start := time.Now()
		for _, phase := range shutdownOrder {
			if ctx.Err() != nil {
				c.log.Warn("infra: shutdown context expired, skipping remaining phases", "next_phase", phase.String())
				break
			}
			results = append(results, c.drainPhase(ctx, phase, handlers)...)
		}
		c.log.Info("infra: shutdown complete", "duration", time.Since(start), "handlers", len(results))
	})
	return results
}

// drainPhase runs every handler registered for phase concurrently and
// collects their results.
func (c *ShutdownCoordinator) drainPhase(ctx context.Context, phase ShutdownPhase, handlers []handler) []ShutdownResult {
	resCh := make(chan ShutdownResult, len(handlers))
	var wg sync.WaitGroup
	for _, h := range handlers {
		if h.phase != phase {
			continue
		}
		wg.Add(1)
		go func(h handler) {
			defer wg.Done()
			resCh <- c.runHandler(ctx, h)
		}(h)
	}
	wg.Wait()
	close(resCh)

	out := make([]ShutdownResult, 0, len(handlers))
	for r := range resCh {
		out = append(out, r)
	}
	return out
}

// runHandler runs one handler under the per-handler timeout. A handler
// that overruns is abandoned to its goroutine; its result records the
// deadline error.
func (c *ShutdownCoordinator) runHandler(ctx context.Context, h handler) ShutdownResult {
	hctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	errCh := make(chan error, 1)
	go func() { errCh <- h.fn(hctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-hctx.Done():
		err = hctx.Err()
	}

	if err != nil {
		c.log.Warn("infra: shutdown handler failed", "handler", h.name, "phase", h.phase.String(), "error", err)
	} else {
		c.log.Debug("infra: shutdown handler done", "handler", h.name, "duration", time.Since(start))
	}

	return ShutdownResult{Name: h.name, Phase: h.phase, Duration: time.Since(start), Error: err}
}
