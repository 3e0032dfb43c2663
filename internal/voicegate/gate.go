// Package voicegate implements the voice attention gate that maps
// conversation-FSM state to an audio-listening mode and filters
// incoming audio events accordingly. The wakeword override uses a
// lazily-checked deadline rather than a background timer, so a Gate
// costs no goroutine.
package voicegate

import (
	"log/slog"
	"sync"
	"time"

	"github.com/miclaldogan/bantz-sub008/internal/fsm"
)

// Mode is a voice-listening mode.
type Mode string

const (
	ModeFullListen  Mode = "full_listen"
	ModeWakeOnly    Mode = "wake_only"
	ModeCommandOnly Mode = "command_only"
	ModeMuted       Mode = "muted"
)

// stateModeMap is the static FSM-state → attention-mode table.
var stateModeMap = map[fsm.State]Mode{
	fsm.StateIdle:       ModeFullListen,
	fsm.StateListening:  ModeFullListen,
	fsm.StatePlanning:   ModeWakeOnly,
	fsm.StateExecuting:  ModeCommandOnly,
	fsm.StateResponding: ModeMuted,
	fsm.StateConfirming: ModeFullListen,
	fsm.StateError:      ModeFullListen,
	fsm.StateCancelled:  ModeFullListen,
}

// AudioEvent is an incoming audio event considered by ShouldProcess.
type AudioEvent struct {
	IsWakeword         bool
	IsInterruptKeyword bool
	IsSpeech           bool
	Text               string
	Timestamp          time.Time
}

// ModeTransition records a single mode change.
type ModeTransition struct {
	Old, New  Mode
	Reason    string
	Timestamp time.Time
}

// ModeCallback observes a mode transition (old, new, reason).
type ModeCallback func(old, new Mode, reason string)

// Gate is the FSM-driven voice attention gate. Safe for concurrent use.
type Gate struct {
	mu  sync.Mutex
	log *slog.Logger

	mode                  Mode
	preMuteMode           Mode
	wakewordOverrideUntil time.Time
	wakewordOverrideDur   time.Duration

	maxHistory  int
	transitions []ModeTransition
	callbacks   []ModeCallback
}

// Option configures a Gate at construction.
type Option func(*Gate)

// WithWakewordOverrideDuration overrides the default 10s window during
// which a wakeword heard in CommandOnly opens the gate to FullListen.
func WithWakewordOverrideDuration(d time.Duration) Option {
	return func(g *Gate) { g.wakewordOverrideDur = d }
}

// WithLogger attaches a logger for transition/callback-error reporting.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gate) { g.log = l }
}

// New creates a Gate starting in FullListen.
func New(opts ...Option) *Gate {
	g := &Gate{
		mode:                ModeFullListen,
		wakewordOverrideDur: 10 * time.Second,
		maxHistory:          500,
		log:                 slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Mode returns the current attention mode, first checking whether a
// wakeword override has expired and should revert to CommandOnly.
func (g *Gate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireWakewordOverride()
	return g.mode
}

// OnFSMStateChange maps newState through stateModeMap and updates the
// mode, clearing any active wakeword override.
func (g *Gate) OnFSMStateChange(oldState, newState fsm.State) {
	target, ok := stateModeMap[newState]
	if !ok {
		g.log.Warn("voicegate: unknown FSM state for attention mapping", "state", newState)
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode == target {
		return
	}
	old := g.mode
	g.mode = target
	g.wakewordOverrideUntil = time.Time{}
	g.record(old, target, "fsm:"+string(oldState)+"->"+string(newState))
}

// OnTTSStart mutes the gate, remembering the prior mode to restore later.
func (g *Gate) OnTTSStart() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode == ModeMuted {
		return
	}
	g.preMuteMode = g.mode
	old := g.mode
	g.mode = ModeMuted
	g.record(old, ModeMuted, "tts_start")
}

// OnTTSEnd restores the mode saved by the most recent OnTTSStart, or
// FullListen if none was saved.
func (g *Gate) OnTTSEnd() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.mode != ModeMuted {
		return
	}
	restore := g.preMuteMode
	if restore == "" {
		restore = ModeFullListen
	}
	g.preMuteMode = ""
	old := g.mode
	g.mode = restore
	g.record(old, restore, "tts_end")
}

// ShouldProcess decides whether ev should be forwarded:
//   - FullListen  → always true
//   - Muted       → always false
//   - WakeOnly    → only if ev.IsWakeword
//   - CommandOnly → wakeword or interrupt keyword; a wakeword also opens
//     the gate to FullListen for wakewordOverrideDuration.
func (g *Gate) ShouldProcess(ev AudioEvent) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expireWakewordOverride()

	switch g.mode {
	case ModeFullListen:
		return true
	case ModeMuted:
		return false
	case ModeWakeOnly:
		return ev.IsWakeword
	case ModeCommandOnly:
		if ev.IsWakeword {
			g.activateWakewordOverride()
			return true
		}
		return ev.IsInterruptKeyword
	default:
		return false
	}
}

// activateWakewordOverride must be called with g.mu held.
func (g *Gate) activateWakewordOverride() {
	if g.mode != ModeCommandOnly {
		return
	}
	old := g.mode
	g.mode = ModeFullListen
	g.wakewordOverrideUntil = time.Now().Add(g.wakewordOverrideDur)
	g.record(old, ModeFullListen, "wakeword_override")
}

// expireWakewordOverride must be called with g.mu held.
func (g *Gate) expireWakewordOverride() {
	if g.wakewordOverrideUntil.IsZero() || time.Now().Before(g.wakewordOverrideUntil) {
		return
	}
	old := g.mode
	g.mode = ModeCommandOnly
	g.wakewordOverrideUntil = time.Time{}
	g.record(old, ModeCommandOnly, "wakeword_override_expired")
}

// record appends a transition and notifies callbacks. Caller must hold g.mu.
func (g *Gate) record(old, new Mode, reason string) {
	g.transitions = append(g.transitions, ModeTransition{Old: old, New: new, Reason: reason, Timestamp: time.Now()})
	if len(g.transitions) > g.maxHistory {
		g.transitions = g.transitions[len(g.transitions)-g.maxHistory:]
	}
	g.log.Info("voicegate: mode change", "old", old, "new", new, "reason", reason)

	for _, cb := range g.callbacks {
		g.safeInvoke(cb, old, new, reason)
	}
}

func (g *Gate) safeInvoke(cb ModeCallback, old, new Mode, reason string) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("voicegate: callback panicked", "panic", r)
		}
	}()
	cb(old, new, reason)
}

// OnModeChange registers a callback for mode transitions.
func (g *Gate) OnModeChange(cb ModeCallback) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, cb)
}

// Transitions returns a defensive copy of the bounded transition history.
func (g *Gate) Transitions() []ModeTransition {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]ModeTransition, len(g.transitions))
	copy(out, g.transitions)
	return out
}
