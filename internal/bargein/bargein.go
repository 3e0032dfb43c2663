// Package bargein implements the barge-in handler that stops TTS and
// cancels the active turn when the user interrupts mid-response, and
// tracks the acknowledgment/resume-command flow that follows.
package bargein

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/miclaldogan/bantz-sub008/internal/eventbus"
	"github.com/miclaldogan/bantz-sub008/internal/turn"
)

// Acknowledgment is the phrase spoken after an interrupt is accepted.
const Acknowledgment = "Efendim"

// resumeCommands lists the phrases accepted as a resume request.
var resumeCommands = map[string]bool{
	"devam et": true,
	"devam":    true,
	"continue": true,
	"resume":   true,
}

// TTSController stops in-flight speech playback. Best-effort: errors
// are swallowed.
type TTSController interface {
	Stop()
}

// Event describes an incoming barge-in trigger (wakeword or loud speech
// detected while a turn is in progress).
type Event struct {
	Volume     float64
	DurationMs int64
	Reason     string
}

// Result reports what the handler did for a given interrupt.
type Result struct {
	Accepted        bool
	CancelledTurnID string
}

// Handler tracks the active turn and reacts to barge-in events by
// cancelling it. Safe for concurrent use.
type Handler struct {
	mu  sync.Mutex
	log *slog.Logger
	bus *eventbus.Bus
	tts TTSController

	volumeThreshold float64
	active          *turn.Context
	cancelledCount  int

	onInterrupt []func(turnID string)
	onResume    []func(turnID string)
}

// Option configures a Handler at construction.
type Option func(*Handler)

// WithVolumeThreshold sets the minimum volume that triggers a barge-in.
func WithVolumeThreshold(v float64) Option {
	return func(h *Handler) { h.volumeThreshold = v }
}

// WithTTSController attaches the controller stopped on interrupt.
func WithTTSController(tts TTSController) Option {
	return func(h *Handler) { h.tts = tts }
}

// WithEventBus attaches a bus to publish interrupt/resume events on.
func WithEventBus(bus *eventbus.Bus) Option {
	return func(h *Handler) { h.bus = bus }
}

// WithLogger attaches a logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.log = l }
}

// New creates a Handler with a default volume threshold of 0.3.
func New(opts ...Option) *Handler {
	h := &Handler{volumeThreshold: 0.3, log: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// StartTurn registers t as the active turn, cancelling any turn it
// replaces so stale tool results can be discarded by turn-ID mismatch.
func (h *Handler) StartTurn(t *turn.Context) {
	h.mu.Lock()
	prev := h.active
	h.active = t
	h.mu.Unlock()

	if prev != nil && !prev.IsCancelled() {
		prev.Token.Cancel()
	}
}

// FinishTurn clears the active turn if it still matches turnID.
func (h *Handler) FinishTurn(turnID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active != nil && h.active.TurnID == turnID {
		h.active = nil
	}
}

// IsTurnValid reports whether turnID is still the active, uncancelled turn.
func (h *Handler) IsTurnValid(turnID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active != nil && h.active.TurnID == turnID && !h.active.IsCancelled()
}

// Handle reacts to ev: if ev.Volume is at or above the configured
// threshold and a turn is active, it stops TTS, cancels the turn, emits
// an interrupt.triggered event, and reports acceptance.
func (h *Handler) Handle(ev Event) Result {
	h.mu.Lock()
	t := h.active
	h.mu.Unlock()

	if t == nil || ev.Volume < h.volumeThreshold {
		return Result{Accepted: false}
	}

	h.stopTTS()
	t.Token.Cancel()

	h.mu.Lock()
	h.cancelledCount++
	callbacks := append([]func(string){}, h.onInterrupt...)
	h.mu.Unlock()

	h.publish("interrupt.triggered", map[string]any{
		"turn_id":        t.TurnID,
		"acknowledgment": Acknowledgment,
		"reason":         ev.Reason,
	})

	for _, cb := range callbacks {
		h.safeInvoke(cb, t.TurnID)
	}

	return Result{Accepted: true, CancelledTurnID: t.TurnID}
}

func (h *Handler) stopTTS() {
	if h.tts == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Warn("bargein: TTS stop panicked, ignoring", "panic", r)
		}
	}()
	h.tts.Stop()
}

// IsResumeCommand reports whether command (case/whitespace-insensitive)
// is one of the recognized resume phrases.
func IsResumeCommand(command string) bool {
	return resumeCommands[strings.ToLower(strings.TrimSpace(command))]
}

// NotifyResume publishes an interrupt.resumed event and fires resume callbacks.
func (h *Handler) NotifyResume(turnID string) {
	h.mu.Lock()
	callbacks := append([]func(string){}, h.onResume...)
	h.mu.Unlock()

	h.publish("interrupt.resumed", map[string]any{"turn_id": turnID})
	for _, cb := range callbacks {
		h.safeInvoke(cb, turnID)
	}
}

func (h *Handler) publish(eventType string, data map[string]any) {
	if h.bus == nil {
		return
	}
	h.bus.Publish(eventType, data, "bargein")
}

func (h *Handler) safeInvoke(cb func(string), turnID string) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("bargein: callback panicked", "panic", r)
		}
	}()
	cb(turnID)
}

// OnInterrupt registers a callback fired whenever an interrupt is accepted.
func (h *Handler) OnInterrupt(cb func(turnID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onInterrupt = append(h.onInterrupt, cb)
}

// OnResume registers a callback fired whenever a resume is notified.
func (h *Handler) OnResume(cb func(turnID string)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onResume = append(h.onResume, cb)
}

// CancelledCount returns the number of turns cancelled by barge-in so far.
func (h *Handler) CancelledCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelledCount
}
