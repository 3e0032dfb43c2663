// Package fsm implements the conversation finite-state machine that
// drives a turn through IDLE → LISTENING → PLANNING → EXECUTING →
// (CONFIRMING) → RESPONDING → IDLE, with ERROR/CANCELLED reachable from
// any non-terminal state.
package fsm

import (
	"log/slog"
	"sync"
	"time"
)

// State is a conversation lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StatePlanning   State = "planning"
	StateExecuting  State = "executing"
	StateConfirming State = "confirming"
	StateResponding State = "responding"
	StateError      State = "error"
	StateCancelled  State = "cancelled"
)

// Event is a trigger that may cause a state transition.
type Event string

const (
	EventUserInput            Event = "user_input"
	EventInputComplete        Event = "input_complete"
	EventPlanReady            Event = "plan_ready"
	EventNoTools              Event = "no_tools"
	EventConfirmationRequired Event = "confirmation_required"
	EventToolsComplete        Event = "tools_complete"
	EventUserConfirmed        Event = "user_confirmed"
	EventUserDenied           Event = "user_denied"
	EventResponseDelivered    Event = "response_delivered"
	EventError                Event = "error"
	EventUserCancel           Event = "user_cancel"
	EventErrorHandled         Event = "error_handled"
	EventReset                Event = "reset"
)

type transitionKey struct {
	from  State
	event Event
}

// transitions is the static, total transition table for every legal
// (state, event) pair. Illegal pairs keep the current state.
var transitions = buildTransitions()

func buildTransitions() map[transitionKey]State {
	t := map[transitionKey]State{
		{StateIdle, EventUserInput}:                 StateListening,
		{StateListening, EventInputComplete}:        StatePlanning,
		{StatePlanning, EventPlanReady}:             StateExecuting,
		{StatePlanning, EventNoTools}:               StateResponding,
		{StateExecuting, EventConfirmationRequired}: StateConfirming,
		{StateExecuting, EventToolsComplete}:        StateResponding,
		{StateConfirming, EventUserConfirmed}:       StateExecuting,
		{StateConfirming, EventUserDenied}:          StateCancelled,
		{StateResponding, EventResponseDelivered}:   StateIdle,
		{StateError, EventErrorHandled}:             StateIdle,
		{StateCancelled, EventReset}:                StateIdle,
	}

	allStates := []State{
		StateIdle, StateListening, StatePlanning, StateExecuting,
		StateConfirming, StateResponding, StateError, StateCancelled,
	}
	for _, s := range allStates {
		if s == StateError || s == StateCancelled {
			continue
		}
		t[transitionKey{s, EventError}] = StateError
		t[transitionKey{s, EventUserCancel}] = StateCancelled
	}
	return t
}

// Transition is a recorded state change.
type Transition struct {
	From      State
	To        State
	Event     Event
	Timestamp time.Time
	Metadata  map[string]any
}

// Callback observes a transition (from, to, event).
type Callback func(from, to State, event Event)

// FSM is the conversation state machine. Safe for concurrent use.
type FSM struct {
	mu  sync.Mutex
	log *slog.Logger

	state            State
	executingTimeout time.Duration
	executingEntered time.Time
	history          []Transition

	onEnter map[State][]Callback
	onExit  map[State][]Callback
}

// Option configures an FSM at construction.
type Option func(*FSM)

// WithExecutingTimeout overrides the default 60s EXECUTING wall-clock
// timeout after which the FSM auto-transitions to ERROR.
func WithExecutingTimeout(d time.Duration) Option {
	return func(f *FSM) { f.executingTimeout = d }
}

// WithLogger attaches a logger for transition/invalid-transition logging.
func WithLogger(l *slog.Logger) Option {
	return func(f *FSM) { f.log = l }
}

// New creates an FSM starting in IDLE.
func New(opts ...Option) *FSM {
	f := &FSM{
		state:            StateIdle,
		executingTimeout: 60 * time.Second,
		onEnter:          make(map[State][]Callback),
		onExit:           make(map[State][]Callback),
		log:              slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// State returns the current state. Reading it has a side effect: if
// currently EXECUTING and the wall-clock timeout has elapsed, it
// auto-transitions to ERROR with reason "executing_timeout" first.
func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkExecutingTimeout()
	return f.state
}

// checkExecutingTimeout must be called with f.mu held.
func (f *FSM) checkExecutingTimeout() {
	if f.state != StateExecuting || f.executingEntered.IsZero() {
		return
	}
	if time.Since(f.executingEntered) <= f.executingTimeout {
		return
	}
	f.log.Warn("fsm: EXECUTING timeout, auto-transitioning to ERROR", "timeout", f.executingTimeout)
	prev := f.state
	f.state = StateError
	f.executingEntered = time.Time{}
	f.history = append(f.history, Transition{
		From: prev, To: StateError, Event: EventError, Timestamp: time.Now(),
		Metadata: map[string]any{"reason": "executing_timeout"},
	})
}

// Transition attempts to fire event from the current state. If the
// (state, event) pair is not in the legal table, the transition is
// logged and ignored: the current state is returned unchanged and no
// error is raised.
func (f *FSM) Transition(event Event, metadata map[string]any) State {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.checkExecutingTimeout()

	next, ok := transitions[transitionKey{f.state, event}]
	if !ok {
		f.log.Warn("fsm: invalid transition ignored", "from", f.state, "event", event)
		return f.state
	}

	prev := f.state
	for _, cb := range f.onExit[prev] {
		f.safeInvoke(cb, prev, next, event)
	}

	f.state = next
	if next == StateExecuting {
		f.executingEntered = time.Now()
	} else {
		f.executingEntered = time.Time{}
	}

	f.history = append(f.history, Transition{From: prev, To: next, Event: event, Timestamp: time.Now(), Metadata: metadata})
	f.log.Info("fsm: transition", "from", prev, "to", next, "event", event)

	for _, cb := range f.onEnter[next] {
		f.safeInvoke(cb, prev, next, event)
	}

	return next
}

// safeInvoke runs cb, isolating any panic so one bad callback cannot
// abort the transition or take down the process.
func (f *FSM) safeInvoke(cb Callback, from, to State, event Event) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("fsm: callback panicked", "panic", r)
		}
	}()
	cb(from, to, event)
}

// CanTransition reports whether event is valid from the current state.
func (f *FSM) CanTransition(event Event) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkExecutingTimeout()
	_, ok := transitions[transitionKey{f.state, event}]
	return ok
}

// AllowedEvents returns every event valid from the current state.
func (f *FSM) AllowedEvents() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkExecutingTimeout()

	var out []Event
	for k := range transitions {
		if k.from == f.state {
			out = append(out, k.event)
		}
	}
	return out
}

// Reset forces the FSM back to IDLE and clears transition history.
func (f *FSM) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = StateIdle
	f.executingEntered = time.Time{}
	f.history = nil
}

// History returns a defensive copy of the full transition history.
func (f *FSM) History() []Transition {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Transition, len(f.history))
	copy(out, f.history)
	return out
}

// OnEnter registers a callback fired whenever the FSM enters state.
func (f *FSM) OnEnter(state State, cb Callback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onEnter[state] = append(f.onEnter[state], cb)
}

// OnExit registers a callback fired whenever the FSM exits state.
func (f *FSM) OnExit(state State, cb Callback) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onExit[state] = append(f.onExit[state], cb)
}

// AllStates lists every state the machine can occupy, for callers that
// register the same callback on each of them.
func AllStates() []State {
	return []State{
		StateIdle, StateListening, StatePlanning, StateExecuting,
		StateConfirming, StateResponding, StateError, StateCancelled,
	}
}
