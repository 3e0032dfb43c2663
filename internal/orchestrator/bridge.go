package orchestrator

import (
	"log/slog"

	"github.com/miclaldogan/bantz-sub008/internal/eventbus"
	"github.com/miclaldogan/bantz-sub008/internal/fsm"
)

// Bridge drives the conversation FSM from orchestrator phase boundaries
// and publishes fsm.state_changed to the event bus on every change.
// A Bridge constructed with a nil *fsm.FSM is a deliberate no-op: every
// method becomes a harmless pass-through, so callers that run without a
// conversation FSM (e.g. text-only batch replay) don't need to branch.
type Bridge struct {
	machine *fsm.FSM
	bus     *eventbus.Bus
	log     *slog.Logger
}

// NewBridge creates a Bridge. machine and bus may both be nil.
func NewBridge(machine *fsm.FSM, bus *eventbus.Bus, log *slog.Logger) *Bridge {
	if log == nil {
		log = slog.Default()
	}
	return &Bridge{machine: machine, bus: bus, log: log}
}

// State returns the underlying FSM's current state, or StateIdle if no
// FSM is attached.
func (b *Bridge) State() fsm.State {
	if b.machine == nil {
		return fsm.StateIdle
	}
	return b.machine.State()
}

// apply transitions the FSM on event and publishes fsm.state_changed if
// the state actually changed. No-ops entirely when machine is nil.
func (b *Bridge) apply(event fsm.Event, trigger string, turnNumber int, metadata map[string]any) fsm.State {
	if b.machine == nil {
		return fsm.StateIdle
	}
	old := b.machine.State()
	next := b.machine.Transition(event, metadata)
	if next == old {
		return next
	}
	b.publish(old, next, trigger, turnNumber, metadata)
	return next
}

func (b *Bridge) publish(old, new fsm.State, trigger string, turnNumber int, metadata map[string]any) {
	if b.bus == nil {
		return
	}
	b.bus.Publish("fsm.state_changed", map[string]any{
		"old_state":   old,
		"new_state":   new,
		"trigger":     trigger,
		"turn_number": turnNumber,
		"metadata":    metadata,
	}, "orchestrator")
}

// OnTurnStart drives Phase 0's state entry. If the FSM is already
// RESPONDING (mid-reply) or EXECUTING, this turn start is a barge-in:
// the FSM is reset to IDLE first so the normal IDLE->LISTENING->
// PLANNING walk applies, and the published trigger is "barge_in"
// instead of "turn_start".
func (b *Bridge) OnTurnStart(turnNumber int) fsm.State {
	if b.machine == nil {
		return fsm.StateIdle
	}
	current := b.machine.State()
	trigger := "turn_start"
	if current == fsm.StateResponding || current == fsm.StateExecuting || current == fsm.StateConfirming {
		trigger = "barge_in"
		old := current
		b.machine.Reset()
		b.publish(old, fsm.StateIdle, trigger, turnNumber, nil)
	}
	b.apply(fsm.EventUserInput, trigger, turnNumber, nil)
	return b.apply(fsm.EventInputComplete, trigger, turnNumber, nil)
}

// OnPlanReady drives PLANNING->EXECUTING.
func (b *Bridge) OnPlanReady(turnNumber int) fsm.State {
	return b.apply(fsm.EventPlanReady, "plan_ready", turnNumber, nil)
}

// OnNoTools drives PLANNING->RESPONDING, for plans with no tool steps.
func (b *Bridge) OnNoTools(turnNumber int) fsm.State {
	return b.apply(fsm.EventNoTools, "no_tools", turnNumber, nil)
}

// OnConfirmationRequired drives EXECUTING->CONFIRMING.
func (b *Bridge) OnConfirmationRequired(turnNumber int, metadata map[string]any) fsm.State {
	return b.apply(fsm.EventConfirmationRequired, "confirmation_required", turnNumber, metadata)
}

// OnUserConfirmed drives CONFIRMING->EXECUTING.
func (b *Bridge) OnUserConfirmed(turnNumber int) fsm.State {
	return b.apply(fsm.EventUserConfirmed, "user_confirmed", turnNumber, nil)
}

// OnUserDenied drives CONFIRMING->CANCELLED.
func (b *Bridge) OnUserDenied(turnNumber int) fsm.State {
	return b.apply(fsm.EventUserDenied, "user_denied", turnNumber, nil)
}

// OnToolsComplete drives EXECUTING->RESPONDING.
func (b *Bridge) OnToolsComplete(turnNumber int) fsm.State {
	return b.apply(fsm.EventToolsComplete, "tools_complete", turnNumber, nil)
}

// OnResponseDelivered drives RESPONDING->IDLE, closing out Phase 6.
func (b *Bridge) OnResponseDelivered(turnNumber int) fsm.State {
	return b.apply(fsm.EventResponseDelivered, "response_delivered", turnNumber, nil)
}

// OnError drives any-state->ERROR.
func (b *Bridge) OnError(turnNumber int, metadata map[string]any) fsm.State {
	return b.apply(fsm.EventError, "error", turnNumber, metadata)
}

// OnErrorHandled drives ERROR->IDLE, letting the caller reset after an
// error turn.
func (b *Bridge) OnErrorHandled(turnNumber int) fsm.State {
	return b.apply(fsm.EventErrorHandled, "error_handled", turnNumber, nil)
}

// OnUserCancel drives any-state->CANCELLED.
func (b *Bridge) OnUserCancel(turnNumber int) fsm.State {
	return b.apply(fsm.EventUserCancel, "user_cancel", turnNumber, nil)
}

// OnReset drives CANCELLED->IDLE.
func (b *Bridge) OnReset(turnNumber int) fsm.State {
	return b.apply(fsm.EventReset, "reset", turnNumber, nil)
}
