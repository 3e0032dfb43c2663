package fsm

import (
	"testing"
	"time"
)

func TestHappyPathTransitions(t *testing.T) {
	f := New()
	steps := []struct {
		event Event
		want  State
	}{
		{EventUserInput, StateListening},
		{EventInputComplete, StatePlanning},
		{EventPlanReady, StateExecuting},
		{EventToolsComplete, StateResponding},
		{EventResponseDelivered, StateIdle},
	}
	for _, s := range steps {
		got := f.Transition(s.event, nil)
		if got != s.want {
			t.Fatalf("event %s: expected %s, got %s", s.event, s.want, got)
		}
	}
}

func TestInvalidTransitionIgnored(t *testing.T) {
	f := New()
	got := f.Transition(EventToolsComplete, nil) // IDLE has no TOOLS_COMPLETE transition
	if got != StateIdle {
		t.Fatalf("expected state unchanged at IDLE, got %s", got)
	}
}

func TestAnyStateToErrorAndCancel(t *testing.T) {
	f := New()
	f.Transition(EventUserInput, nil)
	f.Transition(EventInputComplete, nil)
	if got := f.Transition(EventError, nil); got != StateError {
		t.Fatalf("expected ERROR from PLANNING, got %s", got)
	}

	f2 := New()
	f2.Transition(EventUserInput, nil)
	if got := f2.Transition(EventUserCancel, nil); got != StateCancelled {
		t.Fatalf("expected CANCELLED from LISTENING, got %s", got)
	}
}

func TestConfirmationFlow(t *testing.T) {
	f := New()
	f.Transition(EventUserInput, nil)
	f.Transition(EventInputComplete, nil)
	f.Transition(EventPlanReady, nil)
	if got := f.Transition(EventConfirmationRequired, nil); got != StateConfirming {
		t.Fatalf("expected CONFIRMING, got %s", got)
	}
	if got := f.Transition(EventUserDenied, nil); got != StateCancelled {
		t.Fatalf("expected CANCELLED on deny, got %s", got)
	}
}

func TestExecutingTimeoutAutoTransitionsToError(t *testing.T) {
	f := New(WithExecutingTimeout(10 * time.Millisecond))
	f.Transition(EventUserInput, nil)
	f.Transition(EventInputComplete, nil)
	f.Transition(EventPlanReady, nil)

	time.Sleep(20 * time.Millisecond)

	if got := f.State(); got != StateError {
		t.Fatalf("expected auto-transition to ERROR after timeout, got %s", got)
	}
}

func TestResetClearsHistoryAndState(t *testing.T) {
	f := New()
	f.Transition(EventUserInput, nil)
	f.Transition(EventInputComplete, nil)
	f.Reset()

	if f.State() != StateIdle {
		t.Fatalf("expected IDLE after reset, got %s", f.State())
	}
	if len(f.History()) != 0 {
		t.Fatal("expected empty history after reset")
	}

	// A fresh FSM applying the same single transition should match.
	fresh := New()
	got := f.Transition(EventUserInput, nil)
	wantFresh := fresh.Transition(EventUserInput, nil)
	if got != wantFresh {
		t.Fatalf("reset FSM + transition must equal fresh FSM + same transition: %s vs %s", got, wantFresh)
	}
}

func TestCallbackPanicIsolated(t *testing.T) {
	f := New()
	enteredSecond := false
	f.OnEnter(StateListening, func(from, to State, event Event) { panic("boom") })
	f.OnEnter(StateListening, func(from, to State, event Event) { enteredSecond = true })

	f.Transition(EventUserInput, nil)

	if !enteredSecond {
		t.Fatal("a panicking on-enter callback must not block subsequent callbacks")
	}
}

func TestAllowedEvents(t *testing.T) {
	f := New()
	events := f.AllowedEvents()
	found := false
	for _, e := range events {
		if e == EventUserInput {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected USER_INPUT to be allowed from IDLE, got %v", events)
	}
}
