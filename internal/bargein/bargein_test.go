package bargein

import (
	"testing"

	"github.com/miclaldogan/bantz-sub008/internal/eventbus"
	"github.com/miclaldogan/bantz-sub008/internal/turn"
)

type fakeTTS struct{ stopped int }

func (f *fakeTTS) Stop() { f.stopped++ }

func TestHandleBelowThresholdIgnored(t *testing.T) {
	h := New(WithVolumeThreshold(0.6))
	tc := turn.New()
	h.StartTurn(tc)

	res := h.Handle(Event{Volume: 0.2})
	if res.Accepted {
		t.Fatal("expected quiet event to be ignored")
	}
	if tc.IsCancelled() {
		t.Fatal("turn must not be cancelled below threshold")
	}
}

func TestHandleAboveThresholdCancelsTurnAndStopsTTS(t *testing.T) {
	tts := &fakeTTS{}
	h := New(WithVolumeThreshold(0.5), WithTTSController(tts))
	tc := turn.New()
	h.StartTurn(tc)

	res := h.Handle(Event{Volume: 0.9})
	if !res.Accepted {
		t.Fatal("expected loud event to be accepted")
	}
	if !tc.IsCancelled() {
		t.Fatal("expected turn cancelled")
	}
	if tts.stopped != 1 {
		t.Fatalf("expected TTS stopped once, got %d", tts.stopped)
	}
	if h.CancelledCount() != 1 {
		t.Fatalf("expected cancelled count 1, got %d", h.CancelledCount())
	}
}

func TestStartTurnCancelsPreviousTurn(t *testing.T) {
	h := New()
	first := turn.New()
	h.StartTurn(first)

	second := turn.New()
	h.StartTurn(second)

	if !first.IsCancelled() {
		t.Fatal("expected replaced turn to be cancelled")
	}
	if second.IsCancelled() {
		t.Fatal("expected new active turn to remain uncancelled")
	}
	if !h.IsTurnValid(second.TurnID) {
		t.Fatal("expected second turn to be the valid active turn")
	}
	if h.IsTurnValid(first.TurnID) {
		t.Fatal("expected first turn to no longer be valid")
	}
}

func TestIsResumeCommand(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"devam et", true},
		{" Devam ", true},
		{"CONTINUE", true},
		{"resume", true},
		{"stop", false},
		{"", false},
	}
	for _, c := range cases {
		if got := IsResumeCommand(c.in); got != c.want {
			t.Fatalf("IsResumeCommand(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestHandlePublishesInterruptEvent(t *testing.T) {
	bus := eventbus.New()
	var received eventbus.Event
	bus.Subscribe("interrupt.triggered", func(ev eventbus.Event) { received = ev })

	h := New(WithEventBus(bus), WithVolumeThreshold(0.1))
	tc := turn.New()
	h.StartTurn(tc)
	h.Handle(Event{Volume: 1.0, Reason: "wakeword"})

	if received.Type != "interrupt.triggered" {
		t.Fatalf("expected interrupt.triggered event published, got %+v", received)
	}
}

func TestOnInterruptCallbackPanicIsolated(t *testing.T) {
	h := New(WithVolumeThreshold(0.1))
	fired := false
	h.OnInterrupt(func(turnID string) { panic("boom") })
	h.OnInterrupt(func(turnID string) { fired = true })

	tc := turn.New()
	h.StartTurn(tc)
	h.Handle(Event{Volume: 1.0})

	if !fired {
		t.Fatal("a panicking callback must not block subsequent callbacks")
	}
}

func TestFinishTurnClearsActiveOnlyIfMatching(t *testing.T) {
	h := New()
	tc := turn.New()
	h.StartTurn(tc)

	h.FinishTurn("not-the-turn-id")
	if !h.IsTurnValid(tc.TurnID) {
		t.Fatal("expected mismatched FinishTurn to leave active turn untouched")
	}

	h.FinishTurn(tc.TurnID)
	if h.IsTurnValid(tc.TurnID) {
		t.Fatal("expected matching FinishTurn to clear active turn")
	}
}
