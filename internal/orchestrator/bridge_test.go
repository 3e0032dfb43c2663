package orchestrator

import (
	"testing"

	"github.com/miclaldogan/bantz-sub008/internal/eventbus"
	"github.com/miclaldogan/bantz-sub008/internal/fsm"
)

func TestBridgeNilMachineIsNoOp(t *testing.T) {
	b := NewBridge(nil, nil, nil)
	if got := b.OnTurnStart(1); got != fsm.StateIdle {
		t.Fatalf("expected StateIdle no-op, got %v", got)
	}
}

func TestBridgeOnTurnStartWalksToPlanning(t *testing.T) {
	machine := fsm.New()
	bus := eventbus.New()
	b := NewBridge(machine, bus, nil)
	got := b.OnTurnStart(1)
	if got != fsm.StatePlanning {
		t.Fatalf("expected StatePlanning, got %v", got)
	}
	history := bus.History()
	if len(history) == 0 {
		t.Fatal("expected fsm.state_changed events published")
	}
}

func TestBridgeOnTurnStartDuringRespondingIsBargeIn(t *testing.T) {
	machine := fsm.New()
	machine.Transition(fsm.EventUserInput, nil)
	machine.Transition(fsm.EventInputComplete, nil)
	machine.Transition(fsm.EventNoTools, nil)
	if machine.State() != fsm.StateResponding {
		t.Fatalf("setup: expected StateResponding, got %v", machine.State())
	}

	bus := eventbus.New()
	b := NewBridge(machine, bus, nil)
	got := b.OnTurnStart(2)
	if got != fsm.StatePlanning {
		t.Fatalf("expected barge-in to reach StatePlanning, got %v", got)
	}

	var sawBargeIn bool
	for _, ev := range bus.History() {
		data, ok := ev.Data.(map[string]any)
		if !ok {
			continue
		}
		if data["trigger"] == "barge_in" {
			sawBargeIn = true
		}
	}
	if !sawBargeIn {
		t.Fatal("expected a barge_in-triggered event in history")
	}
}

func TestBridgeFullHappyPathReachesIdle(t *testing.T) {
	machine := fsm.New()
	b := NewBridge(machine, nil, nil)
	b.OnTurnStart(1)
	b.OnPlanReady(1)
	b.OnToolsComplete(1)
	got := b.OnResponseDelivered(1)
	if got != fsm.StateIdle {
		t.Fatalf("expected StateIdle at end of turn, got %v", got)
	}
}

func TestBridgeConfirmationFlow(t *testing.T) {
	machine := fsm.New()
	b := NewBridge(machine, nil, nil)
	b.OnTurnStart(1)
	b.OnPlanReady(1)
	got := b.OnConfirmationRequired(1, map[string]any{"tool": "gmail.send"})
	if got != fsm.StateConfirming {
		t.Fatalf("expected StateConfirming, got %v", got)
	}
	got = b.OnUserConfirmed(1)
	if got != fsm.StateExecuting {
		t.Fatalf("expected back to StateExecuting, got %v", got)
	}
}
