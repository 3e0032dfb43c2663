package voicegate

import (
	"testing"
	"time"

	"github.com/miclaldogan/bantz-sub008/internal/fsm"
)

func TestStateModeMapping(t *testing.T) {
	g := New()
	cases := []struct {
		state fsm.State
		mode  Mode
	}{
		{fsm.StateIdle, ModeFullListen},
		{fsm.StateListening, ModeFullListen},
		{fsm.StatePlanning, ModeWakeOnly},
		{fsm.StateExecuting, ModeCommandOnly},
		{fsm.StateResponding, ModeMuted},
		{fsm.StateConfirming, ModeFullListen},
	}
	for _, c := range cases {
		g.OnFSMStateChange(fsm.StateIdle, c.state)
		if got := g.Mode(); got != c.mode {
			t.Fatalf("state %s: expected mode %s, got %s", c.state, c.mode, got)
		}
	}
}

func TestShouldProcessWakeOnly(t *testing.T) {
	g := New()
	g.OnFSMStateChange(fsm.StateIdle, fsm.StatePlanning)

	if g.ShouldProcess(AudioEvent{IsSpeech: true}) {
		t.Fatal("expected non-wakeword speech to be dropped in WakeOnly")
	}
	if !g.ShouldProcess(AudioEvent{IsWakeword: true}) {
		t.Fatal("expected wakeword to be accepted in WakeOnly")
	}
}

func TestShouldProcessMuted(t *testing.T) {
	g := New()
	g.OnFSMStateChange(fsm.StateIdle, fsm.StateResponding)
	if g.ShouldProcess(AudioEvent{IsWakeword: true}) {
		t.Fatal("expected everything dropped while muted")
	}
}

func TestCommandOnlyWakewordOverride(t *testing.T) {
	g := New(WithWakewordOverrideDuration(20 * time.Millisecond))
	g.OnFSMStateChange(fsm.StateIdle, fsm.StateExecuting)

	if !g.ShouldProcess(AudioEvent{IsInterruptKeyword: true}) {
		t.Fatal("expected interrupt keyword accepted in CommandOnly")
	}
	if g.ShouldProcess(AudioEvent{IsSpeech: true}) {
		t.Fatal("expected plain speech dropped in CommandOnly")
	}

	if !g.ShouldProcess(AudioEvent{IsWakeword: true}) {
		t.Fatal("expected wakeword accepted in CommandOnly")
	}
	if g.Mode() != ModeFullListen {
		t.Fatalf("expected wakeword to open FullListen override, got %s", g.Mode())
	}

	time.Sleep(30 * time.Millisecond)
	if g.Mode() != ModeCommandOnly {
		t.Fatalf("expected override to lazily expire back to CommandOnly, got %s", g.Mode())
	}
}

func TestTTSMuteRestoresPriorMode(t *testing.T) {
	g := New()
	g.OnFSMStateChange(fsm.StateIdle, fsm.StatePlanning)

	g.OnTTSStart()
	if g.Mode() != ModeMuted {
		t.Fatalf("expected Muted during TTS, got %s", g.Mode())
	}

	g.OnTTSEnd()
	if g.Mode() != ModeWakeOnly {
		t.Fatalf("expected restore to WakeOnly after TTS, got %s", g.Mode())
	}
}

func TestFSMStateChangeClearsOverride(t *testing.T) {
	g := New(WithWakewordOverrideDuration(time.Minute))
	g.OnFSMStateChange(fsm.StateIdle, fsm.StateExecuting)
	g.ShouldProcess(AudioEvent{IsWakeword: true})
	if g.Mode() != ModeFullListen {
		t.Fatal("expected override active")
	}

	g.OnFSMStateChange(fsm.StateExecuting, fsm.StateResponding)
	if g.Mode() != ModeMuted {
		t.Fatalf("expected FSM transition to clear override and apply new mapping, got %s", g.Mode())
	}
}

func TestModeChangeCallbackPanicIsolated(t *testing.T) {
	g := New()
	secondFired := false
	g.OnModeChange(func(old, new Mode, reason string) { panic("boom") })
	g.OnModeChange(func(old, new Mode, reason string) { secondFired = true })

	g.OnFSMStateChange(fsm.StateIdle, fsm.StatePlanning)

	if !secondFired {
		t.Fatal("a panicking callback must not block subsequent callbacks")
	}
}

func TestTransitionHistoryBounded(t *testing.T) {
	g := New()
	states := []fsm.State{fsm.StatePlanning, fsm.StateExecuting, fsm.StateResponding, fsm.StateIdle}
	for i := 0; i < 300; i++ {
		g.OnFSMStateChange(fsm.StateIdle, states[i%len(states)])
	}
	hist := g.Transitions()
	if len(hist) > 500 {
		t.Fatalf("expected bounded history, got %d entries", len(hist))
	}
}
