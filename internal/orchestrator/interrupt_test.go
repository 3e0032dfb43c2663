package orchestrator

import (
	"testing"
	"time"
)

func TestDetectKeywordStop(t *testing.T) {
	if sig, ok := DetectKeyword("lütfen dur"); !ok || sig != SignalStop {
		t.Fatalf("expected STOP, got %v ok=%v", sig, ok)
	}
}

func TestDetectKeywordCancel(t *testing.T) {
	if sig, ok := DetectKeyword("bu işlemi iptal et"); !ok || sig != SignalCancel {
		t.Fatalf("expected CANCEL, got %v ok=%v", sig, ok)
	}
}

func TestDetectKeywordPause(t *testing.T) {
	if sig, ok := DetectKeyword("biraz bekle"); !ok || sig != SignalPause {
		t.Fatalf("expected PAUSE, got %v ok=%v", sig, ok)
	}
}

func TestDetectKeywordResumePrefersExactPhraseOverSubstring(t *testing.T) {
	if sig, ok := DetectKeyword("devam ettirelim biraz"); ok {
		t.Fatalf("expected no match for bare 'devam' substring, got %v", sig)
	}
	if sig, ok := DetectKeyword("devam et lütfen"); !ok || sig != SignalResume {
		t.Fatalf("expected RESUME for exact phrase, got %v ok=%v", sig, ok)
	}
}

func TestDetectKeywordWholeTokenOnly(t *testing.T) {
	if sig, ok := DetectKeyword("duraklat"); !ok || sig != SignalPause {
		t.Fatalf("expected PAUSE for duraklat, got %v ok=%v", sig, ok)
	}
	if sig, ok := DetectKeyword("durum raporu ver"); ok {
		t.Fatalf("expected no match for 'durum', got %v", sig)
	}
}

func TestDetectKeywordNoMatch(t *testing.T) {
	if _, ok := DetectKeyword("hava nasıl bugün"); ok {
		t.Fatal("expected no keyword match")
	}
}

func TestSignalAndGetPendingConsumesOnce(t *testing.T) {
	c := NewInterruptController()
	c.Signal(SignalStop, "voice", nil)
	if !c.IsInterrupted() {
		t.Fatal("expected IsInterrupted true before consuming")
	}
	sig, ok := c.GetPending()
	if !ok || sig.Type != SignalStop {
		t.Fatalf("expected STOP signal, got %+v ok=%v", sig, ok)
	}
	if c.IsInterrupted() {
		t.Fatal("expected IsInterrupted false after consuming")
	}
	if _, ok := c.GetPending(); ok {
		t.Fatal("expected second GetPending to be empty")
	}
}

func TestPauseResumeLastWriterWins(t *testing.T) {
	c := NewInterruptController()
	c.Signal(SignalPause, "voice", nil)
	if !c.IsPaused() {
		t.Fatal("expected paused after PAUSE")
	}
	c.Signal(SignalResume, "voice", nil)
	if c.IsPaused() {
		t.Fatal("expected not paused after RESUME")
	}
}

func TestHandleCtrlCFirstPressCancelsSecondStops(t *testing.T) {
	c := NewInterruptController(WithCtrlCWindow(100 * time.Millisecond))
	if got := c.HandleCtrlC(); got != SignalCancel {
		t.Fatalf("expected first press CANCEL, got %v", got)
	}
	if got := c.HandleCtrlC(); got != SignalStop {
		t.Fatalf("expected second press within window STOP, got %v", got)
	}
}

func TestHandleCtrlCExpiredWindowResets(t *testing.T) {
	c := NewInterruptController(WithCtrlCWindow(10 * time.Millisecond))
	if got := c.HandleCtrlC(); got != SignalCancel {
		t.Fatalf("expected first press CANCEL, got %v", got)
	}
	time.Sleep(20 * time.Millisecond)
	if got := c.HandleCtrlC(); got != SignalCancel {
		t.Fatalf("expected expired window to reset to CANCEL, got %v", got)
	}
}

func TestRegisterHandlerDispatchesInPriorityOrder(t *testing.T) {
	c := NewInterruptController()
	var order []int
	c.RegisterHandler(2, func(Signal) { order = append(order, 2) })
	c.RegisterHandler(1, func(Signal) { order = append(order, 1) })
	c.Signal(SignalStop, "test", nil)
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("expected priority order [1 2], got %v", order)
	}
}

func TestRegisterHandlerPanicIsolated(t *testing.T) {
	c := NewInterruptController()
	var secondRan bool
	c.RegisterHandler(1, func(Signal) { panic("boom") })
	c.RegisterHandler(2, func(Signal) { secondRan = true })
	c.Signal(SignalCancel, "test", nil)
	if !secondRan {
		t.Fatal("expected second handler to run despite first panicking")
	}
}
