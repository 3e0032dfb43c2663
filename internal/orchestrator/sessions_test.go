package orchestrator

import (
	"testing"
	"time"
)

func TestSessionManagerGetCreatesLazily(t *testing.T) {
	m := NewSessionManager()
	if m.Len() != 0 {
		t.Fatalf("expected empty manager, got %d sessions", m.Len())
	}
	a := m.Get("s1")
	if a == nil {
		t.Fatal("expected a State for a new session")
	}
	if m.Get("s1") != a {
		t.Fatal("expected the same State on repeated Get")
	}
	if m.Len() != 1 {
		t.Fatalf("expected one tracked session, got %d", m.Len())
	}
}

func TestSessionManagerDelete(t *testing.T) {
	m := NewSessionManager()
	a := m.Get("s1")
	m.Delete("s1")
	if m.Len() != 0 {
		t.Fatalf("expected no sessions after delete, got %d", m.Len())
	}
	if m.Get("s1") == a {
		t.Fatal("expected a fresh State after delete")
	}
}

func TestSessionManagerExpirePendingConfirmationsSweepsAllSessions(t *testing.T) {
	m := NewSessionManager()
	now := time.Now()

	s1 := m.Get("s1")
	s1.AddPendingConfirmation(PendingConfirmation{
		Tool:              "calendar.create_event",
		ConfirmationToken: "t1",
		ExpiresAt:         now.Add(-time.Minute),
	})
	s1.AddPendingConfirmation(PendingConfirmation{
		Tool:              "gmail.send",
		ConfirmationToken: "t2",
		ExpiresAt:         now.Add(time.Minute),
	})

	s2 := m.Get("s2")
	s2.AddPendingConfirmation(PendingConfirmation{
		Tool:              "system.execute_command",
		ConfirmationToken: "t3",
		ExpiresAt:         now.Add(-time.Second),
	})

	if got := m.ExpirePendingConfirmations(now); got != 2 {
		t.Fatalf("expected 2 expired across sessions, got %d", got)
	}
	if got := len(s1.PendingConfirmations()); got != 1 {
		t.Fatalf("expected one live confirmation left in s1, got %d", got)
	}
	if got := len(s2.PendingConfirmations()); got != 0 {
		t.Fatalf("expected s2 swept clean, got %d", got)
	}
}
