// Package orchestrator implements the per-turn orchestration loop, its
// session-level state, the FSM bridge, and the interrupt controller,
// wiring together every other component in this module.
package orchestrator

import (
	"sync"
	"time"
)

// Default caps for every bounded session collection.
const (
	DefaultConversationHistoryCap  = 50
	DefaultPendingConfirmationsCap = 10
	DefaultTraceCap                = 20
	DefaultGmailListedMessagesCap  = 50
	DefaultCalendarListedEventsCap = 50
	DefaultReactObservationsCap    = 50
)

// ConversationTurn is one (user, assistant) exchange in session history.
type ConversationTurn struct {
	User       string
	Assistant  string
	TurnNumber int
	Timestamp  time.Time
}

// PendingConfirmation is a tool call awaiting a confirmation token.
type PendingConfirmation struct {
	Tool              string
	Args              map[string]any
	ConfirmationToken string
	ExpiresAt         time.Time
}

// Expired reports whether the pending confirmation's token has timed out.
func (p PendingConfirmation) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// State is the session-level memory carried across turns. All growth
// happens through its mutator methods, each of which enforces its own
// cap by oldest-first eviction.
type State struct {
	mu sync.Mutex

	conversationHistory []ConversationTurn
	convHistoryCap      int

	pendingConfirmations []PendingConfirmation
	pendingCap           int

	traceKeys []string
	trace     map[string]any
	traceCap  int

	gmailListedMessages []any
	gmailCap            int

	calendarListedEvents []any
	calendarCap          int

	reactObservations []any
	reactCap          int

	sessionContext map[string]any
	turnNumber     int
}

// New creates a State with the default caps.
func New() *State {
	return &State{
		convHistoryCap: DefaultConversationHistoryCap,
		pendingCap:     DefaultPendingConfirmationsCap,
		trace:          make(map[string]any),
		traceCap:       DefaultTraceCap,
		gmailCap:       DefaultGmailListedMessagesCap,
		calendarCap:    DefaultCalendarListedEventsCap,
		reactCap:       DefaultReactObservationsCap,
		sessionContext: make(map[string]any),
	}
}

// NextTurnNumber increments and returns the session's turn counter.
func (s *State) NextTurnNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turnNumber++
	return s.turnNumber
}

// TurnNumber returns the current turn counter without incrementing it.
func (s *State) TurnNumber() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turnNumber
}

// SessionContext returns a defensive copy of the session context map,
// consumed by the router's prompt builder.
func (s *State) SessionContext() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.sessionContext))
	for k, v := range s.sessionContext {
		out[k] = v
	}
	return out
}

// SetSessionContext replaces a single session-context key.
func (s *State) SetSessionContext(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionContext[key] = value
}

// RecentConversation returns the last n conversation turns, oldest
// first.
func (s *State) RecentConversation(n int) []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.conversationHistory) {
		n = len(s.conversationHistory)
	}
	start := len(s.conversationHistory) - n
	out := make([]ConversationTurn, n)
	copy(out, s.conversationHistory[start:])
	return out
}

// AddConversationTurn appends turn, evicting the oldest entry if the
// history is already at cap.
func (s *State) AddConversationTurn(turn ConversationTurn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationHistory = append(s.conversationHistory, turn)
	if len(s.conversationHistory) > s.convHistoryCap {
		s.conversationHistory = s.conversationHistory[len(s.conversationHistory)-s.convHistoryCap:]
	}
}

// AddPendingConfirmation pushes a pending confirmation, evicting the
// oldest when already at cap.
func (s *State) AddPendingConfirmation(p PendingConfirmation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingConfirmations = append(s.pendingConfirmations, p)
	if len(s.pendingConfirmations) > s.pendingCap {
		s.pendingConfirmations = s.pendingConfirmations[len(s.pendingConfirmations)-s.pendingCap:]
	}
}

// ConsumePendingConfirmation finds a pending confirmation matching
// token, removes it from the list, and returns it. The second return
// value is false if no matching, unexpired entry exists.
func (s *State) ConsumePendingConfirmation(token string) (PendingConfirmation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for i, p := range s.pendingConfirmations {
		if p.ConfirmationToken != token {
			continue
		}
		s.pendingConfirmations = append(s.pendingConfirmations[:i], s.pendingConfirmations[i+1:]...)
		if p.Expired(now) {
			return PendingConfirmation{}, false
		}
		return p, true
	}
	return PendingConfirmation{}, false
}

// ExpirePendingConfirmations removes every pending confirmation whose
// token has timed out, returning the count removed. Called periodically
// by a background sweep rather than relying solely on
// ConsumePendingConfirmation's lazy per-token expiry check, so a token
// the user never resumes doesn't linger until the cap evicts it.
func (s *State) ExpirePendingConfirmations(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.pendingConfirmations[:0]
	removed := 0
	for _, p := range s.pendingConfirmations {
		if p.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, p)
	}
	s.pendingConfirmations = kept
	return removed
}

// PendingConfirmations returns a defensive copy of the pending list.
func (s *State) PendingConfirmations() []PendingConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PendingConfirmation, len(s.pendingConfirmations))
	copy(out, s.pendingConfirmations)
	return out
}

// UpdateTrace sets trace[key] = value. A brand new key evicts the
// oldest existing key if the trace is already at cap; updating an
// existing key's value never evicts.
func (s *State) UpdateTrace(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.trace[key]; exists {
		s.trace[key] = value
		return
	}
	if len(s.traceKeys) >= s.traceCap {
		oldest := s.traceKeys[0]
		s.traceKeys = s.traceKeys[1:]
		delete(s.trace, oldest)
	}
	s.traceKeys = append(s.traceKeys, key)
	s.trace[key] = value
}

// Trace returns a defensive copy of the trace map.
func (s *State) Trace() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.trace))
	for k, v := range s.trace {
		out[k] = v
	}
	return out
}

// SetGmailListedMessages replaces the gmail listing atomically, then
// truncates to cap keeping the most recent tail.
func (s *State) SetGmailListedMessages(messages []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gmailListedMessages = truncateTail(messages, s.gmailCap)
}

// GmailListedMessages returns a defensive copy of the gmail listing.
func (s *State) GmailListedMessages() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.gmailListedMessages))
	copy(out, s.gmailListedMessages)
	return out
}

// SetCalendarListedEvents replaces the calendar listing atomically,
// then truncates to cap keeping the most recent tail.
func (s *State) SetCalendarListedEvents(events []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calendarListedEvents = truncateTail(events, s.calendarCap)
}

// CalendarListedEvents returns a defensive copy of the calendar listing.
func (s *State) CalendarListedEvents() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.calendarListedEvents))
	copy(out, s.calendarListedEvents)
	return out
}

// AddReactObservation appends an observation, evicting the oldest when
// already at cap.
func (s *State) AddReactObservation(obs any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactObservations = append(s.reactObservations, obs)
	if len(s.reactObservations) > s.reactCap {
		s.reactObservations = s.reactObservations[len(s.reactObservations)-s.reactCap:]
	}
}

// ReactObservations returns a defensive copy of the observation list.
func (s *State) ReactObservations() []any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]any, len(s.reactObservations))
	copy(out, s.reactObservations)
	return out
}

// truncateTail keeps at most maxLen elements from the end of in,
// copying into a fresh slice so the caller's backing array is never
// aliased.
func truncateTail(in []any, maxLen int) []any {
	start := 0
	if len(in) > maxLen {
		start = len(in) - maxLen
	}
	out := make([]any, len(in)-start)
	copy(out, in[start:])
	return out
}
