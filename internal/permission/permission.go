// Package permission implements the permission engine: an ordered
// glob-matched rule list with a first-match-wins decision, per-rule
// rate limiting, and JWT-signed confirmation tokens. A confirmation
// token binds the tool name and argument hash with its own expiry, so
// it cannot be replayed against a different pending entry.
package permission

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Decision is the outcome of evaluating a tool/action pair.
type Decision string

const (
	DecisionAllow   Decision = "allow"
	DecisionConfirm Decision = "confirm"
	DecisionDeny    Decision = "deny"
)

// Risk is a rule's declared risk tier, surfaced via GetRisk.
type Risk string

const (
	RiskLow      Risk = "low"
	RiskMedium   Risk = "medium"
	RiskHigh     Risk = "high"
	RiskCritical Risk = "critical"
)

// Rule is a single ordered entry in the permission rule list.
type Rule struct {
	Tool          string
	Action        string
	Decision      Decision
	Risk          Risk
	MaxPerSession int
	MaxPerDay     int
}

func (r Rule) matches(tool, action string) bool {
	return matchGlob(r.Tool, tool) && matchGlob(r.Action, action)
}

// matchGlob matches pattern against s using glob syntax: '*' matches
// any run of characters, '?' matches exactly one. "" or "*" matches
// anything, including time.* matching time.now and a bare "*" matching
// any action.
func matchGlob(pattern, s string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	return matchHelper(pattern, s)
}

func matchHelper(pattern, s string) bool {
	if pattern == "" {
		return s == ""
	}
	switch pattern[0] {
	case '*':
		if matchHelper(pattern[1:], s) {
			return true
		}
		for i := 0; i < len(s); i++ {
			if matchHelper(pattern[1:], s[i+1:]) {
				return true
			}
		}
		return false
	case '?':
		if s == "" {
			return false
		}
		return matchHelper(pattern[1:], s[1:])
	default:
		if s == "" || s[0] != pattern[0] {
			return false
		}
		return matchHelper(pattern[1:], s[1:])
	}
}

// counterKey identifies a per-session/per-day rate-limit bucket.
type counterKey struct {
	sessionID string
	rule      int
	day       string
}

// Engine evaluates tool/action pairs against an ordered rule list.
// Safe for concurrent use.
type Engine struct {
	mu            sync.Mutex
	rules         []Rule
	sessionCounts map[counterKey]int
	dayCounts     map[counterKey]int
	jwtSecret     []byte
	tokenTTL      time.Duration
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithJWTSecret sets the HMAC secret used to sign confirmation tokens.
func WithJWTSecret(secret []byte) Option {
	return func(e *Engine) { e.jwtSecret = secret }
}

// WithTokenTTL overrides the default 5-minute confirmation token expiry.
func WithTokenTTL(d time.Duration) Option {
	return func(e *Engine) { e.tokenTTL = d }
}

// New creates an Engine with rules, evaluated in order.
func New(rules []Rule, opts ...Option) *Engine {
	e := &Engine{
		rules:         rules,
		sessionCounts: make(map[counterKey]int),
		dayCounts:     make(map[counterKey]int),
		jwtSecret:     []byte("bantz-dev-secret"),
		tokenTTL:      5 * time.Minute,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate scans rules in order; the first match determines the base
// decision. A matching rule with MaxPerSession/MaxPerDay increments its
// counters and forces Deny once exceeded, overriding Allow/Confirm. A
// tool/action with no match at all returns Confirm (catch-all).
func (e *Engine) Evaluate(sessionID, tool, action string) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, rule := range e.rules {
		if !rule.matches(tool, action) {
			continue
		}

		decision := rule.Decision

		if rule.MaxPerSession > 0 {
			key := counterKey{sessionID: sessionID, rule: i}
			e.sessionCounts[key]++
			if e.sessionCounts[key] > rule.MaxPerSession {
				decision = DecisionDeny
			}
		}
		if rule.MaxPerDay > 0 {
			key := counterKey{sessionID: sessionID, rule: i, day: dayBucket()}
			e.dayCounts[key]++
			if e.dayCounts[key] > rule.MaxPerDay {
				decision = DecisionDeny
			}
		}

		return decision
	}

	return DecisionConfirm
}

// GetRisk returns the risk tier of the first rule matching tool/action,
// or "" if nothing matches.
func (e *Engine) GetRisk(tool, action string) Risk {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, rule := range e.rules {
		if rule.matches(tool, action) {
			return rule.Risk
		}
	}
	return ""
}

// ResetSession clears all per-session counters for sessionID. Per-day
// counters are left intact; they are scoped globally by day bucket.
func (e *Engine) ResetSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.sessionCounts {
		if k.sessionID == sessionID {
			delete(e.sessionCounts, k)
		}
	}
}

func dayBucket() string {
	return time.Now().UTC().Format("2006-01-02")
}

// confirmationClaims are the JWT claims embedded in a confirmation token.
type confirmationClaims struct {
	Tool     string `json:"tool"`
	ArgsHash string `json:"args_hash"`
	jwt.RegisteredClaims
}

// IssueConfirmationToken signs a JWT binding tool+argsHash with an
// expiry, so the token cannot be replayed against a different pending
// entry and carries its own TTL rather than relying on server-side
// bookkeeping alone.
func (e *Engine) IssueConfirmationToken(tool, argsHash string) (string, error) {
	now := time.Now()
	claims := confirmationClaims{
		Tool:     tool,
		ArgsHash: argsHash,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(e.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(e.jwtSecret)
}

// VerifyConfirmationToken checks tokenString's signature and expiry and
// that it was issued for tool+argsHash.
func (e *Engine) VerifyConfirmationToken(tokenString, tool, argsHash string) error {
	claims := &confirmationClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return e.jwtSecret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid confirmation token: %w", err)
	}
	if !parsed.Valid {
		return fmt.Errorf("invalid confirmation token")
	}
	if claims.Tool != tool || claims.ArgsHash != argsHash {
		return fmt.Errorf("confirmation token does not match pending tool call")
	}
	return nil
}

// ParseRulePattern splits a "tool:action" pattern string, tolerating a
// bare tool pattern (action defaults to "*").
func ParseRulePattern(pattern string) (tool, action string) {
	parts := strings.SplitN(pattern, ":", 2)
	tool = parts[0]
	if len(parts) == 2 {
		action = parts[1]
	} else {
		action = "*"
	}
	return tool, action
}
