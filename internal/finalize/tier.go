// Package finalize implements the tiered finalization policy and the
// finalization pipeline: deciding which backend answers a turn,
// building its prompt, invoking it through a bounded worker pool, and
// applying the persona's voice-style transforms to its output.
package finalize

import "os"

// Tier names a finalizer backend.
type Tier string

const (
	TierQuality Tier = "quality"
	TierFast    Tier = "fast"
)

// ForceEnvVar is the environment override that always wins tier
// selection.
const ForceEnvVar = "BANTZ_TIER_FORCE_FINALIZER"

// writingHeavyIntents is the category that earns the quality tier:
// email drafting, long explanation, creative text.
var writingHeavyIntents = map[string]bool{
	"create_draft":    true,
	"generate_reply":  true,
	"compose":         true,
	"long_explain":    true,
	"creative_text":   true,
	"summarize_email": true,
}

// routingOnlyIntents mirrors the "routing-only" category: a bare
// tool call, a confirmation, or a short acknowledgement needs no
// quality-tier prose.
var routingOnlyIntents = map[string]bool{
	"tool_call":    true,
	"confirmation": true,
	"acknowledge":  true,
	"list":         true,
	"list_events":  true,
	"create_event": true,
	"update_event": true,
	"delete_event": true,
	"none":         true,
}

// Decision is the policy's output: which tier to use and why, recorded
// verbatim into the turn trace as response_tier/finalizer_used/
// response_tier_reason.
type Decision struct {
	Tier   Tier
	Reason string
}

// TierPolicy selects a finalizer tier for a turn's intent.
type TierPolicy struct {
	qualityAvailable func() bool
	getenv           func(string) string
	forced           Tier
}

// PolicyOption configures a TierPolicy at construction.
type PolicyOption func(*TierPolicy)

// WithQualityAvailable overrides how the policy checks whether a
// quality-tier client is configured (default: always false, i.e.
// fast-only, matching "finalizer key/model absent -> fast only").
func WithQualityAvailable(fn func() bool) PolicyOption {
	return func(p *TierPolicy) { p.qualityAvailable = fn }
}

// WithGetenv overrides the environment lookup, for testing.
func WithGetenv(fn func(string) string) PolicyOption {
	return func(p *TierPolicy) { p.getenv = fn }
}

// WithForcedTier pins the configured force_finalizer_tier override.
// The BANTZ_TIER_FORCE_FINALIZER environment variable still takes
// precedence; anything other than "quality"/"fast" is ignored.
func WithForcedTier(tier string) PolicyOption {
	return func(p *TierPolicy) {
		if tier == string(TierQuality) || tier == string(TierFast) {
			p.forced = Tier(tier)
		}
	}
}

// NewTierPolicy creates a TierPolicy.
func NewTierPolicy(opts ...PolicyOption) *TierPolicy {
	p := &TierPolicy{
		qualityAvailable: func() bool { return false },
		getenv:           os.Getenv,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Select decides the tier for a turn whose intent is one of the
// known intent keys (calendar_intent/gmail_intent vocabulary, or
// "none" for smalltalk/unknown routes).
func (p *TierPolicy) Select(intent string) Decision {
	if forced := p.getenv(ForceEnvVar); forced == string(TierQuality) || forced == string(TierFast) {
		return Decision{Tier: Tier(forced), Reason: "forced"}
	}
	if p.forced != "" {
		return Decision{Tier: p.forced, Reason: "forced"}
	}

	qualityUp := p.qualityAvailable()

	if writingHeavyIntents[intent] {
		if qualityUp {
			return Decision{Tier: TierQuality, Reason: "writing_heavy"}
		}
		return Decision{Tier: TierFast, Reason: "fallback"}
	}

	if routingOnlyIntents[intent] {
		return Decision{Tier: TierFast, Reason: "routing_only"}
	}

	if !qualityUp {
		return Decision{Tier: TierFast, Reason: "fallback"}
	}
	return Decision{Tier: TierFast, Reason: "routing_only"}
}
