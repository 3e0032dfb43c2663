// Package safety implements the destructive-command guardrail checker
// and the action classifier that maps an action to a permission level,
// with context-driven elevation.
package safety

import (
	"regexp"
)

// Level is a permission level; higher values require stronger gating.
// Context may only raise a Level, never lower it.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// RequiresConfirmation reports whether a level always needs user confirmation.
func (l Level) RequiresConfirmation() bool {
	return l >= LevelMedium
}

// defaultActionLevels mirrors ActionClassifier.ACTION_LEVELS.
var defaultActionLevels = map[string]Level{
	"browser_open":    LevelLow,
	"web_search":      LevelLow,
	"read_file":       LevelLow,
	"list_dir":        LevelLow,
	"get_time":        LevelLow,
	"get_weather":     LevelLow,
	"calculator":      LevelLow,
	"translate":       LevelLow,
	"define_word":     LevelLow,
	"read_clipboard":  LevelMedium,
	"send_email":      LevelMedium,
	"calendar_access": LevelMedium,
	"calendar_create": LevelMedium,
	"post_social":     LevelMedium,
	"api_call":        LevelMedium,
	"write_file":      LevelMedium,
	"create_file":     LevelMedium,
	"download_file":   LevelMedium,
	"install_package": LevelMedium,
	"git_commit":      LevelMedium,
	"git_push":        LevelMedium,

	"delete_file":        LevelHigh,
	"delete_directory":   LevelHigh,
	"make_payment":       LevelHigh,
	"send_message":       LevelHigh,
	"execute_command":    LevelHigh,
	"run_script":         LevelHigh,
	"system_shutdown":    LevelHigh,
	"format_disk":        LevelHigh,
	"modify_system":      LevelHigh,
	"access_credentials": LevelHigh,
	"share_screen":       LevelHigh,
	"remote_access":      LevelHigh,
}

var destructiveActions = map[string]bool{
	"delete_file":      true,
	"delete_directory": true,
	"format_disk":      true,
	"system_shutdown":  true,
	"modify_system":    true,
	"make_payment":     true,
}

var externalActions = map[string]bool{
	"send_email":    true,
	"post_social":   true,
	"send_message":  true,
	"api_call":      true,
	"download_file": true,
	"upload_file":   true,
	"git_push":      true,
	"share_screen":  true,
	"remote_access": true,
}

// Classification is the outcome of classifying a single action.
type Classification struct {
	Action               string
	Level                Level
	IsDestructive        bool
	IsExternal           bool
	RequiresConfirmation bool
	Reason               string
}

// Context carries optional signals that can elevate a classification.
type Context struct {
	Domain          string
	Amount          float64
	TargetCount     int
	IsSensitiveFile bool
}

// Classifier maps actions to permission levels. The table is
// config-driven, falling back to defaultActionLevels.
type Classifier struct {
	levels       map[string]Level
	destructive  map[string]bool
	external     map[string]bool
	defaultLevel Level
}

// ClassifierOption configures a Classifier at construction.
type ClassifierOption func(*Classifier)

// WithActionLevels overrides/extends the default action→level table.
func WithActionLevels(levels map[string]Level) ClassifierOption {
	return func(c *Classifier) {
		for k, v := range levels {
			c.levels[k] = v
		}
	}
}

// WithDefaultLevel sets the level used for unknown actions.
func WithDefaultLevel(l Level) ClassifierOption {
	return func(c *Classifier) { c.defaultLevel = l }
}

// NewClassifier creates a Classifier seeded with the default action table.
func NewClassifier(opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		levels:       make(map[string]Level, len(defaultActionLevels)),
		destructive:  destructiveActions,
		external:     externalActions,
		defaultLevel: LevelHigh,
	}
	for k, v := range defaultActionLevels {
		c.levels[k] = v
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify returns a Classification for action, elevating the base
// level per ctx. Context elevation never lowers a level.
func (c *Classifier) Classify(action string, ctx Context) Classification {
	base, known := c.levels[action]
	if !known {
		base = c.defaultLevel
	}

	level := c.elevate(base, ctx)

	reason := ""
	switch {
	case !known:
		reason = "unknown action, using default: " + c.defaultLevel.String()
	case level != base:
		reason = "mapped action: " + action + " -> " + base.String() + ", elevated to " + level.String() + " by context"
	default:
		reason = "mapped action: " + action + " -> " + level.String()
	}

	return Classification{
		Action:               action,
		Level:                level,
		IsDestructive:        c.destructive[action],
		IsExternal:           c.external[action],
		RequiresConfirmation: level.RequiresConfirmation(),
		Reason:               reason,
	}
}

func (c *Classifier) elevate(base Level, ctx Context) Level {
	level := base

	switch ctx.Domain {
	case "banking", "medical", "legal":
		if level < LevelHigh {
			level = LevelHigh
		}
	}
	if ctx.Amount > 1000 {
		if level < LevelHigh {
			level = LevelHigh
		}
	}
	if ctx.TargetCount > 10 {
		if level < LevelMedium {
			level = LevelMedium
		}
	}
	if ctx.IsSensitiveFile {
		if level < LevelHigh {
			level = LevelHigh
		}
	}
	return level
}

// GetLevel returns the mapped level for action, ignoring context.
func (c *Classifier) GetLevel(action string) Level {
	if l, ok := c.levels[action]; ok {
		return l
	}
	return c.defaultLevel
}

// guardrailPattern is a single destructive-command detector.
type guardrailPattern struct {
	name    string
	re      *regexp.Regexp
	blocked bool
	reason  string
}

// guardrailPatterns is the destructive-command pattern table.
var guardrailPatterns = []guardrailPattern{
	{name: "rm_rf_root", re: regexp.MustCompile(`rm\s+-[a-zA-Z]*r[a-zA-Z]*f\s+/(\s|$)`), blocked: true, reason: "recursive force-delete of root"},
	{name: "rm_rf", re: regexp.MustCompile(`rm\s+-[a-zA-Z]*r[a-zA-Z]*f\b`), blocked: false, reason: "recursive force-delete"},
	{name: "fork_bomb", re: regexp.MustCompile(`:\(\)\s*\{\s*:\|\s*:&\s*\}\s*;`), blocked: true, reason: "fork bomb"},
	{name: "sudo", re: regexp.MustCompile(`\bsudo\b`), blocked: false, reason: "elevated privileges"},
	{name: "git_push_force", re: regexp.MustCompile(`git\s+push\b.*--force`), blocked: false, reason: "force push"},
	{name: "git_push", re: regexp.MustCompile(`git\s+push\b`), blocked: false, reason: "git push"},
	{name: "disk_format", re: regexp.MustCompile(`\bmkfs\b|\bformat\s+[a-zA-Z]:`), blocked: true, reason: "disk format"},
	{name: "chmod_recursive", re: regexp.MustCompile(`chmod\s+-R\s+777`), blocked: false, reason: "recursive permission change"},
}

// GuardrailResult is the outcome of Check.
type GuardrailResult struct {
	Blocked              bool
	ConfirmationRequired bool
	Reason               string
	Pattern              string
}

// Check scans command against guardrailPatterns, returning the first
// match. An unmatched command is always allowed.
func Check(command string) GuardrailResult {
	for _, p := range guardrailPatterns {
		if p.re.MatchString(command) {
			return GuardrailResult{
				Blocked:              p.blocked,
				ConfirmationRequired: !p.blocked,
				Reason:               p.reason,
				Pattern:              p.name,
			}
		}
	}
	return GuardrailResult{}
}
