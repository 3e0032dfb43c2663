// Package router implements the LLM router adapter: it builds a single
// planning prompt from user input, recent conversation, session
// context, and retrieved memory, calls a router LLM, and parses its
// strict JSON plan envelope into a Plan the rest of the pipeline can
// act on. A Plan's field vocabulary is shared with planverify, so it
// converts losslessly into planverify.Plan.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/miclaldogan/bantz-sub008/internal/planverify"
)

// LLMClient is the router-half of the two-method LLM client contract:
// a single blocking text completion, strict JSON output expected.
type LLMClient interface {
	CompleteText(ctx context.Context, prompt string, temperature float64, maxTokens int) (string, error)
}

// ConversationTurn is one past (user, assistant) exchange, supplied to
// the router as short-term context.
type ConversationTurn struct {
	User      string
	Assistant string
}

// ToolStep is one entry of a plan's tool_plan, normalized to name+args
// regardless of whether the LLM emitted a bare string or an object.
type ToolStep struct {
	Name string
	Args map[string]any
}

// Plan is the router's parsed output.
type Plan struct {
	Route                string
	CalendarIntent       string
	GmailIntent          string
	Slots                map[string]string
	Gmail                map[string]string
	Confidence           float64
	ToolPlan             []string
	ToolPlanWithArgs     []ToolStep
	AssistantReply       string
	AskUser              bool
	Question             string
	RequiresConfirmation bool
	ConfirmationPrompt   string
	MemoryUpdate         string
	ReasoningSummary     string
}

// ToVerifyPlan projects Plan onto the narrower shape planverify checks.
func (p Plan) ToVerifyPlan() planverify.Plan {
	return planverify.Plan{
		Route:          p.Route,
		ToolPlan:       p.ToolPlan,
		CalendarIntent: p.CalendarIntent,
		GmailIntent:    p.GmailIntent,
		Slots:          p.Slots,
		Gmail:          p.Gmail,
	}
}

// EmptyPlan is returned on router failure: an empty plan routes to a
// conservative apology rather than executing anything.
func EmptyPlan() Plan {
	return Plan{
		Route:          "unknown",
		CalendarIntent: "none",
		GmailIntent:    "none",
		Slots:          map[string]string{},
		Gmail:          map[string]string{},
		Confidence:     0.0,
		AssistantReply: "Üzgünüm, isteğinizi şu anda işleyemiyorum.",
	}
}

// Router builds plan prompts and parses plan envelopes.
type Router struct {
	client      LLMClient
	log         *slog.Logger
	model       string
	temperature float64
	maxTokens   int
}

// Option configures a Router at construction.
type Option func(*Router)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.log = l }
}

// WithModel names the router model included in prompts and telemetry.
func WithModel(model string) Option {
	return func(r *Router) { r.model = model }
}

// WithTemperature overrides the default 0.2 sampling temperature.
func WithTemperature(t float64) Option {
	return func(r *Router) { r.temperature = t }
}

// WithMaxTokens overrides the default 800 max output tokens.
func WithMaxTokens(n int) Option {
	return func(r *Router) { r.maxTokens = n }
}

// New creates a Router backed by client.
func New(client LLMClient, opts ...Option) *Router {
	r := &Router{
		client:      client,
		log:         slog.Default(),
		temperature: 0.2,
		maxTokens:   800,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const planSystemPreamble = `Kullanıcı isteğini analiz et ve SADECE aşağıdaki alanları içeren geçerli bir JSON nesnesi döndür, başka hiçbir metin ekleme:
route, calendar_intent, slots, confidence, tool_plan, assistant_reply
İsteğe bağlı: gmail_intent, ask_user, question, requires_confirmation, confirmation_prompt, memory_update, reasoning_summary`

// BuildPrompt assembles the single planning prompt: user input, the
// last up-to-3 conversation turns, session context, and retrieved
// memory, in that order.
func (r *Router) BuildPrompt(userInput string, recent []ConversationTurn, sessionContext map[string]any, retrievedMemory string) string {
	var b strings.Builder
	b.WriteString(planSystemPreamble)
	b.WriteString("\n\n")

	if n := len(recent); n > 0 {
		start := 0
		if n > 3 {
			start = n - 3
		}
		b.WriteString("Son konuşma:\n")
		for _, turn := range recent[start:] {
			if turn.User != "" {
				fmt.Fprintf(&b, "Kullanıcı: %s\n", turn.User)
			}
			if turn.Assistant != "" {
				fmt.Fprintf(&b, "Asistan: %s\n", turn.Assistant)
			}
		}
		b.WriteString("\n")
	}

	if len(sessionContext) > 0 {
		if raw, err := json.Marshal(sessionContext); err == nil {
			fmt.Fprintf(&b, "Oturum bağlamı: %s\n\n", raw)
		}
	}

	if retrievedMemory != "" {
		fmt.Fprintf(&b, "Hatırlanan bilgi: %s\n\n", retrievedMemory)
	}

	fmt.Fprintf(&b, "Kullanıcı isteği: %s\n", userInput)
	return b.String()
}

// Plan calls the router LLM and parses its response into a Plan. On
// any LLM error, it returns EmptyPlan and the error, never a half
// parsed plan.
func (r *Router) Plan(ctx context.Context, userInput string, recent []ConversationTurn, sessionContext map[string]any, retrievedMemory string) (Plan, error) {
	prompt := r.BuildPrompt(userInput, recent, sessionContext, retrievedMemory)
	raw, err := r.client.CompleteText(ctx, prompt, r.temperature, r.maxTokens)
	if err != nil {
		r.log.Warn("router: completion failed", "error", err, "model", r.model)
		return EmptyPlan(), fmt.Errorf("router completion: %w", err)
	}
	plan, err := ParsePlanEnvelope(raw)
	if err != nil {
		r.log.Warn("router: envelope parse failed", "error", err)
		return EmptyPlan(), fmt.Errorf("router parse: %w", err)
	}
	return plan, nil
}

// rawEnvelope mirrors the wire shape of the plan JSON envelope before
// tool_plan's string|object ambiguity is resolved.
type rawEnvelope struct {
	Route                string            `json:"route"`
	CalendarIntent       json.RawMessage   `json:"calendar_intent"`
	GmailIntent          json.RawMessage   `json:"gmail_intent"`
	Slots                map[string]any    `json:"slots"`
	Gmail                map[string]any    `json:"gmail"`
	Confidence           json.RawMessage   `json:"confidence"`
	ToolPlan             []json.RawMessage `json:"tool_plan"`
	AssistantReply       string            `json:"assistant_reply"`
	AskUser              bool              `json:"ask_user"`
	Question             string            `json:"question"`
	RequiresConfirmation bool              `json:"requires_confirmation"`
	ConfirmationPrompt   string            `json:"confirmation_prompt"`
	MemoryUpdate         string            `json:"memory_update"`
	ReasoningSummary     string            `json:"reasoning_summary"`
}

// ParsePlanEnvelope parses a router LLM's raw JSON output into a Plan.
// Unknown fields are ignored. tool_plan entries may be plain strings
// ("calendar.list_events") or objects ({name|tool|tool_name, args});
// both ToolPlan and ToolPlanWithArgs are produced, length matched and
// order preserved. Confidence is clamped to [0,1]; missing fields
// default conservatively.
func ParsePlanEnvelope(raw string) (Plan, error) {
	trimmed := strings.TrimSpace(raw)
	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return Plan{}, fmt.Errorf("no JSON object found in router output")
	}
	trimmed = trimmed[start : end+1]

	var env rawEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return Plan{}, fmt.Errorf("invalid plan envelope: %w", err)
	}

	plan := Plan{
		Route:                env.Route,
		CalendarIntent:       stringOrDefault(env.CalendarIntent, "none"),
		GmailIntent:          stringOrDefault(env.GmailIntent, "none"),
		Slots:                stringMap(env.Slots),
		Gmail:                stringMap(env.Gmail),
		Confidence:           clampConfidence(env.Confidence),
		AssistantReply:       env.AssistantReply,
		AskUser:              env.AskUser,
		Question:             env.Question,
		RequiresConfirmation: env.RequiresConfirmation,
		ConfirmationPrompt:   env.ConfirmationPrompt,
		MemoryUpdate:         env.MemoryUpdate,
		ReasoningSummary:     env.ReasoningSummary,
	}
	if plan.Route == "" {
		plan.Route = "unknown"
	}

	toolPlan, toolPlanWithArgs := parseToolPlan(env.ToolPlan)
	plan.ToolPlan = toolPlan
	plan.ToolPlanWithArgs = toolPlanWithArgs

	return plan, nil
}

func parseToolPlan(entries []json.RawMessage) ([]string, []ToolStep) {
	names := make([]string, 0, len(entries))
	steps := make([]ToolStep, 0, len(entries))
	for _, entry := range entries {
		trimmed := strings.TrimSpace(string(entry))
		if trimmed == "" {
			continue
		}
		if trimmed[0] == '"' {
			var name string
			if err := json.Unmarshal(entry, &name); err != nil || name == "" {
				continue
			}
			names = append(names, name)
			steps = append(steps, ToolStep{Name: name, Args: map[string]any{}})
			continue
		}

		var obj struct {
			Name     string         `json:"name"`
			Tool     string         `json:"tool"`
			ToolName string         `json:"tool_name"`
			Args     map[string]any `json:"args"`
		}
		if err := json.Unmarshal(entry, &obj); err != nil {
			continue
		}
		name := firstNonEmpty(obj.Name, obj.Tool, obj.ToolName)
		if name == "" {
			continue
		}
		args := obj.Args
		if args == nil {
			args = map[string]any{}
		}
		names = append(names, name)
		steps = append(steps, ToolStep{Name: name, Args: args})
	}
	return names, steps
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func stringOrDefault(raw json.RawMessage, def string) string {
	if len(raw) == 0 {
		return def
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return def
	}
	if s == "" {
		return def
	}
	return s
}

func stringMap(in map[string]any) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			continue
		default:
			out[k] = fmt.Sprintf("%v", val)
		}
	}
	return out
}

// clampConfidence parses confidence from raw JSON (number or numeric
// string) and clamps it to [0,1]; missing or unparsable defaults to
// the conservative 0.3.
func clampConfidence(raw json.RawMessage) float64 {
	const def = 0.3
	if len(raw) == 0 {
		return def
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err2 := json.Unmarshal(raw, &s); err2 == nil {
			parsed, perr := strconv.ParseFloat(s, 64)
			if perr != nil {
				return def
			}
			f = parsed
		} else {
			return def
		}
	}
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
