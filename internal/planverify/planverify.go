// Package planverify implements static verification of a router's
// plan output: unknown tool names, route↔tool-prefix mismatch, missing
// required slots/fields, tool-plan-without-indicators, and the
// route↔intent semantic coherence checks.
package planverify

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// routeToolPrefixes maps each route to the tool-name prefixes it may plan.
var routeToolPrefixes = map[string][]string{
	"calendar":  {"calendar.", "time.", "contacts."},
	"gmail":     {"gmail.", "contacts.", "time."},
	"system":    {"system.", "time."},
	"smalltalk": {"time."},
	"unknown":   {"time."},
}

// requiredSlots names the slots each calendar intent must carry.
var requiredSlots = map[string][]string{
	"create_event": {"title"},
	"update_event": {"title"},
	"delete_event": {"title"},
}

// gmailRequiredFields names the fields each gmail write intent must carry.
var gmailRequiredFields = map[string][]string{
	"send":           {"to"},
	"create_draft":   {"to"},
	"generate_reply": {},
}

// calendarWriteIntents are the intents that mutate the calendar.
var calendarWriteIntents = map[string]bool{
	"create": true, "create_event": true, "modify": true, "update": true, "update_event": true,
}

// routeIntentMismatch flags intents that contradict their route.
var routeIntentMismatch = map[string]map[string]bool{
	"gmail": {
		"create": true, "create_event": true, "modify": true, "update_event": true,
		"query": true, "cancel": true, "delete_event": true,
	},
	"calendar":  {"send": true, "list": true, "search": true, "read": true},
	"smalltalk": {"create": true, "create_event": true, "send": true, "delete_event": true, "modify": true},
}

// toolIndicatorPatterns detect action phrasing that justifies a tool plan.
var toolIndicatorPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(oluştur|ekle|yarat|create|add)\b`),
	regexp.MustCompile(`(?i)\b(sil|kaldır|delete|remove|cancel)\b`),
	regexp.MustCompile(`(?i)\b(güncelle|değiştir|update|change|modify|move)\b`),
	regexp.MustCompile(`(?i)\b(listele|göster|bak|list|show)\b`),
	regexp.MustCompile(`(?i)\b(gönder|yolla|send|e-?posta)\b`),
	regexp.MustCompile(`(?i)\b(oku|read|aç|open)\b`),
	regexp.MustCompile(`(?i)\b(takvim|calendar|toplantı|meeting|randevu)\b`),
	regexp.MustCompile(`(?i)\b(saat kaç|what time|tarih|date)\b`),
	regexp.MustCompile(`(?i)\b(kontrol\s*et|planımız|plan\s*var|etkinlik|ne\s*var)\b`),
	regexp.MustCompile(`(?i)\b(mailleri?|son\s*mail|gelen\s*kutusu|inbox)\b`),
	regexp.MustCompile(`(?i)\b(ne\s*yazıyor|ne\s*diyor|ne\s*gelmiş|var\s*mı)\b`),
	regexp.MustCompile(`(?i)\b(ara|bul|search|find|kontrol)\b`),
	regexp.MustCompile(`(?i)\b(özetle|özetler?\s*m[iı]s[iı]n|özetl[ea]|summarize|summary)\b`),
	regexp.MustCompile(`(?i)\b(yaz|yazar?\s*m[iı]s[iı]n|yazd[ıi]r|write|compose|draft)\b`),
	regexp.MustCompile(`(?i)\b(cevapla|yan[ıi]tla|reply|respond)\b`),
	regexp.MustCompile(`(?i)\b(hat[ıi]rlat|remind|alarm|bildir)\b`),
	regexp.MustCompile(`(?i)\bmail[a-zıüöğçş]*\b`),
	regexp.MustCompile(`(?i)\b(mesaj|mesajlar[ıi]?|ileti)\b`),
	regexp.MustCompile(`(?i)\b(görüntüle|görüntüleyebil|söyle|söyler?\s*m[iı]s[iı]n)\b`),
	regexp.MustCompile(`(?i)\b(okunmuş|okunmam[ıi]ş|okunan|okunmayan|unread)\b`),
	regexp.MustCompile(`(?i)\b(at|atma[nk]?[ıi]?|diyelim|de)\b`),
	regexp.MustCompile(`(?i)\b(konu|adres[a-zıüöğçş]*)\b`),
	regexp.MustCompile(`(?i)\b(kontro[lr]|kontorl)\b`),
}

// Plan is the router output under verification.
type Plan struct {
	Route          string
	ToolPlan       []string
	CalendarIntent string
	GmailIntent    string
	Slots          map[string]string
	Gmail          map[string]string
}

// softIssues are advisory findings: worth tracing and logging, but not
// grounds for stripping the plan's tools on their own.
var softIssues = map[string]bool{
	"tool_plan_no_indicators": true,
}

// HardIssues filters issues down to the ones that should block the
// plan's tool steps, dropping advisory warnings. Callers that strip
// tools on a failed verification use this to decide enforcement.
func HardIssues(issues []string) []string {
	var hard []string
	for _, issue := range issues {
		if !softIssues[issue] {
			hard = append(hard, issue)
		}
	}
	return hard
}

func hasToolIndicators(userInput string) bool {
	for _, p := range toolIndicatorPatterns {
		if p.MatchString(userInput) {
			return true
		}
	}
	return false
}

// InferRouteFromTools returns the single shared domain prefix across
// toolPlan (ignoring time.*), or "" if the plan is empty or ambiguous.
func InferRouteFromTools(toolPlan []string) string {
	if len(toolPlan) == 0 {
		return ""
	}
	domains := make(map[string]bool)
	for _, name := range toolPlan {
		if name == "" {
			continue
		}
		prefix := name
		if idx := strings.Index(name, "."); idx >= 0 {
			prefix = name[:idx]
		}
		if prefix == "time" {
			continue
		}
		domains[prefix] = true
	}
	if len(domains) == 1 {
		for d := range domains {
			return d
		}
	}
	return ""
}

// VerifyPlan statically validates plan against validTools and the raw
// userInput, returning whether it is valid and the list of error codes.
func VerifyPlan(plan Plan, userInput string, validTools map[string]bool, log *slog.Logger) (bool, []string) {
	if log == nil {
		log = slog.Default()
	}
	var errs []string

	route := plan.Route
	if route == "" {
		route = "unknown"
	}

	// 1. Tool name check.
	for _, toolName := range plan.ToolPlan {
		if toolName != "" && !validTools[toolName] {
			errs = append(errs, "unknown_tool:"+toolName)
		}
	}

	// 2. Route <-> tool prefix coherence.
	if allowed := routeToolPrefixes[route]; len(allowed) > 0 {
		for _, toolName := range plan.ToolPlan {
			if toolName == "" {
				continue
			}
			matched := false
			for _, pfx := range allowed {
				if strings.HasPrefix(toolName, pfx) {
					matched = true
					break
				}
			}
			if !matched {
				errs = append(errs, fmt.Sprintf("route_tool_mismatch:%s->%s", route, toolName))
			}
		}
	}

	// 3. Required slots (calendar).
	if route == "calendar" {
		intent := plan.CalendarIntent
		if intent == "" {
			intent = "none"
		}
		for _, slot := range requiredSlots[intent] {
			if plan.Slots[slot] == "" {
				errs = append(errs, "missing_slot:"+slot)
			}
		}
	}

	// 4. Required gmail fields.
	if route == "gmail" {
		intent := plan.GmailIntent
		if intent == "" {
			intent = "none"
		}
		for _, field := range gmailRequiredFields[intent] {
			if plan.Gmail[field] == "" {
				errs = append(errs, "missing_gmail_field:"+field)
			}
		}
	}

	// 5. Tool plan without tool indicators in input.
	if len(plan.ToolPlan) > 0 && !hasToolIndicators(userInput) {
		errs = append(errs, "tool_plan_no_indicators")
	}

	// 6. Semantic: smalltalk with tools.
	if route == "smalltalk" && len(plan.ToolPlan) > 0 {
		for _, toolName := range plan.ToolPlan {
			if !strings.HasPrefix(toolName, "time.") {
				errs = append(errs, "smalltalk_with_tools")
				break
			}
		}
	}

	// 7. Semantic: calendar write without date/time.
	calendarIntent := plan.CalendarIntent
	if calendarIntent == "" {
		calendarIntent = "none"
	}
	if route == "calendar" && calendarWriteIntents[calendarIntent] {
		hasTemporal := plan.Slots["date"] != "" || plan.Slots["time"] != "" || plan.Slots["window_hint"] != ""
		if !hasTemporal {
			errs = append(errs, "calendar_write_no_temporal")
		}
	}

	// 8. Semantic: route <-> intent coherence.
	if routeIntentMismatch[route][calendarIntent] {
		errs = append(errs, fmt.Sprintf("route_intent_mismatch:%s+calendar_intent=%s", route, calendarIntent))
	}
	gmailIntent := plan.GmailIntent
	if gmailIntent == "" {
		gmailIntent = "none"
	}
	if gmailIntent != "none" && route != "gmail" {
		errs = append(errs, fmt.Sprintf("route_intent_mismatch:%s+gmail_intent=%s", route, gmailIntent))
	}

	if len(errs) > 0 {
		preview := userInput
		if len(preview) > 60 {
			preview = preview[:60]
		}
		log.Warn("plan_verifier: plan has errors", "route", route, "errors", errs, "input", preview)
	} else {
		log.Debug("plan_verifier: plan ok", "route", route, "tools", len(plan.ToolPlan))
	}

	return len(errs) == 0, errs
}
