package planverify

import "testing"

var tools = map[string]bool{
	"calendar.create_event": true,
	"calendar.list_events":  true,
	"gmail.send":            true,
	"gmail.list_messages":   true,
	"time.now":              true,
}

func TestUnknownToolRejected(t *testing.T) {
	plan := Plan{Route: "system", ToolPlan: []string{"system.bogus_tool"}}
	ok, errs := VerifyPlan(plan, "durumu kontrol et", tools, nil)
	if ok {
		t.Fatal("expected unknown tool to fail verification")
	}
	if !containsPrefix(errs, "unknown_tool:") {
		t.Fatalf("expected unknown_tool error, got %v", errs)
	}
}

func TestRouteToolMismatch(t *testing.T) {
	plan := Plan{Route: "smalltalk", ToolPlan: []string{"gmail.send"}}
	ok, errs := VerifyPlan(plan, "merhaba", tools, nil)
	if ok {
		t.Fatal("expected route/tool mismatch to fail")
	}
	if !contains(errs, "smalltalk_with_tools") {
		t.Fatalf("expected smalltalk_with_tools among %v", errs)
	}
}

func TestCalendarCreateMissingTitle(t *testing.T) {
	plan := Plan{
		Route:          "calendar",
		ToolPlan:       []string{"calendar.create_event"},
		CalendarIntent: "create_event",
		Slots:          map[string]string{"date": "2026-08-01"},
	}
	ok, errs := VerifyPlan(plan, "takvime etkinlik ekle", tools, nil)
	if ok {
		t.Fatal("expected missing title slot to fail")
	}
	if !contains(errs, "missing_slot:title") {
		t.Fatalf("expected missing_slot:title among %v", errs)
	}
}

func TestCalendarWriteNoTemporal(t *testing.T) {
	plan := Plan{
		Route:          "calendar",
		ToolPlan:       []string{"calendar.create_event"},
		CalendarIntent: "create_event",
		Slots:          map[string]string{"title": "toplantı"},
	}
	ok, errs := VerifyPlan(plan, "toplantı oluştur", tools, nil)
	if ok {
		t.Fatal("expected missing temporal slot to fail")
	}
	if !contains(errs, "calendar_write_no_temporal") {
		t.Fatalf("expected calendar_write_no_temporal among %v", errs)
	}
}

func TestGmailSendMissingRecipient(t *testing.T) {
	plan := Plan{Route: "gmail", ToolPlan: []string{"gmail.send"}, GmailIntent: "send", Gmail: map[string]string{}}
	ok, errs := VerifyPlan(plan, "mail gönder", tools, nil)
	if ok {
		t.Fatal("expected missing gmail field to fail")
	}
	if !contains(errs, "missing_gmail_field:to") {
		t.Fatalf("expected missing_gmail_field:to among %v", errs)
	}
}

func TestRouteIntentMismatchGmailWithCalendarIntent(t *testing.T) {
	plan := Plan{Route: "gmail", CalendarIntent: "create_event"}
	ok, errs := VerifyPlan(plan, "bir şey", tools, nil)
	if ok {
		t.Fatal("expected route/intent mismatch to fail")
	}
	if !containsPrefix(errs, "route_intent_mismatch:gmail+calendar_intent=") {
		t.Fatalf("expected route_intent_mismatch among %v", errs)
	}
}

func TestToolPlanWithoutIndicatorsFlagged(t *testing.T) {
	plan := Plan{Route: "calendar", ToolPlan: []string{"calendar.list_events"}}
	ok, errs := VerifyPlan(plan, "xyzzy plugh", tools, nil)
	if ok {
		t.Fatal("expected no-indicator flag to fail")
	}
	if !contains(errs, "tool_plan_no_indicators") {
		t.Fatalf("expected tool_plan_no_indicators among %v", errs)
	}
}

func TestValidPlanPasses(t *testing.T) {
	plan := Plan{
		Route:          "calendar",
		ToolPlan:       []string{"calendar.create_event"},
		CalendarIntent: "create_event",
		Slots:          map[string]string{"title": "toplantı", "date": "2026-08-01"},
	}
	ok, errs := VerifyPlan(plan, "yarın toplantı oluştur", tools, nil)
	if !ok {
		t.Fatalf("expected valid plan to pass, got errors %v", errs)
	}
}

func TestInferRouteFromTools(t *testing.T) {
	if got := InferRouteFromTools([]string{"calendar.list_events", "time.now"}); got != "calendar" {
		t.Fatalf("expected calendar, got %q", got)
	}
	if got := InferRouteFromTools([]string{"calendar.list_events", "gmail.send"}); got != "" {
		t.Fatalf("expected ambiguous route to be empty, got %q", got)
	}
	if got := InferRouteFromTools(nil); got != "" {
		t.Fatalf("expected empty plan to infer no route, got %q", got)
	}
}

func TestHardIssuesDropsAdvisoryWarnings(t *testing.T) {
	issues := []string{"tool_plan_no_indicators", "unknown_tool:x.y"}
	hard := HardIssues(issues)
	if len(hard) != 1 || hard[0] != "unknown_tool:x.y" {
		t.Fatalf("expected only the hard issue kept, got %v", hard)
	}
	if got := HardIssues([]string{"tool_plan_no_indicators"}); got != nil {
		t.Fatalf("expected nil for advisory-only issues, got %v", got)
	}
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsPrefix(s []string, prefix string) bool {
	for _, x := range s {
		if len(x) >= len(prefix) && x[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}
