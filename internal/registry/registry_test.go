package registry

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterPreservesInsertionOrder(t *testing.T) {
	r := New()
	r.Register(Tool{Name: "time.now"})
	r.Register(Tool{Name: "system.status"})
	r.Register(Tool{Name: "calendar.list_events"})

	want := []string{"time.now", "system.status", "calendar.list_events"}
	got := r.Names()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRegisterDuplicateOverwritesInPlace(t *testing.T) {
	r := New()
	r.Register(Tool{Name: "a", Description: "first"})
	r.Register(Tool{Name: "b", Description: "second"})
	r.Register(Tool{Name: "a", Description: "updated"})

	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("expected position preserved on overwrite, got %v", names)
	}
	tool, _ := r.Get("a")
	if tool.Description != "updated" {
		t.Fatalf("expected overwritten description, got %q", tool.Description)
	}
}

func TestValidateRegistryMissingMandatoryIsError(t *testing.T) {
	r := New()
	r.Register(Tool{Name: "system.status"})
	cfg := Config{MandatoryTools: map[string]bool{"time.now": true, "system.status": true}}

	report := ValidateRegistry(context.Background(), r, cfg)
	if report.OK {
		t.Fatal("expected report not ok when mandatory tool missing")
	}
	if len(report.MissingMandatory) != 1 || report.MissingMandatory[0] != "time.now" {
		t.Fatalf("expected time.now missing, got %v", report.MissingMandatory)
	}
}

func TestValidateRegistryRouteDepsAreWarningsNotErrors(t *testing.T) {
	r := New()
	r.Register(Tool{Name: "time.now"})
	cfg := Config{
		MandatoryTools:    map[string]bool{"time.now": true},
		RouteDependencies: map[string][]string{"gmail": {"gmail.send"}},
	}

	report := ValidateRegistry(context.Background(), r, cfg)
	if !report.OK {
		t.Fatalf("expected report ok despite missing route dep, got errors %v", report.Errors)
	}
	if len(report.Warnings) != 1 {
		t.Fatalf("expected one warning for missing route dep, got %v", report.Warnings)
	}
	if got := report.MissingRouteDeps["gmail"]; len(got) != 1 || got[0] != "gmail.send" {
		t.Fatalf("expected gmail missing gmail.send, got %v", got)
	}
}

func TestValidateRegistryHealthChecks(t *testing.T) {
	r := New()
	r.Register(Tool{Name: "ok.tool", Health: func(ctx context.Context) error { return nil }})
	r.Register(Tool{Name: "bad.tool", Health: func(ctx context.Context) error { return errors.New("unreachable") }})
	r.Register(Tool{Name: "no_health.tool"})

	report := ValidateRegistry(context.Background(), r, Config{})
	if report.Healthy {
		t.Fatal("expected report unhealthy due to bad.tool")
	}
	if len(report.HealthResults) != 2 {
		t.Fatalf("expected 2 health results (only tools with HealthFunc), got %d", len(report.HealthResults))
	}
}

func TestSchemaForGeneratesValidJSON(t *testing.T) {
	type Params struct {
		Title string `json:"title" jsonschema:"required"`
		Date  string `json:"date,omitempty"`
	}
	raw, err := SchemaFor(Params{})
	if err != nil {
		t.Fatalf("SchemaFor failed: %v", err)
	}
	if len(raw) == 0 {
		t.Fatal("expected non-empty schema bytes")
	}
}

func TestCompileAndValidateArgs(t *testing.T) {
	schemaJSON := []byte(`{
		"type": "object",
		"properties": {"title": {"type": "string"}},
		"required": ["title"]
	}`)
	compiled, err := CompileSchema("calendar.create_event.json", schemaJSON)
	if err != nil {
		t.Fatalf("compile failed: %v", err)
	}
	tool := Tool{Name: "calendar.create_event", ParametersSchema: compiled}

	if err := ValidateArgs(tool, map[string]any{"title": "toplantı"}); err != nil {
		t.Fatalf("expected valid args to pass, got %v", err)
	}
	if err := ValidateArgs(tool, map[string]any{}); err == nil {
		t.Fatal("expected missing required field to fail validation")
	}
}
