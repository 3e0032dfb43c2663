// Package registry implements the tool registry: an insertion-order
// name→Tool map with JSON-Schema-backed parameter validation and a
// health/coverage report against a configured mandatory-tool and
// route-dependency table. Parameter schemas are generated from Go
// structs with invopop/jsonschema and validated at call time with
// santhosh-tekuri/jsonschema/v5.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	jsonschemav5 "github.com/santhosh-tekuri/jsonschema/v5"
)

// HealthFunc probes whether a registered tool's backing service is
// reachable. A nil HealthFunc is treated as always-healthy.
type HealthFunc func(ctx context.Context) error

// CallFunc is a tool's invocation entry point; args has already passed
// schema validation.
type CallFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is a single registered capability.
type Tool struct {
	Name                 string
	Description          string
	ParametersSchema     *jsonschemav5.Schema
	rawSchema            []byte
	Call                 CallFunc
	Health               HealthFunc
	RequiresConfirmation bool
}

// Registry is an insertion-order name→Tool map. Duplicate registration
// overwrites the existing entry in place (position unchanged).
// Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or overwrites tool. A new name is appended to the
// insertion order; re-registering an existing name keeps its position.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; !exists {
		r.order = append(r.order, tool.Name)
	}
	r.tools[tool.Name] = tool
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name in insertion order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// SchemaFor generates a JSON Schema document for a Go parameter struct,
// for tools that describe their arguments with a typed struct rather
// than a hand-written schema.
func SchemaFor(paramStruct any) ([]byte, error) {
	reflector := &jsonschema.Reflector{ExpandedStruct: true}
	schema := reflector.Reflect(paramStruct)
	return schema.MarshalJSON()
}

// CompileSchema compiles raw JSON Schema bytes for use as a Tool's
// ParametersSchema.
func CompileSchema(name string, raw []byte) (*jsonschemav5.Schema, error) {
	compiler := jsonschemav5.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return compiler.Compile(name)
}

// ValidateArgs checks args against tool's ParametersSchema, if any.
func ValidateArgs(tool Tool, args map[string]any) error {
	if tool.ParametersSchema == nil {
		return nil
	}
	if err := tool.ParametersSchema.Validate(args); err != nil {
		return fmt.Errorf("tool %q arguments invalid: %w", tool.Name, err)
	}
	return nil
}

// Config names the tools a healthy installation must have, and which
// tools each route depends on.
type Config struct {
	MandatoryTools    map[string]bool
	RouteDependencies map[string][]string
}

// DefaultConfig is used when no explicit Config is supplied; callers
// normally override this from YAML (internal/config).
func DefaultConfig() Config {
	return Config{
		MandatoryTools: map[string]bool{
			"time.now":      true,
			"system.status": true,
		},
		RouteDependencies: map[string][]string{
			"calendar": {"calendar.list_events", "calendar.create_event"},
			"gmail":    {"gmail.list_messages", "gmail.send"},
			"system":   {"system.status"},
			"browser":  {"browser.open"},
		},
	}
}

// HealthResult is a single tool's health-probe outcome.
type HealthResult struct {
	Tool    string
	Healthy bool
	Error   string
}

// ValidationReport summarizes registry coverage and health.
type ValidationReport struct {
	OK               bool
	Healthy          bool
	MissingMandatory []string
	MissingRouteDeps map[string][]string
	RegisteredTools  []string
	HealthResults    []HealthResult
	Errors           []string
	Warnings         []string
}

// ValidateRegistry checks reg against cfg: every mandatory tool must be
// registered (else an error), every route dependency should be
// registered (else a warning), and every tool with a HealthFunc is
// probed.
func ValidateRegistry(ctx context.Context, reg *Registry, cfg Config) ValidationReport {
	names := reg.Names()
	registered := make(map[string]bool, len(names))
	for _, n := range names {
		registered[n] = true
	}

	report := ValidationReport{
		RegisteredTools:  names,
		MissingRouteDeps: make(map[string][]string),
	}

	var missingMandatory []string
	for tool := range cfg.MandatoryTools {
		if !registered[tool] {
			missingMandatory = append(missingMandatory, tool)
		}
	}
	report.MissingMandatory = missingMandatory
	if len(missingMandatory) > 0 {
		report.OK = false
		for _, t := range missingMandatory {
			report.Errors = append(report.Errors, "missing mandatory tool: "+t)
		}
	} else {
		report.OK = true
	}

	for route, deps := range cfg.RouteDependencies {
		var missing []string
		for _, dep := range deps {
			if !registered[dep] {
				missing = append(missing, dep)
			}
		}
		if len(missing) > 0 {
			report.MissingRouteDeps[route] = missing
			report.Warnings = append(report.Warnings, fmt.Sprintf("route %q missing dependencies: %v", route, missing))
		}
	}

	healthy := true
	for _, name := range names {
		tool, _ := reg.Get(name)
		if tool.Health == nil {
			continue
		}
		result := HealthResult{Tool: name, Healthy: true}
		if err := tool.Health(ctx); err != nil {
			result.Healthy = false
			result.Error = err.Error()
			healthy = false
		}
		report.HealthResults = append(report.HealthResults, result)
	}
	report.Healthy = healthy

	return report
}
