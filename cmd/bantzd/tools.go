package main

import (
	"context"
	"os"
	"os/exec"
	"time"

	"github.com/miclaldogan/bantz-sub008/internal/googleauth"
	"github.com/miclaldogan/bantz-sub008/internal/registry"
)

// timeNowArgs is the (empty) parameter struct for time.now, used only
// to generate its JSON Schema via registry.SchemaFor.
type timeNowArgs struct{}

// systemStatusArgs is the (empty) parameter struct for system.status.
type systemStatusArgs struct{}

// calendarListEventsArgs are the accepted parameters for
// calendar.list_events.
type calendarListEventsArgs struct {
	DayHint string `json:"day_hint,omitempty" jsonschema:"description=today/tomorrow/this_week hint extracted from the plan's slots"`
}

// gmailListMessagesArgs are the accepted parameters for
// gmail.list_messages.
type gmailListMessagesArgs struct {
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

// systemExecuteCommandArgs are the accepted parameters for
// system.execute_command; this is the tool the safety guardrails exist
// to gate.
type systemExecuteCommandArgs struct {
	Command string `json:"command"`
}

// registerDemoTools registers the mandatory tools plus one
// representative tool per route, so ValidateRegistry's mandatory/route
// checks in the "validate-config" and "serve" commands have something
// real to validate against. Calendar/Gmail/Contacts tools construct
// (but, absent real credentials, do not complete) a Google-authenticated
// HTTP client via internal/googleauth; the kernel itself never consumes
// that oauth2.TokenSource contract directly.
func registerDemoTools(reg *registry.Registry, googleCfg googleauth.Config) error {
	timeSchema, err := registry.SchemaFor(timeNowArgs{})
	if err != nil {
		return err
	}
	timeCompiled, err := registry.CompileSchema("time.now", timeSchema)
	if err != nil {
		return err
	}
	reg.Register(registry.Tool{
		Name:             "time.now",
		Description:      "Returns the current local time.",
		ParametersSchema: timeCompiled,
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"ok": true, "now": time.Now().Format(time.RFC3339)}, nil
		},
	})

	statusSchema, err := registry.SchemaFor(systemStatusArgs{})
	if err != nil {
		return err
	}
	statusCompiled, err := registry.CompileSchema("system.status", statusSchema)
	if err != nil {
		return err
	}
	reg.Register(registry.Tool{
		Name:             "system.status",
		Description:      "Reports orchestrator health.",
		ParametersSchema: statusCompiled,
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			return map[string]any{"ok": true, "healthy": true}, nil
		},
		Health: func(ctx context.Context) error { return nil },
	})

	calSchema, err := registry.SchemaFor(calendarListEventsArgs{})
	if err != nil {
		return err
	}
	calCompiled, err := registry.CompileSchema("calendar.list_events", calSchema)
	if err != nil {
		return err
	}
	reg.Register(registry.Tool{
		Name:             "calendar.list_events",
		Description:      "Lists the user's calendar events for the requested window.",
		ParametersSchema: calCompiled,
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			if _, err := googleTokenSource(ctx, googleCfg); err != nil {
				return map[string]any{"ok": true, "items": []any{}, "display_hint": "google_auth_unconfigured"}, nil
			}
			// A real implementation would call the Calendar API here
			// using the authenticated client; that API call is an
			// external collaborator outside this kernel's scope.
			return map[string]any{"ok": true, "items": []any{}}, nil
		},
	})

	gmailSchema, err := registry.SchemaFor(gmailListMessagesArgs{})
	if err != nil {
		return err
	}
	gmailCompiled, err := registry.CompileSchema("gmail.list_messages", gmailSchema)
	if err != nil {
		return err
	}
	reg.Register(registry.Tool{
		Name:             "gmail.list_messages",
		Description:      "Lists recent Gmail messages matching a query.",
		ParametersSchema: gmailCompiled,
		Call: func(ctx context.Context, args map[string]any) (any, error) {
			if _, err := googleTokenSource(ctx, googleCfg); err != nil {
				return map[string]any{"ok": true, "items": []any{}, "display_hint": "google_auth_unconfigured"}, nil
			}
			return map[string]any{"ok": true, "items": []any{}}, nil
		},
	})

	execSchema, err := registry.SchemaFor(systemExecuteCommandArgs{})
	if err != nil {
		return err
	}
	execCompiled, err := registry.CompileSchema("system.execute_command", execSchema)
	if err != nil {
		return err
	}
	reg.Register(registry.Tool{
		Name:                 "system.execute_command",
		Description:          "Runs a short-lived shell command on the host desktop.",
		ParametersSchema:     execCompiled,
		RequiresConfirmation: true,
		Call:                 runSystemCommand,
	})

	return nil
}

// runSystemCommand is the system.execute_command backing function. The
// permission/guardrail gate in the orchestrator loop runs before this
// is ever reached; this still bounds execution with its own timeout
// for a tool invoked outside that path.
func runSystemCommand(ctx context.Context, args map[string]any) (any, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return map[string]any{"ok": false, "error": "command is required"}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", command)
	cmd.Env = os.Environ()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return map[string]any{"ok": false, "error": err.Error(), "output": string(out)}, nil
	}
	return map[string]any{"ok": true, "output": string(out)}, nil
}

func googleTokenSource(ctx context.Context, cfg googleauth.Config) (any, error) {
	if cfg.ClientID == "" {
		return nil, os.ErrNotExist
	}
	return googleauth.NewTokenSource(ctx, cfg)
}
