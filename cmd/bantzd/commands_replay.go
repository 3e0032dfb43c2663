package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/miclaldogan/bantz-sub008/internal/config"
	"github.com/miclaldogan/bantz-sub008/internal/orchestrator"
)

func buildReplayCmd(configPath *string, debug *bool) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay a recorded JSONL transcript of turns offline",
		Long: `replay feeds a file of newline-delimited JSON turn records
({"session_id": "...", "text": "..."}) through the same orchestrator.Runtime
serve would build, one line at a time, printing each turn's reply and
finalization tier to stdout. Useful for regression-checking plan/finalize
behavior against a fixed transcript without standing up the websocket
server.`,
		Example: `  bantzd replay --config bantz.yaml --file session.jsonl`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("bantzd: --file is required")
			}
			return runReplay(cmd.Context(), *configPath, *debug, file)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "path to a JSONL transcript of turn records")
	return cmd
}

type replayRecord struct {
	SessionID         string `json:"session_id"`
	Text              string `json:"text"`
	ConfirmationToken string `json:"confirmation_token,omitempty"`
}

func runReplay(ctx context.Context, configPath string, debug bool, file string) error {
	log := newLogger(loggingConfig{Debug: debug})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("bantzd: loading config: %w", err)
	}

	backends, err := buildLLMBackends(ctx)
	if err != nil {
		return err
	}

	permRules, err := cfg.PermissionRuleSet()
	if err != nil {
		return fmt.Errorf("bantzd: permission rules: %w", err)
	}

	toolTimeouts, err := cfg.ToolTimeoutOverrides()
	if err != nil {
		return fmt.Errorf("bantzd: tool timeouts: %w", err)
	}

	rt, err := orchestrator.CreateRuntime(orchestrator.RuntimeConfig{
		AuditPath:           cfg.Observability.AuditPath,
		AuditMaxBytes:       cfg.Observability.AuditMaxBytes,
		AuditMaxBackups:     cfg.Observability.AuditMaxBackups,
		AuditDisableRedact:  !cfg.Observability.AuditRedact,
		MetricsJSONLPath:    cfg.Observability.MetricsJSONLPath,
		PermissionRules:     permRules,
		RegistryConfig:      cfg.RegistryConfigValue(),
		ToolTimeouts:        toolTimeouts,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		VolumeThreshold:     cfg.VolumeThreshold,
		PoolSize:            cfg.PoolSize,
		ForceFinalizerTier:  cfg.ForceFinalizerTier,
		Quality:             backends.Quality,
		Fast:                backends.Fast,
		RouterClient:        backends.RouterClient,
	}, log)
	if err != nil {
		return fmt.Errorf("bantzd: creating runtime: %w", err)
	}
	defer rt.Shutdown(ctx)

	if err := registerDemoTools(rt.Registry, googleAuthConfigFromEnv()); err != nil {
		return fmt.Errorf("bantzd: registering tools: %w", err)
	}
	rt.RefreshValidTools()

	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("bantzd: opening transcript: %w", err)
	}
	defer f.Close()

	sessions := orchestrator.NewSessionManager()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec replayRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("bantzd: parsing transcript line %d: %w", lineNum, err)
		}

		state := sessions.Get(rec.SessionID)
		var out orchestrator.Output
		if rec.ConfirmationToken != "" {
			out, err = orchestrator.ResumeConfirmation(ctx, rt, rec.SessionID, rec.Text, state, rec.ConfirmationToken)
		} else {
			out, err = orchestrator.ProcessTurn(ctx, rt, rec.SessionID, rec.Text, state)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "line %d: turn failed: %v\n", lineNum, err)
			continue
		}

		printReplayResult(os.Stdout, lineNum, rec, out)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("bantzd: reading transcript: %w", err)
	}
	return nil
}

func printReplayResult(w io.Writer, lineNum int, rec replayRecord, out orchestrator.Output) {
	fmt.Fprintf(w, "[%d] session=%s tier=%s reply=%q", lineNum, rec.SessionID, out.Metadata.Tier, out.Reply)
	if out.Waiting != nil {
		fmt.Fprintf(w, " waiting_confirmation=%q", out.Waiting.ConfirmationToken)
	}
	fmt.Fprintln(w)
}
