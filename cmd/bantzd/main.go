// Package main provides the CLI entry point for the bantz voice+text
// conversational orchestration kernel.
//
// bantzd wires the plan -> confirm -> execute -> verify -> finalize ->
// speak turn pipeline (internal/orchestrator) to a demo tool registry, a
// configurable LLM backend (Anthropic, OpenAI, or Bedrock), and a
// websocket turn transport.
//
// # Basic usage
//
// Start the server:
//
//	bantzd serve --config bantz.yaml
//
// Validate a configuration's tool registry without starting a server:
//
//	bantzd validate-config --config bantz.yaml
//
// Replay a recorded JSONL transcript of turns offline:
//
//	bantzd replay --config bantz.yaml --file session.jsonl
//
// # Environment variables
//
//   - BANTZ_CONFIG: path to the YAML configuration file
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY, AWS credentials: LLM backend credentials
//   - GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET, GOOGLE_REFRESH_TOKEN: Calendar/Gmail/Contacts auth
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	var debug bool

	cmd := &cobra.Command{
		Use:   "bantzd",
		Short: "Voice+text conversational orchestration kernel",
		Long: `bantzd runs the plan -> confirm -> execute -> verify -> finalize -> speak
turn pipeline over a registered tool set and a configured LLM backend.`,
		Version: fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("BANTZ_CONFIG"), "path to YAML configuration file")
	cmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug-level logging")

	cmd.AddCommand(
		buildServeCmd(&configPath, &debug),
		buildValidateConfigCmd(&configPath, &debug),
		buildReplayCmd(&configPath, &debug),
	)

	return cmd
}
