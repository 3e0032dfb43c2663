package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/miclaldogan/bantz-sub008/internal/config"
	"github.com/miclaldogan/bantz-sub008/internal/registry"
)

func buildValidateConfigCmd(configPath *string, debug *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-config",
		Short: "Validate the tool registry against the configured mandatory tools and route dependencies",
		Long: `validate-config registers the same demo tool set serve would, then
reports any missing mandatory tool, any route whose dependencies are
incompletely registered, and the result of every tool's health probe.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidateConfig(cmd.Context(), *configPath, *debug)
		},
	}
	return cmd
}

func runValidateConfig(ctx context.Context, configPath string, debug bool) error {
	log := newLogger(loggingConfig{Debug: debug})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("bantzd: loading config: %w", err)
	}

	reg := registry.New()
	if err := registerDemoTools(reg, googleAuthConfigFromEnv()); err != nil {
		return fmt.Errorf("bantzd: registering tools: %w", err)
	}

	report := registry.ValidateRegistry(ctx, reg, cfg.RegistryConfigValue())

	log.Info("registry validation complete",
		"ok", report.OK,
		"healthy", report.Healthy,
		"registered_tools", report.RegisteredTools,
	)
	for _, e := range report.Errors {
		log.Error("validation error", "error", e)
	}
	for _, w := range report.Warnings {
		log.Warn("validation warning", "warning", w)
	}
	for _, h := range report.HealthResults {
		if !h.Healthy {
			log.Error("tool health check failed", "tool", h.Tool, "error", h.Error)
		}
	}

	if !report.OK {
		return fmt.Errorf("bantzd: registry validation failed: %d error(s)", len(report.Errors))
	}
	if !report.Healthy {
		return fmt.Errorf("bantzd: one or more tools failed their health check")
	}
	return nil
}
