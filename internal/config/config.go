// Package config loads and hot-reloads this kernel's runtime
// configuration: permission rules, tool registration requirements,
// per-tool timeout overrides, and the handful of thresholds the
// orchestration loop and finalization pipeline consult. Loading is a
// layered merge: read, expand env vars, decode YAML, merge over the
// coded-in defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miclaldogan/bantz-sub008/internal/permission"
	"github.com/miclaldogan/bantz-sub008/internal/registry"
)

// RuleYAML is the on-disk shape of a permission.Rule.
type RuleYAML struct {
	Tool          string `yaml:"tool"`
	Action        string `yaml:"action"`
	Decision      string `yaml:"decision"`
	Risk          string `yaml:"risk"`
	MaxPerSession int    `yaml:"max_per_session"`
	MaxPerDay     int    `yaml:"max_per_day"`
}

// ObservabilityConfig groups the metrics/audit/tracing knobs.
type ObservabilityConfig struct {
	MetricsJSONLPath  string `yaml:"metrics_jsonl_path"`
	AuditPath         string `yaml:"audit_path"`
	AuditMaxBytes     int64  `yaml:"audit_max_bytes"`
	AuditMaxBackups   int    `yaml:"audit_max_backups"`
	AuditRedact       bool   `yaml:"audit_redact"`
	RunTrackerEnabled bool   `yaml:"run_tracker"`
	RunTrackerDriver  string `yaml:"run_tracker_driver"`
	RunTrackerDSN     string `yaml:"run_tracker_dsn"`
}

// Config is the kernel's fully-decoded configuration.
type Config struct {
	PermissionRules     []RuleYAML          `yaml:"permission_rules"`
	MandatoryTools      []string            `yaml:"mandatory_tools"`
	RouteDependencies   map[string][]string `yaml:"route_dependencies"`
	ToolTimeouts        map[string]string   `yaml:"tool_timeouts"`
	ConfidenceThreshold float64             `yaml:"confidence_threshold"`
	VolumeThreshold     float64             `yaml:"volume_threshold"`
	PoolSize            int                 `yaml:"finalize_pool_size"`
	ForceFinalizerTier  string              `yaml:"force_finalizer_tier"`
	Observability       ObservabilityConfig `yaml:"observability"`
}

// Default returns the kernel's safe-fallback configuration, used when
// no file is supplied and as the base every loaded file is merged over.
func Default() Config {
	return Config{
		MandatoryTools: []string{"time.now", "system.status"},
		RouteDependencies: map[string][]string{
			"calendar": {"calendar.list_events"},
			"gmail":    {"gmail.list_messages"},
		},
		ConfidenceThreshold: 0.7,
		VolumeThreshold:     0.3,
		PoolSize:            4,
		Observability: ObservabilityConfig{
			MetricsJSONLPath: "data/metrics.jsonl",
			AuditPath:        "data/audit.log",
			AuditMaxBytes:    50 * 1024 * 1024,
			AuditMaxBackups:  5,
			AuditRedact:      true,
		},
	}
}

// Load reads path (YAML, with ${VAR} environment expansion) and merges
// it over Default(). An empty path returns Default() unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))

	var fromFile Config
	if err := yaml.Unmarshal([]byte(expanded), &fromFile); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return mergeOver(cfg, fromFile), nil
}

// mergeOver overlays any non-zero field of override onto base. Slices
// and maps replace wholesale rather than merging element-by-element:
// later file wins.
func mergeOver(base, override Config) Config {
	if override.PermissionRules != nil {
		base.PermissionRules = override.PermissionRules
	}
	if override.MandatoryTools != nil {
		base.MandatoryTools = override.MandatoryTools
	}
	if override.RouteDependencies != nil {
		base.RouteDependencies = override.RouteDependencies
	}
	if override.ToolTimeouts != nil {
		base.ToolTimeouts = override.ToolTimeouts
	}
	if override.ConfidenceThreshold != 0 {
		base.ConfidenceThreshold = override.ConfidenceThreshold
	}
	if override.VolumeThreshold != 0 {
		base.VolumeThreshold = override.VolumeThreshold
	}
	if override.PoolSize != 0 {
		base.PoolSize = override.PoolSize
	}
	if override.ForceFinalizerTier != "" {
		base.ForceFinalizerTier = override.ForceFinalizerTier
	}
	if override.Observability.MetricsJSONLPath != "" {
		base.Observability.MetricsJSONLPath = override.Observability.MetricsJSONLPath
	}
	if override.Observability.AuditPath != "" {
		base.Observability.AuditPath = override.Observability.AuditPath
	}
	if override.Observability.AuditMaxBytes != 0 {
		base.Observability.AuditMaxBytes = override.Observability.AuditMaxBytes
	}
	if override.Observability.AuditMaxBackups != 0 {
		base.Observability.AuditMaxBackups = override.Observability.AuditMaxBackups
	}
	base.Observability.AuditRedact = override.Observability.AuditRedact || base.Observability.AuditRedact
	base.Observability.RunTrackerEnabled = override.Observability.RunTrackerEnabled
	if override.Observability.RunTrackerDriver != "" {
		base.Observability.RunTrackerDriver = override.Observability.RunTrackerDriver
	}
	if override.Observability.RunTrackerDSN != "" {
		base.Observability.RunTrackerDSN = override.Observability.RunTrackerDSN
	}
	return base
}

// PermissionRuleSet projects the YAML rule list onto permission.Rule,
// validating each entry's decision/risk enums.
func (c Config) PermissionRuleSet() ([]permission.Rule, error) {
	out := make([]permission.Rule, 0, len(c.PermissionRules))
	for _, r := range c.PermissionRules {
		decision := permission.Decision(r.Decision)
		switch decision {
		case permission.DecisionAllow, permission.DecisionConfirm, permission.DecisionDeny:
		default:
			return nil, fmt.Errorf("config: invalid permission decision %q for rule %s:%s", r.Decision, r.Tool, r.Action)
		}
		risk := permission.Risk(r.Risk)
		switch risk {
		case permission.RiskLow, permission.RiskMedium, permission.RiskHigh, permission.RiskCritical, "":
		default:
			return nil, fmt.Errorf("config: invalid permission risk %q for rule %s:%s", r.Risk, r.Tool, r.Action)
		}
		out = append(out, permission.Rule{
			Tool:          r.Tool,
			Action:        r.Action,
			Decision:      decision,
			Risk:          risk,
			MaxPerSession: r.MaxPerSession,
			MaxPerDay:     r.MaxPerDay,
		})
	}
	return out, nil
}

// RegistryConfigValue projects the mandatory-tools/route-dependency
// lists onto registry.Config. When both lists are empty it returns
// registry.DefaultConfig(); when either is set, the configured lists are
// used as they are, with no per-entry fallback to the defaults.
func (c Config) RegistryConfigValue() registry.Config {
	if len(c.MandatoryTools) == 0 && len(c.RouteDependencies) == 0 {
		return registry.DefaultConfig()
	}
	mandatory := make(map[string]bool, len(c.MandatoryTools))
	for _, t := range c.MandatoryTools {
		mandatory[t] = true
	}
	return registry.Config{
		MandatoryTools:    mandatory,
		RouteDependencies: c.RouteDependencies,
	}
}

// ToolTimeoutOverrides parses the tool_timeouts map's duration strings
// (e.g. "15s") into a tool-name -> time.Duration map, returning an error
// for the first entry that fails to parse.
func (c Config) ToolTimeoutOverrides() (map[string]time.Duration, error) {
	out := make(map[string]time.Duration, len(c.ToolTimeouts))
	for tool, raw := range c.ToolTimeouts {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("config: invalid timeout %q for tool %s: %w", raw, tool, err)
		}
		out[tool] = d
	}
	return out, nil
}
