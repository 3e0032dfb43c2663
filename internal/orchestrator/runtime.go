package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/miclaldogan/bantz-sub008/internal/auditlog"
	"github.com/miclaldogan/bantz-sub008/internal/bargein"
	"github.com/miclaldogan/bantz-sub008/internal/eventbus"
	"github.com/miclaldogan/bantz-sub008/internal/finalize"
	"github.com/miclaldogan/bantz-sub008/internal/fsm"
	"github.com/miclaldogan/bantz-sub008/internal/infra"
	"github.com/miclaldogan/bantz-sub008/internal/metrics"
	"github.com/miclaldogan/bantz-sub008/internal/permission"
	"github.com/miclaldogan/bantz-sub008/internal/registry"
	"github.com/miclaldogan/bantz-sub008/internal/router"
	"github.com/miclaldogan/bantz-sub008/internal/runtracker"
	"github.com/miclaldogan/bantz-sub008/internal/safety"
	"github.com/miclaldogan/bantz-sub008/internal/toolexec"
	"github.com/miclaldogan/bantz-sub008/internal/tracing"
	"github.com/miclaldogan/bantz-sub008/internal/voicegate"
)

// Runtime bundles every component the turn loop needs into one explicit
// dependency container: nothing here is a package-level global, every
// phase of ProcessTurn reaches its collaborators through a *Runtime
// passed down the call graph. CreateRuntime constructs one; Shutdown
// tears it down.
type Runtime struct {
	Bus        *eventbus.Bus
	Metrics    *metrics.Collector
	Audit      *auditlog.Logger
	Registry   *registry.Registry
	Permission *permission.Engine
	Safety     *safety.Classifier
	ToolExec   *toolexec.Manager
	Router     *router.Router
	Finalize   *finalize.Pipeline
	TierPolicy *finalize.TierPolicy
	Pool       *finalize.Pool
	VoiceGate  *voicegate.Gate
	FSM        *fsm.FSM
	Bridge     *Bridge
	BargeIn    *bargein.Handler
	Interrupt  *InterruptController
	Tracer     *tracing.Tracer
	RunTracker runtracker.Tracker

	Log *slog.Logger

	// shutdown coordinates graceful teardown of the Pool and any other
	// registered component through phased handlers.
	shutdown *infra.ShutdownCoordinator

	// ValidTools names every tool plan verification treats as
	// addressable; normally Registry.Names() projected into a set,
	// refreshed whenever tools are (un)registered.
	ValidTools map[string]bool

	// ConfidenceThreshold gates the planning phase's ask-user
	// short-circuit. 0.3 remains the router's own conservative default
	// for a missing/unparsable confidence field, a distinct knob.
	ConfidenceThreshold float64

	// ToolAction maps a registered tool name to the safety classifier's
	// action vocabulary (e.g. "calendar.create_event" -> "calendar_create").
	// A tool with no explicit mapping classifies as "api_call".
	ToolAction map[string]string

	// MemoryLookup and MemoryUpdate are the side channel to a long-term
	// memory store the kernel does not itself implement. Both may be
	// nil.
	MemoryLookup func(userInput string) string
	MemoryUpdate func(update string)
}

// RuntimeConfig is the minimal set of knobs CreateRuntime needs; callers
// normally populate this from internal/config.
type RuntimeConfig struct {
	AuditPath           string
	AuditMaxBytes       int64
	AuditMaxBackups     int
	AuditDisableRedact  bool
	MetricsJSONLPath    string
	PermissionRules     []permission.Rule
	RegistryConfig      registry.Config
	ToolTimeouts        map[string]time.Duration
	ConfidenceThreshold float64
	VolumeThreshold     float64
	PoolSize            int
	ForceFinalizerTier  string
	Quality             finalize.ChatClient
	Fast                finalize.ChatClient
	RouterClient        router.LLMClient
	QualityAvailable    func() bool
	Tracing             tracing.Config
	RunTracker          runtracker.Tracker
}

// DefaultToolActions is the tool-name -> classifier-action mapping used
// when no override is supplied.
var DefaultToolActions = map[string]string{
	"calendar.list_events":     "calendar_access",
	"calendar.find_free_slots": "calendar_access",
	"calendar.create_event":    "calendar_create",
	"calendar.update_event":    "calendar_create",
	"calendar.delete_event":    "delete_file",
	"gmail.list_messages":      "read_clipboard",
	"gmail.get_message":        "read_clipboard",
	"gmail.smart_search":       "read_clipboard",
	"gmail.send":               "send_email",
	"gmail.generate_reply":     "send_email",
	"gmail.archive":            "api_call",
	"system.status":            "get_time",
	"system.open_app":          "api_call",
	"system.shutdown":          "system_shutdown",
	"system.execute_command":   "execute_command",
	"browser.open":             "browser_open",
	"browser.search":           "web_search",
	"time.now":                 "get_time",
	"contacts.list":            "read_clipboard",
	"contacts.resolve":         "read_clipboard",
}

// CreateRuntime constructs a Runtime from cfg, wiring every component
// together. The caller is responsible for calling Shutdown when the
// process (or test) is done with it.
func CreateRuntime(cfg RuntimeConfig, log *slog.Logger) (*Runtime, error) {
	if log == nil {
		log = slog.Default()
	}

	bus := eventbus.New(eventbus.WithLogger(log))

	metricsCfg := metrics.Config{JSONLPath: cfg.MetricsJSONLPath}
	metricsCollector := metrics.New(metricsCfg)

	auditLogger, err := auditlog.New(auditlog.Config{
		Path:       cfg.AuditPath,
		MaxBytes:   cfg.AuditMaxBytes,
		MaxBackups: cfg.AuditMaxBackups,
		Redact:     !cfg.AuditDisableRedact,
	})
	if err != nil {
		return nil, err
	}

	reg := registry.New()

	permEngine := permission.New(cfg.PermissionRules)

	classifier := safety.NewClassifier()

	execManager := toolexec.New(toolexec.WithLogger(log), toolexec.WithToolTimeouts(cfg.ToolTimeouts))

	llmRouter := router.New(cfg.RouterClient, router.WithLogger(log))

	poolSize := cfg.PoolSize
	pool := finalize.NewPool(poolSize)

	qualityAvail := cfg.QualityAvailable
	if qualityAvail == nil {
		quality := cfg.Quality
		qualityAvail = func() bool { return quality != nil }
	}
	tierPolicy := finalize.NewTierPolicy(
		finalize.WithQualityAvailable(qualityAvail),
		finalize.WithForcedTier(cfg.ForceFinalizerTier),
	)

	pipeline := finalize.NewPipeline(cfg.Quality, cfg.Fast, tierPolicy, pool,
		finalize.WithMetrics(metricsCollector), finalize.WithLogger(log))

	machine := fsm.New(fsm.WithLogger(log))
	bridge := NewBridge(machine, bus, log)

	gate := voicegate.New(voicegate.WithLogger(log))
	for _, st := range fsm.AllStates() {
		machine.OnEnter(st, func(from, to fsm.State, event fsm.Event) {
			gate.OnFSMStateChange(from, to)
		})
	}

	volumeThreshold := cfg.VolumeThreshold
	if volumeThreshold <= 0 {
		volumeThreshold = 0.3
	}
	bargeHandler := bargein.New(
		bargein.WithVolumeThreshold(volumeThreshold),
		bargein.WithEventBus(bus),
		bargein.WithLogger(log),
	)

	interrupt := NewInterruptController(WithLogger(log))

	confThreshold := cfg.ConfidenceThreshold
	if confThreshold <= 0 {
		confThreshold = 0.7
	}

	tracer, tracerShutdown := tracing.New(cfg.Tracing)

	runTracker := cfg.RunTracker
	if runTracker == nil {
		runTracker = runtracker.NewMemoryTracker()
	}

	shutdown := infra.NewShutdownCoordinator(15*time.Second, log)
	shutdown.RegisterService("finalize.pool", pool.Shutdown)
	shutdown.RegisterFunc("metrics.flush", infra.PhaseCleanup, func(context.Context) error {
		_, err := metricsCollector.Flush()
		return err
	})
	shutdown.RegisterFunc("tracing.shutdown", infra.PhaseConnections, tracerShutdown)
	shutdown.RegisterConnection("runtracker.close", func(context.Context) error { return runTracker.Close() })

	return &Runtime{
		Bus:                 bus,
		Metrics:             metricsCollector,
		Audit:               auditLogger,
		Registry:            reg,
		Permission:          permEngine,
		Safety:              classifier,
		ToolExec:            execManager,
		Router:              llmRouter,
		Finalize:            pipeline,
		TierPolicy:          tierPolicy,
		Pool:                pool,
		VoiceGate:           gate,
		FSM:                 machine,
		Bridge:              bridge,
		BargeIn:             bargeHandler,
		Interrupt:           interrupt,
		Tracer:              tracer,
		RunTracker:          runTracker,
		Log:                 log,
		shutdown:            shutdown,
		ValidTools:          map[string]bool{},
		ConfidenceThreshold: confThreshold,
		ToolAction:          DefaultToolActions,
	}, nil
}

// Shutdown drains the finalize pool and flushes metrics through the
// phased shutdown coordinator.
func (rt *Runtime) Shutdown(ctx context.Context) []infra.ShutdownResult {
	return rt.shutdown.Shutdown(ctx)
}

// RefreshValidTools rebuilds rt.ValidTools from the current registry
// contents; callers invoke this after registering or removing tools.
func (rt *Runtime) RefreshValidTools() {
	names := rt.Registry.Names()
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	rt.ValidTools = set
}

// ActionFor maps tool to its safety-classifier action, per rt.ToolAction
// with an "api_call" default for unmapped tools.
func (rt *Runtime) ActionFor(tool string) string {
	if a, ok := rt.ToolAction[tool]; ok {
		return a
	}
	return "api_call"
}
