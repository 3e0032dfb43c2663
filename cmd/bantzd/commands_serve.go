package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miclaldogan/bantz-sub008/internal/bargein"
	"github.com/miclaldogan/bantz-sub008/internal/config"
	"github.com/miclaldogan/bantz-sub008/internal/metrics"
	"github.com/miclaldogan/bantz-sub008/internal/orchestrator"
	"github.com/miclaldogan/bantz-sub008/internal/registry"
	"github.com/miclaldogan/bantz-sub008/internal/runtracker"
	"github.com/miclaldogan/bantz-sub008/internal/sweep"
	"github.com/miclaldogan/bantz-sub008/internal/tracing"
)

func buildServeCmd(configPath *string, debug *bool) *cobra.Command {
	var addr string
	var logFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration kernel's websocket turn server",
		Long: `serve builds the orchestrator.Runtime (router, finalizer, tool
registry, permission/safety gates) from the configured backends and
accepts turns over a websocket control plane, one connection per
session. Graceful shutdown runs on SIGINT/SIGTERM.`,
		Example: `  bantzd serve --config bantz.yaml --addr :8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), serveOptions{
				ConfigPath: *configPath,
				Debug:      *debug,
				Addr:       addr,
				LogFile:    logFile,
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address the websocket turn server listens on")
	cmd.Flags().StringVar(&logFile, "log-file", "", "rotate structured logs to this file instead of stderr")
	return cmd
}

type serveOptions struct {
	ConfigPath string
	Debug      bool
	Addr       string
	LogFile    string
}

func runServe(ctx context.Context, opts serveOptions) error {
	log := newLogger(loggingConfig{LogFile: opts.LogFile, Debug: opts.Debug})

	cfg, err := config.Load(opts.ConfigPath)
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

	var runTracker runtracker.Tracker
	if cfg.Observability.RunTrackerEnabled {
		runTracker, err = runtracker.NewSQLTracker(
			cfg.Observability.RunTrackerDriver,
			cfg.Observability.RunTrackerDSN,
			runtracker.DefaultSQLConfig(),
		)
		if err != nil {
			return fmt.Errorf("bantzd: opening run tracker: %w", err)
		}
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
		RunTracker:          runTracker,
		Tracing: tracing.Config{
			ServiceName: "bantzd",
			Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:    os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
		},
	}, log)
	if err != nil {
		return fmt.Errorf("bantzd: creating runtime: %w", err)
	}

	if err := registerDemoTools(rt.Registry, googleAuthConfigFromEnv()); err != nil {
		return fmt.Errorf("bantzd: registering tools: %w", err)
	}
	rt.RefreshValidTools()

	report := registry.ValidateRegistry(ctx, rt.Registry, cfg.RegistryConfigValue())
	if !report.OK {
		log.Error("tool registry missing mandatory tools", "missing", report.MissingMandatory)
		return fmt.Errorf("bantzd: registry validation failed: %v", report.Errors)
	}
	for _, w := range report.Warnings {
		log.Warn("registry validation warning", "warning", w)
	}

	sessions := orchestrator.NewSessionManager()

	scheduler, err := sweep.New(sweep.Config{}, sessions, rt.RunTracker, log)
	if err != nil {
		return fmt.Errorf("bantzd: creating sweep scheduler: %w", err)
	}
	scheduler.Start()

	promBridge := metrics.NewPrometheusBridge()
	rt.Metrics.AddSink(promBridge.Sink())

	server := newTurnServer(rt, sessions, log)
	server.metricsHandler = promhttp.HandlerFor(promBridge.Registry(), promhttp.HandlerOpts{})
	httpServer := &http.Server{Addr: opts.Addr, Handler: server}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// SIGINT escalates through the interrupt controller: a first Ctrl-C
	// cancels, a second within the window stops the server. SIGTERM
	// stops immediately.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGTERM || rt.Interrupt.HandleCtrlC() == orchestrator.SignalStop {
				cancel()
				return
			}
			log.Info("interrupt received, press Ctrl-C again to stop")
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		log.Info("bantzd listening", "addr", opts.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		log.Error("turn server failed", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	_ = httpServer.Shutdown(shutdownCtx)
	_ = scheduler.Stop(shutdownCtx)
	for _, r := range rt.Shutdown(shutdownCtx) {
		if r.Error != nil {
			log.Error("shutdown phase failed", "phase", r.Name, "error", r.Error)
		}
	}

	log.Info("bantzd stopped")
	return nil
}

// turnServer is the websocket control plane: one connection carries one
// session's turns, framed as JSON envelopes. The kernel only exposes
// two operations (submit a turn, resume a pending confirmation), so no
// richer RPC framing is needed.
type turnServer struct {
	rt             *orchestrator.Runtime
	sessions       *orchestrator.SessionManager
	log            *slog.Logger
	upgrader       websocket.Upgrader
	metricsHandler http.Handler
}

func newTurnServer(rt *orchestrator.Runtime, sessions *orchestrator.SessionManager, log *slog.Logger) *turnServer {
	return &turnServer{
		rt:       rt,
		sessions: sessions,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// turnFrame is the wire envelope for one request/response pair over the
// websocket connection.
type turnFrame struct {
	Type               string `json:"type"`
	SessionID          string `json:"session_id,omitempty"`
	Text               string `json:"text,omitempty"`
	ConfirmationToken  string `json:"confirmation_token,omitempty"`
	Error              string `json:"error,omitempty"`
	Reply              string `json:"reply,omitempty"`
	Waiting            bool   `json:"waiting,omitempty"`
	WaitingToken       string `json:"waiting_confirmation_token,omitempty"`
	ConfirmationPrompt string `json:"confirmation_prompt,omitempty"`
	Cancelled          bool   `json:"cancelled,omitempty"`
}

func (s *turnServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/healthz" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.URL.Path == "/metrics" && s.metricsHandler != nil {
		s.metricsHandler.ServeHTTP(w, r)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	s.log.Info("turn connection opened", "conn_id", connID)

	for {
		var frame turnFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("turn connection read error", "conn_id", connID, "error", err)
			}
			return
		}

		resp := s.handleFrame(r.Context(), frame)
		if err := conn.WriteJSON(resp); err != nil {
			s.log.Warn("turn connection write error", "conn_id", connID, "error", err)
			return
		}
	}
}

func (s *turnServer) handleFrame(ctx context.Context, frame turnFrame) turnFrame {
	if frame.SessionID == "" {
		return turnFrame{Type: "error", Error: "session_id is required"}
	}
	state := s.sessions.Get(frame.SessionID)

	var out orchestrator.Output
	var err error
	switch frame.Type {
	case "turn":
		// Spoken interrupt commands short-circuit the pipeline: they are
		// signalled, acknowledged, and never routed through the planner.
		if sigType, ok := orchestrator.DetectKeyword(frame.Text); ok {
			s.rt.Interrupt.Signal(sigType, "voice_keyword", map[string]any{"text": frame.Text})
			return turnFrame{Type: "reply", SessionID: frame.SessionID, Reply: bargein.Acknowledgment}
		}
		out, err = orchestrator.ProcessTurn(ctx, s.rt, frame.SessionID, frame.Text, state)
	case "confirm":
		out, err = orchestrator.ResumeConfirmation(ctx, s.rt, frame.SessionID, frame.Text, state, frame.ConfirmationToken)
	default:
		return turnFrame{Type: "error", Error: fmt.Sprintf("unknown frame type %q", frame.Type)}
	}
	if err != nil {
		return turnFrame{Type: "error", Error: err.Error()}
	}

	resp := turnFrame{Type: "reply", SessionID: frame.SessionID, Reply: out.Reply, Cancelled: out.TurnCancelled}
	if out.Waiting != nil {
		resp.Waiting = true
		resp.WaitingToken = out.Waiting.ConfirmationToken
		resp.ConfirmationPrompt = out.Waiting.ConfirmationPrompt
	}
	return resp
}
