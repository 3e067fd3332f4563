// Package engine wires internal/config's process-wide Config into the
// concrete collaborators a Registry needs: signal bus, checkpoint store,
// render queue, renderer registry, and telemetry sink.
package engine

import (
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jidohq/sessiond/internal/checkpoint"
	"github.com/jidohq/sessiond/internal/config"
	"github.com/jidohq/sessiond/internal/registry"
	"github.com/jidohq/sessiond/internal/renderer"
	"github.com/jidohq/sessiond/internal/renderqueue"
	"github.com/jidohq/sessiond/internal/safety"
	"github.com/jidohq/sessiond/internal/session"
	"github.com/jidohq/sessiond/internal/signalbus"
	"github.com/jidohq/sessiond/internal/telemetry"
)

// Engine bundles a Registry with the telemetry sink that outlives it (so
// callers can Close it on shutdown).
type Engine struct {
	Registry  *registry.Registry
	Telemetry *telemetry.Sink
	Config    *config.Config
}

// New constructs an Engine from cfg. Telemetry is best-effort: a failure
// to open the sink degrades to a nil Sink (every session command already
// treats a nil telemetry sink as a no-op) rather than failing startup.
func New(cfg *config.Config) (*Engine, error) {
	bus := signalbus.New(cfg.Signals.MaxPayloadBytes)

	checkpoints := checkpoint.NewStore(cfg.Session.CheckpointDir)

	rendererRegistry := renderer.NewRegistry(renderer.NewGoldmarkAdapter())

	queueOpts := renderqueue.Options{
		MaxQueueSize: cfg.Renderer.MaxQueueSize,
		DebounceMs:   cfg.Renderer.DebounceMs,
	}
	if cfg.Renderer.QueueLimit > 0 {
		queueOpts.RateLimit = rate.Limit(cfg.Renderer.QueueLimit)
		queueOpts.RateBurst = cfg.Renderer.QueueLimit
	}
	renderQueue := renderqueue.New(rendererRegistry, queueOpts)

	sink, _ := telemetry.Open(cfg.Telemetry.DBPath)

	deps := session.Deps{
		Bus:         bus,
		Checkpoints: checkpoints,
		RenderQueue: renderQueue,
		Renderers:   rendererRegistry,
		Telemetry:   sink,
		Logger:      slog.Default(),
	}

	sessionOpts := session.Options{
		WorkspaceRoot:      cfg.Workspace.Root,
		HistoryLimit:       cfg.Session.HistoryLimit,
		CheckpointOnEdit:   cfg.Session.CheckpointOnEdit,
		AutosaveIntervalMs: cfg.Session.AutosaveIntervalMs,
		Safety:             safetyConfig(cfg),
	}

	reg := registry.New(deps, registry.Options{
		SweepInterval:  time.Duration(cfg.Session.CleanupIntervalMs) * time.Millisecond,
		IdleTimeout:    time.Duration(cfg.Session.IdleTimeoutMs) * time.Millisecond,
		SessionOptions: sessionOpts,
	})

	return &Engine{Registry: reg, Telemetry: sink, Config: cfg}, nil
}

// Close releases the engine's telemetry sink.
func (e *Engine) Close() error {
	return e.Telemetry.Close()
}

func safetyConfig(cfg *config.Config) safety.Config {
	var rules []safety.Rule
	for _, r := range cfg.Safety.Rules {
		re, err := regexp.Compile(r.Regex)
		if err != nil {
			continue
		}
		rules = append(rules, safety.Rule{Code: r.Code, Severity: safety.Severity(r.Severity), Regex: re})
	}

	var blockSeverities []safety.Severity
	for _, s := range cfg.Safety.BlockSeverities {
		blockSeverities = append(blockSeverities, safety.Severity(strings.ToLower(s)))
	}

	return safety.Config{
		Rules:           rules,
		ApprovedCodes:   cfg.Safety.ApprovedCodes,
		BlockSeverities: blockSeverities,
		Mask:            cfg.Safety.Mask,
	}
}
