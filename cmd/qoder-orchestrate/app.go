package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/francisykl/qoder-cli-orchestrator/internal/backend"
	"github.com/francisykl/qoder-cli-orchestrator/internal/cache"
	"github.com/francisykl/qoder-cli-orchestrator/internal/checkpoint"
	"github.com/francisykl/qoder-cli-orchestrator/internal/config"
	"github.com/francisykl/qoder-cli-orchestrator/internal/events"
	"github.com/francisykl/qoder-cli-orchestrator/internal/orchestrator"
	"github.com/francisykl/qoder-cli-orchestrator/internal/persistence"
	"github.com/francisykl/qoder-cli-orchestrator/internal/planner"
	"github.com/francisykl/qoder-cli-orchestrator/internal/projectctx"
	"github.com/francisykl/qoder-cli-orchestrator/internal/retry"
	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
	"github.com/francisykl/qoder-cli-orchestrator/internal/vcs"
)

// app holds the components shared by the run, resume and plan commands.
type app struct {
	cfg     *config.Config
	dir     string
	pm      *backend.ProcessManager
	agent   backend.Agent
	bus     *events.EventBus
	cache   *cache.Cache[string]
	store   persistence.PlanStore
	planner *planner.Planner
	project *projectctx.Store
	git     *vcs.Git

	logFile  io.Closer
	stopKill func() bool
}

// newApp builds the agent, stores and project context for dir. Agent
// subprocesses are killed when ctx is cancelled. console receives log
// output in addition to the log file; pass io.Discard when a dashboard owns
// the terminal.
func newApp(ctx context.Context, cfg *config.Config, dir string, console io.Writer) (*app, error) {
	a := &app{cfg: cfg, dir: dir, pm: backend.NewProcessManager(), git: vcs.New(dir)}

	logFile, err := setupLogging(cfg.LogLevel, resolve(dir, cfg.LogFile), console)
	if err != nil {
		return nil, err
	}
	a.logFile = logFile

	a.stopKill = context.AfterFunc(ctx, func() {
		log.Printf("WARNING: shutdown requested, stopping agent processes")
		if err := a.pm.KillAll(); err != nil {
			log.Printf("ERROR: failed to kill agent processes: %v", err)
		}
	})

	a.agent, err = backend.New(a.agentConfig(), a.pm)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.planner, err = planner.New(a.agent, dir, scheduler.Rules{})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.cache = openCache(cfg, dir)

	a.project, err = projectctx.Load(dir, a.cache, a.planner, a.git)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store, err = persistence.Open(ctx, cfg.Persistence.Backend, resolve(dir, cfg.Persistence.Path), dir)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.bus = events.NewEventBus()
	return a, nil
}

func (a *app) agentConfig() backend.Config {
	return backend.Config{
		Type:         a.cfg.Agent.Type,
		Command:      a.cfg.Agent.Command,
		Args:         a.cfg.Agent.Args,
		Model:        a.cfg.Agent.Model,
		SystemPrompt: a.cfg.Agent.SystemPrompt,
		WorkDir:      a.dir,
	}
}

func openCache(cfg *config.Config, dir string) *cache.Cache[string] {
	return cache.New[string](cache.Options{
		Enabled:      cfg.Cache.Enabled,
		MaxBytes:     int64(cfg.Cache.MaxSizeMB) * 1024 * 1024,
		TTL:          cfg.Cache.TTL,
		Dir:          resolve(dir, cfg.Cache.Dir),
		PersistEvery: cfg.Cache.PersistEvery,
	})
}

// coordinator wires a Coordinator from the app's components.
func (a *app) coordinator(ctx context.Context) (*orchestrator.Coordinator, error) {
	kinds := make([]retry.Kind, len(a.cfg.Retry.RetryOnErrors))
	for i, k := range a.cfg.Retry.RetryOnErrors {
		kinds[i] = retry.Kind(k)
	}

	registry, err := orchestrator.LoadRegistry(filepath.Join(a.dir, orchestrator.DefaultRegistryFile))
	if err != nil {
		log.Printf("WARNING: %v; starting with an empty integration registry", err)
		registry, _ = orchestrator.LoadRegistry("")
	}

	var transcripts persistence.TranscriptStore
	if ts, ok := a.store.(persistence.TranscriptStore); ok {
		transcripts = ts
	}

	ex := a.cfg.Execution
	return orchestrator.New(orchestrator.Config{
		MaxParallel:         ex.MaxParallel,
		MaxIterations:       ex.MaxIterations,
		TaskTimeout:         ex.TaskTimeout,
		MaxPromptChars:      ex.MaxPromptChars,
		EnableBatching:      ex.EnableBatchProcessing,
		SimilarityThreshold: ex.BatchSimilarityThreshold,
		EnableReplanning:    ex.EnableReplanning,
		WorkDir:             a.dir,
		AgentType:           a.cfg.Agent.Type,

		Agent:   a.agent,
		Planner: a.planner,
		Context: a.project,
		Retry: retry.NewStrategy(retry.Config{
			MaxAttempts:   a.cfg.Retry.MaxAttempts,
			BackoffFactor: a.cfg.Retry.BackoffFactor,
			MaxBackoff:    a.cfg.Retry.MaxBackoff,
			RetryOn:       kinds,
		}),
		Breakers: retry.NewBreakerRegistry(retry.BreakerSettings{}),
		Checkpoints: checkpoint.NewManager(ctx, a.git, checkpoint.Config{
			Enabled:           a.cfg.Rollback.Enabled,
			CreateCheckpoints: a.cfg.Rollback.CreateCheckpoints,
			Keep:              a.cfg.Rollback.KeepCheckpoints,
			AutoRollback:      a.cfg.Rollback.AutoRollbackOnFailure,
		}),
		Store:       a.store,
		Transcripts: transcripts,
		Registry:    registry,
		Bus:         a.bus,
	})
}

// Close persists the cache and releases stores and log files.
func (a *app) Close() {
	if a.stopKill != nil {
		a.stopKill()
	}
	if a.bus != nil {
		a.bus.Close()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			log.Printf("WARNING: failed to persist cache: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("WARNING: failed to close plan store: %v", err)
		}
	}
	if a.logFile != nil {
		log.SetOutput(os.Stderr)
		a.logFile.Close()
	}
}

// printCacheStats writes the cache counters, as shown after a run and by
// "cache stats".
func printCacheStats(w io.Writer, s cache.Stats) {
	if !s.Enabled {
		fmt.Fprintln(w, "Cache: disabled")
		return
	}
	fmt.Fprintf(w, "Cache: %d entries, %.1f/%.1f MB, hit rate %.0f%% (%d hits, %d misses)\n",
		s.Entries, float64(s.Size)/(1024*1024), float64(s.MaxSize)/(1024*1024), s.HitRate*100, s.Hits, s.Misses)
}
