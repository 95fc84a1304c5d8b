// Package orchestrator drives a plan to completion: it decides whether to
// continue, picks conflict-free waves, runs them on a bounded worker pool
// and folds the results back into the task graph.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/francisykl/qoder-cli-orchestrator/internal/backend"
	"github.com/francisykl/qoder-cli-orchestrator/internal/checkpoint"
	"github.com/francisykl/qoder-cli-orchestrator/internal/events"
	"github.com/francisykl/qoder-cli-orchestrator/internal/persistence"
	"github.com/francisykl/qoder-cli-orchestrator/internal/retry"
	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
	"github.com/oklog/ulid/v2"
)

// ErrNoPlan is returned by Execute and Resume when there is nothing to run.
var ErrNoPlan = errors.New("no plan loaded")

// Planner decomposes and refines objectives. *planner.Planner implements it.
type Planner interface {
	Split(ctx context.Context, objective, projectContext string) ([]*scheduler.Task, error)
	Refine(ctx context.Context, objective string, current []*scheduler.Task, trigger *scheduler.Task, projectContext string) ([]*scheduler.Task, error)
}

// ContextProvider supplies project knowledge. *projectctx.Store implements it.
type ContextProvider interface {
	Rules() string
	ForTask(t *scheduler.Task) string
	Summary(ctx context.Context) string
}

// DeviationRecorder keeps the output of tasks that departed from the
// documented approach. *projectctx.Store implements it; a ContextProvider
// that also implements it receives every deviation.
type DeviationRecorder interface {
	RecordDeviation(t *scheduler.Task, marker, output string) error
}

// Config configures a Coordinator. Only Agent is required.
type Config struct {
	MaxParallel         int           // Worker pool size and wave size (default 3)
	MaxIterations       int           // Waves per Execute call (default 10)
	TaskTimeout         time.Duration // Per agent invocation (default 5m)
	MaxPromptChars      int           // Prompts are truncated past this (default 12000)
	EnableBatching      bool
	SimilarityThreshold float64 // Batch grouping threshold (default 0.7)
	EnableReplanning    bool
	WorkDir             string
	AgentType           string // Recorded with agent sessions

	Agent       backend.Agent
	Planner     Planner
	Context     ContextProvider
	Retry       *retry.Strategy
	Breakers    *retry.BreakerRegistry
	Checkpoints *checkpoint.Manager
	Store       persistence.PlanStore
	Transcripts persistence.TranscriptStore
	Registry    *Registry
	Bus         *events.EventBus
	ReplanRules scheduler.Rules
}

func (c Config) withDefaults() Config {
	if c.MaxParallel <= 0 {
		c.MaxParallel = 3
	}
	if c.MaxIterations <= 0 {
		c.MaxIterations = 10
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 5 * time.Minute
	}
	if c.MaxPromptChars <= 0 {
		c.MaxPromptChars = 12000
	}
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = scheduler.DefaultSimilarityThreshold
	}
	if c.Retry == nil {
		c.Retry = retry.NewStrategy(retry.DefaultConfig())
	}
	return c
}

// Coordinator runs one orchestration. The loop itself is single-threaded;
// only agent invocations run concurrently, and the task graph is updated
// after every wave has been joined.
type Coordinator struct {
	cfg     Config
	locks   *scheduler.ResourceLockManager
	grouper *scheduler.Grouper
	trigger *scheduler.ReplanTrigger

	mu        sync.Mutex
	dag       *scheduler.DAG
	state     State
	reason    string
	objective string
	runID     string
	iteration int
}

// New creates a coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Agent == nil {
		return nil, errors.New("orchestrator: an agent is required")
	}
	cfg = cfg.withDefaults()
	return &Coordinator{
		cfg:     cfg,
		locks:   scheduler.NewResourceLockManager(),
		grouper: scheduler.NewGrouper(cfg.SimilarityThreshold),
		trigger: scheduler.NewReplanTrigger(cfg.ReplanRules),
		state:   StateIdle,
	}, nil
}

// Run plans objective and executes the resulting graph.
func (c *Coordinator) Run(ctx context.Context, objective string) (*Summary, error) {
	tasks, err := c.Plan(ctx, objective)
	if err != nil {
		return nil, err
	}
	if err := c.Load(&persistence.Plan{Prompt: objective, Tasks: tasks}); err != nil {
		c.setState(StateStopped, "invalid plan")
		return nil, err
	}

	return c.Execute(ctx)
}

// Plan decomposes objective into a validated task list without running it.
func (c *Coordinator) Plan(ctx context.Context, objective string) ([]*scheduler.Task, error) {
	if c.cfg.Planner == nil {
		return nil, errors.New("orchestrator: no planner configured")
	}

	c.setState(StatePlanning, "")
	log.Printf("INFO: planning phase: %s", objective)

	tasks, err := c.cfg.Planner.Split(ctx, objective, c.planningContext(ctx))
	if err != nil {
		c.setState(StateStopped, "planning failed")
		return nil, fmt.Errorf("planning failed: %w", err)
	}
	if _, err := scheduler.NewDAGFromTasks(tasks); err != nil {
		c.setState(StateStopped, "invalid plan")
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	c.mu.Lock()
	c.objective = objective
	c.mu.Unlock()
	return tasks, nil
}

// Load installs a saved or freshly planned graph. A plan without a run ID
// gets a new one.
func (c *Coordinator) Load(plan *persistence.Plan) error {
	dag, err := scheduler.NewDAGFromTasks(plan.Tasks)
	if err != nil {
		return fmt.Errorf("invalid plan: %w", err)
	}
	runID := plan.RunID
	if runID == "" {
		runID = ulid.Make().String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dag = dag
	c.objective = plan.Prompt
	c.runID = runID
	c.iteration = plan.Iteration
	return nil
}

// Resume continues a run that stopped on hold or was interrupted. Failed,
// held and stale running tasks go back to pending; completed work is kept.
// The plan is loaded from the store when none is in memory.
func (c *Coordinator) Resume(ctx context.Context) (*Summary, error) {
	if c.graph() == nil {
		if c.cfg.Store == nil {
			return nil, ErrNoPlan
		}
		plan, err := c.cfg.Store.LoadPlan(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load plan: %w", err)
		}
		if err := c.Load(plan); err != nil {
			return nil, err
		}
	}

	reset := 0
	for _, t := range c.dag.Tasks() {
		switch t.Status {
		case scheduler.TaskFailed, scheduler.TaskHold, scheduler.TaskRunning:
			if err := c.dag.Reset(t.ID); err != nil {
				return nil, fmt.Errorf("failed to reset task %s: %w", t.ID, err)
			}
			reset++
		}
	}
	log.Printf("INFO: resuming run %s at iteration %d (%d tasks reset)", c.RunID(), c.Iteration(), reset)

	return c.Execute(ctx)
}

// Execute runs waves until the decision function stops or holds the run, or
// ctx is cancelled. Every call gets a fresh budget of MaxIterations waves.
func (c *Coordinator) Execute(ctx context.Context) (*Summary, error) {
	if c.graph() == nil {
		return nil, ErrNoPlan
	}
	limit := c.Iteration() + c.cfg.MaxIterations

	// The run row must exist before transcripts reference it.
	c.persist(ctx)
	c.setState(StateExecuting, "")
	log.Printf("INFO: starting execution loop")

	for {
		if err := ctx.Err(); err != nil {
			c.persist(context.WithoutCancel(ctx))
			c.setState(StateStopped, "cancelled")
			return c.Summary(), err
		}

		tasks := c.dag.Tasks()
		decision, reason := Decide(c.Iteration(), limit, tasks)
		switch decision {
		case Stop:
			log.Printf("INFO: orchestration finished: %s", reason)
			c.setState(StateStopped, reason)
			c.persist(ctx)
			return c.Summary(), nil
		case Hold:
			c.hold(ctx, reason)
			return c.Summary(), nil
		}

		wave, batchOf := c.nextWave(tasks)
		if len(wave) == 0 {
			c.hold(ctx, "pending tasks cannot be scheduled (possible deadlock)")
			return c.Summary(), nil
		}

		results := c.runWave(ctx, wave, batchOf)
		c.apply(ctx, results)
		c.replan(ctx, results)

		c.mu.Lock()
		c.iteration++
		c.mu.Unlock()

		c.persist(ctx)
		c.emitProgress()
	}
}

// nextWave selects the tasks for the next round, ordering the ready set by
// batch when batching is enabled.
func (c *Coordinator) nextWave(tasks []*scheduler.Task) ([]*scheduler.Task, map[string]string) {
	batchOf := make(map[string]string)
	var priority []string
	if c.cfg.EnableBatching {
		if ready := scheduler.Ready(tasks); len(ready) > 1 {
			batches := c.grouper.Group(ready)
			for _, b := range batches {
				for _, id := range b.TaskIDs {
					batchOf[id] = b.ID
				}
			}
			priority = scheduler.Priority(scheduler.OptimizeExecutionOrder(batches, scheduler.IndexTasks(tasks)))
		}
	}
	return scheduler.NextWave(tasks, c.cfg.MaxParallel, priority), batchOf
}

// hold parks every pending task and persists the plan.
func (c *Coordinator) hold(ctx context.Context, reason string) {
	log.Printf("WARNING: orchestration on HOLD, manual intervention needed: %s", reason)
	for _, t := range c.dag.Tasks() {
		if t.Status == scheduler.TaskPending {
			if err := c.dag.MarkHold(t.ID); err != nil {
				log.Printf("ERROR: failed to hold task %s: %v", t.ID, err)
			}
		}
	}
	c.setState(StateHold, reason)
	c.persist(ctx)
}

// replan refines the plan after discovery tasks. Refinement errors keep the
// current plan. Nothing is refined while failures await a resume.
func (c *Coordinator) replan(ctx context.Context, results []*taskResult) {
	if !c.cfg.EnableReplanning || c.cfg.Planner == nil {
		return
	}
	if c.dag.Counts()[scheduler.TaskFailed] > 0 {
		return
	}

	for _, r := range results {
		if r.err != nil || r.skipped {
			continue
		}
		done, ok := c.dag.Get(r.task.ID)
		if !ok || !c.trigger.OnTaskCompleted(done) {
			continue
		}

		current := c.dag.Tasks()
		refined, err := c.cfg.Planner.Refine(ctx, c.Objective(), current, done, c.planningContext(ctx))
		if err != nil {
			log.Printf("WARNING: plan refinement after %s failed, keeping current plan: %v", done.ID, err)
			continue
		}
		merged, renamed := scheduler.MergeRefined(current, refined)
		if err := c.dag.Replace(merged); err != nil {
			log.Printf("WARNING: refined plan rejected, keeping current plan: %v", err)
			continue
		}
		log.Printf("INFO: plan refined after %s: %d tasks, %d renamed", done.ID, len(merged), len(renamed))
		c.cfg.Bus.Emit(events.ReplannedEvent{
			TriggerID: done.ID,
			Tasks:     len(merged),
			Renamed:   renamed,
			Timestamp: time.Now(),
		})
	}
}

// planningContext is the project context handed to the planner.
func (c *Coordinator) planningContext(ctx context.Context) string {
	if c.cfg.Context == nil {
		return ""
	}
	var parts []string
	if rules := c.cfg.Context.Rules(); rules != "" {
		parts = append(parts, "# Project Rules\n"+rules)
	}
	if summary := c.cfg.Context.Summary(ctx); summary != "" {
		parts = append(parts, "# Codebase Overview\n"+summary)
	}
	return strings.Join(parts, "\n\n")
}

func (c *Coordinator) persist(ctx context.Context) {
	if c.cfg.Store == nil {
		return
	}
	plan := &persistence.Plan{
		RunID:     c.RunID(),
		Prompt:    c.Objective(),
		Tasks:     c.dag.Tasks(),
		Iteration: c.Iteration(),
	}
	if err := c.cfg.Store.SavePlan(ctx, plan); err != nil {
		log.Printf("ERROR: failed to save plan: %v", err)
	}
}

func (c *Coordinator) setState(s State, reason string) {
	c.mu.Lock()
	c.state = s
	c.reason = reason
	c.mu.Unlock()

	c.cfg.Bus.Emit(events.StateChangedEvent{State: string(s), Reason: reason, Timestamp: time.Now()})
}

func (c *Coordinator) emitProgress() {
	counts := c.dag.Counts()
	c.cfg.Bus.Emit(events.ProgressEvent{
		Iteration: c.Iteration(),
		Total:     c.dag.Len(),
		Completed: counts[scheduler.TaskCompleted],
		Running:   counts[scheduler.TaskRunning],
		Failed:    counts[scheduler.TaskFailed],
		Pending:   counts[scheduler.TaskPending],
		Hold:      counts[scheduler.TaskHold],
		Timestamp: time.Now(),
	})
}

func (c *Coordinator) graph() *scheduler.DAG {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dag
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RunID returns the identifier of the loaded run.
func (c *Coordinator) RunID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runID
}

// Objective returns the objective of the loaded run.
func (c *Coordinator) Objective() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.objective
}

// Iteration returns the number of waves executed so far.
func (c *Coordinator) Iteration() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.iteration
}

// Tasks returns a snapshot of the task graph.
func (c *Coordinator) Tasks() []*scheduler.Task {
	if d := c.graph(); d != nil {
		return d.Tasks()
	}
	return nil
}

// Summary reports the current outcome.
func (c *Coordinator) Summary() *Summary {
	c.mu.Lock()
	s := &Summary{
		RunID:      c.runID,
		Objective:  c.objective,
		Iterations: c.iteration,
		State:      c.state,
		Reason:     c.reason,
	}
	dag := c.dag
	c.mu.Unlock()

	if dag == nil {
		return s
	}
	for _, t := range dag.Tasks() {
		s.Total++
		switch t.Status {
		case scheduler.TaskCompleted:
			s.Completed++
		case scheduler.TaskFailed:
			s.Failed++
			s.Failures = append(s.Failures, Failure{ID: t.ID, Description: t.Description, Error: t.Error})
		case scheduler.TaskPending:
			s.Pending++
		case scheduler.TaskHold:
			s.Hold++
		}
	}
	return s
}
