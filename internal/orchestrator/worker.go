package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/francisykl/qoder-cli-orchestrator/internal/backend"
	"github.com/francisykl/qoder-cli-orchestrator/internal/checkpoint"
	"github.com/francisykl/qoder-cli-orchestrator/internal/events"
	"github.com/francisykl/qoder-cli-orchestrator/internal/projectctx"
	"github.com/francisykl/qoder-cli-orchestrator/internal/retry"
	"github.com/francisykl/qoder-cli-orchestrator/internal/scheduler"
)

// maxDependencyOutput caps how much of each dependency's output is handed
// to its dependents.
const maxDependencyOutput = 4000

const truncatedMarker = "\n...[truncated]"

// taskResult is what a worker reports back for one task of a wave.
type taskResult struct {
	task       *scheduler.Task
	batch      string
	checkpoint *checkpoint.Checkpoint
	skipped    bool

	output    string
	sessionID string
	attempts  []retry.Attempt
	duration  time.Duration
	err       error
}

// runWave marks the wave running, checkpoints it, and runs every task on the
// bounded pool. It returns after all workers have joined.
func (c *Coordinator) runWave(ctx context.Context, wave []*scheduler.Task, batchOf map[string]string) []*taskResult {
	ids := make([]string, len(wave))
	for i, t := range wave {
		ids[i] = t.ID
	}
	log.Printf("INFO: iteration %d: executing %d task(s) %v", c.Iteration()+1, len(wave), ids)
	c.cfg.Bus.Emit(events.WaveStartedEvent{Iteration: c.Iteration() + 1, TaskIDs: ids, Timestamp: time.Now()})

	results := make([]*taskResult, len(wave))
	for i, t := range wave {
		r := &taskResult{task: t, batch: batchOf[t.ID]}
		results[i] = r

		if err := c.dag.MarkRunning(t.ID); err != nil {
			log.Printf("ERROR: cannot start task %s: %v", t.ID, err)
			r.skipped = true
			continue
		}

		// Checkpoints touch the git working tree, so they are taken one at
		// a time before any agent starts.
		if c.cfg.Checkpoints == nil {
			continue
		}
		cp, err := c.cfg.Checkpoints.Create(ctx, t.ID, t.Description)
		if err != nil {
			log.Printf("WARNING: checkpoint for task %s failed: %v", t.ID, err)
			continue
		}
		if cp != nil {
			r.checkpoint = cp
			c.cfg.Bus.Emit(events.CheckpointCreatedEvent{ID: t.ID, Tag: cp.Tag, SHA: cp.ID, Timestamp: cp.CreatedAt})
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxParallel)
	for _, r := range results {
		if r.skipped {
			continue
		}
		r := r
		g.Go(func() error {
			c.runTask(gctx, r)
			// Task errors are tracked in the graph, not returned here
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// runTask executes one task with retries and fills in r.
func (c *Coordinator) runTask(ctx context.Context, r *taskResult) {
	t := r.task

	c.locks.LockAll(t.FilesScope)
	defer c.locks.UnlockAll(t.FilesScope)

	start := time.Now()
	log.Printf("INFO: executing task %s [%s]: %s", t.ID, t.Subagent, t.Description)
	c.cfg.Bus.Emit(events.TaskStartedEvent{
		ID:          t.ID,
		Description: t.Description,
		Subagent:    t.Subagent,
		Batch:       r.batch,
		Timestamp:   start,
	})

	prompt := c.buildPrompt(t)
	c.record(ctx, t.ID, "user", prompt)

	r.attempts, r.err = c.cfg.Retry.Execute(ctx, func(ctx context.Context, attempt int) error {
		resp, err := c.invoke(ctx, t, prompt)
		if err != nil {
			if c.cfg.Retry.ShouldRetry(err, attempt) {
				c.cfg.Bus.Emit(events.TaskRetryEvent{
					ID:        t.ID,
					Attempt:   attempt,
					Kind:      string(retry.Classify(err)),
					Err:       err.Error(),
					Backoff:   c.cfg.Retry.Backoff(attempt),
					Timestamp: time.Now(),
				})
			}
			return err
		}
		r.output = resp.Output
		r.sessionID = resp.SessionID
		return nil
	})
	r.duration = time.Since(start)

	if r.err != nil {
		return
	}
	c.record(ctx, t.ID, "assistant", r.output)
	if r.sessionID != "" && c.cfg.Transcripts != nil {
		if err := c.cfg.Transcripts.SaveSession(ctx, c.RunID(), t.ID, r.sessionID, c.cfg.AgentType); err != nil {
			log.Printf("WARNING: failed to save session for task %s: %v", t.ID, err)
		}
	}
}

// invoke makes a single agent call under the task timeout and the
// subagent's circuit breaker. Time spent waiting on an open breaker does not
// count against the timeout.
func (c *Coordinator) invoke(ctx context.Context, t *scheduler.Task, prompt string) (backend.Response, error) {
	return retry.Call(ctx, c.cfg.Breakers, t.Subagent, func() (backend.Response, error) {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.TaskTimeout)
		defer cancel()

		resp, err := c.cfg.Agent.Invoke(callCtx, backend.Request{
			TaskID:   t.ID,
			Subagent: t.Subagent,
			Prompt:   prompt,
			WorkDir:  c.cfg.WorkDir,
		})
		var te *retry.TaskError
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.As(err, &te) {
			err = retry.TimeoutError(fmt.Sprintf("task %s timed out after %v", t.ID, c.cfg.TaskTimeout), err)
		}
		return resp, err
	})
}

// buildPrompt assembles project context, shared models and dependency
// outputs ahead of the task itself. Only the context part is truncated.
func (c *Coordinator) buildPrompt(t *scheduler.Task) string {
	var head []string
	if c.cfg.Context != nil {
		if pc := c.cfg.Context.ForTask(t); pc != "" {
			head = append(head, pc)
		}
	}
	if c.cfg.Registry != nil {
		if models := c.cfg.Registry.Context(); models != "" {
			head = append(head, models)
		}
	}
	if deps := c.dependencyOutputs(t); deps != "" {
		head = append(head, deps)
	}

	var tail strings.Builder
	tail.WriteString("# Task\n")
	tail.WriteString(t.Description)
	if len(t.FilesScope) > 0 {
		fmt.Fprintf(&tail, "\n\nFiles in scope: %s", strings.Join(t.FilesScope, ", "))
	}
	if len(head) > 0 {
		tail.WriteString("\n\n")
		tail.WriteString(projectctx.Instructions)
	}

	if len(head) == 0 {
		return tail.String()
	}

	extra := strings.Join(head, "\n\n---\n\n")
	budget := c.cfg.MaxPromptChars - tail.Len() - len("\n\n---\n\n")
	if len(extra) > budget {
		extra = truncate(extra, budget-len(truncatedMarker)) + truncatedMarker
		log.Printf("WARNING: prompt context for task %s truncated to %d chars", t.ID, c.cfg.MaxPromptChars)
	}
	return extra + "\n\n---\n\n" + tail.String()
}

// dependencyOutputs renders the outputs of t's completed dependencies.
func (c *Coordinator) dependencyOutputs(t *scheduler.Task) string {
	var b strings.Builder
	for _, id := range t.DependsOn {
		dep, ok := c.dag.Get(id)
		if !ok || dep.Status != scheduler.TaskCompleted || strings.TrimSpace(dep.Output) == "" {
			continue
		}
		out := strings.TrimSpace(dep.Output)
		if len(out) > maxDependencyOutput {
			out = truncate(out, maxDependencyOutput) + truncatedMarker
		}
		fmt.Fprintf(&b, "## Output of %s: %s\n%s\n\n", dep.ID, dep.Description, out)
	}
	if b.Len() == 0 {
		return ""
	}
	return "# Context from Dependencies\n" + strings.TrimRight(b.String(), "\n")
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// apply folds a joined wave back into the graph, then rolls back at most
// once when a task failed and nothing in the wave succeeded.
func (c *Coordinator) apply(ctx context.Context, results []*taskResult) {
	var rollback *taskResult
	succeeded := 0

	for _, r := range results {
		if r.skipped {
			continue
		}
		id := r.task.ID

		if r.err == nil {
			if err := c.dag.MarkCompleted(id, r.output); err != nil {
				log.Printf("ERROR: failed to complete task %s: %v", id, err)
				continue
			}
			succeeded++
			log.Printf("INFO: task %s completed in %v", id, r.duration.Round(time.Millisecond))
			c.cfg.Bus.Emit(events.TaskCompletedEvent{
				ID:        id,
				Output:    r.output,
				Attempts:  len(r.attempts) + 1,
				Duration:  r.duration,
				Timestamp: time.Now(),
			})
			c.afterSuccess(r)
			continue
		}

		// Interrupted work goes back to pending for the next resume.
		if ctx.Err() != nil && errors.Is(r.err, context.Canceled) {
			if err := c.dag.Reset(id); err != nil {
				log.Printf("ERROR: failed to reset task %s: %v", id, err)
			}
			continue
		}

		if err := c.dag.MarkFailed(id, r.err); err != nil {
			log.Printf("ERROR: failed to record failure of task %s: %v", id, err)
			continue
		}
		log.Printf("ERROR: task %s failed after %d attempt(s): %v", id, len(r.attempts), r.err)
		c.cfg.Bus.Emit(events.TaskFailedEvent{
			ID:        id,
			Err:       r.err,
			Attempts:  len(r.attempts),
			Duration:  r.duration,
			Timestamp: time.Now(),
		})
		if rollback == nil && r.checkpoint != nil {
			rollback = r
		}
	}

	if rollback == nil || c.cfg.Checkpoints == nil || !c.cfg.Checkpoints.AutoRollback() || ctx.Err() != nil {
		return
	}
	if succeeded > 0 {
		log.Printf("WARNING: skipping auto-rollback for %s: %d task(s) in the same wave completed", rollback.task.ID, succeeded)
		return
	}
	cp := rollback.checkpoint
	ok := c.cfg.Checkpoints.RollbackTo(ctx, cp.Tag)
	c.cfg.Bus.Emit(events.RolledBackEvent{ID: rollback.task.ID, Tag: cp.Tag, OK: ok, Timestamp: time.Now()})
}

// afterSuccess handles the side channels of a completed task: deviation
// notices and shared model updates.
func (c *Coordinator) afterSuccess(r *taskResult) {
	t := r.task
	if marker, ok := projectctx.Deviation(r.output); ok {
		log.Printf("WARNING: task %s deviated from documented patterns (%q)", t.ID, marker)
		c.cfg.Bus.Emit(events.TaskDeviationEvent{ID: t.ID, Marker: marker, Timestamp: time.Now()})
		if rec, ok := c.cfg.Context.(DeviationRecorder); ok {
			if err := rec.RecordDeviation(t, marker, r.output); err != nil {
				log.Printf("WARNING: failed to record deviation of task %s: %v", t.ID, err)
			}
		}
	}

	if c.cfg.Registry == nil || t.Subagent != scheduler.SubagentBackend {
		return
	}
	if name, ok := modelName(t.Description); ok {
		if err := c.cfg.Registry.RegisterModelUpdate(t.Component, name, r.output); err != nil {
			log.Printf("WARNING: %v", err)
		}
	}
}

// record appends one prompt or reply to the run's transcript.
func (c *Coordinator) record(ctx context.Context, taskID, role, content string) {
	if c.cfg.Transcripts == nil {
		return
	}
	if err := c.cfg.Transcripts.SaveMessage(ctx, c.RunID(), taskID, role, content); err != nil {
		log.Printf("WARNING: failed to record %s message for task %s: %v", role, taskID, err)
	}
}
