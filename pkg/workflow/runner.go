package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/copydesk/stringer/pkg/config"
	"github.com/copydesk/stringer/pkg/events"
	"github.com/copydesk/stringer/pkg/llm"
	"github.com/copydesk/stringer/pkg/models"
	"github.com/copydesk/stringer/pkg/settings"
	"github.com/copydesk/stringer/pkg/store"
	"github.com/copydesk/stringer/pkg/vector"
)

// errRunEnded signals a worker exit that leaves the agent's status as it
// stands: a parked halt that expired, an interrupt of a parked or waiting
// worker, or a pool shutdown observed between phases.
var errRunEnded = errors.New("run ended")

// runner executes one run of one agent. All record access goes through the
// store; the runner keeps no agent state of its own, so an API-side update
// (a halt flag, a rename) is visible at the next boundary.
type runner struct {
	store     *store.Store
	settings  *settings.Store
	llm       *llm.Client
	retriever *vector.Retriever
	publisher *events.Publisher
	cfg       config.WorkflowConfig

	agentID string
	handle  *models.RunHandle
}

// run drives the loop and translates its exit into a terminal status.
func (r *runner) run(ctx context.Context) {
	err := r.guardedLoop(ctx)
	if err == nil || errors.Is(err, errRunEnded) {
		return
	}

	var pe *planError
	switch {
	case r.cancelled() || ctx.Err() != nil || llm.IsCancelled(err) || errors.Is(err, context.Canceled):
		r.finishStopped("cancelled")
	case errors.As(err, &pe):
		r.finishTasklistError(pe.reason)
	case llm.IsTimeout(err) || llm.IsTransport(err):
		// The endpoint, not the agent, misbehaved. Stopped keeps the run
		// resumable once the endpoint recovers.
		r.finishStopped(err.Error())
	default:
		r.finishFailed(err.Error())
	}
}

func (r *runner) guardedLoop(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Agent worker panicked",
				"agent_id", r.agentID, "panic", rec, "stack", string(debug.Stack()))
			err = fmt.Errorf("worker panic: %v", rec)
		}
	}()
	return r.loop(ctx)
}

// loop is one worker's life: plan if there is no plan, execute the tasks,
// complete, and either return or restart when the agent runs in auto mode.
func (r *runner) loop(ctx context.Context) error {
	// A cancel flag can outlive its run when a stop lands just as the run
	// completes; a fresh worker must not inherit it. A stop racing this
	// clear still lands through the context.
	if err := r.store.UpdateStatus(r.agentID, models.StatusRunning, func(a *models.Agent) {
		a.Cancelled = false
	}); err != nil {
		return err
	}
	r.publishLifecycle(events.EventTypeAgentStarted, models.StatusRunning, nil, "")
	r.publishStatus(models.StatusRunning, nil, nil, "")

	for {
		var replan bool
		if err := r.store.View(r.agentID, func(a *models.Agent) { replan = a.RedoTasklist }); err != nil {
			return err
		}
		if replan {
			if err := r.store.Update(r.agentID, func(a *models.Agent) {
				a.RedoTasklist = false
				a.Tasklist = nil
				a.Phase0Response = ""
				a.CurrentPhase = 0
			}); err != nil {
				return err
			}
		}

		var hasPlan bool
		if err := r.store.View(r.agentID, func(a *models.Agent) {
			hasPlan = a.Tasklist != nil && len(a.Tasklist.Tasks) > 0
		}); err != nil {
			return err
		}
		if !hasPlan {
			if err := r.generatePlan(ctx); err != nil {
				return err
			}
			// Halt boundary after planning, before any task runs. A run
			// resumed with an existing plan goes straight to the tasks;
			// otherwise a continue after the park expires would halt here
			// again instead of advancing.
			if err := r.haltBoundary(ctx, 0); err != nil {
				return err
			}
		}

		if err := r.executeTasks(ctx); err != nil {
			return err
		}

		if err := r.store.UpdateStatus(r.agentID, models.StatusCompleted); err != nil {
			return err
		}
		r.publishLifecycle(events.EventTypeAgentCompleted, models.StatusCompleted, nil, "")
		r.publishStatus(models.StatusCompleted, nil, nil, "")

		var auto bool
		if err := r.store.View(r.agentID, func(a *models.Agent) { auto = a.Auto }); err != nil {
			return err
		}
		if !auto {
			return nil
		}

		select {
		case <-ctx.Done():
			// Completed stands; the restart never happened.
			return errRunEnded
		case <-time.After(r.cfg.AutoRestartDelay):
		}

		if err := r.store.Update(r.agentID, func(a *models.Agent) {
			a.Tasklist = nil
			a.Phase0Response = ""
			a.CurrentPhase = 0
			a.Cancelled = false
			a.RedoTaskID = nil
			a.RedoTasklist = false
		}); err != nil {
			return err
		}
		if err := r.store.UpdateStatus(r.agentID, models.StatusRunning); err != nil {
			return err
		}
		r.publishLifecycle(events.EventTypeAgentAutoRestart, models.StatusRunning, nil, "")
		r.publishStatus(models.StatusRunning, nil, nil, "")
	}
}

// haltBoundary observes cancellation and the halt flag between phases.
// A set halt flag parks the worker: it resumes on a continue signal, exits
// on cancellation (the status transition belongs to whoever cancelled), or
// gives up once the halt wait expires, leaving the agent halted. The halt
// flag itself is never cleared here; step mode means every boundary halts
// until the flag is explicitly turned off.
func (r *runner) haltBoundary(ctx context.Context, phase int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var halt bool
	if err := r.store.View(r.agentID, func(a *models.Agent) { halt = a.Halt }); err != nil {
		return err
	}
	if !halt {
		return nil
	}

	if err := r.store.UpdateStatus(r.agentID, models.StatusHalted); err != nil {
		return err
	}
	r.publishLifecycle(events.EventTypeAgentHalted, models.StatusHalted, &phase, "")
	r.publishStatus(models.StatusHalted, &phase, nil, "")

	timer := time.NewTimer(r.cfg.HaltWait)
	defer timer.Stop()
	select {
	case <-r.handle.ResumeCh():
		if err := r.store.UpdateStatus(r.agentID, models.StatusRunning); err != nil {
			return err
		}
		r.publishLifecycle(events.EventTypeAgentContinued, models.StatusRunning, &phase, "")
		r.publishStatus(models.StatusRunning, &phase, nil, "")
		return nil
	case <-ctx.Done():
		return errRunEnded
	case <-timer.C:
		// Parked long enough. The agent stays halted; a later continue
		// starts a fresh worker.
		return errRunEnded
	}
}

// buildPrompt renders a template with the shared hidden context prepended.
// An empty hidden context leaves the rendered template alone.
func (r *runner) buildPrompt(name string, vars map[string]string) (string, error) {
	tmpl, err := r.settings.GetPrompt(name)
	if err != nil {
		return "", err
	}
	prompt := settings.FormatPrompt(tmpl, vars)

	hidden, err := r.settings.GetPrompt(settings.PromptHiddenContext)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(hidden) == "" {
		return prompt, nil
	}
	return hidden + "\n\n" + prompt, nil
}

func (r *runner) cancelled() bool {
	var c bool
	_ = r.store.View(r.agentID, func(a *models.Agent) { c = a.Cancelled })
	return c
}

func (r *runner) finishStopped(reason string) {
	var current models.AgentStatus
	if err := r.store.View(r.agentID, func(a *models.Agent) { current = a.Status }); err != nil {
		return
	}
	if current == models.StatusStopped {
		// Stop() already forced the transition and announced it.
		return
	}
	if err := r.store.UpdateStatus(r.agentID, models.StatusStopped); err != nil {
		slog.Warn("Failed to mark agent stopped", "agent_id", r.agentID, "error", err)
		return
	}
	var phase int
	_ = r.store.View(r.agentID, func(a *models.Agent) { phase = a.CurrentPhase })
	r.publishLifecycle(events.EventTypeAgentStopped, models.StatusStopped, &phase, reason)
	r.publishStatus(models.StatusStopped, &phase, nil, reason)
}

func (r *runner) finishTasklistError(reason string) {
	if err := r.store.UpdateStatus(r.agentID, models.StatusTasklistError); err != nil {
		slog.Warn("Failed to mark agent tasklist_error", "agent_id", r.agentID, "error", err)
		return
	}
	r.publishLifecycle(events.EventTypeAgentFailed, models.StatusTasklistError, nil, reason)
	r.publishStatus(models.StatusTasklistError, nil, nil, reason)
}

func (r *runner) finishFailed(reason string) {
	if err := r.store.UpdateStatus(r.agentID, models.StatusFailed); err != nil {
		slog.Warn("Failed to mark agent failed", "agent_id", r.agentID, "error", err)
		return
	}
	r.publishLifecycle(events.EventTypeAgentFailed, models.StatusFailed, nil, reason)
	r.publishStatus(models.StatusFailed, nil, nil, reason)
}

func (r *runner) agentName() string {
	var name string
	_ = r.store.View(r.agentID, func(a *models.Agent) { name = a.Name })
	return name
}

func (r *runner) publishLifecycle(eventType string, status models.AgentStatus, phase *int, reason string) {
	err := r.publisher.PublishAgentLifecycle(r.agentID, eventType, events.AgentLifecyclePayload{
		Name:   r.agentName(),
		Status: status,
		Phase:  phase,
		Reason: reason,
	})
	if err != nil {
		slog.Warn("Failed to publish lifecycle event", "agent_id", r.agentID, "event", eventType, "error", err)
	}
}

func (r *runner) publishStatus(status models.AgentStatus, phase *int, tasklist *events.TasklistInfo, errMsg string) {
	err := r.publisher.PublishWorkflowStatus(r.agentID, events.WorkflowStatusPayload{
		Status:   status,
		Phase:    phase,
		Tasklist: tasklist,
		Error:    errMsg,
	})
	if err != nil {
		slog.Warn("Failed to publish workflow status", "agent_id", r.agentID, "error", err)
	}
}
