// Package workflow executes newsroom agents. Each started agent gets one
// worker goroutine that plans a tasklist with the LLM, executes and
// validates every task, and publishes each transition on the event stream.
//
// The Pool owns worker lifecycles: start, halt/continue, stop, redo, and
// process shutdown. A runner owns one run of one agent from planning to a
// terminal status; the two communicate only through the agent store and the
// run handle.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/copydesk/stringer/pkg/config"
	"github.com/copydesk/stringer/pkg/events"
	"github.com/copydesk/stringer/pkg/llm"
	"github.com/copydesk/stringer/pkg/models"
	"github.com/copydesk/stringer/pkg/settings"
	"github.com/copydesk/stringer/pkg/store"
	"github.com/copydesk/stringer/pkg/vector"
)

var (
	// ErrAgentRunning rejects a start while a worker already owns the agent.
	ErrAgentRunning = errors.New("agent is already running")

	// ErrInvalidTransition rejects a lifecycle action the agent's current
	// status does not permit.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrNoFailedTask rejects a task redo when no task has failed.
	ErrNoFailedTask = errors.New("no failed task to redo")

	// ErrPoolStopped rejects starts after shutdown has begun.
	ErrPoolStopped = errors.New("workflow pool is stopped")
)

// Pool starts and supervises agent workers, one goroutine per started agent.
// LLM concurrency is capped inside the LLM client; the pool only tracks run
// handles.
type Pool struct {
	store     *store.Store
	settings  *settings.Store
	llm       *llm.Client
	retriever *vector.Retriever
	publisher *events.Publisher
	cfg       config.WorkflowConfig

	mu   sync.Mutex
	runs map[string]*models.RunHandle

	rootCtx    context.Context
	rootCancel context.CancelFunc
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// New creates a workflow pool over the given stores and clients.
func New(agents *store.Store, settings *settings.Store, llmClient *llm.Client, retriever *vector.Retriever, publisher *events.Publisher, cfg config.WorkflowConfig) *Pool {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	return &Pool{
		store:      agents,
		settings:   settings,
		llm:        llmClient,
		retriever:  retriever,
		publisher:  publisher,
		cfg:        cfg,
		runs:       make(map[string]*models.RunHandle),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		stopCh:     make(chan struct{}),
	}
}

// Start spawns a worker for the agent. The agent must exist and must not
// already have a worker; a halted agent whose worker is still parked at the
// halt boundary counts as running.
func (p *Pool) Start(id string) error {
	if _, err := p.store.Get(id); err != nil {
		return err
	}
	return p.start(id)
}

func (p *Pool) start(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.stopCh:
		return ErrPoolStopped
	default:
	}
	if _, ok := p.runs[id]; ok {
		return ErrAgentRunning
	}

	runCtx, cancel := context.WithCancel(p.rootCtx)
	handle := models.NewRunHandle(cancel)
	p.runs[id] = handle
	if err := p.store.SetHandle(id, handle); err != nil {
		delete(p.runs, id)
		cancel()
		return err
	}

	p.wg.Add(1)
	go p.runAgent(runCtx, id, handle)
	return nil
}

func (p *Pool) runAgent(ctx context.Context, id string, handle *models.RunHandle) {
	defer p.wg.Done()
	defer p.release(id, handle)

	r := &runner{
		store:     p.store,
		settings:  p.settings,
		llm:       p.llm,
		retriever: p.retriever,
		publisher: p.publisher,
		cfg:       p.cfg,
		agentID:   id,
		handle:    handle,
	}
	r.run(ctx)
}

// release deregisters a finished run and clears the record's handle.
// MarkDone comes last so a caller waiting on Done() observes a fully
// released slot and can immediately start a fresh run.
func (p *Pool) release(id string, handle *models.RunHandle) {
	p.mu.Lock()
	delete(p.runs, id)
	p.mu.Unlock()

	if err := p.store.SetHandle(id, nil); err != nil && !errors.Is(err, store.ErrAgentNotFound) {
		slog.Warn("Failed to clear run handle", "agent_id", id, "error", err)
	}
	handle.MarkDone()
}

// Halt flags the agent to halt at its next boundary. The flag can be set
// ahead of time; a worker is not required.
func (p *Pool) Halt(id string) error {
	return p.store.Update(id, func(a *models.Agent) { a.Halt = true })
}

// Continue resumes a halted or stopped agent. A parked worker resumes in
// place; otherwise a fresh worker is started. From stopped, the first failed
// or cancelled task is reset so it executes again.
func (p *Pool) Continue(id string) error {
	a, err := p.store.Get(id)
	if err != nil {
		return err
	}

	switch a.Status {
	case models.StatusHalted:
		p.mu.Lock()
		handle := p.runs[id]
		p.mu.Unlock()
		if handle != nil {
			// False means a resume signal is already pending; either way
			// the parked worker will pick it up.
			handle.Resume()
			return nil
		}
		return p.start(id)

	case models.StatusStopped:
		if err := p.store.Update(id, func(ag *models.Agent) {
			ag.Cancelled = false
			if ag.Tasklist == nil {
				return
			}
			for _, t := range ag.Tasklist.Tasks {
				if t.Status == models.TaskFailed || t.Status == models.TaskCancelled {
					t.Reset()
					return
				}
			}
		}); err != nil {
			return err
		}
		return p.start(id)

	default:
		return fmt.Errorf("%w: cannot continue agent in status %q", ErrInvalidTransition, a.Status)
	}
}

// Stop cancels a running or halted agent. The status is forced to stopped
// before the worker is cancelled so the worker's own terminal handling sees
// it and stays quiet; Stop then waits for the worker to release its slot, so
// a Continue issued right after Stop returns never collides with it.
func (p *Pool) Stop(id string) error {
	a, err := p.store.Get(id)
	if err != nil {
		return err
	}
	if a.Status != models.StatusRunning && a.Status != models.StatusHalted {
		return fmt.Errorf("%w: cannot stop agent in status %q", ErrInvalidTransition, a.Status)
	}

	if err := p.store.Update(id, func(ag *models.Agent) { ag.Cancelled = true }); err != nil {
		return err
	}
	if err := p.store.UpdateStatus(id, models.StatusStopped); err != nil {
		return err
	}

	phase := a.CurrentPhase
	p.publishLifecycle(id, events.EventTypeAgentStopped, events.AgentLifecyclePayload{
		Name:   a.Name,
		Status: models.StatusStopped,
		Phase:  &phase,
		Reason: "stopped by user",
	})
	if err := p.publisher.PublishWorkflowStatus(id, events.WorkflowStatusPayload{
		Status: models.StatusStopped,
		Phase:  &phase,
	}); err != nil {
		slog.Warn("Failed to publish workflow status", "agent_id", id, "error", err)
	}

	p.interruptRun(id)
	return nil
}

// RedoTask re-executes the first failed task of a halted, stopped, or failed
// agent. The fresh worker resets the target task and executes only it.
func (p *Pool) RedoTask(id string) error {
	a, err := p.store.Get(id)
	if err != nil {
		return err
	}
	switch a.Status {
	case models.StatusHalted, models.StatusStopped, models.StatusFailed:
	default:
		return fmt.Errorf("%w: cannot redo a task in status %q", ErrInvalidTransition, a.Status)
	}
	if a.Tasklist == nil {
		return ErrNoFailedTask
	}
	failed := a.Tasklist.FirstFailed()
	if failed == nil {
		return ErrNoFailedTask
	}

	taskID := failed.ID
	if err := p.store.Update(id, func(ag *models.Agent) {
		ag.Cancelled = false
		ag.RedoTasklist = false
		ag.RedoTaskID = &taskID
	}); err != nil {
		return err
	}

	p.interruptRun(id)
	return p.start(id)
}

// RedoTasklist discards the plan of a halted, stopped, failed, or completed
// agent and replans from scratch.
func (p *Pool) RedoTasklist(id string) error {
	a, err := p.store.Get(id)
	if err != nil {
		return err
	}
	switch a.Status {
	case models.StatusHalted, models.StatusStopped, models.StatusFailed, models.StatusCompleted:
	default:
		return fmt.Errorf("%w: cannot redo the tasklist in status %q", ErrInvalidTransition, a.Status)
	}

	if err := p.store.Update(id, func(ag *models.Agent) {
		ag.Cancelled = false
		ag.RedoTaskID = nil
		ag.RedoTasklist = true
	}); err != nil {
		return err
	}

	p.interruptRun(id)
	return p.start(id)
}

// interruptRun cancels a still-registered worker and waits for it to release
// its slot. No-op when no worker is registered. A parked or waiting worker
// exits without touching the agent's status.
func (p *Pool) interruptRun(id string) {
	p.mu.Lock()
	handle := p.runs[id]
	p.mu.Unlock()
	if handle == nil {
		return
	}
	handle.Cancel()
	<-handle.Done()
}

// Shutdown cancels every registered run and waits for all workers to exit.
// Running workers observe the cancellation at their next suspension point
// and persist a resumable state on the way out.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	active := len(p.runs)
	p.mu.Unlock()
	if active > 0 {
		slog.Info("Waiting for active agent runs to finish", "count", active)
	}

	p.stopOnce.Do(func() {
		close(p.stopCh)
		p.rootCancel()
	})
	p.wg.Wait()
}

func (p *Pool) publishLifecycle(agentID, eventType string, payload events.AgentLifecyclePayload) {
	if err := p.publisher.PublishAgentLifecycle(agentID, eventType, payload); err != nil {
		slog.Warn("Failed to publish lifecycle event", "agent_id", agentID, "event", eventType, "error", err)
	}
}
