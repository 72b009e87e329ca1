// Package models defines the shared data model for newsroom agents: agent
// records, tasklists, tasks, validation verdicts, and the transient run
// handle that ties a running agent to its worker goroutine.
package models

import "time"

// AgentStatus represents the lifecycle state of an agent.
type AgentStatus string

const (
	StatusCreated       AgentStatus = "created"
	StatusRunning       AgentStatus = "running"
	StatusHalted        AgentStatus = "halted"
	StatusStopped       AgentStatus = "stopped"
	StatusCompleted     AgentStatus = "completed"
	StatusFailed        AgentStatus = "failed"
	StatusTasklistError AgentStatus = "tasklist_error"
)

// IsTerminal reports whether the status ends a worker run. Halted is not
// terminal: a parked or restarted worker can resume from it.
func (s AgentStatus) IsTerminal() bool {
	switch s {
	case StatusStopped, StatusCompleted, StatusFailed, StatusTasklistError:
		return true
	}
	return false
}

// Agent is one journalist instance: identity, the prompt inputs it was
// created with, its generated plan, and its lifecycle bookkeeping.
//
// Concurrent access is serialized by the agent store; the struct itself
// carries no lock. Transient fields are never persisted and are dropped
// on load.
type Agent struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Context        string      `json:"context"`
	Temperature    float64     `json:"temperature"` // 0.0-2.0
	Auto           bool        `json:"auto"`        // restart on completion
	Halt           bool        `json:"halt"`        // halt at the next boundary
	Status         AgentStatus `json:"status"`
	Tasklist       *Tasklist   `json:"tasklist,omitempty"`
	Phase0Response string      `json:"phase_0_response,omitempty"` // raw planning response
	CurrentPhase   int         `json:"current_phase"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      *time.Time  `json:"started_at,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`

	// Transient coordination state, meaningful only while a worker owns
	// the record.
	Cancelled    bool `json:"-"`
	RedoTaskID   *int `json:"-"` // nil = no targeted redo pending
	RedoTasklist bool `json:"-"`

	handle *RunHandle
}

// Goal returns the plan goal, or "" when no tasklist exists yet.
func (a *Agent) Goal() string {
	if a.Tasklist == nil {
		return ""
	}
	return a.Tasklist.Goal
}

// Handle returns the worker handle, nil when no worker owns the agent.
func (a *Agent) Handle() *RunHandle { return a.handle }

// SetHandle attaches or clears the worker handle.
func (a *Agent) SetHandle(h *RunHandle) { a.handle = h }

// ClearTransient drops the coordination state a dead worker left behind.
func (a *Agent) ClearTransient() {
	a.Cancelled = false
	a.RedoTaskID = nil
	a.RedoTasklist = false
	a.handle = nil
}

// Clone creates a deep copy safe to hand outside the store. The worker
// handle is stripped: clones are the serializable view of the agent.
func (a *Agent) Clone() *Agent {
	c := *a
	c.handle = nil
	if a.Tasklist != nil {
		c.Tasklist = a.Tasklist.Clone()
	}
	if a.StartedAt != nil {
		t := *a.StartedAt
		c.StartedAt = &t
	}
	if a.CompletedAt != nil {
		t := *a.CompletedAt
		c.CompletedAt = &t
	}
	if a.RedoTaskID != nil {
		id := *a.RedoTaskID
		c.RedoTaskID = &id
	}
	return &c
}
