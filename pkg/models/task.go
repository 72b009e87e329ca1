package models

import (
	"sort"
	"time"
)

// TaskStatus represents the execution state of a single task.
type TaskStatus string

const (
	TaskCreated   TaskStatus = "created"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Tasklist is the declarative plan an agent executes: a goal plus an
// ordered sequence of tasks. Task ids are unique; iteration always follows
// ascending id order.
type Tasklist struct {
	Goal  string  `json:"goal"`
	Tasks []*Task `json:"tasks"`
}

// Task is one unit of work within a tasklist. A task is completed only if
// its validation verdict is positive; a negative verdict means failed.
type Task struct {
	ID             int         `json:"id"`
	Name           string      `json:"name"`
	Description    string      `json:"description"`
	ExpectedOutput string      `json:"expected_output"`
	Status         TaskStatus  `json:"status"`
	Output         string      `json:"output,omitempty"`
	Validation     *Validation `json:"validation,omitempty"`
	ToolCall       *ToolCall   `json:"tool_call,omitempty"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

// Validation is the verdict of the low-temperature validation call.
type Validation struct {
	IsValid bool   `json:"is_valid"`
	Score   int    `json:"score"` // 0-100
	Reason  string `json:"reason"`
}

// ToolCall records a retrieval invocation made while composing a task prompt.
type ToolCall struct {
	Tool          string  `json:"tool"`
	Query         string  `json:"query"`
	DocumentCount int     `json:"document_count"`
	ThresholdUsed float64 `json:"threshold_used"`
	RetrievalTime float64 `json:"retrieval_time"` // seconds
}

// Sort orders tasks by ascending id. Called whenever a tasklist enters the
// system (plan generation, load) so iteration order is always defined.
func (t *Tasklist) Sort() {
	sort.Slice(t.Tasks, func(i, j int) bool { return t.Tasks[i].ID < t.Tasks[j].ID })
}

// TaskByID returns the task with the given id, or nil.
func (t *Tasklist) TaskByID(id int) *Task {
	for _, task := range t.Tasks {
		if task.ID == id {
			return task
		}
	}
	return nil
}

// FirstFailed returns the lowest-id failed task, or nil when none failed.
func (t *Tasklist) FirstFailed() *Task {
	for _, task := range t.Tasks {
		if task.Status == TaskFailed {
			return task
		}
	}
	return nil
}

// Clone creates a deep copy of the tasklist.
func (t *Tasklist) Clone() *Tasklist {
	c := &Tasklist{Goal: t.Goal, Tasks: make([]*Task, len(t.Tasks))}
	for i, task := range t.Tasks {
		c.Tasks[i] = task.Clone()
	}
	return c
}

// Clone creates a deep copy of the task.
func (t *Task) Clone() *Task {
	c := *t
	if t.Validation != nil {
		v := *t.Validation
		c.Validation = &v
	}
	if t.ToolCall != nil {
		tc := *t.ToolCall
		c.ToolCall = &tc
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Reset returns the task to a clean created state before re-execution.
func (t *Task) Reset() {
	t.Status = TaskCreated
	t.Output = ""
	t.Validation = nil
	t.ToolCall = nil
	t.CompletedAt = nil
}
