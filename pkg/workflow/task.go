package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/copydesk/stringer/pkg/events"
	"github.com/copydesk/stringer/pkg/llm"
	"github.com/copydesk/stringer/pkg/models"
	"github.com/copydesk/stringer/pkg/settings"
	"github.com/copydesk/stringer/pkg/vector"
)

// validationTemperature is fixed for every validation call regardless of the
// agent's own temperature: the reviewer should be boring.
const validationTemperature = 0.3

// executeTasks iterates the plan in ascending id order, executing every task
// still in created. A pending redo narrows the pass to its single target,
// resetting it first; the transient is consumed here so a later pass of the
// same worker behaves normally.
func (r *runner) executeTasks(ctx context.Context) error {
	var redoID *int
	if err := r.store.View(r.agentID, func(a *models.Agent) {
		if a.RedoTaskID != nil {
			v := *a.RedoTaskID
			redoID = &v
		}
	}); err != nil {
		return err
	}
	if redoID != nil {
		if err := r.store.Update(r.agentID, func(a *models.Agent) {
			a.RedoTaskID = nil
			if a.Tasklist != nil {
				if t := a.Tasklist.TaskByID(*redoID); t != nil {
					t.Reset()
				}
			}
		}); err != nil {
			return err
		}
	}

	var ids []int
	if err := r.store.View(r.agentID, func(a *models.Agent) {
		for _, t := range a.Tasklist.Tasks {
			ids = append(ids, t.ID)
		}
	}); err != nil {
		return err
	}

	for pos, taskID := range ids {
		if redoID != nil && taskID != *redoID {
			continue
		}

		var status models.TaskStatus
		if err := r.store.View(r.agentID, func(a *models.Agent) {
			if t := a.Tasklist.TaskByID(taskID); t != nil {
				status = t.Status
			}
		}); err != nil {
			return err
		}
		if status != models.TaskCreated {
			continue
		}

		if err := r.executeTask(ctx, taskID, pos); err != nil {
			return err
		}

		// Halt boundary after every task except the final one: halting
		// after the last task would be indistinguishable from completion.
		if pos < len(ids)-1 {
			if err := r.haltBoundary(ctx, pos+1); err != nil {
				return err
			}
		}
	}
	return nil
}

// executeTask runs one task end to end: prompt, streamed generation,
// validation, recording. A failing verdict does not end the run; the human
// reviews the output and decides on redo or stop.
func (r *runner) executeTask(ctx context.Context, taskID, pos int) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if r.cancelled() {
		return context.Canceled
	}

	var (
		agentName string
		agentCtx  string
		goal      string
		temp      float64
		task      *models.Task
		previous  []*models.Task
	)
	if err := r.store.View(r.agentID, func(a *models.Agent) {
		agentName = a.Name
		agentCtx = a.Context
		goal = a.Tasklist.Goal
		temp = a.Temperature
		if t := a.Tasklist.TaskByID(taskID); t != nil {
			task = t.Clone()
		}
		for _, t := range a.Tasklist.Tasks {
			if t.ID < taskID && t.Status == models.TaskCompleted {
				previous = append(previous, t.Clone())
			}
		}
	}); err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("task %d vanished from the plan", taskID)
	}

	if err := r.store.Update(r.agentID, func(a *models.Agent) {
		if t := a.Tasklist.TaskByID(taskID); t != nil {
			t.Status = models.TaskRunning
		}
	}); err != nil {
		return err
	}
	r.publishTaskStatus(events.EventTypeTaskRunning, task, "", nil, "")
	var phaseDone int
	_ = r.store.View(r.agentID, func(a *models.Agent) { phaseDone = a.CurrentPhase })
	r.publishStatus(models.StatusRunning, &phaseDone, nil, "")

	prompt, err := r.buildTaskPrompt(ctx, task, agentName, agentCtx, goal, previous)
	if err != nil {
		return err
	}

	output, callErr := r.llm.Call(ctx, llm.CallOptions{
		Prompt:      prompt,
		Temperature: &temp,
		Stream:      true,
		OnFragment: func(delta string) {
			if perr := r.publisher.PublishTaskChunk(r.agentID, taskID, delta); perr != nil {
				slog.Warn("Failed to publish task chunk",
					"agent_id", r.agentID, "task_id", taskID, "error", perr)
			}
		},
		CancelCheck: func() bool { return ctx.Err() != nil || r.cancelled() },
		AgentID:     r.agentID,
	})
	if callErr != nil {
		return r.abortTask(task, "", callErr)
	}

	verdict, verr := r.validateTask(ctx, task, output)
	if verr != nil {
		return r.abortTask(task, output, verr)
	}

	// A validated output reaches the index before the record is saved, so a
	// persisted tasklist never references a vector the index does not hold.
	if verdict.IsValid {
		stored := task.Clone()
		stored.Output = output
		stored.Validation = verdict
		if agent, gerr := r.store.GetSerializable(r.agentID); gerr == nil {
			if serr := r.retriever.StoreTaskOutput(ctx, agent, stored); serr != nil {
				slog.Warn("Failed to index task output",
					"agent_id", r.agentID, "task_id", taskID, "error", serr)
			}
		}
	}

	now := time.Now().UTC()
	status := models.TaskFailed
	if verdict.IsValid {
		status = models.TaskCompleted
	}
	if err := r.store.Update(r.agentID, func(a *models.Agent) {
		if t := a.Tasklist.TaskByID(taskID); t != nil {
			t.Output = output
			t.Validation = verdict
			t.CompletedAt = &now
			t.Status = status
		}
		a.CurrentPhase = pos + 1
	}); err != nil {
		return err
	}

	eventType := events.EventTypeTaskFailed
	if verdict.IsValid {
		eventType = events.EventTypeTaskCompleted
	}
	r.publishTaskStatus(eventType, task, output, verdict, "")
	r.publishValidation(taskID, verdict)
	return nil
}

// abortTask records a task that did not reach a verdict. Cancelled work is
// marked cancelled, anything else failed. Cancellation and transport-class
// errors propagate and end the run; other failures are absorbed so the
// remaining tasks still execute.
func (r *runner) abortTask(task *models.Task, output string, cause error) error {
	status := models.TaskFailed
	eventType := events.EventTypeTaskFailed
	if llm.IsCancelled(cause) || errors.Is(cause, context.Canceled) {
		status = models.TaskCancelled
		eventType = events.EventTypeTaskCancelled
	}

	if err := r.store.Update(r.agentID, func(a *models.Agent) {
		if t := a.Tasklist.TaskByID(task.ID); t != nil {
			t.Status = status
			if output != "" {
				t.Output = output
			}
		}
	}); err != nil {
		return err
	}
	r.publishTaskStatus(eventType, task, output, nil, cause.Error())

	if status == models.TaskCancelled || llm.IsTimeout(cause) || llm.IsTransport(cause) {
		return cause
	}
	slog.Warn("Task failed; continuing with the next task",
		"agent_id", r.agentID, "task_id", task.ID, "error", cause)
	return nil
}

// buildTaskPrompt composes the execution prompt. A task with no prior
// completed work gets the standalone template; later tasks get the
// sequential template carrying the earlier outputs. Retrieval, when enabled,
// fills the background slot and records the tool call on the task.
func (r *runner) buildTaskPrompt(ctx context.Context, task *models.Task, agentName, agentCtx, goal string, previous []*models.Task) (string, error) {
	background := r.retrieveBackground(ctx, task, agentCtx)

	if len(previous) == 0 {
		return r.buildPrompt(settings.PromptTaskExecutionFirst, map[string]string{
			"agent_name":       agentName,
			"goal":             goal,
			"task_name":        task.Name,
			"task_description": task.Description,
			"expected_output":  task.ExpectedOutput,
			"context":          background,
		})
	}
	return r.buildPrompt(settings.PromptTaskExecutionSequential, map[string]string{
		"agent_name":             agentName,
		"goal":                   goal,
		"task_id":                strconv.Itoa(task.ID),
		"task_name":              task.Name,
		"task_description":       task.Description,
		"expected_output":        task.ExpectedOutput,
		"previous_tasks_context": previousTasksContext(previous),
		"additional_context":     background,
	})
}

// retrieveBackground runs the retrieval tool for a task. Disabled retrieval
// and retrieval failures both yield an empty slot; a failure only costs the
// task its background material.
func (r *runner) retrieveBackground(ctx context.Context, task *models.Task, agentCtx string) string {
	cfg := r.settings.GetRetrievalConfig()
	if !cfg.Enabled {
		return ""
	}

	result, err := r.retriever.RetrieveForTask(ctx, r.agentID, task.ID, task.Description, agentCtx)
	if err != nil {
		slog.Warn("Retrieval failed; continuing without background material",
			"agent_id", r.agentID, "task_id", task.ID, "error", err)
		return ""
	}

	if uerr := r.store.Update(r.agentID, func(a *models.Agent) {
		if t := a.Tasklist.TaskByID(task.ID); t != nil {
			t.ToolCall = &models.ToolCall{
				Tool:          vector.ToolVectorSearch,
				Query:         result.Query,
				DocumentCount: len(result.Documents),
				ThresholdUsed: result.ThresholdUsed,
				RetrievalTime: result.RetrievalTime,
			}
		}
	}); uerr != nil {
		slog.Warn("Failed to record tool call",
			"agent_id", r.agentID, "task_id", task.ID, "error", uerr)
	}
	return vector.FormatDocuments(result, cfg.MaxContextLength)
}

// previousTasksContext renders earlier completed outputs as labeled blocks.
func previousTasksContext(tasks []*models.Task) string {
	var b strings.Builder
	for i, t := range tasks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "=== Task %d: %s ===\n%s", t.ID, t.Name, t.Output)
	}
	return b.String()
}

// validateTask reviews the produced output with a low-temperature call. A
// response that cannot be parsed becomes a failing verdict rather than an
// error; only transport-class trouble ends the run.
func (r *runner) validateTask(ctx context.Context, task *models.Task, output string) (*models.Validation, error) {
	tmpl, err := r.settings.GetPrompt(settings.PromptTaskValidation)
	if err != nil {
		return nil, err
	}
	prompt := settings.FormatPrompt(tmpl, map[string]string{
		"task_name":        task.Name,
		"task_description": task.Description,
		"expected_output":  task.ExpectedOutput,
		"actual_output":    output,
	})

	vtemp := validationTemperature
	text, err := r.llm.Call(ctx, llm.CallOptions{
		Prompt:      prompt,
		Temperature: &vtemp,
		Stream:      false,
		AgentID:     r.agentID,
	})
	if err != nil {
		if llm.IsBadResponse(err) {
			return &models.Validation{IsValid: false, Score: 0, Reason: err.Error()}, nil
		}
		return nil, err
	}
	return parseValidation(text), nil
}

// parseValidation turns the reviewer's response into a verdict. Missing
// keys default to a rejection with a format-error reason; the workflow
// never fails because the reviewer rambled.
func parseValidation(text string) *models.Validation {
	candidate, err := ExtractJSONObject(text)
	if err != nil {
		return &models.Validation{Reason: err.Error()}
	}

	var parsed struct {
		IsValid *bool    `json:"is_valid"`
		Score   *float64 `json:"score"`
		Reason  *string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return &models.Validation{Reason: err.Error()}
	}

	verdict := &models.Validation{Reason: "Validation format error"}
	if parsed.IsValid != nil {
		verdict.IsValid = *parsed.IsValid
	}
	if parsed.Score != nil {
		score := int(*parsed.Score)
		if score < 0 {
			score = 0
		}
		if score > 100 {
			score = 100
		}
		verdict.Score = score
	}
	if parsed.Reason != nil {
		verdict.Reason = *parsed.Reason
	}
	return verdict
}

func (r *runner) publishTaskStatus(eventType string, task *models.Task, output string, verdict *models.Validation, errMsg string) {
	err := r.publisher.PublishTaskStatus(r.agentID, eventType, events.TaskStatusPayload{
		TaskID:     task.ID,
		TaskName:   task.Name,
		Output:     output,
		Validation: verdict,
		Error:      errMsg,
	})
	if err != nil {
		slog.Warn("Failed to publish task status",
			"agent_id", r.agentID, "event", eventType, "error", err)
	}
}

func (r *runner) publishValidation(taskID int, verdict *models.Validation) {
	err := r.publisher.PublishTaskValidation(r.agentID, events.TaskValidationPayload{
		TaskID:  taskID,
		IsValid: verdict.IsValid,
		Score:   verdict.Score,
		Reason:  verdict.Reason,
	})
	if err != nil {
		slog.Warn("Failed to publish task validation",
			"agent_id", r.agentID, "task_id", taskID, "error", err)
	}
}
