package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/copydesk/stringer/pkg/events"
	"github.com/copydesk/stringer/pkg/llm"
	"github.com/copydesk/stringer/pkg/models"
	"github.com/copydesk/stringer/pkg/settings"
)

// planError marks a planning response the workflow could not turn into a
// tasklist. The run ends in tasklist_error and is not retried.
type planError struct {
	reason string
}

func (e *planError) Error() string { return e.reason }

// planResponse mirrors the JSON shape the planning prompt demands. Task ids
// arrive as JSON numbers; they are truncated to integers.
type planResponse struct {
	Goal  string     `json:"goal"`
	Tasks []planTask `json:"tasks"`
}

type planTask struct {
	ID             float64 `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	ExpectedOutput string  `json:"expected_output"`
}

// generatePlan asks the model for a tasklist and installs it on the agent.
// The raw response survives either way: on success for inspection, on a
// malformed plan as the evidence behind the tasklist_error.
func (r *runner) generatePlan(ctx context.Context) error {
	var (
		agentName string
		agentCtx  string
		temp      float64
	)
	if err := r.store.View(r.agentID, func(a *models.Agent) {
		agentName = a.Name
		agentCtx = a.Context
		temp = a.Temperature
	}); err != nil {
		return err
	}

	prompt, err := r.buildPrompt(settings.PromptPhase0Planning, map[string]string{
		"agent_name":    agentName,
		"agent_context": agentCtx,
	})
	if err != nil {
		return err
	}

	raw, err := r.llm.Call(ctx, llm.CallOptions{
		Prompt:      prompt,
		Temperature: &temp,
		Stream:      true,
		OnFragment: func(delta string) {
			if perr := r.publisher.PublishTaskChunk(r.agentID, 0, delta); perr != nil {
				slog.Warn("Failed to publish planning chunk",
					"agent_id", r.agentID, "error", perr)
			}
		},
		CancelCheck: func() bool { return ctx.Err() != nil || r.cancelled() },
		AgentID:     r.agentID,
	})
	if err != nil {
		return err
	}

	tasklist, perr := parsePlan(raw)
	if perr != nil {
		if uerr := r.store.Update(r.agentID, func(a *models.Agent) {
			a.Phase0Response = raw
		}); uerr != nil {
			return uerr
		}
		return perr
	}

	if err := r.store.Update(r.agentID, func(a *models.Agent) {
		a.Tasklist = tasklist
		a.Tasklist.Sort()
		a.Phase0Response = raw
		a.CurrentPhase = 0
	}); err != nil {
		return err
	}

	info := tasklistInfo(tasklist)
	if perr := r.publisher.PublishTasklistGenerated(r.agentID, events.TasklistGeneratedPayload{
		Goal:  info.Goal,
		Tasks: info.Tasks,
	}); perr != nil {
		slog.Warn("Failed to publish tasklist", "agent_id", r.agentID, "error", perr)
	}
	phase := 0
	r.publishStatus(models.StatusRunning, &phase, info, "")
	return nil
}

// parsePlan extracts and checks the planning response. Every rejection
// carries the reason the plan was unusable; descriptions and expected
// outputs may be empty, names and unique ids may not.
func parsePlan(raw string) (*models.Tasklist, *planError) {
	candidate, err := ExtractJSONObject(raw)
	if err != nil {
		return nil, &planError{reason: err.Error()}
	}

	var parsed planResponse
	if err := json.Unmarshal([]byte(candidate), &parsed); err != nil {
		return nil, &planError{reason: fmt.Sprintf("plan does not match the expected shape: %v", err)}
	}
	if strings.TrimSpace(parsed.Goal) == "" {
		return nil, &planError{reason: "plan is missing a goal"}
	}
	if len(parsed.Tasks) == 0 {
		return nil, &planError{reason: "plan contains no tasks"}
	}

	seen := make(map[int]bool, len(parsed.Tasks))
	tasks := make([]*models.Task, 0, len(parsed.Tasks))
	for _, t := range parsed.Tasks {
		id := int(t.ID)
		if seen[id] {
			return nil, &planError{reason: fmt.Sprintf("plan repeats task id %d", id)}
		}
		seen[id] = true
		if strings.TrimSpace(t.Name) == "" {
			return nil, &planError{reason: fmt.Sprintf("task %d has no name", id)}
		}
		tasks = append(tasks, &models.Task{
			ID:             id,
			Name:           t.Name,
			Description:    t.Description,
			ExpectedOutput: t.ExpectedOutput,
			Status:         models.TaskCreated,
		})
	}
	return &models.Tasklist{Goal: parsed.Goal, Tasks: tasks}, nil
}

func tasklistInfo(t *models.Tasklist) *events.TasklistInfo {
	info := &events.TasklistInfo{Goal: t.Goal, Tasks: make([]events.TasklistTask, 0, len(t.Tasks))}
	for _, task := range t.Tasks {
		info.Tasks = append(info.Tasks, events.TasklistTask{
			ID:             task.ID,
			Name:           task.Name,
			Description:    task.Description,
			ExpectedOutput: task.ExpectedOutput,
		})
	}
	return info
}
