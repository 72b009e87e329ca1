package events

import (
	"time"

	"github.com/copydesk/stringer/pkg/models"
)

// NowTimestamp returns the canonical event timestamp (RFC3339Nano, UTC).
func NowTimestamp() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// WorkflowStatusPayload is the payload for workflow_status events.
// Published on every agent status or phase transition during a run.
type WorkflowStatusPayload struct {
	Type      string             `json:"type"`               // always EventTypeWorkflowStatus
	AgentID   string             `json:"agent_id"`           // owning agent UUID
	Status    models.AgentStatus `json:"status"`             // created, running, halted, stopped, completed, failed, tasklist_error
	Phase     *int               `json:"phase,omitempty"`    // current phase (0 = planning, 1..n = tasks)
	Tasklist  *TasklistInfo      `json:"tasklist,omitempty"` // set when the status change carries a fresh plan
	Error     string             `json:"error,omitempty"`    // failure detail for terminal errors
	Timestamp string             `json:"timestamp"`          // RFC3339Nano
}

// TasklistInfo is the plan snapshot optionally embedded in a
// WorkflowStatusPayload.
type TasklistInfo struct {
	Goal  string         `json:"goal"`
	Tasks []TasklistTask `json:"tasks"`
}

// TasklistTask is one planned task inside a TasklistGeneratedPayload.
type TasklistTask struct {
	ID             int    `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	ExpectedOutput string `json:"expected_output"`
}

// TasklistGeneratedPayload is the payload for tasklist_generated events.
// Published once phase 0 produces a validated plan.
type TasklistGeneratedPayload struct {
	Type      string         `json:"type"`      // always EventTypeTasklistGenerated
	AgentID   string         `json:"agent_id"`  // owning agent UUID
	Goal      string         `json:"goal"`      // overall goal extracted from the plan
	Tasks     []TasklistTask `json:"tasks"`     // planned tasks in execution order
	Timestamp string         `json:"timestamp"` // RFC3339Nano
}

// TaskStatusPayload is the payload for task_running, task_completed,
// task_failed and task_cancelled events. Output and Validation are only
// set on terminal events.
type TaskStatusPayload struct {
	Type       string             `json:"type"`                 // one of the task lifecycle types
	AgentID    string             `json:"agent_id"`             // owning agent UUID
	TaskID     int                `json:"task_id"`              // task identifier from the plan
	TaskName   string             `json:"task_name"`            // human-readable task name
	Output     string             `json:"output,omitempty"`     // full task output (terminal events)
	Validation *models.Validation `json:"validation,omitempty"` // verdict (terminal events)
	Error      string             `json:"error,omitempty"`      // failure detail
	Timestamp  string             `json:"timestamp"`            // RFC3339Nano
}

// TaskChunkPayload is the payload for task_chunk transient events.
// Published for each streamed LLM fragment; high frequency, ephemeral.
type TaskChunkPayload struct {
	Type      string `json:"type"`      // always EventTypeTaskChunk
	AgentID   string `json:"agent_id"`  // owning agent UUID
	TaskID    int    `json:"task_id"`   // 0 during planning, task id afterwards
	Delta     string `json:"delta"`     // incremental text fragment
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// TaskValidationPayload is the payload for task_validation events.
type TaskValidationPayload struct {
	Type      string `json:"type"`      // always EventTypeTaskValidation
	AgentID   string `json:"agent_id"`  // owning agent UUID
	TaskID    int    `json:"task_id"`   // validated task
	IsValid   bool   `json:"is_valid"`  // verdict
	Score     int    `json:"score"`     // 0..100
	Reason    string `json:"reason"`    // reviewer explanation
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// LLMRequestPayload is the payload for llm_request events.
// Published right before the outbound POST.
type LLMRequestPayload struct {
	Type        string  `json:"type"`         // always EventTypeLLMRequest
	AgentID     string  `json:"agent_id"`     // requesting agent UUID
	Endpoint    string  `json:"endpoint"`     // target URL
	Model       string  `json:"model"`        // model identifier
	Temperature float64 `json:"temperature"`  // effective temperature
	MaxTokens   int     `json:"max_tokens"`   // effective token cap
	Prompt      string  `json:"prompt"`       // full prompt text
	PayloadType string  `json:"payload_type"` // message or completion
	Timestamp   string  `json:"timestamp"`    // RFC3339Nano
}

// LLMResponsePayload is the payload for llm_response events.
type LLMResponsePayload struct {
	Type           string  `json:"type"`                      // always EventTypeLLMResponse
	AgentID        string  `json:"agent_id"`                  // requesting agent UUID
	Success        bool    `json:"success"`                   // call outcome
	Text           string  `json:"text,omitempty"`            // full response text on success
	GenerationTime float64 `json:"generation_time,omitempty"` // seconds
	ResponseLength int     `json:"response_length,omitempty"` // runes in Text
	Error          string  `json:"error,omitempty"`           // failure detail
	Timestamp      string  `json:"timestamp"`                 // RFC3339Nano
}

// ToolCallStartPayload is the payload for tool_call_start events.
type ToolCallStartPayload struct {
	Type      string `json:"type"`      // always EventTypeToolCallStart
	AgentID   string `json:"agent_id"`  // owning agent UUID
	TaskID    int    `json:"task_id"`   // task the retrieval serves
	Tool      string `json:"tool"`      // tool identifier (vector_search)
	Query     string `json:"query"`     // search text preview
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// ToolThresholdAttemptPayload is the payload for tool_threshold_attempt
// events, one per step of the dynamic threshold descent.
type ToolThresholdAttemptPayload struct {
	Type          string  `json:"type"`           // always EventTypeToolThresholdAttempt
	AgentID       string  `json:"agent_id"`       // owning agent UUID
	TaskID        int     `json:"task_id"`        // task the retrieval serves
	Threshold     float64 `json:"threshold"`      // similarity floor of this attempt
	Hits          int     `json:"hits"`           // documents at or above the floor
	TargetReached bool    `json:"target_reached"` // hit target satisfied at this floor
	Timestamp     string  `json:"timestamp"`      // RFC3339Nano
}

// DocumentPreview is a truncated view of one retrieved document inside a
// ToolCallCompletePayload. Full content stays out of the event stream.
type DocumentPreview struct {
	Score    float64 `json:"score"`
	Filename string  `json:"filename"`
	Preview  string  `json:"preview"`
}

// ToolCallCompletePayload is the payload for tool_call_complete events.
type ToolCallCompletePayload struct {
	Type          string            `json:"type"`           // always EventTypeToolCallComplete
	AgentID       string            `json:"agent_id"`       // owning agent UUID
	TaskID        int               `json:"task_id"`        // task the retrieval serves
	DocumentCount int               `json:"document_count"` // documents returned
	ThresholdUsed float64           `json:"threshold_used"` // final similarity floor
	RetrievalTime float64           `json:"retrieval_time"` // seconds
	Documents     []DocumentPreview `json:"documents"`      // truncated previews
	Timestamp     string            `json:"timestamp"`      // RFC3339Nano
}

// AgentLifecyclePayload is the payload for all agent_* lifecycle events.
// Mirrored to the global agents channel for list views.
type AgentLifecyclePayload struct {
	Type      string             `json:"type"`             // one of the agent lifecycle types
	AgentID   string             `json:"agent_id"`         // agent UUID
	Name      string             `json:"name"`             // agent display name
	Status    models.AgentStatus `json:"status"`           // status after the transition
	Phase     *int               `json:"phase,omitempty"`  // position when halted/stopped
	Reason    string             `json:"reason,omitempty"` // why (stop reason, failure detail)
	Timestamp string             `json:"timestamp"`        // RFC3339Nano
}
