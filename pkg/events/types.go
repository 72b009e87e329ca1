// Package events provides real-time event delivery over an in-process bus
// with WebSocket fan-out to browser clients.
//
// ════════════════════════════════════════════════════════════════
// Channel Layout
// ════════════════════════════════════════════════════════════════
//
// Every event belongs to exactly one agent and is published on that
// agent's channel ("agent:{id}"). Lifecycle transitions are additionally
// mirrored to the global "agents" channel so list views can update
// without subscribing to every agent individually.
//
// Agent channel only (high frequency, per-run detail):
//
//	task_chunk               streamed LLM fragments (ephemeral)
//	task_running / task_completed / task_failed / task_cancelled
//	task_validation          the verdict for one task
//	tasklist_generated       the plan produced by phase 0
//	llm_request / llm_response
//	tool_call_start / tool_threshold_attempt / tool_call_complete
//	workflow_status          phase/status snapshots for progress bars
//
// Agent channel + global mirror (lifecycle):
//
//	agent_started, agent_halted, agent_stopped, agent_completed,
//	agent_failed, agent_continued, agent_auto_restart
//
// Streamed output follows one lifecycle pattern: task_running opens the
// stream, task_chunk carries deltas (transient, lost on reconnect), and
// task_completed/task_failed closes it with the full output. Clients
// concatenate deltas for a live typing effect and replace the
// concatenation with the terminal event's output field.
//
// ════════════════════════════════════════════════════════════════
package events

// Workflow progress event types.
const (
	EventTypeWorkflowStatus    = "workflow_status"
	EventTypeTasklistGenerated = "tasklist_generated"
)

// Task lifecycle event types.
const (
	EventTypeTaskRunning    = "task_running"
	EventTypeTaskCompleted  = "task_completed"
	EventTypeTaskFailed     = "task_failed"
	EventTypeTaskCancelled  = "task_cancelled"
	EventTypeTaskChunk      = "task_chunk"
	EventTypeTaskValidation = "task_validation"
)

// LLM interaction event types.
const (
	EventTypeLLMRequest  = "llm_request"
	EventTypeLLMResponse = "llm_response"
)

// Retrieval tool event types.
const (
	EventTypeToolCallStart        = "tool_call_start"
	EventTypeToolThresholdAttempt = "tool_threshold_attempt"
	EventTypeToolCallComplete     = "tool_call_complete"
)

// Agent lifecycle event types (mirrored to the global channel).
const (
	EventTypeAgentStarted     = "agent_started"
	EventTypeAgentHalted      = "agent_halted"
	EventTypeAgentStopped     = "agent_stopped"
	EventTypeAgentCompleted   = "agent_completed"
	EventTypeAgentFailed      = "agent_failed"
	EventTypeAgentContinued   = "agent_continued"
	EventTypeAgentAutoRestart = "agent_auto_restart"
)

// GlobalAgentsChannel is the channel for agent lifecycle events.
// The agent list page subscribes to this for real-time updates.
const GlobalAgentsChannel = "agents"

// AgentChannel returns the channel name for a specific agent's events.
// Format: "agent:{agent_id}"
func AgentChannel(agentID string) string {
	return "agent:" + agentID
}

// Event is the envelope delivered to bus subscribers. Payload is the
// marshaled payload struct; its "type" field matches Type.
type Event struct {
	Channel string
	Type    string
	Payload []byte
}

// ClientMessage is the JSON structure for client → server WebSocket messages.
type ClientMessage struct {
	Action  string `json:"action"`            // "subscribe", "unsubscribe", "ping"
	Channel string `json:"channel,omitempty"` // channel name (e.g., "agent:abc-123")
}
