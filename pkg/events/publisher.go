package events

import (
	"encoding/json"
	"fmt"
)

// Publisher publishes typed events onto the bus.
//
// Each public method accepts a specific typed payload struct from
// payloads.go. The publisher stamps Type and Timestamp, marshals to JSON
// and routes to the agent channel; lifecycle events are additionally
// mirrored to the global agents channel. Callers treat returned errors as
// non-fatal (log and continue): event delivery never gates the workflow.
type Publisher struct {
	bus *Bus
}

// NewPublisher creates a Publisher on top of a bus.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{bus: bus}
}

// PublishWorkflowStatus broadcasts a workflow_status event.
func (p *Publisher) PublishWorkflowStatus(agentID string, payload WorkflowStatusPayload) error {
	payload.Type = EventTypeWorkflowStatus
	payload.AgentID = agentID
	if payload.Timestamp == "" {
		payload.Timestamp = NowTimestamp()
	}
	return p.publish(AgentChannel(agentID), payload.Type, payload)
}

// PublishTasklistGenerated broadcasts a tasklist_generated event after a
// successful planning phase.
func (p *Publisher) PublishTasklistGenerated(agentID string, payload TasklistGeneratedPayload) error {
	payload.Type = EventTypeTasklistGenerated
	payload.AgentID = agentID
	if payload.Timestamp == "" {
		payload.Timestamp = NowTimestamp()
	}
	return p.publish(AgentChannel(agentID), payload.Type, payload)
}

// PublishTaskStatus broadcasts one of the task lifecycle events.
// eventType must be EventTypeTaskRunning, EventTypeTaskCompleted,
// EventTypeTaskFailed or EventTypeTaskCancelled.
func (p *Publisher) PublishTaskStatus(agentID, eventType string, payload TaskStatusPayload) error {
	payload.Type = eventType
	payload.AgentID = agentID
	if payload.Timestamp == "" {
		payload.Timestamp = NowTimestamp()
	}
	return p.publish(AgentChannel(agentID), payload.Type, payload)
}

// PublishTaskChunk broadcasts a task_chunk transient event.
// High-frequency streaming fragments, ephemeral and lost on disconnect.
func (p *Publisher) PublishTaskChunk(agentID string, taskID int, delta string) error {
	payload := TaskChunkPayload{
		Type:      EventTypeTaskChunk,
		AgentID:   agentID,
		TaskID:    taskID,
		Delta:     delta,
		Timestamp: NowTimestamp(),
	}
	return p.publish(AgentChannel(agentID), payload.Type, payload)
}

// PublishTaskValidation broadcasts a task_validation event.
func (p *Publisher) PublishTaskValidation(agentID string, payload TaskValidationPayload) error {
	payload.Type = EventTypeTaskValidation
	payload.AgentID = agentID
	if payload.Timestamp == "" {
		payload.Timestamp = NowTimestamp()
	}
	return p.publish(AgentChannel(agentID), payload.Type, payload)
}

// PublishLLMRequest broadcasts an llm_request event.
func (p *Publisher) PublishLLMRequest(agentID string, payload LLMRequestPayload) error {
	payload.Type = EventTypeLLMRequest
	payload.AgentID = agentID
	if payload.Timestamp == "" {
		payload.Timestamp = NowTimestamp()
	}
	return p.publish(AgentChannel(agentID), payload.Type, payload)
}

// PublishLLMResponse broadcasts an llm_response event.
func (p *Publisher) PublishLLMResponse(agentID string, payload LLMResponsePayload) error {
	payload.Type = EventTypeLLMResponse
	payload.AgentID = agentID
	if payload.Timestamp == "" {
		payload.Timestamp = NowTimestamp()
	}
	return p.publish(AgentChannel(agentID), payload.Type, payload)
}

// PublishToolCallStart broadcasts a tool_call_start event.
func (p *Publisher) PublishToolCallStart(agentID string, payload ToolCallStartPayload) error {
	payload.Type = EventTypeToolCallStart
	payload.AgentID = agentID
	if payload.Timestamp == "" {
		payload.Timestamp = NowTimestamp()
	}
	return p.publish(AgentChannel(agentID), payload.Type, payload)
}

// PublishToolThresholdAttempt broadcasts a tool_threshold_attempt event.
func (p *Publisher) PublishToolThresholdAttempt(agentID string, payload ToolThresholdAttemptPayload) error {
	payload.Type = EventTypeToolThresholdAttempt
	payload.AgentID = agentID
	if payload.Timestamp == "" {
		payload.Timestamp = NowTimestamp()
	}
	return p.publish(AgentChannel(agentID), payload.Type, payload)
}

// PublishToolCallComplete broadcasts a tool_call_complete event.
func (p *Publisher) PublishToolCallComplete(agentID string, payload ToolCallCompletePayload) error {
	payload.Type = EventTypeToolCallComplete
	payload.AgentID = agentID
	if payload.Timestamp == "" {
		payload.Timestamp = NowTimestamp()
	}
	return p.publish(AgentChannel(agentID), payload.Type, payload)
}

// PublishAgentLifecycle broadcasts one of the agent_* lifecycle events to
// the agent channel and mirrors it to the global agents channel for list
// views. eventType must be one of the agent lifecycle constants.
func (p *Publisher) PublishAgentLifecycle(agentID, eventType string, payload AgentLifecyclePayload) error {
	payload.Type = eventType
	payload.AgentID = agentID
	if payload.Timestamp == "" {
		payload.Timestamp = NowTimestamp()
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	p.bus.Publish(Event{Channel: AgentChannel(agentID), Type: eventType, Payload: data})
	p.bus.Publish(Event{Channel: GlobalAgentsChannel, Type: eventType, Payload: data})
	return nil
}

// publish marshals a stamped payload and delivers it to one channel.
func (p *Publisher) publish(channel, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	p.bus.Publish(Event{Channel: channel, Type: eventType, Payload: data})
	return nil
}
