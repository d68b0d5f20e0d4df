package models

import "time"

// EventType classifies event log records.
//
// Event types and their semantics:
//
//	spawned              instance created; payload carries template id/name,
//	                     effective tools/models, depth
//	step_started         loop entered a new step
//	model_turn           one chat-completion round trip (payload: usage)
//	tool_call_issued     the model requested a tool call
//	tool_call_approved   a pending call was approved
//	tool_call_rejected   a pending call was rejected
//	tool_call_result     tool execution finished (payload: truncated result)
//	completed            instance finished with a final answer
//	failed               instance aborted (budget, steps, provider failure)
//	cancelled            instance cancelled by the caller
type EventType string

const (
	EventSpawned          EventType = "spawned"
	EventStepStarted      EventType = "step_started"
	EventModelTurn        EventType = "model_turn"
	EventToolCallIssued   EventType = "tool_call_issued"
	EventToolCallApproved EventType = "tool_call_approved"
	EventToolCallRejected EventType = "tool_call_rejected"
	EventToolCallResult   EventType = "tool_call_result"
	EventCompleted        EventType = "completed"
	EventFailed           EventType = "failed"
	EventCancelled        EventType = "cancelled"
)

// Terminal reports whether t closes an instance's event stream.
func (t EventType) Terminal() bool {
	switch t {
	case EventCompleted, EventFailed, EventCancelled:
		return true
	}
	return false
}

// Event is one append-only record in the instance event log.
// Events are never updated or deleted.
type Event struct {
	ID         string         `json:"id"`
	InstanceID string         `json:"instance_id"`
	Type       EventType      `json:"event_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	SpanID     string         `json:"span_id,omitempty"`
	TokensUsed int            `json:"tokens_used"`
	LatencyMS  int            `json:"latency_ms,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}
