package models

// CreateTemplateRequest is the service-layer input for creating or updating
// a template. Updating an existing id inserts a new immutable version.
type CreateTemplateRequest struct {
	ID               string        `json:"id"`
	OwnerID          string        `json:"owner_id"`
	Scope            TemplateScope `json:"scope"`
	RequiredRoles    []Role        `json:"required_roles"`
	Spec             AgentSpec     `json:"spec"`
	MaxTemplateTools []string      `json:"max_template_tools"`
}

// SpawnRequest is the input to the spawner.
type SpawnRequest struct {
	TemplateID       string         `json:"template_id"`
	Task             string         `json:"task"`
	Context          map[string]any `json:"context,omitempty"`
	ParentInstanceID string         `json:"parent_instance_id,omitempty"`
}

// AppendEventRequest is the service-layer input for the event log.
type AppendEventRequest struct {
	InstanceID string         `json:"instance_id"`
	Type       EventType      `json:"event_type"`
	Payload    map[string]any `json:"payload,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	SpanID     string         `json:"span_id,omitempty"`
	TokensUsed int            `json:"tokens_used,omitempty"`
	LatencyMS  int            `json:"latency_ms,omitempty"`
}

// EventFilter narrows event log reads. Zero values mean "no filter".
type EventFilter struct {
	InstanceID string `json:"instance_id,omitempty"`
	RootID     string `json:"root_id,omitempty"` // ancestry-wide reads
	AfterID    string `json:"after_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}
