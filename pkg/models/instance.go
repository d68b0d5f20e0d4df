package models

import "time"

// InstanceStatus is the lifecycle state of a spawned agent instance.
//
// Legal transitions (everything else is rejected):
//
//	queued            → running
//	running           → awaiting_approval | completed | failed | cancelled
//	awaiting_approval → running | cancelled | failed
type InstanceStatus string

const (
	StatusQueued           InstanceStatus = "queued"
	StatusRunning          InstanceStatus = "running"
	StatusAwaitingApproval InstanceStatus = "awaiting_approval"
	StatusCompleted        InstanceStatus = "completed"
	StatusFailed           InstanceStatus = "failed"
	StatusCancelled        InstanceStatus = "cancelled"
)

// legalTransitions encodes the instance status state machine.
var legalTransitions = map[InstanceStatus][]InstanceStatus{
	StatusQueued:           {StatusRunning, StatusCancelled},
	StatusRunning:          {StatusAwaitingApproval, StatusCompleted, StatusFailed, StatusCancelled},
	StatusAwaitingApproval: {StatusRunning, StatusCancelled, StatusFailed},
}

// CanTransition reports whether from → to is a legal status edge.
func CanTransition(from, to InstanceStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s is a terminal instance status.
func (s InstanceStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether s counts against the concurrent-instance cap.
func (s InstanceStatus) Active() bool {
	switch s {
	case StatusQueued, StatusRunning, StatusAwaitingApproval:
		return true
	}
	return false
}

// Instance is a spawned agent run. Ancestry is recorded via ParentID/RootID
// and Depth; RootID equals ID when ParentID is empty, and Depth is always
// parent.Depth+1 otherwise.
type Instance struct {
	ID              string         `json:"id"`
	TemplateID      string         `json:"template_id"`
	TemplateVersion int            `json:"template_version"`
	PrincipalID     string         `json:"spawned_by_user_id"`
	ParentID        string         `json:"parent_instance_id,omitempty"`
	RootID          string         `json:"root_instance_id"`
	Depth           int            `json:"depth"`
	Status          InstanceStatus `json:"status"`
	CurrentState    string         `json:"current_state,omitempty"`
	Step            int            `json:"step"`
	Task            string         `json:"task"`
	Context         map[string]any `json:"context,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	Error           string         `json:"error,omitempty"`
	TokensUsed      int            `json:"tokens_used"`
	Cost            float64        `json:"cost"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}
