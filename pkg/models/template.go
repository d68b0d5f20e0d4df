package models

import "time"

// TemplateScope controls who can see and spawn from a template.
type TemplateScope string

const (
	ScopePersonal TemplateScope = "personal"
	ScopeOrg      TemplateScope = "org"
	ScopeGlobal   TemplateScope = "global"
)

// ExecutionMode selects the agent loop strategy.
type ExecutionMode string

const (
	// ModeSingle performs one model call; tool calls in the reply are ignored.
	ModeSingle ExecutionMode = "single"
	// ModeMultiStep runs the full reason→act→observe loop.
	ModeMultiStep ExecutionMode = "multi_step"
	// ModePlanner asks for an explicit plan first, then iterates.
	ModePlanner ExecutionMode = "planner"
)

// SummarizationConfig controls tool-result compaction (pass-through struct;
// the core stores and forwards it, interpretation is per-deployment).
type SummarizationConfig struct {
	Enabled         bool `json:"enabled" yaml:"enabled"`
	ThresholdTokens int  `json:"threshold_tokens,omitempty" yaml:"threshold_tokens,omitempty"`
}

// OutputConstraints restricts the shape of the final answer.
type OutputConstraints struct {
	Format    string `json:"format,omitempty" yaml:"format,omitempty"` // e.g. "markdown", "json"
	MaxLength int    `json:"max_length,omitempty" yaml:"max_length,omitempty"`
}

// AgentSpec is the behavioural definition carried by a template.
// Immutable per (template id, version).
type AgentSpec struct {
	Objective         string              `json:"objective" yaml:"objective"`
	AllowedModels     []string            `json:"allowed_models,omitempty" yaml:"allowed_models,omitempty"`
	AllowedTools      []string            `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
	ExecutionMode     ExecutionMode       `json:"execution_mode" yaml:"execution_mode"`
	MaxSteps          int                 `json:"max_steps" yaml:"max_steps"`
	Summarization     SummarizationConfig `json:"summarization,omitempty" yaml:"summarization,omitempty"`
	OutputConstraints OutputConstraints   `json:"output_constraints,omitempty" yaml:"output_constraints,omitempty"`
}

// Template is a reusable agent definition. Updates never mutate an existing
// (ID, Version) pair; they insert a new row with Version+1.
type Template struct {
	ID               string        `json:"id"`
	OwnerID          string        `json:"owner_id"`
	Scope            TemplateScope `json:"scope"`
	RequiredRoles    []Role        `json:"required_roles"`
	Spec             AgentSpec     `json:"spec"`
	Version          int           `json:"version"`
	MaxTemplateTools []string      `json:"max_template_tools"`
	IsActive         bool          `json:"is_active"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// EffectivePermissions is derived at spawn time and never stored raw:
// the intersection of template-allowed, role-allowed, and platform-allowed
// capabilities, plus role-derived budgets.
type EffectivePermissions struct {
	Tools       []string `json:"tools"`
	Models      []string `json:"models,omitempty"`
	MaxSteps    int      `json:"max_steps"`
	TokenBudget int      `json:"token_budget"`
}
