package config

import (
	"github.com/kestrelops/kestrel/pkg/models"
)

// Policy holds the platform-wide RBAC and resource tables.
// Derived permissions are always intersections; the policy can only
// narrow what a template asks for, never widen it.
type Policy struct {
	// MaxDepth is the exclusive spawn-depth cap: an instance whose depth
	// would equal MaxDepth is rejected.
	MaxDepth int `yaml:"max_depth"`

	// MaxTotalInstances caps a principal's concurrently active instances
	// (queued, running, or awaiting approval).
	MaxTotalInstances int `yaml:"max_total_instances"`

	// PendingTTL is how long an unapproved tool call stays actionable.
	PendingTTL Duration `yaml:"pending_ttl"`

	// Roles maps each role to its capability grants.
	Roles map[models.Role]*RoleGrant `yaml:"roles"`
}

// RoleGrant is the per-role capability row.
type RoleGrant struct {
	// Tools lists allowed tool names. The single entry "*" grants all.
	Tools []string `yaml:"tools"`
	// MaxSteps caps a single instance's model turns.
	MaxSteps int `yaml:"max_steps"`
	// TokenBudget caps a single instance's cumulative token usage.
	TokenBudget int `yaml:"token_budget"`
}

// RoleTools returns the tools granted to role; nil when the role has none.
func (p *Policy) RoleTools(role models.Role) []string {
	if grant, ok := p.Roles[role]; ok {
		return grant.Tools
	}
	return nil
}

// RoleMaxSteps returns the step cap for role (0 = no grant).
func (p *Policy) RoleMaxSteps(role models.Role) int {
	if grant, ok := p.Roles[role]; ok {
		return grant.MaxSteps
	}
	return 0
}

// RoleTokenBudget returns the token budget for role (0 = no grant).
func (p *Policy) RoleTokenBudget(role models.Role) int {
	if grant, ok := p.Roles[role]; ok {
		return grant.TokenBudget
	}
	return 0
}

// Intersect returns the elements of allowed that the grant set also names.
// A grant of "*" passes everything through. Order follows allowed; the
// result is never nil so callers can range without nil checks.
func Intersect(allowed, granted []string) []string {
	result := []string{}
	grantAll := false
	grantSet := make(map[string]bool, len(granted))
	for _, g := range granted {
		if g == "*" {
			grantAll = true
		}
		grantSet[g] = true
	}
	for _, a := range allowed {
		if grantAll || grantSet[a] {
			result = append(result, a)
		}
	}
	return result
}

// EffectivePermissions derives the capability set for one spawn:
// tools = template.allowed ∩ role grant ∩ template.max_template_tools,
// max_steps = min(spec, role cap), token budget from the role.
func (p *Policy) EffectivePermissions(tmpl *models.Template, role models.Role) models.EffectivePermissions {
	tools := Intersect(tmpl.Spec.AllowedTools, p.RoleTools(role))
	if len(tmpl.MaxTemplateTools) > 0 {
		tools = Intersect(tools, tmpl.MaxTemplateTools)
	}

	maxSteps := tmpl.Spec.MaxSteps
	if roleCap := p.RoleMaxSteps(role); roleCap > 0 && roleCap < maxSteps {
		maxSteps = roleCap
	}

	return models.EffectivePermissions{
		Tools:       tools,
		Models:      tmpl.Spec.AllowedModels,
		MaxSteps:    maxSteps,
		TokenBudget: p.RoleTokenBudget(role),
	}
}
