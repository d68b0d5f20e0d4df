// Package spawn instantiates agent templates. The spawner resolves the
// template, checks visibility and role requirements, records ancestry, and
// derives the effective permission set before handing the instance to the
// queue as a queued row.
package spawn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelops/kestrel/pkg/config"
	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/services"
)

// Spawner turns templates into queued instances.
type Spawner struct {
	templates *services.TemplateService
	instances *services.InstanceService
	events    *services.EventService
	policy    *config.Policy
	logger    *slog.Logger
}

// NewSpawner creates a Spawner.
func NewSpawner(
	templates *services.TemplateService,
	instances *services.InstanceService,
	events *services.EventService,
	policy *config.Policy,
) *Spawner {
	return &Spawner{
		templates: templates,
		instances: instances,
		events:    events,
		policy:    policy,
		logger:    slog.Default().With("component", "spawner"),
	}
}

// Spawn creates a queued instance from a template. The active-instance cap
// is enforced by the store inside the same transaction that inserts the
// row, so racing spawns cannot both take the last slot.
func (s *Spawner) Spawn(ctx context.Context, principal models.Principal, req models.SpawnRequest) (*models.Instance, error) {
	if req.TemplateID == "" {
		return nil, fmt.Errorf("%w: template id is required", services.ErrInvalidInput)
	}
	if req.Task == "" {
		return nil, fmt.Errorf("%w: task is required", services.ErrInvalidInput)
	}

	tmpl, err := s.templates.Get(ctx, req.TemplateID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, req.TemplateID)
		}
		return nil, err
	}
	if !templateVisible(tmpl, principal) {
		// Invisible reads as missing so scope cannot be probed.
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, req.TemplateID)
	}

	if !roleSatisfied(tmpl.RequiredRoles, principal.Role) {
		return nil, fmt.Errorf("%w: template %s requires %v, principal is %s",
			ErrInsufficientRole, tmpl.ID, tmpl.RequiredRoles, principal.Role)
	}

	id := uuid.NewString()
	depth := 0
	rootID := id
	if req.ParentInstanceID != "" {
		parent, err := s.resolveParent(ctx, req.ParentInstanceID)
		if err != nil {
			return nil, err
		}
		depth = parent.Depth + 1
		rootID = parent.RootID
	}
	if depth >= s.policy.MaxDepth {
		return nil, fmt.Errorf("%w: depth %d reaches cap %d", ErrSpawnDepthExceeded, depth, s.policy.MaxDepth)
	}

	perms := s.policy.EffectivePermissions(tmpl, principal.Role)

	// The context is copied through a JSON round trip so sibling spawns
	// never share structure with the caller's map.
	instanceContext, err := copyContext(req.Context)
	if err != nil {
		return nil, fmt.Errorf("%w: context is not JSON-serializable: %v", services.ErrInvalidInput, err)
	}
	permsValue, err := toJSONValue(perms)
	if err != nil {
		return nil, fmt.Errorf("encode effective permissions: %w", err)
	}
	instanceContext["_effective_permissions"] = permsValue
	// The runner processes the queue long after authentication happened, so
	// the spawning principal's role travels with the instance.
	instanceContext["_principal_role"] = string(principal.Role)

	now := time.Now()
	inst := &models.Instance{
		ID:              id,
		TemplateID:      tmpl.ID,
		TemplateVersion: tmpl.Version,
		PrincipalID:     principal.ID,
		ParentID:        req.ParentInstanceID,
		RootID:          rootID,
		Depth:           depth,
		Status:          models.StatusQueued,
		Task:            req.Task,
		Context:         instanceContext,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.instances.CreateQueued(ctx, inst, s.policy.MaxTotalInstances); err != nil {
		return nil, err
	}

	s.events.Record(ctx, models.Event{
		InstanceID: inst.ID,
		Type:       models.EventSpawned,
		Payload: map[string]any{
			"template_id":      tmpl.ID,
			"template_version": tmpl.Version,
			"effective_tools":  perms.Tools,
			"effective_models": perms.Models,
			"depth":            depth,
		},
	})

	s.logger.Info("instance spawned",
		"instance", inst.ID, "template", tmpl.ID, "version", tmpl.Version,
		"principal", principal.ID, "depth", depth)
	return inst, nil
}

// resolveParent loads the parent and walks its ancestor chain. The chain
// walk rejects loops in stored data rather than trusting RootID alone.
func (s *Spawner) resolveParent(ctx context.Context, parentID string) (*models.Instance, error) {
	parent, err := s.instances.Get(ctx, parentID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return nil, fmt.Errorf("%w: parent instance %s", ErrTemplateNotFound, parentID)
		}
		return nil, err
	}

	seen := map[string]bool{}
	for cursor := parent; cursor.ParentID != ""; {
		if seen[cursor.ID] {
			return nil, fmt.Errorf("%w: ancestor chain of %s loops at %s", ErrSpawnCircular, parentID, cursor.ID)
		}
		seen[cursor.ID] = true
		if cursor.ParentID == cursor.ID {
			return nil, fmt.Errorf("%w: instance %s is its own parent", ErrSpawnCircular, cursor.ID)
		}
		next, err := s.instances.Get(ctx, cursor.ParentID)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				return nil, fmt.Errorf("%w: ancestor %s of parent %s", ErrTemplateNotFound, cursor.ParentID, parentID)
			}
			return nil, err
		}
		cursor = next
	}
	return parent, nil
}

// templateVisible applies scope rules: personal templates are owner-only,
// org templates need an agent-capable role (the deployment is one org, so
// the role check stands in for a membership table), global templates are
// open to everyone.
func templateVisible(tmpl *models.Template, principal models.Principal) bool {
	switch tmpl.Scope {
	case models.ScopePersonal:
		return tmpl.OwnerID == principal.ID
	case models.ScopeOrg:
		return principal.Role.AtLeast(models.RoleAgentUser)
	case models.ScopeGlobal:
		return true
	}
	return false
}

// roleSatisfied passes when the template lists no roles, or the principal
// meets at least one listed role via the hierarchy.
func roleSatisfied(required []models.Role, role models.Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if role.AtLeast(r) {
			return true
		}
	}
	return false
}

func copyContext(src map[string]any) (map[string]any, error) {
	if src == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	var dst map[string]any
	if err := json.Unmarshal(raw, &dst); err != nil {
		return nil, err
	}
	return dst, nil
}

func toJSONValue(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
