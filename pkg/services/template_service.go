package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelops/kestrel/pkg/models"
)

// TemplateService manages agent templates. Template specs are immutable:
// updating an existing id inserts a new row with the version bumped, so a
// running instance keeps the version it was spawned from.
type TemplateService struct {
	store TemplateStore
}

// NewTemplateService creates a TemplateService.
func NewTemplateService(store TemplateStore) *TemplateService {
	return &TemplateService{store: store}
}

// Create inserts a template. A request for an existing id becomes the next
// version; a fresh id (or none, in which case one is generated) starts at
// version 1.
func (s *TemplateService) Create(ctx context.Context, req models.CreateTemplateRequest) (*models.Template, error) {
	if err := validateTemplateRequest(req); err != nil {
		return nil, err
	}

	id := req.ID
	version := 1
	if id == "" {
		id = uuid.NewString()
	} else if prev, err := s.store.LatestTemplate(ctx, id); err == nil {
		version = prev.Version + 1
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	tmpl := &models.Template{
		ID:               id,
		OwnerID:          req.OwnerID,
		Scope:            req.Scope,
		RequiredRoles:    req.RequiredRoles,
		Spec:             req.Spec,
		Version:          version,
		MaxTemplateTools: req.MaxTemplateTools,
		IsActive:         true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.InsertTemplate(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}
	return tmpl, nil
}

// Get returns the latest version of an active template.
func (s *TemplateService) Get(ctx context.Context, id string) (*models.Template, error) {
	tmpl, err := s.store.LatestTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tmpl.IsActive {
		return nil, fmt.Errorf("%w: template %s is inactive", ErrNotFound, id)
	}
	return tmpl, nil
}

// GetVersion returns one pinned template version, active or not; running
// instances resolve their spec through this.
func (s *TemplateService) GetVersion(ctx context.Context, id string, version int) (*models.Template, error) {
	return s.store.GetTemplateVersion(ctx, id, version)
}

// List returns the latest version of every template.
func (s *TemplateService) List(ctx context.Context) ([]*models.Template, error) {
	return s.store.ListTemplates(ctx)
}

// Deactivate retires a template from spawning. Existing instances keep
// running on their pinned versions.
func (s *TemplateService) Deactivate(ctx context.Context, id string) error {
	return s.store.SetTemplateActive(ctx, id, false)
}

func validateTemplateRequest(req models.CreateTemplateRequest) error {
	if req.OwnerID == "" {
		return fmt.Errorf("%w: owner_id is required", ErrInvalidInput)
	}
	if req.Spec.Objective == "" {
		return fmt.Errorf("%w: spec.objective is required", ErrInvalidInput)
	}
	switch req.Scope {
	case models.ScopePersonal, models.ScopeOrg, models.ScopeGlobal:
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, req.Scope)
	}
	switch req.Spec.ExecutionMode {
	case models.ModeSingle, models.ModeMultiStep, models.ModePlanner, "":
	default:
		return fmt.Errorf("%w: unknown execution mode %q", ErrInvalidInput, req.Spec.ExecutionMode)
	}
	if req.Spec.MaxSteps < 0 {
		return fmt.Errorf("%w: max_steps must not be negative", ErrInvalidInput)
	}
	return nil
}
