package services

import (
	"context"
	"fmt"
	"time"

	"github.com/kestrelops/kestrel/pkg/models"
)

// InstanceService manages instance lifecycle. Every status change goes
// through Transition so the state machine is enforced in one place.
type InstanceService struct {
	store InstanceStore
}

// NewInstanceService creates an InstanceService.
func NewInstanceService(store InstanceStore) *InstanceService {
	return &InstanceService{store: store}
}

// CreateQueued persists a freshly spawned instance, enforcing the
// principal's active-instance cap inside the store transaction.
func (s *InstanceService) CreateQueued(ctx context.Context, inst *models.Instance, maxActive int) error {
	if inst.Status != models.StatusQueued {
		return fmt.Errorf("%w: new instances start queued, got %s", ErrInvalidInput, inst.Status)
	}
	return s.store.CreateWithCap(ctx, inst, maxActive)
}

// Get returns one instance.
func (s *InstanceService) Get(ctx context.Context, id string) (*models.Instance, error) {
	return s.store.GetInstance(ctx, id)
}

// Transition moves an instance to a new status, applying mutate (which may
// be nil) to the loaded row first. Illegal edges are rejected; terminal
// states set completed_at.
func (s *InstanceService) Transition(
	ctx context.Context,
	id string,
	to models.InstanceStatus,
	mutate func(*models.Instance),
) (*models.Instance, error) {
	inst, err := s.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	from := inst.Status
	if !models.CanTransition(from, to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrIllegalTransition, from, to)
	}

	if mutate != nil {
		mutate(inst)
	}
	now := time.Now()
	inst.Status = to
	inst.UpdatedAt = now
	if to.Terminal() {
		inst.CompletedAt = &now
	}

	if err := s.store.UpdateInstance(ctx, inst, from); err != nil {
		return nil, err
	}
	return inst, nil
}

// CountActive reports a principal's queued + running + awaiting instances.
func (s *InstanceService) CountActive(ctx context.Context, principalID string) (int, error) {
	return s.store.CountActive(ctx, principalID)
}

// ListQueued returns instances waiting for a runner, oldest first.
func (s *InstanceService) ListQueued(ctx context.Context, limit int) ([]*models.Instance, error) {
	return s.store.ListQueued(ctx, limit)
}

// ListByPrincipal returns a principal's instances, newest first.
func (s *InstanceService) ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*models.Instance, error) {
	return s.store.ListByPrincipal(ctx, principalID, limit)
}
