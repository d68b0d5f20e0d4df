package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kestrelops/kestrel/pkg/models"
)

// MemoryStore is the in-process implementation of all three store
// interfaces. It backs unit tests and dev mode; production runs on the
// pgx store in pkg/database.
type MemoryStore struct {
	mu        sync.Mutex
	templates map[string][]*models.Template // id → versions ascending
	instances map[string]*models.Instance
	events    []*models.Event
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string][]*models.Template),
		instances: make(map[string]*models.Instance),
	}
}

// InsertTemplate stores a new template version.
func (s *MemoryStore) InsertTemplate(_ context.Context, tmpl *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.templates[tmpl.ID]
	if len(versions) > 0 && versions[len(versions)-1].Version >= tmpl.Version {
		return fmt.Errorf("%w: template %s version %d already exists", ErrInvalidInput, tmpl.ID, tmpl.Version)
	}
	clone := *tmpl
	s.templates[tmpl.ID] = append(versions, &clone)
	return nil
}

// LatestTemplate returns the highest version for id.
func (s *MemoryStore) LatestTemplate(_ context.Context, id string) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.templates[id]
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: template %s", ErrNotFound, id)
	}
	clone := *versions[len(versions)-1]
	return &clone, nil
}

// GetTemplateVersion returns one specific version.
func (s *MemoryStore) GetTemplateVersion(_ context.Context, id string, version int) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tmpl := range s.templates[id] {
		if tmpl.Version == version {
			clone := *tmpl
			return &clone, nil
		}
	}
	return nil, fmt.Errorf("%w: template %s version %d", ErrNotFound, id, version)
}

// ListTemplates returns the latest version of every template.
func (s *MemoryStore) ListTemplates(_ context.Context) ([]*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]*models.Template, 0, len(s.templates))
	for _, versions := range s.templates {
		clone := *versions[len(versions)-1]
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// SetTemplateActive flips the active flag on every version of id.
func (s *MemoryStore) SetTemplateActive(_ context.Context, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.templates[id]
	if len(versions) == 0 {
		return fmt.Errorf("%w: template %s", ErrNotFound, id)
	}
	for _, tmpl := range versions {
		tmpl.IsActive = active
		tmpl.UpdatedAt = time.Now()
	}
	return nil
}

// CreateWithCap inserts a queued instance unless the principal is at the
// active-instance cap. The mutex gives the count-then-insert the same
// atomicity the SQL store gets from its transaction.
func (s *MemoryStore) CreateWithCap(_ context.Context, inst *models.Instance, maxActive int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxActive > 0 {
		active := 0
		for _, existing := range s.instances {
			if existing.PrincipalID == inst.PrincipalID && existing.Status.Active() {
				active++
			}
		}
		if active >= maxActive {
			return fmt.Errorf("%w: %d active instances (cap %d)", ErrSpawnLimitExceeded, active, maxActive)
		}
	}

	clone := cloneInstance(inst)
	s.instances[inst.ID] = clone
	return nil
}

// GetInstance returns one instance.
func (s *MemoryStore) GetInstance(_ context.Context, id string) (*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, fmt.Errorf("%w: instance %s", ErrNotFound, id)
	}
	return cloneInstance(inst), nil
}

// UpdateInstance writes inst if its stored status still matches expectStatus.
func (s *MemoryStore) UpdateInstance(_ context.Context, inst *models.Instance, expectStatus models.InstanceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[inst.ID]
	if !ok {
		return fmt.Errorf("%w: instance %s", ErrNotFound, inst.ID)
	}
	if stored.Status != expectStatus {
		return fmt.Errorf("%w: instance %s is %s, expected %s",
			ErrConcurrentModification, inst.ID, stored.Status, expectStatus)
	}
	s.instances[inst.ID] = cloneInstance(inst)
	return nil
}

// CountActive counts a principal's queued, running, and awaiting instances.
func (s *MemoryStore) CountActive(_ context.Context, principalID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, inst := range s.instances {
		if inst.PrincipalID == principalID && inst.Status.Active() {
			count++
		}
	}
	return count, nil
}

// ListQueued returns queued instances, oldest first.
func (s *MemoryStore) ListQueued(_ context.Context, limit int) ([]*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Instance
	for _, inst := range s.instances {
		if inst.Status == models.StatusQueued {
			result = append(result, cloneInstance(inst))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListByPrincipal returns a principal's instances, newest first.
func (s *MemoryStore) ListByPrincipal(_ context.Context, principalID string, limit int) ([]*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.Instance
	for _, inst := range s.instances {
		if inst.PrincipalID == principalID {
			result = append(result, cloneInstance(inst))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// AppendEvent adds one event to the log.
func (s *MemoryStore) AppendEvent(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *event
	s.events = append(s.events, &clone)
	return nil
}

// ListEvents reads the log with the given filter, in append order.
func (s *MemoryStore) ListEvents(_ context.Context, filter models.EventFilter) ([]*models.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Root filtering needs the instance table to resolve ancestry.
	inRoot := func(instanceID string) bool {
		inst, ok := s.instances[instanceID]
		return ok && inst.RootID == filter.RootID
	}

	result := []*models.Event{}
	seen := filter.AfterID == ""
	for _, event := range s.events {
		if !seen {
			if event.ID == filter.AfterID {
				seen = true
			}
			continue
		}
		if filter.InstanceID != "" && event.InstanceID != filter.InstanceID {
			continue
		}
		if filter.RootID != "" && !inRoot(event.InstanceID) {
			continue
		}
		clone := *event
		result = append(result, &clone)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result, nil
}

func cloneInstance(inst *models.Instance) *models.Instance {
	clone := *inst
	if inst.Context != nil {
		clone.Context = make(map[string]any, len(inst.Context))
		for k, v := range inst.Context {
			clone.Context[k] = v
		}
	}
	if inst.Result != nil {
		clone.Result = make(map[string]any, len(inst.Result))
		for k, v := range inst.Result {
			clone.Result[k] = v
		}
	}
	return &clone
}
