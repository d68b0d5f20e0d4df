// Package services holds the persistence services for templates, instances,
// and the event log, plus the store interfaces they run on. The pgx-backed
// store lives in pkg/database; an in-memory store in this package serves
// unit tests and single-node dev mode.
package services

import (
	"context"

	"github.com/kestrelops/kestrel/pkg/models"
)

// TemplateStore persists agent templates. Rows are immutable per
// (id, version); updates insert new versions.
type TemplateStore interface {
	InsertTemplate(ctx context.Context, tmpl *models.Template) error
	// LatestTemplate returns the highest version for id.
	LatestTemplate(ctx context.Context, id string) (*models.Template, error)
	GetTemplateVersion(ctx context.Context, id string, version int) (*models.Template, error)
	ListTemplates(ctx context.Context) ([]*models.Template, error)
	SetTemplateActive(ctx context.Context, id string, active bool) error
}

// InstanceStore persists agent instances.
type InstanceStore interface {
	// CreateWithCap inserts a queued instance, failing with
	// ErrSpawnLimitExceeded when the principal already has maxActive
	// active instances. Count and insert share one transaction.
	CreateWithCap(ctx context.Context, inst *models.Instance, maxActive int) error

	GetInstance(ctx context.Context, id string) (*models.Instance, error)

	// UpdateInstance writes inst, guarded by the status the caller loaded
	// (compare-and-set on status). A lost race returns
	// ErrConcurrentModification.
	UpdateInstance(ctx context.Context, inst *models.Instance, expectStatus models.InstanceStatus) error

	CountActive(ctx context.Context, principalID string) (int, error)
	ListQueued(ctx context.Context, limit int) ([]*models.Instance, error)
	ListByPrincipal(ctx context.Context, principalID string, limit int) ([]*models.Instance, error)
}

// EventStore persists the append-only event log.
type EventStore interface {
	AppendEvent(ctx context.Context, event *models.Event) error
	ListEvents(ctx context.Context, filter models.EventFilter) ([]*models.Event, error)
}
