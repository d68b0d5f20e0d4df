//go:build integration

package database

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kestrelops/kestrel/pkg/models"
	"github.com/kestrelops/kestrel/pkg/services"
)

// newTestStore creates a client against a real PostgreSQL.
// In CI (when CI_DATABASE_URL is set): connects to an external service container.
// In local dev: spins up a testcontainer.
func newTestStore(t *testing.T) *Store {
	ctx := context.Background()

	cfg := Config{
		User:         "test",
		Password:     "test",
		Database:     "test",
		SSLMode:      "disable",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}

	if ciURL := os.Getenv("CI_DATABASE_HOST"); ciURL != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_HOST")
		cfg.Host = ciURL
		cfg.Port = 5432
	} else {
		t.Log("Using testcontainers for PostgreSQL")
		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase(cfg.Database),
			postgres.WithUsername(cfg.User),
			postgres.WithPassword(cfg.Password),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		require.NoError(t, err)

		t.Cleanup(func() {
			if err := testcontainers.TerminateContainer(pgContainer); err != nil {
				t.Logf("failed to terminate container: %v", err)
			}
		})

		host, err := pgContainer.Host(ctx)
		require.NoError(t, err)
		port, err := pgContainer.MappedPort(ctx, "5432/tcp")
		require.NoError(t, err)
		cfg.Host = host
		cfg.Port = port.Int()
	}

	client, err := NewClient(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return NewStore(client)
}

func testTemplate(id string, version int) *models.Template {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Template{
		ID:      id,
		Version: version,
		OwnerID: "alice",
		Scope:   models.ScopeOrg,
		Spec: models.AgentSpec{
			Objective:     "investigate incidents",
			ExecutionMode: models.ModeMultiStep,
			MaxSteps:      5,
		},
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func testInstance(id, principal string) *models.Instance {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Instance{
		ID:              id,
		TemplateID:      "tmpl",
		TemplateVersion: 1,
		PrincipalID:     principal,
		RootID:          id,
		Status:          models.StatusQueued,
		Task:            "summarize",
		Context:         map[string]any{"cluster": "prod"},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestTemplateVersioning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertTemplate(ctx, testTemplate("triage", 1)))
	v2 := testTemplate("triage", 2)
	v2.Spec.MaxSteps = 9
	require.NoError(t, store.InsertTemplate(ctx, v2))

	latest, err := store.LatestTemplate(ctx, "triage")
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Equal(t, 9, latest.Spec.MaxSteps)

	pinned, err := store.GetTemplateVersion(ctx, "triage", 1)
	require.NoError(t, err)
	assert.Equal(t, 5, pinned.Spec.MaxSteps)

	_, err = store.LatestTemplate(ctx, "missing")
	assert.ErrorIs(t, err, services.ErrNotFound)

	require.NoError(t, store.SetTemplateActive(ctx, "triage", false))
	latest, err = store.LatestTemplate(ctx, "triage")
	require.NoError(t, err)
	assert.False(t, latest.IsActive)

	all, err := store.ListTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 2, all[0].Version)
}

func TestInstanceCapInsideTransaction(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateWithCap(ctx, testInstance("i1", "alice"), 2))
	require.NoError(t, store.CreateWithCap(ctx, testInstance("i2", "alice"), 2))

	err := store.CreateWithCap(ctx, testInstance("i3", "alice"), 2)
	assert.ErrorIs(t, err, services.ErrSpawnLimitExceeded)

	// Another principal has their own budget.
	require.NoError(t, store.CreateWithCap(ctx, testInstance("i4", "bob"), 2))

	count, err := store.CountActive(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestInstanceUpdateIsCompareAndSet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	inst := testInstance("i1", "alice")
	require.NoError(t, store.CreateWithCap(ctx, inst, 0))

	inst.Status = models.StatusRunning
	require.NoError(t, store.UpdateInstance(ctx, inst, models.StatusQueued))

	// A writer still holding the queued snapshot loses.
	stale := testInstance("i1", "alice")
	stale.Status = models.StatusCancelled
	err := store.UpdateInstance(ctx, stale, models.StatusQueued)
	assert.ErrorIs(t, err, services.ErrConcurrentModification)

	loaded, err := store.GetInstance(ctx, "i1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, loaded.Status)
	assert.Equal(t, "prod", loaded.Context["cluster"])
}

func TestInstanceListsAndTerminalState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		inst := testInstance(fmt.Sprintf("i%d", i), "alice")
		inst.CreatedAt = inst.CreatedAt.Add(time.Duration(i) * time.Second)
		require.NoError(t, store.CreateWithCap(ctx, inst, 0))
	}

	queued, err := store.ListQueued(ctx, 2)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	assert.Equal(t, "i0", queued[0].ID)

	done := testInstance("i0", "alice")
	done.Status = models.StatusCancelled
	now := time.Now().UTC().Truncate(time.Millisecond)
	done.CompletedAt = &now
	done.Result = map[string]any{"final_answer": "stopped"}
	require.NoError(t, store.UpdateInstance(ctx, done, models.StatusQueued))

	loaded, err := store.GetInstance(ctx, "i0")
	require.NoError(t, err)
	require.NotNil(t, loaded.CompletedAt)
	assert.Equal(t, "stopped", loaded.Result["final_answer"])

	mine, err := store.ListByPrincipal(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, mine, 3)
}

func TestEventLogOrderingAndCatchUp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	root := testInstance("root", "alice")
	require.NoError(t, store.CreateWithCap(ctx, root, 0))
	child := testInstance("child", "alice")
	child.ParentID = "root"
	child.RootID = "root"
	child.Depth = 1
	require.NoError(t, store.CreateWithCap(ctx, child, 0))

	ids := make([]string, 0, 4)
	for i, instance := range []string{"root", "child", "root", "child"} {
		event := &models.Event{
			ID:         fmt.Sprintf("e%d", i),
			InstanceID: instance,
			Type:       models.EventStepStarted,
			Payload:    map[string]any{"step": i},
			Timestamp:  time.Now().UTC(),
		}
		require.NoError(t, store.AppendEvent(ctx, event))
		ids = append(ids, event.ID)
	}

	byInstance, err := store.ListEvents(ctx, models.EventFilter{InstanceID: "root"})
	require.NoError(t, err)
	require.Len(t, byInstance, 2)
	assert.Equal(t, ids[0], byInstance[0].ID)
	assert.Equal(t, ids[2], byInstance[1].ID)

	// Ancestry read covers root and child in append order.
	byRoot, err := store.ListEvents(ctx, models.EventFilter{RootID: "root"})
	require.NoError(t, err)
	require.Len(t, byRoot, 4)
	for i, event := range byRoot {
		assert.Equal(t, ids[i], event.ID)
	}

	// Catch-up after a known event id skips everything up to it.
	tail, err := store.ListEvents(ctx, models.EventFilter{RootID: "root", AfterID: ids[1]})
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, ids[2], tail[0].ID)

	limited, err := store.ListEvents(ctx, models.EventFilter{RootID: "root", Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestHealthReportsPoolStats(t *testing.T) {
	store := newTestStore(t)

	status, err := Health(context.Background(), store.db)
	require.NoError(t, err)
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, 10, status.MaxOpenConns)
}
