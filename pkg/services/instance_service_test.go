package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelops/kestrel/pkg/models"
)

func queuedInstance(id, principal string) *models.Instance {
	return &models.Instance{
		ID:          id,
		TemplateID:  "summarizer",
		PrincipalID: principal,
		RootID:      id,
		Status:      models.StatusQueued,
		Task:        "do the thing",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
}

func TestCreateQueuedEnforcesCap(t *testing.T) {
	svc := NewInstanceService(NewMemoryStore())
	ctx := context.Background()

	for i := range 3 {
		require.NoError(t, svc.CreateQueued(ctx, queuedInstance(fmt.Sprintf("i%d", i), "alice"), 3))
	}

	err := svc.CreateQueued(ctx, queuedInstance("i3", "alice"), 3)
	assert.ErrorIs(t, err, ErrSpawnLimitExceeded)

	// Another principal is unaffected.
	assert.NoError(t, svc.CreateQueued(ctx, queuedInstance("j0", "bob"), 3))
}

func TestCapIgnoresTerminalInstances(t *testing.T) {
	svc := NewInstanceService(NewMemoryStore())
	ctx := context.Background()

	require.NoError(t, svc.CreateQueued(ctx, queuedInstance("i0", "alice"), 1))
	_, err := svc.Transition(ctx, "i0", models.StatusRunning, nil)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, "i0", models.StatusCompleted, nil)
	require.NoError(t, err)

	assert.NoError(t, svc.CreateQueued(ctx, queuedInstance("i1", "alice"), 1))
}

func TestTransitionLegalEdges(t *testing.T) {
	svc := NewInstanceService(NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, svc.CreateQueued(ctx, queuedInstance("i0", "alice"), 0))

	inst, err := svc.Transition(ctx, "i0", models.StatusRunning, nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, inst.Status)

	inst, err = svc.Transition(ctx, "i0", models.StatusAwaitingApproval, nil)
	require.NoError(t, err)

	inst, err = svc.Transition(ctx, "i0", models.StatusRunning, nil)
	require.NoError(t, err)

	inst, err = svc.Transition(ctx, "i0", models.StatusCompleted, func(i *models.Instance) {
		i.Result = map[string]any{"answer": "42"}
		i.TokensUsed = 120
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, inst.Status)
	assert.NotNil(t, inst.CompletedAt)
	assert.Equal(t, "42", inst.Result["answer"])
}

func TestTransitionIllegalEdges(t *testing.T) {
	svc := NewInstanceService(NewMemoryStore())
	ctx := context.Background()
	require.NoError(t, svc.CreateQueued(ctx, queuedInstance("i0", "alice"), 0))

	// queued → completed skips running.
	_, err := svc.Transition(ctx, "i0", models.StatusCompleted, nil)
	assert.ErrorIs(t, err, ErrIllegalTransition)

	_, err = svc.Transition(ctx, "i0", models.StatusRunning, nil)
	require.NoError(t, err)
	_, err = svc.Transition(ctx, "i0", models.StatusFailed, nil)
	require.NoError(t, err)

	// Terminal states are final.
	_, err = svc.Transition(ctx, "i0", models.StatusRunning, nil)
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestCreateQueuedRejectsNonQueued(t *testing.T) {
	svc := NewInstanceService(NewMemoryStore())

	inst := queuedInstance("i0", "alice")
	inst.Status = models.StatusRunning
	err := svc.CreateQueued(context.Background(), inst, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateDetectsLostRace(t *testing.T) {
	store := NewMemoryStore()
	svc := NewInstanceService(store)
	ctx := context.Background()
	require.NoError(t, svc.CreateQueued(ctx, queuedInstance("i0", "alice"), 0))

	inst, err := svc.Get(ctx, "i0")
	require.NoError(t, err)

	// Someone else transitions first.
	_, err = svc.Transition(ctx, "i0", models.StatusRunning, nil)
	require.NoError(t, err)

	// A write based on the stale queued snapshot loses.
	err = store.UpdateInstance(ctx, inst, models.StatusQueued)
	assert.ErrorIs(t, err, ErrConcurrentModification)
}
