package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelops/kestrel/pkg/models"
)

func TestAppendAndListByInstance(t *testing.T) {
	svc := NewEventService(NewMemoryStore())
	ctx := context.Background()

	first, err := svc.Append(ctx, models.AppendEventRequest{
		InstanceID: "i0", Type: models.EventSpawned,
		Payload: map[string]any{"template_id": "summarizer"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	_, err = svc.Append(ctx, models.AppendEventRequest{InstanceID: "i0", Type: models.EventStepStarted})
	require.NoError(t, err)
	_, err = svc.Append(ctx, models.AppendEventRequest{InstanceID: "other", Type: models.EventSpawned})
	require.NoError(t, err)

	events, err := svc.List(ctx, models.EventFilter{InstanceID: "i0"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.EventSpawned, events[0].Type)
	assert.Equal(t, models.EventStepStarted, events[1].Type)
}

func TestListAfterID(t *testing.T) {
	svc := NewEventService(NewMemoryStore())
	ctx := context.Background()

	first, err := svc.Append(ctx, models.AppendEventRequest{InstanceID: "i0", Type: models.EventSpawned})
	require.NoError(t, err)
	second, err := svc.Append(ctx, models.AppendEventRequest{InstanceID: "i0", Type: models.EventCompleted})
	require.NoError(t, err)

	events, err := svc.List(ctx, models.EventFilter{InstanceID: "i0", AfterID: first.ID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, second.ID, events[0].ID)
}

func TestListByRootAncestry(t *testing.T) {
	store := NewMemoryStore()
	svc := NewEventService(store)
	ctx := context.Background()

	root := queuedInstance("root", "alice")
	child := queuedInstance("child", "alice")
	child.ParentID = "root"
	child.RootID = "root"
	child.Depth = 1
	require.NoError(t, store.CreateWithCap(ctx, root, 0))
	require.NoError(t, store.CreateWithCap(ctx, child, 0))

	other := queuedInstance("stranger", "bob")
	require.NoError(t, store.CreateWithCap(ctx, other, 0))

	for _, id := range []string{"root", "child", "stranger"} {
		_, err := svc.Append(ctx, models.AppendEventRequest{InstanceID: id, Type: models.EventSpawned})
		require.NoError(t, err)
	}

	events, err := svc.List(ctx, models.EventFilter{RootID: "root"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		assert.NotEqual(t, "stranger", e.InstanceID)
	}
}

func TestListRequiresScope(t *testing.T) {
	svc := NewEventService(NewMemoryStore())

	_, err := svc.List(context.Background(), models.EventFilter{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAppendValidation(t *testing.T) {
	svc := NewEventService(NewMemoryStore())
	ctx := context.Background()

	_, err := svc.Append(ctx, models.AppendEventRequest{Type: models.EventSpawned})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Append(ctx, models.AppendEventRequest{InstanceID: "i0"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}
