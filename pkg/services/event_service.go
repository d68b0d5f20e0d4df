package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kestrelops/kestrel/pkg/models"
)

// EventService writes and reads the append-only instance event log.
// Events are never updated or deleted.
type EventService struct {
	store  EventStore
	logger *slog.Logger
}

// NewEventService creates an EventService.
func NewEventService(store EventStore) *EventService {
	return &EventService{store: store, logger: slog.Default()}
}

// Append adds one event. The id and timestamp are assigned here.
func (s *EventService) Append(ctx context.Context, req models.AppendEventRequest) (*models.Event, error) {
	if req.InstanceID == "" {
		return nil, fmt.Errorf("%w: instance_id is required", ErrInvalidInput)
	}
	if req.Type == "" {
		return nil, fmt.Errorf("%w: event_type is required", ErrInvalidInput)
	}

	event := &models.Event{
		ID:         uuid.NewString(),
		InstanceID: req.InstanceID,
		Type:       req.Type,
		Payload:    req.Payload,
		TraceID:    req.TraceID,
		SpanID:     req.SpanID,
		TokensUsed: req.TokensUsed,
		LatencyMS:  req.LatencyMS,
		Timestamp:  time.Now(),
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}
	return event, nil
}

// Record implements the agent loop's fire-and-forget recorder seam:
// persistence failures are logged, never surfaced into the loop.
func (s *EventService) Record(ctx context.Context, event models.Event) {
	_, err := s.Append(ctx, models.AppendEventRequest{
		InstanceID: event.InstanceID,
		Type:       event.Type,
		Payload:    event.Payload,
		TraceID:    event.TraceID,
		SpanID:     event.SpanID,
		TokensUsed: event.TokensUsed,
		LatencyMS:  event.LatencyMS,
	})
	if err != nil {
		s.logger.Warn("failed to record event",
			"instance", event.InstanceID, "type", event.Type, "error", err)
	}
}

// List reads events for one instance or a whole ancestry (by root id),
// optionally resuming after a known event id. This is the catch-up path
// for clients that missed live updates.
func (s *EventService) List(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	if filter.InstanceID == "" && filter.RootID == "" {
		return nil, fmt.Errorf("%w: instance_id or root_id is required", ErrInvalidInput)
	}
	return s.store.ListEvents(ctx, filter)
}
