// Package event provides domain event recording for entry workflows.
// Events are fanned out as activity entries via the activity.Store
// interface, then published to the in-process event bus for downstream
// consumers.
package event

import (
	"context"
	"log/slog"

	"github.com/opted/inventory/internal/activity"
)

// Recorder writes domain events to the activity store.
type Recorder interface {
	Record(ctx context.Context, evt DomainEvent) error
}

// Publisher sends domain events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, evt DomainEvent)
}

// ActivityRecorder implements Recorder by fanning out a DomainEvent into
// one activity entry per affected entity, then writing via activity.Store.
// If a Publisher is set, the event is also published after the store write
// succeeds.
type ActivityRecorder struct {
	store activity.Store
	bus   Publisher
}

// NewActivityRecorder creates a new ActivityRecorder backed by the given store.
func NewActivityRecorder(store activity.Store) *ActivityRecorder {
	return &ActivityRecorder{store: store}
}

// SetPublisher attaches an event bus.
func (r *ActivityRecorder) SetPublisher(p Publisher) {
	r.bus = p
}

// Record fans out evt into activity entries, writes them and publishes evt.
func (r *ActivityRecorder) Record(ctx context.Context, evt DomainEvent) error {
	entries := make([]activity.Entry, 0, len(evt.AffectedEntities))
	for _, ref := range evt.AffectedEntities {
		entries = append(entries, activity.Entry{
			EventID:    evt.ID,
			EventType:  evt.EventType,
			OccurredAt: evt.OccurredAt,
			EntityType: ref.EntityType,
			EntityID:   ref.EntityID,
			Role:       ref.Role,
			Refs:       evt.AffectedEntities,
			Summary:    evt.Summary,
			Category:   evt.Category,
			Payload:    evt.Payload,
		})
	}
	if err := r.store.WriteEntries(ctx, entries); err != nil {
		return err
	}
	if r.bus != nil {
		r.bus.Publish(ctx, evt)
	}
	return nil
}

// BestEffort wraps a Recorder so failures are logged instead of returned.
// Committed mutations are never reported as failed because their audit
// record could not be written.
type BestEffort struct {
	Recorder Recorder
	Logger   *slog.Logger
}

// Record records evt and logs any failure.
func (b BestEffort) Record(ctx context.Context, evt DomainEvent) {
	if b.Recorder == nil {
		return
	}
	if err := b.Recorder.Record(ctx, evt); err != nil && b.Logger != nil {
		b.Logger.WarnContext(ctx, "event recording failed",
			"event_type", evt.EventType, "event_id", evt.ID, "err", err)
	}
}
