package event

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opted/inventory/internal/activity"
)

type capturePublisher struct{ events []DomainEvent }

func (p *capturePublisher) Publish(_ context.Context, evt DomainEvent) {
	p.events = append(p.events, evt)
}

type failingStore struct{ activity.Store }

func (failingStore) WriteEntries(context.Context, []activity.Entry) error {
	return errors.New("disk full")
}

func TestNewEntryCreated(t *testing.T) {
	evt := NewEntryCreated(EntryCreatedPayload{
		UID:     "0x10",
		Type:    "Source",
		Name:    "Der Standard",
		Status:  "pending",
		Created: []string{"0x11", "0x10", ""},
		Actor:   Actor{UID: "0x2", Name: "alice"},
	})

	assert.Len(t, evt.ID, 36)
	assert.Equal(t, TypeEntryCreated, evt.EventType)
	assert.Equal(t, CategoryEdit, evt.Category)
	assert.Equal(t, `Source "Der Standard" created by alice`, evt.Summary)
	assert.Equal(t, "0x10", evt.Subject())
	assert.Equal(t, []activity.Ref{
		{EntityType: activity.EntityEntry, EntityID: "0x10", Role: RoleSubject},
		{EntityType: activity.EntityUser, EntityID: "0x2", Role: RoleActor},
		{EntityType: activity.EntityEntry, EntityID: "0x11", Role: RoleRelated},
	}, evt.AffectedEntities)

	var p EntryCreatedPayload
	require.NoError(t, json.Unmarshal(evt.Payload, &p))
	assert.Equal(t, "pending", p.Status)
}

func TestNewEntryReviewed_Anonymous(t *testing.T) {
	evt := NewEntryReviewed(EntryReviewedPayload{UID: "0x10", Type: "Source", From: "pending", To: "accepted"})
	assert.Equal(t, CategoryReview, evt.Category)
	assert.Equal(t, "Source 0x10 moved from pending to accepted by anonymous", evt.Summary)
	assert.Len(t, evt.AffectedEntities, 1)
}

func TestActivityRecorder_FansOutAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := activity.NewMemoryStore()
	pub := &capturePublisher{}
	rec := NewActivityRecorder(store)
	rec.SetPublisher(pub)

	evt := NewEntryUpdated(EntryUpdatedPayload{
		UID: "0x10", Type: "Source", Revision: 2, Changed: []string{"name"},
		Actor: Actor{UID: "0x2", Name: "alice"},
	})
	require.NoError(t, rec.Record(ctx, evt))

	byEntry, _, total, err := store.QueryByEntity(ctx, activity.EntityEntry, "0x10", activity.DefaultQueryOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, RoleSubject, byEntry[0].Role)
	assert.Equal(t, evt.ID, byEntry[0].EventID)
	assert.Equal(t, evt.AffectedEntities, byEntry[0].Refs)

	byUser, _, total, err := store.QueryByEntity(ctx, activity.EntityUser, "0x2", activity.DefaultQueryOptions())
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, RoleActor, byUser[0].Role)

	require.Len(t, pub.events, 1)
	assert.Equal(t, evt.ID, pub.events[0].ID)
}

func TestActivityRecorder_DoesNotPublishFailedWrites(t *testing.T) {
	pub := &capturePublisher{}
	rec := NewActivityRecorder(failingStore{})
	rec.SetPublisher(pub)

	err := rec.Record(context.Background(), NewEntryDeleted(EntryDeletedPayload{UID: "0x10", Type: "Source"}))
	assert.Error(t, err)
	assert.Empty(t, pub.events)
}

func TestBestEffort_LogsFailures(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	BestEffort{Recorder: NewActivityRecorder(failingStore{}), Logger: logger}.
		Record(context.Background(), NewEntryDeleted(EntryDeletedPayload{UID: "0x10", Type: "Source"}))

	assert.Contains(t, buf.String(), `"msg":"event recording failed"`)
	assert.Contains(t, buf.String(), "disk full")

	BestEffort{}.Record(context.Background(), DomainEvent{})
}
