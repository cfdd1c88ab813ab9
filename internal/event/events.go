package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opted/inventory/internal/activity"
)

// Event types.
const (
	TypeEntryCreated  = "entry_created"
	TypeEntryUpdated  = "entry_updated"
	TypeEntryDeleted  = "entry_deleted"
	TypeEntryReviewed = "entry_reviewed"
)

// Categories group event types for filtering.
const (
	CategoryEdit   = "edit"
	CategoryReview = "review"
)

// Roles of the entities an event references.
const (
	RoleSubject = "subject"
	RoleActor   = "actor"
	RoleRelated = "related"
)

// DomainEvent carries the canonical shape of every domain event.
type DomainEvent struct {
	ID               string          `json:"id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	AffectedEntities []activity.Ref  `json:"affected_entities"`
	Summary          string          `json:"summary"`
	Category         string          `json:"category"`
	Payload          json.RawMessage `json:"payload"`
}

// Subject returns the identifier of the entry the event is about.
func (e DomainEvent) Subject() string {
	for _, ref := range e.AffectedEntities {
		if ref.Role == RoleSubject {
			return ref.EntityID
		}
	}
	return ""
}

func newID() string { return uuid.New().String() }

func mustJSON(v any) json.RawMessage {
	b, _ := json.Marshal(v)
	return b
}

// Actor identifies the user behind an event.
type Actor struct {
	UID  string `json:"uid,omitempty"`
	Name string `json:"name,omitempty"`
	IP   string `json:"ip,omitempty"`
}

func (a Actor) label() string {
	if a.Name != "" {
		return a.Name
	}
	if a.UID != "" {
		return a.UID
	}
	return "anonymous"
}

// refs lists the subject, the actor and the related entries of an event.
func refs(uid string, actor Actor, related []string) []activity.Ref {
	out := []activity.Ref{{EntityType: activity.EntityEntry, EntityID: uid, Role: RoleSubject}}
	if actor.UID != "" {
		out = append(out, activity.Ref{EntityType: activity.EntityUser, EntityID: actor.UID, Role: RoleActor})
	}
	for _, r := range related {
		if r != "" && r != uid {
			out = append(out, activity.Ref{EntityType: activity.EntityEntry, EntityID: r, Role: RoleRelated})
		}
	}
	return out
}

// ── Entry edits ──────────────────────────────────────────────────────────────

// EntryCreatedPayload carries event-specific data for EntryCreated.
type EntryCreatedPayload struct {
	UID     string   `json:"uid"`
	Type    string   `json:"type"`
	Name    string   `json:"name,omitempty"`
	Status  string   `json:"status,omitempty"`
	Changed []string `json:"changed,omitempty"`
	// Created lists entries created alongside, such as new organizations.
	Created []string `json:"created,omitempty"`
	Actor   Actor    `json:"actor"`
}

func NewEntryCreated(p EntryCreatedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeEntryCreated,
		OccurredAt:       time.Now().UTC(),
		AffectedEntities: refs(p.UID, p.Actor, p.Created),
		Summary:          fmt.Sprintf("%s %q created by %s", p.Type, p.Name, p.Actor.label()),
		Category:         CategoryEdit,
		Payload:          mustJSON(p),
	}
}

// EntryUpdatedPayload carries event-specific data for EntryUpdated.
type EntryUpdatedPayload struct {
	UID      string   `json:"uid"`
	Type     string   `json:"type"`
	Revision int64    `json:"revision"`
	Changed  []string `json:"changed"`
	Created  []string `json:"created,omitempty"`
	Actor    Actor    `json:"actor"`
}

func NewEntryUpdated(p EntryUpdatedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeEntryUpdated,
		OccurredAt:       time.Now().UTC(),
		AffectedEntities: refs(p.UID, p.Actor, p.Created),
		Summary:          fmt.Sprintf("%s %s updated by %s (revision %d)", p.Type, p.UID, p.Actor.label(), p.Revision),
		Category:         CategoryEdit,
		Payload:          mustJSON(p),
	}
}

// EntryDeletedPayload carries event-specific data for EntryDeleted.
type EntryDeletedPayload struct {
	UID   string `json:"uid"`
	Type  string `json:"type"`
	Actor Actor  `json:"actor"`
}

func NewEntryDeleted(p EntryDeletedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeEntryDeleted,
		OccurredAt:       time.Now().UTC(),
		AffectedEntities: refs(p.UID, p.Actor, nil),
		Summary:          fmt.Sprintf("%s %s deleted by %s", p.Type, p.UID, p.Actor.label()),
		Category:         CategoryEdit,
		Payload:          mustJSON(p),
	}
}

// ── Review ───────────────────────────────────────────────────────────────────

// EntryReviewedPayload carries event-specific data for EntryReviewed.
type EntryReviewedPayload struct {
	UID      string `json:"uid"`
	Type     string `json:"type"`
	Action   string `json:"action"`
	From     string `json:"from"`
	To       string `json:"to"`
	Revision int64  `json:"revision"`
	Actor    Actor  `json:"actor"`
}

func NewEntryReviewed(p EntryReviewedPayload) DomainEvent {
	return DomainEvent{
		ID:               newID(),
		EventType:        TypeEntryReviewed,
		OccurredAt:       time.Now().UTC(),
		AffectedEntities: refs(p.UID, p.Actor, nil),
		Summary:          fmt.Sprintf("%s %s moved from %s to %s by %s", p.Type, p.UID, p.From, p.To, p.Actor.label()),
		Category:         CategoryReview,
		Payload:          mustJSON(p),
	}
}
