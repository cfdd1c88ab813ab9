// Package activity stores the audit trail of the inventory. Every lifecycle
// event of an entry is indexed once per entity it references, so the
// history of an entry and the contributions of a user are both one lookup.
package activity

import (
	"context"
	"encoding/json"
	"time"
)

// Entity types entries are indexed under.
const (
	EntityEntry = "entry"
	EntityUser  = "user"
)

// Ref identifies an entity referenced by an event.
type Ref struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Role       string `json:"role"` // "subject", "actor", "related"
}

// Entry is one event as seen from one of the entities it references.
type Entry struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Role       string          `json:"role"`
	Refs       []Ref           `json:"refs"`
	Summary    string          `json:"summary"`
	Category   string          `json:"category"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Store reads and writes activity entries.
type Store interface {
	// WriteEntries writes the entries of one or more events. Entries
	// already stored are skipped.
	WriteEntries(ctx context.Context, entries []Entry) error

	// QueryByEntity returns the entries indexed under one entity, newest
	// first.
	QueryByEntity(ctx context.Context, entityType, entityID string, opts QueryOptions) (entries []Entry, nextCursor string, totalCount int, err error)

	// Search matches summaries case-insensitively.
	Search(ctx context.Context, query string, opts SearchOptions) (entries []Entry, totalCount int, err error)
}

const (
	defaultLimit       = 100
	maxLimit           = 500
	defaultSearchLimit = 20
)

// QueryOptions controls filtering and pagination for entity queries.
type QueryOptions struct {
	Since      *time.Time
	Until      *time.Time
	Categories []string
	Limit      int    // default 100, max 500
	Cursor     string // occurred_at of the last entry of the previous page
}

// SearchOptions controls filtering for summary search.
type SearchOptions struct {
	EntityType string
	Since      *time.Time
	Categories []string
	Limit      int // default 20
}

// DefaultQueryOptions returns QueryOptions with the default page size.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{Limit: defaultLimit}
}

// DefaultSearchOptions returns SearchOptions with the default page size.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Limit: defaultSearchLimit}
}

func (o QueryOptions) limit() int {
	if o.Limit <= 0 || o.Limit > maxLimit {
		return defaultLimit
	}
	return o.Limit
}

func (o QueryOptions) cursor() (time.Time, bool) {
	if o.Cursor == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, o.Cursor)
	return t, err == nil
}

func (o SearchOptions) limit() int {
	if o.Limit <= 0 {
		return defaultSearchLimit
	}
	return o.Limit
}

func cursorOf(e Entry) string {
	return e.OccurredAt.UTC().Format(time.RFC3339Nano)
}
