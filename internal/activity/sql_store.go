package activity

import (
	"context"
	stdsql "database/sql"
	"encoding/json"
	"fmt"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
)

const table = "activity_entries"

var columns = []string{
	"event_id", "event_type", "occurred_at", "entity_type", "entity_id",
	"role", "refs", "summary", "category", "payload",
}

var schemaDDL = []string{`
	CREATE TABLE IF NOT EXISTS activity_entries (
		event_id    TEXT NOT NULL,
		event_type  TEXT NOT NULL,
		occurred_at INTEGER NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id   TEXT NOT NULL,
		role        TEXT NOT NULL,
		refs        TEXT NOT NULL DEFAULT '[]',
		summary     TEXT NOT NULL,
		category    TEXT NOT NULL,
		payload     TEXT,
		PRIMARY KEY (entity_type, entity_id, occurred_at, event_id)
	)`, `
	CREATE INDEX IF NOT EXISTS idx_activity_entity_time
		ON activity_entries (entity_type, entity_id, occurred_at DESC)`,
}

// SQLStore implements Store on a SQLite table. Timestamps are stored as
// Unix nanoseconds so they compare numerically.
type SQLStore struct {
	db      *stdsql.DB
	builder *sql.DialectBuilder
}

// NewSQLStore returns a store writing to db.
func NewSQLStore(db *stdsql.DB) *SQLStore {
	return &SQLStore{db: db, builder: sql.Dialect(dialect.SQLite)}
}

// CreateTable creates the activity table if it does not exist.
func (s *SQLStore) CreateTable(ctx context.Context) error {
	for _, stmt := range schemaDDL {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating %s: %w", table, err)
		}
	}
	return nil
}

// WriteEntries inserts entries, skipping ones already stored.
func (s *SQLStore) WriteEntries(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	insert := s.builder.Insert(table).Columns(columns...)
	for _, e := range entries {
		refs, err := json.Marshal(refsOrEmpty(e.Refs))
		if err != nil {
			return fmt.Errorf("encoding refs of %s: %w", e.EventID, err)
		}
		var payload any
		if len(e.Payload) > 0 {
			payload = string(e.Payload)
		}
		insert.Values(
			e.EventID, e.EventType, e.OccurredAt.UnixNano(), e.EntityType, e.EntityID,
			e.Role, string(refs), e.Summary, e.Category, payload,
		)
	}
	query, args := insert.OnConflict(sql.DoNothing()).Query()
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("writing activity entries: %w", err)
	}
	return nil
}

// QueryByEntity returns activity entries for one entity with filtering
// and pagination.
func (s *SQLStore) QueryByEntity(ctx context.Context, entityType, entityID string, opts QueryOptions) ([]Entry, string, int, error) {
	where := func() *sql.Predicate {
		ps := []*sql.Predicate{
			sql.EQ("entity_type", entityType),
			sql.EQ("entity_id", entityID),
		}
		if opts.Since != nil {
			ps = append(ps, sql.GTE("occurred_at", opts.Since.UnixNano()))
		}
		if opts.Until != nil {
			ps = append(ps, sql.LTE("occurred_at", opts.Until.UnixNano()))
		}
		if len(opts.Categories) > 0 {
			ps = append(ps, sql.In("category", anys(opts.Categories)...))
		}
		if cursor, ok := opts.cursor(); ok {
			ps = append(ps, sql.LT("occurred_at", cursor.UnixNano()))
		}
		return sql.And(ps...)
	}

	limit := opts.limit()
	entries, err := s.selectEntries(ctx, where(), limit+1) // one extra for the cursor
	if err != nil {
		return nil, "", 0, fmt.Errorf("querying activity entries: %w", err)
	}
	var nextCursor string
	if len(entries) > limit {
		entries = entries[:limit]
		nextCursor = cursorOf(entries[len(entries)-1])
	}
	total, err := s.count(ctx, where())
	if err != nil {
		return nil, "", 0, fmt.Errorf("counting activity entries: %w", err)
	}
	return entries, nextCursor, total, nil
}

// Search matches summaries case-insensitively.
func (s *SQLStore) Search(ctx context.Context, query string, opts SearchOptions) ([]Entry, int, error) {
	where := func() *sql.Predicate {
		ps := []*sql.Predicate{sql.ContainsFold("summary", query)}
		if opts.EntityType != "" {
			ps = append(ps, sql.EQ("entity_type", opts.EntityType))
		}
		if opts.Since != nil {
			ps = append(ps, sql.GTE("occurred_at", opts.Since.UnixNano()))
		}
		if len(opts.Categories) > 0 {
			ps = append(ps, sql.In("category", anys(opts.Categories)...))
		}
		return sql.And(ps...)
	}

	entries, err := s.selectEntries(ctx, where(), opts.limit())
	if err != nil {
		return nil, 0, fmt.Errorf("searching activity entries: %w", err)
	}
	total, err := s.count(ctx, where())
	if err != nil {
		return nil, 0, fmt.Errorf("counting activity entries: %w", err)
	}
	return entries, total, nil
}

func (s *SQLStore) selectEntries(ctx context.Context, where *sql.Predicate, limit int) ([]Entry, error) {
	query, args := s.builder.Select(columns...).
		From(sql.Table(table)).
		Where(where).
		OrderBy(sql.Desc("occurred_at"), sql.Desc("event_id")).
		Limit(limit).
		Query()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e        Entry
			nanos    int64
			refsJSON string
			payload  stdsql.NullString
		)
		if err := rows.Scan(
			&e.EventID, &e.EventType, &nanos, &e.EntityType, &e.EntityID,
			&e.Role, &refsJSON, &e.Summary, &e.Category, &payload,
		); err != nil {
			return nil, fmt.Errorf("scanning activity entry: %w", err)
		}
		e.OccurredAt = time.Unix(0, nanos).UTC()
		if refsJSON != "" {
			if err := json.Unmarshal([]byte(refsJSON), &e.Refs); err != nil {
				return nil, fmt.Errorf("decoding refs of %s: %w", e.EventID, err)
			}
		}
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLStore) count(ctx context.Context, where *sql.Predicate) (int, error) {
	query, args := s.builder.Select(sql.Count("*")).
		From(sql.Table(table)).
		Where(where).
		Query()
	var n int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

func refsOrEmpty(refs []Ref) []Ref {
	if refs == nil {
		return []Ref{}
	}
	return refs
}

func anys(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
