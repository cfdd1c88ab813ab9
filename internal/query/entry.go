package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/graphstore"
	"github.com/opted/inventory/internal/mutation"
	"github.com/opted/inventory/internal/schema"
)

const (
	lookupLimit     = 10
	duplicateLimit  = 25
	defaultRecent   = 5
	maxRecent       = 50
	reviewQueueSize = 100
)

// Entry is one stored entry in display form.
type Entry struct {
	UID    dql.UID
	Schema *schema.Schema
	Status string
	// Values holds the deserialized field values keyed by field name.
	Values map[string]any
}

// MarshalJSON renders the entry as a flat object of its field values.
func (e *Entry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Values)+3)
	for k, v := range e.Values {
		out[k] = v
	}
	out["uid"] = string(e.UID)
	out["dgraph.type"] = e.Schema.Types()
	out["entry_review_status"] = e.Status
	return json.Marshal(out)
}

// Reader answers searches and single-entry reads.
type Reader struct {
	registry *schema.Registry
	store    graphstore.Store
	compiler *Compiler
	loader   *mutation.Loader
}

// NewReader returns a reader over store.
func NewReader(reg *schema.Registry, store graphstore.Store) *Reader {
	return &Reader{
		registry: reg,
		store:    store,
		compiler: NewCompiler(reg),
		loader:   mutation.NewLoader(store),
	}
}

// Compiler returns the request compiler the reader searches with.
func (r *Reader) Compiler() *Compiler { return r.compiler }

// Search compiles and runs req.
func (r *Reader) Search(ctx context.Context, req Request, vis Visibility) (*Response, error) {
	c, err := r.compiler.Compile(req, vis)
	if err != nil {
		return nil, err
	}
	return Execute(ctx, r.store, c)
}

// Entry reads uid as its most specific registered type. Entries that are
// not accepted are only visible to reviewers and to the user who added
// them; everyone else gets graphstore.ErrNotFound.
func (r *Reader) Entry(ctx context.Context, uid dql.UID, viewer auth.Actor) (*Entry, error) {
	head, err := r.loader.Head(ctx, uid)
	if err != nil {
		return nil, err
	}
	s, ok := r.registry.ByTypeTag(head.Types)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no registered type", graphstore.ErrNotFound, uid)
	}
	if !canView(head, viewer) {
		return nil, fmt.Errorf("%w: %s", graphstore.ErrNotFound, uid)
	}
	return r.fetch(ctx, s, uid, viewer)
}

// EntryByName reads the entry of type typ with the given unique name.
func (r *Reader) EntryByName(ctx context.Context, typ, uniqueName string, viewer auth.Actor) (*Entry, error) {
	s, ok := r.registry.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: type %s", graphstore.ErrNotFound, typ)
	}
	res, err := r.store.Query(ctx, &dql.Query{Blocks: []*dql.Block{{
		Name:   "entry",
		Root:   dql.Eq("unique_name", dql.String(uniqueName)),
		Filter: dql.Type(s.Name),
		First:  1,
		Fields: dql.Select("uid"),
	}}})
	if err != nil {
		return nil, fmt.Errorf("finding %s %s: %w", typ, uniqueName, err)
	}
	node, ok := firstNode(res, "entry")
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", graphstore.ErrNotFound, typ, uniqueName)
	}
	uid, ok := dql.ParseUID(fmt.Sprint(node["uid"]))
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", graphstore.ErrNotFound, typ, uniqueName)
	}
	return r.Entry(ctx, uid, viewer)
}

func canView(head *mutation.State, viewer auth.Actor) bool {
	switch {
	case head.Status == mutation.StatusAccepted:
		return true
	case viewer.Can(auth.RoleReviewer):
		return true
	}
	return !viewer.IsAnonymous() && head.AddedBy == dql.UID(viewer.UID)
}

func (r *Reader) fetch(ctx context.Context, s *schema.Schema, uid dql.UID, viewer auth.Actor) (*Entry, error) {
	res, err := r.store.Query(ctx, &dql.Query{Blocks: []*dql.Block{{
		Name:   "entry",
		Root:   dql.UIDs(uid),
		Fields: entryFields(s),
	}}})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", uid, err)
	}
	node, ok := firstNode(res, "entry")
	if !ok {
		return nil, fmt.Errorf("%w: %s", graphstore.ErrNotFound, uid)
	}

	e := &Entry{UID: uid, Schema: s, Values: make(map[string]any)}
	e.Status, _ = node["entry_review_status"].(string)
	for _, f := range s.Fields() {
		if f.Hidden && !viewer.Can(auth.RoleReviewer) {
			continue
		}
		key := f.Predicate
		if f.Kind == schema.KindReverseRelationship {
			key = f.Name
		}
		recs := dql.FlattenFacets(node, key)
		if len(recs) == 0 {
			continue
		}
		v, err := f.Deserialize(recs)
		if err != nil {
			return nil, fmt.Errorf("reading %s of %s: %w", f.Name, uid, err)
		}
		if g, ok := v.(schema.GeoValue); ok && f.AddressPredicate != "" {
			g.Address, _ = node[f.AddressPredicate].(string)
			v = g
		}
		e.Values[f.Name] = v
	}
	return e, nil
}

// entryFields selects every field of s. Related nodes come back with
// their names so links can be displayed.
func entryFields(s *schema.Schema) []*dql.Field {
	link := dql.Select("uid", "name", "unique_name", "dgraph.type")
	out := []*dql.Field{{Predicate: "dgraph.type"}}
	for _, f := range s.Fields() {
		facets := len(f.Facets) > 0 || f.Ordered
		switch {
		case f.Kind == schema.KindReverseRelationship:
			out = append(out, &dql.Field{
				Alias:     f.Name,
				Predicate: "~" + f.Predicate,
				Facets:    facets,
				Filter:    mutation.ReverseFilter(f),
				Fields:    link,
			})
		case f.Kind.IsRelationship():
			out = append(out, &dql.Field{Predicate: f.Predicate, Facets: facets, Fields: link})
		default:
			out = append(out, &dql.Field{Predicate: f.Predicate, Facets: facets})
		}
		if f.AddressPredicate != "" && f.AddressPredicate != f.Predicate {
			out = append(out, &dql.Field{Predicate: f.AddressPredicate})
		}
	}
	return out
}

// ── lookups ──────────────────────────────────────────────────────────────────

// Lookup lists entries of typ whose names match text, for autocompletion.
// Rejected entries are left out.
func (r *Reader) Lookup(ctx context.Context, typ, text string) ([]map[string]any, error) {
	return r.names(ctx, "lookup", typ, text, lookupLimit,
		dql.Not{X: dql.Eq("entry_review_status", dql.String(mutation.StatusRejected))})
}

// Duplicates lists entries of typ, in any review state, that a new entry
// called name may duplicate.
func (r *Reader) Duplicates(ctx context.Context, typ, name string) ([]map[string]any, error) {
	return r.names(ctx, "duplicates", typ, name, duplicateLimit, nil)
}

func (r *Reader) names(ctx context.Context, block, typ, text string, limit int, extra dql.Expr) ([]map[string]any, error) {
	s, ok := r.registry.Get(typ)
	if !ok {
		return nil, fmt.Errorf("%w: type %s", graphstore.ErrNotFound, typ)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return []map[string]any{}, nil
	}
	q := &dql.Query{
		Name:   block,
		Params: []dql.QueryParam{{Name: termsParam, Type: "string", Value: text}},
		Blocks: []*dql.Block{{
			Name:   block,
			Root:   dql.Type(s.Name),
			Filter: dql.AllOf(nameMatch(text), extra),
			Order:  []dql.Order{{Predicate: "name"}},
			First:  limit,
			Fields: summaryFields(),
		}},
	}
	res, err := r.store.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s %s %q: %w", block, typ, text, err)
	}
	return nodesOf(res, block), nil
}

// Recent lists the n most recently created accepted entries.
func (r *Reader) Recent(ctx context.Context, n int) ([]map[string]any, error) {
	if n < 1 {
		n = defaultRecent
	}
	n = min(n, maxRecent)
	return r.byStatus(ctx, "recent", mutation.StatusAccepted, true, n)
}

// ReviewQueue lists pending entries, oldest first, with the user who
// added each.
func (r *Reader) ReviewQueue(ctx context.Context) ([]map[string]any, error) {
	return r.byStatus(ctx, "queue", mutation.StatusPending, false, reviewQueueSize)
}

func (r *Reader) byStatus(ctx context.Context, block, status string, newestFirst bool, limit int) ([]map[string]any, error) {
	fields := summaryFields()
	if !newestFirst {
		fields = append(fields, &dql.Field{Predicate: "entry_added", Facets: true, Fields: dql.Select("uid", "name")})
	}
	res, err := r.store.Query(ctx, &dql.Query{Blocks: []*dql.Block{{
		Name:   block,
		Root:   dql.Eq("entry_review_status", dql.String(status)),
		Order:  []dql.Order{{Predicate: "creation_date", Desc: newestFirst}},
		First:  limit,
		Fields: fields,
	}}})
	if err != nil {
		return nil, fmt.Errorf("listing %s entries: %w", status, err)
	}
	return nodesOf(res, block), nil
}
