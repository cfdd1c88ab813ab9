package mutation

import (
	"context"
	"fmt"

	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/graphstore"
	"github.com/opted/inventory/internal/schema"
)

// State is the stored form of one entry as loaded before an update.
type State struct {
	UID         dql.UID
	Types       []string
	Revision    int64
	HasRevision bool
	Status      string
	AddedBy     dql.UID

	node map[string]any
	flat map[string]any
}

// Loader reads the current state of entries.
type Loader struct {
	store graphstore.Store
}

// NewLoader returns a loader reading from store.
func NewLoader(store graphstore.Store) *Loader {
	return &Loader{store: store}
}

// Head loads the bookkeeping predicates of uid: type tags, revision,
// review status and the adding user.
func (l *Loader) Head(ctx context.Context, uid dql.UID) (*State, error) {
	return l.load(ctx, uid, nil)
}

// Load loads uid together with every stored field of s.
func (l *Loader) Load(ctx context.Context, s *schema.Schema, uid dql.UID) (*State, error) {
	st, err := l.load(ctx, uid, selection(s))
	if err != nil {
		return nil, err
	}
	if !contains(st.Types, s.Name) {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", graphstore.ErrNotFound, uid, st.Types[0], s.Name)
	}
	return st, nil
}

func (l *Loader) load(ctx context.Context, uid dql.UID, fields []*dql.Field) (*State, error) {
	head := []*dql.Field{
		{Predicate: "uid"},
		{Predicate: "dgraph.type"},
		{Predicate: "revision"},
		{Predicate: "entry_review_status"},
		{Predicate: "entry_added", Fields: dql.Select("uid")},
	}
	res, err := l.store.Query(ctx, &dql.Query{Blocks: []*dql.Block{{
		Name:   "q",
		Root:   dql.UIDs(uid),
		Fields: mergeFields(head, fields),
	}}})
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", uid, err)
	}
	node, ok := firstNode(res, "q")
	if !ok {
		return nil, fmt.Errorf("%w: %s", graphstore.ErrNotFound, uid)
	}
	st := &State{UID: uid, Types: stringsOf(node["dgraph.type"]), node: node, flat: make(map[string]any)}
	if len(st.Types) == 0 {
		return nil, fmt.Errorf("%w: %s", graphstore.ErrNotFound, uid)
	}
	if rev, err := dql.FromInterface(dql.TypeInt, node["revision"]); err == nil {
		st.Revision, st.HasRevision = rev.Int64(), true
	}
	st.Status, _ = node["entry_review_status"].(string)
	if added, ok := node["entry_added"].(map[string]any); ok {
		st.AddedBy, _ = dql.ParseUID(fmt.Sprint(added["uid"]))
	}
	return st, nil
}

// Objects returns the stored statement objects of f.
func (st *State) Objects(f *schema.Field) ([]dql.Object, error) {
	return f.Objects(st.stored(responseKey(f)))
}

// Address returns the stored companion address of a geo field.
func (st *State) Address(f *schema.Field) string {
	s, _ := st.node[f.AddressPredicate].(string)
	return s
}

func (st *State) stored(key string) any {
	if v, ok := st.flat[key]; ok {
		return v
	}
	var v any
	if recs := dql.FlattenFacets(st.node, key); recs != nil {
		v = recs
	}
	st.flat[key] = v
	return v
}

// responseKey is the key a field's values are returned under. Reverse
// fields share their predicate with siblings and are aliased by name.
func responseKey(f *schema.Field) string {
	if f.Kind == schema.KindReverseRelationship {
		return f.Name
	}
	return f.Predicate
}

// ReverseFilter restricts the nodes read through a reverse field to the
// ones its default predicates describe.
func ReverseFilter(f *schema.Field) dql.Expr {
	var xs []dql.Expr
	for _, dp := range f.DefaultPredicates {
		xs = append(xs, dql.Eq(dp.Predicate, dp.Value))
	}
	return dql.AllOf(xs...)
}

// selection returns the fields needed to diff every stored field of s.
func selection(s *schema.Schema) []*dql.Field {
	var out []*dql.Field
	for _, f := range s.Fields() {
		if f.Kind == schema.KindUID {
			continue
		}
		facets := len(f.Facets) > 0 || f.Ordered
		switch {
		case f.Kind == schema.KindReverseRelationship:
			out = append(out, &dql.Field{
				Alias:     f.Name,
				Predicate: "~" + f.Predicate,
				Facets:    facets,
				Filter:    ReverseFilter(f),
				Fields:    dql.Select("uid"),
			})
		case f.Kind.IsRelationship():
			out = append(out, &dql.Field{Predicate: f.Predicate, Facets: facets, Fields: dql.Select("uid")})
		default:
			out = append(out, &dql.Field{Predicate: f.Predicate, Facets: facets})
		}
		if f.AddressPredicate != "" {
			out = append(out, &dql.Field{Predicate: f.AddressPredicate})
		}
	}
	return out
}

// mergeFields appends extra to base, skipping response keys already
// selected.
func mergeFields(base, extra []*dql.Field) []*dql.Field {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]*dql.Field, 0, len(base)+len(extra))
	for _, f := range append(base, extra...) {
		key := f.Alias
		if key == "" {
			key = f.Predicate
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
