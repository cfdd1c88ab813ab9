package mutation

import (
	"context"
	"fmt"

	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/graphstore"
)

// StoreResolver answers validation lookups with queries against a store.
type StoreResolver struct {
	store graphstore.Store
}

// NewStoreResolver returns a resolver reading from store.
func NewStoreResolver(store graphstore.Store) *StoreResolver {
	return &StoreResolver{store: store}
}

// TypesOf returns the type tags of uid. A node without type tags is
// reported as absent.
func (r *StoreResolver) TypesOf(ctx context.Context, uid dql.UID) ([]string, error) {
	res, err := r.store.Query(ctx, &dql.Query{Blocks: []*dql.Block{{
		Name:   "q",
		Root:   dql.UIDs(uid),
		Fields: dql.Select("dgraph.type"),
	}}})
	if err != nil {
		return nil, fmt.Errorf("loading types of %s: %w", uid, err)
	}
	node, ok := firstNode(res, "q")
	if !ok {
		return nil, nil
	}
	return stringsOf(node["dgraph.type"]), nil
}

// UIDOf finds the first node, in identifier order, whose predicate equals
// value. typ restricts the search to one type when set.
func (r *StoreResolver) UIDOf(ctx context.Context, typ, predicate string, value dql.Value) (dql.UID, bool, error) {
	blk := &dql.Block{
		Name:   "q",
		Root:   dql.Eq(predicate, value),
		First:  1,
		Fields: dql.Select("uid"),
	}
	if typ != "" {
		blk.Filter = dql.Type(typ)
	}
	res, err := r.store.Query(ctx, &dql.Query{Blocks: []*dql.Block{blk}})
	if err != nil {
		return "", false, fmt.Errorf("looking up %s: %w", predicate, err)
	}
	node, ok := firstNode(res, "q")
	if !ok {
		return "", false, nil
	}
	uid, ok := dql.ParseUID(fmt.Sprint(node["uid"]))
	return uid, ok, nil
}

func firstNode(res map[string]any, block string) (map[string]any, bool) {
	nodes, _ := res[block].([]any)
	if len(nodes) == 0 {
		return nil, false
	}
	node, ok := nodes[0].(map[string]any)
	return node, ok
}

func stringsOf(raw any) []string {
	switch v := raw.(type) {
	case string:
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
