package graphstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/opted/inventory/internal/dql"
)

// typePredicate holds a node's type tags.
const typePredicate = "dgraph.type"

// posting is one stored value of a predicate.
type posting struct {
	value  dql.Value
	facets []dql.Facet
}

type memNode struct {
	uid   dql.UID
	preds map[string][]posting
}

// Memory is an in-process Store. It understands the subset of DQL that the
// query and mutation compilers emit. Every call is serialized, so a guard
// is checked and its mutation applied atomically.
type Memory struct {
	mu     sync.Mutex
	defs   map[string]dql.PredicateDef
	nodes  map[dql.UID]*memNode
	next   uint64
	closed bool
}

// NewMemory creates an empty store that follows the given predicate
// declarations. Undeclared scalar predicates hold a single value.
func NewMemory(preds []dql.PredicateDef) *Memory {
	defs := make(map[string]dql.PredicateDef, len(preds)+1)
	for _, p := range preds {
		defs[p.Name] = p
	}
	defs[typePredicate] = dql.PredicateDef{Name: typePredicate, Type: dql.TypeString, List: true, Index: []string{"exact"}}
	return &Memory{defs: defs, nodes: make(map[dql.UID]*memNode)}
}

func (m *Memory) Query(ctx context.Context, q *dql.Query) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, &StoreError{Op: "query", Err: errClosed}
	}
	out, err := newEvaluator(m, q).run()
	if err != nil {
		return nil, &StoreError{Op: "query", Err: err}
	}
	return out, nil
}

func (m *Memory) Mutate(ctx context.Context, mu *dql.Mutation) (map[string]dql.UID, error) {
	return m.mutate(ctx, nil, mu)
}

func (m *Memory) MutateConditional(ctx context.Context, g *dql.Guard, mu *dql.Mutation) (map[string]dql.UID, error) {
	return m.mutate(ctx, g, mu)
}

func (m *Memory) mutate(ctx context.Context, g *dql.Guard, mu *dql.Mutation) (map[string]dql.UID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, &StoreError{Op: "mutate", Err: errClosed}
	}

	if g != nil {
		res, err := newEvaluator(m, g.Query()).run()
		if err != nil {
			return nil, &StoreError{Op: "mutate", Err: err}
		}
		held := g.Held(func(block string) int {
			rows, _ := res[block].([]any)
			return len(rows)
		})
		if !held {
			return nil, ErrConflict
		}
	}

	if err := m.check(mu); err != nil {
		return nil, &StoreError{Op: "mutate", Err: err}
	}

	assigned := make(map[string]dql.UID)
	for _, st := range mu.Del {
		m.retract(m.resolve(st.Subject, assigned), st)
	}
	for _, st := range mu.Set {
		m.assert(m.resolve(st.Subject, assigned), st, assigned)
	}
	return assigned, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var errClosed = fmt.Errorf("store closed")

// check rejects statements whose object type contradicts the predicate
// declaration, before anything is applied.
func (m *Memory) check(mu *dql.Mutation) error {
	for _, st := range mu.Set {
		if st.Subject.IsZero() {
			return fmt.Errorf("statement on %s without subject", st.Predicate)
		}
		if st.Predicate == dql.Wildcard || st.Object.Type() == dql.TypeStar {
			return fmt.Errorf("wildcard in set statement %s", st)
		}
		def, ok := m.defs[st.Predicate]
		if ok && def.Type != st.Object.Type() {
			return fmt.Errorf("predicate %s is %s, got %s", st.Predicate, def.Type, st.Object.Type())
		}
	}
	return nil
}

func (m *Memory) resolve(r dql.Ref, assigned map[string]dql.UID) *memNode {
	uid := r.UID()
	if r.IsNew() {
		var ok bool
		if uid, ok = assigned[r.Blank()]; !ok {
			uid = m.lease()
			assigned[r.Blank()] = uid
		}
	}
	n, ok := m.nodes[uid]
	if !ok {
		n = &memNode{uid: uid, preds: make(map[string][]posting)}
		m.nodes[uid] = n
	}
	return n
}

// lease returns the next identifier not held by any node.
func (m *Memory) lease() dql.UID {
	for {
		m.next++
		uid := dql.UID("0x" + strconv.FormatUint(m.next, 16))
		if _, taken := m.nodes[uid]; !taken {
			return uid
		}
	}
}

func (m *Memory) isList(pred string) bool {
	if def, ok := m.defs[pred]; ok {
		return def.List
	}
	return false
}

func (m *Memory) assert(n *memNode, st dql.Statement, assigned map[string]dql.UID) {
	obj := st.Object
	if r, ok := obj.Ref(); ok {
		target := m.resolve(r, assigned)
		obj = dql.Node(dql.Existing(target.uid))
	}
	p := posting{value: obj, facets: st.Facets}
	if !m.isList(st.Predicate) {
		n.preds[st.Predicate] = []posting{p}
		return
	}
	list := n.preds[st.Predicate]
	for i, existing := range list {
		if existing.value.Equal(obj) {
			list[i] = p
			return
		}
	}
	n.preds[st.Predicate] = append(list, p)
}

func (m *Memory) retract(n *memNode, st dql.Statement) {
	if st.Predicate == dql.Wildcard {
		n.preds = make(map[string][]posting)
		return
	}
	if st.Object.Type() == dql.TypeStar {
		delete(n.preds, st.Predicate)
		return
	}
	obj := st.Object
	list := n.preds[st.Predicate]
	kept := list[:0]
	for _, p := range list {
		if !p.value.Equal(obj) {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		delete(n.preds, st.Predicate)
		return
	}
	n.preds[st.Predicate] = kept
}

// types returns the type tags of a node.
func (n *memNode) types() []string {
	var out []string
	for _, p := range n.preds[typePredicate] {
		out = append(out, p.value.Str())
	}
	return out
}

// Len returns the number of nodes holding at least one predicate.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, node := range m.nodes {
		if len(node.preds) > 0 {
			n++
		}
	}
	return n
}
