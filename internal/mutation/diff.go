package mutation

import (
	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/schema"
)

// change is the per-field result of comparing stored and desired objects.
type change struct {
	assert  []dql.Object
	retract []dql.Object
}

func (c change) isEmpty() bool { return len(c.assert) == 0 && len(c.retract) == 0 }

// diff compares the stored objects of f with the desired ones. Values
// already stored with the same facets produce nothing. Overwrite lists
// drop the values that are no longer wanted; additive lists only grow.
// A single relationship moves from the old target to the new one.
// clearing removes every stored value of f unless f is an additive list.
func diff(f *schema.Field, current, desired []dql.Object, clearing bool) change {
	var ch change
	list := f.Kind.IsList()
	if clearing {
		if list && !f.Overwrite {
			return ch
		}
		ch.retract = current
		return ch
	}
	for _, d := range desired {
		if !containsObject(current, d, true) {
			ch.assert = append(ch.assert, d)
		}
	}
	if (list && f.Overwrite) || (!list && f.Kind.IsRelationship()) {
		for _, cur := range current {
			if !containsObject(desired, cur, false) {
				ch.retract = append(ch.retract, cur)
			}
		}
	}
	return ch
}

func containsObject(list []dql.Object, obj dql.Object, withFacets bool) bool {
	for _, o := range list {
		if !o.Value.Equal(obj.Value) {
			continue
		}
		if !withFacets || facetsEqual(o.Facets, obj.Facets) {
			return true
		}
	}
	return false
}

func facetsEqual(a, b []dql.Facet) bool {
	if len(a) != len(b) {
		return false
	}
	for _, fa := range a {
		found := false
		for _, fb := range b {
			if fa.Key == fb.Key && fa.Value.Equal(fb.Value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// edges turns a field's objects into statements about subject. Reverse
// fields store the edge on the other node; mutual fields store both
// directions.
type edges struct {
	subject dql.Ref
	field   *schema.Field
}

// statements returns the statement on the subject itself, if any, and the
// statements on other nodes.
func (e edges) statements(obj dql.Object) (*dql.Statement, []dql.Statement) {
	f := e.field
	target, isRef := obj.Value.Ref()
	switch {
	case f.Kind == schema.KindReverseRelationship:
		if target.IsNew() {
			// pending targets were created with the edge
			return nil, nil
		}
		return nil, []dql.Statement{{Subject: target, Predicate: f.Predicate, Object: dql.Node(e.subject), Facets: obj.Facets}}
	case f.Mutual && isRef:
		own := dql.Statement{Subject: e.subject, Predicate: f.Predicate, Object: obj.Value, Facets: obj.Facets}
		back := dql.Statement{Subject: target, Predicate: f.Predicate, Object: dql.Node(e.subject), Facets: obj.Facets}
		return &own, []dql.Statement{back}
	}
	return &dql.Statement{Subject: e.subject, Predicate: f.Predicate, Object: obj.Value, Facets: obj.Facets}, nil
}
