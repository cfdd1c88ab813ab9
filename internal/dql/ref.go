// Package dql builds Dgraph queries and N-Quad mutations from an explicit
// clause tree and renders them to text in a single pass. All escaping of
// user-supplied values happens here.
package dql

import (
	"fmt"
	"regexp"
	"strings"
)

// UID is a node identifier assigned by the store, such as "0x2a".
type UID string

var uidPattern = regexp.MustCompile(`^0[xX][0-9a-fA-F]{1,16}$`)

// ParseUID validates s as a node identifier.
func ParseUID(s string) (UID, bool) {
	s = strings.TrimSpace(s)
	if !uidPattern.MatchString(s) {
		return "", false
	}
	return UID(strings.ToLower(s)), true
}

// Ref addresses the subject or object of a statement: either a stored node
// or a blank node created in the same mutation batch.
type Ref struct {
	uid   UID
	blank string
}

// Existing references a stored node.
func Existing(uid UID) Ref { return Ref{uid: uid} }

// IsZero reports whether r references nothing.
func (r Ref) IsZero() bool { return r.uid == "" && r.blank == "" }

// IsNew reports whether r is a placeholder resolved at commit time.
func (r Ref) IsNew() bool { return r.blank != "" }

// UID returns the stored identifier; empty for placeholders.
func (r Ref) UID() UID { return r.uid }

// Blank returns the placeholder name without the "_:" prefix.
func (r Ref) Blank() string { return r.blank }

// String renders r as an N-Quad term.
func (r Ref) String() string {
	if r.blank != "" {
		return "_:" + r.blank
	}
	return "<" + string(r.uid) + ">"
}

// Attr is one attribute of a node that does not exist yet.
type Attr struct {
	Predicate string
	Object    Object
}

// NewNode is a node created atomically with the batch that references it.
type NewNode struct {
	Ref   Ref
	Label string
	Attrs []Attr
}

// Set appends an attribute to the pending node.
func (n *NewNode) Set(predicate string, obj Object) {
	n.Attrs = append(n.Attrs, Attr{Predicate: predicate, Object: obj})
}

// Get returns the first value recorded for predicate.
func (n *NewNode) Get(predicate string) (Value, bool) {
	for _, a := range n.Attrs {
		if a.Predicate == predicate {
			return a.Object.Value, true
		}
	}
	return Value{}, false
}

// Arena hands out blank-node placeholders for one mutation batch and keeps
// the attributes of every node it created. Placeholders are sequential so
// that compiling the same input twice renders identical text.
type Arena struct {
	nodes []*NewNode
	keyed map[string]*NewNode
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{keyed: make(map[string]*NewNode)}
}

// New allocates a fresh placeholder node.
func (a *Arena) New(label string) *NewNode {
	n := &NewNode{
		Ref:   Ref{blank: fmt.Sprintf("n%d", len(a.nodes)+1)},
		Label: label,
	}
	a.nodes = append(a.nodes, n)
	return n
}

// Keyed returns the node registered under key, allocating it on first use.
// The second result is true when the node was created by this call. Two
// references to the same new name in one payload share one node this way.
func (a *Arena) Keyed(key, label string) (*NewNode, bool) {
	if n, ok := a.keyed[key]; ok {
		return n, false
	}
	n := a.New(label)
	a.keyed[key] = n
	return n, true
}

// Lookup returns the node registered under key.
func (a *Arena) Lookup(key string) (*NewNode, bool) {
	n, ok := a.keyed[key]
	return n, ok
}

// Nodes returns the pending nodes in allocation order.
func (a *Arena) Nodes() []*NewNode { return a.nodes }

// Len returns the number of pending nodes.
func (a *Arena) Len() int { return len(a.nodes) }

// Statements renders every pending node's attributes as statements.
func (a *Arena) Statements() []Statement {
	var out []Statement
	for _, n := range a.nodes {
		for _, attr := range n.Attrs {
			out = append(out, Statement{
				Subject:   n.Ref,
				Predicate: attr.Predicate,
				Object:    attr.Object.Value,
				Facets:    attr.Object.Facets,
			})
		}
	}
	return out
}

// Resolve maps each placeholder to the identifier the store assigned. The
// assigned map is keyed by blank name without the "_:" prefix, as returned
// by the store. Every placeholder that carries attributes must be assigned.
func (a *Arena) Resolve(assigned map[string]UID) (map[string]UID, error) {
	out := make(map[string]UID, len(a.nodes))
	for _, n := range a.nodes {
		uid, ok := assigned[n.Ref.blank]
		if !ok {
			if len(n.Attrs) == 0 {
				continue
			}
			return nil, fmt.Errorf("dql: placeholder %s (%s) was not assigned", n.Ref, n.Label)
		}
		out[n.Ref.blank] = uid
	}
	return out, nil
}
