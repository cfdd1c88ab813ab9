package dql

import (
	"strings"
)

// Facet is a key/value annotation on one edge or list element.
type Facet struct {
	Key   string
	Value Value
}

// Object is a statement object together with its facets.
type Object struct {
	Value  Value
	Facets []Facet
}

// Statement is one subject-predicate-object triple.
type Statement struct {
	Subject   Ref
	Predicate string
	Object    Value
	Facets    []Facet
}

// Wildcard is the predicate that matches every predicate of a subject in a
// delete statement.
const Wildcard = "*"

// String renders the statement as an N-Quad line without the newline.
func (s Statement) String() string {
	var b strings.Builder
	b.WriteString(s.Subject.String())
	b.WriteByte(' ')
	if s.Predicate == Wildcard {
		b.WriteString("*")
	} else {
		b.WriteString("<" + s.Predicate + ">")
	}
	b.WriteByte(' ')
	b.WriteString(s.Object.nquad())
	if len(s.Facets) > 0 {
		b.WriteString(" (")
		for i, f := range s.Facets {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(f.Key)
			b.WriteByte('=')
			b.WriteString(f.Value.facet())
		}
		b.WriteByte(')')
	}
	b.WriteString(" .")
	return b.String()
}

// Mutation is a pair of statement sets applied in one transaction. Delete
// statements are applied before set statements.
type Mutation struct {
	Set []Statement
	Del []Statement
}

// IsEmpty reports whether the mutation would change nothing.
func (m *Mutation) IsEmpty() bool { return len(m.Set) == 0 && len(m.Del) == 0 }

// SetNQuads renders the set statements.
func (m *Mutation) SetNQuads() string { return renderStatements(m.Set) }

// DelNQuads renders the delete statements.
func (m *Mutation) DelNQuads() string { return renderStatements(m.Del) }

func renderStatements(stmts []Statement) string {
	var b strings.Builder
	for _, s := range stmts {
		b.WriteString(s.String())
		b.WriteByte('\n')
	}
	return b.String()
}
