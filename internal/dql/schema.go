package dql

import (
	"sort"
	"strings"
)

// PredicateDef declares one predicate of the store schema.
type PredicateDef struct {
	Name    string
	Type    ValueType
	List    bool
	Index   []string
	Reverse bool
	Count   bool
	Upsert  bool
	Lang    bool
}

// String renders the predicate declaration.
func (p PredicateDef) String() string {
	var b strings.Builder
	b.WriteString("<" + p.Name + ">: ")
	typ := p.Type.String()
	if p.List {
		typ = "[" + typ + "]"
	}
	b.WriteString(typ)
	if len(p.Index) > 0 {
		b.WriteString(" @index(" + strings.Join(p.Index, ", ") + ")")
	}
	if p.Reverse {
		b.WriteString(" @reverse")
	}
	if p.Count {
		b.WriteString(" @count")
	}
	if p.Upsert {
		b.WriteString(" @upsert")
	}
	if p.Lang {
		b.WriteString(" @lang")
	}
	b.WriteString(" .")
	return b.String()
}

// TypeDef declares a node type and its predicates.
type TypeDef struct {
	Name   string
	Fields []string
}

// String renders the type declaration.
func (t TypeDef) String() string {
	var b strings.Builder
	b.WriteString("type <" + t.Name + "> {\n")
	for _, f := range t.Fields {
		b.WriteString("  <" + f + ">\n")
	}
	b.WriteString("}")
	return b.String()
}

// RenderSchema renders predicate and type declarations, predicates sorted
// by name.
func RenderSchema(preds []PredicateDef, types []TypeDef) string {
	sorted := append([]PredicateDef(nil), preds...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	var b strings.Builder
	for _, p := range sorted {
		b.WriteString(p.String())
		b.WriteByte('\n')
	}
	for _, t := range types {
		b.WriteByte('\n')
		b.WriteString(t.String())
		b.WriteByte('\n')
	}
	return b.String()
}
