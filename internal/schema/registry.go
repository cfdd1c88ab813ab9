package schema

import (
	"fmt"
	"sort"

	"github.com/opted/inventory/internal/dql"
)

// Registry holds every entity schema by name. It is populated at startup
// and only read afterwards.
type Registry struct {
	schemas map[string]*Schema
	order   []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register resolves s against its parent and adds it. The parent must
// already be registered. Fields redeclared by s replace the parent's field
// of the same name in place; new fields are appended.
func (r *Registry) Register(s *Schema) error {
	if !dql.ValidName(s.Name) {
		return fmt.Errorf("schema: invalid type name %q", s.Name)
	}
	if _, exists := r.schemas[s.Name]; exists {
		return fmt.Errorf("schema: type %s already registered", s.Name)
	}

	var fields []*Field
	chain := []string{s.Name}
	if s.Parent != "" {
		parent, ok := r.schemas[s.Parent]
		if !ok {
			return fmt.Errorf("schema: %s extends unknown type %s", s.Name, s.Parent)
		}
		fields = append(fields, parent.fields...)
		chain = append(chain, parent.chain...)
	}

	index := make(map[string]int, len(fields))
	for i, f := range fields {
		index[f.Name] = i
	}
	for _, f := range s.fields {
		if err := checkField(f); err != nil {
			return fmt.Errorf("schema: %s: %w", s.Name, err)
		}
		if i, ok := index[f.Name]; ok {
			fields[i] = f
			continue
		}
		index[f.Name] = len(fields)
		fields = append(fields, f)
	}

	if _, ok := index["uid"]; !ok {
		return fmt.Errorf("schema: %s has no uid field", s.Name)
	}
	if _, ok := index["unique_name"]; !ok {
		return fmt.Errorf("schema: %s has no unique_name field", s.Name)
	}

	s.fields = fields
	s.chain = chain
	s.byName = make(map[string]*Field, len(fields))
	for _, f := range fields {
		s.byName[f.Name] = f
	}
	r.schemas[s.Name] = s
	r.order = append(r.order, s.Name)
	return nil
}

func checkField(f *Field) error {
	if _, ok := kinds[f.Kind]; !ok {
		return fmt.Errorf("field %s: invalid kind", f.Name)
	}
	if !dql.ValidName(f.Name) {
		return fmt.Errorf("invalid field name %q", f.Name)
	}
	if f.Predicate == "" {
		f.Predicate = f.Name
	}
	if f.Kind != KindUID && !dql.ValidName(f.Predicate) {
		return fmt.Errorf("field %s: invalid predicate %q", f.Name, f.Predicate)
	}
	if f.Kind.IsChoice() && len(f.Choices) == 0 {
		return fmt.Errorf("field %s: choice field without choices", f.Name)
	}
	if f.AllowNew && !f.Kind.IsRelationship() {
		return fmt.Errorf("field %s: allow_new on a non-relationship field", f.Name)
	}
	if f.AllowNew && len(f.Targets) == 0 {
		return fmt.Errorf("field %s: allow_new without a target type", f.Name)
	}
	if f.Resolver != "" && !HasResolver(f.Resolver) {
		return fmt.Errorf("field %s: unknown resolver %q", f.Name, f.Resolver)
	}
	if f.MinYear > 0 && f.MaxYear > 0 && f.MinYear > f.MaxYear {
		return fmt.Errorf("field %s: empty year range", f.Name)
	}
	return nil
}

// Get returns the schema registered under name. An unknown name is a
// normal outcome, reported through ok.
func (r *Registry) Get(name string) (*Schema, bool) {
	s, ok := r.schemas[name]
	return s, ok
}

// FieldsOf returns the ordered fields of name, or nil for unknown types.
func (r *Registry) FieldsOf(name string) []*Field {
	if s, ok := r.schemas[name]; ok {
		return s.fields
	}
	return nil
}

// Names returns all registered type names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Concrete returns the names of types that can be instantiated.
func (r *Registry) Concrete() []string {
	var out []string
	for _, name := range r.order {
		if !r.schemas[name].Abstract {
			out = append(out, name)
		}
	}
	return out
}

// ByTypeTag returns the most specific registered schema among the type
// tags stored on a node.
func (r *Registry) ByTypeTag(tags []string) (*Schema, bool) {
	var best *Schema
	for _, t := range tags {
		s, ok := r.schemas[t]
		if !ok {
			continue
		}
		if best == nil || len(s.chain) > len(best.chain) {
			best = s
		}
	}
	return best, best != nil
}

// Check verifies cross-type references once every type is registered:
// relationship targets exist and reverse relationships point at a
// predicate some type declares.
func (r *Registry) Check() error {
	forward := make(map[string]bool)
	for _, name := range r.order {
		for _, f := range r.schemas[name].fields {
			if f.Kind == KindSingleRelationship || f.Kind == KindListRelationship {
				forward[f.Predicate] = true
			}
		}
	}
	for _, name := range r.order {
		for _, f := range r.schemas[name].fields {
			for _, t := range f.Targets {
				if _, ok := r.schemas[t]; !ok {
					return fmt.Errorf("schema: %s.%s targets unknown type %s", name, f.Name, t)
				}
			}
			if f.Kind == KindReverseRelationship && !forward[f.Predicate] {
				return fmt.Errorf("schema: %s.%s reverses undeclared predicate %s", name, f.Name, f.Predicate)
			}
		}
	}
	_, err := r.Predicates()
	return err
}

// Predicates derives the store's predicate declarations from all fields.
// A predicate declared as a list anywhere is a list everywhere; declaring
// one predicate with two storage types is an error.
func (r *Registry) Predicates() ([]dql.PredicateDef, error) {
	defs := make(map[string]*dql.PredicateDef)
	indexes := make(map[string]map[string]bool)
	reversed := make(map[string]bool)
	var order []string

	declare := func(pred string, typ dql.ValueType, list, upsert bool, idx []string) error {
		def, ok := defs[pred]
		if !ok {
			def = &dql.PredicateDef{Name: pred, Type: typ}
			defs[pred] = def
			indexes[pred] = make(map[string]bool)
			order = append(order, pred)
		}
		if def.Type != typ {
			return fmt.Errorf("schema: predicate %s declared as %s and %s", pred, def.Type, typ)
		}
		def.List = def.List || list
		def.Upsert = def.Upsert || upsert
		for _, i := range idx {
			indexes[pred][i] = true
		}
		return nil
	}

	for _, name := range r.order {
		for _, f := range r.schemas[name].fields {
			switch f.Kind {
			case KindUID:
				continue
			case KindReverseRelationship:
				reversed[f.Predicate] = true
				continue
			}
			idx := f.Indexes()
			list := f.Kind.IsList() || f.Mutual
			upsert := f.Upsert || f.Kind == KindUniqueName
			if err := declare(f.Predicate, f.Kind.Storage(), list, upsert, idx); err != nil {
				return nil, err
			}
			if f.AddressPredicate != "" {
				if err := declare(f.AddressPredicate, dql.TypeString, false, false, []string{"term"}); err != nil {
					return nil, err
				}
			}
		}
	}

	for p := range reversed {
		if _, ok := defs[p]; !ok {
			return nil, fmt.Errorf("schema: reverse predicate %s has no forward declaration", p)
		}
	}

	out := make([]dql.PredicateDef, 0, len(order))
	for _, p := range order {
		def := defs[p]
		def.Reverse = reversed[p]
		for i := range indexes[p] {
			def.Index = append(def.Index, i)
		}
		sort.Strings(def.Index)
		out = append(out, *def)
	}
	return out, nil
}

// Types derives the store's type declarations.
func (r *Registry) Types() []dql.TypeDef {
	out := make([]dql.TypeDef, 0, len(r.order))
	for _, name := range r.order {
		td := dql.TypeDef{Name: name}
		seen := make(map[string]bool)
		for _, f := range r.schemas[name].fields {
			if f.Kind == KindUID || f.Kind == KindReverseRelationship || seen[f.Predicate] {
				continue
			}
			seen[f.Predicate] = true
			td.Fields = append(td.Fields, f.Predicate)
			if f.AddressPredicate != "" && !seen[f.AddressPredicate] {
				seen[f.AddressPredicate] = true
				td.Fields = append(td.Fields, f.AddressPredicate)
			}
		}
		out = append(out, td)
	}
	return out
}

// DQLSchema renders the complete store schema.
func (r *Registry) DQLSchema() (string, error) {
	preds, err := r.Predicates()
	if err != nil {
		return "", err
	}
	return dql.RenderSchema(preds, r.Types()), nil
}
