package schema

import (
	"github.com/opted/inventory/internal/auth"
)

// Schema is an entity type: a name, its place in the type hierarchy and
// the ordered fields of the type after inheritance has been resolved.
type Schema struct {
	Name             string
	Parent           string
	Abstract         bool
	CreatePermission auth.Role

	fields []*Field
	byName map[string]*Field
	chain  []string
}

// New declares a schema. Fields are the type's own declarations; the
// parent's fields are merged in by Registry.Register.
func New(name, parent string, fields ...*Field) *Schema {
	return &Schema{Name: name, Parent: parent, fields: fields}
}

// Fields returns the fields in declaration order, inherited ones first.
func (s *Schema) Fields() []*Field { return s.fields }

// Field looks up a field by payload name.
func (s *Schema) Field(name string) (*Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// Types returns the type tags stored on nodes of this schema, most
// specific first.
func (s *Schema) Types() []string { return s.chain }

// Is reports whether the schema is name or derives from it.
func (s *Schema) Is(name string) bool {
	for _, t := range s.chain {
		if t == name {
			return true
		}
	}
	return false
}

// Required returns the fields that must be present on create.
func (s *Schema) Required() []*Field {
	var out []*Field
	for _, f := range s.fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}
