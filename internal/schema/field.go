package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/geocode"
)

// Choice is one allowed value of a choice field.
type Choice struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

// FacetSpec declares a facet carried by a field's edges or list elements.
type FacetSpec struct {
	Name string        `json:"name"`
	Type dql.ValueType `json:"-"`
}

// DefaultPredicate is an attribute stamped onto nodes created through a
// relationship field; reverse relationships also filter their stored
// values by it.
type DefaultPredicate struct {
	Predicate string
	Value     dql.Value
}

// Field describes one attribute of an entity type.
type Field struct {
	Name        string
	Predicate   string
	Kind        Kind
	Label       string
	Description string

	Required   bool
	Default    any
	Choices    []Choice
	Targets    []string
	AllowNew   bool
	Overwrite  bool
	Permission auth.Role
	New        bool
	Edit       bool
	ReadOnly   bool
	Hidden     bool
	Ordered    bool
	Mutual     bool

	MinYear int
	MaxYear int

	Facets            []FacetSpec
	DefaultPredicates []DefaultPredicate
	Resolver          string
	AddressPredicate  string

	Index  []string
	Upsert bool
}

// ChoiceLabel returns the label of code.
func (f *Field) ChoiceLabel(code string) (string, bool) {
	for _, c := range f.Choices {
		if c.Code == code {
			return c.Label, true
		}
	}
	return "", false
}

// ChoiceCode resolves a code or a label (case-insensitively) to its code.
func (f *Field) ChoiceCode(s string) (string, bool) {
	for _, c := range f.Choices {
		if c.Code == s {
			return c.Code, true
		}
	}
	for _, c := range f.Choices {
		if strings.EqualFold(c.Label, s) || strings.EqualFold(c.Code, s) {
			return c.Code, true
		}
	}
	return "", false
}

// Accepts reports whether a node tagged with types satisfies the field's
// target constraint.
func (f *Field) Accepts(types []string) bool {
	if len(f.Targets) == 0 {
		return true
	}
	for _, t := range types {
		for _, want := range f.Targets {
			if t == want {
				return true
			}
		}
	}
	return false
}

// Indexes returns the store indexes of the field's predicate: the declared
// ones, or the default indexes of its kind.
func (f *Field) Indexes() []string {
	if len(f.Index) > 0 {
		return f.Index
	}
	return kinds[f.Kind].indexes
}

// HasIndex reports whether the predicate carries the named index.
func (f *Field) HasIndex(name string) bool {
	for _, i := range f.Indexes() {
		if i == name {
			return true
		}
	}
	return false
}

// facet returns the facet declaration called name.
func (f *Field) facet(name string) (FacetSpec, bool) {
	for _, fs := range f.Facets {
		if fs.Name == name {
			return fs, true
		}
	}
	return FacetSpec{}, false
}

// Link is the normalized value of a relationship: a target node plus
// the facets of the edge.
type Link struct {
	Ref    dql.Ref
	Facets []dql.Facet
	// New is set when the target is created in the same batch.
	New *dql.NewNode
	// Node holds the target's stored attributes when read back for display.
	Node map[string]any
}

// MarshalJSON renders the link as the target node with its facets.
func (l Link) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(l.Node)+len(l.Facets)+1)
	for k, v := range l.Node {
		out[k] = v
	}
	if l.Ref.IsNew() {
		out["uid"] = "_:" + l.Ref.Blank()
	} else {
		out["uid"] = string(l.Ref.UID())
	}
	for _, fct := range l.Facets {
		out[fct.Key] = fct.Value.Interface()
	}
	return json.Marshal(out)
}

// GeoValue is the normalized value of a geo field.
type GeoValue struct {
	Point   dql.Geo `json:"point"`
	Address string  `json:"address,omitempty"`
}

// Measurement is one dated entry of a date series.
type Measurement struct {
	Date   time.Time
	Facets []dql.Facet
}

// MarshalJSON renders the measurement as {date, facet...}.
func (m Measurement) MarshalJSON() ([]byte, error) {
	out := map[string]any{"date": m.Date.Format("2006-01-02")}
	for _, fct := range m.Facets {
		out[fct.Key] = fct.Value.Interface()
	}
	return json.Marshal(out)
}

// Resolver answers the store lookups validation needs.
type Resolver interface {
	// TypesOf returns the type tags of uid; empty when the node is absent.
	TypesOf(ctx context.Context, uid dql.UID) ([]string, error)
	// UIDOf finds a node whose predicate equals value, optionally
	// restricted to a type.
	UIDOf(ctx context.Context, typ, predicate string, value dql.Value) (dql.UID, bool, error)
}

// Env carries the per-request collaborators validators may call.
type Env struct {
	Registry *Registry
	Resolver Resolver
	Geocoder geocode.Geocoder
	Arena    *dql.Arena
	// Subject is the node being created or updated.
	Subject dql.Ref
}

type (
	validateFunc    func(ctx context.Context, env *Env, f *Field, raw any) (any, error)
	serializeFunc   func(f *Field, v any) ([]dql.Object, error)
	deserializeFunc func(f *Field, stored any) (any, error)
)

var (
	validators    map[Kind]validateFunc
	serializers   map[Kind]serializeFunc
	deserializers map[Kind]deserializeFunc
)

func init() {
	validators = map[Kind]validateFunc{
		KindUID:                 validateUID,
		KindUniqueName:          validateUniqueName,
		KindString:              validateString,
		KindListString:          validateListString,
		KindInteger:             validateInteger,
		KindBoolean:             validateBoolean,
		KindDateTime:            validateDateTime,
		KindYear:                validateYear,
		KindSingleChoice:        validateSingleChoice,
		KindMultipleChoice:      validateMultipleChoice,
		KindGeo:                 validateGeo,
		KindDateSeries:          validateDateSeries,
		KindSingleRelationship:  validateSingleRelationship,
		KindListRelationship:    validateListRelationship,
		KindReverseRelationship: validateReverseRelationship,
	}
	serializers = map[Kind]serializeFunc{
		KindUID:                 serializeUID,
		KindUniqueName:          serializeString,
		KindString:              serializeString,
		KindListString:          serializeListString,
		KindInteger:             serializeInteger,
		KindBoolean:             serializeBoolean,
		KindDateTime:            serializeDateTime,
		KindYear:                serializeYear,
		KindSingleChoice:        serializeString,
		KindMultipleChoice:      serializeStrings,
		KindGeo:                 serializeGeo,
		KindDateSeries:          serializeDateSeries,
		KindSingleRelationship:  serializeLink,
		KindListRelationship:    serializeLinks,
		KindReverseRelationship: serializeLinks,
	}
	deserializers = map[Kind]deserializeFunc{
		KindUID:                 deserializeUID,
		KindUniqueName:          deserializeString,
		KindString:              deserializeString,
		KindListString:          deserializeListString,
		KindInteger:             deserializeInteger,
		KindBoolean:             deserializeBoolean,
		KindDateTime:            deserializeDateTime,
		KindYear:                deserializeYear,
		KindSingleChoice:        deserializeSingleChoice,
		KindMultipleChoice:      deserializeMultipleChoice,
		KindGeo:                 deserializeGeo,
		KindDateSeries:          deserializeDateSeries,
		KindSingleRelationship:  deserializeLink,
		KindListRelationship:    deserializeLinks,
		KindReverseRelationship: deserializeLinks,
	}
}

// Validate normalizes a raw payload value. Failures are *FieldError
// values, or a *geocode.LookupError when an external lookup the value
// depends on could not be completed.
func (f *Field) Validate(ctx context.Context, env *Env, raw any) (any, error) {
	fn, ok := validators[f.Kind]
	if !ok {
		return nil, fmt.Errorf("schema: no validator for %s", f.Kind)
	}
	v, err := fn(ctx, env, f, raw)
	if err != nil {
		if fe, ok := err.(*FieldError); ok && fe.Field == "" {
			fe.Field = f.Name
		}
		return nil, err
	}
	return v, nil
}

// Serialize converts a normalized value into statement objects, one per
// stored value.
func (f *Field) Serialize(v any) ([]dql.Object, error) {
	fn, ok := serializers[f.Kind]
	if !ok {
		return nil, fmt.Errorf("schema: no serializer for %s", f.Kind)
	}
	return fn(f, v)
}

// Deserialize converts the stored form of the field, as found in a query
// response after facet flattening, into its display value.
func (f *Field) Deserialize(stored any) (any, error) {
	fn, ok := deserializers[f.Kind]
	if !ok {
		return nil, fmt.Errorf("schema: no deserializer for %s", f.Kind)
	}
	return fn(f, stored)
}
