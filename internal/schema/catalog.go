package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/dql"
)

//go:embed catalog.cue
var catalogSource []byte

type catalogChoice struct {
	Code  string `json:"code"`
	Label string `json:"label"`
}

type catalogFacet struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type catalogDefault struct {
	Predicate string `json:"predicate"`
	Value     any    `json:"value"`
}

type catalogField struct {
	Name              string           `json:"name"`
	Predicate         string           `json:"predicate"`
	Kind              string           `json:"kind"`
	Label             string           `json:"label"`
	Description       string           `json:"description"`
	Required          bool             `json:"required"`
	Default           any              `json:"default"`
	Choices           []catalogChoice  `json:"choices"`
	Targets           []string         `json:"targets"`
	AllowNew          bool             `json:"allow_new"`
	Overwrite         bool             `json:"overwrite"`
	Permission        string           `json:"permission"`
	New               bool             `json:"new"`
	Edit              bool             `json:"edit"`
	ReadOnly          bool             `json:"read_only"`
	Hidden            bool             `json:"hidden"`
	Ordered           bool             `json:"ordered"`
	Mutual            bool             `json:"mutual"`
	MinYear           int              `json:"min_year"`
	MaxYear           int              `json:"max_year"`
	Facets            []catalogFacet   `json:"facets"`
	DefaultPredicates []catalogDefault `json:"default_predicates"`
	Resolver          string           `json:"resolver"`
	AddressPredicate  string           `json:"address_predicate"`
	Index             []string         `json:"index"`
	Upsert            bool             `json:"upsert"`
}

type catalogType struct {
	Name             string         `json:"name"`
	Extends          string         `json:"extends"`
	Abstract         bool           `json:"abstract"`
	CreatePermission string         `json:"create_permission"`
	Fields           []catalogField `json:"fields"`
}

var facetTypes = map[string]dql.ValueType{
	"string":   dql.TypeString,
	"int":      dql.TypeInt,
	"float":    dql.TypeFloat,
	"bool":     dql.TypeBool,
	"datetime": dql.TypeDateTime,
}

// LoadCatalog compiles a CUE catalog, checks it against the catalog
// definitions and builds a Registry from its types. Types must be listed
// after the type they extend.
func LoadCatalog(src []byte) (*Registry, error) {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(src, cue.Filename("catalog.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("schema: compiling catalog: %w", err)
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("schema: validating catalog: %w", err)
	}

	raw, err := val.LookupPath(cue.ParsePath("types")).MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("schema: exporting catalog types: %w", err)
	}
	var types []catalogType
	if err := json.Unmarshal(raw, &types); err != nil {
		return nil, fmt.Errorf("schema: decoding catalog types: %w", err)
	}

	reg := NewRegistry()
	for _, ct := range types {
		s, err := ct.schema()
		if err != nil {
			return nil, fmt.Errorf("schema: %s: %w", ct.Name, err)
		}
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	if err := reg.Check(); err != nil {
		return nil, err
	}
	return reg, nil
}

var (
	defaultOnce sync.Once
	defaultReg  *Registry
	defaultErr  error
)

// Default returns the registry built from the embedded catalog.
func Default() (*Registry, error) {
	defaultOnce.Do(func() {
		defaultReg, defaultErr = LoadCatalog(catalogSource)
	})
	return defaultReg, defaultErr
}

// CatalogSource returns the embedded catalog document.
func CatalogSource() []byte { return catalogSource }

func (ct catalogType) schema() (*Schema, error) {
	perm, err := auth.ParseRole(ct.CreatePermission)
	if err != nil {
		return nil, err
	}
	fields := make([]*Field, 0, len(ct.Fields))
	for _, cf := range ct.Fields {
		f, err := cf.field()
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", cf.Name, err)
		}
		fields = append(fields, f)
	}
	s := New(ct.Name, ct.Extends, fields...)
	s.Abstract = ct.Abstract
	s.CreatePermission = perm
	return s, nil
}

func (cf catalogField) field() (*Field, error) {
	kind, err := ParseKind(cf.Kind)
	if err != nil {
		return nil, err
	}
	perm, err := auth.ParseRole(cf.Permission)
	if err != nil {
		return nil, err
	}
	f := &Field{
		Name:             cf.Name,
		Predicate:        cf.Predicate,
		Kind:             kind,
		Label:            cf.Label,
		Description:      cf.Description,
		Required:         cf.Required,
		Default:          jsonNumber(cf.Default),
		Targets:          cf.Targets,
		AllowNew:         cf.AllowNew,
		Overwrite:        cf.Overwrite,
		Permission:       perm,
		New:              cf.New,
		Edit:             cf.Edit,
		ReadOnly:         cf.ReadOnly,
		Hidden:           cf.Hidden,
		Ordered:          cf.Ordered,
		Mutual:           cf.Mutual,
		MinYear:          cf.MinYear,
		MaxYear:          cf.MaxYear,
		Resolver:         cf.Resolver,
		AddressPredicate: cf.AddressPredicate,
		Index:            cf.Index,
		Upsert:           cf.Upsert,
	}
	if f.Label == "" {
		f.Label = labelOf(f.Name)
	}
	if kind == KindYear && f.MaxYear == 0 {
		f.MaxYear = time.Now().Year()
	}
	for _, c := range cf.Choices {
		f.Choices = append(f.Choices, Choice(c))
	}
	for _, fc := range cf.Facets {
		t, ok := facetTypes[fc.Type]
		if !ok {
			return nil, fmt.Errorf("facet %s: unknown type %q", fc.Name, fc.Type)
		}
		f.Facets = append(f.Facets, FacetSpec{Name: fc.Name, Type: t})
	}
	for _, dp := range cf.DefaultPredicates {
		v, err := literalValue(dp.Value)
		if err != nil {
			return nil, fmt.Errorf("default predicate %s: %w", dp.Predicate, err)
		}
		f.DefaultPredicates = append(f.DefaultPredicates, DefaultPredicate{Predicate: dp.Predicate, Value: v})
	}
	return f, nil
}

// jsonNumber narrows whole JSON numbers to int64 so integer defaults
// validate like payload integers.
func jsonNumber(v any) any {
	if n, ok := v.(float64); ok && n == math.Trunc(n) {
		return int64(n)
	}
	return v
}

func literalValue(v any) (dql.Value, error) {
	switch x := jsonNumber(v).(type) {
	case string:
		return dql.String(x), nil
	case bool:
		return dql.Bool(x), nil
	case int64:
		return dql.Int(x), nil
	case float64:
		return dql.Float(x), nil
	}
	return dql.Value{}, fmt.Errorf("unsupported literal %v", v)
}

// labelOf turns a field name into a display label.
func labelOf(name string) string {
	b := []byte(name)
	for i, c := range b {
		if c == '_' {
			b[i] = ' '
		}
	}
	if len(b) > 0 && b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
