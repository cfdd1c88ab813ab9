package schema

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/dql"
)

func mustDefault(t *testing.T) *Registry {
	t.Helper()
	reg, err := Default()
	require.NoError(t, err)
	return reg
}

func TestDefaultCatalog_Types(t *testing.T) {
	reg := mustDefault(t)

	assert.ElementsMatch(t,
		[]string{"Organization", "Archive", "Dataset", "Country", "Multinational", "Subunit", "Channel", "Source"},
		reg.Concrete())
	assert.Equal(t, "Entry", reg.Names()[0])

	src, ok := reg.Get("Source")
	require.True(t, ok)
	assert.Equal(t, []string{"Source", "Entry"}, src.Types())
	assert.True(t, src.Is("Entry"))
	assert.False(t, src.Is("Organization"))
	assert.Equal(t, auth.RoleContributor, src.CreatePermission)

	country, _ := reg.Get("Country")
	assert.Equal(t, auth.RoleAdmin, country.CreatePermission)

	_, ok = reg.Get("Publisher")
	assert.False(t, ok)
	assert.Nil(t, reg.FieldsOf("Publisher"))
}

func TestDefaultCatalog_InheritanceKeepsPosition(t *testing.T) {
	reg := mustDefault(t)
	src, _ := reg.Get("Source")
	fields := src.Fields()

	require.True(t, len(fields) > 3)
	assert.Equal(t, "uid", fields[0].Name)
	assert.Equal(t, "unique_name", fields[1].Name)
	assert.Equal(t, "name", fields[2].Name)
	assert.Equal(t, "Name of the News Source", fields[2].Label)

	name, ok := src.Field("name")
	require.True(t, ok)
	assert.Same(t, fields[2], name)

	entryName, _ := reg.schemas["Entry"].Field("name")
	assert.Equal(t, "Name", entryName.Label)
}

func TestDefaultCatalog_FieldAttributes(t *testing.T) {
	reg := mustDefault(t)
	src, _ := reg.Get("Source")

	founded, _ := src.Field("founded")
	assert.Equal(t, KindYear, founded.Kind)
	assert.Equal(t, 1600, founded.MinYear)
	assert.Equal(t, time.Now().Year(), founded.MaxYear)

	channel, _ := src.Field("channel")
	assert.True(t, channel.Required)
	assert.False(t, channel.Edit)
	assert.Equal(t, []string{"Channel"}, channel.Targets)

	org, _ := src.Field("publishes_org")
	assert.Equal(t, KindReverseRelationship, org.Kind)
	assert.Equal(t, "publishes", org.Predicate)
	require.Len(t, org.DefaultPredicates, 1)
	assert.Equal(t, "is_person", org.DefaultPredicates[0].Predicate)
	assert.True(t, org.DefaultPredicates[0].Value.Equal(dql.Bool(false)))

	audience, _ := src.Field("audience_size")
	assert.Equal(t, []FacetSpec{{Name: "count", Type: dql.TypeInt}, {Name: "unit", Type: dql.TypeString}}, audience.Facets)

	status, _ := src.Field("entry_review_status")
	assert.Equal(t, "pending", status.Default)
	assert.Equal(t, auth.RoleReviewer, status.Permission)
	assert.False(t, status.New)

	languages, _ := src.Field("languages")
	code, ok := languages.ChoiceCode("german")
	assert.True(t, ok)
	assert.Equal(t, "de", code)

	wikidata, _ := src.Field("wikidataID")
	assert.Equal(t, "WikiData ID", wikidata.Label)
	subunits, _ := src.Field("geographic_scope_subunit")
	assert.Equal(t, "subunit", subunits.Resolver)
}

func TestRegistry_Predicates(t *testing.T) {
	reg := mustDefault(t)
	preds, err := reg.Predicates()
	require.NoError(t, err)

	byName := make(map[string]dql.PredicateDef, len(preds))
	for _, p := range preds {
		byName[p.Name] = p
	}

	assert.Equal(t, dql.PredicateDef{Name: "publishes", Type: dql.TypeRef, List: true, Reverse: true}, byName["publishes"])
	assert.Equal(t, dql.PredicateDef{Name: "unique_name", Type: dql.TypeString, Index: []string{"hash"}, Upsert: true}, byName["unique_name"])
	assert.Equal(t, []string{"exact", "fulltext", "term", "trigram"}, byName["name"].Index)
	assert.Equal(t, []string{"hour"}, byName["creation_date"].Index)
	assert.Equal(t, dql.TypeString, byName["address_string"].Type)
	assert.Equal(t, dql.TypeGeo, byName["address_geo"].Type)

	// country is a single relationship on Organization and a list elsewhere.
	assert.True(t, byName["country"].List)
	assert.True(t, byName["related"].List)
	assert.Equal(t, dql.TypeDateTime, byName["founded"].Type)
	assert.False(t, byName["founded"].List)

	_, ok := byName["uid"]
	assert.False(t, ok)
	_, ok = byName["publishes_org"]
	assert.False(t, ok)
}

func TestRegistry_DQLSchema(t *testing.T) {
	reg := mustDefault(t)
	out, err := reg.DQLSchema()
	require.NoError(t, err)

	assert.Contains(t, out, "<publishes>: [uid] @reverse .\n")
	assert.Contains(t, out, "<unique_name>: string @index(hash) @upsert .\n")
	assert.Contains(t, out, "<location_point>: geo @index(geo) .\n")
	assert.Contains(t, out, "type <Source> {\n")
	assert.Contains(t, out, "type <Organization> {\n")

	var source []string
	for _, td := range reg.Types() {
		if td.Name == "Source" {
			source = td.Fields
		}
	}
	assert.Contains(t, source, "channel")
	assert.Contains(t, source, "audience_size")
	assert.NotContains(t, source, "publishes")
	assert.NotContains(t, source, "uid")
}

func TestRegistry_ByTypeTag(t *testing.T) {
	reg := mustDefault(t)

	s, ok := reg.ByTypeTag([]string{"Entry", "Source"})
	require.True(t, ok)
	assert.Equal(t, "Source", s.Name)

	s, ok = reg.ByTypeTag([]string{"Resource", "Archive", "Entry"})
	require.True(t, ok)
	assert.Equal(t, "Archive", s.Name)

	_, ok = reg.ByTypeTag([]string{"User"})
	assert.False(t, ok)
}

func TestRegister_Errors(t *testing.T) {
	base := func() []*Field {
		return []*Field{
			{Name: "uid", Kind: KindUID},
			{Name: "unique_name", Kind: KindUniqueName},
		}
	}

	tests := []struct {
		name   string
		schema *Schema
		want   string
	}{
		{"unknown parent", New("Thing", "Nothing", base()...), "extends unknown type"},
		{"missing uid", New("Thing", "", &Field{Name: "unique_name", Kind: KindUniqueName}), "no uid field"},
		{"missing unique name", New("Thing", "", &Field{Name: "uid", Kind: KindUID}), "no unique_name field"},
		{"bad type name", New("Thing!", "", base()...), "invalid type name"},
		{"choices missing", New("Thing", "", append(base(), &Field{Name: "c", Kind: KindSingleChoice})...), "without choices"},
		{"allow new on scalar", New("Thing", "", append(base(), &Field{Name: "s", Kind: KindString, AllowNew: true})...), "non-relationship"},
		{"unknown resolver", New("Thing", "", append(base(), &Field{Name: "r", Kind: KindListRelationship, Targets: []string{"Thing"}, Resolver: "magic"})...), "unknown resolver"},
		{"empty year range", New("Thing", "", append(base(), &Field{Name: "y", Kind: KindYear, MinYear: 2000, MaxYear: 1990})...), "empty year range"},
		{"invalid kind", New("Thing", "", append(base(), &Field{Name: "x"})...), "invalid kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(tt.schema)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	reg := NewRegistry()
	fields := func() []*Field {
		return []*Field{{Name: "uid", Kind: KindUID}, {Name: "unique_name", Kind: KindUniqueName}}
	}
	require.NoError(t, reg.Register(New("Thing", "", fields()...)))
	err := reg.Register(New("Thing", "", fields()...))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_CheckRejectsPredicateTypeClash(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(New("A", "",
		&Field{Name: "uid", Kind: KindUID},
		&Field{Name: "unique_name", Kind: KindUniqueName},
		&Field{Name: "size", Kind: KindInteger},
	)))
	require.NoError(t, reg.Register(New("B", "",
		&Field{Name: "uid", Kind: KindUID},
		&Field{Name: "unique_name", Kind: KindUniqueName},
		&Field{Name: "size", Kind: KindString},
	)))
	err := reg.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "predicate size declared as int and string")
}

func TestRegistry_CheckRejectsOrphanReverse(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(New("A", "",
		&Field{Name: "uid", Kind: KindUID},
		&Field{Name: "unique_name", Kind: KindUniqueName},
		&Field{Name: "owners", Predicate: "owns", Kind: KindReverseRelationship, Targets: []string{"A"}},
	)))
	err := reg.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reverses undeclared predicate owns")
}

func TestLoadCatalog_Errors(t *testing.T) {
	src := string(CatalogSource())

	_, err := LoadCatalog([]byte(strings.Replace(src, `kind: "uid"`, `kind: "blob"`, 1)))
	assert.Error(t, err)

	_, err = LoadCatalog([]byte(strings.Replace(src, `targets: ["Channel"]`, `targets: ["Chanel"]`, 1)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown type Chanel")

	_, err = LoadCatalog([]byte("types: [{"))
	assert.Error(t, err)
}
