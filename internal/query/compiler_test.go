package query

import (
	"errors"
	"fmt"
	"math"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/schema"
)

func newCompiler(t *testing.T) *Compiler {
	t.Helper()
	reg, err := schema.Default()
	require.NoError(t, err)
	return NewCompiler(reg)
}

func compile(t *testing.T, v url.Values, vis Visibility) *Compiled {
	t.Helper()
	c, err := newCompiler(t).Compile(ParseRequest(v), vis)
	require.NoError(t, err)
	return c
}

func TestParseRequest(t *testing.T) {
	req := ParseRequest(url.Values{
		"type":                {"Source"},
		"country":             {"FR"},
		"name__terms":         {"der standard"},
		"channel.unique_name": {"print"},
		"founded__GE":         {"1990"},
		"_page":               {"2"},
		"_max_results":        {"10"},
		"_terms":              {" standard "},
		"_internal":           {"x"},
		"other":               {"", "  "},
	})

	assert.Equal(t, []string{"Source"}, req.Types)
	assert.Equal(t, "standard", req.Terms)
	assert.Equal(t, 2, req.Page)
	assert.Equal(t, 10, req.PageSize)
	assert.Equal(t, []Filter{
		{Field: "channel", Sub: "unique_name", Op: OpEq, Values: []string{"print"}},
		{Field: "country", Op: OpEq, Values: []string{"FR"}},
		{Field: "founded", Op: OpGe, Values: []string{"1990"}},
		{Field: "name", Op: OpTerms, Values: []string{"der standard"}},
	}, req.Filters)
}

func TestFilter_Key(t *testing.T) {
	assert.Equal(t, "country", Filter{Field: "country", Op: OpEq}.Key())
	assert.Equal(t, "name__terms", Filter{Field: "name", Op: OpTerms}.Key())
	assert.Equal(t, "country.opted_scope", Filter{Field: "country", Sub: "opted_scope", Op: OpEq}.Key())
	assert.Equal(t, "founded__ge", Filter{Field: "founded", Op: OpGe}.Key())
}

func TestNormalizePage(t *testing.T) {
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{0, 0, 1, 25},
		{-3, 10, 1, 10},
		{4, 50, 4, 50},
		{2, 30, 2, 25},
		{1, 1000, 1, 25},
		{math.MaxInt, 50, MaxPage, 50},
	}
	for _, tt := range tests {
		page, size := normalizePage(tt.page, tt.size)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantSize, size)
	}
}

func TestCompile_CountryPagination(t *testing.T) {
	c := compile(t, url.Values{
		"country":      {"FR"},
		"type":         {"Source"},
		"_page":        {"2"},
		"_max_results": {"10"},
	}, Admin)

	assert.Equal(t, 2, c.Page)
	assert.Equal(t, 10, c.PageSize)
	assert.Equal(t, 10, c.Offset)
	assert.Equal(t, 10, c.Read.First)
	assert.Equal(t, 10, c.Read.Offset)
	assert.Zero(t, c.Count.First)
	assert.Zero(t, c.Count.Offset)

	text := c.Query.String()
	assert.Contains(t, text, "filtered as var(func: type(Source)) @cascade(country) {")
	assert.Contains(t, text, `country @filter(eq(unique_name, "FR") OR eq(country_code, "fr"))`)
	assert.Contains(t, text, "q(func: uid(filtered), orderdesc: creation_date, first: 10, offset: 10)")
	assert.Contains(t, text, "total(func: uid(filtered)) {\n    count(uid)\n  }")
}

func TestCompile_HugePageIsClamped(t *testing.T) {
	c := compile(t, url.Values{"_page": {"9223372036854775807"}, "_max_results": {"50"}}, Admin)

	assert.Equal(t, MaxPage, c.Page)
	assert.Equal(t, (MaxPage-1)*50, c.Offset)
	assert.Equal(t, c.Offset, c.Read.Offset)
	assert.Contains(t, c.Query.String(), fmt.Sprintf("offset: %d", (MaxPage-1)*50))
}

func TestCompile_Visibility(t *testing.T) {
	public := compile(t, url.Values{"type": {"Source"}}, Public)
	assert.Equal(t, `eq(entry_review_status, "accepted")`, dql.ExprString(public.Query.VarBlock(filteredVar).Filter))

	admin := compile(t, url.Values{"type": {"Source"}}, Admin)
	assert.Nil(t, admin.Query.VarBlock(filteredVar).Filter)

	assert.Equal(t, Public, VisibilityFor(auth.Actor{Role: auth.RoleContributor}))
	assert.Equal(t, Admin, VisibilityFor(auth.Actor{Role: auth.RoleReviewer}))
}

func TestCompile_Terms(t *testing.T) {
	c := compile(t, url.Values{"_terms": {"der standard"}, "type": {"Source"}}, Admin)
	v, ok := c.Query.Param(termsParam)
	require.True(t, ok)
	assert.Equal(t, "der standard", v)
	assert.Equal(t,
		`regexp(name, /der standard/i) OR allofterms(name, $terms) OR allofterms(other_names, $terms)`,
		dql.ExprString(c.Query.VarBlock(filteredVar).Filter))
	assert.Contains(t, c.Query.String(), "query search($terms: string) {")

	short := compile(t, url.Values{"_terms": {"nz"}, "type": {"Source"}}, Admin)
	assert.Equal(t,
		`allofterms(name, $terms) OR allofterms(other_names, $terms)`,
		dql.ExprString(short.Query.VarBlock(filteredVar).Filter))
}

func TestCompile_RegexpIsEscaped(t *testing.T) {
	c := compile(t, url.Values{"name__regexp": {"a.b/c"}, "type": {"Source"}}, Admin)
	assert.Equal(t, `regexp(name, /a\.b\/c/i)`, dql.ExprString(c.Query.VarBlock(filteredVar).Filter))
}

func TestCompile_ScalarFilters(t *testing.T) {
	c := compile(t, url.Values{
		"type":              {"Source"},
		"publication_cycle": {"Weekly", "daily"},
		"founded__ge":       {"1990"},
		"special_interest":  {"true"},
	}, Admin)
	assert.Equal(t,
		`ge(founded, "1990-01-01T00:00:00Z") AND (eq(publication_cycle, "weekly") OR eq(publication_cycle, "daily")) AND eq(special_interest, true)`,
		dql.ExprString(c.Query.VarBlock(filteredVar).Filter))
}

func TestCompile_RejectsUnindexedOperatorsAndBadValues(t *testing.T) {
	comp := newCompiler(t)
	tests := []struct {
		key   string
		value string
	}{
		{"entry_notes", "anything"},
		{"other_names", "exact match"},
		{"founded__ge", "not a year"},
		{"publication_cycle", "hourly"},
		{"special_interest", "maybe"},
		{"country__terms", "france"},
		{"name__near", "x"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			_, err := comp.Compile(ParseRequest(url.Values{"type": {"Source"}, tt.key: {tt.value}}), Admin)
			var verr *schema.ValidationError
			require.True(t, errors.As(err, &verr), "got %v", err)
			assert.NotNil(t, verr.Field(tt.key), verr.Error())
		})
	}
}

func TestCompile_IgnoresUnknownTypesAndFields(t *testing.T) {
	c := compile(t, url.Values{"type": {"Source", "Spaceship"}, "colour": {"red"}}, Admin)
	assert.Contains(t, c.Query.String(), "filtered as var(func: type(Source))\n")
}

func TestCompile_MultipleTypes(t *testing.T) {
	c := compile(t, url.Values{"type": {"Archive", "Dataset"}}, Admin)
	blk := c.Query.VarBlock(filteredVar)
	assert.Equal(t, "has", blk.Root.Name)
	assert.Equal(t, "type(Archive) OR type(Dataset)", dql.ExprString(blk.Filter))
}

func TestCompile_RelationshipByUID(t *testing.T) {
	c := compile(t, url.Values{"type": {"Source"}, "country": {"0x2a", "0x2b"}}, Admin)
	blk := c.Query.VarBlock(filteredVar)
	assert.Nil(t, blk.Cascade)
	assert.Empty(t, blk.Fields)
	assert.Equal(t, "uid_in(country, 0x2a) OR uid_in(country, 0x2b)", dql.ExprString(blk.Filter))
}

func TestCompile_SubFiltersShareOneTraversal(t *testing.T) {
	c := compile(t, url.Values{
		"type":                {"Source"},
		"country":             {"FR"},
		"country.opted_scope": {"true"},
		"channel.unique_name": {"print"},
	}, Admin)
	blk := c.Query.VarBlock(filteredVar)
	assert.Equal(t, []string{"channel", "country"}, blk.Cascade)
	require.Len(t, blk.Fields, 2)
	assert.Equal(t, `eq(unique_name, "print")`, dql.ExprString(blk.Fields[0].Filter))
	assert.Equal(t,
		`(eq(unique_name, "FR") OR eq(country_code, "fr")) AND eq(opted_scope, true)`,
		dql.ExprString(blk.Fields[1].Filter))
}

func TestCompile_ReverseFieldsAreNotFilters(t *testing.T) {
	c := compile(t, url.Values{"type": {"Source"}, "publishes_org": {"0x1"}}, Admin)
	assert.Nil(t, c.Query.VarBlock(filteredVar).Filter)
}

func TestCompile_Deterministic(t *testing.T) {
	v := url.Values{
		"type":        {"Source"},
		"country":     {"FR", "0x9"},
		"name__terms": {"zeit"},
		"_terms":      {"zeit online"},
	}
	assert.Equal(t, compile(t, v, Public).Query.String(), compile(t, v, Public).Query.String())
}
