package dql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatement_String(t *testing.T) {
	subj := Existing("0x2a")
	when := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)

	cases := []struct {
		name string
		stmt Statement
		want string
	}{
		{"string", Statement{Subject: subj, Predicate: "name", Object: String("Die Zeit")},
			`<0x2a> <name> "Die Zeit" .`},
		{"int", Statement{Subject: subj, Predicate: "wikidataID", Object: Int(42)},
			`<0x2a> <wikidataID> "42"^^<xs:int> .`},
		{"bool", Statement{Subject: subj, Predicate: "is_person", Object: Bool(false)},
			`<0x2a> <is_person> "false"^^<xs:boolean> .`},
		{"datetime", Statement{Subject: subj, Predicate: "founded", Object: DateTime(when)},
			`<0x2a> <founded> "2021-03-04T05:06:07Z"^^<xs:dateTime> .`},
		{"geo", Statement{Subject: subj, Predicate: "location_point", Object: Point(Geo{Lat: 48.2, Lon: 16.37})},
			`<0x2a> <location_point> "{\"coordinates\":[16.37,48.2],\"type\":\"Point\"}"^^<geo:geojson> .`},
		{"edge", Statement{Subject: subj, Predicate: "country", Object: Node(Existing("0x5"))},
			`<0x2a> <country> <0x5> .`},
		{"wildcard", Statement{Subject: subj, Predicate: Wildcard, Object: Star()},
			`<0x2a> * * .`},
		{"facets", Statement{Subject: subj, Predicate: "entry_added", Object: Node(Existing("0x9")),
			Facets: []Facet{{"timestamp", DateTime(when)}, {"ip", String("10.0.0.1")}}},
			`<0x2a> <entry_added> <0x9> (timestamp=2021-03-04T05:06:07Z, ip="10.0.0.1") .`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.stmt.String())
		})
	}
}

func TestStatement_EscapesHostileStrings(t *testing.T) {
	s := Statement{
		Subject:   Existing("0x1"),
		Predicate: "name",
		Object:    String("x\" .\n<0x1> <entry_review_status> \"accepted\" .\\"),
	}
	got := s.String()
	assert.Equal(t, `<0x1> <name> "x\" .\n<0x1> <entry_review_status> \"accepted\" .\\" .`, got)
	assert.NotContains(t, got, "\n")
}

func TestArena(t *testing.T) {
	a := NewArena()
	subject := a.New("subject")
	org, created := a.Keyed("Organization/acme", "ACME")
	require.True(t, created)
	again, created := a.Keyed("Organization/acme", "ACME")
	assert.False(t, created)
	assert.Same(t, org, again)

	assert.Equal(t, "_:n1", subject.Ref.String())
	assert.Equal(t, "_:n2", org.Ref.String())

	subject.Set("name", Object{Value: String("Der Standard")})
	org.Set("name", Object{Value: String("ACME")})
	org.Set("publishes", Object{Value: Node(subject.Ref)})

	stmts := a.Statements()
	require.Len(t, stmts, 3)
	assert.Equal(t, `_:n2 <publishes> _:n1 .`, stmts[2].String())

	resolved, err := a.Resolve(map[string]UID{"n1": "0x10", "n2": "0x11"})
	require.NoError(t, err)
	assert.Equal(t, UID("0x10"), resolved["n1"])
	assert.Equal(t, UID("0x11"), resolved["n2"])

	_, err = a.Resolve(map[string]UID{"n1": "0x10"})
	assert.Error(t, err)
}

func TestParseUID(t *testing.T) {
	uid, ok := ParseUID(" 0x2A ")
	assert.True(t, ok)
	assert.Equal(t, UID("0x2a"), uid)

	for _, bad := range []string{"", "2a", "0x", "0xzz", "0x1) OR has(name", "_:n1"} {
		_, ok := ParseUID(bad)
		assert.False(t, ok, bad)
	}
}

func TestValue_InterfaceRoundTrip(t *testing.T) {
	when := time.Date(1998, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []Value{
		String("a"),
		Int(7),
		Float(2.5),
		Bool(true),
		DateTime(when),
		Point(Geo{Lat: 1.5, Lon: -3}),
		Node(Existing("0x3")),
	}
	for _, v := range cases {
		t.Run(v.Type().String(), func(t *testing.T) {
			back, err := FromInterface(v.Type(), v.Interface())
			require.NoError(t, err)
			assert.True(t, v.Equal(back), "%v != %v", v, back)
		})
	}
}

func TestCompare(t *testing.T) {
	c, ok := Compare(Int(2), Float(2.5))
	require.True(t, ok)
	assert.Equal(t, -1, c)

	_, ok = Compare(Int(2), String("2"))
	assert.False(t, ok)

	assert.Equal(t, 1, CompareUIDs("0x10", "0x9"))
}

func TestMutation_Render(t *testing.T) {
	m := &Mutation{
		Set: []Statement{{Subject: Existing("0x1"), Predicate: "name", Object: String("b")}},
		Del: []Statement{{Subject: Existing("0x1"), Predicate: "name", Object: String("a")}},
	}
	assert.False(t, m.IsEmpty())
	assert.Equal(t, "<0x1> <name> \"b\" .\n", m.SetNQuads())
	assert.Equal(t, "<0x1> <name> \"a\" .\n", m.DelNQuads())
	assert.True(t, (&Mutation{}).IsEmpty())
}
