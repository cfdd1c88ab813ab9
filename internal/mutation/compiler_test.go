package mutation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/geocode"
	"github.com/opted/inventory/internal/graphstore"
	"github.com/opted/inventory/internal/schema"
)

type fakeGeocoder map[string]*geocode.Result

func (g fakeGeocoder) Geocode(_ context.Context, q string) (*geocode.Result, error) {
	if r, ok := g[q]; ok {
		return r, nil
	}
	return nil, &geocode.LookupError{Op: "search", Query: q, Err: geocode.ErrNoMatch}
}

func (g fakeGeocoder) Reverse(_ context.Context, _ dql.Geo) (*geocode.Result, error) {
	return nil, &geocode.LookupError{Op: "reverse", Err: geocode.ErrNoMatch}
}

type fixture struct {
	ctx      context.Context
	reg      *schema.Registry
	store    *graphstore.Memory
	compiler *Compiler

	channel, austria, germany, styria dql.UID
	alice, bob                        auth.Actor
	reviewer, admin                   auth.Actor
}

var stamp = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := schema.Default()
	require.NoError(t, err)
	preds, err := reg.Predicates()
	require.NoError(t, err)

	f := &fixture{ctx: context.Background(), reg: reg, store: graphstore.NewMemory(preds)}
	f.compiler = NewCompiler(reg, f.store, fakeGeocoder{
		"Vienna": {Point: dql.Geo{Lat: 48.2, Lon: 16.37}, Address: "Wien, Österreich", Name: "Wien", CountryCode: "AT"},
	})

	f.channel = f.seed(t, []string{"Channel", "Entry"}, map[string]dql.Value{
		"name": dql.String("Print"), "unique_name": dql.String("print"),
	})
	f.austria = f.seed(t, []string{"Country", "Entry"}, map[string]dql.Value{
		"name": dql.String("Austria"), "unique_name": dql.String("austria"), "country_code": dql.String("at"),
	})
	f.germany = f.seed(t, []string{"Country", "Entry"}, map[string]dql.Value{
		"name": dql.String("Germany"), "unique_name": dql.String("germany"), "country_code": dql.String("de"),
	})
	f.styria = f.seed(t, []string{"Organization", "Entry"}, map[string]dql.Value{
		"name": dql.String("Styria Media Group"), "unique_name": dql.String("styria_media_group"), "is_person": dql.Bool(false),
	})
	users := []*auth.Actor{&f.alice, &f.bob, &f.reviewer, &f.admin}
	roles := []auth.Role{auth.RoleContributor, auth.RoleContributor, auth.RoleReviewer, auth.RoleAdmin}
	for i, name := range []string{"alice", "bob", "rita", "root"} {
		uid := f.seed(t, []string{"User"}, map[string]dql.Value{"user_displayname": dql.String(name)})
		*users[i] = auth.Actor{UID: string(uid), Name: name, Role: roles[i], IP: "10.0.0.1"}
	}
	return f
}

func (f *fixture) seed(t *testing.T, types []string, preds map[string]dql.Value) dql.UID {
	t.Helper()
	ar := dql.NewArena()
	n := ar.New("seed")
	for _, typ := range types {
		n.Set("dgraph.type", dql.Object{Value: dql.String(typ)})
	}
	for pred, v := range preds {
		n.Set(pred, dql.Object{Value: v})
	}
	assigned, err := f.store.Mutate(f.ctx, &dql.Mutation{Set: ar.Statements()})
	require.NoError(t, err)
	return assigned[n.Ref.Blank()]
}

func (f *fixture) schema(t *testing.T, name string) *schema.Schema {
	t.Helper()
	s, ok := f.reg.Get(name)
	require.True(t, ok, name)
	return s
}

func (f *fixture) sourcePayload() map[string]any {
	return map[string]any{
		"name":              "Der Standard",
		"channel":           string(f.channel),
		"publication_kind":  []any{"newspaper"},
		"publication_cycle": "daily",
		"geographic_scope":  "national",
		"country":           []any{string(f.austria)},
		"languages":         []any{"de"},
		"payment_model":     "partly free",
		"contains_ads":      "yes",
	}
}

func (f *fixture) opts() Options { return Options{Time: stamp, IP: "10.0.0.1"} }

// createSource compiles and commits a Source added by alice.
func (f *fixture) createSource(t *testing.T, payload map[string]any) dql.UID {
	t.Helper()
	res, err := f.compiler.Compile(f.ctx, f.schema(t, "Source"), payload, f.alice, "", f.opts())
	require.NoError(t, err)
	uid, err := res.Commit(f.ctx, f.store)
	require.NoError(t, err)
	return uid
}

func valuesOf(stmts []dql.Statement, subject dql.Ref, pred string) []dql.Value {
	var out []dql.Value
	for _, st := range stmts {
		if st.Subject == subject && st.Predicate == pred {
			out = append(out, st.Object)
		}
	}
	return out
}

func statementsOn(stmts []dql.Statement, pred string) []dql.Statement {
	var out []dql.Statement
	for _, st := range stmts {
		if st.Predicate == pred {
			out = append(out, st)
		}
	}
	return out
}

func node(uid dql.UID) dql.Value { return dql.Node(dql.Existing(uid)) }

func TestCompile_CreateSource(t *testing.T) {
	f := newFixture(t)
	res, err := f.compiler.Compile(f.ctx, f.schema(t, "Source"), f.sourcePayload(), f.alice, "", f.opts())
	require.NoError(t, err)

	assert.False(t, res.IsUpsert)
	require.NotNil(t, res.Guard)
	assert.Empty(t, res.Guard.Subject)
	assert.Equal(t, []dql.Claim{{Predicate: "unique_name", Value: dql.String("der_standard")}}, res.Guard.Unclaimed)
	assert.Empty(t, res.Retracts)
	assert.Empty(t, res.Warnings)
	require.True(t, res.Subject.IsNew())

	for _, pred := range []string{"name", "publication_cycle", "geographic_scope", "payment_model", "contains_ads", "channel"} {
		assert.Len(t, valuesOf(res.Asserts, res.Subject, pred), 1, pred)
	}
	assert.Equal(t, []dql.Value{dql.String("Source"), dql.String("Entry")}, valuesOf(res.Asserts, res.Subject, "dgraph.type"))
	assert.Equal(t, []dql.Value{dql.String("der_standard")}, valuesOf(res.Asserts, res.Subject, "unique_name"))
	assert.Equal(t, []dql.Value{dql.Int(1)}, valuesOf(res.Asserts, res.Subject, "revision"))
	assert.Equal(t, []dql.Value{dql.String("pending")}, valuesOf(res.Asserts, res.Subject, "entry_review_status"))
	assert.Equal(t, []dql.Value{dql.DateTime(stamp)}, valuesOf(res.Asserts, res.Subject, "creation_date"))
	assert.Equal(t, []dql.Value{node(f.austria)}, valuesOf(res.Asserts, res.Subject, "country"))
	assert.Empty(t, valuesOf(res.Asserts, res.Subject, "special_interest"))

	added := statementsOn(res.Asserts, "entry_added")
	require.Len(t, added, 1)
	assert.Equal(t, node(dql.UID(f.alice.UID)), added[0].Object)
	assert.Equal(t, []dql.Facet{
		{Key: "timestamp", Value: dql.DateTime(stamp)},
		{Key: "ip", Value: dql.String("10.0.0.1")},
	}, added[0].Facets)

	uid, err := res.Commit(f.ctx, f.store)
	require.NoError(t, err)
	state, err := f.compiler.Loader().Load(f.ctx, f.schema(t, "Source"), uid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Revision)
	assert.Equal(t, "pending", state.Status)
	assert.Equal(t, dql.UID(f.alice.UID), state.AddedBy)
}

func TestCompile_CreateDraft(t *testing.T) {
	f := newFixture(t)
	opts := f.opts()
	opts.Draft = true
	res, err := f.compiler.Compile(f.ctx, f.schema(t, "Source"), f.sourcePayload(), f.alice, "", opts)
	require.NoError(t, err)
	assert.Equal(t, []dql.Value{dql.String("draft")}, valuesOf(res.Asserts, res.Subject, "entry_review_status"))
}

func TestCompile_CreateIgnoresSystemAndRestrictedFields(t *testing.T) {
	f := newFixture(t)
	payload := f.sourcePayload()
	payload["unique_name"] = "chosen"
	payload["entry_review_status"] = "accepted"
	payload["revision"] = 7
	res, err := f.compiler.Compile(f.ctx, f.schema(t, "Source"), payload, f.alice, "", f.opts())
	require.NoError(t, err)
	assert.Equal(t, []dql.Value{dql.String("der_standard")}, valuesOf(res.Asserts, res.Subject, "unique_name"))
	assert.Equal(t, []dql.Value{dql.String("pending")}, valuesOf(res.Asserts, res.Subject, "entry_review_status"))
	assert.Equal(t, []dql.Value{dql.Int(1)}, valuesOf(res.Asserts, res.Subject, "revision"))
}

func TestCompile_CreateWithoutChannel(t *testing.T) {
	f := newFixture(t)
	payload := f.sourcePayload()
	delete(payload, "channel")
	before := f.store.Len()

	res, err := f.compiler.Compile(f.ctx, f.schema(t, "Source"), payload, f.alice, "", f.opts())
	assert.Nil(t, res)
	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	fe := verr.Field("channel")
	require.NotNil(t, fe)
	assert.Equal(t, schema.CodeRequired, fe.Code)
	assert.Equal(t, before, f.store.Len())
}

func TestCompile_TypeConstraint(t *testing.T) {
	f := newFixture(t)
	res, err := f.compiler.Compile(f.ctx, f.schema(t, "Organization"), map[string]any{
		"name": "Holding",
		"owns": []any{string(f.austria)},
	}, f.alice, "", f.opts())
	assert.Nil(t, res)
	assert.ErrorIs(t, err, schema.ErrTypeConstraint)
}

func TestCompile_UpdateTypeConstraint(t *testing.T) {
	f := newFixture(t)
	res, err := f.compiler.Compile(f.ctx, f.schema(t, "Organization"), map[string]any{
		"owns": []any{string(f.austria)},
	}, f.reviewer, f.styria, f.opts())
	assert.Nil(t, res)
	require.ErrorIs(t, err, schema.ErrTypeConstraint)

	var verr *schema.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, "owns", verr.Errors[0].Field)

	state, err := f.compiler.Loader().Load(f.ctx, f.schema(t, "Organization"), f.styria)
	require.NoError(t, err)
	assert.False(t, state.HasRevision)
}

func TestCompile_CreatesRaceForUniqueName(t *testing.T) {
	f := newFixture(t)
	s := f.schema(t, "Source")
	first, err := f.compiler.Compile(f.ctx, s, f.sourcePayload(), f.alice, "", f.opts())
	require.NoError(t, err)
	second, err := f.compiler.Compile(f.ctx, s, f.sourcePayload(), f.bob, "", f.opts())
	require.NoError(t, err)

	_, err = first.Commit(f.ctx, f.store)
	require.NoError(t, err)
	_, err = second.Commit(f.ctx, f.store)
	require.ErrorIs(t, err, graphstore.ErrConflict)

	retry, err := f.compiler.Compile(f.ctx, s, f.sourcePayload(), f.bob, "", f.opts())
	require.NoError(t, err)
	assert.Equal(t, []dql.Value{dql.String("der_standard_2")}, valuesOf(retry.Asserts, retry.Subject, "unique_name"))
	_, err = retry.Commit(f.ctx, f.store)
	require.NoError(t, err)

	res, err := f.store.Query(f.ctx, &dql.Query{Blocks: []*dql.Block{{
		Name: "q", Root: dql.Eq("unique_name", dql.String("der_standard")), Fields: dql.Select("uid"),
	}}})
	require.NoError(t, err)
	assert.Len(t, res["q"], 1)
}

func TestCompile_CreatePermissions(t *testing.T) {
	f := newFixture(t)
	_, err := f.compiler.Compile(f.ctx, f.schema(t, "Country"), map[string]any{"name": "France", "country_code": "fr"}, f.alice, "", f.opts())
	var perr *schema.PermissionError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, auth.RoleAdmin, perr.Required)

	res, err := f.compiler.Compile(f.ctx, f.schema(t, "Country"), map[string]any{
		"name": "France", "country_code": "fr", "opted_scope": true,
	}, f.admin, "", f.opts())
	require.NoError(t, err)
	assert.Equal(t, []dql.Value{dql.Bool(true)}, valuesOf(res.Asserts, res.Subject, "opted_scope"))

	_, err = f.compiler.Compile(f.ctx, f.schema(t, "Entry"), map[string]any{"name": "x"}, f.admin, "", f.opts())
	assert.ErrorIs(t, err, ErrAbstractType)
}

func TestCompile_CreateReverseRelationships(t *testing.T) {
	f := newFixture(t)
	payload := f.sourcePayload()
	payload["publishes_org"] = []any{"Mediengruppe Oesterreich", string(f.styria)}
	payload["publishes_person"] = []any{"Oscar Bronner"}

	res, err := f.compiler.Compile(f.ctx, f.schema(t, "Source"), payload, f.alice, "", f.opts())
	require.NoError(t, err)
	require.Equal(t, 3, res.Arena.Len())

	nodes := res.Arena.Nodes()
	org, person := nodes[1].Ref, nodes[2].Ref
	assert.Equal(t, []dql.Value{dql.String("mediengruppe_oesterreich")}, valuesOf(res.Asserts, org, "unique_name"))
	assert.Equal(t, []dql.Value{dql.Bool(false)}, valuesOf(res.Asserts, org, "is_person"))
	assert.Equal(t, []dql.Value{dql.Node(res.Subject)}, valuesOf(res.Asserts, org, "publishes"))
	assert.Equal(t, []dql.Value{dql.Bool(true)}, valuesOf(res.Asserts, person, "is_person"))
	assert.Equal(t, []dql.Value{dql.Node(res.Subject)}, valuesOf(res.Asserts, person, "publishes"))
	assert.Equal(t, []dql.Value{dql.Node(res.Subject)}, valuesOf(res.Asserts, dql.Existing(f.styria), "publishes"))
	assert.Empty(t, valuesOf(res.Asserts, res.Subject, "publishes"))

	uid, err := res.Commit(f.ctx, f.store)
	require.NoError(t, err)
	state, err := f.compiler.Loader().Load(f.ctx, f.schema(t, "Source"), uid)
	require.NoError(t, err)

	s := f.schema(t, "Source")
	orgField, _ := s.Field("publishes_org")
	personField, _ := s.Field("publishes_person")
	orgs, err := state.Objects(orgField)
	require.NoError(t, err)
	people, err := state.Objects(personField)
	require.NoError(t, err)
	assert.Len(t, orgs, 2)
	require.Len(t, people, 1)
	assert.Equal(t, node(res.Assigned[person.Blank()]), people[0].Value)
}

func TestCompile_CreateMutual(t *testing.T) {
	f := newFixture(t)
	first := f.createSource(t, f.sourcePayload())

	payload := f.sourcePayload()
	payload["name"] = "Die Presse"
	payload["related"] = []any{string(first)}
	res, err := f.compiler.Compile(f.ctx, f.schema(t, "Source"), payload, f.alice, "", f.opts())
	require.NoError(t, err)

	assert.Equal(t, []dql.Value{node(first)}, valuesOf(res.Asserts, res.Subject, "related"))
	assert.Equal(t, []dql.Value{dql.Node(res.Subject)}, valuesOf(res.Asserts, dql.Existing(first), "related"))
}

func TestCompile_UpdateWithoutChangesIsEmpty(t *testing.T) {
	f := newFixture(t)
	uid := f.createSource(t, f.sourcePayload())

	res, err := f.compiler.Compile(f.ctx, f.schema(t, "Source"), f.sourcePayload(), f.alice, uid, f.opts())
	require.NoError(t, err)
	assert.True(t, res.IsUpsert)
	assert.True(t, res.IsEmpty())
	assert.NotNil(t, res.Guard)
	assert.Equal(t, int64(1), res.Revision)

	got, err := res.Commit(f.ctx, f.store)
	require.NoError(t, err)
	assert.Equal(t, uid, got)
}

func TestCompile_UpdateDiff(t *testing.T) {
	f := newFixture(t)
	uid := f.createSource(t, f.sourcePayload())
	subject := dql.Existing(uid)

	res, err := f.compiler.Compile(f.ctx, f.schema(t, "Source"), map[string]any{
		"name":        "derStandard.at",
		"other_names": []any{"Standard"},
		"country":     []any{string(f.germany)},
		"languages":   []any{"de"},
	}, f.alice, uid, f.opts())
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "other_names", "country"}, res.Changed)
	assert.Equal(t, []dql.Statement{{Subject: subject, Predicate: "country", Object: node(f.austria)}}, res.Retracts)
	assert.Equal(t, []dql.Value{dql.String("derStandard.at")}, valuesOf(res.Asserts, subject, "name"))
	assert.Equal(t, []dql.Value{dql.String("Standard")}, valuesOf(res.Asserts, subject, "other_names"))
	assert.Equal(t, []dql.Value{node(f.germany)}, valuesOf(res.Asserts, subject, "country"))
	assert.Empty(t, valuesOf(res.Asserts, subject, "languages"))
	assert.Equal(t, []dql.Value{dql.Int(2)}, valuesOf(res.Asserts, subject, "revision"))
	assert.Equal(t, []dql.Value{node(dql.UID(f.alice.UID))}, valuesOf(res.Asserts, subject, "entry_edit_history"))

	require.NotNil(t, res.Guard)
	assert.Equal(t,
		`type(Source) AND eq(entry_review_status, "pending") AND eq(revision, 1)`,
		dql.ExprString(res.Guard.Filter))

	_, err = res.Commit(f.ctx, f.store)
	require.NoError(t, err)
	state, err := f.compiler.Loader().Load(f.ctx, f.schema(t, "Source"), uid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Revision)
	country, _ := f.schema(t, "Source").Field("country")
	objs, err := state.Objects(country)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, node(f.germany), objs[0].Value)
}

func TestCompile_UpdateRendersIdentically(t *testing.T) {
	f := newFixture(t)
	uid := f.createSource(t, f.sourcePayload())
	payload := map[string]any{
		"name":                     "derStandard.at",
		"geographic_scope_subunit": []any{"Vienna"},
		"related":                  []any{"Falter"},
	}

	render := func() (string, string, string) {
		res, err := f.compiler.Compile(f.ctx, f.schema(t, "Source"), payload, f.alice, uid, f.opts())
		require.NoError(t, err)
		m := res.Mutation()
		return m.SetNQuads(), m.DelNQuads(), res.Guard.Query().String()
	}
	set1, del1, guard1 := render()
	set2, del2, guard2 := render()
	assert.Equal(t, set1, set2)
	assert.Equal(t, del1, del2)
	assert.Equal(t, guard1, guard2)
	assert.Contains(t, set1, `"wien_at"`)
	assert.Contains(t, set1, `"falter"`)
}

func TestCompile_UpdateRules(t *testing.T) {
	f := newFixture(t)
	uid := f.createSource(t, f.sourcePayload())
	s := f.schema(t, "Source")

	t.Run("channel cannot change", func(t *testing.T) {
		other := f.seed(t, []string{"Channel", "Entry"}, map[string]dql.Value{"name": dql.String("Online")})
		_, err := f.compiler.Compile(f.ctx, s, map[string]any{"channel": string(other)}, f.alice, uid, f.opts())
		var verr *schema.ValidationError
		require.True(t, errors.As(err, &verr))
		require.NotNil(t, verr.Field("channel"))
		assert.Equal(t, schema.CodeReadOnly, verr.Field("channel").Code)
	})

	t.Run("required field cannot be cleared", func(t *testing.T) {
		_, err := f.compiler.Compile(f.ctx, s, map[string]any{"name": ""}, f.alice, uid, f.opts())
		var verr *schema.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, schema.CodeRequired, verr.Field("name").Code)
	})

	t.Run("clearing an empty field changes nothing", func(t *testing.T) {
		res, err := f.compiler.Compile(f.ctx, s, map[string]any{"country": []any{string(f.austria)}, "other_names": []any{}}, f.alice, uid, f.opts())
		require.NoError(t, err)
		assert.True(t, res.IsEmpty())
	})

	t.Run("restricted field", func(t *testing.T) {
		_, err := f.compiler.Compile(f.ctx, s, map[string]any{"unique_name": "standard"}, f.alice, uid, f.opts())
		var perr *schema.PermissionError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "unique_name", perr.Field)
	})

	t.Run("contributor edits only own entries", func(t *testing.T) {
		_, err := f.compiler.Compile(f.ctx, s, map[string]any{"entry_notes": "x"}, f.bob, uid, f.opts())
		var perr *schema.PermissionError
		require.True(t, errors.As(err, &perr))

		res, err := f.compiler.Compile(f.ctx, s, map[string]any{"entry_notes": "x"}, f.reviewer, uid, f.opts())
		require.NoError(t, err)
		assert.Equal(t, []string{"entry_notes"}, res.Changed)
	})

	t.Run("unknown node", func(t *testing.T) {
		_, err := f.compiler.Compile(f.ctx, s, map[string]any{"name": "x"}, f.alice, "0xfffff", f.opts())
		assert.ErrorIs(t, err, graphstore.ErrNotFound)
	})

	t.Run("wrong type", func(t *testing.T) {
		_, err := f.compiler.Compile(f.ctx, f.schema(t, "Organization"), map[string]any{"name": "x"}, f.alice, uid, f.opts())
		assert.ErrorIs(t, err, graphstore.ErrNotFound)
	})
}

func TestCompile_UpdateGeocoding(t *testing.T) {
	f := newFixture(t)
	s := f.schema(t, "Organization")
	uid := f.styria
	subject := dql.Existing(uid)

	res, err := f.compiler.Compile(f.ctx, s, map[string]any{"address_string": "Vienna"}, f.reviewer, uid, f.opts())
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, []dql.Value{dql.Point(dql.Geo{Lat: 48.2, Lon: 16.37})}, valuesOf(res.Asserts, subject, "address_geo"))
	assert.Equal(t, []dql.Value{dql.String("Vienna")}, valuesOf(res.Asserts, subject, "address_string"))
	_, err = res.Commit(f.ctx, f.store)
	require.NoError(t, err)

	res, err = f.compiler.Compile(f.ctx, s, map[string]any{"address_string": "Atlantis 1"}, f.reviewer, uid, f.opts())
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "address_string", res.Warnings[0].Field)
	assert.Empty(t, valuesOf(res.Asserts, subject, "address_geo"))
	assert.Empty(t, res.Retracts)
	assert.Equal(t, []dql.Value{dql.String("Atlantis 1")}, valuesOf(res.Asserts, subject, "address_string"))
}

func TestCommit_ConcurrentUpdates(t *testing.T) {
	f := newFixture(t)
	uid := f.createSource(t, f.sourcePayload())
	s := f.schema(t, "Source")

	var results []*Result
	for _, name := range []string{"Standard A", "Standard B"} {
		res, err := f.compiler.Compile(f.ctx, s, map[string]any{"name": name}, f.alice, uid, f.opts())
		require.NoError(t, err)
		results = append(results, res)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(results))
	for i, res := range results {
		wg.Add(1)
		go func(i int, res *Result) {
			defer wg.Done()
			_, errs[i] = res.Commit(f.ctx, f.store)
		}(i, res)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, graphstore.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)

	state, err := f.compiler.Loader().Load(f.ctx, s, uid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.Revision)
}

func TestCompileDelete(t *testing.T) {
	f := newFixture(t)
	uid := f.createSource(t, f.sourcePayload())

	_, err := f.compiler.CompileDelete(f.ctx, uid, f.reviewer)
	var perr *schema.PermissionError
	require.True(t, errors.As(err, &perr))

	res, err := f.compiler.CompileDelete(f.ctx, uid, f.admin)
	require.NoError(t, err)
	assert.Equal(t, "Source", res.Schema.Name)
	assert.Equal(t, "<"+string(uid)+"> * * .\n", res.Mutation().DelNQuads())

	_, err = res.Commit(f.ctx, f.store)
	require.NoError(t, err)
	_, err = f.compiler.Loader().Head(f.ctx, uid)
	assert.ErrorIs(t, err, graphstore.ErrNotFound)

	_, err = f.compiler.CompileDelete(f.ctx, uid, f.admin)
	assert.ErrorIs(t, err, graphstore.ErrNotFound)
}
