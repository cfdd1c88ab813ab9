package review

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/graphstore"
	"github.com/opted/inventory/internal/mutation"
	"github.com/opted/inventory/internal/schema"
)

var stamp = time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)

type fixture struct {
	ctx      context.Context
	store    *graphstore.Memory
	compiler *Compiler
	loader   *mutation.Loader

	alice, bob, rita auth.Actor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg, err := schema.Default()
	require.NoError(t, err)
	preds, err := reg.Predicates()
	require.NoError(t, err)
	f := &fixture{ctx: context.Background(), store: graphstore.NewMemory(preds)}
	f.compiler = NewCompiler(reg, f.store)
	f.loader = mutation.NewLoader(f.store)

	users := []*auth.Actor{&f.alice, &f.bob, &f.rita}
	roles := []auth.Role{auth.RoleContributor, auth.RoleContributor, auth.RoleReviewer}
	for i, name := range []string{"alice", "bob", "rita"} {
		uid := f.seed(t, []string{"User"}, map[string]dql.Value{"user_displayname": dql.String(name)})
		*users[i] = auth.Actor{UID: string(uid), Name: name, Role: roles[i], IP: "10.0.0.7"}
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

// source seeds a Source added by alice in the given state.
func (f *fixture) source(t *testing.T, status string) dql.UID {
	t.Helper()
	return f.seed(t, []string{"Source", "Entry"}, map[string]dql.Value{
		"name":                dql.String("Die Presse"),
		"unique_name":         dql.String("die_presse"),
		"entry_review_status": dql.String(status),
		"revision":            dql.Int(3),
		"entry_added":         dql.Node(dql.Existing(dql.UID(f.alice.UID))),
	})
}

func (f *fixture) apply(t *testing.T, uid dql.UID, action Action, actor auth.Actor) *Transition {
	t.Helper()
	res, err := f.compiler.Compile(f.ctx, uid, action, actor, mutation.Options{Time: stamp, IP: actor.IP})
	require.NoError(t, err)
	_, err = res.Commit(f.ctx, f.store)
	require.NoError(t, err)
	return res
}

func (f *fixture) head(t *testing.T, uid dql.UID) *mutation.State {
	t.Helper()
	st, err := f.loader.Head(f.ctx, uid)
	require.NoError(t, err)
	return st
}

func TestValidate(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{mutation.StatusDraft, mutation.StatusPending, true},
		{mutation.StatusPending, mutation.StatusAccepted, true},
		{mutation.StatusPending, mutation.StatusRejected, true},
		{mutation.StatusRejected, mutation.StatusPending, true},
		{mutation.StatusAccepted, mutation.StatusPending, true},
		{mutation.StatusDraft, mutation.StatusAccepted, false},
		{mutation.StatusRejected, mutation.StatusAccepted, false},
		{mutation.StatusAccepted, mutation.StatusRejected, false},
		{"", mutation.StatusPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.from+"->"+tt.to, func(t *testing.T) {
			err := Validate(tt.from, tt.to)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var te *TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, tt.from, te.From)
			assert.Equal(t, tt.to, te.To)
		})
	}
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("accept")
	require.NoError(t, err)
	assert.Equal(t, ActionAccept, a)
	assert.Equal(t, mutation.StatusAccepted, a.Target())

	_, err = ParseAction("publish")
	var te *TransitionError
	assert.True(t, errors.As(err, &te))
}

func TestCompile_OwnerSubmitsDraft(t *testing.T) {
	f := newFixture(t)
	uid := f.source(t, mutation.StatusDraft)

	res := f.apply(t, uid, ActionSubmit, f.alice)
	assert.Equal(t, mutation.StatusDraft, res.From)
	assert.Equal(t, mutation.StatusPending, res.To)
	assert.True(t, res.IsUpsert)
	assert.Equal(t, int64(4), res.Revision)
	require.Len(t, res.Asserts, 3)
	assert.Equal(t, "entry_edit_history", res.Asserts[2].Predicate)
	ref, ok := res.Asserts[2].Object.Ref()
	require.True(t, ok)
	assert.Equal(t, dql.UID(f.alice.UID), ref.UID())

	st := f.head(t, uid)
	assert.Equal(t, mutation.StatusPending, st.Status)
	assert.Equal(t, int64(4), st.Revision)
}

func TestCompile_ReviewerAccepts(t *testing.T) {
	f := newFixture(t)
	uid := f.source(t, mutation.StatusPending)

	res := f.apply(t, uid, ActionAccept, f.rita)
	require.Len(t, res.Asserts, 3)
	assert.Equal(t, "reviewed_by", res.Asserts[2].Predicate)
	assert.Contains(t, res.Asserts[2].String(), `ip="10.0.0.7"`)
	assert.Equal(t, mutation.StatusAccepted, f.head(t, uid).Status)

	f.apply(t, uid, ActionReopen, f.rita)
	assert.Equal(t, mutation.StatusPending, f.head(t, uid).Status)
	f.apply(t, uid, ActionReject, f.rita)
	assert.Equal(t, mutation.StatusRejected, f.head(t, uid).Status)
	assert.Equal(t, int64(6), f.head(t, uid).Revision)
}

func TestCompile_Permissions(t *testing.T) {
	f := newFixture(t)
	draft := f.source(t, mutation.StatusDraft)
	pending := f.source(t, mutation.StatusPending)

	tests := []struct {
		name   string
		uid    dql.UID
		action Action
		actor  auth.Actor
	}{
		{"anonymous", draft, ActionSubmit, auth.Actor{}},
		{"other contributor submits", draft, ActionSubmit, f.bob},
		{"owner accepts", pending, ActionAccept, f.alice},
		{"contributor rejects", pending, ActionReject, f.bob},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.compiler.Compile(f.ctx, tt.uid, tt.action, tt.actor, mutation.Options{})
			var perr *schema.PermissionError
			assert.True(t, errors.As(err, &perr), "got %v", err)
		})
	}
}

func TestCompile_InvalidTransition(t *testing.T) {
	f := newFixture(t)
	uid := f.source(t, mutation.StatusDraft)

	_, err := f.compiler.Compile(f.ctx, uid, ActionAccept, f.rita, mutation.Options{})
	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, ActionAccept, te.Action)
	assert.Equal(t, mutation.StatusDraft, te.From)
	assert.Equal(t, mutation.StatusAccepted, te.To)
	assert.Equal(t, mutation.StatusDraft, f.head(t, uid).Status)
}

func TestCompile_UnknownEntry(t *testing.T) {
	f := newFixture(t)
	_, err := f.compiler.Compile(f.ctx, "0xfff", ActionAccept, f.rita, mutation.Options{})
	assert.ErrorIs(t, err, graphstore.ErrNotFound)
}

func TestCompile_ConcurrentReviewsConflict(t *testing.T) {
	f := newFixture(t)
	uid := f.source(t, mutation.StatusPending)

	accept, err := f.compiler.Compile(f.ctx, uid, ActionAccept, f.rita, mutation.Options{Time: stamp})
	require.NoError(t, err)
	reject, err := f.compiler.Compile(f.ctx, uid, ActionReject, f.rita, mutation.Options{Time: stamp})
	require.NoError(t, err)

	_, err = accept.Commit(f.ctx, f.store)
	require.NoError(t, err)
	_, err = reject.Commit(f.ctx, f.store)
	assert.ErrorIs(t, err, graphstore.ErrConflict)
	assert.Equal(t, mutation.StatusAccepted, f.head(t, uid).Status)
}
