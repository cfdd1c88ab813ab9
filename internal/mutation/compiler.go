// Package mutation turns entry payloads into N-Quad statement sets. The
// compiler validates every field against its schema, creates pending nodes
// for new relationship targets, diffs updates against the stored entry and
// attaches the optimistic-concurrency guard the store checks at commit.
// Nothing in this package writes to the store except Result.Commit.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/geocode"
	"github.com/opted/inventory/internal/graphstore"
	"github.com/opted/inventory/internal/schema"
)

// ErrAbstractType is returned when a payload targets a schema that only
// exists to be extended.
var ErrAbstractType = errors.New("mutation: abstract type cannot be instantiated")

// Review states stamped by the compiler.
const (
	StatusDraft    = "draft"
	StatusPending  = "pending"
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// Options carries the request context of a compile.
type Options struct {
	// Time stamps creation dates and history facets. Zero means now.
	Time time.Time
	// Draft creates the entry in draft state instead of pending.
	Draft bool
	// IP is recorded on history edges.
	IP string
}

// FieldWarning is a non-fatal problem with one field. The field was left
// unchanged.
type FieldWarning struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result is a compiled mutation.
type Result struct {
	Schema  *schema.Schema
	Subject dql.Ref
	// IsUpsert is true exactly when the payload updated an existing node.
	IsUpsert bool
	Asserts  []dql.Statement
	Retracts []dql.Statement
	Guard    *dql.Guard
	Arena    *dql.Arena
	Warnings []FieldWarning
	// Revision is the revision the entry has after the mutation.
	Revision int64
	// Changed lists the names of the fields the mutation touches.
	Changed []string

	// Assigned maps placeholders to identifiers once committed.
	Assigned map[string]dql.UID
}

// Mutation returns the statements as one store mutation.
func (r *Result) Mutation() *dql.Mutation {
	return &dql.Mutation{Set: r.Asserts, Del: r.Retracts}
}

// IsEmpty reports whether committing would change nothing.
func (r *Result) IsEmpty() bool {
	return len(r.Asserts) == 0 && len(r.Retracts) == 0
}

// Commit applies the result to store, guarded when a guard is set, and
// returns the identifier of the subject.
func (r *Result) Commit(ctx context.Context, store graphstore.Store) (dql.UID, error) {
	if r.IsEmpty() {
		return r.Subject.UID(), nil
	}
	var (
		assigned map[string]dql.UID
		err      error
	)
	if r.Guard != nil {
		assigned, err = store.MutateConditional(ctx, r.Guard, r.Mutation())
	} else {
		assigned, err = store.Mutate(ctx, r.Mutation())
	}
	if err != nil {
		return "", err
	}
	if r.Arena != nil {
		if r.Assigned, err = r.Arena.Resolve(assigned); err != nil {
			return "", err
		}
	}
	if !r.Subject.IsNew() {
		return r.Subject.UID(), nil
	}
	uid, ok := r.Assigned[r.Subject.Blank()]
	if !ok {
		return "", fmt.Errorf("mutation: subject %s was not assigned", r.Subject)
	}
	return uid, nil
}

// Compiler compiles payloads for the schemas of one registry.
type Compiler struct {
	registry *schema.Registry
	resolver schema.Resolver
	loader   *Loader
	geocoder geocode.Geocoder
}

// NewCompiler returns a compiler that reads current state and resolves
// relationship targets through store. A nil geocoder disables geocoding.
func NewCompiler(reg *schema.Registry, store graphstore.Store, geo geocode.Geocoder) *Compiler {
	if geo == nil {
		geo = geocode.Disabled{}
	}
	return &Compiler{
		registry: reg,
		resolver: NewStoreResolver(store),
		loader:   NewLoader(store),
		geocoder: geo,
	}
}

// Registry returns the registry the compiler validates against.
func (c *Compiler) Registry() *schema.Registry { return c.registry }

// Loader returns the loader the compiler reads current state with.
func (c *Compiler) Loader() *Loader { return c.loader }

// Compile validates payload against s. With existing empty it compiles a
// create, otherwise an update of the node existing.
func (c *Compiler) Compile(ctx context.Context, s *schema.Schema, payload map[string]any, actor auth.Actor, existing dql.UID, opts Options) (*Result, error) {
	if s.Abstract {
		return nil, fmt.Errorf("%w: %s", ErrAbstractType, s.Name)
	}
	if opts.Time.IsZero() {
		opts.Time = time.Now()
	}
	opts.Time = opts.Time.UTC()
	if existing == "" {
		return c.create(ctx, s, payload, actor, opts)
	}
	return c.update(ctx, s, payload, actor, existing, opts)
}

func (c *Compiler) env(arena *dql.Arena, subject dql.Ref) *schema.Env {
	return &schema.Env{
		Registry: c.registry,
		Resolver: c.resolver,
		Geocoder: c.geocoder,
		Arena:    arena,
		Subject:  subject,
	}
}

// value is one validated field.
type value struct {
	field *schema.Field
	raw   any
	norm  any
	// address is the text stored in the companion address predicate.
	address string
}

// validate normalizes one field, sorting failures into field errors,
// warnings and internal errors.
func validate(ctx context.Context, env *schema.Env, f *schema.Field, raw any, verr *schema.ValidationError, res *Result) (*value, error) {
	norm, err := f.Validate(ctx, env, raw)
	if err == nil {
		v := &value{field: f, raw: raw, norm: norm}
		if gv, ok := norm.(schema.GeoValue); ok {
			v.address = addressText(raw, gv.Address)
		}
		return v, nil
	}
	var le *geocode.LookupError
	if errors.As(err, &le) {
		res.Warnings = append(res.Warnings, FieldWarning{Field: f.Name, Message: le.Error()})
		if f.AddressPredicate != "" {
			if text := addressText(raw, ""); text != "" {
				return &value{field: f, raw: raw, address: text}, nil
			}
		}
		return nil, nil
	}
	var fe *schema.FieldError
	if errors.As(err, &fe) {
		verr.Add(fe)
		return nil, nil
	}
	return nil, fmt.Errorf("validating %s: %w", f.Name, err)
}

func addressText(raw any, fallback string) string {
	if s, ok := raw.(string); ok {
		return strings.TrimSpace(s)
	}
	return fallback
}

// objects serializes a validated value. A value that only carries an
// address has no objects of its own.
func (v *value) objects() ([]dql.Object, error) {
	if v.norm == nil {
		return nil, nil
	}
	return v.field.Serialize(v.norm)
}

func (c *Compiler) create(ctx context.Context, s *schema.Schema, payload map[string]any, actor auth.Actor, opts Options) (*Result, error) {
	if !actor.Can(s.CreatePermission) {
		return nil, &schema.PermissionError{Action: "create " + s.Name, Required: s.CreatePermission, Actual: actor.Role}
	}
	arena := dql.NewArena()
	subject := arena.New(s.Name)
	env := c.env(arena, subject.Ref)
	res := &Result{Schema: s, Subject: subject.Ref, Arena: arena, Revision: 1}
	verr := &schema.ValidationError{}

	var values []*value
	for _, f := range s.Fields() {
		if f.ReadOnly || !f.New || f.Kind == schema.KindUID || f.Kind == schema.KindUniqueName {
			continue
		}
		if !actor.Can(f.Permission) {
			continue
		}
		raw, ok := payload[f.Name]
		if !ok || schema.IsEmpty(raw) {
			if f.Default == nil {
				if f.Required {
					verr.Add(&schema.FieldError{Field: f.Name, Code: schema.CodeRequired, Message: "is required"})
				}
				continue
			}
			raw = f.Default
		}
		v, err := validate(ctx, env, f, raw, verr, res)
		if err != nil {
			return nil, err
		}
		if v != nil {
			values = append(values, v)
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	for _, t := range s.Types() {
		subject.Set("dgraph.type", dql.Object{Value: dql.String(t)})
	}
	var extra []dql.Statement
	for _, v := range values {
		objs, err := v.objects()
		if err != nil {
			return nil, err
		}
		e := edges{subject: subject.Ref, field: v.field}
		for _, obj := range objs {
			own, other := e.statements(obj)
			if own != nil {
				subject.Set(own.Predicate, dql.Object{Value: own.Object, Facets: own.Facets})
			}
			extra = append(extra, other...)
		}
		if v.address != "" {
			subject.Set(v.field.AddressPredicate, dql.Object{Value: dql.String(v.address)})
		}
		res.Changed = append(res.Changed, v.field.Name)
	}

	if err := c.stampCreate(ctx, s, env, subject, actor, opts); err != nil {
		return nil, err
	}
	res.Asserts = append(arena.Statements(), extra...)
	if claims := uniqueClaims(arena); len(claims) > 0 {
		res.Guard = &dql.Guard{Unclaimed: claims}
	}
	return res, nil
}

// stampCreate records the system predicates of a new entry.
func (c *Compiler) stampCreate(ctx context.Context, s *schema.Schema, env *schema.Env, subject *dql.NewNode, actor auth.Actor, opts Options) error {
	if _, ok := s.Field("unique_name"); ok {
		name, _ := subject.Get("name")
		base := schema.Slugify(name.Str())
		if s.Is("Subunit") {
			if cc, ok := subject.Get("country_code"); ok && cc.Str() != "" {
				base += "_" + strings.ToLower(cc.Str())
			}
		}
		unique, err := schema.UniqueName(ctx, env, base)
		if err != nil {
			return err
		}
		subject.Set("unique_name", dql.Object{Value: dql.String(unique)})
	}
	if _, ok := s.Field("creation_date"); ok {
		subject.Set("creation_date", dql.Object{Value: dql.DateTime(opts.Time)})
	}
	if _, ok := s.Field("revision"); ok {
		subject.Set("revision", dql.Object{Value: dql.Int(1)})
	}
	if f, ok := s.Field("entry_review_status"); ok {
		status := StatusPending
		if d, ok := f.Default.(string); ok && d != "" {
			status = d
		}
		if opts.Draft {
			status = StatusDraft
		}
		subject.Set("entry_review_status", dql.Object{Value: dql.String(status)})
	}
	if _, ok := s.Field("entry_added"); ok {
		if uid, ok := dql.ParseUID(actor.UID); ok {
			subject.Set("entry_added", dql.Object{Value: dql.Node(dql.Existing(uid)), Facets: HistoryFacets(opts)})
		}
	}
	return nil
}

// HistoryFacets are the facets of a history edge written with opts.
func HistoryFacets(opts Options) []dql.Facet {
	facets := []dql.Facet{{Key: "timestamp", Value: dql.DateTime(opts.Time)}}
	if opts.IP != "" {
		facets = append(facets, dql.Facet{Key: "ip", Value: dql.String(opts.IP)})
	}
	return facets
}

func (c *Compiler) update(ctx context.Context, s *schema.Schema, payload map[string]any, actor auth.Actor, uid dql.UID, opts Options) (*Result, error) {
	if !actor.Can(auth.RoleContributor) {
		return nil, &schema.PermissionError{Action: "update " + s.Name, Required: auth.RoleContributor, Actual: actor.Role}
	}
	state, err := c.loader.Load(ctx, s, uid)
	if err != nil {
		return nil, err
	}
	if !actor.Can(auth.RoleReviewer) && !ownsOpenEntry(actor, state) {
		return nil, &schema.PermissionError{Action: "update " + s.Name, Required: auth.RoleReviewer, Actual: actor.Role}
	}

	subject := dql.Existing(uid)
	arena := dql.NewArena()
	env := c.env(arena, subject)
	res := &Result{
		Schema:   s,
		Subject:  subject,
		IsUpsert: true,
		Arena:    arena,
		Guard:    GuardFor(s, state),
		Revision: state.Revision,
	}
	verr := &schema.ValidationError{}

	var values []*value
	for _, f := range s.Fields() {
		raw, ok := payload[f.Name]
		if !ok || f.ReadOnly || f.Kind == schema.KindUID {
			continue
		}
		if !actor.Can(f.Permission) {
			return nil, &schema.PermissionError{Field: f.Name, Required: f.Permission, Actual: actor.Role}
		}
		if schema.IsEmpty(raw) {
			if f.Required {
				verr.Add(&schema.FieldError{Field: f.Name, Code: schema.CodeRequired, Message: "cannot be cleared"})
				continue
			}
			values = append(values, &value{field: f, raw: raw})
			continue
		}
		v, err := validate(ctx, env, f, raw, verr, res)
		if err != nil {
			return nil, err
		}
		if v != nil {
			values = append(values, v)
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	for _, v := range values {
		current, err := state.Objects(v.field)
		if err != nil {
			return nil, err
		}
		desired, err := v.objects()
		if err != nil {
			return nil, err
		}
		if v.norm == nil && !schema.IsEmpty(v.raw) {
			// geocoding failed; only the companion address is written
			desired = current
		}
		d := diff(v.field, current, desired, v.norm == nil && schema.IsEmpty(v.raw))
		if !v.field.Edit && !d.isEmpty() {
			verr.Add(&schema.FieldError{Field: v.field.Name, Code: schema.CodeReadOnly, Message: "cannot be changed"})
			continue
		}
		e := edges{subject: subject, field: v.field}
		changed := false
		for _, obj := range d.retract {
			own, other := e.statements(obj)
			if own != nil {
				res.Retracts = append(res.Retracts, *own)
			}
			res.Retracts = append(res.Retracts, other...)
			changed = true
		}
		for _, obj := range d.assert {
			own, other := e.statements(obj)
			if own != nil {
				res.Asserts = append(res.Asserts, *own)
			}
			res.Asserts = append(res.Asserts, other...)
			changed = true
		}
		if v.field.AddressPredicate != "" && (v.address != "" || schema.IsEmpty(v.raw)) {
			if st, ok := addressChange(subject, v, state.Address(v.field)); ok {
				if st.Object.Type() == dql.TypeStar {
					res.Retracts = append(res.Retracts, st)
				} else {
					res.Asserts = append(res.Asserts, st)
				}
				changed = true
			}
		}
		if changed {
			res.Changed = append(res.Changed, v.field.Name)
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}
	if res.IsEmpty() {
		return res, nil
	}

	res.Asserts = append(arena.Statements(), res.Asserts...)
	res.Guard.Unclaimed = uniqueClaims(arena)
	res.Revision = state.Revision + 1
	if _, ok := s.Field("revision"); ok {
		res.Asserts = append(res.Asserts, dql.Statement{Subject: subject, Predicate: "revision", Object: dql.Int(res.Revision)})
	}
	if _, ok := s.Field("entry_edit_history"); ok {
		if actorUID, ok := dql.ParseUID(actor.UID); ok {
			res.Asserts = append(res.Asserts, dql.Statement{
				Subject:   subject,
				Predicate: "entry_edit_history",
				Object:    dql.Node(dql.Existing(actorUID)),
				Facets:    HistoryFacets(opts),
			})
		}
	}
	return res, nil
}

// ownsOpenEntry reports whether actor added the entry and it has not
// been reviewed yet.
func ownsOpenEntry(actor auth.Actor, st *State) bool {
	if actor.UID == "" || string(st.AddedBy) != actor.UID {
		return false
	}
	return st.Status == StatusDraft || st.Status == StatusPending
}

// uniqueClaims lists the unique names the arena's new nodes take, so the
// commit fails when another mutation stored one of them first.
func uniqueClaims(arena *dql.Arena) []dql.Claim {
	var claims []dql.Claim
	for _, n := range arena.Nodes() {
		if v, ok := n.Get("unique_name"); ok {
			claims = append(claims, dql.Claim{Predicate: "unique_name", Value: v})
		}
	}
	return claims
}

// GuardFor pins a mutation to the type, review state and revision that
// were loaded.
func GuardFor(s *schema.Schema, st *State) *dql.Guard {
	status := dql.Expr(dql.Not{X: dql.Has("entry_review_status")})
	if st.Status != "" {
		status = dql.Eq("entry_review_status", dql.String(st.Status))
	}
	revision := dql.Expr(dql.Not{X: dql.Has("revision")})
	if st.HasRevision {
		revision = dql.Eq("revision", dql.Int(st.Revision))
	}
	return &dql.Guard{Subject: st.UID, Filter: dql.AllOf(dql.Type(s.Name), status, revision)}
}

func addressChange(subject dql.Ref, v *value, stored string) (dql.Statement, bool) {
	pred := v.field.AddressPredicate
	if v.address == "" {
		if stored == "" {
			return dql.Statement{}, false
		}
		return dql.Statement{Subject: subject, Predicate: pred, Object: dql.Star()}, true
	}
	if v.address == stored {
		return dql.Statement{}, false
	}
	return dql.Statement{Subject: subject, Predicate: pred, Object: dql.String(v.address)}, true
}
