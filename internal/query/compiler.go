// Package query compiles search requests into batched DQL and reads single
// entries back into their display form.
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/opted/inventory/internal/auth"
	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/mutation"
	"github.com/opted/inventory/internal/schema"
)

// Visibility selects which review states a query may return.
type Visibility int

const (
	// Public queries only see accepted entries.
	Public Visibility = iota
	// Admin queries see every entry.
	Admin
)

// VisibilityFor returns the visibility of queries run by a.
func VisibilityFor(a auth.Actor) Visibility {
	if a.Can(auth.RoleReviewer) {
		return Admin
	}
	return Public
}

const (
	filteredVar = "filtered"
	readBlock   = "q"
	countBlock  = "total"
	termsParam  = "$terms"

	// minRegexpRunes is the shortest search text matched as a substring;
	// trigram indexes cannot serve shorter patterns.
	minRegexpRunes = 3
)

// Compiled is a request rendered into one batched query.
type Compiled struct {
	Query    *dql.Query
	Read     *dql.Block
	Count    *dql.Block
	Page     int
	PageSize int
	Offset   int
}

// Compiler turns requests into queries against the registered types.
type Compiler struct {
	registry *schema.Registry
}

// NewCompiler returns a compiler resolving fields through reg.
func NewCompiler(reg *schema.Registry) *Compiler {
	return &Compiler{registry: reg}
}

// Compile builds the filter, read and count blocks of req. Unknown types
// and fields are ignored; values that do not fit their field, and
// operators the predicate's indexes cannot serve, are reported together
// as a *schema.ValidationError.
func (c *Compiler) Compile(req Request, vis Visibility) (*Compiled, error) {
	page, size := normalizePage(req.Page, req.PageSize)
	scope := c.schemas(req.Types)
	if len(scope) == 0 {
		scope = c.schemas(c.registry.Concrete())
	}

	q := &dql.Query{Name: "search"}
	root, typeFilter := rootOf(scope)
	b := newBuilder()
	b.where(typeFilter)
	if vis == Public {
		b.where(dql.Eq("entry_review_status", dql.String(mutation.StatusAccepted)))
	}
	if terms := strings.TrimSpace(req.Terms); terms != "" {
		q.Params = append(q.Params, dql.QueryParam{Name: termsParam, Type: "string", Value: terms})
		b.where(nameMatch(terms))
	}

	verr := &schema.ValidationError{}
	for _, flt := range req.Filters {
		f, ok := fieldIn(scope, flt.Field)
		if !ok {
			continue
		}
		if err := c.filter(b, f, flt); err != nil {
			var fe *schema.FieldError
			if !errors.As(err, &fe) {
				return nil, err
			}
			fe.Field = flt.Key()
			verr.Add(fe)
		}
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	filtered := &dql.Block{
		Name:   filteredVar,
		Var:    filteredVar,
		Root:   root,
		Filter: dql.AllOf(b.exprs...),
		Fields: b.children,
	}
	if len(b.children) > 0 {
		filtered.Cascade = b.cascade()
	}
	read := &dql.Block{
		Name:   readBlock,
		Root:   dql.UIDVars(filteredVar),
		Order:  []dql.Order{{Predicate: "creation_date", Desc: true}, {Predicate: "uid"}},
		First:  size,
		Offset: (page - 1) * size,
		Fields: summaryFields(),
	}
	count := &dql.Block{
		Name:   countBlock,
		Root:   dql.UIDVars(filteredVar),
		Fields: []*dql.Field{{Predicate: "uid", Count: true}},
	}
	q.Blocks = []*dql.Block{filtered, read, count}
	return &Compiled{Query: q, Read: read, Count: count, Page: page, PageSize: size, Offset: read.Offset}, nil
}

func (c *Compiler) schemas(names []string) []*schema.Schema {
	var out []*schema.Schema
	for _, n := range names {
		if s, ok := c.registry.Get(n); ok {
			out = append(out, s)
		}
	}
	return out
}

// rootOf picks the root function for a set of types. A single type is a
// root of its own; several are filtered from every typed node.
func rootOf(scope []*schema.Schema) (dql.Func, dql.Expr) {
	if len(scope) == 1 {
		return dql.Type(scope[0].Name), nil
	}
	xs := make([]dql.Expr, len(scope))
	for i, s := range scope {
		xs[i] = dql.Type(s.Name)
	}
	return dql.Has("dgraph.type"), dql.AnyOf(xs...)
}

func fieldIn(scope []*schema.Schema, name string) (*schema.Field, bool) {
	for _, s := range scope {
		if f, ok := s.Field(name); ok {
			return f, true
		}
	}
	return nil, false
}

// nameMatch matches text against the names of an entry: as a substring of
// the name when long enough, and as all terms of the name or one of the
// other names. The terms travel as the $terms variable.
func nameMatch(text string) dql.Expr {
	var xs []dql.Expr
	if utf8.RuneCountInString(text) >= minRegexpRunes {
		xs = append(xs, dql.Regexp("name", text, true))
	}
	xs = append(xs,
		dql.AllOfTerms("name", dql.Param(termsParam)),
		dql.AllOfTerms("other_names", dql.Param(termsParam)),
	)
	return dql.AnyOf(xs...)
}

// summaryFields is the selection of every search result.
func summaryFields() []*dql.Field {
	link := dql.Select("uid", "name", "unique_name")
	return []*dql.Field{
		{Predicate: "uid"},
		{Predicate: "dgraph.type"},
		{Predicate: "name"},
		{Predicate: "unique_name"},
		{Predicate: "other_names"},
		{Predicate: "entry_review_status"},
		{Predicate: "creation_date"},
		{Predicate: "country", Fields: link},
		{Predicate: "channel", Fields: link},
	}
}

// ── filters ──────────────────────────────────────────────────────────────────

// builder collects the conditions of the filter block. Conditions on
// related nodes become child selections the block cascades over; filters
// through the same predicate share one child.
type builder struct {
	exprs    []dql.Expr
	children []*dql.Field
	byPred   map[string]*dql.Field
}

func newBuilder() *builder {
	return &builder{byPred: make(map[string]*dql.Field)}
}

func (b *builder) where(x dql.Expr) {
	if x != nil {
		b.exprs = append(b.exprs, x)
	}
}

func (b *builder) through(pred string, x dql.Expr) {
	if child, ok := b.byPred[pred]; ok {
		child.Filter = dql.AllOf(child.Filter, x)
		return
	}
	child := &dql.Field{Predicate: pred, Filter: x, Fields: dql.Select("uid")}
	b.byPred[pred] = child
	b.children = append(b.children, child)
}

func (b *builder) cascade() []string {
	out := make([]string, len(b.children))
	for i, child := range b.children {
		out[i] = child.Predicate
	}
	return out
}

func (c *Compiler) filter(b *builder, f *schema.Field, flt Filter) error {
	switch {
	case f.Kind == schema.KindReverseRelationship:
		return nil
	case f.Kind.IsRelationship():
		return c.relationship(b, f, flt)
	case flt.Sub != "":
		return nil
	}
	x, err := condition(f, flt.Op, flt.Values)
	if err != nil {
		return err
	}
	b.where(x)
	return nil
}

// relationship filters on a forward edge. Identifiers match the edge
// directly; names match the target's unique name or country code;
// "rel.sub" filters apply to the target's own fields.
func (c *Compiler) relationship(b *builder, f *schema.Field, flt Filter) error {
	if flt.Sub != "" {
		sub, ok := c.targetField(f, flt.Sub)
		if !ok || sub.Kind.IsRelationship() {
			return nil
		}
		x, err := condition(sub, flt.Op, flt.Values)
		if err != nil {
			return err
		}
		b.through(f.Predicate, x)
		return nil
	}
	if flt.Op != OpEq {
		return &schema.FieldError{Code: schema.CodeInvalid, Message: fmt.Sprintf("operator %s is not supported on relationships", flt.Op)}
	}

	var uids []dql.UID
	var names []string
	for _, v := range flt.Values {
		if uid, ok := dql.ParseUID(v); ok {
			uids = append(uids, uid)
			continue
		}
		names = append(names, v)
	}
	if len(names) == 0 {
		xs := make([]dql.Expr, len(uids))
		for i, uid := range uids {
			xs[i] = dql.UIDIn(f.Predicate, uid)
		}
		b.where(dql.AnyOf(xs...))
		return nil
	}

	var xs []dql.Expr
	if len(uids) > 0 {
		xs = append(xs, dql.UIDs(uids...))
	}
	byCode := c.targetsHave(f, "country_code")
	for _, name := range names {
		xs = append(xs, dql.Eq("unique_name", dql.String(name)))
		if byCode {
			xs = append(xs, dql.Eq("country_code", dql.String(strings.ToLower(name))))
		}
	}
	b.through(f.Predicate, dql.AnyOf(xs...))
	return nil
}

func (c *Compiler) targetField(f *schema.Field, name string) (*schema.Field, bool) {
	targets := f.Targets
	if len(targets) == 0 {
		targets = c.registry.Concrete()
	}
	return fieldIn(c.schemas(targets), name)
}

func (c *Compiler) targetsHave(f *schema.Field, name string) bool {
	for _, s := range c.schemas(f.Targets) {
		if _, ok := s.Field(name); ok {
			return true
		}
	}
	return false
}

// condition compiles op over values of a scalar field. Multiple values
// are alternatives.
func condition(f *schema.Field, op string, values []string) (dql.Expr, error) {
	if f.Kind == schema.KindUID {
		if op != OpEq {
			return nil, unsupported(op)
		}
		var uids []dql.UID
		for _, v := range values {
			uid, ok := dql.ParseUID(v)
			if !ok {
				return nil, invalidValue(v)
			}
			uids = append(uids, uid)
		}
		return dql.UIDs(uids...), nil
	}
	if err := checkIndex(f, op); err != nil {
		return nil, err
	}

	xs := make([]dql.Expr, 0, len(values))
	for _, raw := range values {
		switch op {
		case OpTerms:
			xs = append(xs, dql.AllOfTerms(f.Predicate, dql.Lit(dql.String(raw))))
		case OpAnyTerms:
			xs = append(xs, dql.AnyOfTerms(f.Predicate, dql.Lit(dql.String(raw))))
		case OpRegexp:
			xs = append(xs, dql.Regexp(f.Predicate, raw, true))
		default:
			v, err := literal(f, raw)
			if err != nil {
				return nil, err
			}
			if op == OpEq {
				xs = append(xs, dql.Eq(f.Predicate, v))
			} else {
				xs = append(xs, dql.Cmp(op, f.Predicate, v))
			}
		}
	}
	return dql.AnyOf(xs...), nil
}

var (
	eqIndexes      = []string{"exact", "hash", "int", "float", "bool", "year", "month", "day", "hour"}
	sortIndexes    = []string{"exact", "int", "float", "year", "month", "day", "hour"}
	operatorIndexes = map[string][]string{
		OpEq:       eqIndexes,
		OpTerms:    {"term"},
		OpAnyTerms: {"term"},
		OpRegexp:   {"trigram"},
		OpGe:       sortIndexes,
		OpLe:       sortIndexes,
		OpGt:       sortIndexes,
		OpLt:       sortIndexes,
	}
)

// checkIndex rejects operators the field's predicate has no index for.
func checkIndex(f *schema.Field, op string) error {
	want, ok := operatorIndexes[op]
	if !ok {
		return unsupported(op)
	}
	for _, idx := range want {
		if f.HasIndex(idx) {
			return nil
		}
	}
	return &schema.FieldError{Code: schema.CodeInvalid, Message: fmt.Sprintf("%s cannot be filtered with %s", f.Name, op)}
}

// literal coerces a request value to the stored type of f.
func literal(f *schema.Field, raw string) (dql.Value, error) {
	switch f.Kind {
	case schema.KindInteger:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return dql.Value{}, invalidValue(raw)
		}
		return dql.Int(n), nil
	case schema.KindBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return dql.Value{}, invalidValue(raw)
		}
		return dql.Bool(b), nil
	case schema.KindDateTime, schema.KindYear, schema.KindDateSeries:
		t, err := dql.ParseTime(raw)
		if err != nil {
			return dql.Value{}, invalidValue(raw)
		}
		return dql.DateTime(t), nil
	case schema.KindSingleChoice, schema.KindMultipleChoice:
		code, ok := f.ChoiceCode(raw)
		if !ok {
			return dql.Value{}, invalidValue(raw)
		}
		return dql.String(code), nil
	case schema.KindGeo:
		return dql.Value{}, unsupported(OpEq)
	}
	return dql.String(raw), nil
}

func unsupported(op string) *schema.FieldError {
	return &schema.FieldError{Code: schema.CodeInvalid, Message: fmt.Sprintf("unsupported operator %q", op)}
}

func invalidValue(v string) *schema.FieldError {
	return &schema.FieldError{Code: schema.CodeInvalid, Message: fmt.Sprintf("invalid value %q", v)}
}
