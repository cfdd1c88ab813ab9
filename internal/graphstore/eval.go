package graphstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/opted/inventory/internal/dql"
)

// evaluator runs one query against a locked Memory store.
type evaluator struct {
	m    *Memory
	q    *dql.Query
	vars map[string][]dql.UID
}

func newEvaluator(m *Memory, q *dql.Query) *evaluator {
	return &evaluator{m: m, q: q, vars: make(map[string][]dql.UID)}
}

// run evaluates every block in order and returns the response the way the
// server encodes it: JSON numbers as float64, datetimes as strings.
func (e *evaluator) run() (map[string]any, error) {
	out := make(map[string]any)
	for _, blk := range e.q.Blocks {
		res, err := e.block(blk)
		if err != nil {
			return nil, err
		}
		if blk.Var == "" {
			out[blk.Name] = res
		}
	}
	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	decoded := make(map[string]any)
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func (e *evaluator) block(blk *dql.Block) ([]any, error) {
	if blk.Normalize {
		return nil, errors.New("@normalize is not supported")
	}
	nodes, err := e.root(blk.Root)
	if err != nil {
		return nil, err
	}

	var matched []*memNode
	for _, n := range nodes {
		ok, err := e.match(n, blk.Filter)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, n)
		}
	}

	fields := blk.Fields
	if len(fields) == 0 && blk.Var == "" {
		fields = dql.Select("uid")
	}
	if countField := rootCount(fields); countField != nil {
		e.sortNodes(matched, blk.Order)
		matched = paginate(matched, blk.Offset, blk.First)
		key := countField.Alias
		if key == "" {
			key = "count"
		}
		return []any{map[string]any{key: len(matched)}}, nil
	}

	type row struct {
		node *memNode
		obj  map[string]any
	}
	var rows []row
	for _, n := range matched {
		obj, err := e.object(n, fields)
		if err != nil {
			return nil, err
		}
		if !cascades(blk.Cascade, fields, obj) {
			continue
		}
		if len(obj) == 0 && blk.Var == "" {
			continue
		}
		rows = append(rows, row{n, obj})
	}

	kept := make([]*memNode, len(rows))
	byNode := make(map[*memNode]map[string]any, len(rows))
	for i, r := range rows {
		kept[i] = r.node
		byNode[r.node] = r.obj
	}
	e.sortNodes(kept, blk.Order)
	kept = paginate(kept, blk.Offset, blk.First)

	if blk.Var != "" {
		uids := make([]dql.UID, len(kept))
		for i, n := range kept {
			uids[i] = n.uid
		}
		e.vars[blk.Var] = append(e.vars[blk.Var], uids...)
		return nil, nil
	}
	out := make([]any, len(kept))
	for i, n := range kept {
		out[i] = byNode[n]
	}
	return out, nil
}

func rootCount(fields []*dql.Field) *dql.Field {
	for _, f := range fields {
		if f.Count && f.Predicate == "uid" {
			return f
		}
	}
	return nil
}

// cascades reports whether obj keeps every predicate the cascade directive
// names; an empty list names every selected field.
func cascades(preds []string, fields []*dql.Field, obj map[string]any) bool {
	if preds == nil {
		return true
	}
	if len(preds) == 0 {
		for _, f := range fields {
			if _, ok := obj[responseKey(f)]; !ok {
				return false
			}
		}
		return true
	}
	for _, p := range preds {
		key := p
		for _, f := range fields {
			if f.Predicate == p {
				key = responseKey(f)
				break
			}
		}
		if _, ok := obj[key]; !ok {
			return false
		}
	}
	return true
}

func paginate(nodes []*memNode, offset, first int) []*memNode {
	if offset > 0 {
		if offset >= len(nodes) {
			return nil
		}
		nodes = nodes[offset:]
	}
	if first > 0 && first < len(nodes) {
		nodes = nodes[:first]
	}
	return nodes
}

// root returns the candidates of a root function in identifier order.
func (e *evaluator) root(f dql.Func) ([]*memNode, error) {
	var out []*memNode
	if f.Name == "uid" {
		seen := make(map[dql.UID]bool)
		for _, uid := range e.uidArgs(f) {
			if seen[uid] {
				continue
			}
			seen[uid] = true
			out = append(out, e.node(uid))
		}
	} else {
		for _, n := range e.m.nodes {
			if len(n.preds) == 0 {
				continue
			}
			ok, err := e.matchFunc(n, f)
			if err != nil {
				return nil, err
			}
			if ok {
				out = append(out, n)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return dql.CompareUIDs(out[i].uid, out[j].uid) < 0 })
	return out, nil
}

// node returns the stored node, or an empty one for identifiers that hold
// nothing; the server answers uid() selections the same way.
func (e *evaluator) node(uid dql.UID) *memNode {
	if n, ok := e.m.nodes[uid]; ok {
		return n
	}
	return &memNode{uid: uid, preds: map[string][]posting{}}
}

func (e *evaluator) uidArgs(f dql.Func) []dql.UID {
	var out []dql.UID
	for _, a := range f.Args {
		if a.IsVar() {
			out = append(out, e.vars[a.Text()]...)
			continue
		}
		if v, ok := a.Value(); ok {
			if r, ok := v.Ref(); ok {
				out = append(out, r.UID())
			}
		}
	}
	return out
}

func (e *evaluator) sortNodes(nodes []*memNode, keys []dql.Order) {
	sort.SliceStable(nodes, func(i, j int) bool {
		for _, k := range keys {
			if k.Predicate == "uid" {
				c := dql.CompareUIDs(nodes[i].uid, nodes[j].uid)
				if c != 0 {
					return (c < 0) != k.Desc
				}
				continue
			}
			a, okA := e.firstValue(nodes[i], k.Predicate)
			b, okB := e.firstValue(nodes[j], k.Predicate)
			switch {
			case !okA && !okB:
				continue
			case !okA:
				return false
			case !okB:
				return true
			}
			c, _ := dql.Compare(a, b)
			if c != 0 {
				return (c < 0) != k.Desc
			}
		}
		return dql.CompareUIDs(nodes[i].uid, nodes[j].uid) < 0
	})
}

func (e *evaluator) firstValue(n *memNode, pred string) (dql.Value, bool) {
	ps := e.values(n, pred)
	if len(ps) == 0 {
		return dql.Value{}, false
	}
	return ps[0].value, true
}

// values returns the postings of pred on n. A "~" prefix walks the edge in
// reverse: the result lists the nodes pointing at n.
func (e *evaluator) values(n *memNode, pred string) []posting {
	forward, ok := strings.CutPrefix(pred, "~")
	if !ok {
		return n.preds[pred]
	}
	var out []posting
	for _, other := range e.m.nodes {
		for _, p := range other.preds[forward] {
			if r, ok := p.value.Ref(); ok && r.UID() == n.uid {
				out = append(out, posting{value: dql.Node(dql.Existing(other.uid)), facets: p.facets})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i].value.Ref()
		b, _ := out[j].value.Ref()
		return dql.CompareUIDs(a.UID(), b.UID()) < 0
	})
	return out
}

func (e *evaluator) match(n *memNode, x dql.Expr) (bool, error) {
	switch v := x.(type) {
	case nil:
		return true, nil
	case dql.Func:
		return e.matchFunc(n, v)
	case dql.And:
		for _, sub := range v {
			ok, err := e.match(n, sub)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case dql.Or:
		for _, sub := range v {
			ok, err := e.match(n, sub)
			if err != nil || ok {
				return ok, err
			}
		}
		return false, nil
	case dql.Not:
		ok, err := e.match(n, v.X)
		return !ok, err
	}
	return false, fmt.Errorf("unsupported expression %T", x)
}

func (e *evaluator) matchFunc(n *memNode, f dql.Func) (bool, error) {
	switch f.Name {
	case "type":
		if len(f.Args) != 1 {
			return false, errors.New("type() takes one argument")
		}
		for _, t := range n.types() {
			if t == f.Args[0].Text() {
				return true, nil
			}
		}
		return false, nil
	case "has":
		return len(e.values(n, f.Predicate)) > 0, nil
	case "uid":
		for _, uid := range e.uidArgs(f) {
			if uid == n.uid {
				return true, nil
			}
		}
		return false, nil
	case "uid_in":
		want := e.uidArgs(f)
		for _, p := range e.values(n, f.Predicate) {
			r, ok := p.value.Ref()
			if !ok {
				continue
			}
			for _, uid := range want {
				if r.UID() == uid {
					return true, nil
				}
			}
		}
		return false, nil
	case "eq", "ge", "le", "gt", "lt":
		return e.compare(n, f)
	case "allofterms", "anyofterms":
		return e.terms(n, f)
	case "regexp":
		return e.regexp(n, f)
	}
	return false, fmt.Errorf("unsupported function %s", f.Name)
}

func (e *evaluator) compare(n *memNode, f dql.Func) (bool, error) {
	for _, p := range e.values(n, f.Predicate) {
		for _, a := range f.Args {
			lit, ok := a.Value()
			if !ok {
				return false, fmt.Errorf("%s expects literal arguments", f.Name)
			}
			lit = coerce(lit, p.value.Type())
			if f.Name == "eq" {
				if p.value.Equal(lit) {
					return true, nil
				}
				continue
			}
			c, ok := dql.Compare(p.value, lit)
			if !ok {
				continue
			}
			switch {
			case f.Name == "ge" && c >= 0,
				f.Name == "le" && c <= 0,
				f.Name == "gt" && c > 0,
				f.Name == "lt" && c < 0:
				return true, nil
			}
		}
	}
	return false, nil
}

// coerce converts a literal to the stored type where the server would.
func coerce(v dql.Value, to dql.ValueType) dql.Value {
	if v.Type() == to {
		return v
	}
	switch {
	case to == dql.TypeDateTime && v.Type() == dql.TypeString:
		if t, err := dql.ParseTime(v.Str()); err == nil {
			return dql.DateTime(t)
		}
	case to == dql.TypeString && v.Type() == dql.TypeInt:
		return dql.String(strconv.FormatInt(v.Int64(), 10))
	case to == dql.TypeInt && v.Type() == dql.TypeString:
		if i, err := strconv.ParseInt(v.Str(), 10, 64); err == nil {
			return dql.Int(i)
		}
	}
	return v
}

func (e *evaluator) text(a dql.Arg) (string, error) {
	if a.IsParam() {
		s, ok := e.q.Param(a.Text())
		if !ok {
			return "", fmt.Errorf("undefined query variable %s", a.Text())
		}
		return s, nil
	}
	if v, ok := a.Value(); ok && v.Type() == dql.TypeString {
		return v.Str(), nil
	}
	return "", errors.New("expected a string argument")
}

func tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

func (e *evaluator) terms(n *memNode, f dql.Func) (bool, error) {
	if len(f.Args) != 1 {
		return false, fmt.Errorf("%s takes one argument", f.Name)
	}
	q, err := e.text(f.Args[0])
	if err != nil {
		return false, err
	}
	want := tokens(q)
	if len(want) == 0 {
		return false, nil
	}
	have := make(map[string]bool)
	for _, p := range e.values(n, f.Predicate) {
		if p.value.Type() != dql.TypeString {
			continue
		}
		for _, t := range tokens(p.value.Str()) {
			have[t] = true
		}
	}
	for _, t := range want {
		switch {
		case f.Name == "allofterms" && !have[t]:
			return false, nil
		case f.Name == "anyofterms" && have[t]:
			return true, nil
		}
	}
	return f.Name == "allofterms", nil
}

func (e *evaluator) regexp(n *memNode, f dql.Func) (bool, error) {
	if len(f.Args) != 1 || !f.Args[0].IsRegex() {
		return false, errors.New("regexp takes one regular expression")
	}
	re, err := compileRegexLiteral(f.Args[0].Text())
	if err != nil {
		return false, err
	}
	for _, p := range e.values(n, f.Predicate) {
		if p.value.Type() == dql.TypeString && re.MatchString(p.value.Str()) {
			return true, nil
		}
	}
	return false, nil
}

// compileRegexLiteral compiles a /pattern/flags literal.
func compileRegexLiteral(lit string) (*regexp.Regexp, error) {
	end := strings.LastIndex(lit, "/")
	if !strings.HasPrefix(lit, "/") || end < 1 {
		return nil, fmt.Errorf("malformed regular expression %q", lit)
	}
	pattern, flags := lit[1:end], lit[end+1:]
	if strings.Contains(flags, "i") {
		pattern = "(?i)" + pattern
	}
	return regexp.Compile(pattern)
}

func responseKey(f *dql.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	if f.Count {
		return "count(" + f.Predicate + ")"
	}
	return f.Predicate
}

// object builds the response object of n for a selection.
func (e *evaluator) object(n *memNode, fields []*dql.Field) (map[string]any, error) {
	obj := make(map[string]any)
	for _, f := range fields {
		key := responseKey(f)
		if f.Predicate == "uid" && !f.Count {
			obj[key] = string(n.uid)
			continue
		}
		posts := e.values(n, f.Predicate)
		if f.Count {
			obj[key] = len(posts)
			continue
		}
		if len(posts) == 0 {
			continue
		}
		if _, isEdge := posts[0].value.Ref(); isEdge {
			v, err := e.edges(f, key, posts)
			if err != nil {
				return nil, err
			}
			if v != nil {
				obj[key] = v
			}
			continue
		}
		e.scalars(obj, f, key, posts)
	}
	return obj, nil
}

func (e *evaluator) edges(f *dql.Field, key string, posts []posting) (any, error) {
	type child struct {
		node   *memNode
		facets []dql.Facet
	}
	var children []child
	for _, p := range posts {
		r, _ := p.value.Ref()
		target := e.node(r.UID())
		ok, err := e.match(target, f.Filter)
		if err != nil {
			return nil, err
		}
		if ok {
			children = append(children, child{target, p.facets})
		}
	}
	sort.SliceStable(children, func(i, j int) bool {
		return dql.CompareUIDs(children[i].node.uid, children[j].node.uid) < 0
	})
	if len(f.Order) > 0 {
		nodes := make([]*memNode, len(children))
		facets := make(map[*memNode][]dql.Facet, len(children))
		for i, c := range children {
			nodes[i] = c.node
			facets[c.node] = c.facets
		}
		e.sortNodes(nodes, f.Order)
		for i, n := range nodes {
			children[i] = child{n, facets[n]}
		}
	}
	if f.First > 0 && f.First < len(children) {
		children = children[:f.First]
	}

	sub := f.Fields
	if len(sub) == 0 {
		sub = dql.Select("uid")
	}
	var out []any
	for _, c := range children {
		if f.Var != "" {
			e.vars[f.Var] = append(e.vars[f.Var], c.node.uid)
		}
		obj, err := e.object(c.node, sub)
		if err != nil {
			return nil, err
		}
		if f.Facets {
			for _, fct := range c.facets {
				obj[key+dql.FacetSep+fct.Key] = fct.Value.Interface()
			}
		}
		if len(obj) == 0 {
			continue
		}
		out = append(out, obj)
	}
	if len(out) == 0 {
		return nil, nil
	}
	if !strings.HasPrefix(f.Predicate, "~") && !e.m.isList(f.Predicate) {
		if _, declared := e.m.defs[f.Predicate]; declared {
			return out[0], nil
		}
	}
	return out, nil
}

func (e *evaluator) scalars(obj map[string]any, f *dql.Field, key string, posts []posting) {
	if !e.m.isList(f.Predicate) {
		p := posts[0]
		obj[key] = p.value.Interface()
		if f.Facets {
			for _, fct := range p.facets {
				obj[key+dql.FacetSep+fct.Key] = fct.Value.Interface()
			}
		}
		return
	}
	vals := make([]any, len(posts))
	for i, p := range posts {
		vals[i] = p.value.Interface()
		if !f.Facets {
			continue
		}
		for _, fct := range p.facets {
			fk := key + dql.FacetSep + fct.Key
			m, _ := obj[fk].(map[string]any)
			if m == nil {
				m = make(map[string]any)
				obj[fk] = m
			}
			m[strconv.Itoa(i)] = fct.Value.Interface()
		}
	}
	obj[key] = vals
}
