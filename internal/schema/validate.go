package schema

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/geocode"
)

// IsEmpty reports whether a payload value carries nothing: nil, a blank
// string or an empty list.
func IsEmpty(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case []string:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

func asString(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case dql.UID:
		return string(v), true
	}
	return "", false
}

// asList spreads a list value into elements; a string is split on commas.
func asList(raw any) []any {
	switch v := raw.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case string:
		var out []any
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return []any{raw}
}

func asInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		if v != math.Trunc(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	case int:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func asBool(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case float64:
		if v == 0 || v == 1 {
			return v == 1, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "on", "1":
			return true, true
		case "false", "no", "n", "off", "0":
			return false, true
		}
	}
	return false, false
}

func asTime(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), true
	case string:
		t, err := dql.ParseTime(v)
		return t, err == nil
	case float64:
		if y, ok := asInt(v); ok && y >= 1000 && y <= 9999 {
			return time.Date(int(y), 1, 1, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func validateUID(_ context.Context, _ *Env, _ *Field, raw any) (any, error) {
	s, _ := asString(raw)
	uid, ok := dql.ParseUID(s)
	if !ok {
		return nil, invalid("%q is not a node identifier", s)
	}
	return uid, nil
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)

func validateUniqueName(ctx context.Context, env *Env, f *Field, raw any) (any, error) {
	s, ok := asString(raw)
	if !ok {
		return nil, invalid("must be text")
	}
	s = strings.ToLower(s)
	if !slugPattern.MatchString(s) {
		return nil, invalid("may only contain lowercase letters, digits and underscores")
	}
	if env.Resolver != nil {
		uid, found, err := env.Resolver.UIDOf(ctx, "", f.Predicate, dql.String(s))
		if err != nil {
			return nil, err
		}
		if found && (env.Subject.IsNew() || uid != env.Subject.UID()) {
			return nil, fieldErr(CodeDuplicate, "%q is already taken", s)
		}
	}
	return s, nil
}

func validateString(_ context.Context, _ *Env, _ *Field, raw any) (any, error) {
	s, ok := asString(raw)
	if !ok {
		return nil, invalid("must be text")
	}
	return s, nil
}

func validateListString(_ context.Context, _ *Env, _ *Field, raw any) (any, error) {
	var out []string
	seen := make(map[string]bool)
	for _, item := range asList(raw) {
		s, ok := asString(item)
		if !ok {
			return nil, invalid("must be a list of text values")
		}
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out, nil
}

func validateInteger(_ context.Context, _ *Env, _ *Field, raw any) (any, error) {
	n, ok := asInt(raw)
	if !ok {
		return nil, invalid("must be a whole number")
	}
	return n, nil
}

func validateBoolean(_ context.Context, _ *Env, _ *Field, raw any) (any, error) {
	b, ok := asBool(raw)
	if !ok {
		return nil, invalid("must be true or false")
	}
	return b, nil
}

func validateDateTime(_ context.Context, _ *Env, _ *Field, raw any) (any, error) {
	t, ok := asTime(raw)
	if !ok {
		return nil, invalid("must be a date (YYYY-MM-DD)")
	}
	return t, nil
}

func validateYear(_ context.Context, _ *Env, f *Field, raw any) (any, error) {
	var year int64
	switch v := raw.(type) {
	case time.Time:
		year = int64(v.Year())
	case string:
		s := strings.TrimSpace(v)
		n, ok := asInt(s)
		if !ok {
			t, err := dql.ParseTime(s)
			if err != nil {
				return nil, invalid("must be a four-digit year")
			}
			n = int64(t.Year())
		}
		year = n
	default:
		n, ok := asInt(raw)
		if !ok {
			return nil, invalid("must be a four-digit year")
		}
		year = n
	}
	if year < 1000 || year > 9999 {
		return nil, invalid("must be a four-digit year")
	}
	if (f.MinYear > 0 && year < int64(f.MinYear)) || (f.MaxYear > 0 && year > int64(f.MaxYear)) {
		return nil, invalid("must be between %d and %d", f.MinYear, f.MaxYear)
	}
	return int(year), nil
}

func validateSingleChoice(_ context.Context, _ *Env, f *Field, raw any) (any, error) {
	s, ok := asString(raw)
	if !ok {
		return nil, invalid("must be one of the listed choices")
	}
	code, ok := f.ChoiceCode(s)
	if !ok {
		return nil, invalid("%q is not a valid choice", s)
	}
	return code, nil
}

func validateMultipleChoice(_ context.Context, _ *Env, f *Field, raw any) (any, error) {
	var out []string
	seen := make(map[string]bool)
	for _, item := range asList(raw) {
		s, ok := asString(item)
		if !ok {
			return nil, invalid("must be a list of choices")
		}
		code, ok := f.ChoiceCode(s)
		if !ok {
			return nil, invalid("%q is not a valid choice", s)
		}
		if seen[code] {
			return nil, invalid("%q was selected more than once", code)
		}
		seen[code] = true
		out = append(out, code)
	}
	return out, nil
}

var coordPattern = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)\s*,\s*(-?\d+(?:\.\d+)?)\s*$`)

func validateGeo(ctx context.Context, env *Env, f *Field, raw any) (any, error) {
	var gv GeoValue
	switch v := raw.(type) {
	case GeoValue:
		gv = v
	case dql.Geo:
		gv = GeoValue{Point: v}
	case map[string]any:
		if g, ok := dql.ParseGeoJSON(v); ok {
			gv = GeoValue{Point: g}
			break
		}
		lat, ok1 := asFloat(v["lat"])
		lon, ok2 := asFloat(v["lon"])
		if !ok1 || !ok2 {
			return nil, invalid("must be a coordinate pair or an address")
		}
		gv = GeoValue{Point: dql.Geo{Lat: lat, Lon: lon}}
		if addr, ok := v["address"].(string); ok {
			gv.Address = strings.TrimSpace(addr)
		}
	case string:
		if m := coordPattern.FindStringSubmatch(v); m != nil {
			lat, _ := strconv.ParseFloat(m[1], 64)
			lon, _ := strconv.ParseFloat(m[2], 64)
			gv = GeoValue{Point: dql.Geo{Lat: lat, Lon: lon}}
			break
		}
		r, err := geocodeText(ctx, env, strings.TrimSpace(v))
		if err != nil {
			return nil, err
		}
		gv = GeoValue{Point: r.Point, Address: r.Address}
	default:
		return nil, invalid("must be a coordinate pair or an address")
	}
	if !gv.Point.Valid() {
		return nil, invalid("coordinates are out of range")
	}
	return gv, nil
}

// geocodeText resolves an address, reporting every failure as a lookup
// error so the caller can treat it as non-fatal.
func geocodeText(ctx context.Context, env *Env, text string) (*geocode.Result, error) {
	g := env.Geocoder
	if g == nil {
		g = geocode.Disabled{}
	}
	r, err := g.Geocode(ctx, text)
	if err != nil {
		var le *geocode.LookupError
		if errors.As(err, &le) {
			return nil, le
		}
		return nil, &geocode.LookupError{Op: "search", Query: text, Err: err}
	}
	return r, nil
}

func asFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case int:
		return float64(v), true
	}
	return 0, false
}

func validateDateSeries(_ context.Context, _ *Env, f *Field, raw any) (any, error) {
	var out []Measurement
	seen := make(map[time.Time]bool)
	for _, item := range asList(raw) {
		var m Measurement
		var facetsRaw map[string]any
		switch v := item.(type) {
		case map[string]any:
			d, ok := v["date"]
			if !ok {
				d = v["value"]
			}
			t, ok := asTime(d)
			if !ok {
				return nil, invalid("every entry needs a date")
			}
			m.Date = t
			facetsRaw = v
		default:
			t, ok := asTime(v)
			if !ok {
				return nil, invalid("every entry needs a date")
			}
			m.Date = t
		}
		facets, err := coerceFacets(f, facetsRaw)
		if err != nil {
			return nil, err
		}
		m.Facets = facets
		if seen[m.Date] {
			return nil, invalid("date %s listed more than once", m.Date.Format("2006-01-02"))
		}
		seen[m.Date] = true
		out = append(out, m)
	}
	return out, nil
}

// coerceFacets reads the declared facets of f from raw, in declaration
// order. Undeclared keys are ignored.
func coerceFacets(f *Field, raw map[string]any) ([]dql.Facet, error) {
	var out []dql.Facet
	for _, fd := range f.Facets {
		v, ok := raw[fd.Name]
		if !ok || v == nil {
			continue
		}
		val, err := coerceFacet(fd, v)
		if err != nil {
			return nil, err
		}
		out = append(out, dql.Facet{Key: fd.Name, Value: val})
	}
	return out, nil
}

func coerceFacet(fd FacetSpec, raw any) (dql.Value, error) {
	switch fd.Type {
	case dql.TypeInt:
		if n, ok := asInt(raw); ok {
			return dql.Int(n), nil
		}
	case dql.TypeFloat:
		if f, ok := asFloat(raw); ok {
			return dql.Float(f), nil
		}
	case dql.TypeBool:
		if b, ok := asBool(raw); ok {
			return dql.Bool(b), nil
		}
	case dql.TypeDateTime:
		if t, ok := asTime(raw); ok {
			return dql.DateTime(t), nil
		}
	default:
		if s, ok := asString(raw); ok {
			return dql.String(s), nil
		}
	}
	return dql.Value{}, invalid("facet %s must be %s", fd.Name, fd.Type)
}

func validateSingleRelationship(ctx context.Context, env *Env, f *Field, raw any) (any, error) {
	if list, ok := raw.([]any); ok {
		if len(list) != 1 {
			return nil, invalid("takes exactly one entry")
		}
		raw = list[0]
	}
	return resolveLink(ctx, env, f, raw)
}

func validateListRelationship(ctx context.Context, env *Env, f *Field, raw any) (any, error) {
	return resolveLinks(ctx, env, f, raw)
}

func validateReverseRelationship(ctx context.Context, env *Env, f *Field, raw any) (any, error) {
	links, err := resolveLinks(ctx, env, f, raw)
	if err != nil {
		return nil, err
	}
	for _, l := range links.([]Link) {
		if l.New != nil {
			attach(l.New, f.Predicate, env.Subject)
		}
	}
	return links, nil
}

// attach records an edge from a pending node to target once.
func attach(n *dql.NewNode, predicate string, target dql.Ref) {
	for _, a := range n.Attrs {
		if r, ok := a.Object.Value.Ref(); ok && a.Predicate == predicate && r == target {
			return
		}
	}
	n.Set(predicate, dql.Object{Value: dql.Node(target)})
}

func resolveLinks(ctx context.Context, env *Env, f *Field, raw any) (any, error) {
	var out []Link
	seen := make(map[dql.Ref]bool)
	for _, item := range asList(raw) {
		l, err := resolveLink(ctx, env, f, item)
		if err != nil {
			return nil, err
		}
		if seen[l.Ref] {
			continue
		}
		seen[l.Ref] = true
		out = append(out, l)
	}
	return out, nil
}

func resolveLink(ctx context.Context, env *Env, f *Field, raw any) (Link, error) {
	var (
		ident     string
		facetsRaw map[string]any
	)
	switch v := raw.(type) {
	case Link:
		return v, nil
	case map[string]any:
		facetsRaw = v
		if u, ok := v["uid"]; ok {
			ident, _ = asString(u)
		} else if n, ok := v["name"]; ok {
			ident, _ = asString(n)
		}
	default:
		s, ok := asString(raw)
		if !ok {
			return Link{}, invalid("must reference an entry")
		}
		ident = s
	}
	facets, err := coerceFacets(f, facetsRaw)
	if err != nil {
		return Link{}, err
	}

	if uid, ok := dql.ParseUID(ident); ok {
		if env.Resolver == nil {
			return Link{}, errors.New("schema: relationship validation needs a resolver")
		}
		types, err := env.Resolver.TypesOf(ctx, uid)
		if err != nil {
			return Link{}, err
		}
		if len(types) == 0 {
			return Link{}, fieldErr(CodeNotFound, "%s does not exist", uid)
		}
		if !f.Accepts(types) {
			return Link{}, fieldErr(CodeTypeConstraint, "%s is a %s, expected %s",
				uid, strings.Join(types, "/"), strings.Join(f.Targets, " or "))
		}
		if !env.Subject.IsNew() && uid == env.Subject.UID() {
			return Link{}, invalid("an entry cannot reference itself")
		}
		return Link{Ref: dql.Existing(uid), Facets: facets}, nil
	}

	name := strings.TrimSpace(ident)
	if name == "" {
		return Link{}, invalid("must reference an entry")
	}
	if !f.AllowNew {
		return Link{}, fieldErr(CodeNotFound, "%q is not an existing entry", name)
	}
	node, err := newTarget(ctx, env, f, name)
	if err != nil {
		return Link{}, err
	}
	return Link{Ref: node.Ref, Facets: facets, New: node}, nil
}

// newTarget returns the pending node for a new relationship target,
// creating it in the arena the first time a name is seen.
func newTarget(ctx context.Context, env *Env, f *Field, name string) (*dql.NewNode, error) {
	if len(f.Targets) == 0 || env.Registry == nil || env.Arena == nil {
		return nil, fmt.Errorf("schema: field %s cannot create entries", f.Name)
	}
	target, ok := env.Registry.Get(f.Targets[0])
	if !ok {
		return nil, fmt.Errorf("schema: unknown target type %s", f.Targets[0])
	}
	key := target.Name + "/" + strings.ToLower(name)
	if n, ok := env.Arena.Lookup(key); ok {
		return n, nil
	}
	resolverName := f.Resolver
	if resolverName == "" {
		resolverName = "entry"
	}
	resolve, ok := newNodeResolvers[resolverName]
	if !ok {
		return nil, fmt.Errorf("schema: unknown resolver %q", resolverName)
	}
	attrs, err := resolve(ctx, env, f, target, name)
	if err != nil {
		return nil, err
	}
	n, _ := env.Arena.Keyed(key, name)
	n.Attrs = append(n.Attrs, attrs...)
	return n, nil
}
