package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/gosimple/slug"

	"github.com/opted/inventory/internal/dql"
	"github.com/opted/inventory/internal/geocode"
)

// NewNodeResolver produces the attributes of an entry created through a
// relationship field from the name the user typed.
type NewNodeResolver func(ctx context.Context, env *Env, f *Field, target *Schema, name string) ([]dql.Attr, error)

var newNodeResolvers = map[string]NewNodeResolver{
	"entry":   resolveEntry,
	"subunit": resolveSubunit,
}

// HasResolver reports whether name is a known resolver.
func HasResolver(name string) bool {
	_, ok := newNodeResolvers[name]
	return ok
}

func attr(pred string, v dql.Value) dql.Attr {
	return dql.Attr{Predicate: pred, Object: dql.Object{Value: v}}
}

func typeAttrs(target *Schema) []dql.Attr {
	var out []dql.Attr
	for _, t := range target.Types() {
		out = append(out, attr("dgraph.type", dql.String(t)))
	}
	return out
}

func resolveEntry(ctx context.Context, env *Env, f *Field, target *Schema, name string) ([]dql.Attr, error) {
	unique, err := UniqueName(ctx, env, Slugify(name))
	if err != nil {
		return nil, err
	}
	attrs := typeAttrs(target)
	attrs = append(attrs, attr("name", dql.String(name)), attr("unique_name", dql.String(unique)))
	for _, dp := range f.DefaultPredicates {
		attrs = append(attrs, attr(dp.Predicate, dp.Value))
	}
	return attrs, nil
}

// resolveSubunit geocodes a subnational unit's name and links it to its
// country by country code.
func resolveSubunit(ctx context.Context, env *Env, f *Field, target *Schema, name string) ([]dql.Attr, error) {
	r, err := geocodeText(ctx, env, name)
	if err != nil {
		return nil, err
	}
	if r.CountryCode == "" {
		return nil, &geocode.LookupError{Op: "search", Query: name, Err: geocode.ErrNoMatch}
	}
	display := r.Name
	if display == "" {
		display = name
	}
	cc := strings.ToLower(r.CountryCode)
	unique, err := UniqueName(ctx, env, Slugify(display)+"_"+cc)
	if err != nil {
		return nil, err
	}
	attrs := typeAttrs(target)
	attrs = append(attrs,
		attr("name", dql.String(display)),
		attr("unique_name", dql.String(unique)),
		attr("country_code", dql.String(cc)),
		attr("location_point", dql.Point(r.Point)),
	)
	if !strings.EqualFold(display, name) {
		attrs = append(attrs, attr("other_names", dql.String(name)))
	}
	if env.Resolver != nil {
		uid, ok, err := env.Resolver.UIDOf(ctx, "Country", "country_code", dql.String(cc))
		if err != nil {
			return nil, err
		}
		if ok {
			attrs = append(attrs, attr("country", dql.Node(dql.Existing(uid))))
		}
	}
	for _, dp := range f.DefaultPredicates {
		attrs = append(attrs, attr(dp.Predicate, dp.Value))
	}
	return attrs, nil
}

// Slugify turns a display name into the underscore slug form used for
// unique names.
func Slugify(s string) string {
	out := strings.ReplaceAll(slug.Make(s), "-", "_")
	if out == "" {
		return "entry"
	}
	return out
}

const maxUniqueNameAttempts = 50

// UniqueName returns base, or base with the smallest numeric suffix, that
// is neither stored nor claimed by another pending node of the batch.
func UniqueName(ctx context.Context, env *Env, base string) (string, error) {
	for i := 1; i <= maxUniqueNameAttempts; i++ {
		candidate := base
		if i > 1 {
			candidate = fmt.Sprintf("%s_%d", base, i)
		}
		if claimedInArena(env.Arena, candidate) {
			continue
		}
		if env.Resolver == nil {
			return candidate, nil
		}
		_, found, err := env.Resolver.UIDOf(ctx, "", "unique_name", dql.String(candidate))
		if err != nil {
			return "", err
		}
		if !found {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("schema: no free unique name for %q", base)
}

func claimedInArena(a *dql.Arena, name string) bool {
	if a == nil {
		return false
	}
	for _, n := range a.Nodes() {
		if v, ok := n.Get("unique_name"); ok && v.Str() == name {
			return true
		}
	}
	return false
}
