package dql

import (
	"sort"
	"strconv"
	"strings"
)

// FacetSep separates a predicate from a facet name in response keys.
const FacetSep = "|"

// FlattenFacets folds the facets of pred in a decoded response node into
// one record per value and removes the "pred|facet" keys from node.
//
// Scalar lists come back as a value array plus one map per facet keyed by
// the element index; they become {"value": v, facet: f, ...} records. Edges
// carry their facets inline as "pred|facet" keys of each child; those keys
// are renamed to the bare facet name. A predicate without values yields nil.
func FlattenFacets(node map[string]any, pred string) []map[string]any {
	raw, ok := node[pred]
	if !ok {
		dropFacetKeys(node, pred)
		return nil
	}
	values, isList := raw.([]any)
	if !isList {
		values = []any{raw}
	}
	prefix := pred + FacetSep
	facetKeys := facetKeysOf(node, prefix)

	out := make([]map[string]any, 0, len(values))
	for i, v := range values {
		if child, ok := v.(map[string]any); ok {
			rec := make(map[string]any, len(child))
			for k, fv := range child {
				if name, ok := strings.CutPrefix(k, prefix); ok {
					rec[name] = fv
					continue
				}
				rec[k] = fv
			}
			out = append(out, rec)
			continue
		}
		rec := map[string]any{"value": v}
		for _, key := range facetKeys {
			name := strings.TrimPrefix(key, prefix)
			switch fm := node[key].(type) {
			case map[string]any:
				if fv, ok := fm[strconv.Itoa(i)]; ok {
					rec[name] = fv
				}
			default:
				if !isList {
					rec[name] = fm
				}
			}
		}
		out = append(out, rec)
	}
	dropFacetKeys(node, pred)
	return out
}

func facetKeysOf(node map[string]any, prefix string) []string {
	var keys []string
	for k := range node {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func dropFacetKeys(node map[string]any, pred string) {
	for _, k := range facetKeysOf(node, pred+FacetSep) {
		delete(node, k)
	}
}
