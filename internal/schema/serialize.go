package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/opted/inventory/internal/dql"
)

// SequenceFacet carries the position of an element in an ordered list.
const SequenceFacet = "sequence"

func wrongType(f *Field, v any) error {
	return fmt.Errorf("schema: %s field %s cannot serialize %T", f.Kind, f.Name, v)
}

func one(v dql.Value) []dql.Object { return []dql.Object{{Value: v}} }

func serializeUID(f *Field, v any) ([]dql.Object, error) {
	return nil, fmt.Errorf("schema: field %s is the node identity and is not stored as a value", f.Name)
}

func serializeString(f *Field, v any) ([]dql.Object, error) {
	s, ok := v.(string)
	if !ok {
		return nil, wrongType(f, v)
	}
	return one(dql.String(s)), nil
}

func serializeListString(f *Field, v any) ([]dql.Object, error) {
	list, ok := v.([]string)
	if !ok {
		return nil, wrongType(f, v)
	}
	out := make([]dql.Object, len(list))
	for i, s := range list {
		out[i] = dql.Object{Value: dql.String(s)}
		if f.Ordered {
			out[i].Facets = []dql.Facet{{Key: SequenceFacet, Value: dql.Int(int64(i))}}
		}
	}
	return out, nil
}

func serializeStrings(f *Field, v any) ([]dql.Object, error) {
	list, ok := v.([]string)
	if !ok {
		return nil, wrongType(f, v)
	}
	out := make([]dql.Object, len(list))
	for i, s := range list {
		out[i] = dql.Object{Value: dql.String(s)}
	}
	return out, nil
}

func serializeInteger(f *Field, v any) ([]dql.Object, error) {
	n, ok := v.(int64)
	if !ok {
		return nil, wrongType(f, v)
	}
	return one(dql.Int(n)), nil
}

func serializeBoolean(f *Field, v any) ([]dql.Object, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, wrongType(f, v)
	}
	return one(dql.Bool(b)), nil
}

func serializeDateTime(f *Field, v any) ([]dql.Object, error) {
	t, ok := v.(time.Time)
	if !ok {
		return nil, wrongType(f, v)
	}
	return one(dql.DateTime(t)), nil
}

func serializeYear(f *Field, v any) ([]dql.Object, error) {
	y, ok := v.(int)
	if !ok {
		return nil, wrongType(f, v)
	}
	return one(dql.DateTime(time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC))), nil
}

func serializeGeo(f *Field, v any) ([]dql.Object, error) {
	g, ok := v.(GeoValue)
	if !ok {
		return nil, wrongType(f, v)
	}
	return one(dql.Point(g.Point)), nil
}

func serializeDateSeries(f *Field, v any) ([]dql.Object, error) {
	list, ok := v.([]Measurement)
	if !ok {
		return nil, wrongType(f, v)
	}
	out := make([]dql.Object, len(list))
	for i, m := range list {
		out[i] = dql.Object{Value: dql.DateTime(m.Date), Facets: m.Facets}
	}
	return out, nil
}

func serializeLink(f *Field, v any) ([]dql.Object, error) {
	l, ok := v.(Link)
	if !ok {
		return nil, wrongType(f, v)
	}
	return []dql.Object{{Value: dql.Node(l.Ref), Facets: l.Facets}}, nil
}

func serializeLinks(f *Field, v any) ([]dql.Object, error) {
	list, ok := v.([]Link)
	if !ok {
		return nil, wrongType(f, v)
	}
	out := make([]dql.Object, len(list))
	for i, l := range list {
		out[i] = dql.Object{Value: dql.Node(l.Ref), Facets: l.Facets}
	}
	return out, nil
}

// element is one stored value with the facets that were flattened into
// its record.
type element struct {
	value  any
	facets map[string]any
}

func elements(stored any) []element {
	switch v := stored.(type) {
	case nil:
		return nil
	case []map[string]any:
		out := make([]element, len(v))
		for i, rec := range v {
			out[i] = elementOf(rec)
		}
		return out
	case []any:
		out := make([]element, len(v))
		for i, item := range v {
			if m, ok := item.(map[string]any); ok {
				out[i] = elementOf(m)
				continue
			}
			out[i] = element{value: item}
		}
		return out
	case map[string]any:
		return []element{elementOf(v)}
	}
	return []element{{value: stored}}
}

func elementOf(m map[string]any) element {
	val, ok := m["value"]
	if !ok {
		return element{value: m}
	}
	facets := make(map[string]any, len(m)-1)
	for k, fv := range m {
		if k != "value" {
			facets[k] = fv
		}
	}
	return element{value: val, facets: facets}
}

func first(stored any) (any, bool) {
	els := elements(stored)
	if len(els) == 0 {
		return nil, false
	}
	return els[0].value, true
}

func readFacets(f *Field, raw map[string]any) []dql.Facet {
	var out []dql.Facet
	for _, fd := range f.Facets {
		fv, ok := raw[fd.Name]
		if !ok {
			fv, ok = raw[f.Predicate+dql.FacetSep+fd.Name]
		}
		if !ok {
			continue
		}
		typ := fd.Type
		if typ == dql.TypeInvalid {
			typ = dql.TypeString
		}
		v, err := dql.FromInterface(typ, fv)
		if err != nil {
			continue
		}
		out = append(out, dql.Facet{Key: fd.Name, Value: v})
	}
	return out
}

func deserializeUID(f *Field, stored any) (any, error) {
	v, _ := first(stored)
	s, ok := v.(string)
	if !ok {
		return nil, wrongStored(f, stored)
	}
	return dql.UID(s), nil
}

func wrongStored(f *Field, stored any) error {
	return fmt.Errorf("schema: %s field %s cannot read stored %T", f.Kind, f.Name, stored)
}

func deserializeString(f *Field, stored any) (any, error) {
	v, ok := first(stored)
	if !ok {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, wrongStored(f, stored)
	}
	return s, nil
}

func deserializeListString(f *Field, stored any) (any, error) {
	els := elements(stored)
	if f.Ordered {
		sort.SliceStable(els, func(i, j int) bool {
			return sequenceOf(els[i]) < sequenceOf(els[j])
		})
	}
	var out []string
	for _, el := range els {
		s, ok := el.value.(string)
		if !ok {
			return nil, wrongStored(f, stored)
		}
		out = append(out, s)
	}
	return out, nil
}

func sequenceOf(el element) float64 {
	switch n := el.facets[SequenceFacet].(type) {
	case float64:
		return n
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 1e18
}

func deserializeInteger(f *Field, stored any) (any, error) {
	v, ok := first(stored)
	if !ok {
		return nil, nil
	}
	n, ok := asInt(v)
	if !ok {
		return nil, wrongStored(f, stored)
	}
	return n, nil
}

func deserializeBoolean(f *Field, stored any) (any, error) {
	v, ok := first(stored)
	if !ok {
		return nil, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, wrongStored(f, stored)
	}
	return b, nil
}

func deserializeDateTime(f *Field, stored any) (any, error) {
	v, ok := first(stored)
	if !ok {
		return nil, nil
	}
	s, _ := v.(string)
	t, err := dql.ParseTime(s)
	if err != nil {
		return nil, wrongStored(f, stored)
	}
	return t, nil
}

func deserializeYear(f *Field, stored any) (any, error) {
	t, err := deserializeDateTime(f, stored)
	if err != nil || t == nil {
		return nil, err
	}
	return t.(time.Time).Year(), nil
}

func deserializeSingleChoice(f *Field, stored any) (any, error) {
	v, err := deserializeString(f, stored)
	if err != nil || v == nil {
		return nil, err
	}
	code := v.(string)
	if label, ok := f.ChoiceLabel(code); ok {
		return label, nil
	}
	return code, nil
}

func deserializeMultipleChoice(f *Field, stored any) (any, error) {
	var out []string
	for _, el := range elements(stored) {
		code, ok := el.value.(string)
		if !ok {
			return nil, wrongStored(f, stored)
		}
		if label, ok := f.ChoiceLabel(code); ok {
			out = append(out, label)
			continue
		}
		out = append(out, code)
	}
	return out, nil
}

func deserializeGeo(f *Field, stored any) (any, error) {
	v, ok := first(stored)
	if !ok {
		return nil, nil
	}
	g, ok := dql.ParseGeoJSON(v)
	if !ok {
		return nil, wrongStored(f, stored)
	}
	return GeoValue{Point: g}, nil
}

func deserializeDateSeries(f *Field, stored any) (any, error) {
	var out []Measurement
	for _, el := range elements(stored) {
		s, _ := el.value.(string)
		t, err := dql.ParseTime(s)
		if err != nil {
			return nil, wrongStored(f, stored)
		}
		out = append(out, Measurement{Date: t, Facets: readFacets(f, el.facets)})
	}
	return out, nil
}

func deserializeLinks(f *Field, stored any) (any, error) {
	var out []Link
	for _, el := range elements(stored) {
		m, ok := el.value.(map[string]any)
		if !ok {
			return nil, wrongStored(f, stored)
		}
		l, err := linkOf(f, m)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func deserializeLink(f *Field, stored any) (any, error) {
	links, err := deserializeLinks(f, stored)
	if err != nil {
		return nil, err
	}
	list := links.([]Link)
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

func linkOf(f *Field, m map[string]any) (Link, error) {
	s, _ := m["uid"].(string)
	uid, ok := dql.ParseUID(s)
	if !ok {
		return Link{}, fmt.Errorf("schema: field %s: edge without uid", f.Name)
	}
	l := Link{Ref: dql.Existing(uid), Facets: readFacets(f, m)}
	for k, v := range m {
		if k == "uid" || isFacetKey(f, k) {
			continue
		}
		if l.Node == nil {
			l.Node = make(map[string]any)
		}
		l.Node[k] = v
	}
	return l, nil
}

func isFacetKey(f *Field, key string) bool {
	if _, ok := f.facet(key); ok {
		return true
	}
	for _, fd := range f.Facets {
		if key == f.Predicate+dql.FacetSep+fd.Name {
			return true
		}
	}
	return false
}

// Objects converts the stored form of the field, as accepted by
// Deserialize, back into the statement objects that would have produced
// it. Update diffs compare these against the serialized payload value.
func (f *Field) Objects(stored any) ([]dql.Object, error) {
	var out []dql.Object
	for _, el := range elements(stored) {
		if f.Kind.IsRelationship() {
			m, ok := el.value.(map[string]any)
			if !ok {
				return nil, wrongStored(f, stored)
			}
			l, err := linkOf(f, m)
			if err != nil {
				return nil, err
			}
			out = append(out, dql.Object{Value: dql.Node(l.Ref), Facets: l.Facets})
			continue
		}
		v, err := dql.FromInterface(f.Kind.Storage(), el.value)
		if err != nil {
			return nil, fmt.Errorf("schema: field %s: %w", f.Name, err)
		}
		obj := dql.Object{Value: v, Facets: readFacets(f, el.facets)}
		if f.Ordered {
			if seq, err := dql.FromInterface(dql.TypeInt, el.facets[SequenceFacet]); err == nil {
				obj.Facets = append(obj.Facets, dql.Facet{Key: SequenceFacet, Value: seq})
			}
		}
		out = append(out, obj)
	}
	return out, nil
}
