package dql

import (
	"cmp"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ValueType is the storage type of a value.
type ValueType uint8

const (
	TypeInvalid ValueType = iota
	TypeString
	TypeInt
	TypeFloat
	TypeBool
	TypeDateTime
	TypeGeo
	TypeRef
	TypeStar
)

var valueTypeNames = [...]string{
	TypeInvalid:  "invalid",
	TypeString:   "string",
	TypeInt:      "int",
	TypeFloat:    "float",
	TypeBool:     "bool",
	TypeDateTime: "datetime",
	TypeGeo:      "geo",
	TypeRef:      "uid",
	TypeStar:     "*",
}

func (t ValueType) String() string {
	if int(t) < len(valueTypeNames) {
		return valueTypeNames[t]
	}
	return "unknown"
}

// Geo is a point in WGS84 coordinates.
type Geo struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether g lies within coordinate bounds.
func (g Geo) Valid() bool {
	return g.Lat >= -90 && g.Lat <= 90 && g.Lon >= -180 && g.Lon <= 180 &&
		!math.IsNaN(g.Lat) && !math.IsNaN(g.Lon)
}

// Value is a typed scalar or node reference in a statement or a function
// argument.
type Value struct {
	typ ValueType
	str string
	num int64
	flt float64
	b   bool
	t   time.Time
	geo Geo
	ref Ref
}

func String(s string) Value      { return Value{typ: TypeString, str: s} }
func Int(n int64) Value          { return Value{typ: TypeInt, num: n} }
func Float(f float64) Value      { return Value{typ: TypeFloat, flt: f} }
func Bool(b bool) Value          { return Value{typ: TypeBool, b: b} }
func DateTime(t time.Time) Value { return Value{typ: TypeDateTime, t: t.UTC()} }
func Point(g Geo) Value          { return Value{typ: TypeGeo, geo: g} }
func Node(r Ref) Value           { return Value{typ: TypeRef, ref: r} }

// Star matches every value (or every predicate) in a delete statement.
func Star() Value { return Value{typ: TypeStar} }

func (v Value) Type() ValueType { return v.typ }
func (v Value) IsZero() bool    { return v.typ == TypeInvalid }
func (v Value) Str() string     { return v.str }
func (v Value) Int64() int64    { return v.num }
func (v Value) Float64() float64 {
	if v.typ == TypeInt {
		return float64(v.num)
	}
	return v.flt
}
func (v Value) Bool() bool      { return v.b }
func (v Value) Time() time.Time { return v.t }
func (v Value) Geo() Geo        { return v.geo }

// Ref returns the referenced node for TypeRef values.
func (v Value) Ref() (Ref, bool) { return v.ref, v.typ == TypeRef }

// Interface returns v in the shape the store uses in JSON responses.
func (v Value) Interface() any {
	switch v.typ {
	case TypeString:
		return v.str
	case TypeInt:
		return float64(v.num)
	case TypeFloat:
		return v.flt
	case TypeBool:
		return v.b
	case TypeDateTime:
		return v.t.Format(time.RFC3339Nano)
	case TypeGeo:
		return map[string]any{"type": "Point", "coordinates": []any{v.geo.Lon, v.geo.Lat}}
	case TypeRef:
		if v.ref.IsNew() {
			return map[string]any{"uid": "_:" + v.ref.blank}
		}
		return map[string]any{"uid": string(v.ref.uid)}
	}
	return nil
}

// Equal reports whether v and o denote the same stored value.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		if isNumeric(v.typ) && isNumeric(o.typ) {
			return v.Float64() == o.Float64()
		}
		return false
	}
	switch v.typ {
	case TypeDateTime:
		return v.t.Equal(o.t)
	case TypeRef:
		return v.ref == o.ref
	}
	return v.nquad() == o.nquad()
}

// Compare orders two values of compatible types. ok is false when the
// types cannot be ordered against each other.
func Compare(a, b Value) (c int, ok bool) {
	switch {
	case isNumeric(a.typ) && isNumeric(b.typ):
		return cmp.Compare(a.Float64(), b.Float64()), true
	case a.typ == TypeString && b.typ == TypeString:
		return strings.Compare(a.str, b.str), true
	case a.typ == TypeDateTime && b.typ == TypeDateTime:
		return a.t.Compare(b.t), true
	case a.typ == TypeBool && b.typ == TypeBool:
		switch {
		case a.b == b.b:
			return 0, true
		case !a.b:
			return -1, true
		}
		return 1, true
	case a.typ == TypeRef && b.typ == TypeRef:
		return CompareUIDs(a.ref.uid, b.ref.uid), true
	}
	return 0, false
}

// CompareUIDs orders identifiers numerically.
func CompareUIDs(a, b UID) int {
	x, errA := strconv.ParseUint(strings.TrimPrefix(string(a), "0x"), 16, 64)
	y, errB := strconv.ParseUint(strings.TrimPrefix(string(b), "0x"), 16, 64)
	if errA != nil || errB != nil {
		return strings.Compare(string(a), string(b))
	}
	return cmp.Compare(x, y)
}

func isNumeric(t ValueType) bool { return t == TypeInt || t == TypeFloat }

// nquad renders v as the object of an N-Quad.
func (v Value) nquad() string {
	switch v.typ {
	case TypeString:
		return quote(v.str)
	case TypeInt:
		return `"` + strconv.FormatInt(v.num, 10) + `"^^<xs:int>`
	case TypeFloat:
		return `"` + strconv.FormatFloat(v.flt, 'g', -1, 64) + `"^^<xs:float>`
	case TypeBool:
		return `"` + strconv.FormatBool(v.b) + `"^^<xs:boolean>`
	case TypeDateTime:
		return `"` + v.t.Format(time.RFC3339Nano) + `"^^<xs:dateTime>`
	case TypeGeo:
		return quote(geoJSON(v.geo)) + `^^<geo:geojson>`
	case TypeRef:
		return v.ref.String()
	case TypeStar:
		return "*"
	}
	return `""`
}

// literal renders v as a function argument inside a query.
func (v Value) literal() string {
	switch v.typ {
	case TypeString:
		return quote(v.str)
	case TypeInt:
		return strconv.FormatInt(v.num, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.flt, 'g', -1, 64)
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeDateTime:
		return quote(v.t.Format(time.RFC3339Nano))
	case TypeRef:
		return string(v.ref.uid)
	}
	return quote(fmt.Sprint(v.Interface()))
}

// facet renders v as a facet value.
func (v Value) facet() string {
	switch v.typ {
	case TypeInt, TypeFloat, TypeBool:
		return v.literal()
	case TypeDateTime:
		return v.t.Format(time.RFC3339Nano)
	}
	return quote(v.str)
}

func geoJSON(g Geo) string {
	b, _ := json.Marshal(map[string]any{"type": "Point", "coordinates": []float64{g.Lon, g.Lat}})
	return string(b)
}

// FromInterface converts a JSON-decoded store value into a Value of type t.
func FromInterface(t ValueType, raw any) (Value, error) {
	switch t {
	case TypeString:
		if s, ok := raw.(string); ok {
			return String(s), nil
		}
	case TypeInt:
		switch n := raw.(type) {
		case float64:
			return Int(int64(n)), nil
		case json.Number:
			i, err := n.Int64()
			if err == nil {
				return Int(i), nil
			}
		case int64:
			return Int(n), nil
		case int:
			return Int(int64(n)), nil
		}
	case TypeFloat:
		switch n := raw.(type) {
		case float64:
			return Float(n), nil
		case json.Number:
			f, err := n.Float64()
			if err == nil {
				return Float(f), nil
			}
		}
	case TypeBool:
		if b, ok := raw.(bool); ok {
			return Bool(b), nil
		}
	case TypeDateTime:
		if s, ok := raw.(string); ok {
			if tm, err := ParseTime(s); err == nil {
				return DateTime(tm), nil
			}
		}
	case TypeGeo:
		if g, ok := ParseGeoJSON(raw); ok {
			return Point(g), nil
		}
	case TypeRef:
		if m, ok := raw.(map[string]any); ok {
			if s, ok := m["uid"].(string); ok {
				if uid, ok := ParseUID(s); ok {
					return Node(Existing(uid)), nil
				}
			}
		}
	}
	return Value{}, fmt.Errorf("dql: cannot read %T as %s", raw, t)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006-01",
	"2006",
}

// ParseTime accepts the datetime forms the store returns and stores.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("dql: unrecognised datetime %q", s)
}

// ParseGeoJSON reads a GeoJSON point as returned by the store.
func ParseGeoJSON(raw any) (Geo, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return Geo{}, false
	}
	if t, _ := m["type"].(string); t != "Point" {
		return Geo{}, false
	}
	coords, ok := m["coordinates"].([]any)
	if !ok || len(coords) != 2 {
		return Geo{}, false
	}
	lon, ok1 := coords[0].(float64)
	lat, ok2 := coords[1].(float64)
	if !ok1 || !ok2 {
		return Geo{}, false
	}
	return Geo{Lat: lat, Lon: lon}, true
}
