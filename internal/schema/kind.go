// Package schema describes entity types as ordered lists of typed field
// descriptors and implements per-kind validation, serialization and
// deserialization of field values.
package schema

import (
	"fmt"

	"github.com/opted/inventory/internal/dql"
)

// Kind is the semantic type of a field. It selects the field's
// validation, serialization and deserialization functions.
type Kind int

const (
	KindInvalid Kind = iota
	KindUID
	KindUniqueName
	KindString
	KindListString
	KindInteger
	KindBoolean
	KindDateTime
	KindYear
	KindSingleChoice
	KindMultipleChoice
	KindGeo
	KindDateSeries
	KindSingleRelationship
	KindListRelationship
	KindReverseRelationship
)

type kindInfo struct {
	name    string
	storage dql.ValueType
	list    bool
	indexes []string
}

var kinds = map[Kind]kindInfo{
	KindUID:                 {"uid", dql.TypeRef, false, nil},
	KindUniqueName:          {"unique_name", dql.TypeString, false, []string{"hash"}},
	KindString:              {"string", dql.TypeString, false, nil},
	KindListString:          {"list_string", dql.TypeString, true, nil},
	KindInteger:             {"integer", dql.TypeInt, false, []string{"int"}},
	KindBoolean:             {"boolean", dql.TypeBool, false, []string{"bool"}},
	KindDateTime:            {"datetime", dql.TypeDateTime, false, []string{"year"}},
	KindYear:                {"year", dql.TypeDateTime, false, []string{"year"}},
	KindSingleChoice:        {"single_choice", dql.TypeString, false, []string{"exact"}},
	KindMultipleChoice:      {"multiple_choice", dql.TypeString, true, []string{"exact"}},
	KindGeo:                 {"geo", dql.TypeGeo, false, []string{"geo"}},
	KindDateSeries:          {"date_series", dql.TypeDateTime, true, nil},
	KindSingleRelationship:  {"single_relationship", dql.TypeRef, false, nil},
	KindListRelationship:    {"list_relationship", dql.TypeRef, true, nil},
	KindReverseRelationship: {"reverse_relationship", dql.TypeRef, true, nil},
}

func (k Kind) String() string {
	if info, ok := kinds[k]; ok {
		return info.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a kind by its catalog name.
func ParseKind(s string) (Kind, error) {
	for k, info := range kinds {
		if info.name == s {
			return k, nil
		}
	}
	return KindInvalid, fmt.Errorf("unknown field kind %q", s)
}

// Storage returns the store type of the kind's values.
func (k Kind) Storage() dql.ValueType { return kinds[k].storage }

// IsList reports whether the kind stores several values per node.
func (k Kind) IsList() bool { return kinds[k].list }

// IsRelationship reports whether values are edges to other nodes.
func (k Kind) IsRelationship() bool {
	return k == KindSingleRelationship || k == KindListRelationship || k == KindReverseRelationship
}

// IsChoice reports whether values come from a fixed choice set.
func (k Kind) IsChoice() bool { return k == KindSingleChoice || k == KindMultipleChoice }
