package query

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Operators accepted in "field__op" keys.
const (
	OpEq       = "eq"
	OpTerms    = "terms"
	OpAnyTerms = "anyterms"
	OpRegexp   = "regexp"
	OpGe       = "ge"
	OpLe       = "le"
	OpGt       = "gt"
	OpLt       = "lt"
)

// Reserved keys.
const (
	keyTerms      = "_terms"
	keyPage       = "_page"
	keyMaxResults = "_max_results"
)

// Filter is one "field[.sub][__op]" key of a request with its values.
type Filter struct {
	Field  string
	Sub    string
	Op     string
	Values []string
}

// Key renders the filter back into its request key.
func (f Filter) Key() string {
	k := f.Field
	if f.Sub != "" {
		k += "." + f.Sub
	}
	if f.Op != OpEq {
		k += "__" + f.Op
	}
	return k
}

// Request is a parsed search request.
type Request struct {
	Types    []string
	Filters  []Filter
	Terms    string
	Page     int
	PageSize int
}

// ParseRequest reads a request from query-string values. Keys are
// processed in sorted order so equal inputs compile to equal queries.
func ParseRequest(v url.Values) Request {
	var req Request
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		values := nonEmpty(v[key])
		if len(values) == 0 {
			continue
		}
		switch key {
		case keyTerms:
			req.Terms = strings.Join(values, " ")
		case keyPage:
			req.Page, _ = strconv.Atoi(values[0])
		case keyMaxResults:
			req.PageSize, _ = strconv.Atoi(values[0])
		case "type", "dgraph.type":
			req.Types = append(req.Types, values...)
		default:
			if strings.HasPrefix(key, "_") {
				continue
			}
			req.Filters = append(req.Filters, parseFilter(key, values))
		}
	}
	return req
}

func parseFilter(key string, values []string) Filter {
	name, op, found := strings.Cut(key, "__")
	if !found || op == "" {
		op = OpEq
	}
	field, sub, _ := strings.Cut(name, ".")
	return Filter{Field: field, Sub: sub, Op: strings.ToLower(op), Values: values}
}

func nonEmpty(values []string) []string {
	var out []string
	for _, s := range values {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// PageSizes are the page sizes a request may ask for.
var PageSizes = []int{10, 25, 50}

const defaultPageSize = 25

// MaxPage is the highest page a request can reach; larger pages are
// clamped so the offset stays in range.
const MaxPage = 100000

func normalizePage(page, size int) (int, int) {
	page = max(1, min(page, MaxPage))
	for _, s := range PageSizes {
		if s == size {
			return page, size
		}
	}
	return page, defaultPageSize
}
