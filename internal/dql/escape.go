package dql

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// quote renders s as a double-quoted literal valid both in N-Quads and in
// DQL function arguments.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if unicode.IsControl(r) {
				fmt.Fprintf(&b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// Quote is the exported form of the literal escaper, for callers that
// assemble log lines or diagnostics from values.
func Quote(s string) string { return quote(s) }

// RegexLiteral turns free text into a regular expression literal that
// matches the text as a substring. Metacharacters and the delimiter are
// escaped and control characters are folded to spaces.
func RegexLiteral(text string, insensitive bool) string {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, text)
	pattern := strings.ReplaceAll(regexp.QuoteMeta(clean), "/", `\/`)
	if insensitive {
		return "/" + pattern + "/i"
	}
	return "/" + pattern + "/"
}

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

// ValidName reports whether s can be used unquoted as a predicate or type
// name.
func ValidName(s string) bool { return namePattern.MatchString(s) }

// predicate renders a predicate name for a query, falling back to the
// angle-bracket form for names that are not plain identifiers.
func predicate(name string) string {
	if name == "uid" || ValidName(name) {
		return name
	}
	if rest, ok := strings.CutPrefix(name, "~"); ok && ValidName(rest) {
		return name
	}
	return "<" + strings.NewReplacer(">", "", "<", "", " ", "").Replace(name) + ">"
}
