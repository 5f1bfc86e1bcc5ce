// Package prefix renames wildcard-selected columns after the fact.
//
// A prefixed column group is bracketed by two sentinel columns,
// `NULL AS "__-__START_GROUP PREFIX=<encoded>__-__"` and `NULL AS "__-__END_GROUP__-__"`.
// The column names reported by an open cursor are walked in order; every name
// between the sentinels receives the decoded prefix and the sentinels themselves
// are dropped. This lets one flat select list carry `posts.*` and `comments.*`
// without the names colliding.
package prefix

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"relfold/internal/stmt"
)

const (
	startMarker = "__-__START_GROUP PREFIX="
	endMarker   = "__-__END_GROUP__-__"
	markerTail  = "__-__"
)

// ErrInvalidGroup is returned for a prefix-keyed column specification whose key is
// empty or numeric.
var ErrInvalidGroup = errors.New("invalid prefixed column group")

// Encode escapes `\`, `.` and `:` so the prefix survives identifier quoting,
// which splits on dots.
func Encode(prefix string) string {
	var b strings.Builder
	b.Grow(len(prefix))
	for _, r := range prefix {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '.':
			b.WriteString(`\1`)
		case ':':
			b.WriteString(`\2`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Decode reverses Encode. Unknown escape pairs are kept verbatim.
func Decode(token string) string {
	if !strings.Contains(token, `\`) {
		return token
	}
	var b strings.Builder
	b.Grow(len(token))
	for i := 0; i < len(token); i++ {
		c := token[i]
		if c != '\\' || i+1 >= len(token) {
			b.WriteByte(c)
			continue
		}
		switch token[i+1] {
		case '\\':
			b.WriteByte('\\')
		case '1':
			b.WriteByte('.')
		case '2':
			b.WriteByte(':')
		default:
			b.WriteByte(c)
			b.WriteByte(token[i+1])
		}
		i++
	}
	return b.String()
}

// StartName returns the sentinel column name opening a group for prefix.
func StartName(prefix string) string {
	return startMarker + Encode(prefix) + markerTail
}

// EndName returns the sentinel column name closing a group.
func EndName() string {
	return endMarker
}

// Wrap brackets columns with the start/end sentinels for prefix.
func Wrap(columns []stmt.Column, prefix string) []stmt.Column {
	wrapped := make([]stmt.Column, 0, len(columns)+2)
	wrapped = append(wrapped, stmt.ColExpr(stmt.Raw("NULL"), StartName(prefix)))
	wrapped = append(wrapped, columns...)
	wrapped = append(wrapped, stmt.ColExpr(stmt.Raw("NULL"), EndName()))
	return wrapped
}

// Group is one entry of a prefix-keyed column specification.
type Group struct {
	Prefix  string
	Columns []stmt.Column
}

// WrapGroups wraps several groups in order. Every group needs a non-numeric,
// non-empty prefix.
func WrapGroups(groups []Group) ([]stmt.Column, error) {
	var cols []stmt.Column
	for i, g := range groups {
		if g.Prefix == "" {
			return nil, fmt.Errorf("%w: prefix at index %d is empty", ErrInvalidGroup, i)
		}
		if _, err := strconv.Atoi(g.Prefix); err == nil {
			return nil, fmt.Errorf("%w: prefix at index %d is numeric (%q), expected a string prefix", ErrInvalidGroup, i, g.Prefix)
		}
		cols = append(cols, Wrap(g.Columns, g.Prefix)...)
	}
	return cols, nil
}
