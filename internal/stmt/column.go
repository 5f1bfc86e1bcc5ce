package stmt

import (
	"regexp"
	"strings"

	"relfold/internal/sqlutil"
)

var aliasPattern = regexp.MustCompile(`(?i)^\s*(.+?)\s+as\s+(.+?)\s*$`)

// Column is one entry of a select list: either a dotted column reference
// (quoted on render) or a raw expression, with an optional alias.
type Column struct {
	Ref   string
	Expr  *Expr
	Alias string
}

// Col parses a column reference such as `users.*`, `name` or `id as test`.
func Col(ref string) Column {
	if m := aliasPattern.FindStringSubmatch(ref); m != nil {
		return Column{Ref: strings.TrimSpace(m[1]), Alias: strings.TrimSpace(m[2])}
	}
	return Column{Ref: strings.TrimSpace(ref)}
}

// Cols parses several column references.
func Cols(refs ...string) []Column {
	cols := make([]Column, len(refs))
	for i, ref := range refs {
		cols[i] = Col(ref)
	}
	return cols
}

// ColExpr builds a raw expression column, optionally aliased.
func ColExpr(expr Expr, alias string) Column {
	e := expr
	return Column{Expr: &e, Alias: alias}
}

// IsWildcard reports whether the column is `*` or `table.*`.
func (c Column) IsWildcard() bool {
	return c.Expr == nil && (c.Ref == "*" || strings.HasSuffix(c.Ref, ".*"))
}

func (c Column) render(d sqlutil.Dialect) (string, []any) {
	var sqlStr string
	var args []any
	if c.Expr != nil {
		sqlStr = c.Expr.SQL
		args = c.Expr.Args
	} else if c.Ref == "*" {
		sqlStr = "*"
	} else {
		sqlStr = d.QuoteQualified(c.Ref)
	}
	if c.Alias != "" {
		sqlStr += " AS " + d.QuoteIdentifier(c.Alias)
	}
	return sqlStr, args
}
