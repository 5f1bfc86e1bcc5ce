// Package sqlutil provides SQL utility functions.
package sqlutil

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
)

// Dialect selects identifier quoting and placeholder style.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a driver or dialect name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mysql", "tidb":
		return MySQL, nil
	case "postgres", "postgresql", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	default:
		return "", fmt.Errorf("unsupported dialect %q", name)
	}
}

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	return MySQL.QuoteIdentifier(name)
}

// QuoteIdentifier quotes a single identifier segment for the dialect.
func (d Dialect) QuoteIdentifier(name string) string {
	switch d {
	case Postgres, SQLite:
		escaped := strings.ReplaceAll(name, `"`, `""`)
		return `"` + escaped + `"`
	default:
		escaped := strings.ReplaceAll(name, "`", "``")
		return "`" + escaped + "`"
	}
}

// QuoteQualified quotes a dotted reference such as `alias.column`, quoting every
// segment separately. A trailing `*` segment is left bare.
// Segments never contain dots themselves, which is why prefixes carried in
// identifiers must be encoded first.
func (d Dialect) QuoteQualified(ref string) string {
	parts := strings.Split(ref, ".")
	for i, part := range parts {
		if part == "*" && i == len(parts)-1 {
			continue
		}
		parts[i] = d.QuoteIdentifier(part)
	}
	return strings.Join(parts, ".")
}

// Placeholder returns the squirrel placeholder format used by the dialect.
func (d Dialect) Placeholder() sq.PlaceholderFormat {
	if d == Postgres {
		return sq.Dollar
	}
	return sq.Question
}
