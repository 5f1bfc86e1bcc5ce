// Package stmt is a small SELECT builder on top of squirrel whose clauses stay
// introspectable after they are added. The joined-query layer needs to read back
// the current ORDER BY list, LIMIT and OFFSET, which squirrel's immutable
// builders do not expose.
package stmt

import (
	"errors"
	"fmt"
	"strings"

	"relfold/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// Direction is an ORDER BY direction.
type Direction string

const (
	Asc  Direction = "ASC"
	Desc Direction = "DESC"
)

// ParseDirection validates an order direction. The empty string means ascending.
func ParseDirection(value string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "", "ASC":
		return Asc, nil
	case "DESC":
		return Desc, nil
	default:
		return "", fmt.Errorf("order direction must be ASC or DESC, got %q", value)
	}
}

// JoinKind selects INNER or LEFT joins.
type JoinKind string

const (
	InnerJoin JoinKind = "INNER"
	LeftJoin  JoinKind = "LEFT"
)

// Expr is a raw SQL fragment with bind arguments. It is rendered verbatim.
type Expr struct {
	SQL  string
	Args []any
}

// Raw builds a raw expression.
func Raw(sql string, args ...any) Expr {
	return Expr{SQL: sql, Args: args}
}

// Join is a single two-sided equality join.
type Join struct {
	Kind  JoinKind
	Table string
	Alias string
	Left  string
	Right string
}

// Order is one ORDER BY entry. Exactly one of Ref or Expr is set.
type Order struct {
	Ref       string
	Expr      *Expr
	Direction Direction
}

// Select accumulates the clauses of a SELECT statement.
type Select struct {
	dialect sqlutil.Dialect
	table   string
	alias   string
	columns []Column
	joins   []Join
	wheres  []sq.Sqlizer
	orders  []Order
	limit   *uint64
	offset  *uint64
}

// New starts a SELECT from the given table.
func New(dialect sqlutil.Dialect, table string) *Select {
	return &Select{dialect: dialect, table: table}
}

// Dialect returns the SQL dialect used for quoting.
func (s *Select) Dialect() sqlutil.Dialect {
	return s.dialect
}

// Table returns the FROM table name.
func (s *Select) Table() string {
	return s.table
}

// As sets an alias for the FROM table.
func (s *Select) As(alias string) *Select {
	s.alias = alias
	return s
}

// Clone returns a deep enough copy that appending clauses to it leaves s untouched.
func (s *Select) Clone() *Select {
	c := *s
	c.columns = append([]Column(nil), s.columns...)
	c.joins = append([]Join(nil), s.joins...)
	c.wheres = append([]sq.Sqlizer(nil), s.wheres...)
	c.orders = append([]Order(nil), s.orders...)
	if s.limit != nil {
		v := *s.limit
		c.limit = &v
	}
	if s.offset != nil {
		v := *s.offset
		c.offset = &v
	}
	return &c
}

// Columns replaces the select list.
func (s *Select) Columns(cols ...Column) *Select {
	s.columns = append([]Column(nil), cols...)
	return s
}

// AddColumns appends to the select list.
func (s *Select) AddColumns(cols ...Column) *Select {
	s.columns = append(s.columns, cols...)
	return s
}

// SelectedColumns returns a copy of the select list.
func (s *Select) SelectedColumns() []Column {
	return append([]Column(nil), s.columns...)
}

// Join appends `<kind> JOIN table AS alias ON left = right`.
func (s *Select) Join(kind JoinKind, table, alias, left, right string) *Select {
	s.joins = append(s.joins, Join{Kind: kind, Table: table, Alias: alias, Left: left, Right: right})
	return s
}

// Joins returns a copy of the registered joins.
func (s *Select) Joins() []Join {
	return append([]Join(nil), s.joins...)
}

// Where appends a predicate. Predicates are ANDed.
func (s *Select) Where(pred sq.Sqlizer) *Select {
	s.wheres = append(s.wheres, pred)
	return s
}

// WhereEq appends `column = value` (or IN for slices) with the column quoted.
func (s *Select) WhereEq(column string, value any) *Select {
	return s.Where(sq.Eq{s.dialect.QuoteQualified(column): value})
}

// WhereIn appends a tuple membership test over several columns:
// `(a, b) IN ((?, ?), (?, ?))`. A single column collapses to `a IN (?, ?)`.
// An empty tuple list matches nothing.
func (s *Select) WhereIn(columns []string, tuples [][]any) error {
	width := len(columns)
	if width == 0 {
		return errors.New("tuple IN requires at least one column")
	}
	if len(tuples) == 0 {
		s.wheres = append(s.wheres, sq.Expr("1 = 0"))
		return nil
	}

	quoted := make([]string, width)
	for i, col := range columns {
		quoted[i] = s.dialect.QuoteQualified(col)
	}

	args := make([]any, 0, len(tuples)*width)
	if width == 1 {
		for _, tuple := range tuples {
			if len(tuple) != 1 {
				return fmt.Errorf("tuple width mismatch: expected 1 value")
			}
			args = append(args, tuple[0])
		}
		s.wheres = append(s.wheres, sq.Expr(fmt.Sprintf("%s IN (%s)", quoted[0], sq.Placeholders(len(tuples))), args...))
		return nil
	}

	rowPlaceholders := make([]string, 0, len(tuples))
	valuePlaceholders := "(" + sq.Placeholders(width) + ")"
	for _, tuple := range tuples {
		if len(tuple) != width {
			return fmt.Errorf("tuple width mismatch: expected %d values", width)
		}
		rowPlaceholders = append(rowPlaceholders, valuePlaceholders)
		args = append(args, tuple...)
	}
	s.wheres = append(s.wheres, sq.Expr(
		fmt.Sprintf("(%s) IN (%s)", strings.Join(quoted, ", "), strings.Join(rowPlaceholders, ", ")),
		args...,
	))
	return nil
}

// OrderBy appends an ORDER BY on a column reference.
func (s *Select) OrderBy(ref string, dir Direction) *Select {
	s.orders = append(s.orders, Order{Ref: ref, Direction: dir})
	return s
}

// OrderByExpr appends an ORDER BY on a raw expression.
func (s *Select) OrderByExpr(expr Expr, dir Direction) *Select {
	e := expr
	s.orders = append(s.orders, Order{Expr: &e, Direction: dir})
	return s
}

// Orders returns a copy of the current ORDER BY list.
func (s *Select) Orders() []Order {
	return append([]Order(nil), s.orders...)
}

// HasOrders reports whether any ORDER BY entry exists.
func (s *Select) HasOrders() bool {
	return len(s.orders) > 0
}

// ClearOrders drops every ORDER BY entry.
func (s *Select) ClearOrders() *Select {
	s.orders = nil
	return s
}

// Limit sets the LIMIT clause.
func (s *Select) Limit(n uint64) *Select {
	s.limit = &n
	return s
}

// Offset sets the OFFSET clause.
func (s *Select) Offset(n uint64) *Select {
	s.offset = &n
	return s
}

// LimitValue returns the LIMIT if one is set.
func (s *Select) LimitValue() (uint64, bool) {
	if s.limit == nil {
		return 0, false
	}
	return *s.limit, true
}

// OffsetValue returns the OFFSET if one is set.
func (s *Select) OffsetValue() (uint64, bool) {
	if s.offset == nil {
		return 0, false
	}
	return *s.offset, true
}

// ForPage sets LIMIT/OFFSET for a 1-based page number.
func (s *Select) ForPage(page, perPage int) *Select {
	if page < 1 {
		page = 1
	}
	return s.Limit(uint64(perPage)).Offset(uint64((page - 1) * perPage))
}

// ForPageAfterID constrains the query to rows whose column is greater than
// lastID (when set), orders by that column ascending and limits to perPage.
// Existing orders on the same column are replaced.
func (s *Select) ForPageAfterID(perPage int, lastID any, column string) *Select {
	kept := s.orders[:0:0]
	for _, o := range s.orders {
		if o.Expr == nil && o.Ref == column {
			continue
		}
		kept = append(kept, o)
	}
	s.orders = append([]Order{{Ref: column, Direction: Asc}}, kept...)
	if lastID != nil {
		s.Where(sq.Gt{s.dialect.QuoteQualified(column): lastID})
	}
	return s.Limit(uint64(perPage))
}

// ToSql renders the statement with dialect-specific placeholders.
func (s *Select) ToSql() (string, []any, error) {
	if s.table == "" {
		return "", nil, errors.New("select requires a table")
	}

	from := s.dialect.QuoteIdentifier(s.table)
	if s.alias != "" {
		from += " AS " + s.dialect.QuoteIdentifier(s.alias)
	}

	builder := sq.Select().From(from).PlaceholderFormat(s.dialect.Placeholder())

	if len(s.columns) == 0 {
		builder = builder.Column("*")
	}
	for _, col := range s.columns {
		sqlStr, args := col.render(s.dialect)
		builder = builder.Column(sq.Expr(sqlStr, args...))
	}

	for _, j := range s.joins {
		builder = builder.JoinClause(fmt.Sprintf("%s JOIN %s AS %s ON %s = %s",
			j.Kind,
			s.dialect.QuoteIdentifier(j.Table),
			s.dialect.QuoteIdentifier(j.Alias),
			s.dialect.QuoteQualified(j.Left),
			s.dialect.QuoteQualified(j.Right),
		))
	}

	for _, w := range s.wheres {
		builder = builder.Where(w)
	}

	for _, o := range s.orders {
		if o.Expr != nil {
			builder = builder.OrderByClause(fmt.Sprintf("%s %s", o.Expr.SQL, o.Direction), o.Expr.Args...)
			continue
		}
		builder = builder.OrderBy(fmt.Sprintf("%s %s", s.dialect.QuoteQualified(o.Ref), o.Direction))
	}

	if s.limit != nil {
		builder = builder.Limit(*s.limit)
	}
	if s.offset != nil {
		builder = builder.Offset(*s.offset)
	}

	return builder.ToSql()
}
