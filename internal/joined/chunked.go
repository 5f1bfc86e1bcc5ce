package joined

import (
	"context"
	"fmt"
	"strings"

	"relfold/internal/chunk"
	"relfold/internal/dbexec"
	"relfold/internal/hydrate"
	"relfold/internal/prefix"
	"relfold/internal/stmt"
)

// GenerateChunked iterates the query's models page by page with LIMIT/OFFSET.
// Queries without any order are sorted by the root key first. Paging cannot be
// combined with one-to-many relations.
func (q *Query) GenerateChunked(pageSize int, transform chunk.Transform[*hydrate.Model], columns ...string) (*chunk.Iterator[*hydrate.Model], error) {
	if q.HasToMany() {
		return nil, fmt.Errorf("%w: chunked iteration over %s", ErrLimitWithReduction, q.root.Name)
	}
	if !q.sel.HasOrders() {
		if q.parentKeyName() == "" {
			return nil, fmt.Errorf("%w: %s has no unique key to sort by", ErrOrderRequired, q.root.Name)
		}
		if err := q.OrderByParentKey(stmt.Asc); err != nil {
			return nil, err
		}
	}

	base, err := q.statement(columns)
	if err != nil {
		return nil, err
	}
	return chunk.Offset(func(ctx context.Context, page, size int) ([]*hydrate.Model, error) {
		models, err := q.fetchPage(ctx, base.Clone().ForPage(page, size))
		q.metrics.RecordPage(ctx, "offset", len(models))
		return models, err
	}, pageSize, transform)
}

// GenerateChunkedByID iterates the query's models page by page with a watermark on
// column, which defaults to the root primary key. alias names the attribute the
// column is read back as and defaults to the column name.
func (q *Query) GenerateChunkedByID(pageSize int, column, alias string, transform chunk.Transform[*hydrate.Model], columns ...string) (*chunk.Iterator[*hydrate.Model], error) {
	if q.HasToMany() {
		return nil, fmt.Errorf("%w: chunked iteration over %s", ErrLimitWithReduction, q.root.Name)
	}
	if column == "" {
		column = q.root.PrimaryKey
	}
	if column == "" {
		return nil, fmt.Errorf("%w: %s has no primary key to page by", ErrRootKeyMissing, q.root.Name)
	}
	if alias == "" {
		alias = lastSegment(column)
	}
	alias = q.forceCase.Apply(alias)
	qualified := q.rootColumn(column)

	base, err := q.statement(columns)
	if err != nil {
		return nil, err
	}
	return chunk.Watermark(func(ctx context.Context, lastKey any, size int) ([]*hydrate.Model, error) {
		models, err := q.fetchPage(ctx, base.Clone().ForPageAfterID(size, lastKey, qualified))
		q.metrics.RecordPage(ctx, "watermark", len(models))
		return models, err
	}, func(m *hydrate.Model) (any, error) {
		v, ok := m.Attributes[alias]
		if !ok {
			return nil, fmt.Errorf("attribute %q is not in the result", alias)
		}
		return v, nil
	}, pageSize, transform)
}

func (q *Query) fetchPage(ctx context.Context, sel *stmt.Select) ([]*hydrate.Model, error) {
	red, err := q.run(ctx, sel)
	if err != nil {
		return nil, err
	}
	defer red.Close()

	var models []*hydrate.Model
	for red.Next() {
		m, err := hydrate.Hydrate(q.reg, q.root.Name, red.Record())
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}
	if err := red.Err(); err != nil {
		return nil, err
	}
	return models, nil
}

// GenerateRows pages through a plain statement with LIMIT/OFFSET. The statement
// must already be ordered.
func GenerateRows(exec dbexec.QueryExecutor, sel *stmt.Select, pageSize int, transform chunk.Transform[prefix.Row], opts ...QueryOption) (*chunk.Iterator[prefix.Row], error) {
	if !sel.HasOrders() {
		return nil, fmt.Errorf("%w: add an order by before paging %s", ErrOrderRequired, sel.Table())
	}
	cfg := rowOptions(opts)
	base := sel.Clone()
	return chunk.Offset(func(ctx context.Context, page, size int) ([]prefix.Row, error) {
		rows, err := fetchRows(ctx, exec, base.Clone().ForPage(page, size), cfg.forceCase)
		cfg.metrics.RecordPage(ctx, "offset", len(rows))
		return rows, err
	}, pageSize, transform)
}

// GenerateRowsByID pages through a plain statement with a watermark on column.
// alias names the result column the key is read back from and defaults to the
// last segment of column.
func GenerateRowsByID(exec dbexec.QueryExecutor, sel *stmt.Select, pageSize int, column, alias string, transform chunk.Transform[prefix.Row], opts ...QueryOption) (*chunk.Iterator[prefix.Row], error) {
	if column == "" {
		return nil, fmt.Errorf("%w: watermark paging needs a key column", ErrOrderRequired)
	}
	if alias == "" {
		alias = lastSegment(column)
	}
	cfg := rowOptions(opts)
	alias = cfg.forceCase.Apply(alias)
	if err := checkSelectedAlias(sel.SelectedColumns(), alias, cfg.forceCase); err != nil {
		return nil, err
	}
	base := sel.Clone()
	return chunk.Watermark(func(ctx context.Context, lastKey any, size int) ([]prefix.Row, error) {
		rows, err := fetchRows(ctx, exec, base.Clone().ForPageAfterID(size, lastKey, column), cfg.forceCase)
		cfg.metrics.RecordPage(ctx, "watermark", len(rows))
		return rows, err
	}, func(row prefix.Row) (any, error) {
		v, ok := row[alias]
		if !ok {
			return nil, fmt.Errorf("column %q is not in the result", alias)
		}
		return v, nil
	}, pageSize, transform)
}

// checkSelectedAlias fails when an explicit select list cannot produce alias.
// Wildcards and raw expressions leave the result names open, so those lists are
// checked against the first page instead.
func checkSelectedAlias(columns []stmt.Column, alias string, forceCase prefix.Case) error {
	if len(columns) == 0 {
		return nil
	}
	names := make([]string, 0, len(columns))
	for _, c := range columns {
		if c.IsWildcard() || c.Expr != nil {
			return nil
		}
		name := c.Alias
		if name == "" {
			name = lastSegment(c.Ref)
		}
		names = append(names, forceCase.Apply(name))
	}
	for _, name := range names {
		if name == alias {
			return nil
		}
	}
	return fmt.Errorf("%w: %q not found in [%s]", ErrKeyColumnMissing, alias, strings.Join(names, ", "))
}

func rowOptions(opts []QueryOption) *Query {
	cfg := &Query{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func fetchRows(ctx context.Context, exec dbexec.QueryExecutor, sel *stmt.Select, forceCase prefix.Case) ([]prefix.Row, error) {
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, err
	}

	var mapping *prefix.Mapping
	rows, err := dbexec.QueryWithColumns(ctx, exec, query, args, func(columns []string) error {
		mapping = prefix.NewMapping(columns, forceCase)
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []prefix.Row
	for rows.Next() {
		values, err := dbexec.ScanValues(rows, mapping.Width())
		if err != nil {
			return nil, err
		}
		out = append(out, mapping.Row(values))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func lastSegment(column string) string {
	if idx := strings.LastIndex(column, "."); idx >= 0 {
		return column[idx+1:]
	}
	return column
}
