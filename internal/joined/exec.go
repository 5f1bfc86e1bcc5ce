package joined

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"relfold/internal/dbexec"
	"relfold/internal/hydrate"
	"relfold/internal/logging"
	"relfold/internal/prefix"
	"relfold/internal/reduce"
	"relfold/internal/stmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// statement returns the SELECT that will actually run, leaving the query's own
// statement untouched apart from the guard check.
func (q *Query) statement(columns []string) (*stmt.Select, error) {
	if err := q.AssertOrderIntact(false); err != nil {
		return nil, err
	}

	sel := q.sel.Clone()
	if q.HasToMany() {
		if _, ok := q.sel.LimitValue(); ok {
			return nil, ErrLimitWithReduction
		}
		if _, ok := q.sel.OffsetValue(); ok {
			return nil, ErrLimitWithReduction
		}
		if !q.rootSortedByKey {
			// Rows must reach the reducer grouped by root key.
			sel.OrderBy(q.rootColumn(q.parentKeyName()), stmt.Asc)
		}
	}

	if len(q.joins) == 0 && len(columns) == 0 {
		return sel, nil
	}

	selected := []stmt.Column{stmt.Col(q.root.Table + ".*")}
	for _, c := range stmt.Cols(columns...) {
		if c.Ref == "*" || c.Ref == q.root.Table+".*" {
			continue
		}
		selected = append(selected, c)
	}
	selected = append(selected, q.sel.SelectedColumns()...)
	sel.Columns(selected...)
	return sel, nil
}

// Records runs the query and returns a reducer over its rows. The caller owns the
// reducer and must close it.
func (q *Query) Records(ctx context.Context, columns ...string) (*reduce.Reducer, error) {
	sel, err := q.statement(columns)
	if err != nil {
		return nil, err
	}
	return q.run(ctx, sel)
}

func (q *Query) run(ctx context.Context, sel *stmt.Select) (*reduce.Reducer, error) {
	query, args, err := sel.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query for %s: %w", q.root.Name, err)
	}

	var mapping *prefix.Mapping
	rows, err := dbexec.QueryWithColumns(ctx, q.exec, query, args, func(columns []string) error {
		mapping = prefix.NewMapping(columns, q.forceCase)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.root.Name, err)
	}

	red, err := reduce.New(reduce.FromCursor(rows, mapping), q.plan())
	if err != nil {
		_ = rows.Close()
		return nil, err
	}
	return red, nil
}

// Cursor yields hydrated models one root entity at a time.
type Cursor struct {
	q       *Query
	ctx     context.Context
	span    trace.Span
	red     *reduce.Reducer
	current *hydrate.Model
	err     error
	started time.Time
	closed  bool
}

// Cursor runs the query and returns a model cursor. Close it, or drain it, before
// issuing another statement on the same connection.
func (q *Query) Cursor(ctx context.Context, columns ...string) (*Cursor, error) {
	ctx, span := startSpan(ctx, "joined.cursor",
		attribute.String("relfold.entity", q.root.Name),
		attribute.StringSlice("relfold.joins", q.joinOrder),
	)
	started := time.Now()

	red, err := q.Records(ctx, columns...)
	if err != nil {
		recordSpanError(span, err)
		span.End()
		q.metrics.RecordQuery(ctx, q.root.Name, time.Since(started), 0, 0, err)
		return nil, err
	}
	return &Cursor{q: q, ctx: ctx, span: span, red: red, started: started}, nil
}

// Next advances to the next model.
func (c *Cursor) Next() bool {
	if c.closed {
		return false
	}
	if !c.red.Next() {
		c.err = c.red.Err()
		c.finish()
		return false
	}
	model, err := hydrate.Hydrate(c.q.reg, c.q.root.Name, c.red.Record())
	if err != nil {
		c.err = err
		c.finish()
		return false
	}
	c.current = model
	return true
}

// Model returns the model produced by the last successful Next.
func (c *Cursor) Model() *hydrate.Model {
	return c.current
}

// Err returns the error that stopped the cursor, if any.
func (c *Cursor) Err() error {
	return c.err
}

// Close releases the underlying statement. It is safe to call more than once.
func (c *Cursor) Close() error {
	return c.finish()
}

func (c *Cursor) finish() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.current = nil
	closeErr := c.red.Close()

	rows, records := c.red.Stats()
	c.q.metrics.RecordQuery(c.ctx, c.q.root.Name, time.Since(c.started), rows, records, c.err)
	c.span.SetAttributes(
		attribute.Int("relfold.rows", rows),
		attribute.Int("relfold.records", records),
	)
	if c.err != nil {
		recordSpanError(c.span, c.err)
	}
	c.span.End()

	logging.FromContext(c.ctx).Debug("joined query finished",
		slog.String("entity", c.q.root.Name),
		slog.Int("rows", rows),
		slog.Int("records", records),
		slog.Duration("duration", time.Since(c.started)),
	)
	return closeErr
}

// Get runs the query and collects every model.
func (q *Query) Get(ctx context.Context, columns ...string) ([]*hydrate.Model, error) {
	cur, err := q.Cursor(ctx, columns...)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	var out []*hydrate.Model
	for cur.Next() {
		out = append(out, cur.Model())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relfold/joined")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
