// Package joined builds single-statement queries over a root entity and a tree of
// related entities, then folds the flat result back into nested models.
//
// A Query is single-owner and not safe for concurrent use. Its cursors keep one
// statement open; drain or close a cursor before running another statement that
// needs the same connection.
package joined

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"relfold/internal/dbexec"
	"relfold/internal/logging"
	"relfold/internal/observability"
	"relfold/internal/prefix"
	"relfold/internal/reduce"
	"relfold/internal/schema"
	"relfold/internal/sqlutil"
	"relfold/internal/stmt"
)

type joinOptions struct {
	onlyExisting bool
	uniqueKey    string
}

// Option configures one WithJoined call.
type Option func(*joinOptions)

// OnlyExisting switches the join to INNER so roots without a related row are dropped.
func OnlyExisting() Option {
	return func(o *joinOptions) { o.onlyExisting = true }
}

// UniqueKey overrides the related entity's primary key as the identity column of the
// joined relation.
func UniqueKey(column string) Option {
	return func(o *joinOptions) { o.uniqueKey = column }
}

// Join is one entry of a bulk WithJoinedAll call.
type Join struct {
	Path    string
	Options []Option
}

// Path builds a Join.
func Path(path string, opts ...Option) Join {
	return Join{Path: path, Options: opts}
}

type joinRegistration struct {
	path         string
	alias        string
	parentAlias  string
	name         string
	kind         schema.Kind
	onlyExisting bool
	uniqueKey    string
	keyColumn    string
}

// QueryOption configures a Query.
type QueryOption func(*Query)

// WithForceCase forces decoded column names to one case.
func WithForceCase(c prefix.Case) QueryOption {
	return func(q *Query) { q.forceCase = c }
}

// WithMetrics records query and page metrics.
func WithMetrics(m *observability.QueryMetrics) QueryOption {
	return func(q *Query) { q.metrics = m }
}

// WithLogger sets the logger used while the query is being built.
func WithLogger(l *logging.Logger) QueryOption {
	return func(q *Query) { q.logger = l }
}

// Query is an entity query that can join related entities into one statement.
type Query struct {
	reg       *schema.Registry
	root      *schema.Entity
	exec      dbexec.QueryExecutor
	sel       *stmt.Select
	forceCase prefix.Case
	metrics   *observability.QueryMetrics
	logger    *logging.Logger

	joins      map[string]*joinRegistration
	joinOrder  []string
	reductions map[string]string

	ordersState     []stmt.Order
	rootSortedByKey bool
	parentKey       string
}

// New starts a query over entity.
func New(reg *schema.Registry, entity string, exec dbexec.QueryExecutor, dialect sqlutil.Dialect, opts ...QueryOption) (*Query, error) {
	root, ok := reg.Entity(entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", entity)
	}
	q := &Query{
		reg:        reg,
		root:       root,
		exec:       exec,
		sel:        stmt.New(dialect, root.Table),
		joins:      make(map[string]*joinRegistration),
		reductions: make(map[string]string),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = logging.FromContext(context.Background())
	}
	return q, nil
}

// Entity returns the root entity.
func (q *Query) Entity() *schema.Entity {
	return q.root
}

// Select exposes the underlying statement for filters. Orders added here directly
// bypass the ordering guard and make queries with one-to-many joins fail.
func (q *Query) Select() *stmt.Select {
	return q.sel
}

// MarkParentColumnAsUniqueKey makes column identify root entities instead of the
// primary key. The column must appear in the result.
func (q *Query) MarkParentColumnAsUniqueKey(column string) *Query {
	q.parentKey = column
	return q
}

// HasToMany reports whether a one-to-many relation is joined.
func (q *Query) HasToMany() bool {
	return len(q.reductions) > 0
}

// JoinedPaths returns the registered relation paths in registration order.
func (q *Query) JoinedPaths() []string {
	return append([]string(nil), q.joinOrder...)
}

func (q *Query) parentKeyName() string {
	if q.parentKey != "" {
		return q.parentKey
	}
	return q.root.PrimaryKey
}

func (q *Query) rootColumn(column string) string {
	if strings.Contains(column, ".") {
		return column
	}
	return q.root.Table + "." + column
}

// WithJoined registers a dotted relation path. Intermediate relations are
// registered too and receive the same options. Registering a path again with
// the same options is a no-op.
func (q *Query) WithJoined(path string, opts ...Option) error {
	var o joinOptions
	for _, opt := range opts {
		opt(&o)
	}

	chain, err := ResolvePath(q.reg, q.root, path)
	if err != nil {
		return err
	}

	for i, step := range chain {
		stepOpts := joinOptions{onlyExisting: o.onlyExisting}
		if i == len(chain)-1 {
			stepOpts.uniqueKey = o.uniqueKey
		}

		if existing, ok := q.joins[step.Path]; ok {
			if existing.onlyExisting != stepOpts.onlyExisting {
				return fmt.Errorf("%w: %q is joined with onlyExisting=%t", ErrJoinConflict, step.Path, existing.onlyExisting)
			}
			if stepOpts.uniqueKey != "" && existing.uniqueKey != stepOpts.uniqueKey {
				return fmt.Errorf("%w: %q is joined with unique key %q", ErrJoinConflict, step.Path, existing.uniqueKey)
			}
			continue
		}

		reg, err := q.addJoin(step, stepOpts)
		if err != nil {
			return err
		}
		q.joins[step.Path] = reg
		q.joinOrder = append(q.joinOrder, step.Path)

		q.logger.Debug("relation joined",
			slog.String("entity", q.root.Name),
			slog.String("path", step.Path),
			slog.String("kind", string(reg.kind)),
			slog.Bool("only_existing", reg.onlyExisting),
		)
	}
	return nil
}

// WithJoinedAll registers several paths in order.
func (q *Query) WithJoinedAll(joins ...Join) error {
	for _, j := range joins {
		if err := q.WithJoined(j.Path, j.Options...); err != nil {
			return err
		}
	}
	return nil
}

// plan builds the reduction layout from the registered joins.
func (q *Query) plan() reduce.Plan {
	rootKey := q.parentKeyName()
	if idx := strings.LastIndex(rootKey, "."); idx >= 0 {
		rootKey = rootKey[idx+1:]
	}
	p := reduce.Plan{RootKey: q.forceCase.Apply(rootKey)}
	for _, path := range q.joinOrder {
		j := q.joins[path]
		parent := ""
		if idx := strings.LastIndex(path, "."); idx >= 0 {
			parent = Alias(path[:idx])
		}
		p.Relations = append(p.Relations, reduce.Relation{
			Alias:     q.forceCase.Apply(j.alias),
			Parent:    q.forceCase.Apply(parent),
			Name:      j.name,
			ToMany:    j.kind.IsToMany(),
			KeyColumn: q.forceCase.Apply(j.keyColumn),
		})
	}
	return p
}
