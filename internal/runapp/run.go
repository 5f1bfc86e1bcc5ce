package runapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"relfold/internal/chunk"
	"relfold/internal/config"
	"relfold/internal/hydrate"
	"relfold/internal/joined"
	"relfold/internal/logging"
	"relfold/internal/output"
	"relfold/internal/prefix"
)

// ErrNotInitialized is returned by Run before a successful Init.
var ErrNotInitialized = errors.New("app is not initialized")

// Run executes the configured query and writes every root model to w in the
// configured output format. It returns the number of records written.
func (a *App) Run(ctx context.Context, w io.Writer) (int, error) {
	if !a.initialized {
		return 0, ErrNotInitialized
	}

	ctx = logging.WithLogger(ctx, a.logger)
	ctx = logging.WithRunIDContext(ctx, a.runID)

	q, err := a.buildQuery()
	if err != nil {
		return 0, err
	}

	enc, err := output.New(a.cfg.Output.Format, w, a.cfg.Output.Pretty)
	if err != nil {
		return 0, err
	}

	started := time.Now()
	count, err := a.emit(ctx, q, enc)
	if closeErr := enc.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return count, err
	}

	a.logger.Info("query finished",
		slog.String("entity", a.cfg.Query.Entity),
		slog.String("mode", a.cfg.Query.Mode),
		slog.Int("records", count),
		slog.Duration("duration", time.Since(started)),
	)
	return count, nil
}

// buildQuery translates the query section of the config into a joined query.
func (a *App) buildQuery() (*joined.Query, error) {
	qc := a.cfg.Query

	forceCase, err := prefix.ParseCase(qc.ForceCase)
	if err != nil {
		return nil, err
	}

	q, err := joined.New(a.registry, qc.Entity, a.executor, a.dialect,
		joined.WithForceCase(forceCase),
		joined.WithLogger(a.logger),
		joined.WithMetrics(a.metrics),
	)
	if err != nil {
		return nil, err
	}
	if qc.UniqueKey != "" {
		q.MarkParentColumnAsUniqueKey(qc.UniqueKey)
	}

	if len(qc.WhereIn.Columns) > 0 {
		tuples, err := qc.WhereIn.Tuples()
		if err != nil {
			return nil, err
		}
		columns := make([]string, len(qc.WhereIn.Columns))
		for i, c := range qc.WhereIn.Columns {
			if !strings.Contains(c, ".") {
				c = q.Entity().Table + "." + c
			}
			columns[i] = c
		}
		if err := q.Select().WhereIn(columns, tuples); err != nil {
			return nil, err
		}
	}

	joins := make([]joined.Join, 0, len(qc.With)+len(qc.WithExisting))
	for _, path := range qc.With {
		joins = append(joins, joined.Path(path))
	}
	for _, path := range qc.WithExisting {
		joins = append(joins, joined.Path(path, joined.OnlyExisting()))
	}
	if err := q.WithJoinedAll(joins...); err != nil {
		return nil, err
	}

	for _, entry := range qc.OrderBy {
		order, err := config.ParseOrder(entry)
		if err != nil {
			return nil, err
		}
		if order.Path == "" {
			if err := q.OrderByParent(order.Column, order.Direction); err != nil {
				return nil, err
			}
			continue
		}
		if err := q.OrderByRelated(order.Path, order.Column, order.Direction); err != nil {
			return nil, err
		}
	}
	return q, nil
}

func (a *App) emit(ctx context.Context, q *joined.Query, enc output.Encoder) (int, error) {
	qc := a.cfg.Query
	count := 0
	write := func(m *hydrate.Model) error {
		if err := enc.Encode(m.Map()); err != nil {
			return fmt.Errorf("failed to write record %d: %w", count+1, err)
		}
		count++
		return nil
	}

	switch qc.Mode {
	case config.ModeGet, "":
		models, err := q.Get(ctx, qc.Columns...)
		if err != nil {
			return 0, err
		}
		for _, m := range models {
			if err := write(m); err != nil {
				return count, err
			}
		}
		return count, nil

	case config.ModeCursor:
		cur, err := q.Cursor(ctx, qc.Columns...)
		if err != nil {
			return 0, err
		}
		defer cur.Close()
		for cur.Next() {
			if err := write(cur.Model()); err != nil {
				return count, err
			}
		}
		return count, cur.Err()

	case config.ModeChunked, config.ModeChunkedByID:
		var (
			it  *chunk.Iterator[*hydrate.Model]
			err error
		)
		if qc.Mode == config.ModeChunked {
			it, err = q.GenerateChunked(qc.PageSize, nil, qc.Columns...)
		} else {
			it, err = q.GenerateChunkedByID(qc.PageSize, qc.KeyColumn, qc.KeyAlias, nil, qc.Columns...)
		}
		if err != nil {
			return 0, err
		}
		for it.Next(ctx) {
			if err := write(it.Value()); err != nil {
				return count, err
			}
		}
		return count, it.Err()

	default:
		return 0, fmt.Errorf("unsupported query mode %q", qc.Mode)
	}
}
