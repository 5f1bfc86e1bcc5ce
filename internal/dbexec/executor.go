// Package dbexec provides database query execution abstractions.
// It supports direct execution and a tracing wrapper that records one span per statement.
package dbexec

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrColumnMetadata is returned when a cursor was opened but its column names
// could not be read.
var ErrColumnMetadata = errors.New("column metadata unavailable")

// Rows abstracts sql.Rows to allow wrapped cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Columns() ([]string, error)
	Err() error
	Close() error
}

// QueryExecutor abstracts SQL execution so callers can swap in instrumented behavior.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db *sql.DB
}

// NewStandardExecutor creates an executor that runs queries directly against the database.
func NewStandardExecutor(db *sql.DB) *StandardExecutor {
	return &StandardExecutor{db: db}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.QueryContext(ctx, query, args...)
}

func (e *StandardExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	return e.db.ExecContext(ctx, query, args...)
}

// QueryWithColumns runs query and hands the cursor's column names to onPrepared
// before the first row is read. The rows are closed when either step fails.
//
// The returned cursor holds a connection until it is drained or closed; callers
// must do one of the two before issuing another statement that needs the same
// connection.
func QueryWithColumns(ctx context.Context, exec QueryExecutor, query string, args []any, onPrepared func(columns []string) error) (Rows, error) {
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("%w: %v", ErrColumnMetadata, err)
	}
	if onPrepared != nil {
		if err := onPrepared(columns); err != nil {
			_ = rows.Close()
			return nil, err
		}
	}
	return rows, nil
}

// ScanValues reads the current row into a slice of width untyped values.
func ScanValues(rows Rows, width int) ([]any, error) {
	values := make([]any, width)
	ptrs := make([]any, width)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return values, nil
}
