package dbexec

import (
	"context"
	"database/sql"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxStatementAttrLen = 512

// TracingExecutor wraps another executor and records a span per statement.
// Query spans stay open until the returned rows are closed.
type TracingExecutor struct {
	next   QueryExecutor
	system string
}

// NewTracingExecutor wraps next. system is reported as the db.system attribute.
func NewTracingExecutor(next QueryExecutor, system string) *TracingExecutor {
	return &TracingExecutor{next: next, system: system}
}

func (e *TracingExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	ctx, span := startSpan(ctx, "dbexec.query", e.attrs(query, len(args))...)
	rows, err := e.next.QueryContext(ctx, query, args...)
	if err != nil {
		recordSpanError(span, err)
		span.End()
		return nil, err
	}
	return &tracedRows{Rows: rows, span: span}, nil
}

func (e *TracingExecutor) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, span := startSpan(ctx, "dbexec.exec", e.attrs(query, len(args))...)
	defer span.End()

	result, err := e.next.ExecContext(ctx, query, args...)
	recordSpanError(span, err)
	return result, err
}

func (e *TracingExecutor) attrs(query string, argCount int) []attribute.KeyValue {
	statement := query
	if len(statement) > maxStatementAttrLen {
		statement = statement[:maxStatementAttrLen]
	}
	return []attribute.KeyValue{
		attribute.String("db.system", e.system),
		attribute.String("db.statement", statement),
		attribute.Int("db.args", argCount),
	}
}

type tracedRows struct {
	Rows
	span  trace.Span
	count int64
	ended bool
}

func (r *tracedRows) Next() bool {
	if r.Rows.Next() {
		r.count++
		return true
	}
	return false
}

func (r *tracedRows) Close() error {
	err := r.Rows.Close()
	if !r.ended {
		r.ended = true
		r.span.SetAttributes(attribute.Int64("db.rows", r.count))
		if iterErr := r.Rows.Err(); iterErr != nil {
			recordSpanError(r.span, iterErr)
		} else {
			recordSpanError(r.span, err)
		}
		r.span.End()
	}
	return err
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("relfold/dbexec")
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
