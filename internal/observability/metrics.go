package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// QueryMetrics holds instruments for joined queries and chunked iteration.
// A nil *QueryMetrics is valid and records nothing.
type QueryMetrics struct {
	queryDuration metric.Float64Histogram
	queryCounter  metric.Int64Counter
	errorCounter  metric.Int64Counter
	rowsRead      metric.Int64Histogram
	recordsOut    metric.Int64Histogram
	fanOut        metric.Float64Histogram
	pageCounter   metric.Int64Counter
	pageRows      metric.Int64Histogram
}

// InitQueryMetrics initializes query metrics on the global meter provider.
func InitQueryMetrics() (*QueryMetrics, error) {
	meter := otel.Meter("relfold")

	queryDuration, err := meter.Float64Histogram(
		"relfold.query.duration",
		metric.WithDescription("Duration of joined queries from execution to cursor exhaustion in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query duration histogram: %w", err)
	}

	queryCounter, err := meter.Int64Counter(
		"relfold.queries.total",
		metric.WithDescription("Total number of joined queries executed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create query counter: %w", err)
	}

	errorCounter, err := meter.Int64Counter(
		"relfold.errors.total",
		metric.WithDescription("Total number of joined queries that failed"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create error counter: %w", err)
	}

	rowsRead, err := meter.Int64Histogram(
		"relfold.fold.rows",
		metric.WithDescription("Number of flat rows read per joined query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create rows histogram: %w", err)
	}

	recordsOut, err := meter.Int64Histogram(
		"relfold.fold.records",
		metric.WithDescription("Number of reduced records emitted per joined query"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create records histogram: %w", err)
	}

	fanOut, err := meter.Float64Histogram(
		"relfold.fold.fan_out",
		metric.WithDescription("Rows read per emitted record"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fan-out histogram: %w", err)
	}

	pageCounter, err := meter.Int64Counter(
		"relfold.chunk.pages",
		metric.WithDescription("Number of pages fetched by chunked iteration"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create page counter: %w", err)
	}

	pageRows, err := meter.Int64Histogram(
		"relfold.chunk.page_rows",
		metric.WithDescription("Number of rows returned per fetched page"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create page rows histogram: %w", err)
	}

	return &QueryMetrics{
		queryDuration: queryDuration,
		queryCounter:  queryCounter,
		errorCounter:  errorCounter,
		rowsRead:      rowsRead,
		recordsOut:    recordsOut,
		fanOut:        fanOut,
		pageCounter:   pageCounter,
		pageRows:      pageRows,
	}, nil
}

// RecordQuery records one finished joined query.
func (m *QueryMetrics) RecordQuery(ctx context.Context, entity string, duration time.Duration, rows, records int, err error) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("entity", entity),
		attribute.Bool("has_errors", err != nil),
	}

	m.queryDuration.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))
	m.queryCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil {
		m.errorCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("entity", entity)))
		return
	}

	entityAttr := metric.WithAttributes(attribute.String("entity", entity))
	m.rowsRead.Record(ctx, int64(rows), entityAttr)
	m.recordsOut.Record(ctx, int64(records), entityAttr)
	if records > 0 {
		m.fanOut.Record(ctx, float64(rows)/float64(records), entityAttr)
	}
}

// RecordPage records one page fetched by a chunked iterator.
func (m *QueryMetrics) RecordPage(ctx context.Context, strategy string, rows int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("strategy", strategy))
	m.pageCounter.Add(ctx, 1, attrs)
	m.pageRows.Record(ctx, int64(rows), attrs)
}
