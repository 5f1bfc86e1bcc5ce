// Package chunk provides pull-based iterators that fetch a result set one page at a time.
//
// Two strategies are offered. Offset pages with LIMIT/OFFSET and stops after the first
// short page. Watermark pages with `WHERE key > last ORDER BY key LIMIT n` and stops
// on the first empty page; it stays correct when rows are inserted or deleted
// between pages, as long as the key is unique and monotonic.
package chunk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"relfold/internal/logging"
)

// ErrInvalidPageSize is returned when a page size below one is requested.
var ErrInvalidPageSize = errors.New("page size must be at least 1")

// Transform post-processes a fetched page before its items are yielded.
// pageNum is 1-based. Returning fewer items filters the page.
type Transform[T any] func(page []T, pageNum int) ([]T, error)

// OffsetFetcher loads the 1-based page of pageSize rows.
type OffsetFetcher[T any] func(ctx context.Context, page, pageSize int) ([]T, error)

// WatermarkFetcher loads up to pageSize rows whose key is greater than lastKey.
// lastKey is nil for the first page.
type WatermarkFetcher[T any] func(ctx context.Context, lastKey any, pageSize int) ([]T, error)

// KeyFunc extracts the watermark key from a raw row.
type KeyFunc[T any] func(item T) (any, error)

type pager[T any] func(ctx context.Context) (page []T, more bool, err error)

// Iterator yields items page by page. It is forward-only and single-use.
type Iterator[T any] struct {
	fetch   pager[T]
	buf     []T
	current T
	done    bool
	err     error
}

// Next advances to the next item, fetching pages as needed.
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	for len(it.buf) == 0 {
		if it.done {
			return false
		}
		if err := ctx.Err(); err != nil {
			it.err = err
			return false
		}
		page, more, err := it.fetch(ctx)
		if err != nil {
			it.err = err
			return false
		}
		it.buf = page
		it.done = !more
	}
	it.current = it.buf[0]
	it.buf = it.buf[1:]
	return true
}

// Value returns the item produced by the last successful Next.
func (it *Iterator[T]) Value() T {
	return it.current
}

// Err returns the first error that stopped the iteration.
func (it *Iterator[T]) Err() error {
	return it.err
}

// Collect drains the iterator.
func (it *Iterator[T]) Collect(ctx context.Context) ([]T, error) {
	var out []T
	for it.Next(ctx) {
		out = append(out, it.Value())
	}
	return out, it.Err()
}

// Offset pages through fetch until a page shorter than pageSize arrives. Empty
// pages never reach the transform.
func Offset[T any](fetch OffsetFetcher[T], pageSize int, transform Transform[T]) (*Iterator[T], error) {
	if pageSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPageSize, pageSize)
	}

	pageNum := 0
	return &Iterator[T]{
		fetch: func(ctx context.Context) ([]T, bool, error) {
			pageNum++
			rows, err := fetch(ctx, pageNum, pageSize)
			if err != nil {
				return nil, false, fmt.Errorf("failed to fetch page %d: %w", pageNum, err)
			}
			count := len(rows)
			logging.FromContext(ctx).Debug("chunk page fetched",
				slog.String("strategy", "offset"),
				slog.Int("page", pageNum),
				slog.Int("rows", count),
			)

			if count == 0 {
				return nil, false, nil
			}
			page, err := apply(transform, rows, pageNum)
			if err != nil {
				return nil, false, err
			}
			return page, count >= pageSize, nil
		},
	}, nil
}

// Watermark pages through fetch, carrying the key of the last raw row of each page
// into the next request, until an empty page arrives.
func Watermark[T any](fetch WatermarkFetcher[T], key KeyFunc[T], pageSize int, transform Transform[T]) (*Iterator[T], error) {
	if pageSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidPageSize, pageSize)
	}
	if key == nil {
		return nil, errors.New("watermark iteration requires a key function")
	}

	var lastKey any
	pageNum := 0
	return &Iterator[T]{
		fetch: func(ctx context.Context) ([]T, bool, error) {
			pageNum++
			rows, err := fetch(ctx, lastKey, pageSize)
			if err != nil {
				return nil, false, fmt.Errorf("failed to fetch page %d: %w", pageNum, err)
			}
			logging.FromContext(ctx).Debug("chunk page fetched",
				slog.String("strategy", "watermark"),
				slog.Int("page", pageNum),
				slog.Int("rows", len(rows)),
				slog.Any("after", lastKey),
			)
			if len(rows) == 0 {
				return nil, false, nil
			}

			next, err := key(rows[len(rows)-1])
			if err != nil {
				return nil, false, fmt.Errorf("failed to read watermark key on page %d: %w", pageNum, err)
			}
			if next == nil {
				return nil, false, fmt.Errorf("watermark key is null on page %d", pageNum)
			}
			lastKey = next

			page, err := apply(transform, rows, pageNum)
			if err != nil {
				return nil, false, err
			}
			return page, true, nil
		},
	}, nil
}

func apply[T any](transform Transform[T], rows []T, pageNum int) ([]T, error) {
	if transform == nil {
		return rows, nil
	}
	page, err := transform(rows, pageNum)
	if err != nil {
		return nil, fmt.Errorf("page %d callback failed: %w", pageNum, err)
	}
	return page, nil
}
