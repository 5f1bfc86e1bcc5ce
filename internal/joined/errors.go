package joined

import (
	"errors"

	"relfold/internal/schema"
)

// Configuration errors, raised when a query is being built.
var (
	ErrRootKeyMissing      = errors.New("root entity has no unique key")
	ErrRelatedKeyMissing   = errors.New("related entity has no unique key")
	ErrJoinAfterOrder      = errors.New("one-to-many relations must be joined before any ordering is applied")
	ErrRelationNotFound    = schema.ErrRelationNotFound
	ErrJoinConflict        = errors.New("relation already joined with different options")
	ErrUnsupportedRelation = schema.ErrUnsupportedRelation
	ErrUnsafeExpression    = errors.New("raw order expressions require allowUnsafe")
	ErrUnsafeRelatedOrder  = errors.New("cannot order by a one-to-many relation before the root is ordered by its unique key")
	ErrOrderRequired       = errors.New("chunked iteration requires an order")
	ErrKeyColumnMissing    = errors.New("watermark column is not in the select list")
)

// Invariant errors, raised when a query is executed.
var (
	ErrOrderModified      = errors.New("ordering was modified externally; results could be corrupted")
	ErrLimitWithReduction = errors.New("queries with one-to-many relations must not contain limit or offset clauses")
)
