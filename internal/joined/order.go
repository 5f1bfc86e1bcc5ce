package joined

import (
	"fmt"
	"reflect"
	"strings"

	"relfold/internal/schema"
	"relfold/internal/stmt"
)

// OrderByParent sorts by a root column. An empty column means the root unique key.
func (q *Query) OrderByParent(column string, dir stmt.Direction) error {
	if err := q.AssertOrderIntact(false); err != nil {
		return err
	}
	key := q.parentKeyName()
	if column == "" {
		if key == "" {
			return fmt.Errorf("%w: name a column to order %s by", ErrRootKeyMissing, q.root.Name)
		}
		column = key
	}
	if key != "" && (column == key || column == q.rootColumn(key)) {
		q.rootSortedByKey = true
	}
	q.sel.OrderBy(q.rootColumn(column), dir)
	q.snapshotOrders()
	return nil
}

// OrderByParentKey sorts by the root unique key.
func (q *Query) OrderByParentKey(dir stmt.Direction) error {
	return q.OrderByParent("", dir)
}

// OrderByParentExpr sorts by a raw expression over root columns.
func (q *Query) OrderByParentExpr(expr stmt.Expr, dir stmt.Direction, allowUnsafe bool) error {
	if !allowUnsafe {
		return fmt.Errorf("%w: %q", ErrUnsafeExpression, expr.SQL)
	}
	if err := q.AssertOrderIntact(false); err != nil {
		return err
	}
	q.sel.OrderByExpr(expr, dir)
	q.snapshotOrders()
	return nil
}

// OrderByRelated sorts by a column of a joined relation. While one-to-many relations
// are joined and the root is not yet sorted by its key, only paths made entirely
// of to-one relations are accepted, because anything else would break the row
// grouping the reducer relies on.
func (q *Query) OrderByRelated(path, column string, dir stmt.Direction) error {
	if err := q.AssertOrderIntact(false); err != nil {
		return err
	}
	if err := q.checkRelatedOrder(path); err != nil {
		return err
	}
	q.sel.OrderBy(Alias(path)+"."+column, dir)
	q.snapshotOrders()
	return nil
}

// OrderByRelatedExpr sorts by a raw expression over a joined relation's columns.
func (q *Query) OrderByRelatedExpr(path string, expr stmt.Expr, dir stmt.Direction, allowUnsafe bool) error {
	if !allowUnsafe {
		return fmt.Errorf("%w: %q", ErrUnsafeExpression, expr.SQL)
	}
	if err := q.AssertOrderIntact(false); err != nil {
		return err
	}
	if err := q.checkRelatedOrder(path); err != nil {
		return err
	}
	q.sel.OrderByExpr(expr, dir)
	q.snapshotOrders()
	return nil
}

func (q *Query) checkRelatedOrder(path string) error {
	if _, ok := q.joins[path]; !ok {
		return fmt.Errorf("%w: %q is not joined", ErrRelationNotFound, path)
	}
	if !q.HasToMany() || q.rootSortedByKey {
		return nil
	}
	for _, p := range NestedPaths(path) {
		if j := q.joins[p]; j.kind != schema.BelongsTo && j.kind != schema.HasOne {
			return fmt.Errorf("%w: %q crosses %s relation %q", ErrUnsafeRelatedOrder, path, j.kind, p)
		}
	}
	return nil
}

func (q *Query) snapshotOrders() {
	q.ordersState = q.sel.Orders()
}

// AssertOrderIntact fails when the statement's ORDER BY list no longer matches the
// one recorded by the ordering methods. The check runs whenever one-to-many
// relations are joined, or always when force is set.
func (q *Query) AssertOrderIntact(force bool) error {
	if !force && !q.HasToMany() {
		return nil
	}
	current := q.sel.Orders()
	if len(current) == 0 && len(q.ordersState) == 0 {
		return nil
	}
	if !reflect.DeepEqual(current, q.ordersState) {
		return fmt.Errorf("%w: expected [%s], found [%s]", ErrOrderModified, describeOrders(q.ordersState), describeOrders(current))
	}
	return nil
}

func describeOrders(orders []stmt.Order) string {
	parts := make([]string, len(orders))
	for i, o := range orders {
		if o.Expr != nil {
			parts[i] = o.Expr.SQL + " " + string(o.Direction)
			continue
		}
		parts[i] = o.Ref + " " + string(o.Direction)
	}
	return strings.Join(parts, ", ")
}
