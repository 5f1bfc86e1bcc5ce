package joined

import (
	"fmt"

	"relfold/internal/prefix"
	"relfold/internal/reduce"
	"relfold/internal/schema"
	"relfold/internal/stmt"
)

// addJoin plans a single relation step whose parent is already joined (or is the root).
func (q *Query) addJoin(step ResolvedRelation, o joinOptions) (*joinRegistration, error) {
	rel := step.Relation
	alias := Alias(step.Path)
	parentAlias := ParentAlias(q.root.Table, step.Path)

	kind := stmt.LeftJoin
	if o.onlyExisting {
		kind = stmt.InnerJoin
	}

	reg := &joinRegistration{
		path:         step.Path,
		alias:        alias,
		parentAlias:  parentAlias,
		name:         rel.Name,
		kind:         rel.Kind,
		onlyExisting: o.onlyExisting,
		uniqueKey:    o.uniqueKey,
	}

	var left, right string
	switch rel.Kind {
	case schema.BelongsTo:
		left = parentAlias + "." + rel.ForeignKey
		right = alias + "." + rel.OwnerKey
		reg.keyColumn = relatedKeyColumn(alias, o.uniqueKey, rel, step.Related)

	case schema.HasOne:
		left = parentAlias + "." + rel.LocalKey
		right = alias + "." + rel.ForeignKey
		reg.keyColumn = relatedKeyColumn(alias, o.uniqueKey, rel, step.Related)

	case schema.HasMany:
		left = parentAlias + "." + rel.LocalKey
		right = alias + "." + rel.ForeignKey

		if q.parentKeyName() == "" {
			return nil, fmt.Errorf("%w: %s cannot join one-to-many relation %q", ErrRootKeyMissing, q.root.Name, step.Path)
		}
		keyColumn := relatedKeyColumn(alias, o.uniqueKey, rel, step.Related)
		if keyColumn == "" {
			return nil, fmt.Errorf("%w: %s (joined as %q)", ErrRelatedKeyMissing, step.Related.Name, step.Path)
		}
		if q.sel.HasOrders() {
			return nil, fmt.Errorf("%w: joining %q", ErrJoinAfterOrder, step.Path)
		}
		reg.keyColumn = keyColumn
		q.reductions[step.Path] = keyColumn

	default:
		return nil, fmt.Errorf("%w: %q is a %s relation", ErrUnsupportedRelation, step.Path, rel.Kind)
	}

	q.sel.Join(kind, step.Related.Table, alias, left, right)
	q.sel.AddColumns(prefix.Wrap(stmt.Cols(alias+".*"), alias+reduce.Separator)...)
	return reg, nil
}

// relatedKeyColumn picks the decoded column identifying a related row: the explicit
// option first, then the relation's declared unique key, then the related primary key.
func relatedKeyColumn(alias, option string, rel schema.Relation, related *schema.Entity) string {
	key := option
	if key == "" {
		key = rel.UniqueKey
	}
	if key == "" {
		key = related.PrimaryKey
	}
	if key == "" {
		return ""
	}
	return alias + reduce.Separator + key
}
