// Package hydrate turns reduced records into entity models.
package hydrate

import (
	"fmt"
	"sort"

	"relfold/internal/reduce"
	"relfold/internal/schema"
)

// Model is a hydrated entity. Relations holds *Model (nil when the related row was
// absent) for one-to-one relations and []*Model for one-to-many relations.
type Model struct {
	Entity     string
	Attributes map[string]any
	Relations  map[string]any
}

// Attr returns one attribute value.
func (m *Model) Attr(name string) any {
	return m.Attributes[name]
}

// One returns a one-to-one related model. ok is false when the relation was not
// loaded or holds a collection.
func (m *Model) One(name string) (*Model, bool) {
	v, ok := m.Relations[name]
	if !ok {
		return nil, false
	}
	related, ok := v.(*Model)
	return related, ok
}

// Many returns a one-to-many related collection.
func (m *Model) Many(name string) []*Model {
	related, _ := m.Relations[name].([]*Model)
	return related
}

// RelationNames returns the loaded relation names sorted.
func (m *Model) RelationNames() []string {
	names := make([]string, 0, len(m.Relations))
	for name := range m.Relations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Map renders the model as nested maps, relations under their names.
func (m *Model) Map() map[string]any {
	out := make(map[string]any, len(m.Attributes)+len(m.Relations))
	for k, v := range m.Attributes {
		out[k] = v
	}
	for name, v := range m.Relations {
		switch related := v.(type) {
		case *Model:
			if related == nil {
				out[name] = nil
			} else {
				out[name] = related.Map()
			}
		case []*Model:
			items := make([]map[string]any, len(related))
			for i, item := range related {
				items[i] = item.Map()
			}
			out[name] = items
		}
	}
	return out
}

// Hydrate builds the model for entity from a reduced record, recursing into every
// placed relation.
func Hydrate(reg *schema.Registry, entity string, rec *reduce.Record) (*Model, error) {
	if rec == nil {
		return nil, fmt.Errorf("cannot hydrate %s from a nil record", entity)
	}
	return hydrateNode(reg, entity, rec.Root())
}

func hydrateNode(reg *schema.Registry, entity string, n reduce.Node) (*Model, error) {
	if _, ok := reg.Entity(entity); !ok {
		return nil, fmt.Errorf("unknown entity %q", entity)
	}

	m := &Model{
		Entity:     entity,
		Attributes: n.Attributes(),
		Relations:  make(map[string]any),
	}

	for _, name := range n.Relations() {
		rel, ok := reg.Relation(entity, name)
		if !ok {
			return nil, fmt.Errorf("%w: related data was passed for %q, but %s declares no such relation", schema.ErrRelationNotFound, name, entity)
		}
		slot, _ := n.Slot(name)

		switch rel.Kind {
		case schema.BelongsTo, schema.HasOne:
			if slot.ToMany {
				return nil, fmt.Errorf("relation %s.%s is one-to-one but received a collection", entity, name)
			}
			if slot.Null {
				m.Relations[name] = (*Model)(nil)
				continue
			}
			related, err := hydrateNode(reg, rel.Related, slot.One)
			if err != nil {
				return nil, err
			}
			m.Relations[name] = related

		case schema.HasMany:
			if !slot.ToMany {
				return nil, fmt.Errorf("relation %s.%s is one-to-many but received a single record", entity, name)
			}
			items := make([]*Model, 0, len(slot.Many))
			for _, child := range slot.Many {
				related, err := hydrateNode(reg, rel.Related, child)
				if err != nil {
					return nil, err
				}
				items = append(items, related)
			}
			m.Relations[name] = items

		default:
			return nil, fmt.Errorf("%w: %s.%s has kind %s", schema.ErrUnsupportedRelation, entity, name, rel.Kind)
		}
	}
	return m, nil
}
