// Package schema holds the entity relation registry that joined queries resolve paths against.
//
// Entities are declared in configuration or discovered from INFORMATION_SCHEMA. Once a
// registry is built its entities and relations are immutable; missing join keys are
// filled in from naming conventions at build time.
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jinzhu/inflection"
)

// ErrInvalidEntity is returned for declarations the registry cannot accept.
var ErrInvalidEntity = errors.New("invalid entity declaration")

// Kind classifies a relation by cardinality and by which side holds the foreign key.
type Kind string

const (
	BelongsTo     Kind = "belongs_to"
	HasOne        Kind = "has_one"
	HasMany       Kind = "has_many"
	BelongsToMany Kind = "belongs_to_many"
)

// ParseKind accepts the snake_case kind names plus a few common aliases.
func ParseKind(value string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "belongs_to", "belongsto", "many_to_one":
		return BelongsTo, nil
	case "has_one", "hasone", "one_to_one":
		return HasOne, nil
	case "has_many", "hasmany", "one_to_many":
		return HasMany, nil
	case "belongs_to_many", "belongstomany", "many_to_many":
		return BelongsToMany, nil
	default:
		return "", fmt.Errorf("%w: unknown relation kind %q", ErrInvalidEntity, value)
	}
}

// IsToOne reports whether the relation yields at most one related record.
func (k Kind) IsToOne() bool {
	return k == BelongsTo || k == HasOne
}

// IsToMany reports whether the relation yields a collection.
func (k Kind) IsToMany() bool {
	return k == HasMany || k == BelongsToMany
}

// Relation describes one named edge from an entity to a related entity.
//
// BelongsTo joins parent.ForeignKey = related.OwnerKey.
// HasOne and HasMany join parent.LocalKey = related.ForeignKey.
// UniqueKey, when set, overrides the related primary key as the identity used to
// de-duplicate one-to-many rows.
type Relation struct {
	Name       string
	Kind       Kind
	Related    string
	ForeignKey string
	LocalKey   string
	OwnerKey   string
	UniqueKey  string
}

// Entity is a table with an optional primary key and named relations.
type Entity struct {
	Name       string
	Table      string
	PrimaryKey string
	Columns    []string
	Relations  []Relation
}

// Relation returns the relation called name.
func (e *Entity) Relation(name string) (Relation, bool) {
	for _, rel := range e.Relations {
		if rel.Name == name {
			return rel, true
		}
	}
	return Relation{}, false
}

// HasColumn reports whether column is a known column. Entities declared without a
// column list accept any name.
func (e *Entity) HasColumn(column string) bool {
	if len(e.Columns) == 0 {
		return true
	}
	for _, c := range e.Columns {
		if c == column {
			return true
		}
	}
	return false
}

// Registry is an immutable set of entities keyed by name.
type Registry struct {
	entities map[string]*Entity
	names    []string
}

// NewRegistry validates entities, fills conventional join keys, and indexes them.
func NewRegistry(entities ...Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]*Entity, len(entities))}

	for i := range entities {
		e := entities[i]
		if e.Name == "" {
			return nil, fmt.Errorf("%w: entity at index %d has no name", ErrInvalidEntity, i)
		}
		if _, exists := r.entities[e.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate entity %q", ErrInvalidEntity, e.Name)
		}
		if e.Table == "" {
			e.Table = e.Name
		}
		e.Columns = append([]string(nil), e.Columns...)
		e.Relations = append([]Relation(nil), e.Relations...)
		r.entities[e.Name] = &e
		r.names = append(r.names, e.Name)
	}
	sort.Strings(r.names)

	for _, name := range r.names {
		if err := r.link(r.entities[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) link(e *Entity) error {
	seen := make(map[string]struct{}, len(e.Relations))
	for i := range e.Relations {
		rel := &e.Relations[i]
		if rel.Name == "" {
			return fmt.Errorf("%w: %s relation at index %d has no name", ErrInvalidEntity, e.Name, i)
		}
		if strings.Contains(rel.Name, ".") {
			return fmt.Errorf("%w: %s.%s: relation names cannot contain dots", ErrInvalidEntity, e.Name, rel.Name)
		}
		if _, dup := seen[rel.Name]; dup {
			return fmt.Errorf("%w: %s has duplicate relation %q", ErrInvalidEntity, e.Name, rel.Name)
		}
		seen[rel.Name] = struct{}{}

		if rel.Related == "" {
			rel.Related = inflection.Singular(rel.Name)
		}
		related, ok := r.entities[rel.Related]
		if !ok {
			return fmt.Errorf("%w: %s.%s references unknown entity %q", ErrInvalidEntity, e.Name, rel.Name, rel.Related)
		}

		switch rel.Kind {
		case BelongsTo:
			if rel.ForeignKey == "" {
				rel.ForeignKey = rel.Name + "_id"
			}
			if rel.OwnerKey == "" {
				rel.OwnerKey = related.PrimaryKey
			}
			if rel.OwnerKey == "" {
				return fmt.Errorf("%w: %s.%s needs an owner key because %s has no primary key", ErrInvalidEntity, e.Name, rel.Name, related.Name)
			}
		case HasOne, HasMany:
			if rel.ForeignKey == "" {
				rel.ForeignKey = inflection.Singular(e.Table) + "_id"
			}
			if rel.LocalKey == "" {
				rel.LocalKey = e.PrimaryKey
			}
			if rel.LocalKey == "" {
				return fmt.Errorf("%w: %s.%s needs a local key because %s has no primary key", ErrInvalidEntity, e.Name, rel.Name, e.Name)
			}
		case BelongsToMany:
		default:
			return fmt.Errorf("%w: %s.%s has unknown kind %q", ErrInvalidEntity, e.Name, rel.Name, rel.Kind)
		}
	}
	return nil
}

// Entity returns the entity called name.
func (r *Registry) Entity(name string) (*Entity, bool) {
	e, ok := r.entities[name]
	return e, ok
}

// EntityByTable returns the first entity mapped to table.
func (r *Registry) EntityByTable(table string) (*Entity, bool) {
	for _, name := range r.names {
		if e := r.entities[name]; e.Table == table {
			return e, true
		}
	}
	return nil, false
}

// Entities returns all entities sorted by name.
func (r *Registry) Entities() []*Entity {
	out := make([]*Entity, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.entities[name])
	}
	return out
}

// Relation looks up relation name on entity.
func (r *Registry) Relation(entity, name string) (Relation, bool) {
	e, ok := r.entities[entity]
	if !ok {
		return Relation{}, false
	}
	return e.Relation(name)
}

// Lookup errors shared by the query and hydration layers.
var (
	ErrRelationNotFound    = errors.New("relation does not exist")
	ErrUnsupportedRelation = errors.New("unsupported relation kind")
)
