// Package reduce folds the flat row stream of a joined query back into nested records.
//
// Rows must arrive grouped by root key: every row of one root entity contiguous.
// The reducer does not sort or buffer beyond the record being accumulated.
package reduce

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"relfold/internal/prefix"
)

// Separator joins relation path segments inside aliases and decoded column names.
const Separator = "::"

// ErrRootKey is returned when a row lacks a usable root key while one-to-many
// relations need it to group rows.
var ErrRootKey = errors.New("root key missing from row")

// State is the reducer's position in its fold cycle.
type State int

const (
	// StateEmpty means no row has been read yet.
	StateEmpty State = iota
	// StateAccumulating means rows of the current root key are being folded.
	StateAccumulating
	// StateEmitting means a finished record was handed out and the first row of the
	// next root key is waiting.
	StateEmitting
	// StateDone means the source is exhausted or failed.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAccumulating:
		return "accumulating"
	case StateEmitting:
		return "emitting"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Relation tells the reducer where one joined relation's columns go.
type Relation struct {
	// Alias is the column prefix without its trailing separator, e.g. "posts::comments".
	Alias string
	// Parent is the parent relation's alias, empty for top-level relations.
	Parent string
	// Name is the attribute the relation is placed under on its parent.
	Name   string
	ToMany bool
	// KeyColumn is the decoded column identifying a related row. It is required for
	// one-to-many relations. For one-to-one relations it decides presence; when empty
	// the related row counts as absent if all of its columns are null.
	KeyColumn string
}

// Plan is the fold layout of one joined query.
type Plan struct {
	// RootKey is the decoded column identifying the root entity.
	RootKey   string
	Relations []Relation
}

// HasToMany reports whether any relation fans out.
func (p Plan) HasToMany() bool {
	for _, rel := range p.Relations {
		if rel.ToMany {
			return true
		}
	}
	return false
}

// Validate checks that every parent is declared before its children and that
// one-to-many relations carry a key column.
func (p Plan) Validate() error {
	seen := map[string]bool{"": true}
	for _, rel := range p.Relations {
		if rel.Alias == "" || rel.Name == "" {
			return fmt.Errorf("relation %q has an empty alias or name", rel.Alias)
		}
		if !seen[rel.Parent] {
			return fmt.Errorf("relation %q is listed before its parent %q", rel.Alias, rel.Parent)
		}
		if seen[rel.Alias] {
			return fmt.Errorf("relation %q is listed twice", rel.Alias)
		}
		if rel.ToMany && rel.KeyColumn == "" {
			return fmt.Errorf("one-to-many relation %q has no key column", rel.Alias)
		}
		seen[rel.Alias] = true
	}
	if p.HasToMany() && p.RootKey == "" {
		return fmt.Errorf("%w: one-to-many relations need a root key column", ErrRootKey)
	}
	return nil
}

// RowSource yields decoded rows one at a time.
type RowSource interface {
	Next() bool
	Row() (prefix.Row, error)
	Err() error
}

// Reducer pulls rows from a source and yields one Record per root key.
type Reducer struct {
	plan    Plan
	toMany  bool
	src     RowSource
	state   State
	acc     *Record
	accKey  rootKey
	pending prefix.Row
	pendKey rootKey
	current *Record
	err     error
	rows    int
	emitted int
}

// New builds a reducer over src. The plan is validated up front.
func New(src RowSource, plan Plan) (*Reducer, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &Reducer{plan: plan, toMany: plan.HasToMany(), src: src}, nil
}

// State returns the current fold state.
func (r *Reducer) State() State {
	return r.state
}

// Next advances to the next reduced record.
func (r *Reducer) Next() bool {
	for {
		switch r.state {
		case StateDone:
			return false

		case StateEmitting:
			r.begin(r.pending, r.pendKey)
			r.pending = nil
			r.state = StateAccumulating

		case StateEmpty, StateAccumulating:
			if !r.src.Next() {
				if err := r.src.Err(); err != nil {
					return r.fail(err)
				}
				r.state = StateDone
				if r.acc == nil {
					return false
				}
				r.emit(r.acc)
				return true
			}

			row, err := r.src.Row()
			if err != nil {
				return r.fail(err)
			}
			r.rows++
			key, err := r.rootKeyOf(row)
			if err != nil {
				return r.fail(err)
			}

			if r.state == StateEmpty {
				r.begin(row, key)
				r.state = StateAccumulating
				continue
			}
			if key.valid && key == r.accKey {
				r.fold(r.acc, row)
				continue
			}

			r.pending = row
			r.pendKey = key
			r.state = StateEmitting
			r.emit(r.acc)
			return true
		}
	}
}

// Record returns the record produced by the last successful Next.
func (r *Reducer) Record() *Record {
	return r.current
}

// Err returns the error that stopped the reducer, if any.
func (r *Reducer) Err() error {
	return r.err
}

// Stats reports how many rows were read and records emitted so far.
func (r *Reducer) Stats() (rows, records int) {
	return r.rows, r.emitted
}

// Close releases the source when it holds resources.
func (r *Reducer) Close() error {
	r.state = StateDone
	if c, ok := r.src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *Reducer) fail(err error) bool {
	r.err = err
	r.acc = nil
	r.current = nil
	r.state = StateDone
	return false
}

func (r *Reducer) emit(rec *Record) {
	r.current = rec
	r.acc = nil
	r.emitted++
}

func (r *Reducer) begin(row prefix.Row, key rootKey) {
	rootAttrs, _ := splitColumns(row)
	r.acc = newRecord(rootAttrs)
	r.accKey = key
	r.fold(r.acc, row)
}

func (r *Reducer) fold(rec *Record, row prefix.Row) {
	_, groups := splitColumns(row)
	b := builder{rec: rec}

	placed := map[string]NodeID{"": rootID}
	for _, rel := range r.plan.Relations {
		parent, ok := placed[rel.Parent]
		if !ok {
			continue
		}
		attrs := groups[rel.Alias]

		if rel.ToMany {
			b.ensureMany(parent, rel.Name)
			keyValue := row[rel.KeyColumn]
			if keyValue == nil {
				continue
			}
			placed[rel.Alias] = b.manyChild(parent, rel.Name, keyString(keyValue), func() map[string]any {
				return copyAttrs(attrs)
			})
			continue
		}

		id, present := b.oneChild(parent, rel.Name, func() (map[string]any, bool) {
			if !relatedPresent(rel, row, attrs) {
				return nil, false
			}
			return copyAttrs(attrs), true
		})
		if present {
			placed[rel.Alias] = id
		}
	}
}

type rootKey struct {
	valid bool
	value string
}

func (r *Reducer) rootKeyOf(row prefix.Row) (rootKey, error) {
	if r.plan.RootKey == "" {
		return rootKey{}, nil
	}
	v, ok := row[r.plan.RootKey]
	if !ok {
		if r.toMany {
			return rootKey{}, fmt.Errorf("%w: column %q is not in the result", ErrRootKey, r.plan.RootKey)
		}
		return rootKey{}, nil
	}
	if v == nil {
		if r.toMany {
			return rootKey{}, fmt.Errorf("%w: column %q is null", ErrRootKey, r.plan.RootKey)
		}
		return rootKey{}, nil
	}
	if !r.toMany {
		// Without fan-out every row is a distinct root entity.
		return rootKey{}, nil
	}
	return rootKey{valid: true, value: keyString(v)}, nil
}

// splitColumns separates root columns from relation columns, grouping the latter
// by alias. A column belongs to the alias before its last separator.
func splitColumns(row prefix.Row) (map[string]any, map[string]map[string]any) {
	root := make(map[string]any)
	groups := make(map[string]map[string]any)
	for name, v := range row {
		idx := strings.LastIndex(name, Separator)
		if idx < 0 {
			root[name] = v
			continue
		}
		alias, attr := name[:idx], name[idx+len(Separator):]
		if alias == "" {
			root[attr] = v
			continue
		}
		g, ok := groups[alias]
		if !ok {
			g = make(map[string]any)
			groups[alias] = g
		}
		g[attr] = v
	}
	return root, groups
}

func relatedPresent(rel Relation, row prefix.Row, attrs map[string]any) bool {
	if rel.KeyColumn != "" {
		if v, ok := row[rel.KeyColumn]; ok {
			return v != nil
		}
	}
	for _, v := range attrs {
		if v != nil {
			return true
		}
	}
	return false
}

func copyAttrs(attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
