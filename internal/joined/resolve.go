package joined

import (
	"fmt"
	"strings"

	"relfold/internal/reduce"
	"relfold/internal/schema"
)

// NestedPaths expands "a.b.c" into "a", "a.b", "a.b.c".
func NestedPaths(path string) []string {
	segments := strings.Split(path, ".")
	out := make([]string, len(segments))
	for i := range segments {
		out[i] = strings.Join(segments[:i+1], ".")
	}
	return out
}

// Alias is the table alias and column prefix stem of a relation path: dots become "::".
func Alias(path string) string {
	return strings.ReplaceAll(path, ".", reduce.Separator)
}

// ParentAlias returns the alias of the relation's parent, which is the root table for
// top-level relations.
func ParentAlias(rootTable, path string) string {
	idx := strings.LastIndex(path, ".")
	if idx < 0 {
		return rootTable
	}
	return Alias(path[:idx])
}

// ResolvedRelation is one step of a resolved relation path.
type ResolvedRelation struct {
	Path     string
	Relation schema.Relation
	Parent   *schema.Entity
	Related  *schema.Entity
}

// ResolvePath walks path from root, one relation per segment. Every segment is
// looked up on the entity the previous segment pointed at.
func ResolvePath(reg *schema.Registry, root *schema.Entity, path string) ([]ResolvedRelation, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty relation path", ErrRelationNotFound)
	}

	segments := strings.Split(path, ".")
	out := make([]ResolvedRelation, 0, len(segments))
	current := root
	for i, segment := range segments {
		prefixPath := strings.Join(segments[:i+1], ".")
		if segment == "" {
			return nil, fmt.Errorf("%w: relation %q has an empty segment", ErrRelationNotFound, prefixPath)
		}
		rel, ok := current.Relation(segment)
		if !ok {
			return nil, fmt.Errorf("%w: relation %q does not exist on %s", ErrRelationNotFound, prefixPath, current.Name)
		}
		related, ok := reg.Entity(rel.Related)
		if !ok {
			return nil, fmt.Errorf("%w: relation %q points at unknown entity %s", ErrRelationNotFound, prefixPath, rel.Related)
		}
		out = append(out, ResolvedRelation{Path: prefixPath, Relation: rel, Parent: current, Related: related})
		current = related
	}
	return out, nil
}

// ResolveRelation returns the last relation of path.
func ResolveRelation(reg *schema.Registry, root *schema.Entity, path string) (ResolvedRelation, error) {
	chain, err := ResolvePath(reg, root, path)
	if err != nil {
		return ResolvedRelation{}, err
	}
	return chain[len(chain)-1], nil
}
