package schema

import "fmt"

// EntityDecl is the configuration form of an Entity.
type EntityDecl struct {
	Name       string         `mapstructure:"name" yaml:"name"`
	Table      string         `mapstructure:"table" yaml:"table"`
	PrimaryKey string         `mapstructure:"primary_key" yaml:"primary_key"`
	Columns    []string       `mapstructure:"columns" yaml:"columns"`
	Relations  []RelationDecl `mapstructure:"relations" yaml:"relations"`
}

// RelationDecl is the configuration form of a Relation.
type RelationDecl struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Kind       string `mapstructure:"kind" yaml:"kind"`
	Related    string `mapstructure:"related" yaml:"related"`
	ForeignKey string `mapstructure:"foreign_key" yaml:"foreign_key"`
	LocalKey   string `mapstructure:"local_key" yaml:"local_key"`
	OwnerKey   string `mapstructure:"owner_key" yaml:"owner_key"`
	UniqueKey  string `mapstructure:"unique_key" yaml:"unique_key"`
}

// FromDecls converts declarations into entities, parsing relation kinds.
func FromDecls(decls []EntityDecl) ([]Entity, error) {
	entities := make([]Entity, 0, len(decls))
	for _, d := range decls {
		e := Entity{
			Name:       d.Name,
			Table:      d.Table,
			PrimaryKey: d.PrimaryKey,
			Columns:    append([]string(nil), d.Columns...),
		}
		for _, rd := range d.Relations {
			kind, err := ParseKind(rd.Kind)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", d.Name, rd.Name, err)
			}
			e.Relations = append(e.Relations, Relation{
				Name:       rd.Name,
				Kind:       kind,
				Related:    rd.Related,
				ForeignKey: rd.ForeignKey,
				LocalKey:   rd.LocalKey,
				OwnerKey:   rd.OwnerKey,
				UniqueKey:  rd.UniqueKey,
			})
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// Merge overlays declared entities onto discovered ones. A declared entity replaces
// scalar fields it sets and adds or replaces relations by name.
func Merge(discovered, declared []Entity) []Entity {
	index := make(map[string]int, len(discovered))
	out := make([]Entity, 0, len(discovered)+len(declared))
	for _, e := range discovered {
		index[e.Name] = len(out)
		out = append(out, e)
	}

	for _, d := range declared {
		i, ok := index[d.Name]
		if !ok {
			index[d.Name] = len(out)
			out = append(out, d)
			continue
		}
		base := out[i]
		if d.Table != "" {
			base.Table = d.Table
		}
		if d.PrimaryKey != "" {
			base.PrimaryKey = d.PrimaryKey
		}
		if len(d.Columns) > 0 {
			base.Columns = d.Columns
		}
		rels := append([]Relation(nil), base.Relations...)
		for _, rel := range d.Relations {
			replaced := false
			for j := range rels {
				if rels[j].Name == rel.Name {
					rels[j] = rel
					replaced = true
					break
				}
			}
			if !replaced {
				rels = append(rels, rel)
			}
		}
		base.Relations = rels
		out[i] = base
	}
	return out
}
