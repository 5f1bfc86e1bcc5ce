package prefix

import (
	"fmt"
	"strings"
)

// Case forces decoded column names to one letter case.
type Case string

const (
	CaseNatural Case = ""
	CaseLower   Case = "lower"
	CaseUpper   Case = "upper"
)

// Apply converts name to the forced case.
func (c Case) Apply(name string) string {
	switch c {
	case CaseLower:
		return strings.ToLower(name)
	case CaseUpper:
		return strings.ToUpper(name)
	default:
		return name
	}
}

// ParseCase accepts "", "natural", "lower" and "upper".
func ParseCase(value string) (Case, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "natural":
		return CaseNatural, nil
	case "lower":
		return CaseLower, nil
	case "upper":
		return CaseUpper, nil
	default:
		return "", fmt.Errorf("unknown attribute case %q", value)
	}
}

// Row is a decoded result row keyed by (possibly prefixed) column name.
type Row map[string]any

// Mapping translates cursor column positions into decoded names.
// Sentinel positions are marked as dropped.
type Mapping struct {
	names []string
	keep  []bool
}

// NewMapping walks the raw column names of an open cursor and applies group
// prefixes. Sentinel detection is case-insensitive because some drivers fold
// identifier case.
func NewMapping(columns []string, forceCase Case) *Mapping {
	m := &Mapping{
		names: make([]string, len(columns)),
		keep:  make([]bool, len(columns)),
	}

	currPrefix := ""
	for i, name := range columns {
		name = forceCase.Apply(name)

		upper := strings.ToUpper(name)
		switch {
		case upper == endMarker:
			currPrefix = ""
		case strings.HasPrefix(upper, startMarker):
			encoded := name[len(startMarker):]
			if idx := strings.LastIndex(encoded, markerTail); idx >= 0 {
				encoded = encoded[:idx]
			}
			currPrefix = Decode(encoded)
		default:
			m.names[i] = currPrefix + name
			m.keep[i] = true
		}
	}
	return m
}

// Names returns the decoded names of the kept columns, in cursor order.
func (m *Mapping) Names() []string {
	out := make([]string, 0, len(m.names))
	for i, name := range m.names {
		if m.keep[i] {
			out = append(out, name)
		}
	}
	return out
}

// Width is the raw column count the mapping was built for.
func (m *Mapping) Width() int {
	return len(m.names)
}

// Row builds a named row from positional values. Later duplicates win.
func (m *Mapping) Row(values []any) Row {
	row := make(Row, len(values))
	for i, v := range values {
		if i >= len(m.names) || !m.keep[i] {
			continue
		}
		row[m.names[i]] = normalize(v)
	}
	return row
}

func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
