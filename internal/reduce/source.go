package reduce

import (
	"relfold/internal/dbexec"
	"relfold/internal/prefix"
)

// CursorSource reads decoded rows from an open cursor.
type CursorSource struct {
	rows    dbexec.Rows
	mapping *prefix.Mapping
}

// FromCursor wraps rows whose columns were described by mapping.
func FromCursor(rows dbexec.Rows, mapping *prefix.Mapping) *CursorSource {
	return &CursorSource{rows: rows, mapping: mapping}
}

func (s *CursorSource) Next() bool {
	return s.rows.Next()
}

func (s *CursorSource) Row() (prefix.Row, error) {
	values, err := dbexec.ScanValues(s.rows, s.mapping.Width())
	if err != nil {
		return nil, err
	}
	return s.mapping.Row(values), nil
}

func (s *CursorSource) Err() error {
	return s.rows.Err()
}

func (s *CursorSource) Close() error {
	return s.rows.Close()
}

// SliceSource replays rows already in memory.
type SliceSource struct {
	rows []prefix.Row
	pos  int
}

// FromRows wraps an in-memory page of rows.
func FromRows(rows []prefix.Row) *SliceSource {
	return &SliceSource{rows: rows, pos: -1}
}

func (s *SliceSource) Next() bool {
	if s.pos+1 >= len(s.rows) {
		s.pos = len(s.rows)
		return false
	}
	s.pos++
	return true
}

func (s *SliceSource) Row() (prefix.Row, error) {
	return s.rows[s.pos], nil
}

func (s *SliceSource) Err() error {
	return nil
}
