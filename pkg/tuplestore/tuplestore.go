package tuplestore

import (
	"fmt"
	"sync"
)

// ColumnType is the logical type of a result column.
type ColumnType string

const (
	TypeOid         ColumnType = "oid"
	TypeBigint      ColumnType = "bigint"
	TypeDouble      ColumnType = "double precision"
	TypeTimestampTz ColumnType = "timestamp with time zone"
)

// Column describes one field of a result row.
type Column struct {
	Name     string     `json:"name"`
	Type     ColumnType `json:"type"`
	Nullable bool       `json:"nullable"`
}

// Descriptor is the row type a caller expects back.
// Composite is false for scalar return types, which cannot hold a record.
type Descriptor struct {
	Name      string
	Columns   []Column
	Composite bool
}

// Width returns the number of fields in a row.
func (d *Descriptor) Width() int {
	return len(d.Columns)
}

// Mode is a bit set of the ways a caller can receive a set of rows.
type Mode int

const (
	ModeValuePerCall Mode = 1 << iota
	ModeMaterialize
)

// ResultRequest is what a caller hands to a set-returning operation.
type ResultRequest struct {
	AllowedModes Mode
	Desc         *Descriptor
}

// NewMaterializeRequest builds a request accepting a materialized set of desc rows.
func NewMaterializeRequest(desc *Descriptor) *ResultRequest {
	return &ResultRequest{
		AllowedModes: ModeMaterialize,
		Desc:         desc,
	}
}

// Row is one materialized record. Nil values are SQL NULLs.
type Row []any

// Store is an append-only, ordered buffer of rows built once per call and
// handed back whole. Appending a row of the wrong width, or appending after
// Done, is a programming error and panics.
type Store struct {
	desc *Descriptor
	rows []Row

	mu   sync.Mutex
	done bool
}

// New creates an empty store for rows of desc.
func New(desc *Descriptor) *Store {
	return &Store{desc: desc}
}

// Descriptor returns the row type of the store.
func (s *Store) Descriptor() *Descriptor {
	return s.desc
}

// PutValues appends one row. The values slice is copied.
func (s *Store) PutValues(values ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		panic(fmt.Sprintf("tuplestore %s: row appended after Done", s.desc.Name))
	}
	if len(values) != s.desc.Width() {
		panic(fmt.Sprintf("tuplestore %s: got %d values, row type has %d columns",
			s.desc.Name, len(values), s.desc.Width()))
	}

	row := make(Row, len(values))
	copy(row, values)
	s.rows = append(s.rows, row)
}

// Done marks the store complete.
func (s *Store) Done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
}

// Len returns the number of rows.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Rows returns the stored rows in insertion order.
func (s *Store) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Row, len(s.rows))
	copy(out, s.rows)
	return out
}

// Records returns every row as a column-name keyed map, ready for JSON encoding.
func (s *Store) Records() []map[string]any {
	rows := s.Rows()
	out := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]any, len(row))
		for i, col := range s.desc.Columns {
			rec[col.Name] = row[i]
		}
		out = append(out, rec)
	}
	return out
}
