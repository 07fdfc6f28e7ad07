package types

import (
	"fmt"
	"strings"
)

// ColumnType describes one column of a dataset schema. The set of legal
// combinations is closed:
//
//	scalar:  Kind ∈ {int64, float64, bool, string, complex128}
//	list:    Kind = list, Elem a scalar kind, Width > 0
//	trace:   Kind = trace, Elem ∈ {float64, complex128}, Step set
type ColumnType struct {
	// Kind is the top-level kind of the column.
	Kind Kind

	// Elem is the element kind of a list column or the item kind of a
	// trace column. Zero for scalar columns.
	Elem Kind

	// Width is the frozen element count of a list column.
	Width int

	// Step is the step layout of a trace column.
	Step TraceStep
}

// Scalar returns the column type for a plain scalar kind.
func Scalar(k Kind) ColumnType { return ColumnType{Kind: k} }

// ListOf returns the column type for a fixed-size list.
func ListOf(elem Kind, width int) ColumnType {
	return ColumnType{Kind: KindList, Elem: elem, Width: width}
}

// TraceOf returns the column type for a trace.
func TraceOf(step TraceStep, item Kind) ColumnType {
	return ColumnType{Kind: KindTrace, Elem: item, Step: step}
}

// Equal reports whether two column types are identical.
func (t ColumnType) Equal(o ColumnType) bool { return t == o }

// String renders the column type for error messages.
func (t ColumnType) String() string {
	switch t.Kind {
	case KindList:
		return fmt.Sprintf("list<%s>[%d]", t.Elem, t.Width)
	case KindTrace:
		return fmt.Sprintf("trace<%s,%s>", t.Step, t.Elem)
	default:
		return t.Kind.String()
	}
}

// Column is a named column of a dataset schema.
type Column struct {
	// Name is the column name.
	Name string

	// Type is the column type.
	Type ColumnType
}

// Schema is the frozen column layout of a dataset. Column order is the
// order of first appearance in the row the schema was inferred from.
type Schema struct {
	cols []Column
	idx  map[string]int
}

// NewSchema builds a schema from columns. Duplicate column names are rejected.
func NewSchema(cols []Column) (*Schema, error) {
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		if c.Name == "" {
			return nil, ErrEmptyColumnName
		}
		if _, dup := idx[c.Name]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateColumn, c.Name)
		}
		idx[c.Name] = i
	}
	return &Schema{cols: cols, idx: idx}, nil
}

// Len returns the number of columns.
func (s *Schema) Len() int { return len(s.cols) }

// Columns returns the columns in order. The slice must not be modified.
func (s *Schema) Columns() []Column { return s.cols }

// Column returns column i.
func (s *Schema) Column(i int) Column { return s.cols[i] }

// Index returns the position of the named column, or -1 if absent.
func (s *Schema) Index(name string) int {
	if i, ok := s.idx[name]; ok {
		return i
	}
	return -1
}

// Equal reports whether two schemas have identical columns in identical order.
func (s *Schema) Equal(o *Schema) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.cols) != len(o.cols) {
		return false
	}
	for i := range s.cols {
		if s.cols[i] != o.cols[i] {
			return false
		}
	}
	return true
}

// String renders the schema as "name:type, ..." for logs and errors.
func (s *Schema) String() string {
	var b strings.Builder
	for i, c := range s.cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c.Name)
		b.WriteByte(':')
		b.WriteString(c.Type.String())
	}
	return b.String()
}
