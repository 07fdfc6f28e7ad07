package types

// Cell is a named value inside a row.
type Cell struct {
	// Name is the column name the value belongs to.
	Name string

	// Value is the cell payload.
	Value Value
}

// Row is an ordered sequence of cells. Column order in the inferred schema
// is the order of first appearance in the first row, so Row preserves
// insertion order rather than using a map.
type Row []Cell

// Names returns the cell names in order.
func (r Row) Names() []string {
	names := make([]string, len(r))
	for i, c := range r {
		names[i] = c.Name
	}
	return names
}

// Lookup returns the value for the named cell and whether it exists.
func (r Row) Lookup(name string) (Value, bool) {
	for _, c := range r {
		if c.Name == name {
			return c.Value, true
		}
	}
	return Value{}, false
}

// Equal reports whether two rows have the same cells in the same order.
func (r Row) Equal(o Row) bool {
	if len(r) != len(o) {
		return false
	}
	for i := range r {
		if r[i].Name != o[i].Name || !r[i].Value.Equal(o[i].Value) {
			return false
		}
	}
	return true
}
