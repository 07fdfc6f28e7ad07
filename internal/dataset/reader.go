package dataset

import (
	"github.com/apache/arrow/go/v7/arrow"
	"github.com/apache/arrow/go/v7/arrow/memory"

	"github.com/datashed/datashed/internal/chunk"
	"github.com/datashed/datashed/internal/schema"
	"github.com/datashed/datashed/pkg/types"
)

// Reader gives row and record access to a finished dataset directory.
type Reader struct {
	schema *types.Schema
	cr     *chunk.Reader
}

// Open reads every chunk of a dataset directory into memory. A dataset
// with zero chunks opens as empty with a nil schema.
func Open(dir string, mem memory.Allocator) (*Reader, error) {
	cr, err := chunk.Open(dir, mem)
	if err != nil {
		return nil, err
	}
	if cr.Schema() == nil {
		return &Reader{cr: cr}, nil
	}
	s, err := schema.FromArrow(cr.Schema())
	if err != nil {
		cr.Release()
		return nil, err
	}
	return &Reader{schema: s, cr: cr}, nil
}

// Schema returns the dataset schema, or nil for an empty dataset.
func (r *Reader) Schema() *types.Schema { return r.schema }

// NumRows returns the total row count across chunks.
func (r *Reader) NumRows() int64 { return r.cr.NumRows() }

// Records returns the raw Arrow records in chunk order.
func (r *Reader) Records() []arrow.Record { return r.cr.Records() }

// Rows decodes every record back into rows, in write order.
func (r *Reader) Rows() ([]types.Row, error) {
	if r.schema == nil {
		return nil, nil
	}
	out := make([]types.Row, 0, r.cr.NumRows())
	for _, rec := range r.cr.Records() {
		rows, err := schema.DecodeRows(r.schema, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}

// Head decodes at most n rows from the start of the dataset. Records past
// the limit are not decoded.
func (r *Reader) Head(n int) ([]types.Row, error) {
	if r.schema == nil || n <= 0 {
		return nil, nil
	}
	out := make([]types.Row, 0, n)
	for _, rec := range r.cr.Records() {
		rows, err := schema.DecodeRows(r.schema, rec)
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
		if len(out) >= n {
			return out[:n], nil
		}
	}
	return out, nil
}

// Release frees the underlying records.
func (r *Reader) Release() { r.cr.Release() }
