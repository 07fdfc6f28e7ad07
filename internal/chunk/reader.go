package chunk

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/apache/arrow/go/v7/arrow"
	"github.com/apache/arrow/go/v7/arrow/ipc"
	"github.com/apache/arrow/go/v7/arrow/memory"

	"github.com/datashed/datashed/internal/errors"
)

// Reader holds the records of all chunk files of a dataset, in write order.
// Records are retained; callers must Release the reader when done.
type Reader struct {
	schema *arrow.Schema
	recs   []arrow.Record
	rows   int64
}

// Open reads every chunk file of a dataset directory in numeric order.
// A dataset with zero chunks yields a Reader with a nil schema and no rows.
// Chunks whose schema differs from chunk 0 are reported as corruption.
func Open(dir string, mem memory.Allocator) (*Reader, error) {
	names, err := List(dir)
	if err != nil {
		return nil, err
	}

	r := &Reader{}
	for _, name := range names {
		path := filepath.Join(dir, name)
		recs, schema, err := readFile(path, mem)
		if err != nil {
			r.Release()
			return nil, err
		}
		if r.schema == nil {
			r.schema = schema
		} else if !schema.Equal(r.schema) {
			for _, rec := range recs {
				rec.Release()
			}
			r.Release()
			return nil, errors.NewCorrupt(errors.CodeBadIPCFile,
				fmt.Sprintf("chunk %s schema differs from chunk 0", name), nil)
		}
		for _, rec := range recs {
			r.recs = append(r.recs, rec)
			r.rows += rec.NumRows()
		}
	}
	return r, nil
}

// Schema returns the shared chunk schema, or nil for a zero-chunk dataset.
func (r *Reader) Schema() *arrow.Schema { return r.schema }

// Records returns all records in write order. The reader keeps ownership.
func (r *Reader) Records() []arrow.Record { return r.recs }

// NumRows returns the total row count across all chunks.
func (r *Reader) NumRows() int64 { return r.rows }

// Release drops all retained records.
func (r *Reader) Release() {
	for _, rec := range r.recs {
		rec.Release()
	}
	r.recs = nil
}

func readFile(path string, mem memory.Allocator) ([]arrow.Record, *arrow.Schema, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.NewIOError(errors.CodeReadFailed,
			fmt.Sprintf("failed to open chunk %s", path), err)
	}
	defer f.Close()

	fr, err := ipc.NewFileReader(f, ipc.WithAllocator(mem))
	if err != nil {
		return nil, nil, errors.NewCorrupt(errors.CodeBadIPCFile,
			fmt.Sprintf("chunk %s is not a valid arrow file", path), err)
	}
	defer fr.Close()

	recs := make([]arrow.Record, 0, fr.NumRecords())
	for i := 0; i < fr.NumRecords(); i++ {
		rec, err := fr.Record(i)
		if err != nil {
			for _, r := range recs {
				r.Release()
			}
			return nil, nil, errors.NewCorrupt(errors.CodeBadIPCFile,
				fmt.Sprintf("failed to read record %d of %s", i, path), err)
		}
		rec.Retain()
		recs = append(recs, rec)
	}
	return recs, fr.Schema(), nil
}
