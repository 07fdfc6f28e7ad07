package dataset

import (
	"fmt"
	"os"

	"github.com/apache/arrow/go/v7/arrow"
	"github.com/apache/arrow/go/v7/arrow/memory"

	"github.com/datashed/datashed/internal/chunk"
	dserrors "github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/internal/schema"
	"github.com/datashed/datashed/pkg/types"
)

// DefaultFlushBytes is the batch buffer size. Buffered rows are cut into an
// Arrow record once their estimated size reaches this threshold.
const DefaultFlushBytes = 64 << 20

// WriterOptions tune the write path. Zero values select defaults.
type WriterOptions struct {
	// FlushBytes caps the estimated size of the row buffer.
	FlushBytes int64
	// MaxChunkBytes is the chunk rotation threshold.
	MaxChunkBytes int64
}

// Writer appends rows to a dataset directory. The schema is inferred from
// the first row and frozen; every later row must match it. Rows accumulate
// in memory and are cut into chunk files as they grow.
type Writer struct {
	dir        string
	mem        memory.Allocator
	flushBytes int64
	chunkBytes int64

	schema   *types.Schema
	enc      *schema.Encoder
	cw       *chunk.Writer
	buffered int64
	rows     int64
	closed   bool
}

// Result summarizes a finished dataset.
type Result struct {
	Rows   int64
	Chunks []chunk.Info
	Schema *types.Schema
}

// NewWriter creates a writer for a dataset directory, creating the
// directory if needed.
func NewWriter(dir string, mem memory.Allocator, opts WriterOptions) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("dataset: failed to create directory %s", dir), err)
	}
	flushBytes := opts.FlushBytes
	if flushBytes <= 0 {
		flushBytes = DefaultFlushBytes
	}
	return &Writer{
		dir:        dir,
		mem:        mem,
		flushBytes: flushBytes,
		chunkBytes: opts.MaxChunkBytes,
	}, nil
}

// Dir returns the dataset directory.
func (w *Writer) Dir() string { return w.dir }

// Rows returns the number of rows written so far.
func (w *Writer) Rows() int64 { return w.rows }

// Schema returns the frozen schema, or nil before the first row.
func (w *Writer) Schema() *types.Schema { return w.schema }

// WriteRow appends one row. The first row freezes the schema.
func (w *Writer) WriteRow(row types.Row) error {
	if w.closed {
		return dserrors.NewIOError(dserrors.CodeWriteFailed, "dataset: writer is closed", nil)
	}
	if w.schema == nil {
		s, err := schema.Infer(row)
		if err != nil {
			return err
		}
		w.adopt(s, nil)
	}
	if err := w.enc.Append(row); err != nil {
		return err
	}
	w.rows++
	w.buffered += approxRowBytes(row)
	if w.buffered >= w.flushBytes {
		return w.flushBatch()
	}
	return nil
}

// WriteRecord appends a pre-encoded Arrow record, the path taken by the
// remote write stream. The first record freezes the schema; mixing records
// with a schema other than the frozen one is a schema mismatch.
func (w *Writer) WriteRecord(rec arrow.Record) error {
	if w.closed {
		return dserrors.NewIOError(dserrors.CodeWriteFailed, "dataset: writer is closed", nil)
	}
	if w.schema == nil {
		s, err := schema.FromArrow(rec.Schema())
		if err != nil {
			return err
		}
		w.adopt(s, rec.Schema())
	}
	if err := w.flushBatch(); err != nil {
		return err
	}
	if _, err := w.cw.Write(rec); err != nil {
		return err
	}
	w.rows += rec.NumRows()
	return nil
}

func (w *Writer) adopt(s *types.Schema, as *arrow.Schema) {
	w.schema = s
	w.enc = schema.NewEncoder(w.mem, s)
	if as == nil {
		as = w.enc.ArrowSchema()
	}
	w.cw = chunk.NewWriter(w.dir, as, w.mem, w.chunkBytes)
}

func (w *Writer) flushBatch() error {
	if w.enc == nil || w.enc.Len() == 0 {
		w.buffered = 0
		return nil
	}
	rec := w.enc.Flush()
	defer rec.Release()
	w.buffered = 0
	_, err := w.cw.Write(rec)
	return err
}

// Finish flushes remaining rows, closes the open chunk, and reports what
// was written. A writer that saw no rows finishes with zero chunks.
func (w *Writer) Finish() (Result, error) {
	if w.closed {
		return Result{}, dserrors.NewIOError(dserrors.CodeWriteFailed, "dataset: writer is closed", nil)
	}
	w.closed = true
	if w.schema == nil {
		return Result{}, nil
	}
	if err := w.flushBatch(); err != nil {
		return Result{}, err
	}
	w.enc.Release()
	if err := w.cw.Finish(); err != nil {
		return Result{}, err
	}
	return Result{Rows: w.rows, Chunks: w.cw.Chunks(), Schema: w.schema}, nil
}

// Abort closes the writer without completing the dataset. Chunk files
// already on disk are left for the catalog to account as aborted.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.schema == nil {
		return nil
	}
	w.enc.Release()
	return w.cw.Finish()
}

func approxRowBytes(row types.Row) int64 {
	var n int64
	for _, c := range row {
		n += approxValueBytes(c.Value)
	}
	return n
}

func approxValueBytes(v types.Value) int64 {
	switch v.Kind() {
	case types.KindInt64, types.KindFloat64, types.KindBool:
		return 8
	case types.KindString:
		return int64(len(v.AsString())) + 16
	case types.KindComplex128:
		return 16
	case types.KindList:
		l := v.AsList()
		if l.Elem() == types.KindString {
			var n int64
			for i := 0; i < l.Len(); i++ {
				n += int64(len(l.StrAt(i))) + 16
			}
			return n
		}
		return int64(l.Len()) * 8
	case types.KindTrace:
		tr := v.AsTrace()
		per := int64(8)
		if tr.Item() == types.KindComplex128 {
			per = 16
		}
		n := int64(tr.Len()) * per
		if tr.Step() == types.StepVariable {
			n += int64(tr.Len()) * 8
		}
		return n
	default:
		return 8
	}
}
