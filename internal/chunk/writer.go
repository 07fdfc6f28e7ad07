package chunk

import (
	"fmt"
	"io"
	"os"

	"github.com/apache/arrow/go/v7/arrow"
	"github.com/apache/arrow/go/v7/arrow/ipc"
	"github.com/apache/arrow/go/v7/arrow/memory"

	"github.com/datashed/datashed/internal/errors"
)

// Writer writes records into data_chunk_<N>.arrow files, rotating to the
// next index when the current file reaches the size threshold. A chunk file
// is opened lazily on the first record, so finishing a writer that never
// received a record leaves the directory without chunk files.
//
// Writer is not safe for concurrent use.
type Writer struct {
	dir      string
	schema   *arrow.Schema
	mem      memory.Allocator
	maxBytes int64

	nextIndex int
	cur       *fileWriter
	finished  []Info
	closed    bool
}

// NewWriter creates a chunk writer for a dataset directory. maxBytes <= 0
// selects DefaultMaxChunkBytes.
func NewWriter(dir string, schema *arrow.Schema, mem memory.Allocator, maxBytes int64) *Writer {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxChunkBytes
	}
	return &Writer{
		dir:      dir,
		schema:   schema,
		mem:      mem,
		maxBytes: maxBytes,
	}
}

// Schema returns the schema all chunks share.
func (w *Writer) Schema() *arrow.Schema { return w.schema }

// Write appends one record to the current chunk, rotating afterwards if the
// chunk reached the size threshold. It reports whether a rotation happened.
func (w *Writer) Write(rec arrow.Record) (bool, error) {
	if w.closed {
		return false, errors.NewIOError(errors.CodeWriteFailed, "chunk writer already finished", nil)
	}
	if !rec.Schema().Equal(w.schema) {
		return false, errors.NewSchemaMismatch(errors.CodeSchemaChanged,
			"record schema differs from the dataset schema")
	}

	if w.cur == nil {
		fw, err := newFileWriter(w.dir, w.nextIndex, w.schema, w.mem)
		if err != nil {
			return false, err
		}
		w.nextIndex++
		w.cur = fw
	}

	if err := w.cur.write(rec); err != nil {
		return false, err
	}
	if w.cur.size >= w.maxBytes {
		if err := w.finishCurrent(); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// Finish closes the open chunk, if any, and marks the writer done. It is
// safe to call Finish on a writer that never saw a record.
func (w *Writer) Finish() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.finishCurrent()
}

// Chunks returns descriptions of all finished chunk files, in index order.
func (w *Writer) Chunks() []Info { return w.finished }

// Rows returns the total rows written across finished and open chunks.
func (w *Writer) Rows() int64 {
	var total int64
	for _, c := range w.finished {
		total += c.Rows
	}
	if w.cur != nil {
		total += w.cur.rows
	}
	return total
}

func (w *Writer) finishCurrent() error {
	if w.cur == nil {
		return nil
	}
	cur := w.cur
	w.cur = nil

	info, err := cur.finish()
	if err != nil {
		return err
	}
	w.finished = append(w.finished, info)
	return nil
}

// fileWriter owns one open chunk file.
type fileWriter struct {
	index int
	path  string
	f     *os.File
	fw    *ipc.FileWriter
	rows  int64
	size  int64
}

func newFileWriter(dir string, index int, schema *arrow.Schema, mem memory.Allocator) (*fileWriter, error) {
	path := FilePath(dir, index)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, errors.NewAlreadyExists(errors.CodeDatasetExists,
				fmt.Sprintf("chunk file %s already exists", path))
		}
		return nil, errors.NewIOError(errors.CodeWriteFailed, "failed to create chunk file", err)
	}

	fw, err := ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, errors.NewIOError(errors.CodeWriteFailed, "failed to start chunk file", err)
	}
	return &fileWriter{index: index, path: path, f: f, fw: fw}, nil
}

func (c *fileWriter) write(rec arrow.Record) error {
	if err := c.fw.Write(rec); err != nil {
		return errors.NewIOError(errors.CodeWriteFailed,
			fmt.Sprintf("failed to write record to %s", c.path), err)
	}
	c.rows += rec.NumRows()

	pos, err := c.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return errors.NewIOError(errors.CodeWriteFailed, "failed to measure chunk size", err)
	}
	c.size = pos
	return nil
}

func (c *fileWriter) finish() (Info, error) {
	if err := c.fw.Close(); err != nil {
		c.f.Close()
		return Info{}, errors.NewIOError(errors.CodeWriteFailed,
			fmt.Sprintf("failed to finish chunk %s", c.path), err)
	}
	if err := c.f.Close(); err != nil {
		return Info{}, errors.NewIOError(errors.CodeWriteFailed,
			fmt.Sprintf("failed to close chunk %s", c.path), err)
	}

	st, err := os.Stat(c.path)
	if err != nil {
		return Info{}, errors.NewIOError(errors.CodeReadFailed, "failed to stat finished chunk", err)
	}
	sum, err := ChecksumFile(c.path)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Index:    c.index,
		Name:     FileName(c.index),
		Rows:     c.rows,
		Bytes:    st.Size(),
		Checksum: sum,
	}, nil
}
