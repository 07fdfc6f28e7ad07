package server

import (
	"context"
	"sync"

	"github.com/apache/arrow/go/v7/arrow"

	"github.com/datashed/datashed/internal/catalog"
	"github.com/datashed/datashed/internal/dataset"
	dserrors "github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/pkg/types"
)

// DatasetWriter is the handle for one writing dataset. Row and record
// writes lock only the handle, not the server, so concurrent writers to
// different datasets never contend.
type DatasetWriter struct {
	srv    *Server
	uid    types.DatasetUID
	lease  string
	record *catalog.Record

	mu      sync.Mutex
	w       *dataset.Writer
	closed  bool
	claimed bool
}

// UID returns the dataset uid.
func (dw *DatasetWriter) UID() types.DatasetUID { return dw.uid }

// Lease returns the write lease token.
func (dw *DatasetWriter) Lease() string { return dw.lease }

// Record returns the catalog record as of creation.
func (dw *DatasetWriter) Record() *catalog.Record { return dw.record }

// WriteRow appends one row. The first row freezes the dataset schema.
func (dw *DatasetWriter) WriteRow(row types.Row) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.closed {
		return dserrors.New(dserrors.KindInvalidLease, dserrors.CodeLeaseConsumed,
			"server: dataset writer is closed")
	}
	if err := dw.w.WriteRow(row); err != nil {
		return err
	}
	dw.srv.stats.RecordRows(dw.uid.String(), 1)
	return nil
}

// WriteRecord appends a pre-encoded record batch. The first write freezes
// the dataset schema.
func (dw *DatasetWriter) WriteRecord(rec arrow.Record) error {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	if dw.closed {
		return dserrors.New(dserrors.KindInvalidLease, dserrors.CodeLeaseConsumed,
			"server: dataset writer is closed")
	}
	if err := dw.w.WriteRecord(rec); err != nil {
		return err
	}
	dw.srv.stats.RecordRows(dw.uid.String(), rec.NumRows())
	return nil
}

// Schema returns the frozen dataset schema, or nil before the first write.
func (dw *DatasetWriter) Schema() *types.Schema {
	dw.mu.Lock()
	defer dw.mu.Unlock()
	return dw.w.Schema()
}

// Finish flushes and seals the dataset: chunks are closed, the catalog
// record moves to completed, and the metadata sidecar is written. The
// handle is unusable afterwards.
func (dw *DatasetWriter) Finish(ctx context.Context) (*catalog.Record, error) {
	dw.mu.Lock()
	if dw.closed {
		dw.mu.Unlock()
		return nil, dserrors.New(dserrors.KindInvalidLease, dserrors.CodeLeaseConsumed,
			"server: dataset writer is closed")
	}
	res, err := dw.w.Finish()
	if err != nil {
		dw.mu.Unlock()
		return nil, err
	}
	dw.closed = true
	dw.mu.Unlock()

	var (
		record *catalog.Record
		rerr   error
	)
	err = dw.srv.do(ctx, func() { record, rerr = dw.srv.finishDataset(ctx, dw, res) })
	if err != nil {
		return nil, err
	}
	return record, rerr
}

func (s *Server) finishDataset(ctx context.Context, dw *DatasetWriter, res dataset.Result) (*catalog.Record, error) {
	record, err := s.ws.Catalog().Complete(ctx, dw.uid.String(), dw.lease, res.Rows, int64(len(res.Chunks)))
	if err != nil {
		return nil, err
	}
	s.dropWriter(dw.lease)
	s.stats.RecordComplete(dw.uid.String())

	meta := &dataset.Meta{
		UID:         record.UID,
		Name:        record.Name,
		Description: record.Description,
		Favorite:    record.Favorite,
		Tags:        append([]string(nil), record.Tags...),
		CreatedAt:   record.CreatedAt,
		CompletedAt: record.CompletedAt,
		Rows:        res.Rows,
		Chunks:      res.Chunks,
	}
	if err := dataset.WriteMeta(s.ws.Root().DatasetDir(dw.uid), meta); err != nil {
		return nil, err
	}
	return record, nil
}

// Abort discards the dataset: buffered rows are dropped and the catalog
// record moves to aborted. Chunks already on disk stay for inspection.
func (dw *DatasetWriter) Abort(ctx context.Context) error {
	if err := dw.abort(ctx); err != nil {
		return err
	}
	dw.srv.stats.RecordAbort(dw.uid.String())
	return nil
}

// abort closes the file writer and marks the catalog record aborted. It
// talks to the catalog directly so the shutdown path can use it after the
// command loop has stopped.
func (dw *DatasetWriter) abort(ctx context.Context) error {
	dw.mu.Lock()
	if dw.closed {
		dw.mu.Unlock()
		return nil
	}
	dw.closed = true
	err := dw.w.Abort()
	dw.mu.Unlock()
	if err != nil {
		return err
	}

	dw.srv.dropWriter(dw.lease)
	_, err = dw.srv.ws.Catalog().Abort(ctx, dw.uid.String(), dw.lease)
	return err
}

func (s *Server) dropWriter(lease string) {
	s.writersMu.Lock()
	delete(s.writers, lease)
	s.writersMu.Unlock()
}
