// Package server runs a workspace: control operations are serialized
// through a single command loop, row writes go straight to per-dataset
// writer handles, and shutdown management drains the API surfaces.
package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/apache/arrow/go/v7/arrow/memory"

	"github.com/datashed/datashed/internal/catalog"
	"github.com/datashed/datashed/internal/dataset"
	dserrors "github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/internal/observability"
	"github.com/datashed/datashed/internal/workspace"
	"github.com/datashed/datashed/pkg/types"
)

// State is the server lifecycle state.
type State int32

const (
	StateInitializing State = iota
	StateServing
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateServing:
		return "serving"
	case StateShuttingDown:
		return "shutting-down"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options tune a workspace server. Zero values select defaults.
type Options struct {
	// MaxChunkBytes is the chunk rotation threshold for dataset writers.
	MaxChunkBytes int64
	// FlushBytes is the row batch buffer threshold for dataset writers.
	FlushBytes int64
	// CommandBuffer is the capacity of the control command channel.
	CommandBuffer int
	// StatsWindow is how long idle writer statistics survive pruning.
	StatsWindow time.Duration
	// Allocator is the Arrow allocator shared by all writers and readers.
	Allocator memory.Allocator
}

// Server owns an open workspace. All control operations are funneled
// through a command channel consumed by a single goroutine; row writes
// bypass the channel and go straight to the dataset writer handle.
type Server struct {
	ws    *workspace.Workspace
	stats *observability.ServerStats
	mem   memory.Allocator

	state    int32
	commands chan func()
	loopDone chan struct{}
	stopOnce sync.Once

	writersMu sync.Mutex
	writers   map[string]*DatasetWriter // keyed by write lease

	chunkBytes int64
	flushBytes int64
}

// New creates a server for an open workspace. The server starts in the
// initializing state; call Serve to start accepting operations.
func New(ws *workspace.Workspace, opts Options) *Server {
	buf := opts.CommandBuffer
	if buf <= 0 {
		buf = 64
	}
	window := opts.StatsWindow
	if window <= 0 {
		window = time.Hour
	}
	mem := opts.Allocator
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &Server{
		ws:         ws,
		stats:      observability.NewServerStats(window),
		mem:        mem,
		state:      int32(StateInitializing),
		commands:   make(chan func(), buf),
		loopDone:   make(chan struct{}),
		writers:    make(map[string]*DatasetWriter),
		chunkBytes: opts.MaxChunkBytes,
		flushBytes: opts.FlushBytes,
	}
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(atomic.LoadInt32(&s.state))
}

// Serve starts the command loop and moves the server to serving.
func (s *Server) Serve() error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(StateInitializing), int32(StateServing)) {
		return dserrors.New(dserrors.KindServerStopped, dserrors.CodeNotServing,
			fmt.Sprintf("server: cannot serve from state %s", s.State()))
	}
	go s.loop()
	return nil
}

// loop consumes control commands until shutdown.
func (s *Server) loop() {
	defer close(s.loopDone)
	for cmd := range s.commands {
		cmd()
		if s.State() == StateStopped {
			return
		}
	}
}

// notServing builds the rejection error for the current state.
func (s *Server) notServing() error {
	if s.State() == StateInitializing {
		return dserrors.New(dserrors.KindServerStopped, dserrors.CodeNotServing,
			"server: not serving yet")
	}
	return dserrors.NewServerStopped("server: stopped")
}

// do runs fn on the command loop and waits for it to finish.
func (s *Server) do(ctx context.Context, fn func()) error {
	if s.State() != StateServing {
		return s.notServing()
	}
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case s.commands <- wrapped:
	case <-s.loopDone:
		return dserrors.NewServerStopped("server: stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-s.loopDone:
		// The loop exited without running the command.
		select {
		case <-done:
			return nil
		default:
			return dserrors.NewServerStopped("server: shut down before the operation ran")
		}
	}
}

// Stats returns the server's statistics tracker.
func (s *Server) Stats() *observability.ServerStats { return s.stats }

// Workspace returns the underlying workspace.
func (s *Server) Workspace() *workspace.Workspace { return s.ws }

// CreateDataset registers a new dataset in the writing state and returns
// the writer handle bound to its write lease.
func (s *Server) CreateDataset(ctx context.Context, draft catalog.Draft) (*DatasetWriter, error) {
	var (
		dw   *DatasetWriter
		rerr error
	)
	if err := s.do(ctx, func() { dw, rerr = s.createDataset(ctx, draft) }); err != nil {
		return nil, err
	}
	return dw, rerr
}

func (s *Server) createDataset(ctx context.Context, draft catalog.Draft) (*DatasetWriter, error) {
	uid := types.NewDatasetUID()
	record, lease, err := s.ws.Catalog().Create(ctx, uid.String(), workspace.DatasetPath(uid), draft)
	if err != nil {
		return nil, err
	}

	w, err := dataset.NewWriter(s.ws.Root().DatasetDir(uid), s.mem, dataset.WriterOptions{
		FlushBytes:    s.flushBytes,
		MaxChunkBytes: s.chunkBytes,
	})
	if err != nil {
		// Roll the record back so a directory failure doesn't leave a
		// writing dataset behind.
		if _, aerr := s.ws.Catalog().Abort(ctx, uid.String(), lease); aerr != nil {
			log.Printf("[WARN] server: failed to abort dataset %s after writer error: %v", uid, aerr)
		}
		return nil, err
	}

	dw := &DatasetWriter{
		srv:    s,
		uid:    uid,
		lease:  lease,
		record: record,
		w:      w,
	}
	s.writersMu.Lock()
	s.writers[lease] = dw
	s.writersMu.Unlock()
	s.stats.RecordCreate(uid.String())
	return dw, nil
}

// ClaimWriter hands out the writer for a write lease exactly once. The
// remote write stream claims its writer this way; a second claim of the
// same lease fails.
func (s *Server) ClaimWriter(lease string) (*DatasetWriter, error) {
	if s.State() != StateServing {
		return nil, s.notServing()
	}
	s.writersMu.Lock()
	defer s.writersMu.Unlock()

	dw, ok := s.writers[lease]
	if !ok {
		return nil, dserrors.NewInvalidLease("server: unknown write lease")
	}
	if dw.claimed {
		return nil, dserrors.New(dserrors.KindInvalidLease, dserrors.CodeLeaseConsumed,
			"server: write lease already claimed")
	}
	dw.claimed = true
	return dw, nil
}

// GetDataset returns the catalog record for a dataset uid.
func (s *Server) GetDataset(ctx context.Context, uid string) (*catalog.Record, error) {
	var (
		record *catalog.Record
		rerr   error
	)
	if err := s.do(ctx, func() { record, rerr = s.ws.Catalog().Get(ctx, uid) }); err != nil {
		return nil, err
	}
	return record, rerr
}

// GetDatasetByID returns the catalog record for a catalog id.
func (s *Server) GetDatasetByID(ctx context.Context, id int64) (*catalog.Record, error) {
	var (
		record *catalog.Record
		rerr   error
	)
	if err := s.do(ctx, func() { record, rerr = s.ws.Catalog().GetByID(ctx, id) }); err != nil {
		return nil, err
	}
	return record, rerr
}

// ListDatasets returns catalog records newest first.
func (s *Server) ListDatasets(ctx context.Context, filter catalog.Filter) ([]*catalog.Record, error) {
	var (
		records []*catalog.Record
		rerr    error
	)
	if err := s.do(ctx, func() { records, rerr = s.ws.Catalog().ListAll(ctx, filter) }); err != nil {
		return nil, err
	}
	return records, rerr
}

// UpdateDataset applies a partial update and, for completed datasets,
// rewrites the metadata sidecar to match.
func (s *Server) UpdateDataset(ctx context.Context, uid string, patch catalog.Patch) (*catalog.Record, error) {
	var (
		record *catalog.Record
		rerr   error
	)
	if err := s.do(ctx, func() { record, rerr = s.updateDataset(ctx, uid, patch) }); err != nil {
		return nil, err
	}
	return record, rerr
}

func (s *Server) updateDataset(ctx context.Context, uid string, patch catalog.Patch) (*catalog.Record, error) {
	record, err := s.ws.Catalog().Update(ctx, uid, patch)
	if err != nil {
		return nil, err
	}
	s.refreshSidecar(record)
	return record, nil
}

// AddDatasetTags attaches tags and refreshes the sidecar.
func (s *Server) AddDatasetTags(ctx context.Context, uid string, tags []string) (*catalog.Record, error) {
	var (
		record *catalog.Record
		rerr   error
	)
	err := s.do(ctx, func() {
		record, rerr = s.ws.Catalog().AddTags(ctx, uid, tags)
		if rerr == nil {
			s.refreshSidecar(record)
		}
	})
	if err != nil {
		return nil, err
	}
	return record, rerr
}

// RemoveDatasetTags detaches tags and refreshes the sidecar.
func (s *Server) RemoveDatasetTags(ctx context.Context, uid string, tags []string) (*catalog.Record, error) {
	var (
		record *catalog.Record
		rerr   error
	)
	err := s.do(ctx, func() {
		record, rerr = s.ws.Catalog().RemoveTags(ctx, uid, tags)
		if rerr == nil {
			s.refreshSidecar(record)
		}
	})
	if err != nil {
		return nil, err
	}
	return record, rerr
}

// refreshSidecar rewrites a completed dataset's metadata.json after a
// catalog change. Best-effort: the catalog stays authoritative.
func (s *Server) refreshSidecar(record *catalog.Record) {
	if record.Status != catalog.StatusCompleted {
		return
	}
	dir := s.ws.Root().Resolve(record.Path)
	meta, err := dataset.ReadMeta(dir)
	if err != nil {
		log.Printf("[WARN] server: failed to read sidecar for %s: %v", record.UID, err)
		return
	}
	meta.Name = record.Name
	meta.Description = record.Description
	meta.Favorite = record.Favorite
	meta.Tags = append([]string(nil), record.Tags...)
	if err := dataset.WriteMeta(dir, meta); err != nil {
		log.Printf("[WARN] server: failed to rewrite sidecar for %s: %v", record.UID, err)
	}
}

// OpenDataset opens a completed dataset for reading.
func (s *Server) OpenDataset(ctx context.Context, uid string) (*dataset.Reader, *catalog.Record, error) {
	record, err := s.GetDataset(ctx, uid)
	if err != nil {
		return nil, nil, err
	}
	if record.Status != catalog.StatusCompleted {
		return nil, nil, dserrors.New(dserrors.KindNotFound, dserrors.CodeDatasetNotFound,
			fmt.Sprintf("server: dataset %s is %s, not completed", uid, record.Status))
	}
	r, err := dataset.Open(s.ws.Root().Resolve(record.Path), s.mem)
	if err != nil {
		return nil, nil, err
	}
	s.stats.RecordOpen()
	return r, record, nil
}

// Shutdown stops the server: new operations are rejected, open writers are
// aborted, queued commands drain, and the workspace is closed. It is
// idempotent; later calls return nil immediately.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() { err = s.shutdown(ctx) })
	return err
}

func (s *Server) shutdown(ctx context.Context) error {
	prev := State(atomic.SwapInt32(&s.state, int32(StateShuttingDown)))

	// Abort writers that never finished. Their leases die with the process
	// anyway; aborting records it in the catalog.
	s.writersMu.Lock()
	open := make([]*DatasetWriter, 0, len(s.writers))
	for _, dw := range s.writers {
		open = append(open, dw)
	}
	s.writersMu.Unlock()
	for _, dw := range open {
		if err := dw.abort(ctx); err != nil {
			log.Printf("[WARN] server: failed to abort dataset %s during shutdown: %v", dw.uid, err)
		}
	}

	if prev == StateServing {
		// Let queued commands drain, then stop the loop.
		stop := func() { atomic.StoreInt32(&s.state, int32(StateStopped)) }
		select {
		case s.commands <- stop:
			select {
			case <-s.loopDone:
			case <-ctx.Done():
				atomic.StoreInt32(&s.state, int32(StateStopped))
				return ctx.Err()
			}
		case <-ctx.Done():
			atomic.StoreInt32(&s.state, int32(StateStopped))
			return ctx.Err()
		}
	}
	atomic.StoreInt32(&s.state, int32(StateStopped))

	return s.ws.Close()
}
