package server

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/datashed/datashed/internal/catalog"
	"github.com/datashed/datashed/internal/dataset"
	dserrors "github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/internal/workspace"
	"github.com/datashed/datashed/pkg/types"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "ws")
	ws, err := workspace.Init(dir)
	if err != nil {
		t.Fatalf("failed to init workspace: %v", err)
	}
	s := New(ws, Options{})
	if err := s.Serve(); err != nil {
		t.Fatalf("failed to serve: %v", err)
	}
	t.Cleanup(func() { s.Shutdown(context.Background()) })
	return s, dir
}

func sampleRow(i int64, amp float64) types.Row {
	return types.Row{
		{Name: "i", Value: types.Int(i)},
		{Name: "amp", Value: types.Float(amp)},
	}
}

func TestServer_WriteReadRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	dw, err := s.CreateDataset(ctx, catalog.Draft{Name: "rabi", Tags: []string{"qubit1"}})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	for i := int64(0); i < 5; i++ {
		if err := dw.WriteRow(sampleRow(i, float64(i)*0.1)); err != nil {
			t.Fatalf("failed to write row %d: %v", i, err)
		}
	}
	record, err := dw.Finish(ctx)
	if err != nil {
		t.Fatalf("failed to finish: %v", err)
	}
	if record.Status != catalog.StatusCompleted {
		t.Fatalf("expected completed, got %s", record.Status)
	}
	if record.RowCount != 5 {
		t.Errorf("expected 5 rows in record, got %d", record.RowCount)
	}

	r, got, err := s.OpenDataset(ctx, dw.UID().String())
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	defer r.Release()
	if got.Name != "rabi" {
		t.Errorf("expected name rabi, got %q", got.Name)
	}
	rows, err := r.Rows()
	if err != nil {
		t.Fatalf("failed to decode rows: %v", err)
	}
	if len(rows) != 5 || !rows[4].Equal(sampleRow(4, 0.4)) {
		t.Errorf("rows did not survive the round trip: %v", rows)
	}

	meta, err := dataset.ReadMeta(s.Workspace().Root().Resolve(record.Path))
	if err != nil {
		t.Fatalf("failed to read sidecar: %v", err)
	}
	if meta.Rows != 5 || meta.Name != "rabi" {
		t.Errorf("sidecar out of sync: %+v", meta)
	}
	if meta.CompletedAt == nil {
		t.Error("sidecar missing completion time")
	}
}

func TestServer_ShutdownIsIdempotent(t *testing.T) {
	s, _ := newTestServer(t)

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown failed: %v", err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("second shutdown should be a no-op, got %v", err)
	}
	if s.State() != StateStopped {
		t.Errorf("expected stopped, got %s", s.State())
	}
}

func TestServer_OperationsAfterShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	_, err := s.CreateDataset(ctx, catalog.Draft{Name: "late"})
	if !dserrors.IsKind(err, dserrors.KindServerStopped) {
		t.Errorf("expected server-stopped error from create, got %v", err)
	}
	_, err = s.ListDatasets(ctx, catalog.Filter{})
	if !dserrors.IsKind(err, dserrors.KindServerStopped) {
		t.Errorf("expected server-stopped error from list, got %v", err)
	}
	_, err = s.ClaimWriter("nope")
	if !dserrors.IsKind(err, dserrors.KindServerStopped) {
		t.Errorf("expected server-stopped error from claim, got %v", err)
	}
}

func TestServer_ShutdownAbortsOpenWriters(t *testing.T) {
	s, dir := newTestServer(t)
	ctx := context.Background()

	dw, err := s.CreateDataset(ctx, catalog.Draft{Name: "interrupted"})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	if err := dw.WriteRow(sampleRow(0, 1.0)); err != nil {
		t.Fatalf("failed to write row: %v", err)
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	// The writer handle is dead now.
	if err := dw.WriteRow(sampleRow(1, 2.0)); !dserrors.IsKind(err, dserrors.KindInvalidLease) {
		t.Errorf("expected invalid-lease error after shutdown, got %v", err)
	}

	ws, err := workspace.Open(dir)
	if err != nil {
		t.Fatalf("failed to reopen workspace: %v", err)
	}
	defer ws.Close()
	record, err := ws.Catalog().Get(ctx, dw.UID().String())
	if err != nil {
		t.Fatalf("failed to get record: %v", err)
	}
	if record.Status != catalog.StatusAborted {
		t.Errorf("expected aborted, got %s", record.Status)
	}
}

func TestServer_ConcurrentCreates(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	const n = 16
	var (
		mu      sync.Mutex
		leases  = make(map[string]bool)
		uids    = make(map[string]bool)
		writers [n]*DatasetWriter
		wg      sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			dw, err := s.CreateDataset(ctx, catalog.Draft{Name: "burst"})
			if err != nil {
				t.Errorf("create %d failed: %v", i, err)
				return
			}
			writers[i] = dw
			mu.Lock()
			leases[dw.Lease()] = true
			uids[dw.UID().String()] = true
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(leases) != n || len(uids) != n {
		t.Fatalf("expected %d distinct leases and uids, got %d and %d", n, len(leases), len(uids))
	}
	for _, dw := range writers {
		if dw == nil {
			continue
		}
		if err := dw.Abort(ctx); err != nil {
			t.Errorf("abort failed: %v", err)
		}
	}
}

func TestServer_ClaimWriterSingleUse(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	dw, err := s.CreateDataset(ctx, catalog.Draft{Name: "stream"})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}

	claimed, err := s.ClaimWriter(dw.Lease())
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if claimed != dw {
		t.Fatal("claim returned a different writer")
	}
	if _, err := s.ClaimWriter(dw.Lease()); dserrors.GetCode(err) != dserrors.CodeLeaseConsumed {
		t.Errorf("expected lease-consumed on second claim, got %v", err)
	}
	if _, err := s.ClaimWriter("bogus"); !dserrors.IsKind(err, dserrors.KindInvalidLease) {
		t.Errorf("expected invalid-lease for unknown token, got %v", err)
	}
}

func TestServer_FinishTwice(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	dw, err := s.CreateDataset(ctx, catalog.Draft{Name: "once"})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	if err := dw.WriteRow(sampleRow(0, 0)); err != nil {
		t.Fatalf("failed to write row: %v", err)
	}
	if _, err := dw.Finish(ctx); err != nil {
		t.Fatalf("first finish failed: %v", err)
	}
	if _, err := dw.Finish(ctx); dserrors.GetCode(err) != dserrors.CodeLeaseConsumed {
		t.Errorf("expected lease-consumed on second finish, got %v", err)
	}
}

func TestServer_OpenDatasetRequiresCompleted(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	dw, err := s.CreateDataset(ctx, catalog.Draft{Name: "open-while-writing"})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	defer dw.Abort(ctx)

	if _, _, err := s.OpenDataset(ctx, dw.UID().String()); !dserrors.IsKind(err, dserrors.KindNotFound) {
		t.Errorf("expected not-found for a writing dataset, got %v", err)
	}
}

func TestServer_UpdateRefreshesSidecar(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	dw, err := s.CreateDataset(ctx, catalog.Draft{Name: "draft-name"})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	if err := dw.WriteRow(sampleRow(0, 0)); err != nil {
		t.Fatalf("failed to write row: %v", err)
	}
	record, err := dw.Finish(ctx)
	if err != nil {
		t.Fatalf("failed to finish: %v", err)
	}

	name := "final-name"
	fav := true
	if _, err := s.UpdateDataset(ctx, record.UID, catalog.Patch{Name: &name, Favorite: &fav}); err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	if _, err := s.AddDatasetTags(ctx, record.UID, []string{"spectroscopy"}); err != nil {
		t.Fatalf("failed to tag: %v", err)
	}

	meta, err := dataset.ReadMeta(s.Workspace().Root().Resolve(record.Path))
	if err != nil {
		t.Fatalf("failed to read sidecar: %v", err)
	}
	if meta.Name != "final-name" || !meta.Favorite {
		t.Errorf("sidecar not refreshed: %+v", meta)
	}
	if len(meta.Tags) != 1 || meta.Tags[0] != "spectroscopy" {
		t.Errorf("sidecar tags not refreshed: %v", meta.Tags)
	}
}

func TestServer_ServeTwice(t *testing.T) {
	s, _ := newTestServer(t)
	if err := s.Serve(); !dserrors.IsKind(err, dserrors.KindServerStopped) {
		t.Errorf("expected error from second serve, got %v", err)
	}
}

func TestServer_ListThroughServer(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	for _, name := range []string{"first", "second"} {
		dw, err := s.CreateDataset(ctx, catalog.Draft{Name: name})
		if err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
		if err := dw.WriteRow(sampleRow(0, 0)); err != nil {
			t.Fatalf("failed to write: %v", err)
		}
		if _, err := dw.Finish(ctx); err != nil {
			t.Fatalf("failed to finish %s: %v", name, err)
		}
	}

	records, err := s.ListDatasets(ctx, catalog.Filter{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Name != "second" || records[1].Name != "first" {
		t.Errorf("expected newest first, got %s then %s", records[0].Name, records[1].Name)
	}
}
