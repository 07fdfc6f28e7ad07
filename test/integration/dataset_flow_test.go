// Package integration provides end-to-end integration tests for datashed.
package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/datashed/datashed/internal/archive"
	"github.com/datashed/datashed/internal/catalog"
	"github.com/datashed/datashed/internal/dataset"
	"github.com/datashed/datashed/internal/server"
	"github.com/datashed/datashed/internal/storage"
	"github.com/datashed/datashed/internal/workspace"
	"github.com/datashed/datashed/pkg/types"
)

// testRows covers every column type: scalars, complex, and a fixed trace.
func testRows() []types.Row {
	rows := make([]types.Row, 3)
	for i := range rows {
		rows[i] = types.Row{
			{Name: "t", Value: types.Int(int64(i))},
			{Name: "temp", Value: types.Float(20.0 + float64(i)*0.5)},
			{Name: "ok", Value: types.Bool(i%2 == 0)},
			{Name: "note", Value: types.Str("settled")},
			{Name: "z", Value: types.Complex(complex(2, 3))},
			{Name: "w", Value: types.TraceValue(types.FixedTrace(0.1, 0.5, []float64{1, 2, 3}))},
		}
	}
	return rows
}

func assertRowsEqual(t *testing.T, want, got []types.Row) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i := range want {
		if len(got[i]) != len(want[i]) {
			t.Fatalf("row %d: expected %d columns, got %d", i, len(want[i]), len(got[i]))
		}
		for j := range want[i] {
			if got[i][j].Name != want[i][j].Name {
				t.Fatalf("row %d column %d: expected name %s, got %s", i, j, want[i][j].Name, got[i][j].Name)
			}
			if !got[i][j].Value.Equal(want[i][j].Value) {
				t.Fatalf("row %d column %s: expected %v, got %v", i, want[i][j].Name, want[i][j].Value, got[i][j].Value)
			}
		}
	}
}

// TestDatasetLifecycle walks the full local flow: initialize a workspace,
// write a dataset through the server, read it back, and read it again
// after a restart.
func TestDatasetLifecycle(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "ws")

	ws, err := workspace.Init(dir)
	if err != nil {
		t.Fatalf("failed to init workspace: %v", err)
	}

	srv := server.New(ws, server.Options{})
	if err := srv.Serve(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	dw, err := srv.CreateDataset(ctx, catalog.Draft{
		Name: "ramsey",
		Tags: []string{"qubit1"},
	})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}

	want := testRows()
	for _, row := range want {
		if err := dw.WriteRow(row); err != nil {
			t.Fatalf("failed to write row: %v", err)
		}
	}

	record, err := dw.Finish(ctx)
	if err != nil {
		t.Fatalf("failed to finish dataset: %v", err)
	}
	if record.Status != catalog.StatusCompleted {
		t.Errorf("expected status completed, got %s", record.Status)
	}
	if record.RowCount != int64(len(want)) {
		t.Errorf("expected row_count=%d, got %d", len(want), record.RowCount)
	}

	reader, _, err := srv.OpenDataset(ctx, record.UID)
	if err != nil {
		t.Fatalf("failed to open dataset: %v", err)
	}
	got, err := reader.Rows()
	reader.Release()
	if err != nil {
		t.Fatalf("failed to read rows: %v", err)
	}
	assertRowsEqual(t, want, got)

	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shut down: %v", err)
	}

	// Reopen the workspace: the dataset must survive a restart.
	ws, err = workspace.Open(dir)
	if err != nil {
		t.Fatalf("failed to reopen workspace: %v", err)
	}
	srv = server.New(ws, server.Options{})
	if err := srv.Serve(); err != nil {
		t.Fatalf("failed to restart server: %v", err)
	}
	defer srv.Shutdown(ctx)

	reader, reopened, err := srv.OpenDataset(ctx, record.UID)
	if err != nil {
		t.Fatalf("failed to open dataset after restart: %v", err)
	}
	defer reader.Release()

	if reopened.RowCount != int64(len(want)) {
		t.Errorf("expected row_count=%d after restart, got %d", len(want), reopened.RowCount)
	}
	got, err = reader.Rows()
	if err != nil {
		t.Fatalf("failed to read rows after restart: %v", err)
	}
	assertRowsEqual(t, want, got)
}

// TestArchiveRoundTrip pushes a finished dataset to archive storage,
// removes the local copy, and restores it.
func TestArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()

	ws, err := workspace.Init(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatalf("failed to init workspace: %v", err)
	}
	srv := server.New(ws, server.Options{})
	if err := srv.Serve(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Shutdown(ctx)

	dw, err := srv.CreateDataset(ctx, catalog.Draft{Name: "cavity-scan"})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	for i := 0; i < 50; i++ {
		row := types.Row{
			{Name: "f", Value: types.Float(5.0 + float64(i)*0.001)},
			{Name: "s21", Value: types.Complex(complex(float64(i), -float64(i)))},
		}
		if err := dw.WriteRow(row); err != nil {
			t.Fatalf("failed to write row: %v", err)
		}
	}
	record, err := dw.Finish(ctx)
	if err != nil {
		t.Fatalf("failed to finish dataset: %v", err)
	}

	store, err := storage.NewLocalStorage(filepath.Join(t.TempDir(), "store"))
	if err != nil {
		t.Fatalf("failed to create archive storage: %v", err)
	}
	arch := archive.New(store, archive.Options{})

	dir := ws.Root().Resolve(record.Path)
	push, err := arch.Push(ctx, dir, record.UID)
	if err != nil {
		t.Fatalf("failed to push dataset: %v", err)
	}
	if push.Objects < 2 {
		t.Errorf("expected at least a chunk and the sidecar, got %d objects", push.Objects)
	}

	// Drop the local copy, then restore it from the archive.
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("failed to remove dataset dir: %v", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("failed to recreate dataset dir: %v", err)
	}

	pull, err := arch.Pull(ctx, record.UID, dir)
	if err != nil {
		t.Fatalf("failed to pull dataset: %v", err)
	}
	if pull.Objects != push.Objects {
		t.Errorf("expected %d objects restored, got %d", push.Objects, pull.Objects)
	}

	if err := dataset.Verify(dir); err != nil {
		t.Fatalf("restored dataset failed verification: %v", err)
	}

	reader, _, err := srv.OpenDataset(ctx, record.UID)
	if err != nil {
		t.Fatalf("failed to open restored dataset: %v", err)
	}
	defer reader.Release()
	if reader.NumRows() != 50 {
		t.Errorf("expected 50 rows after restore, got %d", reader.NumRows())
	}
}

// TestVerifyDetectsCorruption flips one byte in a chunk file and expects
// verification to fail.
func TestVerifyDetectsCorruption(t *testing.T) {
	ctx := context.Background()

	ws, err := workspace.Init(filepath.Join(t.TempDir(), "ws"))
	if err != nil {
		t.Fatalf("failed to init workspace: %v", err)
	}
	srv := server.New(ws, server.Options{})
	if err := srv.Serve(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	defer srv.Shutdown(ctx)

	dw, err := srv.CreateDataset(ctx, catalog.Draft{Name: "noisy"})
	if err != nil {
		t.Fatalf("failed to create dataset: %v", err)
	}
	for i := 0; i < 10; i++ {
		if err := dw.WriteRow(types.Row{{Name: "x", Value: types.Int(int64(i))}}); err != nil {
			t.Fatalf("failed to write row: %v", err)
		}
	}
	record, err := dw.Finish(ctx)
	if err != nil {
		t.Fatalf("failed to finish dataset: %v", err)
	}

	dir := ws.Root().Resolve(record.Path)
	if err := dataset.Verify(dir); err != nil {
		t.Fatalf("fresh dataset failed verification: %v", err)
	}

	meta, err := dataset.ReadMeta(dir)
	if err != nil {
		t.Fatalf("failed to read sidecar: %v", err)
	}
	if len(meta.Chunks) == 0 {
		t.Fatal("expected at least one chunk")
	}

	chunkPath := filepath.Join(dir, meta.Chunks[0].Name)
	data, err := os.ReadFile(chunkPath)
	if err != nil {
		t.Fatalf("failed to read chunk: %v", err)
	}
	data[len(data)/2] ^= 0xFF
	if err := os.WriteFile(chunkPath, data, 0644); err != nil {
		t.Fatalf("failed to write corrupted chunk: %v", err)
	}

	if err := dataset.Verify(dir); err == nil {
		t.Fatal("expected verification to fail on a corrupted chunk")
	}
}
