package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	dserrors "github.com/datashed/datashed/internal/errors"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(filepath.Join(t.TempDir(), "datashed.db"))
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func mustCreate(t *testing.T, c *Catalog, uid string, draft Draft) (*Record, string) {
	t.Helper()
	record, lease, err := c.Create(context.Background(), uid, "data/"+uid[:2]+"/"+uid, draft)
	if err != nil {
		t.Fatalf("failed to create dataset %s: %v", uid, err)
	}
	return record, lease
}

func TestCatalog_CreateAndGet(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	draft := Draft{
		Name:        "ramp",
		Description: "temperature ramp",
		Favorite:    true,
		Tags:        []string{"cryo", "run-7"},
	}
	created, lease := mustCreate(t, c, "aabb0011", draft)

	if lease == "" {
		t.Fatal("create returned an empty lease")
	}
	if created.Status != StatusWriting {
		t.Errorf("status mismatch: got %s, want %s", created.Status, StatusWriting)
	}

	record, err := c.Get(ctx, "aabb0011")
	if err != nil {
		t.Fatalf("failed to get dataset: %v", err)
	}
	if record.UID != "aabb0011" {
		t.Errorf("uid mismatch: got %s", record.UID)
	}
	if record.Name != draft.Name || record.Description != draft.Description {
		t.Errorf("draft fields mismatch: got %+v", record)
	}
	if !record.Favorite {
		t.Error("favorite flag lost")
	}
	if record.Path != "data/aa/aabb0011" {
		t.Errorf("path mismatch: got %s", record.Path)
	}
	if len(record.Tags) != 2 || record.Tags[0] != "cryo" || record.Tags[1] != "run-7" {
		t.Errorf("tags mismatch: got %v", record.Tags)
	}
	if record.CompletedAt != nil {
		t.Error("completed_at should be null while writing")
	}

	byID, err := c.GetByID(ctx, record.ID)
	if err != nil {
		t.Fatalf("failed to get dataset by id: %v", err)
	}
	if byID.UID != record.UID {
		t.Errorf("get by id returned %s, want %s", byID.UID, record.UID)
	}
}

func TestCatalog_CreateDuplicateUID(t *testing.T) {
	c := newTestCatalog(t)
	mustCreate(t, c, "aabb0011", Draft{Name: "first"})

	_, _, err := c.Create(context.Background(), "aabb0011", "data/aa/aabb0011", Draft{Name: "second"})
	if dserrors.GetKind(err) != dserrors.KindAlreadyExists {
		t.Errorf("expected already-exists, got %v", err)
	}
}

func TestCatalog_GetUnknown(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.Get(context.Background(), "missing0")
	if dserrors.GetKind(err) != dserrors.KindNotFound {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestCatalog_CompleteLifecycle(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	_, lease := mustCreate(t, c, "aabb0011", Draft{Name: "ramp", Tags: []string{"cryo"}})

	record, err := c.Complete(ctx, "aabb0011", lease, 120, 2)
	if err != nil {
		t.Fatalf("failed to complete: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Errorf("status mismatch: got %s, want %s", record.Status, StatusCompleted)
	}
	if record.RowCount != 120 || record.ChunkCount != 2 {
		t.Errorf("counts mismatch: got rows=%d chunks=%d", record.RowCount, record.ChunkCount)
	}
	if record.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if len(record.Tags) != 1 || record.Tags[0] != "cryo" {
		t.Errorf("tags lost on completion: %v", record.Tags)
	}
}

func TestCatalog_CompleteWrongLease(t *testing.T) {
	c := newTestCatalog(t)
	mustCreate(t, c, "aabb0011", Draft{Name: "ramp"})

	_, err := c.Complete(context.Background(), "aabb0011", "not-the-lease", 1, 1)
	if dserrors.GetCode(err) != dserrors.CodeUnknownLease {
		t.Errorf("expected unknown-lease, got %v", err)
	}
}

func TestCatalog_CompleteTwice(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	_, lease := mustCreate(t, c, "aabb0011", Draft{Name: "ramp"})

	if _, err := c.Complete(ctx, "aabb0011", lease, 1, 1); err != nil {
		t.Fatalf("first complete failed: %v", err)
	}
	_, err := c.Complete(ctx, "aabb0011", lease, 1, 1)
	if dserrors.GetCode(err) != dserrors.CodeLeaseConsumed {
		t.Errorf("expected lease-consumed, got %v", err)
	}
}

func TestCatalog_CompleteUnknownDataset(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.Complete(context.Background(), "missing0", "lease", 1, 1)
	if dserrors.GetKind(err) != dserrors.KindNotFound {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestCatalog_Abort(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	_, lease := mustCreate(t, c, "aabb0011", Draft{Name: "ramp"})

	record, err := c.Abort(ctx, "aabb0011", lease)
	if err != nil {
		t.Fatalf("failed to abort: %v", err)
	}
	if record.Status != StatusAborted {
		t.Errorf("status mismatch: got %s, want %s", record.Status, StatusAborted)
	}
	if record.CompletedAt != nil {
		t.Error("aborted dataset should not carry completed_at")
	}

	// The lease is consumed by the abort.
	_, err = c.Complete(ctx, "aabb0011", lease, 1, 1)
	if dserrors.GetCode(err) != dserrors.CodeLeaseConsumed {
		t.Errorf("expected lease-consumed after abort, got %v", err)
	}
}

func TestCatalog_ListAll(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	_, leaseA := mustCreate(t, c, "aaaa0001", Draft{Name: "ramp up", Tags: []string{"cryo"}})
	mustCreate(t, c, "bbbb0002", Draft{Name: "ramp down"})
	mustCreate(t, c, "cccc0003", Draft{Name: "noise floor", Tags: []string{"cryo"}})

	if _, err := c.Complete(ctx, "aaaa0001", leaseA, 10, 1); err != nil {
		t.Fatalf("failed to complete: %v", err)
	}

	// Newest first.
	records, err := c.ListAll(ctx, Filter{})
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	if records[0].UID != "cccc0003" || records[2].UID != "aaaa0001" {
		t.Errorf("listing not newest-first: %s, %s, %s", records[0].UID, records[1].UID, records[2].UID)
	}

	// Name substring.
	records, err = c.ListAll(ctx, Filter{Name: "ramp"})
	if err != nil {
		t.Fatalf("failed to list by name: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 ramp records, got %d", len(records))
	}

	// Tag filter.
	records, err = c.ListAll(ctx, Filter{Tag: "cryo"})
	if err != nil {
		t.Fatalf("failed to list by tag: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 cryo records, got %d", len(records))
	}

	// Status filter.
	records, err = c.ListAll(ctx, Filter{Status: StatusCompleted})
	if err != nil {
		t.Fatalf("failed to list by status: %v", err)
	}
	if len(records) != 1 || records[0].UID != "aaaa0001" {
		t.Errorf("expected only the completed record, got %d", len(records))
	}

	// Limit.
	records, err = c.ListAll(ctx, Filter{Limit: 1})
	if err != nil {
		t.Fatalf("failed to list with limit: %v", err)
	}
	if len(records) != 1 || records[0].UID != "cccc0003" {
		t.Errorf("limit should keep the newest record, got %v", records)
	}
}

func TestCatalog_Update(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	mustCreate(t, c, "aabb0011", Draft{Name: "ramp", Description: "old"})

	name := "ramp v2"
	favorite := true
	record, err := c.Update(ctx, "aabb0011", Patch{Name: &name, Favorite: &favorite})
	if err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	if record.Name != "ramp v2" || !record.Favorite {
		t.Errorf("patch not applied: %+v", record)
	}
	if record.Description != "old" {
		t.Errorf("untouched field changed: %q", record.Description)
	}

	_, err = c.Update(ctx, "missing0", Patch{Name: &name})
	if dserrors.GetKind(err) != dserrors.KindNotFound {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestCatalog_Tags(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	mustCreate(t, c, "aabb0011", Draft{Name: "ramp"})

	record, err := c.AddTags(ctx, "aabb0011", []string{"cryo", "run-7", "cryo"})
	if err != nil {
		t.Fatalf("failed to add tags: %v", err)
	}
	if len(record.Tags) != 2 {
		t.Errorf("expected 2 tags after dedup, got %v", record.Tags)
	}

	record, err = c.RemoveTags(ctx, "aabb0011", []string{"cryo", "never-there"})
	if err != nil {
		t.Fatalf("failed to remove tags: %v", err)
	}
	if len(record.Tags) != 1 || record.Tags[0] != "run-7" {
		t.Errorf("expected only run-7 left, got %v", record.Tags)
	}

	_, err = c.AddTags(ctx, "missing0", []string{"x"})
	if dserrors.GetKind(err) != dserrors.KindNotFound {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestCatalog_SweepWriting(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	_, leaseA := mustCreate(t, c, "aaaa0001", Draft{Name: "done"})
	mustCreate(t, c, "bbbb0002", Draft{Name: "orphan 1"})
	mustCreate(t, c, "cccc0003", Draft{Name: "orphan 2"})
	if _, err := c.Complete(ctx, "aaaa0001", leaseA, 5, 1); err != nil {
		t.Fatalf("failed to complete: %v", err)
	}

	swept, err := c.SweepWriting(ctx)
	if err != nil {
		t.Fatalf("failed to sweep: %v", err)
	}
	if swept != 2 {
		t.Errorf("expected 2 swept datasets, got %d", swept)
	}

	counts, err := c.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("failed to count by status: %v", err)
	}
	if counts[StatusAborted] != 2 || counts[StatusCompleted] != 1 || counts[StatusWriting] != 0 {
		t.Errorf("unexpected status counts: %v", counts)
	}
}

func TestCatalog_LeaseUniqueness(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()

	const n = 32
	leases := make([]string, n)
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			uid := fmt.Sprintf("%08d", i)
			_, lease, err := c.Create(ctx, uid, "data/"+uid[:2]+"/"+uid, Draft{Name: "concurrent"})
			leases[i] = lease
			errs[i] = err
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("create %d failed: %v", i, errs[i])
		}
		if seen[leases[i]] {
			t.Fatalf("duplicate lease issued: %s", leases[i])
		}
		seen[leases[i]] = true
	}
}

func TestCatalog_BackupAndRestore(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	mustCreate(t, c, "aabb0011", Draft{Name: "ramp", Tags: []string{"cryo"}})

	backupDir := t.TempDir()
	path, err := c.Backup(ctx, backupDir)
	if err != nil {
		t.Fatalf("failed to back up: %v", err)
	}
	if filepath.Ext(path) != ".sz" {
		t.Errorf("unexpected backup name: %s", path)
	}

	restored := filepath.Join(t.TempDir(), "restored.db")
	if err := RestoreBackup(path, restored); err != nil {
		t.Fatalf("failed to restore: %v", err)
	}

	rc, err := NewCatalog(restored)
	if err != nil {
		t.Fatalf("failed to open restored catalog: %v", err)
	}
	defer rc.Close()

	record, err := rc.Get(ctx, "aabb0011")
	if err != nil {
		t.Fatalf("restored catalog missing dataset: %v", err)
	}
	if record.Name != "ramp" || len(record.Tags) != 1 {
		t.Errorf("restored record mismatch: %+v", record)
	}

	// Restore refuses to overwrite.
	if err := RestoreBackup(path, restored); err == nil {
		t.Error("restore over an existing file should fail")
	}
}

func TestPruneBackups(t *testing.T) {
	dir := t.TempDir()
	names := []string{
		"catalog-20260101T000000Z.db.sz",
		"catalog-20260102T000000Z.db.sz",
		"catalog-20260103T000000Z.db.sz",
	}
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatalf("failed to plant backup: %v", err)
		}
	}
	// An unrelated file must be left alone.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to plant file: %v", err)
	}

	removed, err := PruneBackups(dir, 2)
	if err != nil {
		t.Fatalf("failed to prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, names[0])); !os.IsNotExist(err) {
		t.Error("oldest backup should be gone")
	}
	if _, err := os.Stat(filepath.Join(dir, names[2])); err != nil {
		t.Error("newest backup should remain")
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.txt")); err != nil {
		t.Error("unrelated file should remain")
	}
}
