package observability

import (
	"sync"
	"testing"
	"time"
)

// TestRecordRowsConcurrent tests concurrent RecordRows calls for race conditions.
func TestRecordRowsConcurrent(t *testing.T) {
	stats := NewServerStats(1 * time.Hour)
	var wg sync.WaitGroup
	numGoroutines := 10
	recordsPerGoroutine := 100

	stats.RecordCreate("aaaa0001")
	stats.RecordCreate("bbbb0002")

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				stats.RecordRows("aaaa0001", 3)
				stats.RecordRows("bbbb0002", 1)
			}
		}()
	}

	wg.Wait()

	snap := stats.Snapshot()
	expectedRows := int64(numGoroutines * recordsPerGoroutine * 4)
	if snap.RowsWritten != expectedRows {
		t.Errorf("expected %d rows written, got %d", expectedRows, snap.RowsWritten)
	}
	expectedRecords := int64(numGoroutines * recordsPerGoroutine * 2)
	if snap.RecordsWritten != expectedRecords {
		t.Errorf("expected %d records written, got %d", expectedRecords, snap.RecordsWritten)
	}
	if snap.ActiveWriters != 2 {
		t.Errorf("expected 2 active writers, got %d", snap.ActiveWriters)
	}
}

// TestTopWritersOrdering tests that TopWriters returns results sorted by row count.
func TestTopWritersOrdering(t *testing.T) {
	stats := NewServerStats(1 * time.Hour)

	stats.RecordCreate("aaaa0001")
	stats.RecordCreate("bbbb0002")
	stats.RecordCreate("cccc0003")
	stats.RecordRows("aaaa0001", 10)
	stats.RecordRows("bbbb0002", 5)
	stats.RecordRows("cccc0003", 20)

	top := stats.TopWriters(3)
	if len(top) != 3 {
		t.Fatalf("expected 3 writers, got %d", len(top))
	}

	// Should be ordered: cccc0003 (20), aaaa0001 (10), bbbb0002 (5)
	if top[0].UID != "cccc0003" || top[0].Rows != 20 {
		t.Errorf("expected cccc0003 with 20 rows, got %s with %d", top[0].UID, top[0].Rows)
	}
	if top[1].UID != "aaaa0001" || top[1].Rows != 10 {
		t.Errorf("expected aaaa0001 with 10 rows, got %s with %d", top[1].UID, top[1].Rows)
	}
	if top[2].UID != "bbbb0002" || top[2].Rows != 5 {
		t.Errorf("expected bbbb0002 with 5 rows, got %s with %d", top[2].UID, top[2].Rows)
	}

	// TopWriters returns copies; mutating them must not affect the tracker.
	top[0].Rows = 0
	again := stats.TopWriters(1)
	if again[0].Rows != 20 {
		t.Error("TopWriters returned a live reference")
	}
}

// TestLifecycleCounters tests create/complete/abort counting and writer retirement.
func TestLifecycleCounters(t *testing.T) {
	stats := NewServerStats(1 * time.Hour)

	stats.RecordCreate("aaaa0001")
	stats.RecordCreate("bbbb0002")
	stats.RecordComplete("aaaa0001")
	stats.RecordAbort("bbbb0002")
	stats.RecordOpen()
	stats.RecordOpen()

	snap := stats.Snapshot()
	if snap.DatasetsCreated != 2 {
		t.Errorf("expected 2 created, got %d", snap.DatasetsCreated)
	}
	if snap.DatasetsCompleted != 1 {
		t.Errorf("expected 1 completed, got %d", snap.DatasetsCompleted)
	}
	if snap.DatasetsAborted != 1 {
		t.Errorf("expected 1 aborted, got %d", snap.DatasetsAborted)
	}
	if snap.DatasetsOpened != 2 {
		t.Errorf("expected 2 opened, got %d", snap.DatasetsOpened)
	}
	if snap.ActiveWriters != 0 {
		t.Errorf("expected no active writers after retirement, got %d", snap.ActiveWriters)
	}
}

// TestPruneRemovesIdleWriters tests that Prune removes writers idle past the window.
func TestPruneRemovesIdleWriters(t *testing.T) {
	window := 100 * time.Millisecond
	stats := NewServerStats(window)

	stats.RecordCreate("aaaa0001")
	time.Sleep(150 * time.Millisecond)
	stats.RecordCreate("bbbb0002")

	stats.Prune()

	snap := stats.Snapshot()
	if snap.ActiveWriters != 1 {
		t.Errorf("expected 1 writer after prune, got %d", snap.ActiveWriters)
	}
	top := stats.TopWriters(10)
	if len(top) != 1 || top[0].UID != "bbbb0002" {
		t.Errorf("expected only bbbb0002 to survive, got %v", top)
	}
}
