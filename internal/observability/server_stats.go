// Package observability provides write and read statistics for monitoring
// an active workspace server.
package observability

import (
	"sort"
	"sync"
	"time"
)

// ServerStats tracks dataset lifecycle counts and per-writer activity.
type ServerStats struct {
	mu      sync.RWMutex
	started time.Time
	window  time.Duration

	datasetsCreated   int64
	datasetsCompleted int64
	datasetsAborted   int64
	datasetsOpened    int64
	rowsWritten       int64
	recordsWritten    int64

	writers map[string]*WriterStats
}

// WriterStats holds live statistics for one open dataset writer.
type WriterStats struct {
	UID       string
	Rows      int64
	Records   int64
	LastWrite time.Time
}

// Snapshot is a point-in-time copy of the counters, shaped for the stats
// endpoint.
type Snapshot struct {
	UptimeSeconds     int64 `json:"uptime_seconds"`
	DatasetsCreated   int64 `json:"datasets_created"`
	DatasetsCompleted int64 `json:"datasets_completed"`
	DatasetsAborted   int64 `json:"datasets_aborted"`
	DatasetsOpened    int64 `json:"datasets_opened"`
	RowsWritten       int64 `json:"rows_written"`
	RecordsWritten    int64 `json:"records_written"`
	ActiveWriters     int   `json:"active_writers"`
}

// NewServerStats creates a statistics tracker.
// window: how long an idle writer entry survives Prune (e.g. 1 hour).
func NewServerStats(window time.Duration) *ServerStats {
	return &ServerStats{
		started: time.Now(),
		window:  window,
		writers: make(map[string]*WriterStats),
	}
}

// RecordCreate notes a newly created dataset writer.
// This method is O(1) and thread-safe.
func (s *ServerStats) RecordCreate(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.datasetsCreated++
	s.writers[uid] = &WriterStats{UID: uid, LastWrite: time.Now()}
}

// RecordRows notes rows appended to an open writer.
// This method is O(1) and thread-safe.
func (s *ServerStats) RecordRows(uid string, rows int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, exists := s.writers[uid]
	if !exists {
		w = &WriterStats{UID: uid}
		s.writers[uid] = w
	}
	w.Rows += rows
	w.Records++
	w.LastWrite = time.Now()

	s.rowsWritten += rows
	s.recordsWritten++
}

// RecordComplete notes a completed dataset and retires its writer entry.
func (s *ServerStats) RecordComplete(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.datasetsCompleted++
	delete(s.writers, uid)
}

// RecordAbort notes an aborted dataset and retires its writer entry.
func (s *ServerStats) RecordAbort(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.datasetsAborted++
	delete(s.writers, uid)
}

// RecordOpen notes a dataset opened for reading.
func (s *ServerStats) RecordOpen() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.datasetsOpened++
}

// Snapshot returns a copy of the counters.
func (s *ServerStats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		UptimeSeconds:     int64(time.Since(s.started).Seconds()),
		DatasetsCreated:   s.datasetsCreated,
		DatasetsCompleted: s.datasetsCompleted,
		DatasetsAborted:   s.datasetsAborted,
		DatasetsOpened:    s.datasetsOpened,
		RowsWritten:       s.rowsWritten,
		RecordsWritten:    s.recordsWritten,
		ActiveWriters:     len(s.writers),
	}
}

// TopWriters returns the top N open writers by row count.
// Returns copies sorted by rows (descending).
func (s *ServerStats) TopWriters(n int) []WriterStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.writers) == 0 {
		return []WriterStats{}
	}

	stats := make([]WriterStats, 0, len(s.writers))
	for _, w := range s.writers {
		stats = append(stats, *w)
	}

	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Rows > stats[j].Rows
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes writer entries where time.Since(LastWrite) > window.
// This should be called periodically (e.g., every 5 minutes); completing or
// aborting a dataset retires its entry directly.
func (s *ServerStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-s.window)
	for uid, w := range s.writers {
		if w.LastWrite.Before(threshold) {
			delete(s.writers, uid)
		}
	}
}
