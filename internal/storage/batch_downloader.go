package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDownloader pulls sets of objects from storage in parallel. Archive
// restores use it to fetch every chunk of a dataset at once.
type BatchDownloader struct {
	storage     ObjectStorage
	concurrency int
}

// BatchResult summarizes a batch download.
type BatchResult struct {
	// LocalPaths maps object paths to the files they were written to.
	LocalPaths map[string]string
	// Errors maps object paths to their download errors.
	Errors map[string]error
	// Skipped counts objects whose destination file already existed.
	Skipped int
	// Downloads counts objects actually fetched.
	Downloads int
}

// Failed returns true if any object in the batch failed to download.
func (r *BatchResult) Failed() bool { return len(r.Errors) > 0 }

// First returns one failed object and its error, or "" and nil if all
// objects downloaded.
func (r *BatchResult) First() (string, error) {
	for object, err := range r.Errors {
		return object, err
	}
	return "", nil
}

// NewBatchDownloader creates a batch downloader with at most concurrency
// parallel downloads.
func NewBatchDownloader(storage ObjectStorage, concurrency int) *BatchDownloader {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &BatchDownloader{
		storage:     storage,
		concurrency: concurrency,
	}
}

// DownloadAll fetches the given objects into destDir, naming each file
// after the object's base name. Objects whose destination already exists
// are skipped, so an interrupted restore can be rerun.
func (b *BatchDownloader) DownloadAll(ctx context.Context, objects []string, destDir string) (*BatchResult, error) {
	result := &BatchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}
	if len(objects) == 0 {
		return result, nil
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create destination directory: %w", err)
	}

	type job struct {
		object string
		local  string
	}
	var queue []job
	for _, obj := range objects {
		local := filepath.Join(destDir, path.Base(obj))
		if _, err := os.Stat(local); err == nil {
			result.LocalPaths[obj] = local
			result.Skipped++
			continue
		}
		queue = append(queue, job{object: obj, local: local})
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, j := range queue {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[j.object] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(j job) {
			defer sem.Release(1)
			defer wg.Done()

			if err := b.storage.Download(ctx, j.object, j.local); err != nil {
				mu.Lock()
				result.Errors[j.object] = err
				mu.Unlock()
				return
			}

			mu.Lock()
			result.LocalPaths[j.object] = j.local
			result.Downloads++
			mu.Unlock()
		}(j)
	}

	wg.Wait()

	return result, nil
}
