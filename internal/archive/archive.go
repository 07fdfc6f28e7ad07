// Package archive moves completed datasets between a workspace and object
// storage. A dataset is archived as its chunk files plus the metadata
// sidecar under a per-dataset key prefix.
package archive

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/datashed/datashed/internal/dataset"
	dserrors "github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/internal/storage"
)

// DefaultPrefix is the object key prefix archived datasets live under.
const DefaultPrefix = "datasets"

// Options tune an archiver. Zero values select defaults.
type Options struct {
	// Prefix is the object key prefix, DefaultPrefix if empty.
	Prefix string
	// Concurrency bounds parallel uploads and downloads.
	Concurrency int
}

// Archiver pushes datasets to an object store and pulls them back.
type Archiver struct {
	store       storage.ObjectStorage
	prefix      string
	concurrency int
}

// PushResult summarizes an archived dataset.
type PushResult struct {
	UID     string
	Objects int
	Bytes   int64
}

// PullResult summarizes a restored dataset.
type PullResult struct {
	UID       string
	Objects   int
	Skipped   int
	LocalPath string
}

// New creates an archiver on top of an object storage backend.
func New(store storage.ObjectStorage, opts Options) *Archiver {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Archiver{
		store:       store,
		prefix:      prefix,
		concurrency: concurrency,
	}
}

// objectPath returns the object key for one file of a dataset.
func (a *Archiver) objectPath(uid, name string) string {
	return path.Join(a.prefix, uid, name)
}

// Push uploads a completed dataset directory: every chunk file named in
// the sidecar, then the sidecar itself. The sidecar goes last so its
// presence marks a complete archive.
func (a *Archiver) Push(ctx context.Context, dir, uid string) (*PushResult, error) {
	meta, err := dataset.ReadMeta(dir)
	if err != nil {
		return nil, err
	}
	if err := dataset.Verify(dir); err != nil {
		return nil, err
	}

	res := &PushResult{UID: uid}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, c := range meta.Chunks {
		res.Objects++
		res.Bytes += c.Bytes
		local := filepath.Join(dir, c.Name)
		object := a.objectPath(uid, c.Name)
		g.Go(func() error {
			if _, err := a.store.UploadMultipart(ctx, local, object); err != nil {
				return dserrors.NewIOError(dserrors.CodeUploadFailed,
					fmt.Sprintf("archive: failed to upload %s", object), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sidecar := a.objectPath(uid, dataset.MetaFileName)
	if err := a.store.Upload(ctx, filepath.Join(dir, dataset.MetaFileName), sidecar); err != nil {
		return nil, dserrors.NewIOError(dserrors.CodeUploadFailed,
			fmt.Sprintf("archive: failed to upload %s", sidecar), err)
	}
	res.Objects++
	return res, nil
}

// Pull restores an archived dataset into dir and verifies chunk checksums
// against the restored sidecar. Files already present are not fetched
// again, so an interrupted pull can be rerun.
func (a *Archiver) Pull(ctx context.Context, uid, dir string) (*PullResult, error) {
	objects, err := a.store.ListObjects(ctx, a.objectPath(uid, ""))
	if err != nil {
		return nil, dserrors.NewIOError(dserrors.CodeDownloadFailed,
			fmt.Sprintf("archive: failed to list objects for %s", uid), err)
	}
	if len(objects) == 0 {
		return nil, dserrors.NewNotFound(dserrors.CodeDatasetNotFound,
			fmt.Sprintf("archive: no archived dataset %s", uid))
	}

	bd := storage.NewBatchDownloader(a.store, a.concurrency)
	batch, err := bd.DownloadAll(ctx, objects, dir)
	if err != nil {
		return nil, dserrors.NewIOError(dserrors.CodeDownloadFailed,
			fmt.Sprintf("archive: failed to restore %s", uid), err)
	}
	if batch.Failed() {
		object, oerr := batch.First()
		return nil, dserrors.NewIOError(dserrors.CodeDownloadFailed,
			fmt.Sprintf("archive: failed to download %s (%d objects failed)", object, len(batch.Errors)), oerr)
	}

	if err := dataset.Verify(dir); err != nil {
		return nil, err
	}
	return &PullResult{
		UID:       uid,
		Objects:   batch.Downloads,
		Skipped:   batch.Skipped,
		LocalPath: dir,
	}, nil
}

// Exists reports whether a dataset has a complete archive, judged by the
// sidecar object that Push writes last.
func (a *Archiver) Exists(ctx context.Context, uid string) (bool, error) {
	ok, err := a.store.Exists(ctx, a.objectPath(uid, dataset.MetaFileName))
	if err != nil {
		return false, dserrors.NewIOError(dserrors.CodeDownloadFailed,
			fmt.Sprintf("archive: failed to probe archive for %s", uid), err)
	}
	return ok, nil
}

// Remove deletes every archived object of a dataset. The sidecar goes
// first so a half-removed archive never looks complete.
func (a *Archiver) Remove(ctx context.Context, uid string) error {
	if err := a.store.Delete(ctx, a.objectPath(uid, dataset.MetaFileName)); err != nil {
		return dserrors.NewIOError(dserrors.CodeUploadFailed,
			fmt.Sprintf("archive: failed to delete sidecar for %s", uid), err)
	}
	objects, err := a.store.ListObjects(ctx, a.objectPath(uid, ""))
	if err != nil {
		return dserrors.NewIOError(dserrors.CodeDownloadFailed,
			fmt.Sprintf("archive: failed to list objects for %s", uid), err)
	}
	for _, object := range objects {
		if err := a.store.Delete(ctx, object); err != nil {
			return dserrors.NewIOError(dserrors.CodeUploadFailed,
				fmt.Sprintf("archive: failed to delete %s", object), err)
		}
	}
	return nil
}

// Stage downloads an archived dataset into a scratch directory without
// touching the workspace tree. Read-only consumers use it to open
// archived data that was pruned locally.
func (a *Archiver) Stage(ctx context.Context, uid, scratchDir string) (*PullResult, error) {
	dir := filepath.Join(scratchDir, uid)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("archive: failed to create staging directory %s", dir), err)
	}
	return a.Pull(ctx, uid, dir)
}
