// Package workspace owns the on-disk layout of a datashed workspace: the
// catalog database, the data tree, the version file, and the lock that
// keeps the workspace single-process.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/datashed/datashed/internal/catalog"
	dserrors "github.com/datashed/datashed/internal/errors"
	"github.com/datashed/datashed/pkg/types"
)

// Layout names inside a workspace directory.
const (
	CatalogFileName = "datashed.db"
	VersionFileName = "datashed.json"
	LockFileName    = ".datashed.lock"
	DataDirName     = "data"
	LogDirName      = "log"
	BackupDirName   = "backup"
)

// Version is the workspace format version this build reads and writes.
const Version = "1"

type versionFile struct {
	Version string `json:"version"`
}

// Root resolves paths inside a workspace directory.
type Root struct {
	path string
}

// NewRoot wraps a workspace directory path.
func NewRoot(p string) Root { return Root{path: p} }

func (r Root) Path() string        { return r.path }
func (r Root) CatalogPath() string { return filepath.Join(r.path, CatalogFileName) }
func (r Root) VersionPath() string { return filepath.Join(r.path, VersionFileName) }
func (r Root) LockPath() string    { return filepath.Join(r.path, LockFileName) }
func (r Root) DataDir() string     { return filepath.Join(r.path, DataDirName) }
func (r Root) LogDir() string      { return filepath.Join(r.path, LogDirName) }
func (r Root) BackupDir() string   { return filepath.Join(r.path, BackupDirName) }

// DatasetDir returns the absolute chunk directory for a dataset uid.
func (r Root) DatasetDir(uid types.DatasetUID) string {
	return filepath.Join(r.DataDir(), uid.PathPrefix(), uid.String())
}

// Resolve turns a catalog-relative dataset path into an absolute one.
func (r Root) Resolve(rel string) string {
	return filepath.Join(r.path, filepath.FromSlash(rel))
}

// DatasetPath returns the workspace-relative dataset path recorded in the
// catalog. It always uses forward slashes.
func DatasetPath(uid types.DatasetUID) string {
	return path.Join(DataDirName, uid.PathPrefix(), uid.String())
}

// Workspace is an open, locked workspace.
type Workspace struct {
	root    Root
	catalog *catalog.Catalog
	closed  bool
}

// Init creates a new workspace at p. The directory must not exist yet or
// must be empty. The workspace is returned open and locked.
func Init(p string) (*Workspace, error) {
	entries, err := os.ReadDir(p)
	if err == nil && len(entries) > 0 {
		return nil, dserrors.NewAlreadyExists(dserrors.CodeWorkspaceNotEmpty,
			fmt.Sprintf("workspace: directory %s is not empty", p))
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, dserrors.NewIOError(dserrors.CodeReadFailed,
			fmt.Sprintf("workspace: failed to read directory %s", p), err)
	}

	root := NewRoot(p)
	for _, dir := range []string{p, root.DataDir(), root.LogDir(), root.BackupDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, dserrors.NewIOError(dserrors.CodeWriteFailed,
				fmt.Sprintf("workspace: failed to create %s", dir), err)
		}
	}

	vf, err := json.Marshal(versionFile{Version: Version})
	if err != nil {
		return nil, dserrors.NewInternalError("workspace: failed to encode version file", err)
	}
	vf = append(vf, '\n')
	if err := os.WriteFile(root.VersionPath(), vf, 0o644); err != nil {
		return nil, dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("workspace: failed to write %s", VersionFileName), err)
	}

	// Create the catalog database so the workspace is complete on disk,
	// then go through the regular open path.
	c, err := catalog.NewCatalog(root.CatalogPath())
	if err != nil {
		return nil, err
	}
	if err := c.Close(); err != nil {
		return nil, fmt.Errorf("workspace: failed to close catalog after init: %w", err)
	}

	return Open(p)
}

// Open opens an existing workspace: it checks the version file, takes the
// lock, opens the catalog, and aborts any datasets left in the writing
// state by a previous process.
func Open(p string) (*Workspace, error) {
	root := NewRoot(p)

	if err := checkVersion(root); err != nil {
		return nil, err
	}
	if err := acquireLock(root); err != nil {
		return nil, err
	}

	c, err := catalog.NewCatalog(root.CatalogPath())
	if err != nil {
		releaseLock(root)
		return nil, err
	}

	w := &Workspace{root: root, catalog: c}
	swept, err := c.SweepWriting(context.Background())
	if err != nil {
		w.Close()
		return nil, err
	}
	if swept > 0 {
		log.Printf("[WARN] workspace: aborted %d unfinished datasets from a previous session", swept)
	}
	return w, nil
}

// Root returns the workspace path resolver.
func (w *Workspace) Root() Root { return w.root }

// Catalog returns the open dataset catalog.
func (w *Workspace) Catalog() *catalog.Catalog { return w.catalog }

// Close closes the catalog and releases the workspace lock. It is safe to
// call more than once.
func (w *Workspace) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.catalog.Close()
	if lerr := releaseLock(w.root); err == nil {
		err = lerr
	}
	return err
}

func checkVersion(root Root) error {
	data, err := os.ReadFile(root.VersionPath())
	if err != nil {
		if os.IsNotExist(err) {
			return dserrors.NewNotFound(dserrors.CodeNotAWorkspace,
				fmt.Sprintf("workspace: %s is not a datashed workspace", root.Path()))
		}
		return dserrors.NewIOError(dserrors.CodeReadFailed,
			fmt.Sprintf("workspace: failed to read %s", VersionFileName), err)
	}
	var vf versionFile
	if err := json.Unmarshal(data, &vf); err != nil {
		return dserrors.NewCorrupt(dserrors.CodeVersionMismatch,
			fmt.Sprintf("workspace: malformed %s", VersionFileName), err)
	}
	if vf.Version != Version {
		return dserrors.NewCorrupt(dserrors.CodeVersionMismatch,
			fmt.Sprintf("workspace: version %q is not supported by this build (want %q)", vf.Version, Version), nil)
	}
	return nil
}

// acquireLock creates the lock file exclusively and records the owner pid.
// A live lock means another process owns the workspace; a stale one must be
// removed by the operator.
func acquireLock(root Root) error {
	f, err := os.OpenFile(root.LockPath(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			owner := lockOwner(root)
			return dserrors.NewAlreadyExists(dserrors.CodeWorkspaceLocked,
				fmt.Sprintf("workspace: %s is locked by %s (remove %s if that process is gone)",
					root.Path(), owner, LockFileName))
		}
		return dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("workspace: failed to create %s", LockFileName), err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		os.Remove(root.LockPath())
		return dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("workspace: failed to write %s", LockFileName), err)
	}
	return f.Close()
}

func releaseLock(root Root) error {
	if err := os.Remove(root.LockPath()); err != nil && !os.IsNotExist(err) {
		return dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("workspace: failed to remove %s", LockFileName), err)
	}
	return nil
}

func lockOwner(root Root) string {
	data, err := os.ReadFile(root.LockPath())
	if err != nil {
		return "unknown process"
	}
	return "pid " + strings.TrimSpace(string(data))
}
