package catalog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"time"

	"github.com/golang/snappy"

	dserrors "github.com/datashed/datashed/internal/errors"
)

var backupNamePattern = regexp.MustCompile(`^catalog-\d{8}T\d{6}Z\.db\.sz$`)

// Backup writes a consistent snapshot of the catalog database into dir and
// returns the backup file path. The snapshot is taken with VACUUM INTO on
// the write connection and snappy-compressed.
func (c *Catalog) Backup(ctx context.Context, dir string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("catalog: failed to create backup directory %s", dir), err)
	}

	stamp := time.Now().UTC().Format("20060102T150405Z")
	tmp := filepath.Join(dir, ".vacuum-"+stamp+".db")
	// VACUUM INTO refuses to overwrite.
	os.Remove(tmp)
	if _, err := c.db.ExecContext(ctx, "VACUUM INTO ?", tmp); err != nil {
		return "", fmt.Errorf("catalog: failed to vacuum into backup: %w", err)
	}
	defer os.Remove(tmp)

	dest := filepath.Join(dir, fmt.Sprintf("catalog-%s.db.sz", stamp))
	if err := compressFile(tmp, dest); err != nil {
		os.Remove(dest)
		return "", err
	}
	return dest, nil
}

func compressFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return dserrors.NewIOError(dserrors.CodeReadFailed,
			fmt.Sprintf("catalog: failed to open %s", src), err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("catalog: failed to create %s", dest), err)
	}

	sw := snappy.NewBufferedWriter(out)
	if _, err := io.Copy(sw, in); err != nil {
		sw.Close()
		out.Close()
		return dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("catalog: failed to compress %s", src), err)
	}
	if err := sw.Close(); err != nil {
		out.Close()
		return dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("catalog: failed to flush %s", dest), err)
	}
	return out.Close()
}

// RestoreBackup decompresses a backup file into a database file at destPath.
// It refuses to overwrite an existing file.
func RestoreBackup(backupPath, destPath string) error {
	in, err := os.Open(backupPath)
	if err != nil {
		return dserrors.NewIOError(dserrors.CodeReadFailed,
			fmt.Sprintf("catalog: failed to open backup %s", backupPath), err)
	}
	defer in.Close()

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("catalog: failed to create %s", destPath), err)
	}

	if _, err := io.Copy(out, snappy.NewReader(in)); err != nil {
		out.Close()
		os.Remove(destPath)
		return dserrors.NewCorrupt(dserrors.CodeBadBackup,
			fmt.Sprintf("catalog: failed to decompress backup %s", backupPath), err)
	}
	if err := out.Close(); err != nil {
		return dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("catalog: failed to close %s", destPath), err)
	}
	return nil
}

// PruneBackups removes all but the newest keep backups from dir and returns
// the number removed. Backup names embed UTC timestamps, so lexicographic
// order is chronological.
func PruneBackups(dir string, keep int) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, dserrors.NewIOError(dserrors.CodeReadFailed,
			fmt.Sprintf("catalog: failed to read backup directory %s", dir), err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && backupNamePattern.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	if keep < 0 {
		keep = 0
	}
	removed := 0
	for _, name := range names[min(keep, len(names)):] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, dserrors.NewIOError(dserrors.CodeWriteFailed,
				fmt.Sprintf("catalog: failed to remove backup %s", name), err)
		}
		removed++
	}
	return removed, nil
}
