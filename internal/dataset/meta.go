// Package dataset manages the on-disk form of a single dataset: chunked
// Arrow files, the metadata sidecar, and integrity verification.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/datashed/datashed/internal/chunk"
	dserrors "github.com/datashed/datashed/internal/errors"
)

// MetaFileName is the sidecar file written next to the chunk files.
const MetaFileName = "metadata.json"

// Meta is the dataset metadata sidecar. It mirrors the catalog record so a
// dataset directory stays interpretable without the catalog, and carries the
// per-chunk checksums used by Verify.
type Meta struct {
	UID         string       `json:"uid"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Favorite    bool         `json:"favorite"`
	Tags        []string     `json:"tags,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Rows        int64        `json:"rows"`
	Chunks      []chunk.Info `json:"chunks"`
}

// MetaPath returns the sidecar path for a dataset directory.
func MetaPath(dir string) string {
	return filepath.Join(dir, MetaFileName)
}

// WriteMeta writes the sidecar, replacing any previous one.
func WriteMeta(dir string, m *Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return dserrors.NewInternalError("dataset: failed to encode metadata", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(MetaPath(dir), data, 0o644); err != nil {
		return dserrors.NewIOError(dserrors.CodeWriteFailed,
			fmt.Sprintf("dataset: failed to write %s", MetaFileName), err)
	}
	return nil
}

// ReadMeta reads the sidecar from a dataset directory.
func ReadMeta(dir string) (*Meta, error) {
	data, err := os.ReadFile(MetaPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dserrors.NewNotFound(dserrors.CodeDatasetNotFound,
				fmt.Sprintf("dataset: no %s in %s", MetaFileName, dir))
		}
		return nil, dserrors.NewIOError(dserrors.CodeReadFailed,
			fmt.Sprintf("dataset: failed to read %s", MetaFileName), err)
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, dserrors.NewCorrupt(dserrors.CodeBadSidecar,
			fmt.Sprintf("dataset: malformed %s", MetaFileName), err)
	}
	return &m, nil
}
