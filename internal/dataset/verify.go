package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/datashed/datashed/internal/chunk"
	dserrors "github.com/datashed/datashed/internal/errors"
)

// Verify checks a dataset directory against its metadata sidecar: the chunk
// files on disk must match the recorded names exactly and every chunk must
// hash to its recorded checksum.
func Verify(dir string) error {
	m, err := ReadMeta(dir)
	if err != nil {
		return err
	}
	names, err := chunk.List(dir)
	if err != nil {
		return err
	}
	if len(names) != len(m.Chunks) {
		return dserrors.NewCorrupt(dserrors.CodeChunkGap,
			fmt.Sprintf("dataset: %d chunk files on disk, sidecar records %d", len(names), len(m.Chunks)), nil)
	}
	for i, info := range m.Chunks {
		if names[i] != info.Name {
			return dserrors.NewCorrupt(dserrors.CodeChunkGap,
				fmt.Sprintf("dataset: chunk %d is %s, sidecar records %s", i, names[i], info.Name), nil)
		}
		sum, err := chunk.ChecksumFile(filepath.Join(dir, info.Name))
		if err != nil {
			return err
		}
		if sum != info.Checksum {
			return dserrors.NewCorrupt(dserrors.CodeChecksumMismatch,
				fmt.Sprintf("dataset: chunk %s checksum %s does not match recorded %s", info.Name, sum, info.Checksum), nil)
		}
	}
	return nil
}
