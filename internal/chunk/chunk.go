// Package chunk implements the on-disk chunked dataset file store: ordered
// data_chunk_<N>.arrow files in Arrow IPC file format, rotated by size,
// checksummed with murmur3.
package chunk

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/spaolacci/murmur3"

	"github.com/datashed/datashed/internal/errors"
)

// DefaultMaxChunkBytes is the rotation threshold: once a chunk file reaches
// this size the writer finishes it and starts the next index.
const DefaultMaxChunkBytes = 256 * 1024 * 1024

var chunkNamePattern = regexp.MustCompile(`^data_chunk_(\d+)\.arrow$`)

// FileName returns the chunk file name for an index.
func FileName(index int) string {
	return fmt.Sprintf("data_chunk_%d.arrow", index)
}

// FilePath joins the dataset directory with the chunk file name.
func FilePath(dir string, index int) string {
	return filepath.Join(dir, FileName(index))
}

// Info describes one finished chunk file.
type Info struct {
	// Index is the numeric chunk index.
	Index int `json:"index"`

	// Name is the file name within the dataset directory.
	Name string `json:"name"`

	// Rows is the number of rows across the chunk's record batches.
	Rows int64 `json:"rows"`

	// Bytes is the finished file size.
	Bytes int64 `json:"bytes"`

	// Checksum is the murmur3 64-bit hash of the file contents,
	// rendered as 16 hex characters.
	Checksum string `json:"checksum"`
}

// List enumerates the chunk files of a dataset directory in numeric order.
// Indices must be contiguous from 0; a gap means the dataset lost a file
// and is reported as corruption. A directory with no chunk files yields an
// empty list (a finished dataset may have zero rows).
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewNotFound(errors.CodeChunkNotFound,
				fmt.Sprintf("dataset directory %s does not exist", dir))
		}
		return nil, errors.NewIOError(errors.CodeReadFailed, "failed to list dataset directory", err)
	}

	indices := make([]int, 0, len(entries))
	for _, e := range entries {
		m := chunkNamePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	names := make([]string, len(indices))
	for i, idx := range indices {
		if idx != i {
			return nil, errors.NewCorrupt(errors.CodeChunkGap,
				fmt.Sprintf("chunk %d missing from %s", i, dir), nil)
		}
		names[i] = FileName(idx)
	}
	return names, nil
}

// ChecksumFile computes the murmur3 64-bit hash of a file.
func ChecksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.NewIOError(errors.CodeReadFailed, "failed to open chunk for checksum", err)
	}
	defer f.Close()

	h := murmur3.New64()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.NewIOError(errors.CodeReadFailed, "failed to hash chunk", err)
	}
	return formatChecksum(h.Sum64()), nil
}

func formatChecksum(sum uint64) string {
	return fmt.Sprintf("%016x", sum)
}
