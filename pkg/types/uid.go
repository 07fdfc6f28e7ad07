package types

import (
	"fmt"

	"github.com/google/uuid"
)

// DatasetUID is the globally unique identifier of a dataset: a random
// UUIDv4 rendered canonically as 32 lowercase hex characters without
// dashes. The first two characters shard the data tree into
// data/<prefix>/<uid> directories.
type DatasetUID struct {
	u uuid.UUID
}

// NewDatasetUID returns a fresh random uid.
func NewDatasetUID() DatasetUID {
	return DatasetUID{u: uuid.New()}
}

// ParseDatasetUID parses the canonical 32-character form. The dashed UUID
// form is accepted too for operator convenience.
func ParseDatasetUID(s string) (DatasetUID, error) {
	if len(s) != 32 && len(s) != 36 {
		return DatasetUID{}, fmt.Errorf("%w: %q", ErrInvalidUID, s)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return DatasetUID{}, fmt.Errorf("%w: %q", ErrInvalidUID, s)
	}
	return DatasetUID{u: u}, nil
}

// String returns the canonical dashless form.
func (d DatasetUID) String() string {
	return fmt.Sprintf("%x", d.u[:])
}

// PathPrefix returns the two-character shard prefix of the data tree.
func (d DatasetUID) PathPrefix() string {
	return d.String()[:2]
}

// IsZero reports whether the uid is the zero value.
func (d DatasetUID) IsZero() bool {
	return d.u == uuid.UUID{}
}

// Bytes returns the 16 raw bytes.
func (d DatasetUID) Bytes() []byte {
	b := make([]byte, 16)
	copy(b, d.u[:])
	return b
}
