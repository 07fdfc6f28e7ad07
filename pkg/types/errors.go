package types

import "errors"

// Sentinel errors for type construction and parsing.
var (
	// ErrInvalidUID is returned when a dataset uid string cannot be parsed.
	ErrInvalidUID = errors.New("invalid dataset uid")

	// ErrTraceLengthMismatch is returned when a variable-step trace has
	// x and y slices of different lengths.
	ErrTraceLengthMismatch = errors.New("trace x and y lengths differ")

	// ErrUnknownTraceStep is returned when a step layout name is not one
	// of simple, fixed, variable.
	ErrUnknownTraceStep = errors.New("unknown trace step layout")

	// ErrEmptyColumnName is returned when a schema column has no name.
	ErrEmptyColumnName = errors.New("empty column name")

	// ErrDuplicateColumn is returned when a schema has two columns with
	// the same name.
	ErrDuplicateColumn = errors.New("duplicate column name")
)
