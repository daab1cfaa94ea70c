package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrRestoreFailed indicates a snapshot could not be restored; fatal for the run
	ErrRestoreFailed = errors.New("snapshot restore failed")

	// ErrMalformed indicates an intermediate line that cannot be parsed
	ErrMalformed = errors.New("malformed line")

	// ErrWriteFailed indicates the output script could not be written; fatal for the run
	ErrWriteFailed = errors.New("output write failed")

	// ErrAmbiguous indicates a lookup matched more than one row
	ErrAmbiguous = errors.New("ambiguous match")

	// ErrOrdering indicates the new sensor's history does not start strictly
	// after the old sensor's history ends
	ErrOrdering = errors.New("sensor histories overlap")
)
