package serialization

import (
	"fmt"

	"github.com/pkg/errors"
)

// Common errors.
var (
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrOffsetOverlap      = errors.New("buffer offsets overlap")
	ErrOutOfBounds        = errors.New("buffer extends beyond data section")
	ErrTooManyTensors     = errors.New("too many tensors in file")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrUnknownOpcode      = errors.New("unknown opcode")
	ErrClosed             = errors.New("reader is closed")
)

// ValidationError provides detailed information about validation failures.
type ValidationError struct {
	Type    string // Type of error (e.g., "offset_overlap", "index_out_of_range")
	Subject string // What is invalid, e.g. `tensor "conv1/weights"` or "operator #3"
	Details string // Additional details
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Subject, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}
