package manifest

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidMagic is returned when the file is not a store header.
	ErrInvalidMagic = errors.New("manifest: invalid magic")
	// ErrChecksum is returned when the payload checksum does not match.
	ErrChecksum = errors.New("manifest: checksum mismatch")
	// ErrMismatch is the sentinel behind *MismatchError.
	ErrMismatch = errors.New("manifest: layout mismatch")
)

// MismatchError reports a header field that differs from what the code expects.
type MismatchError struct {
	Field string
	Want  uint64
	Got   uint64
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("manifest: %s mismatch: want %d, got %d", e.Field, e.Want, e.Got)
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }
