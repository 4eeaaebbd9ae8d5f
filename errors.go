package readstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/readstore/internal/classmap"
	"github.com/hupe1980/readstore/internal/manifest"
	"github.com/hupe1980/readstore/model"
	"github.com/hupe1980/readstore/phash"
)

var (
	// ErrNotFound is returned for unknown UIDs, libraries and partitions.
	ErrNotFound = errors.New("readstore: not found")
	// ErrAlreadyExists is returned when appending a UID that is already live.
	ErrAlreadyExists = errors.New("readstore: already exists")
	// ErrOutstandingReferences is returned when deleting a UID that still has references.
	ErrOutstandingReferences = errors.New("readstore: outstanding references")
	// ErrDeleted is returned for tombstoned fragments.
	ErrDeleted = errors.New("readstore: fragment deleted")
	// ErrOutOfRange is returned for IIDs outside [1, NumFragments].
	ErrOutOfRange = errors.New("readstore: iid out of range")
	// ErrIncompatibleFormat is returned when on-disk layouts differ from this build.
	ErrIncompatibleFormat = errors.New("readstore: incompatible format")
	// ErrCorrupt is returned when files of one store disagree with each other.
	ErrCorrupt = errors.New("readstore: corrupt store")
	// ErrReadOnly is returned when mutating a read-only store.
	ErrReadOnly = errors.New("readstore: store is read-only")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("readstore: store is closed")
	// ErrNotInPartition is returned for IIDs a loaded partition does not hold.
	ErrNotInPartition = errors.New("readstore: fragment not in partition")
	// ErrInvalidAssignment is returned for malformed partition assignments.
	ErrInvalidAssignment = errors.New("readstore: invalid partition assignment")
	// ErrInvalidKind is returned for clear-range kinds that cannot name a file.
	ErrInvalidKind = model.ErrInvalidKind
	// ErrInvalidUID is returned for null or malformed UIDs.
	ErrInvalidUID = model.ErrInvalidUID
	// ErrClassMismatch is returned when Set tries to change a fragment's class.
	ErrClassMismatch = errors.New("readstore: density class cannot change")
	// ErrUIDCollision is returned when two different strings share a fingerprint.
	ErrUIDCollision = errors.New("readstore: uid fingerprint collision")
	// ErrOutOfMemory is returned when a fixed-size structure cannot grow further.
	ErrOutOfMemory = errors.New("readstore: capacity exhausted")
)

// FormatError reports a store whose persisted layout differs from the one this build writes.
type FormatError struct {
	Path  string
	Field string
	Want  uint64
	Got   uint64
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("readstore: %s: incompatible %s: want %d, got %d", e.Path, e.Field, e.Want, e.Got)
}

func (e *FormatError) Unwrap() error { return ErrIncompatibleFormat }

// RangeError reports an IID outside the store.
type RangeError struct {
	Op  string
	IID model.IID
	Max model.IID
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("readstore: %s: iid %d out of range [1, %d]", e.Op, e.IID, e.Max)
}

func (e *RangeError) Unwrap() error { return ErrOutOfRange }

// IsFatal reports whether err belongs to the unrecoverable class: a format
// mismatch, an out-of-range IID or exhausted capacity.
func IsFatal(err error) bool {
	return errors.Is(err, ErrIncompatibleFormat) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrOutOfMemory)
}

// translateError maps errors of the internal packages onto the package sentinels.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, phash.ErrAlreadyExists):
		return fmt.Errorf("%w: %w", ErrAlreadyExists, err)
	case errors.Is(err, phash.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, phash.ErrDeleted):
		return fmt.Errorf("%w: %w", ErrDeleted, err)
	case errors.Is(err, phash.ErrOutstandingReferences):
		return fmt.Errorf("%w: %w", ErrOutstandingReferences, err)
	case errors.Is(err, phash.ErrReadOnly):
		return fmt.Errorf("%w: %w", ErrReadOnly, err)
	case errors.Is(err, phash.ErrCapacity), errors.Is(err, classmap.ErrCapacity):
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	case errors.Is(err, phash.ErrCorrupt), errors.Is(err, classmap.ErrCorrupt):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return err
}

// formatError converts a header mismatch into a FormatError.
func formatError(path string, err error) error {
	var me *manifest.MismatchError
	if errors.As(err, &me) {
		return &FormatError{Path: path, Field: me.Field, Want: me.Want, Got: me.Got}
	}
	return err
}
