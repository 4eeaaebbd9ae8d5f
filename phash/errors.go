package phash

import "errors"

var (
	// ErrAlreadyExists is returned when inserting a key that is live.
	ErrAlreadyExists = errors.New("phash: key already exists")
	// ErrNotFound is returned when a key is absent.
	ErrNotFound = errors.New("phash: key not found")
	// ErrOutstandingReferences is returned when deleting a key with a non-zero reference count.
	ErrOutstandingReferences = errors.New("phash: outstanding references")
	// ErrDeleted is returned when an operation requires a live key but found a tombstone.
	ErrDeleted = errors.New("phash: key is deleted")
	// ErrWrongType is returned by LookupType on a type tag mismatch.
	ErrWrongType = errors.New("phash: wrong value type")
	// ErrStaleHandle is returned when a handle's slot was freed or reused.
	ErrStaleHandle = errors.New("phash: stale handle")
	// ErrNoReferences is returned when releasing a reference that was never taken.
	ErrNoReferences = errors.New("phash: reference count is zero")
	// ErrRefOverflow is returned when the reference count would exceed 27 bits.
	ErrRefOverflow = errors.New("phash: reference count overflow")
	// ErrInvalidType is returned for type tags above MaxType.
	ErrInvalidType = errors.New("phash: invalid value type")
	// ErrReadOnly is returned when mutating a read-only table.
	ErrReadOnly = errors.New("phash: table is read-only")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("phash: table is closed")
	// ErrCorrupt is returned when an image fails validation.
	ErrCorrupt = errors.New("phash: corrupt image")
	// ErrVersion is returned when an image has an unsupported format version.
	ErrVersion = errors.New("phash: unsupported image version")
	// ErrCapacity is returned when the arena cannot grow any further.
	ErrCapacity = errors.New("phash: capacity exhausted")
)
