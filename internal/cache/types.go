package cache

// Key identifies one stored payload. Blob files are append-only, so a
// payload never changes once its offset is known.
type Key struct {
	// Class is the density class whose blob file holds the payload.
	Class uint8
	// Offset is the payload's byte offset in that file.
	Offset uint64
}
