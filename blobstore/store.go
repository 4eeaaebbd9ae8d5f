package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

var (
	// ErrNotFound is returned when a blob does not exist.
	//
	// Implementations return an error that satisfies errors.Is(err, ErrNotFound).
	ErrNotFound = os.ErrNotExist

	// ErrInvalidName is returned for names that cannot name a store file.
	ErrInvalidName = errors.New("blobstore: invalid name")
)

// BlobStore holds the files of published partitions under flat names such
// as "info" or "fnm.003". Implementations must be safe for concurrent use.
type BlobStore interface {
	// Create starts writing name. The blob becomes visible when the writer
	// is closed and replaces any previous blob of that name.
	Create(ctx context.Context, name string) (Writer, error)
	// Open returns a reader over the whole blob.
	Open(ctx context.Context, name string) (Reader, error)
	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names of all blobs starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Reader streams the content of one blob.
type Reader interface {
	io.ReadCloser
	// Size returns the size of the blob in bytes.
	Size() int64
}

// Writer streams the content of a blob being created.
type Writer interface {
	io.WriteCloser
	// Abort discards everything written so far. The blob does not appear.
	Abort() error
}

// ValidateName rejects empty names, names containing a path separator and
// names starting with a dot, which stores use for unfinished uploads.
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, ".") || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Put writes data as name.
func Put(ctx context.Context, store BlobStore, name string, data []byte) error {
	w, err := store.Create(ctx, name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return err
	}
	return w.Close()
}

// ReadAll reads a whole blob.
func ReadAll(ctx context.Context, store BlobStore, name string) ([]byte, error) {
	r, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var buf bytes.Buffer
	buf.Grow(int(r.Size()))
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
