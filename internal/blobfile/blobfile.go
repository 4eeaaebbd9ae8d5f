package blobfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/readstore/internal/conv"
	"github.com/hupe1980/readstore/internal/fs"
	"github.com/hupe1980/readstore/internal/hash"
	"github.com/hupe1980/readstore/internal/mmap"
)

const (
	magic      = 0x424F4C42 // "BLOB"
	version    = 1
	headerSize = 32
)

var (
	// ErrCorrupt is returned for damaged headers and short files.
	ErrCorrupt = errors.New("blobfile: corrupt file")
	// ErrCorruptBlock is returned when a stored payload cannot be decoded.
	ErrCorruptBlock = errors.New("blobfile: corrupt block")
	// ErrOutOfRange is returned for reads past the end of the data.
	ErrOutOfRange = errors.New("blobfile: read out of range")
	// ErrTooLarge is returned for payloads whose stored form exceeds 4 GiB.
	ErrTooLarge = errors.New("blobfile: payload too large")
	// ErrReadOnly is returned when appending to a read-only file.
	ErrReadOnly = errors.New("blobfile: file is read-only")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("blobfile: file is closed")
)

// File is an append-only blob file.
type File struct {
	path   string
	codec  Codec
	size   uint64
	dirty  bool
	closed bool

	f fs.File
	m *mmap.Mapping
}

// Create creates (or truncates) a writable blob file.
func Create(fsys fs.FileSystem, path string, codec Codec) (*File, error) {
	if !codec.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCodec, codec)
	}
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	b := &File{path: path, codec: codec, f: f, dirty: true}
	if err := b.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return b, nil
}

// Open opens an existing blob file. Read-only files are memory-mapped.
func Open(fsys fs.FileSystem, path string, writable bool) (*File, error) {
	b := &File{path: path}

	var hdr []byte
	var fileSize int64
	if writable {
		f, err := fsys.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		b.f = f
		fi, err := f.Stat()
		if err != nil {
			_ = b.release()
			return nil, err
		}
		fileSize = fi.Size()
		hdr = make([]byte, headerSize)
		if _, err := f.ReadAt(hdr, 0); err != nil {
			_ = b.release()
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
	} else {
		m, err := mmap.Open(path)
		if err != nil {
			return nil, err
		}
		b.m = m
		fileSize = int64(m.Size())
		if hdr, err = m.Slice(0, headerSize); err != nil {
			_ = b.release()
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
	}

	le := binary.LittleEndian
	switch {
	case le.Uint32(hdr[0:]) != magic:
		err := fmt.Errorf("%w: %s: invalid magic", ErrCorrupt, path)
		return nil, errors.Join(err, b.release())
	case le.Uint32(hdr[4:]) != version:
		err := fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, path, le.Uint32(hdr[4:]))
		return nil, errors.Join(err, b.release())
	case le.Uint32(hdr[24:]) != hash.CRC32C(hdr[:24]):
		err := fmt.Errorf("%w: %s: header checksum mismatch", ErrCorrupt, path)
		return nil, errors.Join(err, b.release())
	}
	b.codec = Codec(hdr[8])
	b.size = le.Uint64(hdr[16:])
	if !b.codec.Valid() {
		err := fmt.Errorf("%w: %s: %d", ErrUnknownCodec, path, b.codec)
		return nil, errors.Join(err, b.release())
	}
	if b.size > uint64(fileSize-headerSize) {
		err := fmt.Errorf("%w: %s: %d data bytes do not fit in %d", ErrCorrupt, path, b.size, fileSize)
		return nil, errors.Join(err, b.release())
	}
	return b, nil
}

// Path returns the file name.
func (b *File) Path() string { return b.path }

// Codec returns the compression codec.
func (b *File) Codec() Codec { return b.codec }

// Size returns the number of data bytes after the header.
func (b *File) Size() uint64 { return b.size }

// Append stores p and returns its offset and stored length.
// Empty payloads occupy no space.
func (b *File) Append(p []byte) (uint64, uint32, error) {
	if b.closed {
		return 0, 0, ErrClosed
	}
	if b.f == nil {
		return 0, 0, ErrReadOnly
	}
	off := b.size
	if len(p) == 0 {
		return off, 0, nil
	}
	stored, err := compressBlock(p, b.codec)
	if err != nil {
		return 0, 0, err
	}
	n, err := conv.IntToUint32(len(stored))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", ErrTooLarge, err)
	}
	if _, err := b.f.WriteAt(stored, int64(headerSize+off)); err != nil {
		return 0, 0, fmt.Errorf("blobfile: append %s: %w", b.path, err)
	}
	b.size += uint64(len(stored))
	b.dirty = true
	return off, n, nil
}

// Read returns a decoded copy of the payload stored at (off, n).
func (b *File) Read(off uint64, n uint32) ([]byte, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if n == 0 {
		return nil, nil
	}
	if off > b.size || uint64(n) > b.size-off {
		return nil, fmt.Errorf("%w: [%d,+%d) of %d", ErrOutOfRange, off, n, b.size)
	}

	var raw []byte
	if b.m != nil {
		view, err := b.m.Slice(int(headerSize+off), int(n))
		if err != nil {
			return nil, err
		}
		raw = view
	} else {
		raw = make([]byte, n)
		if _, err := b.f.ReadAt(raw, int64(headerSize+off)); err != nil {
			return nil, fmt.Errorf("blobfile: read %s: %w", b.path, err)
		}
	}
	return decompressBlock(raw, b.codec)
}

// Flush persists the header of a writable file.
func (b *File) Flush() error {
	if b.closed {
		return ErrClosed
	}
	if b.f == nil || !b.dirty {
		return nil
	}
	hdr := make([]byte, headerSize)
	le := binary.LittleEndian
	le.PutUint32(hdr[0:], magic)
	le.PutUint32(hdr[4:], version)
	hdr[8] = byte(b.codec)
	le.PutUint64(hdr[16:], b.size)
	le.PutUint32(hdr[24:], hash.CRC32C(hdr[:24]))
	if _, err := b.f.WriteAt(hdr, 0); err != nil {
		return fmt.Errorf("blobfile: write header %s: %w", b.path, err)
	}
	b.dirty = false
	return nil
}

// Sync flushes the header and syncs the file.
func (b *File) Sync() error {
	if err := b.Flush(); err != nil {
		return err
	}
	if b.f == nil {
		return nil
	}
	return b.f.Sync()
}

// Close flushes and releases the file. It is idempotent.
func (b *File) Close() error {
	if b.closed {
		return nil
	}
	err := b.Flush()
	return errors.Join(err, b.release())
}

func (b *File) release() error {
	b.closed = true
	var err error
	if b.f != nil {
		err = b.f.Close()
		b.f = nil
	}
	if b.m != nil {
		err = errors.Join(err, b.m.Close())
		b.m = nil
	}
	return err
}
