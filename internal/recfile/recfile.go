package recfile

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/hupe1980/readstore/internal/fs"
	"github.com/hupe1980/readstore/internal/hash"
	"github.com/hupe1980/readstore/internal/mmap"
)

const (
	magic      = 0x46434552 // "RECF"
	version    = 1
	headerSize = 64
	labelSize  = 8
)

var (
	// ErrOutOfRange is returned for positions at or past Len.
	ErrOutOfRange = errors.New("recfile: position out of range")
	// ErrRecordSize is returned when a record has the wrong length.
	ErrRecordSize = errors.New("recfile: wrong record size")
	// ErrMismatch is returned when a file's label or element size differ from the expected ones.
	ErrMismatch = errors.New("recfile: layout mismatch")
	// ErrCorrupt is returned for damaged headers and short files.
	ErrCorrupt = errors.New("recfile: corrupt file")
	// ErrReadOnly is returned when writing to a read-only file.
	ErrReadOnly = errors.New("recfile: file is read-only")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("recfile: file is closed")
)

// File is a fixed-size record file.
type File struct {
	path     string
	label    string
	elemSize int
	count    int
	dirty    bool
	closed   bool

	fsys fs.FileSystem
	f    fs.File // writable

	m *mmap.Mapping // read-only
}

// Create creates (or truncates) a writable record file.
func Create(fsys fs.FileSystem, path, label string, elemSize int) (*File, error) {
	if elemSize <= 0 {
		return nil, fmt.Errorf("recfile: invalid element size %d", elemSize)
	}
	if len(label) > labelSize {
		return nil, fmt.Errorf("recfile: label %q longer than %d bytes", label, labelSize)
	}
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	r := &File{path: path, label: label, elemSize: elemSize, fsys: fsys, f: f, dirty: true}
	if err := r.Flush(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return r, nil
}

// Open opens an existing record file and checks its label and element size.
func Open(fsys fs.FileSystem, path, label string, elemSize int, writable bool) (*File, error) {
	r := &File{path: path, label: label, elemSize: elemSize, fsys: fsys}

	var hdr []byte
	var size int64
	if writable {
		f, err := fsys.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		fi, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		hdr = make([]byte, headerSize)
		if _, err := f.ReadAt(hdr, 0); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		r.f = f
		size = fi.Size()
	} else {
		m, err := mmap.Open(path)
		if err != nil {
			return nil, err
		}
		hdr, err = m.Slice(0, headerSize)
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
		}
		r.m = m
		size = int64(m.Size())
	}

	if err := r.decodeHeader(hdr, size); err != nil {
		_ = r.release()
		return nil, err
	}
	return r, nil
}

func (r *File) decodeHeader(hdr []byte, size int64) error {
	le := binary.LittleEndian
	if le.Uint32(hdr[0:]) != magic {
		return fmt.Errorf("%w: %s: invalid magic", ErrCorrupt, r.path)
	}
	if v := le.Uint32(hdr[4:]); v != version {
		return fmt.Errorf("%w: %s: version %d, want %d", ErrMismatch, r.path, v, version)
	}
	if le.Uint32(hdr[32:]) != hash.CRC32C(hdr[:32]) {
		return fmt.Errorf("%w: %s: header checksum mismatch", ErrCorrupt, r.path)
	}
	if got := trimLabel(hdr[8 : 8+labelSize]); got != r.label {
		return fmt.Errorf("%w: %s: label %q, want %q", ErrMismatch, r.path, got, r.label)
	}
	if got := int(le.Uint32(hdr[16:])); got != r.elemSize {
		return fmt.Errorf("%w: %s: element size %d, want %d", ErrMismatch, r.path, got, r.elemSize)
	}
	count := le.Uint64(hdr[24:])
	if count > uint64(size-headerSize)/uint64(r.elemSize) {
		return fmt.Errorf("%w: %s: %d records do not fit in %d bytes", ErrCorrupt, r.path, count, size)
	}
	r.count = int(count)
	return nil
}

func trimLabel(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func (r *File) encodeHeader() []byte {
	hdr := make([]byte, headerSize)
	le := binary.LittleEndian
	le.PutUint32(hdr[0:], magic)
	le.PutUint32(hdr[4:], version)
	copy(hdr[8:8+labelSize], r.label)
	le.PutUint32(hdr[16:], uint32(r.elemSize))
	le.PutUint64(hdr[24:], uint64(r.count))
	le.PutUint32(hdr[32:], hash.CRC32C(hdr[:32]))
	return hdr
}

// Path returns the file name.
func (r *File) Path() string { return r.path }

// Len returns the number of records.
func (r *File) Len() int { return r.count }

// ElemSize returns the record size in bytes.
func (r *File) ElemSize() int { return r.elemSize }

// Writable reports whether the file accepts writes.
func (r *File) Writable() bool { return r.f != nil }

func (r *File) offset(pos int) int64 {
	return headerSize + int64(pos)*int64(r.elemSize)
}

// Append writes rec after the last record and returns its position.
func (r *File) Append(rec []byte) (int, error) {
	if err := r.checkWrite(rec); err != nil {
		return 0, err
	}
	pos := r.count
	if _, err := r.f.WriteAt(rec, r.offset(pos)); err != nil {
		return 0, fmt.Errorf("recfile: append %s: %w", r.path, err)
	}
	r.count++
	r.dirty = true
	return pos, nil
}

// Set overwrites the record at pos.
func (r *File) Set(pos int, rec []byte) error {
	if err := r.checkWrite(rec); err != nil {
		return err
	}
	if pos < 0 || pos >= r.count {
		return fmt.Errorf("%w: %d of %d", ErrOutOfRange, pos, r.count)
	}
	if _, err := r.f.WriteAt(rec, r.offset(pos)); err != nil {
		return fmt.Errorf("recfile: set %s: %w", r.path, err)
	}
	return nil
}

// Truncate drops every record at or after n. The bytes stay on disk and are
// overwritten by the next Append.
func (r *File) Truncate(n int) error {
	if r.closed {
		return ErrClosed
	}
	if r.f == nil {
		return ErrReadOnly
	}
	if n < 0 || n > r.count {
		return fmt.Errorf("%w: %d of %d", ErrOutOfRange, n, r.count)
	}
	if n != r.count {
		r.count = n
		r.dirty = true
	}
	return nil
}

// Get returns the record at pos. Read-only files return a view into the
// mapping that is valid until Close; writable files read into dst, which is
// reallocated when too small.
func (r *File) Get(pos int, dst []byte) ([]byte, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if pos < 0 || pos >= r.count {
		return nil, fmt.Errorf("%w: %d of %d", ErrOutOfRange, pos, r.count)
	}
	if r.m != nil {
		return r.m.Slice(int(r.offset(pos)), r.elemSize)
	}
	if cap(dst) < r.elemSize {
		dst = make([]byte, r.elemSize)
	}
	dst = dst[:r.elemSize]
	if _, err := r.f.ReadAt(dst, r.offset(pos)); err != nil {
		return nil, fmt.Errorf("recfile: read %s: %w", r.path, err)
	}
	return dst, nil
}

func (r *File) checkWrite(rec []byte) error {
	if r.closed {
		return ErrClosed
	}
	if r.f == nil {
		return ErrReadOnly
	}
	if len(rec) != r.elemSize {
		return fmt.Errorf("%w: got %d, want %d", ErrRecordSize, len(rec), r.elemSize)
	}
	return nil
}

// Flush persists the header of a writable file.
func (r *File) Flush() error {
	if r.closed {
		return ErrClosed
	}
	if r.f == nil || !r.dirty {
		return nil
	}
	if _, err := r.f.WriteAt(r.encodeHeader(), 0); err != nil {
		return fmt.Errorf("recfile: write header %s: %w", r.path, err)
	}
	r.dirty = false
	return nil
}

// Sync flushes the header and syncs the file to stable storage.
func (r *File) Sync() error {
	if err := r.Flush(); err != nil {
		return err
	}
	if r.f == nil {
		return nil
	}
	return r.f.Sync()
}

// Close flushes and releases the file. It is idempotent.
func (r *File) Close() error {
	if r.closed {
		return nil
	}
	err := r.Flush()
	return errors.Join(err, r.release())
}

func (r *File) release() error {
	r.closed = true
	var err error
	if r.f != nil {
		err = r.f.Close()
		r.f = nil
	}
	if r.m != nil {
		err = errors.Join(err, r.m.Close())
		r.m = nil
	}
	return err
}
