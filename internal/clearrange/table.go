package clearrange

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hupe1980/readstore/internal/fs"
	"github.com/hupe1980/readstore/internal/hash"
	"github.com/hupe1980/readstore/internal/mmap"
	"github.com/hupe1980/readstore/model"
)

const (
	magic      = 0x54524C43 // "CLRT"
	version    = 1
	headerSize = 32
	entrySize  = 8

	minCapacity = 64
	maxCapacity = math.MaxUint32 / entrySize
)

var (
	// ErrCorrupt is returned for damaged tables.
	ErrCorrupt = errors.New("clearrange: corrupt table")
	// ErrMismatch is returned when a file holds another kind or class.
	ErrMismatch = errors.New("clearrange: table mismatch")
	// ErrReadOnly is returned when writing to a read-only table.
	ErrReadOnly = errors.New("clearrange: table is read-only")
	// ErrCapacity is returned when a position exceeds the largest table.
	ErrCapacity = errors.New("clearrange: position exceeds table capacity")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("clearrange: table is closed")
)

// FileName returns the base name of a table. Partition 0 is the store itself.
func FileName(kind model.Kind, class model.Class, partition int) string {
	name := "clr." + string(kind) + "." + class.Tag()
	if partition > 0 {
		name += fmt.Sprintf(".%03d", partition)
	}
	return name
}

// ParseFileName is the inverse of FileName.
func ParseFileName(name string) (model.Kind, model.Class, int, bool) {
	parts := strings.Split(name, ".")
	if len(parts) < 3 || len(parts) > 4 || parts[0] != "clr" {
		return "", 0, 0, false
	}
	kind := model.Kind(parts[1])
	if kind.Validate() != nil {
		return "", 0, 0, false
	}
	class, ok := classFromTag(parts[2])
	if !ok {
		return "", 0, 0, false
	}
	part := 0
	if len(parts) == 4 {
		n, err := strconv.Atoi(parts[3])
		if err != nil || n <= 0 || len(parts[3]) != 3 {
			return "", 0, 0, false
		}
		part = n
	}
	return kind, class, part, true
}

func classFromTag(tag string) (model.Class, bool) {
	for _, c := range model.Classes {
		if c.Tag() == tag {
			return c, true
		}
	}
	return 0, false
}

// Table is one clear-range table.
type Table struct {
	fsys  fs.FileSystem
	path  string
	kind  model.Kind
	class model.Class

	// writable tables live in memory until Flush
	entries []model.Range
	dirty   bool

	// read-only tables read from the mapping
	m        *mmap.Mapping
	capacity uint32

	closed bool
}

// Create returns a new writable table with at least capacity undefined slots.
// Nothing is written until Flush.
func Create(fsys fs.FileSystem, path string, kind model.Kind, class model.Class, capacity uint32) (*Table, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}
	t := &Table{fsys: fsys, path: path, kind: kind, class: class, dirty: true}
	t.grow(max(capacity, minCapacity))
	return t, nil
}

// Open opens an existing table. Writable tables are loaded into memory;
// read-only ones are memory-mapped.
func Open(fsys fs.FileSystem, path string, kind model.Kind, class model.Class, writable bool) (*Table, error) {
	t := &Table{fsys: fsys, path: path, kind: kind, class: class}

	var data []byte
	if writable {
		b, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, err
		}
		data = b
	} else {
		m, err := mmap.Open(path)
		if err != nil {
			return nil, err
		}
		t.m = m
		data = m.Bytes()
	}

	capacity, err := t.checkHeader(data)
	if err != nil {
		if t.m != nil {
			_ = t.m.Close()
		}
		return nil, err
	}
	t.capacity = capacity

	if writable {
		t.entries = make([]model.Range, capacity)
		body := data[headerSize:]
		for i := range t.entries {
			t.entries[i] = decodeEntry(body[i*entrySize:])
		}
	}
	return t, nil
}

func (t *Table) checkHeader(data []byte) (uint32, error) {
	if len(data) < headerSize {
		return 0, fmt.Errorf("%w: %s: short header", ErrCorrupt, t.path)
	}
	le := binary.LittleEndian
	if le.Uint32(data[0:]) != magic || le.Uint32(data[4:]) != version {
		return 0, fmt.Errorf("%w: %s: bad magic or version", ErrCorrupt, t.path)
	}
	if le.Uint32(data[24:]) != hash.CRC32C(data[:24]) {
		return 0, fmt.Errorf("%w: %s: header checksum mismatch", ErrCorrupt, t.path)
	}
	if k := model.Kind(strings.TrimRight(string(data[8:16]), "\x00")); k != t.kind {
		return 0, fmt.Errorf("%w: %s holds kind %q, want %q", ErrMismatch, t.path, k, t.kind)
	}
	if c := model.Class(data[16]); c != t.class {
		return 0, fmt.Errorf("%w: %s holds class %s, want %s", ErrMismatch, t.path, c, t.class)
	}
	capacity := le.Uint32(data[20:])
	if uint64(len(data)) < headerSize+uint64(capacity)*entrySize {
		return 0, fmt.Errorf("%w: %s: %d entries do not fit in %d bytes", ErrCorrupt, t.path, capacity, len(data))
	}
	return capacity, nil
}

func decodeEntry(b []byte) model.Range {
	return model.Range{
		Begin: binary.LittleEndian.Uint32(b[0:]),
		End:   binary.LittleEndian.Uint32(b[4:]),
	}
}

// Path returns the file name.
func (t *Table) Path() string { return t.path }

// Kind returns the table's kind.
func (t *Table) Kind() model.Kind { return t.kind }

// Class returns the table's class.
func (t *Table) Class() model.Class { return t.class }

// Writable reports whether Set is allowed.
func (t *Table) Writable() bool { return t.m == nil }

// Cap returns the number of slots.
func (t *Table) Cap() uint32 {
	if t.m != nil {
		return t.capacity
	}
	return uint32(len(t.entries))
}

// Get returns the range at pos. Positions past the end are undefined.
func (t *Table) Get(pos uint32) model.Range {
	if t.closed || pos >= t.Cap() {
		return model.UndefinedRange
	}
	if t.m != nil {
		b, err := t.m.Slice(headerSize+int(pos)*entrySize, entrySize)
		if err != nil {
			return model.UndefinedRange
		}
		return decodeEntry(b)
	}
	return t.entries[pos]
}

// Set stores r at pos, doubling the table as needed.
func (t *Table) Set(pos uint32, r model.Range) error {
	if t.closed {
		return ErrClosed
	}
	if t.m != nil {
		return ErrReadOnly
	}
	if pos >= maxCapacity {
		return fmt.Errorf("%w: %d", ErrCapacity, pos)
	}
	if pos >= uint32(len(t.entries)) {
		t.grow(pos + 1)
	}
	t.entries[pos] = r
	t.dirty = true
	return nil
}

// grow doubles the table until it holds at least n slots.
func (t *Table) grow(n uint32) {
	newCap := uint64(max(len(t.entries), minCapacity))
	for newCap < uint64(n) {
		newCap *= 2
	}
	newCap = min(newCap, maxCapacity)
	entries := make([]model.Range, newCap)
	copy(entries, t.entries)
	for i := len(t.entries); i < len(entries); i++ {
		entries[i] = model.UndefinedRange
	}
	t.entries = entries
	t.dirty = true
}

// Flush writes a writable table atomically.
func (t *Table) Flush() error {
	if t.closed {
		return ErrClosed
	}
	if t.m != nil || !t.dirty {
		return nil
	}
	buf := make([]byte, headerSize+len(t.entries)*entrySize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], magic)
	le.PutUint32(buf[4:], version)
	copy(buf[8:16], t.kind)
	buf[16] = byte(t.class)
	le.PutUint32(buf[20:], uint32(len(t.entries)))
	le.PutUint32(buf[24:], hash.CRC32C(buf[:24]))
	body := buf[headerSize:]
	for i, r := range t.entries {
		le.PutUint32(body[i*entrySize:], r.Begin)
		le.PutUint32(body[i*entrySize+4:], r.End)
	}
	if err := fs.WriteFileAtomic(t.fsys, t.path, buf); err != nil {
		return fmt.Errorf("clearrange: flush %s: %w", t.path, err)
	}
	t.dirty = false
	return nil
}

// Close flushes and releases the table. It is idempotent.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	err := t.Flush()
	t.closed = true
	t.entries = nil
	if t.m != nil {
		err = errors.Join(err, t.m.Close())
		t.m = nil
	}
	return err
}

// Remove deletes the store-level tables of kind for every class.
func Remove(fsys fs.FileSystem, dir string, kind model.Kind) error {
	var errs []error
	for _, c := range model.Classes {
		errs = append(errs, fs.RemoveIfExists(fsys, filepath.Join(dir, FileName(kind, c, 0))))
	}
	return errors.Join(errs...)
}

// Kinds lists the kinds with at least one store-level table in dir.
func Kinds(fsys fs.FileSystem, dir string) ([]model.Kind, error) {
	names, err := fs.Glob(fsys, dir, "clr.*")
	if err != nil {
		return nil, err
	}
	seen := make(map[model.Kind]bool)
	var kinds []model.Kind
	for _, name := range names {
		kind, _, part, ok := ParseFileName(filepath.Base(name))
		if !ok || part != 0 || seen[kind] {
			continue
		}
		seen[kind] = true
		kinds = append(kinds, kind)
	}
	return kinds, nil
}
