package phash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"math/bits"

	"github.com/hupe1980/readstore/internal/fs"
	"github.com/hupe1980/readstore/internal/hash"
	"github.com/hupe1980/readstore/internal/mmap"
)

// Namespace qualifies keys so that unrelated identifier spaces can share a table.
type Namespace uint8

// Type is a value tag in [0, MaxType].
type Type uint8

// MaxType is the largest type tag.
const MaxType = 15

// MaxRefCount is the largest reference count a value can hold.
const MaxRefCount = maxRefCount

const minCapacity = 16

// Value is the record stored under a key.
type Value struct {
	ID       uint32
	Type     Type
	Deleted  bool
	RefCount uint32
}

// Handle addresses one occupant of an arena slot. It stops resolving once
// the slot is freed or reused.
type Handle struct {
	Slot uint32
	Gen  uint32
}

// Entry is a key with its value and handle.
type Entry struct {
	Namespace Namespace
	Key       uint64
	Value
	Handle Handle
}

// Stats describes the shape of a table.
type Stats struct {
	Buckets    int
	Capacity   int
	Used       int
	Live       int
	Tombstones int
	Collisions uint64
}

// Table is a persistent hash table.
type Table struct {
	path     string
	opts     options
	writable bool
	dirty    bool
	closed   bool

	meta    meta
	buckets []int32
	nodes   []node

	// Read-only tables decode straight from the mapped image.
	mapping *mmap.Mapping
	view    []byte
}

// Create returns an empty writable table sized for capacity items. When path
// is non-empty the image is written there immediately and on every Flush.
func Create(path string, capacity int, opts ...Option) (*Table, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("phash: negative capacity %d", capacity)
	}
	t := &Table{
		path:     path,
		opts:     applyOptions(opts),
		writable: true,
		dirty:    true,
	}
	if err := t.allocate(capacityFor(capacity)); err != nil {
		return nil, err
	}
	if path != "" {
		if err := t.Flush(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Open loads the table image at path. A read-only table maps the image; a
// writable one decodes it into memory and rewrites it on Flush.
func Open(path string, writable bool, opts ...Option) (*Table, error) {
	t := &Table{
		path:     path,
		opts:     applyOptions(opts),
		writable: writable,
	}

	if !writable {
		m, err := mmap.Open(path)
		if err != nil {
			return nil, err
		}
		payload, md, err := checkImage(m.Bytes())
		if err != nil {
			_ = m.Close()
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		_ = m.Advise(mmap.AccessRandom)
		t.mapping = m
		t.view = payload
		t.meta = md
		t.opts.logger.Debug("uid map mapped", "path", path, "live", md.live)
		return t, nil
	}

	img, err := fs.ReadFile(t.opts.fs, path)
	if err != nil {
		return nil, err
	}
	payload, md, err := checkImage(img)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.meta = md
	t.buckets, t.nodes = decodeImage(payload, &md)
	t.opts.logger.Debug("uid map loaded", "path", path, "live", md.live)
	return t, nil
}

// capacityFor rounds n up to a power of two, at least minCapacity.
func capacityFor(n int) uint32 {
	if n < minCapacity {
		n = minCapacity
	}
	if n > 1<<30 {
		n = 1 << 30
	}
	return 1 << bits.Len32(uint32(n-1))
}

func (t *Table) allocate(capacity uint32) error {
	numBuckets := uint64(capacity) * 4
	if numBuckets > math.MaxInt32 {
		return fmt.Errorf("%w: %d nodes", ErrCapacity, capacity)
	}
	t.meta = meta{
		numBuckets: uint32(numBuckets),
		capacity:   capacity,
		free:       -1,
	}
	t.buckets = make([]int32, numBuckets)
	for i := range t.buckets {
		t.buckets[i] = -1
	}
	t.nodes = make([]node, capacity)
	return nil
}

// Path returns the backing file, or "" for a memory-only table.
func (t *Table) Path() string { return t.path }

// Writable reports whether the table accepts mutations.
func (t *Table) Writable() bool { return t.writable }

// Len returns the number of nodes in use, tombstones included.
func (t *Table) Len() int { return int(t.meta.live) }

// Count returns how many IDs were assigned for typ.
func (t *Table) Count(typ Type) uint32 {
	if typ > MaxType {
		return 0
	}
	return t.meta.counts[typ]
}

// Stats returns a snapshot of the table shape.
func (t *Table) Stats() Stats {
	return Stats{
		Buckets:    int(t.meta.numBuckets),
		Capacity:   int(t.meta.capacity),
		Used:       int(t.meta.used),
		Live:       int(t.meta.live),
		Tombstones: int(t.meta.tombstones),
		Collisions: t.meta.collisions,
	}
}

func (t *Table) bucketOf(ns Namespace, key uint64) uint32 {
	return uint32(hash.Key64(uint8(ns), key) & uint64(t.meta.numBuckets-1))
}

func (t *Table) head(b uint32) int32 {
	if t.view != nil {
		off := metaSize + int(b)*bucketSize
		return int32(binary.LittleEndian.Uint32(t.view[off:]))
	}
	return t.buckets[b]
}

func (t *Table) node(i int32) node {
	if t.view != nil {
		off := metaSize + int(t.meta.numBuckets)*bucketSize + int(i)*nodeSize
		return decodeNode(t.view[off : off+nodeSize])
	}
	return t.nodes[i]
}

func less(ns1 Namespace, k1 uint64, ns2 Namespace, k2 uint64) bool {
	return ns1 < ns2 || ns1 == ns2 && k1 < k2
}

// find walks the sorted chain for (ns, key). It returns the matching slot (or
// -1) and the slot after which (ns, key) is or would be linked (or -1).
func (t *Table) find(ns Namespace, key uint64) (idx, prev int32) {
	prev = -1
	for cur := t.head(t.bucketOf(ns, key)); cur >= 0; {
		n := t.node(cur)
		if n.ns == ns && n.key == key {
			return cur, prev
		}
		if less(ns, key, n.ns, n.key) {
			break
		}
		prev = cur
		cur = n.next
	}
	return -1, prev
}

func (t *Table) entry(slot int32, n *node) Entry {
	return Entry{
		Namespace: n.ns,
		Key:       n.key,
		Value:     n.value(),
		Handle:    Handle{Slot: uint32(slot), Gen: n.gen},
	}
}

// All yields every node in use, tombstones included, in slot order.
func (t *Table) All() iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		if t.closed {
			return
		}
		for i := int32(0); i < int32(t.meta.used); i++ {
			n := t.node(i)
			if !n.used {
				continue
			}
			if !yield(t.entry(i, &n)) {
				return
			}
		}
	}
}

// Flush writes the image if the table is file-backed and has changed.
func (t *Table) Flush() error {
	if t.closed {
		return ErrClosed
	}
	if !t.writable || t.path == "" || !t.dirty {
		return nil
	}
	img := encodeImage(&t.meta, t.buckets, t.nodes)
	if err := fs.WriteFileAtomic(t.opts.fs, t.path, img); err != nil {
		return fmt.Errorf("phash: write %s: %w", t.path, err)
	}
	t.dirty = false
	return nil
}

// Close flushes a writable table and releases a mapped one. It is idempotent.
func (t *Table) Close() error {
	if t.closed {
		return nil
	}
	err := t.Flush()
	t.closed = true
	if t.mapping != nil {
		err = errors.Join(err, t.mapping.Close())
		t.mapping = nil
		t.view = nil
	}
	t.buckets = nil
	t.nodes = nil
	return err
}

func (t *Table) checkRead() error {
	if t.closed {
		return ErrClosed
	}
	return nil
}

func (t *Table) checkWrite() error {
	if t.closed {
		return ErrClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	return nil
}

func (t *Table) logger() *slog.Logger { return t.opts.logger }
