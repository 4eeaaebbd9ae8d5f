package phash

import (
	"fmt"
)

// Insert stores value under (ns, key). With assign set, value.ID is replaced
// by the next ID of value.Type. Inserting over a live key fails with
// ErrAlreadyExists and returns the existing entry. Inserting over a tombstone
// revives it with the new value.
func (t *Table) Insert(ns Namespace, key uint64, value Value, assign bool) (Entry, error) {
	if err := t.checkWrite(); err != nil {
		return Entry{}, err
	}
	if value.Type > MaxType {
		return Entry{}, fmt.Errorf("%w: %d", ErrInvalidType, value.Type)
	}
	if value.RefCount > MaxRefCount {
		return Entry{}, fmt.Errorf("%w: %d", ErrRefOverflow, value.RefCount)
	}

	idx, prev := t.find(ns, key)
	if idx >= 0 {
		n := &t.nodes[idx]
		if !n.deleted() {
			return t.entry(idx, n), ErrAlreadyExists
		}
		if assign {
			value.ID = t.nextID(value.Type)
		}
		n.id = value.ID
		n.bits = packBits(false, value.Type, value.RefCount)
		n.gen++
		t.meta.tombstones--
		t.dirty = true
		return t.entry(idx, n), nil
	}

	if t.meta.free < 0 && t.meta.used >= t.meta.capacity {
		if err := t.grow(t.meta.capacity * 2); err != nil {
			return Entry{}, err
		}
		_, prev = t.find(ns, key)
	}

	slot := t.alloc()
	if assign {
		value.ID = t.nextID(value.Type)
	}

	n := &t.nodes[slot]
	n.key = key
	n.ns = ns
	n.id = value.ID
	n.bits = packBits(false, value.Type, value.RefCount)
	n.used = true
	t.link(slot, prev, t.bucketOf(ns, key))

	t.meta.live++
	t.dirty = true
	return t.entry(slot, n), nil
}

func (t *Table) nextID(typ Type) uint32 {
	t.meta.counts[typ]++
	return t.meta.counts[typ]
}

// alloc pops the free list or hands out the next unused slot. The caller
// guarantees one is available.
func (t *Table) alloc() int32 {
	if t.meta.free >= 0 {
		slot := t.meta.free
		t.meta.free = t.nodes[slot].next
		t.nodes[slot].next = -1
		return slot
	}
	slot := int32(t.meta.used)
	t.meta.used++
	// Fresh slots start at generation 1 so the zero Handle never resolves.
	t.nodes[slot].gen = 1
	return slot
}

func (t *Table) link(slot, prev int32, bucket uint32) {
	if prev < 0 {
		if t.buckets[bucket] >= 0 {
			t.meta.collisions++
		}
		t.nodes[slot].next = t.buckets[bucket]
		t.buckets[bucket] = slot
		return
	}
	t.meta.collisions++
	t.nodes[slot].next = t.nodes[prev].next
	t.nodes[prev].next = slot
}

// grow doubles the arena and the bucket array and rehashes every node in
// use. Slots keep their index, so handles stay valid.
func (t *Table) grow(capacity uint32) error {
	if capacity > 1<<30 {
		return fmt.Errorf("%w: %d nodes", ErrCapacity, capacity)
	}
	old := t.meta.capacity
	t.logger().Info("growing uid map",
		"path", t.path,
		"from", old,
		"to", capacity,
		"live", t.meta.live,
	)

	t.nodes = append(t.nodes, make([]node, capacity-old)...)
	t.meta.capacity = capacity
	t.meta.numBuckets = capacity * 4
	t.meta.collisions = 0
	t.buckets = make([]int32, t.meta.numBuckets)
	for i := range t.buckets {
		t.buckets[i] = -1
	}
	for slot := int32(0); slot < int32(t.meta.used); slot++ {
		n := &t.nodes[slot]
		if !n.used {
			continue
		}
		_, prev := t.find(n.ns, n.key)
		t.link(slot, prev, t.bucketOf(n.ns, n.key))
	}
	t.dirty = true

	// Growth of a file-backed table rewrites the whole image.
	if t.path != "" {
		return t.Flush()
	}
	return nil
}

// Reserve grows the table so it holds at least n nodes without further growth.
func (t *Table) Reserve(n int) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if n <= int(t.meta.capacity) {
		return nil
	}
	return t.grow(capacityFor(n))
}

// Lookup returns the entry for (ns, key). Tombstones are returned with
// Deleted set and a nil error.
func (t *Table) Lookup(ns Namespace, key uint64) (Entry, error) {
	if err := t.checkRead(); err != nil {
		return Entry{}, err
	}
	idx, _ := t.find(ns, key)
	if idx < 0 {
		return Entry{}, ErrNotFound
	}
	n := t.node(idx)
	return t.entry(idx, &n), nil
}

// LookupType is Lookup for callers that require a live value of type typ.
func (t *Table) LookupType(ns Namespace, key uint64, typ Type) (Entry, error) {
	e, err := t.Lookup(ns, key)
	if err != nil {
		return Entry{}, err
	}
	if e.Deleted {
		return e, ErrDeleted
	}
	if e.Type != typ {
		return e, fmt.Errorf("%w: got %d, want %d", ErrWrongType, e.Type, typ)
	}
	return e, nil
}

// Resolve returns the entry a handle refers to.
func (t *Table) Resolve(h Handle) (Entry, error) {
	if err := t.checkRead(); err != nil {
		return Entry{}, err
	}
	if h.Slot >= t.meta.used {
		return Entry{}, ErrStaleHandle
	}
	n := t.node(int32(h.Slot))
	if !n.used || n.gen != h.Gen {
		return Entry{}, ErrStaleHandle
	}
	return t.entry(int32(h.Slot), &n), nil
}

// Delete removes (ns, key) and returns its slot to the free list. The
// reference count must be zero. Tombstones may be deleted.
func (t *Table) Delete(ns Namespace, key uint64) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	idx, prev := t.find(ns, key)
	if idx < 0 {
		return ErrNotFound
	}
	n := &t.nodes[idx]
	if rc := n.refCount(); rc > 0 {
		return fmt.Errorf("%w: %d", ErrOutstandingReferences, rc)
	}

	if prev < 0 {
		t.buckets[t.bucketOf(ns, key)] = n.next
	} else {
		t.nodes[prev].next = n.next
	}
	if n.deleted() {
		t.meta.tombstones--
	}

	gen := n.gen + 1
	*n = node{gen: gen, next: t.meta.free}
	t.meta.free = idx
	t.meta.live--
	t.dirty = true
	return nil
}

// MarkDeleted turns (ns, key) into a tombstone that stays resolvable. The
// reference count must be zero.
func (t *Table) MarkDeleted(ns Namespace, key uint64) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	idx, _ := t.find(ns, key)
	if idx < 0 {
		return ErrNotFound
	}
	n := &t.nodes[idx]
	if n.deleted() {
		return ErrDeleted
	}
	if rc := n.refCount(); rc > 0 {
		return fmt.Errorf("%w: %d", ErrOutstandingReferences, rc)
	}
	n.setDeleted(true)
	t.meta.tombstones++
	t.dirty = true
	return nil
}

// AddRef increments the reference count of a live key and returns the new count.
func (t *Table) AddRef(ns Namespace, key uint64) (uint32, error) {
	n, err := t.liveNode(ns, key)
	if err != nil {
		return 0, err
	}
	rc := n.refCount()
	if rc == MaxRefCount {
		return rc, ErrRefOverflow
	}
	n.setRefCount(rc + 1)
	t.dirty = true
	return rc + 1, nil
}

// Unref decrements the reference count of a live key and returns the new count.
func (t *Table) Unref(ns Namespace, key uint64) (uint32, error) {
	n, err := t.liveNode(ns, key)
	if err != nil {
		return 0, err
	}
	rc := n.refCount()
	if rc == 0 {
		return 0, ErrNoReferences
	}
	n.setRefCount(rc - 1)
	t.dirty = true
	return rc - 1, nil
}

func (t *Table) liveNode(ns Namespace, key uint64) (*node, error) {
	if err := t.checkWrite(); err != nil {
		return nil, err
	}
	idx, _ := t.find(ns, key)
	if idx < 0 {
		return nil, ErrNotFound
	}
	n := &t.nodes[idx]
	if n.deleted() {
		return nil, ErrDeleted
	}
	return n, nil
}
