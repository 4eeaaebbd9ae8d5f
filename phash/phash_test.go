package phash

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/readstore/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	nsFrag Namespace = 1
	nsLib  Namespace = 2

	typFrag Type = 1
	typLib  Type = 8
)

func newMemTable(t *testing.T, capacity int) *Table {
	t.Helper()
	tbl, err := Create("", capacity)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tbl.Close() })
	return tbl
}

// assertChainsSorted checks that every bucket chain is ascending by (ns, key).
func assertChainsSorted(t *testing.T, tbl *Table) {
	t.Helper()
	for b := range tbl.buckets {
		prevNS, prevKey, first := Namespace(0), uint64(0), true
		for cur := tbl.buckets[b]; cur >= 0; cur = tbl.nodes[cur].next {
			n := tbl.nodes[cur]
			require.True(t, n.used)
			require.Equal(t, uint32(b), tbl.bucketOf(n.ns, n.key))
			if !first {
				require.True(t, less(prevNS, prevKey, n.ns, n.key), "bucket %d out of order", b)
			}
			prevNS, prevKey, first = n.ns, n.key, false
		}
	}
}

func TestInsertLookup(t *testing.T) {
	tbl := newMemTable(t, 8)

	e, err := tbl.Insert(nsFrag, 42, Value{Type: typFrag}, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), e.ID)

	got, err := tbl.Lookup(nsFrag, 42)
	require.NoError(t, err)
	assert.Equal(t, e, got)

	_, err = tbl.Lookup(nsLib, 42)
	assert.ErrorIs(t, err, ErrNotFound)

	existing, err := tbl.Insert(nsFrag, 42, Value{Type: typFrag, ID: 99}, false)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.Equal(t, uint32(1), existing.ID)

	// Same key, other namespace.
	e2, err := tbl.Insert(nsLib, 42, Value{Type: typLib}, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), e2.ID)

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, uint32(1), tbl.Count(typFrag))
	assert.Equal(t, uint32(1), tbl.Count(typLib))
}

func TestInsertValidation(t *testing.T) {
	tbl := newMemTable(t, 8)

	_, err := tbl.Insert(nsFrag, 1, Value{Type: MaxType + 1}, false)
	assert.ErrorIs(t, err, ErrInvalidType)

	_, err = tbl.Insert(nsFrag, 1, Value{RefCount: MaxRefCount + 1}, false)
	assert.ErrorIs(t, err, ErrRefOverflow)
}

func TestSequentialIDsPerType(t *testing.T) {
	tbl := newMemTable(t, 64)

	for i := 1; i <= 10; i++ {
		e, err := tbl.Insert(nsFrag, uint64(1000+i), Value{Type: typFrag}, true)
		require.NoError(t, err)
		assert.Equal(t, uint32(i), e.ID)

		if i%2 == 0 {
			l, err := tbl.Insert(nsLib, uint64(i), Value{Type: typLib}, true)
			require.NoError(t, err)
			assert.Equal(t, uint32(i/2), l.ID)
		}
	}

	// Deleting never rewinds a counter.
	require.NoError(t, tbl.Delete(nsFrag, 1010))
	e, err := tbl.Insert(nsFrag, 5000, Value{Type: typFrag}, true)
	require.NoError(t, err)
	assert.Equal(t, uint32(11), e.ID)
}

func TestChainsSortedAndGrowth(t *testing.T) {
	tbl := newMemTable(t, 16)

	handles := make(map[uint64]Handle)
	for k := uint64(0); k < 5000; k++ {
		ns := nsFrag
		if k%3 == 0 {
			ns = nsLib
		}
		e, err := tbl.Insert(ns, k*7919, Value{Type: typFrag, ID: uint32(k)}, false)
		require.NoError(t, err)
		handles[k] = e.Handle
	}
	assertChainsSorted(t, tbl)

	st := tbl.Stats()
	assert.GreaterOrEqual(t, st.Capacity, 5000)
	assert.Equal(t, st.Capacity*4, st.Buckets)
	assert.Equal(t, 5000, st.Live)

	for k := uint64(0); k < 5000; k++ {
		ns := nsFrag
		if k%3 == 0 {
			ns = nsLib
		}
		e, err := tbl.Lookup(ns, k*7919)
		require.NoError(t, err)
		assert.Equal(t, uint32(k), e.ID)

		r, err := tbl.Resolve(handles[k])
		require.NoError(t, err)
		assert.Equal(t, e.Key, r.Key)
	}
}

func TestDeleteRequiresZeroRefs(t *testing.T) {
	tbl := newMemTable(t, 8)

	_, err := tbl.Insert(nsFrag, 7, Value{Type: typFrag}, true)
	require.NoError(t, err)

	rc, err := tbl.AddRef(nsFrag, 7)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rc)

	err = tbl.Delete(nsFrag, 7)
	assert.ErrorIs(t, err, ErrOutstandingReferences)
	err = tbl.MarkDeleted(nsFrag, 7)
	assert.ErrorIs(t, err, ErrOutstandingReferences)

	rc, err = tbl.Unref(nsFrag, 7)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), rc)

	_, err = tbl.Unref(nsFrag, 7)
	assert.ErrorIs(t, err, ErrNoReferences)

	require.NoError(t, tbl.Delete(nsFrag, 7))
	_, err = tbl.Lookup(nsFrag, 7)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, tbl.Delete(nsFrag, 7), ErrNotFound)
	assert.Equal(t, 0, tbl.Len())
}

func TestFreedSlotReuseInvalidatesHandles(t *testing.T) {
	tbl := newMemTable(t, 8)

	a, err := tbl.Insert(nsFrag, 1, Value{Type: typFrag, ID: 10}, false)
	require.NoError(t, err)
	require.NoError(t, tbl.Delete(nsFrag, 1))

	_, err = tbl.Resolve(a.Handle)
	assert.ErrorIs(t, err, ErrStaleHandle)

	b, err := tbl.Insert(nsFrag, 2, Value{Type: typFrag, ID: 20}, false)
	require.NoError(t, err)
	assert.Equal(t, a.Handle.Slot, b.Handle.Slot)
	assert.NotEqual(t, a.Handle.Gen, b.Handle.Gen)

	_, err = tbl.Resolve(a.Handle)
	assert.ErrorIs(t, err, ErrStaleHandle)

	r, err := tbl.Resolve(b.Handle)
	require.NoError(t, err)
	assert.Equal(t, uint32(20), r.ID)

	_, err = tbl.Resolve(Handle{})
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestTombstones(t *testing.T) {
	tbl := newMemTable(t, 8)

	orig, err := tbl.Insert(nsFrag, 9, Value{Type: typFrag}, true)
	require.NoError(t, err)
	require.NoError(t, tbl.MarkDeleted(nsFrag, 9))
	assert.ErrorIs(t, tbl.MarkDeleted(nsFrag, 9), ErrDeleted)

	e, err := tbl.Lookup(nsFrag, 9)
	require.NoError(t, err)
	assert.True(t, e.Deleted)
	assert.Equal(t, orig.ID, e.ID)

	_, err = tbl.LookupType(nsFrag, 9, typFrag)
	assert.ErrorIs(t, err, ErrDeleted)

	_, err = tbl.AddRef(nsFrag, 9)
	assert.ErrorIs(t, err, ErrDeleted)
	assert.Equal(t, 1, tbl.Stats().Tombstones)

	// Re-inserting over a tombstone revives it with a fresh ID.
	revived, err := tbl.Insert(nsFrag, 9, Value{Type: typFrag}, true)
	require.NoError(t, err)
	assert.False(t, revived.Deleted)
	assert.Equal(t, uint32(2), revived.ID)
	assert.Equal(t, orig.Handle.Slot, revived.Handle.Slot)
	assert.Equal(t, 0, tbl.Stats().Tombstones)

	_, err = tbl.Resolve(orig.Handle)
	assert.ErrorIs(t, err, ErrStaleHandle)

	// A tombstone can also be removed outright.
	require.NoError(t, tbl.MarkDeleted(nsFrag, 9))
	require.NoError(t, tbl.Delete(nsFrag, 9))
	assert.Equal(t, 0, tbl.Stats().Tombstones)
	assert.Equal(t, 0, tbl.Len())
}

func TestLookupTypeWrongType(t *testing.T) {
	tbl := newMemTable(t, 8)
	_, err := tbl.Insert(nsLib, 3, Value{Type: typLib}, true)
	require.NoError(t, err)

	_, err = tbl.LookupType(nsLib, 3, typFrag)
	assert.ErrorIs(t, err, ErrWrongType)

	e, err := tbl.LookupType(nsLib, 3, typLib)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), e.ID)
}

func TestReserve(t *testing.T) {
	tbl := newMemTable(t, 16)
	require.NoError(t, tbl.Reserve(1000))
	assert.Equal(t, 1024, tbl.Stats().Capacity)
	require.NoError(t, tbl.Reserve(10))
	assert.Equal(t, 1024, tbl.Stats().Capacity)
}

func TestAll(t *testing.T) {
	tbl := newMemTable(t, 16)
	for k := uint64(1); k <= 5; k++ {
		_, err := tbl.Insert(nsFrag, k, Value{Type: typFrag}, true)
		require.NoError(t, err)
	}
	require.NoError(t, tbl.Delete(nsFrag, 3))
	require.NoError(t, tbl.MarkDeleted(nsFrag, 4))

	keys := map[uint64]bool{}
	for e := range tbl.All() {
		keys[e.Key] = e.Deleted
	}
	assert.Equal(t, map[uint64]bool{1: false, 2: false, 4: true, 5: false}, keys)

	count := 0
	for range tbl.All() {
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u2i")

	tbl, err := Create(path, 4)
	require.NoError(t, err)
	for k := uint64(1); k <= 100; k++ {
		_, err := tbl.Insert(nsFrag, k, Value{Type: typFrag}, true)
		require.NoError(t, err)
	}
	require.NoError(t, tbl.MarkDeleted(nsFrag, 50))
	require.NoError(t, tbl.Close())
	require.NoError(t, tbl.Close())

	t.Run("Writable", func(t *testing.T) {
		w, err := Open(path, true)
		require.NoError(t, err)
		assert.Equal(t, uint32(100), w.Count(typFrag))

		e, err := w.Lookup(nsFrag, 77)
		require.NoError(t, err)
		assert.Equal(t, uint32(77), e.ID)

		e, err = w.Insert(nsFrag, 101, Value{Type: typFrag}, true)
		require.NoError(t, err)
		assert.Equal(t, uint32(101), e.ID)
		require.NoError(t, w.Close())
	})

	t.Run("ReadOnly", func(t *testing.T) {
		r, err := Open(path, false)
		require.NoError(t, err)
		defer r.Close()

		assert.False(t, r.Writable())
		assert.Equal(t, 101, r.Len())

		e, err := r.Lookup(nsFrag, 101)
		require.NoError(t, err)
		assert.Equal(t, uint32(101), e.ID)

		e, err = r.Lookup(nsFrag, 50)
		require.NoError(t, err)
		assert.True(t, e.Deleted)

		_, err = r.Resolve(e.Handle)
		require.NoError(t, err)

		_, err = r.Insert(nsFrag, 500, Value{}, false)
		assert.ErrorIs(t, err, ErrReadOnly)
		assert.ErrorIs(t, r.Delete(nsFrag, 1), ErrReadOnly)
		_, err = r.AddRef(nsFrag, 1)
		assert.ErrorIs(t, err, ErrReadOnly)

		n := 0
		for range r.All() {
			n++
		}
		assert.Equal(t, 101, n)
	})
}

func TestOpenRejectsBadImages(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "u2i")
	tbl, err := Create(path, 8)
	require.NoError(t, err)
	_, err = tbl.Insert(nsFrag, 1, Value{Type: typFrag}, true)
	require.NoError(t, err)
	require.NoError(t, tbl.Close())

	img, err := os.ReadFile(path)
	require.NoError(t, err)

	t.Run("Checksum", func(t *testing.T) {
		bad := append([]byte(nil), img...)
		bad[len(bad)-40] ^= 0xFF
		p := filepath.Join(dir, "crc")
		require.NoError(t, os.WriteFile(p, bad, 0o644))
		_, err := Open(p, true)
		assert.ErrorIs(t, err, ErrCorrupt)
		_, err = Open(p, false)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("Version", func(t *testing.T) {
		bad := append([]byte(nil), img...)
		binary.LittleEndian.PutUint32(bad[4:], imageVersion+1)
		p := filepath.Join(dir, "ver")
		require.NoError(t, os.WriteFile(p, bad, 0o644))
		_, err := Open(p, true)
		assert.ErrorIs(t, err, ErrVersion)
	})

	t.Run("Truncated", func(t *testing.T) {
		p := filepath.Join(dir, "short")
		require.NoError(t, os.WriteFile(p, img[:len(img)-nodeSize], 0o644))
		_, err := Open(p, true)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestFlushFailureKeepsPreviousImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "u2i")
	ffs := fs.NewFaultyFS(nil)

	tbl, err := Create(path, 8, WithFileSystem(ffs))
	require.NoError(t, err)
	_, err = tbl.Insert(nsFrag, 1, Value{Type: typFrag}, true)
	require.NoError(t, err)
	require.NoError(t, tbl.Flush())

	_, err = tbl.Insert(nsFrag, 2, Value{Type: typFrag}, true)
	require.NoError(t, err)
	ffs.AddRule("u2i", fs.Fault{FailAfterBytes: -1, FailOnSync: true})
	assert.ErrorIs(t, tbl.Flush(), fs.ErrInjected)

	prev, err := Open(path, false)
	require.NoError(t, err)
	defer prev.Close()
	assert.Equal(t, 1, prev.Len())

	ffs.Reset()
	require.NoError(t, tbl.Close())
}

func TestClosed(t *testing.T) {
	tbl, err := Create("", 8)
	require.NoError(t, err)
	require.NoError(t, tbl.Close())

	_, err = tbl.Lookup(nsFrag, 1)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = tbl.Insert(nsFrag, 1, Value{}, false)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, tbl.Flush(), ErrClosed)
}
