package readstore_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/readstore"
	"github.com/hupe1980/readstore/internal/fs"
	"github.com/hupe1980/readstore/model"
	"github.com/hupe1980/readstore/testutil"
)

// threeReads appends a normal, a packed and a strobe read with numeric
// UIDs 1, 2 and 3.
func threeReads(t *testing.T, st *readstore.Store, rng *testutil.RNG) {
	t.Helper()
	for i, n := range []int{120, 40, 3000} {
		iid, err := st.Append(rng.Fragment(uint64(i+1), n))
		require.NoError(t, err)
		require.Equal(t, model.IID(i+1), iid)
	}
}

func partitionFilesIn(t *testing.T, dir string) []string {
	t.Helper()
	names, err := filepath.Glob(filepath.Join(dir, "*.[0-9][0-9][0-9]"))
	require.NoError(t, err)
	return names
}

func TestBuildPartitions(t *testing.T) {
	rng := testutil.NewRNG(1)
	st, _ := newTestStore(t)
	threeReads(t, st, rng)
	require.NoError(t, st.SetRange(1, model.KindQuality, model.Range{Begin: 5, End: 110}))

	report, err := st.BuildPartitions([]int{0, 1, 2, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, report.Partition(1).ToArray())
	assert.Equal(t, []uint32{2}, report.Partition(2).ToArray())
	assert.Equal(t, []uint32{3}, report.Skipped.ToArray())
	assert.True(t, report.Deleted.IsEmpty())
	assert.Equal(t, uint64(2), report.Copied())
	assert.Nil(t, report.Partition(3))

	p1, err := st.LoadPartition(1)
	require.NoError(t, err)
	defer p1.Close()

	assert.Equal(t, 1, p1.Number())
	assert.Equal(t, 1, p1.Len())
	assert.True(t, p1.Contains(1))
	assert.False(t, p1.Contains(2))

	want, err := st.Get(1, model.FieldAll)
	require.NoError(t, err)
	got, err := p1.Get(1, model.FieldAll)
	require.NoError(t, err)
	assert.Equal(t, want.UID, got.UID)
	assert.Equal(t, want.IID, got.IID)
	assert.Equal(t, want.Class, got.Class)
	assert.Equal(t, want.Clear, got.Clear)
	assert.Equal(t, want.Sequence, got.Sequence)
	assert.Equal(t, want.Quality, got.Quality)

	_, err = p1.Get(2, model.FieldInfo)
	assert.ErrorIs(t, err, readstore.ErrNotInPartition)
	_, err = p1.Get(3, model.FieldInfo)
	assert.ErrorIs(t, err, readstore.ErrNotInPartition)

	r, err := p1.GetRange(1, model.KindQuality)
	require.NoError(t, err)
	assert.Equal(t, model.Range{Begin: 5, End: 110}, r)
	r, err = p1.GetRange(1, model.KindVector)
	require.NoError(t, err)
	assert.False(t, r.Defined())

	p2, err := st.LoadPartition(2)
	require.NoError(t, err)
	defer p2.Close()
	r, err = p2.GetRange(2, model.KindQuality)
	require.NoError(t, err)
	assert.Equal(t, model.Range{Begin: 4, End: 36}, r)

	_, err = st.LoadPartition(3)
	assert.ErrorIs(t, err, readstore.ErrNotFound)
}

func TestBuildPartitionsCompleteAndDisjoint(t *testing.T) {
	rng := testutil.NewRNG(99)
	st, _ := newTestStore(t)
	const n = 300
	for _, f := range rng.Fragments(n, 1, 10, 2500) {
		_, err := st.Append(f)
		require.NoError(t, err)
	}
	deleted := []model.IID{7, 150, 299}
	for _, iid := range deleted {
		require.NoError(t, st.Delete(iid))
	}

	const maxPart = 5
	assignment := rng.Assignment(n, maxPart, 0.1, 1.2)
	report, err := st.BuildPartitions(assignment, maxPart)
	require.NoError(t, err)

	union := roaring.New()
	for p := 1; p <= maxPart; p++ {
		members := report.Partition(p)
		assert.True(t, roaring.And(union, members).IsEmpty(), "partition %d overlaps", p)
		union.Or(members)
	}
	for iid := uint32(1); iid <= n; iid++ {
		switch {
		case report.Deleted.Contains(iid):
			assert.False(t, union.Contains(iid))
		case assignment[iid] <= 0:
			assert.True(t, report.Skipped.Contains(iid), "iid %d", iid)
		default:
			assert.True(t, report.Partition(assignment[iid]).Contains(iid), "iid %d", iid)
		}
	}
	for _, iid := range deleted {
		assert.True(t, report.Deleted.Contains(uint32(iid)))
	}

	for p := 1; p <= maxPart; p++ {
		part, err := st.LoadPartition(p)
		require.NoError(t, err)
		assert.True(t, part.Members().Equals(report.Partition(p)))

		prev := model.InvalidIID
		for f, err := range part.Fragments(model.FieldAll) {
			require.NoError(t, err)
			assert.Greater(t, uint32(f.IID), uint32(prev))
			prev = f.IID

			seq, qlt, err := st.Read(f.IID)
			require.NoError(t, err)
			pseq, pqlt, err := part.Read(f.IID)
			require.NoError(t, err)
			assert.Equal(t, seq, pseq)
			assert.Equal(t, qlt, pqlt)
		}
		require.NoError(t, part.Close())
	}
}

func TestBuildPartitionsInvalidAssignment(t *testing.T) {
	st, dir := newTestStore(t)
	for uid := model.UID(1); uid <= 3; uid++ {
		_, err := st.Append(fragment(uid, 10))
		require.NoError(t, err)
	}

	_, err := st.BuildPartitions([]int{0, 1, 1}, 1)
	assert.ErrorIs(t, err, readstore.ErrInvalidAssignment)
	_, err = st.BuildPartitions([]int{0, 1, 2, 3}, 2)
	assert.ErrorIs(t, err, readstore.ErrInvalidAssignment)
	_, err = st.BuildPartitions([]int{0, 0, 0, 0}, 0)
	assert.ErrorIs(t, err, readstore.ErrInvalidAssignment)
	_, err = st.BuildPartitions([]int{0, 1, 1, 1}, readstore.MaxPartition+1)
	assert.ErrorIs(t, err, readstore.ErrInvalidAssignment)

	assert.Empty(t, partitionFilesIn(t, dir))
}

func TestBuildPartitionsReplacesPrevious(t *testing.T) {
	st, dir := newTestStore(t)
	for uid := model.UID(1); uid <= 3; uid++ {
		_, err := st.Append(fragment(uid, 10))
		require.NoError(t, err)
	}

	_, err := st.BuildPartitions([]int{0, 1, 2, 3}, 3)
	require.NoError(t, err)
	_, err = st.BuildPartitions([]int{0, 1, 1, 1}, 1)
	require.NoError(t, err)

	for _, name := range partitionFilesIn(t, dir) {
		assert.Equal(t, ".001", filepath.Ext(name))
	}
	_, err = st.LoadPartition(3)
	assert.ErrorIs(t, err, readstore.ErrNotFound)

	p, err := st.LoadPartition(1)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, 3, p.Len())
}

func TestBuildPartitionsFailureRemovesFiles(t *testing.T) {
	faulty := fs.NewFaultyFS(nil)
	rng := testutil.NewRNG(3)
	st, dir := newTestStore(t, readstore.WithFileSystem(faulty))
	threeReads(t, st, rng)

	// The header of partition 2's normal record file fits, the first record does not.
	faulty.AddRule("fnm.002", fs.Fault{FailAfterBytes: 64})

	report, err := st.BuildPartitions([]int{0, 2, 1, 1}, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.Nil(t, report)
	assert.Empty(t, partitionFilesIn(t, dir))

	// The store itself is untouched and the build can be retried.
	faulty.Reset()
	report, err = st.BuildPartitions([]int{0, 2, 1, 1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint32{2, 3}, report.Partition(1).ToArray())

	f, err := st.Get(1, model.FieldInfo)
	require.NoError(t, err)
	assert.Equal(t, model.UID(1), f.UID)
}

func TestBuildPartitionsReadOnly(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.Append(fragment(1, 10))
	require.NoError(t, err)
	st = reopen(t, st, readstore.ReadOnly)

	_, err = st.BuildPartitions([]int{0, 1}, 1)
	assert.ErrorIs(t, err, readstore.ErrReadOnly)
}

func TestOpenPartition(t *testing.T) {
	st, dir := newTestStore(t)
	lib, err := st.AddLibrary(&model.Library{UID: 77, Mean: 5000, StdDev: 500})
	require.NoError(t, err)

	uid, err := st.UID("read/1")
	require.NoError(t, err)
	f := fragment(uid, 100)
	f.Library = lib
	_, err = st.Append(f)
	require.NoError(t, err)

	_, err = st.BuildPartitions([]int{0, 1}, 1)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	p, err := readstore.OpenPartition(dir, 1, failOnFatal(t))
	require.NoError(t, err)
	defer p.Close()

	got, err := p.Get(1, model.FieldInfo)
	require.NoError(t, err)
	name, err := p.UIDName(got.UID)
	require.NoError(t, err)
	assert.Equal(t, "read/1", name)

	l, err := p.Library(got.Library)
	require.NoError(t, err)
	assert.Equal(t, 5000.0, l.Mean)
	assert.Len(t, p.Libraries(), 1)

	require.NoError(t, p.Close())
	_, err = p.Get(1, model.FieldInfo)
	assert.ErrorIs(t, err, readstore.ErrClosed)

	_, err = readstore.OpenPartition(dir, 2)
	assert.ErrorIs(t, err, readstore.ErrNotFound)
	_, err = readstore.OpenPartition(filepath.Join(t.TempDir(), "none"), 1)
	assert.ErrorIs(t, err, readstore.ErrNotFound)
}

func TestOpenPartitionWithoutUIDFiles(t *testing.T) {
	st, dir := newTestStore(t)
	uid, err := st.UID("read/2")
	require.NoError(t, err)
	_, err = st.Append(fragment(uid, 100))
	require.NoError(t, err)
	_, err = st.Append(fragment(12, 100))
	require.NoError(t, err)
	_, err = st.BuildPartitions([]int{0, 1, 1}, 1)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	require.NoError(t, os.Remove(filepath.Join(dir, "uix")))

	p, err := readstore.OpenPartition(dir, 1, failOnFatal(t))
	require.NoError(t, err)
	defer p.Close()

	_, err = p.UIDName(uid)
	assert.ErrorIs(t, err, readstore.ErrNotFound)
	name, err := p.UIDName(12)
	require.NoError(t, err)
	assert.Equal(t, "12", name)
}

func TestPartitionCloseWhileReading(t *testing.T) {
	rng := testutil.NewRNG(21)
	st, dir := newTestStore(t)
	threeReads(t, st, rng)
	_, err := st.BuildPartitions([]int{0, 1, 1, 1}, 1)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	p, err := readstore.OpenPartition(dir, 1, failOnFatal(t))
	require.NoError(t, err)

	started := make(chan struct{})
	errs := make(chan error, 8)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			once := false
			for {
				for iid := model.IID(1); iid <= 3; iid++ {
					if _, _, err := p.Read(iid); err != nil {
						errs <- err
						return
					}
					if _, err := p.GetRange(iid, model.KindLatest); err != nil {
						errs <- err
						return
					}
				}
				if !once {
					started <- struct{}{}
					once = true
				}
			}
		}()
	}
	for g := 0; g < 8; g++ {
		<-started
	}
	require.NoError(t, p.Close())
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, readstore.ErrClosed)
	}
}
