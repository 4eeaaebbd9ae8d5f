package readstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/readstore"
	"github.com/hupe1980/readstore/blobstore"
	"github.com/hupe1980/readstore/model"
	"github.com/hupe1980/readstore/testutil"
)

func TestPublishFetchPartition(t *testing.T) {
	stores := map[string]func(t *testing.T) blobstore.BlobStore{
		"memory": func(*testing.T) blobstore.BlobStore { return blobstore.NewMemoryStore() },
		"local":  func(t *testing.T) blobstore.BlobStore { return blobstore.NewLocalStore(t.TempDir()) },
	}
	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rng := testutil.NewRNG(11)
			st, _ := newTestStore(t, readstore.WithCompression(readstore.CompressionLZ4))
			threeReads(t, st, rng)
			require.NoError(t, st.SetRange(3, model.KindVector, model.Range{Begin: 100, End: 2900}))

			_, err := st.BuildPartitions([]int{0, 1, 2, 1}, 2)
			require.NoError(t, err)

			remote := newStore(t)
			require.NoError(t, st.PublishPartition(ctx, remote, 1))
			require.NoError(t, st.PublishPartition(ctx, remote, 2))

			names, err := remote.List(ctx, "")
			require.NoError(t, err)
			assert.Contains(t, names, "info.001")
			assert.Contains(t, names, "info.002")
			assert.Contains(t, names, "lib.001")
			assert.Contains(t, names, "fnm.001")
			assert.Contains(t, names, "bsb.001")
			assert.Contains(t, names, "fpk.002")
			assert.Contains(t, names, "clr.vec.sb.001")
			assert.Contains(t, names, "seal.001")
			assert.Contains(t, names, "seal.002")
			assert.NotContains(t, names, "fnm")
			assert.NotContains(t, names, "info")
			assert.NotContains(t, names, "u2i")

			parts, err := readstore.PublishedPartitions(ctx, remote)
			require.NoError(t, err)
			assert.Equal(t, []int{1, 2}, parts)

			dir := filepath.Join(t.TempDir(), "p1")
			require.NoError(t, readstore.FetchPartition(ctx, remote, 1, dir))
			for _, f := range partitionFilesIn(t, dir) {
				assert.Equal(t, ".001", filepath.Ext(f))
			}

			p, err := readstore.OpenPartition(dir, 1, failOnFatal(t))
			require.NoError(t, err)
			defer p.Close()
			assert.Equal(t, 2, p.Len())

			for _, iid := range []model.IID{1, 3} {
				seq, qlt, err := st.Read(iid)
				require.NoError(t, err)
				pseq, pqlt, err := p.Read(iid)
				require.NoError(t, err)
				assert.Equal(t, seq, pseq)
				assert.Equal(t, qlt, pqlt)
			}
			_, err = p.Get(2, model.FieldInfo)
			assert.ErrorIs(t, err, readstore.ErrNotInPartition)

			r, err := p.GetRange(3, model.KindVector)
			require.NoError(t, err)
			assert.Equal(t, model.Range{Begin: 100, End: 2900}, r)

			_, err = readstore.OpenPartition(dir, 2)
			assert.ErrorIs(t, err, readstore.ErrNotFound)
		})
	}
}

func TestPublishMissingPartition(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	_, err := st.Append(fragment(1, 10))
	require.NoError(t, err)
	_, err = st.BuildPartitions([]int{0, 1}, 1)
	require.NoError(t, err)

	remote := blobstore.NewMemoryStore()
	assert.ErrorIs(t, st.PublishPartition(ctx, remote, 2), readstore.ErrNotFound)

	err = readstore.FetchPartition(ctx, remote, 1, t.TempDir())
	assert.ErrorIs(t, err, readstore.ErrNotFound)

	// Partition files without a seal are not a partition.
	require.NoError(t, blobstore.Put(ctx, remote, "info", []byte("x")))
	require.NoError(t, blobstore.Put(ctx, remote, "fpk.001", []byte("x")))
	err = readstore.FetchPartition(ctx, remote, 1, t.TempDir())
	assert.ErrorIs(t, err, readstore.ErrNotFound)

	parts, err := readstore.PublishedPartitions(ctx, remote)
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestFetchVerifiesSeal(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(12)
	st, _ := newTestStore(t)
	threeReads(t, st, rng)
	_, err := st.BuildPartitions([]int{0, 1, 1, 1}, 1)
	require.NoError(t, err)

	remote := blobstore.NewMemoryStore()
	require.NoError(t, st.PublishPartition(ctx, remote, 1))

	t.Run("Tampered", func(t *testing.T) {
		good, err := blobstore.ReadAll(ctx, remote, "fnm.001")
		require.NoError(t, err)
		bad := append([]byte(nil), good...)
		bad[len(bad)-1] ^= 0xFF
		require.NoError(t, blobstore.Put(ctx, remote, "fnm.001", bad))
		t.Cleanup(func() { _ = blobstore.Put(ctx, remote, "fnm.001", good) })

		dir := t.TempDir()
		err = readstore.FetchPartition(ctx, remote, 1, dir)
		assert.ErrorIs(t, err, readstore.ErrCorrupt)
		_, statErr := os.Stat(filepath.Join(dir, "fnm.001"))
		assert.True(t, os.IsNotExist(statErr), "a file failing verification is not kept")
	})

	t.Run("Missing", func(t *testing.T) {
		good, err := blobstore.ReadAll(ctx, remote, "bnm.001")
		require.NoError(t, err)
		require.NoError(t, remote.Delete(ctx, "bnm.001"))
		t.Cleanup(func() { _ = blobstore.Put(ctx, remote, "bnm.001", good) })

		err = readstore.FetchPartition(ctx, remote, 1, t.TempDir())
		assert.ErrorIs(t, err, readstore.ErrCorrupt)
	})

	t.Run("GarbledSeal", func(t *testing.T) {
		good, err := blobstore.ReadAll(ctx, remote, "seal.001")
		require.NoError(t, err)
		require.NoError(t, blobstore.Put(ctx, remote, "seal.001", good[:len(good)/2]))
		t.Cleanup(func() { _ = blobstore.Put(ctx, remote, "seal.001", good) })

		err = readstore.FetchPartition(ctx, remote, 1, t.TempDir())
		assert.ErrorIs(t, err, readstore.ErrCorrupt)
	})

	t.Run("Intact", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, readstore.FetchPartition(ctx, remote, 1, dir))
		p, err := readstore.OpenPartition(dir, 1, failOnFatal(t))
		require.NoError(t, err)
		defer p.Close()
		assert.Equal(t, 3, p.Len())
	})
}

func TestUnpublishPartition(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(13)
	st, _ := newTestStore(t)
	threeReads(t, st, rng)
	_, err := st.BuildPartitions([]int{0, 1, 2, 2}, 2)
	require.NoError(t, err)

	remote := blobstore.NewMemoryStore()
	require.NoError(t, st.PublishPartition(ctx, remote, 1))
	require.NoError(t, st.PublishPartition(ctx, remote, 2))

	require.NoError(t, readstore.UnpublishPartition(ctx, remote, 2))
	parts, err := readstore.PublishedPartitions(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, parts)

	names, err := remote.List(ctx, "")
	require.NoError(t, err)
	for _, name := range names {
		assert.NotEqual(t, ".002", filepath.Ext(name), name)
	}
	assert.Contains(t, names, "info.001")

	// Partition 1 still fetches after its neighbour is gone.
	require.NoError(t, readstore.FetchPartition(ctx, remote, 1, t.TempDir()))

	err = readstore.UnpublishPartition(ctx, remote, 2)
	assert.ErrorIs(t, err, readstore.ErrNotFound)
}

func TestPublishKeepsEarlierSeals(t *testing.T) {
	ctx := context.Background()
	rng := testutil.NewRNG(14)
	st, _ := newTestStore(t)
	threeReads(t, st, rng)
	_, err := st.BuildPartitions([]int{0, 1, 2, 2}, 2)
	require.NoError(t, err)

	remote := blobstore.NewMemoryStore()
	require.NoError(t, st.PublishPartition(ctx, remote, 1))

	// The header changes between the two publishes.
	require.NoError(t, st.RecordLoadError())
	_, err = st.AddLibrary(&model.Library{UID: 42, Mean: 1000, StdDev: 100})
	require.NoError(t, err)
	require.NoError(t, st.PublishPartition(ctx, remote, 2))

	parts, err := readstore.PublishedPartitions(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, parts)

	for n, libs := range map[int]int{1: 0, 2: 1} {
		dir := t.TempDir()
		require.NoError(t, readstore.FetchPartition(ctx, remote, n, dir))
		p, err := readstore.OpenPartition(dir, n, failOnFatal(t))
		require.NoError(t, err)
		assert.Len(t, p.Libraries(), libs)
		require.NoError(t, p.Close())
	}
}

func TestPublishReadOnlyStore(t *testing.T) {
	ctx := context.Background()
	st, _ := newTestStore(t)
	_, err := st.Append(fragment(1, 10))
	require.NoError(t, err)
	_, err = st.BuildPartitions([]int{0, 1}, 1)
	require.NoError(t, err)
	st = reopen(t, st, readstore.ReadOnly)

	remote := blobstore.NewMemoryStore()
	require.NoError(t, st.PublishPartition(ctx, remote, 1))

	require.NoError(t, st.Close())
	assert.ErrorIs(t, st.PublishPartition(ctx, remote, 1), readstore.ErrClosed)
}
