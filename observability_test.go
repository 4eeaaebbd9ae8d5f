package readstore_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/readstore"
	"github.com/hupe1980/readstore/blobstore"
	"github.com/hupe1980/readstore/model"
)

func TestBasicMetricsCollector(t *testing.T) {
	mc := &readstore.BasicMetricsCollector{}
	st, _ := newTestStore(t, readstore.WithMetricsCollector(mc), readstore.WithUIDCapacity(4))

	for i, n := range []int{10, 100, 3000, 20} {
		_, err := st.Append(fragment(model.UID(i+1), n))
		require.NoError(t, err)
	}
	for uid := model.UID(5); uid <= 20; uid++ {
		_, err := st.Append(fragment(uid, 10))
		require.NoError(t, err)
	}
	_, err := st.Append(fragment(1, 10))
	require.Error(t, err)

	_, err = st.Get(1, model.FieldInfo)
	require.NoError(t, err)
	_, err = st.Get(99, model.FieldInfo)
	require.Error(t, err)

	require.NoError(t, st.Set(1, fragment(1, 12)))
	require.NoError(t, st.Delete(2))
	require.Error(t, st.Delete(2))
	require.NoError(t, st.SetRange(1, model.KindVector, model.Range{Begin: 1, End: 5}))

	_, err = st.BuildPartitions(make([]int, 21), 1)
	require.NoError(t, err)

	stats := mc.GetStats()
	assert.Equal(t, int64(21), stats.AppendCount)
	assert.Equal(t, int64(1), stats.AppendErrors)
	assert.Equal(t, int64(18), stats.PackedAppends)
	assert.Equal(t, int64(1), stats.NormalAppends)
	assert.Equal(t, int64(1), stats.StrobeAppends)
	assert.Equal(t, int64(2), stats.GetCount)
	assert.Equal(t, int64(1), stats.GetErrors)
	assert.Equal(t, int64(1), stats.SetCount)
	assert.Equal(t, int64(2), stats.DeleteCount)
	assert.Equal(t, int64(1), stats.DeleteErrors)
	assert.Equal(t, int64(1), stats.RangeUpdates)
	assert.Equal(t, int64(1), stats.PartitionBuilds)
	assert.Zero(t, stats.PartitionCopied)
	assert.Positive(t, stats.MapGrowths)
	assert.GreaterOrEqual(t, stats.MapCapacity, int64(20))
}

func TestTransferMetrics(t *testing.T) {
	ctx := context.Background()
	mc := &readstore.BasicMetricsCollector{}
	st, _ := newTestStore(t, readstore.WithMetricsCollector(mc))
	_, err := st.Append(fragment(1, 500))
	require.NoError(t, err)
	_, err = st.BuildPartitions([]int{0, 1}, 1)
	require.NoError(t, err)

	remote := blobstore.NewMemoryStore()
	require.NoError(t, st.PublishPartition(ctx, remote, 1))
	published := mc.GetStats().TransferBytes
	assert.Positive(t, published)

	fetchMetrics := &readstore.BasicMetricsCollector{}
	require.NoError(t, readstore.FetchPartition(ctx, remote, 1, t.TempDir(), readstore.WithMetricsCollector(fetchMetrics)))
	require.Error(t, readstore.FetchPartition(ctx, remote, 2, t.TempDir(), readstore.WithMetricsCollector(fetchMetrics)))

	stats := fetchMetrics.GetStats()
	assert.Equal(t, int64(2), stats.Transfers)
	assert.Equal(t, int64(1), stats.TransferErrors)
	assert.Equal(t, published, stats.TransferBytes, "a fetch moves what the publish sealed")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := readstore.NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	st, dir := newTestStore(t, readstore.WithLogger(logger))

	_, err := st.Append(fragment(42, 10))
	require.NoError(t, err)
	_, err = st.Append(fragment(42, 10))
	require.Error(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"store opened"`)
	assert.Contains(t, out, `"msg":"append completed"`)
	assert.Contains(t, out, `"msg":"append failed"`)
	assert.Contains(t, out, `"uid":"42"`)
	assert.True(t, strings.Contains(out, dir))
}

func TestWithLogLevel(t *testing.T) {
	st, _ := newTestStore(t, readstore.WithLogLevel(slog.LevelError))
	_, err := st.Append(fragment(1, 10))
	require.NoError(t, err)
}
