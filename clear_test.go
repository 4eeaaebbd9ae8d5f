package readstore_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/readstore/model"
)

func TestRangeKindsAreIndependent(t *testing.T) {
	st, dir := newTestStore(t)
	_, err := st.Append(fragment(10, 100))
	require.NoError(t, err)
	_, err = st.Append(fragment(11, 30))
	require.NoError(t, err)

	// A new kind on a writable store starts from each record's clear range.
	r, err := st.GetRange(2, model.KindVector)
	require.NoError(t, err)
	assert.Equal(t, model.Range{Begin: 0, End: 30}, r)

	require.NoError(t, st.SetRange(1, model.KindQuality, model.Range{Begin: 5, End: 50}))
	require.NoError(t, st.SetRange(2, model.KindContaminant, model.Range{Begin: 1, End: 2}))

	r, err = st.GetRange(1, model.KindVector)
	require.NoError(t, err)
	assert.Equal(t, model.Range{Begin: 0, End: 100}, r)
	r, err = st.GetRange(1, model.KindContaminant)
	require.NoError(t, err)
	assert.Equal(t, model.Range{Begin: 0, End: 100}, r)
	r, err = st.GetRange(2, model.KindQuality)
	require.NoError(t, err)
	assert.Equal(t, model.Range{Begin: 0, End: 30}, r)

	// Setting a side table leaves the record untouched.
	f, err := st.Get(1, model.FieldInfo)
	require.NoError(t, err)
	assert.Equal(t, model.Range{Begin: 0, End: 100}, f.Clear)

	assert.Equal(t, []model.Kind{model.KindQuality, model.KindContaminant, model.KindVector}, st.RangeKinds())

	matches, err := filepath.Glob(filepath.Join(dir, "clr.qlt.*"))
	require.NoError(t, err)
	assert.Len(t, matches, int(model.NumClasses))
}

func TestPurgeRange(t *testing.T) {
	st, dir := newTestStore(t)
	_, err := st.Append(fragment(10, 100))
	require.NoError(t, err)
	require.NoError(t, st.SetRange(1, model.KindQuality, model.Range{Begin: 7, End: 9}))
	require.NoError(t, st.SetRange(1, model.KindVector, model.Range{Begin: 3, End: 4}))

	require.NoError(t, st.PurgeRange(model.KindQuality))
	assert.Equal(t, []model.Kind{model.KindVector}, st.RangeKinds())

	matches, err := filepath.Glob(filepath.Join(dir, "clr.qlt.*"))
	require.NoError(t, err)
	assert.Empty(t, matches)

	r, err := st.GetRange(1, model.KindVector)
	require.NoError(t, err)
	assert.Equal(t, model.Range{Begin: 3, End: 4}, r)

	// The next access configures the kind again from the record.
	r, err = st.GetRange(1, model.KindQuality)
	require.NoError(t, err)
	assert.Equal(t, model.Range{Begin: 0, End: 100}, r)
}

func TestAppendWithRanges(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.Append(fragment(10, 100))
	require.NoError(t, err)
	require.NoError(t, st.SetRange(1, model.KindQuality, model.Range{Begin: 5, End: 50}))

	f := fragment(11, 30)
	f.Ranges = map[model.Kind]model.Range{model.KindMax: {Begin: 2, End: 20}}
	iid, err := st.Append(f)
	require.NoError(t, err)

	// Configured kinds start at the new record's clear range.
	r, err := st.GetRange(iid, model.KindQuality)
	require.NoError(t, err)
	assert.Equal(t, model.Range{Begin: 0, End: 30}, r)

	r, err = st.GetRange(iid, model.KindMax)
	require.NoError(t, err)
	assert.Equal(t, model.Range{Begin: 2, End: 20}, r)

	// The kind introduced by the append was seeded for older records.
	r, err = st.GetRange(1, model.KindMax)
	require.NoError(t, err)
	assert.Equal(t, model.Range{Begin: 0, End: 100}, r)
}

func TestRangeInvalidKind(t *testing.T) {
	st, _ := newTestStore(t)
	_, err := st.Append(fragment(10, 100))
	require.NoError(t, err)

	_, err = st.GetRange(1, "")
	assert.ErrorIs(t, err, model.ErrInvalidKind)
	assert.ErrorIs(t, st.SetRange(1, "UPPER", model.Range{}), model.ErrInvalidKind)
	assert.ErrorIs(t, st.PurgeRange("much-too-long"), model.ErrInvalidKind)
}
