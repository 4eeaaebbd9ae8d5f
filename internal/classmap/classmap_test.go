package classmap

import (
	"math/rand/v2"
	"testing"

	"github.com/hupe1980/readstore/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type appended struct {
	class model.Class
	pos   uint32
}

// record appends classes and returns what each IID was assigned.
func record(t *testing.T, m *Map, classes []model.Class) map[model.IID]appended {
	t.Helper()
	out := make(map[model.IID]appended, len(classes))
	for _, c := range classes {
		iid, pos, err := m.Add(c)
		require.NoError(t, err)
		out[iid] = appended{c, pos}
	}
	return out
}

func assertLookups(t *testing.T, m *Map, want map[model.IID]appended) {
	t.Helper()
	for iid, a := range want {
		c, pos, ok := m.Lookup(iid)
		require.True(t, ok, "iid %d", iid)
		assert.Equal(t, a.class, c, "iid %d", iid)
		assert.Equal(t, a.pos, pos, "iid %d", iid)
	}
}

func TestCanonicalArithmetic(t *testing.T) {
	m := NewCanonical([model.NumClasses]uint32{}, model.ClassPacked)
	classes := []model.Class{
		model.ClassPacked, model.ClassPacked, model.ClassNormal,
		model.ClassNormal, model.ClassNormal, model.ClassStrobe,
	}
	want := record(t, m, classes)
	assert.True(t, m.Canonical())
	assert.Equal(t, uint32(6), m.Len())
	assert.Equal(t, [model.NumClasses]uint32{2, 3, 1}, m.Counts())
	assertLookups(t, m, want)

	_, _, ok := m.Lookup(0)
	assert.False(t, ok)
	_, _, ok = m.Lookup(7)
	assert.False(t, ok)
}

func TestOutOfOrderMaterializes(t *testing.T) {
	m := NewCanonical([model.NumClasses]uint32{}, model.ClassPacked)
	want := record(t, m, []model.Class{model.ClassNormal, model.ClassNormal})
	require.True(t, m.Canonical())

	// A packed read after normal ones breaks the arithmetic.
	iid, pos, err := m.Add(model.ClassPacked)
	require.NoError(t, err)
	want[iid] = appended{model.ClassPacked, pos}
	assert.False(t, m.Canonical())
	assert.Equal(t, model.IID(3), iid)
	assert.Equal(t, uint32(0), pos)

	for k, v := range record(t, m, []model.Class{model.ClassStrobe, model.ClassNormal, model.ClassPacked}) {
		want[k] = v
	}
	assertLookups(t, m, want)
	assert.Equal(t, model.ClassPacked, m.Last())
}

func TestExplicitAgreesWithArithmetic(t *testing.T) {
	counts := [model.NumClasses]uint32{pageSize + 3, 17, pageSize}
	canonical := NewCanonical(counts, model.ClassStrobe)

	explicit := NewCanonical(counts, model.ClassStrobe)
	explicit.materialize()
	require.False(t, explicit.Canonical())

	for iid := model.IID(1); uint32(iid) <= canonical.Len(); iid++ {
		c1, p1, ok1 := canonical.Lookup(iid)
		c2, p2, ok2 := explicit.Lookup(iid)
		require.True(t, ok1)
		require.True(t, ok2)
		require.Equal(t, c1, c2, "iid %d", iid)
		require.Equal(t, p1, p2, "iid %d", iid)
	}
}

func TestBuildFromScan(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	classes := make([]model.Class, 3*pageSize/2)
	for i := range classes {
		classes[i] = model.Class(rng.IntN(model.NumClasses))
	}

	m := NewCanonical([model.NumClasses]uint32{}, model.ClassPacked)
	want := record(t, m, classes)

	// Per-class record files as a store would hold them.
	var files [model.NumClasses][]model.IID
	for iid := model.IID(1); int(iid) <= len(classes); iid++ {
		a := want[iid]
		files[a.class] = append(files[a.class], iid)
	}

	built, err := Build(m.Counts(), func(c model.Class, pos uint32) (model.IID, error) {
		return files[c][pos], nil
	})
	require.NoError(t, err)
	assert.False(t, built.Canonical())
	assert.Equal(t, m.Len(), built.Len())
	assert.Equal(t, m.Last(), built.Last())
	assertLookups(t, built, want)

	iid, _, err := built.Add(model.ClassStrobe)
	require.NoError(t, err)
	assert.Equal(t, model.IID(len(classes)+1), iid)
}

func TestBuildDetectsCorruption(t *testing.T) {
	counts := [model.NumClasses]uint32{2, 1, 0}

	_, err := Build(counts, func(c model.Class, pos uint32) (model.IID, error) {
		return 1, nil
	})
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Build(counts, func(c model.Class, pos uint32) (model.IID, error) {
		return 9, nil
	})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestAddInvalidClass(t *testing.T) {
	m := NewCanonical([model.NumClasses]uint32{}, model.ClassPacked)
	_, _, err := m.Add(model.Class(7))
	assert.ErrorIs(t, err, ErrInvalidClass)
}
