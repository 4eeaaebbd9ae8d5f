package manifest

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/readstore/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInfo() *Info {
	return &Info{
		CreatedAt: time.Unix(1700000000, 0),
		Layout: Layout{
			Records: [NumClasses]uint32{160, 64, 64},
			Library: 48,
			String:  16,
		},
		Counts:          [NumClasses]uint32{3, 2, 1},
		NumLibraries:    2,
		NumStrings:      1,
		Loaded:          6,
		Errors:          1,
		NumRandom:       5,
		PackedMaxLength: 60,
		NormalMaxLength: 2048,
		Compression:     2,
		Canonical:       false,
		LastClass:       1,
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "info")
	in := sampleInfo()
	require.NoError(t, Save(fs.Default, path, in))

	out, err := Load(fs.Default, path)
	require.NoError(t, err)

	assert.Equal(t, Version, out.Version)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	out.Version = 0
	out.CreatedAt = in.CreatedAt
	assert.Equal(t, in, out)
	assert.Equal(t, uint32(6), out.NumFragments())
}

func TestReadBinaryRejects(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleInfo().WriteBinary(&buf))
	img := buf.Bytes()

	t.Run("Magic", func(t *testing.T) {
		bad := append([]byte(nil), img...)
		bad[0] ^= 0xFF
		_, err := ReadBinary(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrInvalidMagic)
	})

	t.Run("Version", func(t *testing.T) {
		bad := append([]byte(nil), img...)
		binary.LittleEndian.PutUint32(bad[4:], Version+1)
		_, err := ReadBinary(bytes.NewReader(bad))
		var me *MismatchError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, "version", me.Field)
		assert.ErrorIs(t, err, ErrMismatch)
	})

	t.Run("Checksum", func(t *testing.T) {
		bad := append([]byte(nil), img...)
		bad[len(bad)-1] ^= 0xFF
		_, err := ReadBinary(bytes.NewReader(bad))
		assert.ErrorIs(t, err, ErrChecksum)
	})

	t.Run("Truncated", func(t *testing.T) {
		_, err := ReadBinary(bytes.NewReader(img[:10]))
		assert.Error(t, err)
	})
}

func TestCheckLayout(t *testing.T) {
	info := sampleInfo()
	require.NoError(t, info.CheckLayout(info.Layout))

	want := info.Layout
	want.Records[1] = 72
	err := info.CheckLayout(want)
	var me *MismatchError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "normal record size", me.Field)
	assert.Equal(t, uint64(72), me.Want)
	assert.Equal(t, uint64(64), me.Got)

	want = info.Layout
	want.Library = 1
	assert.ErrorIs(t, info.CheckLayout(want), ErrMismatch)
}

func TestSeal(t *testing.T) {
	seal := &Seal{
		Partition: 7,
		CreatedAt: time.Unix(1700000000, 42),
		Files: []SealedFile{
			{Name: "info", Size: 96, CRC: 0xDEADBEEF},
			{Name: "clr.qlt.nm.007", Size: 1 << 33, CRC: 1},
		},
	}
	img, err := seal.Bytes()
	require.NoError(t, err)

	got, err := ReadSeal(bytes.NewReader(img))
	require.NoError(t, err)
	assert.Equal(t, seal.Partition, got.Partition)
	assert.True(t, seal.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, seal.Files, got.Files)

	// A store header is not a seal.
	var buf bytes.Buffer
	require.NoError(t, sampleInfo().WriteBinary(&buf))
	_, err = ReadSeal(&buf)
	assert.ErrorIs(t, err, ErrInvalidMagic)

	_, err = ReadSeal(bytes.NewReader(img[:len(img)-3]))
	assert.Error(t, err)
}

func TestSealNameTooLong(t *testing.T) {
	seal := &Seal{Files: []SealedFile{{Name: string(make([]byte, 1<<16))}}}
	_, err := seal.Bytes()
	assert.Error(t, err)
}
