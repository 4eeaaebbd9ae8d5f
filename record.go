package readstore

import (
	"encoding/binary"
	"math"

	"github.com/hupe1980/readstore/internal/manifest"
	"github.com/hupe1980/readstore/model"
)

// Fixed record layouts, little-endian.
//
// Every fragment record starts with:
//
//	0  iid        uint32
//	4  uid        uint64
//	12 library    uint32
//	16 mate       uint32
//	20 length     uint32
//	24 clearBegin uint32
//	28 clearEnd   uint32
//	32 flags      uint8
//	33 orient     uint8
//	34 (reserved) uint16
//	36 seqOffset  uint64
//	44 seqLength  uint32
//	48 qualOffset uint64
//	56 qualLength uint32
//
// Packed records append an inline payload area; strobe records reserve
// four trailing bytes.
const (
	fragmentHeaderSize = 60
	packedInlineSize   = 120

	packedRecordSize  = fragmentHeaderSize + packedInlineSize
	normalRecordSize  = fragmentHeaderSize
	strobeRecordSize  = fragmentHeaderSize + 4
	libraryRecordSize = 40
	stringRecordSize  = 12
)

const (
	flagDeleted uint8 = 1 << iota
	flagNonRandom
	flagInline
)

var recordSizes = [model.NumClasses]int{packedRecordSize, normalRecordSize, strobeRecordSize}

// currentLayout is the layout this build writes and accepts.
func currentLayout() manifest.Layout {
	return manifest.Layout{
		Records: [manifest.NumClasses]uint32{packedRecordSize, normalRecordSize, strobeRecordSize},
		Library: libraryRecordSize,
		String:  stringRecordSize,
	}
}

// fitsInline reports whether payloads can live in a packed record.
func fitsInline(class model.Class, seq, qlt []byte) bool {
	return class == model.ClassPacked && len(seq)+len(qlt) <= packedInlineSize
}

func encodeFragment(class model.Class, f *model.Fragment) []byte {
	b := make([]byte, recordSizes[class])
	le := binary.LittleEndian
	le.PutUint32(b[0:], uint32(f.IID))
	le.PutUint64(b[4:], uint64(f.UID))
	le.PutUint32(b[12:], uint32(f.Library))
	le.PutUint32(b[16:], uint32(f.Mate))
	le.PutUint32(b[20:], f.Length)
	le.PutUint32(b[24:], f.Clear.Begin)
	le.PutUint32(b[28:], f.Clear.End)

	var flags uint8
	if f.Deleted {
		flags |= flagDeleted
	}
	if f.NonRandom {
		flags |= flagNonRandom
	}
	if f.Inline {
		flags |= flagInline
	}
	b[32] = flags
	b[33] = byte(f.Orientation)

	le.PutUint64(b[36:], f.SeqOffset)
	le.PutUint32(b[44:], f.SeqLength)
	le.PutUint64(b[48:], f.QualOffset)
	le.PutUint32(b[56:], f.QualLength)

	if f.Inline {
		inline := b[fragmentHeaderSize:]
		copy(inline[f.SeqOffset:], f.Sequence)
		copy(inline[f.QualOffset:], f.Quality)
	}
	return b
}

// decodeFragment decodes a record. Inline payloads are copied out when
// fields asks for them; blob payloads are left to the caller.
func decodeFragment(class model.Class, b []byte, fields model.Field) *model.Fragment {
	le := binary.LittleEndian
	flags := b[32]
	f := &model.Fragment{
		IID:         model.IID(le.Uint32(b[0:])),
		UID:         model.UID(le.Uint64(b[4:])),
		Class:       class,
		Library:     model.IID(le.Uint32(b[12:])),
		Mate:        model.IID(le.Uint32(b[16:])),
		Length:      le.Uint32(b[20:]),
		Clear:       model.Range{Begin: le.Uint32(b[24:]), End: le.Uint32(b[28:])},
		Deleted:     flags&flagDeleted != 0,
		NonRandom:   flags&flagNonRandom != 0,
		Inline:      flags&flagInline != 0,
		Orientation: model.Orientation(b[33]),
		SeqOffset:   le.Uint64(b[36:]),
		SeqLength:   le.Uint32(b[44:]),
		QualOffset:  le.Uint64(b[48:]),
		QualLength:  le.Uint32(b[56:]),
	}
	if f.Inline && class == model.ClassPacked {
		inline := b[fragmentHeaderSize:]
		if fields.Has(model.FieldSequence) && f.SeqLength > 0 {
			f.Sequence = append([]byte(nil), inline[f.SeqOffset:f.SeqOffset+uint64(f.SeqLength)]...)
		}
		if fields.Has(model.FieldQuality) && f.QualLength > 0 {
			f.Quality = append([]byte(nil), inline[f.QualOffset:f.QualOffset+uint64(f.QualLength)]...)
		}
	}
	return f
}

// recordIID reads the IID of an encoded fragment record.
func recordIID(b []byte) model.IID {
	return model.IID(binary.LittleEndian.Uint32(b[0:]))
}

// Library record:
//
//	0  uid    uint64
//	8  iid    uint32
//	12 orient uint8
//	13 (reserved)
//	16 flags  uint32
//	20 (reserved)
//	24 mean   float64
//	32 stddev float64
func encodeLibrary(l *model.Library) []byte {
	b := make([]byte, libraryRecordSize)
	le := binary.LittleEndian
	le.PutUint64(b[0:], uint64(l.UID))
	le.PutUint32(b[8:], uint32(l.IID))
	b[12] = byte(l.Orientation)
	le.PutUint32(b[16:], uint32(l.Flags))
	le.PutUint64(b[24:], math.Float64bits(l.Mean))
	le.PutUint64(b[32:], math.Float64bits(l.StdDev))
	return b
}

func decodeLibrary(b []byte) model.Library {
	le := binary.LittleEndian
	return model.Library{
		UID:         model.UID(le.Uint64(b[0:])),
		IID:         model.IID(le.Uint32(b[8:])),
		Orientation: model.Orientation(b[12]),
		Flags:       model.LibraryFlags(le.Uint32(b[16:])),
		Mean:        math.Float64frombits(le.Uint64(b[24:])),
		StdDev:      math.Float64frombits(le.Uint64(b[32:])),
	}
}

// String index record: offset uint64, length uint32 into the uid blob file.
func encodeStringRef(off uint64, n uint32) []byte {
	b := make([]byte, stringRecordSize)
	binary.LittleEndian.PutUint64(b[0:], off)
	binary.LittleEndian.PutUint32(b[8:], n)
	return b
}

func decodeStringRef(b []byte) (uint64, uint32) {
	return binary.LittleEndian.Uint64(b[0:]), binary.LittleEndian.Uint32(b[8:])
}
