package model

// Field selects which parts of a fragment Get loads.
type Field uint8

const (
	// FieldInfo loads only the fixed record.
	FieldInfo Field = 0
	// FieldSequence loads the encoded sequence payload.
	FieldSequence Field = 1 << iota
	// FieldQuality loads the encoded quality payload.
	FieldQuality

	// FieldAll loads everything.
	FieldAll = FieldSequence | FieldQuality
)

// Has reports whether f includes g.
func (f Field) Has(g Field) bool { return f&g == g }

// Fragment is one sequencing read.
type Fragment struct {
	UID         UID
	IID         IID
	Class       Class
	Library     IID
	Mate        IID
	Deleted     bool
	NonRandom   bool
	Orientation Orientation

	// Length is the number of bases.
	Length uint32

	// Clear is the authoritative clear range carried by the record.
	Clear Range

	// Sequence and Quality are the encoded payloads, stored verbatim.
	Sequence []byte
	Quality  []byte

	// Ranges sets named clear ranges as part of an append.
	Ranges map[Kind]Range

	// Payload locators, maintained by the store.
	Inline     bool
	SeqOffset  uint64
	SeqLength  uint32
	QualOffset uint64
	QualLength uint32
}

// Clone returns a deep copy of f.
func (f *Fragment) Clone() *Fragment {
	c := *f
	c.Sequence = append([]byte(nil), f.Sequence...)
	c.Quality = append([]byte(nil), f.Quality...)
	if f.Ranges != nil {
		c.Ranges = make(map[Kind]Range, len(f.Ranges))
		for k, r := range f.Ranges {
			c.Ranges[k] = r
		}
	}
	return &c
}
