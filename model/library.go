package model

// LibraryFlags are per-library processing switches.
type LibraryFlags uint32

const (
	LibNonRandom LibraryFlags = 1 << iota
	LibDoNotTrustHomopolymerRuns
	LibDiscardReadsWithNs
	LibDoNotQualityTrim
	LibDoNotOverlapTrim
)

// Has reports whether all bits of g are set.
func (f LibraryFlags) Has(g LibraryFlags) bool { return f&g == g }

// Library is metadata shared by a group of fragments.
type Library struct {
	UID         UID
	IID         IID
	Mean        float64
	StdDev      float64
	Orientation Orientation
	Flags       LibraryFlags
}
