package manifest

import (
	"bytes"
	"time"

	"github.com/hupe1980/readstore/internal/fs"
)

// NumClasses mirrors model.NumClasses without importing it.
const NumClasses = 3

// Layout holds the byte size of every fixed record layout.
type Layout struct {
	Records [NumClasses]uint32
	Library uint32
	String  uint32
}

// Info is the decoded store header.
type Info struct {
	Version   int
	CreatedAt time.Time
	Layout    Layout

	// Counts holds the number of records per density class.
	Counts       [NumClasses]uint32
	NumLibraries uint32
	NumStrings   uint32

	// Load counters.
	Loaded    uint64
	Errors    uint64
	NumRandom uint64

	PackedMaxLength uint32
	NormalMaxLength uint32
	Compression     uint8

	// Canonical is true while every append used a class no lower than the
	// one before it, so the identifier-class map is pure arithmetic.
	Canonical bool
	LastClass uint8
}

// NumFragments returns the total record count over all classes.
func (i *Info) NumFragments() uint32 {
	var n uint32
	for _, c := range i.Counts {
		n += c
	}
	return n
}

// CheckLayout compares the stored layout against want.
func (i *Info) CheckLayout(want Layout) error {
	names := [NumClasses]string{"packed record size", "normal record size", "strobe record size"}
	for c := range want.Records {
		if i.Layout.Records[c] != want.Records[c] {
			return &MismatchError{Field: names[c], Want: uint64(want.Records[c]), Got: uint64(i.Layout.Records[c])}
		}
	}
	if i.Layout.Library != want.Library {
		return &MismatchError{Field: "library record size", Want: uint64(want.Library), Got: uint64(i.Layout.Library)}
	}
	if i.Layout.String != want.String {
		return &MismatchError{Field: "string record size", Want: uint64(want.String), Got: uint64(i.Layout.String)}
	}
	return nil
}

// Save writes the header atomically.
func Save(fsys fs.FileSystem, path string, info *Info) error {
	var buf bytes.Buffer
	if err := info.WriteBinary(&buf); err != nil {
		return err
	}
	return fs.WriteFileAtomic(fsys, path, buf.Bytes())
}

// Load reads and validates the header at path.
func Load(fsys fs.FileSystem, path string) (*Info, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, err
	}
	return ReadBinary(bytes.NewReader(data))
}
