package model

import (
	"errors"
	"fmt"
	"math"
)

// Range is a clear range over a read's bases. Begin > End means undefined.
type Range struct {
	Begin uint32
	End   uint32
}

// UndefinedRange is the sentinel for a range that was never computed.
var UndefinedRange = Range{Begin: math.MaxUint32, End: 0}

// Defined reports whether the range holds a value.
func (r Range) Defined() bool { return r.Begin <= r.End }

// Len returns the number of bases covered, or zero when undefined.
func (r Range) Len() uint32 {
	if !r.Defined() {
		return 0
	}
	return r.End - r.Begin
}

func (r Range) String() string {
	if !r.Defined() {
		return "(undefined)"
	}
	return fmt.Sprintf("(%d,%d)", r.Begin, r.End)
}

// Kind names one clear-range table.
type Kind string

const (
	KindLatest      Kind = "clr"
	KindQuality     Kind = "qlt"
	KindVector      Kind = "vec"
	KindMax         Kind = "max"
	KindContaminant Kind = "tnt"
)

// ErrInvalidKind is returned for kinds that cannot name a file.
var ErrInvalidKind = errors.New("model: invalid clear range kind")

// Validate checks that k is 1 to 8 lower-case letters or digits.
func (k Kind) Validate() error {
	if len(k) == 0 || len(k) > 8 {
		return fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
	}
	for _, c := range []byte(k) {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return fmt.Errorf("%w: %q", ErrInvalidKind, string(k))
		}
	}
	return nil
}
