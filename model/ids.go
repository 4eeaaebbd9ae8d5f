package model

import (
	"errors"
	"fmt"
	"strconv"
)

// IID is a dense, store-local identifier assigned in append order starting at 1.
type IID uint32

// InvalidIID is the reserved zero IID.
const InvalidIID IID = 0

// Valid reports whether the IID is non-zero.
func (i IID) Valid() bool { return i != InvalidIID }

// UID is an external identifier. The top bit tags interned string UIDs; the
// remaining 63 bits hold either the integer verbatim or the string's index.
type UID uint64

const (
	// NullUID marks a deleted record.
	NullUID UID = 0

	// MaxNumericUID is the largest integer UID.
	MaxNumericUID = 1<<63 - 1

	stringTag UID = 1 << 63
)

// ErrInvalidUID is returned for integers that do not fit in 63 bits and for zero.
var ErrInvalidUID = errors.New("model: invalid uid")

// NumericUID returns the UID for an integer identifier.
func NumericUID(n uint64) (UID, error) {
	if n == 0 || n > MaxNumericUID {
		return NullUID, fmt.Errorf("%w: %d", ErrInvalidUID, n)
	}
	return UID(n), nil
}

// StringUID returns the UID of the interned string with the given index.
func StringUID(index uint32) UID {
	return stringTag | UID(index)
}

// IsNull reports whether u is the null UID.
func (u UID) IsNull() bool { return u == NullUID }

// IsString reports whether u refers to an interned string.
func (u UID) IsString() bool { return u&stringTag != 0 }

// Numeric returns the integer value of a numeric UID.
func (u UID) Numeric() uint64 { return uint64(u &^ stringTag) }

// StringIndex returns the intern index of a string UID.
func (u UID) StringIndex() uint32 { return uint32(u &^ stringTag) }

func (u UID) String() string {
	if u.IsString() {
		return "str#" + strconv.FormatUint(uint64(u.StringIndex()), 10)
	}
	return strconv.FormatUint(uint64(u), 10)
}

// ParseNumericUID reports whether s is a decimal integer UID.
func ParseNumericUID(s string) (UID, bool) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return NullUID, false
	}
	u, err := NumericUID(n)
	if err != nil {
		return NullUID, false
	}
	return u, true
}
