package model

import "fmt"

// Class is the density class a fragment is stored in.
type Class uint8

const (
	// ClassPacked holds short reads with their payload inline.
	ClassPacked Class = iota
	// ClassNormal holds medium reads.
	ClassNormal
	// ClassStrobe holds long reads.
	ClassStrobe

	// NumClasses is the number of density classes.
	NumClasses = 3
)

// Classes lists every class in canonical order.
var Classes = [NumClasses]Class{ClassPacked, ClassNormal, ClassStrobe}

// Valid reports whether c is a known class.
func (c Class) Valid() bool { return c < NumClasses }

// Tag is the two-letter suffix used in file names.
func (c Class) Tag() string {
	switch c {
	case ClassPacked:
		return "pk"
	case ClassNormal:
		return "nm"
	case ClassStrobe:
		return "sb"
	default:
		return fmt.Sprintf("c%d", uint8(c))
	}
}

func (c Class) String() string {
	switch c {
	case ClassPacked:
		return "packed"
	case ClassNormal:
		return "normal"
	case ClassStrobe:
		return "strobe"
	default:
		return fmt.Sprintf("Class(%d)", uint8(c))
	}
}

// Orientation is the relative orientation of a mate pair.
type Orientation uint8

const (
	OrientUnknown Orientation = iota
	OrientInnie
	OrientOuttie
	OrientNormal
	OrientAntinormal
)

func (o Orientation) String() string {
	switch o {
	case OrientInnie:
		return "innie"
	case OrientOuttie:
		return "outtie"
	case OrientNormal:
		return "normal"
	case OrientAntinormal:
		return "antinormal"
	default:
		return "unknown"
	}
}
