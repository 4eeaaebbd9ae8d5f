// Package clearrange stores one clear-range table per (kind, class).
//
// A table is a flat file of (begin, end) pairs indexed by within-class
// position, preceded by a 32-byte header:
//
//	Magic    uint32 "CLRT"
//	Version  uint32
//	Kind     [8]byte
//	Class    uint8
//	(3 bytes reserved)
//	Capacity uint32
//	Checksum uint32 CRC32C of the preceding 24 bytes
//	(4 bytes reserved)
//
// Capacity doubles on demand and freshly exposed slots hold the undefined
// sentinel. Tables never reference each other, so removing or damaging one
// kind leaves every other kind intact.
package clearrange
