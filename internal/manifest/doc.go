// Package manifest persists the store header file ("info").
//
// The header is the compatibility gate of a store: it records a magic number,
// the format version and the byte size of every fixed record layout, plus the
// per-class record counts and the settings that must stay fixed for the
// lifetime of the store (class thresholds, blob compression). On open, the
// caller compares the stored layout against the layout its code writes, and
// any difference is a *MismatchError.
//
// Format (little-endian):
//
//	Magic      uint32 "RDST"
//	Version    uint32
//	Checksum   uint32 CRC32C of the payload
//	PayloadLen uint32
//	Payload    see Info.WriteBinary
package manifest
