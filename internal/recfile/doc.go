// Package recfile implements fixed-size record files.
//
// A record file is a 64-byte header followed by densely packed records of
// one size. Records are addressed by zero-based position. A writable file
// appends and overwrites records in place and persists its record count in
// the header on Flush and Close. A read-only file is memory-mapped and hands
// out zero-copy views of records.
//
// Header (little-endian):
//
//	Magic    uint32 "RECF"
//	Version  uint32
//	Label    [8]byte
//	ElemSize uint32
//	Reserved uint32
//	Count    uint64
//	Checksum uint32 CRC32C of the preceding 32 bytes
//	(28 bytes reserved)
//
// Bytes past Count records (left behind by an interrupted append) are ignored
// and overwritten by the next append.
package recfile
