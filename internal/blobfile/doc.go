// Package blobfile implements append-only blob files.
//
// A blob file is a 32-byte header followed by variable-length payloads.
// Payloads are addressed by the (offset, length) pair Append returns, where
// offset is relative to the end of the header and length is the stored
// length. With a codec other than CodecNone every payload is framed as an
// independent compressed block so payloads can be decoded in isolation.
package blobfile
