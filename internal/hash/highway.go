package hash

import (
	"encoding/binary"

	"github.com/minio/highwayhash"
)

// highwayKey is fixed so that persisted bucket layouts stay valid across runs.
var highwayKey = []byte("0123456789ABCDEF0123456789ABCDEF")

// Sum64 returns the 64-bit HighwayHash of data.
func Sum64(data []byte) uint64 {
	return highwayhash.Sum64(data, highwayKey)
}

// String64 returns the 64-bit HighwayHash of s.
func String64(s string) uint64 {
	return Sum64([]byte(s))
}

// Key64 hashes a namespace-qualified 64-bit key.
func Key64(namespace uint8, key uint64) uint64 {
	var buf [9]byte
	buf[0] = namespace
	binary.LittleEndian.PutUint64(buf[1:], key)
	return Sum64(buf[:])
}
