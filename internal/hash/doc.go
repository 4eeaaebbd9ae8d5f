// Package hash provides the checksums and key hashes used by the read store.
//
// # CRC32-Castagnoli (CRC32C)
//
// Every persisted header (store info, record files, blob files, clear-range
// tables, the UID map image) carries a CRC32C over its payload:
//
//	checksum := hash.CRC32C(data)
//
// # HighwayHash
//
// Bucket selection in the persistent hash table and fingerprints of string
// UIDs use 64-bit HighwayHash with a fixed key, so values are stable across
// processes and platforms:
//
//	h := hash.Sum64(data)
//	b := hash.Key64(namespace, key)
package hash
