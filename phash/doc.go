// Package phash implements a persistent, namespace-qualified hash table that
// maps 64-bit keys to small value records.
//
// A Table lives in memory or is backed by a single file holding its full
// byte image. The image is rewritten on Flush and Close. Opened read-only,
// the image is memory-mapped and never mutated, so any number of goroutines
// or processes may share it without locking. A writable table is not safe
// for concurrent use.
//
// Buckets are sized to four times the node capacity (a power of two) and each
// chain is kept sorted by (namespace, key), so lookups stop at the first
// larger key. Nodes live in an arena of slots. A freed slot goes on a free
// list and its generation is bumped, so a Handle to the old occupant no
// longer resolves. When the arena and the free list are both exhausted, the
// table doubles and every live node is rehashed.
//
// Values carry a 4-bit type tag, a deletion flag, a 27-bit reference count
// and an ID. Insert can assign IDs from a per-type counter: the Nth node of
// type T receives ID N. Counters never go backwards.
//
// Deletion requires a zero reference count. MarkDeleted keeps the node as a
// tombstone that Lookup still reports, flagged as deleted. Inserting a key
// whose node is a tombstone succeeds: the tombstone is cleared, the value is
// replaced and the slot generation is bumped.
package phash
