// Package cache provides a byte-bounded LRU cache for decoded fragment
// payloads, keyed by density class and blob offset.
package cache
