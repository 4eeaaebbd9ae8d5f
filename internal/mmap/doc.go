// Package mmap maps store files read-only into memory.
//
// Read-only stores map their record files, blob files, clear-range tables and
// the UID map image instead of reading them, so any number of reader
// processes share the same physical pages:
//
//	m, err := mmap.Open(path)
//	if err != nil { ... }
//	defer m.Close()
//
//	rec, err := m.Slice(off, size)
//
// Unix uses mmap(2) and madvise(2); Windows uses MapViewOfFile and ignores
// access hints. A Mapping is safe for concurrent reads. Close is idempotent,
// and slices obtained from Bytes or Slice must not be used after it.
package mmap
