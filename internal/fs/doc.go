// Package fs abstracts the file system underneath the read store so that
// tests can inject I/O failures.
//
//   - [File]: an open file with positional reads and writes
//   - [FileSystem]: open, remove, rename, stat, mkdir, readdir, truncate
//   - [LocalFS]: the os-backed implementation, exposed as [Default]
//   - [FaultyFS]: a wrapper that fails writes, syncs or closes on demand
//
// The helpers [ReadFile], [WriteFileAtomic] and [Exists] are written against
// the interface, so whole-file images (the UID map, clear-range tables, the
// store header) go through the same fault injection as record appends.
//
// Operations take no context.Context: local file calls are short and cannot
// be interrupted at the syscall level. Remote transfers live in blobstore.
package fs
