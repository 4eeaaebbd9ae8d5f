// Package blobstore moves partition files between the machine that built a
// store and the workers that read it.
//
// A BlobStore is a flat namespace of immutable blobs named like the store
// files they carry ("info", "fnm.003", "clr.qlt.sb.003"). Writers stream and
// either Close, which makes the blob visible, or Abort, which leaves no trace.
// Readers stream the whole blob; workers always need complete files.
//
// Implementations:
//
//   - LocalStore: one directory, for shared mounts
//   - MemoryStore: an in-process map, for tests
//   - s3.Store: Amazon S3 through the transfer manager
//   - minio.Store: MinIO and other S3-compatible services
package blobstore
