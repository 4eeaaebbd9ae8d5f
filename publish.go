package readstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdhash "hash"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/readstore/blobstore"
	"github.com/hupe1980/readstore/internal/fs"
	"github.com/hupe1980/readstore/internal/hash"
	"github.com/hupe1980/readstore/internal/manifest"
)

// sharedFiles are the store files every partition needs. The interned UID
// files are optional for readers.
var sharedFiles = []string{infoFile, libraryFile, uidBlobFile, uidIndexFile}

// partitionFiles lists the base names of the local files making up partition n.
func partitionFiles(fsys fs.FileSystem, dir string, n int) ([]string, error) {
	var names []string
	for _, name := range sharedFiles {
		ok, err := fs.Exists(fsys, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		if ok {
			names = append(names, name)
		}
	}
	matches, err := fs.Glob(fsys, dir, "*"+partitionSuffix(n))
	if err != nil {
		return nil, err
	}
	own := 0
	for _, m := range matches {
		if base := filepath.Base(m); isStoreFile(base) {
			names = append(names, base)
			own++
		}
	}
	if own == 0 {
		return nil, fmt.Errorf("%w: partition %d in %s", ErrNotFound, n, dir)
	}
	return names, nil
}

// remoteName is the object name of a local partition file. Shared files
// carry the partition suffix remotely, so every seal owns the copy it
// checksummed and a later publish cannot invalidate it.
func remoteName(name string, n int) string {
	if slices.Contains(sharedFiles, name) {
		return partitionFileName(name, n)
	}
	return name
}

// localName is the inverse of remoteName.
func localName(name string, n int) string {
	if base := strings.TrimSuffix(name, partitionSuffix(n)); slices.Contains(sharedFiles, base) {
		return base
	}
	return name
}

// isPartitionTransfer reports whether a remote name belongs to partition n.
func isPartitionTransfer(name string, n int) bool {
	if blobstore.ValidateName(name) != nil {
		return false
	}
	return strings.HasSuffix(name, partitionSuffix(n)) && isStoreFile(name)
}

// transfer runs fn for every index of names with at most limit calls in flight.
func transfer(ctx context.Context, names []string, limit int, fn func(ctx context.Context, i int) error) error {
	sem := semaphore.NewWeighted(int64(limit))
	g, gctx := errgroup.WithContext(ctx)
	var acquireErr error
	for i := range names {
		if acquireErr = sem.Acquire(gctx, 1); acquireErr != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return acquireErr
}

func sealedBytes(files []manifest.SealedFile) int64 {
	var n int64
	for _, f := range files {
		n += f.Size
	}
	return n
}

// PublishPartition uploads partition n together with the store header,
// the library file and the interned UID files to dst. A writable store is
// synced first. Partition files keep their local base names in dst; the
// shared files get the partition suffix, as in info.001.
//
// The upload ends with a seal object listing every file with its size and
// CRC32C. FetchPartition only trusts what a seal names, so a partition
// whose upload was interrupted stays invisible until it is published again.
func (s *Store) PublishPartition(ctx context.Context, dst blobstore.BlobStore, n int) (err error) {
	s.mu.Lock()
	if err := s.checkOpen(); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.writable {
		if err := s.sync(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	s.mu.Unlock()

	start := time.Now()
	var files []manifest.SealedFile
	defer func() {
		s.opts.metricsCollector.RecordTransfer("publish", sealedBytes(files), time.Since(start), err)
		s.logger.LogTransfer(ctx, "publish partition", n, len(files), err)
	}()

	names, err := partitionFiles(s.opts.fs, s.dir, n)
	if err != nil {
		return err
	}
	if err := dst.Delete(ctx, sealName(n)); err != nil {
		return fmt.Errorf("readstore: unseal partition %d: %w", n, err)
	}

	uploaded := make([]manifest.SealedFile, len(names))
	err = transfer(ctx, names, s.opts.partitionConcurrency, func(ctx context.Context, i int) error {
		f, err := upload(ctx, s.opts.fs, dst, filepath.Join(s.dir, names[i]), remoteName(names[i], n))
		uploaded[i] = f
		return err
	})
	if err != nil {
		return err
	}
	files = uploaded

	seal := &manifest.Seal{Partition: uint32(n), CreatedAt: time.Now(), Files: files}
	data, err := seal.Bytes()
	if err != nil {
		return err
	}
	if err := blobstore.Put(ctx, dst, sealName(n), data); err != nil {
		return fmt.Errorf("readstore: seal partition %d: %w", n, err)
	}
	return nil
}

func upload(ctx context.Context, fsys fs.FileSystem, dst blobstore.BlobStore, path, name string) (manifest.SealedFile, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return manifest.SealedFile{}, err
	}
	defer f.Close()

	w, err := dst.Create(ctx, name)
	if err != nil {
		return manifest.SealedFile{}, fmt.Errorf("readstore: upload %s: %w", name, err)
	}
	crc := hash.NewCRC32C()
	size, err := io.Copy(io.MultiWriter(w, crc), f)
	if err != nil {
		_ = w.Abort()
		return manifest.SealedFile{}, fmt.Errorf("readstore: upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return manifest.SealedFile{}, fmt.Errorf("readstore: upload %s: %w", name, err)
	}
	return manifest.SealedFile{Name: name, Size: size, CRC: crc.Sum32()}, nil
}

// readSeal fetches and validates the seal of partition n.
func readSeal(ctx context.Context, src blobstore.BlobStore, n int) (*manifest.Seal, error) {
	data, err := blobstore.ReadAll(ctx, src, sealName(n))
	if errors.Is(err, blobstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: partition %d is not published", ErrNotFound, n)
	}
	if err != nil {
		return nil, err
	}
	seal, err := manifest.ReadSeal(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: seal of partition %d: %w", ErrCorrupt, n, err)
	}
	if int(seal.Partition) != n {
		return nil, fmt.Errorf("%w: seal of partition %d names partition %d", ErrCorrupt, n, seal.Partition)
	}
	for _, f := range seal.Files {
		if !isPartitionTransfer(f.Name, n) {
			return nil, fmt.Errorf("%w: seal of partition %d names %q", ErrCorrupt, n, f.Name)
		}
	}
	header := remoteName(infoFile, n)
	if !slices.ContainsFunc(seal.Files, func(f manifest.SealedFile) bool { return f.Name == header }) {
		return nil, fmt.Errorf("%w: partition %d has no store header", ErrCorrupt, n)
	}
	return seal, nil
}

// FetchPartition downloads partition n published with PublishPartition from
// src into dir. Every file is checked against the seal before it replaces
// a local file of the same name. The directory can then be opened with
// OpenPartition.
func FetchPartition(ctx context.Context, src blobstore.BlobStore, n int, dir string, optFns ...Option) (err error) {
	o := applyOptions(optFns)

	start := time.Now()
	var files []manifest.SealedFile
	defer func() {
		o.metricsCollector.RecordTransfer("fetch", sealedBytes(files), time.Since(start), err)
		o.logger.WithPath(dir).LogTransfer(ctx, "fetch partition", n, len(files), err)
	}()

	seal, err := readSeal(ctx, src, n)
	if err != nil {
		return err
	}
	if err := o.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	names := make([]string, len(seal.Files))
	for i, f := range seal.Files {
		names[i] = f.Name
	}
	err = transfer(ctx, names, o.partitionConcurrency, func(ctx context.Context, i int) error {
		return download(ctx, o.fs, src, filepath.Join(dir, localName(names[i], n)), seal.Files[i])
	})
	if err != nil {
		return err
	}
	files = seal.Files
	return nil
}

func download(ctx context.Context, fsys fs.FileSystem, src blobstore.BlobStore, path string, want manifest.SealedFile) error {
	r, err := src.Open(ctx, want.Name)
	if errors.Is(err, blobstore.ErrNotFound) {
		return fmt.Errorf("%w: %s is sealed but missing", ErrCorrupt, want.Name)
	}
	if err != nil {
		return fmt.Errorf("readstore: download %s: %w", want.Name, err)
	}
	defer r.Close()

	v := &verifyingReader{r: r, crc: hash.NewCRC32C(), want: want}
	if _, err := fs.CopyFileAtomic(fsys, path, v); err != nil {
		if errors.Is(err, ErrCorrupt) {
			return err
		}
		return fmt.Errorf("readstore: download %s: %w", want.Name, err)
	}
	return nil
}

// verifyingReader turns io.EOF into ErrCorrupt when the bytes read differ
// from the sealed size or checksum.
type verifyingReader struct {
	r    io.Reader
	crc  stdhash.Hash32
	n    int64
	want manifest.SealedFile
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	_, _ = v.crc.Write(p[:n])
	v.n += int64(n)
	if errors.Is(err, io.EOF) && (v.n != v.want.Size || v.crc.Sum32() != v.want.CRC) {
		return n, fmt.Errorf("%w: %s: got %d bytes crc %#08x, sealed %d bytes crc %#08x",
			ErrCorrupt, v.want.Name, v.n, v.crc.Sum32(), v.want.Size, v.want.CRC)
	}
	return n, err
}

// PublishedPartitions returns the sealed partition numbers in src in
// ascending order.
func PublishedPartitions(ctx context.Context, src blobstore.BlobStore) ([]int, error) {
	names, err := src.List(ctx, sealFile+".")
	if err != nil {
		return nil, err
	}
	var parts []int
	for _, name := range names {
		if !isPartitionFile(name) || name[:len(name)-4] != sealFile {
			continue
		}
		n, err := strconv.Atoi(name[len(name)-3:])
		if err == nil && n >= 1 {
			parts = append(parts, n)
		}
	}
	slices.Sort(parts)
	return parts, nil
}

// UnpublishPartition removes the seal of partition n from dst, then every
// file it lists. Other partitions keep their own copies of the shared files.
func UnpublishPartition(ctx context.Context, dst blobstore.BlobStore, n int) error {
	seal, err := readSeal(ctx, dst, n)
	if err != nil {
		return err
	}
	if err := dst.Delete(ctx, sealName(n)); err != nil {
		return err
	}
	for _, f := range seal.Files {
		if err := dst.Delete(ctx, f.Name); err != nil {
			return fmt.Errorf("readstore: unpublish %s: %w", f.Name, err)
		}
	}
	return nil
}
