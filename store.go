package readstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/readstore/internal/blobfile"
	"github.com/hupe1980/readstore/internal/cache"
	"github.com/hupe1980/readstore/internal/classmap"
	"github.com/hupe1980/readstore/internal/clearrange"
	"github.com/hupe1980/readstore/internal/fs"
	"github.com/hupe1980/readstore/internal/manifest"
	"github.com/hupe1980/readstore/internal/recfile"
	"github.com/hupe1980/readstore/model"
	"github.com/hupe1980/readstore/phash"
)

// Mode selects how Open accesses a store.
type Mode int

const (
	// ReadOnly maps every file read-only. Any number of readers may share a store.
	ReadOnly Mode = iota
	// ReadWrite opens the store for a single writer.
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

// Store is an open fragment store.
//
// A Store is safe for concurrent use by multiple goroutines. Across
// processes the usual rule applies: one writer or any number of readers.
type Store struct {
	mu       sync.RWMutex
	dir      string
	opts     options
	logger   *Logger
	writable bool
	closed   bool

	info    manifest.Info
	uids    *phash.Table
	records [model.NumClasses]*recfile.File
	blobs   [model.NumClasses]*blobfile.File
	classes *classmap.Map

	libFile   *recfile.File
	libraries []model.Library

	strings     *blobfile.File
	stringIndex *recfile.File

	// kinds holds every configured clear-range kind; ranges the loaded ones.
	kinds  map[model.Kind]bool
	ranges map[model.Kind]*rangeSet

	cache *cache.LRU

	mapCapacity int
}

// Info is a snapshot of a store's header.
type Info struct {
	Version         int
	CreatedAt       time.Time
	Fragments       uint32
	Counts          [model.NumClasses]uint32
	Libraries       uint32
	Strings         uint32
	Loaded          uint64
	Errors          uint64
	NumRandom       uint64
	PackedMaxLength uint32
	NormalMaxLength uint32
	Compression     Compression
	Canonical       bool
}

// Create creates an empty writable store in path. The directory is created
// if needed; an existing store is never overwritten.
func Create(path string, optFns ...Option) (*Store, error) {
	o := applyOptions(optFns)
	s, err := create(path, o)
	o.logger.LogOpen(path, true, 0, err)
	return s, err
}

func create(path string, o options) (*Store, error) {
	if o.packedMaxLength == 0 || o.packedMaxLength >= o.normalMaxLength {
		return nil, fmt.Errorf("readstore: invalid class thresholds: packed %d, normal %d", o.packedMaxLength, o.normalMaxLength)
	}
	if !o.compression.Valid() {
		return nil, fmt.Errorf("%w: %d", blobfile.ErrUnknownCodec, o.compression)
	}
	if err := o.fs.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	exists, err := fs.Exists(o.fs, filepath.Join(path, infoFile))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: store %s", ErrAlreadyExists, path)
	}

	s := newStore(path, o, true)
	s.info = manifest.Info{
		Version:         manifest.Version,
		CreatedAt:       time.Now().UTC(),
		Layout:          currentLayout(),
		PackedMaxLength: o.packedMaxLength,
		NormalMaxLength: o.normalMaxLength,
		Compression:     uint8(o.compression),
		Canonical:       true,
		LastClass:       uint8(model.ClassPacked),
	}

	ok := false
	defer func() {
		if !ok {
			_ = s.release()
		}
	}()

	for _, c := range model.Classes {
		if s.records[c], err = recfile.Create(o.fs, s.file(recordFileName(c)), recordFileName(c), recordSizes[c]); err != nil {
			return nil, err
		}
		if s.blobs[c], err = blobfile.Create(o.fs, s.file(blobFileName(c)), o.compression); err != nil {
			return nil, err
		}
	}
	if s.libFile, err = recfile.Create(o.fs, s.file(libraryFile), libraryFile, libraryRecordSize); err != nil {
		return nil, err
	}
	if s.strings, err = blobfile.Create(o.fs, s.file(uidBlobFile), blobfile.CodecNone); err != nil {
		return nil, err
	}
	if s.stringIndex, err = recfile.Create(o.fs, s.file(uidIndexFile), uidIndexFile, stringRecordSize); err != nil {
		return nil, err
	}
	if s.uids, err = phash.Create(s.file(uidMapFile), o.uidCapacity, s.phashOptions()...); err != nil {
		return nil, translateError(err)
	}
	s.mapCapacity = s.uids.Stats().Capacity
	s.classes = classmap.NewCanonical(s.info.Counts, model.ClassPacked)

	if err := manifest.Save(o.fs, s.file(infoFile), &s.info); err != nil {
		return nil, err
	}
	ok = true
	return s, nil
}

// Open opens the store in path.
//
// A header whose version or record layout differs from this build is
// passed to the fatal handler (see WithFatalHandler) and then returned as a
// *FormatError.
func Open(path string, mode Mode, optFns ...Option) (*Store, error) {
	o := applyOptions(optFns)
	s, err := open(path, mode == ReadWrite, o)

	var n uint32
	if s != nil {
		n = s.info.NumFragments()
	}
	o.logger.LogOpen(path, mode == ReadWrite, n, err)
	if err != nil && errors.Is(err, ErrIncompatibleFormat) {
		o.fatal(err)
	}
	return s, err
}

// loadInfo reads the header in dir and checks it against this build.
func loadInfo(fsys fs.FileSystem, dir string) (*manifest.Info, error) {
	path := filepath.Join(dir, infoFile)
	info, err := manifest.Load(fsys, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: store %s", ErrNotFound, dir)
		}
		if errors.Is(err, manifest.ErrMismatch) {
			return nil, formatError(path, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err := info.CheckLayout(currentLayout()); err != nil {
		return nil, formatError(path, err)
	}
	if !blobfile.Codec(info.Compression).Valid() {
		return nil, &FormatError{Path: path, Field: "compression", Want: uint64(blobfile.CodecSnappy), Got: uint64(info.Compression)}
	}
	if info.LastClass >= model.NumClasses {
		return nil, fmt.Errorf("%w: %s: last class %d", ErrCorrupt, path, info.LastClass)
	}
	return info, nil
}

func open(path string, writable bool, o options) (*Store, error) {
	info, err := loadInfo(o.fs, path)
	if err != nil {
		return nil, err
	}

	s := newStore(path, o, writable)
	s.info = *info

	ok := false
	defer func() {
		if !ok {
			_ = s.release()
		}
	}()

	for _, c := range model.Classes {
		name := recordFileName(c)
		if s.records[c], err = recfile.Open(o.fs, s.file(name), name, recordSizes[c], writable); err != nil {
			return nil, fileError(err)
		}
		if got := s.records[c].Len(); got != int(info.Counts[c]) {
			return nil, fmt.Errorf("%w: %s holds %d records, header says %d", ErrCorrupt, name, got, info.Counts[c])
		}
		if s.blobs[c], err = blobfile.Open(o.fs, s.file(blobFileName(c)), writable); err != nil {
			return nil, fileError(err)
		}
	}

	if s.libFile, err = recfile.Open(o.fs, s.file(libraryFile), libraryFile, libraryRecordSize, writable); err != nil {
		return nil, fileError(err)
	}
	if s.libraries, err = readLibraries(s.libFile); err != nil {
		return nil, err
	}
	if len(s.libraries) != int(info.NumLibraries) {
		return nil, fmt.Errorf("%w: %s holds %d libraries, header says %d", ErrCorrupt, libraryFile, len(s.libraries), info.NumLibraries)
	}

	if s.strings, err = blobfile.Open(o.fs, s.file(uidBlobFile), writable); err != nil {
		return nil, fileError(err)
	}
	if s.stringIndex, err = recfile.Open(o.fs, s.file(uidIndexFile), uidIndexFile, stringRecordSize, writable); err != nil {
		return nil, fileError(err)
	}
	if got := s.stringIndex.Len(); got != int(info.NumStrings) {
		return nil, fmt.Errorf("%w: %s holds %d strings, header says %d", ErrCorrupt, uidIndexFile, got, info.NumStrings)
	}

	if s.uids, err = phash.Open(s.file(uidMapFile), writable, s.phashOptions()...); err != nil {
		if errors.Is(err, phash.ErrVersion) {
			return nil, fmt.Errorf("%w: %w", ErrIncompatibleFormat, err)
		}
		return nil, translateError(err)
	}
	s.mapCapacity = s.uids.Stats().Capacity
	if err := s.checkUIDCounts(); err != nil {
		return nil, err
	}

	if info.Canonical {
		s.classes = classmap.NewCanonical(info.Counts, model.Class(info.LastClass))
	} else if s.classes, err = s.buildClassMap(); err != nil {
		return nil, translateError(err)
	}

	kinds, err := clearrange.Kinds(o.fs, path)
	if err != nil {
		return nil, err
	}
	for _, k := range kinds {
		s.kinds[k] = true
	}

	ok = true
	return s, nil
}

// checkUIDCounts compares the per-type ID counters of the UID map with the
// header. The map flushes itself when it grows, so a crash after a growth
// can leave it ahead of the record files.
func (s *Store) checkUIDCounts() error {
	for _, c := range []struct {
		name   string
		typ    phash.Type
		header uint32
	}{
		{"fragment", TypeFragment, s.info.NumFragments()},
		{"library", TypeLibrary, s.info.NumLibraries},
		{"string", TypeString, s.info.NumStrings},
	} {
		if got := s.uids.Count(c.typ); got != c.header {
			return fmt.Errorf("%w: %s issued %d %s ids, header says %d", ErrCorrupt, uidMapFile, got, c.name, c.header)
		}
	}
	return nil
}

func newStore(path string, o options, writable bool) *Store {
	s := &Store{
		dir:      path,
		opts:     o,
		logger:   o.logger.WithPath(path),
		writable: writable,
		kinds:    make(map[model.Kind]bool),
		ranges:   make(map[model.Kind]*rangeSet),
	}
	if o.payloadCache > 0 {
		s.cache = cache.NewLRU(o.payloadCache)
	}
	return s
}

// CacheStats returns the payload cache hit and miss counts.
func (s *Store) CacheStats() (hits, misses int64) {
	if s.cache == nil {
		return 0, 0
	}
	return s.cache.Stats()
}

func (s *Store) phashOptions() []phash.Option {
	return []phash.Option{
		phash.WithLogger(s.logger.Logger),
		phash.WithFileSystem(s.opts.fs),
	}
}

// buildClassMap scans the first field of every record once.
func (s *Store) buildClassMap() (*classmap.Map, error) {
	total := s.info.NumFragments()
	s.logger.Info("rebuilding identifier-class map", "fragments", total)

	progress := rate.Sometimes{Interval: 5 * time.Second}
	var buf []byte
	var scanned uint32
	m, err := classmap.Build(s.info.Counts, func(c model.Class, pos uint32) (model.IID, error) {
		b, err := s.records[c].Get(int(pos), buf)
		if err != nil {
			return model.InvalidIID, err
		}
		buf = b
		scanned++
		progress.Do(func() {
			s.logger.Info("identifier-class map progress", "scanned", scanned, "total", total)
		})
		return recordIID(b), nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

func readLibraries(f *recfile.File) ([]model.Library, error) {
	libs := make([]model.Library, 0, f.Len())
	var buf []byte
	for i := 0; i < f.Len(); i++ {
		b, err := f.Get(i, buf)
		if err != nil {
			return nil, fileError(err)
		}
		libs = append(libs, decodeLibrary(b))
		buf = b
	}
	return libs, nil
}

// fileError maps record and blob file errors onto the package sentinels.
func fileError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, recfile.ErrMismatch):
		return fmt.Errorf("%w: %w", ErrIncompatibleFormat, err)
	case errors.Is(err, recfile.ErrCorrupt), errors.Is(err, blobfile.ErrCorrupt), errors.Is(err, blobfile.ErrCorruptBlock):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return err
}

func (s *Store) file(name string) string { return filepath.Join(s.dir, name) }

// Path returns the store directory.
func (s *Store) Path() string { return s.dir }

// Writable reports whether the store was opened for writing.
func (s *Store) Writable() bool { return s.writable }

// NumFragments returns the number of appended fragments, tombstones included.
func (s *Store) NumFragments() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info.NumFragments()
}

// Info returns a snapshot of the header.
func (s *Store) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Info{
		Version:         s.info.Version,
		CreatedAt:       s.info.CreatedAt,
		Fragments:       s.info.NumFragments(),
		Counts:          s.info.Counts,
		Libraries:       s.info.NumLibraries,
		Strings:         s.info.NumStrings,
		Loaded:          s.info.Loaded,
		Errors:          s.info.Errors,
		NumRandom:       s.info.NumRandom,
		PackedMaxLength: s.info.PackedMaxLength,
		NormalMaxLength: s.info.NormalMaxLength,
		Compression:     Compression(s.info.Compression),
		Canonical:       s.info.Canonical,
	}
}

// RecordLoadError counts an input record the loader had to reject.
func (s *Store) RecordLoadError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return err
	}
	s.info.Errors++
	return nil
}

// classify picks the density class for a read of length n.
func (s *Store) classify(n uint32) model.Class {
	switch {
	case n <= s.info.PackedMaxLength:
		return model.ClassPacked
	case n <= s.info.NormalMaxLength:
		return model.ClassNormal
	default:
		return model.ClassStrobe
	}
}

func (s *Store) checkOpen() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) checkWrite() error {
	if s.closed {
		return ErrClosed
	}
	if !s.writable {
		return ErrReadOnly
	}
	return nil
}

// Sync persists every file of a writable store. The header is written last.
func (s *Store) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return err
	}
	return s.sync()
}

func (s *Store) sync() error {
	var errs []error
	for _, c := range model.Classes {
		errs = append(errs, s.records[c].Sync(), s.blobs[c].Sync())
	}
	errs = append(errs, s.libFile.Sync(), s.strings.Sync(), s.stringIndex.Sync())
	for _, set := range s.ranges {
		errs = append(errs, set.flush())
	}
	errs = append(errs, s.uids.Flush())
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s.info.Canonical = s.classes.Canonical()
	s.info.LastClass = uint8(s.classes.Last())
	return manifest.Save(s.opts.fs, s.file(infoFile), &s.info)
}

// Close syncs a writable store and releases every file. It is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	var err error
	if s.writable {
		err = s.sync()
	}
	err = errors.Join(err, s.release())
	s.closed = true
	s.logger.Info("store closed", "fragments", s.info.NumFragments(), "error", err)
	return err
}

func (s *Store) release() error {
	var errs []error
	for _, set := range s.ranges {
		errs = append(errs, set.close())
	}
	s.ranges = map[model.Kind]*rangeSet{}
	if s.uids != nil {
		errs = append(errs, s.uids.Close())
	}
	for _, c := range model.Classes {
		if s.records[c] != nil {
			errs = append(errs, s.records[c].Close())
		}
		if s.blobs[c] != nil {
			errs = append(errs, s.blobs[c].Close())
		}
	}
	if s.libFile != nil {
		errs = append(errs, s.libFile.Close())
	}
	if s.strings != nil {
		errs = append(errs, s.strings.Close())
	}
	if s.stringIndex != nil {
		errs = append(errs, s.stringIndex.Close())
	}
	return errors.Join(errs...)
}

// Remove deletes every file of the store in path, clear-range and partition
// files included, and then the directory if nothing else is left in it.
func Remove(path string, optFns ...Option) error {
	o := applyOptions(optFns)
	entries, err := o.fs.ReadDir(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !isStoreFile(strings.TrimSuffix(name, ".tmp")) {
			continue
		}
		if err := fs.RemoveIfExists(o.fs, filepath.Join(path, name)); err != nil {
			return err
		}
		removed++
	}
	if removed == len(entries) {
		if err := o.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	o.logger.Info("store removed", "path", path, "files", removed)
	return nil
}
