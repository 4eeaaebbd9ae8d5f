package readstore

import (
	"errors"
	"fmt"
	"iter"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hupe1980/readstore/internal/blobfile"
	"github.com/hupe1980/readstore/internal/cache"
	"github.com/hupe1980/readstore/internal/clearrange"
	"github.com/hupe1980/readstore/internal/conv"
	"github.com/hupe1980/readstore/internal/fs"
	"github.com/hupe1980/readstore/internal/recfile"
	"github.com/hupe1980/readstore/model"
	"github.com/hupe1980/readstore/phash"
)

// PartitionReport describes the outcome of BuildPartitions.
type PartitionReport struct {
	// Members holds the IIDs copied into each partition; Members[n-1] is partition n.
	Members []*roaring.Bitmap
	// Skipped holds live fragments without an assignment.
	Skipped *roaring.Bitmap
	// Deleted holds tombstones, which are never copied.
	Deleted *roaring.Bitmap
}

// Partition returns the members of partition n, or nil if n is out of range.
func (r *PartitionReport) Partition(n int) *roaring.Bitmap {
	if n < 1 || n > len(r.Members) {
		return nil
	}
	return r.Members[n-1]
}

// Copied returns the number of fragments written to any partition.
func (r *PartitionReport) Copied() uint64 {
	var total uint64
	for _, m := range r.Members {
		total += m.GetCardinality()
	}
	return total
}

// partitionWriter holds the files of one partition under construction.
type partitionWriter struct {
	n       int
	records [model.NumClasses]*recfile.File
	blobs   [model.NumClasses]*blobfile.File
	ranges  map[model.Kind]*rangeSet
}

func (s *Store) newPartitionWriter(n int, kinds []model.Kind) (*partitionWriter, error) {
	w := &partitionWriter{n: n, ranges: make(map[model.Kind]*rangeSet, len(kinds))}
	codec := blobfile.Codec(s.info.Compression)
	var err error
	for _, c := range model.Classes {
		name := recordFileName(c)
		if w.records[c], err = recfile.Create(s.opts.fs, s.file(partitionFileName(name, n)), name, recordSizes[c]); err != nil {
			return w, err
		}
		if w.blobs[c], err = blobfile.Create(s.opts.fs, s.file(partitionFileName(blobFileName(c), n)), codec); err != nil {
			return w, err
		}
	}
	for _, kind := range kinds {
		var rs rangeSet
		for _, c := range model.Classes {
			if rs[c], err = clearrange.Create(s.opts.fs, s.file(clearrange.FileName(kind, c, n)), kind, c, 0); err != nil {
				w.ranges[kind] = &rs
				return w, err
			}
		}
		w.ranges[kind] = &rs
	}
	return w, nil
}

func (w *partitionWriter) close() error {
	var errs []error
	for _, rs := range w.ranges {
		errs = append(errs, rs.close())
	}
	for _, c := range model.Classes {
		if w.records[c] != nil {
			errs = append(errs, w.records[c].Close())
		}
		if w.blobs[c] != nil {
			errs = append(errs, w.blobs[c].Close())
		}
	}
	return errors.Join(errs...)
}

// add appends f, which lives at (c, pos) in the parent, to the partition.
func (w *partitionWriter) add(s *Store, c model.Class, pos uint32, f *model.Fragment) error {
	g := *f
	if !g.Inline {
		var err error
		if g.SeqOffset, g.SeqLength, err = w.blobs[c].Append(f.Sequence); err != nil {
			return err
		}
		if g.QualOffset, g.QualLength, err = w.blobs[c].Append(f.Quality); err != nil {
			return err
		}
	}
	slot, err := w.records[c].Append(encodeFragment(c, &g))
	if err != nil {
		return err
	}
	local, err := conv.IntToUint32(slot)
	if err != nil {
		return err
	}
	for kind, rs := range w.ranges {
		if err := rs[c].Set(local, s.ranges[kind].get(c, pos)); err != nil {
			return err
		}
	}
	return nil
}

// BuildPartitions rewrites the store into maxPart self-contained partitions.
// assignment is indexed by IID and must cover [1, NumFragments]; entry 0 is
// ignored. Fragments assigned a value <= 0 are skipped and tombstones are
// never copied. Within a partition fragments keep ascending IID order, and
// every configured clear-range kind is copied along.
//
// Partition files left by an earlier build are removed first. When the
// build fails, the partially written files are removed as well; a crash
// leaves them behind and the build must be re-run.
func (s *Store) BuildPartitions(assignment []int, maxPart int) (report *PartitionReport, err error) {
	start := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return nil, err
	}

	n := s.info.NumFragments()
	if maxPart < 1 || maxPart > MaxPartition {
		return nil, fmt.Errorf("%w: max partition %d not in [1, %d]", ErrInvalidAssignment, maxPart, MaxPartition)
	}
	if len(assignment) < int(n)+1 {
		return nil, fmt.Errorf("%w: %d entries for %d fragments", ErrInvalidAssignment, len(assignment), n)
	}
	for iid := 1; iid <= int(n); iid++ {
		if assignment[iid] > maxPart {
			return nil, fmt.Errorf("%w: iid %d assigned to %d, max %d", ErrInvalidAssignment, iid, assignment[iid], maxPart)
		}
	}

	report = &PartitionReport{
		Members: make([]*roaring.Bitmap, maxPart),
		Skipped: roaring.New(),
		Deleted: roaring.New(),
	}
	for i := range report.Members {
		report.Members[i] = roaring.New()
	}
	defer func() {
		copied := report.Copied()
		s.opts.metricsCollector.RecordPartitionBuild(maxPart, int(copied), time.Since(start), err)
		s.logger.LogPartitionBuild(uint64(maxPart), copied, report.Skipped.GetCardinality(), report.Deleted.GetCardinality(), err)
		if err != nil {
			report = nil
		}
	}()

	if err := removePartitionFiles(s.opts.fs, s.dir); err != nil {
		return report, err
	}

	kinds := s.rangeKinds()
	for _, kind := range kinds {
		if _, err := s.rangeTables(kind, false); err != nil {
			return report, err
		}
	}

	writers := make([]*partitionWriter, 0, maxPart)
	abort := func(err error) error {
		for _, w := range writers {
			_ = w.close()
		}
		return errors.Join(err, removePartitionFiles(s.opts.fs, s.dir))
	}
	for p := 1; p <= maxPart; p++ {
		w, err := s.newPartitionWriter(p, kinds)
		writers = append(writers, w)
		if err != nil {
			return report, abort(err)
		}
	}

	progress := rate.Sometimes{Interval: 5 * time.Second}
	for i := uint32(1); i <= n; i++ {
		iid := model.IID(i)
		c, pos, err := s.locate("buildPartitions", iid)
		if err != nil {
			return report, abort(err)
		}
		f, err := s.readFragment(c, pos, model.FieldAll)
		if err != nil {
			return report, abort(err)
		}
		switch a := assignment[i]; {
		case f.Deleted:
			report.Deleted.Add(i)
		case a <= 0:
			report.Skipped.Add(i)
		default:
			if err := writers[a-1].add(s, c, pos, f); err != nil {
				return report, abort(fmt.Errorf("readstore: partition %d: %w", a, err))
			}
			report.Members[a-1].Add(i)
		}
		progress.Do(func() {
			s.logger.Info("partition build progress", "scanned", i, "total", n)
		})
	}

	var g errgroup.Group
	g.SetLimit(s.opts.partitionConcurrency)
	for _, w := range writers {
		g.Go(w.close)
	}
	if err := g.Wait(); err != nil {
		return report, errors.Join(err, removePartitionFiles(s.opts.fs, s.dir))
	}
	return report, nil
}

// Partition is one read-only partition of a store. The map from parent IID
// to local slot is built in memory when the partition is opened. A
// Partition is safe for concurrent use; Close waits for reads in flight.
type Partition struct {
	n      int
	dir    string
	opts   options
	logger *Logger

	records [model.NumClasses]*recfile.File
	blobs   [model.NumClasses]*blobfile.File
	index   *phash.Table
	members *roaring.Bitmap
	cache   *cache.LRU

	libraries   []model.Library
	strings     *blobfile.File
	stringIndex *recfile.File

	mu     sync.RWMutex
	ranges map[model.Kind]*rangeSet
	closed bool
}

// OpenPartition opens partition n of the store in dir read-only. dir needs
// the store header, the library file and the partition's own files; the
// interned UID files are optional.
func OpenPartition(dir string, n int, optFns ...Option) (*Partition, error) {
	o := applyOptions(optFns)
	p, err := openPartition(dir, n, o, nil)
	if err != nil && errors.Is(err, ErrIncompatibleFormat) {
		o.fatal(err)
	}
	return p, err
}

// LoadPartition opens partition n of this store. The partition shares the
// store's library table.
func (s *Store) LoadPartition(n int) (*Partition, error) {
	s.mu.RLock()
	if err := s.checkOpen(); err != nil {
		s.mu.RUnlock()
		return nil, err
	}
	libs := slices.Clone(s.libraries)
	s.mu.RUnlock()

	p, err := openPartition(s.dir, n, s.opts, libs)
	if err != nil && errors.Is(err, ErrIncompatibleFormat) {
		s.opts.fatal(err)
	}
	return p, err
}

func openPartition(dir string, n int, o options, libs []model.Library) (*Partition, error) {
	logger := o.logger.WithPath(dir).WithPartition(n)
	if n < 1 || n > MaxPartition {
		return nil, fmt.Errorf("%w: partition %d", ErrNotFound, n)
	}
	if _, err := loadInfo(o.fs, dir); err != nil {
		return nil, err
	}
	exists, err := fs.Exists(o.fs, filepath.Join(dir, partitionFileName(recordFileName(model.ClassPacked), n)))
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: partition %d in %s", ErrNotFound, n, dir)
	}

	p := &Partition{
		n:       n,
		dir:     dir,
		opts:    o,
		logger:  logger,
		members: roaring.New(),
		ranges:  make(map[model.Kind]*rangeSet),
	}
	if o.payloadCache > 0 {
		p.cache = cache.NewLRU(o.payloadCache)
	}
	ok := false
	defer func() {
		if !ok {
			_ = p.release()
		}
	}()

	for _, c := range model.Classes {
		name := recordFileName(c)
		if p.records[c], err = recfile.Open(o.fs, filepath.Join(dir, partitionFileName(name, n)), name, recordSizes[c], false); err != nil {
			return nil, fileError(err)
		}
		if p.blobs[c], err = blobfile.Open(o.fs, filepath.Join(dir, partitionFileName(blobFileName(c), n)), false); err != nil {
			return nil, fileError(err)
		}
	}

	if libs == nil {
		lf, err := recfile.Open(o.fs, filepath.Join(dir, libraryFile), libraryFile, libraryRecordSize, false)
		if err != nil {
			return nil, fileError(err)
		}
		libs, err = readLibraries(lf)
		_ = lf.Close()
		if err != nil {
			return nil, err
		}
	}
	p.libraries = libs

	if interned, err := fs.Exists(o.fs, filepath.Join(dir, uidIndexFile)); err != nil {
		return nil, err
	} else if interned {
		if p.strings, err = blobfile.Open(o.fs, filepath.Join(dir, uidBlobFile), false); err != nil {
			return nil, fileError(err)
		}
		if p.stringIndex, err = recfile.Open(o.fs, filepath.Join(dir, uidIndexFile), uidIndexFile, stringRecordSize, false); err != nil {
			return nil, fileError(err)
		}
	}

	if err := p.buildIndex(); err != nil {
		return nil, err
	}
	ok = true
	logger.Info("partition loaded", "fragments", p.members.GetCardinality())
	return p, nil
}

// buildIndex scans the three local record files once.
func (p *Partition) buildIndex() error {
	total := 0
	for _, r := range p.records {
		total += r.Len()
	}
	index, err := phash.Create("", total, phash.WithLogger(p.logger.Logger))
	if err != nil {
		return translateError(err)
	}
	p.index = index

	for _, c := range model.Classes {
		var buf []byte
		for pos := 0; pos < p.records[c].Len(); pos++ {
			b, err := p.records[c].Get(pos, buf)
			if err != nil {
				return fileError(err)
			}
			iid := recordIID(b)
			value := phash.Value{ID: uint32(pos), Type: phash.Type(c)}
			if _, err := index.Insert(NamespacePartition, uint64(iid), value, false); err != nil {
				if errors.Is(err, phash.ErrAlreadyExists) {
					return fmt.Errorf("%w: iid %d appears twice in partition %d", ErrCorrupt, iid, p.n)
				}
				return translateError(err)
			}
			p.members.Add(uint32(iid))
		}
	}
	return nil
}

// Number returns the partition number.
func (p *Partition) Number() int { return p.n }

// Len returns the number of fragments in the partition.
func (p *Partition) Len() int { return int(p.members.GetCardinality()) }

// Contains reports whether iid belongs to the partition.
func (p *Partition) Contains(iid model.IID) bool { return p.members.Contains(uint32(iid)) }

// Members returns a copy of the partition's IID set.
func (p *Partition) Members() *roaring.Bitmap { return p.members.Clone() }

// locate resolves iid to its local slot. The caller holds p.mu.
func (p *Partition) locate(iid model.IID) (model.Class, uint32, error) {
	if p.closed {
		return 0, 0, ErrClosed
	}
	e, err := p.index.Lookup(NamespacePartition, uint64(iid))
	if err != nil {
		if errors.Is(err, phash.ErrNotFound) {
			return 0, 0, fmt.Errorf("%w: iid %d, partition %d", ErrNotInPartition, iid, p.n)
		}
		return 0, 0, translateError(err)
	}
	return model.Class(e.Type), e.ID, nil
}

// Get returns a fragment of the partition by its parent IID.
func (p *Partition) Get(iid model.IID, fields model.Field) (*model.Fragment, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, pos, err := p.locate(iid)
	if err != nil {
		return nil, err
	}
	b, err := p.records[c].Get(int(pos), nil)
	if err != nil {
		return nil, fileError(err)
	}
	f := decodeFragment(c, b, fields)
	if err := loadPayload(payloads(p.cache, c, p.blobs[c]), f, fields); err != nil {
		return nil, err
	}
	return f, nil
}

// Read returns the decoded bases and qualities of a fragment.
func (p *Partition) Read(iid model.IID) (seq, qlt []byte, err error) {
	f, err := p.Get(iid, model.FieldAll)
	if err != nil {
		return nil, nil, err
	}
	return p.opts.encoder.Decode(f.Sequence, f.Quality)
}

// Fragments yields the partition's fragments in ascending IID order.
func (p *Partition) Fragments(fields model.Field) iter.Seq2[*model.Fragment, error] {
	return func(yield func(*model.Fragment, error) bool) {
		it := p.members.Iterator()
		for it.HasNext() {
			f, err := p.Get(model.IID(it.Next()), fields)
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

// GetRange returns the clear range of iid for kind. Kinds without
// partition tables read as undefined.
func (p *Partition) GetRange(iid model.IID, kind model.Kind) (model.Range, error) {
	if err := kind.Validate(); err != nil {
		return model.UndefinedRange, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	c, pos, err := p.locate(iid)
	if err != nil {
		return model.UndefinedRange, err
	}
	rs, ok := p.ranges[kind]
	if !ok {
		if rs, err = openRangeSet(p.opts.fs, p.dir, kind, p.n, false); err != nil {
			return model.UndefinedRange, err
		}
		p.ranges[kind] = rs
	}
	return rs.get(c, pos), nil
}

// CacheStats returns the payload cache hit and miss counts.
func (p *Partition) CacheStats() (hits, misses int64) {
	if p.cache == nil {
		return 0, 0
	}
	return p.cache.Stats()
}

// Library returns a library of the parent store.
func (p *Partition) Library(iid model.IID) (model.Library, error) {
	return libraryAt(p.libraries, iid)
}

// Libraries returns a copy of the parent store's libraries.
func (p *Partition) Libraries() []model.Library {
	return slices.Clone(p.libraries)
}

// UIDName renders a UID. Interned strings need the store's UID files.
func (p *Partition) UIDName(uid model.UID) (string, error) {
	if !uid.IsString() {
		if uid.IsNull() {
			return "", fmt.Errorf("%w: null uid", ErrInvalidUID)
		}
		return uid.String(), nil
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", ErrClosed
	}
	if p.stringIndex == nil {
		return "", fmt.Errorf("%w: string uid %d", ErrNotFound, uid.StringIndex())
	}
	return stringAt(p.strings, p.stringIndex, uid.StringIndex())
}

// Close releases the partition's files. It is idempotent.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.release()
}

func (p *Partition) release() error {
	var errs []error
	for _, rs := range p.ranges {
		errs = append(errs, rs.close())
	}
	if p.index != nil {
		errs = append(errs, p.index.Close())
	}
	for _, c := range model.Classes {
		if p.records[c] != nil {
			errs = append(errs, p.records[c].Close())
		}
		if p.blobs[c] != nil {
			errs = append(errs, p.blobs[c].Close())
		}
	}
	if p.strings != nil {
		errs = append(errs, p.strings.Close())
	}
	if p.stringIndex != nil {
		errs = append(errs, p.stringIndex.Close())
	}
	return errors.Join(errs...)
}
