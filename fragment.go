package readstore

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/hupe1980/readstore/internal/cache"
	"github.com/hupe1980/readstore/model"
	"github.com/hupe1980/readstore/phash"
)

// DeleteOption configures Delete.
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	mate bool
}

// DeleteMate also tombstones the fragment's mate.
func DeleteMate() DeleteOption {
	return func(o *deleteOptions) {
		o.mate = true
	}
}

// locate resolves iid through the identifier-class map.
func (s *Store) locate(op string, iid model.IID) (model.Class, uint32, error) {
	c, pos, ok := s.classes.Lookup(iid)
	if !ok {
		return 0, 0, &RangeError{Op: op, IID: iid, Max: model.IID(s.classes.Len())}
	}
	return c, pos, nil
}

// record decodes the fixed record at (c, pos). Inline payloads are decoded
// when fields asks for them; blob payloads are not read.
func (s *Store) record(c model.Class, pos uint32, fields model.Field) (*model.Fragment, error) {
	b, err := s.records[c].Get(int(pos), nil)
	if err != nil {
		return nil, fileError(err)
	}
	return decodeFragment(c, b, fields), nil
}

// readFragment decodes a record together with the payloads fields asks for.
func (s *Store) readFragment(c model.Class, pos uint32, fields model.Field) (*model.Fragment, error) {
	f, err := s.record(c, pos, fields)
	if err != nil {
		return nil, err
	}
	if err := loadPayload(payloads(s.cache, c, s.blobs[c]), f, fields); err != nil {
		return nil, err
	}
	return f, nil
}

type payloadReader interface {
	Read(off uint64, n uint32) ([]byte, error)
}

// cachedPayloads serves blob reads of one class through the payload cache.
type cachedPayloads struct {
	class model.Class
	blobs payloadReader
	cache *cache.LRU
}

func (r cachedPayloads) Read(off uint64, n uint32) ([]byte, error) {
	key := cache.Key{Class: uint8(r.class), Offset: off}
	if b, ok := r.cache.Get(key); ok {
		return slices.Clone(b), nil
	}
	b, err := r.blobs.Read(off, n)
	if err != nil {
		return nil, err
	}
	r.cache.Set(key, slices.Clone(b))
	return b, nil
}

// payloads returns the reader for class c, cached when a cache is configured.
func payloads(lru *cache.LRU, c model.Class, blobs payloadReader) payloadReader {
	if lru == nil {
		return blobs
	}
	return cachedPayloads{class: c, blobs: blobs, cache: lru}
}

func loadPayload(blobs payloadReader, f *model.Fragment, fields model.Field) error {
	if f.Inline {
		return nil
	}
	var err error
	if fields.Has(model.FieldSequence) && f.SeqLength > 0 {
		if f.Sequence, err = blobs.Read(f.SeqOffset, f.SeqLength); err != nil {
			return fileError(err)
		}
	}
	if fields.Has(model.FieldQuality) && f.QualLength > 0 {
		if f.Quality, err = blobs.Read(f.QualOffset, f.QualLength); err != nil {
			return fileError(err)
		}
	}
	return nil
}

// placePayload stores f's payloads inline when they fit the class record and
// in the class blob file otherwise, and fills in the locators.
func (s *Store) placePayload(c model.Class, f *model.Fragment) error {
	if fitsInline(c, f.Sequence, f.Quality) {
		f.Inline = true
		f.SeqOffset, f.SeqLength = 0, uint32(len(f.Sequence))
		f.QualOffset, f.QualLength = uint64(len(f.Sequence)), uint32(len(f.Quality))
		return nil
	}
	f.Inline = false
	var err error
	if f.SeqOffset, f.SeqLength, err = s.blobs[c].Append(f.Sequence); err != nil {
		return fileError(err)
	}
	if f.QualOffset, f.QualLength, err = s.blobs[c].Append(f.Quality); err != nil {
		return fileError(err)
	}
	return nil
}

// checkLinks validates the library and mate a record refers to.
func (s *Store) checkLinks(self, library, mate model.IID) error {
	if library.Valid() && int(library) > len(s.libraries) {
		return fmt.Errorf("%w: library %d", ErrNotFound, library)
	}
	if !mate.Valid() {
		return nil
	}
	if mate == self {
		return fmt.Errorf("%w: fragment %d cannot be its own mate", ErrInvalidAssignment, self)
	}
	c, pos, ok := s.classes.Lookup(mate)
	if !ok {
		return fmt.Errorf("%w: mate %d", ErrNotFound, mate)
	}
	m, err := s.record(c, pos, model.FieldInfo)
	if err != nil {
		return err
	}
	if m.Deleted {
		return fmt.Errorf("%w: mate %d", ErrDeleted, mate)
	}
	return nil
}

// Append stores a new fragment and returns its IID. The density class is
// chosen from f.Length and never changes afterwards. f.Ranges, when set,
// initialises the named clear ranges; every other configured kind starts
// out equal to f.Clear.
//
// Appending a UID that is live fails with ErrAlreadyExists. A UID whose
// fragment was deleted may be appended again and receives a new IID.
func (s *Store) Append(f *model.Fragment) (iid model.IID, err error) {
	start := time.Now()
	var class model.Class
	defer func() {
		s.opts.metricsCollector.RecordAppend(class, time.Since(start), err)
		s.logger.LogAppend(f.UID, iid, class, err)
	}()

	if f.UID.IsNull() {
		return model.InvalidIID, fmt.Errorf("%w: null uid", ErrInvalidUID)
	}
	for kind := range f.Ranges {
		if err := kind.Validate(); err != nil {
			return model.InvalidIID, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return model.InvalidIID, err
	}

	class = s.classify(f.Length)
	next, pos := s.classes.Next(class)
	if err := s.checkLinks(next, f.Library, f.Mate); err != nil {
		return model.InvalidIID, err
	}
	if e, err := s.uids.Lookup(NamespaceFragment, uint64(f.UID)); err == nil && !e.Deleted {
		return model.InvalidIID, fmt.Errorf("%w: uid %s is iid %d", ErrAlreadyExists, f.UID, e.ID)
	}
	if got := s.records[class].Len(); got != int(pos) {
		return model.InvalidIID, fmt.Errorf("%w: %s holds %d records, expected %d", ErrCorrupt, recordFileName(class), got, pos)
	}

	rec := &model.Fragment{
		UID:         f.UID,
		IID:         next,
		Class:       class,
		Library:     f.Library,
		Mate:        f.Mate,
		NonRandom:   f.NonRandom,
		Orientation: f.Orientation,
		Length:      f.Length,
		Clear:       f.Clear,
		Sequence:    f.Sequence,
		Quality:     f.Quality,
		Ranges:      f.Ranges,
	}
	if err := s.placePayload(class, rec); err != nil {
		return model.InvalidIID, err
	}
	if _, err := s.records[class].Append(encodeFragment(class, rec)); err != nil {
		return model.InvalidIID, fileError(err)
	}

	e, err := s.uids.Insert(NamespaceFragment, uint64(f.UID), phash.Value{Type: TypeFragment}, true)
	if err != nil {
		_ = s.records[class].Truncate(int(pos))
		return model.InvalidIID, translateError(err)
	}
	if model.IID(e.ID) != next {
		return model.InvalidIID, fmt.Errorf("%w: uid map assigned %d, expected %d", ErrCorrupt, e.ID, next)
	}
	if _, _, err := s.classes.Add(class); err != nil {
		return model.InvalidIID, translateError(err)
	}

	s.info.Counts[class]++
	s.info.Loaded++
	if !f.NonRandom {
		s.info.NumRandom++
	}
	s.info.Canonical = s.classes.Canonical()
	s.info.LastClass = uint8(class)

	if rec.Mate.Valid() {
		if err := s.relink(rec.Mate, next); err != nil {
			return next, err
		}
	}
	if err := s.setAppendRanges(class, pos, rec); err != nil {
		return next, err
	}
	s.checkMapGrowth()
	return next, nil
}

// AppendRead encodes seq and qlt with the store's encoder and appends f with
// the result as payload. f.Length defaults to len(seq).
func (s *Store) AppendRead(f *model.Fragment, seq, qlt []byte) (model.IID, error) {
	encSeq, encQlt, err := s.opts.encoder.Encode(seq, qlt)
	if err != nil {
		return model.InvalidIID, err
	}
	g := *f
	g.Sequence, g.Quality = encSeq, encQlt
	if g.Length == 0 {
		g.Length = uint32(len(seq))
	}
	return s.Append(&g)
}

func (s *Store) checkMapGrowth() {
	if c := s.uids.Stats().Capacity; c != s.mapCapacity {
		s.mapCapacity = c
		s.opts.metricsCollector.RecordMapGrowth(c)
	}
}

// Get returns the fragment with the given IID. fields selects the payloads
// to load. Tombstones are returned with Deleted set. An IID outside
// [1, NumFragments] yields a *RangeError.
func (s *Store) Get(iid model.IID, fields model.Field) (f *model.Fragment, err error) {
	start := time.Now()
	defer func() {
		s.opts.metricsCollector.RecordGet(time.Since(start), err)
		s.logger.LogGet(iid, err)
	}()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	c, pos, err := s.locate("get", iid)
	if err != nil {
		return nil, err
	}
	return s.readFragment(c, pos, fields)
}

// Read returns the decoded bases and qualities of a fragment.
func (s *Store) Read(iid model.IID) (seq, qlt []byte, err error) {
	f, err := s.Get(iid, model.FieldAll)
	if err != nil {
		return nil, nil, err
	}
	return s.opts.encoder.Decode(f.Sequence, f.Quality)
}

// Set rewrites the mutable fields of a live fragment in place: library,
// mate, orientation, length, clear range and the non-random flag. A non-nil
// f.Sequence or f.Quality replaces that payload; a nil one keeps what is
// stored. UID, IID and class are
// kept; a length that would move the fragment to another class fails with
// ErrClassMismatch. Mate changes made here are one-sided; use SetMate to
// link both ends.
func (s *Store) Set(iid model.IID, f *model.Fragment) (err error) {
	start := time.Now()
	defer func() {
		s.opts.metricsCollector.RecordSet(time.Since(start), err)
		s.logger.LogSet(iid, err)
	}()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return err
	}
	c, pos, err := s.locate("set", iid)
	if err != nil {
		return err
	}
	cur, err := s.readFragment(c, pos, model.FieldAll)
	if err != nil {
		return err
	}
	if cur.Deleted {
		return fmt.Errorf("%w: iid %d", ErrDeleted, iid)
	}
	if got := s.classify(f.Length); got != c {
		return fmt.Errorf("%w: length %d is %s, fragment %d is %s", ErrClassMismatch, f.Length, got, iid, c)
	}
	if err := s.checkLinks(iid, f.Library, f.Mate); err != nil {
		return err
	}

	switch {
	case cur.NonRandom && !f.NonRandom:
		s.info.NumRandom++
	case !cur.NonRandom && f.NonRandom && s.info.NumRandom > 0:
		s.info.NumRandom--
	}

	cur.Library = f.Library
	cur.Mate = f.Mate
	cur.Orientation = f.Orientation
	cur.Length = f.Length
	cur.Clear = f.Clear
	cur.NonRandom = f.NonRandom
	if f.Sequence != nil || f.Quality != nil {
		if f.Sequence != nil {
			cur.Sequence = f.Sequence
		}
		if f.Quality != nil {
			cur.Quality = f.Quality
		}
		if err := s.placePayload(c, cur); err != nil {
			return err
		}
	}
	if err := s.records[c].Set(int(pos), encodeFragment(c, cur)); err != nil {
		return fileError(err)
	}
	return nil
}

// link points the mate field of iid at mate.
func (s *Store) link(iid, mate model.IID) error {
	c, pos, err := s.locate("link", iid)
	if err != nil {
		return err
	}
	f, err := s.record(c, pos, model.FieldAll)
	if err != nil {
		return err
	}
	if f.Mate == mate {
		return nil
	}
	f.Mate = mate
	return fileError(s.records[c].Set(int(pos), encodeFragment(c, f)))
}

// SetMate links a and b as mates in both directions. Previous mates of
// either fragment are unlinked.
func (s *Store) SetMate(a, b model.IID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return err
	}
	if err := s.checkLinks(a, 0, b); err != nil {
		return err
	}
	if err := s.checkLinks(b, 0, a); err != nil {
		return err
	}
	for _, pair := range [][2]model.IID{{a, b}, {b, a}} {
		if err := s.relink(pair[0], pair[1]); err != nil {
			return err
		}
	}
	return nil
}

// relink points iid at mate after unlinking the fragment iid was mated
// with before, so no third fragment keeps a link to iid.
func (s *Store) relink(iid, mate model.IID) error {
	c, pos, err := s.locate("link", iid)
	if err != nil {
		return err
	}
	f, err := s.record(c, pos, model.FieldInfo)
	if err != nil {
		return err
	}
	if old := f.Mate; old.Valid() && old != mate {
		if err := s.unlink(old, iid); err != nil {
			return err
		}
	}
	return s.link(iid, mate)
}

// unlink clears the mate field of iid if it still points at mate.
func (s *Store) unlink(iid, mate model.IID) error {
	c, pos, ok := s.classes.Lookup(iid)
	if !ok {
		return nil
	}
	f, err := s.record(c, pos, model.FieldInfo)
	if err != nil {
		return err
	}
	if f.Mate != mate {
		return nil
	}
	return s.link(iid, model.InvalidIID)
}

// Delete tombstones a fragment: the record keeps its slot and IID, its UID
// is nulled and the UID map entry is marked deleted. A UID with outstanding
// references cannot be deleted. The mate, if any, is unlinked, or deleted
// as well with DeleteMate.
func (s *Store) Delete(iid model.IID, optFns ...DeleteOption) (err error) {
	start := time.Now()
	defer func() {
		s.opts.metricsCollector.RecordDelete(time.Since(start), err)
		s.logger.LogDelete(iid, err)
	}()

	var o deleteOptions
	for _, fn := range optFns {
		fn(&o)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return err
	}
	c, pos, err := s.locate("delete", iid)
	if err != nil {
		return err
	}
	f, err := s.record(c, pos, model.FieldAll)
	if err != nil {
		return err
	}
	if f.Deleted {
		return fmt.Errorf("%w: iid %d", ErrDeleted, iid)
	}

	var mate *model.Fragment
	var mc model.Class
	var mpos uint32
	if f.Mate.Valid() {
		var ok bool
		if mc, mpos, ok = s.classes.Lookup(f.Mate); ok {
			if mate, err = s.record(mc, mpos, model.FieldAll); err != nil {
				return err
			}
		}
	}
	deleteMate := o.mate && mate != nil && !mate.Deleted
	if deleteMate {
		if e, err := s.uids.Lookup(NamespaceFragment, uint64(mate.UID)); err == nil && e.RefCount > 0 {
			return fmt.Errorf("%w: mate %d has %d", ErrOutstandingReferences, f.Mate, e.RefCount)
		}
	}

	if err := s.tombstone(c, pos, f); err != nil {
		return err
	}
	switch {
	case deleteMate:
		if err := s.tombstone(mc, mpos, mate); err != nil {
			return err
		}
		s.logger.WithIID(mate.IID).Debug("mate deleted", "mate", uint32(iid))
	case mate != nil && mate.Mate == iid:
		mate.Mate = model.InvalidIID
		if err := s.records[mc].Set(int(mpos), encodeFragment(mc, mate)); err != nil {
			return fileError(err)
		}
	}
	return nil
}

func (s *Store) tombstone(c model.Class, pos uint32, f *model.Fragment) error {
	if err := s.uids.MarkDeleted(NamespaceFragment, uint64(f.UID)); err != nil && !errors.Is(err, phash.ErrNotFound) {
		return translateError(err)
	}
	f.Deleted = true
	f.UID = model.NullUID
	return fileError(s.records[c].Set(int(pos), encodeFragment(c, f)))
}

// Lookup returns the IID of the fragment with the given UID. A deleted
// fragment yields its last IID together with ErrDeleted.
func (s *Store) Lookup(uid model.UID) (model.IID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return model.InvalidIID, err
	}
	e, err := s.uids.LookupType(NamespaceFragment, uint64(uid), TypeFragment)
	if err != nil {
		if errors.Is(err, phash.ErrDeleted) {
			return model.IID(e.ID), fmt.Errorf("%w: uid %s", ErrDeleted, uid)
		}
		return model.InvalidIID, translateError(err)
	}
	return model.IID(e.ID), nil
}

// AddRef takes a reference on a fragment UID. Referenced fragments cannot
// be deleted.
func (s *Store) AddRef(uid model.UID) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return 0, err
	}
	n, err := s.uids.AddRef(NamespaceFragment, uint64(uid))
	return n, translateError(err)
}

// Unref releases a reference taken with AddRef.
func (s *Store) Unref(uid model.UID) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return 0, err
	}
	n, err := s.uids.Unref(NamespaceFragment, uint64(uid))
	return n, translateError(err)
}

// Fragments yields every fragment in ascending IID order, tombstones
// included. Iteration stops after the first error.
func (s *Store) Fragments(fields model.Field) iter.Seq2[*model.Fragment, error] {
	return func(yield func(*model.Fragment, error) bool) {
		n := s.NumFragments()
		for i := uint32(1); i <= n; i++ {
			f, err := s.fragment(model.IID(i), fields)
			if !yield(f, err) || err != nil {
				return
			}
		}
	}
}

func (s *Store) fragment(iid model.IID, fields model.Field) (*model.Fragment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	c, pos, err := s.locate("get", iid)
	if err != nil {
		return nil, err
	}
	return s.readFragment(c, pos, fields)
}
