package readstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/readstore/internal/clearrange"
	"github.com/hupe1980/readstore/internal/fs"
	"github.com/hupe1980/readstore/model"
)

// rangeSet holds the tables of one kind, one per class. A nil table reads
// as all undefined.
type rangeSet [model.NumClasses]*clearrange.Table

func (rs *rangeSet) get(c model.Class, pos uint32) model.Range {
	if rs == nil || rs[c] == nil {
		return model.UndefinedRange
	}
	return rs[c].Get(pos)
}

func (rs *rangeSet) flush() error {
	var errs []error
	for _, t := range rs {
		if t != nil {
			errs = append(errs, t.Flush())
		}
	}
	return errors.Join(errs...)
}

func (rs *rangeSet) close() error {
	var errs []error
	for i, t := range rs {
		if t != nil {
			errs = append(errs, t.Close())
			rs[i] = nil
		}
	}
	return errors.Join(errs...)
}

// openRangeSet opens the tables of kind with the given partition suffix.
// Missing class files are created empty when writable and left nil otherwise.
func openRangeSet(fsys fs.FileSystem, dir string, kind model.Kind, partition int, writable bool) (*rangeSet, error) {
	var rs rangeSet
	for _, c := range model.Classes {
		path := filepath.Join(dir, clearrange.FileName(kind, c, partition))
		t, err := clearrange.Open(fsys, path, kind, c, writable)
		switch {
		case err == nil:
			rs[c] = t
		case errors.Is(err, os.ErrNotExist):
			if writable {
				if rs[c], err = clearrange.Create(fsys, path, kind, c, 0); err != nil {
					_ = rs.close()
					return nil, err
				}
			}
		default:
			_ = rs.close()
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
	}
	return &rs, nil
}

// rangeTables returns the loaded tables of kind. An unconfigured kind is
// seeded from every fragment's clear range when create is set and the
// store is writable; otherwise nil is returned and every range reads as
// undefined.
func (s *Store) rangeTables(kind model.Kind, create bool) (*rangeSet, error) {
	if rs, ok := s.ranges[kind]; ok {
		return rs, nil
	}
	if s.kinds[kind] {
		rs, err := openRangeSet(s.opts.fs, s.dir, kind, 0, s.writable)
		if err != nil {
			return nil, err
		}
		s.ranges[kind] = rs
		return rs, nil
	}
	if !create || !s.writable {
		return nil, nil
	}
	return s.seedRanges(kind)
}

// seedRanges configures a new kind from the clear range every record carries.
func (s *Store) seedRanges(kind model.Kind) (*rangeSet, error) {
	var rs rangeSet
	total := s.info.NumFragments()
	logger := s.logger.WithKind(kind)
	logger.Info("seeding clear range table", "fragments", total)

	progress := rate.Sometimes{Interval: 5 * time.Second}
	var seeded uint32
	var buf []byte
	for _, c := range model.Classes {
		n := s.info.Counts[c]
		t, err := clearrange.Create(s.opts.fs, s.file(clearrange.FileName(kind, c, 0)), kind, c, n)
		if err != nil {
			_ = rs.close()
			return nil, err
		}
		rs[c] = t
		for pos := uint32(0); pos < n; pos++ {
			b, err := s.records[c].Get(int(pos), buf)
			if err != nil {
				_ = rs.close()
				return nil, fileError(err)
			}
			buf = b
			f := decodeFragment(c, b, model.FieldInfo)
			if err := t.Set(pos, f.Clear); err != nil {
				_ = rs.close()
				return nil, err
			}
			seeded++
			progress.Do(func() {
				logger.Info("clear range seeding progress", "seeded", seeded, "total", total)
			})
		}
	}
	if err := rs.flush(); err != nil {
		_ = rs.close()
		return nil, err
	}
	s.kinds[kind] = true
	s.ranges[kind] = &rs
	return &rs, nil
}

// GetRange returns the clear range of iid for kind. Kinds that were never
// configured read as undefined on a read-only store and are seeded from
// the fragments' clear ranges on a writable one.
func (s *Store) GetRange(iid model.IID, kind model.Kind) (model.Range, error) {
	if err := kind.Validate(); err != nil {
		return model.UndefinedRange, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return model.UndefinedRange, err
	}
	c, pos, err := s.locate("getRange", iid)
	if err != nil {
		return model.UndefinedRange, err
	}
	rs, err := s.rangeTables(kind, true)
	if err != nil {
		return model.UndefinedRange, err
	}
	return rs.get(c, pos), nil
}

// SetRange stores r as the kind clear range of iid. Only the side table
// changes; the record's own clear range is untouched.
func (s *Store) SetRange(iid model.IID, kind model.Kind, r model.Range) (err error) {
	defer func() {
		s.opts.metricsCollector.RecordRangeUpdate(kind, err)
	}()
	if err := kind.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return err
	}
	c, pos, err := s.locate("setRange", iid)
	if err != nil {
		return err
	}
	rs, err := s.rangeTables(kind, true)
	if err != nil {
		return err
	}
	if err := rs[c].Set(pos, r); err != nil {
		return translateRangeError(err)
	}
	return nil
}

// PurgeRange deletes every table of kind. The kind reads as unconfigured afterwards.
func (s *Store) PurgeRange(kind model.Kind) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return err
	}
	var err error
	if rs, ok := s.ranges[kind]; ok {
		err = rs.close()
		delete(s.ranges, kind)
	}
	delete(s.kinds, kind)
	err = errors.Join(err, clearrange.Remove(s.opts.fs, s.dir, kind))
	s.logger.WithKind(kind).Info("clear range purged", "error", err)
	return err
}

// RangeKinds lists the configured clear-range kinds in sorted order.
func (s *Store) RangeKinds() []model.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rangeKinds()
}

func (s *Store) rangeKinds() []model.Kind {
	kinds := make([]model.Kind, 0, len(s.kinds))
	for k := range s.kinds {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}

// setAppendRanges initialises every configured kind for a new record and
// then applies the fragment's explicit ranges.
func (s *Store) setAppendRanges(c model.Class, pos uint32, f *model.Fragment) error {
	for _, kind := range s.rangeKinds() {
		rs, err := s.rangeTables(kind, false)
		if err != nil {
			return err
		}
		if err := rs[c].Set(pos, f.Clear); err != nil {
			return translateRangeError(err)
		}
	}
	for kind, r := range f.Ranges {
		rs, err := s.rangeTables(kind, true)
		if err != nil {
			return err
		}
		if err := rs[c].Set(pos, r); err != nil {
			return translateRangeError(err)
		}
		s.opts.metricsCollector.RecordRangeUpdate(kind, nil)
	}
	return nil
}

func translateRangeError(err error) error {
	if errors.Is(err, clearrange.ErrCapacity) {
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	return err
}
