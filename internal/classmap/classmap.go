// Package classmap resolves an IID to its density class and its position
// within that class's record file.
//
// While fragments are appended in non-decreasing class order (all packed,
// then all normal, then all strobe) the mapping is pure arithmetic over the
// per-class counts. The first out-of-order append materializes an explicit
// paged array from that arithmetic, which is then maintained incrementally.
// A store reopened after such an append rebuilds the array by scanning
// every record.
package classmap

import (
	"errors"
	"fmt"

	"github.com/hupe1980/readstore/model"
)

const (
	pageBits = 12
	pageSize = 1 << pageBits
	pageMask = pageSize - 1

	classShift = 30
	posMask    = 1<<classShift - 1

	// MaxPosition is the largest within-class position the explicit map can hold.
	MaxPosition = posMask

	unset = ^uint32(0)
)

var (
	// ErrCorrupt is returned when a scan does not cover [1, n] exactly once.
	ErrCorrupt = errors.New("classmap: inconsistent record scan")
	// ErrCapacity is returned when a class outgrows MaxPosition.
	ErrCapacity = errors.New("classmap: class position overflow")
	// ErrInvalidClass is returned for unknown classes.
	ErrInvalidClass = errors.New("classmap: invalid class")
)

// Map is an identifier-class map.
type Map struct {
	n      uint32
	counts [model.NumClasses]uint32
	last   model.Class

	pages [][]uint32 // nil while canonical
}

// NewCanonical returns an arithmetic map for a store whose fragments were
// appended in non-decreasing class order.
func NewCanonical(counts [model.NumClasses]uint32, last model.Class) *Map {
	m := &Map{counts: counts, last: last}
	for _, c := range counts {
		m.n += c
	}
	return m
}

// Build returns an explicit map from a scan of every record. iidAt returns
// the IID stored at position pos of class c.
func Build(counts [model.NumClasses]uint32, iidAt func(c model.Class, pos uint32) (model.IID, error)) (*Map, error) {
	m := &Map{counts: counts}
	for _, c := range counts {
		m.n += c
	}
	m.pages = make([][]uint32, 0, (m.n+pageSize-1)/pageSize)
	for i := uint32(0); i < m.n; i += pageSize {
		m.pages = append(m.pages, newPage())
	}

	var lastIID model.IID
	for _, c := range model.Classes {
		if counts[c] > MaxPosition+1 {
			return nil, fmt.Errorf("%w: %s has %d records", ErrCapacity, c, counts[c])
		}
		for pos := uint32(0); pos < counts[c]; pos++ {
			iid, err := iidAt(c, pos)
			if err != nil {
				return nil, err
			}
			if iid == model.InvalidIID || uint32(iid) > m.n {
				return nil, fmt.Errorf("%w: %s record %d has iid %d of %d", ErrCorrupt, c, pos, iid, m.n)
			}
			slot := &m.pages[(iid-1)>>pageBits][(iid-1)&pageMask]
			if *slot != unset {
				return nil, fmt.Errorf("%w: iid %d stored twice", ErrCorrupt, iid)
			}
			*slot = encode(c, pos)
			if iid > lastIID {
				lastIID = iid
				m.last = c
			}
		}
	}
	// n slots and n distinct in-range IIDs leave no hole.
	return m, nil
}

func newPage() []uint32 {
	p := make([]uint32, pageSize)
	for i := range p {
		p[i] = unset
	}
	return p
}

func encode(c model.Class, pos uint32) uint32 {
	return uint32(c)<<classShift | pos
}

// Len returns the highest assigned IID.
func (m *Map) Len() uint32 { return m.n }

// Counts returns the number of records per class.
func (m *Map) Counts() [model.NumClasses]uint32 { return m.counts }

// Canonical reports whether the map is still arithmetic.
func (m *Map) Canonical() bool { return m.pages == nil }

// Last returns the class of the most recent append.
func (m *Map) Last() model.Class { return m.last }

// Next returns the IID and position the next append of class c would get,
// without recording it.
func (m *Map) Next(c model.Class) (model.IID, uint32) {
	return model.IID(m.n + 1), m.counts[c]
}

// Add records an append of class c and returns the assigned IID and position.
func (m *Map) Add(c model.Class) (model.IID, uint32, error) {
	if !c.Valid() {
		return model.InvalidIID, 0, fmt.Errorf("%w: %d", ErrInvalidClass, c)
	}
	pos := m.counts[c]
	if m.pages == nil && m.n > 0 && c < m.last {
		m.materialize()
	}
	if m.pages != nil {
		if pos > MaxPosition {
			return model.InvalidIID, 0, fmt.Errorf("%w: %s position %d", ErrCapacity, c, pos)
		}
		idx := m.n
		if int(idx>>pageBits) == len(m.pages) {
			m.pages = append(m.pages, newPage())
		}
		m.pages[idx>>pageBits][idx&pageMask] = encode(c, pos)
	}
	m.n++
	m.counts[c]++
	m.last = c
	return model.IID(m.n), pos, nil
}

// materialize turns the arithmetic map into an explicit one.
func (m *Map) materialize() {
	pages := make([][]uint32, 0, (m.n+pageSize)/pageSize)
	for i := uint32(0); i < m.n; i += pageSize {
		pages = append(pages, newPage())
	}
	for iid := uint32(1); iid <= m.n; iid++ {
		c, pos, _ := m.arithmetic(model.IID(iid))
		pages[(iid-1)>>pageBits][(iid-1)&pageMask] = encode(c, pos)
	}
	m.pages = pages
}

func (m *Map) arithmetic(iid model.IID) (model.Class, uint32, bool) {
	rel := uint32(iid) - 1
	for _, c := range model.Classes {
		if rel < m.counts[c] {
			return c, rel, true
		}
		rel -= m.counts[c]
	}
	return 0, 0, false
}

// Lookup returns the class and within-class position of iid.
func (m *Map) Lookup(iid model.IID) (model.Class, uint32, bool) {
	if iid == model.InvalidIID || uint32(iid) > m.n {
		return 0, 0, false
	}
	if m.pages == nil {
		return m.arithmetic(iid)
	}
	v := m.pages[(iid-1)>>pageBits][(iid-1)&pageMask]
	if v == unset {
		return 0, 0, false
	}
	return model.Class(v >> classShift), v & posMask, true
}
