package readstore

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/readstore/model"
	"github.com/hupe1980/readstore/phash"
)

// AddLibrary appends a library and returns its IID. Libraries are numbered
// from 1 independently of fragments.
func (s *Store) AddLibrary(l *model.Library) (model.IID, error) {
	if l.UID.IsNull() {
		return model.InvalidIID, fmt.Errorf("%w: null library uid", ErrInvalidUID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return model.InvalidIID, err
	}

	e, err := s.uids.Insert(NamespaceLibrary, uint64(l.UID), phash.Value{Type: TypeLibrary}, true)
	if err != nil {
		if errors.Is(err, phash.ErrAlreadyExists) {
			return model.IID(e.ID), fmt.Errorf("%w: library %s is iid %d", ErrAlreadyExists, l.UID, e.ID)
		}
		return model.InvalidIID, translateError(err)
	}
	iid := model.IID(len(s.libraries) + 1)
	if model.IID(e.ID) != iid {
		return model.InvalidIID, fmt.Errorf("%w: uid map assigned library %d, expected %d", ErrCorrupt, e.ID, iid)
	}

	lib := *l
	lib.IID = iid
	if _, err := s.libFile.Append(encodeLibrary(&lib)); err != nil {
		_ = s.uids.Delete(NamespaceLibrary, uint64(l.UID))
		return model.InvalidIID, fileError(err)
	}
	s.libraries = append(s.libraries, lib)
	s.info.NumLibraries++
	s.checkMapGrowth()

	s.logger.Info("library added", "uid", l.UID.String(), "iid", uint32(iid))
	return iid, nil
}

// GetLibrary returns the library with the given IID.
func (s *Store) GetLibrary(iid model.IID) (model.Library, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return model.Library{}, err
	}
	return libraryAt(s.libraries, iid)
}

func libraryAt(libs []model.Library, iid model.IID) (model.Library, error) {
	if !iid.Valid() || int(iid) > len(libs) {
		return model.Library{}, fmt.Errorf("%w: library %d", ErrNotFound, iid)
	}
	return libs[iid-1], nil
}

// SetLibrary replaces the metadata of a library. UID and IID are kept.
func (s *Store) SetLibrary(iid model.IID, l *model.Library) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkWrite(); err != nil {
		return err
	}
	cur, err := libraryAt(s.libraries, iid)
	if err != nil {
		return err
	}
	cur.Mean = l.Mean
	cur.StdDev = l.StdDev
	cur.Orientation = l.Orientation
	cur.Flags = l.Flags
	if err := s.libFile.Set(int(iid-1), encodeLibrary(&cur)); err != nil {
		return fileError(err)
	}
	s.libraries[iid-1] = cur
	return nil
}

// LookupLibrary returns the IID of the library with the given UID.
func (s *Store) LookupLibrary(uid model.UID) (model.IID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return model.InvalidIID, err
	}
	e, err := s.uids.LookupType(NamespaceLibrary, uint64(uid), TypeLibrary)
	if err != nil {
		return model.InvalidIID, translateError(err)
	}
	return model.IID(e.ID), nil
}

// NumLibraries returns the number of libraries.
func (s *Store) NumLibraries() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint32(len(s.libraries))
}

// Libraries returns a copy of every library in IID order.
func (s *Store) Libraries() []model.Library {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.libraries)
}
