package readstore

import (
	"errors"
	"fmt"

	"github.com/hupe1980/readstore/internal/blobfile"
	"github.com/hupe1980/readstore/internal/hash"
	"github.com/hupe1980/readstore/internal/recfile"
	"github.com/hupe1980/readstore/model"
	"github.com/hupe1980/readstore/phash"
)

// UID returns the UID for an external name. A decimal integer that fits in
// 63 bits is taken verbatim; any other string is interned. A read-only
// store resolves only strings that are already interned.
func (s *Store) UID(name string) (model.UID, error) {
	if name == "" {
		return model.NullUID, fmt.Errorf("%w: empty name", ErrInvalidUID)
	}
	if u, ok := model.ParseNumericUID(name); ok {
		return u, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return model.NullUID, err
	}

	fp := hash.String64(name)
	e, err := s.uids.LookupType(NamespaceString, fp, TypeString)
	switch {
	case err == nil:
		got, err := stringAt(s.strings, s.stringIndex, e.ID)
		if err != nil {
			return model.NullUID, err
		}
		if got != name {
			return model.NullUID, fmt.Errorf("%w: %q and %q", ErrUIDCollision, name, got)
		}
		return model.StringUID(e.ID), nil
	case !errors.Is(err, phash.ErrNotFound):
		return model.NullUID, translateError(err)
	}

	if err := s.checkWrite(); err != nil {
		if errors.Is(err, ErrReadOnly) {
			return model.NullUID, fmt.Errorf("%w: uid %q", ErrNotFound, name)
		}
		return model.NullUID, err
	}
	return s.intern(fp, name)
}

func (s *Store) intern(fp uint64, name string) (model.UID, error) {
	off, n, err := s.strings.Append([]byte(name))
	if err != nil {
		return model.NullUID, fileError(err)
	}
	pos, err := s.stringIndex.Append(encodeStringRef(off, n))
	if err != nil {
		return model.NullUID, fileError(err)
	}
	e, err := s.uids.Insert(NamespaceString, fp, phash.Value{Type: TypeString}, true)
	if err != nil {
		_ = s.stringIndex.Truncate(pos)
		return model.NullUID, translateError(err)
	}
	if int(e.ID) != pos+1 {
		return model.NullUID, fmt.Errorf("%w: uid map assigned string %d, expected %d", ErrCorrupt, e.ID, pos+1)
	}
	s.info.NumStrings++
	s.checkMapGrowth()
	return model.StringUID(e.ID), nil
}

// UIDName renders a UID: integers in decimal, interned strings verbatim.
func (s *Store) UIDName(uid model.UID) (string, error) {
	if !uid.IsString() {
		if uid.IsNull() {
			return "", fmt.Errorf("%w: null uid", ErrInvalidUID)
		}
		return uid.String(), nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return "", err
	}
	return stringAt(s.strings, s.stringIndex, uid.StringIndex())
}

// stringAt reads the interned string with the given 1-based index.
func stringAt(blobs *blobfile.File, index *recfile.File, i uint32) (string, error) {
	if i == 0 || int(i) > index.Len() {
		return "", fmt.Errorf("%w: string uid %d", ErrNotFound, i)
	}
	b, err := index.Get(int(i-1), nil)
	if err != nil {
		return "", fileError(err)
	}
	off, n := decodeStringRef(b)
	data, err := blobs.Read(off, n)
	if err != nil {
		return "", fileError(err)
	}
	return string(data), nil
}
