package readstore

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hupe1980/readstore/internal/fs"
	"github.com/hupe1980/readstore/model"
	"github.com/hupe1980/readstore/phash"
)

// File names inside a store directory.
const (
	infoFile     = "info"
	libraryFile  = "lib"
	uidMapFile   = "u2i"
	uidBlobFile  = "uid"
	uidIndexFile = "uix"

	// sealFile names the remote object that marks a published partition.
	// It never exists in a store directory.
	sealFile = "seal"
)

// Namespaces of the UID map.
const (
	NamespaceFragment phash.Namespace = iota + 1
	NamespaceLibrary
	NamespaceString
	// NamespacePartition keys the in-memory IID index of a loaded partition.
	NamespacePartition
)

// Value types of the UID map. Each type draws IDs from its own counter.
const (
	TypeFragment phash.Type = 1
	TypeLibrary  phash.Type = 8
	TypeString   phash.Type = 15
)

// MaxPartition is the largest partition number a file name can carry.
const MaxPartition = 999

func recordFileName(c model.Class) string { return "f" + c.Tag() }

func blobFileName(c model.Class) string { return "b" + c.Tag() }

// partitionFileName appends the %03d partition suffix to a store file name.
func partitionFileName(name string, n int) string {
	return fmt.Sprintf("%s.%03d", name, n)
}

func sealName(n int) string { return partitionFileName(sealFile, n) }

func partitionSuffix(n int) string {
	return fmt.Sprintf(".%03d", n)
}

// isPartitionFile reports whether base ends in a three-digit partition suffix.
func isPartitionFile(base string) bool {
	i := strings.LastIndexByte(base, '.')
	if i < 0 || len(base)-i != 4 {
		return false
	}
	for _, c := range base[i+1:] {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// isStoreFile reports whether base names a file this package writes.
func isStoreFile(base string) bool {
	switch base {
	case infoFile, libraryFile, uidMapFile, uidBlobFile, uidIndexFile:
		return true
	}
	for _, c := range model.Classes {
		if base == recordFileName(c) || base == blobFileName(c) {
			return true
		}
	}
	if strings.HasPrefix(base, "clr.") {
		return true
	}
	if isPartitionFile(base) {
		return isStoreFile(base[:len(base)-4])
	}
	return false
}

// removePartitionFiles deletes every partition file in dir.
func removePartitionFiles(fsys fs.FileSystem, dir string) error {
	names, err := fs.Glob(fsys, dir, "*.[0-9][0-9][0-9]")
	if err != nil {
		return err
	}
	for _, name := range names {
		if !isStoreFile(filepath.Base(name)) {
			continue
		}
		if err := fs.RemoveIfExists(fsys, name); err != nil {
			return err
		}
	}
	return nil
}
