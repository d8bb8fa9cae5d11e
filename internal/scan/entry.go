package scan

import (
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
)

// EntryType is the file type of a directory entry.
type EntryType string

// Entry types. Sockets, FIFOs and device nodes all collapse into
// TypeOther; they are listed but never hashed or descended into.
const (
	TypeRegular EntryType = "regular"
	TypeDir     EntryType = "directory"
	TypeSymlink EntryType = "symlink"
	TypeOther   EntryType = "other"
)

// FileIdentity identifies one physical storage object by device and
// inode. All hard links to a file share the same FileIdentity.
type FileIdentity struct {
	Dev uint64 `json:"dev"`
	Ino uint64 `json:"ino"`
}

// syntheticIno hands out per-path pseudo inodes on platforms where the
// real identity is unavailable. Hard-link detection degrades to
// treating every path as distinct storage.
var syntheticIno atomic.Uint64

func syntheticIdentity() FileIdentity {
	return FileIdentity{Dev: math.MaxUint64, Ino: syntheticIno.Add(1)}
}

// Entry is one directory-listing result. It is created by readEntries
// and never mutated after its owning directory node is assembled.
type Entry struct {
	// Name is the entry's base name within its parent directory.
	Name string `json:"name"`
	// Type is the entry's file type.
	Type EntryType `json:"type"`
	// ApparentSize is the logical byte length reported by lstat.
	ApparentSize int64 `json:"apparent_size"`
	// AllocatedSize is the storage actually consumed on disk.
	AllocatedSize int64 `json:"allocated_size"`
	// Identity is the entry's physical storage identity.
	Identity FileIdentity `json:"identity"`
	// NLink is the hard-link count, when the platform reports one.
	NLink uint64 `json:"nlink,omitempty"`
	// Digest is the hex content digest, populated only for regular
	// files that were hashed.
	Digest string `json:"digest,omitempty"`
}

func newEntry(name string, info fs.FileInfo) Entry {
	entry := Entry{
		Name:         name,
		ApparentSize: info.Size(),
	}

	switch mode := info.Mode(); {
	case mode.IsRegular():
		entry.Type = TypeRegular
	case mode.IsDir():
		entry.Type = TypeDir
	case mode&fs.ModeSymlink != 0:
		entry.Type = TypeSymlink
	default:
		entry.Type = TypeOther
	}

	identity, allocated, nlink, ok := sysStat(info)
	if !ok {
		identity = syntheticIdentity()
		allocated = info.Size()
	}

	entry.Identity = identity
	entry.AllocatedSize = allocated
	entry.NLink = nlink

	return entry
}

// readEntries lists one directory's immediate children with
// best-effort metadata. A child whose metadata cannot be read (for
// example, removed between listing and stat) yields one ScanError and
// does not abort the rest of the listing. The returned error is
// non-nil only when the directory itself cannot be listed.
//
// os.ReadDir sorts children by name, which is the stable relative
// order the rest of the engine relies on.
func readEntries(dir string) ([]Entry, []*ScanError, error) {
	children, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("listing %q: %w", dir, err)
	}

	entries := make([]Entry, 0, len(children))

	var errs []*ScanError

	for _, child := range children {
		info, err := child.Info()
		if err != nil {
			errs = append(errs, &ScanError{
				Path: filepath.Join(dir, child.Name()),
				Kind: KindEntryUnreadable,
				Err:  err,
			})

			continue
		}

		entries = append(entries, newEntry(child.Name(), info))
	}

	return entries, errs, nil
}
