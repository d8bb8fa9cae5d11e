//go:build unix

package scan

import (
	"io/fs"
	"syscall"
)

// blockSize is the unit of Stat_t.Blocks as defined by POSIX,
// independent of the filesystem's actual block size.
const blockSize = 512

// sysStat extracts device, inode, allocated size and link count from
// the platform stat structure. ok is false when the FileInfo does not
// carry a Stat_t (for example, entries from a synthetic fs.FS).
func sysStat(info fs.FileInfo) (identity FileIdentity, allocated int64, nlink uint64, ok bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok || stat == nil {
		return FileIdentity{}, 0, 0, false
	}

	identity = FileIdentity{
		Dev: uint64(stat.Dev), //nolint:unconvert // Dev is int32 on some platforms
		Ino: uint64(stat.Ino), //nolint:unconvert
	}

	return identity, int64(stat.Blocks) * blockSize, uint64(stat.Nlink), true //nolint:unconvert
}

// IdentityOf reports the physical storage identity of info, when the
// platform exposes one.
func IdentityOf(info fs.FileInfo) (FileIdentity, bool) {
	identity, _, _, ok := sysStat(info)

	return identity, ok
}
