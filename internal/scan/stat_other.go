//go:build !unix

package scan

import "io/fs"

// sysStat has no portable implementation outside unix. Callers fall
// back to synthetic identities and apparent sizes, which disables
// hard-link detection but keeps every other part of the scan working.
func sysStat(fs.FileInfo) (identity FileIdentity, allocated int64, nlink uint64, ok bool) {
	return FileIdentity{}, 0, 0, false
}

// IdentityOf reports the physical storage identity of info, when the
// platform exposes one.
func IdentityOf(fs.FileInfo) (FileIdentity, bool) {
	return FileIdentity{}, false
}
