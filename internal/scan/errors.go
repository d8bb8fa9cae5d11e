package scan

import (
	"encoding/json"
	"fmt"
)

// ErrorKind classifies a scan failure.
type ErrorKind string

// Error kinds. Only RootUnreadable aborts a scan; every other kind is
// recorded on the nearest enclosing directory and traversal continues.
const (
	KindRootUnreadable  ErrorKind = "root-unreadable"
	KindEntryUnreadable ErrorKind = "entry-unreadable"
	KindBrokenSymlink   ErrorKind = "broken-symlink"
	KindCycleDetected   ErrorKind = "cycle-detected"
	KindHashIOError     ErrorKind = "hash-io-error"
	KindCancelled       ErrorKind = "cancelled"
)

// ScanError records one per-location failure encountered during a scan.
type ScanError struct {
	// Path is the filesystem location the failure is attributed to.
	Path string
	// Kind classifies the failure.
	Kind ErrorKind
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
}

// Unwrap returns the underlying cause.
func (e *ScanError) Unwrap() error {
	return e.Err
}

// MarshalJSON renders the underlying error as a plain message string.
func (e *ScanError) MarshalJSON() ([]byte, error) {
	var msg string
	if e.Err != nil {
		msg = e.Err.Error()
	}

	return json.Marshal(struct {
		Path    string    `json:"path"`
		Kind    ErrorKind `json:"kind"`
		Message string    `json:"message"`
	}{Path: e.Path, Kind: e.Kind, Message: msg})
}
