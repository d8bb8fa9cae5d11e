package scan

// Rollup holds per-directory aggregated statistics, populated by the
// aggregator after traversal completes.
type Rollup struct {
	// ApparentTotal is the sum of all descendant apparent sizes.
	ApparentTotal int64 `json:"apparent_total"`
	// AllocatedTotal is the sum of all descendant allocated sizes.
	AllocatedTotal int64 `json:"allocated_total"`
	// DedupTotal is ApparentTotal minus the redundant bytes of every
	// duplicate group attributed to this subtree.
	DedupTotal int64 `json:"dedup_total"`
	// FileCount is the number of regular files in the subtree.
	FileCount int64 `json:"file_count"`
	// DirCount is the number of directories in the subtree, excluding
	// the directory itself.
	DirCount int64 `json:"dir_count"`
	// ErrorCount is the number of scan errors recorded in the subtree.
	ErrorCount int64 `json:"error_count"`
}

// DirNode is one directory in the scanned tree. Each node is written
// only by the worker that owns its traversal and is immutable once its
// subtree finishes; the tree is a strict ownership DAG with no parent
// back-pointers.
type DirNode struct {
	// Path is the directory's path as traversed.
	Path string `json:"path"`
	// Entries lists the directory's immediate children in listing
	// order, including subdirectories and symlinks.
	Entries []Entry `json:"entries,omitempty"`
	// Dirs holds the traversed child directory nodes, including
	// followed symlinked directories.
	Dirs []*DirNode `json:"dirs,omitempty"`
	// Errors holds failures attributed to this directory.
	Errors []*ScanError `json:"errors,omitempty"`
	// Rollup is populated by the aggregator once the scan completes.
	Rollup Rollup `json:"rollup"`
}
