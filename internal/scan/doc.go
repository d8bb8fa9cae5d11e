// Package scan implements the parallel scan-and-hash engine.
//
// It walks a directory subtree with a bounded worker budget, measures
// apparent and allocated space per file and directory, hashes regular
// file content to detect independently stored duplicates, and produces
// a directory tree with per-node rollups plus global duplicate groups.
// The scan is strictly read-only.
package scan
