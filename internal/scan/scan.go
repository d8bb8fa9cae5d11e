package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// DefaultProgressInterval is the default interval for progress updates.
const DefaultProgressInterval = 500 * time.Millisecond

// DefaultTopN is the number of top directories tracked when
// Config.TopN is unset.
const DefaultTopN = 20

var errNotADirectory = errors.New("not a directory")

// Config carries the primitive configuration values the engine needs
// from its caller. Zero values select the documented defaults.
type Config struct {
	// Root is the directory to scan.
	Root string
	// Algorithm is the content hash algorithm identifier.
	Algorithm string
	// FollowSymlinks descends into symlinked directories, with cycle
	// detection against the traversal ancestor stack.
	FollowSymlinks bool
	// MinHashSize skips hashing for files below this byte size; such
	// files are treated as unique by construction.
	MinHashSize int64
	// Workers bounds concurrent directory reads and file hashes.
	Workers int
	// TopN is the number of top directories tracked in the summary.
	TopN int
	// ProgressInterval controls progress callback cadence.
	ProgressInterval time.Duration
}

// Outcome is the structured result of one scan.
type Outcome struct {
	// Root is the scanned tree with rollups populated.
	Root *DirNode `json:"root"`
	// Groups lists duplicate groups, largest reclaimable space first.
	Groups []DuplicateGroup `json:"groups"`
	// Errors lists every non-fatal failure recorded during the scan.
	Errors []*ScanError `json:"errors"`
	// Summary holds the global aggregates.
	Summary Summary `json:"summary"`
	// Elapsed is the total scan duration.
	Elapsed time.Duration `json:"elapsed"`
	// Cancelled reports that the scan stopped early; completed
	// subtrees still satisfy the rollup invariants.
	Cancelled bool `json:"cancelled"`
}

// startProgressReporter invokes hook(files, bytes) on each tick until
// ctx is done.
func startProgressReporter(ctx context.Context, w *walker, hook func(int64, int64), interval time.Duration) {
	if hook == nil {
		return
	}

	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				hook(w.fileCount.Load(), w.byteCount.Load())
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Scan walks the tree at cfg.Root and returns its directory tree with
// aggregated statistics, the duplicate groups found, and the errors
// collected along the way. Progress updates are sent to progressHook
// if provided.
//
// Any single entry or subtree failure is recorded and traversal
// continues with siblings; the scan as a whole fails only when the
// root itself cannot be read. Cancelling ctx stops dispatching new
// work promptly and returns the partial outcome with Cancelled set.
func Scan(ctx context.Context, cfg Config, progressHook func(int64, int64)) (*Outcome, error) {
	start := time.Now()

	if cfg.Root == "" {
		cfg.Root = "."
	}

	// Absolute root keeps node paths and redundancy attribution keys
	// aligned regardless of how the caller spelled the path.
	absRoot, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving absolute path for %q: %w", cfg.Root, err)
	}

	// Canonicalize so resolved symlink targets compare against the
	// same spelling of the root. A missing root surfaces below.
	if resolved, err := filepath.EvalSymlinks(absRoot); err == nil {
		absRoot = resolved
	}

	cfg.Root = absRoot

	if cfg.Algorithm == "" {
		cfg.Algorithm = DefaultAlgorithm
	}

	if _, err := newDigest(cfg.Algorithm); err != nil {
		return nil, err
	}

	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}

	if cfg.TopN <= 0 {
		cfg.TopN = DefaultTopN
	}

	info, err := os.Lstat(cfg.Root)
	if err != nil {
		return nil, &ScanError{Path: cfg.Root, Kind: KindRootUnreadable, Err: err}
	}

	if !info.IsDir() {
		return nil, &ScanError{Path: cfg.Root, Kind: KindRootUnreadable, Err: errNotADirectory}
	}

	walk := newWalker(cfg)

	// Child context ensures progress reporter cleanup.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startProgressReporter(ctx, walk, progressHook, cfg.ProgressInterval)

	rootIdentity, _, _, ok := sysStat(info)
	if !ok {
		rootIdentity = syntheticIdentity()
	}

	// walkDir returns only after its whole subtree's completion
	// barrier, so the index is safe to read from here on.
	root, err := walk.walkDir(ctx, cfg.Root, rootIdentity, nil)
	if err != nil {
		return nil, &ScanError{Path: cfg.Root, Kind: KindRootUnreadable, Err: err}
	}

	groups := walk.index.duplicateGroups()
	summary := aggregate(root, groups, cfg.TopN)
	scanErrs := collectErrors(root)

	outcome := &Outcome{
		Root:      root,
		Groups:    groups,
		Errors:    scanErrs,
		Summary:   summary,
		Elapsed:   time.Since(start),
		Cancelled: walk.cancelled.Load(),
	}

	if outcome.Cancelled {
		cancelErr := &ScanError{Path: cfg.Root, Kind: KindCancelled, Err: context.Cause(ctx)}
		outcome.Errors = append(outcome.Errors, cancelErr)
		outcome.Summary.ErrorCount++
	}

	return outcome, nil
}

// Validate checks that cfg's explicit values are usable, without
// applying defaults.
func (cfg Config) Validate() error {
	if cfg.Algorithm != "" {
		if _, err := newDigest(cfg.Algorithm); err != nil {
			return err
		}
	}

	if cfg.MinHashSize < 0 {
		return fmt.Errorf("min hash size cannot be negative: %d", cfg.MinHashSize)
	}

	return nil
}
