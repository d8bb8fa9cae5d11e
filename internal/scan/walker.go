package scan

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var errSymlinkCycle = errors.New("symlink target is an ancestor on the traversal path")

// identityRecord caches the hash outcome for one physical file. The
// first path discovered for an identity computes the digest inside
// once; later hard-linked paths block until it is available and reuse
// it instead of hashing the same storage twice.
type identityRecord struct {
	once sync.Once
	key  DigestKey
	err  error
	ok   bool
}

// walker orchestrates the recursive traversal. Directory recursion and
// file hashing draw from the same semaphore budget, so traversal
// breadth and hashing throughput never exceed cfg.Workers concurrent
// units, which also caps open file descriptors.
type walker struct {
	cfg   Config
	sem   *semaphore.Weighted
	index *dedupIndex
	seen  sync.Map // FileIdentity -> *identityRecord

	fileCount atomic.Int64
	byteCount atomic.Int64
	cancelled atomic.Bool
}

func newWalker(cfg Config) *walker {
	return &walker{
		cfg:   cfg,
		sem:   semaphore.NewWeighted(int64(cfg.Workers)),
		index: newDedupIndex(),
	}
}

// dispatch runs fn on its own goroutine when a worker slot is free,
// inline otherwise. The inline fallback keeps recursive dispatch
// deadlock-free: a saturated pool degrades to serial traversal instead
// of blocking on itself. done is the owning node's completion barrier.
func (w *walker) dispatch(done *sync.WaitGroup, fn func()) {
	if w.sem.TryAcquire(1) {
		done.Add(1)

		go func() {
			defer done.Done()
			defer w.sem.Release(1)
			fn()
		}()

		return
	}

	fn()
}

func (w *walker) hashable(entry *Entry) bool {
	return entry.Type == TypeRegular && entry.ApparentSize > 0 && entry.ApparentSize >= w.cfg.MinHashSize
}

// hashEntry resolves the digest for one regular file and feeds the
// dedup index. Hard links to an already-hashed identity reuse the
// cached digest and join the existing group member as an alias path.
func (w *walker) hashEntry(entry *Entry, path string, addError func(*ScanError)) {
	identity, apparentSize := entry.Identity, entry.ApparentSize

	value, _ := w.seen.LoadOrStore(identity, &identityRecord{})
	record := value.(*identityRecord)

	var hashedHere bool

	record.once.Do(func() {
		hashedHere = true

		key, err := hashFile(path, w.cfg.Algorithm, apparentSize)
		switch {
		case err == nil:
			record.key = key
			record.ok = true
		case errors.Is(err, errSizeChanged):
			// Content was read in full; keep the key, which carries
			// the byte count actually read, and surface the mismatch.
			record.key = key
			record.ok = true
			record.err = err
		default:
			record.err = err
		}
	})

	if hashedHere && record.err != nil {
		addError(&ScanError{Path: path, Kind: KindHashIOError, Err: record.err})
	}

	if record.ok {
		entry.Digest = record.key.HexSum()
		w.index.record(record.key, identity, path)
	}
}

func identityOnStack(stack []FileIdentity, identity FileIdentity) bool {
	for _, ancestor := range stack {
		if ancestor == identity {
			return true
		}
	}

	return false
}

// walkDir traverses one directory: Pending work arrives here, the
// directory is listed, children are dispatched, and the node is
// returned only once every dispatched subtask has completed or failed.
// ancestors carries the identities of the directories above this one;
// each node builds its own copy so concurrent siblings never share a
// mutable stack. The returned error is non-nil only when the directory
// itself could not be listed.
func (w *walker) walkDir(ctx context.Context, path string, identity FileIdentity, ancestors []FileIdentity) (*DirNode, error) {
	node := &DirNode{Path: path}

	if ctx.Err() != nil {
		w.cancelled.Store(true)

		return node, nil
	}

	entries, entryErrs, err := readEntries(path)
	if err != nil {
		return node, err
	}

	node.Entries = entries
	node.Errors = entryErrs

	stack := make([]FileIdentity, len(ancestors)+1)
	copy(stack, ancestors)
	stack[len(ancestors)] = identity

	var (
		barrier sync.WaitGroup
		mu      sync.Mutex // guards node.Errors against concurrent hash workers
	)

	addError := func(scanErr *ScanError) {
		mu.Lock()
		node.Errors = append(node.Errors, scanErr)
		mu.Unlock()
	}

	type subdir struct {
		path     string
		identity FileIdentity
	}

	var subdirs []subdir

	for i := range node.Entries {
		entry := &node.Entries[i]
		full := filepath.Join(path, entry.Name)

		switch entry.Type {
		case TypeDir:
			subdirs = append(subdirs, subdir{path: full, identity: entry.Identity})

		case TypeRegular:
			w.fileCount.Add(1)
			w.byteCount.Add(entry.ApparentSize)

			if !w.hashable(entry) {
				break
			}

			if ctx.Err() != nil {
				w.cancelled.Store(true)

				break
			}

			w.dispatch(&barrier, func() {
				w.hashEntry(entry, full, addError)
			})

		case TypeSymlink:
			if !w.cfg.FollowSymlinks {
				break
			}

			target, err := os.Stat(full)
			if err != nil {
				kind := KindEntryUnreadable
				if errors.Is(err, fs.ErrNotExist) {
					kind = KindBrokenSymlink
				}

				addError(&ScanError{Path: full, Kind: kind, Err: err})

				break
			}

			switch {
			case target.IsDir():
				targetIdentity, _, _, ok := sysStat(target)
				if !ok {
					targetIdentity = syntheticIdentity()
				}

				if identityOnStack(stack, targetIdentity) {
					addError(&ScanError{Path: full, Kind: KindCycleDetected, Err: errSymlinkCycle})

					break
				}

				subdirs = append(subdirs, subdir{path: full, identity: targetIdentity})

			case target.Mode().IsRegular():
				resolved, err := filepath.EvalSymlinks(full)
				if err != nil {
					addError(&ScanError{Path: full, Kind: KindEntryUnreadable, Err: err})

					break
				}

				// Only in-tree targets join the index: no rollup counts
				// the bytes of an out-of-tree target, so a group built
				// from them would claim space the tree does not hold.
				// An in-tree target merges with its regular entry as an
				// alias through the shared identity.
				if !within(resolved, w.cfg.Root) {
					break
				}

				linked := newEntry(entry.Name, target)
				if !w.hashable(&linked) {
					break
				}

				if ctx.Err() != nil {
					w.cancelled.Store(true)

					break
				}

				w.dispatch(&barrier, func() {
					w.hashEntry(&linked, full, addError)
				})
			}
		}
	}

	node.Dirs = make([]*DirNode, len(subdirs))

	for i := range subdirs {
		if ctx.Err() != nil {
			w.cancelled.Store(true)

			break
		}

		slot, child := i, subdirs[i]

		w.dispatch(&barrier, func() {
			childNode, err := w.walkDir(ctx, child.path, child.identity, stack)
			if err != nil {
				childNode.Errors = append(childNode.Errors, &ScanError{
					Path: child.path,
					Kind: KindEntryUnreadable,
					Err:  err,
				})
			}

			node.Dirs[slot] = childNode
		})
	}

	barrier.Wait()

	// Compact slots whose dispatch was skipped by cancellation.
	dirs := node.Dirs[:0]

	for _, child := range node.Dirs {
		if child != nil {
			dirs = append(dirs, child)
		}
	}

	node.Dirs = dirs

	return node, nil
}
