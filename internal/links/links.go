// Package links provides flat symlink audits over a directory tree:
// dangling links whose targets no longer exist, and link cycles that
// eventually resolve back onto themselves.
package links

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"

	"github.com/duscan/duscan/internal/scan"
)

// Link is one symlink with its raw target as stored on disk.
type Link struct {
	// Path is the symlink's own path.
	Path string `json:"path"`
	// Target is the link's target, which may be relative.
	Target string `json:"target"`
}

// normalize resolves target lexically against the directory holding
// the link, without touching the filesystem. A filesystem resolve
// would follow further links, which is exactly what cycle chasing must
// do one hop at a time.
func normalize(dir, target string) string {
	if filepath.IsAbs(target) {
		return filepath.Clean(target)
	}

	return filepath.Join(dir, target)
}

// collect walks the tree in parallel and returns every symlink found.
// Unreadable entries are skipped, matching the best-effort semantics
// of the scan engine's non-fatal errors.
func collect(ctx context.Context, root string) ([]Link, error) {
	var (
		mu  sync.Mutex
		out []Link
	)

	conf := &fastwalk.Config{Follow: false}

	err := fastwalk.Walk(conf, root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}

		select {
		case <-ctx.Done():
			return context.Canceled
		default:
		}

		if d.Type()&fs.ModeSymlink == 0 {
			return nil
		}

		target, err := os.Readlink(path)
		if err != nil {
			return nil //nolint:nilerr // Link vanished mid-walk; skip it
		}

		mu.Lock()
		out = append(out, Link{Path: path, Target: target})
		mu.Unlock()

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })

	return out, nil
}

// Dangling returns every symlink under root whose target does not
// exist, sorted by path.
func Dangling(ctx context.Context, root string) ([]Link, error) {
	all, err := collect(ctx, root)
	if err != nil {
		return nil, err
	}

	var dangling []Link

	for _, link := range all {
		if _, err := os.Stat(link.Path); errors.Is(err, fs.ErrNotExist) {
			dangling = append(dangling, link)
		}
	}

	return dangling, nil
}

// Cycles returns groups of symlinks under root that resolve back onto
// a path already visited while chasing them. Links are grouped by the
// identity they cycle on; groups and members are sorted.
func Cycles(ctx context.Context, root string) ([][]string, error) {
	all, err := collect(ctx, root)
	if err != nil {
		return nil, err
	}

	byIdentity := make(map[scan.FileIdentity][]string)

	for _, link := range all {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if identity, found := cyclingIdentity(link.Path); found {
			byIdentity[identity] = append(byIdentity[identity], link.Path)
		}
	}

	groups := make([][]string, 0, len(byIdentity))

	for _, paths := range byIdentity {
		sort.Strings(paths)
		groups = append(groups, paths)
	}

	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })

	return groups, nil
}

// cyclingIdentity chases the link at path, through further links and
// directory contents, until a previously visited identity reappears
// or the frontier is exhausted. Dangling targets along the way are
// ignored; for cycle finding they are dead ends, not loops.
func cyclingIdentity(path string) (scan.FileIdentity, bool) {
	visited := make(map[scan.FileIdentity]struct{})
	frontier := []string{path}

	for len(frontier) > 0 {
		current := frontier[len(frontier)-1]
		frontier = frontier[:len(frontier)-1]

		info, err := os.Lstat(current)
		if err != nil {
			continue
		}

		identity, ok := scan.IdentityOf(info)
		if !ok {
			continue
		}

		if _, seen := visited[identity]; seen {
			return identity, true
		}

		visited[identity] = struct{}{}

		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(current)
			if err != nil {
				continue
			}

			frontier = append(frontier, normalize(filepath.Dir(current), target))

		case info.IsDir():
			children, err := os.ReadDir(current)
			if err != nil {
				continue
			}

			for _, child := range children {
				frontier = append(frontier, filepath.Join(current, child.Name()))
			}
		}
	}

	return scan.FileIdentity{}, false
}
