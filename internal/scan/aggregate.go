package scan

import (
	"path/filepath"
	"sort"
	"strings"
)

// DirStat is one directory path with its apparent subtree size.
type DirStat struct {
	// Path is the directory path.
	Path string `json:"path"`
	// ApparentTotal is the directory's aggregated apparent size.
	ApparentTotal int64 `json:"apparent_total"`
}

// Summary holds the global results of a scan.
type Summary struct {
	// TotalApparent is the root's apparent total.
	TotalApparent int64 `json:"total_apparent"`
	// TotalAllocated is the root's allocated total.
	TotalAllocated int64 `json:"total_allocated"`
	// TotalDedup is the root's dedup-adjusted total.
	TotalDedup int64 `json:"total_dedup"`
	// TotalReclaimable is the space freed by collapsing every
	// duplicate group to a single copy.
	TotalReclaimable int64 `json:"total_reclaimable"`
	// FileCount is the number of regular files scanned.
	FileCount int64 `json:"file_count"`
	// DirCount is the number of directories scanned, root included.
	DirCount int64 `json:"dir_count"`
	// GroupCount is the number of duplicate groups found.
	GroupCount int64 `json:"group_count"`
	// ErrorCount is the number of scan errors recorded.
	ErrorCount int64 `json:"error_count"`
	// TopDirs lists the N largest directories by apparent size.
	TopDirs []DirStat `json:"top_dirs"`
}

// aggregate computes every DirNode's rollup and the global summary.
// It is a pure bottom-up fold: commutative and associative over
// children, so sibling completion order never affects the result, and
// no filesystem access happens here.
func aggregate(root *DirNode, groups []DuplicateGroup, topN int) Summary {
	redundancy := attributeRedundancy(root.Path, groups)
	fold(root, redundancy)

	var (
		summary Summary
		dirs    []DirStat
	)

	collectDirs(root, &dirs)
	sort.Slice(dirs, func(i, j int) bool {
		if dirs[i].ApparentTotal != dirs[j].ApparentTotal {
			return dirs[i].ApparentTotal > dirs[j].ApparentTotal
		}

		return dirs[i].Path < dirs[j].Path
	})

	if len(dirs) > topN {
		dirs = dirs[:topN]
	}

	for _, group := range groups {
		summary.TotalReclaimable += group.Reclaimable
	}

	summary.TotalApparent = root.Rollup.ApparentTotal
	summary.TotalAllocated = root.Rollup.AllocatedTotal
	summary.TotalDedup = root.Rollup.DedupTotal
	summary.FileCount = root.Rollup.FileCount
	summary.DirCount = root.Rollup.DirCount + 1
	summary.GroupCount = int64(len(groups))
	summary.ErrorCount = root.Rollup.ErrorCount
	summary.TopDirs = dirs

	return summary
}

// attributeRedundancy maps each duplicate group's redundant bytes to
// the nearest common ancestor directory of all its member paths, so a
// group straddling multiple subtrees is subtracted exactly once.
func attributeRedundancy(root string, groups []DuplicateGroup) map[string]int64 {
	redundancy := make(map[string]int64, len(groups))

	for _, group := range groups {
		var paths []string
		for _, member := range group.Members {
			paths = append(paths, member.Paths...)
		}

		ancestor := commonAncestor(paths)
		if !within(ancestor, root) {
			ancestor = root
		}

		redundancy[ancestor] += group.Reclaimable
	}

	return redundancy
}

// within reports whether path equals dir or sits below it.
func within(path, dir string) bool {
	if dir == string(filepath.Separator) {
		return strings.HasPrefix(path, dir)
	}

	return path == dir || strings.HasPrefix(path, dir+string(filepath.Separator))
}

// commonAncestor returns the deepest directory containing every path.
func commonAncestor(paths []string) string {
	if len(paths) == 0 {
		return ""
	}

	ancestor := filepath.Dir(paths[0])

	for _, path := range paths[1:] {
		dir := filepath.Dir(path)
		for !within(dir, ancestor) {
			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				break
			}

			ancestor = parent
		}
	}

	return ancestor
}

// fold recomputes a subtree's rollup bottom-up and returns it together
// with the redundant bytes accumulated in the subtree.
func fold(node *DirNode, redundancy map[string]int64) (Rollup, int64) {
	var rollup Rollup

	for i := range node.Entries {
		entry := &node.Entries[i]
		if entry.Type == TypeDir {
			// Subtree sizes come from the traversed child node.
			continue
		}

		rollup.ApparentTotal += entry.ApparentSize
		rollup.AllocatedTotal += entry.AllocatedSize

		if entry.Type == TypeRegular {
			rollup.FileCount++
		}
	}

	rollup.ErrorCount = int64(len(node.Errors))
	redundant := redundancy[node.Path]

	for _, child := range node.Dirs {
		childRollup, childRedundant := fold(child, redundancy)

		rollup.ApparentTotal += childRollup.ApparentTotal
		rollup.AllocatedTotal += childRollup.AllocatedTotal
		rollup.FileCount += childRollup.FileCount
		rollup.DirCount += childRollup.DirCount + 1
		rollup.ErrorCount += childRollup.ErrorCount
		redundant += childRedundant
	}

	rollup.DedupTotal = rollup.ApparentTotal - redundant
	node.Rollup = rollup

	return rollup, redundant
}

func collectDirs(node *DirNode, out *[]DirStat) {
	*out = append(*out, DirStat{Path: node.Path, ApparentTotal: node.Rollup.ApparentTotal})

	for _, child := range node.Dirs {
		collectDirs(child, out)
	}
}

// collectErrors gathers every ScanError in the tree, sorted by path
// for deterministic reporting.
func collectErrors(node *DirNode) []*ScanError {
	var errs []*ScanError

	var walk func(*DirNode)
	walk = func(n *DirNode) {
		errs = append(errs, n.Errors...)
		for _, child := range n.Dirs {
			walk(child)
		}
	}
	walk(node)

	sort.SliceStable(errs, func(i, j int) bool {
		return errs[i].Path < errs[j].Path
	})

	return errs
}
