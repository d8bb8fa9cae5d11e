package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/duscan/duscan/internal/links"
	"github.com/duscan/duscan/internal/scan"
)

const (
	// TabSpacing is the number of spaces between tabwriter columns.
	TabSpacing = 2
)

// scanReport is the JSON shape for the scan and dups subcommands. The
// full directory tree is omitted; the summary, groups and errors carry
// everything the reports render.
type scanReport struct {
	Summary   scan.Summary          `json:"summary"`
	Groups    []scan.DuplicateGroup `json:"groups"`
	Errors    []*scan.ScanError     `json:"errors"`
	Cancelled bool                  `json:"cancelled,omitempty"`
}

func printJSON(value any, writer io.Writer) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	if _, err := fmt.Fprintln(writer, string(data)); err != nil {
		return err
	}

	return nil
}

func pct(part, total int64) float64 {
	if total <= 0 {
		return 0
	}

	return 100.0 * float64(part) / float64(total)
}

func ibytes(n int64) string {
	if n < 0 {
		return fmt.Sprintf("%d B", n)
	}

	return humanize.IBytes(uint64(n))
}

// printScan outputs the full analysis report.
//
//nolint:forbidigo // This function prints output to the console.
func printScan(outcome *scan.Outcome, opts *options) error {
	if opts.output == "json" {
		return printJSON(scanReport{
			Summary:   outcome.Summary,
			Groups:    outcome.Groups,
			Errors:    outcome.Errors,
			Cancelled: outcome.Cancelled,
		}, os.Stdout)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, TabSpacing, ' ', 0)
	summary := outcome.Summary

	fmt.Fprintln(w, "\nTop directories:\t\t")
	writeDirRows(w, summary.TopDirs, summary.TotalApparent)

	writeGroupRows(w, outcome.Groups, opts.topN)

	fmt.Fprintln(w, "\nStats:\t\t")
	fmt.Fprintf(w, "Total files:\t%d\n", summary.FileCount)
	fmt.Fprintf(w, "Total directories:\t%d\n", summary.DirCount)
	fmt.Fprintf(w, "Apparent size:\t%s (%d bytes)\n", ibytes(summary.TotalApparent), summary.TotalApparent)
	fmt.Fprintf(w, "Allocated size:\t%s (%d bytes)\n", ibytes(summary.TotalAllocated), summary.TotalAllocated)
	fmt.Fprintf(w, "Dedup-adjusted size:\t%s (%d bytes)\n", ibytes(summary.TotalDedup), summary.TotalDedup)
	fmt.Fprintf(w, "Reclaimable:\t%s in %d groups\n", ibytes(summary.TotalReclaimable), summary.GroupCount)

	if summary.ErrorCount > 0 {
		fmt.Fprintf(w, "Errors:\t%d\n", summary.ErrorCount)
	}

	if outcome.Cancelled {
		fmt.Fprintln(w, "Scan cancelled; results are partial.\t")
	}

	fmt.Fprintf(w, "\nElapsed:\t%v\n", outcome.Elapsed)

	return w.Flush()
}

// writeDirRows renders directory rows smallest first, numbered so the
// largest carries rank 1 at the bottom of the list.
func writeDirRows(w io.Writer, dirs []scan.DirStat, total int64) {
	for i := len(dirs) - 1; i >= 0; i-- {
		dir := dirs[i]
		fmt.Fprintf(w, "  %d) '%s'\t%s (%.1f%%)\n",
			i+1, dir.Path, ibytes(dir.ApparentTotal), pct(dir.ApparentTotal, total))
	}
}

func writeGroupRows(w io.Writer, groups []scan.DuplicateGroup, topN int) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "\nNo duplicate groups found.\t")

		return
	}

	shown := groups
	if len(shown) > topN {
		shown = shown[:topN]
	}

	fmt.Fprintln(w, "\nTop duplicate groups:\t\t")

	for i, group := range shown {
		fmt.Fprintf(w, "  %d) %s × %d copies\treclaimable %s\n",
			i+1, ibytes(group.Key.Length), len(group.Members), ibytes(group.Reclaimable))

		for _, member := range group.Members {
			for j, path := range member.Paths {
				if j == 0 {
					fmt.Fprintf(w, "     - %s\t\n", path)
				} else {
					fmt.Fprintf(w, "       = %s (hard link)\t\n", path)
				}
			}
		}
	}
}

// printTop outputs the largest directories, or files with files set.
//
//nolint:forbidigo // This function prints output to the console.
func printTop(outcome *scan.Outcome, opts *options, files bool) error {
	summary := outcome.Summary

	if files {
		top := topFiles(outcome.Root, opts.topN)

		if opts.output == "json" {
			return printJSON(top, os.Stdout)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, TabSpacing, ' ', 0)

		fmt.Fprintln(w, "\nTop files:\t\t")
		writeDirRows(w, top, summary.TotalApparent)
		fmt.Fprintf(w, "\nElapsed:\t%v\n", outcome.Elapsed)

		return w.Flush()
	}

	if opts.output == "json" {
		return printJSON(summary.TopDirs, os.Stdout)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, TabSpacing, ' ', 0)

	fmt.Fprintln(w, "\nTop directories:\t\t")
	writeDirRows(w, summary.TopDirs, summary.TotalApparent)
	fmt.Fprintf(w, "\nElapsed:\t%v\n", outcome.Elapsed)

	return w.Flush()
}

// topFiles collects the n largest regular files from the scanned tree.
func topFiles(root *scan.DirNode, n int) []scan.DirStat {
	var files []scan.DirStat

	var walk func(*scan.DirNode)
	walk = func(node *scan.DirNode) {
		for i := range node.Entries {
			entry := &node.Entries[i]
			if entry.Type != scan.TypeRegular {
				continue
			}

			files = append(files, scan.DirStat{
				Path:          node.Path + string(os.PathSeparator) + entry.Name,
				ApparentTotal: entry.ApparentSize,
			})
		}

		for _, child := range node.Dirs {
			walk(child)
		}
	}
	walk(root)

	sort.Slice(files, func(i, j int) bool {
		if files[i].ApparentTotal != files[j].ApparentTotal {
			return files[i].ApparentTotal > files[j].ApparentTotal
		}

		return files[i].Path < files[j].Path
	})

	if len(files) > n {
		files = files[:n]
	}

	return files
}

// printDups outputs duplicate groups only.
//
//nolint:forbidigo // This function prints output to the console.
func printDups(outcome *scan.Outcome, opts *options) error {
	if opts.output == "json" {
		return printJSON(scanReport{
			Summary:   outcome.Summary,
			Groups:    outcome.Groups,
			Errors:    outcome.Errors,
			Cancelled: outcome.Cancelled,
		}, os.Stdout)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, TabSpacing, ' ', 0)

	writeGroupRows(w, outcome.Groups, opts.topN)
	fmt.Fprintf(w, "\nReclaimable:\t%s in %d groups\n",
		ibytes(outcome.Summary.TotalReclaimable), outcome.Summary.GroupCount)
	fmt.Fprintf(w, "Elapsed:\t%v\n", outcome.Elapsed)

	return w.Flush()
}

// printDang outputs dangling symlinks, one per line.
//
//nolint:forbidigo // This function prints output to the console.
func printDang(dangling []links.Link, opts *options) error {
	if opts.output == "json" {
		return printJSON(dangling, os.Stdout)
	}

	for _, link := range dangling {
		fmt.Printf("%s -> %s\n", link.Path, link.Target)
	}

	return nil
}

// printLoops outputs symlink cycle groups separated by blank lines.
//
//nolint:forbidigo // This function prints output to the console.
func printLoops(cycles [][]string, opts *options) error {
	if opts.output == "json" {
		return printJSON(cycles, os.Stdout)
	}

	for _, group := range cycles {
		for _, path := range group {
			fmt.Println(path)
		}

		fmt.Println()
	}

	return nil
}
