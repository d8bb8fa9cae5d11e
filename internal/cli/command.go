package cli

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/duscan/duscan/internal/scan"
)

// options holds the flag values shared across subcommands.
type options struct {
	output      string
	topN        int
	workers     int
	algorithm   string
	follow      bool
	minHashSize string
	noProgress  bool
}

var allowedOutputs = []string{"table", "json"}

// Execute runs the CLI with the provided version string.
func Execute(version string) error {
	return newRootCmd(version).Execute()
}

func newRootCmd(version string) *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:     "duscan",
		Version: version,
		Short:   "Analyze filetree space consumption and duplicate content",
		Long: heredoc.Doc(`
			duscan walks a directory subtree, measures space consumption per file
			and directory, and detects duplicate file content, so you can see
			where disk space is spent and how much is reclaimable.

			The analysis is strictly read-only: no file is ever modified, moved
			or deleted.
		`),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if !slices.Contains(allowedOutputs, opts.output) {
				return fmt.Errorf("invalid output format %q: must be one of %v", opts.output, allowedOutputs)
			}

			if opts.topN <= 0 {
				return errors.New("top must be positive")
			}

			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.output, "output", "o", "table", "Output format: table or json")
	flags.IntVarP(&opts.topN, "top", "t", 20, "Number of top results to display")
	flags.IntVarP(&opts.workers, "workers", "j", 0, "Worker count (0 = number of CPUs)")
	flags.BoolVar(&opts.noProgress, "no-progress", false, "Disable the progress indicator")

	root.AddCommand(
		newScanCmd(opts),
		newTopCmd(opts),
		newDupsCmd(opts),
		newDangCmd(opts),
		newLoopsCmd(opts),
	)

	return root
}

// rootArg returns the positional root path, defaulting to the current
// directory.
func rootArg(args []string) string {
	if len(args) == 0 {
		return "."
	}

	return args[0]
}

// engineConfig maps flag values onto the engine's configuration.
func (o *options) engineConfig(args []string) (scan.Config, error) {
	cfg := scan.Config{
		Root:           rootArg(args),
		Algorithm:      o.algorithm,
		FollowSymlinks: o.follow,
		Workers:        o.workers,
		TopN:           o.topN,
	}

	if o.minHashSize != "" {
		size, err := humanize.ParseBytes(o.minHashSize)
		if err != nil {
			return cfg, fmt.Errorf("invalid min-hash-size: %w", err)
		}

		cfg.MinHashSize = int64(size) //nolint:gosec // Size conversion from humanize is safe
	}

	return cfg, cfg.Validate()
}

func addHashFlags(cmd *cobra.Command, opts *options) {
	cmd.Flags().StringVarP(&opts.algorithm, "algo", "a", scan.DefaultAlgorithm,
		fmt.Sprintf("Content hash algorithm: one of %v", scan.Algorithms()))
	cmd.Flags().StringVar(&opts.minHashSize, "min-hash-size", "0B",
		"Skip hashing files below this size (e.g. 4KB); they never join duplicate groups")
	cmd.Flags().BoolVarP(&opts.follow, "follow-symlinks", "L", false,
		"Descend into symlinked directories (cycles are detected and reported)")
}

func newScanCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan [path]",
		Short: "Full analysis: sizes, rollups and duplicate groups",
		Long: heredoc.Doc(`
			Walk the tree, aggregate apparent, allocated and dedup-adjusted
			sizes for every directory, and report duplicate groups sorted by
			reclaimable space.
		`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.engineConfig(args)
			if err != nil {
				return err
			}

			outcome, err := runScan(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}

			return printScan(outcome, opts)
		},
	}

	addHashFlags(cmd, opts)

	return cmd
}

func newTopCmd(opts *options) *cobra.Command {
	var files bool

	cmd := &cobra.Command{
		Use:   "top [path]",
		Short: "Largest directories (or files) by apparent size",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.engineConfig(args)
			if err != nil {
				return err
			}

			// Size reporting only; skip all content hashing.
			cfg.MinHashSize = math.MaxInt64

			outcome, err := runScan(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}

			return printTop(outcome, opts, files)
		},
	}

	cmd.Flags().BoolVarP(&files, "files", "f", false, "Report files instead of directories")
	cmd.Flags().BoolVarP(&opts.follow, "follow-symlinks", "L", false,
		"Descend into symlinked directories (cycles are detected and reported)")

	return cmd
}

func newDupsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dups [path]",
		Short: "Duplicate groups sorted by reclaimable space",
		Long: heredoc.Doc(`
			Report groups of files with identical content but independent
			storage. Hard links to the same storage are listed as aliases of a
			single group member and never counted as reclaimable.
		`),
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.engineConfig(args)
			if err != nil {
				return err
			}

			outcome, err := runScan(cmd.Context(), cfg, opts)
			if err != nil {
				return err
			}

			return printDups(outcome, opts)
		},
	}

	addHashFlags(cmd, opts)

	return cmd
}

func newDangCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "dang [path]",
		Short: "Dangling symlinks (targets that no longer exist)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDang(cmd.Context(), rootArg(args), opts)
		},
	}
}

func newLoopsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "loops [path]",
		Short: "Symlink cycles",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoops(cmd.Context(), rootArg(args), opts)
		},
	}
}
