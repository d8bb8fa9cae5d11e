package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/duscan/duscan/internal/links"
	"github.com/duscan/duscan/internal/scan"
)

// runScan executes the engine with a progress indicator on stderr when
// attached to a terminal and not emitting JSON.
func runScan(ctx context.Context, cfg scan.Config, opts *options) (*scan.Outcome, error) {
	enableProgress := opts.output != "json" &&
		!opts.noProgress &&
		isatty.IsTerminal(os.Stderr.Fd())

	// Simple progress callback that prints directly to stderr
	var progressHook func(files, bytes int64)

	if enableProgress {
		// Hide cursor for in-place updates; restore on exit.
		fmt.Fprint(os.Stderr, "\033[?25l")
		defer fmt.Fprint(os.Stderr, "\033[?25h")

		progressHook = func(files, bytes int64) {
			msg := fmt.Sprintf("Scanning… %d files, %s",
				files, humanize.IBytes(uint64(bytes))) //nolint:gosec // Bytes is always positive
			fmt.Fprintf(os.Stderr, "\r\033[2K%s\r", msg)
		}
	}

	outcome, err := scan.Scan(ctx, cfg, progressHook)

	// Clear the status line
	if enableProgress {
		fmt.Fprint(os.Stderr, "\r\033[2K\r")
	}

	if err != nil {
		return nil, err
	}

	return outcome, nil
}

func runDang(ctx context.Context, root string, opts *options) error {
	dangling, err := links.Dangling(ctx, root)
	if err != nil {
		return fmt.Errorf("finding dangling symlinks: %w", err)
	}

	return printDang(dangling, opts)
}

func runLoops(ctx context.Context, root string, opts *options) error {
	cycles, err := links.Cycles(ctx, root)
	if err != nil {
		return fmt.Errorf("finding symlink cycles: %w", err)
	}

	return printLoops(cycles, opts)
}
