package scan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func mkdir(t *testing.T, dir, name string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("creating %s: %v", name, err)
	}

	return path
}

// pattern produces deterministic, non-repeating content of n bytes.
func pattern(seed byte, n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = seed + byte(i%251)
	}

	return buf
}

func TestScanEndToEnd(t *testing.T) {
	root := t.TempDir()

	const (
		bigSize    = 64 * 1024
		uniqueSize = 32 * 1024
	)

	big := pattern(1, bigSize)

	writeFile(t, mkdir(t, root, "a"), "big.bin", big)
	writeFile(t, mkdir(t, root, "b"), "big_copy.bin", big)
	writeFile(t, mkdir(t, root, "c"), "unique.bin", pattern(2, uniqueSize))

	outcome, err := Scan(context.Background(), Config{Root: root}, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(outcome.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", outcome.Errors)
	}

	if len(outcome.Groups) != 1 {
		t.Fatalf("got %d duplicate groups, want 1", len(outcome.Groups))
	}

	group := outcome.Groups[0]
	if len(group.Members) != 2 {
		t.Errorf("group members = %d, want 2", len(group.Members))
	}

	if group.Reclaimable != bigSize {
		t.Errorf("Reclaimable = %d, want %d", group.Reclaimable, bigSize)
	}

	wantApparent := int64(2*bigSize + uniqueSize)
	if outcome.Summary.TotalApparent != wantApparent {
		t.Errorf("TotalApparent = %d, want %d", outcome.Summary.TotalApparent, wantApparent)
	}

	if want := wantApparent - bigSize; outcome.Summary.TotalDedup != want {
		t.Errorf("TotalDedup = %d, want %d", outcome.Summary.TotalDedup, want)
	}

	// The straddling group's redundancy lands on the root, so the two
	// holding directories keep their full totals.
	for _, dir := range outcome.Root.Dirs {
		if dir.Rollup.DedupTotal != dir.Rollup.ApparentTotal {
			t.Errorf("%s: DedupTotal = %d, want %d", dir.Path, dir.Rollup.DedupTotal, dir.Rollup.ApparentTotal)
		}
	}

	assertChildSums(t, outcome.Root)
}

func TestScanHardLinksAreNotDuplicates(t *testing.T) {
	root := t.TempDir()
	content := pattern(3, 8*1024)

	path := writeFile(t, root, "original", content)
	if err := os.Link(path, filepath.Join(root, "linked")); err != nil {
		t.Skipf("hard links unsupported here: %v", err)
	}

	outcome, err := Scan(context.Background(), Config{Root: root}, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(outcome.Groups) != 0 {
		t.Fatalf("hard links alone formed a group: %+v", outcome.Groups)
	}

	if outcome.Summary.TotalReclaimable != 0 {
		t.Errorf("TotalReclaimable = %d, want 0", outcome.Summary.TotalReclaimable)
	}

	// Each path's listing still counts its apparent size.
	if want := int64(2 * len(content)); outcome.Summary.TotalApparent != want {
		t.Errorf("TotalApparent = %d, want %d", outcome.Summary.TotalApparent, want)
	}
}

func TestScanHardLinkJoinsExistingGroupOnce(t *testing.T) {
	root := t.TempDir()
	content := pattern(4, 4*1024)

	first := writeFile(t, mkdir(t, root, "x"), "first", content)
	if err := os.Link(first, filepath.Join(root, "x", "first_link")); err != nil {
		t.Skipf("hard links unsupported here: %v", err)
	}

	writeFile(t, mkdir(t, root, "y"), "second", content)

	outcome, err := Scan(context.Background(), Config{Root: root}, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(outcome.Groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(outcome.Groups))
	}

	group := outcome.Groups[0]
	if len(group.Members) != 2 {
		t.Fatalf("got %d members, want 2 (hard link must not add a third)", len(group.Members))
	}

	var aliasPaths int

	for _, member := range group.Members {
		aliasPaths += len(member.Paths)
	}

	if aliasPaths != 3 {
		t.Errorf("total member paths = %d, want 3", aliasPaths)
	}

	if want := int64(len(content)); group.Reclaimable != want {
		t.Errorf("Reclaimable = %d, want %d", group.Reclaimable, want)
	}
}

func TestScanSymlinksOutsideRootAreNotDuplicates(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()

	content := pattern(9, 16*1024)
	x := writeFile(t, outside, "x", content)
	y := writeFile(t, outside, "y", content)

	if err := os.Symlink(x, filepath.Join(root, "lx")); err != nil {
		t.Skipf("symlinks unsupported here: %v", err)
	}

	if err := os.Symlink(y, filepath.Join(root, "ly")); err != nil {
		t.Fatalf("creating symlink: %v", err)
	}

	outcome, err := Scan(context.Background(), Config{Root: root, FollowSymlinks: true}, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	// The targets' bytes live outside the tree and appear in no
	// rollup, so they must not form a group or count as reclaimable.
	if len(outcome.Groups) != 0 {
		t.Fatalf("out-of-tree targets formed a group: %+v", outcome.Groups)
	}

	if outcome.Summary.TotalReclaimable != 0 {
		t.Errorf("TotalReclaimable = %d, want 0", outcome.Summary.TotalReclaimable)
	}

	if outcome.Summary.TotalDedup < 0 {
		t.Errorf("TotalDedup = %d, must not be negative", outcome.Summary.TotalDedup)
	}

	if outcome.Summary.TotalDedup != outcome.Summary.TotalApparent {
		t.Errorf("TotalDedup = %d, want apparent total %d",
			outcome.Summary.TotalDedup, outcome.Summary.TotalApparent)
	}
}

func TestScanSymlinkToFileInTreeMergesAsAlias(t *testing.T) {
	root := t.TempDir()
	content := pattern(11, 8*1024)

	target := writeFile(t, mkdir(t, root, "sub"), "data", content)
	if err := os.Symlink(target, filepath.Join(root, "link")); err != nil {
		t.Skipf("symlinks unsupported here: %v", err)
	}

	writeFile(t, root, "copy", content)

	outcome, err := Scan(context.Background(), Config{Root: root, FollowSymlinks: true}, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(outcome.Groups) != 1 {
		t.Fatalf("got %d groups, want 1", len(outcome.Groups))
	}

	group := outcome.Groups[0]
	if len(group.Members) != 2 {
		t.Fatalf("got %d members, want 2 (the symlink must not add a third)", len(group.Members))
	}

	var aliasPaths int

	for _, member := range group.Members {
		aliasPaths += len(member.Paths)
	}

	if aliasPaths != 3 {
		t.Errorf("total member paths = %d, want 3", aliasPaths)
	}

	// One physical copy is redundant; the link itself holds no bytes.
	if want := int64(len(content)); group.Reclaimable != want {
		t.Errorf("Reclaimable = %d, want %d", group.Reclaimable, want)
	}
}

func TestScanWorkerCountInvariance(t *testing.T) {
	root := t.TempDir()

	dup := pattern(5, 16*1024)
	writeFile(t, mkdir(t, root, "d1"), "a.bin", dup)
	writeFile(t, mkdir(t, filepath.Join(root, "d1"), "nested"), "b.bin", dup)
	writeFile(t, mkdir(t, root, "d2"), "c.bin", dup)
	writeFile(t, root, "solo.bin", pattern(6, 9000))

	for _, name := range []string{"e1", "e2", "e3"} {
		writeFile(t, mkdir(t, root, name), "filler.bin", pattern(7, 3000))
	}

	serial, err := Scan(context.Background(), Config{Root: root, Workers: 1}, nil)
	if err != nil {
		t.Fatalf("Scan(workers=1): %v", err)
	}

	parallel, err := Scan(context.Background(), Config{Root: root, Workers: 8}, nil)
	if err != nil {
		t.Fatalf("Scan(workers=8): %v", err)
	}

	if !reflect.DeepEqual(serial.Summary, parallel.Summary) {
		t.Errorf("summaries differ:\n  1: %+v\n  8: %+v", serial.Summary, parallel.Summary)
	}

	if !reflect.DeepEqual(serial.Groups, parallel.Groups) {
		t.Errorf("groups differ:\n  1: %+v\n  8: %+v", serial.Groups, parallel.Groups)
	}
}

func TestScanSymlinkCycleDetected(t *testing.T) {
	root := t.TempDir()
	sub := mkdir(t, root, "a")
	writeFile(t, sub, "file.bin", pattern(8, 2048))

	if err := os.Symlink(root, filepath.Join(sub, "loop")); err != nil {
		t.Skipf("symlinks unsupported here: %v", err)
	}

	done := make(chan *Outcome, 1)

	go func() {
		outcome, err := Scan(context.Background(), Config{Root: root, FollowSymlinks: true}, nil)
		if err != nil {
			t.Errorf("Scan: %v", err)
		}

		done <- outcome
	}()

	var outcome *Outcome

	select {
	case outcome = <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("scan did not terminate on a symlink cycle")
	}

	if outcome == nil {
		t.FailNow()
	}

	var cycles int

	for _, scanErr := range outcome.Errors {
		if scanErr.Kind == KindCycleDetected {
			cycles++
		}
	}

	if cycles != 1 {
		t.Fatalf("got %d cycle-detected errors, want exactly 1", cycles)
	}
}

func TestScanBrokenSymlink(t *testing.T) {
	root := t.TempDir()

	if err := os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "dangling")); err != nil {
		t.Skipf("symlinks unsupported here: %v", err)
	}

	outcome, err := Scan(context.Background(), Config{Root: root, FollowSymlinks: true}, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(outcome.Errors) != 1 || outcome.Errors[0].Kind != KindBrokenSymlink {
		t.Fatalf("errors = %v, want one broken-symlink", outcome.Errors)
	}
}

func TestScanMinHashSizeSkipsSmallFiles(t *testing.T) {
	root := t.TempDir()
	content := bytes.Repeat([]byte("tiny"), 4)

	writeFile(t, root, "small1", content)
	writeFile(t, root, "small2", content)

	outcome, err := Scan(context.Background(), Config{Root: root, MinHashSize: 1024}, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	if len(outcome.Groups) != 0 {
		t.Fatalf("below-threshold files joined a group: %+v", outcome.Groups)
	}

	// They still count toward sizes.
	if want := int64(2 * len(content)); outcome.Summary.TotalApparent != want {
		t.Errorf("TotalApparent = %d, want %d", outcome.Summary.TotalApparent, want)
	}
}

func TestScanRootUnreadable(t *testing.T) {
	_, err := Scan(context.Background(), Config{Root: filepath.Join(t.TempDir(), "missing")}, nil)
	if err == nil {
		t.Fatal("expected fatal error for missing root")
	}

	var scanErr *ScanError
	if !errors.As(err, &scanErr) || scanErr.Kind != KindRootUnreadable {
		t.Fatalf("err = %v, want root-unreadable ScanError", err)
	}
}

func TestScanRootNotADirectory(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "plain", []byte("x"))

	_, err := Scan(context.Background(), Config{Root: path}, nil)

	var scanErr *ScanError
	if !errors.As(err, &scanErr) || scanErr.Kind != KindRootUnreadable {
		t.Fatalf("err = %v, want root-unreadable ScanError", err)
	}
}

func TestScanCancellation(t *testing.T) {
	root := t.TempDir()

	for _, name := range []string{"a", "b", "c"} {
		dir := mkdir(t, root, name)
		for i := 0; i < 20; i++ {
			writeFile(t, dir, string(rune('a'+i)), pattern(byte(i), 2048))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := Scan(ctx, Config{Root: root}, nil)
	if err != nil {
		t.Fatalf("Scan on cancelled context must return partial outcome, got %v", err)
	}

	if !outcome.Cancelled {
		t.Error("Cancelled = false, want true")
	}

	var found bool

	for _, scanErr := range outcome.Errors {
		if scanErr.Kind == KindCancelled {
			found = true
		}
	}

	if !found {
		t.Error("expected a cancelled scan error")
	}

	// Whatever completed must still satisfy the rollup invariant.
	assertChildSums(t, outcome.Root)
}

func TestScanCancellationMidScan(t *testing.T) {
	root := t.TempDir()

	// Wide enough that the first progress tick lands while hashing is
	// still in flight.
	for i := 0; i < 48; i++ {
		dir := mkdir(t, root, fmt.Sprintf("d%02d", i))
		for j := 0; j < 32; j++ {
			writeFile(t, dir, fmt.Sprintf("f%02d", j), pattern(byte(i+j), 4096))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		once        sync.Once
		cancelledAt atomic.Int64
	)

	hook := func(int64, int64) {
		once.Do(func() {
			cancelledAt.Store(time.Now().UnixNano())
			cancel()
		})
	}

	type result struct {
		outcome *Outcome
		err     error
	}

	done := make(chan result, 1)

	go func() {
		outcome, err := Scan(ctx, Config{Root: root, ProgressInterval: time.Millisecond}, hook)
		done <- result{outcome, err}
	}()

	var res result

	select {
	case res = <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("scan did not return after mid-scan cancellation")
	}

	if res.err != nil {
		t.Fatalf("Scan: %v", res.err)
	}

	if cancelledAt.Load() == 0 {
		t.Fatal("scan finished before the first progress tick; fixture too small to cancel mid-flight")
	}

	if waited := time.Since(time.Unix(0, cancelledAt.Load())); waited > 5*time.Second {
		t.Errorf("scan took %v to wind down after cancellation", waited)
	}

	if !res.outcome.Cancelled {
		t.Error("Cancelled = false, want true")
	}

	// Whatever subtrees completed must still satisfy the rollup
	// invariant.
	assertChildSums(t, res.outcome.Root)
}

func TestScanUnknownAlgorithm(t *testing.T) {
	if _, err := Scan(context.Background(), Config{Root: t.TempDir(), Algorithm: "crc32"}, nil); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}
