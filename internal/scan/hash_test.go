package scan

import (
	"crypto/sha256"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/cespare/xxhash/v2"
)

func writeFile(t *testing.T, dir, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("writing fixture %s: %v", name, err)
	}

	return path
}

func TestHashFileMatchesReferenceDigests(t *testing.T) {
	dir := t.TempDir()
	content := []byte("the quick brown fox jumps over the lazy dog\n")
	path := writeFile(t, dir, "fox.txt", content)

	key, err := hashFile(path, AlgoSHA256, int64(len(content)))
	if err != nil {
		t.Fatalf("hashFile(sha256): %v", err)
	}

	want := sha256.Sum256(content)
	if key.Sum != string(want[:]) {
		t.Errorf("sha256 digest mismatch: got %s", key.HexSum())
	}

	if key.Length != int64(len(content)) {
		t.Errorf("Length = %d, want %d", key.Length, len(content))
	}

	if key.Algo != AlgoSHA256 {
		t.Errorf("Algo = %q, want %q", key.Algo, AlgoSHA256)
	}

	key, err = hashFile(path, AlgoXXH64, int64(len(content)))
	if err != nil {
		t.Fatalf("hashFile(xxh64): %v", err)
	}

	ref := xxhash.New()
	ref.Write(content)

	if key.Sum != string(ref.Sum(nil)) {
		t.Errorf("xxh64 digest mismatch: got %s", key.HexSum())
	}
}

func TestHashFileAlgorithmsDiffer(t *testing.T) {
	dir := t.TempDir()
	content := []byte("same content, different algorithms")
	path := writeFile(t, dir, "f", content)

	keys := make(map[string]DigestKey)

	for _, algo := range Algorithms() {
		key, err := hashFile(path, algo, int64(len(content)))
		if err != nil {
			t.Fatalf("hashFile(%s): %v", algo, err)
		}

		if key.Algo != algo {
			t.Errorf("key.Algo = %q, want %q", key.Algo, algo)
		}

		keys[algo] = key
	}

	if keys[AlgoXXH64] == keys[AlgoSHA256] || keys[AlgoSHA256] == keys[AlgoBlake2b] {
		t.Error("keys from different algorithms must never be equal")
	}
}

func TestHashFileSizeMismatch(t *testing.T) {
	dir := t.TempDir()
	content := []byte("short")
	path := writeFile(t, dir, "f", content)

	key, err := hashFile(path, AlgoXXH64, int64(len(content))+100)
	if !errors.Is(err, errSizeChanged) {
		t.Fatalf("err = %v, want errSizeChanged", err)
	}

	// The key must carry the byte count actually read, not the hint.
	if key.Length != int64(len(content)) {
		t.Errorf("Length = %d, want %d", key.Length, len(content))
	}

	if key.Sum == "" {
		t.Error("key must still carry the digest on a size mismatch")
	}
}

func TestHashFileUnknownAlgorithm(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "f", []byte("x"))

	if _, err := hashFile(path, "md5", 1); err == nil {
		t.Fatal("expected error for unsupported algorithm")
	}
}

func TestHashFileMissing(t *testing.T) {
	if _, err := hashFile(filepath.Join(t.TempDir(), "nope"), AlgoXXH64, 0); err == nil {
		t.Fatal("expected error for missing file")
	}
}
