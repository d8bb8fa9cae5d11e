package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/crypto/blake2b"
)

// Supported hash algorithm identifiers.
const (
	AlgoXXH64   = "xxh64"
	AlgoSHA256  = "sha256"
	AlgoBlake2b = "blake2b"
)

// DefaultAlgorithm is used when Config.Algorithm is empty.
const DefaultAlgorithm = AlgoXXH64

// hashChunkSize is the streaming read size. 32KB is a good disk-read
// standard and matches the pooled buffer length.
const hashChunkSize = 32 * 1024

// bufferPool recycles read buffers across hashing workers.
var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, hashChunkSize)

		return &b
	},
}

// errSizeChanged reports that a file's content length disagreed with
// its metadata-reported size, i.e. the file changed during the scan.
var errSizeChanged = errors.New("file size changed during scan")

// Algorithms lists the supported hash algorithm identifiers.
func Algorithms() []string {
	return []string{AlgoXXH64, AlgoSHA256, AlgoBlake2b}
}

// newDigest returns a fresh digest for the given algorithm identifier.
func newDigest(algo string) (hash.Hash, error) {
	switch algo {
	case AlgoXXH64:
		return xxhash.New(), nil
	case AlgoSHA256:
		return sha256.New(), nil
	case AlgoBlake2b:
		digest, err := blake2b.New256(nil)
		if err != nil {
			return nil, fmt.Errorf("creating blake2b digest: %w", err)
		}

		return digest, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q: must be one of %v", algo, Algorithms())
	}
}

// DigestKey is the duplicate-matching key: content digest plus the
// byte length actually read plus the algorithm that produced the
// digest. Two files of different length never share a key, and keys
// from different algorithms never mix within one run.
type DigestKey struct {
	// Length is the number of bytes actually read while hashing.
	Length int64 `json:"length"`
	// Algo is the algorithm identifier the digest was computed with.
	Algo string `json:"algo"`
	// Sum holds the raw digest bytes.
	Sum string `json:"-"`
}

// HexSum returns the digest as a hex string.
func (k DigestKey) HexSum() string {
	return hex.EncodeToString([]byte(k.Sum))
}

// hashFile streams the file at path in fixed-size chunks and returns
// its DigestKey. The key's Length is the byte count actually read;
// when that count disagrees with sizeHint the key is still returned,
// together with an error wrapping errSizeChanged, and the caller
// decides how to report the discrepancy.
func hashFile(path, algo string, sizeHint int64) (DigestKey, error) {
	file, err := os.Open(path)
	if err != nil {
		return DigestKey{}, fmt.Errorf("opening %q: %w", path, err)
	}
	defer file.Close()

	digest, err := newDigest(algo)
	if err != nil {
		return DigestKey{}, err
	}

	bufPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufPtr)

	read, err := io.CopyBuffer(digest, file, *bufPtr)
	if err != nil {
		return DigestKey{}, fmt.Errorf("reading %q: %w", path, err)
	}

	key := DigestKey{
		Length: read,
		Algo:   algo,
		Sum:    string(digest.Sum(nil)),
	}

	if read != sizeHint {
		return key, fmt.Errorf("%q: read %d bytes, metadata reported %d: %w", path, read, sizeHint, errSizeChanged)
	}

	return key, nil
}
