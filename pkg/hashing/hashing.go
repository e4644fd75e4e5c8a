// Package hashing computes several digests over one byte stream in a single pass.
package hashing

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

const (
	SHA512 = "sha512"
	SHA256 = "sha256"
	SHA1   = "sha1"
	MD5    = "md5"
)

// Algorithms are ordered from the strongest to the weakest; verification tries them in this order.
var Algorithms = []string{SHA512, SHA256, SHA1, MD5}

// Length is the hex length of a digest, used to left-pad hashes Gradle stored without leading zeros.
func Length(algorithm string) int {
	switch algorithm {
	case SHA512:
		return 128
	case SHA256:
		return 64
	case SHA1:
		return 40
	case MD5:
		return 32
	}
	return 0
}

func IsAlgorithm(s string) bool {
	return Length(s) > 0
}

type Hasher struct {
	Algorithm string
	h         hash.Hash
}

func NewHasher(algorithm string) (*Hasher, error) {
	var h hash.Hash
	switch algorithm {
	case SHA512:
		h = sha512.New()
	case SHA256:
		h = sha256.New()
	case SHA1:
		h = sha1.New()
	case MD5:
		h = md5.New()
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
	return &Hasher{Algorithm: algorithm, h: h}, nil
}

func (h *Hasher) Write(p []byte) (int, error) {
	return h.h.Write(p)
}

// Hash returns the lowercase hex digest of everything written so far.
func (h *Hasher) Hash() string {
	return hex.EncodeToString(h.h.Sum(nil))
}

// Hashers is a set of hashers fed together.
type Hashers []*Hasher

func New(algorithms ...string) (Hashers, error) {
	if len(algorithms) == 0 {
		algorithms = Algorithms
	}
	hs := make(Hashers, 0, len(algorithms))
	for _, a := range algorithms {
		h, err := NewHasher(a)
		if err != nil {
			return nil, err
		}
		hs = append(hs, h)
	}
	return hs, nil
}

// Writer returns a writer feeding every hasher.
func (hs Hashers) Writer() io.Writer {
	ws := make([]io.Writer, len(hs))
	for i, h := range hs {
		ws[i] = h
	}
	return io.MultiWriter(ws...)
}

func (hs Hashers) Get(algorithm string) (*Hasher, bool) {
	for _, h := range hs {
		if h.Algorithm == algorithm {
			return h, true
		}
	}
	return nil, false
}

// Without drops the given algorithms, keeping order.
func (hs Hashers) Without(algorithms ...string) Hashers {
	out := make(Hashers, 0, len(hs))
outer:
	for _, h := range hs {
		for _, a := range algorithms {
			if h.Algorithm == a {
				continue outer
			}
		}
		out = append(out, h)
	}
	return out
}

// Reset discards everything written so far, used when a download restarts.
func (hs Hashers) Reset() {
	for _, h := range hs {
		h.h.Reset()
	}
}

// Sums maps algorithm to hex digest.
func (hs Hashers) Sums() map[string]string {
	out := make(map[string]string, len(hs))
	for _, h := range hs {
		out[h.Algorithm] = h.Hash()
	}
	return out
}

// Copy streams r into w while hashing, returning the number of bytes copied.
func Copy(w io.Writer, r io.Reader, hs Hashers) (int64, error) {
	return io.Copy(io.MultiWriter(w, hs.Writer()), r)
}

// File hashes a file on disk with the given algorithms (all when none given).
func File(path string, algorithms ...string) (Hashers, error) {
	hs, err := New(algorithms...)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := io.Copy(hs.Writer(), f); err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hs, nil
}

// FileHash is a shortcut for a single algorithm.
func FileHash(path, algorithm string) (string, error) {
	hs, err := File(path, algorithm)
	if err != nil {
		return "", err
	}
	return hs[0].Hash(), nil
}

// PadHash left-pads a hex digest with zeros to the full algorithm length.
func PadHash(hash, algorithm string) string {
	n := Length(algorithm)
	for len(hash) < n {
		hash = "0" + hash
	}
	return hash
}
