// Package keyhash maps cache keys to fixed-length, filesystem-safe names.
//
// Keys such as asset titles may contain separators, spaces, or characters that
// are not valid in file names. A Hasher digests the key and returns the
// lowercase hex encoding, which is stable across processes and platforms.
package keyhash

import (
	"crypto/md5" //nolint:gosec // legacy file names only, not used for integrity
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/hex"
	"errors"

	digest "github.com/opencontainers/go-digest"
)

// Hasher derives an on-disk name from a cache key.
// Implementations must be deterministic and safe for concurrent use.
type Hasher interface {
	// Sum returns the lowercase hex digest of key.
	Sum(key string) string
}

// ErrUnavailable is returned when the requested digest algorithm is not
// linked into the binary.
var ErrUnavailable = errors.New("digest algorithm unavailable")

// Default hashes keys with SHA-256 (64 hex characters).
var Default Hasher = algorithmHasher{alg: digest.SHA256}

// MD5 reproduces the md5(key) file names written by earlier versions of the
// asset cache. It exists so those directories stay readable; prefer Default
// for new namespaces.
var MD5 Hasher = md5Hasher{}

type algorithmHasher struct {
	alg digest.Algorithm
}

// New returns a Hasher backed by the given go-digest algorithm.
func New(alg digest.Algorithm) (Hasher, error) {
	if !alg.Available() {
		return nil, ErrUnavailable
	}
	return algorithmHasher{alg: alg}, nil
}

// Sum implements Hasher.
func (h algorithmHasher) Sum(key string) string {
	return h.alg.FromString(key).Encoded()
}

// String returns the algorithm name.
func (h algorithmHasher) String() string {
	return h.alg.String()
}

type md5Hasher struct{}

// Sum implements Hasher.
func (md5Hasher) Sum(key string) string {
	sum := md5.Sum([]byte(key)) //nolint:gosec // see MD5
	return hex.EncodeToString(sum[:])
}

func (md5Hasher) String() string {
	return "md5"
}

// Parse returns the Hasher registered under name. Accepted names are "md5"
// and any go-digest algorithm ("sha256", "sha384", "sha512"). An empty name
// selects Default.
func Parse(name string) (Hasher, error) {
	switch name {
	case "":
		return Default, nil
	case "md5":
		return MD5, nil
	}
	return New(digest.Algorithm(name))
}

// Valid reports whether s looks like output of a Hasher: non-empty lowercase
// hex with no path separators.
func Valid(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return false
		}
	}
	return true
}
