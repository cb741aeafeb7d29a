// Package hash implements the streaming content hasher used to compute a
// file's internal hash and its set of content-addressed URIs, the way
// pkg/blob computes a Camlistore blobref from a running hash.Hash.
package hash

import (
	"crypto/sha1"
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"
)

// Limits mirrored from the original EFS_ALGO_SIZE / EFS_HASH_SIZE
// constants: the maximum length of the algorithm name and hex digest
// accepted in a "<algo>:<hex>" URI.
const (
	MaxAlgoLen = 31
	MaxHexLen  = 255
)

// CanonicalAlgo is the algorithm used for a submission's internal,
// content-addressed storage path.
const CanonicalAlgo = "sha256"

// URI is a parsed "<algo>:<hex>" content reference.
type URI struct {
	Algo string
	Hex  string
}

// String renders the URI in canonical "<algo>:<hex>" form.
func (u URI) String() string {
	return u.Algo + ":" + u.Hex
}

// Valid reports whether u has a non-empty algorithm and hex digest
// within the size limits.
func (u URI) Valid() bool {
	return u.Algo != "" && u.Hex != "" && len(u.Algo) <= MaxAlgoLen && len(u.Hex) <= MaxHexLen
}

// Parse parses s as a "<algo>:<hex>" URI. It does not require the
// algorithm to be one this binary knows how to hash; unrecognized
// algorithms round-trip fine as opaque URIs (e.g. when mirroring blobs
// hashed by a peer with an algorithm we don't have registered).
func Parse(s string) (URI, bool) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return URI{}, false
	}
	u := URI{Algo: s[:i], Hex: s[i+1:]}
	if !u.Valid() {
		return URI{}, false
	}
	if !isHex(u.Hex) {
		return URI{}, false
	}
	return u, true
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// newHashFunc constructs the hash.Hash for a known algorithm name.
// algoOrder lists the algorithms hashed for every submission, canonical
// one first, so Hasher.End returns the internal hash's URI in slot 0.
var algoOrder = []string{CanonicalAlgo, "sha1"}

func newHashFunc(algo string) hash.Hash {
	switch algo {
	case "sha256":
		return sha256.New()
	case "sha1":
		return sha1.New()
	}
	panic(fmt.Sprintf("hash: unregistered algorithm %q", algo))
}
