package hash

import (
	"encoding/hex"
	"hash"
)

// Hasher streams bytes through every registered algorithm at once and,
// once finalized, yields the submission's full URI set plus its
// canonical internal hash. It is a multi-writer analogue of a single
// blob.Ref's newHash(), generalized to the multiple simultaneous
// algorithms the pull path needs to recognize a peer's declared URI
// regardless of which algorithm the peer used.
type Hasher struct {
	algos  []string
	hashes []hash.Hash
	ended  bool
}

// New creates a Hasher that computes every algorithm in algoOrder
// (canonical algorithm first). The type argument is accepted for
// symmetry with the meta-parser registry (EFSHasherCreate(type) in the
// original); this implementation hashes the same algorithm set
// regardless of declared MIME type.
func New(_ string) *Hasher {
	h := &Hasher{
		algos:  append([]string(nil), algoOrder...),
		hashes: make([]hash.Hash, len(algoOrder)),
	}
	for i, a := range h.algos {
		h.hashes[i] = newHashFunc(a)
	}
	return h
}

// Write feeds buf to every underlying hash. It never fails.
func (h *Hasher) Write(buf []byte) (int, error) {
	for _, hh := range h.hashes {
		hh.Write(buf) //nolint:errcheck // hash.Hash.Write never errors
	}
	return len(buf), nil
}

// End finalizes the hasher, returning the full URI set (canonical
// algorithm first) and the hex digest used for content-addressed
// storage under the canonical algorithm.
func (h *Hasher) End() (uris []URI, internalHash string) {
	h.ended = true
	uris = make([]URI, len(h.algos))
	for i, a := range h.algos {
		uris[i] = URI{Algo: a, Hex: hex.EncodeToString(h.hashes[i].Sum(nil))}
	}
	internalHash = uris[0].Hex
	return uris, internalHash
}
