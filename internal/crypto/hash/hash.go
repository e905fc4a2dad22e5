// Package hash provides the two digest algorithms the crypto core uses:
// BLAKE2b-512 and BLAKE2s-256. Both are deterministic and side-effect free.
package hash

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/blake2s"
)

// Algorithm selects which BLAKE2 variant Digest computes.
type Algorithm int

const (
	_ Algorithm = iota
	BLAKE2b512
	BLAKE2s256
)

// Digest hashes input with the chosen algorithm.
func Digest(algo Algorithm, input []byte) ([]byte, error) {
	switch algo {
	case BLAKE2b512:
		sum := blake2b.Sum512(input)
		return sum[:], nil
	case BLAKE2s256:
		sum := blake2s.Sum256(input)
		return sum[:], nil
	default:
		return nil, fmt.Errorf("hash: unknown algorithm %d", algo)
	}
}
