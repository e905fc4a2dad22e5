// Package rng draws cryptographically secure random bytes from the OS entropy
// pool. It is the single leaf every other crypto-core package depends on.
package rng

import (
	"crypto/rand"
	"fmt"
)

// Bytes returns n cryptographically secure random bytes. A failure to read
// from the OS entropy source is fatal for the caller's current operation.
func Bytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("rng: read entropy: %w", err)
	}
	return b, nil
}
