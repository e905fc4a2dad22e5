// Package kdf implements the HKDF-Extract-then-Expand construction over
// SHA3-512 used at every ratchet derivation step.
package kdf

import (
	"crypto/sha3"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Expand derives outLen bytes from secret, bound to salt and info, using
// HKDF over SHA3-512. It is deterministic in all three inputs.
func Expand(secret, salt, info []byte, outLen int) ([]byte, error) {
	r := hkdf.New(sha3.New512, secret, salt, info)
	out := make([]byte, outLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("kdf: expand: %w", err)
	}
	return out, nil
}
