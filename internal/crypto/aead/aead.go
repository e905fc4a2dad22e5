// Package aead seals and opens payloads with AES-256-GCM or
// ChaCha20-Poly1305. No associated data is bound to either algorithm; the
// ratchet header travels outside the AEAD boundary (see pkg/ratchet).
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the key length required by both supported algorithms.
	KeySize = 32
	// IVSize is the nonce length required by both supported algorithms.
	// AES-GCM historically also saw 16-byte IVs in this codebase's earlier
	// revisions; 12 is normative going forward.
	IVSize = 12
	// TagSize is the authentication tag length produced by both algorithms.
	TagSize = 16
)

// Algorithm selects which AEAD construction an EncryptionEnv should use.
type Algorithm int

const (
	_ Algorithm = iota
	AES256GCM
	ChaCha20Poly1305
)

// ErrAuthFailure is returned whenever a ciphertext fails to authenticate.
// It deliberately carries no detail about *why* verification failed.
var ErrAuthFailure = errors.New("aead: authentication failed")

var (
	ErrInvalidKeySize = errors.New("aead: invalid key size")
	ErrInvalidIVSize  = errors.New("aead: invalid iv size")
)

// Seal encrypts plaintext under key/iv using algo, returning the ciphertext
// (same length as plaintext) and a detached 16-byte authentication tag.
func Seal(algo Algorithm, key, iv, plaintext []byte) (ciphertext, tag []byte, err error) {
	a, err := newAEAD(algo, key)
	if err != nil {
		return nil, nil, err
	}
	if len(iv) != IVSize {
		return nil, nil, ErrInvalidIVSize
	}

	sealed := a.Seal(nil, iv, plaintext, nil)
	ct := sealed[:len(plaintext)]
	tg := sealed[len(plaintext):]
	return ct, tg, nil
}

// Open decrypts ciphertext under key/iv/tag using algo. Any failure,
// including a malformed tag, is surfaced as ErrAuthFailure and no plaintext
// is returned.
func Open(algo Algorithm, key, iv, ciphertext, tag []byte) ([]byte, error) {
	a, err := newAEAD(algo, key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize {
		return nil, ErrInvalidIVSize
	}
	if len(tag) != TagSize {
		return nil, ErrAuthFailure
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	pt, err := a.Open(nil, iv, sealed, nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return pt, nil
}

func newAEAD(algo Algorithm, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKeySize
	}
	switch algo {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("aead: new aes cipher: %w", err)
		}
		gcm, err := cipher.NewGCMWithNonceSize(block, IVSize)
		if err != nil {
			return nil, fmt.Errorf("aead: new gcm: %w", err)
		}
		return gcm, nil
	case ChaCha20Poly1305:
		c, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("aead: new chacha20poly1305: %w", err)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("aead: unknown algorithm %d", algo)
	}
}
