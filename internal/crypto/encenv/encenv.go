// Package encenv implements EncryptionEnv, a parameter-object facade around
// the AEAD primitives. It owns the key/iv/plaintext/ciphertext/tag buffers a
// single encrypt-or-decrypt call needs, and is used as scratch state inside
// the Double Ratchet rather than exposed as the core's public API (pure
// Seal/Open functions in internal/crypto/aead serve that role).
package encenv

import (
	"fmt"

	"github.com/ventra-chat/ventra/internal/crypto/aead"
	"github.com/ventra-chat/ventra/internal/crypto/keyenv"
)

// EncryptionEnv carries the buffers and chosen algorithm for one
// encryption or decryption operation.
type EncryptionEnv struct {
	Algorithm aead.Algorithm

	Key        []byte
	IV         []byte
	AuthTag    []byte
	Plaintext  []byte
	Ciphertext []byte
}

// New returns an EncryptionEnv configured for the given algorithm.
func New(algo aead.Algorithm) *EncryptionEnv {
	return &EncryptionEnv{Algorithm: algo}
}

// GenerateParameters fills Key and IV from a fresh KeyEnv(KeyIv) generator.
func (e *EncryptionEnv) GenerateParameters() error {
	ki := keyenv.NewKeyIv()
	ki.SetSizes(aead.KeySize, aead.IVSize)
	key, iv, err := ki.Generate()
	if err != nil {
		return err
	}
	e.Key, e.IV = key, iv
	return nil
}

// StartEncryption seals Plaintext under Key/IV, populating Ciphertext and
// AuthTag on success. On failure Plaintext is left untouched and no
// ciphertext is produced.
func (e *EncryptionEnv) StartEncryption() error {
	if err := e.validate(); err != nil {
		return err
	}
	ct, tag, err := aead.Seal(e.Algorithm, e.Key, e.IV, e.Plaintext)
	if err != nil {
		return fmt.Errorf("encenv: encrypt: %w", err)
	}
	e.Ciphertext, e.AuthTag = ct, tag
	return nil
}

// StartDecryption opens Ciphertext under Key/IV/AuthTag, populating
// Plaintext on success. On failure Plaintext is left untouched.
func (e *EncryptionEnv) StartDecryption() error {
	if len(e.Key) != aead.KeySize || len(e.IV) != aead.IVSize || len(e.AuthTag) != aead.TagSize {
		return aead.ErrAuthFailure
	}
	pt, err := aead.Open(e.Algorithm, e.Key, e.IV, e.Ciphertext, e.AuthTag)
	if err != nil {
		return err
	}
	e.Plaintext = pt
	return nil
}

func (e *EncryptionEnv) validate() error {
	if len(e.Key) != aead.KeySize {
		return aead.ErrInvalidKeySize
	}
	if len(e.IV) != aead.IVSize {
		return aead.ErrInvalidIVSize
	}
	if e.Plaintext == nil {
		return fmt.Errorf("encenv: plaintext not set")
	}
	return nil
}
