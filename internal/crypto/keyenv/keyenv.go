// Package keyenv implements the typed key-material container the ratchet
// draws IVs and X25519 keypairs from. It is a Go sum type over two variants:
// a KeyIv generator and an X25519Keypair holder, mirroring the discriminated
// KeyEnv of the C++ original while replacing its "optional, absent until
// generated" field with an explicit loaded/unloaded state.
package keyenv

import (
	"errors"
	"fmt"

	"github.com/ventra-chat/ventra/internal/crypto/rng"
	"github.com/ventra-chat/ventra/internal/crypto/x25519"
)

var (
	// ErrPrecondition is returned when an operation is attempted before its
	// required setup step has run.
	ErrPrecondition = errors.New("keyenv: precondition not met")
)

// KeyIv generates a key and an IV of independently configurable sizes. Sizes
// must be set with SetSizes before Generate is called.
type KeyIv struct {
	keyLen, ivLen int
	sizesSet      bool
}

// NewKeyIv returns an empty KeyIv generator; call SetSizes before Generate.
func NewKeyIv() *KeyIv {
	return &KeyIv{}
}

// SetSizes configures the key and IV lengths to be generated.
func (k *KeyIv) SetSizes(keyLen, ivLen int) {
	k.keyLen, k.ivLen = keyLen, ivLen
	k.sizesSet = true
}

// Generate fills a fresh random key and IV of the configured sizes.
func (k *KeyIv) Generate() (key, iv []byte, err error) {
	if !k.sizesSet {
		return nil, nil, fmt.Errorf("%w: sizes not set", ErrPrecondition)
	}
	key, err = rng.Bytes(k.keyLen)
	if err != nil {
		return nil, nil, err
	}
	iv, err = rng.Bytes(k.ivLen)
	if err != nil {
		return nil, nil, err
	}
	return key, iv, nil
}

// X25519Keypair holds an X25519 keypair that is absent until GenerateOrLoad
// has been called exactly once.
type X25519Keypair struct {
	kp *x25519.KeyPair
}

// NewX25519Keypair returns an unloaded X25519Keypair container.
func NewX25519Keypair() *X25519Keypair {
	return &X25519Keypair{}
}

// LoadParams describes a caller-supplied keypair to adopt instead of
// generating a fresh one.
type LoadParams struct {
	PubFormat  x25519.Format
	PubRaw     []byte
	PrivFormat x25519.Format
	PrivRaw    []byte
}

// GenerateOrLoad produces a fresh keypair when generate is true, or loads
// one from params otherwise. It may be called exactly once per container.
func (x *X25519Keypair) GenerateOrLoad(generate bool, params *LoadParams) error {
	if x.kp != nil {
		return fmt.Errorf("%w: keypair already generated or loaded", ErrPrecondition)
	}
	if generate {
		kp, err := x25519.Generate()
		if err != nil {
			return err
		}
		x.kp = kp
		return nil
	}
	if params == nil {
		return fmt.Errorf("%w: load params required when generate is false", ErrPrecondition)
	}
	pub, err := x25519.ImportPublic(params.PubFormat, params.PubRaw)
	if err != nil {
		return err
	}
	if params.PrivFormat != x25519.Raw {
		return fmt.Errorf("%w: only raw private key import is supported", ErrPrecondition)
	}
	kp, err := x25519.LoadRaw(params.PrivRaw, pub)
	if err != nil {
		return err
	}
	x.kp = kp
	return nil
}

// KeyPair returns the generated/loaded keypair. It is only valid to call
// after a successful GenerateOrLoad.
func (x *X25519Keypair) KeyPair() (*x25519.KeyPair, error) {
	if x.kp == nil {
		return nil, fmt.Errorf("%w: key pair not generated or loaded", ErrPrecondition)
	}
	return x.kp, nil
}
