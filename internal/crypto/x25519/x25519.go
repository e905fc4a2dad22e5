// Package x25519 wraps X25519 keypair generation, import/export and scalar
// multiplication behind a small KeyPair type. It is the sole asymmetric
// primitive the ratchet composes.
package x25519

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// Size is the length, in bytes, of both an X25519 scalar and an X25519
// point.
const Size = 32

// Format selects the wire/disk encoding used by Export and Import.
type Format int

const (
	// None is a placeholder used when no import/export is intended.
	None Format = iota
	Raw
	DER
	PEM
)

var (
	ErrInvalidKey      = errors.New("x25519: invalid key")
	ErrLowOrderPeerKey = errors.New("x25519: low-order or all-zero peer public key")
	ErrUnknownFormat   = errors.New("x25519: unknown format")
)

// KeyPair owns a 32-byte private scalar and its corresponding 32-byte public
// point. The invariant public == X25519_base_mult(private) holds for the
// lifetime of the value.
type KeyPair struct {
	priv *ecdh.PrivateKey
	pub  *ecdh.PublicKey
}

// Generate creates a fresh random X25519 keypair.
func Generate() (*KeyPair, error) {
	priv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("x25519: generate: %w", err)
	}
	return &KeyPair{priv: priv, pub: priv.PublicKey()}, nil
}

// LoadRaw accepts a raw 32-byte private scalar and 32-byte public point,
// verifying that the public point is in fact the base-point multiple of the
// private scalar before accepting them.
func LoadRaw(priv, pub []byte) (*KeyPair, error) {
	if len(priv) != Size || len(pub) != Size {
		return nil, ErrInvalidKey
	}
	pk, err := ecdh.X25519().NewPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	derived := pk.PublicKey().Bytes()
	if !bytesEqual(derived, pub) {
		return nil, fmt.Errorf("%w: public key does not match private scalar", ErrInvalidKey)
	}
	return &KeyPair{priv: pk, pub: pk.PublicKey()}, nil
}

// PrivateRaw returns the 32-byte private scalar.
func (k *KeyPair) PrivateRaw() []byte {
	return append([]byte(nil), k.priv.Bytes()...)
}

// PublicRaw returns the 32-byte public point.
func (k *KeyPair) PublicRaw() []byte {
	return append([]byte(nil), k.pub.Bytes()...)
}

// DeriveShared performs the X25519 scalar multiplication of this keypair's
// private scalar with peerPub. An all-zero result — the signature of a
// weak or low-order peer public key — is rejected.
func (k *KeyPair) DeriveShared(peerPub []byte) ([]byte, error) {
	if len(peerPub) != Size {
		return nil, ErrInvalidKey
	}
	pub, err := ecdh.X25519().NewPublicKey(peerPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	shared, err := k.priv.ECDH(pub)
	if err != nil {
		return nil, fmt.Errorf("x25519: ecdh: %w", err)
	}
	if isAllZero(shared) {
		return nil, ErrLowOrderPeerKey
	}
	return shared, nil
}

// Export encodes the public key in the requested format.
func (k *KeyPair) Export(format Format) ([]byte, error) {
	switch format {
	case Raw:
		return k.PublicRaw(), nil
	case DER:
		return x509.MarshalPKIXPublicKey(k.pub)
	case PEM:
		der, err := x509.MarshalPKIXPublicKey(k.pub)
		if err != nil {
			return nil, err
		}
		return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
	default:
		return nil, ErrUnknownFormat
	}
}

// ImportPublic decodes a peer's public key from the given format into its
// raw 32-byte form, suitable for DeriveShared.
func ImportPublic(format Format, data []byte) ([]byte, error) {
	switch format {
	case Raw:
		if len(data) != Size {
			return nil, ErrInvalidKey
		}
		return append([]byte(nil), data...), nil
	case DER:
		return parsePKIXX25519(data)
	case PEM:
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
		}
		return parsePKIXX25519(block.Bytes)
	default:
		return nil, ErrUnknownFormat
	}
}

func parsePKIXX25519(der []byte) ([]byte, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, ok := key.(*ecdh.PublicKey)
	if !ok || pub.Curve() != ecdh.X25519() {
		return nil, ErrInvalidKey
	}
	return pub.Bytes(), nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
