package attest

import (
	"crypto/x509"
	"fmt"

	"github.com/cloudflare/circl/sign/mldsa/mldsa65"
	"golang.org/x/crypto/ed25519"
)

// Identity names the signature algorithm behind an Attester, letting a peer
// public key be parsed and verified without knowing its concrete type ahead
// of time.
type Identity int64

const (
	invalidIdentity Identity = iota
	IdentityEd25519
	IdentityMLDSA
)

// Algorithm returns the Algorithm enum value naming this identity.
func (a Identity) Algorithm() Algorithm {
	switch a {
	case IdentityEd25519:
		return Ed25519Algorithm
	case IdentityMLDSA:
		return MLDSAAlgorithm
	default:
		return invalidAlgorithm
	}
}

func (a Identity) NewAttest() (Attester, error) {
	switch a {
	case IdentityEd25519:
		return NewEd25519()
	case IdentityMLDSA:
		return newMLDSA()
	default:
		return nil, fmt.Errorf("NewAttest: invalid identity: %d", a)
	}
}

func (a Identity) Verify(pub PublicKey, msg, sig []byte) bool {
	switch a {
	case IdentityEd25519:
		p, ok := pub.(*ed25519PublicKey)
		if !ok {
			return false
		}
		return ed25519.Verify(p.key, msg, sig)
	case IdentityMLDSA:
		p, ok := pub.(*mldsaPublicKey)
		if !ok {
			return false
		}
		return mldsa65.Verify(p.key, msg, nil, sig)
	default:
		return false
	}
}

func (a Identity) ParsePublicKey(remote []byte) (PublicKey, error) {
	switch a {
	case IdentityEd25519:
		pk, err := x509.ParsePKIXPublicKey(remote)
		if err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
		edPub, ok := pk.(ed25519.PublicKey)
		if !ok {
			return nil, ErrInvalidKey
		}
		return &ed25519PublicKey{key: edPub}, nil
	case IdentityMLDSA:
		mlPub, err := mldsa65.Scheme().UnmarshalBinaryPublicKey(remote)
		if err != nil {
			return nil, err
		}
		return &mldsaPublicKey{mlPub.(*mldsa65.PublicKey)}, nil
	default:
		return nil, fmt.Errorf("invalid identity: %d", a)
	}
}

// Load parses a raw, unwrapped private key for this identity's algorithm.
func (a Identity) Load(data []byte) (Attester, error) {
	switch a {
	case IdentityEd25519:
		key, err := x509.ParsePKCS8PrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parsing key: %w", err)
		}
		priv, ok := key.(ed25519.PrivateKey)
		if !ok {
			return nil, ErrInvalidKey
		}
		return &Ed25519{privateKey: priv, publicKey: priv.Public().(ed25519.PublicKey)}, nil
	case IdentityMLDSA:
		priv, err := mldsa65.Scheme().UnmarshalBinaryPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("parsing key: %w", err)
		}
		p := priv.(*mldsa65.PrivateKey)
		return &mlDSA{privateKey: p, publicKey: p.Public().(*mldsa65.PublicKey)}, nil
	default:
		return nil, fmt.Errorf("invalid identity: %d", a)
	}
}

func (a Identity) String() string {
	switch a {
	case IdentityEd25519:
		return "ed25519"
	case IdentityMLDSA:
		return "mldsa"
	default:
		return "invalid"
	}
}

func ParseIdentity(s string) (Identity, error) {
	switch s {
	case "ed25519":
		return IdentityEd25519, nil
	case "mldsa":
		return IdentityMLDSA, nil
	default:
		return invalidIdentity, fmt.Errorf("unknown identity: %s", s)
	}
}
