// Package ratchet implements the Double Ratchet session machine: a
// stateful protocol combining X25519 Diffie-Hellman agreement with a rolling
// KDF chain and AEAD-sealed payloads to give a two-party message stream
// forward secrecy and post-compromise security.
//
// A DoubleRatchet is not safe for concurrent use; callers must serialise
// access to a single session (a mutex or actor), the same way a caller must
// serialise access to any other single-threaded state machine. The
// stateless primitives it composes (internal/crypto/aead, hash, kdf, rng,
// x25519) are pure and may be called concurrently from multiple sessions.
package ratchet

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ventra-chat/ventra/internal/crypto/aead"
	"github.com/ventra-chat/ventra/internal/crypto/encenv"
	"github.com/ventra-chat/ventra/internal/crypto/kdf"
	"github.com/ventra-chat/ventra/internal/crypto/keyenv"
	"github.com/ventra-chat/ventra/internal/crypto/x25519"
)

const (
	keySize = 32

	infoInitialRootKey = "InitialRootKey"
	infoSendChainStep  = "SendChainStep"
	infoDHRatchetStep  = "DH-Ratchet-Update"

	// maxMessageKeys bounds the receive-side skipped-key cache. When full,
	// the numerically smallest sequence number is evicted first. The
	// source left this unbounded; see DESIGN.md open question #6.
	maxMessageKeys = 1024
)

// fixedSalt is the 16-byte salt used to derive the initial root key from the
// handshake shared secret: the bytes 0x00..0x0F.
var fixedSalt = func() []byte {
	s := make([]byte, 16)
	for i := range s {
		s[i] = byte(i)
	}
	return s
}()

var (
	ErrInvalidKey       = errors.New("ratchet: invalid key")
	ErrMalformedPackage = errors.New("ratchet: malformed package")
	ErrAuthFailure      = aead.ErrAuthFailure
	ErrCorruptState     = errors.New("ratchet: corrupt state")
	ErrInternal         = errors.New("ratchet: internal invariant violated")
)

// DoubleRatchet is the protocol state machine. It owns its RatchetState, its
// own X25519 keypair container, and transient AEAD scratch buffers.
type DoubleRatchet struct {
	state  *RatchetState
	ownKey *keyenv.X25519Keypair
}

// Init generates a fresh own keypair and derives the initial session state
// against peerPub. The resulting session is the Initiator side.
func Init(peerPub []byte) (*DoubleRatchet, error) {
	ownKey := keyenv.NewX25519Keypair()
	if err := ownKey.GenerateOrLoad(true, nil); err != nil {
		return nil, err
	}
	d := &DoubleRatchet{
		state:  &RatchetState{SessionRole: RoleInitiator},
		ownKey: ownKey,
	}
	if err := d.adoptOwnKey(); err != nil {
		return nil, err
	}
	if err := d.initNewSession(peerPub); err != nil {
		return nil, err
	}
	return d, nil
}

// FollowInit adopts a caller-supplied X25519 KeyEnv whose public half has
// already been advertised to the peer out of band, then derives the initial
// session state against peerPub. The resulting session is the Responder
// side.
func FollowInit(ownKey *keyenv.X25519Keypair, peerPub []byte) (*DoubleRatchet, error) {
	if ownKey == nil {
		return nil, fmt.Errorf("%w: nil key env", ErrInvalidKey)
	}
	d := &DoubleRatchet{
		state:  &RatchetState{SessionRole: RoleResponder},
		ownKey: ownKey,
	}
	if err := d.adoptOwnKey(); err != nil {
		return nil, err
	}
	if err := d.initNewSession(peerPub); err != nil {
		return nil, err
	}
	return d, nil
}

// Existing restores a DoubleRatchet from a previously captured snapshot.
// The snapshot's key slots and message keys are checked for length before it
// is adopted; the counters are not checked. A malformed snapshot yields
// ErrCorruptState.
func Existing(state *RatchetState) (*DoubleRatchet, error) {
	if err := validateState(state); err != nil {
		return nil, err
	}
	cp := state.clone()

	ownKey := keyenv.NewX25519Keypair()
	if err := ownKey.GenerateOrLoad(false, &keyenv.LoadParams{
		PubFormat:  x25519.Raw,
		PubRaw:     cp.OwnPub,
		PrivFormat: x25519.Raw,
		PrivRaw:    cp.OwnPriv,
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	return &DoubleRatchet{state: cp, ownKey: ownKey}, nil
}

func (d *DoubleRatchet) adoptOwnKey() error {
	kp, err := d.ownKey.KeyPair()
	if err != nil {
		return err
	}
	d.state.OwnPriv = kp.PrivateRaw()
	d.state.OwnPub = kp.PublicRaw()
	return nil
}

// initNewSession derives the shared secret against peerPub and seeds the
// root/send/recv chains from it, resetting counters and the message-key
// cache.
func (d *DoubleRatchet) initNewSession(peerPub []byte) error {
	kp, err := d.ownKey.KeyPair()
	if err != nil {
		return err
	}
	shared, err := kp.DeriveShared(peerPub)
	if err != nil {
		return err
	}

	root, err := kdf.Expand(shared, fixedSalt, []byte(infoInitialRootKey), keySize)
	if err != nil {
		return err
	}

	d.state.PeerPub = append([]byte(nil), peerPub...)
	d.state.SharedSecret = shared
	d.state.RootKey = root
	d.state.SendChainKey = append([]byte(nil), root...)
	d.state.RecvChainKey = append([]byte(nil), root...)
	d.state.SendMsgNum = 0
	d.state.RecvMsgNum = 0
	d.state.MessageKeys = make(map[uint32][]byte)
	return nil
}

// OwnPubKey returns the session's current own public key.
func (d *DoubleRatchet) OwnPubKey() []byte {
	return append([]byte(nil), d.state.OwnPub...)
}

// Snapshot returns a value copy of the current session state, suitable for
// durable storage via Serialize.
func (d *DoubleRatchet) Snapshot() *RatchetState {
	return d.state.clone()
}

// symmetricRatchetStep advances the send chain, deriving and caching the
// next message key under the current send sequence number.
func (d *DoubleRatchet) symmetricRatchetStep() ([]byte, error) {
	if len(d.state.SendChainKey) != keySize {
		return nil, fmt.Errorf("%w: send chain key not initialised", ErrInternal)
	}
	if len(d.state.SharedSecret) != keySize {
		return nil, fmt.Errorf("%w: shared secret not initialised", ErrInternal)
	}

	out, err := kdf.Expand(d.state.SendChainKey, d.state.SharedSecret, []byte(infoSendChainStep), 64)
	if err != nil {
		return nil, err
	}
	newChain, msgKey := out[:32], out[32:]

	d.state.SendChainKey = newChain
	d.storeMessageKey(d.state.SendMsgNum, msgKey)
	d.state.SendMsgNum++
	return msgKey, nil
}

// receiveSymmetricRatchetStep reproduces the exact derivation
// symmetricRatchetStep performs, storing the resulting key under seq rather
// than the sender's own counter. It deliberately keys off SendChainKey, not
// RecvChainKey — both sides of the protocol are symmetric users of the same
// chain key for a given epoch; see DESIGN.md open question #1.
func (d *DoubleRatchet) receiveSymmetricRatchetStep(seq uint32) error {
	if len(d.state.SendChainKey) != keySize {
		return fmt.Errorf("%w: send chain key not initialised", ErrInternal)
	}
	if len(d.state.SharedSecret) != keySize {
		return fmt.Errorf("%w: shared secret not initialised", ErrInternal)
	}

	out, err := kdf.Expand(d.state.SendChainKey, d.state.SharedSecret, []byte(infoSendChainStep), 64)
	if err != nil {
		return err
	}
	newChain, msgKey := out[:32], out[32:]

	d.state.SendChainKey = newChain
	d.storeMessageKey(seq, msgKey)
	return nil
}

func (d *DoubleRatchet) storeMessageKey(seq uint32, key []byte) {
	d.state.MessageKeys[seq] = append([]byte(nil), key...)
	if len(d.state.MessageKeys) <= maxMessageKeys {
		return
	}
	var smallest uint32
	first := true
	for k := range d.state.MessageKeys {
		if first || k < smallest {
			smallest, first = k, false
		}
	}
	delete(d.state.MessageKeys, smallest)
}

// asymmetricRatchetStep performs a DH ratchet transition: a new own keypair
// is generated, the shared secret is recomputed against newPeerPub, the root
// key is re-derived, send/recv chains are reseeded from it, and both message
// counters reset to zero.
func (d *DoubleRatchet) asymmetricRatchetStep(newPeerPub []byte) error {
	if len(newPeerPub) != keySize {
		return fmt.Errorf("%w: peer public key must be 32 bytes", ErrInvalidKey)
	}

	newOwn := keyenv.NewX25519Keypair()
	if err := newOwn.GenerateOrLoad(true, nil); err != nil {
		return err
	}
	kp, err := newOwn.KeyPair()
	if err != nil {
		return err
	}

	shared, err := kp.DeriveShared(newPeerPub)
	if err != nil {
		return err
	}

	newRoot, err := kdf.Expand(d.state.RootKey, shared, []byte(infoDHRatchetStep), keySize)
	if err != nil {
		return err
	}

	d.ownKey = newOwn
	d.state.OwnPriv = kp.PrivateRaw()
	d.state.OwnPub = kp.PublicRaw()
	d.state.PeerPub = append([]byte(nil), newPeerPub...)
	d.state.SharedSecret = shared
	d.state.RootKey = newRoot
	d.state.SendChainKey = append([]byte(nil), newRoot...)
	d.state.RecvChainKey = append([]byte(nil), newRoot...)
	d.state.SendMsgNum = 0
	d.state.RecvMsgNum = 0
	return nil
}

// PackEncMessage derives the next send-chain message key, seals plaintext
// under a fresh random IV, and returns the header-prefixed opaque package.
// It returns a nil slice (never a partially-built package) on error.
func (d *DoubleRatchet) PackEncMessage(plaintext []byte) ([]byte, error) {
	env := encenv.New(aead.AES256GCM)
	if err := env.GenerateParameters(); err != nil {
		return nil, err
	}
	// Only the IV from this draw is used; the message key comes from the
	// chain, substituted below. See DESIGN.md open question #2.
	msgKey, err := d.symmetricRatchetStep()
	if err != nil {
		return nil, err
	}
	// The sender uses its key once, here. Left in MessageKeys it would be
	// picked up for the peer's next message with the same sequence number.
	delete(d.state.MessageKeys, d.state.SendMsgNum-1)
	env.Key = msgKey
	env.Plaintext = plaintext

	if err := env.StartEncryption(); err != nil {
		return nil, err
	}

	if len(env.IV) != 12 || len(env.AuthTag) != 16 || len(d.state.OwnPub) != 32 || len(d.state.PeerPub) != 32 {
		return nil, fmt.Errorf("%w: invalid header element sizes", ErrInternal)
	}

	hdr := header{
		IV:            [12]byte(env.IV),
		AuthTag:       [16]byte(env.AuthTag),
		SenderPub:     [32]byte(d.state.OwnPub),
		ReceiverPub:   [32]byte(d.state.PeerPub),
		SendMsgNum:    d.state.SendMsgNum - 1,
		MessageLength: uint32(len(plaintext)),
	}

	pkg := make([]byte, 0, headerLen+len(env.Ciphertext))
	pkg = append(pkg, encodeHeader(hdr)...)
	pkg = append(pkg, env.Ciphertext...)
	return pkg, nil
}

// UnpackDecMessage parses the header from pkg, performs an asymmetric
// ratchet step if the sender's public key has changed, derives (or reuses)
// the message key for the carried sequence number, and authenticates and
// decrypts the ciphertext.
func (d *DoubleRatchet) UnpackDecMessage(pkg []byte) ([]byte, error) {
	if len(pkg) < minPackageLen {
		return nil, ErrMalformedPackage
	}
	hdr, ciphertext, err := decodeHeader(pkg)
	if err != nil {
		return nil, err
	}
	if int(hdr.MessageLength) != len(ciphertext) {
		return nil, ErrMalformedPackage
	}

	if !bytes.Equal(hdr.SenderPub[:], d.state.PeerPub) {
		if err := d.asymmetricRatchetStep(hdr.SenderPub[:]); err != nil {
			return nil, err
		}
	}

	msgKey, ok := d.state.MessageKeys[hdr.SendMsgNum]
	if !ok {
		if err := d.receiveSymmetricRatchetStep(hdr.SendMsgNum); err != nil {
			return nil, err
		}
		msgKey, ok = d.state.MessageKeys[hdr.SendMsgNum]
		if !ok {
			return nil, fmt.Errorf("%w: message key missing after derivation", ErrInternal)
		}
	}

	env := encenv.New(aead.AES256GCM)
	env.Key = msgKey
	env.IV = hdr.IV[:]
	env.Ciphertext = ciphertext
	env.AuthTag = hdr.AuthTag[:]
	if err := env.StartDecryption(); err != nil {
		return nil, ErrAuthFailure
	}

	delete(d.state.MessageKeys, hdr.SendMsgNum)
	d.state.RecvMsgNum++
	return env.Plaintext, nil
}
