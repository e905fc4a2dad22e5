package kamune

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ventra-chat/ventra/internal/enigma"
	"github.com/ventra-chat/ventra/pkg/attest"
	"github.com/ventra-chat/ventra/pkg/ratchet"
)

var (
	ErrConnClosed         = errors.New("connection has been closed")
	ErrInvalidSignature   = errors.New("invalid signature")
	ErrVerificationFailed = errors.New("verification failed")
	ErrMessageTooLarge    = errors.New("message is too large")
	ErrOutOfSync          = errors.New("peers are out of sync")
	ErrUnexpectedRoute    = errors.New("unexpected route received")
	ErrInvalidRoute       = errors.New("invalid route")
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionExpired     = errors.New("session has expired")
)

// SessionPhase represents the current phase of a session.
type SessionPhase int

const (
	PhaseInvalid SessionPhase = iota
	PhaseIntroduction
	PhaseHandshakeRequested
	PhaseHandshakeAccepted
	PhaseChallengeSent
	PhaseChallengeVerified
	PhaseRatchetInitialized
	PhaseEstablished
	PhaseClosed
)

// String returns the string representation of the session phase.
func (p SessionPhase) String() string {
	switch p {
	case PhaseIntroduction:
		return "Introduction"
	case PhaseHandshakeRequested:
		return "HandshakeRequested"
	case PhaseHandshakeAccepted:
		return "HandshakeAccepted"
	case PhaseChallengeSent:
		return "ChallengeSent"
	case PhaseChallengeVerified:
		return "ChallengeVerified"
	case PhaseRatchetInitialized:
		return "RatchetInitialized"
	case PhaseEstablished:
		return "Established"
	case PhaseClosed:
		return "Closed"
	default:
		return "Invalid"
	}
}

// signedTransport is the plaintext wire envelope every route-dispatched
// message travels in, before ratchet or static-key encryption is applied.
// It replaces the old protobuf SignedTransport message with a JSON frame.
type signedTransport struct {
	Data      []byte    `json:"data"`
	Signature []byte    `json:"signature"`
	Metadata  *wireMeta `json:"metadata"`
	Route     Route     `json:"route"`
	Padding   []byte    `json:"padding,omitempty"`
}

type wireMeta struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Sequence  uint64 `json:"sequence"`
}

// plainTransport handles unencrypted message serialization and deserialization.
type plainTransport struct {
	conn     *Conn
	attest   attest.Attester
	remote   attest.PublicKey
	id       attest.Identifier
	storage  *Storage
	sent     atomic.Uint64
	received atomic.Uint64
}

func newPlainTransport(
	conn *Conn,
	remote attest.PublicKey,
	at attest.Attester,
	storage *Storage,
) *plainTransport {
	pt := &plainTransport{
		conn:    conn,
		remote:  remote,
		attest:  at,
		storage: storage,
	}
	if storage != nil {
		pt.id = storage.algorithm.Identitfier()
	}
	return pt
}

func (pt *plainTransport) serialize(
	msg Transferable, route Route,
) ([]byte, *Metadata, error) {
	message, err := msg.Marshal()
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling message: %w", err)
	}
	sig, err := pt.attest.Sign(message, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("signing: %w", err)
	}

	md := newMetadata(uint64(route))
	st := &signedTransport{
		Data:      message,
		Signature: sig,
		Metadata:  &wireMeta{ID: md.ID(), Timestamp: md.Timestamp().UnixNano(), Sequence: md.SequenceNum()},
		Route:     route,
		Padding:   padding(messagePadding),
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return nil, nil, fmt.Errorf("marshalling transport: %w", err)
	}

	return payload, md, nil
}

func (pt *plainTransport) deserialize(
	payload []byte, dst Transferable,
) (*Metadata, Route, error) {
	var st signedTransport
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, RouteInvalid, fmt.Errorf("unmarshalling transport: %w", err)
	}

	if ok := pt.id.Verify(pt.remote, st.Data, st.Signature); !ok {
		return nil, RouteInvalid, ErrInvalidSignature
	}
	if err := dst.Unmarshal(st.Data); err != nil {
		return nil, RouteInvalid, fmt.Errorf("unmarshalling message: %w", err)
	}

	var md *Metadata
	if st.Metadata != nil {
		md = newMetadataFromWire(st.Metadata)
	}

	return md, st.Route, nil
}

// SessionState holds the current state of a session for potential resumption.
type SessionState struct {
	SessionID       string
	SharedSecret    []byte
	LocalSalt       []byte
	RemoteSalt      []byte
	RatchetState    []byte
	RemotePublicKey []byte
	Phase           SessionPhase
	SendSequence    uint64
	RecvSequence    uint64
	IsInitiator     bool
}

// Transport handles encrypted message exchange with route-based dispatch.
type Transport struct {
	encoder *enigma.Enigma
	decoder *enigma.Enigma
	ratchet *ratchet.DoubleRatchet
	mu      *sync.Mutex
	*plainTransport
	sessionID        string
	sharedSecret     []byte
	remotePublicKey  []byte
	remoteSalt       []byte
	localSalt        []byte
	phase            SessionPhase
	recvSequence     uint64
	sendSequence     uint64
	ratchetThreshold uint64
	isInitiator      bool
}

func newTransport(
	pt *plainTransport,
	sessionID string,
	encoder, decoder *enigma.Enigma,
	ratchetThreshold uint64,
) *Transport {
	return &Transport{
		plainTransport:   pt,
		sessionID:        sessionID,
		encoder:          encoder,
		decoder:          decoder,
		mu:               &sync.Mutex{},
		ratchetThreshold: ratchetThreshold,
		phase:            PhaseHandshakeAccepted,
	}
}

// Receive reads and decrypts the next message from the connection.
func (t *Transport) Receive(dst Transferable) (*Metadata, error) {
	md, _, err := t.ReceiveWithRoute(dst)
	return md, err
}

// ReceiveWithRoute reads and decrypts the next message, returning both
// the metadata and the route of the received message.
func (t *Transport) ReceiveWithRoute(dst Transferable) (*Metadata, Route, error) {
	payload, err := t.conn.Read()
	switch {
	case err == nil: // continue
	case errors.Is(err, io.EOF):
		return nil, RouteInvalid, ErrConnClosed
	default:
		return nil, RouteInvalid, fmt.Errorf("reading payload: %w", err)
	}

	decrypted, err := t.decryptPayload(payload)
	if err != nil {
		return nil, RouteInvalid, fmt.Errorf("decrypting payload: %w", err)
	}

	metadata, route, err := t.deserialize(decrypted, dst)
	if err != nil {
		return nil, RouteInvalid, fmt.Errorf("deserializing: %w", err)
	}

	t.received.Add(1)
	t.mu.Lock()
	t.recvSequence++
	t.mu.Unlock()

	return metadata, route, nil
}

// ReceiveExpecting reads a message and validates that it matches the expected route.
func (t *Transport) ReceiveExpecting(
	dst Transferable, expected Route,
) (*Metadata, error) {
	md, route, err := t.ReceiveWithRoute(dst)
	if err != nil {
		return nil, err
	}
	if route != expected {
		return nil, fmt.Errorf(
			"%w: expected %s, got %s",
			ErrUnexpectedRoute, expected, route,
		)
	}
	return md, nil
}

// Send encrypts and sends a message with the specified route.
func (t *Transport) Send(message Transferable, route Route) (*Metadata, error) {
	if !route.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRoute, route)
	}

	payload, metadata, err := t.serialize(message, route)
	if err != nil {
		return nil, fmt.Errorf("serializing: %w", err)
	}
	encrypted, err := t.encryptPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encrypting payload: %w", err)
	}

	if err := t.conn.Write(encrypted); err != nil {
		return nil, fmt.Errorf("writing: %w", err)
	}
	t.sent.Add(1)

	t.mu.Lock()
	t.sendSequence++
	t.mu.Unlock()

	return metadata, nil
}

// SessionID returns the unique identifier for this session.
func (t *Transport) SessionID() string { return t.sessionID }

// Phase returns the current session phase.
func (t *Transport) Phase() SessionPhase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

// SetPhase updates the session phase.
func (t *Transport) SetPhase(phase SessionPhase) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.phase = phase
}

// IsEstablished returns true if the session is fully established.
func (t *Transport) IsEstablished() bool {
	return t.Phase() == PhaseEstablished
}

// Close closes the transport connection.
func (t *Transport) Close() error {
	t.SetPhase(PhaseClosed)
	return t.conn.Close()
}

// Store returns the storage associated with this transport.
func (t *Transport) Store() *Storage { return t.storage }

// State returns the current session state for potential resumption.
//
// It includes the serialized Double Ratchet state when available so that an
// established session can be resumed without re-handshaking.
func (t *Transport) State() *SessionState {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ratchetState []byte
	if t.ratchet != nil {
		if b, err := ratchet.Serialize(t.ratchet.Snapshot()); err == nil {
			ratchetState = b
		}
	}

	return &SessionState{
		SessionID:       t.sessionID,
		Phase:           t.phase,
		IsInitiator:     t.isInitiator,
		SendSequence:    t.sendSequence,
		RecvSequence:    t.recvSequence,
		SharedSecret:    t.sharedSecret,
		LocalSalt:       t.localSalt,
		RemoteSalt:      t.remoteSalt,
		RatchetState:    ratchetState,
		RemotePublicKey: t.remotePublicKey,
	}
}

// RemotePublicKey returns the remote peer's public key.
func (t *Transport) RemotePublicKey() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remotePublicKey
}

// SetRemotePublicKey sets the remote peer's public key for session tracking.
func (t *Transport) SetRemotePublicKey(key []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remotePublicKey = key
}

// SetInitiator marks whether this transport is the initiator.
func (t *Transport) SetInitiator(isInitiator bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.isInitiator = isInitiator
}

// SetSecrets stores the cryptographic secrets for potential session resumption.
func (t *Transport) SetSecrets(sharedSecret, localSalt, remoteSalt []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sharedSecret = sharedSecret
	t.localSalt = localSalt
	t.remoteSalt = remoteSalt
}

func readSignedTransport(c *Conn) (*signedTransport, Route, error) {
	payload, err := c.Read()
	if err != nil {
		return nil, RouteInvalid, fmt.Errorf("reading payload: %w", err)
	}
	var st signedTransport
	if err := json.Unmarshal(payload, &st); err != nil {
		return nil, RouteInvalid, fmt.Errorf("unmarshalling transport: %w", err)
	}
	return &st, st.Route, nil
}

// decryptPayload opens a received frame: with the pre-ratchet decoder until
// a ratchet is installed, and afterwards as the opaque package produced by
// DoubleRatchet.PackEncMessage, unchanged.
func (t *Transport) decryptPayload(payload []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ratchet == nil {
		decrypted, err := t.decoder.Decrypt(payload)
		if err != nil {
			return nil, fmt.Errorf("decrypting: %w", err)
		}
		return decrypted, nil
	}

	decrypted, err := t.ratchet.UnpackDecMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("ratchet decrypt: %w", err)
	}
	return decrypted, nil
}

func (t *Transport) encryptPayload(payload []byte) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ratchet == nil {
		return t.encoder.Encrypt(payload), nil
	}

	pkg, err := t.ratchet.PackEncMessage(payload)
	if err != nil {
		return nil, fmt.Errorf("ratchet encrypt: %w", err)
	}
	return pkg, nil
}

func newMetadataFromWire(w *wireMeta) *Metadata {
	return &Metadata{
		id:        w.ID,
		timestamp: time.Unix(0, w.Timestamp),
		sequence:  w.Sequence,
	}
}
