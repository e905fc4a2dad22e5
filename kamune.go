// Package kamune provides secure communication over untrusted networks.
package kamune

import (
	"time"

	"github.com/google/uuid"

	"github.com/ventra-chat/ventra/pkg/attest"
)

const (
	// must be less than or equal to 65535 ([math.MaxUint16])
	maxTransportSize = 10 * 1024
	saltSize         = 16
	sessionIDLength  = 30
	challengeSize    = 32
	introducePadding = 512
	messagePadding   = 128
	handshakePadding = 32

	c2s = "client-to-server"
	s2c = "server-to-client"
)

type (
	PublicKey      = attest.PublicKey
	RemoteVerifier func(store *Storage, peer *Peer) (err error)
)

// Transferable is any message exchanged over a Transport. The core itself
// only ever hands Transferable values the opaque bytes of a ratchet package
// or a handshake payload; it never inspects their shape.
type Transferable interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

// BytesMessage is the simplest Transferable: a passthrough for an opaque
// byte slice, used by callers that have already serialized their own
// application payload (chat text, file chunks, ...).
type BytesMessage struct {
	Value []byte
}

// Bytes wraps b as a Transferable.
func Bytes(b []byte) *BytesMessage {
	return &BytesMessage{Value: b}
}

func (b *BytesMessage) Marshal() ([]byte, error) {
	return b.Value, nil
}

func (b *BytesMessage) Unmarshal(data []byte) error {
	b.Value = append([]byte(nil), data...)
	return nil
}

// GetValue returns the wrapped bytes, or nil if b is nil.
func (b *BytesMessage) GetValue() []byte {
	if b == nil {
		return nil
	}
	return b.Value
}

// Metadata carries the routing and timing information attached to a sent or
// received message, independent of the message body itself.
type Metadata struct {
	id        string
	timestamp time.Time
	sequence  uint64
}

func newMetadata(sequence uint64) *Metadata {
	return &Metadata{
		id:        uuid.NewString(),
		timestamp: time.Now(),
		sequence:  sequence,
	}
}

func (m Metadata) ID() string { return m.id }

func (m Metadata) Timestamp() time.Time { return m.timestamp }

func (m Metadata) SequenceNum() uint64 { return m.sequence }
