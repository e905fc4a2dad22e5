package kamune

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// EnvelopeType identifies the kind of payload an Envelope carries.
type EnvelopeType string

const (
	// EnvelopeMessagePkg wraps an opaque ratchet.DoubleRatchet package
	// (header-prefixed ciphertext) produced by PackEncMessage.
	EnvelopeMessagePkg EnvelopeType = "MessagePkg"
)

// Envelope is the JSON wire wrapper carried over the framed byte transport.
// It never touches ratchet state itself — Content is an opaque,
// base64-encoded ratchet package that only DoubleRatchet.UnpackDecMessage
// can make sense of.
type Envelope struct {
	Type      EnvelopeType `json:"type"`
	Content   string       `json:"content"`
	From      string       `json:"from"`
	To        string       `json:"to"`
	Seq       uint64       `json:"seq"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewMessageEnvelope base64-encodes pkg (an opaque ratchet package) into a
// MessagePkg envelope addressed from/to the given identifiers.
func NewMessageEnvelope(from, to string, seq uint64, pkg []byte) Envelope {
	return Envelope{
		Type:      EnvelopeMessagePkg,
		Content:   base64.StdEncoding.EncodeToString(pkg),
		From:      from,
		To:        to,
		Seq:       seq,
		Timestamp: time.Now(),
	}
}

// Package decodes the envelope's base64 content back into the opaque
// ratchet package bytes it carries.
func (e Envelope) Package() ([]byte, error) {
	pkg, err := base64.StdEncoding.DecodeString(e.Content)
	if err != nil {
		return nil, fmt.Errorf("envelope: decoding content: %w", err)
	}
	return pkg, nil
}

// MarshalEnvelope encodes an Envelope to its wire JSON form.
func MarshalEnvelope(e Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshalling: %w", err)
	}
	return data, nil
}

// UnmarshalEnvelope decodes an Envelope from its wire JSON form.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("envelope: unmarshalling: %w", err)
	}
	return e, nil
}
