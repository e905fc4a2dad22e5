package kamune

import (
	"crypto/ecdh"
	"crypto/rand"
	"crypto/subtle"
	"crypto/x509"
	"encoding/json"
	"fmt"
	mathrand "math/rand/v2"

	"github.com/ventra-chat/ventra/internal/crypto/keyenv"
	"github.com/ventra-chat/ventra/internal/crypto/x25519"
	"github.com/ventra-chat/ventra/internal/enigma"
	"github.com/ventra-chat/ventra/pkg/exchange"
	"github.com/ventra-chat/ventra/pkg/ratchet"
)

// defaultRatchetThreshold is the ratchet threshold a Transport records when
// none is configured. The Transport only stores the value; no message count
// triggers a re-key or a fresh handshake.
const defaultRatchetThreshold = 1000

// handshakePayload carries the key material exchanged during the static ECDH
// step of the handshake. Both the request and response share this shape.
type handshakePayload struct {
	Key        []byte `json:"key"`
	Salt       []byte `json:"salt"`
	SessionKey string `json:"session_key"`
	Padding    []byte `json:"padding,omitempty"`
}

func (h *handshakePayload) Marshal() ([]byte, error) { return json.Marshal(h) }

func (h *handshakePayload) Unmarshal(data []byte) error { return json.Unmarshal(data, h) }

// handshakeOpts configures the handshake run by requestHandshake and
// acceptHandshake: the ratchet threshold recorded on the resulting transport,
// and how the remote peer's introduction is vetted.
type handshakeOpts struct {
	ratchetThreshold uint64
	remoteVerifier   RemoteVerifier
}

// requestHandshake runs the initiator side of the handshake: a static ECDH
// key exchange to derive the transport's pre-ratchet symmetric keys, a
// mutual challenge exchange to prove possession of the signing identities
// already exchanged during introduction, and a Double Ratchet bootstrap.
func requestHandshake(pt *plainTransport, opts handshakeOpts) (*Transport, error) {
	if opts.ratchetThreshold == 0 {
		opts.ratchetThreshold = defaultRatchetThreshold
	}
	ecdhKP, err := exchange.NewECDH()
	if err != nil {
		return nil, fmt.Errorf("creating ECDH keys: %w", err)
	}

	salt := randomBytes(saltSize)
	sessionKeyPrefix := rand.Text()
	req := &handshakePayload{
		Key:        ecdhKP.MarshalPublicKey(),
		Salt:       salt,
		SessionKey: sessionKeyPrefix,
		Padding:    padding(handshakePadding),
	}
	reqBytes, _, err := pt.serialize(req, RouteRequestHandshake)
	if err != nil {
		return nil, fmt.Errorf("serializing handshake request: %w", err)
	}
	if err = pt.conn.Write(reqBytes); err != nil {
		return nil, fmt.Errorf("writing handshake request: %w", err)
	}
	pt.sent.Add(1)

	respBytes, err := pt.conn.Read()
	if err != nil {
		return nil, fmt.Errorf("reading handshake response: %w", err)
	}
	var resp handshakePayload
	if _, _, err = pt.deserialize(respBytes, &resp); err != nil {
		return nil, fmt.Errorf("deserializing handshake response: %w", err)
	}
	pt.received.Add(1)

	secret, err := ecdhKP.Exchange(resp.Key)
	if err != nil {
		return nil, fmt.Errorf("performing ECDH exchange: %w", err)
	}
	remoteStatic, err := parseRawX25519PublicKey(resp.Key)
	if err != nil {
		return nil, fmt.Errorf("parsing remote static key: %w", err)
	}

	sessionID := sessionKeyPrefix + resp.SessionKey
	encoder, err := enigma.NewEnigma(secret, salt, []byte(sessionID+c2s))
	if err != nil {
		return nil, fmt.Errorf("creating encrypter: %w", err)
	}
	decoder, err := enigma.NewEnigma(secret, resp.Salt, []byte(sessionID+s2c))
	if err != nil {
		return nil, fmt.Errorf("creating decrypter: %w", err)
	}

	t := newTransport(pt, sessionID, encoder, decoder, opts.ratchetThreshold)
	t.SetInitiator(true)
	t.SetPhase(PhaseHandshakeRequested)
	if err := sendChallenge(t); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}
	if err := acceptChallenge(t); err != nil {
		return nil, fmt.Errorf("accepting challenge: %w", err)
	}
	t.SetPhase(PhaseChallengeVerified)

	dr, err := ratchet.Init(remoteStatic)
	if err != nil {
		return nil, fmt.Errorf("initializing ratchet: %w", err)
	}
	if _, err := t.Send(Bytes(dr.OwnPubKey()), RouteInitializeDoubleRatchet); err != nil {
		return nil, fmt.Errorf("sending ratchet init: %w", err)
	}
	t.ratchet = dr

	ack := Bytes(nil)
	if _, err := t.ReceiveExpecting(ack, RouteConfirmDoubleRatchet); err != nil {
		return nil, fmt.Errorf("confirming ratchet: %w", err)
	}

	t.SetPhase(PhaseEstablished)
	return t, nil
}

// acceptHandshake runs the responder side of the handshake, mirroring
// requestHandshake.
func acceptHandshake(pt *plainTransport, opts handshakeOpts) (*Transport, error) {
	if opts.ratchetThreshold == 0 {
		opts.ratchetThreshold = defaultRatchetThreshold
	}

	ecdhKP, err := exchange.NewECDH()
	if err != nil {
		return nil, fmt.Errorf("creating ECDH keys: %w", err)
	}

	reqBytes, err := pt.conn.Read()
	if err != nil {
		return nil, fmt.Errorf("reading handshake request: %w", err)
	}
	var req handshakePayload
	if _, _, err = pt.deserialize(reqBytes, &req); err != nil {
		return nil, fmt.Errorf("deserializing handshake request: %w", err)
	}
	pt.received.Add(1)

	secret, err := ecdhKP.Exchange(req.Key)
	if err != nil {
		return nil, fmt.Errorf("performing ECDH exchange: %w", err)
	}

	sessionKeySuffix := rand.Text()
	sessionID := req.SessionKey + sessionKeySuffix
	salt := randomBytes(saltSize)
	resp := &handshakePayload{
		Key:        ecdhKP.MarshalPublicKey(),
		Salt:       salt,
		SessionKey: sessionKeySuffix,
		Padding:    padding(handshakePadding),
	}
	respBytes, _, err := pt.serialize(resp, RouteAcceptHandshake)
	if err != nil {
		return nil, fmt.Errorf("serializing handshake response: %w", err)
	}
	if err = pt.conn.Write(respBytes); err != nil {
		return nil, fmt.Errorf("writing handshake response: %w", err)
	}
	pt.sent.Add(1)

	encoder, err := enigma.NewEnigma(secret, salt, []byte(sessionID+s2c))
	if err != nil {
		return nil, fmt.Errorf("creating encrypter: %w", err)
	}
	decoder, err := enigma.NewEnigma(secret, req.Salt, []byte(sessionID+c2s))
	if err != nil {
		return nil, fmt.Errorf("creating decrypter: %w", err)
	}

	t := newTransport(pt, sessionID, encoder, decoder, opts.ratchetThreshold)
	t.SetInitiator(false)
	t.SetPhase(PhaseHandshakeAccepted)
	if err := acceptChallenge(t); err != nil {
		return nil, fmt.Errorf("accepting challenge: %w", err)
	}
	if err := sendChallenge(t); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}
	t.SetPhase(PhaseChallengeVerified)

	ownStatic := keyenv.NewX25519Keypair()
	if err := ownStatic.GenerateOrLoad(false, &keyenv.LoadParams{
		PubFormat:  x25519.Raw,
		PubRaw:     ecdhKP.PublicKey.Bytes(),
		PrivFormat: x25519.Raw,
		PrivRaw:    ecdhKP.MarshalPrivateKey(),
	}); err != nil {
		return nil, fmt.Errorf("adopting static key: %w", err)
	}

	initPub := Bytes(nil)
	if _, err := t.ReceiveExpecting(initPub, RouteInitializeDoubleRatchet); err != nil {
		return nil, fmt.Errorf("receiving ratchet init: %w", err)
	}
	dr, err := ratchet.FollowInit(ownStatic, initPub.Value)
	if err != nil {
		return nil, fmt.Errorf("following ratchet init: %w", err)
	}
	t.ratchet = dr

	if _, err := t.Send(Bytes(nil), RouteConfirmDoubleRatchet); err != nil {
		return nil, fmt.Errorf("confirming ratchet: %w", err)
	}

	t.SetPhase(PhaseEstablished)
	return t, nil
}

// sendChallenge issues a fresh challenge over t, sessioned to t's session
// ID, and verifies the peer echoes it back unchanged.
func sendChallenge(t *Transport) error {
	challenge, err := enigma.Derive(
		[]byte(rand.Text()), nil, []byte(t.SessionID()), challengeSize,
	)
	if err != nil {
		return fmt.Errorf("deriving a challenge: %w", err)
	}
	if _, err := t.Send(Bytes(challenge), RouteSendChallenge); err != nil {
		return fmt.Errorf("sending: %w", err)
	}
	r := Bytes(nil)
	if _, err := t.ReceiveExpecting(r, RouteVerifyChallenge); err != nil {
		return fmt.Errorf("receiving: %w", err)
	}

	if subtle.ConstantTimeCompare(r.Value, challenge) != 1 {
		return ErrVerificationFailed
	}

	return nil
}

// acceptChallenge receives a peer's challenge and echoes it back unchanged.
func acceptChallenge(t *Transport) error {
	r := Bytes(nil)
	if _, err := t.ReceiveExpecting(r, RouteSendChallenge); err != nil {
		return fmt.Errorf("receiving: %w", err)
	}
	if _, err := t.Send(Bytes(r.Value), RouteVerifyChallenge); err != nil {
		return fmt.Errorf("sending: %w", err)
	}

	return nil
}

// parseRawX25519PublicKey recovers the raw 32-byte X25519 point from a
// PKIX-encoded public key, as produced by (*exchange.ECDH).MarshalPublicKey.
func parseRawX25519PublicKey(pkix []byte) ([]byte, error) {
	key, err := x509.ParsePKIXPublicKey(pkix)
	if err != nil {
		return nil, fmt.Errorf("parsing key: %w", err)
	}
	pub, ok := key.(*ecdh.PublicKey)
	if !ok {
		return nil, exchange.ErrInvalidKey
	}
	return pub.Bytes(), nil
}

func randomBytes(l int) []byte {
	rnd := make([]byte, l)
	if _, err := rand.Read(rnd); err != nil {
		panic(fmt.Errorf("generating random bytes: %w", err))
	}
	return rnd
}

func padding(maxSize int) []byte {
	return randomBytes(mathrand.IntN(maxSize))
}
