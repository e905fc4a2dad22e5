package kamune

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha3"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ventra-chat/ventra/internal/enigma"
	"github.com/ventra-chat/ventra/pkg/attest"
	"github.com/ventra-chat/ventra/pkg/ratchet"
)

const (
	resumeChallengeSize = 32
	resumePadding       = 64
	resumeDomain        = "kamune-resume"
)

var (
	ErrResumptionNotSupported = errors.New("session resumption not supported")
	ErrResumptionFailed       = errors.New("session resumption failed")
	ErrChallengeVerifyFailed  = errors.New("challenge verification failed")
	ErrSequenceMismatch       = errors.New("sequence number mismatch")
	ErrSessionTooOld          = errors.New("session is too old to resume")
)

// ResumableSession is the in-memory shape of a session eligible for
// resumption: everything restoreTransport needs to rebuild a Transport
// without re-running the full handshake.
type ResumableSession struct {
	SessionID       string
	RemotePublicKey []byte
	LocalPublicKey  []byte
	SharedSecret    []byte
	LocalSalt       []byte
	RemoteSalt      []byte
	RatchetState    []byte
	Phase           SessionPhase
	SendSequence    uint64
	RecvSequence    uint64
	IsInitiator     bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// reconnectRequest is sent by the side that wants to resume a prior session.
// RemotePublicKey identifies the sender to the recipient (i.e. it is the
// recipient's "remote" peer).
type reconnectRequest struct {
	SessionID        string       `json:"session_id"`
	RemotePublicKey  []byte       `json:"remote_public_key"`
	ResumeChallenge  []byte       `json:"resume_challenge"`
	LastPhase        SessionPhase `json:"last_phase"`
	LastSendSequence uint64       `json:"last_send_sequence"`
	LastRecvSequence uint64       `json:"last_recv_sequence"`
	Padding          []byte       `json:"padding,omitempty"`
}

func (r *reconnectRequest) Marshal() ([]byte, error)    { return json.Marshal(r) }
func (r *reconnectRequest) Unmarshal(data []byte) error { return json.Unmarshal(data, r) }

type reconnectResponse struct {
	Accepted           bool         `json:"accepted"`
	ErrorMessage       string       `json:"error_message,omitempty"`
	ResumeFromPhase    SessionPhase `json:"resume_from_phase"`
	ChallengeResponse  []byte       `json:"challenge_response,omitempty"`
	ServerChallenge    []byte       `json:"server_challenge,omitempty"`
	ServerSendSequence uint64       `json:"server_send_sequence"`
	ServerRecvSequence uint64       `json:"server_recv_sequence"`
	Padding            []byte       `json:"padding,omitempty"`
}

func (r *reconnectResponse) Marshal() ([]byte, error)    { return json.Marshal(r) }
func (r *reconnectResponse) Unmarshal(data []byte) error { return json.Unmarshal(data, r) }

type reconnectVerify struct {
	ChallengeResponse []byte `json:"challenge_response"`
	Verified          bool   `json:"verified"`
	Padding           []byte `json:"padding,omitempty"`
}

func (v *reconnectVerify) Marshal() ([]byte, error)    { return json.Marshal(v) }
func (v *reconnectVerify) Unmarshal(data []byte) error { return json.Unmarshal(data, v) }

type reconnectComplete struct {
	ErrorMessage       string `json:"error_message,omitempty"`
	Success            bool   `json:"success"`
	ResumeSendSequence uint64 `json:"resume_send_sequence"`
	ResumeRecvSequence uint64 `json:"resume_recv_sequence"`
	Padding            []byte `json:"padding,omitempty"`
}

func (c *reconnectComplete) Marshal() ([]byte, error)    { return json.Marshal(c) }
func (c *reconnectComplete) Unmarshal(data []byte) error { return json.Unmarshal(data, c) }

// SessionResumer drives the reconnect protocol on either side: it proves
// both peers still share the prior session's secret via a mutual challenge,
// reconciles sequence numbers lost to the dropped connection, and restores
// the Double Ratchet before handing back a Transport ready for
// RouteExchangeMessages traffic.
type SessionResumer struct {
	storage        *Storage
	sessionManager *SessionManager
	attester       attest.Attester
	maxSessionAge  time.Duration
}

// NewSessionResumer creates a session resumer. A non-positive maxAge
// defaults to 24 hours.
func NewSessionResumer(
	storage *Storage,
	sessionManager *SessionManager,
	attester attest.Attester,
	maxAge time.Duration,
) *SessionResumer {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &SessionResumer{
		storage:        storage,
		sessionManager: sessionManager,
		attester:       attester,
		maxSessionAge:  maxAge,
	}
}

// CanResume checks if a session can be resumed with the given peer.
func (sr *SessionResumer) CanResume(remotePublicKey []byte) (bool, *SessionState, error) {
	return checkResumability(remotePublicKey, sr.sessionManager)
}

// InitiateResumption starts the resumption process as the side that dropped
// the connection, proving possession of the shared secret and agreeing on
// sequence numbers with the peer before restoring the transport.
func (sr *SessionResumer) InitiateResumption(
	conn *Conn, state *SessionState,
) (*Transport, error) {
	remoteKey, err := attest.ParsePublicKey(state.RemotePublicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing remote public key: %w", err)
	}
	pt := newPlainTransport(conn, remoteKey, sr.attester, sr.storage)

	challenge := make([]byte, resumeChallengeSize)
	if _, err := rand.Read(challenge); err != nil {
		return nil, fmt.Errorf("generating challenge: %w", err)
	}

	req := &reconnectRequest{
		SessionID:        state.SessionID,
		RemotePublicKey:  sr.attester.PublicKey().Marshal(),
		ResumeChallenge:  challenge,
		LastPhase:        state.Phase,
		LastSendSequence: state.SendSequence,
		LastRecvSequence: state.RecvSequence,
		Padding:          padding(resumePadding),
	}
	if err := sr.send(pt, req, RouteReconnect); err != nil {
		return nil, fmt.Errorf("sending reconnect request: %w", err)
	}

	var resp reconnectResponse
	if err := sr.receive(pt, &resp, RouteReconnect); err != nil {
		return nil, fmt.Errorf("receiving reconnect response: %w", err)
	}
	if !resp.Accepted {
		return nil, fmt.Errorf("%w: %s", ErrResumptionFailed, resp.ErrorMessage)
	}

	expectedResponse := sr.computeChallengeResponse(challenge, state.SharedSecret)
	if !hmacEqual(resp.ChallengeResponse, expectedResponse) {
		return nil, ErrChallengeVerifyFailed
	}

	clientChallengeResponse := sr.computeChallengeResponse(resp.ServerChallenge, state.SharedSecret)
	resumeSendSeq, resumeRecvSeq := sr.reconcileSequences(
		state.SendSequence, state.RecvSequence,
		resp.ServerSendSequence, resp.ServerRecvSequence,
	)

	verify := &reconnectVerify{
		ChallengeResponse: clientChallengeResponse,
		Verified:          true,
		Padding:           padding(resumePadding),
	}
	if err := sr.send(pt, verify, RouteReconnect); err != nil {
		return nil, fmt.Errorf("sending verification: %w", err)
	}

	var complete reconnectComplete
	if err := sr.receive(pt, &complete, RouteReconnect); err != nil {
		return nil, fmt.Errorf("receiving completion: %w", err)
	}
	if !complete.Success {
		return nil, fmt.Errorf("%w: %s", ErrResumptionFailed, complete.ErrorMessage)
	}

	return sr.restoreTransport(conn, state, resumeSendSeq, resumeRecvSeq)
}

// HandleResumption handles an incoming resumption request as the side that
// stayed up and still holds the session.
func (sr *SessionResumer) HandleResumption(
	conn *Conn, req *reconnectRequest,
) (*Transport, error) {
	remoteKey, err := attest.ParsePublicKey(req.RemotePublicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing remote public key: %w", err)
	}
	pt := newPlainTransport(conn, remoteKey, sr.attester, sr.storage)

	state, err := sr.sessionManager.LoadSessionByPublicKey(req.RemotePublicKey)
	if err != nil {
		_ = sr.reject(pt, "session not found")
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if state.SessionID != req.SessionID {
		_ = sr.reject(pt, "session ID mismatch")
		return nil, ErrSessionMismatch
	}
	if state.Phase != PhaseEstablished {
		_ = sr.reject(pt, "session not established")
		return nil, ErrResumptionNotSupported
	}

	serverChallenge := make([]byte, resumeChallengeSize)
	if _, err := rand.Read(serverChallenge); err != nil {
		return nil, fmt.Errorf("generating server challenge: %w", err)
	}
	challengeResponse := sr.computeChallengeResponse(req.ResumeChallenge, state.SharedSecret)

	resp := &reconnectResponse{
		Accepted:           true,
		ResumeFromPhase:    state.Phase,
		ChallengeResponse:  challengeResponse,
		ServerChallenge:    serverChallenge,
		ServerSendSequence: state.SendSequence,
		ServerRecvSequence: state.RecvSequence,
		Padding:            padding(resumePadding),
	}
	if err := sr.send(pt, resp, RouteReconnect); err != nil {
		return nil, fmt.Errorf("sending accept response: %w", err)
	}

	var verify reconnectVerify
	if err := sr.receive(pt, &verify, RouteReconnect); err != nil {
		return nil, fmt.Errorf("receiving verification: %w", err)
	}

	expectedClientResponse := sr.computeChallengeResponse(serverChallenge, state.SharedSecret)
	if !hmacEqual(verify.ChallengeResponse, expectedClientResponse) {
		complete := &reconnectComplete{Success: false, ErrorMessage: "challenge verification failed"}
		_ = sr.send(pt, complete, RouteReconnect)
		return nil, ErrChallengeVerifyFailed
	}

	resumeSendSeq, resumeRecvSeq := sr.reconcileSequences(
		state.SendSequence, state.RecvSequence,
		req.LastSendSequence, req.LastRecvSequence,
	)

	complete := &reconnectComplete{
		Success:            true,
		ResumeSendSequence: resumeSendSeq,
		ResumeRecvSequence: resumeRecvSeq,
	}
	if err := sr.send(pt, complete, RouteReconnect); err != nil {
		return nil, fmt.Errorf("sending completion: %w", err)
	}

	return sr.restoreTransport(conn, state, resumeSendSeq, resumeRecvSeq)
}

func (sr *SessionResumer) send(pt *plainTransport, msg Transferable, route Route) error {
	payload, _, err := pt.serialize(msg, route)
	if err != nil {
		return fmt.Errorf("serializing: %w", err)
	}
	return pt.conn.Write(payload)
}

func (sr *SessionResumer) receive(pt *plainTransport, dst Transferable, expected Route) error {
	payload, err := pt.conn.Read()
	if err != nil {
		return fmt.Errorf("reading: %w", err)
	}
	_, route, err := pt.deserialize(payload, dst)
	if err != nil {
		return fmt.Errorf("deserializing: %w", err)
	}
	if route != expected {
		return fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedRoute, expected, route)
	}
	return nil
}

func (sr *SessionResumer) reject(pt *plainTransport, reason string) error {
	resp := &reconnectResponse{Accepted: false, ErrorMessage: reason}
	return sr.send(pt, resp, RouteReconnect)
}

// computeChallengeResponse computes a domain-separated HMAC-SHA3-256
// response to a challenge, proving possession of sharedSecret without
// revealing it.
func (sr *SessionResumer) computeChallengeResponse(challenge, sharedSecret []byte) []byte {
	h := hmac.New(sha3.New256, sharedSecret)
	h.Write([]byte(resumeDomain))
	h.Write(challenge)
	return h.Sum(nil)
}

// reconcileSequences determines the sequence numbers to resume from, given
// both sides' view of how many messages were sent and received before the
// connection dropped. The send sequence picks up from whichever side saw
// more messages delivered in that direction, and likewise for receive.
func (sr *SessionResumer) reconcileSequences(
	localSend, localRecv, remoteSend, remoteRecv uint64,
) (sendSeq, recvSeq uint64) {
	sendSeq = localSend
	if remoteRecv > sendSeq {
		sendSeq = remoteRecv
	}

	recvSeq = localRecv
	if remoteSend > recvSeq {
		recvSeq = remoteSend
	}

	return sendSeq, recvSeq
}

// restoreTransport rebuilds a Transport from persisted session state,
// including the Double Ratchet. An established session can only be resumed
// if its ratchet state was persisted; otherwise the connection must fall
// back to a fresh handshake.
func (sr *SessionResumer) restoreTransport(
	conn *Conn, state *SessionState, sendSeq, recvSeq uint64,
) (*Transport, error) {
	remoteKey, err := attest.ParsePublicKey(state.RemotePublicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing remote public key: %w", err)
	}
	pt := newPlainTransport(conn, remoteKey, sr.attester, sr.storage)

	var encoderInfo, decoderInfo string
	if state.IsInitiator {
		encoderInfo = state.SessionID + c2s
		decoderInfo = state.SessionID + s2c
	} else {
		encoderInfo = state.SessionID + s2c
		decoderInfo = state.SessionID + c2s
	}

	encoder, err := enigma.NewEnigma(state.SharedSecret, state.LocalSalt, []byte(encoderInfo))
	if err != nil {
		return nil, fmt.Errorf("creating encoder: %w", err)
	}
	decoder, err := enigma.NewEnigma(state.SharedSecret, state.RemoteSalt, []byte(decoderInfo))
	if err != nil {
		return nil, fmt.Errorf("creating decoder: %w", err)
	}

	t := newTransport(pt, state.SessionID, encoder, decoder, defaultRatchetThreshold)
	t.SetInitiator(state.IsInitiator)
	t.SetSecrets(state.SharedSecret, state.LocalSalt, state.RemoteSalt)
	t.SetRemotePublicKey(state.RemotePublicKey)
	t.SetPhase(PhaseEstablished)

	t.mu.Lock()
	t.sendSequence = sendSeq
	t.recvSequence = recvSeq
	t.mu.Unlock()

	if len(state.RatchetState) == 0 {
		return nil, fmt.Errorf("%w: missing ratchet state", ErrResumptionFailed)
	}
	rs, err := ratchet.Deserialize(state.RatchetState)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ratchet state: %v", ErrResumptionFailed, err)
	}
	dr, err := ratchet.Existing(rs)
	if err != nil {
		return nil, fmt.Errorf("%w: restore ratchet failed: %v", ErrResumptionFailed, err)
	}

	t.mu.Lock()
	t.ratchet = dr
	t.mu.Unlock()

	return t, nil
}

// SaveSessionForResumption persists an established transport's state so it
// can later be resumed via SessionResumer.
func SaveSessionForResumption(t *Transport, sm *SessionManager) error {
	state := t.State()
	if state.Phase != PhaseEstablished {
		return ErrSessionNotResumable
	}

	if len(state.RemotePublicKey) > 0 {
		sm.RegisterSession(state.SessionID, state.RemotePublicKey)
	}

	return sm.SaveSession(state)
}

// ResumeOrDial attempts to resume an existing session with remotePublicKey,
// falling back to a fresh Dial when no resumable session exists or
// resumption fails.
func ResumeOrDial(
	dialer *Dialer, remotePublicKey []byte, sm *SessionManager,
) (*Transport, bool, error) {
	canResume, state, err := checkResumability(remotePublicKey, sm)
	if err != nil {
		return nil, false, fmt.Errorf("checking resumability: %w", err)
	}
	if !canResume || state == nil {
		t, err := dialer.Dial()
		if err != nil {
			return nil, false, err
		}
		return t, false, nil
	}

	resumer := NewSessionResumer(dialer.storage, sm, dialer.attester, 24*time.Hour)

	conn, err := dialer.dial(dialer.address)
	if err != nil {
		t, err := dialer.Dial()
		if err != nil {
			return nil, false, err
		}
		return t, false, nil
	}

	t, err := resumer.InitiateResumption(conn, state)
	if err != nil {
		_ = conn.Close()
		t, err := dialer.Dial()
		if err != nil {
			return nil, false, err
		}
		return t, false, nil
	}

	return t, true, nil
}

// checkResumability checks whether sm holds an established, secret-bearing
// session for remotePublicKey.
func checkResumability(remotePublicKey []byte, sm *SessionManager) (bool, *SessionState, error) {
	state, err := sm.LoadSessionByPublicKey(remotePublicKey)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired) {
			return false, nil, nil
		}
		return false, nil, err
	}

	if state.Phase != PhaseEstablished {
		return false, nil, nil
	}
	if len(state.SharedSecret) == 0 {
		return false, nil, nil
	}

	return true, state, nil
}
