package ratchet

import (
	"encoding/binary"
	"fmt"
	"slices"
)

// SessionRole identifies which side of the handshake a RatchetState belongs
// to. It is carried in the snapshot purely for the consumer's bookkeeping;
// the ratchet algorithm itself is symmetric in the role.
type SessionRole byte

const (
	RoleInitiator SessionRole = 0
	RoleResponder SessionRole = 1
)

func (r SessionRole) String() string {
	if r == RoleResponder {
		return "responder"
	}
	return "initiator"
}

// RatchetState is the single persistent session record: everything required
// to resume a DoubleRatchet. All key slots are either nil (pre-
// initialisation) or exactly 32 bytes.
type RatchetState struct {
	SessionRole SessionRole

	OwnPriv []byte
	OwnPub  []byte
	PeerPub []byte

	SharedSecret []byte
	RootKey      []byte
	SendChainKey []byte
	RecvChainKey []byte

	SendMsgNum uint32
	RecvMsgNum uint32

	// MessageKeys holds derived-but-not-yet-consumed receive-side message
	// keys, keyed by sequence number.
	MessageKeys map[uint32][]byte
}

func (s *RatchetState) clone() *RatchetState {
	cp := &RatchetState{
		SessionRole:  s.SessionRole,
		OwnPriv:      cloneBytes(s.OwnPriv),
		OwnPub:       cloneBytes(s.OwnPub),
		PeerPub:      cloneBytes(s.PeerPub),
		SharedSecret: cloneBytes(s.SharedSecret),
		RootKey:      cloneBytes(s.RootKey),
		SendChainKey: cloneBytes(s.SendChainKey),
		RecvChainKey: cloneBytes(s.RecvChainKey),
		SendMsgNum:   s.SendMsgNum,
		RecvMsgNum:   s.RecvMsgNum,
		MessageKeys:  make(map[uint32][]byte, len(s.MessageKeys)),
	}
	for seq, key := range s.MessageKeys {
		cp.MessageKeys[seq] = cloneBytes(key)
	}
	return cp
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

// validateState checks that every key slot is either nil or exactly 32
// bytes, and that the message-key cache holds only 32-byte entries, before
// a snapshot is adopted by Existing.
func validateState(s *RatchetState) error {
	if s == nil {
		return fmt.Errorf("%w: nil state", ErrCorruptState)
	}
	slots := map[string][]byte{
		"ownPriv":      s.OwnPriv,
		"ownPub":       s.OwnPub,
		"peerPub":      s.PeerPub,
		"sharedSecret": s.SharedSecret,
		"rootKey":      s.RootKey,
		"sendChainKey": s.SendChainKey,
		"recvChainKey": s.RecvChainKey,
	}
	for name, v := range slots {
		if v != nil && len(v) != keySize {
			return fmt.Errorf("%w: %s has length %d, want nil or %d", ErrCorruptState, name, len(v), keySize)
		}
	}
	for seq, key := range s.MessageKeys {
		if len(key) != keySize {
			return fmt.Errorf("%w: message key %d has length %d, want %d", ErrCorruptState, seq, len(key), keySize)
		}
	}
	return nil
}

// Serialize encodes a RatchetState into its deterministic, round-trip-
// stable binary snapshot layout: every field in the order declared above,
// length-prefixed for the MessageKeys map (u32 count, then u32 seq || 32-
// byte key entries). SessionRole is a single byte.
func Serialize(s *RatchetState) ([]byte, error) {
	if err := validateState(s); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, 1+4*(1+keySize)+3*(1+keySize)+8+4+len(s.MessageKeys)*(4+keySize))
	buf = append(buf, byte(s.SessionRole))
	buf = appendSlot(buf, s.OwnPriv)
	buf = appendSlot(buf, s.OwnPub)
	buf = appendSlot(buf, s.PeerPub)
	buf = appendSlot(buf, s.SharedSecret)
	buf = appendSlot(buf, s.RootKey)
	buf = appendSlot(buf, s.SendChainKey)
	buf = appendSlot(buf, s.RecvChainKey)

	var counters [8]byte
	binary.LittleEndian.PutUint32(counters[0:4], s.SendMsgNum)
	binary.LittleEndian.PutUint32(counters[4:8], s.RecvMsgNum)
	buf = append(buf, counters[:]...)

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(s.MessageKeys)))
	buf = append(buf, count[:]...)
	seqs := make([]uint32, 0, len(s.MessageKeys))
	for seq := range s.MessageKeys {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)
	for _, seq := range seqs {
		key := s.MessageKeys[seq]
		var seqBytes [4]byte
		binary.LittleEndian.PutUint32(seqBytes[:], seq)
		buf = append(buf, seqBytes[:]...)
		buf = append(buf, key...)
	}

	return buf, nil
}

// Deserialize decodes a snapshot produced by Serialize, validating field
// lengths before returning it; the counters are not checked.
func Deserialize(data []byte) (*RatchetState, error) {
	pos := 0
	readByte := func() (byte, bool) {
		if pos >= len(data) {
			return 0, false
		}
		b := data[pos]
		pos++
		return b, true
	}
	readSlot := func() ([]byte, bool) {
		flag, ok := readByte()
		if !ok {
			return nil, false
		}
		if flag == 0 {
			return nil, true
		}
		if pos+keySize > len(data) {
			return nil, false
		}
		v := append([]byte(nil), data[pos:pos+keySize]...)
		pos += keySize
		return v, true
	}
	readU32 := func() (uint32, bool) {
		if pos+4 > len(data) {
			return 0, false
		}
		v := binary.LittleEndian.Uint32(data[pos : pos+4])
		pos += 4
		return v, true
	}

	roleByte, ok := readByte()
	if !ok {
		return nil, fmt.Errorf("%w: truncated session role", ErrCorruptState)
	}
	s := &RatchetState{SessionRole: SessionRole(roleByte)}

	var fieldErr error
	assign := func(dst *[]byte) {
		if fieldErr != nil {
			return
		}
		v, ok := readSlot()
		if !ok {
			fieldErr = fmt.Errorf("%w: truncated key slot", ErrCorruptState)
			return
		}
		*dst = v
	}
	assign(&s.OwnPriv)
	assign(&s.OwnPub)
	assign(&s.PeerPub)
	assign(&s.SharedSecret)
	assign(&s.RootKey)
	assign(&s.SendChainKey)
	assign(&s.RecvChainKey)
	if fieldErr != nil {
		return nil, fieldErr
	}

	sendNum, ok := readU32()
	if !ok {
		return nil, fmt.Errorf("%w: truncated send counter", ErrCorruptState)
	}
	recvNum, ok := readU32()
	if !ok {
		return nil, fmt.Errorf("%w: truncated recv counter", ErrCorruptState)
	}
	s.SendMsgNum, s.RecvMsgNum = sendNum, recvNum

	count, ok := readU32()
	if !ok {
		return nil, fmt.Errorf("%w: truncated message key count", ErrCorruptState)
	}
	s.MessageKeys = make(map[uint32][]byte, count)
	for i := uint32(0); i < count; i++ {
		seq, ok := readU32()
		if !ok {
			return nil, fmt.Errorf("%w: truncated message key entry", ErrCorruptState)
		}
		if pos+keySize > len(data) {
			return nil, fmt.Errorf("%w: truncated message key bytes", ErrCorruptState)
		}
		s.MessageKeys[seq] = append([]byte(nil), data[pos:pos+keySize]...)
		pos += keySize
	}

	if err := validateState(s); err != nil {
		return nil, err
	}
	return s, nil
}

func appendSlot(buf, slot []byte) []byte {
	if slot == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return append(buf, slot...)
}
