package kamune

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ventra-chat/ventra/pkg/attest"
	"github.com/ventra-chat/ventra/pkg/fingerprint"
)

func defaultRemoteVerifier(store *Storage, peer *Peer) error {
	key := peer.PublicKey.Marshal()
	fmt.Printf(
		"Received a connection request from %q. Their emoji fingerprint: %s\n",
		peer.Name,
		strings.Join(fingerprint.Emoji(key), " "),
	)

	var isPeerNew bool
	existing, err := store.FindPeer(key)
	switch {
	case err == nil:
		fmt.Printf(
			"Peer is known. First seen was at: %s.\n",
			existing.FirstSeen.Local().Format(time.DateTime),
		)
	default:
		fmt.Println(
			"Peer is not known. They will be added to the storage if you continue.",
		)
		isPeerNew = true
	}
	fmt.Printf("Proceed? (y/N)? ")

	b := bufio.NewScanner(os.Stdin)
	b.Scan()
	answer := strings.TrimSpace(strings.ToLower(b.Text()))
	if !(answer == "y" || answer == "yes") {
		return ErrVerificationFailed
	}

	if isPeerNew {
		peer.FirstSeen = time.Now()
		if err := store.TrustPeer(peer); err != nil {
			fmt.Printf("Error adding peer to the known list: %s\n", err)
			return nil
		}
		fmt.Println("Peer was added to the known list.")
	}

	return nil
}

// introducePayload is the body of the RouteIdentity message a peer sends to
// announce its name, algorithm, and public key before any shared secret
// exists.
type introducePayload struct {
	Name      string `json:"name"`
	Algorithm string `json:"algorithm"`
	PublicKey []byte `json:"public_key"`
}

func (p *introducePayload) Marshal() ([]byte, error) { return json.Marshal(p) }

func (p *introducePayload) Unmarshal(data []byte) error { return json.Unmarshal(data, p) }

// sendIntroduction sends a self-signed RouteIdentity frame advertising name
// and at's public key over conn, unencrypted (no shared secret exists yet).
func sendIntroduction(conn *Conn, name string, at attest.Attester, alg attest.Algorithm) error {
	payload := &introducePayload{
		Name:      name,
		Algorithm: alg.String(),
		PublicKey: at.PublicKey().Marshal(),
	}
	message, err := payload.Marshal()
	if err != nil {
		return fmt.Errorf("marshalling introduction: %w", err)
	}
	sig, err := at.Sign(message, nil)
	if err != nil {
		return fmt.Errorf("signing introduction: %w", err)
	}

	md := newMetadata(uint64(RouteIdentity))
	st := &signedTransport{
		Data:      message,
		Signature: sig,
		Metadata:  &wireMeta{ID: md.ID(), Timestamp: md.Timestamp().UnixNano(), Sequence: md.SequenceNum()},
		Route:     RouteIdentity,
		Padding:   padding(introducePadding),
	}
	frame, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshalling transport: %w", err)
	}
	if err := conn.Write(frame); err != nil {
		return fmt.Errorf("writing introduction: %w", err)
	}

	return nil
}

// receiveIntroduction validates and decodes a RouteIdentity frame previously
// read with readSignedTransport.
func receiveIntroduction(st *signedTransport) (*Peer, error) {
	var payload introducePayload
	if err := payload.Unmarshal(st.Data); err != nil {
		return nil, fmt.Errorf("unmarshalling introduction: %w", err)
	}

	id, err := attest.ParseIdentity(payload.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("parsing algorithm: %w", err)
	}
	pub, err := id.ParsePublicKey(payload.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("parsing advertised key: %w", err)
	}
	if ok := id.Verify(pub, st.Data, st.Signature); !ok {
		return nil, ErrInvalidSignature
	}

	return &Peer{Name: payload.Name, PublicKey: pub, FirstSeen: time.Now()}, nil
}
