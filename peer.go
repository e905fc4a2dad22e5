package kamune

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ventra-chat/ventra/pkg/attest"
)

var baseDir, privKeyPath string

const keyName = "id.key"

// Peer describes a remote party encountered during a handshake: the
// identity they advertised, a display label, and when they were first
// seen. RemoteVerifier callbacks receive one to decide whether to trust
// the connection.
type Peer struct {
	Name      string
	PublicKey PublicKey
	FirstSeen time.Time
}

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("getting home dir: %w", err))
	}
	baseDir = filepath.Join(home, ".config", "kamune")
	privKeyPath = filepath.Join(baseDir, keyName)

	_, err = os.Stat(privKeyPath)
	switch {
	case err == nil:
		return
	case errors.Is(err, os.ErrNotExist):
		if err := newCert(); err != nil {
			panic(fmt.Errorf("creating certificate: %w", err))
		}
	default:
		panic(fmt.Errorf("checking private key's existence: %w", err))
	}
}

func newCert() error {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return fmt.Errorf("MkdirAll: %w", err)
	}
	id, err := attest.NewEd25519()
	if err != nil {
		return fmt.Errorf("new attest: %w", err)
	}
	if err := id.Save(privKeyPath); err != nil {
		return fmt.Errorf("saving cert: %w", err)
	}

	return nil
}
