package kamune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/xtaci/kcp-go/v5"

	"github.com/ventra-chat/ventra/pkg/attest"
)

// connType selects the transport dialed by Dial: a reliable TCP stream or a
// KCP session tunneled over UDP.
type connType int

const (
	tcp connType = iota
	udp
)

// NewDefaultAttester creates a fresh Ed25519 identity, unconnected to any
// Storage. Useful for tests and for callers that manage key persistence
// themselves via DialWithAttester / ServeWithAttester.
func NewDefaultAttester() (attest.Attester, error) {
	return attest.NewAttester(attest.Ed25519Algorithm)
}

// Dialer opens connections to a fixed address, exchanges identities, and
// runs the handshake, producing established Transports.
type Dialer struct {
	conn             *Conn
	connType         connType
	connOpts         []ConnOption
	address          string
	verifyRemote     RemoteVerifier
	readTimeout      time.Duration
	writeTimeout     time.Duration
	dialTimeout      time.Duration
	algorithm        attest.Algorithm
	storage          *Storage
	attester         attest.Attester
	ratchetThreshold uint64
}

// NewDialer builds a Dialer bound to addr. Unless overridden with
// DialWithStorage / DialWithStorageOpts, it opens the default on-disk
// Storage and derives its identity from it.
func NewDialer(addr string, opts ...DialOption) (*Dialer, error) {
	d := &Dialer{
		address:          addr,
		connType:         tcp,
		readTimeout:      10 * time.Minute,
		writeTimeout:     1 * time.Minute,
		dialTimeout:      10 * time.Second,
		verifyRemote:     defaultRemoteVerifier,
		algorithm:        attest.Ed25519Algorithm,
		ratchetThreshold: defaultRatchetThreshold,
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}

	if d.storage == nil {
		s, err := OpenStorage(StorageWithAlgorithm(d.algorithm))
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		d.storage = s
	}
	if d.attester == nil {
		at, err := d.storage.attester()
		if err != nil {
			return nil, fmt.Errorf("loading identity: %w", err)
		}
		d.attester = at
	}

	return d, nil
}

// PublicKey returns the identity this dialer advertises during introduction.
func (d *Dialer) PublicKey() PublicKey {
	return d.attester.PublicKey()
}

// Dial opens a connection (unless one was supplied via DialWithExistingConn)
// and runs the introduction and handshake, returning an established
// Transport.
func Dial(addr string, opts ...DialOption) (*Transport, error) {
	d, err := NewDialer(addr, opts...)
	if err != nil {
		return nil, err
	}
	return d.Dial()
}

// Dial connects to d's address and runs the handshake, returning an
// established Transport.
func (d *Dialer) Dial() (*Transport, error) {
	conn := d.conn
	if conn == nil {
		c, err := d.dial(d.address)
		if err != nil {
			return nil, fmt.Errorf("dialing: %w", err)
		}
		conn = c
	}

	transport, err := d.handshake(conn)
	if err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}

	return transport, nil
}

func (d *Dialer) dial(address string) (*Conn, error) {
	switch d.connType {
	case tcp:
		c, err := net.DialTimeout("tcp", address, d.dialTimeout)
		if err != nil {
			return nil, fmt.Errorf("dialing tcp: %w", err)
		}
		conn, err := newConn(c, d.connOpts...)
		if err != nil {
			return nil, fmt.Errorf("new tcp conn: %w", err)
		}
		return conn, nil
	case udp:
		c, err := kcp.Dial(address)
		if err != nil {
			return nil, fmt.Errorf("dialing udp: %w", err)
		}
		conn, err := newConn(c, d.connOpts...)
		if err != nil {
			return nil, fmt.Errorf("new udp conn: %w", err)
		}
		return conn, nil
	default:
		panic("unknown connection type")
	}
}

func (d *Dialer) handshake(conn *Conn) (*Transport, error) {
	defer func() {
		if err := recover(); err != nil {
			d.log(slog.LevelError, "dial panic", slog.Any("err", err))
		}
	}()

	name, err := os.Hostname()
	if err != nil {
		name = "kamune"
	}
	if err = sendIntroduction(conn, name, d.attester, d.algorithm); err != nil {
		return nil, fmt.Errorf("send introduction: %w", err)
	}
	st, _, err := readSignedTransport(conn)
	if err != nil {
		return nil, fmt.Errorf("reading introduction: %w", err)
	}
	peer, err := receiveIntroduction(st)
	if err != nil {
		return nil, fmt.Errorf("receive introduction: %w", err)
	}
	if err = d.verifyRemote(d.storage, peer); err != nil {
		return nil, fmt.Errorf("verify remote: %w", err)
	}

	pt := newPlainTransport(conn, peer.PublicKey, d.attester, d.storage)
	t, err := requestHandshake(pt, handshakeOpts{
		ratchetThreshold: d.ratchetThreshold,
		remoteVerifier:   d.verifyRemote,
	})
	if err != nil {
		return nil, fmt.Errorf("request handshake: %w", err)
	}

	return t, nil
}

func (Dialer) log(lvl slog.Level, msg string, args ...any) {
	slog.Log(context.Background(), lvl, msg, args...)
}

type DialOption func(*Dialer) error

func DialWithRemoteVerifier(verifier RemoteVerifier) DialOption {
	return func(d *Dialer) error {
		d.verifyRemote = verifier
		return nil
	}
}

// DialWithStorageOpts opens a fresh Storage for this dialer using opts.
func DialWithStorageOpts(opts ...StorageOption) DialOption {
	return func(d *Dialer) error {
		if d.storage != nil {
			return errors.New("already have a storage override")
		}
		s, err := OpenStorage(opts...)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		d.storage = s
		return nil
	}
}

// DialWithStorage uses an already-open Storage, rather than opening one.
func DialWithStorage(storage *Storage) DialOption {
	return func(d *Dialer) error {
		if d.storage != nil {
			return errors.New("already have a storage override")
		}
		d.storage = storage
		return nil
	}
}

// DialWithAttester sets the dialer's identity directly, bypassing storage.
func DialWithAttester(attester attest.Attester) DialOption {
	return func(d *Dialer) error {
		d.attester = attester
		return nil
	}
}

func DialWithExistingConn(conn *Conn) DialOption {
	return func(d *Dialer) error {
		if d.conn != nil {
			return errors.New("already have a conn override")
		}
		d.conn = conn
		return nil
	}
}

func DialWithReadTimeout(timeout time.Duration) DialOption {
	return func(d *Dialer) error {
		d.readTimeout = timeout
		return nil
	}
}

func DialWithWriteTimeout(timeout time.Duration) DialOption {
	return func(d *Dialer) error {
		d.writeTimeout = timeout
		return nil
	}
}

func DialWithDialTimeout(timeout time.Duration) DialOption {
	return func(d *Dialer) error {
		d.dialTimeout = timeout
		return nil
	}
}

func DialWithTCPConn(opts ...ConnOption) DialOption {
	return func(d *Dialer) error {
		d.connType = tcp
		d.connOpts = opts
		return nil
	}
}

func DialWithUDPConn(opts ...ConnOption) DialOption {
	return func(d *Dialer) error {
		d.connType = udp
		d.connOpts = opts
		return nil
	}
}

func DialWithAlgorithm(alg attest.Algorithm) DialOption {
	return func(d *Dialer) error {
		d.algorithm = alg
		return nil
	}
}

func DialWithRatchetThreshold(threshold uint64) DialOption {
	return func(d *Dialer) error {
		d.ratchetThreshold = threshold
		return nil
	}
}
