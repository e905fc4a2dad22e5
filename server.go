package kamune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/ventra-chat/ventra/internal/workerpool"
	"github.com/ventra-chat/ventra/pkg/attest"
)

// defaultServerPoolSize bounds how many accepted connections a Server
// handshakes and services concurrently, so a burst of dials can't spawn an
// unbounded number of goroutines ahead of the application's own backpressure.
const defaultServerPoolSize = 256

// HandlerFunc processes an established Transport accepted by a Server.
type HandlerFunc func(t *Transport) error

// Server accepts connections on a fixed address and dispatches each
// established Transport to a HandlerFunc on its own goroutine.
type Server struct {
	addr             string
	handlerFunc      HandlerFunc
	storage          *Storage
	attester         attest.Attester
	remoteVerifier   RemoteVerifier
	algorithm        attest.Algorithm
	ratchetThreshold uint64
	pool             *workerpool.Pool
}

// NewServer builds a Server bound to addr. Unless overridden with
// ServeWithStorage / ServeWithStorageOpts, it opens the default on-disk
// Storage and derives its identity from it.
func NewServer(addr string, handler HandlerFunc, opts ...ServerOption) (*Server, error) {
	s := &Server{
		addr:             addr,
		handlerFunc:      handler,
		remoteVerifier:   defaultRemoteVerifier,
		algorithm:        attest.Ed25519Algorithm,
		ratchetThreshold: defaultRatchetThreshold,
	}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}
	if s.pool == nil {
		s.pool = workerpool.New(defaultServerPoolSize)
	}

	if s.storage == nil {
		st, err := OpenStorage(StorageWithAlgorithm(s.algorithm))
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		s.storage = st
	}
	if s.attester == nil {
		at, err := s.storage.attester()
		if err != nil {
			return nil, fmt.Errorf("loading identity: %w", err)
		}
		s.attester = at
	}

	return s, nil
}

// PublicKey returns the identity this server advertises during introduction.
func (s *Server) PublicKey() PublicKey {
	return s.attester.PublicKey()
}

func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	defer l.Close()
	return s.Serve(l)
}

func (s *Server) Serve(l net.Listener) error {
	defer s.pool.Close()

	for {
		conn, err := l.Accept()
		if err != nil {
			return fmt.Errorf("accepting connection: %w", err)
		}
		err = s.pool.Submit(context.Background(), func() {
			if err := s.serve(conn); err != nil {
				s.log(slog.LevelWarn, "serve conn", slog.Any("err", err))
			}
		})
		if err != nil {
			s.log(slog.LevelWarn, "dispatch conn", slog.Any("err", err))
			_ = conn.Close()
		}
	}
}

func (s *Server) serve(c net.Conn) error {
	conn, err := newConn(c)
	if err != nil {
		return fmt.Errorf("wrapping conn: %w", err)
	}
	defer func() {
		if err := recover(); err != nil {
			s.log(slog.LevelError, "serve panic", slog.Any("err", err))
		}
		if !conn.isClosed {
			if err := conn.Close(); err != nil {
				s.log(slog.LevelError, "close conn", slog.Any("err", err))
			}
		}
	}()

	st, _, err := readSignedTransport(conn)
	if err != nil {
		return fmt.Errorf("reading introduction: %w", err)
	}
	peer, err := receiveIntroduction(st)
	if err != nil {
		return fmt.Errorf("receive introduction: %w", err)
	}
	if err := s.remoteVerifier(s.storage, peer); err != nil {
		return fmt.Errorf("verify remote: %w", err)
	}

	name, err := os.Hostname()
	if err != nil {
		name = "kamune"
	}
	if err := sendIntroduction(conn, name, s.attester, s.algorithm); err != nil {
		return fmt.Errorf("send introduction: %w", err)
	}

	pt := newPlainTransport(conn, peer.PublicKey, s.attester, s.storage)
	t, err := acceptHandshake(pt, handshakeOpts{
		ratchetThreshold: s.ratchetThreshold,
		remoteVerifier:   s.remoteVerifier,
	})
	if err != nil {
		return fmt.Errorf("accept handshake: %w", err)
	}

	if err := s.handlerFunc(t); err != nil {
		return fmt.Errorf("handler: %w", err)
	}

	return nil
}

func (*Server) log(lvl slog.Level, msg string, args ...any) {
	slog.Log(context.Background(), lvl, msg, args...)
}

type ServerOption func(*Server) error

// ServeWithStorageOpts opens a fresh Storage for this server using opts.
func ServeWithStorageOpts(opts ...StorageOption) ServerOption {
	return func(s *Server) error {
		if s.storage != nil {
			return errors.New("server already has a storage override")
		}
		st, err := OpenStorage(opts...)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		s.storage = st
		return nil
	}
}

// ServeWithStorage uses an already-open Storage, rather than opening one.
func ServeWithStorage(storage *Storage) ServerOption {
	return func(s *Server) error {
		if s.storage != nil {
			return errors.New("server already has a storage override")
		}
		s.storage = storage
		return nil
	}
}

// ServeWithAttester sets the server's identity directly, bypassing storage.
func ServeWithAttester(attester attest.Attester) ServerOption {
	return func(s *Server) error {
		s.attester = attester
		return nil
	}
}

func ServeWithRemoteVerifier(remote RemoteVerifier) ServerOption {
	return func(s *Server) error {
		s.remoteVerifier = remote
		return nil
	}
}

func ServeWithAlgorithm(alg attest.Algorithm) ServerOption {
	return func(s *Server) error {
		s.algorithm = alg
		return nil
	}
}

func ServeWithRatchetThreshold(threshold uint64) ServerOption {
	return func(s *Server) error {
		s.ratchetThreshold = threshold
		return nil
	}
}

// ServeWithWorkerPoolSize bounds the number of connections a Server
// handshakes and services concurrently. Defaults to defaultServerPoolSize.
func ServeWithWorkerPoolSize(size int) ServerOption {
	return func(s *Server) error {
		s.pool = workerpool.New(size)
		return nil
	}
}

// Listener is a lower-level alternative to Server: instead of dispatching
// each Transport to a callback, it hands them back one at a time from
// Accept, for callers that want to drive the accept loop themselves (tests,
// custom schedulers).
type Listener struct {
	ln               net.Listener
	storage          *Storage
	attester         attest.Attester
	remoteVerifier   RemoteVerifier
	algorithm        attest.Algorithm
	ratchetThreshold uint64
}

// NewListener binds addr and returns a Listener ready to Accept connections.
func NewListener(addr string, opts ...ListenerOption) (*Listener, error) {
	l := &Listener{
		remoteVerifier:   defaultRemoteVerifier,
		algorithm:        attest.Ed25519Algorithm,
		ratchetThreshold: defaultRatchetThreshold,
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("applying options: %w", err)
		}
	}

	if l.storage == nil {
		st, err := OpenStorage(StorageWithAlgorithm(l.algorithm))
		if err != nil {
			return nil, fmt.Errorf("opening storage: %w", err)
		}
		l.storage = st
	}
	if l.attester == nil {
		at, err := l.storage.attester()
		if err != nil {
			return nil, fmt.Errorf("loading identity: %w", err)
		}
		l.attester = at
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	l.ln = ln

	return l, nil
}

// Addr returns the listener's bound network address.
func (l *Listener) Addr() net.Addr { return l.ln.Addr() }

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }

// PublicKey returns the identity this listener advertises during introduction.
func (l *Listener) PublicKey() PublicKey { return l.attester.PublicKey() }

// Accept blocks for the next incoming connection, runs the introduction and
// responder handshake against it, and returns an established Transport.
func (l *Listener) Accept() (*Transport, error) {
	c, err := l.ln.Accept()
	if err != nil {
		return nil, fmt.Errorf("accepting connection: %w", err)
	}
	conn, err := newConn(c)
	if err != nil {
		return nil, fmt.Errorf("wrapping conn: %w", err)
	}

	st, _, err := readSignedTransport(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reading introduction: %w", err)
	}
	peer, err := receiveIntroduction(st)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("receive introduction: %w", err)
	}
	if err := l.remoteVerifier(l.storage, peer); err != nil {
		conn.Close()
		return nil, fmt.Errorf("verify remote: %w", err)
	}

	name, err := os.Hostname()
	if err != nil {
		name = "kamune"
	}
	if err := sendIntroduction(conn, name, l.attester, l.algorithm); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send introduction: %w", err)
	}

	pt := newPlainTransport(conn, peer.PublicKey, l.attester, l.storage)
	t, err := acceptHandshake(pt, handshakeOpts{
		ratchetThreshold: l.ratchetThreshold,
		remoteVerifier:   l.remoteVerifier,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("accept handshake: %w", err)
	}

	return t, nil
}

type ListenerOption func(*Listener) error

func ListenerWithStorage(storage *Storage) ListenerOption {
	return func(l *Listener) error {
		l.storage = storage
		return nil
	}
}

func ListenerWithAttester(attester attest.Attester) ListenerOption {
	return func(l *Listener) error {
		l.attester = attester
		return nil
	}
}

func ListenerWithRemoteVerifier(verifier RemoteVerifier) ListenerOption {
	return func(l *Listener) error {
		l.remoteVerifier = verifier
		return nil
	}
}

func ListenerWithAlgorithm(alg attest.Algorithm) ListenerOption {
	return func(l *Listener) error {
		l.algorithm = alg
		return nil
	}
}
