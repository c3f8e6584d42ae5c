// Package sftptest runs an in-process SSH server with the sftp subsystem for
// tests. The server serves the local filesystem and authenticates one user by
// password. Remote paths are absolute local paths, usually under Dir.
package sftptest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	// DefaultUsername is the user accepted unless WithCredentials is given.
	DefaultUsername = "ingest"
	// DefaultPassword is the password accepted unless WithCredentials is given.
	DefaultPassword = "ingest-password"
)

// Server is a running SSH+SFTP server bound to 127.0.0.1.
type Server struct {
	t        testing.TB
	listener net.Listener
	config   *ssh.ServerConfig
	hostKey  ssh.PublicKey
	dir      string

	username        string
	password        string
	rejectSubsystem bool

	logins   atomic.Int32
	sessions atomic.Int32

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithCredentials sets the accepted username and password.
func WithCredentials(username, password string) Option {
	return func(s *Server) {
		s.username = username
		s.password = password
	}
}

// WithRejectSubsystem makes the server refuse the sftp subsystem request after
// a successful login.
func WithRejectSubsystem() Option {
	return func(s *Server) {
		s.rejectSubsystem = true
	}
}

// NewServer starts a server and registers its shutdown with t.Cleanup.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()

	s := &Server{
		t:        t,
		dir:      t.TempDir(),
		username: DefaultUsername,
		password: DefaultPassword,
		conns:    make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	signer, pub := generateHostKey(t)
	s.hostKey = pub
	s.config = &ssh.ServerConfig{
		PasswordCallback: func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if conn.User() == s.username && string(password) == s.password {
				s.logins.Add(1)
				return nil, nil
			}
			return nil, errors.New("invalid credentials")
		},
	}
	s.config.AddHostKey(signer)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	s.listener = l

	s.wg.Add(1)
	go s.acceptLoop()

	t.Cleanup(s.Close)

	return s
}

func generateHostKey(t testing.TB) (ssh.Signer, ssh.PublicKey) {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate host key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("failed to create host key signer: %v", err)
	}
	return signer, signer.PublicKey()
}

// Host returns the listening address without the port.
func (s *Server) Host() string {
	return "127.0.0.1"
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host(), strconv.Itoa(s.Port()))
}

// Dir returns the directory created for the test to serve files from.
func (s *Server) Dir() string {
	return s.dir
}

// HostKey returns the server's public host key.
func (s *Server) HostKey() ssh.PublicKey {
	return s.hostKey
}

// Logins returns the number of successful password authentications.
func (s *Server) Logins() int {
	return int(s.logins.Load())
}

// Sessions returns the number of sftp subsystems started.
func (s *Server) Sessions() int {
	return int(s.sessions.Load())
}

// WriteFile creates name under Dir, including parent directories.
func (s *Server) WriteFile(name string, data []byte) string {
	s.t.Helper()

	p := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		s.t.Fatalf("failed to create parent of %s: %v", name, err)
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		s.t.Fatalf("failed to write %s: %v", name, err)
	}
	return p
}

// Mkdir creates a directory under Dir.
func (s *Server) Mkdir(name string) string {
	s.t.Helper()

	p := filepath.Join(s.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(p, 0o755); err != nil {
		s.t.Fatalf("failed to create %s: %v", name, err)
	}
	return p
}

// KnownHostsFile writes a known_hosts file trusting key for this server and
// returns its path. A nil key trusts the server's own host key.
func (s *Server) KnownHostsFile(key ssh.PublicKey) string {
	s.t.Helper()

	if key == nil {
		key = s.hostKey
	}
	line := knownhosts.Line([]string{knownhosts.Normalize(s.Addr())}, key)

	p := filepath.Join(s.t.TempDir(), "known_hosts")
	if err := os.WriteFile(p, []byte(line+"\n"), 0o600); err != nil {
		s.t.Fatalf("failed to write known_hosts: %v", err)
	}
	return p
}

// Close stops accepting, drops open connections and waits for handlers.
func (s *Server) Close() {
	_ = s.listener.Close()

	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		return
	}
	defer func() { _ = sshConn.Close() }()

	go ssh.DiscardRequests(reqs)

	var sessions sync.WaitGroup
	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		ch, requests, err := newChannel.Accept()
		if err != nil {
			break
		}
		sessions.Add(1)
		go func() {
			defer sessions.Done()
			s.serveSession(ch, requests)
		}()
	}
	sessions.Wait()
}

func (s *Server) serveSession(ch ssh.Channel, requests <-chan *ssh.Request) {
	var served sync.WaitGroup
	started := false

	for req := range requests {
		ok := !started && !s.rejectSubsystem &&
			req.Type == "subsystem" && subsystemName(req.Payload) == "sftp"
		if req.WantReply {
			_ = req.Reply(ok, nil)
		}
		if !ok {
			continue
		}

		started = true
		s.sessions.Add(1)
		served.Add(1)
		go func() {
			defer served.Done()
			s.serveSFTP(ch)
		}()
	}

	if !started {
		_ = ch.Close()
	}
	served.Wait()
}

func (s *Server) serveSFTP(ch ssh.Channel) {
	defer func() { _ = ch.Close() }()

	server, err := sftp.NewServer(ch)
	if err != nil {
		return
	}
	_ = server.Serve()
	_ = server.Close()
}

// subsystemName decodes the SSH string carried by a subsystem request.
func subsystemName(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload)
	if uint64(n) > uint64(len(payload)-4) {
		return ""
	}
	return string(payload[4 : 4+n])
}

// ClosedPort returns a localhost port that nothing is listening on.
func ClosedPort(t testing.TB) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()
	return port
}
