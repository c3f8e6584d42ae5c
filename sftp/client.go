// Package sftp is the remote source client: it opens an authenticated SFTP
// session, enumerates one directory and streams files out of it.
package sftp

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"path"
	"strconv"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	ingesterrors "github.com/input-output-hk/sftp-ingest/errors"
)

// Client is an open SFTP session. It is not safe for concurrent use.
type Client struct {
	addr    string
	conn    *ssh.Client
	session *sftp.Client
	logger  zerolog.Logger
}

type options struct {
	knownHosts  string
	dialTimeout time.Duration
	logger      zerolog.Logger
}

// Option configures Connect.
type Option func(*options)

// WithKnownHosts verifies the server host key against an OpenSSH known_hosts
// file. Without it any host key is accepted.
func WithKnownHosts(path string) Option {
	return func(o *options) {
		o.knownHosts = path
	}
}

// WithDialTimeout bounds the TCP dial and the SSH handshake. Zero leaves the
// limit to the context and the operating system.
func WithDialTimeout(d time.Duration) Option {
	return func(o *options) {
		o.dialTimeout = d
	}
}

// WithLogger sets the logger for connection diagnostics.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Connect opens a TCP connection to host:port, authenticates with username and
// password and starts the sftp subsystem.
//
// Errors:
//   - CONNECTION_ERROR: the TCP dial failed or the server refused the sftp subsystem
//   - AUTHENTICATION_ERROR: the channel opened but the SSH handshake or login failed
//   - INVALID_CONFIGURATION: the known_hosts file could not be loaded
func Connect(ctx context.Context, host string, port int, username, password string, opts ...Option) (*Client, error) {
	o := &options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	log := o.logger.With().Str("addr", addr).Logger()

	hostKeyCallback, err := hostKeyCallback(o.knownHosts, log)
	if err != nil {
		return nil, ingesterrors.Configuration("connect", err)
	}

	dialer := net.Dialer{Timeout: o.dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, ingesterrors.Connection("connect", fmt.Errorf("dial %s: %w", addr, err))
	}

	config := &ssh.ClientConfig{
		User: username,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         o.dialTimeout,
	}

	sshConn, err := handshake(ctx, netConn, addr, config, o.dialTimeout)
	if err != nil {
		_ = netConn.Close()
		return nil, ingesterrors.Authentication("connect", fmt.Errorf("ssh handshake with %s: %w", addr, err))
	}

	sftpClient, err := sftp.NewClient(sshConn)
	if err != nil {
		_ = sshConn.Close()
		return nil, ingesterrors.Connection("connect", fmt.Errorf("start sftp subsystem: %w", err))
	}

	log.Info().Str("user", username).Msg("sftp session established")

	return &Client{
		addr:    addr,
		conn:    sshConn,
		session: sftpClient,
		logger:  o.logger,
	}, nil
}

// handshake runs the SSH handshake over conn, aborting it when ctx ends.
func handshake(
	ctx context.Context,
	conn net.Conn,
	addr string,
	config *ssh.ClientConfig,
	timeout time.Duration,
) (*ssh.Client, error) {
	if timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(timeout))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, err
	}
	if !stop() {
		_ = c.Close()
		return nil, ctx.Err()
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

func hostKeyCallback(knownHostsPath string, log zerolog.Logger) (ssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
			log.Warn().
				Str("host", hostname).
				Str("fingerprint", ssh.FingerprintSHA256(key)).
				Msg("accepting unverified host key")
			return nil
		}, nil
	}

	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", knownHostsPath, err)
	}
	return callback, nil
}

// ListDirectory returns the names of the files in dir, in the order the
// server returns them. Sub-directories are skipped. The listing does not
// recurse.
func (c *Client) ListDirectory(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, ingesterrors.Transfer("list", err)
	}

	entries, err := c.session.ReadDir(dir)
	if err != nil {
		return nil, ingesterrors.Transfer("list", fmt.Errorf("read dir %s: %w", dir, err))
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			c.logger.Debug().Str("dir", dir).Str("name", entry.Name()).Msg("skipping sub-directory")
			continue
		}
		names = append(names, entry.Name())
	}

	c.logger.Debug().Str("dir", dir).Int("files", len(names)).Msg("listed remote directory")

	return names, nil
}

// OpenForRead opens dir/name for sequential reading. The caller must close
// the returned stream.
func (c *Client) OpenForRead(ctx context.Context, dir, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, ingesterrors.Transfer("open", err)
	}

	p := path.Join(dir, name)
	f, err := c.session.Open(p)
	if err != nil {
		return nil, ingesterrors.Transfer("open", fmt.Errorf("open %s: %w", p, err))
	}

	return f, nil
}

// Close ends the sftp session and the SSH connection.
func (c *Client) Close() error {
	sftpErr := c.session.Close()
	connErr := c.conn.Close()
	if err := stderrors.Join(sftpErr, connErr); err != nil {
		return fmt.Errorf("close sftp session %s: %w", c.addr, err)
	}
	return nil
}
