// Package tunnel maintains an SSH local port forward so the gateway
// connection can dial 127.0.0.1 instead of a host that is not directly
// reachable. The forward mirrors `ssh -N -L local:remote`: a local
// listener relays every accepted connection through a direct-tcpip
// channel on an authenticated SSH session.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

var (
	// ErrAuthFailure means the SSH credential was rejected. Not retried
	// automatically; the user has to fix the credential.
	ErrAuthFailure = errors.New("tunnel ssh auth failure")

	// ErrNetworkFailure means the SSH host was unreachable. The owning
	// connection's backoff cycle retries it.
	ErrNetworkFailure = errors.New("tunnel network failure")

	// ErrPortInUse means the local forward port is already bound.
	ErrPortInUse = errors.New("tunnel local port in use")
)

// Config describes one local forward. LocalPort 0 lets the OS choose.
type Config struct {
	User     string
	Host     string // ssh host, port 22 unless Host carries an explicit :port
	Password string // empty means key/agent auth via SSH_AUTH_SOCK

	LocalPort  int
	RemoteHost string
	RemotePort int
}

func (c Config) sshAddr() string {
	if strings.Contains(c.Host, ":") {
		return c.Host
	}
	return net.JoinHostPort(c.Host, "22")
}

func (c Config) remoteAddr() string {
	return net.JoinHostPort(c.RemoteHost, fmt.Sprint(c.RemotePort))
}

// Manager owns at most one forward at a time. Open and Close are mutually
// exclusive, so an overlapping connect/disconnect cannot race.
type Manager struct {
	logger *zap.Logger

	mu       sync.Mutex
	cfg      Config
	client   *ssh.Client
	listener net.Listener
	endpoint string
	open     bool
}

func NewManager(logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{logger: logger}
}

// Open establishes the forward and returns the local endpoint
// ("127.0.0.1:<port>"). Calling Open again with the same config returns the
// existing endpoint instead of opening a duplicate; a different config
// closes the old forward first.
func (m *Manager) Open(ctx context.Context, cfg Config) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.open {
		if m.cfg == cfg {
			return m.endpoint, nil
		}
		m.closeLocked()
	}

	client, err := dialSSH(ctx, cfg)
	if err != nil {
		return "", err
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.LocalPort))
	if err != nil {
		client.Close()
		if errors.Is(err, syscall.EADDRINUSE) {
			return "", fmt.Errorf("%w: %d", ErrPortInUse, cfg.LocalPort)
		}
		return "", fmt.Errorf("%w: listen: %v", ErrNetworkFailure, err)
	}

	m.cfg = cfg
	m.client = client
	m.listener = listener
	m.endpoint = listener.Addr().String()
	m.open = true

	m.logger.Info("ssh tunnel established",
		zap.String("local", m.endpoint),
		zap.String("remote", cfg.remoteAddr()))

	go m.acceptLoop(listener, client, cfg.remoteAddr())

	return m.endpoint, nil
}

// Close releases the listener and the SSH session. Safe to call when the
// forward never fully opened, and safe to call more than once.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeLocked()
}

// Endpoint returns the local endpoint while the forward is open.
func (m *Manager) Endpoint() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint, m.open
}

func (m *Manager) closeLocked() {
	if m.listener != nil {
		_ = m.listener.Close()
		m.listener = nil
	}
	if m.client != nil {
		_ = m.client.Close()
		m.client = nil
	}
	if m.open {
		m.logger.Info("ssh tunnel closed", zap.String("local", m.endpoint))
	}
	m.endpoint = ""
	m.open = false
}

func (m *Manager) acceptLoop(listener net.Listener, client *ssh.Client, remoteAddr string) {
	for {
		local, err := listener.Accept()
		if err != nil {
			return // listener closed
		}
		go m.relay(local, client, remoteAddr)
	}
}

func (m *Manager) relay(local net.Conn, client *ssh.Client, remoteAddr string) {
	remote, err := client.Dial("tcp", remoteAddr)
	if err != nil {
		m.logger.Warn("tunnel channel open failed", zap.String("remote", remoteAddr), zap.Error(err))
		local.Close()
		return
	}

	done := make(chan struct{}, 2)
	pump := func(dst, src net.Conn) {
		_, _ = io.Copy(dst, src)
		done <- struct{}{}
	}
	go pump(remote, local)
	go pump(local, remote)
	<-done
	local.Close()
	remote.Close()
}

func dialSSH(ctx context.Context, cfg Config) (*ssh.Client, error) {
	auth, err := authMethods(cfg)
	if err != nil {
		return nil, err
	}

	clientConfig := &ssh.ClientConfig{
		User: cfg.User,
		Auth: auth,
		// Matches accept-new behaviour of the desktop client; the tunnel
		// only ever targets hosts the user configured themselves.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}

	dialer := net.Dialer{Timeout: clientConfig.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", cfg.sshAddr())
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrNetworkFailure, cfg.sshAddr(), err)
	}

	conn, chans, reqs, err := ssh.NewClientConn(raw, cfg.sshAddr(), clientConfig)
	if err != nil {
		raw.Close()
		return nil, classifyHandshakeError(err)
	}
	return ssh.NewClient(conn, chans, reqs), nil
}

func authMethods(cfg Config) ([]ssh.AuthMethod, error) {
	if cfg.Password != "" {
		return []ssh.AuthMethod{
			ssh.Password(cfg.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = cfg.Password
				}
				return answers, nil
			}),
		}, nil
	}

	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, fmt.Errorf("%w: no password and no ssh agent (SSH_AUTH_SOCK unset)", ErrAuthFailure)
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, fmt.Errorf("%w: ssh agent: %v", ErrAuthFailure, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeysCallback(agent.NewClient(conn).Signers)}, nil
}

// classifyHandshakeError separates credential rejections (the user must
// re-enter a credential) from transient transport problems (retried by the
// owner's backoff cycle).
func classifyHandshakeError(err error) error {
	if strings.Contains(err.Error(), "unable to authenticate") ||
		strings.Contains(err.Error(), "no supported methods remain") {
		return fmt.Errorf("%w: %v", ErrAuthFailure, err)
	}
	return fmt.Errorf("%w: handshake: %v", ErrNetworkFailure, err)
}
