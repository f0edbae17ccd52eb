// Package bridge wires the pieces together: persisted settings, the secret
// store, the optional SSH tunnel, the gateway connection, and the session
// registry. The API layer talks to a Bridge and nothing below it.
package bridge

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/clawdesk/clawdesk/internal/config"
	"github.com/clawdesk/clawdesk/internal/domain"
	"github.com/clawdesk/clawdesk/internal/gateway"
	"github.com/clawdesk/clawdesk/internal/session"
	"github.com/clawdesk/clawdesk/internal/tunnel"
)

var (
	// ErrNoCredentials means neither a token nor a password is configured.
	ErrNoCredentials = errors.New("no gateway credential configured")

	// ErrNoGatewayURL means the settings carry no websocket URL to dial.
	ErrNoGatewayURL = errors.New("no gateway url configured")
)

// pendingCapacity bounds messages buffered before the first connect,
// matching the connection's own queue capacity.
const pendingCapacity = 100

type pendingSend struct {
	channel string
	text    string
}

// Bridge is the root coordinator. One Bridge per process.
type Bridge struct {
	cfgStore *config.Store
	tunnels  *tunnel.Manager
	events   *domain.Stream
	sessions *session.Registry
	logger   *zap.Logger

	mu      sync.Mutex
	conn    *gateway.Conn
	pending []pendingSend
}

func New(cfgStore *config.Store, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		cfgStore: cfgStore,
		tunnels:  tunnel.NewManager(logger.Named("tunnel")),
		events:   domain.NewStream(),
		logger:   logger,
	}
	b.sessions = session.NewRegistry(b, b.events, logger.Named("session"))
	return b
}

// Start restores persisted session state and, when auto-login is enabled,
// kicks off the first connect.
func (b *Bridge) Start() error {
	settings, err := b.cfgStore.Load()
	if err != nil {
		return err
	}

	if settings.CurrentSession != "" {
		b.sessions.Restore(settings.CurrentSession, "")
		if err := b.sessions.Select(settings.CurrentSession); err != nil {
			b.logger.Warn("persisted session could not be selected", zap.Error(err))
		}
	}

	if settings.AutoLogin {
		if err := b.Connect(); err != nil {
			// Auto-login is best effort; the user can connect manually.
			b.logger.Warn("auto-login connect failed", zap.Error(err))
		}
	}
	return nil
}

// Events exposes the upward event stream for SSE and websocket fanout.
func (b *Bridge) Events() *domain.Stream {
	return b.events
}

// Sessions exposes the session registry.
func (b *Bridge) Sessions() *session.Registry {
	return b.sessions
}

// SendMessage implements session.Sender. Messages sent before the first
// connect are buffered and flushed into the connection's queue on Connect.
func (b *Bridge) SendMessage(channel, text string) {
	b.mu.Lock()
	conn := b.conn
	if conn == nil {
		if len(b.pending) >= pendingCapacity {
			dropped := b.pending[0]
			b.pending = b.pending[1:]
			b.mu.Unlock()
			b.logger.Warn("pre-connect buffer full, oldest message dropped",
				zap.String("session", dropped.channel))
			b.events.Publish(domain.NewQueueOverflowEvent(dropped.channel))
			b.mu.Lock()
		}
		b.pending = append(b.pending, pendingSend{channel: channel, text: text})
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()
	conn.SendMessage(channel, text)
}

// Connect builds a connection from the current settings and starts it.
// Settings are re-read here so credential or tunnel changes take effect on
// the next connect without a restart.
func (b *Bridge) Connect() error {
	settings, err := b.cfgStore.Load()
	if err != nil {
		return err
	}
	if settings.GatewayWSURL == "" {
		return ErrNoGatewayURL
	}

	tunnelCfg, err := tunnelConfig(settings)
	if err != nil {
		return err
	}

	b.mu.Lock()
	prev := b.conn
	if prev != nil {
		switch prev.State() {
		case domain.ConnStateDisconnected, domain.ConnStateFailed:
			// idle connection from a previous configuration; replace it
			// below but keep its queued sends
		default:
			b.mu.Unlock()
			return prev.Connect() // surfaces ErrAlreadyRunning
		}
	}

	conn := gateway.New(gateway.Config{
		URL:         settings.GatewayWSURL,
		Credentials: b.credentials,
		Tunnel:      tunnelCfg,
	}, b.tunnels, b.events, b.logger.Named("gateway"))
	conn.SetFragmentHandler(b.sessions.RouteInbound)
	conn.AdoptQueue(prev)

	pending := b.pending
	b.pending = nil
	b.conn = conn
	b.mu.Unlock()

	for _, p := range pending {
		conn.SendMessage(p.channel, p.text)
	}
	return conn.Connect()
}

// Disconnect stops the connection if one is running. Queued messages stay
// queued for the next connect.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
}

// Close shuts everything down for process exit.
func (b *Bridge) Close() {
	b.Disconnect()
	b.tunnels.Close()
	b.events.Close()
}

// State reports the connection state; Disconnected when no connection has
// been built yet.
func (b *Bridge) State() domain.ConnState {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return domain.ConnStateDisconnected
	}
	return conn.State()
}

// Transitions returns the connection's transition history.
func (b *Bridge) Transitions() []domain.StateTransition {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Transitions()
}

// QueueDepth reports how many outbound messages await delivery.
func (b *Bridge) QueueDepth() int {
	b.mu.Lock()
	conn := b.conn
	pending := len(b.pending)
	b.mu.Unlock()
	if conn == nil {
		return pending
	}
	return conn.QueueDepth()
}

// CreateSession makes a new session, selects it, and persists the
// selection.
func (b *Bridge) CreateSession(botID string) (session.Snapshot, error) {
	s := b.sessions.Create(botID)
	if _, err := b.cfgStore.Update(func(st *config.Settings) {
		st.CurrentSession = s.ID
	}); err != nil {
		return session.Snapshot{}, err
	}
	snaps := b.sessions.List()
	for _, snap := range snaps {
		if snap.ID == s.ID {
			return snap, nil
		}
	}
	return session.Snapshot{}, fmt.Errorf("created session %s not found", s.ID)
}

// SelectSession switches the displayed session and persists the selection.
func (b *Bridge) SelectSession(id string) error {
	if err := b.sessions.Select(id); err != nil {
		return err
	}
	_, err := b.cfgStore.Update(func(st *config.Settings) {
		st.CurrentSession = id
	})
	return err
}

// DeleteSession removes a session and clears the persisted selection if it
// pointed at the deleted one.
func (b *Bridge) DeleteSession(id string) error {
	if err := b.sessions.Delete(id); err != nil {
		return err
	}
	_, err := b.cfgStore.Update(func(st *config.Settings) {
		if st.CurrentSession == id {
			st.CurrentSession = ""
		}
	})
	return err
}

// SendUserMessage records a user message on the session and queues it for
// the gateway.
func (b *Bridge) SendUserMessage(sessionID, text string) (domain.Message, error) {
	return b.sessions.AppendOutbound(sessionID, text)
}

// Settings returns the current settings with plaintext credentials.
// Callers that serve external clients must redact before responding.
func (b *Bridge) Settings() (config.Settings, error) {
	return b.cfgStore.Load()
}

// UpdateSettings applies mutate to the persisted settings.
func (b *Bridge) UpdateSettings(mutate func(*config.Settings)) (config.Settings, error) {
	return b.cfgStore.Update(mutate)
}

// credentials produces the auth material for one connection attempt.
// Decryption happens inside the config store's Load; plaintext lives only
// in the returned struct.
func (b *Bridge) credentials() (gateway.Credentials, error) {
	settings, err := b.cfgStore.Load()
	if err != nil {
		return gateway.Credentials{}, err
	}
	if settings.GatewayToken == "" && settings.GatewayPassword == "" {
		return gateway.Credentials{}, ErrNoCredentials
	}
	return gateway.Credentials{
		Token:    settings.GatewayToken,
		Password: settings.GatewayPassword,
	}, nil
}

// tunnelConfig derives the forward target from the gateway URL when SSH is
// enabled. The connection dials the local endpoint instead of the gateway
// host.
func tunnelConfig(settings config.Settings) (*tunnel.Config, error) {
	if !settings.SSHEnabled {
		return nil, nil
	}
	u, err := url.Parse(settings.GatewayWSURL)
	if err != nil {
		return nil, fmt.Errorf("gateway url: %w", err)
	}
	port := 80
	if u.Scheme == "wss" {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("gateway url port: %w", err)
		}
	}
	return &tunnel.Config{
		User:       settings.SSHUsername,
		Host:       settings.SSHServer,
		Password:   settings.SSHPassword,
		RemoteHost: u.Hostname(),
		RemotePort: port,
	}, nil
}
