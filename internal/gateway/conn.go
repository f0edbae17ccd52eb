// Package gateway owns the single websocket connection to the remote
// gateway: the connect/authenticate handshake, the heartbeat, the
// reconnect-with-backoff state machine, the optional SSH tunnel lifecycle,
// and the bounded outbound send queue. The connection goroutine is the sole
// mutator of the connection state; everything else takes snapshot reads.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/clawdesk/clawdesk/internal/domain"
	"github.com/clawdesk/clawdesk/internal/protocol"
	"github.com/clawdesk/clawdesk/internal/tunnel"
)

var (
	ErrAlreadyRunning = errors.New("gateway connection already running")

	// ErrAuthRejected is a single credential rejection from the gateway.
	ErrAuthRejected = errors.New("gateway rejected credentials")

	// ErrAuthFailed means the rejection limit was hit; the connection goes
	// to Failed instead of retrying a known-bad credential forever.
	ErrAuthFailed = errors.New("gateway auth failed after retries")

	// ErrCredentials means the credential could not be produced at all
	// (e.g. the stored secret failed to decrypt).
	ErrCredentials = errors.New("credential unavailable")

	errHeartbeat = errors.New("heartbeat timed out")
)

// maxTransitionHistory bounds the retained transition records.
const maxTransitionHistory = 64

// Credentials is the decrypted secret material for one connection attempt.
// It lives only on the stack of the authenticating goroutine.
type Credentials struct {
	Token    string
	Password string
}

// CredentialSource produces credentials just in time for the auth frame, so
// plaintext secrets are never held for the lifetime of the process.
type CredentialSource func() (Credentials, error)

// FragmentHandler receives every inbound stream fragment, in wire order.
type FragmentHandler func(domain.Fragment)

// Config parameterises one connection. Immutable once passed to New; a new
// attempt with updated settings means a new Conn.
type Config struct {
	URL         string
	Credentials CredentialSource
	Tunnel      *tunnel.Config

	DialTimeout       time.Duration
	AuthTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatMisses   int
	MaxAuthRejections int
	QueueCapacity     int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	StabilityWindow   time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.HeartbeatMisses <= 0 {
		c.HeartbeatMisses = 2
	}
	if c.MaxAuthRejections <= 0 {
		c.MaxAuthRejections = 3
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 100
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.StabilityWindow <= 0 {
		c.StabilityWindow = 30 * time.Second
	}
	return c
}

// Conn is the gateway connection state machine.
type Conn struct {
	cfg     Config
	tunnels *tunnel.Manager
	events  *domain.Stream
	logger  *zap.Logger

	queue *sendQueue

	onFragment FragmentHandler

	mu             sync.RWMutex
	state          domain.ConnState
	transitions    []domain.StateTransition
	authRejections int
	running        bool
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func New(cfg Config, tunnels *tunnel.Manager, events *domain.Stream, logger *zap.Logger) *Conn {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	return &Conn{
		cfg:     cfg,
		tunnels: tunnels,
		events:  events,
		logger:  logger,
		queue:   newSendQueue(cfg.QueueCapacity),
		state:   domain.ConnStateDisconnected,
	}
}

// SetFragmentHandler wires the inbound routing target. Must be called
// before Connect.
func (c *Conn) SetFragmentHandler(h FragmentHandler) {
	c.onFragment = h
}

// State returns a snapshot of the current connection state.
func (c *Conn) State() domain.ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Transitions returns a copy of the applied transitions.
func (c *Conn) Transitions() []domain.StateTransition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.StateTransition, len(c.transitions))
	copy(out, c.transitions)
	return out
}

// QueueDepth reports how many outbound entries are waiting.
func (c *Conn) QueueDepth() int {
	return c.queue.Len()
}

// SendMessage queues one user message for the channel. Best-effort: while
// disconnected the message waits in the bounded queue; when the queue is
// full the oldest entry is dropped and surfaced as a queue_overflow event.
func (c *Conn) SendMessage(channel, text string) {
	data, err := protocol.Encode(protocol.NewMessageFrame(channel, text))
	if err != nil {
		c.logger.Error("encode outbound message", zap.Error(err))
		return
	}
	if dropped := c.queue.Push(queueEntry{SessionID: channel, Payload: data, EnqueuedAt: time.Now()}); dropped != nil {
		c.logger.Warn("outbound queue full, oldest entry dropped",
			zap.String("dropped_session", dropped.SessionID),
			zap.Int("capacity", c.cfg.QueueCapacity))
		c.events.Publish(domain.NewQueueOverflowEvent(dropped.SessionID))
	}
}

// AdoptQueue moves the pending outbound entries of prev into c, preserving
// enqueue order. Used when a connection is rebuilt with new settings so an
// explicit disconnect/connect cycle never loses queued sends. prev must not
// be running.
func (c *Conn) AdoptQueue(prev *Conn) {
	if prev == nil || prev == c {
		return
	}
	for {
		entry, ok := prev.queue.Peek()
		if !ok {
			return
		}
		prev.queue.Pop()
		if dropped := c.queue.Push(entry); dropped != nil {
			c.events.Publish(domain.NewQueueOverflowEvent(dropped.SessionID))
		}
	}
}

// Connect starts the connection loop. Queued entries from a previous run
// are kept and flushed once Connected.
func (c *Conn) Connect() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.running = true
	c.cancel = cancel
	c.authRejections = 0
	c.wg.Add(1)
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Disconnect stops the loop deterministically: it interrupts an in-flight
// dial or auth wait and any pending backoff timer, tears down the tunnel,
// and leaves queued outbound entries for the next connect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
	c.setState(domain.ConnStateDisconnected, "explicit disconnect")
}

// run is the connection loop: one iteration per connection attempt.
func (c *Conn) run(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	bo := newBackoff(c.cfg.BackoffBase, c.cfg.BackoffMax)

	for ctx.Err() == nil {
		c.setState(domain.ConnStateConnecting, "dialing gateway")

		err := c.runAttempt(ctx, bo)
		if ctx.Err() != nil {
			return // explicit disconnect; Disconnect sets the final state
		}

		if isFatal(err) {
			c.setState(domain.ConnStateFailed, err.Error())
			return
		}

		reason := "connection lost"
		if err != nil {
			reason = err.Error()
		}
		c.setState(domain.ConnStateReconnecting, reason)

		delay := bo.next()
		c.logger.Info("reconnect backoff", zap.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// isFatal separates errors that must not be retried with the same
// configuration from ordinary transport failures.
func isFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) ||
		errors.Is(err, ErrCredentials) ||
		errors.Is(err, tunnel.ErrAuthFailure)
}

// runAttempt performs a single connect → authenticate → pump cycle. The
// tunnel (when configured) is opened before the dial and closed after the
// socket is closed, in that strict order.
func (c *Conn) runAttempt(ctx context.Context, bo *backoff) error {
	endpoint := c.cfg.URL
	if c.cfg.Tunnel != nil {
		local, err := c.tunnels.Open(ctx, *c.cfg.Tunnel)
		if err != nil {
			return fmt.Errorf("tunnel: %w", err)
		}
		defer c.tunnels.Close() // runs after the socket close below
		endpoint, err = rewriteHost(c.cfg.URL, local)
		if err != nil {
			return err
		}
	}

	dialCtx, cancelDial := context.WithTimeout(ctx, c.cfg.DialTimeout)
	raw, _, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, nil)
	cancelDial()
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	conn := newWSConn(raw)
	defer conn.Close()

	// Unblock the reader on explicit disconnect.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-watchDone:
		}
	}()

	c.setState(domain.ConnStateAuthenticating, "socket established")
	if err := c.authenticate(conn); err != nil {
		return err
	}

	c.mu.Lock()
	c.authRejections = 0
	c.mu.Unlock()
	c.setState(domain.ConnStateConnected, "authenticated")
	connectedAt := time.Now()

	err = c.pump(ctx, conn)
	if time.Since(connectedAt) >= c.cfg.StabilityWindow {
		bo.reset()
	}
	return err
}

// authenticate sends the auth frame and waits for the gateway's verdict.
// The credential is produced just in time and never logged.
func (c *Conn) authenticate(conn *wsConn) error {
	creds, err := c.cfg.Credentials()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCredentials, err)
	}
	if err := conn.Send(protocol.NewAuthFrame(creds.Token, creds.Password)); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.AuthTimeout))
	defer conn.SetReadDeadline(time.Time{})

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("auth ack: %w", err)
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("undecodable frame during auth", zap.Int("bytes", len(data)))
			continue
		}
		switch f := frame.(type) {
		case protocol.AuthOKFrame:
			return nil
		case protocol.AuthRejectedFrame:
			return c.recordAuthRejection(f.Reason)
		default:
			// The gateway may interleave pings or snapshot frames before
			// the verdict; keep waiting until the deadline.
		}
	}
}

func (c *Conn) recordAuthRejection(reason string) error {
	c.mu.Lock()
	c.authRejections++
	n := c.authRejections
	c.mu.Unlock()

	final := n >= c.cfg.MaxAuthRejections
	c.logger.Warn("gateway rejected credentials",
		zap.Int("attempt", n),
		zap.Int("limit", c.cfg.MaxAuthRejections),
		zap.Bool("final", final))
	c.events.Publish(domain.NewAuthRejectedEvent(reason, n, final))

	if final {
		return fmt.Errorf("%w: %s", ErrAuthFailed, reason)
	}
	return fmt.Errorf("%w: %s", ErrAuthRejected, reason)
}

// pump runs the read loop in this goroutine with the write and heartbeat
// loops alongside, until the socket fails, the heartbeat trips, or the
// context is cancelled. There is exactly one reader and all writes are
// serialised through wsConn.
func (c *Conn) pump(ctx context.Context, conn *wsConn) error {
	errc := make(chan error, 2)
	done := make(chan struct{})
	defer close(done)

	pongs := make(chan struct{}, 1)

	go c.writeLoop(conn, done, errc)
	go c.heartbeatLoop(conn, done, errc, pongs)

	readErr := c.readLoop(conn, pongs)

	select {
	case err := <-errc:
		return err
	default:
		return readErr
	}
}

// writeLoop drains the outbound queue in enqueue order. Entries are only
// removed after a successful write, so a failed send is retried on the
// next connection.
func (c *Conn) writeLoop(conn *wsConn, done <-chan struct{}, errc chan<- error) {
	for {
		entry, ok := c.queue.Peek()
		if !ok {
			select {
			case <-done:
				return
			case <-c.queue.Notify():
				continue
			}
		}
		if err := conn.SendRaw(entry.Payload); err != nil {
			select {
			case errc <- fmt.Errorf("send: %w", err):
			default:
			}
			conn.Close()
			return
		}
		c.queue.Pop()
	}
}

// heartbeatLoop sends an application-level ping every interval and forces a
// reconnect when too many pongs are missed in a row.
func (c *Conn) heartbeatLoop(conn *wsConn, done <-chan struct{}, errc chan<- error, pongs <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	missed := 0
	for {
		select {
		case <-done:
			return
		case <-pongs:
			missed = 0
		case <-ticker.C:
			if missed >= c.cfg.HeartbeatMisses {
				select {
				case errc <- errHeartbeat:
				default:
				}
				conn.Close()
				return
			}
			missed++
			if err := conn.Send(protocol.PingFrame{Type: protocol.TypePing}); err != nil {
				select {
				case errc <- fmt.Errorf("ping: %w", err):
				default:
				}
				conn.Close()
				return
			}
		}
	}
}

// readLoop decodes inbound frames and dispatches stream fragments. A frame
// that fails to decode is logged and skipped; it never tears down the
// connection.
func (c *Conn) readLoop(conn *wsConn, pongs chan<- struct{}) error {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		frame, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warn("undecodable frame skipped", zap.Int("bytes", len(data)))
			continue
		}

		switch f := frame.(type) {
		case protocol.DeltaFrame:
			c.dispatch(domain.Fragment{
				Channel: f.Channel,
				Kind:    domain.FragmentKind(f.Kind),
				Text:    f.Text,
				Seq:     f.Seq,
			})
		case protocol.EndFrame:
			c.dispatch(domain.Fragment{
				Channel: f.Channel,
				Kind:    domain.FragmentEnd,
				Seq:     f.Seq,
			})
		case protocol.PongFrame:
			select {
			case pongs <- struct{}{}:
			default:
			}
		case protocol.PingFrame:
			if err := conn.Send(protocol.PongFrame{Type: protocol.TypePong}); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
		case protocol.UnknownFrame:
			c.logger.Debug("unknown frame type ignored", zap.String("type", f.Type))
		default:
			// auth frames outside the handshake; nothing to do
		}
	}
}

func (c *Conn) dispatch(frag domain.Fragment) {
	if c.onFragment != nil {
		c.onFragment(frag)
	}
}

// setState applies a transition and publishes it. Repeated target states
// are collapsed.
func (c *Conn) setState(to domain.ConnState, reason string) {
	c.mu.Lock()
	from := c.state
	if from == to {
		c.mu.Unlock()
		return
	}
	if !domain.CanTransition(from, to) {
		c.mu.Unlock()
		c.logger.Error("refused invalid state transition",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		return
	}
	c.state = to
	c.transitions = append(c.transitions, domain.StateTransition{
		From:      from,
		To:        to,
		Reason:    reason,
		Timestamp: time.Now(),
	})
	// Keep a bounded window: reconnect cycles would otherwise grow this
	// for the life of the process.
	if len(c.transitions) > maxTransitionHistory {
		c.transitions = append(c.transitions[:0:0], c.transitions[len(c.transitions)-maxTransitionHistory:]...)
	}
	c.mu.Unlock()

	c.logger.Info("connection state changed",
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("reason", reason))
	c.events.Publish(domain.NewConnectionStateEvent(from, to, reason))
}

// rewriteHost points the gateway URL at the tunnel's local endpoint.
func rewriteHost(rawURL, hostport string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("gateway url: %w", err)
	}
	u.Host = hostport
	return u.String(), nil
}
