package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"marketchat/pkg/logging"
	"marketchat/pkg/protocol"
)

// Status of the realtime channel. There is no intermediate "connecting"
// state: the channel counts as connected only once the server acknowledges
// the session with a connected event.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnected
)

func (s Status) String() string {
	if s == StatusConnected {
		return "connected"
	}
	return "disconnected"
}

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrClosed       = errors.New("realtime: client closed")
)

// Handler receives the raw payload of a single inbound event. Handlers run
// sequentially on the dispatch goroutine; an event is fully handled before
// the next one is read off the socket.
type Handler func(data json.RawMessage)

// Client owns one websocket channel for one authenticated identity. The
// handler registry outlives individual sockets, so a redial after a drop
// re-delivers events to the same listeners without re-registration.
type Client struct {
	endpoint string
	userID   string
	dialer   *websocket.Dialer
	logger   zerolog.Logger

	pingInterval time.Duration
	pongWait     time.Duration
	writeWait    time.Duration
	redialMin    time.Duration
	redialMax    time.Duration

	mu       sync.RWMutex
	handlers map[string][]Handler
	onStatus []func(Status)

	status atomic.Int32

	send      chan protocol.Envelope
	closed    chan struct{}
	closeOnce sync.Once
	started   atomic.Bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the package-global logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithRedialBackoff sets the minimum and maximum delay between redials.
func WithRedialBackoff(min, max time.Duration) Option {
	return func(c *Client) {
		c.redialMin = min
		c.redialMax = max
	}
}

// WithKeepalive sets the ping interval and pong wait for the socket.
func WithKeepalive(pingInterval, pongWait time.Duration) Option {
	return func(c *Client) {
		c.pingInterval = pingInterval
		c.pongWait = pongWait
	}
}

// NewClient prepares a client for the given endpoint (e.g.
// "ws://host/ws/chat") and identity. Nothing is dialed until Connect.
func NewClient(endpoint, userID string, opts ...Option) *Client {
	c := &Client{
		endpoint:     endpoint,
		userID:       userID,
		dialer:       websocket.DefaultDialer,
		logger:       logging.L(),
		pingInterval: 30 * time.Second,
		pongWait:     60 * time.Second,
		writeWait:    10 * time.Second,
		redialMin:    time.Second,
		redialMax:    30 * time.Second,
		handlers:     make(map[string][]Handler),
		send:         make(chan protocol.Envelope, 32),
		closed:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// On registers a handler for a named protocol event. Safe to call before or
// after Connect; registrations persist across redials.
func (c *Client) On(event string, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// OnStatusChange registers a listener for connect/disconnect transitions.
func (c *Client) OnStatusChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStatus = append(c.onStatus, fn)
}

// Status reports the current channel status.
func (c *Client) Status() Status {
	return Status(c.status.Load())
}

// Connect starts the supervision loop. It returns immediately; the loop
// dials, reads until the socket drops, then redials with capped backoff
// until Close is called. Calling Connect twice is a no-op, so there is never
// more than one live socket per client.
func (c *Client) Connect(ctx context.Context) error {
	if c.userID == "" {
		return errors.New("realtime: user id required")
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}
	go c.supervise(ctx)
	return nil
}

// Close tears the channel down. Idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

// Emit sends an outbound event. While disconnected it fails immediately with
// ErrNotConnected; there is no offline queue.
func (c *Client) Emit(event string, payload any) error {
	if c.Status() != StatusConnected {
		return ErrNotConnected
	}
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	select {
	case c.send <- env:
		return nil
	case <-c.closed:
		return ErrClosed
	}
}

func (c *Client) supervise(ctx context.Context) {
	delay := c.redialMin
	for {
		select {
		case <-c.closed:
			return
		case <-ctx.Done():
			c.Close()
			return
		default:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("realtime dial failed")
			select {
			case <-time.After(delay):
			case <-c.closed:
				return
			case <-ctx.Done():
				c.Close()
				return
			}
			if delay *= 2; delay > c.redialMax {
				delay = c.redialMax
			}
			continue
		}

		delay = c.redialMin
		c.run(conn)
		c.setStatus(StatusDisconnected)
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("user_id", c.userID)
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// run owns one socket from dial to drop. The write pump runs on its own
// goroutine; reads and handler dispatch stay on this one so events are
// processed strictly in arrival order.
func (c *Client) run(conn *websocket.Conn) {
	stop := make(chan struct{})
	writeDone := make(chan struct{})
	go c.writePump(conn, stop, writeDone)
	defer func() {
		close(stop)
		conn.Close()
		<-writeDone
	}()

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(c.writeWait))
	})

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			select {
			case <-c.closed:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					c.logger.Warn().Err(err).Msg("realtime read failed")
				}
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		c.dispatch(env)

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.closed:
			conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			conn.Close()
			return
		case env := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := conn.WriteJSON(env); err != nil {
				c.logger.Warn().Err(err).Str("event", env.Event).Msg("realtime write failed")
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) dispatch(env protocol.Envelope) {
	if env.Event == protocol.EventConnected {
		c.setStatus(StatusConnected)
	}

	c.mu.RLock()
	handlers := c.handlers[env.Event]
	c.mu.RUnlock()

	for _, fn := range handlers {
		fn(env.Data)
	}
}

func (c *Client) setStatus(s Status) {
	if c.status.Swap(int32(s)) == int32(s) {
		return
	}
	c.mu.RLock()
	listeners := c.onStatus
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn(s)
	}
}
