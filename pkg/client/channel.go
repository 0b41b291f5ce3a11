package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/music-chat-room/pkg/protocol"
)

const (
	// DefaultReconnectDelay is the fixed wait between connection attempts.
	DefaultReconnectDelay = 3 * time.Second

	dialTimeout  = 5 * time.Second
	firstFrame   = 10 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	inboundQueue = 256
)

type State int

const (
	Disconnected State = iota
	Connecting
	Open
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	default:
		return "disconnected"
	}
}

type ChannelOption func(*Channel)

func WithReconnectDelay(d time.Duration) ChannelOption {
	return func(c *Channel) { c.reconnectDelay = d }
}

// WithOnOpen registers a hook run every time the channel becomes open,
// including after a reconnect. Its context ends when the channel is closed.
func WithOnOpen(fn func(ctx context.Context)) ChannelOption {
	return func(c *Channel) { c.onOpen = fn }
}

func WithOnStateChange(fn func(State)) ChannelOption {
	return func(c *Channel) { c.onState = fn }
}

func WithDialer(d *websocket.Dialer) ChannelOption {
	return func(c *Channel) { c.dialer = d }
}

// Channel is the client's realtime connection. While it holds a token it
// reconnects after every unintended closure, waiting a fixed delay between
// attempts and never giving up. Inbound envelopes arrive on one Go channel
// for the channel's whole life.
type Channel struct {
	api            *API
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	onOpen         func(ctx context.Context)
	onState        func(State)

	mu      sync.Mutex
	writeMu sync.Mutex
	state   State
	conn    *websocket.Conn
	token   string
	started bool
	closed  bool
	err     error
	cancel  context.CancelFunc

	inbound chan protocol.Envelope
	done    chan struct{}
}

func NewChannel(api *API, opts ...ChannelOption) *Channel {
	c := &Channel{
		api:            api,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: DefaultReconnectDelay,
		inbound:        make(chan protocol.Envelope, inboundQueue),
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Inbound delivers decoded server envelopes. It is closed once, by Close or
// Logout, or when the server rejects the token.
func (c *Channel) Inbound() <-chan protocol.Envelope {
	return c.inbound
}

// Done is closed when the channel has stopped for good.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err reports why the channel stopped on its own, if it did.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Connect starts the connection loop and waits for the first attempt. A
// rejected token is returned as *AuthRejectedError and nothing is retried;
// any other failure is retried in the background.
func (c *Channel) Connect(ctx context.Context, session *Session) error {
	if session == nil || session.Token == "" {
		return ErrUnauthenticated
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("channel already connected")
	}
	c.started = true
	c.token = session.Token
	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.mu.Unlock()

	ready := make(chan error, 1)
	go c.run(loopCtx, session.Token, ready)

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send writes one envelope. It does not queue: when the channel is not open
// it returns ErrNotConnected.
func (c *Channel) Send(env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == Open
	c.mu.Unlock()
	if !open || conn == nil {
		return ErrNotConnected
	}

	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Close stops reconnecting, closes the socket and waits for the loop to
// exit. Inbound is closed afterwards.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	started := c.started
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		_ = conn.Close()
	}

	if !started {
		close(c.inbound)
		close(c.done)
		return nil
	}
	<-c.done
	return nil
}

// Logout closes the channel and forgets the token.
func (c *Channel) Logout() error {
	err := c.Close()
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return err
}

func (c *Channel) run(ctx context.Context, token string, ready chan<- error) {
	defer func() {
		if ready != nil {
			ready <- ErrClosed
		}
		c.setState(Disconnected, nil)
		close(c.inbound)
		close(c.done)
	}()

	for {
		c.setState(Connecting, nil)
		conn, first, err := c.dial(ctx, token)
		if err == nil {
			c.setState(Open, conn)
			if ready != nil {
				ready <- nil
				ready = nil
			}
			if c.onOpen != nil {
				c.onOpen(ctx)
			}
			if first != nil {
				c.deliver(ctx, first)
			}
			err = c.serve(ctx, conn)
			c.setState(Disconnected, nil)
		}

		var rejected *AuthRejectedError
		if errors.As(err, &rejected) {
			log.Printf("[channel] Token rejected: %v", err)
			c.mu.Lock()
			c.err = err
			c.token = ""
			c.mu.Unlock()
			if ready != nil {
				ready <- err
				ready = nil
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if ready != nil {
			ready <- nil
			ready = nil
		}

		log.Printf("[channel] Connection lost: %v; retrying in %s", err, c.reconnectDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// dial opens the socket and waits for the server's first frame, which is
// either the joiner's queue snapshot or a policy-violation close.
func (c *Channel) dial(ctx context.Context, token string) (*websocket.Conn, protocol.Envelope, error) {
	wsURL, err := c.api.WebSocketURL(token)
	if err != nil {
		return nil, nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, resp, err := c.dialer.DialContext(dialCtx, wsURL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, nil, &AuthRejectedError{Status: resp.StatusCode, Detail: resp.Status}
		}
		return nil, nil, fmt.Errorf("failed to dial: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(firstFrame))
	_, data, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, nil, readError(err)
	}

	env, err := protocol.Decode(data)
	if err != nil {
		log.Printf("[channel] Dropping first frame: %v", err)
		env = nil
	}
	return conn, env, nil
}

// serve reads until the connection fails. Server pings extend the read
// deadline, so a silent half-open socket is noticed within pongWait.
func (c *Channel) serve(ctx context.Context, conn *websocket.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return readError(err)
		}

		env, err := protocol.Decode(data)
		if err != nil {
			log.Printf("[channel] Dropping frame: %v", err)
			continue
		}
		if !c.deliver(ctx, env) {
			return ctx.Err()
		}
	}
}

func (c *Channel) deliver(ctx context.Context, env protocol.Envelope) bool {
	select {
	case c.inbound <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Channel) setState(state State, conn *websocket.Conn) {
	c.mu.Lock()
	changed := c.state != state
	c.state = state
	c.conn = conn
	c.mu.Unlock()

	if changed && c.onState != nil {
		c.onState(state)
	}
}

func readError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.ClosePolicyViolation {
		return &AuthRejectedError{Status: closeErr.Code, Detail: closeErr.Text}
	}
	return err
}
