package socket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/austinkregel/local-media/tandem/internal/types"
)

// Client is a Conn backed by a websocket to the relay
type Client struct {
	Dispatcher

	url    string
	header http.Header
	dialer *websocket.Dialer
	log    *zap.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	id      string
	writeMu sync.Mutex // Protects websocket writes
	done    chan struct{}
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithLogger sets the logger
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) { c.log = log.Named("socket") }
}

// WithHeader adds request headers to the handshake
func WithHeader(h http.Header) ClientOption {
	return func(c *Client) { c.header = h }
}

// WithDialer overrides the websocket dialer
func WithDialer(d *websocket.Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// NewClient creates a client for the relay at url (ws:// or wss://)
func NewClient(url string, opts ...ClientOption) *Client {
	c := &Client{
		url:    url,
		dialer: websocket.DefaultDialer,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the relay and waits until it has assigned a connection id.
// Handlers registered with On run sequentially on the read goroutine.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return fmt.Errorf("already connected")
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	ready := make(chan string, 1)
	done := make(chan struct{})

	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.mu.Unlock()

	go c.readLoop(conn, ready, done)

	select {
	case id := <-ready:
		c.mu.Lock()
		c.id = id
		c.mu.Unlock()
		c.log.Info("connected", zap.String("url", c.url), zap.String("socketId", id))
		return nil
	case <-done:
		return fmt.Errorf("connection closed before handshake")
	case <-ctx.Done():
		c.Disconnect()
		return ctx.Err()
	}
}

func (c *Client) readLoop(conn *websocket.Conn, ready chan<- string, done chan struct{}) {
	defer close(done)
	handshaken := false

	for {
		var env Envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.mu.Lock()
			current := c.conn == conn
			if current {
				c.conn = nil
				c.id = ""
			}
			c.mu.Unlock()

			if current {
				c.log.Warn("connection lost", zap.Error(err))
				c.Dispatch(EventDisconnect, nil)
			}
			return
		}

		if !handshaken && env.Event == types.EventConnected {
			var msg types.Connected
			if err := json.Unmarshal(env.Data, &msg); err != nil {
				c.log.Error("bad connected payload", zap.Error(err))
				continue
			}
			handshaken = true
			ready <- msg.SocketID
		}

		c.log.Debug("event received", zap.String("event", env.Event))
		c.Dispatch(env.Event, env.Data)
	}
}

// ID returns the relay-assigned socket id
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Connected reports whether the websocket is open
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Emit sends an event to the relay
func (c *Client) Emit(event string, data any) error {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteJSON(env); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	c.log.Debug("event sent", zap.String("event", event))
	return nil
}

// Disconnect closes the connection and dispatches EventDisconnect if the
// handshake had completed. It is safe to call more than once.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	live := c.id != ""
	c.conn = nil
	c.id = ""
	c.mu.Unlock()

	if conn == nil {
		return
	}

	c.writeMu.Lock()
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()

	if done != nil {
		<-done
	}
	c.log.Info("disconnected")
	if live {
		c.Dispatch(EventDisconnect, nil)
	}
}
