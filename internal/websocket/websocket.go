package websocket

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Frame types re-exported so callers need not import gorilla directly.
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

// ErrNotConnected is returned by I/O on a connection that never opened or is
// no longer live.
var ErrNotConnected = errors.New("websocket: not connected")

// Message represents a WebSocket message received from the server.
type Message struct {
	Type       int // websocket.TextMessage or websocket.BinaryMessage
	Data       []byte
	ReceivedAt time.Time
}

// Metrics captures per-connection traffic counters.
type Metrics struct {
	ConnectionDuration time.Duration
	MessagesSent       int64
	MessagesReceived   int64
	BinaryReceived     int64 // subset of MessagesReceived
	BytesSent          int64
	BytesReceived      int64
	Errors             int64
}

// Config configures a client connection.
type Config struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxMessageSize   int64
}

// Conn is one client WebSocket session. Writes are serialized; a single
// reader is expected. Liveness combines an internal flag with the observed
// transport state: any failed read or write marks the session dead.
type Conn struct {
	id           int
	url          string
	headers      http.Header
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	readLimit    int64

	conn        *websocket.Conn
	writeMu     sync.Mutex
	live        atomic.Bool
	closeOnce   sync.Once
	connectTime time.Time

	messagesSent atomic.Int64
	messagesRecv atomic.Int64
	binaryRecv   atomic.Int64
	bytesSent    atomic.Int64
	bytesRecv    atomic.Int64
	errors       atomic.Int64
}

// NewConn creates an unopened connection for the given client id.
func NewConn(id int, cfg Config) *Conn {
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1024 * 1024 // 1MB default
	}

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	return &Conn{
		id:           id,
		url:          cfg.URL,
		headers:      cfg.Headers,
		dialer:       dialer,
		writeTimeout: cfg.WriteTimeout,
		readLimit:    cfg.MaxMessageSize,
	}
}

// ID returns the client id.
func (c *Conn) ID() int { return c.id }

// Alive reports whether the session is open and has not failed.
func (c *Conn) Alive() bool { return c.live.Load() }

// MarkDead flags the session as unusable without closing it.
func (c *Conn) MarkDead() { c.live.Store(false) }

// Connect performs the WebSocket handshake.
func (c *Conn) Connect(ctx context.Context) error {
	if c.conn != nil {
		return fmt.Errorf("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		c.errors.Add(1)
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	conn.SetReadLimit(c.readLimit)
	c.conn = conn
	c.connectTime = time.Now()
	c.live.Store(true)
	return nil
}

// Send writes a text frame.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	return c.write(ctx, websocket.TextMessage, data)
}

func (c *Conn) write(ctx context.Context, msgType int, data []byte) error {
	if !c.Alive() {
		return ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(msgType, data); err != nil {
		c.errors.Add(1)
		c.MarkDead()
		return fmt.Errorf("write message: %w", err)
	}

	c.messagesSent.Add(1)
	c.bytesSent.Add(int64(len(data)))
	return nil
}

// Receive reads the next complete message, reassembling fragments. A
// cancelled ctx interrupts a blocked read; the session cannot be read from
// afterwards. Any other read failure marks the session dead.
func (c *Conn) Receive(ctx context.Context) (Message, error) {
	if c.conn == nil {
		return Message{}, ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	msgType, data, err := c.conn.ReadMessage()
	stop()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Message{}, ctxErr
		}
		c.errors.Add(1)
		c.MarkDead()
		return Message{}, fmt.Errorf("read message: %w", err)
	}

	c.messagesRecv.Add(1)
	if msgType == websocket.BinaryMessage {
		c.binaryRecv.Add(1)
	}
	c.bytesRecv.Add(int64(len(data)))
	return Message{Type: msgType, Data: data, ReceivedAt: time.Now()}, nil
}

// Close sends a close frame when the session is still live and releases the
// transport. It is safe to call more than once and never fails.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		wasLive := c.live.Swap(false)
		if c.conn == nil {
			return
		}
		if wasLive {
			c.writeMu.Lock()
			_ = c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			c.writeMu.Unlock()
		}
		_ = c.conn.Close()
	})
	return nil
}

// Metrics returns the current counters.
func (c *Conn) Metrics() Metrics {
	duration := time.Duration(0)
	if !c.connectTime.IsZero() {
		duration = time.Since(c.connectTime)
	}

	return Metrics{
		ConnectionDuration: duration,
		MessagesSent:       c.messagesSent.Load(),
		MessagesReceived:   c.messagesRecv.Load(),
		BinaryReceived:     c.binaryRecv.Load(),
		BytesSent:          c.bytesSent.Load(),
		BytesReceived:      c.bytesRecv.Load(),
		Errors:             c.errors.Load(),
	}
}

// IsClosure reports whether err means the peer or transport ended the
// session, as opposed to a local or transient failure.
func IsClosure(err error) bool {
	if err == nil {
		return false
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return true
	}
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, websocket.ErrCloseSent) ||
		errors.Is(err, ErrNotConnected)
}
