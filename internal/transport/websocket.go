package transport

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const wsHandshakeTimeout = 30 * time.Second

// WSConn adapts a WebSocket to a byte stream. Each Write is one binary
// message. gorilla connections are unusable after a read deadline fires,
// so a pump goroutine owns ReadMessage and Read applies deadlines on the
// handoff channel instead.
type WSConn struct {
	conn *websocket.Conn

	messages chan []byte
	done     chan struct{}
	readErr  error

	mu           sync.Mutex
	buffer       []byte
	readDeadline time.Time
	closed       bool

	writeMu sync.Mutex
}

// NewWSConn wraps conn and starts its reader pump
func NewWSConn(conn *websocket.Conn) *WSConn {
	c := &WSConn{
		conn:     conn,
		messages: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *WSConn) pump() {
	defer close(c.done)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		c.messages <- data
	}
}

// Read reads data from the connection
func (c *WSConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrConnectionClosed
	}
	if len(c.buffer) > 0 {
		n := copy(p, c.buffer)
		c.buffer = c.buffer[n:]
		c.mu.Unlock()
		return n, nil
	}
	deadline := c.readDeadline
	c.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		d := time.Until(deadline)
		if d <= 0 {
			return 0, os.ErrDeadlineExceeded
		}
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	var data []byte
	select {
	case data = <-c.messages:
	case <-c.done:
		// drain anything the pump queued before it stopped
		select {
		case data = <-c.messages:
		default:
			return 0, c.readErr
		}
	case <-timeout:
		return 0, os.ErrDeadlineExceeded
	}

	n := copy(p, data)
	if n < len(data) {
		c.mu.Lock()
		c.buffer = data[n:]
		c.mu.Unlock()
	}
	return n, nil
}

// Write writes p as one binary message
func (c *WSConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrConnectionClosed
	}
	c.mu.Unlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close closes the connection
func (c *WSConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	err := c.conn.Close()

	// unblock the pump if it is waiting on a full channel
	go func() {
		for {
			select {
			case <-c.messages:
			case <-c.done:
				return
			}
		}
	}()
	return err
}

// SetReadDeadline sets the deadline for the next Read calls
func (c *WSConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.readDeadline = t
	c.mu.Unlock()
	return nil
}

// SetWriteDeadline sets the deadline on the underlying socket
func (c *WSConn) SetWriteDeadline(t time.Time) error {
	return c.conn.SetWriteDeadline(t)
}

// WSListener serves WebSocket upgrades on an HTTP listener and queues the
// resulting connections for Accept.
type WSListener struct {
	ln          net.Listener
	server      *http.Server
	upgrader    websocket.Upgrader
	acceptQueue chan Conn

	mu     sync.Mutex
	closed bool
}

// ListenWebSocket binds addr (host:port) and accepts upgrades on any path
func ListenWebSocket(addr string) (*WSListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	l := &WSListener{
		ln: ln,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: wsHandshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		acceptQueue: make(chan Conn, 10),
	}
	l.server = &http.Server{
		Handler:           http.HandlerFunc(l.serveHTTP),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() { _ = l.server.Serve(ln) }()
	return l, nil
}

func (l *WSListener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	wsConn := NewWSConn(conn)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		_ = wsConn.Close()
		return
	}
	select {
	case l.acceptQueue <- wsConn:
	default:
		// Queue full - close the connection to signal backpressure
		_ = wsConn.Close()
	}
}

// Accept waits for the next upgraded connection
func (l *WSListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case conn, ok := <-l.acceptQueue:
		if !ok {
			return nil, ErrListenerClosed
		}
		return conn, nil
	}
}

// Close stops the HTTP server
func (l *WSListener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.acceptQueue)
	l.mu.Unlock()
	return l.server.Close()
}

// Addr returns the bound address
func (l *WSListener) Addr() string {
	return l.ln.Addr().String()
}

// WSDialer connects to a WebSocket server
type WSDialer struct {
	url    string
	header http.Header
}

// NewWSDialer returns a dialer for rawURL
func NewWSDialer(rawURL string, header http.Header) *WSDialer {
	return &WSDialer{url: rawURL, header: header}
}

// Dial performs the handshake
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	conn, err := DialWebSocket(ctx, d.url, d.header)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Close is a no-op
func (d *WSDialer) Close() error {
	return nil
}

// DialWebSocket connects to rawURL and wraps the result
func DialWebSocket(ctx context.Context, rawURL string, header http.Header) (*WSConn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: wsHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, header)
	if err != nil {
		if resp != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("websocket handshake failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return NewWSConn(conn), nil
}

var (
	_ Conn     = (*WSConn)(nil)
	_ Listener = (*WSListener)(nil)
	_ Dialer   = (*WSDialer)(nil)
)
