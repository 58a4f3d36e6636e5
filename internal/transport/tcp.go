package transport

import (
	"context"
	"errors"
	"net"
	"sync"
)

// TCPListener accepts TCP clients
type TCPListener struct {
	ln     net.Listener
	mu     sync.Mutex
	closed bool
}

// ListenTCP binds a TCP listener on addr (host:port)
func ListenTCP(addr string) (*TCPListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln}, nil
}

// Accept waits for the next client. Cancelling ctx closes the listener.
func (l *TCPListener) Accept(ctx context.Context) (Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()

	conn, err := l.ln.Accept()
	if err != nil {
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed || errors.Is(err, net.ErrClosed) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrListenerClosed
		}
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// Close stops accepting clients
func (l *TCPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.ln.Close()
}

// Addr returns the bound address
func (l *TCPListener) Addr() string {
	return l.ln.Addr().String()
}

// TCPDialer connects to a fixed TCP server
type TCPDialer struct {
	addr   string
	dialer net.Dialer
}

// NewTCPDialer returns a dialer for addr (host:port)
func NewTCPDialer(addr string) *TCPDialer {
	return &TCPDialer{addr: addr}
}

// Dial connects to the server
func (d *TCPDialer) Dial(ctx context.Context) (Conn, error) {
	conn, err := d.dialer.DialContext(ctx, "tcp", d.addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// Close is a no-op; dialed connections are owned by the caller
func (d *TCPDialer) Close() error {
	return nil
}

var (
	_ Listener = (*TCPListener)(nil)
	_ Dialer   = (*TCPDialer)(nil)
)
