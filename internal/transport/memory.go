package transport

import (
	"context"
	"net"
	"sync"
)

// MemoryListener is an in-memory Listener. Connections are created by a
// MemoryDialer bound to it and backed by net.Pipe, so deadlines work.
type MemoryListener struct {
	name        string
	connections chan Conn
	mu          sync.Mutex
	closed      bool
}

// NewMemoryListener creates a new in-memory listener
func NewMemoryListener(name string) *MemoryListener {
	return &MemoryListener{
		name:        name,
		connections: make(chan Conn, 10),
	}
}

// Accept waits for and returns the next connection
func (l *MemoryListener) Accept(ctx context.Context) (Conn, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrListenerClosed
	}
	l.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case conn, ok := <-l.connections:
		if !ok {
			return nil, ErrListenerClosed
		}
		return conn, nil
	}
}

// Close closes the listener
func (l *MemoryListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.connections)
	return nil
}

// Addr returns the listener name
func (l *MemoryListener) Addr() string {
	return "mem:" + l.name
}

func (l *MemoryListener) enqueue(ctx context.Context, conn Conn) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrListenerClosed
	}
	select {
	case l.connections <- conn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MemoryDialer connects to a MemoryListener
type MemoryDialer struct {
	listener *MemoryListener
	mu       sync.Mutex
	closed   bool
}

// NewMemoryDialer creates a new in-memory dialer connected to the given listener
func NewMemoryDialer(listener *MemoryListener) *MemoryDialer {
	return &MemoryDialer{listener: listener}
}

// Dial creates a new connection to the listener
func (d *MemoryDialer) Dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrDialerClosed
	}
	d.mu.Unlock()

	local, remote := net.Pipe()
	if err := d.listener.enqueue(ctx, remote); err != nil {
		_ = local.Close()
		_ = remote.Close()
		return nil, err
	}
	return local, nil
}

// Close closes the dialer
func (d *MemoryDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

var (
	_ Listener = (*MemoryListener)(nil)
	_ Dialer   = (*MemoryDialer)(nil)
)
