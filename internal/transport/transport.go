package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"time"
)

var (
	// ErrListenerClosed is returned when trying to accept on a closed listener
	ErrListenerClosed = errors.New("listener is closed")
	// ErrDialerClosed is returned when trying to dial with a closed dialer
	ErrDialerClosed = errors.New("dialer is closed")
	// ErrConnectionClosed is returned when trying to read/write on a closed connection
	ErrConnectionClosed = errors.New("connection is closed")
	// ErrNoPeer is returned by a server-side datagram conn asked to write before any peer spoke
	ErrNoPeer = errors.New("no peer to send to")
	// ErrReadOnly is returned when writing to a replay source
	ErrReadOnly = errors.New("connection is read-only")
)

// Conn is a bidirectional byte stream with deadlines. net.Conn satisfies it.
type Conn interface {
	io.ReadWriteCloser

	// SetReadDeadline bounds the next Read calls; a zero value disables it
	SetReadDeadline(t time.Time) error

	// SetWriteDeadline bounds the next Write calls; a zero value disables it
	SetWriteDeadline(t time.Time) error
}

// Listener accepts incoming connections
type Listener interface {
	// Accept waits for and returns the next connection to the listener
	Accept(ctx context.Context) (Conn, error)

	// Close closes the listener
	// Any blocked Accept operations will be unblocked and return errors
	Close() error

	// Addr returns the listener's address
	Addr() string
}

// Dialer creates outgoing connections to a fixed remote
type Dialer interface {
	// Dial establishes a connection to the remote
	Dial(ctx context.Context) (Conn, error)

	// Close closes the dialer
	Close() error
}

// IsTimeout reports whether err is a deadline expiry rather than a link failure
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
