package endpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/julienstroheker/mavrelay/internal/mavlink"
	"github.com/julienstroheker/mavrelay/internal/transport"
)

var (
	// ErrNoData means nothing arrived within the poll window. It is the only
	// receive error the relay treats as transient.
	ErrNoData = errors.New("no data available")
	// ErrEndOfStream means a replay source has no more frames. The
	// endpoint is done receiving but nothing failed.
	ErrEndOfStream = errors.New("end of stream")
	// ErrNoPeer is returned by Send when the endpoint has nobody to talk to yet
	ErrNoPeer = transport.ErrNoPeer
)

// Endpoint is one configured connection. Receive is meant for a single
// goroutine; Send may be called concurrently and is serialized internally.
type Endpoint struct {
	id          int
	addr        Address
	version     mavlink.Version
	link        link
	pollTimeout time.Duration
	sendTimeout time.Duration

	reader    *mavlink.Reader
	readerGen uint64

	sendMu  sync.Mutex
	sendBuf []byte

	stats Stats
}

func newEndpoint(id int, addr Address, l link, opts *Options) *Endpoint {
	return &Endpoint{
		id:          id,
		addr:        addr,
		version:     opts.Version,
		link:        l,
		pollTimeout: opts.PollTimeout,
		sendTimeout: opts.SendTimeout,
		sendBuf:     make([]byte, 0, mavlink.MaxFrameLen),
	}
}

// NewFromConn builds an endpoint over an already open connection
func NewFromConn(id int, addr Address, conn transport.Conn, opts *Options) *Endpoint {
	return newEndpoint(id, addr, &fixedLink{conn: conn}, opts.withDefaults())
}

// NewFromListener builds an endpoint serving the latest client of ln
func NewFromListener(id int, addr Address, ln transport.Listener, opts *Options) *Endpoint {
	opts = opts.withDefaults()
	return newEndpoint(id, addr, newAcceptLink(ln, opts.retryBackoff, opts.Logger), opts)
}

// ID returns the endpoint's stable index
func (e *Endpoint) ID() int {
	return e.id
}

// Address returns the parsed connection string
func (e *Endpoint) Address() Address {
	return e.addr
}

// Version returns the protocol version the endpoint accepts
func (e *Endpoint) Version() mavlink.Version {
	return e.version
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("[%d] %s", e.id, e.addr.Raw)
}

// Stats returns a snapshot of the endpoint counters
func (e *Endpoint) Stats() StatsSnapshot {
	return e.stats.Snapshot()
}

// Connected reports whether the endpoint currently has a peer connection
func (e *Endpoint) Connected() bool {
	conn, _ := e.link.current()
	return conn != nil
}

// Receive returns the next frame. It waits at most the poll timeout and
// returns ErrNoData when nothing complete arrived. Any other error means
// the endpoint can no longer receive.
func (e *Endpoint) Receive(ctx context.Context) (mavlink.Frame, error) {
	conn, gen, err := e.link.wait(ctx, e.pollTimeout)
	if err != nil {
		return mavlink.Frame{}, fmt.Errorf("receive %s: %w", e.addr.Raw, err)
	}
	if conn == nil {
		return mavlink.Frame{}, ErrNoData
	}

	if e.reader == nil || gen != e.readerGen {
		e.reader = mavlink.NewReader(conn, e.version)
		e.readerGen = gen
	}

	_ = conn.SetReadDeadline(time.Now().Add(e.pollTimeout))
	frame, err := e.reader.Read()
	switch {
	case err == nil:
		e.stats.receivedFrames.Add(1)
		e.stats.receivedBytes.Add(uint64(frame.Len()))
		return frame, nil
	case transport.IsTimeout(err):
		return mavlink.Frame{}, ErrNoData
	}

	if errors.Is(err, io.EOF) && e.addr.Scheme == SchemeFile {
		return mavlink.Frame{}, fmt.Errorf("receive %s: %w: %w", e.addr.Raw, ErrEndOfStream, err)
	}
	if e.link.fail(gen, err) {
		e.stats.disconnects.Add(1)
		return mavlink.Frame{}, ErrNoData
	}
	return mavlink.Frame{}, fmt.Errorf("receive %s: %w", e.addr.Raw, err)
}

// Send writes frame unchanged to the endpoint's peer
func (e *Endpoint) Send(frame mavlink.Frame) error {
	e.sendMu.Lock()
	defer e.sendMu.Unlock()

	conn, gen := e.link.current()
	if conn == nil {
		e.stats.sendErrors.Add(1)
		return ErrNoPeer
	}

	e.sendBuf = frame.AppendBinary(e.sendBuf[:0])
	if e.sendTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(e.sendTimeout))
	}

	if _, err := conn.Write(e.sendBuf); err != nil {
		e.stats.sendErrors.Add(1)
		if errors.Is(err, ErrNoPeer) {
			return ErrNoPeer
		}
		if !transport.IsTimeout(err) && !errors.Is(err, transport.ErrReadOnly) {
			if e.link.fail(gen, err) {
				e.stats.disconnects.Add(1)
			}
		}
		return fmt.Errorf("send %s: %w", e.addr.Raw, err)
	}

	e.stats.sentFrames.Add(1)
	e.stats.sentBytes.Add(uint64(len(e.sendBuf)))
	return nil
}

// Close releases the endpoint's transport
func (e *Endpoint) Close() error {
	return e.link.close()
}
