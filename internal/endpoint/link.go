package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/julienstroheker/mavrelay/internal/logging"
	"github.com/julienstroheker/mavrelay/internal/transport"
)

// link owns the transport connection behind an endpoint. Connections are
// numbered by generation so a failure reported against a connection that
// has already been replaced is ignored.
type link interface {
	// current returns the active connection, or nil
	current() (transport.Conn, uint64)

	// wait blocks up to d for a connection. A non-nil error means the link
	// can never produce one again.
	wait(ctx context.Context, d time.Duration) (transport.Conn, uint64, error)

	// fail reports that generation gen broke with err. It returns true when
	// the link recovers on its own, false when the failure is final.
	fail(gen uint64, err error) bool

	close() error
}

// fixedLink wraps a single connection for the endpoint's lifetime
type fixedLink struct {
	conn transport.Conn
}

func (l *fixedLink) current() (transport.Conn, uint64) {
	return l.conn, 1
}

func (l *fixedLink) wait(context.Context, time.Duration) (transport.Conn, uint64, error) {
	return l.conn, 1, nil
}

func (l *fixedLink) fail(uint64, error) bool {
	return false
}

func (l *fixedLink) close() error {
	return l.conn.Close()
}

// slot holds the swappable connection shared by accepting and redialing links
type slot struct {
	mu    sync.Mutex
	conn  transport.Conn
	gen   uint64
	ready chan struct{} // closed while a conn is present or the slot is dead
	err   error
}

func newSlot() *slot {
	return &slot{ready: make(chan struct{})}
}

func (s *slot) current() (transport.Conn, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.gen
}

func (s *slot) wait(ctx context.Context, d time.Duration) (transport.Conn, uint64, error) {
	s.mu.Lock()
	if s.conn != nil || s.err != nil {
		defer s.mu.Unlock()
		return s.conn, s.gen, s.err
	}
	ready := s.ready
	s.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ready:
	case <-timer.C:
	case <-ctx.Done():
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.gen, s.err
}

// set installs conn and returns the connection it replaces
func (s *slot) set(conn transport.Conn) transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		_ = conn.Close()
		return nil
	}
	old := s.conn
	s.conn = conn
	s.gen++
	if old == nil {
		close(s.ready)
	}
	return old
}

// clear drops generation gen and reports whether it was still current
func (s *slot) clear(gen uint64) (transport.Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil || s.gen != gen {
		return nil, false
	}
	old := s.conn
	s.conn = nil
	s.ready = make(chan struct{})
	return old, true
}

// terminate marks the slot dead and returns the connection to close
func (s *slot) terminate(err error) transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil
	}
	s.err = err
	old := s.conn
	s.conn = nil
	if old == nil {
		close(s.ready)
	}
	return old
}

func (s *slot) dead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err != nil
}

// acceptLink serves the most recently accepted peer of a listener. A new
// client replaces the previous one; a disconnected client just leaves the
// endpoint without a peer until the next one arrives.
type acceptLink struct {
	*slot
	ln      transport.Listener
	logger  *logging.Logger
	retry   func() backoff.BackOff
	cancel  context.CancelFunc
	stopped chan struct{}
}

func newAcceptLink(ln transport.Listener, retry func() backoff.BackOff, logger *logging.Logger) *acceptLink {
	ctx, cancel := context.WithCancel(context.Background())
	l := &acceptLink{
		slot:    newSlot(),
		ln:      ln,
		logger:  logger,
		retry:   retry,
		cancel:  cancel,
		stopped: make(chan struct{}),
	}
	go l.acceptLoop(ctx)
	return l
}

func (l *acceptLink) acceptLoop(ctx context.Context) {
	defer close(l.stopped)
	b := l.retry()

	for {
		conn, err := l.ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, transport.ErrListenerClosed) {
				if old := l.terminate(fmt.Errorf("listener %s stopped: %w", l.ln.Addr(), err)); old != nil {
					_ = old.Close()
				}
				return
			}
			delay := b.NextBackOff()
			l.logger.Warn("Accept failed",
				logging.String("listener", l.ln.Addr()),
				logging.Duration("retry_in", delay),
				logging.Error(err))
			// a cancelled sleep surfaces as ctx.Err() on the next Accept
			_ = sleep(ctx, delay)
			continue
		}
		b.Reset()

		if old := l.set(conn); old != nil {
			_ = old.Close()
			l.logger.Info("Peer replaced by new connection", logging.String("listener", l.ln.Addr()))
		} else {
			l.logger.Info("Peer connected", logging.String("listener", l.ln.Addr()))
		}
	}
}

func (l *acceptLink) fail(gen uint64, err error) bool {
	if l.dead() {
		return false
	}
	if old, ok := l.clear(gen); ok {
		_ = old.Close()
		l.logger.Info("Peer disconnected",
			logging.String("listener", l.ln.Addr()),
			logging.Error(err))
	}
	return true
}

func (l *acceptLink) close() error {
	l.cancel()
	err := l.ln.Close()
	<-l.stopped
	if old := l.terminate(transport.ErrListenerClosed); old != nil {
		_ = old.Close()
	}
	return err
}

// redialLink keeps a dialed connection alive, redialing in the background
// with backoff after a failure.
type redialLink struct {
	*slot
	dialer transport.Dialer
	name   string
	logger *logging.Logger
	retry  func() backoff.BackOff

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	redialing sync.Mutex
}

func newRedialLink(conn transport.Conn, dialer transport.Dialer, name string, retry func() backoff.BackOff, logger *logging.Logger) *redialLink {
	ctx, cancel := context.WithCancel(context.Background())
	l := &redialLink{
		slot:   newSlot(),
		dialer: dialer,
		name:   name,
		logger: logger,
		retry:  retry,
		ctx:    ctx,
		cancel: cancel,
	}
	l.set(conn)
	return l
}

func (l *redialLink) fail(gen uint64, err error) bool {
	if l.dead() {
		return false
	}
	old, ok := l.clear(gen)
	if !ok {
		return true
	}
	_ = old.Close()
	l.logger.Warn("Connection lost, redialing",
		logging.String("endpoint", l.name),
		logging.Error(err))

	l.wg.Add(1)
	go l.redial()
	return true
}

func (l *redialLink) redial() {
	defer l.wg.Done()
	// only one redial loop at a time
	l.redialing.Lock()
	defer l.redialing.Unlock()

	b := l.retry()
	for {
		if conn, _ := l.current(); conn != nil {
			return
		}
		conn, err := l.dialer.Dial(l.ctx)
		if err == nil {
			l.set(conn)
			l.logger.Info("Reconnected", logging.String("endpoint", l.name))
			return
		}
		if l.ctx.Err() != nil {
			return
		}
		delay := b.NextBackOff()
		l.logger.Debug("Redial failed",
			logging.String("endpoint", l.name),
			logging.Duration("retry_in", delay),
			logging.Error(err))
		if !sleep(l.ctx, delay) {
			return
		}
	}
}

func (l *redialLink) close() error {
	l.cancel()
	l.wg.Wait()
	var err error
	if old := l.terminate(transport.ErrConnectionClosed); old != nil {
		err = old.Close()
	}
	if derr := l.dialer.Close(); err == nil {
		err = derr
	}
	return err
}

// sleep waits for d or until ctx is done; it returns false on cancellation
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
