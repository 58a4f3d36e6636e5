package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/julienstroheker/mavrelay/internal/config"
	"github.com/julienstroheker/mavrelay/internal/endpoint"
	"github.com/julienstroheker/mavrelay/internal/logging"
	"github.com/julienstroheker/mavrelay/internal/mavlink"
)

const (
	waitFor = 5 * time.Second
	tick    = 2 * time.Millisecond
)

var errLinkLost = errors.New("link lost")

type fakePeer struct {
	id     int
	frames chan mavlink.Frame
	fail   chan error
	polls  atomic.Int64

	mu       sync.Mutex
	sendErr  error
	attempts int
	sent     []mavlink.Frame
}

func newFakePeer(id int) *fakePeer {
	return &fakePeer{
		id:     id,
		frames: make(chan mavlink.Frame, 16),
		fail:   make(chan error, 1),
	}
}

func (p *fakePeer) ID() int        { return p.id }
func (p *fakePeer) String() string { return fmt.Sprintf("[%d] fake", p.id) }

func (p *fakePeer) Receive(ctx context.Context) (mavlink.Frame, error) {
	select {
	case f := <-p.frames:
		return f, nil
	case err := <-p.fail:
		return mavlink.Frame{}, err
	case <-ctx.Done():
		return mavlink.Frame{}, endpoint.ErrNoData
	case <-time.After(tick):
		p.polls.Add(1)
		return mavlink.Frame{}, endpoint.ErrNoData
	}
}

func (p *fakePeer) Send(f mavlink.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, f)
	return nil
}

func (p *fakePeer) Stats() endpoint.StatsSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return endpoint.StatsSnapshot{SentFrames: uint64(len(p.sent)), SentBytes: uint64(len(p.sent) * 20)}
}

func (p *fakePeer) setSendErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr = err
}

func (p *fakePeer) sentFrames() []mavlink.Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]mavlink.Frame(nil), p.sent...)
}

func (p *fakePeer) sendAttempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}

// emit makes the peer receive a frame tagged with its origin and seq
func (p *fakePeer) emit(seq uint8) {
	p.frames <- mavlink.Frame{
		Header: mavlink.Header{
			Version:     mavlink.V2,
			Sequence:    seq,
			SystemID:    uint8(p.id + 1),
			ComponentID: 1,
			MessageID:   0,
		},
		Payload: []byte{byte(p.id), seq},
	}
}

func originOf(f mavlink.Frame) int {
	return int(f.SystemID) - 1
}

type harness struct {
	relay   *Relay
	metrics *Metrics
	peers   []*fakePeer
	cancel  context.CancelFunc
	done    chan error
}

// stop cancels the relay and waits for Run to return
func (h *harness) stop(t *testing.T) {
	t.Helper()
	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("relay did not stop")
	}
}

func (h *harness) running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func startRelay(t *testing.T, n int, mode config.RouterMode, mutate func(*Options)) *harness {
	t.Helper()

	peers := make([]*fakePeer, n)
	asPeers := make([]Peer, n)
	for i := range peers {
		peers[i] = newFakePeer(i)
		asPeers[i] = peers[i]
	}

	opts := &Options{
		Router:      mode,
		Dispatchers: 2,
		Policy:      ErrorPolicy{Backoff: time.Millisecond},
		Metrics:     NewMetrics(),
		Logger:      logging.FromZap(zaptest.NewLogger(t)),
	}
	if mutate != nil {
		mutate(opts)
	}

	r, err := New(asPeers, opts)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{relay: r, metrics: opts.Metrics, peers: peers, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitFor):
		}
	})
	return h
}

func forEachRouter(t *testing.T, fn func(t *testing.T, mode config.RouterMode)) {
	for _, mode := range []config.RouterMode{config.RouterSync, config.RouterQueue} {
		t.Run(mode.String(), func(t *testing.T) {
			fn(t, mode)
		})
	}
}

func TestRelay_NoSelfEchoFullFanOut(t *testing.T) {
	forEachRouter(t, func(t *testing.T, mode config.RouterMode) {
		const n = 4
		h := startRelay(t, n, mode, nil)

		for _, p := range h.peers {
			p.emit(uint8(p.id))
		}

		require.Eventually(t, func() bool {
			for _, p := range h.peers {
				if len(p.sentFrames()) != n-1 {
					return false
				}
			}
			return true
		}, waitFor, tick)

		h.stop(t)
		for _, p := range h.peers {
			seen := map[int]bool{}
			for _, f := range p.sentFrames() {
				require.NotEqual(t, p.id, originOf(f), "endpoint %d received its own frame", p.id)
				seen[originOf(f)] = true
			}
			require.Len(t, seen, n-1)
		}
	})
}

func TestRelay_PreservesOrderPerOrigin(t *testing.T) {
	forEachRouter(t, func(t *testing.T, mode config.RouterMode) {
		const frames = 50
		h := startRelay(t, 3, mode, func(o *Options) { o.Dispatchers = 3 })

		go func() {
			for seq := range uint8(frames) {
				h.peers[0].emit(seq)
			}
		}()
		for seq := range uint8(frames) {
			h.peers[1].emit(seq)
		}
		require.Eventually(t, func() bool {
			return len(h.peers[2].sentFrames()) == 2*frames
		}, waitFor, tick)

		next := map[int]uint8{}
		for _, f := range h.peers[2].sentFrames() {
			origin := originOf(f)
			require.Equal(t, next[origin], f.Sequence, "origin %d delivered out of order", origin)
			next[origin]++
		}
		for i, f := range h.peers[0].sentFrames() {
			require.Equal(t, uint8(i), f.Sequence)
		}
	})
}

func TestQueueRouter_OneQueuePerOrigin(t *testing.T) {
	peers := []Peer{newFakePeer(0), newFakePeer(1), newFakePeer(2)}
	metrics := NewMetrics()
	f := newFanout(peers, false, false, metrics, logging.FromZap(zaptest.NewLogger(t)))

	r := newQueueRouter(f, 8, 0, metrics)
	require.Len(t, r.queues, len(peers), "dispatchers are capped at the endpoint count")
	for origin := range peers {
		require.Same(t, r.queueOf(origin), r.queueOf(origin))
	}
	require.NotSame(t, r.queueOf(0), r.queueOf(1))

	for seq := range uint8(5) {
		r.Route(unit(1, seq))
	}
	r.Close()
	require.Zero(t, testutil.ToFloat64(metrics.QueueDepth))
	require.Len(t, peers[0].(*fakePeer).sentFrames(), 5)
	require.Len(t, peers[2].(*fakePeer).sentFrames(), 5)

	single := newQueueRouter(f, 0, 0, metrics)
	require.Len(t, single.queues, 1)
	single.Close()
}

func TestRelay_PartialFailure(t *testing.T) {
	forEachRouter(t, func(t *testing.T, mode config.RouterMode) {
		h := startRelay(t, 3, mode, nil)
		h.peers[1].setSendErr(errors.New("write: broken pipe"))

		h.peers[0].emit(1)
		require.Eventually(t, func() bool { return len(h.peers[2].sentFrames()) == 1 }, waitFor, tick)
		require.Eventually(t, func() bool {
			return testutil.ToFloat64(h.metrics.SendErrors.WithLabelValues("1")) == 1
		}, waitFor, tick)

		// the failing destination does not affect the next unit either
		h.peers[0].emit(2)
		require.Eventually(t, func() bool { return len(h.peers[2].sentFrames()) == 2 }, waitFor, tick)
		require.True(t, h.running())
		require.Equal(t, float64(2), testutil.ToFloat64(h.metrics.Forwarded.WithLabelValues("2")))
	})
}

func TestRelay_TransientErrorsAreSurvived(t *testing.T) {
	forEachRouter(t, func(t *testing.T, mode config.RouterMode) {
		h := startRelay(t, 2, mode, nil)

		require.Eventually(t, func() bool {
			return testutil.ToFloat64(h.metrics.TransientErrors.WithLabelValues("0")) >= 5
		}, waitFor, tick)

		h.peers[0].emit(1)
		require.Eventually(t, func() bool { return len(h.peers[1].sentFrames()) == 1 }, waitFor, tick)
		require.True(t, h.relay.Status()[0].Receiving)
	})
}

func TestRelay_FatalErrorIsIsolated(t *testing.T) {
	forEachRouter(t, func(t *testing.T, mode config.RouterMode) {
		h := startRelay(t, 3, mode, nil)
		require.Eventually(t, func() bool {
			return testutil.ToFloat64(h.metrics.WorkersRunning) == 3
		}, waitFor, tick)

		h.peers[0].fail <- errLinkLost
		require.Eventually(t, func() bool {
			return testutil.ToFloat64(h.metrics.WorkersRunning) == 2
		}, waitFor, tick)

		h.peers[1].emit(1)
		h.peers[2].emit(2)
		require.Eventually(t, func() bool {
			return len(h.peers[1].sentFrames()) == 1 && len(h.peers[2].sentFrames()) == 1
		}, waitFor, tick)
		require.True(t, h.running())

		h.stop(t)
		require.Zero(t, h.peers[0].sendAttempts(), "dead endpoint must not be a destination")
		require.False(t, h.relay.Status()[0].Receiving)
	})
}

func TestRelay_KeepFailedDestinations(t *testing.T) {
	forEachRouter(t, func(t *testing.T, mode config.RouterMode) {
		h := startRelay(t, 2, mode, func(o *Options) { o.KeepFailedDestinations = true })

		h.peers[0].fail <- errLinkLost
		require.Eventually(t, func() bool { return !h.relay.Status()[0].Receiving }, waitFor, tick)

		h.peers[1].emit(1)
		require.Eventually(t, func() bool { return len(h.peers[0].sentFrames()) == 1 }, waitFor, tick)
	})
}

func TestRelay_ThreeEndpointScenario(t *testing.T) {
	forEachRouter(t, func(t *testing.T, mode config.RouterMode) {
		h := startRelay(t, 3, mode, nil)
		a, b, c := h.peers[0], h.peers[1], h.peers[2]

		// U1 from A reaches B and C
		a.emit(1)
		require.Eventually(t, func() bool {
			return len(b.sentFrames()) == 1 && len(c.sentFrames()) == 1
		}, waitFor, tick)
		require.Empty(t, a.sentFrames())

		// U2 from B reaches A and C
		b.emit(2)
		require.Eventually(t, func() bool {
			return len(a.sentFrames()) == 1 && len(c.sentFrames()) == 2
		}, waitFor, tick)
		require.Len(t, b.sentFrames(), 1)

		// C's worker dies
		c.fail <- errLinkLost
		require.Eventually(t, func() bool { return !h.relay.Status()[2].Receiving }, waitFor, tick)

		// U3 from A still reaches B, C is no longer attempted
		a.emit(3)
		require.Eventually(t, func() bool { return len(b.sentFrames()) == 2 }, waitFor, tick)
		require.True(t, h.running())

		h.stop(t)
		require.Equal(t, 2, c.sendAttempts())
		require.Equal(t, uint8(3), b.sentFrames()[1].Sequence)
	})
}

func TestRelay_SingleEndpoint(t *testing.T) {
	forEachRouter(t, func(t *testing.T, mode config.RouterMode) {
		h := startRelay(t, 1, mode, nil)

		h.peers[0].emit(1)
		h.peers[0].emit(2)
		require.Eventually(t, func() bool {
			return testutil.ToFloat64(h.metrics.Received.WithLabelValues("0")) == 2
		}, waitFor, tick)

		h.stop(t)
		require.Zero(t, h.peers[0].sendAttempts())
		require.Zero(t, testutil.CollectAndCount(h.metrics.SendErrors))
	})
}

func TestRelay_RunReturnsWhenAllWorkersStop(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := startRelay(t, 2, config.RouterQueue, func(o *Options) { o.Logger = logging.FromZap(zap.New(core)) })
	h.peers[0].fail <- errLinkLost
	h.peers[1].fail <- errLinkLost

	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after every worker stopped")
	}
	require.Equal(t, 2, logs.FilterMessage("Endpoint stopped receiving").Len())
	require.Equal(t, 1, logs.FilterMessage("Every endpoint stopped receiving").Len())
}

func TestRelay_ReplayFinished(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := startRelay(t, 2, config.RouterSync, func(o *Options) { o.Logger = logging.FromZap(zap.New(core)) })

	h.peers[0].emit(1)
	require.Eventually(t, func() bool { return len(h.peers[1].sentFrames()) == 1 }, waitFor, tick)
	h.peers[0].fail <- fmt.Errorf("receive file:capture.bin: %w", endpoint.ErrEndOfStream)
	require.Eventually(t, func() bool { return !h.relay.Status()[0].Receiving }, waitFor, tick)

	finished := logs.FilterMessage("Replay finished").All()
	require.Len(t, finished, 1)
	require.Equal(t, zap.InfoLevel, finished[0].Level)
	require.Zero(t, logs.FilterLevelExact(zap.ErrorLevel).Len())

	// the other endpoint ends too, which stops the relay quietly
	h.peers[1].fail <- endpoint.ErrEndOfStream
	select {
	case err := <-h.done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Run did not return after every replay finished")
	}
	require.Equal(t, 1, logs.FilterMessage("Every endpoint finished").Len())
	require.Zero(t, logs.FilterLevelExact(zap.WarnLevel).Len())
}

func TestRelay_VerboseLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := startRelay(t, 2, config.RouterSync, func(o *Options) {
		o.Verbose = true
		o.Logger = logging.FromZap(zap.New(core))
	})

	h.peers[0].emit(7)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Frame forwarded").Len() == 1
	}, waitFor, tick)

	received := logs.FilterMessage("Frame received").All()
	require.Len(t, received, 1)
	require.Equal(t, int64(0), received[0].ContextMap()["endpoint"])
	require.Equal(t, int64(7), received[0].ContextMap()["seq"])

	forwarded := logs.FilterMessage("Frame forwarded").All()[0].ContextMap()
	require.Equal(t, int64(0), forwarded["origin"])
	require.Equal(t, int64(1), forwarded["destination"])
}

func TestRelay_StatsReporter(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := startRelay(t, 2, config.RouterSync, func(o *Options) {
		o.StatsInterval = 10 * time.Millisecond
		o.Logger = logging.FromZap(zap.New(core))
	})

	h.peers[0].emit(1)
	require.Eventually(t, func() bool {
		return logs.FilterMessage("Endpoint traffic").Len() > 0
	}, waitFor, tick)

	entry := logs.FilterMessage("Endpoint traffic").All()[0].ContextMap()
	require.Equal(t, int64(1), entry["endpoint"])
	require.Equal(t, uint64(1), entry["tx_frames"])
}

func TestRelay_RunTwice(t *testing.T) {
	h := startRelay(t, 1, config.RouterSync, nil)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.WorkersRunning) == 1
	}, waitFor, tick)
	require.ErrorIs(t, h.relay.Run(context.Background()), ErrAlreadyRunning)
}

func TestNew(t *testing.T) {
	_, err := New(nil, nil)
	require.ErrorIs(t, err, ErrNoPeers)

	_, err = New([]Peer{newFakePeer(1)}, nil)
	require.Error(t, err)

	r, err := New([]Peer{newFakePeer(0), newFakePeer(1)}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, r.RunID())

	status := r.Status()
	require.Len(t, status, 2)
	require.Equal(t, "[1] fake", status[1].Address)
	require.True(t, status[1].Receiving)
	require.NotNil(t, status[1].Stats)
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		bytes uint64
		over  time.Duration
		want  string
	}{
		{0, time.Second, "0.0 B/s"},
		{512, time.Second, "512.0 B/s"},
		{30720, 10 * time.Second, "3.0 KiB/s"},
		{3 << 20, time.Second, "3.0 MiB/s"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, formatRate(tt.bytes, tt.over))
	}
}
