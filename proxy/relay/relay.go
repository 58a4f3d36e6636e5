package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/julienstroheker/mavrelay/internal/config"
	"github.com/julienstroheker/mavrelay/internal/endpoint"
	"github.com/julienstroheker/mavrelay/internal/logging"
)

var (
	// ErrNoPeers is returned by New for an empty peer list
	ErrNoPeers = errors.New("relay needs at least one peer")
	// ErrAlreadyRunning is returned when Run is called twice
	ErrAlreadyRunning = errors.New("relay is already running")
)

// Options configures a Relay
type Options struct {
	// Router selects inline fan-out (sync) or the dispatcher queues (queue)
	Router config.RouterMode

	// Dispatchers is the number of queue router goroutines
	Dispatchers int

	// QueueLimit bounds the queue router; 0 means unbounded
	QueueLimit int

	Policy ErrorPolicy

	// KeepFailedDestinations keeps sending to endpoints whose receive
	// worker has stopped
	KeepFailedDestinations bool

	// Verbose logs every received and forwarded frame
	Verbose bool

	// StatsInterval is the period of the traffic summary log; 0 disables it
	StatsInterval time.Duration

	// Metrics receives the relay's counters; nil creates private ones
	Metrics *Metrics

	Logger *logging.Logger
}

// EndpointStatus describes one endpoint for the admin API
type EndpointStatus struct {
	ID        int                     `json:"id"`
	Address   string                  `json:"address"`
	Receiving bool                    `json:"receiving"`
	Stats     *endpoint.StatsSnapshot `json:"stats,omitempty"`
}

// Relay runs one receive worker per peer and routes every frame to all
// other peers
type Relay struct {
	peers   []Peer
	opts    Options
	fanout  *fanout
	metrics *Metrics
	logger  *logging.Logger
	runID   string
	running atomic.Bool
}

// New creates a relay over peers; peer i must report ID i
func New(peers []Peer, opts *Options) (*Relay, error) {
	if len(peers) == 0 {
		return nil, ErrNoPeers
	}
	for i, p := range peers {
		if p == nil || p.ID() != i {
			return nil, fmt.Errorf("peer at position %d has mismatched identity", i)
		}
	}

	o := Options{}
	if opts != nil {
		o = *opts
	}
	if !o.Router.IsValid() {
		o.Router = config.RouterSync
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics()
	}

	runID := uuid.New().String()
	logger := o.Logger.With(logging.String("run_id", runID))

	return &Relay{
		peers:   peers,
		opts:    o,
		fanout:  newFanout(peers, o.KeepFailedDestinations, o.Verbose, o.Metrics, logger),
		metrics: o.Metrics,
		logger:  logger,
		runID:   runID,
	}, nil
}

// RunID identifies this relay instance in logs
func (r *Relay) RunID() string {
	return r.runID
}

// Run starts the workers and blocks until ctx is cancelled or every worker
// has stopped. In-flight deliveries finish before it returns.
func (r *Relay) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	router := newRouter(r.opts.Router, r.fanout, r.opts.Dispatchers, r.opts.QueueLimit, r.metrics)
	r.logger.Info("Relay started",
		logging.Int("endpoints", len(r.peers)),
		logging.String("router", r.opts.Router.String()))

	reportCtx, stopReport := context.WithCancel(ctx)
	defer stopReport()
	if r.opts.StatsInterval > 0 {
		go r.reportStats(reportCtx, r.opts.StatsInterval)
	}

	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for _, p := range r.peers {
		wg.Go(func() {
			if err := r.work(ctx, p, router); err != nil {
				failed.Add(1)
			}
		})
	}
	wg.Wait()
	router.Close()

	switch {
	case ctx.Err() != nil:
	case failed.Load() > 0:
		r.logger.Warn("Every endpoint stopped receiving", logging.Int("failed", int(failed.Load())))
	default:
		r.logger.Info("Every endpoint finished")
	}
	r.logger.Info("Relay stopped")
	return nil
}

// Status reports every endpoint in index order
func (r *Relay) Status() []EndpointStatus {
	out := make([]EndpointStatus, len(r.peers))
	for i, p := range r.peers {
		out[i] = EndpointStatus{
			ID:        i,
			Address:   peerAddress(p),
			Receiving: r.fanout.receiving(i),
		}
		if sp, ok := p.(statsPeer); ok {
			snap := sp.Stats()
			out[i].Stats = &snap
		}
	}
	return out
}

// work is the receive loop of one peer. It returns the error that stopped
// the peer, or nil when the context ended or a replay ran out of frames.
func (r *Relay) work(ctx context.Context, p Peer, router Router) error {
	id := p.ID()
	label := r.fanout.labels[id]
	logger := r.logger.With(logging.Int("endpoint", id))
	b := r.opts.Policy.NewBackOff()

	r.metrics.WorkersRunning.Inc()
	defer r.metrics.WorkersRunning.Dec()

	for ctx.Err() == nil {
		frame, err := p.Receive(ctx)
		if err == nil {
			b.Reset()
			r.metrics.Received.WithLabelValues(label).Inc()
			if r.opts.Verbose {
				logger.Info("Frame received",
					logging.String("version", frame.Version.String()),
					logging.Int("seq", int(frame.Sequence)),
					logging.Int("sys_id", int(frame.SystemID)),
					logging.Int("comp_id", int(frame.ComponentID)),
					logging.Uint32("msg_id", frame.MessageID),
					logging.Int("len", frame.Len()))
			}
			router.Route(Unit{Origin: id, Frame: frame})
			continue
		}
		if ctx.Err() != nil {
			return nil
		}

		if r.opts.Policy.Classify(err) == Transient {
			r.metrics.TransientErrors.WithLabelValues(label).Inc()
			if !sleep(ctx, b.NextBackOff()) {
				return nil
			}
			continue
		}

		r.fanout.markDead(id)
		if errors.Is(err, endpoint.ErrEndOfStream) {
			logger.Info("Replay finished", logging.String("address", peerAddress(p)))
			return nil
		}
		logger.Error("Endpoint stopped receiving",
			logging.String("address", peerAddress(p)),
			logging.Error(err))
		return err
	}
	return nil
}

func peerAddress(p Peer) string {
	if a, ok := p.(interface{ Address() endpoint.Address }); ok {
		return a.Address().Raw
	}
	return p.String()
}

// sleep waits for d or until ctx is done, reporting whether the wait completed
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
