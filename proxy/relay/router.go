package relay

import (
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/julienstroheker/mavrelay/internal/config"
	"github.com/julienstroheker/mavrelay/internal/endpoint"
	"github.com/julienstroheker/mavrelay/internal/logging"
)

// sendErrorLogInterval limits send failure logs to one per destination per interval
const sendErrorLogInterval = 5 * time.Second

// Router delivers units to every endpoint except their origin
type Router interface {
	Route(u Unit)
	// Close waits for in-flight deliveries; Route must not be called after it
	Close()
}

// fanout writes a unit to each destination in index order. A failing
// destination never stops the loop.
type fanout struct {
	peers      []Peer
	labels     []string
	alive      []atomic.Bool
	limiters   []*rate.Limiter
	keepFailed bool
	verbose    bool
	metrics    *Metrics
	logger     *logging.Logger
}

func newFanout(peers []Peer, keepFailed, verbose bool, metrics *Metrics, logger *logging.Logger) *fanout {
	f := &fanout{
		peers:      peers,
		labels:     make([]string, len(peers)),
		alive:      make([]atomic.Bool, len(peers)),
		limiters:   make([]*rate.Limiter, len(peers)),
		keepFailed: keepFailed,
		verbose:    verbose,
		metrics:    metrics,
		logger:     logger,
	}
	for i := range peers {
		f.labels[i] = strconv.Itoa(i)
		f.alive[i].Store(true)
		f.limiters[i] = rate.NewLimiter(rate.Every(sendErrorLogInterval), 1)
	}
	return f
}

// markDead records that endpoint i stopped receiving
func (f *fanout) markDead(i int) {
	f.alive[i].Store(false)
}

func (f *fanout) receiving(i int) bool {
	return f.alive[i].Load()
}

func (f *fanout) deliver(u Unit) {
	for j, p := range f.peers {
		if j == u.Origin {
			continue
		}
		if !f.keepFailed && !f.alive[j].Load() {
			continue
		}

		if err := p.Send(u.Frame); err != nil {
			f.metrics.SendErrors.WithLabelValues(f.labels[j]).Inc()
			f.logSendError(j, u, err)
			continue
		}

		f.metrics.Forwarded.WithLabelValues(f.labels[j]).Inc()
		if f.verbose {
			f.logger.Info("Frame forwarded",
				logging.Int("origin", u.Origin),
				logging.Int("destination", j),
				logging.Uint32("msg_id", u.Frame.MessageID),
				logging.Int("seq", int(u.Frame.Sequence)))
		}
	}
}

func (f *fanout) logSendError(j int, u Unit, err error) {
	if errors.Is(err, endpoint.ErrNoPeer) {
		f.logger.Debug("Destination has no peer yet",
			logging.Int("origin", u.Origin),
			logging.Int("destination", j))
		return
	}
	if !f.limiters[j].Allow() {
		return
	}
	f.logger.Warn("Failed to forward frame",
		logging.Int("origin", u.Origin),
		logging.Int("destination", j),
		logging.String("address", f.peers[j].String()),
		logging.Error(err))
}

// SyncRouter fans out on the caller's goroutine
type SyncRouter struct {
	f *fanout
}

// Route delivers u before returning
func (r *SyncRouter) Route(u Unit) {
	r.f.deliver(u)
}

// Close is a no-op; deliveries finish inside Route
func (r *SyncRouter) Close() {}

// QueueRouter hands units to dispatcher goroutines, so a slow destination
// does not hold up the receiving worker. Each dispatcher owns a queue and
// every origin maps to exactly one of them, which keeps the frames of an
// origin in receive order.
type QueueRouter struct {
	f       *fanout
	queues  []*Queue
	metrics *Metrics
	wg      sync.WaitGroup
}

// newQueueRouter starts the dispatchers. There are never more of them than
// endpoints, and limit bounds each dispatcher's queue.
func newQueueRouter(f *fanout, dispatchers, limit int, metrics *Metrics) *QueueRouter {
	dispatchers = max(1, min(dispatchers, len(f.peers)))
	r := &QueueRouter{
		f:       f,
		queues:  make([]*Queue, dispatchers),
		metrics: metrics,
	}
	r.wg.Add(dispatchers)
	for i := range r.queues {
		r.queues[i] = NewQueue(limit)
		go r.dispatch(r.queues[i])
	}
	return r
}

// Route enqueues u on its origin's queue and returns immediately
func (r *QueueRouter) Route(u Unit) {
	evicted, ok := r.queueOf(u.Origin).Push(u)
	if !ok {
		return
	}
	if evicted {
		r.metrics.QueueDropped.Inc()
	}
	r.metrics.QueueDepth.Set(float64(r.depth()))
}

func (r *QueueRouter) queueOf(origin int) *Queue {
	return r.queues[origin%len(r.queues)]
}

// depth is the number of units waiting across all dispatchers
func (r *QueueRouter) depth() int {
	n := 0
	for _, q := range r.queues {
		n += q.Len()
	}
	return n
}

func (r *QueueRouter) dispatch(q *Queue) {
	defer r.wg.Done()
	for {
		u, ok := q.Pop()
		if !ok {
			return
		}
		r.metrics.QueueDepth.Set(float64(r.depth()))
		r.f.deliver(u)
	}
}

// Close drains the queues and waits for the dispatchers to exit
func (r *QueueRouter) Close() {
	for _, q := range r.queues {
		q.Close()
	}
	r.wg.Wait()
	r.metrics.QueueDepth.Set(0)
}

func newRouter(mode config.RouterMode, f *fanout, dispatchers, limit int, metrics *Metrics) Router {
	if mode == config.RouterQueue {
		return newQueueRouter(f, dispatchers, limit, metrics)
	}
	return &SyncRouter{f: f}
}
