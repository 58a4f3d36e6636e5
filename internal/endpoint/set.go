package endpoint

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/julienstroheker/mavrelay/internal/logging"
)

// ErrNoEndpoints is returned when the address list is empty
var ErrNoEndpoints = errors.New("at least one endpoint is required")

// BootstrapError reports the first endpoint that could not be opened
type BootstrapError struct {
	Index   int
	Address string
	Err     error
}

func (e *BootstrapError) Error() string {
	return fmt.Sprintf("endpoint %d (%s): %v", e.Index, e.Address, e.Err)
}

func (e *BootstrapError) Unwrap() error {
	return e.Err
}

// Set is the fixed, ordered collection of endpoints. Endpoint i sits at
// index i for the life of the process.
type Set struct {
	endpoints []*Endpoint
}

// NewSet wraps already constructed endpoints; their IDs must match their positions
func NewSet(endpoints ...*Endpoint) (*Set, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	for i, ep := range endpoints {
		if ep == nil || ep.ID() != i {
			return nil, fmt.Errorf("endpoint at position %d has mismatched identity", i)
		}
	}
	return &Set{endpoints: endpoints}, nil
}

// Open parses addrs and opens every endpoint concurrently. The first
// failure cancels the rest, closes whatever was opened and is returned as
// a *BootstrapError; no partial set is ever returned.
func Open(ctx context.Context, addrs []string, opts *Options) (*Set, error) {
	if len(addrs) == 0 {
		return nil, ErrNoEndpoints
	}
	opts = opts.withDefaults()

	parsed := make([]Address, len(addrs))
	for i, raw := range addrs {
		addr, err := ParseAddress(raw)
		if err != nil {
			return nil, &BootstrapError{Index: i, Address: raw, Err: err}
		}
		parsed[i] = addr
	}

	endpoints := make([]*Endpoint, len(parsed))
	g, gctx := errgroup.WithContext(ctx)
	for i, addr := range parsed {
		g.Go(func() error {
			ep, err := open(gctx, i, addr, opts)
			if err != nil {
				return &BootstrapError{Index: i, Address: addr.Raw, Err: err}
			}
			endpoints[i] = ep
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var closeErr error
		for _, ep := range endpoints {
			if ep != nil {
				closeErr = multierr.Append(closeErr, ep.Close())
			}
		}
		if closeErr != nil {
			opts.Logger.Warn("Failed to release endpoints after bootstrap failure", logging.Error(closeErr))
		}
		return nil, err
	}

	for _, ep := range endpoints {
		opts.Logger.Info("Endpoint opened",
			logging.Int("endpoint", ep.ID()),
			logging.String("address", ep.Address().Raw),
			logging.String("mavlink", ep.Version().String()))
	}
	return &Set{endpoints: endpoints}, nil
}

// Len returns the number of endpoints
func (s *Set) Len() int {
	return len(s.endpoints)
}

// Get returns endpoint i
func (s *Set) Get(i int) *Endpoint {
	return s.endpoints[i]
}

// Endpoints returns the endpoints in index order. The slice must not be modified.
func (s *Set) Endpoints() []*Endpoint {
	return s.endpoints
}

// Close closes every endpoint and returns all errors combined
func (s *Set) Close() error {
	var err error
	for _, ep := range s.endpoints {
		err = multierr.Append(err, ep.Close())
	}
	return err
}
