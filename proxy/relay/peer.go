package relay

import (
	"context"

	"github.com/julienstroheker/mavrelay/internal/endpoint"
	"github.com/julienstroheker/mavrelay/internal/mavlink"
)

// Peer is the part of an endpoint the relay needs. Receive is called from a
// single goroutine; Send may be called from several at once.
type Peer interface {
	ID() int
	String() string
	Receive(ctx context.Context) (mavlink.Frame, error)
	Send(frame mavlink.Frame) error
}

// statsPeer is implemented by peers that keep traffic counters
type statsPeer interface {
	Stats() endpoint.StatsSnapshot
}

// Unit is one received frame tagged with the endpoint it came from
type Unit struct {
	Origin int
	Frame  mavlink.Frame
}

// Peers adapts an endpoint set for New
func Peers(set *endpoint.Set) []Peer {
	eps := set.Endpoints()
	peers := make([]Peer, len(eps))
	for i, ep := range eps {
		peers[i] = ep
	}
	return peers
}
