package endpoint

import "sync/atomic"

// Stats counts traffic through one endpoint
type Stats struct {
	receivedFrames atomic.Uint64
	receivedBytes  atomic.Uint64
	sentFrames     atomic.Uint64
	sentBytes      atomic.Uint64
	sendErrors     atomic.Uint64
	disconnects    atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats
type StatsSnapshot struct {
	ReceivedFrames uint64 `json:"received_frames"`
	ReceivedBytes  uint64 `json:"received_bytes"`
	SentFrames     uint64 `json:"sent_frames"`
	SentBytes      uint64 `json:"sent_bytes"`
	SendErrors     uint64 `json:"send_errors"`
	Disconnects    uint64 `json:"disconnects"`
}

// Snapshot copies the counters
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		ReceivedFrames: s.receivedFrames.Load(),
		ReceivedBytes:  s.receivedBytes.Load(),
		SentFrames:     s.sentFrames.Load(),
		SentBytes:      s.sentBytes.Load(),
		SendErrors:     s.sendErrors.Load(),
		Disconnects:    s.disconnects.Load(),
	}
}

// Sub returns the counter deltas since prev
func (s StatsSnapshot) Sub(prev StatsSnapshot) StatsSnapshot {
	return StatsSnapshot{
		ReceivedFrames: s.ReceivedFrames - prev.ReceivedFrames,
		ReceivedBytes:  s.ReceivedBytes - prev.ReceivedBytes,
		SentFrames:     s.SentFrames - prev.SentFrames,
		SentBytes:      s.SentBytes - prev.SentBytes,
		SendErrors:     s.SendErrors - prev.SendErrors,
		Disconnects:    s.Disconnects - prev.Disconnects,
	}
}

// IsZero reports whether every counter is zero
func (s StatsSnapshot) IsZero() bool {
	return s == StatsSnapshot{}
}
