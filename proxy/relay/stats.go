package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/julienstroheker/mavrelay/internal/endpoint"
	"github.com/julienstroheker/mavrelay/internal/logging"
)

// reportStats logs per-endpoint traffic every interval until ctx is done.
// Idle endpoints are left out.
func (r *Relay) reportStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := make([]endpoint.StatsSnapshot, len(r.peers))
	for {
		select {
		case <-ticker.C:
			for i, st := range r.Status() {
				if st.Stats == nil {
					continue
				}
				delta := st.Stats.Sub(prev[i])
				prev[i] = *st.Stats
				if delta.IsZero() {
					continue
				}
				r.logger.Info("Endpoint traffic",
					logging.Int("endpoint", i),
					logging.String("address", st.Address),
					logging.Bool("receiving", st.Receiving),
					logging.String("in", formatRate(delta.ReceivedBytes, interval)),
					logging.String("out", formatRate(delta.SentBytes, interval)),
					logging.Uint64("rx_frames", delta.ReceivedFrames),
					logging.Uint64("tx_frames", delta.SentFrames),
					logging.Uint64("send_errors", delta.SendErrors),
					logging.Uint64("disconnects", delta.Disconnects))
			}

		case <-ctx.Done():
			return
		}
	}
}

var byteUnits = []string{"B", "KiB", "MiB", "GiB"}

// formatRate renders n bytes over d as a per-second rate, e.g. "1.5 KiB/s"
func formatRate(n uint64, d time.Duration) string {
	b := float64(n) / d.Seconds()
	unit := 0
	for b >= 1024 && unit < len(byteUnits)-1 {
		b /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %s/s", b, byteUnits[unit])
}
