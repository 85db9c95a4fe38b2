package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide relay counter set.
var Stats = &stats{}

type stats struct {
	OpenedConns  atomic.Int64 // cumulative transport connections opened
	ClosedConns  atomic.Int64 // cumulative transport connections closed
	Handshakes   atomic.Int64 // successful joins
	Rejected     atomic.Int64 // joins refused (version mismatch, not ready)
	Evictions    atomic.Int64 // entries superseded by a newer join
	Timeouts     atomic.Int64 // connections closed for not completing a handshake
	DecodeErrors atomic.Int64 // inbound frames that failed to decode
	Routed       atomic.Int64 // outbound envelopes handed to a connection
	Dropped      atomic.Int64 // outbound envelopes with no live target
	Throttled    atomic.Int64 // inbound frames refused by a rate limiter
	BytesSent    atomic.Int64 // cumulative bytes handed to transports
	BytesRecv    atomic.Int64 // cumulative bytes received from transports
}

func (s *stats) AddConn()      { s.OpenedConns.Add(1) }
func (s *stats) RemoveConn()   { s.ClosedConns.Add(1) }
func (s *stats) AddSent(n int) { s.BytesSent.Add(int64(n)) }
func (s *stats) AddRecv(n int) { s.BytesRecv.Add(int64(n)) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	OpenedConns  int64 `json:"opened_conns"`
	ClosedConns  int64 `json:"closed_conns"`
	Handshakes   int64 `json:"handshakes"`
	Rejected     int64 `json:"rejected"`
	Evictions    int64 `json:"evictions"`
	Timeouts     int64 `json:"timeouts"`
	DecodeErrors int64 `json:"decode_errors"`
	Routed       int64 `json:"routed"`
	Dropped      int64 `json:"dropped"`
	Throttled    int64 `json:"throttled"`
	BytesSent    int64 `json:"bytes_sent"`
	BytesRecv    int64 `json:"bytes_recv"`
}

// Snapshot reads every counter once.
func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		OpenedConns:  s.OpenedConns.Load(),
		ClosedConns:  s.ClosedConns.Load(),
		Handshakes:   s.Handshakes.Load(),
		Rejected:     s.Rejected.Load(),
		Evictions:    s.Evictions.Load(),
		Timeouts:     s.Timeouts.Load(),
		DecodeErrors: s.DecodeErrors.Load(),
		Routed:       s.Routed.Load(),
		Dropped:      s.Dropped.Load(),
		Throttled:    s.Throttled.Load(),
		BytesSent:    s.BytesSent.Load(),
		BytesRecv:    s.BytesRecv.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs relay statistics every
// interval while there is activity. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		secs := interval.Seconds()
		prev := Stats.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()

				inS := float64(cur.BytesRecv-prev.BytesRecv) / secs
				outS := float64(cur.BytesSent-prev.BytesSent) / secs
				inC := cur.OpenedConns - prev.OpenedConns
				outC := cur.ClosedConns - prev.ClosedConns
				live := cur.OpenedConns - cur.ClosedConns

				if inC > 0 || outC > 0 || inS > 10 || outS > 10 {
					pterm.DefaultLogger.Info(formatStats(inS, outS, inC, outC, live, cur.Dropped-prev.Dropped))
				}

				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(inS, outS float64, inC, outC, live, dropped int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Conn: %2d↑ %2d↓ (%d live) | Dropped: %d",
		formatBytes(inS),
		formatBytes(outS),
		inC,
		outC,
		live,
		dropped,
	)
}
