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

// Stats is the process-wide signaling traffic counter.
var Stats = &stats{}

type stats struct {
	MsgsSent  atomic.Int64 // signaling messages written to the WebSocket
	MsgsRecv  atomic.Int64 // signaling messages read from the WebSocket
	BytesSent atomic.Int64 // cumulative bytes written to the WebSocket
	BytesRecv atomic.Int64 // cumulative bytes read from the WebSocket
	Dials     atomic.Int64 // WebSocket dial attempts
}

func (s *stats) AddSent(n int) {
	s.MsgsSent.Add(1)
	s.BytesSent.Add(int64(n))
}

func (s *stats) AddRecv(n int) {
	s.MsgsRecv.Add(1)
	s.BytesRecv.Add(int64(n))
}

func (s *stats) AddDial() { s.Dials.Add(1) }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	MsgsSent, MsgsRecv   int64
	BytesSent, BytesRecv int64
	Dials                int64
}

func (s *stats) Snapshot() Snapshot {
	return Snapshot{
		MsgsSent:  s.MsgsSent.Load(),
		MsgsRecv:  s.MsgsRecv.Load(),
		BytesSent: s.BytesSent.Load(),
		BytesRecv: s.BytesRecv.Load(),
		Dials:     s.Dials.Load(),
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling traffic every
// interval (10 seconds if interval <= 0). Quiet intervals are skipped. It
// stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prev := Stats.Snapshot()
		for {
			select {
			case <-ticker.C:
				cur := Stats.Snapshot()
				if line, ok := formatDelta(prev, cur, interval); ok {
					pterm.DefaultLogger.Info(line)
				}
				prev = cur

			case <-ctx.Done():
				return
			}
		}
	}()
}

// formatDelta renders the traffic between two snapshots. It reports false
// when nothing was exchanged.
func formatDelta(prev, cur Snapshot, interval time.Duration) (string, bool) {
	inM := cur.MsgsRecv - prev.MsgsRecv
	outM := cur.MsgsSent - prev.MsgsSent
	if inM == 0 && outM == 0 {
		return "", false
	}
	secs := interval.Seconds()
	inS := float64(cur.BytesRecv-prev.BytesRecv) / secs
	outS := float64(cur.BytesSent-prev.BytesSent) / secs
	return formatStats(inS, outS, inM, outM), true
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

// formatStats returns a formatted string of the signaling traffic for display in the logger.
func formatStats(inS, outS float64, inM, outM int64) string {
	return fmt.Sprintf("In: %s/s | Out: %s/s | Msgs: %3d↓ %3d↑",
		formatBytes(inS),
		formatBytes(outS),
		inM,
		outM,
	)
}
