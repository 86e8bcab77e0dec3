// Package metrics provides in-process counters and latency tracking for the realtime core.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// Latency Tracker
// =============================================================================

// LatencyTracker keeps a sliding window of samples for percentile reporting.
type LatencyTracker struct {
	mu         sync.Mutex
	samples    []int64 // microseconds
	maxSamples int
}

// NewLatencyTracker creates a tracker that keeps the last windowSize samples.
func NewLatencyTracker(windowSize int) *LatencyTracker {
	if windowSize <= 0 {
		windowSize = 1000
	}
	return &LatencyTracker{
		samples:    make([]int64, 0, windowSize),
		maxSamples: windowSize,
	}
}

// Record records a latency measurement.
func (lt *LatencyTracker) Record(d time.Duration) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if len(lt.samples) >= lt.maxSamples {
		// Drop the oldest 10% at once to avoid shifting on every insert
		drop := lt.maxSamples / 10
		if drop < 1 {
			drop = 1
		}
		lt.samples = append(lt.samples[:0], lt.samples[drop:]...)
	}
	lt.samples = append(lt.samples, d.Microseconds())
}

// Stats returns percentile statistics over the current window.
func (lt *LatencyTracker) Stats() LatencyStats {
	lt.mu.Lock()
	sorted := make([]int64, len(lt.samples))
	copy(sorted, lt.samples)
	lt.mu.Unlock()

	n := len(sorted)
	if n == 0 {
		return LatencyStats{}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	at := func(p float64) time.Duration {
		return time.Duration(sorted[int(float64(n-1)*p)]) * time.Microsecond
	}

	return LatencyStats{
		Count: n,
		Min:   time.Duration(sorted[0]) * time.Microsecond,
		Max:   time.Duration(sorted[n-1]) * time.Microsecond,
		Avg:   time.Duration(sum/int64(n)) * time.Microsecond,
		P50:   at(0.50),
		P95:   at(0.95),
		P99:   at(0.99),
	}
}

// LatencyStats holds latency statistics.
type LatencyStats struct {
	Count int           `json:"count"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	Avg   time.Duration `json:"avg"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// ToMap renders the stats in milliseconds for JSON endpoints.
func (s LatencyStats) ToMap() map[string]any {
	ms := func(d time.Duration) float64 { return float64(d.Microseconds()) / 1000 }
	return map[string]any{
		"count":  s.Count,
		"min_ms": ms(s.Min),
		"max_ms": ms(s.Max),
		"avg_ms": ms(s.Avg),
		"p50_ms": ms(s.P50),
		"p95_ms": ms(s.P95),
		"p99_ms": ms(s.P99),
	}
}

// =============================================================================
// Counters
// =============================================================================

// Counter is a monotonically increasing atomic counter.
type Counter struct {
	v atomic.Int64
}

func (c *Counter) Inc()         { c.v.Add(1) }
func (c *Counter) Add(n int64)  { c.v.Add(n) }
func (c *Counter) Value() int64 { return c.v.Load() }

// Gauge is an atomic value that moves both ways.
type Gauge struct {
	v atomic.Int64
}

func (g *Gauge) Inc()         { g.v.Add(1) }
func (g *Gauge) Dec()         { g.v.Add(-1) }
func (g *Gauge) Value() int64 { return g.v.Load() }

// Realtime groups the counters shared by the connection core.
type Realtime struct {
	SessionsOpened    Counter
	SessionsClosed    Counter
	ActiveSessions    Gauge
	HandshakesDone    Counter
	MessagesIn        Counter
	MessagesIgnored   Counter
	MessagesThrottled Counter
	MalformedFrames   Counter
	HeartbeatTimeouts Counter
	PushesSent        Counter
	PushesFailed      Counter
	LocationFanouts   Counter
	FanoutLatency     *LatencyTracker
}

// NewRealtime creates a zeroed counter set.
func NewRealtime() *Realtime {
	return &Realtime{FanoutLatency: NewLatencyTracker(1000)}
}

// Snapshot renders the counters for the stats endpoint.
func (r *Realtime) Snapshot() map[string]any {
	return map[string]any{
		"sessions_opened":    r.SessionsOpened.Value(),
		"sessions_closed":    r.SessionsClosed.Value(),
		"active_sessions":    r.ActiveSessions.Value(),
		"handshakes":         r.HandshakesDone.Value(),
		"messages_in":        r.MessagesIn.Value(),
		"messages_ignored":   r.MessagesIgnored.Value(),
		"messages_throttled": r.MessagesThrottled.Value(),
		"malformed_frames":   r.MalformedFrames.Value(),
		"heartbeat_timeouts": r.HeartbeatTimeouts.Value(),
		"pushes_sent":        r.PushesSent.Value(),
		"pushes_failed":      r.PushesFailed.Value(),
		"location_fanouts":   r.LocationFanouts.Value(),
		"fanout_latency":     r.FanoutLatency.Stats().ToMap(),
	}
}
