// Package heartbeat detects dead connections with application-level ping/pong.
package heartbeat

import (
	"sync"
	"sync/atomic"
	"time"

	"realtime_server/core/domain"
	"realtime_server/core/port/out"
	"realtime_server/pkg/metrics"

	"github.com/rs/zerolog"
)

// Config holds heartbeat timing.
type Config struct {
	PingInterval time.Duration // how often a ping is sent once identified
	Timeout      time.Duration // inactivity deadline, reset by every pong
}

// DefaultConfig returns the 5s ping / 15s deadline timing.
func DefaultConfig() Config {
	return Config{
		PingInterval: 5 * time.Second,
		Timeout:      15 * time.Second,
	}
}

// Monitor hands out per-connection heartbeats and keeps aggregate counters.
type Monitor struct {
	cfg   Config
	stats *metrics.Realtime
	log   zerolog.Logger

	armed    atomic.Int64
	active   atomic.Int64
	timeouts atomic.Int64
}

// NewMonitor creates a monitor.
func NewMonitor(cfg Config, stats *metrics.Realtime, log zerolog.Logger) *Monitor {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultConfig().PingInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if stats == nil {
		stats = metrics.NewRealtime()
	}
	return &Monitor{
		cfg:   cfg,
		stats: stats,
		log:   log.With().Str("component", "heartbeat_monitor").Logger(),
	}
}

// Arm starts the inactivity deadline for a freshly accepted connection.
// Pinging begins only after Start. When the deadline passes, the connection
// is closed and onTimeout is called once.
func (m *Monitor) Arm(conn out.Connection, onTimeout func()) *Heartbeat {
	h := &Heartbeat{
		m:         m,
		conn:      conn,
		onTimeout: onTimeout,
		state:     domain.LivenessConnecting,
		stopPing:  make(chan struct{}),
	}

	m.armed.Add(1)
	m.active.Add(1)

	h.mu.Lock()
	h.resetDeadlineLocked()
	h.mu.Unlock()
	return h
}

// Stats returns monitor counters.
func (m *Monitor) Stats() Stats {
	return Stats{
		Armed:    m.armed.Load(),
		Active:   m.active.Load(),
		Timeouts: m.timeouts.Load(),
	}
}

// Stats holds heartbeat counters.
type Stats struct {
	Armed    int64 `json:"armed"`
	Active   int64 `json:"active"`
	Timeouts int64 `json:"timeouts"`
}

// Heartbeat is the liveness state machine of one connection:
// Connecting -> Alive <-> AwaitingPong -> Terminated.
type Heartbeat struct {
	m         *Monitor
	conn      out.Connection
	onTimeout func()

	mu       sync.Mutex
	state    domain.LivenessState
	deadline *time.Timer
	gen      uint64 // invalidates deadline callbacks that lost a race with a reset
	started  bool

	stopPing chan struct{}
	stopOnce sync.Once
}

// Start moves Connecting -> Alive and begins pinging.
func (h *Heartbeat) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state != domain.LivenessConnecting || h.started {
		return
	}
	h.started = true
	h.state = domain.LivenessAlive
	h.resetDeadlineLocked()

	go h.pingLoop()
}

// Pong records a pong: the deadline restarts and the connection is Alive.
func (h *Heartbeat) Pong() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == domain.LivenessTerminated || !h.started {
		return
	}
	h.state = domain.LivenessAlive
	h.resetDeadlineLocked()
}

// Stop cancels all timers. Idempotent.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.terminateLocked() {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()
	h.haltPing()
}

// State returns the current liveness state.
func (h *Heartbeat) State() domain.LivenessState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Heartbeat) resetDeadlineLocked() {
	if h.deadline != nil {
		h.deadline.Stop()
	}
	h.gen++
	gen := h.gen
	h.deadline = time.AfterFunc(h.m.cfg.Timeout, func() { h.expire(gen) })
}

// terminateLocked reports whether this call performed the transition.
func (h *Heartbeat) terminateLocked() bool {
	if h.state == domain.LivenessTerminated {
		return false
	}
	h.state = domain.LivenessTerminated
	if h.deadline != nil {
		h.deadline.Stop()
	}
	h.m.active.Add(-1)
	return true
}

func (h *Heartbeat) expire(gen uint64) {
	h.mu.Lock()
	if gen != h.gen || !h.terminateLocked() {
		h.mu.Unlock()
		return
	}
	h.mu.Unlock()

	h.haltPing()
	h.m.timeouts.Add(1)
	h.m.stats.HeartbeatTimeouts.Inc()
	h.m.log.Info().
		Str("conn_id", string(h.conn.ID())).
		Dur("timeout", h.m.cfg.Timeout).
		Msg("heartbeat deadline passed, terminating connection")

	h.conn.Close("heartbeat timeout")
	if h.onTimeout != nil {
		h.onTimeout()
	}
}

func (h *Heartbeat) haltPing() {
	h.stopOnce.Do(func() { close(h.stopPing) })
}

func (h *Heartbeat) pingLoop() {
	ticker := time.NewTicker(h.m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.mu.Lock()
			if h.state == domain.LivenessTerminated {
				h.mu.Unlock()
				return
			}
			h.state = domain.LivenessAwaitingPong
			h.mu.Unlock()

			if err := h.conn.Send(domain.Ping{}); err != nil {
				h.m.log.Debug().
					Err(err).
					Str("conn_id", string(h.conn.ID())).
					Msg("ping send failed")
			}
		case <-h.stopPing:
			return
		}
	}
}
