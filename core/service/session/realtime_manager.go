package session

import (
	"context"
	"sync"
	"time"

	"realtime_server/core/domain"
	"realtime_server/core/port/out"
	"realtime_server/core/service/heartbeat"
	"realtime_server/pkg/metrics"

	"github.com/rs/zerolog"
)

// Config holds per-session limits.
type Config struct {
	InboundBuffer             int           // queued inbound messages per connection
	InboundRate               float64       // messages per second, <= 0 disables limiting
	InboundBurst              int           // limiter burst
	PurgeSubscriptionsOnClose bool          // drop the connection's location subscriptions on close
	ReplayTimeout             time.Duration // bound on offline replay after a handshake
}

// DefaultConfig returns the default session limits.
func DefaultConfig() Config {
	return Config{
		InboundBuffer:             64,
		InboundRate:               20,
		InboundBurst:              40,
		PurgeSubscriptionsOnClose: true,
		ReplayTimeout:             10 * time.Second,
	}
}

// Manager opens and tracks sessions.
type Manager struct {
	cfg       Config
	directory out.ConnectionDirectory
	monitor   *heartbeat.Monitor
	tracker   Tracker
	notifier  Notifier
	stats     *metrics.Realtime
	log       zerolog.Logger

	mu       sync.Mutex
	sessions map[domain.ConnectionID]*Session
	closed   bool
	replays  sync.WaitGroup
}

// NewManager creates a session manager.
func NewManager(
	cfg Config,
	directory out.ConnectionDirectory,
	monitor *heartbeat.Monitor,
	tracker Tracker,
	notifier Notifier,
	stats *metrics.Realtime,
	log zerolog.Logger,
) *Manager {
	def := DefaultConfig()
	if cfg.InboundBuffer <= 0 {
		cfg.InboundBuffer = def.InboundBuffer
	}
	if cfg.InboundBurst <= 0 {
		cfg.InboundBurst = def.InboundBurst
	}
	if cfg.ReplayTimeout <= 0 {
		cfg.ReplayTimeout = def.ReplayTimeout
	}
	if stats == nil {
		stats = metrics.NewRealtime()
	}

	return &Manager{
		cfg:       cfg,
		directory: directory,
		monitor:   monitor,
		tracker:   tracker,
		notifier:  notifier,
		stats:     stats,
		log:       log.With().Str("component", "session_manager").Logger(),
		sessions:  make(map[domain.ConnectionID]*Session),
	}
}

// Open starts a session for a freshly accepted connection. The heartbeat
// deadline is armed immediately so anonymous connections cannot linger.
func (m *Manager) Open(conn out.Connection) (*Session, error) {
	s := newSession(m, conn)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, domain.ErrConnectionClosed
	}
	m.sessions[conn.ID()] = s
	m.mu.Unlock()

	s.hb = m.monitor.Arm(conn, func() { s.Close("heartbeat timeout") })

	m.stats.SessionsOpened.Inc()
	m.stats.ActiveSessions.Inc()

	go s.run()
	return s, nil
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID())
	m.mu.Unlock()

	m.stats.SessionsClosed.Inc()
	m.stats.ActiveSessions.Dec()
}

func (m *Manager) goReplay(s *Session, userID string) {
	log := s.log
	m.replays.Add(1)
	go func() {
		defer m.replays.Done()

		ctx, cancel := context.WithTimeout(s.ctx, m.cfg.ReplayTimeout)
		defer cancel()

		n, err := m.notifier.DeliverOfflineNotifications(ctx, userID)
		if err != nil {
			log.Warn().Err(err).Msg("offline notification replay failed")
			return
		}
		if n > 0 {
			log.Debug().Int("delivered", n).Msg("offline notifications delivered")
		}
	}()
}

// Count returns the number of open sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every session and waits for their teardown, or for ctx.
// Sessions opened afterwards are refused.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.Close("server shutdown")
	}

	done := make(chan struct{})
	go func() {
		for _, s := range open {
			<-s.Done()
		}
		m.replays.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.log.Info().Int("sessions", len(open)).Msg("all sessions closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
