// Package session runs the per-connection state machine: handshake, message
// dispatch and teardown.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"realtime_server/core/domain"
	"realtime_server/core/port/out"
	"realtime_server/core/service/heartbeat"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Tracker is the location tracking surface used by sessions.
type Tracker interface {
	RequestTracking(ctx context.Context, conn out.Connection, orderID, userID string)
	StopTracking(orderID, shipperID, userID string, conn out.Connection)
	PublishLocation(ctx context.Context, orderID, shipperID string, lat, lng float64) int
	CancelTracking(shipperID, orderID string) int
	ReleaseConnection(id domain.ConnectionID) int
}

// Notifier is the notification surface used by sessions.
type Notifier interface {
	DeliverOfflineNotifications(ctx context.Context, userID string) (int, error)
	HandleInboundNotification(ctx context.Context, userID string, conn out.Connection, payload json.RawMessage) error
}

// Session owns one connection from accept to close.
type Session struct {
	m       *Manager
	conn    out.Connection
	hb      *heartbeat.Heartbeat
	limiter *rate.Limiter
	log     zerolog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	inbound chan domain.InboundMessage
	done    chan struct{}

	state     atomic.Int32
	mu        sync.RWMutex
	userID    string
	reason    string
	closeOnce sync.Once
	opened    time.Time
}

func newSession(m *Manager, conn out.Connection) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	limit := rate.Inf
	if m.cfg.InboundRate > 0 {
		limit = rate.Limit(m.cfg.InboundRate)
	}

	s := &Session{
		m:       m,
		conn:    conn,
		limiter: rate.NewLimiter(limit, m.cfg.InboundBurst),
		log:     m.log.With().Str("conn_id", string(conn.ID())).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		inbound: make(chan domain.InboundMessage, m.cfg.InboundBuffer),
		done:    make(chan struct{}),
		opened:  time.Now(),
	}
	s.state.Store(int32(domain.SessionAwaitingIdentity))
	return s
}

// ID returns the underlying connection id.
func (s *Session) ID() domain.ConnectionID { return s.conn.ID() }

// State returns the dispatcher state.
func (s *Session) State() domain.SessionState { return domain.SessionState(s.state.Load()) }

// UserID returns the bound identity, empty before the handshake.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Done is closed once teardown has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

// Deliver queues an inbound message for the session loop, blocking while
// the queue is full. Returns false once the session is closing.
func (s *Session) Deliver(msg domain.InboundMessage) bool {
	select {
	case <-s.ctx.Done():
		return false
	default:
	}

	select {
	case s.inbound <- msg:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// Close starts teardown. Safe to call from any goroutine, any number of times.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		s.mu.Unlock()
		s.cancel()
	})
}

func (s *Session) run() {
	defer s.teardown()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.inbound:
			s.dispatch(msg)
		}
	}
}

func (s *Session) dispatch(msg domain.InboundMessage) {
	st := s.m.stats
	st.MessagesIn.Inc()

	if _, isPong := msg.(domain.Pong); !isPong && !s.limiter.Allow() {
		st.MessagesThrottled.Inc()
		s.log.Debug().Str("type", string(msg.Type())).Msg("inbound rate exceeded, dropping")
		return
	}

	if s.State() == domain.SessionAwaitingIdentity {
		id, ok := msg.(domain.Identify)
		if !ok {
			st.MessagesIgnored.Inc()
			s.log.Debug().Str("type", string(msg.Type())).Msg("message before identity ignored")
			return
		}
		s.identify(id.UserID)
		return
	}

	userID := s.UserID()

	switch msg := msg.(type) {
	case domain.Identify:
		st.MessagesIgnored.Inc()
		s.log.Warn().
			Str("user_id", userID).
			Str("requested_user_id", msg.UserID).
			Msg("repeated identity ignored")

	case domain.SubscribeShipperLocation:
		subscriber := msg.UserID
		if subscriber == "" {
			subscriber = userID
		}
		if subscriber != userID {
			st.MessagesIgnored.Inc()
			s.log.Info().
				Str("user_id", userID).
				Str("requested_user_id", subscriber).
				Str("order_id", msg.OrderID).
				Msg("subscribe on behalf of another user denied")
			return
		}
		s.m.tracker.RequestTracking(s.ctx, s.conn, msg.OrderID, subscriber)

	case domain.UnsubscribeShipperLocation:
		s.m.tracker.StopTracking(msg.OrderID, msg.ShipperID, userID, s.conn)

	case domain.InboundNotification:
		if err := s.m.notifier.HandleInboundNotification(s.ctx, userID, s.conn, msg.Payload); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("inbound notification handler failed")
		}

	case domain.ShipperLocationUpdate:
		s.m.tracker.PublishLocation(s.ctx, msg.OrderID, msg.ShipperID, msg.Latitude, msg.Longitude)

	case domain.CancelShipperLocationSharing:
		s.m.tracker.CancelTracking(msg.ShipperID, msg.OrderID)

	case domain.Pong:
		s.hb.Pong()

	case domain.UnknownMessage:
		st.MessagesIgnored.Inc()
		s.log.Debug().Str("type", msg.RawType).Msg("unknown message type ignored")
	}
}

func (s *Session) identify(userID string) {
	if userID == "" {
		s.m.stats.MessagesIgnored.Inc()
		s.log.Debug().Msg("empty identity ignored")
		return
	}

	s.mu.Lock()
	s.userID = userID
	s.mu.Unlock()

	s.log = s.log.With().Str("user_id", userID).Logger()
	s.m.directory.Register(userID, s.conn)
	s.hb.Start()
	s.state.Store(int32(domain.SessionActive))
	s.m.stats.HandshakesDone.Inc()

	s.log.Info().Msg("connection identified")

	s.m.goReplay(s, userID)
}

// teardown runs on the session goroutine once the context is cancelled.
func (s *Session) teardown() {
	s.state.Store(int32(domain.SessionClosed))

	s.mu.RLock()
	userID, reason := s.userID, s.reason
	s.mu.RUnlock()

	if userID != "" {
		s.m.directory.Deregister(userID, s.conn)
	}
	s.hb.Stop()

	purged := 0
	if s.m.cfg.PurgeSubscriptionsOnClose {
		purged = s.m.tracker.ReleaseConnection(s.conn.ID())
	}

	s.conn.Close(reason)
	s.m.remove(s)

	s.log.Info().
		Str("reason", reason).
		Int("purged_subscriptions", purged).
		Dur("duration", time.Since(s.opened)).
		Msg("connection closed")

	close(s.done)
}
