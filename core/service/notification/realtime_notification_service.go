// Package notification delivers per-user notifications: durable record first,
// live push to every open connection, replay of undelivered records on reconnect.
package notification

import (
	"context"
	"time"

	"realtime_server/core/domain"
	"realtime_server/core/port/out"
	"realtime_server/pkg/metrics"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// InboundHandler receives client-originated notification payloads.
type InboundHandler interface {
	HandleNotification(ctx context.Context, userID string, conn out.Connection, payload json.RawMessage) error
}

// InboundHandlerFunc adapts a function to InboundHandler.
type InboundHandlerFunc func(ctx context.Context, userID string, conn out.Connection, payload json.RawMessage) error

func (f InboundHandlerFunc) HandleNotification(ctx context.Context, userID string, conn out.Connection, payload json.RawMessage) error {
	return f(ctx, userID, conn, payload)
}

// Service handles notification delivery.
type Service struct {
	accounts  out.AccountRepository
	directory out.ConnectionDirectory
	stats     *metrics.Realtime
	inbound   InboundHandler
	log       zerolog.Logger

	now   func() time.Time
	newID func() string
}

// NewService creates a notification service.
func NewService(accounts out.AccountRepository, directory out.ConnectionDirectory, stats *metrics.Realtime, log zerolog.Logger) *Service {
	if stats == nil {
		stats = metrics.NewRealtime()
	}
	s := &Service{
		accounts:  accounts,
		directory: directory,
		stats:     stats,
		log:       log.With().Str("component", "notification_service").Logger(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	s.inbound = InboundHandlerFunc(s.logInbound)
	return s
}

// SetInboundHandler replaces the default (logging) inbound handler.
func (s *Service) SetInboundHandler(h InboundHandler) {
	if h == nil {
		h = InboundHandlerFunc(s.logInbound)
	}
	s.inbound = h
}

// NotifyOrderStatus records an order status notification for userID and
// pushes it to every live connection. The record is marked sent only when
// at least one connection accepted it. A failed write skips the push and is
// returned to the caller.
func (s *Service) NotifyOrderStatus(ctx context.Context, userID, orderID string, status domain.OrderStatus) (int, error) {
	n := domain.NewOrderStatusNotification(s.newID(), orderID, status, s.now().UTC())

	if err := s.accounts.AppendNotification(ctx, userID, n); err != nil {
		s.log.Error().
			Err(err).
			Str("user_id", userID).
			Str("order_id", orderID).
			Msg("failed to persist notification")
		return 0, err
	}

	delivered := s.push(userID, s.directory.ConnectionsFor(userID), n)

	if delivered > 0 {
		if err := s.accounts.MarkNotificationsSent(ctx, userID, n.ID); err != nil {
			s.log.Warn().
				Err(err).
				Str("user_id", userID).
				Str("notification_id", n.ID).
				Msg("failed to mark notification sent")
		}
	}

	s.log.Debug().
		Str("user_id", userID).
		Str("order_id", orderID).
		Str("status", string(status)).
		Int("delivered", delivered).
		Msg("order status notification")

	return delivered, nil
}

// DeliverOfflineNotifications replays every pending notification of userID to
// its live connections and marks the delivered ones sent. Returns how many
// notifications were delivered.
func (s *Service) DeliverOfflineNotifications(ctx context.Context, userID string) (int, error) {
	pending, err := s.accounts.PendingNotifications(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	conns := s.directory.ConnectionsFor(userID)
	if len(conns) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(pending))
	legacy := false // records written without an id cannot be matched individually
	for _, n := range pending {
		if s.push(userID, conns, n) > 0 {
			ids = append(ids, n.ID)
			if n.ID == "" {
				legacy = true
			}
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	mark := ids
	if legacy {
		mark = nil
	}
	if err := s.accounts.MarkNotificationsSent(ctx, userID, mark...); err != nil {
		return len(ids), err
	}

	s.log.Info().
		Str("user_id", userID).
		Int("pending", len(pending)).
		Int("delivered", len(ids)).
		Msg("offline notifications replayed")
	return len(ids), nil
}

// HandleInboundNotification forwards a client notification to the registered handler.
func (s *Service) HandleInboundNotification(ctx context.Context, userID string, conn out.Connection, payload json.RawMessage) error {
	return s.inbound.HandleNotification(ctx, userID, conn, payload)
}

func (s *Service) logInbound(_ context.Context, userID string, conn out.Connection, payload json.RawMessage) error {
	s.log.Info().
		Str("user_id", userID).
		Str("conn_id", string(conn.ID())).
		Int("bytes", len(payload)).
		Msg("inbound notification")
	return nil
}

func (s *Service) push(userID string, conns []out.Connection, n *domain.Notification) int {
	msg := n.Outbound()
	delivered := 0
	for _, c := range conns {
		if err := c.Send(msg); err != nil {
			s.stats.PushesFailed.Inc()
			s.log.Warn().
				Err(err).
				Str("user_id", userID).
				Str("conn_id", string(c.ID())).
				Str("notification_id", n.ID).
				Msg("notification push failed")
			continue
		}
		s.stats.PushesSent.Inc()
		delivered++
	}
	return delivered
}
