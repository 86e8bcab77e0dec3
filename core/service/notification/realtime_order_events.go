package notification

import (
	"context"

	"realtime_server/core/domain"
	"realtime_server/core/port/out"
	"realtime_server/pkg/apperr"

	"github.com/rs/zerolog"
)

// OrderCache drops cached order records.
type OrderCache interface {
	Invalidate(ctx context.Context, orderID string) error
}

// TrackingEnder stops location tracking for finished orders.
type TrackingEnder interface {
	EndOrder(orderID string) int
}

// OrderEventHandler turns order status events into user notifications.
type OrderEventHandler struct {
	notifier *Service
	orders   out.OrderRepository
	cache    OrderCache
	tracking TrackingEnder
	log      zerolog.Logger
}

// NewOrderEventHandler creates a handler. cache and tracking may be nil.
func NewOrderEventHandler(notifier *Service, orders out.OrderRepository, cache OrderCache, tracking TrackingEnder, log zerolog.Logger) *OrderEventHandler {
	return &OrderEventHandler{
		notifier: notifier,
		orders:   orders,
		cache:    cache,
		tracking: tracking,
		log:      log.With().Str("component", "order_event_handler").Logger(),
	}
}

// Handle processes one event. A nil return means the event is done with,
// including events that were dropped as invalid or unknown.
func (h *OrderEventHandler) Handle(ctx context.Context, ev *domain.OrderStatusEvent) error {
	if ev == nil || ev.OrderID == "" || ev.Status == "" {
		h.log.Warn().Interface("event", ev).Msg("dropping incomplete order event")
		return nil
	}

	if h.cache != nil {
		if err := h.cache.Invalidate(ctx, ev.OrderID); err != nil {
			h.log.Warn().Err(err).Str("order_id", ev.OrderID).Msg("order cache invalidation failed")
		}
	}

	recipient := ev.UserID
	if recipient == "" {
		order, err := h.orders.FindOrderByID(ctx, ev.OrderID)
		if err != nil {
			if apperr.HasCode(err, apperr.CodeNotFound) {
				h.log.Warn().Str("order_id", ev.OrderID).Msg("order event for unknown order")
				return nil
			}
			return err
		}
		recipient = order.SenderID
	}

	if _, err := h.notifier.NotifyOrderStatus(ctx, recipient, ev.OrderID, ev.Status); err != nil {
		if apperr.HasCode(err, apperr.CodeNotFound) {
			return nil
		}
		return err
	}

	if ev.Status.Terminal() && h.tracking != nil {
		h.tracking.EndOrder(ev.OrderID)
	}
	return nil
}
