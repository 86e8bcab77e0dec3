package tracking

import (
	"context"
	"errors"
	"time"

	"realtime_server/core/domain"
	"realtime_server/core/port/out"
	"realtime_server/pkg/apperr"
	"realtime_server/pkg/metrics"

	"github.com/rs/zerolog"
)

// Relay fans shipper positions out to subscribed connections.
type Relay struct {
	graph     *Graph
	directory out.ConnectionDirectory
	stats     *metrics.Realtime
	log       zerolog.Logger
}

// NewRelay creates a relay over graph. Fan-out is restricted to connections
// the directory still reports as live.
func NewRelay(graph *Graph, directory out.ConnectionDirectory, stats *metrics.Realtime, log zerolog.Logger) *Relay {
	if stats == nil {
		stats = metrics.NewRealtime()
	}
	return &Relay{
		graph:     graph,
		directory: directory,
		stats:     stats,
		log:       log.With().Str("component", "location_relay").Logger(),
	}
}

// PublishLocation sends the position to every connection subscribed under
// exactly (orderID, shipperID) and returns the number of accepted sends.
func (r *Relay) PublishLocation(ctx context.Context, orderID, shipperID string, lat, lng float64) int {
	start := time.Now()

	subs := r.graph.SubscribersFor(orderID, shipperID)
	if len(subs) == 0 {
		return 0
	}

	msg := domain.ShipperLocation{
		OrderID:   orderID,
		ShipperID: shipperID,
		Latitude:  lat,
		Longitude: lng,
	}

	delivered := 0
	for userID, subscribed := range subs {
		if ctx.Err() != nil {
			break
		}

		live := make(map[domain.ConnectionID]struct{})
		for _, c := range r.directory.ConnectionsFor(userID) {
			live[c.ID()] = struct{}{}
		}
		if len(live) == 0 {
			continue
		}

		for _, c := range subscribed {
			if _, ok := live[c.ID()]; !ok {
				continue
			}
			if err := c.Send(msg); err != nil {
				r.stats.PushesFailed.Inc()
				r.log.Warn().
					Err(err).
					Str("order_id", orderID).
					Str("user_id", userID).
					Str("conn_id", string(c.ID())).
					Msg("location send failed")
				continue
			}
			r.stats.PushesSent.Inc()
			delivered++
		}
	}

	r.stats.LocationFanouts.Inc()
	r.stats.FanoutLatency.Record(time.Since(start))
	return delivered
}

// RequestTracking subscribes conn to the shipper of orderID on behalf of userID.
// Failures are logged and not reported to the client.
func (r *Relay) RequestTracking(ctx context.Context, conn out.Connection, orderID, userID string) {
	err := r.graph.Subscribe(ctx, orderID, "", userID, conn)
	if err == nil {
		return
	}

	ev := r.log.Warn()
	if errors.Is(err, domain.ErrNotOrderSender) || errors.Is(err, domain.ErrShipperMismatch) {
		ev = r.log.Info()
	}
	ev.Err(err).
		Str("code", apperr.CodeOf(err)).
		Str("order_id", orderID).
		Str("user_id", userID).
		Str("conn_id", string(conn.ID())).
		Msg("tracking request denied")
}

// StopTracking removes conn's subscription to shipperID on orderID.
func (r *Relay) StopTracking(orderID, shipperID, userID string, conn out.Connection) {
	if !r.graph.Unsubscribe(orderID, shipperID, userID, conn) {
		r.log.Debug().
			Str("order_id", orderID).
			Str("shipper_id", shipperID).
			Str("user_id", userID).
			Msg("unsubscribe for unknown subscription")
	}
}

// CancelTracking is the shipper stopping location sharing for an order.
func (r *Relay) CancelTracking(shipperID, orderID string) int {
	n := r.graph.ClearAllSubscribersFor(orderID, shipperID)
	r.log.Info().
		Str("order_id", orderID).
		Str("shipper_id", shipperID).
		Int("removed", n).
		Msg("location sharing cancelled")
	return n
}

// ReleaseConnection drops every subscription held by a closed connection.
func (r *Relay) ReleaseConnection(id domain.ConnectionID) int {
	return r.graph.RemoveConnection(id)
}

// EndOrder drops all tracking for an order that reached a terminal status.
func (r *Relay) EndOrder(orderID string) int {
	n := r.graph.ClearOrder(orderID)
	if n > 0 {
		r.log.Info().Str("order_id", orderID).Int("removed", n).Msg("tracking ended")
	}
	return n
}

// Stats exposes the underlying graph metrics.
func (r *Relay) Stats() GraphStats {
	return r.graph.Stats()
}
