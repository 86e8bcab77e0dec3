// Package tracking maintains who watches which shipper on which order and
// relays shipper positions to those watchers.
package tracking

import (
	"context"
	"sync"

	"realtime_server/core/domain"
	"realtime_server/core/port/out"
	"realtime_server/pkg/apperr"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

const defaultShardCount = 32

// connSet is the set of connections one subscriber watches on.
type connSet map[domain.ConnectionID]out.Connection

// shipperNode maps subscriber userID -> connections.
type shipperNode map[string]connSet

// orderNode maps shipperID -> subscribers.
type orderNode map[string]shipperNode

type shard struct {
	mu     sync.RWMutex
	orders map[string]orderNode
}

type subKey struct {
	orderID   string
	shipperID string
	userID    string
}

// Graph is the order -> shipper -> subscriber -> connections mapping.
//
// Orders are spread over shards by hash; mutations of one order path
// serialize on its shard. The per-connection reverse index is guarded
// separately and is always locked after a shard, never before.
type Graph struct {
	shards []*shard
	orders out.OrderRepository
	log    zerolog.Logger

	idxMu  sync.Mutex
	byConn map[domain.ConnectionID]map[subKey]struct{}
}

// NewGraph creates an empty graph that authorizes subscriptions against orders.
func NewGraph(orders out.OrderRepository, log zerolog.Logger) *Graph {
	g := &Graph{
		shards: make([]*shard, defaultShardCount),
		orders: orders,
		log:    log.With().Str("component", "subscription_graph").Logger(),
		byConn: make(map[domain.ConnectionID]map[subKey]struct{}),
	}
	for i := range g.shards {
		g.shards[i] = &shard{orders: make(map[string]orderNode)}
	}
	return g
}

func (g *Graph) shardFor(orderID string) *shard {
	return g.shards[xxhash.Sum64String(orderID)%uint64(len(g.shards))]
}

// Subscribe adds conn as a watcher of shipperID on orderID for userID.
// The caller must be the order's sender. An empty shipperID means the shipper
// currently assigned to the order.
func (g *Graph) Subscribe(ctx context.Context, orderID, shipperID, userID string, conn out.Connection) error {
	if orderID == "" || userID == "" {
		return apperr.BadRequest("orderId and userId are required")
	}

	// Lookup happens before any lock is taken.
	order, err := g.orders.FindOrderByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.SenderID != userID {
		return domain.ErrNotOrderSender
	}
	switch {
	case shipperID == "" && order.ShipperID == "":
		return domain.ErrNoShipper
	case shipperID == "":
		shipperID = order.ShipperID
	case shipperID != order.ShipperID:
		return domain.ErrShipperMismatch
	}

	s := g.shardFor(orderID)
	s.mu.Lock()
	on, ok := s.orders[orderID]
	if !ok {
		on = make(orderNode)
		s.orders[orderID] = on
	}
	sn, ok := on[shipperID]
	if !ok {
		sn = make(shipperNode)
		on[shipperID] = sn
	}
	cs, ok := sn[userID]
	if !ok {
		cs = make(connSet)
		sn[userID] = cs
	}
	cs[conn.ID()] = conn
	g.indexAdd(conn.ID(), subKey{orderID, shipperID, userID})
	s.mu.Unlock()

	g.log.Debug().
		Str("order_id", orderID).
		Str("shipper_id", shipperID).
		Str("user_id", userID).
		Str("conn_id", string(conn.ID())).
		Msg("subscribed")
	return nil
}

// Unsubscribe removes conn from (orderID, shipperID, userID) and prunes every
// container it leaves empty. Reports whether anything was removed.
func (g *Graph) Unsubscribe(orderID, shipperID, userID string, conn out.Connection) bool {
	s := g.shardFor(orderID)
	s.mu.Lock()
	removed := s.removeLocked(orderID, shipperID, userID, conn.ID())
	if removed {
		g.indexRemove(conn.ID(), subKey{orderID, shipperID, userID})
	}
	s.mu.Unlock()
	return removed
}

// removeLocked deletes one connection and cascades empty parents away.
func (s *shard) removeLocked(orderID, shipperID, userID string, id domain.ConnectionID) bool {
	on, ok := s.orders[orderID]
	if !ok {
		return false
	}
	sn, ok := on[shipperID]
	if !ok {
		return false
	}
	cs, ok := sn[userID]
	if !ok {
		return false
	}
	if _, ok := cs[id]; !ok {
		return false
	}

	delete(cs, id)
	if len(cs) == 0 {
		delete(sn, userID)
	}
	if len(sn) == 0 {
		delete(on, shipperID)
	}
	if len(on) == 0 {
		delete(s.orders, orderID)
	}
	return true
}

// ClearAllSubscribersFor drops every subscriber of shipperID on orderID and
// returns how many connections were removed.
func (g *Graph) ClearAllSubscribersFor(orderID, shipperID string) int {
	s := g.shardFor(orderID)
	s.mu.Lock()
	defer s.mu.Unlock()

	on, ok := s.orders[orderID]
	if !ok {
		return 0
	}
	sn, ok := on[shipperID]
	if !ok {
		return 0
	}

	removed := g.dropShipperLocked(orderID, shipperID, sn)
	delete(on, shipperID)
	if len(on) == 0 {
		delete(s.orders, orderID)
	}
	return removed
}

// ClearOrder drops every subscription on orderID.
func (g *Graph) ClearOrder(orderID string) int {
	s := g.shardFor(orderID)
	s.mu.Lock()
	defer s.mu.Unlock()

	on, ok := s.orders[orderID]
	if !ok {
		return 0
	}
	removed := 0
	for shipperID, sn := range on {
		removed += g.dropShipperLocked(orderID, shipperID, sn)
	}
	delete(s.orders, orderID)
	return removed
}

func (g *Graph) dropShipperLocked(orderID, shipperID string, sn shipperNode) int {
	removed := 0
	for userID, cs := range sn {
		key := subKey{orderID, shipperID, userID}
		for id := range cs {
			g.indexRemove(id, key)
			removed++
		}
	}
	return removed
}

// SubscribersFor returns a snapshot of userID -> connections watching
// shipperID on orderID. Nil when there are none.
func (g *Graph) SubscribersFor(orderID, shipperID string) map[string][]out.Connection {
	s := g.shardFor(orderID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	sn := s.orders[orderID][shipperID]
	if len(sn) == 0 {
		return nil
	}
	snap := make(map[string][]out.Connection, len(sn))
	for userID, cs := range sn {
		conns := make([]out.Connection, 0, len(cs))
		for _, c := range cs {
			conns = append(conns, c)
		}
		snap[userID] = conns
	}
	return snap
}

// RemoveConnection drops every subscription held by the connection.
func (g *Graph) RemoveConnection(id domain.ConnectionID) int {
	g.idxMu.Lock()
	keys := g.byConn[id]
	delete(g.byConn, id)
	g.idxMu.Unlock()

	removed := 0
	for k := range keys {
		s := g.shardFor(k.orderID)
		s.mu.Lock()
		if s.removeLocked(k.orderID, k.shipperID, k.userID, id) {
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}

func (g *Graph) indexAdd(id domain.ConnectionID, k subKey) {
	g.idxMu.Lock()
	defer g.idxMu.Unlock()
	keys, ok := g.byConn[id]
	if !ok {
		keys = make(map[subKey]struct{})
		g.byConn[id] = keys
	}
	keys[k] = struct{}{}
}

func (g *Graph) indexRemove(id domain.ConnectionID, k subKey) {
	g.idxMu.Lock()
	defer g.idxMu.Unlock()
	keys, ok := g.byConn[id]
	if !ok {
		return
	}
	delete(keys, k)
	if len(keys) == 0 {
		delete(g.byConn, id)
	}
}

// Stats returns graph metrics.
func (g *Graph) Stats() GraphStats {
	var st GraphStats
	for _, s := range g.shards {
		s.mu.RLock()
		st.Orders += len(s.orders)
		for _, on := range s.orders {
			st.Shippers += len(on)
			for _, sn := range on {
				st.Subscribers += len(sn)
				for _, cs := range sn {
					st.Connections += len(cs)
				}
			}
		}
		s.mu.RUnlock()
	}
	return st
}

// GraphStats holds subscription graph metrics.
type GraphStats struct {
	Orders      int `json:"orders"`
	Shippers    int `json:"shippers"`
	Subscribers int `json:"subscribers"`
	Connections int `json:"connections"`
}
