// Package realtime keeps the process-wide map of users to live connections.
package realtime

import (
	"sync"

	"realtime_server/core/domain"
	"realtime_server/core/port/out"

	"github.com/rs/zerolog"
)

// =============================================================================
// Connection Registry - out.ConnectionDirectory 구현
// =============================================================================

// Registry implements out.ConnectionDirectory.
type Registry struct {
	users  map[string]map[domain.ConnectionID]out.Connection // userID -> connections
	owners map[domain.ConnectionID]string                    // connID -> userID
	mu     sync.RWMutex
	log    zerolog.Logger
}

var _ out.ConnectionDirectory = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(log zerolog.Logger) *Registry {
	return &Registry{
		users:  make(map[string]map[domain.ConnectionID]out.Connection),
		owners: make(map[domain.ConnectionID]string),
		log:    log.With().Str("component", "connection_registry").Logger(),
	}
}

// Register adds conn to userID's set. A connection belongs to at most one
// user, so registering it under a new user moves it.
func (r *Registry) Register(userID string, conn out.Connection) {
	id := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owners[id]; ok && prev != userID {
		r.removeLocked(prev, id)
		r.log.Warn().
			Str("conn_id", string(id)).
			Str("from_user", prev).
			Str("to_user", userID).
			Msg("connection moved between users")
	}

	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[domain.ConnectionID]out.Connection)
		r.users[userID] = conns
	}
	conns[id] = conn
	r.owners[id] = userID

	r.log.Debug().
		Str("user_id", userID).
		Str("conn_id", string(id)).
		Int("user_connections", len(conns)).
		Msg("connection registered")
}

// Deregister removes conn from userID's set. No-op if it is not there.
func (r *Registry) Deregister(userID string, conn out.Connection) {
	id := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.owners[id] != userID {
		return
	}
	r.removeLocked(userID, id)

	r.log.Debug().
		Str("user_id", userID).
		Str("conn_id", string(id)).
		Msg("connection deregistered")
}

func (r *Registry) removeLocked(userID string, id domain.ConnectionID) {
	delete(r.owners, id)
	conns, ok := r.users[userID]
	if !ok {
		return
	}
	delete(conns, id)
	if len(conns) == 0 {
		delete(r.users, userID)
	}
}

// ConnectionsFor returns a snapshot of userID's connections.
func (r *Registry) ConnectionsFor(userID string) []out.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := r.users[userID]
	if len(conns) == 0 {
		return nil
	}
	list := make([]out.Connection, 0, len(conns))
	for _, c := range conns {
		list = append(list, c)
	}
	return list
}

// Stats returns registry metrics.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, conns := range r.users {
		total += len(conns)
	}

	return RegistryStats{
		ConnectedUsers:   len(r.users),
		TotalConnections: total,
	}
}

// RegistryStats holds registry metrics.
type RegistryStats struct {
	ConnectedUsers   int `json:"connected_users"`
	TotalConnections int `json:"total_connections"`
}
