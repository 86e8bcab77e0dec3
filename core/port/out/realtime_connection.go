package out

import (
	"realtime_server/core/domain"
)

// Connection is one live transport connection as seen by the core.
type Connection interface {
	// ID is unique for the process lifetime.
	ID() domain.ConnectionID

	// Send enqueues msg without blocking. A full queue or closed
	// connection is reported as an error and the message is dropped.
	Send(msg domain.OutboundMessage) error

	// Close tears the transport down. Safe to call more than once.
	Close(reason string)
}

// ConnectionDirectory maps users to their live connections.
type ConnectionDirectory interface {
	Register(userID string, conn Connection)
	Deregister(userID string, conn Connection)
	ConnectionsFor(userID string) []Connection
}
