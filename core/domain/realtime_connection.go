package domain

import (
	"net/http"

	"realtime_server/pkg/apperr"
)

// ConnectionID is the opaque handle of one transport connection.
type ConnectionID string

// LivenessState is the heartbeat view of a connection.
type LivenessState int32

const (
	LivenessConnecting LivenessState = iota
	LivenessAlive
	LivenessAwaitingPong
	LivenessTerminated
)

func (s LivenessState) String() string {
	switch s {
	case LivenessConnecting:
		return "connecting"
	case LivenessAlive:
		return "alive"
	case LivenessAwaitingPong:
		return "awaiting_pong"
	case LivenessTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// SessionState is the dispatcher view of a connection.
type SessionState int32

const (
	SessionAwaitingIdentity SessionState = iota
	SessionActive
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionAwaitingIdentity:
		return "awaiting_identity"
	case SessionActive:
		return "active"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sentinel errors shared by adapters and services. Compare with errors.Is.
var (
	ErrOrderNotFound    = apperr.NotFound("order")
	ErrAccountNotFound  = apperr.NotFound("account")
	ErrNotOrderSender   = apperr.Forbidden("subscriber is not the order sender")
	ErrShipperMismatch  = apperr.Forbidden("shipper is not assigned to the order")
	ErrNoShipper        = apperr.New(apperr.CodeNotFound, "order has no assigned shipper", http.StatusNotFound)
	ErrConnectionClosed = apperr.New(apperr.CodeConnectionClosed, "connection closed", http.StatusGone)
	ErrSendBufferFull   = apperr.New(apperr.CodeSendBufferFull, "send buffer full", http.StatusServiceUnavailable)
)
