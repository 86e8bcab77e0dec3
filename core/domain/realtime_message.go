package domain

import (
	"time"

	"github.com/goccy/go-json"
)

// MessageType is the `type` discriminator carried by every frame.
type MessageType string

const (
	// Inbound
	MsgUserID                       MessageType = "user-id"
	MsgSubscribeShipperLocation     MessageType = "subscribe-shipper-location"
	MsgUnsubscribeShipperLocation   MessageType = "unsubscribe-shipper-location"
	MsgNotification                 MessageType = "notification"
	MsgShipperLocationUpdate        MessageType = "shipper-location-update"
	MsgCancelShipperLocationSharing MessageType = "cancel-shipper-location-sharing"
	MsgPong                         MessageType = "pong"

	// Outbound
	MsgPing                    MessageType = "ping"
	MsgOrderStatusNotification MessageType = "order-status-notification"
)

// =============================================================================
// Inbound variants
// =============================================================================

// InboundMessage is the closed set of client frames. Only types in this file
// implement it.
type InboundMessage interface {
	Type() MessageType
	inbound()
}

// Identify is the handshake binding a connection to a user.
type Identify struct {
	UserID string
}

// SubscribeShipperLocation asks for live location of the shipper on an order.
type SubscribeShipperLocation struct {
	OrderID string
	UserID  string
}

// UnsubscribeShipperLocation drops a location subscription.
type UnsubscribeShipperLocation struct {
	OrderID   string
	ShipperID string
}

// InboundNotification carries opaque client application data.
type InboundNotification struct {
	Payload json.RawMessage
}

// ShipperLocationUpdate is a shipper publishing its position for an order.
type ShipperLocationUpdate struct {
	OrderID   string
	ShipperID string
	Latitude  float64
	Longitude float64
}

// CancelShipperLocationSharing stops all location fan-out for (order, shipper).
type CancelShipperLocationSharing struct {
	OrderID   string
	ShipperID string
}

// Pong answers a heartbeat ping.
type Pong struct{}

// UnknownMessage is a well-formed frame with a type this server does not handle.
type UnknownMessage struct {
	RawType string
}

func (Identify) Type() MessageType                     { return MsgUserID }
func (SubscribeShipperLocation) Type() MessageType     { return MsgSubscribeShipperLocation }
func (UnsubscribeShipperLocation) Type() MessageType   { return MsgUnsubscribeShipperLocation }
func (InboundNotification) Type() MessageType          { return MsgNotification }
func (ShipperLocationUpdate) Type() MessageType        { return MsgShipperLocationUpdate }
func (CancelShipperLocationSharing) Type() MessageType { return MsgCancelShipperLocationSharing }
func (Pong) Type() MessageType                         { return MsgPong }
func (m UnknownMessage) Type() MessageType             { return MessageType(m.RawType) }

func (Identify) inbound()                     {}
func (SubscribeShipperLocation) inbound()     {}
func (UnsubscribeShipperLocation) inbound()   {}
func (InboundNotification) inbound()          {}
func (ShipperLocationUpdate) inbound()        {}
func (CancelShipperLocationSharing) inbound() {}
func (Pong) inbound()                         {}
func (UnknownMessage) inbound()               {}

// =============================================================================
// Outbound variants
// =============================================================================

// OutboundMessage is the closed set of server frames.
type OutboundMessage interface {
	Type() MessageType
	outbound()
}

// Ping is the server heartbeat frame.
type Ping struct{}

// OrderStatusNotification tells a user their order changed status.
type OrderStatusNotification struct {
	OrderID   string
	Status    OrderStatus
	Timestamp time.Time
}

// ShipperLocation is the fan-out of a shipper position to subscribers.
type ShipperLocation struct {
	OrderID   string
	ShipperID string
	Latitude  float64
	Longitude float64
}

// GenericNotification replays a stored notification that is not tied to an order.
type GenericNotification struct {
	Title     string
	Content   string
	Timestamp time.Time
}

func (Ping) Type() MessageType                    { return MsgPing }
func (OrderStatusNotification) Type() MessageType { return MsgOrderStatusNotification }
func (ShipperLocation) Type() MessageType         { return MsgShipperLocationUpdate }
func (GenericNotification) Type() MessageType     { return MsgNotification }

func (Ping) outbound()                    {}
func (OrderStatusNotification) outbound() {}
func (ShipperLocation) outbound()         {}
func (GenericNotification) outbound()     {}
