package domain

import "time"

// OrderStatus mirrors the order lifecycle kept by the order service.
type OrderStatus string

const (
	OrderStatusWaiting         OrderStatus = "waiting"
	OrderStatusVerified        OrderStatus = "verified"
	OrderStatusDeclined        OrderStatus = "declined"
	OrderStatusShipperAccepted OrderStatus = "shipper_accepted"
	OrderStatusStartShipping   OrderStatus = "start_shipping"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusPickedUp        OrderStatus = "shipper_picked_up"
	OrderStatusDelivered       OrderStatus = "delivered"
	OrderStatusCompleted       OrderStatus = "completed"
)

// Terminal reports whether no further location tracking makes sense for the order.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDeclined, OrderStatusCancelled, OrderStatusDelivered, OrderStatusCompleted:
		return true
	default:
		return false
	}
}

// Order is the slice of the order record this core reads.
type Order struct {
	OrderID   string      `json:"order_id"`
	SenderID  string      `json:"sender_id"`
	ShipperID string      `json:"shipper_id,omitempty"`
	Status    OrderStatus `json:"status,omitempty"`
}

// Account is the slice of the account record this core reads.
type Account struct {
	AccountID     string
	Username      string
	Role          string
	IsShipper     bool // notifications live under the shipper profile
	Notifications []*Notification
}

// OrderStatusEvent is published by the order service whenever an order moves.
// UserID is optional; when empty the order's sender is notified.
type OrderStatusEvent struct {
	ID         string      `json:"id"`
	OrderID    string      `json:"orderId"`
	Status     OrderStatus `json:"status"`
	UserID     string      `json:"userId,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}
