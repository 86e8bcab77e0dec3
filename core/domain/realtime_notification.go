package domain

import (
	"fmt"
	"time"
)

const orderStatusTitle = "Order Status Update"

// Notification is the durable record appended to an account's notification log.
// IsSent=false marks it pending for replay on the next handshake.
type Notification struct {
	ID        string      `bson:"id" json:"id"`
	Title     string      `bson:"title" json:"title"`
	Content   string      `bson:"content" json:"content"`
	OrderID   string      `bson:"order_id,omitempty" json:"order_id,omitempty"`
	Status    OrderStatus `bson:"status,omitempty" json:"status,omitempty"`
	Timestamp time.Time   `bson:"timestamp" json:"timestamp"`
	IsSent    bool        `bson:"isSent" json:"is_sent"`
	IsRead    bool        `bson:"isRead" json:"is_read"`
}

// NewOrderStatusNotification builds the unsent record for an order status change.
func NewOrderStatusNotification(id, orderID string, status OrderStatus, at time.Time) *Notification {
	return &Notification{
		ID:        id,
		Title:     orderStatusTitle,
		Content:   fmt.Sprintf("Your order %s is now %s", orderID, status),
		OrderID:   orderID,
		Status:    status,
		Timestamp: at,
	}
}

// Outbound converts the record into the frame pushed to clients.
func (n *Notification) Outbound() OutboundMessage {
	if n.OrderID != "" && n.Status != "" {
		return OrderStatusNotification{
			OrderID:   n.OrderID,
			Status:    n.Status,
			Timestamp: n.Timestamp,
		}
	}
	return GenericNotification{
		Title:     n.Title,
		Content:   n.Content,
		Timestamp: n.Timestamp,
	}
}
