// Package ws is the WebSocket transport: frame codec, per-connection write
// pump and the Fiber upgrade handler.
package ws

import (
	"errors"
	"fmt"
	"time"

	"realtime_server/core/domain"
	"realtime_server/pkg/apperr"

	"github.com/goccy/go-json"
)

// inboundFrame is the union of all client frame fields.
type inboundFrame struct {
	Type      string   `json:"type"`
	UserID    string   `json:"userId"`
	OrderID   string   `json:"orderId"`
	ShipperID string   `json:"shipperId"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Decode parses one client frame into its message variant. Frames that are
// not JSON objects, lack a type, or miss a required field yield a
// MALFORMED_MESSAGE error. Unknown types decode to domain.UnknownMessage.
func Decode(data []byte) (domain.InboundMessage, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, apperr.MalformedMessage(err)
	}
	if f.Type == "" {
		return nil, apperr.MalformedMessage(errors.New("missing type"))
	}

	switch domain.MessageType(f.Type) {
	case domain.MsgUserID:
		return domain.Identify{UserID: f.UserID}, nil

	case domain.MsgSubscribeShipperLocation:
		if err := requireFields(f.Type, "orderId", f.OrderID); err != nil {
			return nil, err
		}
		return domain.SubscribeShipperLocation{OrderID: f.OrderID, UserID: f.UserID}, nil

	case domain.MsgUnsubscribeShipperLocation:
		if err := requireFields(f.Type, "orderId", f.OrderID, "shipperId", f.ShipperID); err != nil {
			return nil, err
		}
		return domain.UnsubscribeShipperLocation{OrderID: f.OrderID, ShipperID: f.ShipperID}, nil

	case domain.MsgNotification:
		payload := make([]byte, len(data))
		copy(payload, data)
		return domain.InboundNotification{Payload: payload}, nil

	case domain.MsgShipperLocationUpdate:
		if err := requireFields(f.Type, "orderId", f.OrderID, "shipperId", f.ShipperID); err != nil {
			return nil, err
		}
		if f.Latitude == nil || f.Longitude == nil {
			return nil, apperr.MalformedMessage(fmt.Errorf("%s: latitude and longitude are required", f.Type))
		}
		lat, lng := *f.Latitude, *f.Longitude
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return nil, apperr.MalformedMessage(fmt.Errorf("%s: coordinates out of range", f.Type))
		}
		return domain.ShipperLocationUpdate{
			OrderID:   f.OrderID,
			ShipperID: f.ShipperID,
			Latitude:  lat,
			Longitude: lng,
		}, nil

	case domain.MsgCancelShipperLocationSharing:
		if err := requireFields(f.Type, "orderId", f.OrderID, "shipperId", f.ShipperID); err != nil {
			return nil, err
		}
		return domain.CancelShipperLocationSharing{OrderID: f.OrderID, ShipperID: f.ShipperID}, nil

	case domain.MsgPong:
		return domain.Pong{}, nil

	default:
		return domain.UnknownMessage{RawType: f.Type}, nil
	}
}

// requireFields takes name/value pairs.
func requireFields(msgType string, pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if pairs[i+1] == "" {
			return apperr.MalformedMessage(fmt.Errorf("%s: %s is required", msgType, pairs[i]))
		}
	}
	return nil
}

type pingFrame struct {
	Type domain.MessageType `json:"type"`
}

type orderStatusFrame struct {
	Type      domain.MessageType `json:"type"`
	OrderID   string             `json:"orderId"`
	Status    domain.OrderStatus `json:"status"`
	Timestamp time.Time          `json:"timestamp"`
}

type locationFrame struct {
	Type      domain.MessageType `json:"type"`
	OrderID   string             `json:"orderId"`
	ShipperID string             `json:"shipperId"`
	Latitude  float64            `json:"latitude"`
	Longitude float64            `json:"longitude"`
}

type notificationFrame struct {
	Type      domain.MessageType `json:"type"`
	Title     string             `json:"title"`
	Content   string             `json:"content"`
	Timestamp time.Time          `json:"timestamp"`
}

// Encode renders a server message as a JSON text frame.
func Encode(msg domain.OutboundMessage) ([]byte, error) {
	switch m := msg.(type) {
	case domain.Ping:
		return json.Marshal(pingFrame{Type: m.Type()})
	case domain.OrderStatusNotification:
		return json.Marshal(orderStatusFrame{
			Type:      m.Type(),
			OrderID:   m.OrderID,
			Status:    m.Status,
			Timestamp: m.Timestamp,
		})
	case domain.ShipperLocation:
		return json.Marshal(locationFrame{
			Type:      m.Type(),
			OrderID:   m.OrderID,
			ShipperID: m.ShipperID,
			Latitude:  m.Latitude,
			Longitude: m.Longitude,
		})
	case domain.GenericNotification:
		return json.Marshal(notificationFrame{
			Type:      m.Type(),
			Title:     m.Title,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	default:
		return nil, apperr.Internal(fmt.Sprintf("no encoding for %T", msg))
	}
}
