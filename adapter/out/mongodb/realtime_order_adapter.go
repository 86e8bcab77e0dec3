package mongodb

import (
	"context"
	"errors"

	"realtime_server/core/domain"
	"realtime_server/core/port/out"
	"realtime_server/pkg/apperr"
	"realtime_server/pkg/resilience"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OrderAdapter implements out.OrderRepository using MongoDB.
type OrderAdapter struct {
	collection *mongo.Collection
	breaker    *resilience.Breaker
}

var _ out.OrderRepository = (*OrderAdapter)(nil)

// NewOrderAdapter creates a new MongoDB order adapter.
func NewOrderAdapter(db *mongo.Database, collection string, breaker *resilience.Breaker) *OrderAdapter {
	if breaker == nil {
		breaker = NewBreaker(resilience.DefaultBreakerConfig("mongodb"), zerolog.Nop())
	}
	return &OrderAdapter{
		collection: db.Collection(collection),
		breaker:    breaker,
	}
}

type orderDocument struct {
	OrderID   string `bson:"order_id"`
	SenderID  string `bson:"sender_id"`
	ShipperID string `bson:"shipper_id,omitempty"`
	Status    string `bson:"status,omitempty"`
}

// FindOrderByID loads the routing fields of an order.
func (a *OrderAdapter) FindOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	var doc orderDocument
	opts := options.FindOne().SetProjection(bson.M{
		"order_id":   1,
		"sender_id":  1,
		"shipper_id": 1,
		"status":     1,
	})

	err := guarded(a.breaker, func() error {
		err := a.collection.FindOne(ctx, bson.M{"order_id": orderID}, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return apperr.DatabaseError("find order", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &domain.Order{
		OrderID:   doc.OrderID,
		SenderID:  doc.SenderID,
		ShipperID: doc.ShipperID,
		Status:    domain.OrderStatus(doc.Status),
	}, nil
}
