package stream

import (
	"context"
	"time"

	"github.com/google/uuid"

	"realtime_server/core/domain"
)

// Publisher appends a JSON payload to a stream.
type Publisher interface {
	Publish(ctx context.Context, stream string, data any) (string, error)
}

// Producer is used by the order CRUD side to announce status changes.
type Producer struct {
	pub    Publisher
	stream string
	now    func() time.Time
}

func NewProducer(pub Publisher, stream string) *Producer {
	if stream == "" {
		stream = StreamOrderStatus
	}
	return &Producer{pub: pub, stream: stream, now: time.Now}
}

// PublishOrderStatus publishes a status change. userID may be empty, in which
// case the order's sender is notified.
func (p *Producer) PublishOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, userID string) (*domain.OrderStatusEvent, error) {
	ev := &domain.OrderStatusEvent{
		ID:         uuid.New().String(),
		OrderID:    orderID,
		Status:     status,
		UserID:     userID,
		OccurredAt: p.now().UTC(),
	}
	if _, err := p.pub.Publish(ctx, p.stream, ev); err != nil {
		return nil, err
	}
	return ev, nil
}
