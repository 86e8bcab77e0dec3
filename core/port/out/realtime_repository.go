package out

import (
	"context"

	"realtime_server/core/domain"
)

// AccountRepository is the account store owned by the account service.
type AccountRepository interface {
	FindAccountByUserID(ctx context.Context, userID string) (*domain.Account, error)

	// AppendNotification adds n to the account's notification log.
	AppendNotification(ctx context.Context, userID string, n *domain.Notification) error

	// PendingNotifications returns notifications not yet delivered (isSent=false),
	// oldest first.
	PendingNotifications(ctx context.Context, userID string) ([]*domain.Notification, error)

	// MarkNotificationsSent flags the given notifications as delivered.
	// With no ids every notification on the account is flagged.
	MarkNotificationsSent(ctx context.Context, userID string, ids ...string) error
}

// OrderRepository is the order store owned by the order service.
type OrderRepository interface {
	FindOrderByID(ctx context.Context, orderID string) (*domain.Order, error)
}
