package mongodb

import (
	"context"
	"errors"
	"sort"

	"realtime_server/core/domain"
	"realtime_server/core/port/out"
	"realtime_server/pkg/apperr"
	"realtime_server/pkg/resilience"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// =============================================================================
// MongoDB Account Adapter
// =============================================================================

// Profiles that carry a notification log, in lookup order.
var notificationProfiles = []string{"user", "shipper"}

// AccountAdapter implements out.AccountRepository using MongoDB.
type AccountAdapter struct {
	collection *mongo.Collection
	breaker    *resilience.Breaker
	log        zerolog.Logger
}

var _ out.AccountRepository = (*AccountAdapter)(nil)

// NewAccountAdapter creates a new MongoDB account adapter.
func NewAccountAdapter(db *mongo.Database, collection string, breaker *resilience.Breaker, log zerolog.Logger) *AccountAdapter {
	if breaker == nil {
		breaker = NewBreaker(resilience.DefaultBreakerConfig("mongodb"), log)
	}
	return &AccountAdapter{
		collection: db.Collection(collection),
		breaker:    breaker,
		log:        log.With().Str("component", "account_adapter").Logger(),
	}
}

// =============================================================================
// Document Model
// =============================================================================

type accountDocument struct {
	AccountID string           `bson:"account_id"`
	Username  string           `bson:"username"`
	Rolename  string           `bson:"rolename"`
	User      *profileDocument `bson:"user,omitempty"`
	Shipper   *profileDocument `bson:"shipper,omitempty"`
}

type profileDocument struct {
	Notifications []*domain.Notification `bson:"notifications"`
}

func (d *accountDocument) toDomain() *domain.Account {
	acc := &domain.Account{
		AccountID: d.AccountID,
		Username:  d.Username,
		Role:      d.Rolename,
	}
	switch {
	case d.User != nil:
		acc.Notifications = d.User.Notifications
	case d.Shipper != nil:
		acc.IsShipper = true
		acc.Notifications = d.Shipper.Notifications
	}
	return acc
}

// =============================================================================
// Operations
// =============================================================================

// FindAccountByUserID loads the account with its notification log.
func (a *AccountAdapter) FindAccountByUserID(ctx context.Context, userID string) (*domain.Account, error) {
	var doc accountDocument
	opts := options.FindOne().SetProjection(bson.M{
		"account_id":            1,
		"username":              1,
		"rolename":              1,
		"user.notifications":    1,
		"shipper.notifications": 1,
	})

	err := guarded(a.breaker, func() error {
		err := a.collection.FindOne(ctx, bson.M{"account_id": userID}, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.ErrAccountNotFound
		}
		if err != nil {
			return apperr.DatabaseError("find account", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

// AppendNotification pushes n onto the account's user profile log, or the
// shipper profile log for shipper-only accounts.
func (a *AccountAdapter) AppendNotification(ctx context.Context, userID string, n *domain.Notification) error {
	return a.updateProfile(ctx, "append notification", userID, func(profile string) (bson.M, *options.UpdateOptions) {
		return bson.M{"$push": bson.M{profile + ".notifications": n}}, nil
	})
}

// PendingNotifications returns unsent notifications, oldest first.
func (a *AccountAdapter) PendingNotifications(ctx context.Context, userID string) ([]*domain.Notification, error) {
	acc, err := a.FindAccountByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	var pending []*domain.Notification
	for _, n := range acc.Notifications {
		if n != nil && !n.IsSent {
			pending = append(pending, n)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Timestamp.Before(pending[j].Timestamp)
	})
	return pending, nil
}

// MarkNotificationsSent sets isSent on the given notifications, or on all of
// them when ids is empty.
func (a *AccountAdapter) MarkNotificationsSent(ctx context.Context, userID string, ids ...string) error {
	return a.updateProfile(ctx, "mark notifications sent", userID, func(profile string) (bson.M, *options.UpdateOptions) {
		if len(ids) == 0 {
			return bson.M{"$set": bson.M{profile + ".notifications.$[].isSent": true}}, nil
		}
		opts := options.Update().SetArrayFilters(options.ArrayFilters{
			Filters: []interface{}{bson.M{"n.id": bson.M{"$in": ids}}},
		})
		return bson.M{"$set": bson.M{profile + ".notifications.$[n].isSent": true}}, opts
	})
}

// updateProfile applies the update to the first profile present on the account.
func (a *AccountAdapter) updateProfile(
	ctx context.Context,
	op string,
	userID string,
	build func(profile string) (bson.M, *options.UpdateOptions),
) error {
	return guarded(a.breaker, func() error {
		for _, profile := range notificationProfiles {
			update, opts := build(profile)
			filter := bson.M{"account_id": userID, profile: bson.M{"$ne": nil}}

			var (
				res *mongo.UpdateResult
				err error
			)
			if opts != nil {
				res, err = a.collection.UpdateOne(ctx, filter, update, opts)
			} else {
				res, err = a.collection.UpdateOne(ctx, filter, update)
			}
			if err != nil {
				return apperr.DatabaseError(op, err)
			}
			if res.MatchedCount > 0 {
				return nil
			}
		}

		a.log.Debug().Str("user_id", userID).Str("op", op).Msg("no account profile matched")
		return domain.ErrAccountNotFound
	})
}
