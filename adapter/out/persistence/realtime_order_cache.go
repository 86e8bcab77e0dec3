// Package persistence provides caching decorators over the outbound stores.
package persistence

import (
	"context"
	"time"

	"realtime_server/core/domain"
	"realtime_server/core/port/out"
	"realtime_server/pkg/apperr"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// JSONCache is the slice of pkg/cache.RedisCache used here.
type JSONCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

const defaultLookupTimeout = 5 * time.Second

// CachedOrderAdapter wraps an order store with a read-through cache.
// Concurrent misses for one order share a single store lookup.
type CachedOrderAdapter struct {
	delegate      out.OrderRepository
	cache         JSONCache
	ttl           time.Duration
	lookupTimeout time.Duration
	flight        singleflight.Group
	log           zerolog.Logger
}

var _ out.OrderRepository = (*CachedOrderAdapter)(nil)

// NewCachedOrderAdapter creates a cached order adapter.
func NewCachedOrderAdapter(delegate out.OrderRepository, cache JSONCache, ttl time.Duration, log zerolog.Logger) *CachedOrderAdapter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedOrderAdapter{
		delegate:      delegate,
		cache:         cache,
		ttl:           ttl,
		lookupTimeout: defaultLookupTimeout,
		log:           log.With().Str("component", "order_cache").Logger(),
	}
}

func orderCacheKey(orderID string) string {
	return "order:" + orderID
}

// FindOrderByID returns the cached order or loads and caches it.
func (a *CachedOrderAdapter) FindOrderByID(ctx context.Context, orderID string) (*domain.Order, error) {
	key := orderCacheKey(orderID)

	var cached domain.Order
	found, err := a.cache.GetJSON(ctx, key, &cached)
	if err != nil {
		a.log.Debug().Err(err).Str("order_id", orderID).Msg("cache read failed")
	}
	if err == nil && found {
		return &cached, nil
	}

	v, err, _ := a.flight.Do(key, func() (interface{}, error) {
		// Shared by every waiter, so it must outlive the caller that started it.
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.lookupTimeout)
		defer cancel()

		order, err := a.delegate.FindOrderByID(fctx, orderID)
		if err != nil {
			return nil, err
		}
		if err := a.cache.SetJSON(fctx, key, order, a.ttl); err != nil {
			a.log.Debug().Err(err).Str("order_id", orderID).Msg("cache write failed")
		}
		return order, nil
	})
	if err != nil {
		return nil, err
	}

	order := *v.(*domain.Order)
	return &order, nil
}

// Invalidate drops the cached copy of an order.
func (a *CachedOrderAdapter) Invalidate(ctx context.Context, orderID string) error {
	if err := a.cache.Delete(ctx, orderCacheKey(orderID)); err != nil {
		return apperr.CacheError("invalidate order", err)
	}
	return nil
}
