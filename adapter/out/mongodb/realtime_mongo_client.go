// Package mongodb implements the account and order stores on MongoDB.
package mongodb

import (
	"context"
	"fmt"
	"time"

	"realtime_server/pkg/apperr"
	"realtime_server/pkg/resilience"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// NewClient creates a new MongoDB client.
func NewClient(ctx context.Context, url string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(url).
		SetMaxPoolSize(100).
		SetMinPoolSize(10).
		SetMaxConnIdleTime(30 * time.Second)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	// Ping to verify connection
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return client, nil
}

// NewBreaker returns the breaker shared by the MongoDB adapters. Not-found
// results do not count as failures.
func NewBreaker(cfg resilience.BreakerConfig, log zerolog.Logger) *resilience.Breaker {
	return resilience.NewBreaker(cfg, func(err error) bool {
		return apperr.HasCode(err, apperr.CodeNotFound)
	}, log)
}

// guarded runs fn under the breaker and maps a rejecting breaker to UNAVAILABLE.
func guarded(b *resilience.Breaker, fn func() error) error {
	err := b.Do(fn)
	if err != nil && resilience.IsOpenError(err) {
		return apperr.Unavailable("mongodb", err)
	}
	return err
}
