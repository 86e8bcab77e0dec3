package bootstrap

import (
	"context"
	"fmt"

	"realtime_server/adapter/out/mongodb"
	"realtime_server/adapter/out/persistence"
	"realtime_server/adapter/out/realtime"
	"realtime_server/config"
	"realtime_server/core/port/out"
	"realtime_server/core/service/heartbeat"
	"realtime_server/core/service/notification"
	"realtime_server/core/service/session"
	"realtime_server/core/service/tracking"
	"realtime_server/infra/database"
	"realtime_server/internal/stream"
	"realtime_server/pkg/cache"
	"realtime_server/pkg/logger"
	"realtime_server/pkg/metrics"
	"realtime_server/pkg/resilience"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
)

type Dependencies struct {
	Config  *config.Config
	Redis   *redis.Client
	MongoDB *mongo.Client

	// Repositories
	Accounts   out.AccountRepository
	Orders     out.OrderRepository
	OrderCache notification.OrderCache

	// Realtime core
	Stats         *metrics.Realtime
	Registry      *realtime.Registry
	Graph         *tracking.Graph
	Relay         *tracking.Relay
	Heartbeat     *heartbeat.Monitor
	Notifications *notification.Service
	OrderEvents   *notification.OrderEventHandler
	Sessions      *session.Manager

	// Order status stream (nil without Redis)
	Stream   *stream.RedisStream
	Producer *stream.Producer
	Consumer *stream.Consumer
}

func NewDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg, Stats: metrics.NewRealtime()}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// MongoDB (accounts and orders are required)
	if cfg.MongoDBURL == "" {
		return nil, nil, fmt.Errorf("MONGODB_URL is required")
	}
	mongoClient, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
	if err != nil {
		return nil, nil, err
	}
	deps.MongoDB = mongoClient
	cleanups = append(cleanups, func() {
		_ = mongoClient.Disconnect(context.Background())
	})

	breakerCfg := resilience.DefaultBreakerConfig("mongodb")
	breakerCfg.ConsecutiveFailures = uint32(cfg.BreakerConsecutiveFailures)
	breakerCfg.Timeout = cfg.BreakerTimeout
	breaker := mongodb.NewBreaker(breakerCfg, logger.Component(log, "breaker"))

	db := mongoClient.Database(cfg.MongoDBName)
	deps.Accounts = mongodb.NewAccountAdapter(db, cfg.AccountsCollection, breaker, log)
	orders := mongodb.NewOrderAdapter(db, cfg.OrdersCollection, breaker)
	deps.Orders = orders
	logger.Info("MongoDB connected (database=%s)", cfg.MongoDBName)

	// Redis (optional: order cache and status stream)
	if cfg.RedisURL != "" {
		redisClient, err := database.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("Redis connection failed: %v", err)
		} else {
			deps.Redis = redisClient
			cleanups = append(cleanups, func() { _ = redisClient.Close() })

			cached := persistence.NewCachedOrderAdapter(orders, cache.NewRedisCache(redisClient, "realtime:"), cfg.OrderCacheTTL, log)
			deps.Orders = cached
			deps.OrderCache = cached

			deps.Stream = stream.NewRedisStream(redisClient, cfg.ConsumerGroup)
			deps.Producer = stream.NewProducer(deps.Stream, cfg.OrderStatusStream)
			logger.Info("Redis connected: order cache and status stream enabled")
		}
	} else {
		logger.Warn("REDIS_URL not set: order status events and order cache disabled")
	}

	wireCore(deps, log)

	return deps, cleanup, nil
}

// wireCore builds the realtime core on top of the repositories in deps.
func wireCore(deps *Dependencies, log zerolog.Logger) {
	cfg := deps.Config
	if deps.Stats == nil {
		deps.Stats = metrics.NewRealtime()
	}

	deps.Registry = realtime.NewRegistry(log)
	deps.Graph = tracking.NewGraph(deps.Orders, log)
	deps.Relay = tracking.NewRelay(deps.Graph, deps.Registry, deps.Stats, log)
	deps.Heartbeat = heartbeat.NewMonitor(heartbeat.Config{
		PingInterval: cfg.WSPingInterval,
		Timeout:      cfg.WSConnectionTimeout,
	}, deps.Stats, log)
	deps.Notifications = notification.NewService(deps.Accounts, deps.Registry, deps.Stats, log)
	deps.OrderEvents = notification.NewOrderEventHandler(deps.Notifications, deps.Orders, deps.OrderCache, deps.Relay, log)

	sessionCfg := session.DefaultConfig()
	sessionCfg.InboundBuffer = cfg.WSInboundBuffer
	sessionCfg.InboundRate = cfg.WSInboundRate
	sessionCfg.InboundBurst = cfg.WSInboundBurst
	sessionCfg.PurgeSubscriptionsOnClose = cfg.WSPurgeSubscriptionsOnClose
	deps.Sessions = session.NewManager(sessionCfg, deps.Registry, deps.Heartbeat, deps.Relay, deps.Notifications, deps.Stats, log)

	if deps.Stream != nil {
		deps.Consumer = stream.NewConsumer(deps.Stream, deps.OrderEvents, stream.ConsumerConfig{
			Stream:    cfg.OrderStatusStream,
			Name:      cfg.ConsumerName,
			BatchSize: cfg.ConsumerBatchSize,
			Block:     cfg.ConsumerBlock,
			Workers:   cfg.ConsumerWorkers,
		}, log)
	}
}
