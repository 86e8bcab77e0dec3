// Package bootstrap wires the realtime server together.
package bootstrap

import (
	"context"
	"strings"
	"sync"
	"time"

	httpadapter "realtime_server/adapter/in/http"
	"realtime_server/adapter/in/ws"
	"realtime_server/config"
	"realtime_server/infra/database"
	"realtime_server/infra/middleware"
	"realtime_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Server owns the Fiber app and the background order status consumer.
type Server struct {
	App  *fiber.App
	deps *Dependencies
	cfg  *config.Config
	log  zerolog.Logger

	limiter *middleware.IPRateLimiter
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewServer(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Server, func(), error) {
	deps, cleanup, err := NewDependencies(ctx, cfg, log)
	if err != nil {
		logger.WithError(err).Error().Msg("failed to initialize dependencies")
		return nil, nil, err
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     logger.Component(log, "server"),
		limiter: middleware.NewIPRateLimiter(cfg.WSHandshakeRate, cfg.WSHandshakeBurst),
	}
	s.App = NewApp(cfg, deps, s.limiter, log)
	return s, cleanup, nil
}

// NewApp builds the Fiber app: middleware, operational endpoints and the
// WebSocket route.
func NewApp(cfg *config.Config, deps *Dependencies, limiter *middleware.IPRateLimiter, log zerolog.Logger) *fiber.App {
	httpLog := logger.Component(log, "http")

	app := fiber.New(fiber.Config{
		ErrorHandler:          middleware.ErrorHandler(httpLog),
		DisableStartupMessage: cfg.IsProduction(),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		BodyLimit:             1 * 1024 * 1024,
		ServerHeader:          "",
		DisableDefaultDate:    true,
	})

	// Global middleware stack (order matters)
	app.Use(middleware.Recover(httpLog))
	app.Use(middleware.RequestID())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.RequestLogger(httpLog))

	allowOrigins := strings.Join(cfg.AllowedOrigins, ",")
	if allowOrigins == "" || allowOrigins == "*" {
		if cfg.IsProduction() {
			allowOrigins = ""
		} else {
			allowOrigins = "http://localhost:3000,http://localhost:5173"
		}
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins:  allowOrigins,
		AllowMethods:  "GET,POST,OPTIONS",
		AllowHeaders:  "Origin,Content-Type,Accept,X-Request-ID",
		ExposeHeaders: "X-Request-ID",
		MaxAge:        86400,
	}))

	health := map[string]httpadapter.HealthChecker{
		"mongodb": httpadapter.CheckerFunc(func(ctx context.Context) error {
			return deps.MongoDB.Ping(ctx, readpref.Primary())
		}),
		"redis": nil,
	}
	if deps.Redis != nil {
		health["redis"] = httpadapter.CheckerFunc(func(ctx context.Context) error {
			return deps.Redis.Ping(ctx).Err()
		})
	}
	httpadapter.NewHealthHandler(health).Register(app)

	stats := map[string]httpadapter.StatsFunc{
		"registry":  func() any { return deps.Registry.Stats() },
		"graph":     func() any { return deps.Relay.Stats() },
		"heartbeat": func() any { return deps.Heartbeat.Stats() },
		"sessions":  func() any { return deps.Sessions.Count() },
		"realtime":  func() any { return deps.Stats.Snapshot() },
	}
	if deps.Consumer != nil {
		stats["order_stream"] = func() any {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return deps.Consumer.Stats(ctx)
		}
	}
	if deps.Redis != nil {
		stats["redis_pool"] = func() any { return database.GetRedisStats(deps.Redis) }
	}
	httpadapter.NewStatsHandler(stats).Register(app)

	if cfg.IsDevelopment() {
		RegisterDevRoutes(app, deps)
		logger.Info("Development routes enabled under /dev")
	}

	if limiter != nil {
		app.Use(cfg.WSPath, limiter.Handler())
	}
	ws.NewHandler(ws.Config{
		Path:           cfg.WSPath,
		WriteWait:      cfg.WSWriteWait,
		MaxMessageSize: int64(cfg.WSMaxMessageSize),
		SendBuffer:     cfg.WSSendBuffer,
		AllowedOrigins: cfg.WSAllowedOrigins,
	}, deps.Sessions, deps.Stats, log).Register(app)

	return app
}

// Start runs the background workers and blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.limiter.Run(ctx)
	}()

	if s.deps.Consumer != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.deps.Consumer.Run(ctx); err != nil {
				s.log.Error().Err(err).Msg("order status consumer exited")
			}
		}()
	}

	addr := ":" + s.cfg.Port
	s.log.Info().Str("addr", addr).Str("ws_path", s.cfg.WSPath).Msg("starting realtime server")
	return s.App.Listen(addr)
}

// Shutdown stops the consumer, closes every session and then the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("background workers did not stop in time")
	}

	if err := s.deps.Sessions.Shutdown(ctx); err != nil {
		s.log.Warn().Err(err).Msg("sessions did not close in time")
	}
	return s.App.ShutdownWithContext(ctx)
}
