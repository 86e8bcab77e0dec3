package ws

import (
	"time"

	"realtime_server/core/domain"
	"realtime_server/core/service/session"
	"realtime_server/pkg/metrics"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config holds transport settings.
type Config struct {
	Path           string
	WriteWait      time.Duration
	MaxMessageSize int64
	SendBuffer     int
	AllowedOrigins []string
}

// Handler upgrades requests on Path and feeds frames into sessions.
type Handler struct {
	cfg      Config
	sessions *session.Manager
	stats    *metrics.Realtime
	log      zerolog.Logger
}

// NewHandler creates a WebSocket handler.
func NewHandler(cfg Config, sessions *session.Manager, stats *metrics.Realtime, log zerolog.Logger) *Handler {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 * 1024
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if stats == nil {
		stats = metrics.NewRealtime()
	}
	return &Handler{
		cfg:      cfg,
		sessions: sessions,
		stats:    stats,
		log:      log.With().Str("handler", "websocket").Logger(),
	}
}

// Register mounts the upgrade route.
func (h *Handler) Register(app fiber.Router) {
	app.Use(h.cfg.Path, func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get(h.cfg.Path, websocket.New(h.serve, websocket.Config{
		Origins:          h.cfg.AllowedOrigins,
		HandshakeTimeout: 10 * time.Second,
	}))
}

// serve owns the connection for its whole life; the socket is released when it returns.
func (h *Handler) serve(c *websocket.Conn) {
	conn := newConn(domain.ConnectionID(uuid.NewString()), c, h.cfg.SendBuffer, h.cfg.WriteWait, h.log)

	sess, err := h.sessions.Open(conn)
	if err != nil {
		h.log.Warn().Err(err).Msg("connection refused")
		conn.Close("server shutdown")
		return
	}

	h.log.Debug().
		Str("conn_id", string(conn.ID())).
		Str("ip", c.IP()).
		Msg("connection accepted")

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		conn.writePump()
	}()

	reason := h.readLoop(c, conn, sess)

	sess.Close(reason)
	<-sess.Done()
	<-pumpDone
}

// readLoop decodes frames until the peer goes away or the session closes.
func (h *Handler) readLoop(c *websocket.Conn, conn *Conn, sess *session.Session) string {
	c.SetReadLimit(h.cfg.MaxMessageSize)

	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			if conn.closed() {
				return "closed"
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug().Err(err).Str("conn_id", string(conn.ID())).Msg("read error")
				return "read error"
			}
			return "peer closed"
		}

		if mt != websocket.TextMessage {
			h.stats.MalformedFrames.Inc()
			h.log.Debug().Str("conn_id", string(conn.ID())).Int("message_type", mt).Msg("non-text frame dropped")
			continue
		}

		msg, err := Decode(data)
		if err != nil {
			h.stats.MalformedFrames.Inc()
			h.log.Warn().Err(err).Str("conn_id", string(conn.ID())).Msg("malformed frame dropped")
			continue
		}

		if !sess.Deliver(msg) {
			return "closed"
		}
	}
}
