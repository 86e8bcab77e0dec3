package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// StatsFunc returns one JSON-encodable section of the stats document.
type StatsFunc func() any

// StatsHandler serves GET /stats: connection registry, subscription graph,
// heartbeat and stream counters, each under its own key.
type StatsHandler struct {
	sections map[string]StatsFunc
	started  time.Time
}

func NewStatsHandler(sections map[string]StatsFunc) *StatsHandler {
	return &StatsHandler{sections: sections, started: time.Now()}
}

func (h *StatsHandler) Register(app fiber.Router) {
	app.Get("/stats", h.Stats)
}

func (h *StatsHandler) Stats(c *fiber.Ctx) error {
	body := fiber.Map{
		"uptime_sec": int64(time.Since(h.started).Seconds()),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	}
	for name, fn := range h.sections {
		if fn != nil {
			body[name] = fn()
		}
	}
	return c.JSON(body)
}
