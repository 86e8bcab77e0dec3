package bootstrap

import (
	"realtime_server/core/domain"
	"realtime_server/pkg/apperr"
	"realtime_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

type devOrderStatusRequest struct {
	OrderID string             `json:"orderId"`
	Status  domain.OrderStatus `json:"status"`
	UserID  string             `json:"userId"`
}

// RegisterDevRoutes registers development-only routes without authentication.
// WARNING: Only enable in development environment!
func RegisterDevRoutes(app *fiber.App, deps *Dependencies) {
	dev := app.Group("/dev")

	// Publish an order status change the way the order service does. Without
	// Redis the event is handled in-process.
	dev.Post("/order-status", func(c *fiber.Ctx) error {
		var req devOrderStatusRequest
		if err := c.BodyParser(&req); err != nil {
			return apperr.BadRequest("invalid body")
		}
		if req.OrderID == "" || req.Status == "" {
			return apperr.BadRequest("orderId and status are required")
		}

		logger.Info("[Dev] order status: order=%s status=%s user=%s", req.OrderID, req.Status, req.UserID)

		if deps.Producer != nil {
			ev, err := deps.Producer.PublishOrderStatus(c.UserContext(), req.OrderID, req.Status, req.UserID)
			if err != nil {
				return apperr.Unavailable("redis", err)
			}
			return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"event": ev, "via": "stream"})
		}

		ev := &domain.OrderStatusEvent{OrderID: req.OrderID, Status: req.Status, UserID: req.UserID}
		if err := deps.OrderEvents.Handle(c.UserContext(), ev); err != nil {
			return err
		}
		return c.JSON(fiber.Map{"event": ev, "via": "direct"})
	})

	// Connected users and sockets.
	dev.Get("/connections/:userId", func(c *fiber.Ctx) error {
		userID := c.Params("userId")
		conns := deps.Registry.ConnectionsFor(userID)
		ids := make([]domain.ConnectionID, 0, len(conns))
		for _, conn := range conns {
			ids = append(ids, conn.ID())
		}
		return c.JSON(fiber.Map{"user_id": userID, "connections": ids})
	})
}
