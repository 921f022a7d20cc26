package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/usage_analytics/internal/app"
)

// Register wires up the /api/analytics routes.
func Register(app *fiber.App, container *app.Container) {
	group := app.Group("/api/analytics")
	registerAnalyticsRoutes(group, container)
}
