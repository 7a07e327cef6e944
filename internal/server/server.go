package server

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/toolbridge/toolbridge/internal/controllers"
	"github.com/toolbridge/toolbridge/internal/middlewares"
	"github.com/toolbridge/toolbridge/internal/version"
)

type HTTPServerDependencies struct {
	HubController *controllers.HubController
	// APIKeyHash enables the API-key middleware when non-empty.
	APIKeyHash string
}

func NewHTTPServer(deps HTTPServerDependencies) *fiber.App {
	router := fiber.New(fiber.Config{
		AppName: "toolbridge",
	})

	router.Use(cors.New())
	router.Use(logger.New())

	// Health check endpoint (no authentication required)
	router.Get("/health", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":    "healthy",
			"service":   "toolbridge",
			"version":   version.GetVersion(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	api := router.Group("/v1")

	if deps.APIKeyHash != "" {
		api.Use(middlewares.APIKeyMiddleware(deps.APIKeyHash))
	}

	api.Post("/connectors", deps.HubController.CreateConnector)
	api.Post("/connectors/:connectorID/tools", deps.HubController.RegisterTool)
	api.Post("/connectors/:connectorID/tools/discover", deps.HubController.DiscoverTools)

	api.Post("/oauth/start", deps.HubController.StartOAuth)
	api.Post("/oauth/callback", deps.HubController.CompleteOAuth)

	api.Post("/connections/api-key", deps.HubController.RegisterAPIKey)
	api.Delete("/connections/:connectionID", deps.HubController.Disconnect)
	api.Post("/connections/refresh", deps.HubController.RefreshTokens)

	api.Post("/tools/execute", deps.HubController.ExecuteTool)

	api.Post("/events/deliver", deps.HubController.DeliverEvent)
	api.Post("/deliveries/:deliveryID/retry", deps.HubController.RetryDelivery)
	api.Post("/webhooks/test", deps.HubController.TestWebhook)

	return router
}
