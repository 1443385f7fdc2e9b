package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to the controllers to keep response shapes in one place
	"github.com/VictorKazakov/NeuroCanvas/app/controllers"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/middleware"
)

// APIServer implements the public v1 surface described in
// public/docs/v1/openapi.yml.
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// Pong is the ping response body.
type Pong struct {
	Ping string `json:"ping"`
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// RegisterHandlers attaches all v1 routes to the given router group.
// Webhooks and the tariff catalog are unauthenticated; everything else
// requires an API key.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)

	// Provider callbacks authenticate via webhook signature, not API key.
	router.Post("/webhook/:provider", controllers.HandleProviderWebhook)

	router.Get("/tariffs", controllers.HandleTariffList)

	auth := router.Group("", middleware.APIKeyAuthMiddleware())

	auth.Post("/payments", controllers.HandlePaymentInitiate)
	auth.Get("/payments", controllers.HandleOrderList)
	auth.Get("/payments/:id", controllers.HandlePaymentStatus)
	auth.Post("/payments/:id/cancel", controllers.HandlePaymentCancel)
	auth.Post("/payments/:id/refund", middleware.RequireAdmin, controllers.HandlePaymentRefund)

	auth.Post("/jobs", controllers.HandleJobSubmit)
	auth.Get("/jobs", controllers.HandleJobList)
	auth.Get("/jobs/:id", controllers.HandleJobStatus)
	auth.Post("/jobs/:id/cancel", controllers.HandleJobCancel)

	auth.Get("/users/:id/balance", controllers.HandleUserBalance)

	auth.Get("/admin/stats", middleware.RequireAdmin, controllers.HandleSchedulerStats)
	auth.Patch("/admin/tariffs/:id", middleware.RequireAdmin, controllers.HandleTariffSetActive)
}
