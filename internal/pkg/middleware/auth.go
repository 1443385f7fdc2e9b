package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/usercontext"
)

// RequireAdmin gates operator endpoints (refunds, tariff management).
func RequireAdmin(c *fiber.Ctx) error {
	if !usercontext.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":   "forbidden",
			"message": "admin access required",
		})
	}
	return c.Next()
}
