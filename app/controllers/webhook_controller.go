package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/database"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/payment"
)

// HandleProviderWebhook receives POST /api/v1/webhook/:provider. The response
// status steers provider redelivery: 200 acks (including duplicates), 401 and
// 409 are final rejections, 500 asks the provider to retry later.
func HandleProviderWebhook(c *fiber.Ctx) error {
	providerName := strings.ToLower(strings.TrimSpace(c.Params("provider")))
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := firstHeaderValue(c, "Content-HMAC", "X-Webhook-Signature", "Signature")

	svc := payment.NewServiceFromDB(database.GetDB())
	result, err := svc.HandleWebhook(providerName, rawBody, signature)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrUnknownProvider):
			return jsonError(c, fiber.StatusNotFound, "unknown_provider", err.Error())
		case errors.Is(err, payment.ErrInvalidSignature):
			return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "webhook signature verification failed")
		case errors.Is(err, payment.ErrConflict):
			return jsonError(c, fiber.StatusConflict, "conflict", err.Error())
		default:
			log.Errorf("[Webhook] %s delivery failed: %v", providerName, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "webhook processing failed")
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ok":         true,
		"duplicate":  result.Status == payment.WebhookDuplicate,
		"order_uuid": result.OrderUUID,
	})
}
