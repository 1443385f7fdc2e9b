package controllers

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/VictorKazakov/NeuroCanvas/app/repository"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/database"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/payment"
	"github.com/VictorKazakov/NeuroCanvas/internal/pkg/usercontext"
)

type initiatePaymentRequest struct {
	TariffPackageID uint   `json:"tariff_package_id" validate:"required"`
	Provider        string `json:"provider" validate:"required,oneof=yookassa cloudpayments"`
	ReturnURL       string `json:"return_url" validate:"omitempty,url"`
}

// HandlePaymentInitiate creates a payment order for the authenticated user
// and returns the provider confirmation URL the client must follow.
func HandlePaymentInitiate(c *fiber.Ctx) error {
	var req initiatePaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Malformed JSON body")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	svc := payment.NewServiceFromDB(database.GetDB())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	result, err := svc.Initiate(ctx, usercontext.UserID(c), req.TariffPackageID, req.Provider, req.ReturnURL)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrUnknownTariff):
			return jsonError(c, fiber.StatusNotFound, "unknown_tariff", "Tariff package not found or inactive")
		case errors.Is(err, payment.ErrUnknownProvider):
			return jsonError(c, fiber.StatusBadRequest, "unknown_provider", err.Error())
		case errors.Is(err, payment.ErrProviderUnavailable):
			return jsonError(c, fiber.StatusServiceUnavailable, "provider_unavailable", "Payment provider did not accept the order, try again later")
		default:
			log.Errorf("[Payment] initiate failed for user %d: %v", usercontext.UserID(c), err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Payment initiation failed")
		}
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"order_uuid":       result.Order.OrderUUID,
		"state":            result.Order.State,
		"amount_cents":     result.Order.AmountCents,
		"currency":         result.Order.Currency,
		"provider":         result.Order.Provider,
		"confirmation_url": result.ConfirmationURL,
	})
}

// HandlePaymentStatus returns one order of the authenticated user.
func HandlePaymentStatus(c *fiber.Ctx) error {
	orderUUID := c.Params("id")
	order, err := repository.GetGlobalFactory().GetOrderRepository().GetByUUID(orderUUID)
	if err != nil {
		return jsonError(c, fiber.StatusNotFound, "unknown_order", "Order not found")
	}
	if order.UserID != usercontext.UserID(c) && !usercontext.IsAdmin(c) {
		return jsonError(c, fiber.StatusNotFound, "unknown_order", "Order not found")
	}
	return c.JSON(order)
}

// HandlePaymentCancel aborts an unsettled order. Cancelling twice is a no-op.
func HandlePaymentCancel(c *fiber.Ctx) error {
	orderUUID := c.Params("id")
	order, err := repository.GetGlobalFactory().GetOrderRepository().GetByUUID(orderUUID)
	if err != nil {
		return jsonError(c, fiber.StatusNotFound, "unknown_order", "Order not found")
	}
	if order.UserID != usercontext.UserID(c) && !usercontext.IsAdmin(c) {
		return jsonError(c, fiber.StatusNotFound, "unknown_order", "Order not found")
	}

	svc := payment.NewServiceFromDB(database.GetDB())
	cancelled, err := svc.Cancel(orderUUID)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrUnknownOrder):
			return jsonError(c, fiber.StatusNotFound, "unknown_order", "Order not found")
		case errors.Is(err, payment.ErrNotCancellable):
			return jsonError(c, fiber.StatusConflict, "not_cancellable", "Order already settled")
		default:
			log.Errorf("[Payment] cancel failed for order %s: %v", orderUUID, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Cancel failed")
		}
	}

	return c.JSON(fiber.Map{"order_uuid": cancelled.OrderUUID, "state": cancelled.State})
}

// HandlePaymentRefund is the operator path for reversing a paid order.
// Admin only; a second refund of the same order acks without a new ledger
// entry.
func HandlePaymentRefund(c *fiber.Ctx) error {
	orderUUID := c.Params("id")

	svc := payment.NewServiceFromDB(database.GetDB())
	order, err := svc.Refund(orderUUID)
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrUnknownOrder):
			return jsonError(c, fiber.StatusNotFound, "unknown_order", "Order not found")
		case errors.Is(err, payment.ErrNotRefundable):
			return jsonError(c, fiber.StatusConflict, "not_refundable", "Only paid orders can be refunded")
		default:
			log.Errorf("[Payment] refund failed for order %s: %v", orderUUID, err)
			return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Refund failed")
		}
	}

	return c.JSON(fiber.Map{"order_uuid": order.OrderUUID, "state": order.State})
}

// HandleTariffList returns the purchasable tariff packages.
func HandleTariffList(c *fiber.Ctx) error {
	packages, err := repository.GetGlobalFactory().GetTariffRepository().GetActive()
	if err != nil {
		log.Errorf("[Payment] tariff list failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load tariffs")
	}
	return c.JSON(fiber.Map{"tariffs": packages})
}

type tariffActivationRequest struct {
	IsActive *bool `json:"is_active" validate:"required"`
}

// HandleTariffSetActive toggles whether a tariff package is purchasable.
// Admin only; existing orders keep their package either way.
func HandleTariffSetActive(c *fiber.Ctx) error {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Invalid tariff id")
	}

	var req tariffActivationRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "Malformed JSON body")
	}
	if err := validate.Struct(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	}

	repo := repository.GetGlobalFactory().GetTariffRepository()
	if _, err := repo.GetByID(uint(id)); err != nil {
		return jsonError(c, fiber.StatusNotFound, "unknown_tariff", "Tariff package not found")
	}
	if err := repo.SetActive(uint(id), *req.IsActive); err != nil {
		log.Errorf("[Payment] tariff %d activation update failed: %v", id, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Tariff update failed")
	}

	return c.JSON(fiber.Map{"id": id, "is_active": *req.IsActive})
}

// HandleOrderList returns the authenticated user's payment history.
func HandleOrderList(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	orders, err := repository.GetGlobalFactory().GetOrderRepository().ListByUserID(usercontext.UserID(c), offset, limit)
	if err != nil {
		log.Errorf("[Payment] order list failed for user %d: %v", usercontext.UserID(c), err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Could not load orders")
	}
	return c.JSON(fiber.Map{"orders": orders})
}
