package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/StyleLoft/StyleLoft/internal/pkg/admin"
	"github.com/StyleLoft/StyleLoft/internal/pkg/billing"
	"github.com/StyleLoft/StyleLoft/internal/pkg/database"
	"github.com/StyleLoft/StyleLoft/internal/pkg/statistics"
	"github.com/StyleLoft/StyleLoft/internal/pkg/usercontext"
)

// HandleAdminBillingAction executes one admin mutation against the billing
// provider. The gateway talks to the provider first and feeds the response
// back through the shared derivation path.
func HandleAdminBillingAction(c *fiber.Ctx) error {
	var req admin.ActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "invalid JSON body"})
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	gateway := admin.NewGateway(billing.NewStripeClientFromEnv(), svc)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := gateway.Execute(ctx, req)
	if err != nil {
		var validationErrs validator.ValidationErrors
		switch {
		case errors.As(err, &validationErrs),
			errors.Is(err, admin.ErrUnknownAction),
			errors.Is(err, admin.ErrUnsupportedSource):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
		default:
			log.Errorf("[Admin] Billing action %s by user %d failed: %v", req.Action, usercontext.GetUserID(c), err)
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "provider_error", "message": err.Error()})
		}
	}

	log.Infof("[Admin] Billing action %s executed by user %d", req.Action, usercontext.GetUserID(c))
	return c.JSON(result)
}

// HandleAdminRevenueSummary sums ledger net revenue over a date range.
// Defaults to the current calendar month.
func HandleAdminRevenueSummary(c *fiber.Ctx) error {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	if v := c.Query("from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "from must be YYYY-MM-DD"})
		}
		from = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "to must be YYYY-MM-DD"})
		}
		to = t
	}

	svc := billing.NewServiceFromDB(database.GetDB())
	net, err := svc.RevenueSummary(c.Context(), from, to)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}

	return c.JSON(fiber.Map{
		"from":      from.Format("2006-01-02"),
		"to":        to.Format("2006-01-02"),
		"net_cents": net,
	})
}

// HandleAdminStats returns cached aggregate platform figures.
func HandleAdminStats(c *fiber.Ctx) error {
	stats, err := statistics.GetStatistics()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error"})
	}
	return c.JSON(stats)
}
