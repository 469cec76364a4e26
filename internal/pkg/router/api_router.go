package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	apiv1 "github.com/StyleLoft/StyleLoft/internal/api/v1"
	"github.com/StyleLoft/StyleLoft/internal/pkg/constants"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// Provider webhooks are exempt from rate limiting; the signature check
	// already gates them and a throttled redelivery storm would drop events.
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Next: func(c *fiber.Ctx) bool {
			return strings.HasSuffix(c.Path(), constants.StripeWebhookRoute)
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	// API v1 routes
	v1 := api.Group(constants.APIV1Route)
	apiServer := apiv1.NewAPIServer()
	apiv1.RegisterHandlers(v1, apiServer)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
