package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/StyleLoft/StyleLoft/app/controllers"
	"github.com/StyleLoft/StyleLoft/internal/pkg/constants"
	"github.com/StyleLoft/StyleLoft/internal/pkg/middleware"
)

// APIServer implements the v1 HTTP surface
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// Pong is the ping response body
type Pong struct {
	Ping string `json:"ping"`
}

// RegisterHandlers mounts all v1 routes on the given group. Webhook and
// catalog routes are public; billing, teams, and admin routes require a
// session established by the user context middleware.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)

	// Auth
	router.Post(constants.AuthRegisterRoute, controllers.HandleRegister)
	router.Post(constants.AuthLoginRoute, controllers.HandleLogin)
	router.Post(constants.AuthLogoutRoute, controllers.HandleLogout)

	// Provider callbacks authenticate by signature, not session
	router.Post(constants.StripeWebhookRoute, controllers.HandleStripeWebhook)

	// Billing, caller-scoped
	router.Post(constants.IAPVerifyRoute, middleware.RequireAPISessionAuth, controllers.HandleIAPVerify)
	router.Post(constants.BillingResyncRoute, middleware.RequireAPISessionAuth, controllers.HandleBillingResync)

	// Catalog and playback gating
	router.Get(constants.VideosRoute, controllers.HandleListVideos)
	router.Get(constants.VideoAccessRoute, controllers.HandleVideoAccess)

	// Teams
	router.Post(constants.TeamsRoute, middleware.RequireAPISessionAuth, controllers.HandleCreateTeam)
	router.Post(constants.TeamJoinRoute, middleware.RequireAPISessionAuth, controllers.HandleJoinTeam)

	// Admin
	router.Post(constants.AdminBillingActionsRoute, middleware.RequireAdminAPI, controllers.HandleAdminBillingAction)
	router.Get(constants.AdminBillingRevenueRoute, middleware.RequireAdminAPI, controllers.HandleAdminRevenueSummary)
	router.Get(constants.AdminStatsRoute, middleware.RequireAdminAPI, controllers.HandleAdminStats)
}
