package constants

// Static route constants
const (
	APIRoute   = "/api"
	APIV1Route = "/v1"

	AuthRegisterRoute = "/auth/register"
	AuthLoginRoute    = "/auth/login"
	AuthLogoutRoute   = "/auth/logout"

	StripeWebhookRoute = "/billing/stripe/webhook"
	IAPVerifyRoute     = "/billing/iap/verify"
	BillingResyncRoute = "/billing/resync"

	AdminBillingActionsRoute = "/admin/billing/actions"
	AdminBillingRevenueRoute = "/admin/billing/revenue"
	AdminStatsRoute          = "/admin/stats"

	VideosRoute      = "/videos"
	VideoAccessRoute = "/videos/:uuid/access"

	TeamsRoute    = "/teams"
	TeamJoinRoute = "/teams/:id/join"
)
