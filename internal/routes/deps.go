package routes

import (
	"net/http"

	"github.com/dukerupert/kasse/internal/handler/admin"
	"github.com/dukerupert/kasse/internal/handler/api"
	"github.com/dukerupert/kasse/internal/router"
)

// APIDeps contains dependencies for storefront-facing API routes
type APIDeps struct {
	CheckoutHandler *api.CheckoutHandler
	RefundHandler   *api.RefundHandler

	// CheckoutMiddleware wraps POST /api/checkout only (rate limiting,
	// idempotency replay).
	CheckoutMiddleware []router.Middleware
}

// AdminDeps contains dependencies for operator routes
type AdminDeps struct {
	RefundHandler *admin.RefundHandler

	// SettingsHandler is nil when no settings store is configured.
	SettingsHandler *admin.SettingsHandler

	// Auth guards every admin route.
	Auth router.Middleware
}

// WebhookDeps contains dependencies for webhook routes
type WebhookDeps struct {
	Handler http.Handler
}

// OpsDeps contains health and metrics endpoints
type OpsDeps struct {
	Health  http.Handler
	Metrics http.Handler
}
