package routes

import (
	"github.com/dukerupert/kasse/internal/handler"
	"github.com/dukerupert/kasse/internal/middleware"
	"github.com/dukerupert/kasse/internal/router"
)

// RegisterWebhookRoutes registers provider callbacks.
//
// Webhook routes carry no authentication middleware: the reconciler verifies
// each payload's signature with the tenant's secret. The tenant comes from
// the path, never from a header the provider would not send.
func RegisterWebhookRoutes(r *router.Router, deps WebhookDeps) {
	r.Handle("POST", "/webhooks/{provider}/{tenant}", deps.Handler, middleware.MaxBodySize(middleware.WebhookMaxBodySize))
}

// RegisterOpsRoutes registers health and metrics, and the JSON 404 for
// everything unmatched.
func RegisterOpsRoutes(r *router.Router, deps OpsDeps) {
	r.NotFound(handler.NotFoundResponse)

	r.Handle("GET", "/health", deps.Health)
	if deps.Metrics != nil {
		r.Handle("GET", "/metrics", deps.Metrics)
	}
}
