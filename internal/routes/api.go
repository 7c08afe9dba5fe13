package routes

import (
	"github.com/dukerupert/kasse/internal/middleware"
	"github.com/dukerupert/kasse/internal/router"
)

// RegisterAPIRoutes registers the storefront API. Every route is tenant
// scoped: the tenant comes from the X-Tenant header or the subdomain.
func RegisterAPIRoutes(r *router.Router, deps APIDeps) {
	api := r.Group(middleware.RequireTenant)

	api.Post("/api/checkout", deps.CheckoutHandler.Checkout, deps.CheckoutMiddleware...)

	api.Get("/api/orders/{orderID}", deps.CheckoutHandler.GetOrder)
	api.Post("/api/orders/{orderID}/payment", deps.CheckoutHandler.RetryPayment, deps.CheckoutMiddleware...)

	api.Get("/api/orders/{orderID}/refunds", deps.RefundHandler.List)
	api.Post("/api/orders/{orderID}/refunds", deps.RefundHandler.Submit)
}
