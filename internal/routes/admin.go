package routes

import (
	"github.com/dukerupert/kasse/internal/middleware"
	"github.com/dukerupert/kasse/internal/router"
)

// RegisterAdminRoutes registers operator routes. All routes require the
// admin token and a tenant.
func RegisterAdminRoutes(r *router.Router, deps AdminDeps) {
	admin := r.Group(deps.Auth, middleware.RequireTenant)

	admin.Get("/admin/orders/{orderID}/refunds", deps.RefundHandler.ListForOrder)
	admin.Get("/admin/refunds/{refundID}", deps.RefundHandler.Get)
	admin.Post("/admin/refunds/{refundID}/approve", deps.RefundHandler.Approve)
	admin.Post("/admin/refunds/{refundID}/deny", deps.RefundHandler.Deny)

	if deps.SettingsHandler != nil {
		admin.Get("/admin/payment-settings/{provider}", deps.SettingsHandler.Get)
		admin.Put("/admin/payment-settings/{provider}", deps.SettingsHandler.Put)
		admin.Delete("/admin/payment-settings/{provider}", deps.SettingsHandler.Delete)
	}
}
