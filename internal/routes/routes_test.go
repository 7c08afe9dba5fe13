package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dukerupert/kasse/internal/checkout"
	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/handler"
	"github.com/dukerupert/kasse/internal/handler/admin"
	"github.com/dukerupert/kasse/internal/handler/api"
	"github.com/dukerupert/kasse/internal/middleware"
	"github.com/dukerupert/kasse/internal/refund"
	"github.com/dukerupert/kasse/internal/router"
	"github.com/dukerupert/kasse/internal/tenant"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

// stubCore answers every core call with not found, which is enough to prove
// a request reached its handler.
type stubCore struct{}

func (stubCore) Checkout(context.Context, checkout.Params) (*checkout.Result, error) {
	return nil, domain.ErrCartNotFound
}

func (stubCore) GetOrder(context.Context, domain.TenantRef, uuid.UUID) (*domain.Order, error) {
	return nil, domain.ErrOrderNotFound
}

func (stubCore) RetryPayment(context.Context, domain.TenantRef, uuid.UUID, string, map[string]string) (*checkout.Result, error) {
	return nil, domain.ErrOrderNotFound
}

func (stubCore) Submit(context.Context, domain.TenantRef, refund.SubmitParams) (*domain.RefundRequest, error) {
	return nil, domain.ErrOrderNotFound
}

func (stubCore) ListForOrder(context.Context, domain.TenantRef, uuid.UUID) ([]domain.RefundRequest, error) {
	return nil, domain.ErrOrderNotFound
}

func (stubCore) Approve(context.Context, domain.TenantRef, uuid.UUID, decimal.Decimal, string) (*domain.RefundRequest, error) {
	return nil, domain.ErrRefundNotFound
}

func (stubCore) Deny(context.Context, domain.TenantRef, uuid.UUID, string) (*domain.RefundRequest, error) {
	return nil, domain.ErrRefundNotFound
}

func (stubCore) Get(context.Context, domain.TenantRef, uuid.UUID) (*domain.RefundRequest, error) {
	return nil, domain.ErrRefundNotFound
}

type stubResolver struct{ t *tenant.Tenant }

func (s stubResolver) ByIdentifier(_ context.Context, id string) (*tenant.Tenant, error) {
	if id == s.t.Identifier {
		return s.t, nil
	}
	return nil, tenant.ErrTenantNotFound
}

func (s stubResolver) ByID(context.Context, uuid.UUID) (*tenant.Tenant, error) {
	return nil, tenant.ErrTenantNotFound
}

func newTestRouter() *router.Router {
	acme := &tenant.Tenant{ID: uuid.New(), Identifier: "acme", Status: "active"}
	r := router.New(middleware.ResolveTenant(middleware.TenantConfig{Resolver: stubResolver{acme}}))

	core := stubCore{}
	RegisterAPIRoutes(r, APIDeps{
		CheckoutHandler: api.NewCheckoutHandler(core, nil),
		RefundHandler:   api.NewRefundHandler(core, nil),
	})
	RegisterAdminRoutes(r, AdminDeps{
		RefundHandler: admin.NewRefundHandler(core, nil),
		Auth:          middleware.RequireAdminToken("token"),
	})
	RegisterOpsRoutes(r, OpsDeps{Health: handler.NewHealthHandler(nil)})
	return r
}

func TestRoutes(t *testing.T) {
	r := newTestRouter()
	orderPath := "/api/orders/" + uuid.NewString()
	refundPath := "/admin/refunds/" + uuid.NewString()

	tests := []struct {
		name   string
		method string
		path   string
		tenant string
		auth   string
		status int
	}{
		{"health", http.MethodGet, "/health", "", "", http.StatusOK},
		{"api requires tenant", http.MethodGet, orderPath, "", "", http.StatusBadRequest},
		{"unknown tenant", http.MethodGet, orderPath, "nobody", "", http.StatusNotFound},
		{"get order reaches handler", http.MethodGet, orderPath, "acme", "", http.StatusNotFound},
		{"list refunds reaches handler", http.MethodGet, orderPath + "/refunds", "acme", "", http.StatusNotFound},
		{"admin requires token", http.MethodGet, refundPath, "acme", "", http.StatusUnauthorized},
		{"admin wrong token", http.MethodGet, refundPath, "acme", "Bearer nope", http.StatusUnauthorized},
		{"admin reaches handler", http.MethodGet, refundPath, "acme", "Bearer token", http.StatusNotFound},
		{"admin requires tenant", http.MethodGet, refundPath, "", "Bearer token", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/nope", "", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.tenant != "" {
				req.Header.Set(middleware.TenantHeader, tt.tenant)
			}
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}
