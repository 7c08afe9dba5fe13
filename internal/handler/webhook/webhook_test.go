package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/reconcile"
	"github.com/dukerupert/kasse/internal/tenant"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockReconciler struct {
	handleFunc func(ctx context.Context, t domain.TenantRef, provider string, payload []byte, headers http.Header) (*reconcile.Outcome, error)
}

func (m *mockReconciler) Handle(ctx context.Context, t domain.TenantRef, provider string, payload []byte, headers http.Header) (*reconcile.Outcome, error) {
	return m.handleFunc(ctx, t, provider, payload, headers)
}

type mockResolver struct {
	tenants map[string]*tenant.Tenant
	err     error
}

func (m *mockResolver) ByIdentifier(_ context.Context, identifier string) (*tenant.Tenant, error) {
	if m.err != nil {
		return nil, m.err
	}
	if t, ok := m.tenants[identifier]; ok {
		return t, nil
	}
	return nil, tenant.ErrTenantNotFound
}

func (m *mockResolver) ByID(_ context.Context, id uuid.UUID) (*tenant.Tenant, error) {
	for _, t := range m.tenants {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, tenant.ErrTenantNotFound
}

var (
	acme      = &tenant.Tenant{ID: uuid.New(), Identifier: "acme", Status: "active"}
	suspended = &tenant.Tenant{ID: uuid.New(), Identifier: "closed", Status: "suspended"}
)

func serve(h *Handler, target, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	mux.Handle("POST /webhooks/{provider}/{tenant}", h)
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func newHandler(rec Reconciler) *Handler {
	return NewHandler(rec, &mockResolver{tenants: map[string]*tenant.Tenant{"acme": acme, "closed": suspended}}, nil)
}

func TestWebhook_Applied(t *testing.T) {
	orderID := uuid.New()
	var gotTenant domain.TenantRef
	var gotProvider, gotBody, gotSig string
	h := newHandler(&mockReconciler{
		handleFunc: func(ctx context.Context, tn domain.TenantRef, provider string, payload []byte, headers http.Header) (*reconcile.Outcome, error) {
			gotTenant, gotProvider, gotBody = tn, provider, string(payload)
			gotSig = headers.Get("Stripe-Signature")
			assert.Equal(t, acme.ID, tenant.RefFromContext(ctx).ID)
			return &reconcile.Outcome{OrderID: orderID, Status: domain.PaymentCaptured, OrderStatus: domain.OrderPaid, Applied: true}, nil
		},
	})

	rec := serve(h, "/webhooks/stripe/acme", `{"id":"evt_1"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, acme.ID, gotTenant.ID)
	assert.Equal(t, "stripe", gotProvider)
	assert.Equal(t, `{"id":"evt_1"}`, gotBody)
	assert.Equal(t, "t=1,v1=abc", gotSig)

	var body ackResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.True(t, body.Received)
	assert.Equal(t, reconcile.ResultApplied, body.Result)
	assert.Equal(t, orderID, body.Outcome.OrderID)
}

func TestWebhook_DuplicateAcknowledged(t *testing.T) {
	h := newHandler(&mockReconciler{
		handleFunc: func(context.Context, domain.TenantRef, string, []byte, http.Header) (*reconcile.Outcome, error) {
			return &reconcile.Outcome{Duplicate: true}, nil
		},
	})
	rec := serve(h, "/webhooks/wallet/acme", `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"result":"duplicate"`)
}

func TestWebhook_IgnoredEventAcknowledged(t *testing.T) {
	h := newHandler(&mockReconciler{
		handleFunc: func(context.Context, domain.TenantRef, string, []byte, http.Header) (*reconcile.Outcome, error) {
			return &reconcile.Outcome{Ignored: true}, nil
		},
	})
	rec := serve(h, "/webhooks/stripe/acme", `{"type":"customer.created"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"result":"ignored"`)
}

func TestWebhook_TenantByUUID(t *testing.T) {
	called := false
	h := newHandler(&mockReconciler{
		handleFunc: func(_ context.Context, tn domain.TenantRef, _ string, _ []byte, _ http.Header) (*reconcile.Outcome, error) {
			called = true
			assert.Equal(t, acme.ID, tn.ID)
			return &reconcile.Outcome{Applied: true}, nil
		},
	})
	rec := serve(h, "/webhooks/stripe/"+acme.ID.String(), `{}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestWebhook_Errors(t *testing.T) {
	never := &mockReconciler{
		handleFunc: func(context.Context, domain.TenantRef, string, []byte, http.Header) (*reconcile.Outcome, error) {
			t.Fatal("reconciler must not be called")
			return nil, nil
		},
	}
	failing := func(err error) Reconciler {
		return &mockReconciler{
			handleFunc: func(context.Context, domain.TenantRef, string, []byte, http.Header) (*reconcile.Outcome, error) {
				return nil, err
			},
		}
	}

	tests := []struct {
		name       string
		reconciler Reconciler
		target     string
		status     int
	}{
		{"unknown tenant", never, "/webhooks/stripe/nobody", http.StatusNotFound},
		{"unknown uuid tenant", never, "/webhooks/stripe/" + uuid.NewString(), http.StatusNotFound},
		{"inactive tenant", never, "/webhooks/stripe/closed", http.StatusNotFound},
		{"bad signature", failing(domain.Unauthorized("gateway.verify", "invalid signature")), "/webhooks/stripe/acme", http.StatusUnauthorized},
		{"unknown reference", failing(domain.NotFound("reconcile.handle", "payment", "pi_x")), "/webhooks/stripe/acme", http.StatusNotFound},
		{"unknown status", failing(domain.Invalid("gateway.verify", "unknown payment status")), "/webhooks/stripe/acme", http.StatusBadRequest},
		{"storage failure", failing(domain.Internal(errors.New("conn reset"), "reconcile.apply", "failed to apply webhook")), "/webhooks/stripe/acme", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(newHandler(tt.reconciler), tt.target, `{}`)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestWebhook_ResolverFailure(t *testing.T) {
	h := NewHandler(&mockReconciler{}, &mockResolver{err: errors.New("db down")}, nil)
	rec := serve(h, "/webhooks/stripe/acme", `{}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "db down")
}

func TestWebhook_PayloadTooLarge(t *testing.T) {
	h := newHandler(&mockReconciler{})
	h.maxPayload = 16
	rec := serve(h, "/webhooks/stripe/acme", strings.Repeat("x", 64))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "payload too large")
}
