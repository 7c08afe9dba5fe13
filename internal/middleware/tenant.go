package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/kasse/internal/telemetry"
	"github.com/dukerupert/kasse/internal/tenant"
)

// TenantHeader names the tenant on API calls that do not come in through a
// tenant subdomain.
const TenantHeader = "X-Tenant"

// TenantConfig holds configuration for tenant resolution middleware.
type TenantConfig struct {
	// BaseDomain is the root domain for subdomain extraction (e.g.
	// "checkout.example.com"). Tenants are addressed as {identifier}.BaseDomain.
	BaseDomain string

	// Resolver is the tenant resolver for database lookups.
	Resolver tenant.Resolver

	// Logger is the structured logger for middleware operations.
	// If nil, uses slog.Default().
	Logger *slog.Logger
}

// ResolveTenant resolves the tenant from the X-Tenant header, falling back to
// the subdomain of BaseDomain. Requests naming no tenant pass through
// untouched; pair with RequireTenant on tenant-scoped routes.
//
// After resolution, tenant status is checked:
//   - "active": continue, tenant added to context
//   - "suspended": 503, the tenant may come back
//   - anything else: 404
func ResolveTenant(cfg TenantConfig) func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	baseDomain := stripPort(cfg.BaseDomain)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := strings.TrimSpace(r.Header.Get(TenantHeader))
			if identifier == "" {
				identifier = extractSubdomain(stripPort(r.Host), baseDomain)
			}
			if identifier == "" {
				next.ServeHTTP(w, r)
				return
			}

			t, err := cfg.Resolver.ByIdentifier(r.Context(), identifier)
			if err != nil {
				if errors.Is(err, tenant.ErrTenantNotFound) {
					respondNotFound(w, r)
					return
				}
				logger.ErrorContext(r.Context(), "tenant resolution failed", "identifier", identifier, "error", err)
				respondInternalError(w, r, err)
				return
			}

			switch t.Status {
			case "active":
			case "suspended":
				respondUnavailable(w, r, "This store is temporarily unavailable")
				return
			default:
				respondNotFound(w, r)
				return
			}

			ctx := tenant.NewContext(r.Context(), t)
			telemetry.SetTenant(ctx, t.ID.String())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTenant is middleware that ensures a tenant is present in context.
// Apply it after ResolveTenant.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenant.FromContext(r.Context()) == nil {
			respondBadRequest(w, r, "tenant is required: set the "+TenantHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractSubdomain returns the single label in front of baseDomain.
//
//	extractSubdomain("acme.checkout.example.com", "checkout.example.com") -> "acme"
//	extractSubdomain("checkout.example.com", "checkout.example.com")      -> ""
//	extractSubdomain("a.acme.checkout.example.com", "checkout.example.com") -> ""
func extractSubdomain(host, baseDomain string) string {
	if baseDomain == "" {
		return ""
	}
	sub, ok := strings.CutSuffix(host, "."+baseDomain)
	if !ok || sub == "" || strings.Contains(sub, ".") {
		return ""
	}
	return sub
}

func stripPort(host string) string {
	if i := strings.LastIndex(host, ":"); i != -1 && !strings.Contains(host[i:], "]") {
		return host[:i]
	}
	return host
}
