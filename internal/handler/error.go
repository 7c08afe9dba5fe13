package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/telemetry"
	"github.com/dukerupert/kasse/internal/tenant"
)

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized
	case domain.ENOTFOUND:
		return http.StatusNotFound
	case domain.ECONFLICT, domain.ESTOCK:
		return http.StatusConflict
	case domain.EGATEWAY:
		return http.StatusBadGateway
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests
	case domain.EPRICING, domain.EUNAVAILABLE:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Fields  map[string]string      `json:"fields,omitempty"`
	Items   []domain.StockShortage `json:"items,omitempty"`
}

// ErrorResponse writes err as {"error":{...}} with the status its code maps
// to. Server-side failures are logged and reported to Sentry; their details
// never reach the client.
func ErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponseWith(w, r, err, nil)
}

// ErrorResponseWith is ErrorResponse with extra top-level members, used when
// a failed call still produced a resource the client needs (a pending order
// whose payment could not start).
func ErrorResponseWith(w http.ResponseWriter, r *http.Request, err error, extra map[string]any) {
	code := domain.ErrorCode(err)
	status := ErrorCodeToHTTPStatus(code)

	if status >= http.StatusInternalServerError {
		attrs := []any{
			"code", code,
			"op", domain.ErrorOp(err),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		}
		switch code {
		case domain.EPROVIDER:
			slog.ErrorContext(r.Context(), "payment provider misconfigured", attrs...)
		case domain.EGATEWAY, domain.EPRICING, domain.EUNAVAILABLE:
			slog.WarnContext(r.Context(), "upstream dependency failed", attrs...)
		default:
			slog.ErrorContext(r.Context(), "request failed", attrs...)
		}
		if code == domain.EINTERNAL || code == domain.EPROVIDER {
			extras := map[string]any{"op": domain.ErrorOp(err), "path": r.URL.Path}
			if t := tenant.FromContext(r.Context()); t != nil {
				telemetry.CaptureErrorWithTenant(err, t.ID.String(), extras)
			} else {
				telemetry.CaptureErrorFromContext(r.Context(), err, extras)
			}
		}
	}

	body := errorBody{
		Code:    code,
		Message: domain.ErrorMessage(err),
		Fields:  domain.GetValidationFields(err),
		Items:   domain.StockShortages(err),
	}
	out := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		out[k] = v
	}
	out["error"] = body
	WriteJSON(w, status, out)
}

// NotFoundResponse sends a 404 for unmatched routes.
func NotFoundResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.ENOTFOUND, "", "Resource not found"))
}

// UnauthorizedResponse sends a 401.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request) {
	ErrorResponse(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
}

// InternalErrorResponse sends a 500, wrapping err so it is logged.
func InternalErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	ErrorResponse(w, r, domain.Internal(err, "", "internal error"))
}

// WriteJSON encodes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
