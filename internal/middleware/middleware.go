// Package middleware provides the HTTP middleware shared by the API, admin
// and webhook surfaces.
package middleware

import (
	"net/http"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/handler"
)

type contextKey string

// Middleware responses use the same {"error":{...}} envelope as handlers so
// clients parse one shape.

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	if id := GetRequestID(r.Context()); id != "" {
		w.Header().Set(RequestIDHeader, id)
	}
	handler.ErrorResponse(w, r, err)
}

func respondNotFound(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found"))
}

func respondUnauthorized(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
	respondWithError(w, r, domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required"))
}

func respondInternalError(w http.ResponseWriter, r *http.Request, err error) {
	respondWithError(w, r, domain.Internal(err, "", "An unexpected error occurred"))
}

func respondTooManyRequests(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "1")
	respondWithError(w, r, domain.Errorf(domain.ERATELIMIT, "", "Too many requests"))
}

func respondBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	respondWithError(w, r, domain.Errorf(domain.EINVALID, "", "%s", message))
}

func respondTooLarge(w http.ResponseWriter, r *http.Request) {
	respondWithError(w, r, domain.Errorf(domain.ETOOLARGE, "", "Request body too large"))
}

func respondUnavailable(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Retry-After", "3600")
	respondWithError(w, r, domain.Errorf(domain.EUNAVAILABLE, "", "%s", message))
}
