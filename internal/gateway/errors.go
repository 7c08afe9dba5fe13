package gateway

import (
	"errors"

	"github.com/dukerupert/kasse/internal/domain"
)

var (
	// ErrUnauthorized never says whether the signature was missing or wrong.
	ErrUnauthorized = &domain.Error{Code: domain.EUNAUTHORIZED, Message: "Webhook signature verification failed"}

	ErrUnknownStatus    = &domain.Error{Code: domain.EINVALID, Message: "Unrecognized provider payment status"}
	ErrMalformedPayload = &domain.Error{Code: domain.EINVALID, Message: "Webhook payload could not be parsed"}
	ErrNotConfigured    = &domain.Error{Code: domain.EINTERNAL, Message: "Payment provider is not configured for this tenant"}
	ErrNoConversionRate = &domain.Error{Code: domain.EINTERNAL, Message: "No conversion rate for order currency"}
	ErrBreakerOpen      = &domain.Error{Code: domain.EGATEWAY, Message: "Payment provider is temporarily unavailable"}
	ErrTimeout          = &domain.Error{Code: domain.EGATEWAY, Message: "Payment provider did not respond in time"}

	errDuplicateGateway = errors.New("gateway already registered")
)

// failure wraps a provider error as a retryable GatewayFailure unless it
// already carries a domain code.
func failure(err error, op, message string) error {
	var de *domain.Error
	if errors.As(err, &de) {
		return domain.WithOp(err, op)
	}
	return domain.GatewayFailure(err, op, message)
}
