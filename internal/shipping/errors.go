package shipping

import (
	"fmt"

	"github.com/dukerupert/kasse/internal/domain"
)

var (
	// ErrNoItems is returned when there is nothing to ship.
	ErrNoItems = &domain.Error{Code: domain.EINVALID, Message: "At least one item is required"}

	// ErrAddressInvalid is returned when the destination lacks a country or postal code.
	ErrAddressInvalid = &domain.Error{Code: domain.EINVALID, Message: "Destination address is incomplete"}

	// ErrUnknownMethod is returned when no configured service matches the method id.
	ErrUnknownMethod = &domain.Error{Code: domain.EINVALID, Message: "Unknown shipping method"}

	// ErrUnsupportedDestination is returned when a method does not ship to the country.
	ErrUnsupportedDestination = &domain.Error{Code: domain.EINVALID, Message: "Shipping method does not serve this destination"}

	// ErrCurrencyMismatch is returned when the carrier quotes in a different currency.
	ErrCurrencyMismatch = &domain.Error{Code: domain.EINVALID, Message: "Shipping quote currency does not match order currency"}

	// ErrNoRates is returned when the carrier returned no usable rates.
	ErrNoRates = &domain.Error{Code: domain.EPRICING, Message: "No shipping rates available"}

	// ErrMissingAPIKey is returned when the shipping provider API key is missing.
	ErrMissingAPIKey = &domain.Error{Code: domain.EINTERNAL, Message: "Shipping provider API key is required"}

	// ErrOriginRequired is returned when the carrier provider has no origin address.
	ErrOriginRequired = &domain.Error{Code: domain.EINTERNAL, Message: "Origin address is required"}
)

// ErrInvalidAmount creates an error for an unparseable carrier amount.
func ErrInvalidAmount(amount string, err error) error {
	return &domain.Error{
		Code:    domain.EPRICING,
		Message: fmt.Sprintf("Invalid rate amount %q", amount),
		Err:     err,
	}
}
