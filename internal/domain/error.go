package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Application error codes.
// Each code maps to one HTTP status in the handler package.
const (
	EINVALID      = "invalid"             // 400 - Request shape or business input rejected
	EUNAUTHORIZED = "unauthorized"        // 401 - Missing or bad webhook signature
	ENOTFOUND     = "not_found"           // 404 - Cart, order, coupon or refund absent
	ECONFLICT     = "conflict"            // 409 - State conflict (backward transition, refund overrun)
	ESTOCK        = "insufficient_stock"  // 409 - A cart line exceeds available inventory
	EINTERNAL     = "internal"            // 500 - Internal server error (hide details)
	EPROVIDER     = "unknown_provider"    // 500 - Provider key not registered (configuration)
	EGATEWAY      = "gateway_failure"     // 502 - Payment provider failed, safe to retry
	EPRICING      = "pricing_unavailable" // 503 - Tax or shipping collaborator failed

	// Transport-level codes raised by HTTP middleware.
	ETOOLARGE    = "too_large"    // 413 - Request body over the limit
	ERATELIMIT   = "rate_limited" // 429 - Client exceeded its request budget
	EUNAVAILABLE = "unavailable"  // 503 - Tenant suspended or dependency down
)

const internalMessage = "An internal error occurred. Please try again later."

// Error represents an application error with a code and message.
// It implements the error interface and supports error wrapping.
type Error struct {
	// Code is a machine-readable error code (e.g., EINVALID, ENOTFOUND).
	Code string

	// Message is a human-readable error message safe to show to users.
	Message string

	// Op is the operation where the error occurred (e.g., "checkout.resolve_cart").
	// Used for logging, not shown to users.
	Op string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches two domain errors by code and message so that package-level
// sentinels can be compared after being re-wrapped with an Op.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Message == e.Message
}

// ErrorCode extracts the error code from an error.
// Returns EINTERNAL for non-domain errors and "" for nil.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if IsValidationError(err) {
		return EINVALID
	}

	return EINTERNAL
}

// ErrorMessage extracts a user-facing message from an error.
// Internal and configuration errors return a generic message.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Code == EINTERNAL || e.Code == EPROVIDER {
			return internalMessage
		}
		return e.Message
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return "Validation failed"
	}

	return internalMessage
}

// ErrorOp extracts the operation from an error (for logging).
func ErrorOp(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// Errorf creates a new domain error with a formatted message.
func Errorf(code, op, format string, args ...any) error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}

// WrapError wraps an existing error with a domain code and operation.
// Returns nil if err is nil.
func WrapError(err error, code, op, message string) error {
	if err == nil {
		return nil
	}
	return &Error{
		Code:    code,
		Op:      op,
		Message: message,
		Err:     err,
	}
}

// WithOp returns a copy of a domain error annotated with op. Non-domain errors
// are returned unchanged.
func WithOp(err error, op string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	cp := *e
	if cp.Op == "" {
		cp.Op = op
	}
	return &cp
}

// IsCode returns true if err has the given error code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// IsRetryable reports whether the caller may safely retry the operation.
func IsRetryable(err error) bool {
	switch ErrorCode(err) {
	case EGATEWAY, EPRICING:
		return true
	}
	return false
}

// =============================================================================
// Validation Errors (field-level errors for request bodies)
// =============================================================================

// ValidationError represents one or more field validation failures.
type ValidationError struct {
	// Fields maps field names to error messages.
	Fields map[string]string

	// Op is the operation where validation failed.
	Op string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		for field, msg := range e.Fields {
			if e.Op != "" {
				return fmt.Sprintf("%s: %s: %s", e.Op, field, msg)
			}
			return fmt.Sprintf("%s: %s", field, msg)
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: validation failed for %d fields", e.Op, len(e.Fields))
	}
	return fmt.Sprintf("validation failed for %d fields", len(e.Fields))
}

// NewValidationError creates a validation error for a single field.
func NewValidationError(op, field, message string) error {
	return &ValidationError{
		Op:     op,
		Fields: map[string]string{field: message},
	}
}

// AddFieldError adds a field error to an existing ValidationError.
// If err is nil or not a ValidationError, a new one is created.
func AddFieldError(err error, field, message string) error {
	var ve *ValidationError
	if err != nil && errors.As(err, &ve) {
		ve.Fields[field] = message
		return ve
	}

	return &ValidationError{
		Fields: map[string]string{field: message},
	}
}

// IsValidationError returns true if err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GetValidationFields extracts field errors from a ValidationError.
func GetValidationFields(err error) map[string]string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return nil
}

// =============================================================================
// Stock errors
// =============================================================================

// StockShortage names one cart line that cannot be fulfilled.
type StockShortage struct {
	VariantID string `json:"variant_id"`
	SKU       string `json:"sku"`
	Requested int    `json:"requested"`
	Available int    `json:"available"`
}

// StockShortageError lists every short line found during a stock check.
type StockShortageError struct {
	Items []StockShortage
}

func (e *StockShortageError) Error() string {
	parts := make([]string, len(e.Items))
	for i, s := range e.Items {
		parts[i] = fmt.Sprintf("%s (requested %d, available %d)", s.SKU, s.Requested, s.Available)
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

// InsufficientStock builds an ESTOCK error whose message names the first short
// line. The full list is reachable with errors.As(*StockShortageError).
func InsufficientStock(op string, items []StockShortage) error {
	msg := "Insufficient stock"
	if len(items) > 0 {
		first := items[0]
		msg = fmt.Sprintf("Insufficient stock for %s: requested %d, available %d", first.SKU, first.Requested, first.Available)
	}
	return &Error{
		Code:    ESTOCK,
		Op:      op,
		Message: msg,
		Err:     &StockShortageError{Items: items},
	}
}

// StockShortages returns the shortage list carried by err, if any.
func StockShortages(err error) []StockShortage {
	var se *StockShortageError
	if errors.As(err, &se) {
		return se.Items
	}
	return nil
}

// =============================================================================
// Multi-tenant errors
// =============================================================================

var (
	// ErrTenantRequired indicates a core call was made without a tenant.
	ErrTenantRequired = &Error{
		Code:    EINVALID,
		Message: "Tenant is required",
	}

	// ErrTenantMismatch indicates an attempt to touch another tenant's record.
	ErrTenantMismatch = &Error{
		Code:    ENOTFOUND,
		Message: "Resource not found",
	}
)

// =============================================================================
// Common errors (convenience)
// =============================================================================

// NotFound creates a not found error for a resource.
// Example: domain.NotFound("checkout.resolve_cart", "cart", cartID.String())
func NotFound(op, resource, identifier string) error {
	return &Error{
		Code:    ENOTFOUND,
		Op:      op,
		Message: fmt.Sprintf("%s not found: %s", resource, identifier),
	}
}

// Unauthorized creates an unauthorized error.
func Unauthorized(op, message string) error {
	return &Error{Code: EUNAUTHORIZED, Op: op, Message: message}
}

// Invalid creates a validation error for a single issue.
func Invalid(op, message string) error {
	return &Error{Code: EINVALID, Op: op, Message: message}
}

// Conflict creates a state conflict error.
// Example: domain.Conflict("refund.approve", "amount exceeds refundable balance")
func Conflict(op, message string) error {
	return &Error{Code: ECONFLICT, Op: op, Message: message}
}

// PricingUnavailable wraps a tax or shipping collaborator failure.
func PricingUnavailable(err error, op, message string) error {
	return &Error{Code: EPRICING, Op: op, Message: message, Err: err}
}

// GatewayFailure wraps a transient payment provider failure.
func GatewayFailure(err error, op, message string) error {
	return &Error{Code: EGATEWAY, Op: op, Message: message, Err: err}
}

// UnknownProvider reports a provider key with no registered gateway.
func UnknownProvider(op, provider string) error {
	return &Error{
		Code:    EPROVIDER,
		Op:      op,
		Message: fmt.Sprintf("unknown payment provider %q", provider),
	}
}

// Internal creates an internal error (wraps underlying error).
// The message shown to users will be generic.
func Internal(err error, op, message string) error {
	return &Error{Code: EINTERNAL, Op: op, Message: message, Err: err}
}
