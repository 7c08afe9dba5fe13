package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "message only",
			err:      &Error{Code: EINVALID, Message: "cart is empty"},
			expected: "cart is empty",
		},
		{
			name:     "with operation",
			err:      &Error{Code: EINVALID, Op: "checkout.resolve_cart", Message: "cart is empty"},
			expected: "checkout.resolve_cart: cart is empty",
		},
		{
			name: "with wrapped error",
			err: &Error{
				Code:    EINTERNAL,
				Op:      "checkout.persist_order",
				Message: "failed to save order",
				Err:     errors.New("connection reset"),
			},
			expected: "checkout.persist_order: failed to save order: connection reset",
		},
		{
			name: "wrapped error without op",
			err: &Error{
				Code:    EINTERNAL,
				Message: "failed to save order",
				Err:     errors.New("connection reset"),
			},
			expected: "failed to save order: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &Error{Code: EGATEWAY, Message: "wrapped", Err: underlying}

	if unwrapped := err.Unwrap(); unwrapped != underlying {
		t.Errorf("Error.Unwrap() = %v, want %v", unwrapped, underlying)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is should find underlying error")
	}
}

func TestError_IsMatchesSentinelAfterWithOp(t *testing.T) {
	sentinel := &Error{Code: ENOTFOUND, Message: "Order not found"}
	err := WithOp(sentinel, "refund.submit")

	if !errors.Is(err, sentinel) {
		t.Error("errors.Is should match sentinel copy carrying an op")
	}
	if ErrorOp(err) != "refund.submit" {
		t.Errorf("ErrorOp() = %q, want %q", ErrorOp(err), "refund.submit")
	}
	if sentinel.Op != "" {
		t.Error("WithOp must not mutate the sentinel")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "domain error", err: &Error{Code: EINVALID, Message: "test"}, expected: EINVALID},
		{
			name:     "wrapped domain error",
			err:      fmt.Errorf("wrapped: %w", &Error{Code: ENOTFOUND, Message: "test"}),
			expected: ENOTFOUND,
		},
		{name: "validation error", err: NewValidationError("op", "currency", "required"), expected: EINVALID},
		{name: "non-domain error", err: errors.New("some error"), expected: EINTERNAL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.expected {
				t.Errorf("ErrorCode() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{name: "nil error", err: nil, expected: ""},
		{name: "domain error with message", err: &Error{Code: EINVALID, Message: "cart is empty"}, expected: "cart is empty"},
		{
			name:     "internal error hides message",
			err:      &Error{Code: EINTERNAL, Message: "database connection string leaked"},
			expected: internalMessage,
		},
		{
			name:     "unknown provider hides configuration",
			err:      UnknownProvider("gateway.lookup", "paypal"),
			expected: internalMessage,
		},
		{
			name:     "non-domain error returns generic message",
			err:      errors.New("some internal detail"),
			expected: internalMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorMessage(tt.err); got != tt.expected {
				t.Errorf("ErrorMessage() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestWrapError(t *testing.T) {
	t.Run("wraps non-nil error", func(t *testing.T) {
		underlying := errors.New("db error")
		err := WrapError(underlying, EINTERNAL, "order.save", "failed to save order")

		var domainErr *Error
		if !errors.As(err, &domainErr) {
			t.Fatal("WrapError should return *Error")
		}
		if domainErr.Code != EINTERNAL {
			t.Errorf("Code = %q, want %q", domainErr.Code, EINTERNAL)
		}
		if !errors.Is(err, underlying) {
			t.Error("should wrap underlying error")
		}
	})

	t.Run("returns nil for nil error", func(t *testing.T) {
		if err := WrapError(nil, EINTERNAL, "test", "test"); err != nil {
			t.Errorf("WrapError(nil) should return nil, got %v", err)
		}
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err      error
		expected bool
	}{
		{GatewayFailure(errors.New("timeout"), "gateway.pay", "provider unavailable"), true},
		{PricingUnavailable(errors.New("503"), "checkout.tax", "tax unavailable"), true},
		{Conflict("refund.approve", "exceeds balance"), false},
		{UnknownProvider("gateway.lookup", "x"), false},
		{Unauthorized("webhook.verify", "invalid signature"), false},
	}

	for _, tt := range tests {
		t.Run(ErrorCode(tt.err), func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestValidationError(t *testing.T) {
	t.Run("single field error", func(t *testing.T) {
		err := NewValidationError("checkout.validate", "currency", "currency is required")

		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatal("NewValidationError should return *ValidationError")
		}
		expected := "checkout.validate: currency: currency is required"
		if ve.Error() != expected {
			t.Errorf("Error() = %q, want %q", ve.Error(), expected)
		}
	})

	t.Run("multiple field errors", func(t *testing.T) {
		err := NewValidationError("checkout.validate", "currency", "required")
		err = AddFieldError(err, "payment_provider", "required")

		if fields := GetValidationFields(err); len(fields) != 2 {
			t.Errorf("Fields count = %d, want 2", len(fields))
		}
	})

	t.Run("add field to nil", func(t *testing.T) {
		err := AddFieldError(nil, "currency", "required")
		if !IsValidationError(err) {
			t.Fatal("AddFieldError(nil) should return *ValidationError")
		}
	})

	t.Run("non-validation error has no fields", func(t *testing.T) {
		if fields := GetValidationFields(errors.New("test")); fields != nil {
			t.Error("GetValidationFields should return nil for non-validation error")
		}
	})
}

func TestInsufficientStock(t *testing.T) {
	items := []StockShortage{
		{VariantID: "v1", SKU: "BEAN-ETH-250", Requested: 2, Available: 0},
		{VariantID: "v2", SKU: "BEAN-COL-1KG", Requested: 5, Available: 3},
	}
	err := InsufficientStock("checkout.check_stock", items)

	if ErrorCode(err) != ESTOCK {
		t.Errorf("code = %q, want %q", ErrorCode(err), ESTOCK)
	}
	want := "Insufficient stock for BEAN-ETH-250: requested 2, available 0"
	if ErrorMessage(err) != want {
		t.Errorf("message = %q, want %q", ErrorMessage(err), want)
	}
	if got := StockShortages(err); len(got) != 2 || got[1].SKU != "BEAN-COL-1KG" {
		t.Errorf("StockShortages() = %+v", got)
	}
	if StockShortages(errors.New("x")) != nil {
		t.Error("StockShortages should be nil for unrelated errors")
	}
}

func TestConvenienceFunctions(t *testing.T) {
	cases := map[string]struct {
		err  error
		code string
	}{
		"NotFound":           {NotFound("order.get", "order", "abc"), ENOTFOUND},
		"Unauthorized":       {Unauthorized("webhook.verify", "invalid signature"), EUNAUTHORIZED},
		"Invalid":            {Invalid("checkout.validate", "bad currency"), EINVALID},
		"Conflict":           {Conflict("refund.approve", "too much"), ECONFLICT},
		"PricingUnavailable": {PricingUnavailable(nil, "checkout.tax", "tax down"), EPRICING},
		"GatewayFailure":     {GatewayFailure(nil, "gateway.pay", "provider down"), EGATEWAY},
		"UnknownProvider":    {UnknownProvider("gateway.lookup", "paypal"), EPROVIDER},
		"Internal":           {Internal(errors.New("db"), "order.save", "failed"), EINTERNAL},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if ErrorCode(tc.err) != tc.code {
				t.Errorf("%s code = %q, want %q", name, ErrorCode(tc.err), tc.code)
			}
		})
	}
}
