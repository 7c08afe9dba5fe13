package email

import "fmt"

// Error codes mirror the domain codes without importing domain.
const (
	codeNotFound = "not_found"
	codeInvalid  = "invalid"
)

// EmailError is an email-specific error with a code and message.
type EmailError struct {
	Code    string
	Message string
}

func (e *EmailError) Error() string {
	return e.Message
}

// ErrorCode returns the error code.
func (e *EmailError) ErrorCode() string {
	return e.Code
}

func newEmailError(code, message string) *EmailError {
	return &EmailError{Code: code, Message: message}
}

var (
	// ErrNoRecipient is returned for a notification without an email address.
	ErrNoRecipient = newEmailError(codeInvalid, "Notification has no recipient address")

	// ErrInvalidFromAddress is returned when the sender address is rejected.
	ErrInvalidFromAddress = newEmailError(codeInvalid, "Invalid from email address")
)

// ErrTemplateNotFound reports a notification kind with no template.
func ErrTemplateNotFound(kind string) error {
	return &EmailError{
		Code:    codeNotFound,
		Message: fmt.Sprintf("Email template for %s not found", kind),
	}
}
