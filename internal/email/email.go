// Package email renders customer notifications and delivers them over SMTP.
package email

import "context"

// Email represents an email message to be sent.
type Email struct {
	To       []string          // Recipient email addresses
	From     string            // Sender, "Name <addr>" or a bare address
	Subject  string            // Email subject
	TextBody string            // Plain text body
	HTMLBody string            // HTML body (optional)
	Headers  map[string]string // Custom headers (optional)
}

// Sender delivers a rendered message and returns the provider's message id
// when one is available.
type Sender interface {
	Send(ctx context.Context, email *Email) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, email *Email) (string, error)

func (f SenderFunc) Send(ctx context.Context, email *Email) (string, error) { return f(ctx, email) }
