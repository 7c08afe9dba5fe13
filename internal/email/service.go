package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"

	"github.com/dukerupert/kasse/internal/notify"
)

// Service renders notifications into emails and hands them to a Sender.
type Service struct {
	sender      Sender
	fromAddress string
	fromName    string
	templates   map[string]*template.Template
	logger      *slog.Logger
}

// NewService creates an email service using the embedded templates.
func NewService(sender Sender, fromAddress, fromName string, logger *slog.Logger) (*Service, error) {
	if !strings.Contains(fromAddress, "@") {
		return nil, ErrInvalidFromAddress
	}
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sender:      sender,
		fromAddress: fromAddress,
		fromName:    fromName,
		templates:   tmpl,
		logger:      logger,
	}, nil
}

// Render builds the email for n.
func (s *Service) Render(n notify.Notification) (*Email, error) {
	if n.Email == "" {
		return nil, ErrNoRecipient
	}
	tmpl, ok := s.templates[n.Kind]
	if !ok {
		return nil, ErrTemplateNotFound(n.Kind)
	}

	data := newMessageData(n)
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "email_layout", data); err != nil {
		return nil, fmt.Errorf("failed to execute template for %s: %w", n.Kind, err)
	}
	html := buf.String()

	from := s.fromAddress
	if s.fromName != "" {
		from = fmt.Sprintf("%s <%s>", s.fromName, s.fromAddress)
	}
	return &Email{
		To:       []string{n.Email},
		From:     from,
		Subject:  data.Subject(),
		HTMLBody: html,
		TextBody: generatePlainText(html),
		Headers: map[string]string{
			"X-Kasse-Notification": n.ID.String(),
		},
	}, nil
}

// Deliver renders and sends n. Notifications without a recipient are
// skipped, not failed.
func (s *Service) Deliver(ctx context.Context, n notify.Notification) error {
	msg, err := s.Render(n)
	if errors.Is(err, ErrNoRecipient) {
		s.logger.Info("notification has no recipient, skipping",
			"kind", n.Kind, "tenant_id", n.TenantID, "order_id", n.OrderID)
		return nil
	}
	if err != nil {
		return err
	}

	id, err := s.sender.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send %s email: %w", n.Kind, err)
	}
	s.logger.Info("notification email sent",
		"kind", n.Kind, "tenant_id", n.TenantID, "order_id", n.OrderID, "message_id", id)
	return nil
}

// generatePlainText creates a simple plain text version from HTML
func generatePlainText(html string) string {
	text := html

	text = strings.ReplaceAll(text, "<br>", "\n")
	text = strings.ReplaceAll(text, "<br/>", "\n")
	text = strings.ReplaceAll(text, "<br />", "\n")
	text = strings.ReplaceAll(text, "</p>", "\n\n")
	text = strings.ReplaceAll(text, "</div>", "\n")
	text = strings.ReplaceAll(text, "</h1>", "\n\n")
	text = strings.ReplaceAll(text, "</h2>", "\n\n")
	text = strings.ReplaceAll(text, "</h3>", "\n\n")

	for strings.Contains(text, "<") && strings.Contains(text, ">") {
		start := strings.Index(text, "<")
		end := strings.Index(text, ">")
		if start >= 0 && end > start {
			text = text[:start] + text[end+1:]
		} else {
			break
		}
	}

	text = strings.ReplaceAll(text, "&nbsp;", " ")
	text = strings.ReplaceAll(text, "&amp;", "&")
	text = strings.ReplaceAll(text, "&lt;", "<")
	text = strings.ReplaceAll(text, "&gt;", ">")
	text = strings.ReplaceAll(text, "&quot;", "\"")

	lines := strings.Split(text, "\n")
	var cleaned []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}

	return strings.Join(cleaned, "\n")
}
