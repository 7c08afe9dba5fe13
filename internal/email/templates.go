package email

import (
	"embed"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/dukerupert/kasse/internal/notify"
)

//go:embed templates/*.html
var templateFS embed.FS

// templateFiles maps a notification kind to its body template.
var templateFiles = map[string]string{
	notify.KindOrderPaid:       "templates/order_paid.html",
	notify.KindPaymentFailed:   "templates/payment_failed.html",
	notify.KindRefundProcessed: "templates/refund_processed.html",
}

// parseTemplates builds one template set per kind, each sharing the layout.
func parseTemplates() (map[string]*template.Template, error) {
	out := make(map[string]*template.Template, len(templateFiles))
	for kind, file := range templateFiles {
		t, err := template.New("email_layout").ParseFS(templateFS, "templates/layout.html", file)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", file, err)
		}
		out[kind] = t
	}
	return out, nil
}

// MessageData is what every template sees.
type MessageData struct {
	Kind        string
	OrderNumber string
	Amount      string
	Currency    string
	Provider    string
	Reference   string
	OccurredAt  time.Time
}

func newMessageData(n notify.Notification) MessageData {
	return MessageData{
		Kind:        n.Kind,
		OrderNumber: n.OrderNumber,
		Amount:      n.Amount.StringFixed(2),
		Currency:    strings.ToUpper(n.Currency),
		Provider:    n.Provider,
		Reference:   n.Reference,
		OccurredAt:  n.OccurredAt,
	}
}

// Subject returns the subject line for the message.
func (d MessageData) Subject() string {
	switch d.Kind {
	case notify.KindOrderPaid:
		return "Payment received - Order " + d.OrderNumber
	case notify.KindPaymentFailed:
		return "Payment failed - Order " + d.OrderNumber
	case notify.KindRefundProcessed:
		return "Refund issued - Order " + d.OrderNumber
	}
	return "Order " + d.OrderNumber
}
