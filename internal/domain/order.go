package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order-related domain errors.
var (
	ErrOrderNotFound        = &Error{Code: ENOTFOUND, Message: "Order not found"}
	ErrOrderNotPending      = &Error{Code: ECONFLICT, Message: "Order is not awaiting payment"}
	ErrNegativeTotal        = &Error{Code: ECONFLICT, Message: "Order total cannot be negative"}
	ErrOrderNumberExhausted = &Error{Code: EINTERNAL, Message: "Could not allocate a unique order number"}
	ErrIllegalTransition    = &Error{Code: ECONFLICT, Message: "Order status cannot move backward"}
	ErrShippingAddress      = &Error{Code: EINVALID, Message: "Shipping address is incomplete"}
)

// OrderStatus is the fulfilment axis of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderShipped   OrderStatus = "shipped"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
	OrderRefunded  OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:   {OrderPaid, OrderCancelled},
	OrderPaid:      {OrderShipped, OrderCancelled, OrderRefunded},
	OrderShipped:   {OrderDelivered, OrderRefunded},
	OrderDelivered: {OrderRefunded},
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s OrderStatus) IsTerminal() bool {
	return len(orderTransitions[s]) == 0
}

// IsRefundable reports whether refunds may be requested in this status.
func (s OrderStatus) IsRefundable() bool {
	return s == OrderPaid || s == OrderShipped || s == OrderDelivered
}

// Address is a postal address snapshot.
type Address struct {
	FullName   string `json:"full_name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

// Validate checks the fields pricing collaborators depend on.
func (a Address) Validate() error {
	if a.Line1 == "" || a.City == "" || a.PostalCode == "" || len(a.Country) != 2 {
		return ErrShippingAddress
	}
	return nil
}

// Order is the aggregate root created once per successful checkout.
// Monetary fields are a snapshot and are never recalculated.
type Order struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	OrderNumber     string
	CartID          uuid.UUID
	UserID          *uuid.UUID
	GuestToken      string
	Email           string
	Status          OrderStatus
	Currency        string
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	Tax             decimal.Decimal
	Shipping        decimal.Decimal
	GrandTotal      decimal.Decimal
	CouponID        *uuid.UUID
	CampaignID      *uuid.UUID
	PaymentProvider string
	ShippingMethod  string
	ShippingAddress Address
	Items           []OrderItem
	Transactions    []PaymentTransaction
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem is a price and quantity snapshot of a cart line.
type OrderItem struct {
	ID         uuid.UUID
	ProductID  uuid.UUID
	VariantID  uuid.UUID
	CategoryID uuid.UUID
	SKU        string
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
	LineTotal  decimal.Decimal
}

// Item returns the order line with the given id.
func (o *Order) Item(id uuid.UUID) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.ID == id {
			return it, true
		}
	}
	return OrderItem{}, false
}

// HasTransaction reports whether the ledger already holds key.
func (o *Order) HasTransaction(key TransactionKey) bool {
	for _, t := range o.Transactions {
		if t.IdempotencyKey() == key {
			return true
		}
	}
	return false
}

// PaymentStatusFor folds the ledger rows of one provider reference.
func (o *Order) PaymentStatusFor(provider, reference string) PaymentStatus {
	var current PaymentStatus
	for _, t := range o.Transactions {
		if t.Provider == provider && t.ProviderReference == reference {
			current, _ = current.Advance(t.Status)
		}
	}
	return current
}

// CapturedTransaction returns the most recent captured ledger row.
func (o *Order) CapturedTransaction() (PaymentTransaction, bool) {
	for i := len(o.Transactions) - 1; i >= 0; i-- {
		if o.Transactions[i].Status == PaymentCaptured {
			return o.Transactions[i], true
		}
	}
	return PaymentTransaction{}, false
}

// LatestPaymentStatus mirrors the status of the last ledger row.
func (o *Order) LatestPaymentStatus() PaymentStatus {
	if len(o.Transactions) == 0 {
		return ""
	}
	return o.Transactions[len(o.Transactions)-1].Status
}
