package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CART DOMAIN ERRORS
// =============================================================================

var (
	ErrCartNotFound     = &Error{Code: ENOTFOUND, Message: "Cart not found"}
	ErrCartEmpty        = &Error{Code: EINVALID, Message: "Cart is empty"}
	ErrCartOwner        = &Error{Code: EINVALID, Message: "Cart must belong to exactly one of user or guest"}
	ErrCartRefRequired  = &Error{Code: EINVALID, Message: "Cart id, user id or guest token is required"}
	ErrInvalidQuantity  = &Error{Code: EINVALID, Message: "Quantity must be greater than 0"}
	ErrCurrencyMismatch = &Error{Code: EINVALID, Message: "Checkout currency does not match cart currency"}
)

// CartStatus tracks whether a cart can still be checked out.
type CartStatus string

const (
	CartActive    CartStatus = "active"
	CartConverted CartStatus = "converted"
	CartAbandoned CartStatus = "abandoned"
)

// CartRef identifies a cart by id, by owning user, or by guest token.
// Exactly one field is expected; CartID wins when several are set.
type CartRef struct {
	CartID     uuid.UUID
	UserID     uuid.UUID
	GuestToken string
}

// Validate ensures the reference names a cart.
func (r CartRef) Validate() error {
	if r.CartID == uuid.Nil && r.UserID == uuid.Nil && r.GuestToken == "" {
		return ErrCartRefRequired
	}
	return nil
}

// Cart is a tenant-scoped shopping cart owned by a user or a guest.
type Cart struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	UserID     *uuid.UUID
	GuestToken string
	Currency   string
	Status     CartStatus
	ExpiresAt  time.Time
	Items      []CartItem
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// CartItem is one line of a cart. UnitPrice is captured when the item was added.
type CartItem struct {
	ID         uuid.UUID
	ProductID  uuid.UUID
	VariantID  uuid.UUID
	CategoryID uuid.UUID
	SKU        string
	Name       string
	Quantity   int
	UnitPrice  decimal.Decimal
}

// LineTotal is recomputed on every read.
func (i CartItem) LineTotal() decimal.Decimal {
	return LineAmount(i.UnitPrice, i.Quantity)
}

// Subtotal sums the line totals of the cart.
func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// IsExpired reports whether the cart TTL has elapsed at now.
func (c *Cart) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// IsCheckoutable reports whether the cart is active and unexpired.
func (c *Cart) IsCheckoutable(now time.Time) bool {
	return c.Status == CartActive && !c.IsExpired(now)
}

// Validate checks ownership and line invariants.
func (c *Cart) Validate() error {
	hasUser := c.UserID != nil && *c.UserID != uuid.Nil
	hasGuest := c.GuestToken != ""
	if hasUser == hasGuest {
		return ErrCartOwner
	}
	for _, item := range c.Items {
		if item.Quantity < 1 {
			return ErrInvalidQuantity
		}
	}
	return nil
}
