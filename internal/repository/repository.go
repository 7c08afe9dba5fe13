// Package repository defines the persistence contract the checkout core runs
// against. internal/postgres implements it on pgx; memstore implements it in
// memory for tests.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a row does not exist for the tenant.
	ErrNotFound = errors.New("repository: not found")

	// ErrDuplicateOrderNumber is returned when (tenant, order number) collides.
	ErrDuplicateOrderNumber = errors.New("repository: duplicate order number")

	// ErrDuplicateTransaction is returned when (tenant, provider, reference,
	// status) already exists in the ledger.
	ErrDuplicateTransaction = errors.New("repository: duplicate payment transaction")
)

// Tenant is a tenant row.
type Tenant struct {
	ID         uuid.UUID
	Identifier string
	Name       string
	Status     string
}

// StockLevel is the inventory row of one variant.
type StockLevel struct {
	VariantID uuid.UUID
	OnHand    int
	Reserved  int
}

// Available returns on hand minus reserved, never below zero.
func (s StockLevel) Available() int {
	if a := s.OnHand - s.Reserved; a > 0 {
		return a
	}
	return 0
}

// Querier is every query the core issues. All methods except tenant lookups
// take the tenant id explicitly.
type Querier interface {
	GetTenantByIdentifier(ctx context.Context, identifier string) (Tenant, error)
	GetTenantByID(ctx context.Context, id uuid.UUID) (Tenant, error)

	// GetCart returns the active cart named by ref, with items.
	GetCart(ctx context.Context, tenantID uuid.UUID, ref domain.CartRef) (*domain.Cart, error)
	// SetCartStatus returns ErrNotFound when converting a cart that is no
	// longer active.
	SetCartStatus(ctx context.Context, tenantID, cartID uuid.UUID, status domain.CartStatus) error

	// GetStockLevels returns a row per known variant; unknown variants are
	// absent from the map.
	GetStockLevels(ctx context.Context, tenantID uuid.UUID, variantIDs []uuid.UUID) (map[uuid.UUID]StockLevel, error)
	// CommitStock decrements on hand for a captured order line and returns the
	// level after the decrement.
	CommitStock(ctx context.Context, tenantID, variantID uuid.UUID, quantity int) (StockLevel, error)

	// GetCouponByCode matches code exactly (case-sensitive).
	GetCouponByCode(ctx context.Context, tenantID uuid.UUID, code string) (*domain.Coupon, error)
	ListActiveCampaigns(ctx context.Context, tenantID uuid.UUID, at time.Time) ([]domain.Campaign, error)
	IncrementCouponRedemption(ctx context.Context, tenantID, couponID uuid.UUID) error

	// CreateOrder inserts the order and its items.
	CreateOrder(ctx context.Context, order *domain.Order) error
	// GetOrder loads the order with items and ledger.
	GetOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*domain.Order, error)
	// LockOrder is GetOrder with a row lock held until the transaction ends.
	LockOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, tenantID, orderID uuid.UUID, status domain.OrderStatus) error
	AppendTransaction(ctx context.Context, txn *domain.PaymentTransaction) error
	FindOrderByProviderReference(ctx context.Context, tenantID uuid.UUID, provider, reference string) (uuid.UUID, error)

	CreateRefundRequest(ctx context.Context, r *domain.RefundRequest) error
	GetRefundRequest(ctx context.Context, tenantID, id uuid.UUID) (*domain.RefundRequest, error)
	ListRefundRequests(ctx context.Context, tenantID, orderID uuid.UUID) ([]domain.RefundRequest, error)
	UpdateRefundRequest(ctx context.Context, r *domain.RefundRequest) error
}

// Store is a Querier that can run a function inside one short transaction.
// fn must not perform network calls to payment providers.
type Store interface {
	Querier
	InTx(ctx context.Context, fn func(q Querier) error) error
}
