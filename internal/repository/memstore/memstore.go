// Package memstore is an in-memory repository.Store used by service tests.
// InTx runs against a copy of the data and swaps it in on success, so a
// failed transaction leaves no trace.
package memstore

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/repository"
	"github.com/google/uuid"
)

// Store implements repository.Store.
type Store struct {
	mu  sync.Mutex
	d   *data
	now func() time.Time
}

// New returns an empty store using clock for cart expiry checks.
func New(clock func() time.Time) *Store {
	if clock == nil {
		clock = time.Now
	}
	return &Store{d: newData(clock), now: clock}
}

// stockKey scopes inventory to a tenant; variant ids are not trusted to be
// unique across tenants.
type stockKey struct {
	tenantID  uuid.UUID
	variantID uuid.UUID
}

type data struct {
	now       func() time.Time
	tenants   map[uuid.UUID]repository.Tenant
	carts     map[uuid.UUID]domain.Cart
	stock     map[stockKey]repository.StockLevel
	coupons   map[uuid.UUID]domain.Coupon
	campaigns map[uuid.UUID]domain.Campaign
	orders    map[uuid.UUID]domain.Order
	txns      map[uuid.UUID][]domain.PaymentTransaction
	refunds   map[uuid.UUID]domain.RefundRequest
	ordered   []uuid.UUID
}

func newData(clock func() time.Time) *data {
	return &data{
		now:       clock,
		tenants:   map[uuid.UUID]repository.Tenant{},
		carts:     map[uuid.UUID]domain.Cart{},
		stock:     map[stockKey]repository.StockLevel{},
		coupons:   map[uuid.UUID]domain.Coupon{},
		campaigns: map[uuid.UUID]domain.Campaign{},
		orders:    map[uuid.UUID]domain.Order{},
		txns:      map[uuid.UUID][]domain.PaymentTransaction{},
		refunds:   map[uuid.UUID]domain.RefundRequest{},
	}
}

func (d *data) clone() *data {
	c := &data{
		now:       d.now,
		tenants:   maps.Clone(d.tenants),
		carts:     maps.Clone(d.carts),
		stock:     maps.Clone(d.stock),
		coupons:   maps.Clone(d.coupons),
		campaigns: maps.Clone(d.campaigns),
		orders:    maps.Clone(d.orders),
		txns:      make(map[uuid.UUID][]domain.PaymentTransaction, len(d.txns)),
		refunds:   maps.Clone(d.refunds),
		ordered:   slices.Clone(d.ordered),
	}
	for k, v := range d.txns {
		c.txns[k] = slices.Clone(v)
	}
	return c
}

// InTx runs fn against a snapshot and commits it when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(q repository.Querier) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := s.d.clone()
	if err := fn(tx); err != nil {
		return err
	}
	s.d = tx
	return nil
}

// =============================================================================
// Seeding and inspection helpers
// =============================================================================

// AddTenant seeds a tenant.
func (s *Store) AddTenant(t repository.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.tenants[t.ID] = t
}

// AddCart seeds a cart with its items.
func (s *Store) AddCart(c domain.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.carts[c.ID] = c
}

// SetStock seeds an inventory row for a tenant.
func (s *Store) SetStock(tenantID uuid.UUID, level repository.StockLevel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.stock[stockKey{tenantID, level.VariantID}] = level
}

// AddCoupon seeds a coupon.
func (s *Store) AddCoupon(c domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.coupons[c.ID] = c
}

// AddCampaign seeds a campaign.
func (s *Store) AddCampaign(c domain.Campaign) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.campaigns[c.ID] = c
}

// AddOrder seeds an order together with its ledger.
func (s *Store) AddOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.txns[o.ID] = slices.Clone(o.Transactions)
	o.Transactions = nil
	s.d.orders[o.ID] = o
	s.d.ordered = append(s.d.ordered, o.ID)
}

// Orders returns every order of a tenant in insertion order.
func (s *Store) Orders(tenantID uuid.UUID) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, id := range s.d.ordered {
		if o := s.d.orders[id]; o.TenantID == tenantID {
			out = append(out, *s.d.withLedger(o))
		}
	}
	return out
}

// Transactions returns the ledger of an order.
func (s *Store) Transactions(orderID uuid.UUID) []domain.PaymentTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.d.txns[orderID])
}

// Stock returns a tenant's inventory row of a variant.
func (s *Store) Stock(tenantID, variantID uuid.UUID) repository.StockLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.stock[stockKey{tenantID, variantID}]
}

// Cart returns a seeded cart regardless of status.
func (s *Store) Cart(id uuid.UUID) domain.Cart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.carts[id]
}

// Coupon returns a seeded coupon.
func (s *Store) Coupon(id uuid.UUID) domain.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.coupons[id]
}

// =============================================================================
// repository.Querier (locked wrappers)
// =============================================================================

func (s *Store) GetTenantByIdentifier(ctx context.Context, identifier string) (repository.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GetTenantByIdentifier(ctx, identifier)
}

func (s *Store) GetTenantByID(ctx context.Context, id uuid.UUID) (repository.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GetTenantByID(ctx, id)
}

func (s *Store) GetCart(ctx context.Context, tenantID uuid.UUID, ref domain.CartRef) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GetCart(ctx, tenantID, ref)
}

func (s *Store) SetCartStatus(ctx context.Context, tenantID, cartID uuid.UUID, status domain.CartStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.SetCartStatus(ctx, tenantID, cartID, status)
}

func (s *Store) GetStockLevels(ctx context.Context, tenantID uuid.UUID, variantIDs []uuid.UUID) (map[uuid.UUID]repository.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GetStockLevels(ctx, tenantID, variantIDs)
}

func (s *Store) CommitStock(ctx context.Context, tenantID, variantID uuid.UUID, quantity int) (repository.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.CommitStock(ctx, tenantID, variantID, quantity)
}

func (s *Store) GetCouponByCode(ctx context.Context, tenantID uuid.UUID, code string) (*domain.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GetCouponByCode(ctx, tenantID, code)
}

func (s *Store) ListActiveCampaigns(ctx context.Context, tenantID uuid.UUID, at time.Time) ([]domain.Campaign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.ListActiveCampaigns(ctx, tenantID, at)
}

func (s *Store) IncrementCouponRedemption(ctx context.Context, tenantID, couponID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.IncrementCouponRedemption(ctx, tenantID, couponID)
}

func (s *Store) CreateOrder(ctx context.Context, order *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.CreateOrder(ctx, order)
}

func (s *Store) GetOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GetOrder(ctx, tenantID, orderID)
}

func (s *Store) LockOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.LockOrder(ctx, tenantID, orderID)
}

func (s *Store) UpdateOrderStatus(ctx context.Context, tenantID, orderID uuid.UUID, status domain.OrderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.UpdateOrderStatus(ctx, tenantID, orderID, status)
}

func (s *Store) AppendTransaction(ctx context.Context, txn *domain.PaymentTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.AppendTransaction(ctx, txn)
}

func (s *Store) FindOrderByProviderReference(ctx context.Context, tenantID uuid.UUID, provider, reference string) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.FindOrderByProviderReference(ctx, tenantID, provider, reference)
}

func (s *Store) CreateRefundRequest(ctx context.Context, r *domain.RefundRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.CreateRefundRequest(ctx, r)
}

func (s *Store) GetRefundRequest(ctx context.Context, tenantID, id uuid.UUID) (*domain.RefundRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.GetRefundRequest(ctx, tenantID, id)
}

func (s *Store) ListRefundRequests(ctx context.Context, tenantID, orderID uuid.UUID) ([]domain.RefundRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.ListRefundRequests(ctx, tenantID, orderID)
}

func (s *Store) UpdateRefundRequest(ctx context.Context, r *domain.RefundRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.UpdateRefundRequest(ctx, r)
}

var (
	_ repository.Store   = (*Store)(nil)
	_ repository.Querier = (*data)(nil)
)
