package memstore

import (
	"context"
	"slices"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/repository"
	"github.com/google/uuid"
)

func (d *data) GetTenantByIdentifier(_ context.Context, identifier string) (repository.Tenant, error) {
	for _, t := range d.tenants {
		if t.Identifier == identifier {
			return t, nil
		}
	}
	return repository.Tenant{}, repository.ErrNotFound
}

func (d *data) GetTenantByID(_ context.Context, id uuid.UUID) (repository.Tenant, error) {
	t, ok := d.tenants[id]
	if !ok {
		return repository.Tenant{}, repository.ErrNotFound
	}
	return t, nil
}

func (d *data) GetCart(_ context.Context, tenantID uuid.UUID, ref domain.CartRef) (*domain.Cart, error) {
	now := d.now()
	match := func(c domain.Cart) bool {
		switch {
		case ref.CartID != uuid.Nil:
			return c.ID == ref.CartID
		case ref.UserID != uuid.Nil:
			return c.UserID != nil && *c.UserID == ref.UserID
		default:
			return c.GuestToken == ref.GuestToken
		}
	}
	for _, c := range d.carts {
		if c.TenantID != tenantID || !match(c) || !c.IsCheckoutable(now) {
			continue
		}
		cp := c
		cp.Items = slices.Clone(c.Items)
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (d *data) SetCartStatus(_ context.Context, tenantID, cartID uuid.UUID, status domain.CartStatus) error {
	c, ok := d.carts[cartID]
	if !ok || c.TenantID != tenantID {
		return repository.ErrNotFound
	}
	if status == domain.CartConverted && c.Status != domain.CartActive {
		return repository.ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = d.now()
	d.carts[cartID] = c
	return nil
}

func (d *data) GetStockLevels(_ context.Context, tenantID uuid.UUID, variantIDs []uuid.UUID) (map[uuid.UUID]repository.StockLevel, error) {
	out := make(map[uuid.UUID]repository.StockLevel, len(variantIDs))
	for _, id := range variantIDs {
		if lvl, ok := d.stock[stockKey{tenantID, id}]; ok {
			out[id] = lvl
		}
	}
	return out, nil
}

func (d *data) CommitStock(_ context.Context, tenantID uuid.UUID, variantID uuid.UUID, quantity int) (repository.StockLevel, error) {
	key := stockKey{tenantID, variantID}
	lvl, ok := d.stock[key]
	if !ok {
		return repository.StockLevel{}, repository.ErrNotFound
	}
	lvl.OnHand -= quantity
	d.stock[key] = lvl
	return lvl, nil
}

func (d *data) GetCouponByCode(_ context.Context, tenantID uuid.UUID, code string) (*domain.Coupon, error) {
	for _, c := range d.coupons {
		if c.TenantID == tenantID && c.Code == code {
			cp := c
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (d *data) ListActiveCampaigns(_ context.Context, tenantID uuid.UUID, at time.Time) ([]domain.Campaign, error) {
	var out []domain.Campaign
	for _, c := range d.campaigns {
		if c.TenantID == tenantID && c.Active && c.RunningAt(at) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b domain.Campaign) int { return a.StartsAt.Compare(b.StartsAt) })
	return out, nil
}

func (d *data) IncrementCouponRedemption(_ context.Context, tenantID, couponID uuid.UUID) error {
	c, ok := d.coupons[couponID]
	if !ok || c.TenantID != tenantID {
		return repository.ErrNotFound
	}
	c.RedemptionCount++
	d.coupons[couponID] = c
	return nil
}

func (d *data) CreateOrder(_ context.Context, order *domain.Order) error {
	for _, o := range d.orders {
		if o.TenantID == order.TenantID && o.OrderNumber == order.OrderNumber {
			return repository.ErrDuplicateOrderNumber
		}
	}
	now := d.now()
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
	}
	order.CreatedAt, order.UpdatedAt = now, now

	stored := *order
	stored.Items = slices.Clone(order.Items)
	stored.Transactions = nil
	d.orders[order.ID] = stored
	d.ordered = append(d.ordered, order.ID)
	return nil
}

func (d *data) withLedger(o domain.Order) *domain.Order {
	o.Items = slices.Clone(o.Items)
	o.Transactions = slices.Clone(d.txns[o.ID])
	return &o
}

func (d *data) GetOrder(_ context.Context, tenantID, orderID uuid.UUID) (*domain.Order, error) {
	o, ok := d.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return d.withLedger(o), nil
}

// LockOrder needs no extra locking: the Store mutex already serialises InTx.
func (d *data) LockOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*domain.Order, error) {
	return d.GetOrder(ctx, tenantID, orderID)
}

func (d *data) UpdateOrderStatus(_ context.Context, tenantID, orderID uuid.UUID, status domain.OrderStatus) error {
	o, ok := d.orders[orderID]
	if !ok || o.TenantID != tenantID {
		return repository.ErrNotFound
	}
	o.Status = status
	o.UpdatedAt = d.now()
	d.orders[orderID] = o
	return nil
}

func (d *data) AppendTransaction(_ context.Context, txn *domain.PaymentTransaction) error {
	o, ok := d.orders[txn.OrderID]
	if !ok || o.TenantID != txn.TenantID {
		return repository.ErrNotFound
	}
	key := txn.IdempotencyKey()
	for _, ledger := range d.txns {
		for _, existing := range ledger {
			if existing.TenantID == txn.TenantID && existing.IdempotencyKey() == key {
				return repository.ErrDuplicateTransaction
			}
		}
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	txn.CreatedAt = d.now()
	d.txns[txn.OrderID] = append(d.txns[txn.OrderID], *txn)
	return nil
}

func (d *data) FindOrderByProviderReference(_ context.Context, tenantID uuid.UUID, provider, reference string) (uuid.UUID, error) {
	for orderID, ledger := range d.txns {
		for _, t := range ledger {
			if t.TenantID == tenantID && t.Provider == provider && t.ProviderReference == reference {
				return orderID, nil
			}
		}
	}
	return uuid.Nil, repository.ErrNotFound
}

func (d *data) CreateRefundRequest(_ context.Context, r *domain.RefundRequest) error {
	if _, ok := d.orders[r.OrderID]; !ok {
		return repository.ErrNotFound
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	r.CreatedAt = d.now()
	stored := *r
	stored.Items = slices.Clone(r.Items)
	d.refunds[r.ID] = stored
	return nil
}

func (d *data) GetRefundRequest(_ context.Context, tenantID, id uuid.UUID) (*domain.RefundRequest, error) {
	r, ok := d.refunds[id]
	if !ok || r.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (d *data) ListRefundRequests(_ context.Context, tenantID, orderID uuid.UUID) ([]domain.RefundRequest, error) {
	var out []domain.RefundRequest
	for _, r := range d.refunds {
		if r.TenantID == tenantID && r.OrderID == orderID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b domain.RefundRequest) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (d *data) UpdateRefundRequest(_ context.Context, r *domain.RefundRequest) error {
	existing, ok := d.refunds[r.ID]
	if !ok || existing.TenantID != r.TenantID {
		return repository.ErrNotFound
	}
	d.refunds[r.ID] = *r
	return nil
}
