package postgres

import (
	"context"
	"errors"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const orderColumns = `id, tenant_id, order_number, cart_id, user_id, guest_token, email, status, currency,
	subtotal, discount, tax, shipping, grand_total, coupon_id, campaign_id,
	payment_provider, shipping_method, shipping_address, created_at, updated_at`

// CreateOrder inserts the order and its item snapshots. A colliding order
// number returns repository.ErrDuplicateOrderNumber without aborting an
// enclosing transaction.
func (q *queries) CreateOrder(ctx context.Context, order *domain.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	for i := range order.Items {
		if order.Items[i].ID == uuid.Nil {
			order.Items[i].ID = uuid.New()
		}
	}

	return pgx.BeginFunc(ctx, q.db, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			INSERT INTO orders (`+orderColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, NOW(), NOW())
			ON CONFLICT (tenant_id, order_number) DO NOTHING
			RETURNING created_at, updated_at`,
			order.ID, order.TenantID, order.OrderNumber, order.CartID, order.UserID, order.GuestToken,
			order.Email, string(order.Status), order.Currency,
			order.Subtotal, order.Discount, order.Tax, order.Shipping, order.GrandTotal,
			order.CouponID, order.CampaignID, order.PaymentProvider, order.ShippingMethod, order.ShippingAddress,
		).Scan(&order.CreatedAt, &order.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrDuplicateOrderNumber
		}
		if err != nil {
			if pgCode(err) == codeForeignKeyViolation {
				return repository.ErrNotFound
			}
			return err
		}

		batch := &pgx.Batch{}
		for i, it := range order.Items {
			batch.Queue(`
				INSERT INTO order_items (id, tenant_id, order_id, position, product_id, variant_id, category_id,
				                         sku, name, quantity, unit_price, line_total)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				it.ID, order.TenantID, order.ID, i, it.ProductID, it.VariantID, nullUUID(it.CategoryID),
				it.SKU, it.Name, it.Quantity, it.UnitPrice, it.LineTotal,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (q *queries) GetOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*domain.Order, error) {
	return q.loadOrder(ctx, tenantID, orderID, false)
}

// LockOrder holds a row lock on the order until the transaction ends.
func (q *queries) LockOrder(ctx context.Context, tenantID, orderID uuid.UUID) (*domain.Order, error) {
	return q.loadOrder(ctx, tenantID, orderID, true)
}

func (q *queries) loadOrder(ctx context.Context, tenantID, orderID uuid.UUID, lock bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE tenant_id = $1 AND id = $2`
	if lock {
		query += ` FOR UPDATE`
	}

	var (
		o      domain.Order
		status string
	)
	err := q.db.QueryRow(ctx, query, tenantID, orderID).Scan(
		&o.ID, &o.TenantID, &o.OrderNumber, &o.CartID, &o.UserID, &o.GuestToken, &o.Email, &status, &o.Currency,
		&o.Subtotal, &o.Discount, &o.Tax, &o.Shipping, &o.GrandTotal, &o.CouponID, &o.CampaignID,
		&o.PaymentProvider, &o.ShippingMethod, &o.ShippingAddress, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	o.Status = domain.OrderStatus(status)

	if o.Items, err = q.orderItems(ctx, tenantID, orderID); err != nil {
		return nil, err
	}
	if o.Transactions, err = q.ledger(ctx, tenantID, orderID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (q *queries) orderItems(ctx context.Context, tenantID, orderID uuid.UUID) ([]domain.OrderItem, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, product_id, variant_id, category_id, sku, name, quantity, unit_price, line_total
		FROM order_items
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY position`,
		tenantID, orderID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.OrderItem, error) {
		var (
			it       domain.OrderItem
			category *uuid.UUID
		)
		err := row.Scan(&it.ID, &it.ProductID, &it.VariantID, &category, &it.SKU, &it.Name, &it.Quantity, &it.UnitPrice, &it.LineTotal)
		if category != nil {
			it.CategoryID = *category
		}
		return it, err
	})
}

const transactionColumns = `id, tenant_id, order_id, provider, provider_reference, status, amount, currency,
	event_type, event_id, created_at`

func (q *queries) ledger(ctx context.Context, tenantID, orderID uuid.UUID) ([]domain.PaymentTransaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+transactionColumns+`
		FROM payment_transactions
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY created_at, id`,
		tenantID, orderID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.PaymentTransaction, error) {
		var (
			t      domain.PaymentTransaction
			status string
		)
		err := row.Scan(&t.ID, &t.TenantID, &t.OrderID, &t.Provider, &t.ProviderReference, &status,
			&t.Amount, &t.Currency, &t.EventType, &t.EventID, &t.CreatedAt)
		t.Status = domain.PaymentStatus(status)
		return t, err
	})
}

func (q *queries) UpdateOrderStatus(ctx context.Context, tenantID, orderID uuid.UUID, status domain.OrderStatus) error {
	return affectedOne(q.db.Exec(ctx, `
		UPDATE orders SET status = $3, updated_at = NOW()
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, orderID, string(status),
	))
}

// AppendTransaction writes one ledger row. A row with the same
// (tenant, provider, reference, status) yields repository.ErrDuplicateTransaction
// and leaves an enclosing transaction usable.
func (q *queries) AppendTransaction(ctx context.Context, txn *domain.PaymentTransaction) error {
	var exists bool
	err := q.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE tenant_id = $1 AND id = $2)`,
		txn.TenantID, txn.OrderID,
	).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return repository.ErrNotFound
	}

	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	err = q.db.QueryRow(ctx, `
		INSERT INTO payment_transactions (id, tenant_id, order_id, provider, provider_reference, status,
		                                  amount, currency, event_type, event_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (tenant_id, provider, provider_reference, status) DO NOTHING
		RETURNING created_at`,
		txn.ID, txn.TenantID, txn.OrderID, txn.Provider, txn.ProviderReference, string(txn.Status),
		txn.Amount, txn.Currency, txn.EventType, txn.EventID,
	).Scan(&txn.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrDuplicateTransaction
	}
	return err
}

// FindOrderByProviderReference returns the order whose ledger first recorded
// reference for provider.
func (q *queries) FindOrderByProviderReference(ctx context.Context, tenantID uuid.UUID, provider, reference string) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRow(ctx, `
		SELECT order_id
		FROM payment_transactions
		WHERE tenant_id = $1 AND provider = $2 AND provider_reference = $3
		ORDER BY created_at
		LIMIT 1`,
		tenantID, provider, reference,
	).Scan(&id)
	return id, notFound(err)
}

func nullUUID(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
