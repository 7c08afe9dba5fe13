package postgres

import (
	"context"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const refundColumns = `id, tenant_id, order_id, reason, status, items, requested_amount, approved_amount,
	provider_reference, decision_note, created_at, decided_at, processed_at`

func (q *queries) CreateRefundRequest(ctx context.Context, r *domain.RefundRequest) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	items := r.Items
	if items == nil {
		items = []domain.RefundItem{}
	}
	err := q.db.QueryRow(ctx, `
		INSERT INTO refund_requests (id, tenant_id, order_id, reason, status, items, requested_amount, approved_amount,
		                             provider_reference, decision_note, decided_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`,
		r.ID, r.TenantID, r.OrderID, r.Reason, string(r.Status), items, r.RequestedAmount, nullDecimal(r.ApprovedAmount),
		r.ProviderReference, r.DecisionNote, r.DecidedAt, r.ProcessedAt,
	).Scan(&r.CreatedAt)
	if pgCode(err) == codeForeignKeyViolation {
		return repository.ErrNotFound
	}
	return err
}

func (q *queries) GetRefundRequest(ctx context.Context, tenantID, id uuid.UUID) (*domain.RefundRequest, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+refundColumns+` FROM refund_requests WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return nil, err
	}
	r, err := pgx.CollectExactlyOneRow(rows, scanRefund)
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// ListRefundRequests returns an order's requests oldest first.
func (q *queries) ListRefundRequests(ctx context.Context, tenantID, orderID uuid.UUID) ([]domain.RefundRequest, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+refundColumns+`
		FROM refund_requests
		WHERE tenant_id = $1 AND order_id = $2
		ORDER BY created_at, id`,
		tenantID, orderID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRefund)
}

func (q *queries) UpdateRefundRequest(ctx context.Context, r *domain.RefundRequest) error {
	return affectedOne(q.db.Exec(ctx, `
		UPDATE refund_requests
		SET status = $3, approved_amount = $4, provider_reference = $5, decision_note = $6,
		    decided_at = $7, processed_at = $8
		WHERE tenant_id = $1 AND id = $2`,
		r.TenantID, r.ID, string(r.Status), nullDecimal(r.ApprovedAmount), r.ProviderReference, r.DecisionNote,
		r.DecidedAt, r.ProcessedAt,
	))
}

func scanRefund(row pgx.CollectableRow) (domain.RefundRequest, error) {
	var (
		r        domain.RefundRequest
		status   string
		approved decimal.NullDecimal
	)
	err := row.Scan(&r.ID, &r.TenantID, &r.OrderID, &r.Reason, &status, &r.Items, &r.RequestedAmount, &approved,
		&r.ProviderReference, &r.DecisionNote, &r.CreatedAt, &r.DecidedAt, &r.ProcessedAt)
	r.Status = domain.RefundStatus(status)
	if approved.Valid {
		r.ApprovedAmount = &approved.Decimal
	}
	return r, err
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
