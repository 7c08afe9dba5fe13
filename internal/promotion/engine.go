// Package promotion selects the single best discount for a cart from the
// coupon a customer entered and the tenant's running campaigns.
package promotion

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Store is the subset of the repository the engine reads.
type Store interface {
	GetCouponByCode(ctx context.Context, tenantID uuid.UUID, code string) (*domain.Coupon, error)
	ListActiveCampaigns(ctx context.Context, tenantID uuid.UUID, at time.Time) ([]domain.Campaign, error)
}

// Request is the input of Engine.Evaluate.
type Request struct {
	TenantID   uuid.UUID
	Items      []Item
	Subtotal   decimal.Decimal
	Currency   string
	CouponCode string
}

// Engine loads promotions for a tenant and evaluates them.
type Engine struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a promotion engine.
func NewEngine(store Store, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns the best discount for the request. An ineligible or
// unknown coupon is reported in the breakdown, never as an error.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Result, error) {
	const op = "promotion.evaluate"

	if req.TenantID == uuid.Nil {
		return nil, domain.WithOp(domain.ErrTenantRequired, op)
	}

	var (
		coupon    *domain.Coupon
		campaigns []domain.Campaign
		now       = e.now()
	)

	g, gctx := errgroup.WithContext(ctx)
	if req.CouponCode != "" {
		g.Go(func() error {
			c, err := e.store.GetCouponByCode(gctx, req.TenantID, req.CouponCode)
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			coupon = c
			return err
		})
	}
	g.Go(func() error {
		var err error
		campaigns, err = e.store.ListActiveCampaigns(gctx, req.TenantID, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, domain.Internal(err, op, "failed to load promotions")
	}

	subtotal := req.Subtotal
	if subtotal.IsZero() {
		for _, it := range req.Items {
			subtotal = subtotal.Add(it.LineTotal)
		}
	}

	res := Evaluate(req.Items, subtotal, req.CouponCode, coupon, campaigns, now)

	e.logger.Debug("promotion evaluated",
		"tenant_id", req.TenantID,
		"coupon_code", req.CouponCode,
		"discount", res.DiscountAmount.StringFixed(2),
		"currency", req.Currency,
		"campaigns_considered", len(campaigns),
	)
	return res, nil
}
