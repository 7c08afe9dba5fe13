// Package checkout turns an active cart into a priced pending order and asks
// the payment gateway for an intent.
package checkout

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/dukerupert/kasse/internal/gateway"
	"github.com/dukerupert/kasse/internal/promotion"
	"github.com/dukerupert/kasse/internal/repository"
	"github.com/dukerupert/kasse/internal/shipping"
	"github.com/dukerupert/kasse/internal/tax"
	"github.com/dukerupert/kasse/internal/telemetry"
	"github.com/google/uuid"
)

const maxOrderNumberAttempts = 5

var (
	ErrProviderRequired = &domain.Error{Code: domain.EINVALID, Message: "Payment provider is required"}
	ErrProviderChange   = &domain.Error{Code: domain.EINVALID, Message: "Payment provider cannot change for an existing order"}
	ErrPaymentInFlight  = &domain.Error{Code: domain.ECONFLICT, Message: "Order already has an authorized payment"}
)

// Promotions evaluates discounts.
type Promotions interface {
	Evaluate(ctx context.Context, req promotion.Request) (*promotion.Result, error)
}

// Payments starts provider payments.
type Payments interface {
	Registered(provider string) error
	Pay(ctx context.Context, tenant domain.TenantRef, provider string, order *domain.Order, metadata map[string]string) (*gateway.Intent, error)
	Cancel(ctx context.Context, tenant domain.TenantRef, provider, reference string) error
}

// Params is the input of Checkout. Currency, when set, must match the cart.
type Params struct {
	Tenant          domain.TenantRef
	Cart            domain.CartRef
	ShippingAddress domain.Address
	ShippingMethod  string
	Email           string
	Currency        string
	CouponCode      string
	PaymentProvider string
	PaymentMetadata map[string]string
}

// Result is a created order and, when the provider answered, its intent.
type Result struct {
	Order     *domain.Order
	Intent    *gateway.Intent
	Promotion *promotion.Result
}

// Service runs checkouts.
type Service struct {
	store      repository.Store
	promotions Promotions
	shipping   shipping.Provider
	tax        tax.Calculator
	payments   Payments
	logger     *slog.Logger
	metrics    *telemetry.BusinessMetrics

	now     func() time.Time
	numbers func(time.Time) (string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithOrderNumbers overrides NewOrderNumber.
func WithOrderNumbers(gen func(time.Time) (string, error)) Option {
	return func(s *Service) { s.numbers = gen }
}

// WithMetrics records checkout outcomes.
func WithMetrics(m *telemetry.BusinessMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a checkout service.
func NewService(store repository.Store, promotions Promotions, shipper shipping.Provider, calc tax.Calculator, payments Payments, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:      store,
		promotions: promotions,
		shipping:   shipper,
		tax:        calc,
		payments:   payments,
		logger:     logger,
		now:        time.Now,
		numbers:    NewOrderNumber,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Checkout prices the cart and persists a pending order, then requests a
// payment intent. When the provider call fails the pending order is returned
// together with the error so the client can retry payment.
func (s *Service) Checkout(ctx context.Context, p Params) (*Result, error) {
	res, err := s.checkout(ctx, p)
	if err != nil {
		s.metrics.CheckoutRejected(p.Tenant.ID.String(), domain.ErrorCode(err))
	}
	return res, err
}

func (s *Service) checkout(ctx context.Context, p Params) (*Result, error) {
	const op = "checkout.checkout"

	if err := p.Tenant.Validate(); err != nil {
		return nil, domain.WithOp(err, op)
	}
	if err := p.Cart.Validate(); err != nil {
		return nil, domain.WithOp(err, op)
	}
	if p.PaymentProvider == "" {
		return nil, domain.WithOp(ErrProviderRequired, op)
	}
	if err := p.ShippingAddress.Validate(); err != nil {
		return nil, domain.WithOp(err, op)
	}
	if err := s.payments.Registered(p.PaymentProvider); err != nil {
		s.logger.Error("checkout against unregistered provider", "tenant_id", p.Tenant.ID, "provider", p.PaymentProvider)
		return nil, domain.WithOp(err, op)
	}
	logger := s.logger.With("tenant_id", p.Tenant.ID, "provider", p.PaymentProvider)

	// 1. Resolve the cart
	cart, err := s.store.GetCart(ctx, p.Tenant.ID, p.Cart)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.WithOp(domain.ErrCartNotFound, op)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load cart")
	}
	if len(cart.Items) == 0 {
		return nil, domain.WithOp(domain.ErrCartEmpty, op)
	}
	if p.Currency != "" && domain.NormalizeCurrency(p.Currency) != cart.Currency {
		return nil, domain.WithOp(domain.ErrCurrencyMismatch, op)
	}

	// 2. Re-check stock
	if err := s.checkStock(ctx, p.Tenant.ID, cart.Items); err != nil {
		return nil, err
	}

	// 3. Promotions
	subtotal := cart.Subtotal()
	promoItems := make([]promotion.Item, len(cart.Items))
	for i, it := range cart.Items {
		promoItems[i] = promotion.Item{ProductID: it.ProductID, CategoryID: it.CategoryID, LineTotal: it.LineTotal()}
	}
	promo, err := s.promotions.Evaluate(ctx, promotion.Request{
		TenantID:   p.Tenant.ID,
		Items:      promoItems,
		Subtotal:   subtotal,
		Currency:   cart.Currency,
		CouponCode: p.CouponCode,
	})
	if err != nil {
		return nil, domain.WithOp(err, op)
	}
	discount := promo.DiscountAmount

	// 4. Shipping, then tax on the discounted subtotal
	shipItems := make([]shipping.Item, len(cart.Items))
	for i, it := range cart.Items {
		shipItems[i] = shipping.Item{SKU: it.SKU, Quantity: it.Quantity}
	}
	quote, err := s.shipping.Quote(ctx, shipping.QuoteParams{
		MethodID: p.ShippingMethod,
		Address:  p.ShippingAddress,
		Items:    shipItems,
		Currency: cart.Currency,
	})
	if err != nil {
		logger.Warn("shipping quote failed", "method", p.ShippingMethod, "error", err)
		return nil, domain.PricingUnavailable(err, op, "Shipping could not be priced")
	}
	if quote.Currency != "" && quote.Currency != cart.Currency {
		return nil, domain.PricingUnavailable(shipping.ErrCurrencyMismatch, op, "Shipping could not be priced")
	}

	taxed, err := s.tax.Calculate(ctx, tax.Params{
		Taxable:  subtotal.Sub(discount),
		Shipping: quote.Amount,
		Currency: cart.Currency,
		Address:  p.ShippingAddress,
	})
	if err != nil {
		logger.Warn("tax calculation failed", "error", err)
		return nil, domain.PricingUnavailable(err, op, "Tax could not be calculated")
	}

	// 5. Grand total
	grand := subtotal.Sub(discount).Add(taxed.Amount).Add(quote.Amount)
	if grand.IsNegative() {
		return nil, domain.WithOp(domain.ErrNegativeTotal, op)
	}

	order := &domain.Order{
		ID:              uuid.New(),
		TenantID:        p.Tenant.ID,
		CartID:          cart.ID,
		UserID:          cart.UserID,
		GuestToken:      cart.GuestToken,
		Email:           p.Email,
		Status:          domain.OrderPending,
		Currency:        cart.Currency,
		Subtotal:        subtotal,
		Discount:        discount,
		Tax:             taxed.Amount,
		Shipping:        quote.Amount,
		GrandTotal:      grand,
		CouponID:        promo.AppliedCouponID,
		CampaignID:      promo.AppliedCampaignID,
		PaymentProvider: p.PaymentProvider,
		ShippingMethod:  quote.MethodID,
		ShippingAddress: p.ShippingAddress,
		Items:           snapshot(cart.Items),
	}

	// 6-7. Persist the order and convert the cart together
	if err := s.persist(ctx, order); err != nil {
		return nil, domain.WithOp(err, op)
	}
	logger = logger.With("order_id", order.ID, "order_number", order.OrderNumber)
	logger.Info("order created", "grand_total", order.GrandTotal.StringFixed(2), "currency", order.Currency)

	// 8. Payment intent, outside any transaction
	metadata := map[string]string{"cart_id": cart.ID.String()}
	for k, v := range p.PaymentMetadata {
		metadata[k] = v
	}
	intent, err := s.startPayment(ctx, p.Tenant, p.PaymentProvider, order, metadata)
	result := &Result{Order: order, Intent: intent, Promotion: promo}
	if err != nil {
		logger.Warn("order left pending: payment intent failed", "error", err)
		return result, err
	}

	grandFloat, _ := order.GrandTotal.Float64()
	s.metrics.CheckoutDone(p.Tenant.ID.String(), p.PaymentProvider, order.Currency, grandFloat)
	return result, nil
}

func (s *Service) checkStock(ctx context.Context, tenantID uuid.UUID, items []domain.CartItem) error {
	const op = "checkout.check_stock"

	requested := make(map[uuid.UUID]int, len(items))
	var ids []uuid.UUID
	for _, it := range items {
		if _, seen := requested[it.VariantID]; !seen {
			ids = append(ids, it.VariantID)
		}
		requested[it.VariantID] += it.Quantity
	}

	levels, err := s.store.GetStockLevels(ctx, tenantID, ids)
	if err != nil {
		return domain.Internal(err, op, "failed to load stock levels")
	}

	var short []domain.StockShortage
	reported := make(map[uuid.UUID]bool, len(ids))
	for _, it := range items {
		if reported[it.VariantID] {
			continue
		}
		available := levels[it.VariantID].Available()
		if want := requested[it.VariantID]; want > available {
			reported[it.VariantID] = true
			short = append(short, domain.StockShortage{
				VariantID: it.VariantID.String(),
				SKU:       it.SKU,
				Requested: want,
				Available: available,
			})
		}
	}
	if len(short) > 0 {
		return domain.InsufficientStock(op, short)
	}
	return nil
}

// persist inserts the order and converts its cart in one transaction,
// drawing a fresh order number on collision.
func (s *Service) persist(ctx context.Context, order *domain.Order) error {
	const op = "checkout.persist"

	for attempt := 1; attempt <= maxOrderNumberAttempts; attempt++ {
		number, err := s.numbers(s.now())
		if err != nil {
			return domain.Internal(err, op, "failed to generate order number")
		}
		order.OrderNumber = number

		err = s.store.InTx(ctx, func(q repository.Querier) error {
			if err := q.CreateOrder(ctx, order); err != nil {
				return err
			}
			return q.SetCartStatus(ctx, order.TenantID, order.CartID, domain.CartConverted)
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, repository.ErrDuplicateOrderNumber):
			s.logger.Warn("order number collision", "order_number", number, "attempt", attempt)
			continue
		case errors.Is(err, repository.ErrNotFound):
			// Another checkout converted the cart first.
			return domain.WithOp(domain.ErrCartNotFound, op)
		default:
			return domain.Internal(err, op, "failed to create order")
		}
	}
	return domain.WithOp(domain.ErrOrderNumberExhausted, op)
}

// startPayment requests an intent and records it as a pending ledger row.
func (s *Service) startPayment(ctx context.Context, tenant domain.TenantRef, provider string, order *domain.Order, metadata map[string]string) (*gateway.Intent, error) {
	const op = "checkout.start_payment"

	intent, err := s.payments.Pay(ctx, tenant, provider, order, metadata)
	if err != nil {
		return nil, domain.WithOp(err, op)
	}

	txn := &domain.PaymentTransaction{
		TenantID:          order.TenantID,
		OrderID:           order.ID,
		Provider:          provider,
		ProviderReference: intent.ProviderReference,
		Status:            domain.PaymentPending,
		Amount:            intent.Amount,
		Currency:          intent.Currency,
		EventType:         "intent.created",
	}
	err = s.store.InTx(ctx, func(q repository.Querier) error {
		return q.AppendTransaction(ctx, txn)
	})
	if err != nil && !errors.Is(err, repository.ErrDuplicateTransaction) {
		return nil, domain.Internal(err, op, "failed to record payment intent")
	}
	if err == nil {
		order.Transactions = append(order.Transactions, *txn)
	}
	return intent, nil
}

func snapshot(items []domain.CartItem) []domain.OrderItem {
	out := make([]domain.OrderItem, len(items))
	for i, it := range items {
		out[i] = domain.OrderItem{
			ProductID:  it.ProductID,
			VariantID:  it.VariantID,
			CategoryID: it.CategoryID,
			SKU:        it.SKU,
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  it.UnitPrice,
			LineTotal:  it.LineTotal(),
		}
	}
	return out
}

// GetOrder loads an order with its items and ledger.
func (s *Service) GetOrder(ctx context.Context, tenant domain.TenantRef, orderID uuid.UUID) (*domain.Order, error) {
	const op = "checkout.get_order"

	if err := tenant.Validate(); err != nil {
		return nil, domain.WithOp(err, op)
	}
	order, err := s.store.GetOrder(ctx, tenant.ID, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, domain.WithOp(domain.ErrOrderNotFound, op)
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load order")
	}
	return order, nil
}

// RetryPayment requests a new intent for an order still awaiting payment.
// provider may be empty to reuse the order's provider.
func (s *Service) RetryPayment(ctx context.Context, tenant domain.TenantRef, orderID uuid.UUID, provider string, metadata map[string]string) (*Result, error) {
	const op = "checkout.retry_payment"

	order, err := s.GetOrder(ctx, tenant, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != domain.OrderPending {
		return nil, domain.WithOp(domain.ErrOrderNotPending, op)
	}
	if provider == "" {
		provider = order.PaymentProvider
	}
	if provider != order.PaymentProvider {
		return nil, domain.WithOp(ErrProviderChange, op)
	}
	for _, t := range order.Transactions {
		if order.PaymentStatusFor(t.Provider, t.ProviderReference) == domain.PaymentAuthorized {
			return nil, domain.WithOp(ErrPaymentInFlight, op)
		}
	}
	if err := s.cancelPending(ctx, tenant, order); err != nil {
		return nil, domain.WithOp(err, op)
	}

	intent, err := s.startPayment(ctx, tenant, provider, order, metadata)
	if err != nil {
		s.logger.Warn("payment retry failed", "tenant_id", tenant.ID, "order_id", order.ID, "error", err)
		return &Result{Order: order}, err
	}
	s.logger.Info("payment retried", "tenant_id", tenant.ID, "order_id", order.ID, "reference", intent.ProviderReference)
	return &Result{Order: order, Intent: intent}, nil
}

// cancelPending voids every intent of order still awaiting the customer, so
// at most one intent can ever be captured. A provider that refuses stops the
// retry.
func (s *Service) cancelPending(ctx context.Context, tenant domain.TenantRef, order *domain.Order) error {
	seen := make(map[string]bool)
	for _, t := range order.Transactions {
		key := t.Provider + "|" + t.ProviderReference
		if seen[key] {
			continue
		}
		seen[key] = true
		if order.PaymentStatusFor(t.Provider, t.ProviderReference) != domain.PaymentPending {
			continue
		}
		if err := s.payments.Cancel(ctx, tenant, t.Provider, t.ProviderReference); err != nil {
			s.logger.Warn("superseded payment intent not cancelled",
				"tenant_id", tenant.ID, "order_id", order.ID, "provider", t.Provider, "reference", t.ProviderReference, "error", err)
			return err
		}
	}
	return nil
}

var _ Payments = (*gateway.Orchestrator)(nil)
