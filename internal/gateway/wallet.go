package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/shopspring/decimal"
)

// WalletKey is the registry key of the hosted wallet adapter.
const WalletKey = "wallet"

// WalletSignatureHeader carries "sha256=<hex HMAC-SHA256(secret, body)>".
const WalletSignatureHeader = "X-Wallet-Signature"

// Wallet redirects the customer to a hosted wallet and learns the outcome
// from signed callbacks.
type Wallet struct {
	http   *http.Client
	logger *slog.Logger
}

// NewWallet creates the wallet adapter. A nil client gets a 30s timeout.
func NewWallet(client *http.Client, logger *slog.Logger) *Wallet {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Wallet{http: client, logger: logger.With("provider", WalletKey)}
}

func (w *Wallet) Key() string { return WalletKey }

type walletOrderRequest struct {
	Reference   string            `json:"reference"`
	OrderNumber string            `json:"order_number"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	ReturnURL   string            `json:"return_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type walletOrderResponse struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	ApproveURL string `json:"approve_url"`
}

type walletRefundRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reference string          `json:"reference"`
	Reason    string          `json:"reason,omitempty"`
}

type walletRefundResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type walletEvent struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Resource struct {
		ID       string          `json:"id"`
		Status   string          `json:"status"`
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	} `json:"resource"`
}

// Pay creates a wallet order and returns its approval URL.
func (w *Wallet) Pay(ctx context.Context, order *domain.Order, gctx *Context) (*Intent, error) {
	const op = "gateway.wallet.pay"

	amount, currency, err := gctx.ChargeAmount(order.GrandTotal)
	if err != nil {
		return nil, err
	}
	metadata := gctx.metadata(map[string]string{"order_id": order.ID.String()})

	var resp walletOrderResponse
	// A retried checkout gets a fresh wallet order: the ledger gains a row
	// with every intent.
	key := order.ID.String() + "-" + strconv.Itoa(len(order.Transactions))
	err = w.do(ctx, gctx, "/v1/orders", key, walletOrderRequest{
		Reference:   order.ID.String(),
		OrderNumber: order.OrderNumber,
		Amount:      amount,
		Currency:    currency,
		ReturnURL:   gctx.ReturnURL,
		Metadata:    metadata,
	}, &resp)
	if err != nil {
		return nil, failure(err, op, "Wallet payment could not be started")
	}
	if resp.ID == "" {
		return nil, domain.GatewayFailure(nil, op, "Wallet returned no order id")
	}

	return &Intent{
		Provider:          WalletKey,
		ProviderReference: resp.ID,
		RedirectURL:       resp.ApproveURL,
		Amount:            amount,
		Currency:          currency,
		Metadata:          metadata,
	}, nil
}

// Verify checks X-Wallet-Signature before parsing the body.
func (w *Wallet) Verify(_ context.Context, payload []byte, headers http.Header, gctx *Context) (*Verification, error) {
	const op = "gateway.wallet.verify"

	if !verifyHex(gctx.WebhookSecret, payload, headers.Get(WalletSignatureHeader)) {
		return nil, domain.WithOp(ErrUnauthorized, op)
	}

	var ev walletEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, op, ErrMalformedPayload.Message)
	}
	if ev.Resource.ID == "" {
		return nil, domain.WithOp(ErrMalformedPayload, op)
	}
	status, err := WalletStatus(ev.Resource.Status)
	if errors.Is(err, ErrUnknownStatus) {
		return &Verification{Provider: WalletKey, ProviderReference: ev.Resource.ID, EventType: ev.Type, EventID: ev.ID}, nil
	}
	if err != nil {
		return nil, domain.WithOp(err, op)
	}
	return &Verification{
		Provider:          WalletKey,
		ProviderReference: ev.Resource.ID,
		Status:            status,
		Amount:            ev.Resource.Amount,
		Currency:          domain.NormalizeCurrency(ev.Resource.Currency),
		EventType:         ev.Type,
		EventID:           ev.ID,
	}, nil
}

// WalletStatus maps the wallet's order vocabulary.
func WalletStatus(s string) (domain.PaymentStatus, error) {
	switch s {
	case "created", "payer_action_required":
		return domain.PaymentPending, nil
	case "approved", "authorized":
		return domain.PaymentAuthorized, nil
	case "completed", "captured":
		return domain.PaymentCaptured, nil
	case "declined", "voided", "expired":
		return domain.PaymentFailed, nil
	case "refunded", "partially_refunded":
		return domain.PaymentRefunded, nil
	}
	return "", ErrUnknownStatus
}

type walletVoidRequest struct {
	Reason string `json:"reason"`
}

// Cancel voids a wallet order the payer has not completed.
func (w *Wallet) Cancel(ctx context.Context, reference string, gctx *Context) error {
	const op = "gateway.wallet.cancel"

	var resp walletOrderResponse
	path := "/v1/orders/" + url.PathEscape(reference) + "/void"
	if err := w.do(ctx, gctx, path, "void-"+reference, walletVoidRequest{Reason: "superseded"}, &resp); err != nil {
		return failure(err, op, "Wallet payment could not be cancelled")
	}
	status, err := WalletStatus(resp.Status)
	if err != nil || status != domain.PaymentFailed {
		return domain.Conflict(op, fmt.Sprintf("Wallet order is %s and cannot be cancelled", resp.Status))
	}
	return nil
}

// Refund posts a refund for the wallet order.
func (w *Wallet) Refund(ctx context.Context, p RefundParams, gctx *Context) (*RefundResult, error) {
	const op = "gateway.wallet.refund"

	amount, currency, err := gctx.ChargeAmount(p.Amount)
	if err != nil {
		return nil, err
	}
	var resp walletRefundResponse
	path := "/v1/orders/" + url.PathEscape(p.ProviderReference) + "/refunds"
	err = w.do(ctx, gctx, path, p.RefundID.String(), walletRefundRequest{
		Amount:    amount,
		Currency:  currency,
		Reference: p.RefundID.String(),
		Reason:    p.Reason,
	}, &resp)
	if err != nil {
		return nil, failure(err, op, "Wallet refund failed")
	}
	switch resp.Status {
	case "completed", "pending":
	default:
		return nil, domain.GatewayFailure(nil, op, fmt.Sprintf("Wallet refund was %s", resp.Status))
	}
	return &RefundResult{ProviderReference: resp.ID, Status: domain.PaymentRefunded}, nil
}

func (w *Wallet) do(ctx context.Context, gctx *Context, path, idempotencyKey string, in, out any) error {
	if gctx.BaseURL == "" || gctx.APIKey == "" {
		return ErrNotConfigured
	}
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encode wallet request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gctx.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build wallet request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+gctx.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	resp, err := w.http.Do(req)
	if err != nil {
		return fmt.Errorf("wallet request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read wallet response: %w", err)
	}
	if resp.StatusCode >= 300 {
		w.logger.Warn("wallet rejected request", "path", path, "status", resp.StatusCode)
		return fmt.Errorf("wallet %s returned %d", path, resp.StatusCode)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode wallet response: %w", err)
	}
	return nil
}
