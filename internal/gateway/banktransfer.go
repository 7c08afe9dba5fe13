package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dukerupert/kasse/internal/domain"
	"github.com/shopspring/decimal"
)

// BankTransferKey is the registry key of the offline transfer adapter.
const BankTransferKey = "banktransfer"

// BankSignatureHeader carries base64(HMAC-SHA256(secret, body)).
const BankSignatureHeader = "X-Bank-Signature"

// BankTransfer hands the customer transfer instructions and settles from
// signed bank callbacks. Pay and Refund make no network call.
type BankTransfer struct{}

// NewBankTransfer creates the bank transfer adapter.
func NewBankTransfer() *BankTransfer { return &BankTransfer{} }

func (b *BankTransfer) Key() string { return BankTransferKey }

// Pay returns the reference the customer must quote and the account to pay
// into, taken from the provider metadata (iban, bic, account_name).
func (b *BankTransfer) Pay(_ context.Context, order *domain.Order, gctx *Context) (*Intent, error) {
	amount, currency, err := gctx.ChargeAmount(order.GrandTotal)
	if err != nil {
		return nil, err
	}
	ref := "BT-" + order.OrderNumber
	return &Intent{
		Provider:          BankTransferKey,
		ProviderReference: ref,
		Amount:            amount,
		Currency:          currency,
		Metadata: gctx.metadata(map[string]string{
			"transfer_reference": ref,
			"transfer_amount":    amount.StringFixed(domain.MoneyPlaces),
			"transfer_currency":  currency,
		}),
	}, nil
}

type bankEvent struct {
	EventID   string          `json:"event_id"`
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

// Verify checks X-Bank-Signature before parsing the body.
func (b *BankTransfer) Verify(_ context.Context, payload []byte, headers http.Header, gctx *Context) (*Verification, error) {
	const op = "gateway.banktransfer.verify"

	if !verifyBase64(gctx.WebhookSecret, payload, headers.Get(BankSignatureHeader)) {
		return nil, domain.WithOp(ErrUnauthorized, op)
	}

	var ev bankEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, domain.WrapError(err, domain.EINVALID, op, ErrMalformedPayload.Message)
	}
	if ev.Reference == "" {
		return nil, domain.WithOp(ErrMalformedPayload, op)
	}
	status, err := BankTransferStatus(ev.Status)
	if errors.Is(err, ErrUnknownStatus) {
		return &Verification{Provider: BankTransferKey, ProviderReference: ev.Reference, EventType: "transfer." + ev.Status, EventID: ev.EventID}, nil
	}
	if err != nil {
		return nil, domain.WithOp(err, op)
	}
	return &Verification{
		Provider:          BankTransferKey,
		ProviderReference: ev.Reference,
		Status:            status,
		Amount:            ev.Amount,
		Currency:          domain.NormalizeCurrency(ev.Currency),
		EventType:         "transfer." + ev.Status,
		EventID:           ev.EventID,
	}, nil
}

// BankTransferStatus maps the bank's transfer vocabulary.
func BankTransferStatus(s string) (domain.PaymentStatus, error) {
	switch s {
	case "awaiting_funds":
		return domain.PaymentPending, nil
	case "funds_held":
		return domain.PaymentAuthorized, nil
	case "settled":
		return domain.PaymentCaptured, nil
	case "rejected", "returned":
		return domain.PaymentFailed, nil
	case "reversed":
		return domain.PaymentRefunded, nil
	}
	return "", ErrUnknownStatus
}

// Cancel has nothing to void: an unpaid transfer reference simply lapses.
// Funds that arrive later still settle against the ledger row.
func (b *BankTransfer) Cancel(_ context.Context, reference string, _ *Context) error {
	if reference == "" {
		return domain.Invalid("gateway.banktransfer.cancel", "provider reference is required")
	}
	return nil
}

// Refund records a manual payout; operators wire the money back.
func (b *BankTransfer) Refund(_ context.Context, p RefundParams, _ *Context) (*RefundResult, error) {
	if p.ProviderReference == "" {
		return nil, domain.Invalid("gateway.banktransfer.refund", "provider reference is required")
	}
	id := strings.ToUpper(strings.ReplaceAll(p.RefundID.String(), "-", ""))
	if len(id) > 12 {
		id = id[:12]
	}
	return &RefundResult{ProviderReference: "BTR-" + id, Status: domain.PaymentRefunded}, nil
}
