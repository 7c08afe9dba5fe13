package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the money axis of an order, tracked per transaction.
type PaymentStatus string

const (
	PaymentPending    PaymentStatus = "pending"
	PaymentAuthorized PaymentStatus = "authorized"
	PaymentCaptured   PaymentStatus = "captured"
	PaymentFailed     PaymentStatus = "failed"
	PaymentRefunded   PaymentStatus = "refunded"
)

// ParsePaymentStatus validates a stored or configured status string.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	ps := PaymentStatus(s)
	if !ps.Valid() {
		return "", Errorf(EINVALID, "payment.parse_status", "unknown payment status %q", s)
	}
	return ps, nil
}

// Valid reports whether s is one of the known statuses.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentAuthorized, PaymentCaptured, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}

// IsAbsorbing reports whether no later event can move the payment on.
func (s PaymentStatus) IsAbsorbing() bool {
	return s == PaymentFailed || s == PaymentRefunded
}

// rank orders the forward path pending < authorized < captured.
func (s PaymentStatus) rank() int {
	switch s {
	case PaymentPending:
		return 0
	case PaymentAuthorized:
		return 1
	case PaymentCaptured:
		return 2
	}
	return -1
}

// Advance folds next onto the current status and reports whether next moves
// the payment forward. An empty receiver accepts any valid status.
//
// Rules: failed and refunded absorb everything after them. refunded is
// reachable from pending, authorized and captured. failed is reachable from
// pending and authorized; a captured payment can only be refunded. Otherwise
// only strictly higher ranks advance.
func (s PaymentStatus) Advance(next PaymentStatus) (PaymentStatus, bool) {
	if !next.Valid() {
		return s, false
	}
	if s == "" {
		return next, true
	}
	if s.IsAbsorbing() {
		return s, false
	}

	switch next {
	case PaymentRefunded:
		return next, true
	case PaymentFailed:
		if s == PaymentCaptured {
			return s, false
		}
		return next, true
	}

	if next.rank() > s.rank() {
		return next, true
	}
	return s, false
}

// FoldPaymentStatus replays statuses in arrival order.
func FoldPaymentStatus(statuses ...PaymentStatus) PaymentStatus {
	var current PaymentStatus
	for _, st := range statuses {
		current, _ = current.Advance(st)
	}
	return current
}

// PaymentTransaction is one append-only ledger row per provider interaction.
type PaymentTransaction struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	OrderID           uuid.UUID
	Provider          string
	ProviderReference string
	Status            PaymentStatus
	Amount            decimal.Decimal
	Currency          string
	EventType         string
	EventID           string
	CreatedAt         time.Time
}

// IdempotencyKey returns the (provider, reference, status) triple that makes
// a ledger row unique.
func (t PaymentTransaction) IdempotencyKey() TransactionKey {
	return TransactionKey{Provider: t.Provider, ProviderReference: t.ProviderReference, Status: t.Status}
}

// TransactionKey is the reconciliation idempotency key.
type TransactionKey struct {
	Provider          string
	ProviderReference string
	Status            PaymentStatus
}
