package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Refund-related domain errors.
var (
	ErrRefundNotFound       = &Error{Code: ENOTFOUND, Message: "Refund request not found"}
	ErrRefundNotPending     = &Error{Code: ECONFLICT, Message: "Refund request is not pending"}
	ErrRefundAlreadyDecided = &Error{Code: ECONFLICT, Message: "Refund request has already been decided"}
	ErrOrderNotRefundable   = &Error{Code: ECONFLICT, Message: "Order is not in a refundable status"}
	ErrRefundExceedsBalance = &Error{Code: ECONFLICT, Message: "Refund amount exceeds the order's remaining refundable balance"}
	ErrRefundExceedsRequest = &Error{Code: ECONFLICT, Message: "Approved amount exceeds the requested amount"}
	ErrRefundNoItems        = &Error{Code: EINVALID, Message: "At least one item is required"}
	ErrRefundAmount         = &Error{Code: EINVALID, Message: "Refund amount must be greater than 0"}
	ErrNoCapturedPayment    = &Error{Code: ECONFLICT, Message: "Order has no captured payment to refund"}
)

// RefundStatus is the refund request state machine.
type RefundStatus string

const (
	RefundPending   RefundStatus = "pending"
	RefundApproved  RefundStatus = "approved"
	RefundDenied    RefundStatus = "denied"
	RefundProcessed RefundStatus = "processed"
)

// RefundItem selects a quantity of one order line.
type RefundItem struct {
	OrderItemID uuid.UUID       `json:"order_item_id"`
	Quantity    int             `json:"quantity"`
	Amount      decimal.Decimal `json:"amount"`
}

// RefundRequest references an order and tracks the approval workflow.
type RefundRequest struct {
	ID                uuid.UUID
	TenantID          uuid.UUID
	OrderID           uuid.UUID
	Reason            string
	Status            RefundStatus
	Items             []RefundItem
	RequestedAmount   decimal.Decimal
	ApprovedAmount    *decimal.Decimal
	ProviderReference string
	DecisionNote      string
	CreatedAt         time.Time
	DecidedAt         *time.Time
	ProcessedAt       *time.Time
}

// Committed returns the amount this request holds against the order balance.
// Approved and processed requests count; pending and denied do not.
func (r RefundRequest) Committed() decimal.Decimal {
	if r.ApprovedAmount == nil {
		return decimal.Zero
	}
	if r.Status == RefundApproved || r.Status == RefundProcessed {
		return *r.ApprovedAmount
	}
	return decimal.Zero
}
