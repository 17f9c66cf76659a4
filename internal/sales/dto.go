package sales

import "github.com/shopspring/decimal"

// LineInput is one item line presented at completion. The unit price and
// name are never taken from the caller; they come from the product cache.
type LineInput struct {
	ItemID         int64
	Qty            int64
	DiscountAmount decimal.Decimal
	TaxAmount      decimal.Decimal
}

// PaymentInput is one tender line presented at completion.
type PaymentInput struct {
	Method string
	Amount decimal.Decimal
}

// Totals are the six monetary fields of a sale. The caller supplies its own
// view and completion recomputes an independent one; the two must match to
// the cent, field by field.
type Totals struct {
	Subtotal      decimal.Decimal
	DiscountTotal decimal.Decimal
	TaxTotal      decimal.Decimal
	GrandTotal    decimal.Decimal
	PaidTotal     decimal.Decimal
	ChangeTotal   decimal.Decimal
}

// SyncBadge summarizes delivery health for the register UI: how many sales
// still wait for the server, and the most recent delivery error if any.
type SyncBadge struct {
	PendingCount int64   `json:"pending_count"`
	LastError    *string `json:"last_error,omitempty"`
}
