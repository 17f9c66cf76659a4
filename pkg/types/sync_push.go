package types

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/opentillhq/tillsync/pkg/enums"
)

// PushRequest is the wire body a terminal posts to the ingestion endpoint.
type PushRequest struct {
	OutletID     int64             `json:"outlet_id" validate:"required,gt=0"`
	Transactions []WireTransaction `json:"transactions" validate:"required,min=1,dive"`
}

// WireTransaction is one terminal transaction on the wire, keyed by the
// client-generated idempotency key.
type WireTransaction struct {
	ClientTxID    string           `json:"client_tx_id" validate:"required"`
	CompanyID     int64            `json:"company_id" validate:"required,gt=0"`
	OutletID      int64            `json:"outlet_id" validate:"required,gt=0"`
	CashierUserID int64            `json:"cashier_user_id" validate:"required,gt=0"`
	Status        enums.SaleStatus `json:"status" validate:"required"`
	TrxAt         time.Time        `json:"trx_at" validate:"required"`
	Items         []WireItem       `json:"items" validate:"required,min=1,dive"`
	Payments      []WirePayment    `json:"payments" validate:"required,min=1,dive"`
}

// WireItem snapshots one sale line.
type WireItem struct {
	ItemID        int64           `json:"item_id" validate:"required,gt=0"`
	Qty           int64           `json:"qty" validate:"required,gt=0"`
	PriceSnapshot decimal.Decimal `json:"price_snapshot"`
	NameSnapshot  string          `json:"name_snapshot" validate:"required"`
}

// WirePayment snapshots one tender line.
type WirePayment struct {
	Method string          `json:"method" validate:"required"`
	Amount decimal.Decimal `json:"amount"`
}

// PushItemResult is the server's verdict for one submitted transaction.
// Entries match by client_tx_id; order is not guaranteed.
type PushItemResult struct {
	ClientTxID string           `json:"client_tx_id"`
	Result     enums.PushResult `json:"result"`
	Message    string           `json:"message,omitempty"`
}

// PushResponse is the batch verdict envelope.
type PushResponse struct {
	Results []PushItemResult `json:"results"`
}
