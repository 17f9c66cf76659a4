package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opentillhq/tillsync/pkg/enums"
)

// PosTransaction is the server-side ledger row for one accepted terminal
// transaction, keyed uniquely by the client-generated idempotency key.
type PosTransaction struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	ClientTxID    string           `gorm:"column:client_tx_id;not null;uniqueIndex:ux_pos_transactions_client_tx_id"`
	CompanyID     int64            `gorm:"column:company_id;not null;index"`
	OutletID      int64            `gorm:"column:outlet_id;not null;index"`
	CashierUserID int64            `gorm:"column:cashier_user_id;not null"`
	Status        enums.SaleStatus `gorm:"column:status;not null"`
	TrxAt         time.Time        `gorm:"column:trx_at;not null"`
	GrandTotal    decimal.Decimal  `gorm:"column:grand_total;type:numeric(14,2);not null"`
	PaidTotal     decimal.Decimal  `gorm:"column:paid_total;type:numeric(14,2);not null"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
}

func (PosTransaction) TableName() string { return "pos_transactions" }

// PosTransactionItem mirrors one submitted sale line.
type PosTransactionItem struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID uuid.UUID       `gorm:"column:transaction_id;type:uuid;not null;index"`
	ItemID        int64           `gorm:"column:item_id;not null"`
	NameSnapshot  string          `gorm:"column:name_snapshot;not null"`
	PriceSnapshot decimal.Decimal `gorm:"column:price_snapshot;type:numeric(14,2);not null"`
	Qty           int64           `gorm:"column:qty;not null"`
}

func (PosTransactionItem) TableName() string { return "pos_transaction_items" }

// PosTransactionPayment mirrors one submitted payment line.
type PosTransactionPayment struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID uuid.UUID       `gorm:"column:transaction_id;type:uuid;not null;index"`
	Method        string          `gorm:"column:method;not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null"`
}

func (PosTransactionPayment) TableName() string { return "pos_transaction_payments" }

// SyncAuditEvent records the acceptance of one transaction. Written in the
// same transaction as the ledger rows; a DUPLICATE replay writes nothing.
type SyncAuditEvent struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ClientTxID    string    `gorm:"column:client_tx_id;not null;index"`
	CompanyID     int64     `gorm:"column:company_id;not null"`
	OutletID      int64     `gorm:"column:outlet_id;not null"`
	Action        string    `gorm:"column:action;not null"`
	CorrelationID string    `gorm:"column:correlation_id"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (SyncAuditEvent) TableName() string { return "sync_audit_events" }
