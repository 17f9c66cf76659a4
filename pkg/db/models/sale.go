package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/opentillhq/tillsync/pkg/enums"
)

// Sale is one terminal transaction. It is owned exclusively by the terminal
// until synced and never mutated after completion except for sync-status
// bookkeeping.
type Sale struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	ClientTxID    *string          `gorm:"column:client_tx_id;uniqueIndex:ux_sales_client_tx_id"`
	CompanyID     int64            `gorm:"column:company_id;not null"`
	OutletID      int64            `gorm:"column:outlet_id;not null"`
	CashierUserID int64            `gorm:"column:cashier_user_id;not null"`
	Status        enums.SaleStatus `gorm:"column:status;not null"`
	SyncStatus    enums.SyncStatus `gorm:"column:sync_status;not null"`
	Subtotal      decimal.Decimal  `gorm:"column:subtotal;type:numeric(14,2);not null"`
	DiscountTotal decimal.Decimal  `gorm:"column:discount_total;type:numeric(14,2);not null"`
	TaxTotal      decimal.Decimal  `gorm:"column:tax_total;type:numeric(14,2);not null"`
	GrandTotal    decimal.Decimal  `gorm:"column:grand_total;type:numeric(14,2);not null"`
	PaidTotal     decimal.Decimal  `gorm:"column:paid_total;type:numeric(14,2);not null"`
	ChangeTotal   decimal.Decimal  `gorm:"column:change_total;type:numeric(14,2);not null"`
	TrxAt         *time.Time       `gorm:"column:trx_at"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (Sale) TableName() string { return "sales" }

// SaleItem snapshots one product line at the moment of sale, decoupled from
// later catalog changes.
type SaleItem struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SaleID         uuid.UUID       `gorm:"column:sale_id;type:uuid;not null;index"`
	ItemID         int64           `gorm:"column:item_id;not null"`
	NameSnapshot   string          `gorm:"column:name_snapshot;not null"`
	PriceSnapshot  decimal.Decimal `gorm:"column:price_snapshot;type:numeric(14,2);not null"`
	Qty            int64           `gorm:"column:qty;not null"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(14,2);not null"`
	TaxAmount      decimal.Decimal `gorm:"column:tax_amount;type:numeric(14,2);not null"`
	LineTotal      decimal.Decimal `gorm:"column:line_total;type:numeric(14,2);not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (SaleItem) TableName() string { return "sale_items" }

// Payment is an immutable child row of a completed sale.
type Payment struct {
	ID        uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SaleID    uuid.UUID       `gorm:"column:sale_id;type:uuid;not null;index"`
	Method    string          `gorm:"column:method;not null"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(14,2);not null"`
	CreatedAt time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (Payment) TableName() string { return "payments" }
