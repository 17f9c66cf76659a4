package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductCacheRow is a local read-only snapshot of one (company, outlet, item)
// catalog entry, versioned by the server-supplied data_version. Sale
// completion must find a matching row or fail.
type ProductCacheRow struct {
	ID          int64           `gorm:"column:id;primaryKey;autoIncrement"`
	CompanyID   int64           `gorm:"column:company_id;not null;uniqueIndex:ux_product_cache_scope_item"`
	OutletID    int64           `gorm:"column:outlet_id;not null;uniqueIndex:ux_product_cache_scope_item"`
	ItemID      int64           `gorm:"column:item_id;not null;uniqueIndex:ux_product_cache_scope_item"`
	Name        string          `gorm:"column:name;not null"`
	Price       decimal.Decimal `gorm:"column:price;type:numeric(14,2);not null"`
	DataVersion int64           `gorm:"column:data_version;not null"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (ProductCacheRow) TableName() string { return "product_cache" }
