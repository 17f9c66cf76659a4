// Package catalog manages the terminal-local snapshot of the product
// catalog. Rows arrive from the server-driven catalog pull and are the only
// source sale completion may price against.
package catalog

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/opentillhq/tillsync/internal/repo"
	"github.com/opentillhq/tillsync/pkg/db/models"
	pkgerrors "github.com/opentillhq/tillsync/pkg/errors"
)

type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Find resolves the cached snapshot for one (company, outlet, item) scope.
// A missing row is a hard validation failure for completion.
func (r *Repository) Find(ctx context.Context, companyID, outletID, itemID int64) (*models.ProductCacheRow, error) {
	return r.findOn(r.DB(ctx), companyID, outletID, itemID)
}

// FindTx is Find bound to an open transaction.
func (r *Repository) FindTx(tx *gorm.DB, companyID, outletID, itemID int64) (*models.ProductCacheRow, error) {
	return r.findOn(tx, companyID, outletID, itemID)
}

func (r *Repository) findOn(conn *gorm.DB, companyID, outletID, itemID int64) (*models.ProductCacheRow, error) {
	var row models.ProductCacheRow
	err := conn.
		Where("company_id = ? AND outlet_id = ? AND item_id = ?", companyID, outletID, itemID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeMissingSnapshot, "product snapshot not cached").
			WithDetails(map[string]any{
				"company_id": companyID,
				"outlet_id":  outletID,
				"item_id":    itemID,
			})
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert applies a pulled snapshot, keeping the row with the highest
// data_version. An older pull never clobbers a newer snapshot.
func (r *Repository) Upsert(ctx context.Context, row models.ProductCacheRow) error {
	var existing models.ProductCacheRow
	err := r.DB(ctx).
		Where("company_id = ? AND outlet_id = ? AND item_id = ?", row.CompanyID, row.OutletID, row.ItemID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.DB(ctx).Create(&row).Error
	}
	if err != nil {
		return err
	}
	if existing.DataVersion >= row.DataVersion {
		return nil
	}
	return r.DB(ctx).Model(&models.ProductCacheRow{}).
		Where("id = ? AND data_version < ?", existing.ID, row.DataVersion).
		Updates(map[string]any{
			"name":         row.Name,
			"price":        row.Price,
			"data_version": row.DataVersion,
		}).Error
}

// PruneBelowVersion drops stale snapshots for a scope after a full refresh.
func (r *Repository) PruneBelowVersion(ctx context.Context, companyID, outletID, minVersion int64) (int64, error) {
	res := r.DB(ctx).
		Where("company_id = ? AND outlet_id = ? AND data_version < ?", companyID, outletID, minVersion).
		Delete(&models.ProductCacheRow{})
	return res.RowsAffected, res.Error
}
