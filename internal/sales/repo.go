package sales

import (
	"context"
	"errors"

	"github.com/google/uuid"
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

// Get loads one sale by id.
func (r *Repository) Get(ctx context.Context, saleID uuid.UUID) (*models.Sale, error) {
	return r.getOn(r.DB(ctx), saleID)
}

// GetTx is Get bound to an open transaction.
func (r *Repository) GetTx(tx *gorm.DB, saleID uuid.UUID) (*models.Sale, error) {
	return r.getOn(tx, saleID)
}

func (r *Repository) getOn(conn *gorm.DB, saleID uuid.UUID) (*models.Sale, error) {
	var sale models.Sale
	err := conn.Where("id = ?", saleID).First(&sale).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sale not found")
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// Create inserts a new sale row.
func (r *Repository) Create(ctx context.Context, sale *models.Sale) error {
	return r.DB(ctx).Create(sale).Error
}

// Items returns the immutable line rows of a sale.
func (r *Repository) Items(ctx context.Context, saleID uuid.UUID) ([]models.SaleItem, error) {
	var items []models.SaleItem
	err := r.DB(ctx).
		Where("sale_id = ?", saleID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// Payments returns the immutable payment rows of a sale.
func (r *Repository) Payments(ctx context.Context, saleID uuid.UUID) ([]models.Payment, error) {
	var payments []models.Payment
	err := r.DB(ctx).
		Where("sale_id = ?", saleID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&payments).Error
	return payments, err
}
