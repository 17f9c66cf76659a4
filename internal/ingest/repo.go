package ingest

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/opentillhq/tillsync/internal/repo"
	"github.com/opentillhq/tillsync/pkg/db/models"
)

type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// CreateTransactionTx inserts the ledger row plus its item, payment, and
// audit rows inside the caller's transaction. The unique index on
// client_tx_id is the idempotency arbiter; constraint violations surface
// unchanged for the service to classify.
func (r *Repository) CreateTransactionTx(
	tx *gorm.DB,
	transaction *models.PosTransaction,
	items []models.PosTransactionItem,
	payments []models.PosTransactionPayment,
	audit *models.SyncAuditEvent,
) error {
	if err := tx.Create(transaction).Error; err != nil {
		return err
	}
	if err := tx.Create(&items).Error; err != nil {
		return err
	}
	if err := tx.Create(&payments).Error; err != nil {
		return err
	}
	return tx.Create(audit).Error
}

// FindByClientTxID loads an accepted transaction by its idempotency key.
func (r *Repository) FindByClientTxID(ctx context.Context, clientTxID string) (*models.PosTransaction, error) {
	var transaction models.PosTransaction
	err := r.DB(ctx).Where("client_tx_id = ?", clientTxID).First(&transaction).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &transaction, nil
}

// AuditEvents returns the audit trail for one idempotency key, oldest first.
func (r *Repository) AuditEvents(ctx context.Context, clientTxID string) ([]models.SyncAuditEvent, error) {
	var events []models.SyncAuditEvent
	err := r.DB(ctx).
		Where("client_tx_id = ?", clientTxID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
