// Package sales owns the lifecycle of a terminal sale: draft creation and
// the atomic completion that snapshots catalog prices, reconciles totals,
// and hands the sale to the outbox for delivery.
package sales

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/opentillhq/tillsync/internal/catalog"
	"github.com/opentillhq/tillsync/internal/outbox"
	dbpkg "github.com/opentillhq/tillsync/pkg/db"
	"github.com/opentillhq/tillsync/pkg/db/models"
	"github.com/opentillhq/tillsync/pkg/enums"
	pkgerrors "github.com/opentillhq/tillsync/pkg/errors"
	"github.com/opentillhq/tillsync/pkg/logger"
	"github.com/opentillhq/tillsync/pkg/money"
)

type ServiceParams struct {
	Client  *dbpkg.Client
	Repo    *Repository
	Catalog *catalog.Repository
	Outbox  *outbox.Repository
	Logger  *logger.Logger
}

type Service struct {
	client  *dbpkg.Client
	repo    *Repository
	catalog *catalog.Repository
	outbox  *outbox.Repository
	logg    *logger.Logger

	mu         sync.Mutex
	completing map[uuid.UUID]struct{}
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Client == nil {
		return nil, errors.New("db client is required")
	}
	if params.Repo == nil {
		return nil, errors.New("sales repository is required")
	}
	if params.Catalog == nil {
		return nil, errors.New("catalog repository is required")
	}
	if params.Outbox == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		client:     params.Client,
		repo:       params.Repo,
		catalog:    params.Catalog,
		outbox:     params.Outbox,
		logg:       params.Logger,
		completing: make(map[uuid.UUID]struct{}),
	}, nil
}

// CreateDraft opens a new DRAFT sale for the given scope.
func (s *Service) CreateDraft(ctx context.Context, companyID, outletID, cashierUserID int64) (uuid.UUID, error) {
	if companyID <= 0 || outletID <= 0 || cashierUserID <= 0 {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "company, outlet, and cashier ids must be positive")
	}
	sale := models.Sale{
		ID:            uuid.New(),
		CompanyID:     companyID,
		OutletID:      outletID,
		CashierUserID: cashierUserID,
		Status:        enums.SaleDraft,
		SyncStatus:    enums.SyncLocalOnly,
		Subtotal:      decimal.Zero,
		DiscountTotal: decimal.Zero,
		TaxTotal:      decimal.Zero,
		GrandTotal:    decimal.Zero,
		PaidTotal:     decimal.Zero,
		ChangeTotal:   decimal.Zero,
	}
	if err := s.repo.Create(ctx, &sale); err != nil {
		return uuid.Nil, err
	}
	return sale.ID, nil
}

// Complete atomically finalizes a DRAFT sale: prices every line against the
// cached catalog, recomputes the totals independently, verifies the caller's
// totals to the cent, stamps the idempotency key, persists the immutable
// item/payment rows, and enqueues exactly one outbox job.
func (s *Service) Complete(ctx context.Context, saleID uuid.UUID, items []LineInput, payments []PaymentInput, callerTotals Totals) (*models.Sale, error) {
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one item is required")
	}
	if len(payments) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one payment is required")
	}
	for _, item := range items {
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item qty must be positive")
		}
	}
	for _, payment := range payments {
		if payment.Method == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method is required")
		}
		if payment.Amount.Sign() <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment amount must be positive")
		}
	}

	if !s.beginCompletion(saleID) {
		return nil, pkgerrors.New(pkgerrors.CodeCompletionInProgress, "completion already in progress for this sale")
	}
	defer s.endCompletion(saleID)

	var completed *models.Sale
	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		sale, err := s.repo.GetTx(tx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != enums.SaleDraft {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot complete sale in status %s (want %s)", sale.Status, enums.SaleDraft)).
				WithDetails(map[string]any{
					"current": string(sale.Status),
					"target":  string(enums.SaleCompleted),
				})
		}

		itemRows := make([]models.SaleItem, 0, len(items))
		for _, line := range items {
			snapshot, err := s.catalog.FindTx(tx, sale.CompanyID, sale.OutletID, line.ItemID)
			if err != nil {
				return err
			}
			itemRows = append(itemRows, models.SaleItem{
				ID:             uuid.New(),
				SaleID:         sale.ID,
				ItemID:         line.ItemID,
				NameSnapshot:   snapshot.Name,
				PriceSnapshot:  money.Normalize(snapshot.Price),
				Qty:            line.Qty,
				DiscountAmount: money.Normalize(line.DiscountAmount),
				TaxAmount:      money.Normalize(line.TaxAmount),
				LineTotal:      money.LineTotal(line.Qty, snapshot.Price),
			})
		}

		recomputed := recomputeTotals(itemRows, payments)
		if err := assertTotalsMatch(callerTotals, recomputed); err != nil {
			return err
		}
		if recomputed.PaidTotal.LessThan(recomputed.GrandTotal) {
			return pkgerrors.New(pkgerrors.CodeValidation, "paid total is less than grand total")
		}

		now := time.Now()
		clientTxID := uuid.NewString()
		sale.ClientTxID = &clientTxID
		sale.Status = enums.SaleCompleted
		sale.SyncStatus = enums.SyncPending
		sale.Subtotal = recomputed.Subtotal
		sale.DiscountTotal = recomputed.DiscountTotal
		sale.TaxTotal = recomputed.TaxTotal
		sale.GrandTotal = recomputed.GrandTotal
		sale.PaidTotal = recomputed.PaidTotal
		sale.ChangeTotal = recomputed.ChangeTotal
		sale.TrxAt = &now

		if err := tx.Save(sale).Error; err != nil {
			return err
		}
		if err := tx.Create(&itemRows).Error; err != nil {
			return err
		}
		paymentRows := make([]models.Payment, 0, len(payments))
		for _, payment := range payments {
			paymentRows = append(paymentRows, models.Payment{
				ID:     uuid.New(),
				SaleID: sale.ID,
				Method: payment.Method,
				Amount: money.Normalize(payment.Amount),
			})
		}
		if err := tx.Create(&paymentRows).Error; err != nil {
			return err
		}

		if _, err := s.outbox.EnqueueTx(tx, *sale); err != nil {
			return err
		}

		completed = sale
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithClientTxID(ctx, *completed.ClientTxID)
	s.logg.Info(logCtx, "sale completed and queued for sync")
	return completed, nil
}

// Void cancels a DRAFT sale before completion. Completed sales are
// append-only and cannot be voided locally.
func (s *Service) Void(ctx context.Context, saleID uuid.UUID) error {
	return s.client.WithTx(ctx, func(tx *gorm.DB) error {
		sale, err := s.repo.GetTx(tx, saleID)
		if err != nil {
			return err
		}
		if sale.Status != enums.SaleDraft {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot void sale in status %s (want %s)", sale.Status, enums.SaleDraft)).
				WithDetails(map[string]any{
					"current": string(sale.Status),
					"target":  string(enums.SaleVoid),
				})
		}
		return tx.Model(&models.Sale{}).
			Where("id = ? AND status = ?", sale.ID, enums.SaleDraft).
			Update("status", enums.SaleVoid).Error
	})
}

// Badge reports delivery health for the register UI.
func (s *Service) Badge(ctx context.Context) (SyncBadge, error) {
	count, err := s.outbox.CountUnsent(ctx)
	if err != nil {
		return SyncBadge{}, err
	}
	lastErr, err := s.outbox.LastError(ctx)
	if err != nil {
		return SyncBadge{}, err
	}
	return SyncBadge{PendingCount: count, LastError: lastErr}, nil
}

func (s *Service) beginCompletion(saleID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.completing[saleID]; busy {
		return false
	}
	s.completing[saleID] = struct{}{}
	return true
}

func (s *Service) endCompletion(saleID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.completing, saleID)
}

func recomputeTotals(items []models.SaleItem, payments []PaymentInput) Totals {
	subtotal := decimal.Zero
	discount := decimal.Zero
	tax := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal)
		discount = discount.Add(item.DiscountAmount)
		tax = tax.Add(item.TaxAmount)
	}
	paid := decimal.Zero
	for _, payment := range payments {
		paid = paid.Add(money.Normalize(payment.Amount))
	}
	subtotal = money.Normalize(subtotal)
	discount = money.Normalize(discount)
	tax = money.Normalize(tax)
	grand := money.Normalize(subtotal.Sub(discount).Add(tax))
	paid = money.Normalize(paid)
	change := money.Normalize(paid.Sub(grand))
	return Totals{
		Subtotal:      subtotal,
		DiscountTotal: discount,
		TaxTotal:      tax,
		GrandTotal:    grand,
		PaidTotal:     paid,
		ChangeTotal:   change,
	}
}

// assertTotalsMatch compares the caller's totals against the recomputed ones
// field by field and names the first mismatching field.
func assertTotalsMatch(caller, recomputed Totals) error {
	fields := []struct {
		name     string
		caller   decimal.Decimal
		expected decimal.Decimal
	}{
		{"subtotal", caller.Subtotal, recomputed.Subtotal},
		{"discount_total", caller.DiscountTotal, recomputed.DiscountTotal},
		{"tax_total", caller.TaxTotal, recomputed.TaxTotal},
		{"grand_total", caller.GrandTotal, recomputed.GrandTotal},
		{"paid_total", caller.PaidTotal, recomputed.PaidTotal},
		{"change_total", caller.ChangeTotal, recomputed.ChangeTotal},
	}
	for _, field := range fields {
		if !money.Equal(field.caller, field.expected) {
			return pkgerrors.New(pkgerrors.CodeTotalsMismatch,
				fmt.Sprintf("%s mismatch: expected %s, got %s",
					field.name, field.expected.StringFixed(2), money.Normalize(field.caller).StringFixed(2))).
				WithDetails(map[string]any{
					"field":    field.name,
					"expected": field.expected.StringFixed(2),
					"actual":   money.Normalize(field.caller).StringFixed(2),
				})
		}
	}
	return nil
}
