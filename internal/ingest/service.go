// Package ingest accepts pushed terminal transactions on the server side.
// Acceptance is idempotent: the unique index on client_tx_id turns every
// replay into a DUPLICATE verdict with zero new rows.
package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opentillhq/tillsync/pkg/auth"
	dbpkg "github.com/opentillhq/tillsync/pkg/db"
	"github.com/opentillhq/tillsync/pkg/db/models"
	"github.com/opentillhq/tillsync/pkg/enums"
	pkgerrors "github.com/opentillhq/tillsync/pkg/errors"
	"github.com/opentillhq/tillsync/pkg/logger"
	"github.com/opentillhq/tillsync/pkg/money"
	"github.com/opentillhq/tillsync/pkg/types"
)

const (
	auditActionAccepted = "accepted"

	clientTxIDConstraint = "ux_pos_transactions_client_tx_id"
)

// ServiceParams configure the ingestion service.
type ServiceParams struct {
	Client *dbpkg.Client
	Repo   *Repository
	Logger *logger.Logger
}

type Service struct {
	client *dbpkg.Client
	repo   *Repository
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Client == nil {
		return nil, errors.New("db client is required")
	}
	if params.Repo == nil {
		return nil, errors.New("repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{client: params.Client, repo: params.Repo, logg: params.Logger}, nil
}

// Push processes a batch of transactions independently: each gets its own
// database transaction and its own verdict, and one bad entry never blocks
// the rest of the batch.
func (s *Service) Push(ctx context.Context, claims *auth.SyncTokenClaims, correlationID string, req types.PushRequest) (types.PushResponse, error) {
	if claims == nil {
		return types.PushResponse{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing claims")
	}

	results := make([]types.PushItemResult, 0, len(req.Transactions))
	for _, wireTx := range req.Transactions {
		results = append(results, s.accept(ctx, claims, correlationID, req.OutletID, wireTx))
	}
	return types.PushResponse{Results: results}, nil
}

func (s *Service) accept(ctx context.Context, claims *auth.SyncTokenClaims, correlationID string, batchOutletID int64, wireTx types.WireTransaction) types.PushItemResult {
	ctx = s.logg.WithClientTxID(ctx, wireTx.ClientTxID)

	if reject := s.validate(claims, batchOutletID, wireTx); reject != nil {
		s.logg.Warn(ctx, fmt.Sprintf("transaction rejected: %s", reject.Message))
		return *reject
	}

	transaction, items, payments, audit := buildRows(correlationID, wireTx)

	err := s.client.WithTx(ctx, func(tx *gorm.DB) error {
		return s.repo.CreateTransactionTx(tx, transaction, items, payments, audit)
	})
	switch {
	case err == nil:
		s.logg.Info(ctx, "transaction accepted")
		return types.PushItemResult{ClientTxID: wireTx.ClientTxID, Result: enums.PushOK}
	case dbpkg.IsUniqueViolation(err, clientTxIDConstraint):
		// Replay of an already-accepted transaction. Nothing was written.
		s.logg.Info(ctx, "transaction replayed, already accepted")
		return types.PushItemResult{
			ClientTxID: wireTx.ClientTxID,
			Result:     enums.PushDuplicate,
			Message:    "transaction already accepted",
		}
	default:
		s.logg.Error(ctx, "transaction insert failed", err)
		return types.PushItemResult{
			ClientTxID: wireTx.ClientTxID,
			Result:     enums.PushError,
			Message:    fmt.Sprintf("%s: %v", pkgerrors.CodeDependency, err),
		}
	}
}

// validate enforces scope and shape before any row is written. A rejected
// transaction yields an ERROR verdict for its entry only.
func (s *Service) validate(claims *auth.SyncTokenClaims, batchOutletID int64, wireTx types.WireTransaction) *types.PushItemResult {
	reject := func(code pkgerrors.Code, message string) *types.PushItemResult {
		return &types.PushItemResult{
			ClientTxID: wireTx.ClientTxID,
			Result:     enums.PushError,
			Message:    fmt.Sprintf("%s: %s", code, message),
		}
	}

	if wireTx.ClientTxID == "" {
		return reject(pkgerrors.CodeValidation, "client_tx_id is required")
	}
	if wireTx.CompanyID != claims.CompanyID {
		return reject(pkgerrors.CodeScopeMismatch, "company does not match credentials")
	}
	if wireTx.OutletID != batchOutletID {
		return reject(pkgerrors.CodeScopeMismatch, "outlet does not match batch outlet")
	}
	if !claims.AllowsOutlet(wireTx.OutletID) {
		return reject(pkgerrors.CodeScopeMismatch, "outlet not granted to credentials")
	}
	if !wireTx.Status.IsSyncable() {
		return reject(pkgerrors.CodeValidation, fmt.Sprintf("status %s is not accepted", wireTx.Status))
	}
	if len(wireTx.Items) == 0 {
		return reject(pkgerrors.CodeValidation, "at least one item is required")
	}
	if len(wireTx.Payments) == 0 {
		return reject(pkgerrors.CodeValidation, "at least one payment is required")
	}
	for _, item := range wireTx.Items {
		if item.Qty <= 0 {
			return reject(pkgerrors.CodeValidation, "item qty must be positive")
		}
		if item.PriceSnapshot.IsNegative() {
			return reject(pkgerrors.CodeValidation, "item price must not be negative")
		}
	}
	return nil
}

// buildRows derives the ledger rows from the wire transaction. Totals are
// recomputed here from the lines; the server never trusts client arithmetic.
func buildRows(correlationID string, wireTx types.WireTransaction) (*models.PosTransaction, []models.PosTransactionItem, []models.PosTransactionPayment, *models.SyncAuditEvent) {
	transactionID := uuid.New()

	items := make([]models.PosTransactionItem, 0, len(wireTx.Items))
	grand := money.Zero()
	for _, item := range wireTx.Items {
		items = append(items, models.PosTransactionItem{
			ID:            uuid.New(),
			TransactionID: transactionID,
			ItemID:        item.ItemID,
			NameSnapshot:  item.NameSnapshot,
			PriceSnapshot: money.Normalize(item.PriceSnapshot),
			Qty:           item.Qty,
		})
		grand = grand.Add(money.LineTotal(item.Qty, item.PriceSnapshot))
	}

	payments := make([]models.PosTransactionPayment, 0, len(wireTx.Payments))
	paid := money.Zero()
	for _, payment := range wireTx.Payments {
		payments = append(payments, models.PosTransactionPayment{
			ID:            uuid.New(),
			TransactionID: transactionID,
			Method:        payment.Method,
			Amount:        money.Normalize(payment.Amount),
		})
		paid = paid.Add(money.Normalize(payment.Amount))
	}

	transaction := &models.PosTransaction{
		ID:            transactionID,
		ClientTxID:    wireTx.ClientTxID,
		CompanyID:     wireTx.CompanyID,
		OutletID:      wireTx.OutletID,
		CashierUserID: wireTx.CashierUserID,
		Status:        wireTx.Status,
		TrxAt:         wireTx.TrxAt.UTC(),
		GrandTotal:    money.Normalize(grand),
		PaidTotal:     money.Normalize(paid),
	}

	audit := &models.SyncAuditEvent{
		ID:            uuid.New(),
		ClientTxID:    wireTx.ClientTxID,
		CompanyID:     wireTx.CompanyID,
		OutletID:      wireTx.OutletID,
		Action:        auditActionAccepted,
		CorrelationID: correlationID,
	}

	return transaction, items, payments, audit
}
