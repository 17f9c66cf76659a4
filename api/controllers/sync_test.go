package controllers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/opentillhq/tillsync/api/middleware"
	"github.com/opentillhq/tillsync/internal/ingest"
	"github.com/opentillhq/tillsync/pkg/auth"
	dbpkg "github.com/opentillhq/tillsync/pkg/db"
	"github.com/opentillhq/tillsync/pkg/db/models"
	"github.com/opentillhq/tillsync/pkg/enums"
	"github.com/opentillhq/tillsync/pkg/logger"
	"github.com/opentillhq/tillsync/pkg/metrics"
	"github.com/opentillhq/tillsync/pkg/types"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("error")})
}

func newPushHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	err = conn.AutoMigrate(
		&models.PosTransaction{},
		&models.PosTransactionItem{},
		&models.PosTransactionPayment{},
		&models.SyncAuditEvent{},
	)
	if err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	client := dbpkg.NewFromConn(conn)

	service, err := ingest.NewService(ingest.ServiceParams{
		Client: client,
		Repo:   ingest.NewRepository(client.DB()),
		Logger: testLogger(),
	})
	if err != nil {
		t.Fatalf("new ingest service: %v", err)
	}
	return SyncPush(service, metrics.NewSyncMetrics(prometheus.NewRegistry()), testLogger())
}

func testClaims() *auth.SyncTokenClaims {
	return &auth.SyncTokenClaims{UserID: 7, CompanyID: 1, OutletIDs: []int64{10}}
}

func pushBody(t *testing.T, clientTxID string) *bytes.Reader {
	t.Helper()
	req := types.PushRequest{OutletID: 10, Transactions: []types.WireTransaction{{
		ClientTxID:    clientTxID,
		CompanyID:     1,
		OutletID:      10,
		CashierUserID: 7,
		Status:        enums.SaleCompleted,
		TrxAt:         time.Now().UTC(),
		Items: []types.WireItem{
			{ItemID: 42, Qty: 1, PriceSnapshot: decimal.NewFromInt(500), NameSnapshot: "Americano"},
		},
		Payments: []types.WirePayment{
			{Method: "cash", Amount: decimal.NewFromInt(500)},
		},
	}}}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal push body: %v", err)
	}
	return bytes.NewReader(body)
}

func doPush(handler http.HandlerFunc, claims *auth.SyncTokenClaims, body *bytes.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pos/sync/push", body)
	req.Header.Set("Content-Type", "application/json")
	ctx := middleware.WithCorrelationID(req.Context(), "corr-test")
	if claims != nil {
		ctx = middleware.WithClaims(ctx, claims)
	}
	rec := httptest.NewRecorder()
	handler(rec, req.WithContext(ctx))
	return rec
}

func TestSyncPushAccepted(t *testing.T) {
	handler := newPushHandler(t)
	clientTxID := uuid.NewString()

	rec := doPush(handler, testClaims(), pushBody(t, clientTxID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var envelope struct {
		Data types.PushResponse `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(envelope.Data.Results) != 1 {
		t.Fatalf("expected 1 result, got %+v", envelope.Data)
	}
	got := envelope.Data.Results[0]
	if got.ClientTxID != clientTxID || got.Result != enums.PushOK {
		t.Fatalf("unexpected result: %+v", got)
	}

	// Replay through the handler settles as DUPLICATE.
	rec = doPush(handler, testClaims(), pushBody(t, clientTxID))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode replay response: %v", err)
	}
	if envelope.Data.Results[0].Result != enums.PushDuplicate {
		t.Fatalf("expected DUPLICATE on replay, got %+v", envelope.Data.Results[0])
	}
}

func TestSyncPushRequiresClaims(t *testing.T) {
	handler := newPushHandler(t)

	rec := doPush(handler, nil, pushBody(t, uuid.NewString()))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("unexpected error code: %s", envelope.Error.Code)
	}
}

func TestSyncPushUngrantedOutletFailsClosed(t *testing.T) {
	handler := newPushHandler(t)
	claims := &auth.SyncTokenClaims{UserID: 7, CompanyID: 1, OutletIDs: []int64{11}}

	rec := doPush(handler, claims, pushBody(t, uuid.NewString()))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	var envelope types.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if envelope.Error.Code != "FORBIDDEN" {
		t.Fatalf("unexpected error code: %s", envelope.Error.Code)
	}
}

func TestSyncPushMalformedBody(t *testing.T) {
	handler := newPushHandler(t)

	rec := doPush(handler, testClaims(), bytes.NewReader([]byte(`{"outlet_id":`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "VALIDATION_ERROR") {
		t.Fatalf("expected a validation error body, got %s", rec.Body.String())
	}
}
