package outbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	dbpkg "github.com/opentillhq/tillsync/pkg/db"
	"github.com/opentillhq/tillsync/pkg/db/models"
	"github.com/opentillhq/tillsync/pkg/enums"
	"github.com/opentillhq/tillsync/pkg/localstore"
	"github.com/opentillhq/tillsync/pkg/logger"
)

func openTestClient(t *testing.T) *dbpkg.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := localstore.Migrate(conn); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	return dbpkg.NewFromConn(conn)
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Level: logger.ParseLevel("error")})
}

func mustCreateCompletedSale(t *testing.T, client *dbpkg.Client) models.Sale {
	t.Helper()
	clientTxID := uuid.NewString()
	now := time.Now()
	sale := models.Sale{
		ID:            uuid.New(),
		ClientTxID:    &clientTxID,
		CompanyID:     1,
		OutletID:      10,
		CashierUserID: 7,
		Status:        enums.SaleCompleted,
		SyncStatus:    enums.SyncPending,
		Subtotal:      decimal.NewFromInt(1000),
		DiscountTotal: decimal.Zero,
		TaxTotal:      decimal.NewFromInt(100),
		GrandTotal:    decimal.NewFromInt(1100),
		PaidTotal:     decimal.NewFromInt(1100),
		ChangeTotal:   decimal.Zero,
		TrxAt:         &now,
	}
	if err := client.DB().Create(&sale).Error; err != nil {
		t.Fatalf("create sale: %v", err)
	}
	return sale
}

func mustEnqueue(t *testing.T, client *dbpkg.Client, repo *Repository, sale models.Sale) models.OutboxJob {
	t.Helper()
	var job *models.OutboxJob
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		var err error
		job, err = repo.EnqueueTx(tx, sale)
		return err
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return *job
}
