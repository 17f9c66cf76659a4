// Package localstore opens the terminal-local sqlite database that holds
// sales, line items, payments, the product price cache, and outbox jobs.
package localstore

import (
	"context"
	"fmt"
	"io"
	"log"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/opentillhq/tillsync/pkg/config"
	dbpkg "github.com/opentillhq/tillsync/pkg/db"
	"github.com/opentillhq/tillsync/pkg/db/models"
	"github.com/opentillhq/tillsync/pkg/logger"
)

// Open boots the local store and ensures its schema exists. Unlike the
// server store, the terminal schema is managed by AutoMigrate because the
// terminal has no migration runner of its own.
func Open(ctx context.Context, cfg config.LocalStoreConfig, logg *logger.Logger) (*dbpkg.Client, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("local store path is required")
	}

	gormLogger := gormlogger.New(
		log.New(io.Discard, "", log.LstdFlags),
		gormlogger.Config{LogLevel: gormlogger.Silent},
	)

	conn, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger:                 gormLogger,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	if err := Migrate(conn); err != nil {
		return nil, err
	}

	if logg != nil {
		logg.Info(ctx, "local store opened")
	}

	return dbpkg.NewFromConn(conn), nil
}

// Migrate creates the terminal-local tables. Exposed so tests can bootstrap
// an in-memory store with the production schema.
func Migrate(conn *gorm.DB) error {
	err := conn.AutoMigrate(
		&models.Sale{},
		&models.SaleItem{},
		&models.Payment{},
		&models.ProductCacheRow{},
		&models.OutboxJob{},
		&models.LeaderLease{},
	)
	if err != nil {
		return fmt.Errorf("migrating local store: %w", err)
	}
	return nil
}
