package migrate

import (
	"context"
	"fmt"

	"github.com/opentillhq/tillsync/pkg/config"
	"github.com/opentillhq/tillsync/pkg/db"
	"github.com/opentillhq/tillsync/pkg/logger"
)

// MaybeRunDev applies pending migrations at boot when auto-run is enabled.
// Intended for dev environments; production deployments run cmd/migrate.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || client == nil {
		return nil
	}
	if !cfg.Migrate.AutoRun {
		return nil
	}
	if cfg.App.IsProd() {
		return fmt.Errorf("migration auto-run is disabled in prod")
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("getting sql db handle: %w", err)
	}

	dir := cfg.Migrate.Dir
	if dir == "" {
		dir = DefaultDir
	}

	if logg != nil {
		logg.Info(ctx, "applying pending migrations")
	}
	return Run(ctx, sqlDB, dir, "up")
}
