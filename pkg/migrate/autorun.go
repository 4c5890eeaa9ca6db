package migrate

import (
	"context"
	"fmt"

	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/db"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
)

// MaybeRunDev applies pending migrations on boot, but only in dev with AUTO_MIGRATE set.
// Every binary calls it so a fresh local database is usable by whichever process starts first.
func MaybeRunDev(ctx context.Context, cfg *config.Config, logg *logger.Logger, client *db.Client) error {
	if cfg == nil || client == nil {
		return nil
	}
	if !cfg.App.IsDev() || !cfg.FeatureFlags.AutoMigrate {
		return nil
	}

	sqlDB, err := client.DB().DB()
	if err != nil {
		return fmt.Errorf("extracting sql.DB: %w", err)
	}

	state, err := Inspect(ctx, sqlDB, DefaultDir)
	if err != nil {
		return err
	}
	if logg != nil {
		ctx = logg.WithFields(ctx, map[string]any{
			"env":             cfg.App.Env,
			"schema_version":  state.Current,
			"pending_count":   len(state.Pending),
			"migrations_path": DefaultDir,
		})
	}
	if state.UpToDate() {
		if logg != nil {
			logg.Debug(ctx, "schema up to date")
		}
		return nil
	}

	if logg != nil {
		logg.Info(ctx, "applying pending migrations")
	}
	if err := Run(ctx, sqlDB, DefaultDir, CommandUp); err != nil {
		return err
	}
	if logg != nil {
		logg.Info(ctx, "migrations applied")
	}
	return nil
}
