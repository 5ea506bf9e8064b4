package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nextlevelbuilder/imsgclaw/internal/config"
	"github.com/nextlevelbuilder/imsgclaw/internal/store"
	"github.com/nextlevelbuilder/imsgclaw/internal/store/file"
	"github.com/nextlevelbuilder/imsgclaw/internal/store/sqlstore"
)

// openStores opens the pairing and route stores for the configured driver.
func openStores(ctx context.Context, cfg *config.Config) (*store.Stores, error) {
	stateDir := cfg.StateDir()
	switch driver := strings.ToLower(cfg.Database.Driver); driver {
	case "", "file":
		if err := os.MkdirAll(stateDir, 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		return file.NewFileStores(stateDir), nil

	case "sqlite":
		path := config.ExpandHome(cfg.Database.SQLitePath)
		if path == "" {
			path = filepath.Join(stateDir, "imsgclaw.db")
		}
		db, err := sqlstore.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		return migrated(ctx, db)

	case "postgres":
		if cfg.Database.PostgresDSN == "" {
			return nil, fmt.Errorf("database driver postgres requires IMSGCLAW_POSTGRES_DSN")
		}
		db, err := sqlstore.OpenPostgres(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return migrated(ctx, db)

	default:
		return nil, fmt.Errorf("unknown database driver %q (expected file, sqlite or postgres)", driver)
	}
}

func migrated(ctx context.Context, db *sqlstore.DB) (*store.Stores, error) {
	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return sqlstore.NewSQLStores(db), nil
}
