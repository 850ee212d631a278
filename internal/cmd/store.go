package cmd

import (
	"context"

	"github.com/solanago/solanago/internal/config"
	"github.com/solanago/solanago/internal/core/store"
)

// openStore opens and migrates the history store. It returns nil without
// error when the store is disabled.
func openStore(ctx context.Context, cfg config.StoreConfig) (*store.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	db, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func closeStore(db *store.Store) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
