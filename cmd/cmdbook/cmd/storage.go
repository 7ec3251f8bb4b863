package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jmcleod/cmdbook/auth"
	"github.com/jmcleod/cmdbook/internal/config"
	"github.com/jmcleod/cmdbook/storage"
	bboltstorage "github.com/jmcleod/cmdbook/storage/bbolt"
	"github.com/jmcleod/cmdbook/storage/memory"
	"github.com/jmcleod/cmdbook/storage/postgres"
	"github.com/jmcleod/cmdbook/storage/sqlite"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// openRepository opens the configured storage backend.
func openRepository(ctx context.Context, cfg *config.Config) (storage.Repository, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return memory.NewRepository(), nopCloser{}, nil
	case config.BackendPostgres:
		store, err := postgres.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := sqlite.Open(filepath.Join(cfg.DataDir, "cmdbook.sqlite"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite storage: %w", err)
		}
		return store, store, nil
	default:
		store, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "cmdbook.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open bbolt storage: %w", err)
		}
		return store, store, nil
	}
}

// storageKeys returns the record-sealing keys. Without a configured storage
// key they are derived from the artifact passphrase, which anyone holding
// the binary's default can reproduce.
func storageKeys(cfg *config.Config, logger *slog.Logger) (auth.Keys, error) {
	master, err := cfg.StorageKeyBytes()
	if err != nil {
		return auth.Keys{}, err
	}
	if master == nil {
		logger.Warn("no storage key configured; deriving one from the artifact passphrase",
			"hint", "set CMDBOOK_STORAGE_KEY to 64 hex characters")
		master, err = auth.MasterKeyFromPassphrase(cfg.ArtifactPassphrase)
		if err != nil {
			return auth.Keys{}, err
		}
	}
	return auth.DeriveKeys(master)
}
