package main

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/videocredits/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/videocredits/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/videocredits/pkg/ledger"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ledgerBackend bundles the selected store with the handles needed for migrations and the refund queue.
type ledgerBackend struct {
	driver    string
	store     ledger.Store
	gormStore *gormstore.Store
	database  *gormstore.Database
	pgStore   *pgstore.Store
	pool      *pgxpool.Pool
}

func openBackend(ctx context.Context, cfg *runtimeConfig) (*ledgerBackend, error) {
	driver, _, err := gormstore.ResolveDriver(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	backend := &ledgerBackend{driver: driver}

	if driver == gormstore.DriverPostgres {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("pgx pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("pgx ping: %w", err)
		}
		backend.pool = pool
	}

	switch cfg.StoreDriver {
	case storeDriverPGX:
		if backend.pool == nil {
			return nil, fmt.Errorf("%s=%s requires a PostgreSQL database url", flagStoreDriver, storeDriverPGX)
		}
		backend.pgStore = pgstore.New(backend.pool)
		backend.store = backend.pgStore
	default:
		database, err := gormstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			backend.Close()
			return nil, err
		}
		backend.database = database
		backend.gormStore = gormstore.New(database.DB)
		backend.store = backend.gormStore
	}
	return backend, nil
}

// prepareEmbeddedSchema migrates SQLite on start; PostgreSQL schemas are managed by `creditd migrate`.
func (backend *ledgerBackend) prepareEmbeddedSchema(ctx context.Context) error {
	if backend.driver != gormstore.DriverSQLite || backend.database == nil {
		return nil
	}
	if err := gormstore.Migrate(ctx, backend.database.DB); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (backend *ledgerBackend) migrate(ctx context.Context) (int, error) {
	if backend.pgStore != nil {
		if err := backend.pgStore.EnsureSchema(ctx); err != nil {
			return 0, fmt.Errorf("ensure schema: %w", err)
		}
		return 0, nil
	}
	if err := gormstore.Migrate(ctx, backend.database.DB); err != nil {
		return 0, fmt.Errorf("auto migrate: %w", err)
	}
	backfilled, err := backend.gormStore.BackfillJobIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("backfill job ids: %w", err)
	}
	return backfilled, nil
}

func (backend *ledgerBackend) Close() {
	if backend.database != nil {
		_ = backend.database.Close()
	}
	if backend.pool != nil {
		backend.pool.Close()
	}
}
