// internal/database/database.go

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"LinkMonitorAPI/internal/config"
	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/repository"
	"LinkMonitorAPI/internal/repository/sqlite"

	_ "github.com/lib/pq"
)

// Database owns the connection pool for the configured driver and the
// reading store built on top of it.
type Database struct {
	DB     *sql.DB
	Store  repository.ReadingStore
	cfg    *config.DatabaseConfig
	closer func() error
}

func New(ctx context.Context, cfg *config.DatabaseConfig, log *logger.Logger) (*Database, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return openSQLite(cfg)
	case config.DriverPostgres, "":
		return openPostgres(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openPostgres(ctx context.Context, cfg *config.DatabaseConfig, log *logger.Logger) (*Database, error) {
	dsn := cfg.DSN()

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := repository.NewReadingRepository(db, dsn, log)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{
		DB:     db,
		Store:  repo,
		cfg:    cfg,
		closer: db.Close,
	}, nil
}

func openSQLite(cfg *config.DatabaseConfig) (*Database, error) {
	var (
		store *sqlite.Store
		err   error
	)
	if cfg.SQLitePath == "" || cfg.SQLitePath == ":memory:" {
		store, err = sqlite.NewMemoryStore()
	} else {
		store, err = sqlite.NewFileStore(cfg.SQLitePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}

	return &Database{
		Store:  store,
		cfg:    cfg,
		closer: store.Close,
	}, nil
}

func (d *Database) Driver() string {
	return d.cfg.Driver
}

func (d *Database) Close() error {
	return d.closer()
}

func (d *Database) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := d.Store.Health(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	return nil
}

func (d *Database) Stats() sql.DBStats {
	if d.DB == nil {
		return sql.DBStats{}
	}
	return d.DB.Stats()
}
