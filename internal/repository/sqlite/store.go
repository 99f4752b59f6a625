// Package sqlite provides a SQLite implementation of repository.ReadingStore.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"LinkMonitorAPI/internal/models"
	"LinkMonitorAPI/internal/repository"

	_ "modernc.org/sqlite"
)

const upsertQuery = `
	INSERT INTO readings (id, access_point, sensor_name, pdr, rss, observed_at, warning)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		access_point = excluded.access_point,
		sensor_name = excluded.sensor_name,
		pdr = excluded.pdr,
		rss = excluded.rss,
		observed_at = excluded.observed_at,
		warning = COALESCE(readings.warning, excluded.warning),
		updated_at = CURRENT_TIMESTAMP
`

const resolveQuery = `
	UPDATE readings
	SET warning = ?, updated_at = CURRENT_TIMESTAMP
	WHERE id = ? AND warning IS NULL AND pdr = ? AND rss = ? AND observed_at = ?
`

// Store keeps readings in SQLite and signals changes in-process after
// every committed write.
type Store struct {
	db     *sql.DB
	owned  bool
	change *repository.ChangeFeed
}

// NewMemoryStore creates an in-memory SQLite store.
func NewMemoryStore() (*Store, error) {
	return open(":memory:")
}

// NewFileStore creates a file-based SQLite store.
func NewFileStore(path string) (*Store, error) {
	return open(path)
}

// New wraps an already opened database. The caller keeps ownership of db.
func New(db *sql.DB) (*Store, error) {
	s := &Store{db: db, change: repository.NewChangeFeed()}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

func open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a second connection to :memory: would see an empty database
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}

// Close ends all change subscriptions and closes the database if the store opened it.
func (s *Store) Close() error {
	s.change.Close()
	if s.owned {
		return s.db.Close()
	}
	return nil
}

func (s *Store) UpsertMany(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &models.StoreError{Op: "upsert", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertQuery)
	if err != nil {
		return &models.StoreError{Op: "upsert", Err: fmt.Errorf("failed to prepare statement: %w", err)}
	}
	defer stmt.Close()

	for _, r := range repository.DedupeLastWins(readings) {
		var ap interface{}
		if r.AccessPoint != nil {
			ap = *r.AccessPoint
		}
		if _, err := stmt.ExecContext(ctx, r.ID, ap, r.SensorName, r.PDR, r.RSS, r.ObservedAt, repository.NullWarning(r.Warning)); err != nil {
			return &models.StoreError{Op: "upsert", Err: fmt.Errorf("failed to upsert reading %s: %w", r.ID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.StoreError{Op: "upsert", Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}

	s.change.Notify()
	return nil
}

func (s *Store) ResolveWarnings(ctx context.Context, classified []models.Reading) (int, error) {
	if len(classified) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &models.StoreError{Op: "resolve", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, resolveQuery)
	if err != nil {
		return 0, &models.StoreError{Op: "resolve", Err: fmt.Errorf("failed to prepare statement: %w", err)}
	}
	defer stmt.Close()

	updated := 0
	for _, r := range classified {
		v, ok := r.Warning.Bool()
		if !ok {
			continue
		}
		res, err := stmt.ExecContext(ctx, v, r.ID, r.PDR, r.RSS, r.ObservedAt)
		if err != nil {
			return 0, &models.StoreError{Op: "resolve", Err: fmt.Errorf("failed to resolve reading %s: %w", r.ID, err)}
		}
		if n, err := res.RowsAffected(); err == nil {
			updated += int(n)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &models.StoreError{Op: "resolve", Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}

	if updated > 0 {
		s.change.Notify()
	}
	return updated, nil
}

func (s *Store) ScanAll(ctx context.Context) ([]models.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, access_point, sensor_name, pdr, rss, observed_at, warning
		FROM readings
		ORDER BY access_point IS NOT NULL, access_point, sensor_name, observed_at
	`)
	if err != nil {
		return nil, &models.StoreError{Op: "scan", Err: err}
	}
	defer rows.Close()

	readings := []models.Reading{}
	for rows.Next() {
		r, err := repository.ScanReading(rows)
		if err != nil {
			return nil, &models.StoreError{Op: "scan", Err: err}
		}
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StoreError{Op: "scan", Err: err}
	}

	return readings, nil
}

func (s *Store) SubscribeChanges(ctx context.Context) (<-chan struct{}, error) {
	return s.change.Subscribe(ctx)
}

func (s *Store) Health(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return &models.StoreError{Op: "health", Err: err}
	}
	return nil
}

var _ repository.ReadingStore = (*Store)(nil)
