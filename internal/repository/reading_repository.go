package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/models"

	"github.com/lib/pq"
)

const (
	// ChangeChannel is the NOTIFY channel fired by the readings trigger.
	ChangeChannel = "readings_changed"

	upsertChunkSize = 1000
	listenerPing    = 90 * time.Second
)

const upsertPrefix = "INSERT INTO readings (id, access_point, sensor_name, pdr, rss, observed_at, warning) VALUES "

const upsertSuffix = " ON CONFLICT (id) DO UPDATE SET" +
	" access_point = EXCLUDED.access_point," +
	" sensor_name = EXCLUDED.sensor_name," +
	" pdr = EXCLUDED.pdr," +
	" rss = EXCLUDED.rss," +
	" observed_at = EXCLUDED.observed_at," +
	" warning = COALESCE(readings.warning, EXCLUDED.warning)," +
	" updated_at = NOW()"

// resolveQuery only touches rows that are still unknown and unchanged since
// they were classified.
const resolveQuery = `
		UPDATE readings AS r
		SET warning = v.warning, updated_at = NOW()
		FROM unnest($1::text[], $2::double precision[], $3::double precision[], $4::bigint[], $5::boolean[])
			AS v(id, pdr, rss, observed_at, warning)
		WHERE r.id = v.id
			AND r.warning IS NULL
			AND r.pdr = v.pdr
			AND r.rss = v.rss
			AND r.observed_at = v.observed_at
	`

const scanAllQuery = `
		SELECT id, access_point, sensor_name, pdr, rss, observed_at, warning
		FROM readings
		ORDER BY access_point NULLS FIRST, sensor_name, observed_at
	`

// notificationListener is the subset of *pq.Listener used for change feeds.
type notificationListener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// ReadingRepository is the Postgres ReadingStore. Change notifications come
// from a statement-level trigger calling pg_notify.
type ReadingRepository struct {
	db          *sql.DB
	log         *logger.Logger
	newListener func() notificationListener
}

func NewReadingRepository(db *sql.DB, dsn string, log *logger.Logger) *ReadingRepository {
	r := &ReadingRepository{db: db, log: log}

	r.newListener = func() notificationListener {
		return pq.NewListener(dsn, time.Second, time.Minute, r.onListenerEvent)
	}

	return r
}

func (r *ReadingRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("failed to apply readings schema: %w", err)
	}
	return nil
}

func (r *ReadingRepository) UpsertMany(ctx context.Context, readings []models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	// Postgres rejects a statement that touches the same row twice.
	readings = DedupeLastWins(readings)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return &models.StoreError{Op: "upsert", Err: fmt.Errorf("failed to begin transaction: %w", err)}
	}
	defer tx.Rollback()

	for start := 0; start < len(readings); start += upsertChunkSize {
		end := start + upsertChunkSize
		if end > len(readings) {
			end = len(readings)
		}

		query, args := buildUpsert(readings[start:end])
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return &models.StoreError{Op: "upsert", Err: fmt.Errorf("failed to upsert readings: %w", describePQ(err))}
		}
	}

	if err := tx.Commit(); err != nil {
		return &models.StoreError{Op: "upsert", Err: fmt.Errorf("failed to commit transaction: %w", err)}
	}

	return nil
}

func buildUpsert(readings []models.Reading) (string, []interface{}) {
	var b strings.Builder
	b.WriteString(upsertPrefix)

	args := make([]interface{}, 0, len(readings)*7)
	for i, rd := range readings {
		if i > 0 {
			b.WriteString(",")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d,$%d,$%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)

		args = append(args,
			rd.ID,
			nullString(rd.AccessPoint),
			rd.SensorName,
			rd.PDR,
			rd.RSS,
			rd.ObservedAt,
			NullWarning(rd.Warning),
		)
	}

	b.WriteString(upsertSuffix)
	return b.String(), args
}

func (r *ReadingRepository) ResolveWarnings(ctx context.Context, classified []models.Reading) (int, error) {
	ids := make([]string, 0, len(classified))
	pdrs := make([]float64, 0, len(classified))
	rsss := make([]float64, 0, len(classified))
	observed := make([]int64, 0, len(classified))
	warnings := make([]bool, 0, len(classified))

	for _, rd := range classified {
		v, ok := rd.Warning.Bool()
		if !ok {
			continue
		}
		ids = append(ids, rd.ID)
		pdrs = append(pdrs, rd.PDR)
		rsss = append(rsss, rd.RSS)
		observed = append(observed, rd.ObservedAt)
		warnings = append(warnings, v)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := r.db.ExecContext(ctx, resolveQuery,
		pq.Array(ids), pq.Array(pdrs), pq.Array(rsss), pq.Array(observed), pq.Array(warnings))
	if err != nil {
		return 0, &models.StoreError{Op: "resolve", Err: fmt.Errorf("failed to store warnings: %w", describePQ(err))}
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, &models.StoreError{Op: "resolve", Err: err}
	}
	return int(n), nil
}

func (r *ReadingRepository) ScanAll(ctx context.Context) ([]models.Reading, error) {
	rows, err := r.db.QueryContext(ctx, scanAllQuery)
	if err != nil {
		return nil, &models.StoreError{Op: "scan", Err: fmt.Errorf("failed to query readings: %w", describePQ(err))}
	}
	defer rows.Close()

	readings := []models.Reading{}
	for rows.Next() {
		rd, err := ScanReading(rows)
		if err != nil {
			return nil, &models.StoreError{Op: "scan", Err: err}
		}
		readings = append(readings, rd)
	}

	if err := rows.Err(); err != nil {
		return nil, &models.StoreError{Op: "scan", Err: err}
	}

	return readings, nil
}

func (r *ReadingRepository) SubscribeChanges(ctx context.Context) (<-chan struct{}, error) {
	l := r.newListener()
	if err := l.Listen(ChangeChannel); err != nil {
		l.Close()
		return nil, &models.StoreError{Op: "subscribe", Err: fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)}
	}

	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		defer l.Close()

		ticker := time.NewTicker(listenerPing)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case n, ok := <-l.NotificationChannel():
				if !ok {
					r.log.Warn("Change listener closed")
					return
				}
				// nil arrives after a reconnect; changes may have been missed.
				if n == nil {
					r.log.Info("Change listener reconnected, forcing refresh")
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case <-ticker.C:
				if err := l.Ping(); err != nil {
					r.log.Warn("Change listener ping failed: %v", err)
				}
			}
		}
	}()

	return out, nil
}

func (r *ReadingRepository) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := r.db.PingContext(ctx); err != nil {
		return &models.StoreError{Op: "health", Err: err}
	}
	return nil
}

func (r *ReadingRepository) onListenerEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		r.log.Debug("Change listener connected")
	case pq.ListenerEventDisconnected:
		r.log.Warn("Change listener disconnected: %v", err)
	case pq.ListenerEventReconnected:
		r.log.Info("Change listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		r.log.Error("Change listener connection attempt failed: %v", err)
	}
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// ScanReading reads the columns selected by scanAllQuery.
func ScanReading(row rowScanner) (models.Reading, error) {
	var rd models.Reading
	var ap sql.NullString
	var warning sql.NullBool

	if err := row.Scan(&rd.ID, &ap, &rd.SensorName, &rd.PDR, &rd.RSS, &rd.ObservedAt, &warning); err != nil {
		return rd, fmt.Errorf("failed to scan reading: %w", err)
	}

	if ap.Valid {
		v := ap.String
		rd.AccessPoint = &v
	}
	rd.Warning = WarningFromNull(warning)

	return rd, nil
}

func NullWarning(w models.WarningState) sql.NullBool {
	v, ok := w.Bool()
	return sql.NullBool{Bool: v, Valid: ok}
}

func WarningFromNull(n sql.NullBool) models.WarningState {
	if !n.Valid {
		return models.WarningUnknown
	}
	return models.WarningFromBool(n.Bool)
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func describePQ(err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		return fmt.Errorf("%s (%s): %w", pqErr.Message, pqErr.Code, err)
	}
	return err
}
