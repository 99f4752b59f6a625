package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*ReadingRepository, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewReadingRepository(db, "", logger.Discard()), mock
}

func strPtr(s string) *string { return &s }

func TestUpsertManyWritesOneStatement(t *testing.T) {
	repo, mock := newMockRepo(t)

	readings := []models.Reading{
		{ID: "s1100", SensorName: "s1", PDR: 0.9, RSS: -60, ObservedAt: 100},
		{ID: "ap1s2100", AccessPoint: strPtr("ap1"), SensorName: "s2", PDR: 0.1, RSS: -90, ObservedAt: 100, Warning: models.WarningTrue},
	}

	expected := regexp.QuoteMeta(upsertPrefix + "($1,$2,$3,$4,$5,$6,$7),($8,$9,$10,$11,$12,$13,$14)" + upsertSuffix)

	mock.ExpectBegin()
	mock.ExpectExec(expected).
		WithArgs(
			"s1100", nil, "s1", 0.9, -60.0, int64(100), nil,
			"ap1s2100", "ap1", "s2", 0.1, -90.0, int64(100), true,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.UpsertMany(context.Background(), readings))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertManyKeepsLastDuplicate(t *testing.T) {
	repo, mock := newMockRepo(t)

	readings := []models.Reading{
		{ID: "s1100", SensorName: "s1", PDR: 0.9, RSS: -60, ObservedAt: 100},
		{ID: "s1100", SensorName: "s1", PDR: 0.5, RSS: -70, ObservedAt: 100},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(upsertPrefix + "($1,$2,$3,$4,$5,$6,$7)" + upsertSuffix)).
		WithArgs("s1100", nil, "s1", 0.5, -70.0, int64(100), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.UpsertMany(context.Background(), readings))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertManyPreservesResolvedWarningInSQL(t *testing.T) {
	assert.Contains(t, upsertSuffix, "warning = COALESCE(readings.warning, EXCLUDED.warning)")
}

func TestUpsertManyEmptyIsNoop(t *testing.T) {
	repo, mock := newMockRepo(t)

	require.NoError(t, repo.UpsertMany(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertManyWrapsFailures(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO readings").
		WillReturnError(&pq.Error{Code: "57P01", Message: "terminating connection"})
	mock.ExpectRollback()

	err := repo.UpsertMany(context.Background(), []models.Reading{{ID: "s11", SensorName: "s1", ObservedAt: 1}})

	var storeErr *models.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "upsert", storeErr.Op)
	assert.Contains(t, err.Error(), "57P01")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanAll(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "access_point", "sensor_name", "pdr", "rss", "observed_at", "warning"}).
		AddRow("s1100", nil, "s1", 0.9, -60.0, int64(100), nil).
		AddRow("ap1s2100", "ap1", "s2", 0.1, -90.0, int64(100), true)

	mock.ExpectQuery(regexp.QuoteMeta(scanAllQuery)).WillReturnRows(rows)

	readings, err := repo.ScanAll(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 2)

	assert.Nil(t, readings[0].AccessPoint)
	assert.Equal(t, models.WarningUnknown, readings[0].Warning)

	require.NotNil(t, readings[1].AccessPoint)
	assert.Equal(t, "ap1", *readings[1].AccessPoint)
	assert.Equal(t, models.WarningTrue, readings[1].Warning)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestScanAllFailureIsStoreError(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT id").WillReturnError(errors.New("connection refused"))

	_, err := repo.ScanAll(context.Background())

	var storeErr *models.StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "scan", storeErr.Op)
}

type fakeListener struct {
	listenErr error
	ch        chan *pq.Notification
	closed    chan struct{}
}

func newFakeListener() *fakeListener {
	return &fakeListener{ch: make(chan *pq.Notification, 4), closed: make(chan struct{})}
}

func (f *fakeListener) Listen(string) error                          { return f.listenErr }
func (f *fakeListener) NotificationChannel() <-chan *pq.Notification { return f.ch }
func (f *fakeListener) Ping() error                                  { return nil }
func (f *fakeListener) Close() error {
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return nil
}

func TestSubscribeChangesForwardsNotifications(t *testing.T) {
	repo, _ := newMockRepo(t)
	fl := newFakeListener()
	repo.newListener = func() notificationListener { return fl }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := repo.SubscribeChanges(ctx)
	require.NoError(t, err)

	fl.ch <- &pq.Notification{Channel: ChangeChannel}
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("expected change signal")
	}

	// reconnect marker
	fl.ch <- nil
	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("expected change signal after reconnect")
	}

	cancel()
	select {
	case _, ok := <-changes:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected channel to close")
	}
	<-fl.closed
}

func TestSubscribeChangesListenFailure(t *testing.T) {
	repo, _ := newMockRepo(t)
	fl := newFakeListener()
	fl.listenErr = errors.New("no route to host")
	repo.newListener = func() notificationListener { return fl }

	_, err := repo.SubscribeChanges(context.Background())

	var storeErr *models.StoreError
	require.True(t, errors.As(err, &storeErr))
	<-fl.closed
}

func TestResolveWarningsUpdatesOnlyUnchangedRows(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(resolveQuery)).
		WithArgs(
			pq.Array([]string{"s1100", "ap1s2100"}),
			pq.Array([]float64{0.9, 0.1}),
			pq.Array([]float64{-60, -90}),
			pq.Array([]int64{100, 100}),
			pq.Array([]bool{false, true}),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.ResolveWarnings(context.Background(), []models.Reading{
		{ID: "s1100", SensorName: "s1", PDR: 0.9, RSS: -60, ObservedAt: 100, Warning: models.WarningFalse},
		{ID: "ap1s2100", AccessPoint: strPtr("ap1"), SensorName: "s2", PDR: 0.1, RSS: -90, ObservedAt: 100, Warning: models.WarningTrue},
		{ID: "s3100", SensorName: "s3", PDR: 0.5, RSS: -70, ObservedAt: 100},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveWarningsSkipsUnknownOnly(t *testing.T) {
	repo, mock := newMockRepo(t)

	n, err := repo.ResolveWarnings(context.Background(), []models.Reading{{ID: "s1100"}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveWarningsWrapsFailures(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta(resolveQuery)).WillReturnError(errors.New("connection reset"))

	_, err := repo.ResolveWarnings(context.Background(), []models.Reading{
		{ID: "s1100", Warning: models.WarningTrue},
	})

	var serr *models.StoreError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "resolve", serr.Op)
}
