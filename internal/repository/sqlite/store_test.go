package sqlite

import (
	"context"
	"testing"
	"time"

	"LinkMonitorAPI/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	store, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func strPtr(s string) *string { return &s }

func TestNewFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir() + "/readings.db")
	require.NoError(t, err)
	defer store.Close()

	assert.NoError(t, store.Health(context.Background()))
}

func TestUpsertManyIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	batch := []models.Reading{
		{ID: "s1100", SensorName: "s1", PDR: 0.9, RSS: -60, ObservedAt: 100},
		{ID: "s1101", SensorName: "s1", PDR: 0.95, RSS: -62, ObservedAt: 101},
		{ID: "ap1s2100", AccessPoint: strPtr("ap1"), SensorName: "s2", PDR: 0.4, RSS: -80, ObservedAt: 100},
	}

	require.NoError(t, store.UpsertMany(ctx, batch))
	once, err := store.ScanAll(ctx)
	require.NoError(t, err)

	require.NoError(t, store.UpsertMany(ctx, batch))
	twice, err := store.ScanAll(ctx)
	require.NoError(t, err)

	assert.Len(t, once, 3)
	assert.Equal(t, once, twice)
}

func TestScanAllOrdering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMany(ctx, []models.Reading{
		{ID: "ap1s2100", AccessPoint: strPtr("ap1"), SensorName: "s2", ObservedAt: 100},
		{ID: "s1101", SensorName: "s1", ObservedAt: 101},
		{ID: "s1100", SensorName: "s1", ObservedAt: 100},
	}))

	readings, err := store.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, readings, 3)

	assert.Equal(t, "s1100", readings[0].ID)
	assert.Equal(t, "s1101", readings[1].ID)
	assert.Equal(t, "ap1s2100", readings[2].ID)
	require.NotNil(t, readings[2].AccessPoint)
	assert.Equal(t, "ap1", *readings[2].AccessPoint)
}

func TestReingestionKeepsResolvedWarning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMany(ctx, []models.Reading{
		{ID: "s1100", SensorName: "s1", PDR: 0.2, RSS: -90, ObservedAt: 100},
	}))
	require.NoError(t, store.UpsertMany(ctx, []models.Reading{
		{ID: "s1100", SensorName: "s1", PDR: 0.2, RSS: -90, ObservedAt: 100, Warning: models.WarningTrue},
	}))

	// re-ingest with new metrics and no classification
	require.NoError(t, store.UpsertMany(ctx, []models.Reading{
		{ID: "s1100", SensorName: "s1", PDR: 0.3, RSS: -85, ObservedAt: 100},
	}))

	readings, err := store.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, readings, 1)

	assert.Equal(t, models.WarningTrue, readings[0].Warning)
	assert.InDelta(t, 0.3, readings[0].PDR, 1e-9)
	assert.InDelta(t, -85, readings[0].RSS, 1e-9)
}

func TestResolvedWarningIsNotFlipped(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMany(ctx, []models.Reading{
		{ID: "s11", SensorName: "s1", ObservedAt: 1, Warning: models.WarningFalse},
	}))
	require.NoError(t, store.UpsertMany(ctx, []models.Reading{
		{ID: "s11", SensorName: "s1", ObservedAt: 1, Warning: models.WarningTrue},
	}))

	readings, err := store.ScanAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.WarningFalse, readings[0].Warning)
}

func TestSubscribeChangesSignalsAfterCommit(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := store.SubscribeChanges(ctx)
	require.NoError(t, err)

	require.NoError(t, store.UpsertMany(ctx, []models.Reading{{ID: "s11", SensorName: "s1", ObservedAt: 1}}))

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("expected change notification")
	}
}

func TestSubscribeChangesClosedOnStoreClose(t *testing.T) {
	store, err := NewMemoryStore()
	require.NoError(t, err)

	changes, err := store.SubscribeChanges(context.Background())
	require.NoError(t, err)

	require.NoError(t, store.Close())

	_, ok := <-changes
	assert.False(t, ok)
}

func TestUpsertManyEmptyDoesNotNotify(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes, err := store.SubscribeChanges(ctx)
	require.NoError(t, err)

	require.NoError(t, store.UpsertMany(ctx, nil))

	select {
	case <-changes:
		t.Fatal("empty upsert should not signal")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestResolveWarningsOnlyWritesWarning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertMany(ctx, []models.Reading{
		{ID: "s1100", SensorName: "s1", PDR: 0.9, RSS: -60, ObservedAt: 100},
		{ID: "s2100", SensorName: "s2", PDR: 0.2, RSS: -92, ObservedAt: 100},
		{ID: "s3100", SensorName: "s3", PDR: 0.3, RSS: -91, ObservedAt: 100, Warning: models.WarningFalse},
	}))

	// s2 was re-ingested with other metrics after it was read
	require.NoError(t, store.UpsertMany(ctx, []models.Reading{
		{ID: "s2100", SensorName: "s2", PDR: 0.8, RSS: -70, ObservedAt: 100},
	}))

	n, err := store.ResolveWarnings(ctx, []models.Reading{
		{ID: "s1100", SensorName: "s1", PDR: 0.9, RSS: -60, ObservedAt: 100, Warning: models.WarningFalse},
		{ID: "s2100", SensorName: "s2", PDR: 0.2, RSS: -92, ObservedAt: 100, Warning: models.WarningTrue},
		{ID: "s3100", SensorName: "s3", PDR: 0.3, RSS: -91, ObservedAt: 100, Warning: models.WarningTrue},
		{ID: "gone", SensorName: "x", Warning: models.WarningTrue},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	readings, err := store.ScanAll(ctx)
	require.NoError(t, err)
	require.Len(t, readings, 3)

	assert.Equal(t, models.WarningFalse, readings[0].Warning)
	assert.Equal(t, 0.8, readings[1].PDR)
	assert.Equal(t, models.WarningUnknown, readings[1].Warning)
	assert.Equal(t, models.WarningFalse, readings[2].Warning)
}

func TestResolveWarningsNotifiesOnlyOnChange(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, store.UpsertMany(ctx, []models.Reading{
		{ID: "s1100", SensorName: "s1", PDR: 0.9, RSS: -60, ObservedAt: 100},
	}))

	changes, err := store.SubscribeChanges(ctx)
	require.NoError(t, err)

	n, err := store.ResolveWarnings(ctx, []models.Reading{
		{ID: "s1100", SensorName: "s1", PDR: 0.5, RSS: -60, ObservedAt: 100, Warning: models.WarningTrue},
	})
	require.NoError(t, err)
	assert.Zero(t, n)

	select {
	case <-changes:
		t.Fatal("unchanged rows should not signal")
	case <-time.After(50 * time.Millisecond):
	}

	n, err = store.ResolveWarnings(ctx, []models.Reading{
		{ID: "s1100", SensorName: "s1", PDR: 0.9, RSS: -60, ObservedAt: 100, Warning: models.WarningFalse},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	select {
	case <-changes:
	case <-time.After(time.Second):
		t.Fatal("resolved warning was not signalled")
	}
}
