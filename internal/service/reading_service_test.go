package service

import (
	"context"
	"errors"
	"testing"

	"LinkMonitorAPI/internal/ingest"
	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct {
	fakeStore
}

func (f *failingStore) UpsertMany(context.Context, []models.Reading) error {
	return &models.StoreError{Op: "upsert", Err: errors.New("disk full")}
}

func TestIngestStoresReadings(t *testing.T) {
	store := newSQLiteStore(t)
	svc := NewReadingService(ingest.NewNormalizer(ingest.Options{}), store, nil, logger.Discard())

	n, err := svc.Ingest(context.Background(), []byte(`{"name":"s1","pdr":[0.9,0.95],"rss":[-60,-62],"at":100}`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap.Readings, 2)
	assert.Equal(t, "s1100", snap.Readings[0].ID)
	assert.Equal(t, "s1101", snap.Readings[1].ID)
	assert.Equal(t, 2, snap.UnknownCount)
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	store := newSQLiteStore(t)
	svc := NewReadingService(ingest.NewNormalizer(ingest.Options{}), store, nil, logger.Discard())

	_, err := svc.Ingest(context.Background(), []byte(`{"name":"s1","pdr":[0.9],"rss":[],"at":100}`))

	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))

	snap, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Empty(t, snap.Readings)
}

func TestIngestPropagatesStoreError(t *testing.T) {
	svc := NewReadingService(ingest.NewNormalizer(ingest.Options{}), &failingStore{}, nil, logger.Discard())

	_, err := svc.Ingest(context.Background(), []byte(`[{"sensor_name":"s1","pdr":0.9,"rss":-60,"updated_at":100}]`))

	var serr *models.StoreError
	assert.True(t, errors.As(err, &serr))
}

func TestProcessMessageDropsInvalidPayload(t *testing.T) {
	store := newSQLiteStore(t)
	svc := NewReadingService(ingest.NewNormalizer(ingest.Options{}), store, nil, logger.Discard())

	svc.ProcessMessage(context.Background(), "linkmon/readings", []byte(`not json`))
	svc.ProcessMessage(context.Background(), "linkmon/readings", []byte(`{"ap":"ap1","at":5,"sensors":[{"name":"s1","pdr":[1],"rss":[-50]}]}`))

	readings, err := store.ScanAll(context.Background())
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.Equal(t, "ap1s15", readings[0].ID)
}
