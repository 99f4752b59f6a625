package service

import (
	"context"
	"errors"
	"time"

	"LinkMonitorAPI/internal/ingest"
	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/metrics"
	"LinkMonitorAPI/internal/models"
	"LinkMonitorAPI/internal/repository"
)

type ReadingService struct {
	normalizer *ingest.Normalizer
	store      repository.ReadingStore
	metrics    *metrics.Metrics
	log        *logger.Logger
}

func NewReadingService(
	normalizer *ingest.Normalizer,
	store repository.ReadingStore,
	m *metrics.Metrics,
	log *logger.Logger,
) *ReadingService {
	return &ReadingService{
		normalizer: normalizer,
		store:      store,
		metrics:    m,
		log:        log,
	}
}

// Ingest validates payload and stores its readings. It returns the number
// of readings accepted.
func (s *ReadingService) Ingest(ctx context.Context, payload []byte) (int, error) {
	readings, err := s.normalizer.Normalize(payload)
	if err != nil {
		s.metrics.ValidationFailed()
		return 0, err
	}

	if err := s.store.UpsertMany(ctx, readings); err != nil {
		s.log.Error("Failed to store %d readings: %v", len(readings), err)
		return 0, err
	}

	s.metrics.ReadingsIngested(len(readings))
	s.log.Debug("Stored %d readings", len(readings))
	return len(readings), nil
}

// ProcessMessage ingests a payload received over MQTT. Invalid payloads are
// logged and dropped.
func (s *ReadingService) ProcessMessage(ctx context.Context, topic string, payload []byte) {
	log := s.log.With("topic", topic)

	n, err := s.Ingest(ctx, payload)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			log.Warn("Dropping invalid payload: %v", verr)
			return
		}
		log.Error("Failed to ingest payload: %v", err)
		return
	}
	log.Debug("Ingested %d readings", n)
}

// Snapshot returns the current stored state without classifying it.
func (s *ReadingService) Snapshot(ctx context.Context) (*models.Snapshot, error) {
	readings, err := s.store.ScanAll(ctx)
	if err != nil {
		return nil, err
	}
	return models.NewSnapshot(readings, time.Now().UTC()), nil
}
