package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"LinkMonitorAPI/internal/config"
	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/metrics"
	"LinkMonitorAPI/internal/models"
	"LinkMonitorAPI/internal/repository"
)

// Publisher receives every snapshot the aggregator produces.
type Publisher interface {
	Publish(ctx context.Context, snapshot *models.Snapshot) error
}

// Classifier resolves unknown warning states. It returns classified copies
// of its input in the same order.
type Classifier interface {
	Classify(ctx context.Context, unresolved []models.Reading) ([]models.Reading, error)
}

// Aggregator watches the store and, for every change, rebuilds the snapshot
// of all readings, classifies what is still unknown and publishes the result.
type Aggregator struct {
	store      repository.ReadingStore
	classifier Classifier
	metrics    *metrics.Metrics
	log        *logger.Logger

	resubscribeMin time.Duration
	resubscribeMax time.Duration

	pubMux     sync.RWMutex
	publishers []Publisher

	pending chan struct{}
}

func NewAggregator(
	store repository.ReadingStore,
	classifier Classifier,
	cfg config.AggregatorConfig,
	m *metrics.Metrics,
	log *logger.Logger,
) *Aggregator {
	if cfg.ResubscribeMin <= 0 {
		cfg.ResubscribeMin = 500 * time.Millisecond
	}
	if cfg.ResubscribeMax < cfg.ResubscribeMin {
		cfg.ResubscribeMax = cfg.ResubscribeMin
	}

	return &Aggregator{
		store:          store,
		classifier:     classifier,
		metrics:        m,
		log:            log,
		resubscribeMin: cfg.ResubscribeMin,
		resubscribeMax: cfg.ResubscribeMax,
		pending:        make(chan struct{}, 1),
	}
}

func (a *Aggregator) AddPublisher(p Publisher) {
	a.pubMux.Lock()
	defer a.pubMux.Unlock()
	a.publishers = append(a.publishers, p)
}

// Trigger requests a cycle without blocking. If a cycle is already pending
// the request is folded into it.
func (a *Aggregator) Trigger() {
	select {
	case a.pending <- struct{}{}:
	default:
		a.metrics.TriggerCoalesced()
	}
}

// Run observes the store until ctx ends. Every successful subscription is
// followed by a cycle, so writes made while unsubscribed are picked up, and
// each change signal triggers another. The feed is resubscribed with backoff
// whenever it breaks.
func (a *Aggregator) Run(ctx context.Context) {
	a.log.Info("Starting aggregator")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.worker(ctx)
	}()

	backoff := a.resubscribeMin

	for ctx.Err() == nil {
		changes, err := a.store.SubscribeChanges(ctx)
		if err != nil {
			a.log.Warn("Failed to subscribe to changes: %v (retry in %v)", err, backoff)
		} else {
			backoff = a.resubscribeMin
			a.Trigger()
			a.consume(ctx, changes)
			if ctx.Err() != nil {
				break
			}
			a.log.Warn("Change feed closed, resubscribing in %v", backoff)
		}

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > a.resubscribeMax {
			backoff = a.resubscribeMax
		}
	}

	wg.Wait()
	a.log.Info("Aggregator stopped")
}

func (a *Aggregator) consume(ctx context.Context, changes <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			a.Trigger()
		}
	}
}

func (a *Aggregator) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.pending:
			a.RunCycle(ctx)
		}
	}
}

// RunCycle fetches every reading, classifies the unknown ones and publishes
// the resulting snapshot. Only a store failure aborts the cycle.
func (a *Aggregator) RunCycle(ctx context.Context) (*models.Snapshot, error) {
	start := time.Now()

	readings, err := a.store.ScanAll(ctx)
	if err != nil {
		a.log.Error("Aggregation cycle skipped: %v", err)
		a.metrics.CycleCompleted(metrics.CycleStoreError, time.Since(start))
		return nil, err
	}

	readings = a.classify(ctx, readings)

	snapshot := models.NewSnapshot(readings, time.Now().UTC())
	a.publish(ctx, snapshot)

	a.metrics.CycleCompleted(metrics.CycleOK, time.Since(start))
	a.log.With(
		"readings", len(snapshot.Readings),
		"warnings", snapshot.WarningCount,
		"unknown", snapshot.UnknownCount,
		"took", time.Since(start),
	).Debug("Cycle complete")

	return snapshot, nil
}

func (a *Aggregator) classify(ctx context.Context, readings []models.Reading) []models.Reading {
	if a.classifier == nil {
		return readings
	}

	var positions []int
	var unknown []models.Reading
	for i, r := range readings {
		if !r.Warning.Resolved() {
			positions = append(positions, i)
			unknown = append(unknown, r)
		}
	}
	if len(unknown) == 0 {
		return readings
	}

	classified, err := a.classifier.Classify(ctx, unknown)
	if err != nil {
		log := a.log.With("unknown", len(unknown))
		var cerr *models.ClassifierError
		if errors.As(err, &cerr) && cerr.Timeout {
			log.Warn("Classifier timed out")
		} else {
			log.Warn("Classifier failed: %v", err)
		}
		a.metrics.ClassifierFailed()
		return readings
	}

	resolved := make([]models.Reading, 0, len(classified))
	for j, r := range classified {
		if j >= len(positions) {
			break
		}
		readings[positions[j]] = r
		if r.Warning.Resolved() {
			resolved = append(resolved, r)
		}
	}

	if len(resolved) > 0 {
		a.metrics.ReadingsClassified(len(resolved))
		// only the warning is written; rows re-ingested meanwhile are left
		// unknown for the next cycle
		stored, err := a.store.ResolveWarnings(ctx, resolved)
		if err != nil {
			a.log.Warn("Failed to write back %d classified readings: %v", len(resolved), err)
		} else if stored < len(resolved) {
			a.log.Debug("%d of %d classified readings changed before write-back", len(resolved)-stored, len(resolved))
		}
	}

	return readings
}

func (a *Aggregator) publish(ctx context.Context, snapshot *models.Snapshot) {
	a.pubMux.RLock()
	publishers := make([]Publisher, len(a.publishers))
	copy(publishers, a.publishers)
	a.pubMux.RUnlock()

	for _, p := range publishers {
		if err := p.Publish(ctx, snapshot); err != nil {
			a.log.Warn("Failed to publish snapshot: %v", err)
		}
	}
}
