// Package classifier resolves the warning state of readings through an
// external scoring service.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"LinkMonitorAPI/internal/config"
	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/models"
)

// Backend scores a batch of readings. The returned slice has one entry per
// input reading, in the same order.
type Backend interface {
	Score(ctx context.Context, readings []models.Reading) ([]models.WarningState, error)
}

type Gateway struct {
	backend Backend
	timeout time.Duration
	log     *logger.Logger
}

// NewGateway wraps backend with a per-call timeout. A nil backend yields a
// gateway that leaves every reading unknown.
func NewGateway(backend Backend, timeout time.Duration, log *logger.Logger) *Gateway {
	if log == nil {
		log = logger.Discard()
	}
	return &Gateway{backend: backend, timeout: timeout, log: log}
}

// New builds the gateway selected by cfg.Backend.
func New(cfg *config.ClassifierConfig, log *logger.Logger) (*Gateway, error) {
	switch cfg.Backend {
	case config.BackendHTTP:
		return NewGateway(NewHTTPBackend(cfg.URL, nil), cfg.Timeout, log), nil
	case config.BackendSageMaker:
		backend, err := NewSageMakerBackend(cfg.AWSRegion, cfg.SageMakerEndpoint, cfg.ScoreThreshold)
		if err != nil {
			return nil, fmt.Errorf("failed to create sagemaker backend: %w", err)
		}
		return NewGateway(backend, cfg.Timeout, log), nil
	case config.BackendThreshold:
		return NewGateway(NewThresholdBackend(cfg.MinPDR, cfg.MinRSS, cfg.Window), cfg.Timeout, log), nil
	case config.BackendNone, "":
		return NewGateway(nil, cfg.Timeout, log), nil
	default:
		return nil, fmt.Errorf("unknown classifier backend %q", cfg.Backend)
	}
}

// Enabled reports whether a backend is configured.
func (g *Gateway) Enabled() bool {
	return g != nil && g.backend != nil
}

// Classify returns copies of unresolved with Warning set from the backend.
// The input slice is never modified.
func (g *Gateway) Classify(ctx context.Context, unresolved []models.Reading) ([]models.Reading, error) {
	if len(unresolved) == 0 {
		return nil, nil
	}

	out := make([]models.Reading, len(unresolved))
	copy(out, unresolved)

	if !g.Enabled() {
		return out, nil
	}

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	states, err := g.backend.Score(callCtx, out)
	if err != nil {
		timedOut := errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded)
		return nil, &models.ClassifierError{Timeout: timedOut, Err: err}
	}
	if len(states) != len(out) {
		return nil, &models.ClassifierError{
			Err: fmt.Errorf("backend returned %d results for %d readings", len(states), len(out)),
		}
	}

	for i := range out {
		out[i].Warning = states[i]
	}

	g.log.Debug("Classified %d readings in %v", len(out), time.Since(start))
	return out, nil
}
