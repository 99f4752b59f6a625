package repository

import (
	"context"
	"errors"
	"sync"

	"LinkMonitorAPI/internal/models"
)

// ReadingStore is the persistence contract the live pipeline depends on.
type ReadingStore interface {
	// UpsertMany writes readings keyed by ID. A resolved warning already
	// stored is never replaced by re-ingestion.
	UpsertMany(ctx context.Context, readings []models.Reading) error

	// ResolveWarnings stores the warning of each classified reading. A row
	// is only updated while its warning is still unknown and its metrics
	// match the ones that were classified. It returns the rows updated.
	ResolveWarnings(ctx context.Context, classified []models.Reading) (int, error)

	// ScanAll returns every stored reading ordered by access point,
	// sensor name and observed_at.
	ScanAll(ctx context.Context) ([]models.Reading, error)

	// SubscribeChanges returns a stream of "something changed" signals. The
	// channel is closed when ctx ends or the feed breaks; callers resubscribe.
	SubscribeChanges(ctx context.Context) (<-chan struct{}, error)

	Health(ctx context.Context) error
}

// DedupeLastWins keeps the last occurrence of every ID, preserving the
// position of its first occurrence.
func DedupeLastWins(readings []models.Reading) []models.Reading {
	index := make(map[string]int, len(readings))
	out := make([]models.Reading, 0, len(readings))

	for _, r := range readings {
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}

	return out
}

var errFeedClosed = errors.New("change feed closed")

// ChangeFeed fans a change signal out to every subscriber. Each subscriber
// channel holds at most one pending signal, so bursts collapse.
type ChangeFeed struct {
	mu     sync.Mutex
	subs   map[chan struct{}]struct{}
	closed bool
	done   chan struct{}
}

func NewChangeFeed() *ChangeFeed {
	return &ChangeFeed{subs: make(map[chan struct{}]struct{}), done: make(chan struct{})}
}

func (f *ChangeFeed) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	ch := make(chan struct{}, 1)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, &models.StoreError{Op: "subscribe", Err: errFeedClosed}
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			f.remove(ch)
		case <-f.done:
		}
	}()

	return ch, nil
}

func (f *ChangeFeed) remove(ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

// Notify signals every subscriber without blocking.
func (f *ChangeFeed) Notify() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Close ends every subscription.
func (f *ChangeFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	close(f.done)
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}

func (f *ChangeFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
