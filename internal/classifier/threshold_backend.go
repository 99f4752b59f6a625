package classifier

import (
	"context"
	"sort"
	"sync"

	"LinkMonitorAPI/internal/models"
)

// metricWindow is a sliding buffer of the most recent values of one metric.
type metricWindow struct {
	values []float64
	size   int
}

func newMetricWindow(size int) *metricWindow {
	if size < 1 {
		size = 1
	}
	return &metricWindow{values: make([]float64, 0, size), size: size}
}

func (w *metricWindow) push(v float64) {
	if len(w.values) >= w.size {
		w.values = w.values[1:]
	}
	w.values = append(w.values, v)
}

// consistentlyBelow is true once the window is full and every value is
// under threshold.
func (w *metricWindow) consistentlyBelow(threshold float64) bool {
	if len(w.values) < w.size {
		return false
	}
	for _, v := range w.values {
		if v >= threshold {
			return false
		}
	}
	return true
}

// recentVerdicts bounds how many past decisions a link remembers for
// replayed samples.
const recentVerdicts = 256

type verdict struct {
	at      int64
	warning bool
}

type linkState struct {
	pdr *metricWindow
	rss *metricWindow

	// last is the newest observed_at pushed into the windows.
	last    int64
	started bool
	recent  []verdict
}

func (st *linkState) remember(at int64, warning bool) {
	if len(st.recent) >= recentVerdicts {
		st.recent = st.recent[1:]
	}
	st.recent = append(st.recent, verdict{at: at, warning: warning})
}

// lookup returns the decision made when the sample at was pushed, or
// fallback if it is no longer remembered.
func (st *linkState) lookup(at int64, fallback bool) bool {
	for i := len(st.recent) - 1; i >= 0; i-- {
		if st.recent[i].at == at {
			return st.recent[i].warning
		}
	}
	return fallback
}

// ThresholdBackend classifies without a model: a link is a warning when its
// last Window samples all have pdr below MinPDR or all have rss below MinRSS.
// Samples no newer than the last one seen for a link are not pushed again,
// so readings scored twice after a failed write-back keep their verdict.
type ThresholdBackend struct {
	minPDR float64
	minRSS float64
	window int

	mu    sync.Mutex
	links map[string]*linkState
}

func NewThresholdBackend(minPDR, minRSS float64, window int) *ThresholdBackend {
	if window < 1 {
		window = 1
	}
	return &ThresholdBackend{
		minPDR: minPDR,
		minRSS: minRSS,
		window: window,
		links:  make(map[string]*linkState),
	}
}

func (b *ThresholdBackend) Score(ctx context.Context, readings []models.Reading) ([]models.WarningState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	order := make([]int, len(readings))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, c int) bool {
		return readings[order[a]].ObservedAt < readings[order[c]].ObservedAt
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	states := make([]models.WarningState, len(readings))
	for _, i := range order {
		r := readings[i]
		st := b.state(linkKey(r))

		if st.started && r.ObservedAt <= st.last {
			states[i] = models.WarningFromBool(st.lookup(r.ObservedAt, b.warning(st)))
			continue
		}

		st.pdr.push(r.PDR)
		st.rss.push(r.RSS)
		st.last, st.started = r.ObservedAt, true

		warning := b.warning(st)
		st.remember(r.ObservedAt, warning)
		states[i] = models.WarningFromBool(warning)
	}
	return states, nil
}

func (b *ThresholdBackend) warning(st *linkState) bool {
	return st.pdr.consistentlyBelow(b.minPDR) || st.rss.consistentlyBelow(b.minRSS)
}

func (b *ThresholdBackend) state(key string) *linkState {
	st, ok := b.links[key]
	if !ok {
		st = &linkState{pdr: newMetricWindow(b.window), rss: newMetricWindow(b.window)}
		b.links[key] = st
	}
	return st
}

func linkKey(r models.Reading) string {
	if r.AccessPoint != nil {
		return *r.AccessPoint + "/" + r.SensorName
	}
	return r.SensorName
}
