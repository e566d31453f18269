package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"ollamachat/internal/domain/entities"
)

// DefaultWindowSize is the number of recent samples kept per model.
const DefaultWindowSize = 20

// Summary aggregates the most recent samples of one model.
type Summary struct {
	Model            string        `json:"model"`
	Count            int           `json:"count"`
	MeanTTFT         time.Duration `json:"mean_ttft"`
	P95TTFT          time.Duration `json:"p95_ttft"`
	MeanTokensPerSec float64       `json:"mean_tokens_per_sec"`
	ErrorRate        float64       `json:"error_rate"`
	LastRecorded     time.Time     `json:"last_recorded,omitempty"`
}

// BenchmarkCollector keeps a bounded window of samples per model.
type BenchmarkCollector struct {
	mu         sync.RWMutex
	windowSize int
	windows    map[string][]entities.BenchmarkSample
	lastUpdate time.Time
}

// NewBenchmarkCollector creates a collector keeping windowSize samples per model.
func NewBenchmarkCollector(windowSize int) *BenchmarkCollector {
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}
	return &BenchmarkCollector{
		windowSize: windowSize,
		windows:    make(map[string][]entities.BenchmarkSample),
	}
}

// WindowSize returns K.
func (c *BenchmarkCollector) WindowSize() int {
	return c.windowSize
}

// Record appends a sample, evicting the oldest once the window is full.
func (c *BenchmarkCollector) Record(sample entities.BenchmarkSample) {
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := append(c.windows[sample.Model], sample)
	if len(w) > c.windowSize {
		// Copy so the backing array does not grow without bound.
		w = append([]entities.BenchmarkSample(nil), w[len(w)-c.windowSize:]...)
	}
	c.windows[sample.Model] = w
	c.lastUpdate = sample.RecordedAt
}

// Summary computes statistics over the model's window. A model with no
// samples yields a zero Summary.
func (c *BenchmarkCollector) Summary(model string) Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return summarize(model, c.windows[model])
}

// Summaries returns a summary for every model with samples, ordered by name.
func (c *BenchmarkCollector) Summaries() []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Summary, 0, len(c.windows))
	for model, w := range c.windows {
		out = append(out, summarize(model, w))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// Samples returns a copy of the model's window, oldest first.
func (c *BenchmarkCollector) Samples(model string) []entities.BenchmarkSample {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return append([]entities.BenchmarkSample(nil), c.windows[model]...)
}

// Models lists the models with at least one sample.
func (c *BenchmarkCollector) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.windows))
	for m := range c.windows {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Reset clears all samples, or only those of the given models.
func (c *BenchmarkCollector) Reset(models ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(models) == 0 {
		c.windows = make(map[string][]entities.BenchmarkSample)
	}
	for _, m := range models {
		delete(c.windows, m)
	}
	c.lastUpdate = time.Now()
}

// LastUpdateTime returns when a sample was last recorded.
func (c *BenchmarkCollector) LastUpdateTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Summarize aggregates an arbitrary set of samples of one model.
func Summarize(model string, samples []entities.BenchmarkSample) Summary {
	return summarize(model, samples)
}

// summarize is pure over the window it is given.
func summarize(model string, window []entities.BenchmarkSample) Summary {
	s := Summary{Model: model, Count: len(window)}
	if len(window) == 0 {
		return s
	}

	var (
		failed  int
		rates   []float64
		ttfts   []time.Duration
		ttftSum time.Duration
		rateSum float64
	)
	for _, sample := range window {
		if sample.Failed() {
			failed++
		}
		if tps, ok := sample.TokensPerSecond(); ok {
			rates = append(rates, tps)
			rateSum += tps
		}
		// Calls that never produced a token have no TTFT.
		if sample.TTFT > 0 {
			ttfts = append(ttfts, sample.TTFT)
			ttftSum += sample.TTFT
		}
		if sample.RecordedAt.After(s.LastRecorded) {
			s.LastRecorded = sample.RecordedAt
		}
	}

	s.ErrorRate = float64(failed) / float64(len(window))
	if len(rates) > 0 {
		s.MeanTokensPerSec = rateSum / float64(len(rates))
	}
	if len(ttfts) > 0 {
		s.MeanTTFT = ttftSum / time.Duration(len(ttfts))
		s.P95TTFT = percentile(ttfts, 0.95)
	}
	return s
}

// percentile returns the nearest-rank percentile of values.
func percentile(values []time.Duration, p float64) time.Duration {
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	return sorted[rank]
}
