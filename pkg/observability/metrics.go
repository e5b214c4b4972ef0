package observability

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// Metrics records counters and timings.
type Metrics interface {
	Counter(name string, value int64, tags ...Tag)
	Timing(name string, duration time.Duration, tags ...Tag)
}

// Tag is a key-value label on a metric.
type Tag struct {
	Key   string
	Value string
}

// T creates a Tag.
func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Counter(string, int64, ...Tag)        {}
func (NoopMetrics) Timing(string, time.Duration, ...Tag) {}

// InMemoryMetrics keeps metrics in memory for tests and the end-of-run
// summary written by LogSummary.
type InMemoryMetrics struct {
	mu       sync.RWMutex
	counters map[string]int64
	timings  map[string][]time.Duration
}

// NewInMemoryMetrics creates an empty collector.
func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters: make(map[string]int64),
		timings:  make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[formatKey(name, tags)] += value
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := formatKey(name, tags)
	m.timings[key] = append(m.timings[key], duration)
}

// GetCounter returns the current value of a counter.
func (m *InMemoryMetrics) GetCounter(name string, tags ...Tag) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[formatKey(name, tags)]
}

// GetTimings returns every recorded duration for a timing.
func (m *InMemoryMetrics) GetTimings(name string, tags ...Tag) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Duration(nil), m.timings[formatKey(name, tags)]...)
}

// LogSummary writes one debug record per counter and per timing, sorted by
// key. Nothing is written unless debug logging is enabled.
func (m *InMemoryMetrics) LogSummary(ctx context.Context, logger *slog.Logger) {
	if logger == nil || !logger.Enabled(ctx, slog.LevelDebug) {
		return
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, key := range slices.Sorted(maps.Keys(m.counters)) {
		logger.DebugContext(ctx, "metric", "name", key, "count", m.counters[key])
	}
	for _, key := range slices.Sorted(maps.Keys(m.timings)) {
		var total time.Duration
		for _, d := range m.timings[key] {
			total += d
		}
		logger.DebugContext(ctx, "metric",
			"name", key,
			"count", len(m.timings[key]),
			"total", total,
		)
	}
}

// formatKey builds a stable key; tags are sorted so call order is irrelevant.
func formatKey(name string, tags []Tag) string {
	if len(tags) == 0 {
		return name
	}
	sorted := append([]Tag(nil), tags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	b.WriteString(name)
	for _, t := range sorted {
		b.WriteString(":")
		b.WriteString(t.Key)
		b.WriteString("=")
		b.WriteString(t.Value)
	}
	return b.String()
}

// Metric names.
const (
	MetricOperationTotal    = "billcycle.operation.total"
	MetricOperationDuration = "billcycle.operation.duration"
	MetricOperationErrors   = "billcycle.operation.errors"

	MetricRefreshTotal     = "billcycle.refresh.total"
	MetricRefreshFallback  = "billcycle.refresh.fallback"
	MetricRefreshIntegrity = "billcycle.refresh.integrity_errors"
	MetricRequestsSent     = "billcycle.backend.requests"
	MetricBreakerOpen      = "billcycle.backend.breaker_open"
)
