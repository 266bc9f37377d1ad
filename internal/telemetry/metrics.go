// Package telemetry provides a small metrics facade backed by OpenTelemetry,
// with an in-memory double for tests. Instruments are created lazily and
// cached, mirroring the double-checked-locking pattern used throughout this
// service's observability code.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// Metrics is the narrow surface the rest of the service depends on.
type Metrics interface {
	IncCounter(ctx context.Context, name string, attrs map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, attrs map[string]string)
}

// OtelMetrics implements Metrics against a real otel MeterProvider.
type OtelMetrics struct {
	meter metric.Meter

	mu       sync.RWMutex
	counters map[string]metric.Int64Counter
	hists    map[string]metric.Float64Histogram
}

// NewOtelMetrics builds a Metrics implementation from a meter provider.
func NewOtelMetrics(mp metric.MeterProvider) *OtelMetrics {
	return &OtelMetrics{
		meter:    mp.Meter("townhall-rag"),
		counters: make(map[string]metric.Int64Counter),
		hists:    make(map[string]metric.Float64Histogram),
	}
}

func (m *OtelMetrics) counter(name string) metric.Int64Counter {
	m.mu.RLock()
	c, ok := m.counters[name]
	m.mu.RUnlock()
	if ok {
		return c
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c, _ = m.meter.Int64Counter(name)
	m.counters[name] = c
	return c
}

func (m *OtelMetrics) histogram(name string) metric.Float64Histogram {
	m.mu.RLock()
	h, ok := m.hists[name]
	m.mu.RUnlock()
	if ok {
		return h
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.hists[name]; ok {
		return h
	}
	h, _ = m.meter.Float64Histogram(name)
	m.hists[name] = h
	return h
}

func (m *OtelMetrics) IncCounter(ctx context.Context, name string, attrs map[string]string) {
	m.counter(name).Add(ctx, 1, metric.WithAttributes(toAttrs(attrs)...))
}

func (m *OtelMetrics) ObserveHistogram(ctx context.Context, name string, value float64, attrs map[string]string) {
	m.histogram(name).Record(ctx, value, metric.WithAttributes(toAttrs(attrs)...))
}

// MockMetrics is an in-memory test double.
type MockMetrics struct {
	mu       sync.Mutex
	Counters map[string]int64
	Hists    map[string][]float64
}

// NewMockMetrics constructs an empty MockMetrics.
func NewMockMetrics() *MockMetrics {
	return &MockMetrics{Counters: map[string]int64{}, Hists: map[string][]float64{}}
}

func (m *MockMetrics) IncCounter(_ context.Context, name string, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Counters[name]++
}

func (m *MockMetrics) ObserveHistogram(_ context.Context, name string, value float64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Hists[name] = append(m.Hists[name], value)
}
