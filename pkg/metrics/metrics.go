// Package metrics collects orchestrator metrics. The Collector interface
// has a Prometheus implementation for the ops endpoint, an in-memory one for
// tests, and a no-op default.
package metrics

import (
	"net/http"
	"sync"
	"time"
)

// Collector is the interface for collecting and reporting metrics.
type Collector interface {
	CounterInc(name string, labels ...string)
	CounterAdd(name string, value float64, labels ...string)

	GaugeSet(name string, value float64, labels ...string)
	GaugeInc(name string, labels ...string)
	GaugeDec(name string, labels ...string)

	HistogramObserve(name string, value float64, labels ...string)

	// Handler returns an HTTP handler for the metrics endpoint
	Handler() http.Handler
}

// MetricType represents the type of metric.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// MetricDefinition defines a metric with its metadata.
type MetricDefinition struct {
	Name    string     `json:"name"`
	Type    MetricType `json:"type"`
	Help    string     `json:"help"`
	Labels  []string   `json:"labels,omitempty"`
	Buckets []float64  `json:"buckets,omitempty"` // For histograms
}

// =============================================================================
// Scan metrics
// =============================================================================

var (
	ScansTotal = MetricDefinition{
		Name:   "scans_total",
		Type:   MetricTypeCounter,
		Help:   "Scans that reached a terminal status",
		Labels: []string{"scan_type", "status"},
	}
	ScanDuration = MetricDefinition{
		Name:    "scan_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Wall time from start to terminal status",
		Labels:  []string{"scan_type"},
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	}
	ActiveScans = MetricDefinition{
		Name:   "active_scans",
		Type:   MetricTypeGauge,
		Help:   "Scans currently running",
		Labels: []string{},
	}
	ScanRejections = MetricDefinition{
		Name:   "scan_rejections_total",
		Type:   MetricTypeCounter,
		Help:   "Scan requests rejected before a record was created",
		Labels: []string{"reason"},
	}

	AdapterRunsTotal = MetricDefinition{
		Name:   "adapter_runs_total",
		Type:   MetricTypeCounter,
		Help:   "Adapter invocations by outcome",
		Labels: []string{"adapter", "status"},
	}
	AdapterDuration = MetricDefinition{
		Name:    "adapter_duration_seconds",
		Type:    MetricTypeHistogram,
		Help:    "Adapter invocation duration",
		Labels:  []string{"adapter"},
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
	}
	FindingsTotal = MetricDefinition{
		Name:   "findings_total",
		Type:   MetricTypeCounter,
		Help:   "Vulnerabilities reported by adapters",
		Labels: []string{"adapter", "severity"},
	}

	MaintenanceTotal = MetricDefinition{
		Name:   "maintenance_scans_total",
		Type:   MetricTypeCounter,
		Help:   "Scans touched by maintenance tasks",
		Labels: []string{"task"},
	}
)

// Definitions lists every scan metric.
func Definitions() []MetricDefinition {
	return []MetricDefinition{
		ScansTotal, ScanDuration, ActiveScans, ScanRejections,
		AdapterRunsTotal, AdapterDuration, FindingsTotal, MaintenanceTotal,
	}
}

// =============================================================================
// NopCollector
// =============================================================================

// NopCollector discards all metrics.
type NopCollector struct{}

func (c *NopCollector) CounterInc(name string, labels ...string)                      {}
func (c *NopCollector) CounterAdd(name string, value float64, labels ...string)       {}
func (c *NopCollector) GaugeSet(name string, value float64, labels ...string)         {}
func (c *NopCollector) GaugeInc(name string, labels ...string)                        {}
func (c *NopCollector) GaugeDec(name string, labels ...string)                        {}
func (c *NopCollector) HistogramObserve(name string, value float64, labels ...string) {}
func (c *NopCollector) Handler() http.Handler                                         { return http.NotFoundHandler() }

// =============================================================================
// InMemoryCollector
// =============================================================================

// InMemoryCollector stores metrics in memory for tests.
type InMemoryCollector struct {
	mu         sync.RWMutex
	counters   map[string]float64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewInMemoryCollector creates an empty in-memory collector.
func NewInMemoryCollector() *InMemoryCollector {
	return &InMemoryCollector{
		counters:   make(map[string]float64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (c *InMemoryCollector) key(name string, labels []string) string {
	key := name
	for i := 0; i+1 < len(labels); i += 2 {
		key += "," + labels[i] + "=" + labels[i+1]
	}
	return key
}

func (c *InMemoryCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *InMemoryCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[c.key(name, labels)] += value
}

func (c *InMemoryCollector) GaugeSet(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)] = value
}

func (c *InMemoryCollector) GaugeInc(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)]++
}

func (c *InMemoryCollector) GaugeDec(name string, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gauges[c.key(name, labels)]--
}

func (c *InMemoryCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := c.key(name, labels)
	c.histograms[key] = append(c.histograms[key], value)
}

func (c *InMemoryCollector) Handler() http.Handler {
	return http.NotFoundHandler()
}

// GetCounter returns the value of a counter.
func (c *InMemoryCollector) GetCounter(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[c.key(name, labels)]
}

// GetGauge returns the value of a gauge.
func (c *InMemoryCollector) GetGauge(name string, labels ...string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[c.key(name, labels)]
}

// GetHistogram returns all observations of a histogram.
func (c *InMemoryCollector) GetHistogram(name string, labels ...string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.histograms[c.key(name, labels)]
}

// =============================================================================
// Timer
// =============================================================================

// Timer records the time since its creation to a histogram.
type Timer struct {
	start     time.Time
	collector Collector
	name      string
	labels    []string
}

// NewTimer starts a timer for the named histogram.
func NewTimer(collector Collector, name string, labels ...string) *Timer {
	return &Timer{
		start:     time.Now(),
		collector: collector,
		name:      name,
		labels:    labels,
	}
}

// ObserveDuration records the duration since the timer was created.
func (t *Timer) ObserveDuration() time.Duration {
	d := time.Since(t.start)
	t.collector.HistogramObserve(t.name, d.Seconds(), t.labels...)
	return d
}

// OrNop returns c, or a NopCollector when c is nil.
func OrNop(c Collector) Collector {
	if c == nil {
		return &NopCollector{}
	}
	return c
}

var (
	_ Collector = (*NopCollector)(nil)
	_ Collector = (*InMemoryCollector)(nil)
)
