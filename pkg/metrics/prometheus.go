package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusCollector implements Collector on a Prometheus registry.
// Observations on unregistered metric names are dropped.
type PrometheusCollector struct {
	mu sync.RWMutex

	registry *prometheus.Registry

	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec

	namespace string
}

// PrometheusConfig configures the Prometheus collector.
type PrometheusConfig struct {
	// Namespace prefixes all metric names (e.g., "scanorch")
	Namespace string

	// Registry is the Prometheus registry to use (nil = new registry with
	// the Go and process collectors)
	Registry *prometheus.Registry
}

// NewPrometheusCollector creates a collector with every scan metric
// registered.
func NewPrometheusCollector(cfg *PrometheusConfig) (*PrometheusCollector, error) {
	if cfg == nil {
		cfg = &PrometheusConfig{}
	}

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	c := &PrometheusCollector{
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		namespace:  cfg.Namespace,
	}

	for _, def := range Definitions() {
		if err := c.Register(def); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Register registers def by its type. Registering a name twice is a no-op.
func (c *PrometheusCollector) Register(def MetricDefinition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		vec prometheus.Collector
		add func()
	)
	switch def.Type {
	case MetricTypeCounter:
		if _, ok := c.counters[def.Name]; ok {
			return nil
		}
		v := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: c.namespace, Name: def.Name, Help: def.Help,
		}, def.Labels)
		vec, add = v, func() { c.counters[def.Name] = v }
	case MetricTypeGauge:
		if _, ok := c.gauges[def.Name]; ok {
			return nil
		}
		v := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: c.namespace, Name: def.Name, Help: def.Help,
		}, def.Labels)
		vec, add = v, func() { c.gauges[def.Name] = v }
	case MetricTypeHistogram:
		if _, ok := c.histograms[def.Name]; ok {
			return nil
		}
		buckets := def.Buckets
		if len(buckets) == 0 {
			buckets = prometheus.DefBuckets
		}
		v := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: c.namespace, Name: def.Name, Help: def.Help, Buckets: buckets,
		}, def.Labels)
		vec, add = v, func() { c.histograms[def.Name] = v }
	default:
		return nil
	}

	if err := c.registry.Register(vec); err != nil {
		return err
	}
	add()
	return nil
}

func (c *PrometheusCollector) CounterInc(name string, labels ...string) {
	c.CounterAdd(name, 1, labels...)
}

func (c *PrometheusCollector) CounterAdd(name string, value float64, labels ...string) {
	c.mu.RLock()
	counter, ok := c.counters[name]
	c.mu.RUnlock()
	if !ok {
		return
	}
	counter.WithLabelValues(labelsToValues(labels)...).Add(value)
}

func (c *PrometheusCollector) GaugeSet(name string, value float64, labels ...string) {
	if g := c.gauge(name, labels); g != nil {
		g.Set(value)
	}
}

func (c *PrometheusCollector) GaugeInc(name string, labels ...string) {
	if g := c.gauge(name, labels); g != nil {
		g.Inc()
	}
}

func (c *PrometheusCollector) GaugeDec(name string, labels ...string) {
	if g := c.gauge(name, labels); g != nil {
		g.Dec()
	}
}

func (c *PrometheusCollector) gauge(name string, labels []string) prometheus.Gauge {
	c.mu.RLock()
	gauge, ok := c.gauges[name]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return gauge.WithLabelValues(labelsToValues(labels)...)
}

func (c *PrometheusCollector) HistogramObserve(name string, value float64, labels ...string) {
	c.mu.RLock()
	histogram, ok := c.histograms[name]
	c.mu.RUnlock()
	if !ok {
		return
	}
	histogram.WithLabelValues(labelsToValues(labels)...).Observe(value)
}

func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying Prometheus registry.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// labelsToValues converts label pairs to values only.
// Input: ["label1", "value1", "label2", "value2"]
// Output: ["value1", "value2"]
func labelsToValues(labels []string) []string {
	if len(labels) == 0 {
		return nil
	}
	values := make([]string, 0, len(labels)/2)
	for i := 1; i < len(labels); i += 2 {
		values = append(values, labels[i])
	}
	return values
}

var _ Collector = (*PrometheusCollector)(nil)
