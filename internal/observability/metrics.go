package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsClient is the counter/gauge/histogram surface used across the
// cache, search, orchestrator, and compactor packages. Implementations must
// be safe for concurrent use since counters are incremented from fan-out
// goroutines.
type MetricsClient interface {
	IncrementCounter(name string, value float64)
	IncrementCounterWithLabels(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordDuration(name string, seconds float64)
	RecordHistogram(name string, value float64, labels map[string]string)
}

// PrometheusMetricsClient backs MetricsClient with real Prometheus
// collectors, registered lazily per metric name on first use.
type PrometheusMetricsClient struct {
	namespace string
	subsystem string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsClient creates a client registering collectors under
// the given namespace/subsystem.
func NewPrometheusMetricsClient(namespace, subsystem string) *PrometheusMetricsClient {
	return &PrometheusMetricsClient{
		namespace:  namespace,
		subsystem:  subsystem,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func sanitizedName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	return names
}

func (p *PrometheusMetricsClient) counterFor(name string, labels map[string]string) *prometheus.CounterVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.counters[name]
	if !ok {
		c = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: p.subsystem,
			Name:      sanitizedName(name),
		}, labelNames(labels))
		_ = prometheus.Register(c)
		p.counters[name] = c
	}
	return c
}

func (p *PrometheusMetricsClient) gaugeFor(name string, labels map[string]string) *prometheus.GaugeVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	g, ok := p.gauges[name]
	if !ok {
		g = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: p.subsystem,
			Name:      sanitizedName(name),
		}, labelNames(labels))
		_ = prometheus.Register(g)
		p.gauges[name] = g
	}
	return g
}

func (p *PrometheusMetricsClient) histogramFor(name string, labels map[string]string) *prometheus.HistogramVec {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.histograms[name]
	if !ok {
		h = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: p.subsystem,
			Name:      sanitizedName(name),
			Buckets:   prometheus.DefBuckets,
		}, labelNames(labels))
		_ = prometheus.Register(h)
		p.histograms[name] = h
	}
	return h
}

func (p *PrometheusMetricsClient) IncrementCounter(name string, value float64) {
	p.counterFor(name, nil).With(prometheus.Labels{}).Add(value)
}

func (p *PrometheusMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	p.counterFor(name, labels).With(labels).Add(value)
}

func (p *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	p.gaugeFor(name, labels).With(labels).Set(value)
}

func (p *PrometheusMetricsClient) RecordDuration(name string, seconds float64) {
	p.histogramFor(name, nil).With(prometheus.Labels{}).Observe(seconds)
}

func (p *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	p.histogramFor(name, labels).With(labels).Observe(value)
}

// NoopMetricsClient discards all observations; used in unit tests.
type NoopMetricsClient struct{}

func NewNoopMetricsClient() MetricsClient { return &NoopMetricsClient{} }

func (*NoopMetricsClient) IncrementCounter(string, float64)                          {}
func (*NoopMetricsClient) IncrementCounterWithLabels(string, float64, map[string]string) {}
func (*NoopMetricsClient) RecordGauge(string, float64, map[string]string)            {}
func (*NoopMetricsClient) RecordDuration(string, float64)                            {}
func (*NoopMetricsClient) RecordHistogram(string, float64, map[string]string)        {}
