package metrics

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-enrichment/types"
	"github.com/saiset-co/sai-enrichment/utils"
)

type PrometheusConfig struct {
	Path            string            `yaml:"path" json:"path"`
	Listen          string            `yaml:"listen" json:"listen"`
	Namespace       string            `yaml:"namespace" json:"namespace"`
	Subsystem       string            `yaml:"subsystem" json:"subsystem"`
	Labels          map[string]string `yaml:"labels" json:"labels"`
	EnableGoMetrics bool              `yaml:"enable_go_metrics" json:"enable_go_metrics"`
}

type PrometheusMetrics struct {
	logger     types.Logger
	config     *PrometheusConfig
	registry   *prometheus.Registry
	server     *fasthttp.Server
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.RWMutex
	running    int32
}

func NewPrometheusMetrics(logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	var promConfig = &PrometheusConfig{
		Path:            "/metrics",
		Listen:          "",
		Namespace:       "sai_enrichment",
		Labels:          make(map[string]string),
		EnableGoMetrics: true,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, promConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal prometheus config")
		}
	}

	registry := prometheus.NewRegistry()
	if promConfig.EnableGoMetrics {
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	metrics := &PrometheusMetrics{
		logger:     logger,
		config:     promConfig,
		registry:   registry,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}

	logger.Info("Prometheus metrics initialized",
		zap.String("namespace", promConfig.Namespace),
		zap.Bool("go_metrics", promConfig.EnableGoMetrics))

	return metrics, nil
}

func (p *PrometheusMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&p.running, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}

	if p.config.Listen == "" {
		return nil
	}

	promHandler := promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
	fastHandler := fasthttpadaptor.NewFastHTTPHandler(promHandler)

	p.server = &fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) != p.config.Path || !ctx.IsGet() {
				ctx.SetStatusCode(http.StatusNotFound)
				return
			}
			fastHandler(ctx)
		},
	}

	go func() {
		if err := p.server.ListenAndServe(p.config.Listen); err != nil {
			p.logger.Error("Metrics server stopped", zap.Error(err))
		}
	}()

	p.logger.Info("Prometheus metrics started",
		zap.String("listen", p.config.Listen),
		zap.String("path", p.config.Path))

	return nil
}

func (p *PrometheusMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&p.running, 1, 0) {
		return types.ErrComponentNotRunning
	}

	if p.server != nil {
		if err := p.server.Shutdown(); err != nil {
			return types.WrapError(err, "failed to stop metrics server")
		}
	}

	p.mu.Lock()
	p.counters = make(map[string]*prometheus.CounterVec)
	p.gauges = make(map[string]*prometheus.GaugeVec)
	p.histograms = make(map[string]*prometheus.HistogramVec)
	p.mu.Unlock()

	p.logger.Info("Prometheus metrics stopped")
	return nil
}

func (p *PrometheusMetrics) IsRunning() bool {
	return atomic.LoadInt32(&p.running) == 1
}

// Counter returns the counter series for name and labels. The first call for
// a name fixes its label names; later calls must use the same set. A
// mismatched set degrades to a logged no-op series instead of panicking.
func (p *PrometheusMetrics) Counter(name string, labels map[string]string) types.Counter {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := p.buildKey(name)
	if counter, exists := p.counters[key]; exists {
		return &PrometheusCounter{logger: p.logger, counter: counter, labels: labels}
	}

	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        fmt.Sprintf("Counter metric %s", name),
			ConstLabels: p.config.Labels,
		},
		labelNames(labels),
	)

	p.registry.MustRegister(counter)
	p.counters[key] = counter

	return &PrometheusCounter{logger: p.logger, counter: counter, labels: labels}
}

func (p *PrometheusMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := p.buildKey(name)
	if gauge, exists := p.gauges[key]; exists {
		return &PrometheusGauge{logger: p.logger, gauge: gauge, labels: labels}
	}

	gauge := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        fmt.Sprintf("Gauge metric %s", name),
			ConstLabels: p.config.Labels,
		},
		labelNames(labels),
	)

	p.registry.MustRegister(gauge)
	p.gauges[key] = gauge

	return &PrometheusGauge{logger: p.logger, gauge: gauge, labels: labels}
}

func (p *PrometheusMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := p.buildKey(name)
	if histogram, exists := p.histograms[key]; exists {
		return &PrometheusHistogram{logger: p.logger, histogram: histogram, labels: labels}
	}

	histogram := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   p.config.Namespace,
			Subsystem:   p.config.Subsystem,
			Name:        name,
			Help:        fmt.Sprintf("Histogram metric %s", name),
			Buckets:     buckets,
			ConstLabels: p.config.Labels,
		},
		labelNames(labels),
	)

	p.registry.MustRegister(histogram)
	p.histograms[key] = histogram

	return &PrometheusHistogram{logger: p.logger, histogram: histogram, labels: labels}
}

func (p *PrometheusMetrics) buildKey(name string) string {
	if p.config.Subsystem != "" {
		return fmt.Sprintf("%s_%s_%s", p.config.Namespace, p.config.Subsystem, name)
	}
	return fmt.Sprintf("%s_%s", p.config.Namespace, name)
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	return names
}

type PrometheusCounter struct {
	logger  types.Logger
	counter *prometheus.CounterVec
	labels  map[string]string
}

func (c *PrometheusCounter) series() prometheus.Counter {
	m, err := c.counter.GetMetricWith(c.labels)
	if err != nil {
		c.logger.Error("Counter labels do not match registration", zap.Error(err))
		return nil
	}
	return m
}

func (c *PrometheusCounter) Inc() {
	if m := c.series(); m != nil {
		m.Inc()
	}
}

func (c *PrometheusCounter) Add(delta float64) {
	if m := c.series(); m != nil {
		m.Add(delta)
	}
}

func (c *PrometheusCounter) Get() float64 {
	m := c.series()
	if m == nil {
		return 0
	}

	metric := &dto.Metric{}
	if err := m.Write(metric); err != nil {
		c.logger.Error("Failed to read counter", zap.Error(err))
	}
	return metric.GetCounter().GetValue()
}

type PrometheusGauge struct {
	logger types.Logger
	gauge  *prometheus.GaugeVec
	labels map[string]string
}

func (g *PrometheusGauge) series() prometheus.Gauge {
	m, err := g.gauge.GetMetricWith(g.labels)
	if err != nil {
		g.logger.Error("Gauge labels do not match registration", zap.Error(err))
		return nil
	}
	return m
}

func (g *PrometheusGauge) Set(value float64) {
	if m := g.series(); m != nil {
		m.Set(value)
	}
}

func (g *PrometheusGauge) Inc() {
	if m := g.series(); m != nil {
		m.Inc()
	}
}

func (g *PrometheusGauge) Dec() {
	if m := g.series(); m != nil {
		m.Dec()
	}
}

type PrometheusHistogram struct {
	logger    types.Logger
	histogram *prometheus.HistogramVec
	labels    map[string]string
}

func (h *PrometheusHistogram) Observe(value float64) {
	m, err := h.histogram.GetMetricWith(h.labels)
	if err != nil {
		h.logger.Error("Histogram labels do not match registration", zap.Error(err))
		return
	}
	m.Observe(value)
}
