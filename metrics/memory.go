package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/saiset-co/sai-enrichment/types"
)

// MemoryMetrics keeps everything in process memory. Used in tests and when no
// scrape endpoint is wanted.
type MemoryMetrics struct {
	counters   sync.Map
	gauges     sync.Map
	histograms sync.Map
	running    int32
}

func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{}
}

func (m *MemoryMetrics) Start() error {
	if !atomic.CompareAndSwapInt32(&m.running, 0, 1) {
		return types.ErrComponentAlreadyRunning
	}
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !atomic.CompareAndSwapInt32(&m.running, 1, 0) {
		return types.ErrComponentNotRunning
	}
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return atomic.LoadInt32(&m.running) == 1
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	key := seriesKey(name, labels)
	actual, _ := m.counters.LoadOrStore(key, &MemoryCounter{})
	return actual.(*MemoryCounter)
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	key := seriesKey(name, labels)
	actual, _ := m.gauges.LoadOrStore(key, &MemoryGauge{})
	return actual.(*MemoryGauge)
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	key := seriesKey(name, labels)
	actual, _ := m.histograms.LoadOrStore(key, &MemoryHistogram{})
	return actual.(*MemoryHistogram)
}

// CounterValue reports the current value of a counter series, zero when the
// series was never touched.
func (m *MemoryMetrics) CounterValue(name string, labels map[string]string) float64 {
	if v, ok := m.counters.Load(seriesKey(name, labels)); ok {
		return v.(*MemoryCounter).Value()
	}
	return 0
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(parts)

	return name + "{" + strings.Join(parts, ",") + "}"
}

type MemoryCounter struct {
	mu    sync.Mutex
	value float64
}

func (c *MemoryCounter) Inc() {
	c.Add(1)
}

func (c *MemoryCounter) Add(delta float64) {
	c.mu.Lock()
	c.value += delta
	c.mu.Unlock()
}

func (c *MemoryCounter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

type MemoryGauge struct {
	mu    sync.Mutex
	value float64
}

func (g *MemoryGauge) Set(value float64) {
	g.mu.Lock()
	g.value = value
	g.mu.Unlock()
}

func (g *MemoryGauge) Inc() {
	g.mu.Lock()
	g.value++
	g.mu.Unlock()
}

func (g *MemoryGauge) Dec() {
	g.mu.Lock()
	g.value--
	g.mu.Unlock()
}

type MemoryHistogram struct {
	mu    sync.Mutex
	count uint64
	sum   float64
}

func (h *MemoryHistogram) Observe(value float64) {
	h.mu.Lock()
	h.count++
	h.sum += value
	h.mu.Unlock()
}
