package types

type MetricsManager interface {
	LifecycleManager
	Counter(name string, labels map[string]string) Counter
	Gauge(name string, labels map[string]string) Gauge
	Histogram(name string, buckets []float64, labels map[string]string) Histogram
}

type MetricsManagerCreator func(config *MetricsConfig) (MetricsManager, error)

type Counter interface {
	Inc()
	Add(delta float64)
}

type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
}

type Histogram interface {
	Observe(value float64)
}
