package telemetry

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Run metrics recorded by the runner.
const (
	TasksDispatched  = "specrun_tasks_dispatched_total"
	TasksFailed      = "specrun_tasks_failed_total"
	TaskDuration     = "specrun_task_duration"
	TasksActive      = "specrun_tasks_active"
	TasksOutstanding = "specrun_tasks_outstanding"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Gauge   MetricType = "gauge"
	Timer   MetricType = "timer"
)

// Metric represents a telemetry metric
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels"`
	Timestamp time.Time         `json:"timestamp"`
	Unit      string            `json:"unit,omitempty"`
}

// Collector buffers metrics and periodically flushes them to the log. Running
// totals survive flushes so a run can be summarised at the end.
type Collector struct {
	mu      sync.RWMutex
	metrics []Metric
	totals  map[string]float64
	gauges  map[string]float64
	enabled bool
	flushCh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewCollector creates a collector. A positive interval starts the background flusher.
func NewCollector(enabled bool, interval time.Duration) *Collector {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Collector{
		totals:  make(map[string]float64),
		gauges:  make(map[string]float64),
		enabled: enabled,
		flushCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}

	if enabled && interval > 0 {
		c.wg.Add(1)
		go c.periodicFlush(interval)
	}

	return c
}

// Counter increments a counter metric
func (c *Collector) Counter(name string, value float64, labels map[string]string) {
	c.addMetric(Metric{Name: name, Type: Counter, Value: value, Labels: labels, Timestamp: time.Now()})
}

// Gauge sets a gauge metric value
func (c *Collector) Gauge(name string, value float64, labels map[string]string) {
	c.addMetric(Metric{Name: name, Type: Gauge, Value: value, Labels: labels, Timestamp: time.Now()})
}

// Timer records a duration measurement
func (c *Collector) Timer(name string, duration time.Duration, labels map[string]string) {
	c.addMetric(Metric{
		Name:      name,
		Type:      Timer,
		Value:     float64(duration.Milliseconds()),
		Labels:    labels,
		Timestamp: time.Now(),
		Unit:      "ms",
	})
}

func (c *Collector) addMetric(metric Metric) {
	if c == nil || !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics = append(c.metrics, metric)
	switch metric.Type {
	case Counter, Timer:
		c.totals[metric.Name] += metric.Value
	case Gauge:
		c.gauges[metric.Name] = metric.Value
	}

	if len(c.metrics) >= 100 {
		select {
		case c.flushCh <- struct{}{}:
		default:
		}
	}
}

// Metrics returns a copy of the buffered metrics
func (c *Collector) Metrics() []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]Metric, len(c.metrics))
	copy(result, c.metrics)
	return result
}

// Total returns the running sum of a counter or timer.
func (c *Collector) Total(name string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.totals[name]
}

// Last returns the most recent value of a gauge.
func (c *Collector) Last(name string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gauges[name]
}

// Flush writes buffered metrics to the debug log and clears the buffer.
func (c *Collector) Flush() {
	c.mu.Lock()
	metrics := c.metrics
	c.metrics = nil
	c.mu.Unlock()

	if len(metrics) == 0 {
		return
	}

	log.Debug().Int("count", len(metrics)).Msg("flushing telemetry metrics")
	for _, metric := range metrics {
		log.Debug().
			Str("name", metric.Name).
			Str("type", string(metric.Type)).
			Float64("value", metric.Value).
			Interface("labels", metric.Labels).
			Time("timestamp", metric.Timestamp).
			Msg("telemetry_metric")
	}
}

func (c *Collector) periodicFlush(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.Flush()
		case <-c.flushCh:
			c.Flush()
		}
	}
}

// Shutdown stops the flusher and flushes what is left.
func (c *Collector) Shutdown() {
	c.cancel()
	c.wg.Wait()
	c.Flush()
}

// TimerScope measures one duration into a collector.
type TimerScope struct {
	startTime time.Time
	name      string
	labels    map[string]string
	collector *Collector
}

// StartTimer begins a timer scope.
func (c *Collector) StartTimer(name string, labels map[string]string) *TimerScope {
	return &TimerScope{startTime: time.Now(), name: name, labels: labels, collector: c}
}

// End completes the timer and records the duration
func (ts *TimerScope) End() time.Duration {
	duration := time.Since(ts.startTime)
	ts.collector.Timer(ts.name, duration, ts.labels)
	return duration
}
