package telemetry

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Gauge   MetricType = "gauge"
	Timer   MetricType = "timer"
)

// Metric is the aggregated value of one name+labels series.
type Metric struct {
	Name    string            `json:"name"`
	Type    MetricType        `json:"type"`
	Value   float64           `json:"value"`
	Count   int64             `json:"count,omitempty"`
	Labels  map[string]string `json:"labels,omitempty"`
	Updated time.Time         `json:"updated"`
	Unit    string            `json:"unit,omitempty"`
}

// Collector aggregates metrics in memory. Counters and timers accumulate,
// gauges keep the last value.
type Collector struct {
	mu      sync.RWMutex
	series  map[string]*Metric
	enabled bool
}

// NewCollector creates a new telemetry collector
func NewCollector(enabled bool) *Collector {
	return &Collector{series: map[string]*Metric{}, enabled: enabled}
}

// Counter increments a counter metric
func (c *Collector) Counter(name string, value float64, labels map[string]string) {
	c.add(name, Counter, value, "", labels, false)
}

// Gauge sets a gauge metric value
func (c *Collector) Gauge(name string, value float64, labels map[string]string) {
	c.add(name, Gauge, value, "", labels, true)
}

// Timer records a duration measurement in milliseconds
func (c *Collector) Timer(name string, duration time.Duration, labels map[string]string) {
	c.add(name, Timer, float64(duration.Milliseconds()), "ms", labels, false)
}

func (c *Collector) add(name string, typ MetricType, value float64, unit string, labels map[string]string, replace bool) {
	if c == nil || !c.enabled {
		return
	}
	key := seriesKey(name, labels)

	c.mu.Lock()
	defer c.mu.Unlock()

	m, ok := c.series[key]
	if !ok {
		m = &Metric{Name: name, Type: typ, Unit: unit, Labels: copyLabels(labels)}
		c.series[key] = m
	}
	if replace {
		m.Value = value
	} else {
		m.Value += value
	}
	m.Count++
	m.Updated = time.Now()
}

// GetMetrics returns a copy of current metrics ordered by name then labels
func (c *Collector) GetMetrics() []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.series))
	for k := range c.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	result := make([]Metric, 0, len(keys))
	for _, k := range keys {
		m := *c.series[k]
		m.Labels = copyLabels(m.Labels)
		result = append(result, m)
	}
	return result
}

// Find returns the series for name with exactly these labels.
func (c *Collector) Find(name string, labels map[string]string) (Metric, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.series[seriesKey(name, labels)]
	if !ok {
		return Metric{}, false
	}
	return *m, true
}

// LogMetrics writes the current metrics to the log.
func (c *Collector) LogMetrics() {
	for _, metric := range c.GetMetrics() {
		log.Info().
			Str("name", metric.Name).
			Str("type", string(metric.Type)).
			Float64("value", metric.Value).
			Int64("count", metric.Count).
			Interface("labels", metric.Labels).
			Msg("telemetry_metric")
	}
}

func seriesKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func copyLabels(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Global collector instance
var (
	globalMu        sync.RWMutex
	globalCollector *Collector
)

// InitGlobal initializes the global telemetry collector
func InitGlobal(enabled bool) *Collector {
	c := NewCollector(enabled)
	globalMu.Lock()
	globalCollector = c
	globalMu.Unlock()
	return c
}

// GetGlobal returns the global collector
func GetGlobal() *Collector {
	globalMu.RLock()
	c := globalCollector
	globalMu.RUnlock()
	if c != nil {
		return c
	}
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCollector == nil {
		globalCollector = NewCollector(false)
	}
	return globalCollector
}

// CounterGlobal increments a counter using the global collector
func CounterGlobal(name string, value float64, labels map[string]string) {
	GetGlobal().Counter(name, value, labels)
}

// GaugeGlobal sets a gauge using the global collector
func GaugeGlobal(name string, value float64, labels map[string]string) {
	GetGlobal().Gauge(name, value, labels)
}

// TimerGlobal records a timer using the global collector
func TimerGlobal(name string, duration time.Duration, labels map[string]string) {
	GetGlobal().Timer(name, duration, labels)
}
