package monitoring

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MetricType represents different types of metrics.
type MetricType string

const (
	MetricTypeCounter   MetricType = "counter"
	MetricTypeGauge     MetricType = "gauge"
	MetricTypeHistogram MetricType = "histogram"
)

// Metric represents a single metric measurement.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// MetricsCollector collects and manages application metrics.
type MetricsCollector struct {
	metrics    map[string]*Metric
	counters   map[string]*int64
	gauges     map[string]*float64
	histograms map[string]*Histogram
	mutex      sync.RWMutex
	prefix     string
	outputPath string
	started    time.Time
}

// Histogram tracks distribution of values.
type Histogram struct {
	buckets []float64
	counts  []int64
	count   int64
	sum     float64
	mutex   sync.Mutex
}

// DefaultHistogramBuckets are bucket boundaries in seconds.
var DefaultHistogramBuckets = []float64{
	0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// NewMetricsCollector creates a new metrics collector. When outputPath is
// set, FlushMetrics writes a JSON snapshot there.
func NewMetricsCollector(prefix string, outputPath string) *MetricsCollector {
	return &MetricsCollector{
		metrics:    make(map[string]*Metric),
		counters:   make(map[string]*int64),
		gauges:     make(map[string]*float64),
		histograms: make(map[string]*Histogram),
		prefix:     prefix,
		outputPath: outputPath,
		started:    time.Now(),
	}
}

// CounterAdd adds a value to a counter metric.
func (mc *MetricsCollector) CounterAdd(name string, value int64, labels map[string]string) {
	fullName := mc.getFullName(name)
	key := getKey(fullName, labels)

	mc.mutex.RLock()
	counter, exists := mc.counters[key]
	mc.mutex.RUnlock()
	if exists {
		atomic.AddInt64(counter, value)
		return
	}

	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	if counter, exists = mc.counters[key]; exists {
		atomic.AddInt64(counter, value)
		return
	}
	counter = new(int64)
	*counter = value
	mc.counters[key] = counter
	mc.metrics[key] = &Metric{Name: fullName, Type: MetricTypeCounter, Labels: labels}
}

// Counter increments a counter metric.
func (mc *MetricsCollector) Counter(name string, labels map[string]string) {
	mc.CounterAdd(name, 1, labels)
}

// Gauge sets a gauge metric value.
func (mc *MetricsCollector) Gauge(name string, value float64, labels map[string]string) {
	fullName := mc.getFullName(name)
	key := getKey(fullName, labels)

	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if gauge, exists := mc.gauges[key]; exists {
		*gauge = value
		return
	}
	gauge := value
	mc.gauges[key] = &gauge
	mc.metrics[key] = &Metric{Name: fullName, Type: MetricTypeGauge, Labels: labels}
}

// Histogram observes a value in a histogram.
func (mc *MetricsCollector) Histogram(name string, value float64, labels map[string]string) {
	fullName := mc.getFullName(name)
	key := getKey(fullName, labels)

	mc.mutex.Lock()
	hist, exists := mc.histograms[key]
	if !exists {
		hist = NewHistogram(DefaultHistogramBuckets)
		mc.histograms[key] = hist
		mc.metrics[key] = &Metric{Name: fullName, Type: MetricTypeHistogram, Labels: labels}
	}
	mc.mutex.Unlock()

	hist.Observe(value)
}

// Timer measures operation duration.
func (mc *MetricsCollector) Timer(name string, labels map[string]string) func() {
	start := time.Now()

	return func() {
		mc.Histogram(name+"_duration_seconds", time.Since(start).Seconds(), labels)
	}
}

// GatherMetrics collects all current metrics sorted by name.
func (mc *MetricsCollector) GatherMetrics() []Metric {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	now := time.Now()
	var all []Metric

	for key, counter := range mc.counters {
		m := *mc.metrics[key]
		m.Value = float64(atomic.LoadInt64(counter))
		m.Timestamp = now
		all = append(all, m)
	}

	for key, gauge := range mc.gauges {
		m := *mc.metrics[key]
		m.Value = *gauge
		m.Timestamp = now
		all = append(all, m)
	}

	for key, hist := range mc.histograms {
		base := *mc.metrics[key]
		bounds, counts, count, sum := hist.snapshot()
		for i, bound := range bounds {
			m := base
			m.Name += "_bucket"
			m.Labels = withLabel(base.Labels, "le", strconv.FormatFloat(bound, 'g', -1, 64))
			m.Value = float64(counts[i])
			m.Timestamp = now
			all = append(all, m)
		}
		m := base
		m.Name += "_count"
		m.Value = float64(count)
		m.Timestamp = now
		all = append(all, m)

		m = base
		m.Name += "_sum"
		m.Value = sum
		m.Timestamp = now
		all = append(all, m)
	}

	all = append(all, Metric{
		Name:      mc.getFullName("uptime_seconds"),
		Type:      MetricTypeGauge,
		Value:     time.Since(mc.started).Seconds(),
		Timestamp: now,
	})

	sort.Slice(all, func(i, j int) bool {
		if all[i].Name != all[j].Name {
			return all[i].Name < all[j].Name
		}
		return getKey("", all[i].Labels) < getKey("", all[j].Labels)
	})

	return all
}

// Value returns the current value of a counter or gauge, or 0.
func (mc *MetricsCollector) Value(name string, labels map[string]string) float64 {
	key := getKey(mc.getFullName(name), labels)

	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	if c, ok := mc.counters[key]; ok {
		return float64(atomic.LoadInt64(c))
	}
	if g, ok := mc.gauges[key]; ok {
		return *g
	}
	return 0
}

// Sum adds up the counters and gauges named name whose labels include
// every pair in labels.
func (mc *MetricsCollector) Sum(name string, labels map[string]string) float64 {
	full := mc.getFullName(name)

	mc.mutex.RLock()
	defer mc.mutex.RUnlock()

	var total float64
	for key, m := range mc.metrics {
		if m.Name != full || !hasLabels(m.Labels, labels) {
			continue
		}
		if c, ok := mc.counters[key]; ok {
			total += float64(atomic.LoadInt64(c))
		} else if g, ok := mc.gauges[key]; ok {
			total += *g
		}
	}
	return total
}

func hasLabels(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// FlushMetrics writes current metrics to the output path.
func (mc *MetricsCollector) FlushMetrics() error {
	if mc.outputPath == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(mc.outputPath), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	file, err := os.OpenFile(mc.outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open metrics file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")

	if err := encoder.Encode(mc.snapshot()); err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}

	return nil
}

// Handler serves the current metrics as JSON.
func (mc *MetricsCollector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(mc.snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func (mc *MetricsCollector) snapshot() map[string]interface{} {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return map[string]interface{}{
		"timestamp": time.Now(),
		"metrics":   mc.GatherMetrics(),
		"system": map[string]interface{}{
			"goroutines":   runtime.NumGoroutine(),
			"memory_alloc": mem.Alloc,
			"gc_runs":      mem.NumGC,
		},
	}
}

func (mc *MetricsCollector) getFullName(name string) string {
	if mc.prefix == "" {
		return name
	}

	return mc.prefix + "_" + name
}

// getKey builds a stable key from a name and its labels.
func getKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

func withLabel(labels map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	out[key] = value
	return out
}

// NewHistogram creates a new histogram with the given buckets.
func NewHistogram(buckets []float64) *Histogram {
	bounds := append([]float64(nil), buckets...)
	sort.Float64s(bounds)
	return &Histogram{buckets: bounds, counts: make([]int64, len(bounds))}
}

// Observe adds an observation to the histogram.
func (h *Histogram) Observe(value float64) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.count++
	h.sum += value

	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
		}
	}
}

// Count returns the total observation count.
func (h *Histogram) Count() int64 {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.count
}

func (h *Histogram) snapshot() ([]float64, []int64, int64, float64) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	return h.buckets, append([]int64(nil), h.counts...), h.count, h.sum
}
