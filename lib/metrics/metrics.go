// Package metrics provides simple metrics collection for connkeeper.
// Supports Prometheus exposition format for monitoring integration.
//
// Metrics are registered in families; a family optionally carries one label
// so per-pool series (pool="name") can share a single HELP/TYPE header.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultLatencyBuckets are histogram buckets suited to pool checkout
// latencies, in seconds.
var DefaultLatencyBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Counter is a monotonically increasing counter.
type Counter struct {
	value uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	atomic.AddUint64(&c.value, v)
}

// Value returns the current counter value.
func (c *Counter) Value() uint64 {
	return atomic.LoadUint64(&c.value)
}

// Gauge is a metric that can go up and down.
type Gauge struct {
	value int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	atomic.StoreInt64(&g.value, v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// Histogram tracks the distribution of values.
type Histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, b := range h.buckets {
		if v <= b {
			h.counts[i]++
		}
	}
}

// ObserveSince records the seconds elapsed since start.
func (h *Histogram) ObserveSince(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

const (
	typeCounter   = "counter"
	typeGauge     = "gauge"
	typeHistogram = "histogram"
)

// family is one named metric family with zero or more labeled series.
type family struct {
	name      string
	help      string
	mtype     string
	labelName string
	buckets   []float64

	mu     sync.Mutex
	series map[string]any // label value -> *Counter | *Gauge | *Histogram
}

func (f *family) prometheus() string {
	f.mu.Lock()
	defer f.mu.Unlock()

	labels := make([]string, 0, len(f.series))
	for l := range f.series {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	var sb strings.Builder
	fmt.Fprintf(&sb, "# HELP %s %s\n", f.name, f.help)
	fmt.Fprintf(&sb, "# TYPE %s %s\n", f.name, f.mtype)
	for _, l := range labels {
		switch m := f.series[l].(type) {
		case *Counter:
			fmt.Fprintf(&sb, "%s%s %d\n", f.name, f.labelSuffix(l), m.Value())
		case *Gauge:
			fmt.Fprintf(&sb, "%s%s %d\n", f.name, f.labelSuffix(l), m.Value())
		case *Histogram:
			m.mu.Lock()
			for i, b := range m.buckets {
				fmt.Fprintf(&sb, "%s_bucket%s %d\n", f.name, f.bucketSuffix(l, fmt.Sprintf("%g", b)), m.counts[i])
			}
			fmt.Fprintf(&sb, "%s_bucket%s %d\n", f.name, f.bucketSuffix(l, "+Inf"), m.count)
			fmt.Fprintf(&sb, "%s_sum%s %g\n", f.name, f.labelSuffix(l), m.sum)
			fmt.Fprintf(&sb, "%s_count%s %d\n", f.name, f.labelSuffix(l), m.count)
			m.mu.Unlock()
		}
	}
	return sb.String()
}

func (f *family) labelSuffix(labelValue string) string {
	if f.labelName == "" {
		return ""
	}
	return fmt.Sprintf("{%s=%q}", f.labelName, labelValue)
}

func (f *family) bucketSuffix(labelValue, le string) string {
	if f.labelName == "" {
		return fmt.Sprintf("{le=%q}", le)
	}
	return fmt.Sprintf("{%s=%q,le=%q}", f.labelName, labelValue, le)
}

// Registry holds all registered metric families.
type Registry struct {
	mu       sync.RWMutex
	families map[string]*family
}

// defaultRegistry is the global metric registry.
var defaultRegistry = &Registry{
	families: make(map[string]*family),
}

func (r *Registry) family(name, help, mtype, labelName string, buckets []float64) *family {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.families[name]; ok {
		return f
	}
	f := &family{
		name:      name,
		help:      help,
		mtype:     mtype,
		labelName: labelName,
		buckets:   buckets,
		series:    make(map[string]any),
	}
	r.families[name] = f
	return f
}

// Expose returns all metrics in Prometheus exposition format.
func (r *Registry) Expose() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.families))
	for name := range r.families {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	for _, name := range names {
		sb.WriteString(r.families[name].prometheus())
		sb.WriteString("\n")
	}
	return sb.String()
}

// NewCounter creates an unlabeled counter metric.
func NewCounter(name, help string) *Counter {
	return NewCounterVec(name, help, "").With("")
}

// NewGauge creates an unlabeled gauge metric.
func NewGauge(name, help string) *Gauge {
	return NewGaugeVec(name, help, "").With("")
}

// NewHistogram creates an unlabeled histogram metric.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	return NewHistogramVec(name, help, "", buckets).With("")
}

// CounterVec is a counter family keyed by one label.
type CounterVec struct{ f *family }

// NewCounterVec creates a counter family with the given label name.
func NewCounterVec(name, help, labelName string) *CounterVec {
	return &CounterVec{f: defaultRegistry.family(name, help, typeCounter, labelName, nil)}
}

// With returns the counter for the given label value, creating it if needed.
func (v *CounterVec) With(labelValue string) *Counter {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()
	if m, ok := v.f.series[labelValue]; ok {
		return m.(*Counter)
	}
	c := &Counter{}
	v.f.series[labelValue] = c
	return c
}

// Remove drops the series for the given label value.
func (v *CounterVec) Remove(labelValue string) {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()
	delete(v.f.series, labelValue)
}

// GaugeVec is a gauge family keyed by one label.
type GaugeVec struct{ f *family }

// NewGaugeVec creates a gauge family with the given label name.
func NewGaugeVec(name, help, labelName string) *GaugeVec {
	return &GaugeVec{f: defaultRegistry.family(name, help, typeGauge, labelName, nil)}
}

// With returns the gauge for the given label value, creating it if needed.
func (v *GaugeVec) With(labelValue string) *Gauge {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()
	if m, ok := v.f.series[labelValue]; ok {
		return m.(*Gauge)
	}
	g := &Gauge{}
	v.f.series[labelValue] = g
	return g
}

// Remove drops the series for the given label value.
func (v *GaugeVec) Remove(labelValue string) {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()
	delete(v.f.series, labelValue)
}

// HistogramVec is a histogram family keyed by one label.
type HistogramVec struct{ f *family }

// NewHistogramVec creates a histogram family with the given label name.
func NewHistogramVec(name, help, labelName string, buckets []float64) *HistogramVec {
	return &HistogramVec{f: defaultRegistry.family(name, help, typeHistogram, labelName, buckets)}
}

// With returns the histogram for the given label value, creating it if needed.
func (v *HistogramVec) With(labelValue string) *Histogram {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()
	if m, ok := v.f.series[labelValue]; ok {
		return m.(*Histogram)
	}
	h := &Histogram{
		buckets: v.f.buckets,
		counts:  make([]uint64, len(v.f.buckets)),
	}
	v.f.series[labelValue] = h
	return h
}

// Remove drops the series for the given label value.
func (v *HistogramVec) Remove(labelValue string) {
	v.f.mu.Lock()
	defer v.f.mu.Unlock()
	delete(v.f.series, labelValue)
}

// Expose returns all registered metrics in Prometheus exposition format.
func Expose() string {
	return defaultRegistry.Expose()
}

// Handler returns an http.Handler that exposes metrics.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.Write([]byte(Expose()))
	})
}

// Process-level metrics.
var (
	// StartTime is the Unix timestamp when the process started.
	StartTime = NewGauge("connkeeper_start_time_seconds", "Unix timestamp when the process started")

	// PoolsRegistered is the number of pools currently registered.
	PoolsRegistered = NewGauge("connkeeper_pools_registered", "Number of pools currently registered")
)

// RecordStartTime records the current time as the start time.
func RecordStartTime() {
	StartTime.Set(time.Now().Unix())
}
