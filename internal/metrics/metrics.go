// Package metrics provides monitoring and metrics collection for azula.
// It supports counters, gauges and histograms with label support, either in
// an in-memory registry or exported to Prometheus.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric.
type MetricType string

const (
	TypeCounter   MetricType = "counter"
	TypeGauge     MetricType = "gauge"
	TypeHistogram MetricType = "histogram"
)

// Labels represents key-value pairs for metric labels.
type Labels map[string]string

// Metric represents a single metric with its metadata. For histograms Value
// holds the last observation while Count and Sum accumulate.
type Metric struct {
	Name      string
	Type      MetricType
	Value     float64
	Count     uint64
	Sum       float64
	Labels    Labels
	Timestamp time.Time
}

// Registry holds all metrics and provides collection functionality.
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
	enabled bool
}

// NewRegistry creates a new metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		metrics: make(map[string]*Metric),
		enabled: true,
	}
}

// SetEnabled enables or disables metrics collection.
func (r *Registry) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// IsEnabled returns whether metrics collection is enabled.
func (r *Registry) IsEnabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

// Counter increments a counter metric.
func (r *Registry) Counter(name string, labels Labels) {
	r.Add(name, 1, labels)
}

// Add increases a counter metric by delta.
func (r *Registry) Add(name string, delta float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	if metric, exists := r.metrics[key]; exists {
		metric.Value += delta
		metric.Timestamp = time.Now()
		return
	}
	r.metrics[key] = &Metric{
		Name:      name,
		Type:      TypeCounter,
		Value:     delta,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// Gauge sets a gauge metric value.
func (r *Registry) Gauge(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	r.metrics[key] = &Metric{
		Name:      name,
		Type:      TypeGauge,
		Value:     value,
		Labels:    copyLabels(labels),
		Timestamp: time.Now(),
	}
}

// Histogram records a value in a histogram metric.
func (r *Registry) Histogram(name string, value float64, labels Labels) {
	if !r.IsEnabled() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := makeKey(name, labels)
	metric, exists := r.metrics[key]
	if !exists {
		metric = &Metric{
			Name:   name,
			Type:   TypeHistogram,
			Labels: copyLabels(labels),
		}
		r.metrics[key] = metric
	}
	metric.Value = value
	metric.Count++
	metric.Sum += value
	metric.Timestamp = time.Now()
}

// GetMetrics returns a snapshot of all current metrics.
func (r *Registry) GetMetrics() map[string]*Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*Metric, len(r.metrics))
	for key, metric := range r.metrics {
		m := *metric
		m.Labels = copyLabels(metric.Labels)
		result[key] = &m
	}
	return result
}

// Get returns a copy of one metric, or nil if it was never recorded.
func (r *Registry) Get(name string, labels Labels) *Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()

	metric, ok := r.metrics[makeKey(name, labels)]
	if !ok {
		return nil
	}
	m := *metric
	m.Labels = copyLabels(metric.Labels)
	return &m
}

// Reset clears all metrics.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = make(map[string]*Metric)
}

// makeKey creates a unique key for a metric from its name and sorted labels.
func makeKey(name string, labels Labels) string {
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
		b.WriteString(":")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	return b.String()
}

// copyLabels creates a copy of labels map.
func copyLabels(labels Labels) Labels {
	if labels == nil {
		return nil
	}
	result := make(Labels, len(labels))
	for k, v := range labels {
		result[k] = v
	}
	return result
}

// Global registry instance.
var defaultRegistry = NewRegistry()

// Default returns the default metrics registry.
func Default() *Registry {
	return defaultRegistry
}

// Timer provides a simple way to measure execution time.
type Timer struct {
	start    time.Time
	name     string
	labels   Labels
	registry *Registry
}

// NewTimer creates a new timer recording into r.
func (r *Registry) NewTimer(name string, labels Labels) *Timer {
	return &Timer{
		start:    time.Now(),
		name:     name,
		labels:   labels,
		registry: r,
	}
}

// Stop stops the timer, records the duration as a histogram and returns it.
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.start)
	t.registry.Histogram(t.name, duration.Seconds(), t.labels)
	return duration
}

// Predefined metric names.
const (
	// Scan metrics.
	MetricScanDuration   = "scan_duration_seconds"
	MetricScanTotal      = "scan_total"
	MetricProbesTotal    = "probes_total"
	MetricProbeDuration  = "probe_duration_seconds"
	MetricOpenPorts      = "open_ports_total"
	MetricProbesInFlight = "probes_in_flight"

	// Address resolution metrics.
	MetricAddressesResolved = "addresses_resolved"

	// Worker pool metrics.
	MetricJobsSubmitted = "jobs_submitted_total"
	MetricJobsCompleted = "jobs_completed_total"
	MetricJobDuration   = "job_duration_seconds"
	MetricJobAttempts   = "job_attempts"
	MetricWorkerPool    = "worker_pool_size"
)

// Common label keys.
const (
	LabelProtocol  = "protocol"
	LabelStatus    = "status"
	LabelJobType   = "job_type"
	LabelComponent = "component"
)

// Probe outcomes used as status label values.
const (
	StatusOpen   = "open"
	StatusClosed = "closed"
	StatusError  = "error"
)
