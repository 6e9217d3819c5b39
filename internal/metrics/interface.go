package metrics

import "time"

// MetricsRegistry defines the interface for metrics collection and management.
// This interface allows for easy mocking and testing of metrics functionality.
type MetricsRegistry interface {
	// SetEnabled enables or disables metrics collection.
	SetEnabled(enabled bool)

	// IsEnabled returns whether metrics collection is enabled.
	IsEnabled() bool

	// Counter increments a counter metric with the given name and labels.
	Counter(name string, labels Labels)

	// Gauge sets a gauge metric to the specified value with the given name and labels.
	Gauge(name string, value float64, labels Labels)

	// Histogram records a value in a histogram metric with the given name and labels.
	Histogram(name string, value float64, labels Labels)

	// GetMetrics returns a snapshot of all current metrics.
	GetMetrics() map[string]*Metric

	// Reset clears all metrics from the registry.
	Reset()
}

// Ensure that Registry implements MetricsRegistry interface.
var _ MetricsRegistry = (*Registry)(nil)

// ProbeRecorder receives scan engine measurements.
type ProbeRecorder interface {
	// RecordProbe records one finished probe target with its final status.
	RecordProbe(protocol, status string, duration time.Duration)
	// SetInFlight reports the number of probes currently in flight.
	SetInFlight(n int)
	// RecordScan records a finished scan.
	RecordScan(protocol, status string, duration time.Duration)
	// SetAddresses reports the size of the resolved address set.
	SetAddresses(n int)
}

// RegistryRecorder implements ProbeRecorder on top of a Registry.
type RegistryRecorder struct {
	registry MetricsRegistry
}

// NewRegistryRecorder wraps registry. A nil registry uses the default one.
func NewRegistryRecorder(registry MetricsRegistry) *RegistryRecorder {
	if registry == nil {
		registry = Default()
	}
	return &RegistryRecorder{registry: registry}
}

// RecordProbe implements ProbeRecorder.
func (r *RegistryRecorder) RecordProbe(protocol, status string, duration time.Duration) {
	labels := Labels{LabelProtocol: protocol, LabelStatus: status}
	r.registry.Counter(MetricProbesTotal, labels)
	r.registry.Histogram(MetricProbeDuration, duration.Seconds(), Labels{LabelProtocol: protocol})
	if status == StatusOpen {
		r.registry.Counter(MetricOpenPorts, Labels{LabelProtocol: protocol})
	}
}

// SetInFlight implements ProbeRecorder.
func (r *RegistryRecorder) SetInFlight(n int) {
	r.registry.Gauge(MetricProbesInFlight, float64(n), nil)
}

// RecordScan implements ProbeRecorder.
func (r *RegistryRecorder) RecordScan(protocol, status string, duration time.Duration) {
	r.registry.Counter(MetricScanTotal, Labels{LabelProtocol: protocol, LabelStatus: status})
	r.registry.Histogram(MetricScanDuration, duration.Seconds(), Labels{LabelProtocol: protocol})
}

// SetAddresses implements ProbeRecorder.
func (r *RegistryRecorder) SetAddresses(n int) {
	r.registry.Gauge(MetricAddressesResolved, float64(n), nil)
}

// MultiRecorder fans measurements out to several recorders.
type MultiRecorder []ProbeRecorder

// RecordProbe implements ProbeRecorder.
func (m MultiRecorder) RecordProbe(protocol, status string, duration time.Duration) {
	for _, r := range m {
		r.RecordProbe(protocol, status, duration)
	}
}

// SetInFlight implements ProbeRecorder.
func (m MultiRecorder) SetInFlight(n int) {
	for _, r := range m {
		r.SetInFlight(n)
	}
}

// RecordScan implements ProbeRecorder.
func (m MultiRecorder) RecordScan(protocol, status string, duration time.Duration) {
	for _, r := range m {
		r.RecordScan(protocol, status, duration)
	}
}

// SetAddresses implements ProbeRecorder.
func (m MultiRecorder) SetAddresses(n int) {
	for _, r := range m {
		r.SetAddresses(n)
	}
}

var (
	_ ProbeRecorder = (*RegistryRecorder)(nil)
	_ ProbeRecorder = MultiRecorder(nil)
	_ ProbeRecorder = (*PrometheusMetrics)(nil)
)
