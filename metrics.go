// SPDX-License-Identifier: GPL-3.0-or-later

package bridge

import "github.com/prometheus/client_golang/prometheus"

// BridgeMetrics receives counters from [*ResponseConsumer] and its drain task.
//
// By using an abstraction we allow for unit testing and for not depending
// on a metrics backend unless the caller wants one.
type BridgeMetrics interface {
	// AddBytesReceived counts bytes read from a content decoder.
	AddBytesReceived(count int)

	// AddBytesWritten counts bytes written to the downstream sink.
	AddBytesWritten(count int)

	// AddQueueDepth adjusts the number of buffers in flight.
	AddQueueDepth(delta int)

	// IncRequestInput counts flow control acknowledgements.
	IncRequestInput()

	// IncSuspendInput counts back-pressure activations.
	IncSuspendInput()
}

// DefaultBridgeMetrics returns the default [BridgeMetrics], which discards
// all the observations.
func DefaultBridgeMetrics() BridgeMetrics {
	return discardBridgeMetrics{}
}

type discardBridgeMetrics struct{}

var _ BridgeMetrics = discardBridgeMetrics{}

func (discardBridgeMetrics) AddBytesReceived(count int) {}
func (discardBridgeMetrics) AddBytesWritten(count int)  {}
func (discardBridgeMetrics) AddQueueDepth(delta int)    {}
func (discardBridgeMetrics) IncRequestInput()           {}
func (discardBridgeMetrics) IncSuspendInput()           {}

// PrometheusMetrics implements [BridgeMetrics] using Prometheus collectors.
//
// Construct using [NewPrometheusMetrics].
type PrometheusMetrics struct {
	bytesReceived prometheus.Counter
	bytesWritten  prometheus.Counter
	queueDepth    prometheus.Gauge
	requestInput  prometheus.Counter
	suspendInput  prometheus.Counter
}

var _ BridgeMetrics = &PrometheusMetrics{}

// NewPrometheusMetrics creates the bridge collectors under the given
// namespace and registers them with reg.
//
// This function panics if registration fails (e.g., because collectors
// with the same names are already registered with reg).
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	m := &PrometheusMetrics{
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "bytes_received_total",
			Help:      "Total number of bytes read from content decoders",
		}),
		bytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "bytes_written_total",
			Help:      "Total number of bytes written to downstream sinks",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "queue_depth",
			Help:      "Number of filled buffers waiting for the drain task",
		}),
		requestInput: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "request_input_total",
			Help:      "Total number of flow control acknowledgements sent to sources",
		}),
		suspendInput: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "suspend_input_total",
			Help:      "Total number of times a source was asked to suspend input",
		}),
	}
	reg.MustRegister(m.bytesReceived, m.bytesWritten, m.queueDepth, m.requestInput, m.suspendInput)
	return m
}

// AddBytesReceived implements [BridgeMetrics].
func (m *PrometheusMetrics) AddBytesReceived(count int) {
	m.bytesReceived.Add(float64(count))
}

// AddBytesWritten implements [BridgeMetrics].
func (m *PrometheusMetrics) AddBytesWritten(count int) {
	m.bytesWritten.Add(float64(count))
}

// AddQueueDepth implements [BridgeMetrics].
func (m *PrometheusMetrics) AddQueueDepth(delta int) {
	m.queueDepth.Add(float64(delta))
}

// IncRequestInput implements [BridgeMetrics].
func (m *PrometheusMetrics) IncRequestInput() {
	m.requestInput.Inc()
}

// IncSuspendInput implements [BridgeMetrics].
func (m *PrometheusMetrics) IncSuspendInput() {
	m.suspendInput.Inc()
}
