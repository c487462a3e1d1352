// Package metrics holds the Prometheus collectors of the telemetry service.
// All recording methods are safe on a nil *Metrics so components can run without metrics in tests.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aquaflow"

// Message results
const (
	ResultRouted       = "routed"
	ResultMalformed    = "malformed"
	ResultUnknownTopic = "unknown_topic"
	ResultAccepted     = "accepted"
	ResultRejected     = "rejected"
	ResultPersisted    = "persisted"
	ResultSkipped      = "skipped"
	ResultFailed       = "failed"
	ResultEmpty        = "empty"
	ResultStale        = "stale"
	ResultPublished    = "published"
	ResultSuppressed   = "suppressed"
	ResultMissing      = "missing"
)

// Metrics collectors
type Metrics struct {
	messages           *prometheus.CounterVec
	readings           *prometheus.CounterVec
	sweepDemoted       prometheus.Counter
	activeSensors      prometheus.Gauge
	samplerTicks       *prometheus.CounterVec
	sampledRows        prometheus.Counter
	samplerWrite       prometheus.Histogram
	runningSamplers    prometheus.Gauge
	thresholdRepublish *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_messages_total",
			Help:      "Inbound telemetry messages by routing result.",
		}, []string{"result"}),
		readings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_readings_total",
			Help:      "Individual sensor values by bucket and validation result.",
		}, []string{"bucket", "result"}),
		sweepDemoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liveness_demoted_total",
			Help:      "Cache entries demoted to inactive by the liveness sweep.",
		}),
		activeSensors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "liveness_active_sensors",
			Help:      "Sensors with at least one active reading after the last sweep.",
		}),
		samplerTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampler_ticks_total",
			Help:      "Per-user sampler ticks by result.",
		}, []string{"result"}),
		sampledRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampler_rows_total",
			Help:      "Rows written by sampler ticks.",
		}),
		samplerWrite: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sampler_write_seconds",
			Help:      "Latency of one sampler batch write.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		runningSamplers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sampler_running",
			Help:      "Number of armed per-user samplers.",
		}),
		thresholdRepublish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "valve_threshold_republish_total",
			Help:      "Threshold republish attempts by result.",
		}, []string{"result"}),
	}

	for _, c := range []prometheus.Collector{
		m.messages, m.readings, m.sweepDemoted, m.activeSensors, m.samplerTicks,
		m.sampledRows, m.samplerWrite, m.runningSamplers, m.thresholdRepublish,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register collector: %w", err)
		}
	}

	return m, nil
}

// Message counts one inbound message
func (m *Metrics) Message(result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(result).Inc()
}

// Reading counts one validated or rejected sensor value
func (m *Metrics) Reading(bucket, result string) {
	if m == nil {
		return
	}
	m.readings.WithLabelValues(bucket, result).Inc()
}

// Sweep records one sweep pass
func (m *Metrics) Sweep(demoted, active int) {
	if m == nil {
		return
	}
	m.sweepDemoted.Add(float64(demoted))
	m.activeSensors.Set(float64(active))
}

// Tick counts one sampler tick outcome
func (m *Metrics) Tick(result string) {
	if m == nil {
		return
	}
	m.samplerTicks.WithLabelValues(result).Inc()
}

// BatchWritten records a successful batch write
func (m *Metrics) BatchWritten(rows int, took time.Duration) {
	if m == nil {
		return
	}
	m.sampledRows.Add(float64(rows))
	m.samplerWrite.Observe(took.Seconds())
}

// RunningSamplers sets the armed sampler gauge
func (m *Metrics) RunningSamplers(n int) {
	if m == nil {
		return
	}
	m.runningSamplers.Set(float64(n))
}

// Republish counts one threshold republish outcome
func (m *Metrics) Republish(result string) {
	if m == nil {
		return
	}
	m.thresholdRepublish.WithLabelValues(result).Inc()
}
