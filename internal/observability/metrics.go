package observability

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles Prometheus metrics used across the telemetry agent.
type Metrics struct {
	namespace string

	telemetryPublished  prometheus.Counter
	publishErrors       prometheus.Counter
	duplicatesSkipped   prometheus.Counter
	errorReports        prometheus.Counter
	errorReportFailures prometheus.Counter
	controlRequests     *prometheus.CounterVec
	sensorReadFailures  prometheus.Counter
	sensorCyclesSkipped prometheus.Counter
	resets              *prometheus.CounterVec
	journalErrors       prometheus.Counter
	temperature         prometheus.Gauge
	humidity            prometheus.Gauge
	networkConnected    prometheus.Gauge
	brokerConnected     prometheus.Gauge
	sensorReading       prometheus.Gauge

	healthy atomic.Bool
}

// MetricsOption customises metrics creation.
type MetricsOption func(*metricsConfig)

type metricsConfig struct {
	namespace string
	registry  prometheus.Registerer
}

// WithNamespace overrides the metric namespace (default: thermopipe).
func WithNamespace(ns string) MetricsOption {
	return func(cfg *metricsConfig) {
		if ns != "" {
			cfg.namespace = ns
		}
	}
}

// WithRegistry overrides the Prometheus registerer (useful for tests).
func WithRegistry(reg prometheus.Registerer) MetricsOption {
	return func(cfg *metricsConfig) {
		if reg != nil {
			cfg.registry = reg
		}
	}
}

// NewMetrics initialises and registers agent metrics.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := metricsConfig{
		namespace: "thermopipe",
		registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.registry)
	m := &Metrics{
		namespace: cfg.namespace,
		telemetryPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "telemetry_published_total",
			Help:      "Total number of telemetry messages handed to the broker.",
		}),
		publishErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "publish_errors_total",
			Help:      "Total number of telemetry publish transport failures.",
		}),
		duplicatesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "duplicate_readings_skipped_total",
			Help:      "Total number of readings not published because they matched the last published reading.",
		}),
		errorReports: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "error_reports_total",
			Help:      "Total number of error reports published.",
		}),
		errorReportFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "error_reports_failed_total",
			Help:      "Total number of error reports that could not be published.",
		}),
		controlRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "control_requests_total",
			Help:      "Total number of inbound control requests, partitioned by type.",
		}, []string{"type"}),
		sensorReadFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "sensor_read_failures_total",
			Help:      "Total number of failed sensor measurement attempts.",
		}),
		sensorCyclesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "sensor_cycles_skipped_total",
			Help:      "Total number of sampling cycles with no reading after all attempts.",
		}),
		resets: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "resets_total",
			Help:      "Total number of resets requested, partitioned by failure kind.",
		}, []string{"kind"}),
		journalErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "journal_errors_total",
			Help:      "Total number of journal write failures.",
		}),
		temperature: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "temperature_celsius",
			Help:      "Most recent temperature reading.",
		}),
		humidity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "humidity_percent",
			Help:      "Most recent relative humidity reading.",
		}),
		networkConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "network_connected",
			Help:      "1 when the network station reports connectivity.",
		}),
		brokerConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "broker_connected",
			Help:      "1 while the broker session is open.",
		}),
		sensorReading: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "sensor_reading_in_progress",
			Help:      "1 while a sensor read, retries included, is running.",
		}),
	}

	m.healthy.Store(true)
	return m
}

// IncTelemetryPublished counts a successful telemetry publish.
func (m *Metrics) IncTelemetryPublished() {
	if m == nil {
		return
	}
	m.telemetryPublished.Inc()
}

// IncPublishErrors counts a publish failure and marks the agent unhealthy.
func (m *Metrics) IncPublishErrors() {
	if m == nil {
		return
	}
	m.publishErrors.Inc()
	m.healthy.Store(false)
}

// IncDuplicatesSkipped notes a suppressed duplicate reading.
func (m *Metrics) IncDuplicatesSkipped() {
	if m == nil {
		return
	}
	m.duplicatesSkipped.Inc()
}

// IncErrorReports notes a published error report.
func (m *Metrics) IncErrorReports() {
	if m == nil {
		return
	}
	m.errorReports.Inc()
}

// IncErrorReportFailures notes an error report that was swallowed.
func (m *Metrics) IncErrorReportFailures() {
	if m == nil {
		return
	}
	m.errorReportFailures.Inc()
}

// IncControlRequests notes an inbound control request.
func (m *Metrics) IncControlRequests(kind string) {
	if m == nil {
		return
	}
	m.controlRequests.WithLabelValues(kind).Inc()
}

// IncSensorReadFailures notes one failed measurement attempt.
func (m *Metrics) IncSensorReadFailures() {
	if m == nil {
		return
	}
	m.sensorReadFailures.Inc()
}

// IncSensorCyclesSkipped notes a cycle that produced no reading.
func (m *Metrics) IncSensorCyclesSkipped() {
	if m == nil {
		return
	}
	m.sensorCyclesSkipped.Inc()
}

// IncResets notes a reset and marks the agent unhealthy.
func (m *Metrics) IncResets(kind string) {
	if m == nil {
		return
	}
	m.resets.WithLabelValues(kind).Inc()
	m.healthy.Store(false)
}

// IncJournalErrors notes a failed journal write.
func (m *Metrics) IncJournalErrors() {
	if m == nil {
		return
	}
	m.journalErrors.Inc()
}

// ObserveReading records the latest sensor values.
func (m *Metrics) ObserveReading(temperature, humidity float64) {
	if m == nil {
		return
	}
	m.temperature.Set(temperature)
	m.humidity.Set(humidity)
}

// SetNetworkConnected records station connectivity.
func (m *Metrics) SetNetworkConnected(up bool) {
	if m == nil {
		return
	}
	m.networkConnected.Set(boolGauge(up))
}

// SetBrokerConnected records broker session state.
func (m *Metrics) SetBrokerConnected(up bool) {
	if m == nil {
		return
	}
	m.brokerConnected.Set(boolGauge(up))
}

// SetSensorReading marks the start and end of a sensor read.
func (m *Metrics) SetSensorReading(active bool) {
	if m == nil {
		return
	}
	m.sensorReading.Set(boolGauge(active))
}

// Healthy reports whether recent operations have seen errors.
func (m *Metrics) Healthy() bool {
	if m == nil {
		return true
	}
	return m.healthy.Load()
}

// MarkHealthy resets the healthy flag.
func (m *Metrics) MarkHealthy() {
	if m == nil {
		return
	}
	m.healthy.Store(true)
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
