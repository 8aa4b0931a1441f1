package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics
	EnginesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "owlog_engines_running",
			Help: "Number of sampling engines currently running",
		},
	)

	EngineState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "owlog_engine_state",
			Help: "Current engine state by controller (1 for the active state)",
		},
		[]string{"controller", "state"},
	)

	ConnectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owlog_connect_attempts_total",
			Help: "Total number of controller connect attempts by result",
		},
		[]string{"controller", "result"},
	)

	// Cycle metrics
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owlog_cycles_total",
			Help: "Total number of sampling cycles by result",
		},
		[]string{"controller", "result"},
	)

	ConsecutiveFailures = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "owlog_consecutive_failures",
			Help: "Current run of consecutive failed cycles",
		},
		[]string{"controller"},
	)

	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "owlog_cycle_duration_seconds",
			Help:    "Time spent reading and recording one cycle in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"controller"},
	)

	// Sensor metrics
	SensorReadErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owlog_sensor_read_errors_total",
			Help: "Total number of failed sensor reads",
		},
		[]string{"controller", "sensor"},
	)

	ReadingValue = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "owlog_reading_value",
			Help: "Last value recorded for a sensor reading",
		},
		[]string{"controller", "sensor", "reading"},
	)

	// Maintenance metrics
	RolloversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "owlog_rollovers_total",
			Help: "Total number of daily extrema rollovers per controller",
		},
	)

	// Event metrics
	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "owlog_events_dropped_total",
			Help: "Events not delivered to a subscriber with a full buffer",
		},
		[]string{"type"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(EnginesRunning)
	prometheus.MustRegister(EngineState)
	prometheus.MustRegister(ConnectAttempts)
	prometheus.MustRegister(CyclesTotal)
	prometheus.MustRegister(ConsecutiveFailures)
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(SensorReadErrors)
	prometheus.MustRegister(ReadingValue)
	prometheus.MustRegister(RolloversTotal)
	prometheus.MustRegister(EventsDropped)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
