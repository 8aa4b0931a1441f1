/*
Package metrics provides Prometheus metrics and the component health registry
for owlog.

All metrics are package variables registered with the default registry at
init and exposed by Handler on /metrics.

# Metrics

	owlog_engines_running                     gauge
	owlog_engine_state{controller,state}      gauge, 1 for the active state
	owlog_connect_attempts_total{controller,result}
	owlog_cycles_total{controller,result}     result is "ok" or "failed"
	owlog_consecutive_failures{controller}    gauge
	owlog_cycle_duration_seconds{controller}  histogram
	owlog_sensor_read_errors_total{controller,sensor}
	owlog_reading_value{controller,sensor,reading}
	owlog_rollovers_total

Engines update the cycle and sensor metrics directly. The Collector polls the
persisted controller status and derives the state gauges and the health of
each controller component ("controller/<name>"), which is healthy while the
engine is sampling.

# Health

Components register themselves with RegisterComponent and UpdateComponent.
SetCritical names the components readiness depends on:

	metrics.SetCritical("storage", metrics.ControllerComponent("garden"))

	/health  200 unless a critical component is unhealthy; "degraded" when
	         only other components fail
	/ready   200 once every critical component is registered and healthy

# Timing

	timer := metrics.NewTimer()
	runCycle()
	timer.ObserveDurationVec(metrics.CycleDuration, "garden")
*/
package metrics
