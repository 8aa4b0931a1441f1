/*
Package log provides structured logging for owlog using zerolog.

The log package wraps the zerolog library with a global logger, configurable
levels, and helpers that attach the context every owlog log line needs to be
diagnosable without a debugger: the component, the controller being sampled
and, where relevant, the sensor identifier.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init() from the daemon configuration
  - Thread-safe for concurrent use by every sampling engine

Log Levels:
  - Debug: per-cycle detail, suppressed repeat failures
  - Info: lifecycle transitions (connecting, sampling, closed)
  - Warn: throttled consecutive-failure reports, per-sensor read failures
  - Error: engine aborts, persistence failures, invariant violations

Context Loggers:
  - WithComponent("engine")
  - WithController("engine", "garden")
  - WithSensor(logger, "28AABBCCDDEEFF12")

# Usage

Initializing the Logger:

	log.Init(log.Config{
		Level:      log.ParseLevel(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})

Structured Logging:

	logger := log.WithController("engine", "garden")
	logger.Warn().
		Err(err).
		Str("sensor_id", sensor.ID).
		Msg("Sensor read failed")

Invariant violations carry a kind field so they can be filtered as bugs
rather than environment problems:

	logger.Error().Str("kind", "invariant").Err(err).Msg("Column map out of range")

# Log Output Examples

	{"level":"info","component":"engine","controller":"garden","state":"sampling","time":"2026-10-13T10:30:00Z","message":"Engine state changed"}
	{"level":"warn","component":"engine","controller":"garden","consecutive_failures":5,"error":"dial tcp 10.0.0.4:4304: connect: connection refused","time":"2026-10-13T10:35:00Z","message":"Sampling cycle failed"}

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing

Context Logger Pattern:
  - Engines create one child logger at construction
  - All engine logs automatically include the controller name

Log facility selection (syslog, journald) is left to the process supervisor;
owlog writes to the configured io.Writer only.
*/
package log
