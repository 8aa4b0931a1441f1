package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/owlog/pkg/bus"
	"github.com/cuemby/owlog/pkg/events"
	"github.com/cuemby/owlog/pkg/log"
	"github.com/cuemby/owlog/pkg/metrics"
	"github.com/cuemby/owlog/pkg/pressure"
	"github.com/cuemby/owlog/pkg/tsfile"
	"github.com/cuemby/owlog/pkg/types"
)

// discover enumerates the controller's sensors, merges the configured
// device hints and restores today's and yesterday's history from disk.
func (e *Engine) discover(conn bus.Conn) error {
	sensors, err := conn.Discover(e.coord.Context())
	if err != nil {
		if e.coord.IsShuttingDown() {
			return errStopped
		}
		return fmt.Errorf("failed to discover sensors: %w", err)
	}

	for _, id := range applyHints(sensors, e.cfg.Devices) {
		e.logger.Warn().Str("sensor", id).Msg("Configured device not found on bus")
	}

	active := 0
	for _, s := range sensors {
		if s.Active() {
			active++
		} else if !s.Ignore {
			e.logger.Debug().Str("sensor", s.ID).Str("family", s.Family).Msg("No readings for device family")
		}
	}
	if active == 0 {
		e.logger.Warn().Int("devices", len(sensors)).Msg("No active sensors found")
	}
	e.status.Sensors = active

	if e.cfg.Altitude != 0 {
		e.pressure = pressure.Eligible(sensors)
	}

	e.recorder = e.opts.Recorder
	if e.recorder == nil {
		e.recorder = tsfile.NewWriter(e.cfg.FilePrefix, e.opts.Writer)
	}

	// Yesterday's file fills today's extrema, which are then rolled over
	now := e.now()
	if err := e.catchUp(sensors, tsfile.DaysAgo(now, 1)); err != nil {
		return err
	}
	for _, s := range sensors {
		for _, r := range s.Readings {
			r.RollOver()
		}
	}
	if err := e.catchUp(sensors, now); err != nil {
		return err
	}

	e.set = types.NewSensorSet(sensors)
	if e.opts.Maintenance != nil {
		e.opts.Maintenance.Register(e.cfg.Name, e.set)
	}

	e.logger.Info().Int("devices", len(sensors)).Int("active", active).Msg("Discovery complete")
	return nil
}

// catchUp replays one day's data file. A missing file is normal.
func (e *Engine) catchUp(sensors []*types.Sensor, day time.Time) error {
	path := tsfile.Path(e.cfg.FilePrefix, day)
	stats, err := tsfile.ReadDay(e.cfg.FilePrefix, sensors, day)
	if err != nil {
		if errors.Is(err, tsfile.ErrNoFile) {
			e.logger.Debug().Str("file", path).Msg("No data file to restore")
			return nil
		}
		var invariant *tsfile.InvariantError
		if errors.As(err, &invariant) {
			e.logger.Error().Err(err).Str("kind", "invariant").Str("file", path).Msg("Data file reader failed")
		}
		return fmt.Errorf("failed to restore history: %w", err)
	}

	e.logger.Debug().
		Str("file", path).
		Int("lines", stats.Lines).
		Int("values", stats.Values).
		Msg("Restored history")
	return nil
}

// applyHints merges operator supplied device data into the discovered
// sensors and returns the identifiers of hints that matched no device.
func applyHints(sensors []*types.Sensor, hints []types.DeviceHint) []string {
	var missing []string
	for _, h := range hints {
		id := types.CanonicalID(h.ID)

		var s *types.Sensor
		for _, candidate := range sensors {
			if candidate.ID == id {
				s = candidate
				break
			}
		}
		if s == nil {
			missing = append(missing, id)
			continue
		}

		s.Location = h.Location
		s.Group = h.Group
		s.Ignore = h.Ignore
		if readings := types.NewReadings(h.Readings); readings != nil {
			s.Readings = readings
			s.Initialized = true
		}
	}
	return missing
}

// sample runs cycles until shutdown or until the run of failed cycles
// exceeds the configured maximum.
func (e *Engine) sample() error {
	for {
		if e.coord.IsShuttingDown() {
			return nil
		}

		start := e.now()
		err := e.cycle(start)
		if errors.Is(err, errStopped) {
			return nil
		}
		elapsed := e.now().Sub(start)

		e.status.Cycles++
		e.status.LastCycle = start
		if err != nil {
			e.failures++
			e.status.Failures++
			e.status.LastError = err.Error()
			metrics.CyclesTotal.WithLabelValues(e.cfg.Name, "failed").Inc()

			evt := e.logger.Debug()
			if e.failures == 1 || e.failures%failureLogInterval == 0 {
				evt = e.logger.Warn()
			}
			evt.Err(err).Int("consecutive", e.failures).Int("max_fails", e.cfg.MaxFails).Msg("Cycle failed")
			e.publish(events.EventCycleFailed, err.Error(), map[string]string{
				"consecutive": fmt.Sprint(e.failures),
			})
		} else {
			if e.failures > 0 {
				e.logger.Info().Int("after", e.failures).Msg("Cycle recovered")
			}
			e.failures = 0
			metrics.CyclesTotal.WithLabelValues(e.cfg.Name, "ok").Inc()
		}
		metrics.ConsecutiveFailures.WithLabelValues(e.cfg.Name).Set(float64(e.failures))
		e.persistStatus()

		if e.failures > e.cfg.MaxFails {
			return fmt.Errorf("%w: %d in a row, last: %w", ErrTooManyFailures, e.failures, err)
		}

		wait := e.cfg.Period - elapsed
		if wait < 0 {
			wait = 0
		}
		if e.sleep(wait) {
			return nil
		}
	}
}

// cycle reads every active sensor once and appends the record. Failures of
// single sensors are logged; the cycle fails only when the controller cannot
// be reached or the record cannot be written.
func (e *Engine) cycle(start time.Time) error {
	timer := metrics.NewTimer()
	ctx := e.coord.Context()

	conn, err := e.opts.Dialer.Dial(ctx, e.cfg.Address(), e.cfg.Timeout)
	if err != nil {
		if e.coord.IsShuttingDown() {
			return errStopped
		}
		metrics.ConnectAttempts.WithLabelValues(e.cfg.Name, "failed").Inc()
		return fmt.Errorf("%w: %w", ErrConnect, err)
	}
	defer conn.Close()
	metrics.ConnectAttempts.WithLabelValues(e.cfg.Name, "ok").Inc()

	e.set.Lock()
	defer e.set.Unlock()
	sensors := e.set.Sensors

	for _, s := range sensors {
		s.ClearCurrent()
	}

	for _, s := range sensors {
		if !s.Active() {
			continue
		}
		if err := conn.Read(ctx, s); err != nil {
			if e.coord.IsShuttingDown() {
				return errStopped
			}
			s.ReadErrors++
			s.ClearCurrent()
			metrics.SensorReadErrors.WithLabelValues(e.cfg.Name, s.ID).Inc()
			logger := log.WithSensor(e.logger, s.ID)
			logger.Warn().Err(err).Int("errors", s.ReadErrors).Msg("Failed to read sensor")
		}
	}

	pressure.Apply(e.pressure, e.cfg.Altitude)

	ts := start.Add(e.now().Sub(start) / 2).Unix()
	for _, s := range sensors {
		for _, r := range s.UsedReadings() {
			r.Commit(ts)
		}
	}

	if err := e.recorder.Append(sensors, ts); err != nil {
		return fmt.Errorf("failed to record cycle: %w", err)
	}

	for _, s := range sensors {
		if !s.Active() {
			continue
		}
		for _, r := range s.UsedReadings() {
			if r.Current {
				metrics.ReadingValue.WithLabelValues(e.cfg.Name, s.ID, r.Name).Set(r.Value)
			}
		}
	}

	if e.cfg.Render && e.opts.Renderer != nil {
		if err := e.opts.Renderer.Render(&e.cfg, sensors, e.cfg.Period, ts); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to render snapshot")
		}
	}

	timer.ObserveDurationVec(metrics.CycleDuration, e.cfg.Name)
	return nil
}
