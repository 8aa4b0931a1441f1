package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/cuemby/owlog/pkg/bus"
	"github.com/cuemby/owlog/pkg/events"
	"github.com/cuemby/owlog/pkg/log"
	"github.com/cuemby/owlog/pkg/metrics"
	"github.com/cuemby/owlog/pkg/render"
	"github.com/cuemby/owlog/pkg/shutdown"
	"github.com/cuemby/owlog/pkg/tsfile"
	"github.com/cuemby/owlog/pkg/types"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

var (
	// ErrConnect reports that the controller could not be reached
	ErrConnect = errors.New("failed to connect to controller")

	// ErrTooManyFailures reports that the run of consecutive failed cycles
	// exceeded the configured maximum
	ErrTooManyFailures = errors.New("too many consecutive failures")

	// errStopped unwinds the engine when shutdown is requested
	errStopped = errors.New("shutdown requested")
)

// failureLogInterval is how often a run of failed cycles is logged at warn level
const failureLogInterval = 5

// Lifecycle events
const (
	eventConnected  = "connected"
	eventDiscovered = "discovered"
	eventDrain      = "drain"
	eventClose      = "close"
)

// Recorder persists one record per cycle
type Recorder interface {
	Append(sensors []*types.Sensor, ts int64) error
}

// Maintenance receives the sensor set for the nightly rollover
type Maintenance interface {
	Register(name string, set *types.SensorSet)
	Unregister(name string)
}

// StatusStore persists the engine status
type StatusStore interface {
	PutStatus(status *types.ControllerStatus) error
}

// Publisher receives engine events
type Publisher interface {
	Publish(event *events.Event)
}

// Options wires an engine to its collaborators. Dialer and Coordinator are
// required; the rest may be nil.
type Options struct {
	Dialer      bus.Dialer
	Coordinator *shutdown.Coordinator
	Maintenance Maintenance
	Store       StatusStore
	Publisher   Publisher
	Renderer    render.Renderer

	// Recorder replaces the tsfile writer for the station's file prefix
	Recorder Recorder
	// Writer describes the program in new file headers
	Writer tsfile.WriterOptions

	// Now and Sleep replace the wall clock and the coordinator's
	// cancellable sleep
	Now   func() time.Time
	Sleep func(time.Duration) bool
}

// Engine samples one controller: it connects, discovers the sensors, then
// reads and records them once per period until shutdown or failure.
type Engine struct {
	cfg    types.StationConfig
	opts   Options
	coord  *shutdown.Coordinator
	fsm    *fsm.FSM
	logger zerolog.Logger

	set      *types.SensorSet
	pressure []*types.Reading
	recorder Recorder

	failures int
	status   types.ControllerStatus

	now   func() time.Time
	sleep func(time.Duration) bool
}

// New creates an engine for one controller
func New(cfg types.StationConfig, opts Options) *Engine {
	e := &Engine{
		cfg:    cfg,
		opts:   opts,
		coord:  opts.Coordinator,
		logger: log.WithController("engine", cfg.Name),
		now:    opts.Now,
		sleep:  opts.Sleep,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = e.coord.SleepOrShutdown
	}

	e.status = types.ControllerStatus{
		Name:    cfg.Name,
		Address: cfg.Address(),
		RunID:   uuid.NewString(),
		State:   types.StateConnecting,
	}

	e.fsm = fsm.NewFSM(
		string(types.StateConnecting),
		fsm.Events{
			{Name: eventConnected, Src: []string{string(types.StateConnecting)}, Dst: string(types.StateDiscovering)},
			{Name: eventDiscovered, Src: []string{string(types.StateDiscovering)}, Dst: string(types.StateSampling)},
			{Name: eventDrain, Src: []string{string(types.StateDiscovering), string(types.StateSampling)}, Dst: string(types.StateDraining)},
			{Name: eventClose, Src: []string{string(types.StateConnecting), string(types.StateDraining)}, Dst: string(types.StateClosed)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, ev *fsm.Event) {
				e.onState(types.EngineState(ev.Dst))
			},
		},
	)
	return e
}

// Name returns the controller name
func (e *Engine) Name() string {
	return e.cfg.Name
}

// State returns the current lifecycle state
func (e *Engine) State() types.EngineState {
	return types.EngineState(e.fsm.Current())
}

// Sensors returns the discovered sensor set, nil before discovery
func (e *Engine) Sensors() *types.SensorSet {
	return e.set
}

// Run drives the engine through its lifecycle and returns when it is
// closed. The error is nil when the engine stopped because shutdown was
// requested.
func (e *Engine) Run() error {
	metrics.EnginesRunning.Inc()
	defer metrics.EnginesRunning.Dec()

	e.status.StartedAt = e.now()
	e.onState(types.StateConnecting)
	e.logger.Info().Str("addr", e.cfg.Address()).Dur("period", e.cfg.Period).Msg("Engine starting")

	err := e.run()
	if errors.Is(err, errStopped) {
		err = nil
	}
	e.close(err)
	return err
}

func (e *Engine) run() error {
	conn, err := e.connect()
	if err != nil {
		return err
	}
	e.fire(eventConnected)

	err = e.discover(conn)
	if cerr := conn.Close(); cerr != nil {
		e.logger.Debug().Err(cerr).Msg("Failed to close connection")
	}
	if err != nil {
		return err
	}
	e.fire(eventDiscovered)

	return e.sample()
}

// connect opens the first connection, retrying with a constant delay. The
// wait between attempts ends early on shutdown.
func (e *Engine) connect() (bus.Conn, error) {
	ctx := e.coord.Context()
	addr := e.cfg.Address()

	attempts := e.cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var conn bus.Conn
	attempt := 0
	operation := func() error {
		attempt++
		c, err := e.opts.Dialer.Dial(ctx, addr, e.cfg.Timeout)
		if err != nil {
			metrics.ConnectAttempts.WithLabelValues(e.cfg.Name, "failed").Inc()
			return err
		}
		metrics.ConnectAttempts.WithLabelValues(e.cfg.Name, "ok").Inc()
		conn = c
		return nil
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(e.cfg.ConnectDelay), uint64(attempts-1)),
		ctx,
	)
	notify := func(err error, next time.Duration) {
		e.logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("attempts", attempts).
			Dur("retry_in", next).
			Msg("Failed to connect to controller")
	}

	if err := backoff.RetryNotify(operation, b, notify); err != nil {
		if e.coord.IsShuttingDown() {
			return nil, errStopped
		}
		return nil, fmt.Errorf("%w %s after %d attempts: %w", ErrConnect, addr, attempt, err)
	}
	return conn, nil
}

// fire triggers a lifecycle event. An invalid transition is a bug in the
// engine, so it is logged distinctly.
func (e *Engine) fire(event string) {
	if err := e.fsm.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return
		}
		e.logger.Error().Err(err).
			Str("kind", "invariant").
			Str("event", event).
			Str("state", e.fsm.Current()).
			Msg("Invalid engine transition")
	}
}

// onState records a state change in the status, metrics and event stream
func (e *Engine) onState(state types.EngineState) {
	e.status.State = state
	e.persistStatus()

	e.logger.Info().Str("state", string(state)).Msg("Engine state changed")
	e.publish(events.EventEngineState, string(state), nil)
}

// close releases the engine's resources and reports the final status
func (e *Engine) close(err error) {
	if e.State() != types.StateConnecting && e.State() != types.StateClosed {
		e.fire(eventDrain)
		if e.opts.Maintenance != nil && e.set != nil {
			e.opts.Maintenance.Unregister(e.cfg.Name)
		}
	}

	if err != nil {
		e.status.LastError = err.Error()
	}
	e.fire(eventClose)

	if err != nil {
		e.logger.Error().Err(err).Msg("Engine failed")
		e.publish(events.EventEngineFailed, err.Error(), nil)
		return
	}
	e.logger.Info().Msg("Engine stopped")
}

func (e *Engine) persistStatus() {
	if e.opts.Store == nil {
		return
	}
	e.status.ConsecutiveFailures = e.failures
	e.status.UpdatedAt = e.now()
	if err := e.opts.Store.PutStatus(&e.status); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to persist engine status")
	}
}

func (e *Engine) publish(typ events.EventType, msg string, meta map[string]string) {
	if e.opts.Publisher == nil {
		return
	}
	e.opts.Publisher.Publish(&events.Event{
		Type:       typ,
		Controller: e.cfg.Name,
		Message:    msg,
		Metadata:   meta,
	})
}
