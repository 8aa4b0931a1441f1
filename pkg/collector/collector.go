// Package collector supervises the sampling engines, the nightly
// maintenance task and the HTTP API of one collector process.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/owlog/pkg/api"
	"github.com/cuemby/owlog/pkg/bus"
	"github.com/cuemby/owlog/pkg/bus/owserver"
	"github.com/cuemby/owlog/pkg/config"
	"github.com/cuemby/owlog/pkg/engine"
	"github.com/cuemby/owlog/pkg/events"
	"github.com/cuemby/owlog/pkg/log"
	"github.com/cuemby/owlog/pkg/maintenance"
	"github.com/cuemby/owlog/pkg/metrics"
	"github.com/cuemby/owlog/pkg/render"
	"github.com/cuemby/owlog/pkg/shutdown"
	"github.com/cuemby/owlog/pkg/storage"
	"github.com/cuemby/owlog/pkg/tsfile"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ComponentStorage is the health component of the state database
const ComponentStorage = "storage"

// statusInterval is how often health and state gauges are refreshed
const statusInterval = 5 * time.Second

// Options customizes a Collector
type Options struct {
	// Dialer reaches the controllers; nil means owserver
	Dialer bus.Dialer

	Version   string
	BuildDate string
}

// Collector owns every long-running part of the process
type Collector struct {
	cfg     *config.Config
	coord   *shutdown.Coordinator
	store   storage.Store
	broker  *events.Broker
	maint   *maintenance.Task
	engines []*engine.Engine
	version string
	logger  zerolog.Logger

	mu       sync.Mutex
	failures []error
}

// New opens the state database and builds one engine per controller. cfg
// must have defaults applied and be valid.
func New(cfg *config.Config, opts Options) (*Collector, error) {
	store, err := storage.NewBoltStore(cfg.StateDB)
	if err != nil {
		return nil, err
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = owserver.Dialer{}
	}

	c := &Collector{
		cfg:     cfg,
		coord:   shutdown.New(),
		store:   store,
		broker:  events.NewBroker(),
		version: opts.Version,
		logger:  log.WithComponent("collector"),
	}
	c.maint = maintenance.New(c.coord, store, c.broker)

	renderer := &render.JSONRenderer{Dir: cfg.DocumentDir}
	for _, st := range cfg.Stations() {
		c.engines = append(c.engines, engine.New(st, engine.Options{
			Dialer:      dialer,
			Coordinator: c.coord,
			Maintenance: c.maint,
			Store:       store,
			Publisher:   c.broker,
			Renderer:    renderer,
			Writer: tsfile.WriterOptions{
				Version:   opts.Version,
				BuildDate: opts.BuildDate,
			},
		}))
	}
	return c, nil
}

// Coordinator returns the shutdown coordinator shared by every worker
func (c *Collector) Coordinator() *shutdown.Coordinator {
	return c.coord
}

// Run starts every worker and blocks until ctx is cancelled, an engine
// fails or the API server stops. It then waits up to the configured
// shutdown timeout for the workers to exit. The returned error joins every
// engine failure.
func (c *Collector) Run(ctx context.Context) error {
	c.broker.Start()
	// Engines log their own state changes; the rest is mirrored at debug
	sub := c.broker.Subscribe(events.Filter{
		Types: []events.EventType{events.EventEngineFailed, events.EventCycleFailed, events.EventRolloverDone},
	})
	go c.logEvents(sub)

	c.registerHealth()
	status := metrics.NewCollector(c.store, statusInterval)
	status.Start()

	for _, e := range c.engines {
		if err := c.coord.Go(func() { c.runEngine(e) }); err != nil {
			c.coord.RequestShutdown()
			c.logger.Error().Err(err).Str("controller", e.Name()).Msg("Failed to start engine")
			break
		}
	}
	if err := c.coord.Go(c.maint.Run); err != nil {
		c.coord.RequestShutdown()
	}

	c.logger.Info().
		Int("controllers", len(c.engines)).
		Str("http_addr", c.cfg.HTTPAddr).
		Msg("Collector running")

	g, gctx := errgroup.WithContext(c.coord.Context())
	server := api.NewServer(api.NewHealthServer(c.store))
	g.Go(func() error {
		return server.Run(gctx, c.cfg.HTTPAddr)
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Shutdown signal received")
		case <-gctx.Done():
		}
		c.coord.RequestShutdown()
		return nil
	})
	apiErr := g.Wait()
	if apiErr != nil {
		c.logger.Error().Err(apiErr).Msg("HTTP API failed")
	}

	c.logger.Info().Dur("timeout", c.cfg.ShutdownTimeout).Msg("Waiting for workers to exit")
	finishErr := c.coord.Finish(c.cfg.ShutdownTimeout)

	status.Stop()
	c.broker.Unsubscribe(sub)
	c.broker.Stop()

	if finishErr != nil {
		// Stragglers may still write status, so the database stays open
		c.logger.Error().Err(finishErr).Int("workers", c.coord.Workers()).Msg("Workers did not exit in time")
	} else if err := c.store.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to close state database")
	}

	errs := c.engineFailures()
	if apiErr != nil {
		errs = append(errs, apiErr)
	}
	if finishErr != nil {
		errs = append(errs, finishErr)
	}
	if len(errs) == 0 {
		c.logger.Info().Msg("Collector stopped")
	}
	return errors.Join(errs...)
}

// runEngine runs one engine. A failed engine ends the whole process, after
// the other engines have drained.
func (c *Collector) runEngine(e *engine.Engine) {
	err := e.Run()
	if err == nil {
		return
	}

	c.mu.Lock()
	c.failures = append(c.failures, fmt.Errorf("controller %s: %w", e.Name(), err))
	c.mu.Unlock()

	c.logger.Error().Err(err).Str("controller", e.Name()).Msg("Engine failed, shutting down")
	c.coord.RequestShutdown()
}

func (c *Collector) engineFailures() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.failures...)
}

func (c *Collector) registerHealth() {
	metrics.SetVersion(c.version)

	critical := []string{ComponentStorage}
	metrics.RegisterComponent(ComponentStorage, true, c.cfg.StateDB)
	for _, e := range c.engines {
		name := metrics.ControllerComponent(e.Name())
		metrics.RegisterComponent(name, false, "starting")
		critical = append(critical, name)
	}
	metrics.SetCritical(critical...)
}

// logEvents mirrors the event stream into the log until sub is closed
func (c *Collector) logEvents(sub events.Subscriber) {
	logger := log.WithComponent("events")
	for ev := range sub {
		evt := logger.Debug()
		if ev.Type == events.EventEngineFailed {
			evt = logger.Warn()
		}
		evt.Str("id", ev.ID).
			Str("type", string(ev.Type)).
			Str("controller", ev.Controller).
			Str("message", ev.Message).
			Msg("Event")
	}
}
