package metrics

import (
	"time"

	"github.com/cuemby/owlog/pkg/log"
	"github.com/cuemby/owlog/pkg/types"
)

// StatusSource lists the persisted controller status
type StatusSource interface {
	ListStatus() ([]*types.ControllerStatus, error)
}

var engineStates = []types.EngineState{
	types.StateConnecting,
	types.StateDiscovering,
	types.StateSampling,
	types.StateDraining,
	types.StateClosed,
}

// ControllerComponent is the health component name of a controller
func ControllerComponent(name string) string {
	return "controller/" + name
}

// Collector derives engine state gauges and controller health from the
// persisted status
type Collector struct {
	source   StatusSource
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source StatusSource, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	list, err := c.source.ListStatus()
	if err != nil {
		logger := log.WithComponent("metrics")
		logger.Warn().Err(err).Msg("Failed to list controller status")
		return
	}

	for _, st := range list {
		for _, s := range engineStates {
			v := 0.0
			if s == st.State {
				v = 1
			}
			EngineState.WithLabelValues(st.Name, string(s)).Set(v)
		}
		ConsecutiveFailures.WithLabelValues(st.Name).Set(float64(st.ConsecutiveFailures))

		msg := string(st.State)
		if st.LastError != "" && st.State != types.StateSampling {
			msg += ": " + st.LastError
		}
		UpdateComponent(ControllerComponent(st.Name), st.State == types.StateSampling, msg)
	}
}
