// Package maintenance runs the nightly extrema rollover for every registered
// controller.
package maintenance

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/owlog/pkg/events"
	"github.com/cuemby/owlog/pkg/log"
	"github.com/cuemby/owlog/pkg/metrics"
	"github.com/cuemby/owlog/pkg/shutdown"
	"github.com/cuemby/owlog/pkg/types"
	"github.com/rs/zerolog"
)

// SummaryStore records daily summaries
type SummaryStore interface {
	PutSummary(summary *types.DailySummary) error
}

// Publisher receives rollover events
type Publisher interface {
	Publish(event *events.Event)
}

// dayLayout labels a calendar day in summaries and events
const dayLayout = "20060102"

// Task rolls today's extrema into yesterday's at local midnight
type Task struct {
	coord     *shutdown.Coordinator
	store     SummaryStore
	publisher Publisher
	logger    zerolog.Logger

	mu   sync.Mutex
	sets map[string]*types.SensorSet

	now   func() time.Time
	sleep func(time.Duration) bool
}

// New creates the maintenance task. store and publisher may be nil.
func New(coord *shutdown.Coordinator, store SummaryStore, publisher Publisher) *Task {
	return &Task{
		coord:     coord,
		store:     store,
		publisher: publisher,
		logger:    log.WithComponent("maintenance"),
		sets:      make(map[string]*types.SensorSet),
		now:       time.Now,
		sleep:     coord.SleepOrShutdown,
	}
}

// Register hands a controller's sensor set to the task
func (t *Task) Register(name string, set *types.SensorSet) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sets[name] = set
}

// Unregister removes a controller's sensor set
func (t *Task) Unregister(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sets, name)
}

// Registered returns the names of the registered controllers in order
func (t *Task) Registered() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	names := make([]string, 0, len(t.sets))
	for name := range t.sets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NextMidnight returns the first local midnight after now
func NextMidnight(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// Run sleeps until each local midnight and rolls over every registered set.
// Each day is rolled over at most once, even when the wall clock steps back
// across midnight. It returns when shutdown is requested.
func (t *Task) Run() {
	t.logger.Info().Msg("Maintenance task started")
	var last string
	for {
		midnight := NextMidnight(t.now())
		if t.sleep(midnight.Sub(t.now())) {
			t.logger.Info().Msg("Maintenance task stopped")
			return
		}

		// The day that ended at midnight
		day := midnight.Add(-time.Nanosecond)
		label := day.Format(dayLayout)
		if label == last {
			t.logger.Warn().Str("day", label).Msg("Clock moved back, day already rolled over")
			continue
		}
		last = label
		t.RollOver(day)
	}
}

// RollOver records a summary of day for every registered set, then moves
// today's extrema to yesterday.
func (t *Task) RollOver(day time.Time) {
	t.mu.Lock()
	names := make([]string, 0, len(t.sets))
	sets := make(map[string]*types.SensorSet, len(t.sets))
	for name, set := range t.sets {
		names = append(names, name)
		sets[name] = set
	}
	t.mu.Unlock()
	sort.Strings(names)

	label := day.Format(dayLayout)
	for _, name := range names {
		summary := rollOverSet(name, label, sets[name])
		summary.CreatedAt = t.now()

		logger := t.logger.With().Str("controller", name).Str("day", label).Logger()
		if t.store != nil {
			if err := t.store.PutSummary(summary); err != nil {
				logger.Error().Err(err).Msg("Failed to store daily summary")
			}
		}

		metrics.RolloversTotal.Inc()
		if t.publisher != nil {
			t.publisher.Publish(&events.Event{
				Type:       events.EventRolloverDone,
				Controller: name,
				Message:    "daily extrema rolled over",
				Metadata:   map[string]string{"day": label},
			})
		}
		logger.Info().Int("readings", len(summary.Readings)).Msg("Rolled over daily extrema")
	}
}

// rollOverSet summarizes and rolls over one set under its lock
func rollOverSet(name, label string, set *types.SensorSet) *types.DailySummary {
	set.Lock()
	defer set.Unlock()

	summary := &types.DailySummary{Controller: name, Day: label}
	for _, s := range set.Sensors {
		for _, r := range s.Readings {
			if s.Active() && r.Used && r.Today.Valid {
				summary.Readings = append(summary.Readings, types.ReadingSummary{
					SensorID: s.ID,
					Location: s.Location,
					Reading:  r.Name,
					Unit:     r.Unit,
					Min:      r.Today.Min,
					MinTime:  r.Today.MinTime,
					Max:      r.Today.Max,
					MaxTime:  r.Today.MaxTime,
				})
			}
			r.RollOver()
		}
	}
	return summary
}
