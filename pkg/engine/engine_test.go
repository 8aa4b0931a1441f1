package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/owlog/pkg/bus"
	"github.com/cuemby/owlog/pkg/events"
	"github.com/cuemby/owlog/pkg/shutdown"
	"github.com/cuemby/owlog/pkg/tsfile"
	"github.com/cuemby/owlog/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioID = "AABBCCDDEE001122"

var errUnreachable = errors.New("connection refused")

// fakeBus serves a fixed device list. dialErr and read see the 1-based
// number of the dial the request belongs to.
type fakeBus struct {
	mu      sync.Mutex
	dials   int
	dialErr func(n int) error
	devices func() []*types.Sensor
	read    func(n int, s *types.Sensor) ([]float64, error)
}

func (b *fakeBus) Dial(ctx context.Context, _ string, _ time.Duration) (bus.Conn, error) {
	b.mu.Lock()
	b.dials++
	n := b.dials
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.dialErr != nil {
		if err := b.dialErr(n); err != nil {
			return nil, err
		}
	}
	return &fakeConn{bus: b, dial: n}, nil
}

func (b *fakeBus) dialCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dials
}

type fakeConn struct {
	bus  *fakeBus
	dial int
}

func (c *fakeConn) Discover(context.Context) ([]*types.Sensor, error) {
	if c.bus.devices == nil {
		return nil, nil
	}
	return c.bus.devices(), nil
}

func (c *fakeConn) Read(_ context.Context, s *types.Sensor) error {
	if c.bus.read == nil {
		return bus.ErrNotSupported
	}
	values, err := c.bus.read(c.dial, s)
	if err != nil {
		return err
	}
	for i, r := range s.UsedReadings() {
		r.Stage(values[i])
	}
	return nil
}

func (c *fakeConn) Close() error { return nil }

// clock is a fake wall clock advanced only by sleeping
type clock struct {
	now    time.Time
	slept  []time.Duration
	cycles int // sleeps before reporting shutdown; zero means never
}

func (c *clock) Now() time.Time { return c.now }

func (c *clock) Sleep(d time.Duration) bool {
	c.slept = append(c.slept, d)
	if c.cycles > 0 && len(c.slept) >= c.cycles {
		return true
	}
	c.now = c.now.Add(d)
	return false
}

type memStatus struct {
	mu     sync.Mutex
	latest types.ControllerStatus
	states []types.EngineState
}

func (m *memStatus) PutStatus(s *types.ControllerStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = *s
	if n := len(m.states); n == 0 || m.states[n-1] != s.State {
		m.states = append(m.states, s.State)
	}
	return nil
}

type memPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

func (m *memPublisher) Publish(ev *events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

func (m *memPublisher) count(typ events.EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

type memMaintenance struct {
	mu   sync.Mutex
	sets map[string]*types.SensorSet
	seen []string
}

func (m *memMaintenance) Register(name string, set *types.SensorSet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets == nil {
		m.sets = map[string]*types.SensorSet{}
	}
	m.sets[name] = set
	m.seen = append(m.seen, name)
}

func (m *memMaintenance) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sets, name)
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Append([]*types.Sensor, int64) error {
	f.calls++
	return errors.New("disk full")
}

func temperatureSensor(id string) *types.Sensor {
	return &types.Sensor{
		ID:          id,
		Family:      "28",
		Initialized: true,
		Readings: []*types.Reading{
			{Name: "temperature", Type: types.ReadingTemperature, Unit: "C", Format: "%.1f", Used: true},
		},
	}
}

func station(t *testing.T) types.StationConfig {
	t.Helper()
	return types.StationConfig{
		Name:            "garden",
		Host:            "127.0.0.1",
		Port:            4304,
		Timeout:         time.Second,
		Period:          time.Minute,
		MaxFails:        10,
		ConnectAttempts: 3,
		ConnectDelay:    time.Millisecond,
		FilePrefix:      filepath.Join(t.TempDir(), "garden"),
	}
}

type harness struct {
	engine *Engine
	bus    *fakeBus
	clock  *clock
	coord  *shutdown.Coordinator
	status *memStatus
	pub    *memPublisher
	maint  *memMaintenance
}

func newHarness(t *testing.T, cfg types.StationConfig, b *fakeBus, opts Options) *harness {
	t.Helper()
	h := &harness{
		bus:    b,
		clock:  &clock{now: time.Unix(1000000000, 0)},
		coord:  shutdown.New(),
		status: &memStatus{},
		pub:    &memPublisher{},
		maint:  &memMaintenance{},
	}
	opts.Dialer = b
	opts.Coordinator = h.coord
	opts.Store = h.status
	opts.Publisher = h.pub
	opts.Maintenance = h.maint
	if opts.Now == nil {
		opts.Now = h.clock.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = h.clock.Sleep
	}
	h.engine = New(cfg, opts)
	return h
}

func TestScenario(t *testing.T) {
	cfg := station(t)
	b := &fakeBus{
		devices: func() []*types.Sensor { return []*types.Sensor{temperatureSensor(scenarioID)} },
		read: func(n int, s *types.Sensor) ([]float64, error) {
			// dial 1 discovers, dial 2 is the first cycle
			if n == 2 {
				return []float64{21.5}, nil
			}
			return nil, errors.New("short read")
		},
	}
	h := newHarness(t, cfg, b, Options{})
	h.clock.cycles = 2

	require.NoError(t, h.engine.Run())

	data, err := os.ReadFile(tsfile.Path(cfg.FilePrefix, time.Unix(1000000000, 0)))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "1000000000 21.5", lines[len(lines)-2])
	assert.Equal(t, "1000000060 ?", lines[len(lines)-1])

	sensors := h.engine.Sensors().Sensors
	assert.Equal(t, 1, sensors[0].ReadErrors)

	r := sensors[0].Readings[0]
	assert.Equal(t, 21.5, r.Value)
	assert.Equal(t, int64(1000000000), r.Time)
	assert.False(t, r.Current)

	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, h.clock.slept)
	assert.Equal(t, types.StateClosed, h.engine.State())
	assert.Equal(t, []types.EngineState{
		types.StateConnecting,
		types.StateDiscovering,
		types.StateSampling,
		types.StateDraining,
		types.StateClosed,
	}, h.status.states)
	assert.Equal(t, int64(2), h.status.latest.Cycles)
	assert.Zero(t, h.status.latest.Failures, "sensor read errors do not fail the cycle")
	assert.Empty(t, h.maint.sets, "sensor set is released on close")
	assert.Equal(t, []string{"garden"}, h.maint.seen)
}

func TestAbortAfterMaxFails(t *testing.T) {
	cfg := station(t)
	cfg.MaxFails = 3
	b := &fakeBus{
		devices: func() []*types.Sensor { return []*types.Sensor{temperatureSensor(scenarioID)} },
		dialErr: func(n int) error {
			if n > 1 {
				return errUnreachable
			}
			return nil
		},
	}
	h := newHarness(t, cfg, b, Options{})

	err := h.engine.Run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooManyFailures))
	assert.True(t, errors.Is(err, ErrConnect))

	assert.Equal(t, 5, b.dialCount(), "discovery plus four failed cycles")
	assert.Len(t, h.clock.slept, 3, "no sleep after the aborting failure")
	assert.Equal(t, 4, h.status.latest.ConsecutiveFailures)
	assert.Equal(t, types.StateClosed, h.engine.State())
	assert.Equal(t, 4, h.pub.count(events.EventCycleFailed))
	assert.Equal(t, 1, h.pub.count(events.EventEngineFailed))
}

func TestSuccessResetsFailures(t *testing.T) {
	cfg := station(t)
	cfg.MaxFails = 3
	b := &fakeBus{
		devices: func() []*types.Sensor { return []*types.Sensor{temperatureSensor(scenarioID)} },
		dialErr: func(n int) error {
			// cycles fail, fail, fail, succeed, fail, fail, fail
			switch n {
			case 1, 5:
				return nil
			}
			return errUnreachable
		},
		read: func(int, *types.Sensor) ([]float64, error) { return []float64{4}, nil },
	}
	h := newHarness(t, cfg, b, Options{})
	h.clock.cycles = 7

	require.NoError(t, h.engine.Run())
	assert.Equal(t, 3, h.status.latest.ConsecutiveFailures)
	assert.Equal(t, int64(6), h.status.latest.Failures)
	assert.Equal(t, int64(7), h.status.latest.Cycles)
	assert.Zero(t, h.pub.count(events.EventEngineFailed))
}

func TestWriteFailureCountsAsFailure(t *testing.T) {
	cfg := station(t)
	cfg.MaxFails = 0
	rec := &failingRecorder{}
	b := &fakeBus{
		devices: func() []*types.Sensor { return []*types.Sensor{temperatureSensor(scenarioID)} },
		read:    func(int, *types.Sensor) ([]float64, error) { return []float64{4}, nil },
	}
	h := newHarness(t, cfg, b, Options{Recorder: rec})

	err := h.engine.Run()
	assert.True(t, errors.Is(err, ErrTooManyFailures))
	assert.Equal(t, 1, rec.calls)
	assert.Empty(t, h.clock.slept)
}

func TestConnectRetryExhausted(t *testing.T) {
	cfg := station(t)
	b := &fakeBus{dialErr: func(int) error { return errUnreachable }}
	h := newHarness(t, cfg, b, Options{})

	err := h.engine.Run()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConnect))
	assert.True(t, errors.Is(err, errUnreachable))
	assert.Equal(t, 3, b.dialCount())
	assert.Equal(t, types.StateClosed, h.engine.State())
	assert.Equal(t, []types.EngineState{types.StateConnecting, types.StateClosed}, h.status.states)
	assert.Empty(t, h.maint.seen)
	assert.Equal(t, 1, h.pub.count(events.EventEngineFailed))
}

func TestConnectRetryRecovers(t *testing.T) {
	cfg := station(t)
	b := &fakeBus{
		devices: func() []*types.Sensor { return []*types.Sensor{temperatureSensor(scenarioID)} },
		dialErr: func(n int) error {
			if n < 3 {
				return errUnreachable
			}
			return nil
		},
		read: func(int, *types.Sensor) ([]float64, error) { return []float64{4}, nil },
	}
	h := newHarness(t, cfg, b, Options{})
	h.clock.cycles = 1

	require.NoError(t, h.engine.Run())
	assert.Equal(t, 4, b.dialCount())
	assert.Equal(t, int64(1), h.status.latest.Cycles)
}

func TestShutdownDuringConnectRetry(t *testing.T) {
	cfg := station(t)
	cfg.ConnectAttempts = 5
	cfg.ConnectDelay = time.Hour
	b := &fakeBus{dialErr: func(int) error { return errUnreachable }}
	h := newHarness(t, cfg, b, Options{})

	time.AfterFunc(50*time.Millisecond, h.coord.RequestShutdown)

	start := time.Now()
	assert.NoError(t, h.engine.Run())
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, b.dialCount())
	assert.Zero(t, h.pub.count(events.EventEngineFailed))
}

func TestShutdownDuringSleep(t *testing.T) {
	cfg := station(t)
	cfg.Period = time.Hour
	b := &fakeBus{
		devices: func() []*types.Sensor { return []*types.Sensor{temperatureSensor(scenarioID)} },
		read:    func(int, *types.Sensor) ([]float64, error) { return []float64{4}, nil },
	}

	coord := shutdown.New()
	e := New(cfg, Options{Dialer: b, Coordinator: coord})

	done := make(chan error, 1)
	require.NoError(t, coord.Go(func() { done <- e.Run() }))

	require.Eventually(t, func() bool { return b.dialCount() >= 2 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, coord.Finish(5*time.Second))
	assert.NoError(t, <-done)
	assert.Equal(t, types.StateClosed, e.State())
	assert.Equal(t, 2, b.dialCount(), "one cycle before the interrupted sleep")
}

func TestCatchUpRestoresHistory(t *testing.T) {
	cfg := station(t)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.Local)
	yesterday := now.Add(-24 * time.Hour)

	// Files from an earlier run
	w := tsfile.NewWriter(cfg.FilePrefix, tsfile.WriterOptions{})
	prev := []*types.Sensor{temperatureSensor(scenarioID)}
	r := prev[0].Readings[0]
	for i, v := range []float64{-3, 2} {
		r.Stage(v)
		r.Commit(yesterday.Unix() + int64(i)*60)
		require.NoError(t, w.Append(prev, yesterday.Unix()+int64(i)*60))
	}
	r.RollOver()
	r.Stage(5)
	r.Commit(now.Unix() - 60)
	require.NoError(t, w.Append(prev, now.Unix()-60))

	b := &fakeBus{
		devices: func() []*types.Sensor { return []*types.Sensor{temperatureSensor(scenarioID)} },
		read:    func(int, *types.Sensor) ([]float64, error) { return nil, errors.New("timeout") },
	}
	h := newHarness(t, cfg, b, Options{})
	h.clock.now = now
	h.clock.cycles = 1

	require.NoError(t, h.engine.Run())

	got := h.engine.Sensors().Sensors[0].Readings[0]
	assert.True(t, got.Yesterday.Valid)
	assert.Equal(t, -3.0, got.Yesterday.Min)
	assert.Equal(t, 2.0, got.Yesterday.Max)
	assert.True(t, got.Today.Valid)
	assert.Equal(t, 5.0, got.Today.Min)
	assert.Equal(t, 5.0, got.Value)
}

func TestCatchUpIOErrorIsFatal(t *testing.T) {
	cfg := station(t)
	// A directory where today's file should be cannot be read
	require.NoError(t, os.MkdirAll(tsfile.Path(cfg.FilePrefix, time.Unix(1000000000, 0)), 0755))

	b := &fakeBus{devices: func() []*types.Sensor { return []*types.Sensor{temperatureSensor(scenarioID)} }}
	h := newHarness(t, cfg, b, Options{})

	err := h.engine.Run()
	require.Error(t, err)
	assert.False(t, errors.Is(err, tsfile.ErrNoFile))
	assert.Contains(t, h.status.states, types.StateDraining)
	assert.Equal(t, types.StateClosed, h.engine.State())
}

func TestPressureCorrection(t *testing.T) {
	cfg := station(t)
	cfg.Altitude = 500
	b := &fakeBus{
		devices: func() []*types.Sensor {
			return []*types.Sensor{{
				ID:          "EF0000000000AA01",
				Initialized: true,
				Readings: []*types.Reading{
					{Name: "pressure", Type: types.ReadingPressure, Unit: "hPa", Format: "%.1f", Used: true},
				},
			}}
		},
		read: func(int, *types.Sensor) ([]float64, error) { return []float64{950}, nil },
	}
	h := newHarness(t, cfg, b, Options{})
	h.clock.cycles = 1

	require.NoError(t, h.engine.Run())

	r := h.engine.Sensors().Sensors[0].Readings[0]
	assert.InDelta(t, 1008.3, r.Value, 0.1)
	assert.InDelta(t, r.Value, r.Today.Max, 1e-9)
}

func TestApplyHints(t *testing.T) {
	sensors := []*types.Sensor{
		temperatureSensor("28AABBCCDDEEFF12"),
		temperatureSensor("28AABBCCDDEEFF34"),
		{ID: "8100000000000911", Family: "81"},
	}
	missing := applyHints(sensors, []types.DeviceHint{
		{ID: "28.aabbccddeeff12", Location: "north wall", Group: "outside"},
		{ID: "28AABBCCDDEEFF34", Ignore: true},
		{ID: "8100000000000911", Readings: []types.ReadingSpec{
			{Name: "counter.A", Type: types.ReadingCounter, Format: "%.0f"},
		}},
		{ID: "2800000000000000"},
	})

	assert.Equal(t, []string{"2800000000000000"}, missing)
	assert.Equal(t, "north wall", sensors[0].Location)
	assert.Equal(t, "outside", sensors[0].Group)
	assert.False(t, sensors[1].Active())
	assert.True(t, sensors[2].Active())
	require.Len(t, sensors[2].Readings, 1)
	assert.Equal(t, "counter.A", sensors[2].Readings[0].Name)
}
