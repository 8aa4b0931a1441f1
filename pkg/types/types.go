package types

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// IDLength is the length of a canonical sensor identifier: family code,
// 48-bit serial number and CRC, as upper-case hexadecimal.
const IDLength = 16

// ReadingType classifies what a reading slot measures
type ReadingType string

const (
	ReadingTemperature ReadingType = "temperature"
	ReadingHumidity    ReadingType = "humidity"
	ReadingPressure    ReadingType = "pressure"
	ReadingVoltage     ReadingType = "voltage"
	ReadingCounter     ReadingType = "counter"
	ReadingGeneric     ReadingType = "generic"
)

// Extrema is a running minimum/maximum with the time each was observed
type Extrema struct {
	Min     float64
	Max     float64
	MinTime int64
	MaxTime int64
	Valid   bool
}

// Observe folds value v seen at ts into the extrema
func (e *Extrema) Observe(v float64, ts int64) {
	if !e.Valid {
		e.Min, e.Max = v, v
		e.MinTime, e.MaxTime = ts, ts
		e.Valid = true
		return
	}
	if v < e.Min {
		e.Min = v
		e.MinTime = ts
	}
	if v > e.Max {
		e.Max = v
		e.MaxTime = ts
	}
}

// Reading is one measurement channel (reading slot) of a sensor
type Reading struct {
	Name   string      // Property name on the bus, e.g. "temperature" or "counter.A"
	Type   ReadingType // What the value measures
	Unit   string      // Display unit, e.g. "C", "%", "hPa"
	Format string      // printf verb used when persisting; empty means default
	Used   bool        // Sampled and persisted

	Value   float64 // Last known value
	Time    int64   // Unix seconds of Value
	Valid   bool    // Value holds a real observation
	Current bool    // Value was read during the running cycle

	Today     Extrema
	Yesterday Extrema
}

// Set records a fresh observation and folds it into today's extrema
func (r *Reading) Set(v float64, ts int64) {
	r.Value = v
	r.Time = ts
	r.Valid = true
	r.Today.Observe(v, ts)
}

// Stage stores a raw value read during the running cycle. It takes no
// timestamp and stays out of the extrema until Commit.
func (r *Reading) Stage(v float64) {
	r.Value = v
	r.Current = true
}

// Commit finalizes a staged value with the cycle timestamp ts
func (r *Reading) Commit(ts int64) {
	if r.Current {
		r.Set(r.Value, ts)
	}
}

// RollOver moves today's extrema to yesterday and starts a new day
func (r *Reading) RollOver() {
	r.Yesterday = r.Today
	r.Today = Extrema{}
}

// Sensor is one physical or logical device on a controller's bus
type Sensor struct {
	ID       string // Canonical identifier, see CanonicalID
	Family   string // Two-digit family code
	Path     string // Bus path used to address the device
	Location string // Operator supplied description
	Group    string // Operator supplied grouping

	Ignore      bool // Excluded from sampling and persistence
	SubDevice   bool // Reached through a coupler or hub branch
	Initialized bool // Enumeration completed and readings declared

	Readings []*Reading

	// Records counts data lines that carried at least one value for this sensor
	Records int
	// ReadErrors counts failed bus reads since discovery
	ReadErrors int
}

// Active reports whether the sensor takes part in sampling and persistence
func (s *Sensor) Active() bool {
	return s != nil && !s.Ignore && s.Initialized
}

// UsedReadings returns the used reading slots in ascending index order
func (s *Sensor) UsedReadings() []*Reading {
	used := make([]*Reading, 0, len(s.Readings))
	for _, r := range s.Readings {
		if r.Used {
			used = append(used, r)
		}
	}
	return used
}

// ClearCurrent marks every reading as not yet read in the running cycle
func (s *Sensor) ClearCurrent() {
	for _, r := range s.Readings {
		r.Current = false
	}
}

// CanonicalID normalizes a bus identifier to upper-case hex without
// separators, so "28.aabbccddeeff12" and "28AABBCCDDEEFF12" compare equal.
func CanonicalID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F':
			b.WriteByte(c)
		case c >= 'a' && c <= 'f':
			b.WriteByte(c - 'a' + 'A')
		}
	}
	return b.String()
}

// FindSensor returns the active sensor with the given identifier, or nil
func FindSensor(sensors []*Sensor, id string) *Sensor {
	id = CanonicalID(id)
	for _, s := range sensors {
		if s.Active() && s.ID == id {
			return s
		}
	}
	return nil
}

// SensorSet is a controller's sensor list shared between its engine and the
// nightly maintenance task. Holders of the lock may mutate readings.
type SensorSet struct {
	mu      sync.Mutex
	Sensors []*Sensor
}

// NewSensorSet wraps a sensor list
func NewSensorSet(sensors []*Sensor) *SensorSet {
	return &SensorSet{Sensors: sensors}
}

// Lock acquires exclusive access to the sensor list
func (s *SensorSet) Lock() { s.mu.Lock() }

// Unlock releases exclusive access
func (s *SensorSet) Unlock() { s.mu.Unlock() }

// DeviceHint is operator supplied data merged into discovered sensors
type DeviceHint struct {
	ID       string
	Location string
	Group    string
	Ignore   bool
	Readings []ReadingSpec // Replaces the family defaults when non-empty
}

// ReadingSpec declares a reading slot explicitly
type ReadingSpec struct {
	Name   string
	Type   ReadingType
	Unit   string
	Format string
}

// NewReadings builds used reading slots from specs
func NewReadings(specs []ReadingSpec) []*Reading {
	if len(specs) == 0 {
		return nil
	}
	readings := make([]*Reading, 0, len(specs))
	for _, spec := range specs {
		readings = append(readings, &Reading{
			Name:   spec.Name,
			Type:   spec.Type,
			Unit:   spec.Unit,
			Format: spec.Format,
			Used:   true,
		})
	}
	return readings
}

// StationConfig is the immutable configuration of one sampling engine
type StationConfig struct {
	Name            string
	Host            string
	Port            int
	Timeout         time.Duration
	Period          time.Duration
	MaxFails        int
	ConnectAttempts int
	ConnectDelay    time.Duration

	Altitude  float64 // Metres above sea level; zero disables pressure correction
	Latitude  float64
	Longitude float64

	FilePrefix string // Directory and prefix of the per-day data files
	Render     bool   // Render a snapshot document after each cycle

	Devices []DeviceHint
}

// Address returns the controller's host:port
func (c *StationConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// EngineState names a sampling engine lifecycle state
type EngineState string

const (
	StateConnecting  EngineState = "connecting"
	StateDiscovering EngineState = "discovering"
	StateSampling    EngineState = "sampling"
	StateDraining    EngineState = "draining"
	StateClosed      EngineState = "closed"
)

// ControllerStatus is the persisted runtime status of one engine
type ControllerStatus struct {
	Name                string      `json:"name"`
	Address             string      `json:"address"`
	RunID               string      `json:"run_id"`
	State               EngineState `json:"state"`
	Sensors             int         `json:"sensors"`
	Cycles              int64       `json:"cycles"`
	Failures            int64       `json:"failures"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastCycle           time.Time   `json:"last_cycle,omitempty"`
	LastError           string      `json:"last_error,omitempty"`
	StartedAt           time.Time   `json:"started_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// ReadingSummary is one reading's extrema for a finished day
type ReadingSummary struct {
	SensorID string  `json:"sensor_id"`
	Location string  `json:"location,omitempty"`
	Reading  string  `json:"reading"`
	Unit     string  `json:"unit,omitempty"`
	Min      float64 `json:"min"`
	MinTime  int64   `json:"min_time"`
	Max      float64 `json:"max"`
	MaxTime  int64   `json:"max_time"`
}

// DailySummary is the extrema of every reading of one controller for one
// calendar day, recorded at rollover
type DailySummary struct {
	Controller string           `json:"controller"`
	Day        string           `json:"day"` // YYYYMMDD
	Readings   []ReadingSummary `json:"readings"`
	CreatedAt  time.Time        `json:"created_at"`
}
