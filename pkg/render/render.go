// Package render writes snapshot documents of a controller's latest readings.
package render

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/owlog/pkg/types"
	"github.com/goccy/go-json"
)

// Renderer produces a snapshot document after a sampling cycle
type Renderer interface {
	Render(station *types.StationConfig, sensors []*types.Sensor, period time.Duration, ts int64) error
}

// Document is the snapshot written for one controller
type Document struct {
	Station   string          `json:"station"`
	Latitude  float64         `json:"latitude,omitempty"`
	Longitude float64         `json:"longitude,omitempty"`
	Altitude  float64         `json:"altitude,omitempty"`
	Period    string          `json:"period"`
	Timestamp int64           `json:"timestamp"`
	Time      time.Time       `json:"time"`
	Sensors   []SensorSection `json:"sensors"`
}

// SensorSection is one sensor of a Document
type SensorSection struct {
	ID       string           `json:"id"`
	Location string           `json:"location,omitempty"`
	Group    string           `json:"group,omitempty"`
	Readings []ReadingSection `json:"readings"`
}

// ReadingSection is one reading with its extrema
type ReadingSection struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Unit      string   `json:"unit,omitempty"`
	Value     *float64 `json:"value"` // null when the reading failed this cycle
	Time      int64    `json:"time,omitempty"`
	Today     *Extrema `json:"today,omitempty"`
	Yesterday *Extrema `json:"yesterday,omitempty"`
}

// Extrema is the JSON form of types.Extrema
type Extrema struct {
	Min     float64 `json:"min"`
	MinTime int64   `json:"min_time"`
	Max     float64 `json:"max"`
	MaxTime int64   `json:"max_time"`
}

// JSONRenderer writes <Dir>/<controller>-<period>.json
type JSONRenderer struct {
	Dir string
}

// NewDocument builds the snapshot of the active sensors
func NewDocument(station *types.StationConfig, sensors []*types.Sensor, period time.Duration, ts int64) *Document {
	doc := &Document{
		Station:   station.Name,
		Latitude:  station.Latitude,
		Longitude: station.Longitude,
		Altitude:  station.Altitude,
		Period:    period.String(),
		Timestamp: ts,
		Time:      time.Unix(ts, 0).UTC(),
		Sensors:   []SensorSection{},
	}

	for _, s := range sensors {
		if !s.Active() {
			continue
		}
		sec := SensorSection{ID: s.ID, Location: s.Location, Group: s.Group}
		for _, r := range s.UsedReadings() {
			rs := ReadingSection{
				Name:      r.Name,
				Type:      string(r.Type),
				Unit:      r.Unit,
				Today:     extrema(r.Today),
				Yesterday: extrema(r.Yesterday),
			}
			if r.Current && r.Valid {
				v := r.Value
				rs.Value = &v
				rs.Time = r.Time
			}
			sec.Readings = append(sec.Readings, rs)
		}
		doc.Sensors = append(doc.Sensors, sec)
	}
	return doc
}

func extrema(e types.Extrema) *Extrema {
	if !e.Valid {
		return nil
	}
	return &Extrema{Min: e.Min, MinTime: e.MinTime, Max: e.Max, MaxTime: e.MaxTime}
}

// Path returns the document file for a controller and period
func (r *JSONRenderer) Path(controller string, period time.Duration) string {
	return filepath.Join(r.Dir, fmt.Sprintf("%s-%s.json", controller, period))
}

// Render writes the document atomically: readers see either the previous or
// the new snapshot, never a partial one.
func (r *JSONRenderer) Render(station *types.StationConfig, sensors []*types.Sensor, period time.Duration, ts int64) error {
	data, err := json.MarshalIndent(NewDocument(station, sensors, period, ts), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	if err := os.MkdirAll(r.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}

	path := r.Path(station.Name, period)
	tmp, err := os.CreateTemp(r.Dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary document: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to write document: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish document %s: %w", path, err)
	}
	return nil
}
