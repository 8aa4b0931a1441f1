// Package pressure reduces station pressure readings to sea level.
package pressure

import (
	"math"

	"github.com/cuemby/owlog/pkg/types"
)

// Eligible returns the used pressure readings of all active sensors
func Eligible(sensors []*types.Sensor) []*types.Reading {
	var out []*types.Reading
	for _, s := range sensors {
		if !s.Active() {
			continue
		}
		for _, r := range s.UsedReadings() {
			if r.Type == types.ReadingPressure {
				out = append(out, r)
			}
		}
	}
	return out
}

// SeaLevel reduces station pressure p measured at altitude metres to sea
// level with the international barometric formula.
func SeaLevel(p, altitude float64) float64 {
	return p / math.Pow(1-altitude/44330.0, 5.255)
}

// Apply corrects the staged value of every reading read during the running
// cycle. Readings not read this cycle keep their last value.
func Apply(readings []*types.Reading, altitude float64) {
	if altitude == 0 {
		return
	}
	for _, r := range readings {
		if r.Current {
			r.Value = SeaLevel(r.Value, altitude)
		}
	}
}
