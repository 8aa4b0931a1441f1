package owserver

import "github.com/cuemby/owlog/pkg/types"

// familyCoupler is the DS2409 microlan coupler; its branches hold sub-devices
const familyCoupler = "1F"

var temperatureOnly = []types.ReadingSpec{
	{Name: "temperature", Type: types.ReadingTemperature, Unit: "C", Format: "%.1f"},
}

// families maps a family code to the readings sampled by default
var families = map[string][]types.ReadingSpec{
	"10": temperatureOnly, // DS18S20
	"22": temperatureOnly, // DS1822
	"28": temperatureOnly, // DS18B20
	"3B": temperatureOnly, // DS1825
	"42": temperatureOnly, // DS28EA00
	"26": { // DS2438 battery monitor, usually behind a humidity sensor
		{Name: "temperature", Type: types.ReadingTemperature, Unit: "C", Format: "%.1f"},
		{Name: "humidity", Type: types.ReadingHumidity, Unit: "%", Format: "%.0f"},
		{Name: "VAD", Type: types.ReadingVoltage, Unit: "V", Format: "%.2f"},
	},
	"1D": { // DS2423 counter
		{Name: "counter.A", Type: types.ReadingCounter, Format: "%.0f"},
		{Name: "counter.B", Type: types.ReadingCounter, Format: "%.0f"},
	},
	"20": { // DS2450 quad A/D
		{Name: "volt.A", Type: types.ReadingVoltage, Unit: "V", Format: "%.3f"},
		{Name: "volt.B", Type: types.ReadingVoltage, Unit: "V", Format: "%.3f"},
		{Name: "volt.C", Type: types.ReadingVoltage, Unit: "V", Format: "%.3f"},
		{Name: "volt.D", Type: types.ReadingVoltage, Unit: "V", Format: "%.3f"},
	},
}

// Readings returns fresh reading slots for a family, or nil when the family
// has no known readings
func Readings(family string) []*types.Reading {
	return types.NewReadings(families[family])
}
