package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"already canonical", "AABBCCDDEE001122", "AABBCCDDEE001122"},
		{"lower case", "aabbccddee001122", "AABBCCDDEE001122"},
		{"owserver dotted form", "28.AABBCCDDEEFF12", "28AABBCCDDEEFF12"},
		{"path separators", "/28.aabbccddeeff/", "28AABBCCDDEEFF"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalID(tt.input))
		})
	}
}

func TestExtremaObserve(t *testing.T) {
	var e Extrema
	e.Observe(10, 100)
	assert.True(t, e.Valid)
	assert.Equal(t, 10.0, e.Min)
	assert.Equal(t, 10.0, e.Max)

	e.Observe(5, 200)
	e.Observe(15, 300)
	e.Observe(5, 400) // ties keep the first observation

	assert.Equal(t, 5.0, e.Min)
	assert.Equal(t, int64(200), e.MinTime)
	assert.Equal(t, 15.0, e.Max)
	assert.Equal(t, int64(300), e.MaxTime)
}

func TestReadingRollOver(t *testing.T) {
	r := &Reading{Name: "temperature", Used: true}
	r.Set(20, 100)
	r.Set(22, 200)

	r.RollOver()

	assert.False(t, r.Today.Valid)
	assert.True(t, r.Yesterday.Valid)
	assert.Equal(t, 20.0, r.Yesterday.Min)
	assert.Equal(t, 22.0, r.Yesterday.Max)
	assert.Equal(t, 22.0, r.Value, "rollover keeps the last known value")
}

func TestFindSensorSkipsInactive(t *testing.T) {
	sensors := []*Sensor{
		{ID: "1000000000000001", Initialized: true, Ignore: true},
		{ID: "1000000000000002", Initialized: false},
		{ID: "1000000000000003", Initialized: true},
	}

	assert.Nil(t, FindSensor(sensors, "1000000000000001"))
	assert.Nil(t, FindSensor(sensors, "1000000000000002"))
	assert.Same(t, sensors[2], FindSensor(sensors, "10.00000000000003"))
}

func TestUsedReadings(t *testing.T) {
	s := &Sensor{Readings: []*Reading{
		{Name: "a", Used: true},
		{Name: "b"},
		{Name: "c", Used: true},
	}}

	used := s.UsedReadings()
	assert.Len(t, used, 2)
	assert.Equal(t, "a", used[0].Name)
	assert.Equal(t, "c", used[1].Name)
}

func TestStationAddress(t *testing.T) {
	cfg := &StationConfig{Host: "10.0.0.4", Port: 4304}
	assert.Equal(t, "10.0.0.4:4304", cfg.Address())
}

func TestReadingStageCommit(t *testing.T) {
	r := &Reading{Name: "temperature", Used: true}

	r.Stage(21.5)
	assert.True(t, r.Current)
	assert.False(t, r.Valid)
	assert.False(t, r.Today.Valid)

	r.Commit(1000000000)
	assert.True(t, r.Valid)
	assert.Equal(t, int64(1000000000), r.Time)
	assert.Equal(t, 21.5, r.Today.Min)

	r.Current = false
	r.Commit(1000000060)
	assert.Equal(t, int64(1000000000), r.Time, "commit without a staged value keeps the last observation")
}
