package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/owlog/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
log:
  level: debug
  json: true
data_dir: /srv/owlog
http_addr: 127.0.0.1:9000
shutdown_timeout: 30s
controllers:
  - name: garden
    host: 192.0.2.10
    period: 2m
    max_fails: 0
    altitude: 520
    render: true
    devices:
      - id: 28.AABBCCDDEEFF12
        location: north wall
      - id: 26AABBCCDDEEFF34
        group: cellar
        readings:
          - name: B1-R1-A/pressure
            type: pressure
            unit: hPa
            format: "%.1f"
      - id: "1000000000000377"
        ignore: true
  - name: cellar
    host: cellar.local
    port: 4305
    file_prefix: /data/cellar/
`

func TestParse(t *testing.T) {
	cfg, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.JSON)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTPAddr)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "/srv/owlog/owlog.db", cfg.StateDB)
	assert.Equal(t, "/srv/owlog/documents", cfg.DocumentDir)
	require.Len(t, cfg.Controllers, 2)

	stations := cfg.Stations()
	garden := stations[0]
	assert.Equal(t, "garden", garden.Name)
	assert.Equal(t, DefaultPort, garden.Port)
	assert.Equal(t, 2*time.Minute, garden.Period)
	assert.Equal(t, 0, garden.MaxFails, "an explicit zero is kept")
	assert.Equal(t, DefaultConnectAttempts, garden.ConnectAttempts)
	assert.Equal(t, "/srv/owlog/garden", garden.FilePrefix)
	assert.Equal(t, "192.0.2.10:4304", garden.Address())
	assert.True(t, garden.Render)

	require.Len(t, garden.Devices, 3)
	assert.Equal(t, "28AABBCCDDEEFF12", garden.Devices[0].ID)
	assert.Equal(t, "north wall", garden.Devices[0].Location)
	require.Len(t, garden.Devices[1].Readings, 1)
	assert.Equal(t, types.ReadingPressure, garden.Devices[1].Readings[0].Type)
	assert.True(t, garden.Devices[2].Ignore)

	cellar := stations[1]
	assert.Equal(t, 4305, cellar.Port)
	assert.Equal(t, DefaultMaxFails, cellar.MaxFails)
	assert.Equal(t, DefaultPeriod, cellar.Period)
	assert.Equal(t, "/data/cellar/", cellar.FilePrefix)
}

func TestParseRelativePrefixKeepsTrailingSeparator(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
data_dir: /srv/owlog
controllers:
  - name: garden
    host: localhost
    file_prefix: garden/
`))
	require.NoError(t, err)
	assert.Equal(t, "/srv/owlog/garden/", cfg.Controllers[0].FilePrefix)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{"no controllers", "data_dir: /tmp\n", "controllers"},
		{"missing name", "controllers:\n  - host: a\n", "controllers[0].name"},
		{"name with slash", "controllers:\n  - name: a/b\n    host: a\n", "controllers[0].name"},
		{"duplicate name", "controllers:\n  - name: a\n    host: a\n  - name: a\n    host: b\n", "controllers[1].name"},
		{"missing host", "controllers:\n  - name: a\n", "controllers[0].host"},
		{"bad port", "controllers:\n  - name: a\n    host: a\n    port: 70000\n", "controllers[0].port"},
		{"negative period", "controllers:\n  - name: a\n    host: a\n    period: -1s\n", "controllers[0].period"},
		{"negative max fails", "controllers:\n  - name: a\n    host: a\n    max_fails: -1\n", "controllers[0].max_fails"},
		{"altitude", "controllers:\n  - name: a\n    host: a\n    altitude: 50000\n", "controllers[0].altitude"},
		{"short device id", "controllers:\n  - name: a\n    host: a\n    devices:\n      - id: 28AA\n", "controllers[0].devices[0].id"},
		{"duplicate device", "controllers:\n  - name: a\n    host: a\n    devices:\n      - id: 28AABBCCDDEEFF12\n      - id: 28.aabbccddeeff12\n", "controllers[0].devices[1].id"},
		{"bad reading type", "controllers:\n  - name: a\n    host: a\n    devices:\n      - id: 28AABBCCDDEEFF12\n        readings:\n          - name: x\n            type: wind\n", "controllers[0].devices[0].readings[0].type"},
		{"integer format", "controllers:\n  - name: a\n    host: a\n    devices:\n      - id: 28AABBCCDDEEFF12\n        readings:\n          - name: counter.A\n            type: counter\n            format: \"%d\"\n", "controllers[0].devices[0].readings[0].format"},
		{"format with unit", "controllers:\n  - name: a\n    host: a\n    devices:\n      - id: 28AABBCCDDEEFF12\n        readings:\n          - name: temperature\n            format: \"%.1f C\"\n", "controllers[0].devices[0].readings[0].format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	_, err := Parse(strings.NewReader("controllers:\n  - name: a\n    host: a\n    perod: 1m\n"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalid))
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Controllers, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadOverridesApplyBeforeDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "owlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	cfg, err := Load(path, func(c *Config) {
		c.DataDir = "/var/tmp/owlog"
		c.HTTPAddr = ":9999"
	})
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, "/var/tmp/owlog/owlog.db", cfg.StateDB)
	assert.Equal(t, "/var/tmp/owlog/garden", cfg.Controllers[0].FilePrefix)
}
