package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/owlog/pkg/tsfile"
	"github.com/cuemby/owlog/pkg/types"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is wrapped by every validation error
var ErrInvalid = errors.New("invalid configuration")

// Defaults
const (
	DefaultDataDir         = "/var/lib/owlog"
	DefaultHTTPAddr        = ":9304"
	DefaultShutdownTimeout = 10 * time.Second

	DefaultPort            = 4304
	DefaultTimeout         = 5 * time.Second
	DefaultPeriod          = time.Minute
	DefaultMaxFails        = 10
	DefaultConnectAttempts = 5
	DefaultConnectDelay    = 10 * time.Second

	// maxAltitude is where the barometric formula breaks down
	maxAltitude = 44330.0
)

// Config is the collector configuration file
type Config struct {
	Log             LogConfig          `yaml:"log"`
	DataDir         string             `yaml:"data_dir"`
	DocumentDir     string             `yaml:"document_dir"`
	StateDB         string             `yaml:"state_db"`
	HTTPAddr        string             `yaml:"http_addr"`
	ShutdownTimeout time.Duration      `yaml:"shutdown_timeout"`
	Controllers     []ControllerConfig `yaml:"controllers"`
}

// LogConfig selects the log level and format
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// ControllerConfig configures one sensor-bus controller and its engine
type ControllerConfig struct {
	Name            string         `yaml:"name"`
	Host            string         `yaml:"host"`
	Port            int            `yaml:"port"`
	Timeout         time.Duration  `yaml:"timeout"`
	Period          time.Duration  `yaml:"period"`
	MaxFails        *int           `yaml:"max_fails"`
	ConnectAttempts int            `yaml:"connect_attempts"`
	ConnectDelay    time.Duration  `yaml:"connect_delay"`
	Altitude        float64        `yaml:"altitude"`
	Latitude        float64        `yaml:"latitude"`
	Longitude       float64        `yaml:"longitude"`
	FilePrefix      string         `yaml:"file_prefix"`
	Render          bool           `yaml:"render"`
	Devices         []DeviceConfig `yaml:"devices"`
}

// DeviceConfig holds operator hints for one sensor
type DeviceConfig struct {
	ID       string          `yaml:"id"`
	Location string          `yaml:"location"`
	Group    string          `yaml:"group"`
	Ignore   bool            `yaml:"ignore"`
	Readings []ReadingConfig `yaml:"readings"`
}

// ReadingConfig declares a reading explicitly, replacing the family defaults
type ReadingConfig struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Unit   string `yaml:"unit"`
	Format string `yaml:"format"`
}

// Load reads, defaults and validates the configuration file at path.
// Each override is applied to the decoded file before defaults.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f, overrides...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a configuration document, applies defaults and validates it.
// Unknown keys are rejected.
func Parse(r io.Reader, overrides ...func(*Config)) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	for _, override := range overrides {
		override(&cfg)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field. Relative file prefixes and the
// document and state paths are resolved against DataDir.
func (c *Config) ApplyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.DocumentDir == "" {
		c.DocumentDir = filepath.Join(c.DataDir, "documents")
	}
	if c.StateDB == "" {
		c.StateDB = filepath.Join(c.DataDir, "owlog.db")
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = DefaultHTTPAddr
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	for i := range c.Controllers {
		cc := &c.Controllers[i]
		if cc.Port == 0 {
			cc.Port = DefaultPort
		}
		if cc.Timeout == 0 {
			cc.Timeout = DefaultTimeout
		}
		if cc.Period == 0 {
			cc.Period = DefaultPeriod
		}
		if cc.MaxFails == nil {
			n := DefaultMaxFails
			cc.MaxFails = &n
		}
		if cc.ConnectAttempts == 0 {
			cc.ConnectAttempts = DefaultConnectAttempts
		}
		if cc.ConnectDelay == 0 {
			cc.ConnectDelay = DefaultConnectDelay
		}
		if cc.FilePrefix == "" {
			cc.FilePrefix = cc.Name
		}
		if !filepath.IsAbs(cc.FilePrefix) {
			prefix := filepath.Join(c.DataDir, cc.FilePrefix)
			if strings.HasSuffix(cc.FilePrefix, string(filepath.Separator)) {
				prefix += string(filepath.Separator)
			}
			cc.FilePrefix = prefix
		}
	}
}

// Validate reports the first invalid field, wrapping ErrInvalid
func (c *Config) Validate() error {
	if c.ShutdownTimeout < 0 {
		return invalid("shutdown_timeout", "must not be negative")
	}
	if len(c.Controllers) == 0 {
		return invalid("controllers", "at least one controller is required")
	}

	names := make(map[string]bool)
	for i, cc := range c.Controllers {
		field := func(name string) string {
			return fmt.Sprintf("controllers[%d].%s", i, name)
		}

		switch {
		case cc.Name == "":
			return invalid(field("name"), "is required")
		case strings.ContainsAny(cc.Name, "/\\ "):
			return invalid(field("name"), "must not contain slashes or spaces")
		case names[cc.Name]:
			return invalid(field("name"), fmt.Sprintf("duplicate controller %q", cc.Name))
		case cc.Host == "":
			return invalid(field("host"), "is required")
		case cc.Port < 1 || cc.Port > 65535:
			return invalid(field("port"), "must be between 1 and 65535")
		case cc.Timeout < 0:
			return invalid(field("timeout"), "must not be negative")
		case cc.Period <= 0:
			return invalid(field("period"), "must be positive")
		case cc.MaxFails != nil && *cc.MaxFails < 0:
			return invalid(field("max_fails"), "must not be negative")
		case cc.ConnectAttempts < 1:
			return invalid(field("connect_attempts"), "must be at least 1")
		case cc.ConnectDelay < 0:
			return invalid(field("connect_delay"), "must not be negative")
		case cc.Altitude < 0 || cc.Altitude >= maxAltitude:
			return invalid(field("altitude"), "must be between 0 and 44330 metres")
		}
		names[cc.Name] = true

		ids := make(map[string]bool)
		for j, d := range cc.Devices {
			dfield := fmt.Sprintf("controllers[%d].devices[%d]", i, j)
			id := types.CanonicalID(d.ID)
			if len(id) != types.IDLength {
				return invalid(dfield+".id", fmt.Sprintf("%q is not a %d digit hex identifier", d.ID, types.IDLength))
			}
			if ids[id] {
				return invalid(dfield+".id", fmt.Sprintf("duplicate device %s", id))
			}
			ids[id] = true

			for k, r := range d.Readings {
				rfield := fmt.Sprintf("%s.readings[%d]", dfield, k)
				if r.Name == "" {
					return invalid(rfield+".name", "is required")
				}
				if _, ok := readingTypes[types.ReadingType(r.Type)]; !ok && r.Type != "" {
					return invalid(rfield+".type", fmt.Sprintf("unknown reading type %q", r.Type))
				}
				if !tsfile.ValidFormat(r.Format) {
					return invalid(rfield+".format", fmt.Sprintf("%q does not print a decimal number", r.Format))
				}
			}
		}
	}
	return nil
}

var readingTypes = map[types.ReadingType]struct{}{
	types.ReadingTemperature: {},
	types.ReadingHumidity:    {},
	types.ReadingPressure:    {},
	types.ReadingVoltage:     {},
	types.ReadingCounter:     {},
	types.ReadingGeneric:     {},
}

func invalid(field, msg string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalid, field, msg)
}

// Stations converts the controller sections to engine configurations
func (c *Config) Stations() []types.StationConfig {
	out := make([]types.StationConfig, 0, len(c.Controllers))
	for _, cc := range c.Controllers {
		st := types.StationConfig{
			Name:            cc.Name,
			Host:            cc.Host,
			Port:            cc.Port,
			Timeout:         cc.Timeout,
			Period:          cc.Period,
			ConnectAttempts: cc.ConnectAttempts,
			ConnectDelay:    cc.ConnectDelay,
			Altitude:        cc.Altitude,
			Latitude:        cc.Latitude,
			Longitude:       cc.Longitude,
			FilePrefix:      cc.FilePrefix,
			Render:          cc.Render,
		}
		if cc.MaxFails != nil {
			st.MaxFails = *cc.MaxFails
		}

		for _, d := range cc.Devices {
			hint := types.DeviceHint{
				ID:       types.CanonicalID(d.ID),
				Location: d.Location,
				Group:    d.Group,
				Ignore:   d.Ignore,
			}
			for _, r := range d.Readings {
				typ := types.ReadingType(r.Type)
				if typ == "" {
					typ = types.ReadingGeneric
				}
				hint.Readings = append(hint.Readings, types.ReadingSpec{
					Name:   r.Name,
					Type:   typ,
					Unit:   r.Unit,
					Format: r.Format,
				})
			}
			st.Devices = append(st.Devices, hint)
		}
		out = append(out, st)
	}
	return out
}
