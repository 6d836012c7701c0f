// Package config reads the rsfuse JSON configuration and watches it for run-time changes.
package config

import (
	"encoding/json"
	"io"
	"os"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/rsvfx/rsfuse/converter"
	"github.com/rsvfx/rsfuse/logging"
	"github.com/rsvfx/rsfuse/posetracker"
	"github.com/rsvfx/rsfuse/utils"
)

// Resolution is the color and depth stream size.
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Config describes one fused pipeline. Resolution, framerate, pose history size and metrics
// address are fixed at start; the adjustments may change while running.
type Config struct {
	Resolution      Resolution    `json:"resolution"`
	Framerate       int           `json:"framerate"`
	DepthThreshold  float32       `json:"depth_threshold"`
	Brightness      float32       `json:"brightness"`
	Saturation      float32       `json:"saturation"`
	PoseHistorySize int           `json:"pose_history_size"`
	TrackerTimeout  time.Duration `json:"tracker_timeout"`
	MetricsAddress  string        `json:"metrics_address,omitempty"`
	TickRateHz      float64       `json:"tick_rate_hz"`
	LogLevel        string        `json:"log_level,omitempty"`
}

// Default returns the configuration used for any key a document leaves out.
func Default() Config {
	adj := converter.DefaultAdjustments()
	return Config{
		Resolution:      Resolution{Width: 640, Height: 480},
		Framerate:       30,
		DepthThreshold:  adj.DepthThreshold,
		Brightness:      adj.Brightness,
		Saturation:      adj.Saturation,
		PoseHistorySize: posetracker.DefaultHistoryCapacity,
		TrackerTimeout:  posetracker.DefaultTrackerTimeout,
		TickRateHz:      60,
	}
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate(path string) error {
	if c.Resolution.Width <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "resolution.width")
	}
	if c.Resolution.Height <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "resolution.height")
	}
	if c.Framerate <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "framerate")
	}
	if c.TickRateHz <= 0 {
		return goutils.NewConfigValidationFieldRequiredError(path, "tick_rate_hz")
	}
	if c.DepthThreshold < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("depth_threshold must be non-negative, got %v", c.DepthThreshold))
	}
	if c.PoseHistorySize < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("pose_history_size must be non-negative, got %d", c.PoseHistorySize))
	}
	if c.TrackerTimeout < 0 {
		return goutils.NewConfigValidationError(path, errors.Errorf("tracker_timeout must be non-negative, got %v", c.TrackerTimeout))
	}
	if c.LogLevel != "" {
		if _, err := logging.LevelFromString(c.LogLevel); err != nil {
			return goutils.NewConfigValidationError(path, err)
		}
	}
	return nil
}

// Level returns the configured log level, INFO when unset.
func (c *Config) Level() logging.Level {
	level, err := logging.LevelFromString(c.LogLevel)
	if err != nil {
		return logging.INFO
	}
	return level
}

// Adjustments returns the run-time tunable part of the config, clamped.
func (c *Config) Adjustments() converter.Adjustments {
	return converter.Adjustments{
		DepthThreshold: c.DepthThreshold,
		Brightness:     c.Brightness,
		Saturation:     c.Saturation,
	}.Clamped()
}

// TickInterval returns the period between ticks.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(float64(time.Second) / c.TickRateHz)
}

// Decode converts an attribute map into a Config on top of Default. Durations may be given as
// strings such as "500ms". Unknown keys are an error.
func Decode(attributes map[string]interface{}) (*Config, error) {
	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      &cfg,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrap(err, "cannot decode config")
	}
	return &cfg, nil
}

// FromReader reads, decodes and validates a JSON document.
func FromReader(path string, r io.Reader) (*Config, error) {
	var raw interface{}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrapf(err, "cannot parse %q", path)
	}
	attributes, ok := raw.(map[string]interface{})
	if !ok {
		return nil, goutils.NewConfigValidationError(path, utils.NewUnexpectedTypeError(attributes, raw))
	}
	cfg, err := Decode(attributes)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read loads the config at path.
func Read(path string) (*Config, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer goutils.UncheckedErrorFunc(f.Close)
	return FromReader(path, f)
}
