package realsense

import (
	"fmt"

	"github.com/pkg/errors"
)

// Stream identifies a sensor stream.
type Stream int

// Known streams.
const (
	StreamAny Stream = iota
	StreamDepth
	StreamColor
	StreamPose
)

func (s Stream) String() string {
	switch s {
	case StreamAny:
		return "any"
	case StreamDepth:
		return "depth"
	case StreamColor:
		return "color"
	case StreamPose:
		return "pose"
	}
	return fmt.Sprintf("stream(%d)", int(s))
}

// Format identifies a pixel or sample format.
type Format int

// Known formats.
const (
	FormatAny Format = iota
	FormatZ16
	FormatRGBA8
	FormatSixDOF
)

func (f Format) String() string {
	switch f {
	case FormatAny:
		return "any"
	case FormatZ16:
		return "z16"
	case FormatRGBA8:
		return "rgba8"
	case FormatSixDOF:
		return "6dof"
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// BytesPerPixel returns the size of one texel in the format, or 0 for non-image formats.
func (f Format) BytesPerPixel() int {
	switch f {
	case FormatZ16:
		return 2
	case FormatRGBA8:
		return 4
	case FormatAny, FormatSixDOF:
	}
	return 0
}

// StreamConfig requests one stream from a device.
type StreamConfig struct {
	Stream    Stream
	Format    Format
	Width     int
	Height    int
	Framerate int
}

// Validate checks the request for internal consistency.
func (sc StreamConfig) Validate() error {
	if sc.Stream == StreamPose {
		if sc.Format != FormatSixDOF && sc.Format != FormatAny {
			return errors.Errorf("pose stream does not support format %s", sc.Format)
		}
		return nil
	}
	if sc.Width <= 0 || sc.Height <= 0 {
		return errors.Errorf("%s stream needs a positive resolution, got %dx%d", sc.Stream, sc.Width, sc.Height)
	}
	if sc.Framerate <= 0 {
		return errors.Errorf("%s stream needs a positive framerate, got %d", sc.Stream, sc.Framerate)
	}
	return nil
}

// Config is the set of streams a pipeline is started with.
type Config struct {
	Streams []StreamConfig
}

// EnableStream adds a stream request.
func (c *Config) EnableStream(sc StreamConfig) {
	c.Streams = append(c.Streams, sc)
}

// Stream returns the request for s, if any.
func (c Config) Stream(s Stream) (StreamConfig, bool) {
	for _, sc := range c.Streams {
		if sc.Stream == s {
			return sc, true
		}
	}
	return StreamConfig{}, false
}

// Validate validates every stream request.
func (c Config) Validate() error {
	if len(c.Streams) == 0 {
		return errors.New("no streams enabled")
	}
	for _, sc := range c.Streams {
		if err := sc.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DepthCameraConfig returns the color+depth configuration the depth loop expects.
func DepthCameraConfig(width, height, framerate int) Config {
	var cfg Config
	cfg.EnableStream(StreamConfig{Stream: StreamColor, Format: FormatRGBA8, Width: width, Height: height, Framerate: framerate})
	cfg.EnableStream(StreamConfig{Stream: StreamDepth, Format: FormatZ16, Width: width, Height: height, Framerate: framerate})
	return cfg
}

// TrackingCameraConfig returns the pose-only configuration the tracker loop expects.
func TrackingCameraConfig() Config {
	var cfg Config
	cfg.EnableStream(StreamConfig{Stream: StreamPose, Format: FormatSixDOF})
	return cfg
}
