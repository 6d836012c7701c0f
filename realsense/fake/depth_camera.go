package fake

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/rsvfx/rsfuse/realsense"
	"github.com/rsvfx/rsfuse/rimage/transform"
)

// DefaultPlaneDepth is the distance in meters of the top edge of the synthetic plane.
const DefaultPlaneDepth = 1.5

// DepthCamera is a synthetic D4xx: color and depth at the same resolution, with identical
// intrinsics and an identity extrinsic between them.
type DepthCamera struct {
	Ledger

	// Realtime makes waits sleep for one frame period.
	Realtime bool
	// PlaneDepth is the depth of the top image row in meters. The plane tilts away by half a
	// meter towards the bottom row.
	PlaneDepth float64

	mu        sync.Mutex
	running   bool
	width     int
	height    int
	framerate int
	seq       int
}

// NewDepthCamera returns a stopped camera.
func NewDepthCamera() *DepthCamera {
	return &DepthCamera{PlaneDepth: DefaultPlaneDepth}
}

// Start configures and starts the streams. Both color and depth must be requested at the same
// resolution.
func (dc *DepthCamera) Start(ctx context.Context, cfg realsense.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	color, ok := cfg.Stream(realsense.StreamColor)
	if !ok {
		return errors.New("depth camera requires a color stream")
	}
	depth, ok := cfg.Stream(realsense.StreamDepth)
	if !ok {
		return errors.New("depth camera requires a depth stream")
	}
	if color.Width != depth.Width || color.Height != depth.Height {
		return errors.Errorf("color %dx%d and depth %dx%d resolutions differ",
			color.Width, color.Height, depth.Width, depth.Height)
	}

	dc.mu.Lock()
	defer dc.mu.Unlock()
	if dc.running {
		return errors.New("depth camera already started")
	}
	dc.width, dc.height, dc.framerate = color.Width, color.Height, color.Framerate
	dc.running = true
	return nil
}

// Intrinsics returns the intrinsics shared by both streams.
func (dc *DepthCamera) Intrinsics() transform.Intrinsics {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	return dc.intrinsicsLocked()
}

func (dc *DepthCamera) intrinsicsLocked() transform.Intrinsics {
	f := 0.9 * float64(dc.width)
	return transform.Intrinsics{
		Width:  dc.width,
		Height: dc.height,
		Ppx:    float64(dc.width) / 2,
		Ppy:    float64(dc.height) / 2,
		Fx:     f,
		Fy:     f,
	}
}

// WaitForFrames returns the next color+depth frame set.
func (dc *DepthCamera) WaitForFrames(ctx context.Context) (realsense.FrameSet, error) {
	return dc.TryWaitForFrames(ctx, 0)
}

// TryWaitForFrames returns the next frame set, or ErrTimeout when timeout is shorter than the
// frame period of a realtime camera. A zero timeout waits indefinitely.
func (dc *DepthCamera) TryWaitForFrames(ctx context.Context, timeout time.Duration) (realsense.FrameSet, error) {
	dc.mu.Lock()
	if !dc.running {
		dc.mu.Unlock()
		return nil, realsense.ErrPipelineStopped
	}
	seq := dc.seq
	dc.seq++
	width, height, framerate := dc.width, dc.height, dc.framerate
	in := dc.intrinsicsLocked()
	dc.mu.Unlock()

	period := time.Second / time.Duration(framerate)
	if dc.Realtime {
		if timeout > 0 && timeout < period {
			if !goutils.SelectContextOrWait(ctx, timeout) {
				return nil, ctx.Err()
			}
			return nil, realsense.ErrTimeout
		}
		if !goutils.SelectContextOrWait(ctx, period) {
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	ts := float64(seq) / float64(framerate)
	color := NewVideoFrame(ts, width, height, GradientImage(width, height, seq), in, &dc.Ledger)
	depth := NewVideoFrame(ts, width, height, PlaneDepthImage(width, height, dc.PlaneDepth), in, &dc.Ledger)
	return NewFrameSet(ts, color, depth, nil, &dc.Ledger), nil
}

// Stop stops the streams.
func (dc *DepthCamera) Stop() error {
	dc.mu.Lock()
	defer dc.mu.Unlock()
	if !dc.running {
		return realsense.ErrPipelineStopped
	}
	dc.running = false
	return nil
}

// GradientImage returns an RGBA8 image whose red channel scrolls with seq.
func GradientImage(width, height, seq int) []byte {
	data := make([]byte, width*height*4)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			data[i] = byte(x + seq*4)
			data[i+1] = byte(y * 255 / height)
			data[i+2] = byte(seq * 8)
			data[i+3] = 255
		}
	}
	return data
}

// PlaneDepthImage returns a Z16 depth image in millimeters of a plane starting at nearMeters on
// the top row and receding half a meter by the bottom row.
func PlaneDepthImage(width, height int, nearMeters float64) []byte {
	data := make([]byte, width*height*2)
	for y := 0; y < height; y++ {
		mm := uint16((nearMeters + 0.5*float64(y)/float64(height)) * 1000)
		for x := 0; x < width; x++ {
			binary.LittleEndian.PutUint16(data[(y*width+x)*2:], mm)
		}
	}
	return data
}
