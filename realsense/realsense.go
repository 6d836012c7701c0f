// Package realsense describes the parts of the RealSense SDK the pipeline talks to. Production
// builds bind these interfaces to librealsense; tests and the demo command use realsense/fake.
package realsense

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/rsvfx/rsfuse/rimage/transform"
)

var (
	// ErrTimeout is returned by a wait that saw no frames before its deadline.
	ErrTimeout = errors.New("timed out waiting for frames")
	// ErrStreamInterrupted is returned when the device dropped the stream. The next wait may
	// succeed again.
	ErrStreamInterrupted = errors.New("frame stream interrupted")
	// ErrFrameNotFound is returned when a frame set lacks the requested stream.
	ErrFrameNotFound = errors.New("frame not present in frame set")
	// ErrPipelineStopped is returned by waits on a pipeline that was never started or was stopped.
	ErrPipelineStopped = errors.New("pipeline is not running")
)

// IsTransient reports whether err is one the acquisition loops retry without complaint.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrStreamInterrupted)
}

// Frame is a unit of sensor output. Release must be called exactly once when done.
type Frame interface {
	// Timestamp is in seconds on the device's monotonic clock.
	Timestamp() float64
	Release()
}

// VideoFrame is an image frame, RGBA8 for color and Z16 for depth.
type VideoFrame interface {
	Frame
	Width() int
	Height() int
	Data() []byte
	Intrinsics() transform.Intrinsics
}

// Points is a computed point cloud. Vertices holds 3 float32 per point; TextureCoordinates holds
// 2 float32 per point, mapping each point into the texture it was mapped against.
type Points interface {
	Frame
	Count() int
	Vertices() []float32
	TextureCoordinates() []float32
}

// PoseFrame carries one 6-DoF sample from a tracking camera.
type PoseFrame interface {
	Frame
	PoseData() PoseData
}

// FrameSet is the composite returned by a pipeline wait. Frames obtained from it are owned by the
// caller and must be released independently of the set.
type FrameSet interface {
	Frame
	ColorFrame() (VideoFrame, error)
	DepthFrame() (VideoFrame, error)
	PoseFrame() (PoseFrame, error)
}

// Pipeline is a configured device stream.
type Pipeline interface {
	Start(ctx context.Context, cfg Config) error
	// WaitForFrames blocks until the next frame set is available or ctx is done.
	WaitForFrames(ctx context.Context) (FrameSet, error)
	// TryWaitForFrames waits at most timeout, returning ErrTimeout if nothing arrived.
	TryWaitForFrames(ctx context.Context, timeout time.Duration) (FrameSet, error)
	Stop() error
}

// PointCloudBlock computes point clouds from depth frames, with texture coordinates into the last
// mapped texture.
type PointCloudBlock interface {
	MapTexture(frame VideoFrame)
	Process(depth VideoFrame) (Points, error)
	Close() error
}

// PoseData is the raw pose record of a tracking camera, in the device's axis convention.
// Rotation is (x, y, z, w).
type PoseData struct {
	Translation         [3]float32
	Velocity            [3]float32
	Acceleration        [3]float32
	Rotation            [4]float32
	AngularVelocity     [3]float32
	AngularAcceleration [3]float32
	TrackerConfidence   int32
	MapperConfidence    int32
}
