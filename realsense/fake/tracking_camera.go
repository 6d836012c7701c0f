package fake

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/rsvfx/rsfuse/realsense"
)

// DefaultPoseRate is the sample rate of the synthetic tracker in Hz.
const DefaultPoseRate = 200

// LossWindow is a half-open range of sample indices [From, To) during which the tracker reports
// timeouts, imitating lost tracking.
type LossWindow struct {
	From, To int
}

// TrackingCamera is a synthetic T265 that walks a horizontal circle, always facing its direction
// of travel.
type TrackingCamera struct {
	Ledger

	// Realtime makes waits sleep for one sample period.
	Realtime bool
	// Rate is the sample rate in Hz.
	Rate int
	// Radius of the circle in meters, and AngularSpeed in radians per second.
	Radius       float64
	AngularSpeed float64
	LossWindows  []LossWindow

	mu      sync.Mutex
	running bool
	seq     int
}

// NewTrackingCamera returns a stopped tracker orbiting a one meter circle every ten seconds.
func NewTrackingCamera() *TrackingCamera {
	return &TrackingCamera{
		Rate:         DefaultPoseRate,
		Radius:       1,
		AngularSpeed: 2 * math.Pi / 10,
	}
}

// Start starts the pose stream.
func (tc *TrackingCamera) Start(ctx context.Context, cfg realsense.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if _, ok := cfg.Stream(realsense.StreamPose); !ok {
		return errors.New("tracking camera requires a pose stream")
	}
	if tc.Rate <= 0 {
		return errors.Errorf("tracking camera rate must be positive, got %d", tc.Rate)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.running {
		return errors.New("tracking camera already started")
	}
	tc.running = true
	return nil
}

// WaitForFrames returns the next pose frame set, blocking through loss windows.
func (tc *TrackingCamera) WaitForFrames(ctx context.Context) (realsense.FrameSet, error) {
	for {
		fs, err := tc.TryWaitForFrames(ctx, time.Second)
		if errors.Is(err, realsense.ErrTimeout) {
			continue
		}
		return fs, err
	}
}

// TryWaitForFrames returns the next pose frame set or ErrTimeout inside a loss window.
func (tc *TrackingCamera) TryWaitForFrames(ctx context.Context, timeout time.Duration) (realsense.FrameSet, error) {
	tc.mu.Lock()
	if !tc.running {
		tc.mu.Unlock()
		return nil, realsense.ErrPipelineStopped
	}
	seq := tc.seq
	tc.seq++
	tc.mu.Unlock()

	if tc.lost(seq) {
		if tc.Realtime && !goutils.SelectContextOrWait(ctx, timeout) {
			return nil, ctx.Err()
		}
		return nil, realsense.ErrTimeout
	}
	if tc.Realtime {
		if !goutils.SelectContextOrWait(ctx, time.Second/time.Duration(tc.Rate)) {
			return nil, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	ts := float64(seq) / float64(tc.Rate)
	pose := NewPoseFrame(ts, tc.PoseAt(ts), &tc.Ledger)
	return NewFrameSet(ts, nil, nil, pose, &tc.Ledger), nil
}

func (tc *TrackingCamera) lost(seq int) bool {
	for _, w := range tc.LossWindows {
		if seq >= w.From && seq < w.To {
			return true
		}
	}
	return false
}

// PoseAt returns the raw device pose at time ts. The device frame is right-handed with Y up and
// -Z forward.
func (tc *TrackingCamera) PoseAt(ts float64) realsense.PoseData {
	angle := tc.AngularSpeed * ts
	sin, cos := math.Sincos(angle)
	half := angle / 2
	speed := tc.AngularSpeed * tc.Radius
	return realsense.PoseData{
		Translation:       [3]float32{float32(tc.Radius * cos), 0, float32(tc.Radius * sin)},
		Velocity:          [3]float32{float32(-speed * sin), 0, float32(speed * cos)},
		Acceleration:      [3]float32{float32(-speed * tc.AngularSpeed * cos), 0, float32(-speed * tc.AngularSpeed * sin)},
		Rotation:          [4]float32{0, float32(math.Sin(half)), 0, float32(math.Cos(half))},
		AngularVelocity:   [3]float32{0, float32(tc.AngularSpeed), 0},
		TrackerConfidence: 3,
		MapperConfidence:  3,
	}
}

// Stop stops the pose stream.
func (tc *TrackingCamera) Stop() error {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if !tc.running {
		return realsense.ErrPipelineStopped
	}
	tc.running = false
	return nil
}
