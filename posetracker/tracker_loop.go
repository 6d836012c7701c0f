package posetracker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/rsvfx/rsfuse/logging"
	"github.com/rsvfx/rsfuse/metrics"
	"github.com/rsvfx/rsfuse/realsense"
	"github.com/rsvfx/rsfuse/spatialmath"
	"github.com/rsvfx/rsfuse/utils"
)

// DefaultTrackerTimeout bounds each wait on the tracking camera.
const DefaultTrackerTimeout = time.Second

// errorBackoff is how long the loop pauses after a non-transient failure.
const errorBackoff = 50 * time.Millisecond

// TrackerLoop pulls pose frames from a tracking camera into a SyncHistory.
type TrackerLoop struct {
	pipeline realsense.Pipeline
	history  *SyncHistory
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   logging.Logger
}

// NewTrackerLoop returns a loop over a started pipeline. A non-positive timeout selects
// DefaultTrackerTimeout.
func NewTrackerLoop(
	pipeline realsense.Pipeline,
	history *SyncHistory,
	timeout time.Duration,
	m *metrics.Metrics,
	logger logging.Logger,
) *TrackerLoop {
	if timeout <= 0 {
		timeout = DefaultTrackerTimeout
	}
	return &TrackerLoop{
		pipeline: pipeline,
		history:  history,
		timeout:  timeout,
		metrics:  m,
		logger:   logger,
	}
}

// Run acquires poses until ctx is done. Timeouts and interruptions are expected while tracking
// is lost and only logged at debug. Any other failure, including a panic, costs one iteration.
func (tl *TrackerLoop) Run(ctx context.Context) {
	for ctx.Err() == nil {
		err := utils.CapturePanic(func() error { return tl.acquire(ctx) })
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case realsense.IsTransient(err):
			tl.metrics.TrackerTimeouts.Inc()
			tl.logger.Debugw("no pose frame", "error", err)
		default:
			tl.metrics.LoopErrors.WithLabelValues("tracker").Inc()
			tl.logger.Warnw("pose acquisition failed", "error", err)
			if !goutils.SelectContextOrWait(ctx, errorBackoff) {
				return
			}
		}
	}
}

func (tl *TrackerLoop) acquire(ctx context.Context) error {
	fs, err := tl.pipeline.TryWaitForFrames(ctx, tl.timeout)
	if err != nil {
		return err
	}
	defer fs.Release()

	pf, err := fs.PoseFrame()
	if err != nil {
		return errors.Wrap(err, "tracker frame set")
	}
	defer pf.Release()

	data := pf.PoseData()
	sample := spatialmath.FromDeviceConvention(pf.Timestamp(), data.Translation, data.Rotation)
	sample.Confidence = int(data.TrackerConfidence)
	tl.history.Enqueue(sample)

	tl.metrics.PosesAcquired.Inc()
	tl.metrics.TrackerConfidence.Set(float64(data.TrackerConfidence))
	return nil
}
