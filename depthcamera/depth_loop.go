package depthcamera

import (
	"context"
	"time"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/rsvfx/rsfuse/logging"
	"github.com/rsvfx/rsfuse/metrics"
	"github.com/rsvfx/rsfuse/pointcloud"
	"github.com/rsvfx/rsfuse/realsense"
	"github.com/rsvfx/rsfuse/utils"
)

const errorBackoff = 50 * time.Millisecond

// DepthLoop pulls color+depth frame sets, computes the point cloud and stores the pair in a
// Mailbox.
type DepthLoop struct {
	pipeline realsense.Pipeline
	block    realsense.PointCloudBlock
	mailbox  *Mailbox
	metrics  *metrics.Metrics
	logger   logging.Logger
}

// NewDepthLoop returns a loop over a started pipeline.
func NewDepthLoop(
	pipeline realsense.Pipeline,
	block realsense.PointCloudBlock,
	mailbox *Mailbox,
	m *metrics.Metrics,
	logger logging.Logger,
) *DepthLoop {
	return &DepthLoop{
		pipeline: pipeline,
		block:    block,
		mailbox:  mailbox,
		metrics:  m,
		logger:   logger,
	}
}

// Run acquires frame pairs until ctx is done. A failed or panicking iteration releases what it
// acquired and the loop carries on.
func (dl *DepthLoop) Run(ctx context.Context) {
	for ctx.Err() == nil {
		err := utils.CapturePanic(func() error { return dl.acquire(ctx) })
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return
		case realsense.IsTransient(err):
			dl.logger.Debugw("no depth frame", "error", err)
		default:
			dl.metrics.LoopErrors.WithLabelValues("depth").Inc()
			dl.logger.Warnw("depth acquisition failed", "error", err)
			if !goutils.SelectContextOrWait(ctx, errorBackoff) {
				return
			}
		}
	}
}

func (dl *DepthLoop) acquire(ctx context.Context) error {
	fs, err := dl.pipeline.WaitForFrames(ctx)
	if err != nil {
		return err
	}
	defer fs.Release()

	color, err := fs.ColorFrame()
	if err != nil {
		return errors.Wrap(err, "depth camera frame set")
	}
	stored := false
	defer func() {
		if !stored {
			color.Release()
		}
	}()
	colorIn := color.Intrinsics()
	if err := colorIn.CheckValid(); err != nil {
		return errors.Wrap(err, "color frame")
	}
	dl.block.MapTexture(color)

	depth, err := fs.DepthFrame()
	if err != nil {
		return errors.Wrap(err, "depth camera frame set")
	}
	defer depth.Release()
	depthIn := depth.Intrinsics()
	if err := depthIn.CheckValid(); err != nil {
		return errors.Wrap(err, "depth frame")
	}

	points, err := dl.block.Process(depth)
	if err != nil {
		return errors.Wrap(err, "cannot compute point cloud")
	}

	if dl.logger.GetLevel() == logging.DEBUG {
		meta := pointcloud.MetaDataFromVertices(points.Vertices())
		dl.logger.Debugw("point cloud",
			"valid", meta.Valid,
			"min_z", meta.MinZ,
			"max_z", meta.MaxZ)
	}

	stored = true
	if dl.mailbox.Store(NewFramePair(color, points, colorIn, depthIn)) {
		dl.metrics.SupersededFrames.Inc()
	}
	dl.metrics.DepthFrames.Inc()
	return nil
}
