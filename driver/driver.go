// Package driver ties the tracker and depth producers to the converter and exposes the fused
// result: two attribute maps and a tracked transform, refreshed once per Tick.
package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"go.uber.org/multierr"

	"github.com/rsvfx/rsfuse/config"
	"github.com/rsvfx/rsfuse/converter"
	"github.com/rsvfx/rsfuse/depthcamera"
	"github.com/rsvfx/rsfuse/gpu"
	"github.com/rsvfx/rsfuse/logging"
	"github.com/rsvfx/rsfuse/metrics"
	"github.com/rsvfx/rsfuse/posetracker"
	"github.com/rsvfx/rsfuse/realsense"
	"github.com/rsvfx/rsfuse/spatialmath"
	"github.com/rsvfx/rsfuse/utils"
)

// CombinedDriver owns a depth camera and a tracking camera. Tick must be called from a single
// goroutine; the maps it writes are only safe to read between ticks. Transform is safe to read at
// any time.
type CombinedDriver struct {
	cfg     config.Config
	metrics *metrics.Metrics
	logger  logging.Logger

	trackerPipeline realsense.Pipeline
	depthPipeline   realsense.Pipeline
	block           realsense.PointCloudBlock

	history   *posetracker.SyncHistory
	mailbox   *depthcamera.Mailbox
	converter *converter.DepthConverter
	transform *spatialmath.Transform

	colorMap    *gpu.Texture
	positionMap *gpu.Texture

	adjMu sync.Mutex
	adj   converter.Adjustments

	stateMu sync.Mutex
	started bool
	closed  bool
	workers utils.StoppableWorkers

	prevTimestamp float64
}

// NewCombinedDriver validates cfg and allocates the output maps at the configured resolution.
// The pipelines are started by Start.
func NewCombinedDriver(
	cfg *config.Config,
	trackerPipeline realsense.Pipeline,
	depthPipeline realsense.Pipeline,
	block realsense.PointCloudBlock,
	baker gpu.Baker,
	m *metrics.Metrics,
	logger logging.Logger,
) (*CombinedDriver, error) {
	if err := cfg.Validate("driver"); err != nil {
		return nil, err
	}
	colorMap, err := gpu.NewTexture(cfg.Resolution.Width, cfg.Resolution.Height, gpu.FormatARGB32)
	if err != nil {
		return nil, errors.Wrap(err, "cannot allocate color map")
	}
	positionMap, err := gpu.NewTexture(cfg.Resolution.Width, cfg.Resolution.Height, gpu.FormatARGBHalf)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "cannot allocate position map"), colorMap.Release())
	}

	return &CombinedDriver{
		cfg:             *cfg,
		metrics:         m,
		logger:          logger,
		trackerPipeline: trackerPipeline,
		depthPipeline:   depthPipeline,
		block:           block,
		history:         posetracker.NewSyncHistory(cfg.PoseHistorySize),
		mailbox:         depthcamera.NewMailbox(),
		converter:       converter.NewDepthConverter(baker, m, logger.Sublogger("converter")),
		transform:       spatialmath.NewTransform(),
		colorMap:        colorMap,
		positionMap:     positionMap,
		adj:             cfg.Adjustments(),
	}, nil
}

// Start starts both pipelines and their acquisition loops.
func (d *CombinedDriver) Start(ctx context.Context) error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.closed {
		return errors.New("driver is closed")
	}
	if d.started {
		return errors.New("driver already started")
	}

	trackerCfg := realsense.TrackingCameraConfig()
	depthCfg := realsense.DepthCameraConfig(d.cfg.Resolution.Width, d.cfg.Resolution.Height, d.cfg.Framerate)

	stopSlowLogger := utils.SlowLogger(ctx, "waiting for pipelines to start", "resolution",
		fmt.Sprintf("%dx%d", d.cfg.Resolution.Width, d.cfg.Resolution.Height), d.logger)
	defer stopSlowLogger()

	if err := d.trackerPipeline.Start(ctx, trackerCfg); err != nil {
		return errors.Wrap(err, "cannot start tracking camera")
	}
	if err := d.depthPipeline.Start(ctx, depthCfg); err != nil {
		return multierr.Combine(errors.Wrap(err, "cannot start depth camera"), d.trackerPipeline.Stop())
	}

	d.workers = utils.NewStoppableWorkers(d.logger)
	d.workers.AddWorker("tracker", posetracker.NewTrackerLoop(
		d.trackerPipeline, d.history, d.cfg.TrackerTimeout, d.metrics, d.logger.Sublogger("tracker")).Run)
	d.workers.AddWorker("depth", depthcamera.NewDepthLoop(
		d.depthPipeline, d.block, d.mailbox, d.metrics, d.logger.Sublogger("depth")).Run)
	d.started = true
	d.logger.Infow("driver started",
		"width", d.cfg.Resolution.Width, "height", d.cfg.Resolution.Height, "framerate", d.cfg.Framerate)
	return nil
}

// SetAdjustments replaces the adjustable parameters. They take effect on the next Tick.
func (d *CombinedDriver) SetAdjustments(adj converter.Adjustments) {
	d.adjMu.Lock()
	defer d.adjMu.Unlock()
	d.adj = adj.Clamped()
}

// Adjustments returns the parameters the next Tick will use.
func (d *CombinedDriver) Adjustments() converter.Adjustments {
	d.adjMu.Lock()
	defer d.adjMu.Unlock()
	return d.adj
}

// Tick consumes the newest frame pair, refreshes the attribute maps and applies the pose sampled
// nearest the previous tick's frame. It reports whether the maps were updated.
func (d *CombinedDriver) Tick(ctx context.Context) bool {
	ctx, span := trace.StartSpan(ctx, "driver::CombinedDriver::Tick")
	defer span.End()

	pair, ok := d.mailbox.Snapshot()
	if !ok || !pair.Complete() {
		pair.Release()
		d.metrics.SkippedTicks.WithLabelValues(metrics.SkipNoFrame).Inc()
		return false
	}
	d.converter.LoadColorData(pair.Color, pair.ColorIntrinsics)
	d.converter.LoadPointData(pair.Points, pair.DepthIntrinsics)
	timestamp := pair.Timestamp
	pair.Release()

	d.converter.SetAdjustments(d.Adjustments())
	updated := d.converter.UpdateAttributeMaps(ctx, d.colorMap, d.positionMap)
	if !updated {
		d.metrics.SkippedTicks.WithLabelValues(d.skipReason()).Inc()
	}

	// The pose is matched against the previous frame's timestamp. The pose stream runs ahead of
	// the depth stream, so this lags by one tick.
	if sample, ok := d.history.DequeueNearest(d.prevTimestamp); ok {
		d.transform.Apply(sample)
		d.metrics.PoseMatches.Inc()
		d.logger.CDebugf(ctx, "frame %.4f matched pose %v", timestamp, sample)
	}
	d.prevTimestamp = timestamp
	return updated
}

func (d *CombinedDriver) skipReason() string {
	switch {
	case !d.converter.Ready():
		return metrics.SkipNotReady
	case d.converter.Inconsistent():
		return metrics.SkipInconsistent
	default:
		return metrics.SkipBakeFailed
	}
}

// ColorMap returns the color attribute map.
func (d *CombinedDriver) ColorMap() *gpu.Texture {
	return d.colorMap
}

// PositionMap returns the position attribute map.
func (d *CombinedDriver) PositionMap() *gpu.Texture {
	return d.positionMap
}

// Transform returns the tracked transform.
func (d *CombinedDriver) Transform() *spatialmath.Transform {
	return d.transform
}

// Running returns the names of the acquisition loops still running.
func (d *CombinedDriver) Running() []string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.workers == nil {
		return nil
	}
	return d.workers.Running()
}

// Close stops the acquisition loops, drops the held frames and stops both pipelines.
func (d *CombinedDriver) Close() error {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true

	var errs error
	if d.started {
		d.workers.Stop()
		errs = multierr.Combine(d.trackerPipeline.Stop(), d.depthPipeline.Stop())
	}
	d.mailbox.Close()
	d.history.Reset()
	return multierr.Combine(
		errs,
		d.converter.Close(),
		d.block.Close(),
		d.colorMap.Release(),
		d.positionMap.Release(),
	)
}
