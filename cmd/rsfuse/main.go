// Package main runs the fused depth and pose pipeline against synthetic cameras.
package main

import (
	"context"
	"image/png"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/rsvfx/rsfuse/config"
	"github.com/rsvfx/rsfuse/driver"
	"github.com/rsvfx/rsfuse/gpu/software"
	"github.com/rsvfx/rsfuse/logging"
	"github.com/rsvfx/rsfuse/metrics"
	"github.com/rsvfx/rsfuse/realsense/fake"
	"github.com/rsvfx/rsfuse/spatialmath"
	"github.com/rsvfx/rsfuse/utils"
)

const (
	// Flags.
	flagConfig          = "config"
	flagDebug           = "debug"
	flagDuration        = "duration"
	flagOutput          = "output"
	flagPoseLogInterval = "pose-log-interval"
	flagMetricsAddress  = "metrics-address"
	flagLogFile         = "log-file"
)

func main() {
	app := &cli.App{
		Name:  "rsfuse",
		Usage: "fuse a depth camera and a tracking camera into attribute maps and a tracked pose",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE` and reload adjustments when it changes",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.DurationFlag{
				Name:  flagDuration,
				Usage: "stop after this long; run until interrupted when zero",
			},
			&cli.StringFlag{
				Name:  flagOutput,
				Usage: "write the final color map to `FILE` as PNG",
			},
			&cli.DurationFlag{
				Name:  flagPoseLogInterval,
				Value: time.Second,
				Usage: "how often to log the tracked pose",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotated at 100MB",
			},
			&cli.StringFlag{
				Name:  flagMetricsAddress,
				Usage: "serve prometheus metrics on this address, overriding the config",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	path := c.String(flagConfig)
	if path != "" {
		read, err := config.Read(path)
		if err != nil {
			return err
		}
		cfg = *read
	}
	if addr := c.String(flagMetricsAddress); addr != "" {
		cfg.MetricsAddress = addr
	}

	logger := logging.NewLogger("rsfuse")
	if c.Bool(flagDebug) {
		logger = logging.NewDebugLogger("rsfuse")
	} else {
		logger.SetLevel(cfg.Level())
	}
	if logFile := c.String(flagLogFile); logFile != "" {
		rotating := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 2,
			Compress:   true,
		}
		defer goutils.UncheckedErrorFunc(rotating.Close)
		logger.AddAppender(logging.NewWriterAppender(rotating))
	}
	defer goutils.UncheckedErrorFunc(logger.Sync)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if d := c.Duration(flagDuration); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	m := metrics.New()
	if cfg.MetricsAddress != "" {
		srv, err := metrics.NewServer(cfg.MetricsAddress, m, logger.Sublogger("metrics"))
		if err != nil {
			return err
		}
		srv.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			goutils.UncheckedError(srv.Shutdown(shutdownCtx))
		}()
		logger.Infow("serving metrics", "address", srv.Addr().String())
	}

	tracker := fake.NewTrackingCamera()
	tracker.Realtime = true
	depth := fake.NewDepthCamera()
	depth.Realtime = true

	d, err := driver.NewCombinedDriver(&cfg, tracker, depth, fake.NewPointCloudBlock(),
		software.NewBaker(logger.Sublogger("baker")), m, logger.Sublogger("driver"))
	if err != nil {
		return err
	}
	if err := d.Start(ctx); err != nil {
		return multierr.Combine(err, d.Close())
	}

	if path != "" {
		watcher, err := config.NewWatcher(path, logger.Sublogger("config"), func(updated *config.Config) {
			d.SetAdjustments(updated.Adjustments())
		})
		if err != nil {
			return multierr.Combine(err, d.Close())
		}
		defer goutils.UncheckedErrorFunc(watcher.Close)
	}

	runner := driver.NewRunner(d, clock.New(), cfg.TickInterval(), logger.Sublogger("runner"))
	workers := utils.NewStoppableWorkers(logger)
	workers.AddWorker("runner", runner.Run)
	workers.AddWorker("pose-logger", func(ctx context.Context) {
		for goutils.SelectContextOrWait(ctx, c.Duration(flagPoseLogInterval)) {
			sample, updates := d.Transform().Sample()
			roll, pitch, yaw := spatialmath.QuatToEuler(sample.Rotation)
			logger.Infow("tracked pose",
				"timestamp", sample.Timestamp,
				"position", sample.Position,
				"roll", roll, "pitch", pitch, "yaw", yaw,
				"updates", updates)
		}
	})

	<-ctx.Done()
	workers.Stop()
	ticks, updates := runner.Ticks()
	logger.Infow("stopping", "ticks", ticks, "map_updates", updates)

	var outErr error
	if out := c.String(flagOutput); out != "" {
		outErr = writeColorMap(d, out)
	}
	return multierr.Combine(outErr, d.Close())
}

func writeColorMap(d *driver.CombinedDriver, path string) (err error) {
	img, err := d.ColorMap().Image()
	if err != nil {
		return err
	}
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "cannot create color map output")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return png.Encode(f, img)
}
