package depthcamera

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/rsvfx/rsfuse/logging"
	"github.com/rsvfx/rsfuse/metrics"
	"github.com/rsvfx/rsfuse/realsense"
	"github.com/rsvfx/rsfuse/realsense/fake"
	"github.com/rsvfx/rsfuse/rimage/transform"
	"github.com/rsvfx/rsfuse/utils"
)

func startDepthCamera(t *testing.T) *fake.DepthCamera {
	t.Helper()
	cam := fake.NewDepthCamera()
	test.That(t, cam.Start(context.Background(), realsense.DepthCameraConfig(64, 48, 30)), test.ShouldBeNil)
	return cam
}

func TestDepthLoopStoresPairs(t *testing.T) {
	logger := logging.NewTestLogger(t)
	m := metrics.New()
	cam := startDepthCamera(t)
	block := fake.NewPointCloudBlock()
	mb := NewMailbox()

	workers := utils.NewStoppableWorkers(logger)
	workers.AddWorker("depth", NewDepthLoop(cam, block, mb, m, logger).Run)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, testutil.ToFloat64(m.DepthFrames), test.ShouldBeGreaterThanOrEqualTo, 5)
	})
	workers.Stop()

	// Nobody consumed anything, so every store but the first superseded its predecessor.
	test.That(t, testutil.ToFloat64(m.SupersededFrames), test.ShouldEqual, testutil.ToFloat64(m.DepthFrames)-1)

	snap, ok := mb.Snapshot()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, snap.Complete(), test.ShouldBeTrue)
	test.That(t, snap.Color.Width(), test.ShouldEqual, 64)
	test.That(t, snap.Points.Count(), test.ShouldEqual, 64*48)
	test.That(t, snap.ColorIntrinsics, test.ShouldResemble, cam.Intrinsics())
	test.That(t, snap.Timestamp, test.ShouldEqual, snap.Color.Timestamp())
	snap.Release()

	mb.Close()
	test.That(t, cam.Outstanding(), test.ShouldEqual, int64(0))
	test.That(t, block.Outstanding(), test.ShouldEqual, int64(0))
	test.That(t, cam.Stop(), test.ShouldBeNil)
}

// depthlessPipeline returns color-only frame sets, then panics, then behaves.
type depthlessPipeline struct {
	*fake.DepthCamera
	calls atomic.Int32
}

func (dp *depthlessPipeline) WaitForFrames(ctx context.Context) (realsense.FrameSet, error) {
	fs, err := dp.DepthCamera.WaitForFrames(ctx)
	if err != nil {
		return nil, err
	}
	switch dp.calls.Inc() {
	case 1:
		fs.(*fake.FrameSet).Depth.Release()
		fs.(*fake.FrameSet).Depth = nil
	case 2:
		fs.Release()
		panic("driver fault")
	}
	return fs, nil
}

func TestDepthLoopReleasesOnFailure(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	m := metrics.New()
	cam := &depthlessPipeline{DepthCamera: startDepthCamera(t)}
	block := fake.NewPointCloudBlock()
	mb := NewMailbox()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewDepthLoop(cam, block, mb, m, logger).Run(ctx)
	}()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, testutil.ToFloat64(m.DepthFrames), test.ShouldBeGreaterThanOrEqualTo, 1)
	})
	cancel()
	<-done

	test.That(t, testutil.ToFloat64(m.LoopErrors.WithLabelValues("depth")), test.ShouldEqual, 2.0)
	test.That(t, logs.FilterMessageSnippet("depth acquisition failed").Len(), test.ShouldEqual, 2)

	mb.Close()
	test.That(t, cam.Outstanding(), test.ShouldEqual, int64(0))
	test.That(t, block.Outstanding(), test.ShouldEqual, int64(0))
}

// uncalibratedPipeline hands out color frames without intrinsics for its first two frame sets.
type uncalibratedPipeline struct {
	*fake.DepthCamera
	calls atomic.Int32
}

type uncalibratedSet struct {
	realsense.FrameSet
}

type uncalibratedFrame struct {
	realsense.VideoFrame
}

func (uncalibratedFrame) Intrinsics() transform.Intrinsics { return transform.Intrinsics{} }

func (us uncalibratedSet) ColorFrame() (realsense.VideoFrame, error) {
	color, err := us.FrameSet.ColorFrame()
	if err != nil {
		return nil, err
	}
	return uncalibratedFrame{color}, nil
}

func (up *uncalibratedPipeline) WaitForFrames(ctx context.Context) (realsense.FrameSet, error) {
	fs, err := up.DepthCamera.WaitForFrames(ctx)
	if err != nil {
		return nil, err
	}
	if up.calls.Inc() <= 2 {
		return uncalibratedSet{fs}, nil
	}
	return fs, nil
}

func TestDepthLoopDropsInvalidIntrinsics(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	m := metrics.New()
	cam := &uncalibratedPipeline{DepthCamera: startDepthCamera(t)}
	block := fake.NewPointCloudBlock()
	mb := NewMailbox()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewDepthLoop(cam, block, mb, m, logger).Run(ctx)
	}()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, testutil.ToFloat64(m.DepthFrames), test.ShouldBeGreaterThanOrEqualTo, 1)
	})
	cancel()
	<-done

	test.That(t, testutil.ToFloat64(m.LoopErrors.WithLabelValues("depth")), test.ShouldEqual, 2.0)
	failures := logs.FilterMessageSnippet("depth acquisition failed").All()
	test.That(t, len(failures), test.ShouldEqual, 2)
	test.That(t, failures[0].ContextMap()["error"], test.ShouldContainSubstring, "Invalid size")

	// stored pairs come with their cloud bounds at debug
	clouds := logs.FilterMessage("point cloud").All()
	test.That(t, len(clouds), test.ShouldBeGreaterThanOrEqualTo, 1)
	test.That(t, clouds[0].ContextMap()["valid"], test.ShouldEqual, int64(64*48))
	test.That(t, clouds[0].ContextMap()["min_z"], test.ShouldBeGreaterThan, 0.0)

	snap, ok := mb.Snapshot()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, snap.ColorIntrinsics.CheckValid(), test.ShouldBeNil)
	snap.Release()

	mb.Close()
	test.That(t, cam.Outstanding(), test.ShouldEqual, int64(0))
	test.That(t, block.Outstanding(), test.ShouldEqual, int64(0))
}
