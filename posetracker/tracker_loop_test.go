package posetracker

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"github.com/rsvfx/rsfuse/logging"
	"github.com/rsvfx/rsfuse/metrics"
	"github.com/rsvfx/rsfuse/realsense"
	"github.com/rsvfx/rsfuse/realsense/fake"
	"github.com/rsvfx/rsfuse/utils"
)

func startTracker(t *testing.T, cam *fake.TrackingCamera) {
	t.Helper()
	test.That(t, cam.Start(context.Background(), realsense.TrackingCameraConfig()), test.ShouldBeNil)
}

func TestTrackerLoopFillsHistory(t *testing.T) {
	logger := logging.NewTestLogger(t)
	m := metrics.New()
	cam := fake.NewTrackingCamera()
	cam.LossWindows = []fake.LossWindow{{From: 5, To: 8}}
	startTracker(t, cam)
	history := NewSyncHistory(DefaultHistoryCapacity)

	loop := NewTrackerLoop(cam, history, 10*time.Millisecond, m, logger)
	workers := utils.NewStoppableWorkers(logger)
	workers.AddWorker("tracker", loop.Run)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, testutil.ToFloat64(m.PosesAcquired), test.ShouldBeGreaterThan, 2*DefaultHistoryCapacity)
	})
	workers.Stop()

	test.That(t, history.Len(), test.ShouldEqual, DefaultHistoryCapacity)
	test.That(t, testutil.ToFloat64(m.TrackerTimeouts), test.ShouldEqual, 3.0)
	test.That(t, testutil.ToFloat64(m.TrackerConfidence), test.ShouldEqual, 3.0)
	test.That(t, cam.Outstanding(), test.ShouldEqual, int64(0))

	samples := history.Samples()
	for i := 1; i < len(samples); i++ {
		test.That(t, samples[i].Timestamp, test.ShouldBeGreaterThan, samples[i-1].Timestamp)
	}
	// Device Z is mirrored on the way in.
	raw := cam.PoseAt(samples[0].Timestamp)
	test.That(t, samples[0].Position.Z, test.ShouldAlmostEqual, -float64(raw.Translation[2]), 1e-6)
	test.That(t, samples[0].Rotation.Jmag, test.ShouldAlmostEqual, -float64(raw.Rotation[1]), 1e-6)
	test.That(t, cam.Stop(), test.ShouldBeNil)
}

// flakyPipeline panics on its first wait and fails its second, then defers to a real camera.
type flakyPipeline struct {
	*fake.TrackingCamera
	calls atomic.Int32
}

func (fp *flakyPipeline) TryWaitForFrames(ctx context.Context, timeout time.Duration) (realsense.FrameSet, error) {
	switch fp.calls.Inc() {
	case 1:
		var fs realsense.FrameSet
		fs.Release()
	case 2:
		// A frame set without a pose frame.
		return fake.NewFrameSet(0, nil, nil, nil, &fp.Ledger), nil
	}
	return fp.TrackingCamera.TryWaitForFrames(ctx, timeout)
}

func TestTrackerLoopSurvivesFailures(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	m := metrics.New()
	cam := &flakyPipeline{TrackingCamera: fake.NewTrackingCamera()}
	startTracker(t, cam.TrackingCamera)
	history := NewSyncHistory(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewTrackerLoop(cam, history, 0, m, logger).Run(ctx)
	}()

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, history.Len(), test.ShouldEqual, 4)
	})
	cancel()
	<-done

	test.That(t, testutil.ToFloat64(m.LoopErrors.WithLabelValues("tracker")), test.ShouldEqual, 2.0)
	test.That(t, logs.FilterMessageSnippet("pose acquisition failed").Len(), test.ShouldEqual, 2)
	test.That(t, cam.Outstanding(), test.ShouldEqual, int64(0))
}

func TestTrackerLoopStopsOnCancel(t *testing.T) {
	cam := fake.NewTrackingCamera()
	cam.Realtime = true
	// Tracking is lost for good; every wait times out.
	cam.LossWindows = []fake.LossWindow{{From: 0, To: 1 << 30}}
	startTracker(t, cam)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewTrackerLoop(cam, NewSyncHistory(0), time.Hour, metrics.New(), logging.NewTestLogger(t)).Run(ctx)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("tracker loop did not return after cancellation")
	}
}
