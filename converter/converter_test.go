package converter

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"go.viam.com/test"

	"github.com/rsvfx/rsfuse/gpu"
	"github.com/rsvfx/rsfuse/gpu/software"
	"github.com/rsvfx/rsfuse/logging"
	"github.com/rsvfx/rsfuse/metrics"
	"github.com/rsvfx/rsfuse/pointcloud"
	"github.com/rsvfx/rsfuse/realsense/fake"
	"github.com/rsvfx/rsfuse/rimage/transform"
)

const (
	colorFill    = 0xAB
	positionFill = 0xCD
)

// recordingBaker remembers every dispatch and paints the staging maps with a fixed pattern.
type recordingBaker struct {
	calls []gpu.BakeParams
	err   error
}

func (rb *recordingBaker) Bake(ctx context.Context, params *gpu.BakeParams) error {
	rb.calls = append(rb.calls, *params)
	if rb.err != nil {
		return rb.err
	}
	for i := range params.ColorMap.Pixels {
		params.ColorMap.Pixels[i] = colorFill
	}
	for i := range params.PositionMap.Pixels {
		params.PositionMap.Pixels[i] = positionFill
	}
	return nil
}

func intrinsicsFor(width, height int) transform.Intrinsics {
	return transform.Intrinsics{
		Width:  width,
		Height: height,
		Ppx:    float64(width) / 2,
		Ppy:    float64(height) / 2,
		Fx:     0.9 * float64(width),
		Fy:     0.9 * float64(width),
	}
}

func colorFrame(width, height int) *fake.VideoFrame {
	return fake.NewVideoFrame(1, width, height, fake.GradientImage(width, height, 0), intrinsicsFor(width, height), nil)
}

func pointFrame(count int) *fake.Points {
	pts := pointcloud.NewPoints(count)
	for i := range pts.Vertices() {
		pts.Vertices()[i] = float32(i)
	}
	for i := range pts.TextureCoordinates() {
		pts.TextureCoordinates()[i] = 0.5
	}
	return fake.NewPoints(1, pts, nil)
}

func newMaps(t *testing.T, width, height int) (*gpu.Texture, *gpu.Texture) {
	t.Helper()
	colorMap, err := gpu.NewTexture(width, height, gpu.FormatARGB32)
	test.That(t, err, test.ShouldBeNil)
	positionMap, err := gpu.NewTexture(width, height, gpu.FormatARGBHalf)
	test.That(t, err, test.ShouldBeNil)
	return colorMap, positionMap
}

func allBytes(data []byte, b byte) bool {
	return bytes.Count(data, []byte{b}) == len(data)
}

func TestLoadNoOps(t *testing.T) {
	baker := &recordingBaker{}
	conv := NewDepthConverter(baker, metrics.New(), logging.NewTestLogger(t))
	in := intrinsicsFor(16, 8)

	test.That(t, conv.LoadColorData(nil, in), test.ShouldBeFalse)
	test.That(t, conv.LoadColorData(fake.NewVideoFrame(1, 16, 8, nil, in, nil), in), test.ShouldBeFalse)
	test.That(t, conv.LoadColorData(fake.NewVideoFrame(1, 0, 8, make([]byte, 64), in, nil), in), test.ShouldBeFalse)
	test.That(t, conv.LoadColorData(fake.NewVideoFrame(1, 16, 8, make([]byte, 16*8*4-1), in, nil), in), test.ShouldBeFalse)

	test.That(t, conv.LoadPointData(nil, in), test.ShouldBeFalse)
	test.That(t, conv.LoadPointData(pointFrame(0), in), test.ShouldBeFalse)
	empty, err := pointcloud.NewPointsFromSlices(nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conv.LoadPointData(fake.NewPoints(1, empty, nil), in), test.ShouldBeFalse)

	w, h := conv.Dimensions()
	test.That(t, w, test.ShouldEqual, 0)
	test.That(t, h, test.ShouldEqual, 0)
	test.That(t, conv.Ready(), test.ShouldBeFalse)

	colorMap, positionMap := newMaps(t, 16, 8)
	test.That(t, conv.UpdateAttributeMaps(context.Background(), colorMap, positionMap), test.ShouldBeFalse)

	// Color alone is not enough either.
	test.That(t, conv.LoadColorData(colorFrame(16, 8), in), test.ShouldBeTrue)
	test.That(t, conv.UpdateAttributeMaps(context.Background(), colorMap, positionMap), test.ShouldBeFalse)
	test.That(t, baker.calls, test.ShouldBeEmpty)
	test.That(t, allBytes(colorMap.Pixels, 0), test.ShouldBeTrue)
	test.That(t, conv.Close(), test.ShouldBeNil)
}

func TestLoadNoOpAfterLoad(t *testing.T) {
	conv := NewDepthConverter(&recordingBaker{}, metrics.New(), logging.NewTestLogger(t))
	colorIn, depthIn := intrinsicsFor(16, 8), intrinsicsFor(4, 4)
	test.That(t, conv.LoadColorData(colorFrame(16, 8), colorIn), test.ShouldBeTrue)
	test.That(t, conv.LoadPointData(pointFrame(16), depthIn), test.ShouldBeTrue)

	colorBuffer, positionBuffer, remapBuffer := conv.colorBuffer, conv.positionBuffer, conv.remapBuffer
	colorBytes := append([]byte(nil), colorBuffer.Bytes()...)
	positionBytes := append([]byte(nil), positionBuffer.Bytes()...)
	remapBytes := append([]byte(nil), remapBuffer.Bytes()...)

	other := intrinsicsFor(32, 16)
	test.That(t, conv.LoadColorData(nil, other), test.ShouldBeFalse)
	test.That(t, conv.LoadColorData(fake.NewVideoFrame(2, 32, 16, nil, other, nil), other), test.ShouldBeFalse)
	test.That(t, conv.LoadColorData(fake.NewVideoFrame(2, 32, 16, make([]byte, 8), other, nil), other), test.ShouldBeFalse)
	test.That(t, conv.LoadPointData(nil, other), test.ShouldBeFalse)
	test.That(t, conv.LoadPointData(pointFrame(0), other), test.ShouldBeFalse)
	empty, err := pointcloud.NewPointsFromSlices(nil, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conv.LoadPointData(fake.NewPoints(2, empty, nil), other), test.ShouldBeFalse)

	w, h := conv.Dimensions()
	test.That(t, w, test.ShouldEqual, 16)
	test.That(t, h, test.ShouldEqual, 8)
	test.That(t, conv.Ready(), test.ShouldBeTrue)
	test.That(t, conv.colorBuffer, test.ShouldEqual, colorBuffer)
	test.That(t, conv.positionBuffer, test.ShouldEqual, positionBuffer)
	test.That(t, conv.remapBuffer, test.ShouldEqual, remapBuffer)
	test.That(t, conv.colorBuffer.Bytes(), test.ShouldResemble, colorBytes)
	test.That(t, conv.positionBuffer.Bytes(), test.ShouldResemble, positionBytes)
	test.That(t, conv.remapBuffer.Bytes(), test.ShouldResemble, remapBytes)
	test.That(t, conv.colorIntrinsics, test.ShouldResemble, colorIn)
	test.That(t, conv.depthIntrinsics, test.ShouldResemble, depthIn)
	test.That(t, conv.Close(), test.ShouldBeNil)
}

func TestNilMapsSkipBake(t *testing.T) {
	baker := &recordingBaker{}
	conv := NewDepthConverter(baker, metrics.New(), logging.NewTestLogger(t))
	test.That(t, conv.LoadColorData(colorFrame(16, 8), intrinsicsFor(16, 8)), test.ShouldBeTrue)
	test.That(t, conv.LoadPointData(pointFrame(32), intrinsicsFor(8, 4)), test.ShouldBeTrue)

	colorMap, _ := newMaps(t, 16, 8)
	test.That(t, conv.UpdateAttributeMaps(context.Background(), colorMap, nil), test.ShouldBeFalse)
	test.That(t, conv.UpdateAttributeMaps(context.Background(), nil, nil), test.ShouldBeFalse)
	test.That(t, baker.calls, test.ShouldBeEmpty)
	test.That(t, conv.Close(), test.ShouldBeNil)
}

func TestBuffersReusedUntilResize(t *testing.T) {
	conv := NewDepthConverter(&recordingBaker{}, metrics.New(), logging.NewTestLogger(t))

	test.That(t, conv.LoadColorData(colorFrame(16, 8), intrinsicsFor(16, 8)), test.ShouldBeTrue)
	test.That(t, conv.LoadPointData(pointFrame(32), intrinsicsFor(8, 4)), test.ShouldBeTrue)
	colorBuffer, positionBuffer := conv.colorBuffer, conv.positionBuffer
	test.That(t, positionBuffer.Count(), test.ShouldEqual, 96)
	test.That(t, conv.remapBuffer.Count(), test.ShouldEqual, 64)
	test.That(t, positionBuffer.Float32At(95), test.ShouldEqual, float32(95))

	test.That(t, conv.LoadColorData(colorFrame(16, 8), intrinsicsFor(16, 8)), test.ShouldBeTrue)
	test.That(t, conv.LoadPointData(pointFrame(32), intrinsicsFor(8, 4)), test.ShouldBeTrue)
	test.That(t, conv.colorBuffer, test.ShouldEqual, colorBuffer)
	test.That(t, conv.positionBuffer, test.ShouldEqual, positionBuffer)

	test.That(t, conv.LoadColorData(colorFrame(32, 16), intrinsicsFor(32, 16)), test.ShouldBeTrue)
	test.That(t, conv.LoadPointData(pointFrame(48), intrinsicsFor(8, 6)), test.ShouldBeTrue)
	test.That(t, conv.colorBuffer, test.ShouldNotEqual, colorBuffer)
	test.That(t, colorBuffer.Released(), test.ShouldBeTrue)
	test.That(t, positionBuffer.Released(), test.ShouldBeTrue)
	test.That(t, conv.colorBuffer.Count(), test.ShouldEqual, 32*16)
	w, h := conv.Dimensions()
	test.That(t, w, test.ShouldEqual, 32)
	test.That(t, h, test.ShouldEqual, 16)

	current := conv.colorBuffer
	test.That(t, conv.Close(), test.ShouldBeNil)
	test.That(t, current.Released(), test.ShouldBeTrue)
	test.That(t, conv.Ready(), test.ShouldBeFalse)
}

func TestConsistencyMismatchLogsOnce(t *testing.T) {
	for _, tc := range []struct {
		name          string
		width, height int
		colorMap      [2]int
		colorFormat   gpu.TextureFormat
		positionMap   [2]int
		posFormat     gpu.TextureFormat
		message       string
	}{
		{"size not multiple of 8", 12, 8, [2]int{12, 8}, gpu.FormatARGB32, [2]int{12, 8}, gpu.FormatARGBHalf,
			"multiple of 8"},
		{"height not multiple of 8", 16, 12, [2]int{16, 12}, gpu.FormatARGB32, [2]int{16, 12}, gpu.FormatARGBHalf,
			"multiple of 8"},
		{"color map size", 16, 8, [2]int{8, 8}, gpu.FormatARGB32, [2]int{16, 8}, gpu.FormatARGBHalf,
			"color map dimensions"},
		{"position map size", 16, 8, [2]int{16, 8}, gpu.FormatARGB32, [2]int{16, 16}, gpu.FormatARGBHalf,
			"position map dimensions"},
		{"color map format", 16, 8, [2]int{16, 8}, gpu.FormatARGBHalf, [2]int{16, 8}, gpu.FormatARGBHalf,
			"should be ARGB32"},
		{"position map format", 16, 8, [2]int{16, 8}, gpu.FormatARGB32, [2]int{16, 8}, gpu.FormatARGB32,
			"should be ARGBHalf"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logger, logs := logging.NewObservedTestLogger(t)
			baker := &recordingBaker{}
			conv := NewDepthConverter(baker, metrics.New(), logger)
			test.That(t, conv.LoadColorData(colorFrame(tc.width, tc.height), intrinsicsFor(tc.width, tc.height)),
				test.ShouldBeTrue)
			test.That(t, conv.LoadPointData(pointFrame(16), intrinsicsFor(4, 4)), test.ShouldBeTrue)

			colorMap, err := gpu.NewTexture(tc.colorMap[0], tc.colorMap[1], tc.colorFormat)
			test.That(t, err, test.ShouldBeNil)
			positionMap, err := gpu.NewTexture(tc.positionMap[0], tc.positionMap[1], tc.posFormat)
			test.That(t, err, test.ShouldBeNil)

			for i := 0; i < 3; i++ {
				test.That(t, conv.UpdateAttributeMaps(context.Background(), colorMap, positionMap), test.ShouldBeFalse)
			}
			test.That(t, conv.Inconsistent(), test.ShouldBeTrue)
			test.That(t, baker.calls, test.ShouldBeEmpty)
			test.That(t, allBytes(colorMap.Pixels, 0), test.ShouldBeTrue)
			test.That(t, allBytes(positionMap.Pixels, 0), test.ShouldBeTrue)
			test.That(t, logs.FilterMessageSnippet(tc.message).Len(), test.ShouldEqual, 1)
			test.That(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len(), test.ShouldEqual, 1)
			test.That(t, conv.Close(), test.ShouldBeNil)
		})
	}
}

func TestMismatchSuppressesForever(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	baker := &recordingBaker{}
	conv := NewDepthConverter(baker, metrics.New(), logger)
	test.That(t, conv.LoadColorData(colorFrame(12, 8), intrinsicsFor(12, 8)), test.ShouldBeTrue)
	test.That(t, conv.LoadPointData(pointFrame(16), intrinsicsFor(4, 4)), test.ShouldBeTrue)
	badColor, badPosition := newMaps(t, 12, 8)
	test.That(t, conv.UpdateAttributeMaps(context.Background(), badColor, badPosition), test.ShouldBeFalse)

	// Valid input later does not re-enable the bake on this converter.
	test.That(t, conv.LoadColorData(colorFrame(16, 8), intrinsicsFor(16, 8)), test.ShouldBeTrue)
	colorMap, positionMap := newMaps(t, 16, 8)
	test.That(t, conv.UpdateAttributeMaps(context.Background(), colorMap, positionMap), test.ShouldBeFalse)
	test.That(t, baker.calls, test.ShouldBeEmpty)
	test.That(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len(), test.ShouldEqual, 1)

	// A fresh converter starts unconfigured again.
	fresh := NewDepthConverter(baker, metrics.New(), logger)
	test.That(t, fresh.LoadColorData(colorFrame(16, 8), intrinsicsFor(16, 8)), test.ShouldBeTrue)
	test.That(t, fresh.LoadPointData(pointFrame(16), intrinsicsFor(4, 4)), test.ShouldBeTrue)
	test.That(t, fresh.UpdateAttributeMaps(context.Background(), colorMap, positionMap), test.ShouldBeTrue)
	test.That(t, multierr.Combine(conv.Close(), fresh.Close()), test.ShouldBeNil)
}

func TestEndToEnd(t *testing.T) {
	m := metrics.New()
	baker := &recordingBaker{}
	conv := NewDepthConverter(baker, m, logging.NewTestLogger(t))

	colorIn := intrinsicsFor(640, 480)
	depthIn := intrinsicsFor(80, 60)
	test.That(t, conv.LoadColorData(colorFrame(640, 480), colorIn), test.ShouldBeTrue)
	test.That(t, conv.LoadPointData(pointFrame(4800), depthIn), test.ShouldBeTrue)
	conv.SetAdjustments(Adjustments{DepthThreshold: 10, Brightness: 0, Saturation: 1})

	colorMap, positionMap := newMaps(t, 640, 480)
	test.That(t, conv.UpdateAttributeMaps(context.Background(), colorMap, positionMap), test.ShouldBeTrue)

	test.That(t, len(baker.calls), test.ShouldEqual, 1)
	call := baker.calls[0]
	test.That(t, call.ThreadGroups, test.ShouldResemble, [3]int{80, 60, 1})
	test.That(t, call.MapDimensions, test.ShouldResemble, [2]int{640, 480})
	test.That(t, call.DepthDimensions, test.ShouldResemble, [2]int{80, 60})
	test.That(t, call.ColorIntrinsics, test.ShouldResemble, colorIn.Vector())
	test.That(t, call.DepthIntrinsics, test.ShouldResemble, depthIn.Vector())
	test.That(t, call.DepthThreshold, test.ShouldEqual, float32(10))
	test.That(t, call.Brightness, test.ShouldEqual, float32(0))
	test.That(t, call.Saturation, test.ShouldEqual, float32(1))
	test.That(t, call.ColorBuffer.Count(), test.ShouldEqual, 640*480)
	test.That(t, call.PositionBuffer.Count(), test.ShouldEqual, 3*4800)
	test.That(t, call.RemapBuffer.Count(), test.ShouldEqual, 2*4800)
	test.That(t, call.ColorMap, test.ShouldNotEqual, colorMap)

	// Both outputs received the full staging contents.
	test.That(t, allBytes(colorMap.Pixels, colorFill), test.ShouldBeTrue)
	test.That(t, allBytes(positionMap.Pixels, positionFill), test.ShouldBeTrue)
	test.That(t, testutil.ToFloat64(m.Bakes), test.ShouldEqual, 1.0)

	// Same dimensions: the staging maps are reused.
	staging := conv.tempColorMap
	test.That(t, conv.UpdateAttributeMaps(context.Background(), colorMap, positionMap), test.ShouldBeTrue)
	test.That(t, conv.tempColorMap, test.ShouldEqual, staging)
	test.That(t, conv.Close(), test.ShouldBeNil)
	test.That(t, staging.Released(), test.ShouldBeTrue)
}

func TestBakeFailureLeavesMaps(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	baker := &recordingBaker{err: errors.New("device lost")}
	conv := NewDepthConverter(baker, metrics.New(), logger)
	test.That(t, conv.LoadColorData(colorFrame(16, 8), intrinsicsFor(16, 8)), test.ShouldBeTrue)
	test.That(t, conv.LoadPointData(pointFrame(16), intrinsicsFor(4, 4)), test.ShouldBeTrue)

	colorMap, positionMap := newMaps(t, 16, 8)
	test.That(t, conv.UpdateAttributeMaps(context.Background(), colorMap, positionMap), test.ShouldBeFalse)
	test.That(t, conv.Inconsistent(), test.ShouldBeFalse)
	test.That(t, allBytes(colorMap.Pixels, 0), test.ShouldBeTrue)
	test.That(t, logs.FilterMessageSnippet("bake failed").Len(), test.ShouldEqual, 1)
	test.That(t, conv.Close(), test.ShouldBeNil)
}

func TestSoftwareBakeThroughConverter(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cam := fake.NewDepthCamera()
	in := intrinsicsFor(64, 48)
	color := fake.NewVideoFrame(0, 64, 48, fake.GradientImage(64, 48, 0), in, nil)
	depth := fake.NewVideoFrame(0, 64, 48, fake.PlaneDepthImage(64, 48, cam.PlaneDepth), in, nil)
	block := fake.NewPointCloudBlock()
	block.MapTexture(color)
	points, err := block.Process(depth)
	test.That(t, err, test.ShouldBeNil)

	conv := NewDepthConverter(software.NewBaker(logger), metrics.New(), logger)
	test.That(t, conv.LoadColorData(color, in), test.ShouldBeTrue)
	test.That(t, conv.LoadPointData(points, in), test.ShouldBeTrue)
	colorMap, positionMap := newMaps(t, 64, 48)
	test.That(t, conv.UpdateAttributeMaps(context.Background(), colorMap, positionMap), test.ShouldBeTrue)

	// Every texel sees the plane, so positions are present and colors are opaque.
	center := positionMap.Half4At(32, 24)
	test.That(t, center[2], test.ShouldAlmostEqual, fake.DefaultPlaneDepth+0.25, 1e-2)
	test.That(t, center[3], test.ShouldEqual, float32(1))
	test.That(t, colorMap.RGBAAt(10, 10).A, test.ShouldEqual, uint8(255))
	test.That(t, colorMap.RGBAAt(10, 10).R, test.ShouldEqual, color.Data()[(10*64+10)*4])

	conv.SetAdjustments(Adjustments{DepthThreshold: 1, Brightness: 0, Saturation: 1})
	test.That(t, conv.UpdateAttributeMaps(context.Background(), colorMap, positionMap), test.ShouldBeTrue)
	test.That(t, positionMap.Half4At(32, 24), test.ShouldResemble, [4]float32{})
	test.That(t, conv.Close(), test.ShouldBeNil)
}

func TestAdjustmentsClamped(t *testing.T) {
	conv := NewDepthConverter(&recordingBaker{}, metrics.New(), logging.NewTestLogger(t))
	test.That(t, conv.Adjustments(), test.ShouldResemble, DefaultAdjustments())

	conv.SetAdjustments(Adjustments{DepthThreshold: -1, Brightness: 1.5, Saturation: -0.25})
	test.That(t, conv.Adjustments(), test.ShouldResemble, Adjustments{DepthThreshold: 0, Brightness: 1, Saturation: 0})

	conv.SetAdjustments(Adjustments{DepthThreshold: 4, Brightness: 0.25, Saturation: 0.5})
	test.That(t, conv.Adjustments(), test.ShouldResemble, Adjustments{DepthThreshold: 4, Brightness: 0.25, Saturation: 0.5})
}
