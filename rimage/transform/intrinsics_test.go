package transform

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestIntrinsicsCheckValid(t *testing.T) {
	var nilIntrinsics *Intrinsics
	err := nilIntrinsics.CheckValid()
	test.That(t, errors.Is(err, ErrNoIntrinsics), test.ShouldBeTrue)

	in := &Intrinsics{Width: 640, Height: 480, Ppx: 320, Ppy: 240, Fx: 600, Fy: 600}
	test.That(t, in.CheckValid(), test.ShouldBeNil)

	in.Fy = 0
	err = in.CheckValid()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Fy")

	in = &Intrinsics{Width: 0, Height: 480, Fx: 1, Fy: 1}
	test.That(t, in.CheckValid().Error(), test.ShouldContainSubstring, "Invalid size")
}

func TestIntrinsicsVector(t *testing.T) {
	in := Intrinsics{Width: 640, Height: 480, Ppx: 321.5, Ppy: 239.25, Fx: 615, Fy: 616}
	v := in.Vector()
	test.That(t, v, test.ShouldResemble, [4]float32{321.5, 239.25, 615, 616})
}

func TestProjection(t *testing.T) {
	in := &Intrinsics{Width: 640, Height: 480, Ppx: 320, Ppy: 240, Fx: 500, Fy: 500}
	pt := in.PixelToPoint(420, 140, 2)
	test.That(t, pt.X, test.ShouldAlmostEqual, 0.4)
	test.That(t, pt.Y, test.ShouldAlmostEqual, -0.4)
	test.That(t, pt.Z, test.ShouldEqual, 2.0)

	x, y := in.PointToPixel(pt)
	test.That(t, x, test.ShouldEqual, 420.0)
	test.That(t, y, test.ShouldEqual, 140.0)

	x, y = in.PointToPixel(r3.Vector{X: 1, Y: 1})
	test.That(t, x, test.ShouldEqual, -1.0)
	test.That(t, y, test.ShouldEqual, -1.0)
}
