// Package transform holds camera intrinsics and the pixel/point projections built on them.
package transform

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// ErrNoIntrinsics is when a camera does not have intrinsics parameters or other parameters.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// NewNoIntrinsicsError is used when the intriniscs are not defined.
func NewNoIntrinsicsError(msg string) error {
	return errors.Wrap(ErrNoIntrinsics, msg)
}

// Intrinsics holds the pinhole parameters of one sensor stream, in pixels.
type Intrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
}

// CheckValid checks if the fields for Intrinsics have valid inputs.
func (params *Intrinsics) CheckValid() error {
	if params == nil {
		return NewNoIntrinsicsError("Intrinsics do not exist")
	}
	if params.Width == 0 || params.Height == 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid size (%#v, %#v)", params.Width, params.Height))
	}
	if params.Fx <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fx = %#v", params.Fx))
	}
	if params.Fy <= 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid focal length Fy = %#v", params.Fy))
	}
	if params.Ppx < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal X point Ppx = %#v", params.Ppx))
	}
	if params.Ppy < 0 {
		return NewNoIntrinsicsError(fmt.Sprintf("Invalid principal Y point Ppy = %#v", params.Ppy))
	}
	return nil
}

// Vector packs the parameters the way the bake stage binds them: (ppx, ppy, fx, fy).
func (params Intrinsics) Vector() [4]float32 {
	return [4]float32{float32(params.Ppx), float32(params.Ppy), float32(params.Fx), float32(params.Fy)}
}

// PixelToPoint transforms a pixel with depth to a 3D point.
func (params *Intrinsics) PixelToPoint(x, y, z float64) r3.Vector {
	if params == nil || params.Fx == 0 || params.Fy == 0 {
		return r3.Vector{}
	}
	return r3.Vector{
		X: (x - params.Ppx) / params.Fx * z,
		Y: (y - params.Ppy) / params.Fy * z,
		Z: z,
	}
}

// PointToPixel projects a 3D point to a pixel in an image plane. A point with zero depth returns
// negative coordinates so that bounds checks filter it out.
func (params *Intrinsics) PointToPixel(pt r3.Vector) (float64, float64) {
	if pt.Z != 0. {
		xPx := math.Round((pt.X/pt.Z)*params.Fx + params.Ppx)
		yPx := math.Round((pt.Y/pt.Z)*params.Fy + params.Ppy)
		return xPx, yPx
	}
	return -1.0, -1.0
}
