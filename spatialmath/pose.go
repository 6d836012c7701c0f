// Package spatialmath holds the pose types shared between the tracker and the render consumer.
package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// PoseSample is a single 6-DoF reading from the tracking camera, already in the consumer's axis
// convention. Timestamp is in seconds on the sensor's monotonic clock.
type PoseSample struct {
	Timestamp float64
	Position  r3.Vector
	Rotation  quat.Number

	// Confidence is the tracker confidence reported alongside the sample, 0 (failed) to 3 (high).
	Confidence int
}

// NewPoseSample builds a sample with rot scaled to unit length. The zero quaternion becomes the
// identity.
func NewPoseSample(ts float64, pos r3.Vector, rot quat.Number) PoseSample {
	return PoseSample{Timestamp: ts, Position: pos, Rotation: Normalize(rot)}
}

// FromDeviceConvention converts a position and an (x, y, z, w) rotation reported by the tracking
// camera into the consumer's convention: Z of the translation is mirrored, X and Y of the
// rotation's vector part are negated.
func FromDeviceConvention(ts float64, pos [3]float32, rot [4]float32) PoseSample {
	return NewPoseSample(
		ts,
		r3.Vector{
			X: float64(pos[0]),
			Y: float64(pos[1]),
			Z: -float64(pos[2]),
		},
		quat.Number{
			Real: float64(rot[3]),
			Imag: -float64(rot[0]),
			Jmag: -float64(rot[1]),
			Kmag: float64(rot[2]),
		},
	)
}

func (p PoseSample) String() string {
	return fmt.Sprintf("t=%.4f pos=(%.3f, %.3f, %.3f) rot=(%.3f, %.3f, %.3f, %.3f)",
		p.Timestamp, p.Position.X, p.Position.Y, p.Position.Z,
		p.Rotation.Imag, p.Rotation.Jmag, p.Rotation.Kmag, p.Rotation.Real)
}
