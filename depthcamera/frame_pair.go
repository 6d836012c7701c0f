// Package depthcamera acquires color and point cloud pairs from a depth camera and hands the
// latest one to the tick through a single-slot mailbox.
package depthcamera

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/rsvfx/rsfuse/realsense"
	"github.com/rsvfx/rsfuse/rimage/transform"
)

// FramePair is a color frame and the point cloud computed alongside it. It is reference counted:
// the creator holds the first reference, Retain adds one and Release drops one. The frames are
// released when the last reference goes.
type FramePair struct {
	Color           realsense.VideoFrame
	Points          realsense.Points
	ColorIntrinsics transform.Intrinsics
	DepthIntrinsics transform.Intrinsics
	Timestamp       float64

	refs atomic.Int32
}

// NewFramePair takes ownership of color and points, either of which may be nil. The timestamp is
// the color frame's, or the point cloud's when there is no color.
func NewFramePair(
	color realsense.VideoFrame,
	points realsense.Points,
	colorIn, depthIn transform.Intrinsics,
) *FramePair {
	pair := &FramePair{
		Color:           color,
		Points:          points,
		ColorIntrinsics: colorIn,
		DepthIntrinsics: depthIn,
	}
	switch {
	case color != nil:
		pair.Timestamp = color.Timestamp()
	case points != nil:
		pair.Timestamp = points.Timestamp()
	}
	pair.refs.Store(1)
	return pair
}

// Complete reports whether both halves are present.
func (p *FramePair) Complete() bool {
	return p != nil && p.Color != nil && p.Points != nil
}

// Retain adds a reference and returns p.
func (p *FramePair) Retain() *FramePair {
	if p.refs.Inc() <= 1 {
		panic(fmt.Sprintf("retain of released frame pair at %.4f", p.Timestamp))
	}
	return p
}

// Release drops a reference. The last one releases each present frame exactly once.
func (p *FramePair) Release() {
	if p == nil {
		return
	}
	switch n := p.refs.Dec(); {
	case n > 0:
		return
	case n < 0:
		panic(fmt.Sprintf("frame pair at %.4f released too many times", p.Timestamp))
	}
	if p.Color != nil {
		p.Color.Release()
	}
	if p.Points != nil {
		p.Points.Release()
	}
}

// Refs returns the current reference count.
func (p *FramePair) Refs() int {
	return int(p.refs.Load())
}
