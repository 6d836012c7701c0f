// Package fake implements synthetic RealSense devices: a depth+color camera producing a moving
// gradient over a tilted plane and a tracking camera orbiting a circle.
package fake

import (
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/rsvfx/rsfuse/pointcloud"
	"github.com/rsvfx/rsfuse/realsense"
	"github.com/rsvfx/rsfuse/rimage/transform"
)

// Ledger counts frames handed out and released, so tests can assert nothing leaked.
type Ledger struct {
	created  atomic.Int64
	released atomic.Int64
}

// Outstanding returns the number of frames created through the ledger and not yet released.
func (l *Ledger) Outstanding() int64 {
	return l.created.Load() - l.released.Load()
}

// Created returns the number of frames created through the ledger.
func (l *Ledger) Created() int64 {
	return l.created.Load()
}

type frame struct {
	ts       float64
	releases atomic.Int32
	ledger   *Ledger
}

func newFrame(ts float64, ledger *Ledger) frame {
	if ledger != nil {
		ledger.created.Inc()
	}
	return frame{ts: ts, ledger: ledger}
}

func (f *frame) Timestamp() float64 {
	return f.ts
}

// Release marks the frame released. Only the first call reaches the ledger.
func (f *frame) Release() {
	if f.releases.Inc() == 1 && f.ledger != nil {
		f.ledger.released.Inc()
	}
}

// Releases returns how many times Release was called.
func (f *frame) Releases() int {
	return int(f.releases.Load())
}

// VideoFrame is an in-memory image frame.
type VideoFrame struct {
	frame
	width, height int
	data          []byte
	intrinsics    transform.Intrinsics
}

// NewVideoFrame returns a frame over data. The ledger may be nil.
func NewVideoFrame(ts float64, width, height int, data []byte, in transform.Intrinsics, ledger *Ledger) *VideoFrame {
	return &VideoFrame{
		frame:      newFrame(ts, ledger),
		width:      width,
		height:     height,
		data:       data,
		intrinsics: in,
	}
}

// Width returns the width in pixels.
func (vf *VideoFrame) Width() int { return vf.width }

// Height returns the height in pixels.
func (vf *VideoFrame) Height() int { return vf.height }

// Data returns the raw pixel bytes.
func (vf *VideoFrame) Data() []byte { return vf.data }

// Intrinsics returns the stream intrinsics.
func (vf *VideoFrame) Intrinsics() transform.Intrinsics { return vf.intrinsics }

// Points is a point cloud frame backed by a pointcloud.Points buffer.
type Points struct {
	frame
	*pointcloud.Points
}

// NewPoints wraps pts as a frame.
func NewPoints(ts float64, pts *pointcloud.Points, ledger *Ledger) *Points {
	return &Points{frame: newFrame(ts, ledger), Points: pts}
}

// PoseFrame is a single pose sample frame.
type PoseFrame struct {
	frame
	data realsense.PoseData
}

// NewPoseFrame returns a pose frame carrying data.
func NewPoseFrame(ts float64, data realsense.PoseData, ledger *Ledger) *PoseFrame {
	return &PoseFrame{frame: newFrame(ts, ledger), data: data}
}

// PoseData returns the raw pose record.
func (pf *PoseFrame) PoseData() realsense.PoseData { return pf.data }

// FrameSet is a composite of optional color, depth and pose frames. Frames taken out of it
// through the accessors become the caller's; frames never taken are released with the set.
type FrameSet struct {
	frame
	Color *VideoFrame
	Depth *VideoFrame
	Pose  *PoseFrame

	colorTaken, depthTaken, poseTaken atomic.Bool
}

// NewFrameSet bundles frames. Any of them may be nil.
func NewFrameSet(ts float64, color, depth *VideoFrame, pose *PoseFrame, ledger *Ledger) *FrameSet {
	return &FrameSet{frame: newFrame(ts, ledger), Color: color, Depth: depth, Pose: pose}
}

// ColorFrame returns the color frame.
func (fs *FrameSet) ColorFrame() (realsense.VideoFrame, error) {
	if fs.Color == nil {
		return nil, errors.Wrap(realsense.ErrFrameNotFound, "color")
	}
	fs.colorTaken.Store(true)
	return fs.Color, nil
}

// DepthFrame returns the depth frame.
func (fs *FrameSet) DepthFrame() (realsense.VideoFrame, error) {
	if fs.Depth == nil {
		return nil, errors.Wrap(realsense.ErrFrameNotFound, "depth")
	}
	fs.depthTaken.Store(true)
	return fs.Depth, nil
}

// PoseFrame returns the pose frame.
func (fs *FrameSet) PoseFrame() (realsense.PoseFrame, error) {
	if fs.Pose == nil {
		return nil, errors.Wrap(realsense.ErrFrameNotFound, "pose")
	}
	fs.poseTaken.Store(true)
	return fs.Pose, nil
}

// Release releases the set and every member nobody took.
func (fs *FrameSet) Release() {
	if fs.Color != nil && !fs.colorTaken.Load() {
		fs.Color.Release()
	}
	if fs.Depth != nil && !fs.depthTaken.Load() {
		fs.Depth.Release()
	}
	if fs.Pose != nil && !fs.poseTaken.Load() {
		fs.Pose.Release()
	}
	fs.frame.Release()
}
