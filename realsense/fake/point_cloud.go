package fake

import (
	"encoding/binary"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"

	"github.com/rsvfx/rsfuse/pointcloud"
	"github.com/rsvfx/rsfuse/realsense"
	"github.com/rsvfx/rsfuse/rimage/transform"
)

// depthUnits converts Z16 values to meters.
const depthUnits = 0.001

// PointCloudBlock deprojects Z16 depth frames into points and maps each point onto the texel
// center it projects to in the last mapped texture, assuming an identity extrinsic.
type PointCloudBlock struct {
	Ledger

	mu      sync.Mutex
	texture *transform.Intrinsics
	closed  bool
}

// NewPointCloudBlock returns an open block.
func NewPointCloudBlock() *PointCloudBlock {
	return &PointCloudBlock{}
}

// MapTexture records the intrinsics of frame for texture coordinate generation.
func (pcb *PointCloudBlock) MapTexture(frame realsense.VideoFrame) {
	if frame == nil {
		return
	}
	in := frame.Intrinsics()
	pcb.mu.Lock()
	pcb.texture = &in
	pcb.mu.Unlock()
}

// Process computes one point per depth pixel. Pixels without depth produce a point at the
// origin, as the SDK does.
func (pcb *PointCloudBlock) Process(depth realsense.VideoFrame) (realsense.Points, error) {
	pcb.mu.Lock()
	closed, texture := pcb.closed, pcb.texture
	pcb.mu.Unlock()
	if closed {
		return nil, errors.New("point cloud block is closed")
	}
	if depth == nil {
		return nil, errors.New("no depth frame to process")
	}

	width, height := depth.Width(), depth.Height()
	data := depth.Data()
	if len(data) < width*height*2 {
		return nil, errors.Errorf("depth data has %d bytes, need %d", len(data), width*height*2)
	}
	depthIn := depth.Intrinsics()

	pts := pointcloud.NewPoints(width * height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			z := float64(binary.LittleEndian.Uint16(data[i*2:])) * depthUnits
			if z == 0 {
				continue
			}
			pos := depthIn.PixelToPoint(float64(x), float64(y), z)
			var uv r2.Point
			if texture != nil {
				u, v := texture.PointToPixel(pos)
				uv = r2.Point{X: (u + 0.5) / float64(texture.Width), Y: (v + 0.5) / float64(texture.Height)}
			}
			if err := pts.Set(i, pos, uv); err != nil {
				return nil, err
			}
		}
	}
	return NewPoints(depth.Timestamp(), pts, &pcb.Ledger), nil
}

// Close closes the block. Further Process calls fail.
func (pcb *PointCloudBlock) Close() error {
	pcb.mu.Lock()
	defer pcb.mu.Unlock()
	pcb.closed = true
	return nil
}
