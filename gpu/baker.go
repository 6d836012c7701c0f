package gpu

import (
	"context"

	"github.com/pkg/errors"
)

// ThreadGroupSize is the width and height of one compute thread group.
const ThreadGroupSize = 8

// BakeParams is everything one dispatch binds.
type BakeParams struct {
	MapDimensions   [2]int
	DepthDimensions [2]int

	// Intrinsics packed as (ppx, ppy, fx, fy).
	ColorIntrinsics [4]float32
	DepthIntrinsics [4]float32

	DepthThreshold float32
	Brightness     float32
	Saturation     float32

	ColorBuffer    *Buffer
	PositionBuffer *Buffer
	RemapBuffer    *Buffer

	ColorMap    *Texture
	PositionMap *Texture

	ThreadGroups [3]int
}

// ThreadGroupsFor returns the dispatch size covering a width x height map.
func ThreadGroupsFor(width, height int) [3]int {
	return [3]int{width / ThreadGroupSize, height / ThreadGroupSize, 1}
}

// Validate checks that the bound resources agree with each other.
func (p *BakeParams) Validate() error {
	if p == nil {
		return errors.New("nil bake parameters")
	}
	w, h := p.MapDimensions[0], p.MapDimensions[1]
	if w <= 0 || h <= 0 {
		return errors.Errorf("invalid map dimensions %dx%d", w, h)
	}
	if p.ColorBuffer == nil || p.PositionBuffer == nil || p.RemapBuffer == nil {
		return errors.New("all three buffers must be bound")
	}
	if p.ColorMap == nil || p.PositionMap == nil {
		return errors.New("both maps must be bound")
	}
	if p.ColorBuffer.Count() < w*h {
		return errors.Errorf("color buffer holds %d texels, map needs %d", p.ColorBuffer.Count(), w*h)
	}
	if p.PositionBuffer.Count()/3 != p.RemapBuffer.Count()/2 {
		return errors.Errorf("position buffer (%d floats) and remap buffer (%d floats) disagree on point count",
			p.PositionBuffer.Count(), p.RemapBuffer.Count())
	}
	for _, tex := range []*Texture{p.ColorMap, p.PositionMap} {
		if tex.Width != w || tex.Height != h {
			return errors.Errorf("texture is %dx%d, map is %dx%d", tex.Width, tex.Height, w, h)
		}
	}
	if p.ThreadGroups[0]*ThreadGroupSize > w || p.ThreadGroups[1]*ThreadGroupSize > h || p.ThreadGroups[2] != 1 {
		return errors.Errorf("thread groups %v exceed map %dx%d", p.ThreadGroups, w, h)
	}
	return nil
}

// Baker runs the bake kernel: it fills ColorMap and PositionMap from the bound buffers.
type Baker interface {
	Bake(ctx context.Context, params *BakeParams) error
}

// BakerFunc adapts a function to a Baker.
type BakerFunc func(ctx context.Context, params *BakeParams) error

// Bake calls f.
func (f BakerFunc) Bake(ctx context.Context, params *BakeParams) error {
	return f(ctx, params)
}
