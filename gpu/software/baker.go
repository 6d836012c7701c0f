// Package software is a CPU implementation of the bake kernel. It dispatches one goroutine per
// 8x8 thread group, bounded by the number of CPUs.
package software

import (
	"context"
	"image/color"
	"math"
	"runtime"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rsvfx/rsfuse/gpu"
	"github.com/rsvfx/rsfuse/logging"
)

// Baker bakes on the CPU.
type Baker struct {
	logger  logging.Logger
	workers int
}

// NewBaker returns a baker using up to runtime.NumCPU goroutines.
func NewBaker(logger logging.Logger) *Baker {
	return &Baker{logger: logger, workers: runtime.NumCPU()}
}

// Bake fills params.ColorMap and params.PositionMap.
//
// For every texel of the map the kernel casts the color camera ray through it, finds the depth
// pixel on that ray and reads that pixel's point. A point closer than DepthThreshold (and in front
// of the camera) writes its position with w=1, and the color texel it remaps to, with full alpha.
// Texels without such a point get a zero position and their own color with zero alpha. Colors are
// adjusted by Brightness (lift towards white) and Saturation (scale of HSV saturation).
func (b *Baker) Bake(ctx context.Context, params *gpu.BakeParams) error {
	ctx, span := trace.StartSpan(ctx, "software::Baker::Bake")
	defer span.End()

	if err := params.Validate(); err != nil {
		return errors.Wrap(err, "invalid bake parameters")
	}

	k := newKernel(params)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for gy := 0; gy < params.ThreadGroups[1]; gy++ {
		for gx := 0; gx < params.ThreadGroups[0]; gx++ {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				k.group(gx, gy)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	b.logger.Debugw("baked", "groups", params.ThreadGroups, "points", k.pointCount)
	return nil
}

type kernel struct {
	p          *gpu.BakeParams
	width      int
	height     int
	colorIn    [4]float64
	depthIn    [4]float64
	pointCount int
	adjust     bool
}

func newKernel(p *gpu.BakeParams) *kernel {
	k := &kernel{
		p:          p,
		width:      p.MapDimensions[0],
		height:     p.MapDimensions[1],
		pointCount: p.PositionBuffer.Count() / 3,
		adjust:     p.Brightness != 0 || p.Saturation != 1,
	}
	for i := 0; i < 4; i++ {
		k.colorIn[i] = float64(p.ColorIntrinsics[i])
		k.depthIn[i] = float64(p.DepthIntrinsics[i])
	}
	return k
}

func (k *kernel) group(gx, gy int) {
	for ty := 0; ty < gpu.ThreadGroupSize; ty++ {
		for tx := 0; tx < gpu.ThreadGroupSize; tx++ {
			k.texel(gx*gpu.ThreadGroupSize+tx, gy*gpu.ThreadGroupSize+ty)
		}
	}
}

func (k *kernel) texel(x, y int) {
	idx, ok := k.depthIndex(x, y)
	if ok {
		px := k.p.PositionBuffer.Float32At(idx * 3)
		py := k.p.PositionBuffer.Float32At(idx*3 + 1)
		pz := k.p.PositionBuffer.Float32At(idx*3 + 2)
		if pz > 0 && pz <= k.p.DepthThreshold {
			u := k.p.RemapBuffer.Float32At(idx * 2)
			v := k.p.RemapBuffer.Float32At(idx*2 + 1)
			sx := clampIndex(int(float64(u)*float64(k.width)), k.width)
			sy := clampIndex(int(float64(v)*float64(k.height)), k.height)
			k.p.PositionMap.SetHalf4(x, y, [4]float32{px, py, pz, 1})
			k.p.ColorMap.SetRGBA(x, y, k.sample(sx, sy, 255))
			return
		}
	}
	k.p.PositionMap.SetHalf4(x, y, [4]float32{})
	k.p.ColorMap.SetRGBA(x, y, k.sample(x, y, 0))
}

// depthIndex maps a color texel to the index of the depth pixel on the same ray.
func (k *kernel) depthIndex(x, y int) (int, bool) {
	dw, dh := k.p.DepthDimensions[0], k.p.DepthDimensions[1]
	if dw <= 0 || dh <= 0 || k.colorIn[2] == 0 || k.colorIn[3] == 0 {
		return 0, false
	}
	rx := (float64(x) - k.colorIn[0]) / k.colorIn[2]
	ry := (float64(y) - k.colorIn[1]) / k.colorIn[3]
	dx := int(math.Round(rx*k.depthIn[2] + k.depthIn[0]))
	dy := int(math.Round(ry*k.depthIn[3] + k.depthIn[1]))
	if dx < 0 || dx >= dw || dy < 0 || dy >= dh {
		return 0, false
	}
	idx := dy*dw + dx
	if idx >= k.pointCount {
		return 0, false
	}
	return idx, true
}

func (k *kernel) sample(x, y int, alpha uint8) color.RGBA {
	src := k.p.ColorBuffer.Bytes()[(y*k.width+x)*4:]
	r, g, b := src[0], src[1], src[2]
	if k.adjust {
		r, g, b = adjustColor(r, g, b, float64(k.p.Brightness), float64(k.p.Saturation))
	}
	return color.RGBA{R: r, G: g, B: b, A: alpha}
}

func adjustColor(r, g, b uint8, brightness, saturation float64) (uint8, uint8, uint8) {
	cc := colorful.Color{
		R: float64(r) / 255.0,
		G: float64(g) / 255.0,
		B: float64(b) / 255.0,
	}
	h, s, v := cc.Hsv()
	return colorful.Hsv(h, s*saturation, v+(1-v)*brightness).Clamped().RGB255()
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
