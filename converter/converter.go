// Package converter packs raw sensor buffers into the color and position attribute maps consumed
// by the renderer.
package converter

import (
	"context"

	"github.com/docker/go-units"
	"go.uber.org/multierr"

	"github.com/rsvfx/rsfuse/gpu"
	"github.com/rsvfx/rsfuse/logging"
	"github.com/rsvfx/rsfuse/metrics"
	"github.com/rsvfx/rsfuse/realsense"
	"github.com/rsvfx/rsfuse/rimage/transform"
	"github.com/rsvfx/rsfuse/utils"
)

const (
	colorStride = 4
	floatStride = 4
)

// DepthConverter owns the staging buffers and textures of the bake. It is driven from a single
// goroutine: load, bake and copy are serialized by the caller.
type DepthConverter struct {
	baker   gpu.Baker
	metrics *metrics.Metrics
	logger  logging.Logger

	colorBuffer    *gpu.Buffer
	positionBuffer *gpu.Buffer
	remapBuffer    *gpu.Buffer

	tempColorMap    *gpu.Texture
	tempPositionMap *gpu.Texture

	dimensions      [2]int
	colorIntrinsics transform.Intrinsics
	depthIntrinsics transform.Intrinsics

	adjustments  Adjustments
	inconsistent bool
}

// NewDepthConverter returns a converter with default adjustments and no data loaded.
func NewDepthConverter(baker gpu.Baker, m *metrics.Metrics, logger logging.Logger) *DepthConverter {
	return &DepthConverter{
		baker:       baker,
		metrics:     m,
		logger:      logger,
		adjustments: DefaultAdjustments(),
	}
}

// SetAdjustments replaces the bake parameters, clamped to their valid ranges.
func (c *DepthConverter) SetAdjustments(adj Adjustments) {
	c.adjustments = adj.Clamped()
}

// Adjustments returns the current bake parameters.
func (c *DepthConverter) Adjustments() Adjustments {
	return c.adjustments
}

// Dimensions returns the size of the last loaded color frame.
func (c *DepthConverter) Dimensions() (int, int) {
	return c.dimensions[0], c.dimensions[1]
}

// Ready reports whether color and point data have both been loaded.
func (c *DepthConverter) Ready() bool {
	return c.colorBuffer != nil && c.positionBuffer != nil && c.remapBuffer != nil
}

// Inconsistent reports whether a configuration mismatch has disabled the bake.
func (c *DepthConverter) Inconsistent() bool {
	return c.inconsistent
}

// LoadColorData copies an RGBA8 frame into the color buffer. Frames that are nil, empty or too
// short for their size leave the converter untouched. It reports whether data was loaded.
func (c *DepthConverter) LoadColorData(frame realsense.VideoFrame, in transform.Intrinsics) bool {
	if frame == nil {
		return false
	}
	data := frame.Data()
	width, height := frame.Width(), frame.Height()
	if len(data) == 0 || width <= 0 || height <= 0 {
		return false
	}
	size := width * height
	if len(data) < size*colorStride {
		c.logger.Warnw("color frame too short for its size",
			"width", width, "height", height, "bytes", len(data))
		return false
	}

	var err error
	if c.colorBuffer, err = c.resized("color", c.colorBuffer, size, colorStride); err != nil {
		c.logger.Errorw("cannot allocate color buffer", "error", err)
		return false
	}
	if err = c.colorBuffer.SetBytes(data, size); err != nil {
		c.logger.Errorw("color upload failed", "error", err)
		return false
	}

	c.dimensions = [2]int{width, height}
	c.colorIntrinsics = in
	return true
}

// LoadPointData copies vertices and texture coordinates into the position and remap buffers.
// Point sets that are nil, empty or missing either array leave the converter untouched. It
// reports whether data was loaded.
func (c *DepthConverter) LoadPointData(points realsense.Points, in transform.Intrinsics) bool {
	if points == nil {
		return false
	}
	count := points.Count()
	vertices, texCoords := points.Vertices(), points.TextureCoordinates()
	if count <= 0 || len(vertices) == 0 || len(texCoords) == 0 {
		return false
	}
	if len(vertices) < 3*count || len(texCoords) < 2*count {
		c.logger.Warnw("point data too short for its count",
			"count", count, "vertices", len(vertices), "texcoords", len(texCoords))
		return false
	}

	var err error
	if c.positionBuffer, err = c.resized("position", c.positionBuffer, 3*count, floatStride); err != nil {
		c.logger.Errorw("cannot allocate position buffer", "error", err)
		return false
	}
	if c.remapBuffer, err = c.resized("remap", c.remapBuffer, 2*count, floatStride); err != nil {
		c.logger.Errorw("cannot allocate remap buffer", "error", err)
		return false
	}

	if err = multierr.Combine(
		c.positionBuffer.SetFloat32s(vertices[:3*count]),
		c.remapBuffer.SetFloat32s(texCoords[:2*count]),
	); err != nil {
		c.logger.Errorw("point upload failed", "error", err)
		return false
	}

	c.depthIntrinsics = in
	return true
}

// UpdateAttributeMaps bakes the loaded data and copies the result into colorMap and positionMap.
// Nothing happens until both maps are given and color and point data are loaded, or after a
// consistency check has failed. It reports whether the maps were updated.
func (c *DepthConverter) UpdateAttributeMaps(ctx context.Context, colorMap, positionMap *gpu.Texture) bool {
	if colorMap == nil || positionMap == nil || !c.Ready() {
		return false
	}
	if !c.checkConsistency(colorMap, positionMap) {
		return false
	}
	if err := c.prepareTempMaps(); err != nil {
		c.logger.Errorw("cannot allocate staging maps", "error", err)
		return false
	}

	width, height := c.dimensions[0], c.dimensions[1]
	params := &gpu.BakeParams{
		MapDimensions:   c.dimensions,
		DepthDimensions: [2]int{c.depthIntrinsics.Width, c.depthIntrinsics.Height},
		ColorIntrinsics: c.colorIntrinsics.Vector(),
		DepthIntrinsics: c.depthIntrinsics.Vector(),
		DepthThreshold:  c.adjustments.DepthThreshold,
		Brightness:      c.adjustments.Brightness,
		Saturation:      c.adjustments.Saturation,
		ColorBuffer:     c.colorBuffer,
		PositionBuffer:  c.positionBuffer,
		RemapBuffer:     c.remapBuffer,
		ColorMap:        c.tempColorMap,
		PositionMap:     c.tempPositionMap,
		ThreadGroups:    gpu.ThreadGroupsFor(width, height),
	}
	if err := c.baker.Bake(ctx, params); err != nil {
		c.logger.Warnw("bake failed", "error", err)
		return false
	}

	if err := multierr.Combine(
		gpu.CopyTexture(c.tempColorMap, colorMap),
		gpu.CopyTexture(c.tempPositionMap, positionMap),
	); err != nil {
		c.logger.Errorw("cannot copy attribute maps", "error", err)
		return false
	}
	c.metrics.Bakes.Inc()
	return true
}

// checkConsistency logs every mismatch between the input and the output maps the first time it
// sees any, then keeps reporting failure without logging again.
func (c *DepthConverter) checkConsistency(colorMap, positionMap *gpu.Texture) bool {
	if c.inconsistent {
		return false
	}
	width, height := c.dimensions[0], c.dimensions[1]

	if !utils.IsMultipleOf(width, gpu.ThreadGroupSize) || !utils.IsMultipleOf(height, gpu.ThreadGroupSize) {
		c.logger.Errorw("color input dimensions should be a multiple of 8", "width", width, "height", height)
		c.inconsistent = true
	}
	if colorMap.Width != width || colorMap.Height != height {
		c.logger.Errorw("color map dimensions don't match with the input",
			"map", [2]int{colorMap.Width, colorMap.Height}, "input", c.dimensions)
		c.inconsistent = true
	}
	if positionMap.Width != width || positionMap.Height != height {
		c.logger.Errorw("position map dimensions don't match with the input",
			"map", [2]int{positionMap.Width, positionMap.Height}, "input", c.dimensions)
		c.inconsistent = true
	}
	if colorMap.Format != gpu.FormatARGB32 {
		c.logger.Errorw("color map format should be ARGB32", "format", colorMap.Format.String())
		c.inconsistent = true
	}
	if positionMap.Format != gpu.FormatARGBHalf {
		c.logger.Errorw("position map format should be ARGBHalf", "format", positionMap.Format.String())
		c.inconsistent = true
	}
	return !c.inconsistent
}

func (c *DepthConverter) prepareTempMaps() error {
	width, height := c.dimensions[0], c.dimensions[1]
	var err error
	c.tempColorMap, err = resizedTexture(c.tempColorMap, width, height, gpu.FormatARGB32)
	if err != nil {
		return err
	}
	c.tempPositionMap, err = resizedTexture(c.tempPositionMap, width, height, gpu.FormatARGBHalf)
	return err
}

// Close releases the staging buffers and textures.
func (c *DepthConverter) Close() error {
	err := multierr.Combine(
		c.colorBuffer.Release(),
		c.positionBuffer.Release(),
		c.remapBuffer.Release(),
		c.tempColorMap.Release(),
		c.tempPositionMap.Release(),
	)
	c.colorBuffer, c.positionBuffer, c.remapBuffer = nil, nil, nil
	c.tempColorMap, c.tempPositionMap = nil, nil
	return err
}

// resized returns buf if it already holds count elements, otherwise releases it and allocates a
// replacement.
func (c *DepthConverter) resized(name string, buf *gpu.Buffer, count, stride int) (*gpu.Buffer, error) {
	if buf != nil && buf.Count() == count && buf.Stride() == stride {
		return buf, nil
	}
	if err := buf.Release(); err != nil {
		return nil, err
	}
	c.logger.Debugw("allocating buffer", "buffer", name, "count", count,
		"size", units.BytesSize(float64(count*stride)))
	return gpu.NewBuffer(count, stride)
}

func resizedTexture(tex *gpu.Texture, width, height int, format gpu.TextureFormat) (*gpu.Texture, error) {
	if tex != nil && tex.Width == width && tex.Height == height {
		return tex, nil
	}
	if err := tex.Release(); err != nil {
		return nil, err
	}
	return gpu.NewTexture(width, height, format)
}
