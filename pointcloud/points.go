// Package pointcloud provides a dense, index-addressed point buffer in the layout the depth
// sensor produces: one xyz vertex and one uv texture coordinate per depth pixel.
package pointcloud

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
)

// Points is an owned point buffer. Vertices are packed as x0,y0,z0,x1,... and texture
// coordinates as u0,v0,u1,....
type Points struct {
	vertices  []float32
	texCoords []float32
}

// NewPoints returns a buffer of count zeroed points.
func NewPoints(count int) *Points {
	if count < 0 {
		count = 0
	}
	return &Points{
		vertices:  make([]float32, 3*count),
		texCoords: make([]float32, 2*count),
	}
}

// NewPointsFromSlices wraps existing packed slices. Both must describe the same number of points.
func NewPointsFromSlices(vertices, texCoords []float32) (*Points, error) {
	if len(vertices)%3 != 0 {
		return nil, errors.Errorf("vertex data length %d is not a multiple of 3", len(vertices))
	}
	if len(texCoords)%2 != 0 {
		return nil, errors.Errorf("texture coordinate length %d is not a multiple of 2", len(texCoords))
	}
	if len(vertices)/3 != len(texCoords)/2 {
		return nil, errors.Errorf("vertex count %d does not match texture coordinate count %d",
			len(vertices)/3, len(texCoords)/2)
	}
	return &Points{vertices: vertices, texCoords: texCoords}, nil
}

// Count returns the number of points.
func (p *Points) Count() int {
	if p == nil {
		return 0
	}
	return len(p.vertices) / 3
}

// Vertices returns the packed xyz data. The slice is shared, not copied.
func (p *Points) Vertices() []float32 {
	if p == nil {
		return nil
	}
	return p.vertices
}

// TextureCoordinates returns the packed uv data. The slice is shared, not copied.
func (p *Points) TextureCoordinates() []float32 {
	if p == nil {
		return nil
	}
	return p.texCoords
}

// Set writes point i.
func (p *Points) Set(i int, pos r3.Vector, uv r2.Point) error {
	if i < 0 || i >= p.Count() {
		return errors.Errorf("point index %d out of range [0, %d)", i, p.Count())
	}
	p.vertices[3*i] = float32(pos.X)
	p.vertices[3*i+1] = float32(pos.Y)
	p.vertices[3*i+2] = float32(pos.Z)
	p.texCoords[2*i] = float32(uv.X)
	p.texCoords[2*i+1] = float32(uv.Y)
	return nil
}

// At returns point i.
func (p *Points) At(i int) (r3.Vector, r2.Point, bool) {
	if i < 0 || i >= p.Count() {
		return r3.Vector{}, r2.Point{}, false
	}
	pos := r3.Vector{
		X: float64(p.vertices[3*i]),
		Y: float64(p.vertices[3*i+1]),
		Z: float64(p.vertices[3*i+2]),
	}
	uv := r2.Point{X: float64(p.texCoords[2*i]), Y: float64(p.texCoords[2*i+1])}
	return pos, uv, true
}
