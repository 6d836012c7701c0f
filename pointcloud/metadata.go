package pointcloud

import (
	"math"

	"github.com/golang/geo/r3"
)

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64

	// Valid counts points with a positive depth.
	Valid int
}

// NewMetaData makes new MetaData with bounds that any point will widen.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new point. Points at zero depth carry no measurement and
// are skipped.
func (meta *MetaData) Merge(v r3.Vector) {
	if v.Z <= 0 {
		return
	}
	meta.Valid++

	if v.X > meta.MaxX {
		meta.MaxX = v.X
	}
	if v.Y > meta.MaxY {
		meta.MaxY = v.Y
	}
	if v.Z > meta.MaxZ {
		meta.MaxZ = v.Z
	}

	if v.X < meta.MinX {
		meta.MinX = v.X
	}
	if v.Y < meta.MinY {
		meta.MinY = v.Y
	}
	if v.Z < meta.MinZ {
		meta.MinZ = v.Z
	}
}

// MetaDataFromVertices computes the bounds of packed xyz vertices. A trailing partial vertex is
// ignored.
func MetaDataFromVertices(vertices []float32) MetaData {
	meta := NewMetaData()
	for i := 0; i+2 < len(vertices); i += 3 {
		meta.Merge(r3.Vector{
			X: float64(vertices[i]),
			Y: float64(vertices[i+1]),
			Z: float64(vertices[i+2]),
		})
	}
	return meta
}
