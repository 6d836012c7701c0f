package spatialmath

import (
	"sync"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// Transform is the target a tracked pose is applied to. The render consumer reads it from its own
// goroutine, so all access goes through the mutex.
type Transform struct {
	mu        sync.RWMutex
	position  r3.Vector
	rotation  quat.Number
	timestamp float64
	updates   int
}

// NewTransform returns a transform at the origin with identity rotation.
func NewTransform() *Transform {
	return &Transform{rotation: quat.Number{Real: 1}}
}

// Apply sets the position and rotation from the given sample.
func (t *Transform) Apply(sample PoseSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.position = sample.Position
	t.rotation = sample.Rotation
	t.timestamp = sample.Timestamp
	t.updates++
}

// Pose returns the current position and rotation.
func (t *Transform) Pose() (r3.Vector, quat.Number) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position, t.rotation
}

// Sample returns the current pose as a PoseSample together with the number of times it was set.
func (t *Transform) Sample() (PoseSample, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return PoseSample{Timestamp: t.timestamp, Position: t.position, Rotation: t.rotation}, t.updates
}
