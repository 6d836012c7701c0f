// Package posetracker acquires poses from a tracking camera and keeps a short window of them for
// timestamp matching against depth frames.
package posetracker

import (
	"math"

	"github.com/rsvfx/rsfuse/spatialmath"
)

// DefaultHistoryCapacity is the number of pose samples kept when no capacity is configured.
const DefaultHistoryCapacity = 30

// History is a bounded FIFO of pose samples in arrival order. It is not safe for concurrent use;
// see SyncHistory.
type History struct {
	capacity int
	samples  []spatialmath.PoseSample
}

// NewHistory returns an empty history. A non-positive capacity selects DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		capacity: capacity,
		samples:  make([]spatialmath.PoseSample, 0, capacity+1),
	}
}

// Enqueue appends sample and evicts the oldest samples beyond capacity.
func (h *History) Enqueue(sample spatialmath.PoseSample) {
	h.samples = append(h.samples, sample)
	if over := len(h.samples) - h.capacity; over > 0 {
		h.drop(over)
	}
}

// DequeueNearest scans from the oldest sample, popping while the distance to ref does not grow.
// The first sample whose distance grows stops the scan and stays queued along with everything
// after it. Ties keep popping, so the later of two equidistant samples wins. Samples arrive in
// timestamp order, so the last popped sample is the closest one and the remainder may still
// match a later reference.
func (h *History) DequeueNearest(ref float64) (spatialmath.PoseSample, bool) {
	var best spatialmath.PoseSample
	minDist := math.Inf(1)
	popped := 0
	for _, sample := range h.samples {
		dist := math.Abs(sample.Timestamp - ref)
		if dist > minDist {
			break
		}
		minDist = dist
		best = sample
		popped++
	}
	if popped == 0 {
		return spatialmath.PoseSample{}, false
	}
	h.drop(popped)
	return best, true
}

// Len returns the number of queued samples.
func (h *History) Len() int {
	return len(h.samples)
}

// Capacity returns the maximum number of queued samples.
func (h *History) Capacity() int {
	return h.capacity
}

// Samples returns a copy of the queued samples, oldest first.
func (h *History) Samples() []spatialmath.PoseSample {
	out := make([]spatialmath.PoseSample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Reset drops every sample.
func (h *History) Reset() {
	h.samples = h.samples[:0]
}

func (h *History) drop(n int) {
	kept := copy(h.samples, h.samples[n:])
	h.samples = h.samples[:kept]
}
