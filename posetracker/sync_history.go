package posetracker

import (
	"sync"

	"github.com/rsvfx/rsfuse/spatialmath"
)

// SyncHistory is a History shared between the tracker goroutine and the tick. The lock is held
// only for the queue operation itself.
type SyncHistory struct {
	mu      sync.Mutex
	history *History
}

// NewSyncHistory returns an empty shared history.
func NewSyncHistory(capacity int) *SyncHistory {
	return &SyncHistory{history: NewHistory(capacity)}
}

// Enqueue appends a sample.
func (sh *SyncHistory) Enqueue(sample spatialmath.PoseSample) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.history.Enqueue(sample)
}

// DequeueNearest pops the sample nearest to ref. See History.DequeueNearest.
func (sh *SyncHistory) DequeueNearest(ref float64) (spatialmath.PoseSample, bool) {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.history.DequeueNearest(ref)
}

// Len returns the number of queued samples.
func (sh *SyncHistory) Len() int {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.history.Len()
}

// Capacity returns the maximum number of queued samples.
func (sh *SyncHistory) Capacity() int {
	return sh.history.Capacity()
}

// Samples returns a copy of the queued samples.
func (sh *SyncHistory) Samples() []spatialmath.PoseSample {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.history.Samples()
}

// Reset drops every sample.
func (sh *SyncHistory) Reset() {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.history.Reset()
}
