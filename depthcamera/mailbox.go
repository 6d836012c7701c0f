package depthcamera

import "sync"

// Mailbox holds the most recent FramePair. A Store replaces the occupant; a Snapshot retains it
// so a concurrent Store cannot release frames a reader is still using.
type Mailbox struct {
	mu       sync.Mutex
	pair     *FramePair
	consumed bool
	closed   bool
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Store installs pair, taking over the caller's reference. The previous occupant's reference is
// dropped outside the lock. Store reports whether that occupant was never snapshotted.
func (mb *Mailbox) Store(pair *FramePair) (superseded bool) {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		pair.Release()
		return false
	}
	prev, prevConsumed := mb.pair, mb.consumed
	mb.pair = pair
	mb.consumed = false
	mb.mu.Unlock()

	if prev == nil {
		return false
	}
	prev.Release()
	return !prevConsumed
}

// Snapshot retains and returns the current pair. The caller must Release it.
func (mb *Mailbox) Snapshot() (*FramePair, bool) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.pair == nil {
		return nil, false
	}
	mb.consumed = true
	return mb.pair.Retain(), true
}

// Close drops the held pair. Later Stores release their argument immediately.
func (mb *Mailbox) Close() {
	mb.mu.Lock()
	prev := mb.pair
	mb.pair = nil
	mb.closed = true
	mb.mu.Unlock()
	prev.Release()
}
