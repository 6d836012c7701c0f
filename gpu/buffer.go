// Package gpu models the compute stage the converter drives: structured buffers, render
// textures and a Baker that fills the textures from the buffers.
package gpu

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// ErrReleased is returned when touching a buffer or texture after Release.
var ErrReleased = errors.New("resource already released")

// Buffer is a structured buffer of count elements, each stride bytes wide.
type Buffer struct {
	count  int
	stride int
	data   []byte
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(count, stride int) (*Buffer, error) {
	if count <= 0 {
		return nil, errors.Errorf("buffer count must be positive, got %d", count)
	}
	if stride <= 0 {
		return nil, errors.Errorf("buffer stride must be positive, got %d", stride)
	}
	return &Buffer{count: count, stride: stride, data: make([]byte, count*stride)}, nil
}

// Count returns the number of elements.
func (b *Buffer) Count() int {
	if b == nil {
		return 0
	}
	return b.count
}

// Stride returns the element size in bytes.
func (b *Buffer) Stride() int {
	if b == nil {
		return 0
	}
	return b.stride
}

// Bytes returns the backing store.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	return b.data
}

// Released reports whether Release was called.
func (b *Buffer) Released() bool {
	return b != nil && b.data == nil
}

// SetBytes uploads the first count elements from src. src must hold at least count*stride bytes.
func (b *Buffer) SetBytes(src []byte, count int) error {
	if b.Released() {
		return ErrReleased
	}
	if count < 0 || count > b.count {
		return errors.Errorf("upload of %d elements exceeds buffer of %d", count, b.count)
	}
	need := count * b.stride
	if len(src) < need {
		return errors.Errorf("upload source has %d bytes, need %d", len(src), need)
	}
	copy(b.data, src[:need])
	return nil
}

// SetFloat32s uploads src into a buffer of 4 byte elements.
func (b *Buffer) SetFloat32s(src []float32) error {
	if b.Released() {
		return ErrReleased
	}
	if b.stride != 4 {
		return errors.Errorf("float upload needs a stride of 4, buffer has %d", b.stride)
	}
	if len(src) > b.count {
		return errors.Errorf("upload of %d floats exceeds buffer of %d", len(src), b.count)
	}
	for i, f := range src {
		binary.LittleEndian.PutUint32(b.data[i*4:], math.Float32bits(f))
	}
	return nil
}

// Float32At reads element i of a 4 byte buffer as a float.
func (b *Buffer) Float32At(i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b.data[i*4:]))
}

// Release frees the backing store. Releasing twice is an error.
func (b *Buffer) Release() error {
	if b == nil {
		return nil
	}
	if b.Released() {
		return ErrReleased
	}
	b.data = nil
	return nil
}
