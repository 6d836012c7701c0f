package gpu

import (
	"encoding/binary"
	"fmt"
	"image"
	"image/color"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// TextureFormat is the texel layout of a Texture.
type TextureFormat int

const (
	// FormatUnknown is the zero value and never valid for a render target.
	FormatUnknown TextureFormat = iota
	// FormatARGB32 stores four 8 bit channels, laid out R, G, B, A in memory.
	FormatARGB32
	// FormatARGBHalf stores four 16 bit half floats, laid out x, y, z, w in memory.
	FormatARGBHalf
)

func (f TextureFormat) String() string {
	switch f {
	case FormatUnknown:
		return "Unknown"
	case FormatARGB32:
		return "ARGB32"
	case FormatARGBHalf:
		return "ARGBHalf"
	}
	return fmt.Sprintf("TextureFormat(%d)", int(f))
}

// BytesPerTexel returns the texel size of the format.
func (f TextureFormat) BytesPerTexel() int {
	switch f {
	case FormatARGB32:
		return 4
	case FormatARGBHalf:
		return 8
	case FormatUnknown:
	}
	return 0
}

// Texture is a 2D render target with random write access.
type Texture struct {
	Width  int
	Height int
	Format TextureFormat
	Pixels []byte
}

// NewTexture allocates a zeroed texture.
func NewTexture(width, height int, format TextureFormat) (*Texture, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("texture dimensions must be positive, got %dx%d", width, height)
	}
	bpt := format.BytesPerTexel()
	if bpt == 0 {
		return nil, errors.Errorf("unsupported texture format %s", format)
	}
	return &Texture{
		Width:  width,
		Height: height,
		Format: format,
		Pixels: make([]byte, width*height*bpt),
	}, nil
}

// Released reports whether Release was called.
func (t *Texture) Released() bool {
	return t != nil && t.Pixels == nil
}

// Release frees the texel storage.
func (t *Texture) Release() error {
	if t == nil {
		return nil
	}
	if t.Released() {
		return ErrReleased
	}
	t.Pixels = nil
	return nil
}

func (t *Texture) offset(x, y int) int {
	return (y*t.Width + x) * t.Format.BytesPerTexel()
}

// SetRGBA writes one ARGB32 texel.
func (t *Texture) SetRGBA(x, y int, c color.RGBA) {
	i := t.offset(x, y)
	t.Pixels[i] = c.R
	t.Pixels[i+1] = c.G
	t.Pixels[i+2] = c.B
	t.Pixels[i+3] = c.A
}

// RGBAAt reads one ARGB32 texel.
func (t *Texture) RGBAAt(x, y int) color.RGBA {
	i := t.offset(x, y)
	return color.RGBA{R: t.Pixels[i], G: t.Pixels[i+1], B: t.Pixels[i+2], A: t.Pixels[i+3]}
}

// SetHalf4 writes one ARGBHalf texel.
func (t *Texture) SetHalf4(x, y int, v [4]float32) {
	i := t.offset(x, y)
	for c := 0; c < 4; c++ {
		binary.LittleEndian.PutUint16(t.Pixels[i+2*c:], float16.Fromfloat32(v[c]).Bits())
	}
}

// Half4At reads one ARGBHalf texel.
func (t *Texture) Half4At(x, y int) [4]float32 {
	i := t.offset(x, y)
	var v [4]float32
	for c := 0; c < 4; c++ {
		v[c] = float16.Frombits(binary.LittleEndian.Uint16(t.Pixels[i+2*c:])).Float32()
	}
	return v
}

// Image returns an ARGB32 texture as an image sharing its pixels.
func (t *Texture) Image() (*image.RGBA, error) {
	if t.Format != FormatARGB32 {
		return nil, errors.Errorf("cannot view %s texture as an RGBA image", t.Format)
	}
	if t.Released() {
		return nil, ErrReleased
	}
	return &image.RGBA{Pix: t.Pixels, Stride: t.Width * 4, Rect: image.Rect(0, 0, t.Width, t.Height)}, nil
}

// CopyTexture copies src into dst. Dimensions and formats must match.
func CopyTexture(src, dst *Texture) error {
	if src == nil || dst == nil {
		return errors.New("cannot copy to or from a nil texture")
	}
	if src.Released() || dst.Released() {
		return ErrReleased
	}
	if src.Width != dst.Width || src.Height != dst.Height {
		return errors.Errorf("texture dimensions differ: %dx%d to %dx%d", src.Width, src.Height, dst.Width, dst.Height)
	}
	if src.Format != dst.Format {
		return errors.Errorf("texture formats differ: %s to %s", src.Format, dst.Format)
	}
	copy(dst.Pixels, src.Pixels)
	return nil
}
