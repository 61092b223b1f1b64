// Package texel packs and unpacks heightmap raster samples.
//
// A sample is stored in 4 bytes, matching the BGRA8 heightmap layout used by
// the terrain rasters:
//
//	[0] height high byte
//	[1] height low byte
//	[2] normal X (int8, two's complement)
//	[3] normal Y (int8, two's complement)
package texel

import (
	"errors"
	"fmt"
)

// Size is the encoded size of one texel in bytes.
const Size = 4

// MidHeight is the 16-bit fixed point value of height zero.
const MidHeight uint16 = 32768

// HeightScale is the world-space height of one fixed point step, before the
// per-tile vertical scale is applied.
const HeightScale = 1.0 / 128.0

// ErrShortBuffer is returned when a buffer is not a multiple of Size.
var ErrShortBuffer = errors.New("texel buffer length is not a multiple of texel size")

// Texel is one raster sample.
type Texel struct {
	Height  uint16
	NormalX int8
	NormalY int8
}

// SameHeight reports whether two texels carry bit-identical heights.
// Normals are ignored.
func (t Texel) SameHeight(other Texel) bool {
	return t.Height == other.Height
}

// WorldHeight converts the fixed point height to world units.
func (t Texel) WorldHeight(zScale float32) float32 {
	return float32(int32(t.Height)-int32(MidHeight)) * HeightScale * zScale
}

// Put encodes t into dst, which must hold at least Size bytes.
func (t Texel) Put(dst []byte) {
	dst[0] = byte(t.Height >> 8)
	dst[1] = byte(t.Height)
	dst[2] = byte(t.NormalX)
	dst[3] = byte(t.NormalY)
}

// Get decodes a texel from src, which must hold at least Size bytes.
func Get(src []byte) Texel {
	return Texel{
		Height:  uint16(src[0])<<8 | uint16(src[1]),
		NormalX: int8(src[2]),
		NormalY: int8(src[3]),
	}
}

// Encode packs a row of texels into a new flat buffer.
func Encode(row []Texel) []byte {
	buf := make([]byte, len(row)*Size)
	for i, t := range row {
		t.Put(buf[i*Size:])
	}
	return buf
}

// Decode unpacks a flat buffer into texels.
func Decode(buf []byte) ([]Texel, error) {
	if len(buf)%Size != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortBuffer, len(buf))
	}
	row := make([]Texel, len(buf)/Size)
	for i := range row {
		row[i] = Get(buf[i*Size:])
	}
	return row, nil
}

// Heights extracts the height channel of a flat buffer without allocating
// texels. Trailing partial samples are ignored.
func Heights(buf []byte) []uint16 {
	n := len(buf) / Size
	out := make([]uint16, n)
	for i := range n {
		out[i] = uint16(buf[i*Size])<<8 | uint16(buf[i*Size+1])
	}
	return out
}

// EncodeNormal quantizes a unit normal component to a signed byte.
func EncodeNormal(v float32) int8 {
	if v > 1 {
		v = 1
	}
	if v < -1 {
		v = -1
	}
	scaled := v * 127
	if scaled >= 0 {
		return int8(scaled + 0.5)
	}
	return int8(scaled - 0.5)
}

// DecodeNormal expands a signed byte normal component to [-1, 1].
func DecodeNormal(v int8) float32 {
	return float32(v) / 127
}
