package common

import (
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}

// AABB is an axis-aligned bounding box. An empty box has Min > Max on every axis.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// EmptyAABB returns a box that any call to Extend will replace.
func EmptyAABB() AABB {
	inf := float32(math.Inf(1))
	return AABB{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

// IsEmpty reports whether no point has been added to the box.
func (b AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Extend grows the box to contain p.
func (b *AABB) Extend(p mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] {
			b.Min[i] = p[i]
		}
		if p[i] > b.Max[i] {
			b.Max[i] = p[i]
		}
	}
}

// Union returns the smallest box containing both b and o.
func (b AABB) Union(o AABB) AABB {
	if o.IsEmpty() {
		return b
	}
	out := b
	out.Extend(o.Min)
	out.Extend(o.Max)
	return out
}

// Contains reports whether p lies inside the box, boundary included.
func (b AABB) Contains(p mgl32.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] || p[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Compact3x4 packs the upper three rows of an affine column-major matrix into a row-major 3x4 layout.
// The bottom row of an affine matrix is always (0, 0, 0, 1) so it is dropped, saving 16 bytes per matrix
// in instance buffers.
//
// Parameters:
//   - m: the affine matrix to compact
//
// Returns:
//   - [12]float32: rows 0..2 of m, each as 4 consecutive floats
func Compact3x4(m mgl32.Mat4) [12]float32 {
	var out [12]float32
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			out[row*4+col] = m.At(row, col)
		}
	}
	return out
}

// Expand3x4 is the inverse of Compact3x4.
func Expand3x4(c [12]float32) mgl32.Mat4 {
	m := mgl32.Ident4()
	for row := 0; row < 3; row++ {
		for col := 0; col < 4; col++ {
			m.Set(row, col, c[row*4+col])
		}
	}
	return m
}

// PackSnorm8x4 packs four values in [-1, 1] into one uint32, x in the lowest byte.
// Values outside the range are clamped.
//
// Parameters:
//   - v: the four components to pack
//
// Returns:
//   - uint32: the packed value
func PackSnorm8x4(v mgl32.Vec4) uint32 {
	var out uint32
	for i := 0; i < 4; i++ {
		c := mgl32.Clamp(v[i], -1, 1)
		q := int8(math.Round(float64(c) * 127))
		out |= uint32(uint8(q)) << (8 * i)
	}
	return out
}

// UnpackSnorm8x4 reverses PackSnorm8x4 up to quantization error.
func UnpackSnorm8x4(p uint32) mgl32.Vec4 {
	var v mgl32.Vec4
	for i := 0; i < 4; i++ {
		q := int8(uint8(p >> (8 * i)))
		v[i] = mgl32.Clamp(float32(q)/127, -1, 1)
	}
	return v
}
