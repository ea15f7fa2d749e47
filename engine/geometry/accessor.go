package geometry

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
)

// componentSize returns the byte size of one component, or 0 for unknown encodings.
func componentSize(ct gltf.ComponentType) int {
	switch ct {
	case gltf.ComponentByte, gltf.ComponentUbyte:
		return 1
	case gltf.ComponentShort, gltf.ComponentUshort:
		return 2
	case gltf.ComponentUint, gltf.ComponentFloat:
		return 4
	default:
		return 0
	}
}

// componentCount returns the number of components of an accessor element.
func componentCount(t gltf.AccessorType) int {
	switch t {
	case gltf.AccessorScalar:
		return 1
	case gltf.AccessorVec2:
		return 2
	case gltf.AccessorVec3:
		return 3
	case gltf.AccessorVec4, gltf.AccessorMat2:
		return 4
	case gltf.AccessorMat3:
		return 9
	case gltf.AccessorMat4:
		return 16
	default:
		return 0
	}
}

const (
	// maxAccessorBytes bounds the decoded size of one accessor. Accessors without a buffer view are zero-filled
	// and have no buffer to be checked against.
	maxAccessorBytes = 1 << 30
	// maxByteStride is the largest vertex stride glTF allows.
	maxByteStride = 252
)

func accessorAt(doc *gltf.Document, index int) (*gltf.Accessor, error) {
	if doc == nil || index < 0 || index >= len(doc.Accessors) || doc.Accessors[index] == nil {
		return nil, fmt.Errorf("accessor %d: %w", index, ErrAccessorRange)
	}
	return doc.Accessors[index], nil
}

// ReadAccessorData returns the tightly packed bytes of an accessor, walking the buffer view's stride.
// Accessors without a buffer view read as zeros. Sparse accessors are rejected.
//
// Parameters:
//   - doc: the source document with loaded buffers
//   - index: the accessor index
//
// Returns:
//   - []byte: count * elementSize bytes
//   - error: UnsupportedFormatError for sparse or unknown encodings, ErrAccessorRange for out-of-bounds reads
func ReadAccessorData(doc *gltf.Document, index int) ([]byte, error) {
	acc, err := accessorAt(doc, index)
	if err != nil {
		return nil, err
	}

	if acc.Sparse != nil {
		return nil, &UnsupportedFormatError{Accessor: index, ComponentType: acc.ComponentType, Type: acc.Type, Reason: "sparse storage"}
	}

	elementSize := componentSize(acc.ComponentType) * componentCount(acc.Type)
	if elementSize == 0 {
		return nil, &UnsupportedFormatError{Accessor: index, ComponentType: acc.ComponentType, Type: acc.Type, Reason: "unknown encoding"}
	}

	if acc.Count < 0 || acc.ByteOffset < 0 || acc.Count > maxAccessorBytes/elementSize {
		return nil, fmt.Errorf("accessor %d count %d offset %d: %w", index, acc.Count, acc.ByteOffset, ErrAccessorRange)
	}
	if acc.BufferView == nil {
		return make([]byte, acc.Count*elementSize), nil
	}

	if *acc.BufferView < 0 || *acc.BufferView >= len(doc.BufferViews) || doc.BufferViews[*acc.BufferView] == nil {
		return nil, fmt.Errorf("accessor %d buffer view %d: %w", index, *acc.BufferView, ErrAccessorRange)
	}
	bv := doc.BufferViews[*acc.BufferView]
	if bv.Buffer < 0 || bv.Buffer >= len(doc.Buffers) || doc.Buffers[bv.Buffer] == nil {
		return nil, fmt.Errorf("accessor %d buffer %d: %w", index, bv.Buffer, ErrAccessorRange)
	}
	if bv.ByteOffset < 0 || bv.ByteStride < 0 || bv.ByteStride > maxByteStride {
		return nil, fmt.Errorf("accessor %d buffer view offset %d stride %d: %w", index, bv.ByteOffset, bv.ByteStride, ErrAccessorRange)
	}
	data := doc.Buffers[bv.Buffer].Data

	stride := elementSize
	if bv.ByteStride > 0 {
		stride = bv.ByteStride
	}

	base := bv.ByteOffset + acc.ByteOffset
	if acc.Count > 0 && base+(acc.Count-1)*stride+elementSize > len(data) {
		return nil, fmt.Errorf("accessor %d reads past buffer %d: %w", index, bv.Buffer, ErrAccessorRange)
	}

	result := make([]byte, acc.Count*elementSize)
	for i := 0; i < acc.Count; i++ {
		src := base + i*stride
		copy(result[i*elementSize:(i+1)*elementSize], data[src:src+elementSize])
	}

	return result, nil
}

// ReadFloats decodes an accessor into float32 components, count * components values in total.
// Float data is copied; integer data is dequantized when the accessor is normalized and converted as-is otherwise.
//
// Parameters:
//   - doc: the source document
//   - index: the accessor index
//   - want: the accessor types accepted for this attribute
//
// Returns:
//   - []float32: the decoded components
//   - int: components per element
//   - error: UnsupportedFormatError when the type or encoding is not accepted
func ReadFloats(doc *gltf.Document, index int, want ...gltf.AccessorType) ([]float32, int, error) {
	acc, err := accessorAt(doc, index)
	if err != nil {
		return nil, 0, err
	}
	if len(want) > 0 && !acceptsType(acc.Type, want) {
		return nil, 0, &UnsupportedFormatError{Accessor: index, ComponentType: acc.ComponentType, Type: acc.Type, Reason: "unexpected element type"}
	}
	if acc.ComponentType == gltf.ComponentUint {
		return nil, 0, &UnsupportedFormatError{Accessor: index, ComponentType: acc.ComponentType, Type: acc.Type, Reason: "32-bit integer vertex data"}
	}

	raw, err := ReadAccessorData(doc, index)
	if err != nil {
		return nil, 0, err
	}

	n := componentCount(acc.Type)
	size := componentSize(acc.ComponentType)
	out := make([]float32, len(raw)/size)
	for i := range out {
		b := raw[i*size : (i+1)*size]
		out[i] = decodeComponent(b, acc.ComponentType, acc.Normalized)
	}
	return out, n, nil
}

func acceptsType(t gltf.AccessorType, want []gltf.AccessorType) bool {
	for _, w := range want {
		if t == w {
			return true
		}
	}
	return false
}

// decodeComponent applies the glTF normalized-integer conversions.
func decodeComponent(b []byte, ct gltf.ComponentType, normalized bool) float32 {
	switch ct {
	case gltf.ComponentFloat:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case gltf.ComponentByte:
		v := float32(int8(b[0]))
		if normalized {
			return max(v/127, -1)
		}
		return v
	case gltf.ComponentUbyte:
		v := float32(b[0])
		if normalized {
			return v / 255
		}
		return v
	case gltf.ComponentShort:
		v := float32(int16(binary.LittleEndian.Uint16(b)))
		if normalized {
			return max(v/32767, -1)
		}
		return v
	case gltf.ComponentUshort:
		v := float32(binary.LittleEndian.Uint16(b))
		if normalized {
			return v / 65535
		}
		return v
	}
	return 0
}

// ReadVec2 reads a VEC2 attribute such as TEXCOORD_0.
func ReadVec2(doc *gltf.Document, index int) ([]mgl32.Vec2, error) {
	f, _, err := ReadFloats(doc, index, gltf.AccessorVec2)
	if err != nil {
		return nil, err
	}
	out := make([]mgl32.Vec2, len(f)/2)
	for i := range out {
		out[i] = mgl32.Vec2{f[i*2], f[i*2+1]}
	}
	return out, nil
}

// ReadVec3 reads a VEC3 attribute such as POSITION or NORMAL.
func ReadVec3(doc *gltf.Document, index int) ([]mgl32.Vec3, error) {
	f, _, err := ReadFloats(doc, index, gltf.AccessorVec3)
	if err != nil {
		return nil, err
	}
	out := make([]mgl32.Vec3, len(f)/3)
	for i := range out {
		out[i] = mgl32.Vec3{f[i*3], f[i*3+1], f[i*3+2]}
	}
	return out, nil
}

// ReadVec4 reads a VEC4 attribute. VEC3 input, allowed for COLOR_0, gets w = 1.
func ReadVec4(doc *gltf.Document, index int) ([]mgl32.Vec4, error) {
	f, n, err := ReadFloats(doc, index, gltf.AccessorVec3, gltf.AccessorVec4)
	if err != nil {
		return nil, err
	}
	out := make([]mgl32.Vec4, len(f)/n)
	for i := range out {
		v := mgl32.Vec4{0, 0, 0, 1}
		copy(v[:n], f[i*n:(i+1)*n])
		out[i] = v
	}
	return out, nil
}

// ReadMat4 reads a MAT4 accessor such as a skin's inverse bind matrices.
func ReadMat4(doc *gltf.Document, index int) ([]mgl32.Mat4, error) {
	f, _, err := ReadFloats(doc, index, gltf.AccessorMat4)
	if err != nil {
		return nil, err
	}
	out := make([]mgl32.Mat4, len(f)/16)
	for i := range out {
		copy(out[i][:], f[i*16:(i+1)*16])
	}
	return out, nil
}

// ReadIndices reads a SCALAR index accessor of unsigned byte, short or int components.
func ReadIndices(doc *gltf.Document, index int) ([]uint32, error) {
	acc, err := accessorAt(doc, index)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltf.AccessorScalar {
		return nil, &UnsupportedFormatError{Accessor: index, ComponentType: acc.ComponentType, Type: acc.Type, Reason: "index accessor is not SCALAR"}
	}
	switch acc.ComponentType {
	case gltf.ComponentUbyte, gltf.ComponentUshort, gltf.ComponentUint:
	default:
		return nil, &UnsupportedFormatError{Accessor: index, ComponentType: acc.ComponentType, Type: acc.Type, Reason: "index component is not unsigned"}
	}

	raw, err := ReadAccessorData(doc, index)
	if err != nil {
		return nil, err
	}
	return readUints(raw, acc.ComponentType), nil
}

// ReadJoints reads a VEC4 JOINTS_n accessor of unsigned byte or short components.
func ReadJoints(doc *gltf.Document, index int) ([][4]uint32, error) {
	acc, err := accessorAt(doc, index)
	if err != nil {
		return nil, err
	}
	if acc.Type != gltf.AccessorVec4 || (acc.ComponentType != gltf.ComponentUbyte && acc.ComponentType != gltf.ComponentUshort) {
		return nil, &UnsupportedFormatError{Accessor: index, ComponentType: acc.ComponentType, Type: acc.Type, Reason: "joints must be VEC4 of unsigned byte or short"}
	}

	raw, err := ReadAccessorData(doc, index)
	if err != nil {
		return nil, err
	}
	flat := readUints(raw, acc.ComponentType)
	out := make([][4]uint32, len(flat)/4)
	for i := range out {
		copy(out[i][:], flat[i*4:(i+1)*4])
	}
	return out, nil
}

func readUints(raw []byte, ct gltf.ComponentType) []uint32 {
	size := componentSize(ct)
	out := make([]uint32, len(raw)/size)
	for i := range out {
		b := raw[i*size : (i+1)*size]
		switch ct {
		case gltf.ComponentUbyte:
			out[i] = uint32(b[0])
		case gltf.ComponentUshort:
			out[i] = uint32(binary.LittleEndian.Uint16(b))
		default:
			out[i] = binary.LittleEndian.Uint32(b)
		}
	}
	return out
}
