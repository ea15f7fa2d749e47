package model

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
)

// GPUVertexSource is the canonical WGSL definition of the Vertex struct.
// Matches GPUVertex layout exactly (32 bytes, std430 aligned).
//
//go:embed assets/vertex.wgsl
var GPUVertexSource string

// GPUVertex is the GPU-aligned representation of a single mesh vertex.
// Normal and tangent are packed as snorm8x4; the tangent's w holds the bitangent sign.
// Size: 32 bytes.
type GPUVertex struct {
	Position [3]float32 // offset  0
	Normal   uint32     // offset 12
	TexCoord [2]float32 // offset 16
	Tangent  uint32     // offset 24
	Color    uint32     // offset 28: unorm8x4 RGBA
}

// Size returns the size of the GPUVertex struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUVertex) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUVertex struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 32-byte buffer ready for GPU upload.
func (g *GPUVertex) Marshal() []byte {
	buf := make([]byte, 32)
	putFloats(buf[0:12], g.Position[:])
	binary.LittleEndian.PutUint32(buf[12:16], g.Normal)
	putFloats(buf[16:24], g.TexCoord[:])
	binary.LittleEndian.PutUint32(buf[24:28], g.Tangent)
	binary.LittleEndian.PutUint32(buf[28:32], g.Color)
	return buf
}

// PackColor packs a linear RGBA color in [0, 1] as unorm8x4, red in the lowest byte.
func PackColor(c mgl32.Vec4) uint32 {
	var out uint32
	for i := 0; i < 4; i++ {
		v := mgl32.Clamp(c[i], 0, 1)
		out |= uint32(math.Round(float64(v)*255)) << (8 * i)
	}
	return out
}

// GPUMeshletSource is the canonical WGSL definition of the Meshlet struct.
//
//go:embed assets/meshlet.wgsl
var GPUMeshletSource string

// GPUMeshlet describes one cluster of at most MaxMeshletVertices vertices and MaxMeshletTriangles triangles.
// VertexOffset indexes the meshlet vertex-index buffer; IndicesOffset indexes the byte-sized local-index buffer.
// Size: 16 bytes.
type GPUMeshlet struct {
	VertexOffset  uint32
	IndicesOffset uint32
	VertexCount   uint32
	TriangleCount uint32
}

// Size returns the size of the GPUMeshlet struct in bytes.
func (g *GPUMeshlet) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUMeshlet struct into a byte buffer suitable for GPU upload.
func (g *GPUMeshlet) Marshal() []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], g.VertexOffset)
	binary.LittleEndian.PutUint32(buf[4:8], g.IndicesOffset)
	binary.LittleEndian.PutUint32(buf[8:12], g.VertexCount)
	binary.LittleEndian.PutUint32(buf[12:16], g.TriangleCount)
	return buf
}

// PaddedIndexBytes returns the local-index bytes the meshlet occupies, rounded up to a multiple of 4.
func (g *GPUMeshlet) PaddedIndexBytes() uint32 {
	return (g.TriangleCount*3 + 3) &^ 3
}

// GPUMeshletInfoSource is the canonical WGSL definition of the MeshletInfo struct.
//
//go:embed assets/meshlet_info.wgsl
var GPUMeshletInfoSource string

// GPUMeshletInfo holds the model-space bounding box of a meshlet.
// Size: 32 bytes (vec3 members are 16-byte aligned).
type GPUMeshletInfo struct {
	Min [3]float32
	_   float32
	Max [3]float32
	_   float32
}

// Size returns the size of the GPUMeshletInfo struct in bytes.
func (g *GPUMeshletInfo) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUMeshletInfo struct into a byte buffer suitable for GPU upload.
func (g *GPUMeshletInfo) Marshal() []byte {
	buf := make([]byte, 32)
	putFloats(buf[0:12], g.Min[:])
	putFloats(buf[16:28], g.Max[:])
	return buf
}

// GPUMeshSource is the canonical WGSL definition of the Mesh struct.
//
//go:embed assets/mesh.wgsl
var GPUMeshSource string

// GPUMesh ties a material to a contiguous meshlet range and a contiguous instance range.
// Each GPUMesh has exactly one GPUDrawElementsCmd at the same index.
// Size: 48 bytes.
type GPUMesh struct {
	MaterialIndex uint32
	MeshletOffset uint32
	MeshletCount  uint32
	InstanceCount uint32
	BaseInstance  uint32
	BaseVertex    uint32
	EmissiveBias  float32
	SpecularBias  float32
	RoughnessBias float32
	_             [3]uint32
}

// Size returns the size of the GPUMesh struct in bytes.
func (g *GPUMesh) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUMesh struct into a byte buffer suitable for GPU upload.
func (g *GPUMesh) Marshal() []byte {
	buf := make([]byte, 48)
	binary.LittleEndian.PutUint32(buf[0:4], g.MaterialIndex)
	binary.LittleEndian.PutUint32(buf[4:8], g.MeshletOffset)
	binary.LittleEndian.PutUint32(buf[8:12], g.MeshletCount)
	binary.LittleEndian.PutUint32(buf[12:16], g.InstanceCount)
	binary.LittleEndian.PutUint32(buf[16:20], g.BaseInstance)
	binary.LittleEndian.PutUint32(buf[20:24], g.BaseVertex)
	binary.LittleEndian.PutUint32(buf[24:28], math.Float32bits(g.EmissiveBias))
	binary.LittleEndian.PutUint32(buf[28:32], math.Float32bits(g.SpecularBias))
	binary.LittleEndian.PutUint32(buf[32:36], math.Float32bits(g.RoughnessBias))
	return buf
}

// GPUMeshInstanceSource is the canonical WGSL definition of the MeshInstance struct.
//
//go:embed assets/mesh_instance.wgsl
var GPUMeshInstanceSource string

// GPUMeshInstance is one placement of a mesh in the world.
// PrevModel is only written by SnapshotPrev, so DidMove compares two explicit snapshots.
// Size: 208 bytes.
type GPUMeshInstance struct {
	Model     [16]float32
	InvModel  [16]float32
	PrevModel [16]float32
	MeshIndex uint32
	_         [3]uint32
}

// NewGPUMeshInstance creates an instance whose previous matrix equals its current one.
//
// Parameters:
//   - model: the model-to-world matrix
//   - meshIndex: index of the GPUMesh this instance belongs to
//
// Returns:
//   - GPUMeshInstance: the initialized instance
func NewGPUMeshInstance(model mgl32.Mat4, meshIndex uint32) GPUMeshInstance {
	inst := GPUMeshInstance{MeshIndex: meshIndex}
	inst.SetModel(model)
	inst.SnapshotPrev()
	return inst
}

// SetModel replaces the model matrix and refreshes its cached inverse. PrevModel is left untouched.
func (g *GPUMeshInstance) SetModel(m mgl32.Mat4) {
	g.Model = m
	g.InvModel = m.Inv()
}

// ModelMatrix returns the current model matrix.
func (g *GPUMeshInstance) ModelMatrix() mgl32.Mat4 {
	return mgl32.Mat4(g.Model)
}

// SnapshotPrev records the current model matrix as the previous-frame matrix.
func (g *GPUMeshInstance) SnapshotPrev() {
	g.PrevModel = g.Model
}

// DidMove reports whether the model matrix changed since the last SnapshotPrev.
func (g *GPUMeshInstance) DidMove() bool {
	return !mgl32.Mat4(g.Model).ApproxEqualThreshold(mgl32.Mat4(g.PrevModel), 1e-6)
}

// Size returns the size of the GPUMeshInstance struct in bytes.
func (g *GPUMeshInstance) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUMeshInstance struct into a byte buffer suitable for GPU upload.
func (g *GPUMeshInstance) Marshal() []byte {
	buf := make([]byte, 208)
	putFloats(buf[0:64], g.Model[:])
	putFloats(buf[64:128], g.InvModel[:])
	putFloats(buf[128:192], g.PrevModel[:])
	binary.LittleEndian.PutUint32(buf[192:196], g.MeshIndex)
	return buf
}

// GPUDrawElementsCmdSource is the canonical WGSL definition of the DrawElementsCmd struct.
//
//go:embed assets/draw_elements_cmd.wgsl
var GPUDrawElementsCmdSource string

// GPUDrawElementsCmd matches the indexed-indirect draw argument layout.
// Size: 20 bytes.
type GPUDrawElementsCmd struct {
	Count         uint32
	InstanceCount uint32
	FirstIndex    uint32
	BaseVertex    int32
	BaseInstance  uint32
}

// Size returns the size of the GPUDrawElementsCmd struct in bytes.
func (g *GPUDrawElementsCmd) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUDrawElementsCmd struct into a byte buffer suitable for GPU upload.
func (g *GPUDrawElementsCmd) Marshal() []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint32(buf[0:4], g.Count)
	binary.LittleEndian.PutUint32(buf[4:8], g.InstanceCount)
	binary.LittleEndian.PutUint32(buf[8:12], g.FirstIndex)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(g.BaseVertex))
	binary.LittleEndian.PutUint32(buf[16:20], g.BaseInstance)
	return buf
}

// MarshalAll concatenates the Marshal output of every element, for bulk buffer uploads.
func MarshalAll[T any, P interface {
	*T
	Marshal() []byte
}](items []T) []byte {
	var out []byte
	for i := range items {
		out = append(out, P(&items[i]).Marshal()...)
	}
	return out
}

func putFloats(buf []byte, values []float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(v))
	}
}
