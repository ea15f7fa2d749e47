package material

import (
	_ "embed"
	"encoding/binary"
	"math"
	"unsafe"
)

// GPUMaterialSource is the canonical WGSL definition of the Material struct.
// Matches GPUMaterial layout exactly (112 bytes, std430 aligned).
//
//go:embed assets/material.wgsl
var GPUMaterialSource string

// Alpha modes as stored in GPUMaterial.AlphaMode.
const (
	AlphaOpaque uint32 = iota
	AlphaMask
	AlphaBlend
)

// GPUMaterial is the GPU-aligned record of one material.
// Textures holds one bindless handle per TextureType; slots without a source texture hold a fallback handle and
// have their bit cleared in Flags.
// Size: 112 bytes.
type GPUMaterial struct {
	BaseColorFactor    [4]float32               // offset   0
	EmissiveFactor     [3]float32               // offset  16
	EmissiveStrength   float32                  // offset  28
	Absorbance         [3]float32               // offset  32
	TransmissionFactor float32                  // offset  44
	MetallicFactor     float32                  // offset  48
	RoughnessFactor    float32                  // offset  52
	NormalScale        float32                  // offset  56
	OcclusionStrength  float32                  // offset  60
	AlphaCutoff        float32                  // offset  64
	AlphaMode          uint32                   // offset  68
	IOR                float32                  // offset  72
	ThicknessFactor    float32                  // offset  76
	Textures           [TextureTypeCount]uint32 // offset  80
	Flags              uint32                   // offset 104: bit n set when Textures[n] is sourced
	DoubleSided        uint32                   // offset 108
}

// Size returns the size of the GPUMaterial struct in bytes.
//
// Returns:
//   - int: the size of the struct in bytes.
func (g *GPUMaterial) Size() int {
	return int(unsafe.Sizeof(*g))
}

// Marshal serializes the GPUMaterial struct into a byte buffer suitable for GPU upload.
//
// Returns:
//   - []byte: 112-byte buffer ready for GPU upload.
func (g *GPUMaterial) Marshal() []byte {
	buf := make([]byte, 112)
	putFloats(buf[0:16], g.BaseColorFactor[:])
	putFloats(buf[16:28], g.EmissiveFactor[:])
	putFloats(buf[28:32], []float32{g.EmissiveStrength})
	putFloats(buf[32:44], g.Absorbance[:])
	putFloats(buf[44:68], []float32{
		g.TransmissionFactor, g.MetallicFactor, g.RoughnessFactor,
		g.NormalScale, g.OcclusionStrength, g.AlphaCutoff,
	})
	binary.LittleEndian.PutUint32(buf[68:72], g.AlphaMode)
	putFloats(buf[72:80], []float32{g.IOR, g.ThicknessFactor})
	for i, h := range g.Textures {
		binary.LittleEndian.PutUint32(buf[80+i*4:], h)
	}
	binary.LittleEndian.PutUint32(buf[104:108], g.Flags)
	binary.LittleEndian.PutUint32(buf[108:112], g.DoubleSided)
	return buf
}

// HasTexture reports whether the slot is backed by a source texture rather than a fallback.
func (g *GPUMaterial) HasTexture(t TextureType) bool {
	return g.Flags&(1<<uint(t)) != 0
}

// MarshalMaterials concatenates the marshaled materials.
func MarshalMaterials(materials []GPUMaterial) []byte {
	out := make([]byte, 0, len(materials)*112)
	for i := range materials {
		out = append(out, materials[i].Marshal()...)
	}
	return out
}

func putFloats(buf []byte, values []float32) {
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
}
