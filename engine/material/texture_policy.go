package material

import (
	"github.com/Carmen-Shannon/oxy-scene/common"
	"github.com/cespare/xxhash/v2"
	"github.com/cogentcore/webgpu/wgpu"
)

// TextureType enumerates the texture slots of a material.
type TextureType int

const (
	TextureBaseColor TextureType = iota
	TextureNormal
	TextureMetallicRoughness
	TextureEmissive
	TextureTransmission
	TextureOcclusion

	// TextureTypeCount is the number of texture slots.
	TextureTypeCount
)

// Fallback selects the placeholder bound to a slot without a usable texture.
type Fallback int

const (
	// FallbackWhite is a neutral white texel; multiplying by it leaves the channel unchanged.
	FallbackWhite Fallback = iota
	// FallbackError is a magenta checker that makes a missing texture obvious.
	FallbackError
)

// TexturePolicy is the per-slot loading rule.
type TexturePolicy struct {
	Name     string
	Format   wgpu.TextureFormat
	Fallback Fallback
}

var texturePolicies = [TextureTypeCount]TexturePolicy{
	TextureBaseColor:         {Name: "baseColor", Format: wgpu.TextureFormatRGBA8UnormSrgb, Fallback: FallbackError},
	TextureNormal:            {Name: "normal", Format: wgpu.TextureFormatRGBA8Unorm, Fallback: FallbackWhite},
	TextureMetallicRoughness: {Name: "metallicRoughness", Format: wgpu.TextureFormatRGBA8Unorm, Fallback: FallbackWhite},
	TextureEmissive:          {Name: "emissive", Format: wgpu.TextureFormatRGBA8UnormSrgb, Fallback: FallbackWhite},
	TextureTransmission:      {Name: "transmission", Format: wgpu.TextureFormatRGBA8Unorm, Fallback: FallbackWhite},
	TextureOcclusion:         {Name: "occlusion", Format: wgpu.TextureFormatRGBA8Unorm, Fallback: FallbackWhite},
}

// PolicyOf returns the loading rule of a slot.
func PolicyOf(t TextureType) TexturePolicy {
	return texturePolicies[t]
}

func (t TextureType) String() string {
	if t < 0 || t >= TextureTypeCount {
		return "unknown"
	}
	return texturePolicies[t].Name
}

// TextureKey identifies one GPU upload. Two slots with equal keys share a texture.
type TextureKey struct {
	Content uint64
	Format  wgpu.TextureFormat
	Sampler common.SamplerStagingData
}

// NewTextureKey hashes the encoded image bytes into a key.
//
// Parameters:
//   - data: the encoded image
//   - format: the target format of the slot
//   - sampler: the sampler state the slot is sampled with
//
// Returns:
//   - TextureKey: the key
func NewTextureKey(data []byte, format wgpu.TextureFormat, sampler common.SamplerStagingData) TextureKey {
	return TextureKey{Content: xxhash.Sum64(data), Format: format, Sampler: sampler}
}

// fallbackPixels returns the RGBA8 texels of a placeholder.
func fallbackPixels(f Fallback) *common.TextureStagingData {
	if f == FallbackError {
		magenta := []byte{255, 0, 255, 255}
		black := []byte{0, 0, 0, 255}
		pix := make([]byte, 0, 16)
		pix = append(pix, magenta...)
		pix = append(pix, black...)
		pix = append(pix, black...)
		pix = append(pix, magenta...)
		return &common.TextureStagingData{Pixels: pix, Width: 2, Height: 2}
	}
	return &common.TextureStagingData{Pixels: []byte{255, 255, 255, 255}, Width: 1, Height: 1}
}
