package material

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"path/filepath"
	"slices"

	"github.com/Carmen-Shannon/oxy-scene/common"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/qmuntal/gltf"
	"go.uber.org/multierr"
)

// Material extension names understood by the assembler.
const (
	ExtTransmission     = "KHR_materials_transmission"
	ExtVolume           = "KHR_materials_volume"
	ExtEmissiveStrength = "KHR_materials_emissive_strength"
	ExtIOR              = "KHR_materials_ior"
	ExtTextureBasisu    = "KHR_texture_basisu"
)

var supportedMaterialExtensions = map[string]bool{
	ExtTransmission:     true,
	ExtVolume:           true,
	ExtEmissiveStrength: true,
	ExtIOR:              true,
}

// SupportedExtension reports whether the material assembler understands the named extension.
func SupportedExtension(name string) bool {
	return supportedMaterialExtensions[name] || name == ExtTextureBasisu
}

// ErrNoImage is returned when a texture has no image source.
var ErrNoImage = errors.New("texture has no image source")

// absorbanceEpsilon keeps -ln(color) finite for black attenuation channels.
const absorbanceEpsilon = 1e-4

type textureInfoJSON struct {
	Index    *int `json:"index"`
	TexCoord int  `json:"texCoord"`
}

type transmissionJSON struct {
	TransmissionFactor  float64          `json:"transmissionFactor"`
	TransmissionTexture *textureInfoJSON `json:"transmissionTexture"`
}

type volumeJSON struct {
	ThicknessFactor     float64     `json:"thicknessFactor"`
	AttenuationDistance *float64    `json:"attenuationDistance"`
	AttenuationColor    *[3]float64 `json:"attenuationColor"`
}

type emissiveStrengthJSON struct {
	EmissiveStrength *float64 `json:"emissiveStrength"`
}

type iorJSON struct {
	IOR *float64 `json:"ior"`
}

type basisuJSON struct {
	Source *int `json:"source"`
}

type samplerJSON struct {
	MagFilter int `json:"magFilter"`
	MinFilter int `json:"minFilter"`
	WrapS     int `json:"wrapS"`
	WrapT     int `json:"wrapT"`
}

// decodeExtension re-decodes an extension value into out. Unregistered extensions arrive as raw JSON.
func decodeExtension(exts gltf.Extensions, name string, out any) (bool, error) {
	v, ok := exts[name]
	if !ok {
		return false, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return true, fmt.Errorf("extension %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return true, fmt.Errorf("extension %s: %w", name, err)
	}
	return true, nil
}

// Absorbance converts a volume attenuation color and distance into per-channel absorbance, -ln(color)/distance.
// A zero or infinite distance means no attenuation.
//
// Parameters:
//   - color: the attenuation color, each channel in [0, 1]
//   - distance: the attenuation distance
//
// Returns:
//   - [3]float32: the absorbance per channel
func Absorbance(color [3]float64, distance float64) [3]float32 {
	var out [3]float32
	if distance <= 0 || math.IsInf(distance, 0) || math.IsNaN(distance) {
		return out
	}
	for i, c := range color {
		c = math.Min(math.Max(c, absorbanceEpsilon), 1)
		out[i] = float32(-math.Log(c) / distance)
	}
	return out
}

// baseMaterial fills the scalar fields of a source material, with glTF defaults for anything absent.
// Texture slots are left for the assembler.
func baseMaterial(m *gltf.Material) (GPUMaterial, [TextureTypeCount]*int, error) {
	g := defaultFactors()
	var slots [TextureTypeCount]*int

	if pbr := m.PBRMetallicRoughness; pbr != nil {
		c := pbr.BaseColorFactorOrDefault()
		g.BaseColorFactor = [4]float32{float32(c[0]), float32(c[1]), float32(c[2]), float32(c[3])}
		g.MetallicFactor = float32(pbr.MetallicFactorOrDefault())
		g.RoughnessFactor = float32(pbr.RoughnessFactorOrDefault())
		if pbr.BaseColorTexture != nil {
			slots[TextureBaseColor] = gltf.Index(pbr.BaseColorTexture.Index)
		}
		if pbr.MetallicRoughnessTexture != nil {
			slots[TextureMetallicRoughness] = gltf.Index(pbr.MetallicRoughnessTexture.Index)
		}
	}
	if n := m.NormalTexture; n != nil && n.Index != nil {
		slots[TextureNormal] = n.Index
		g.NormalScale = float32(n.ScaleOrDefault())
	}
	if o := m.OcclusionTexture; o != nil && o.Index != nil {
		slots[TextureOcclusion] = o.Index
		g.OcclusionStrength = float32(o.StrengthOrDefault())
	}
	if m.EmissiveTexture != nil {
		slots[TextureEmissive] = gltf.Index(m.EmissiveTexture.Index)
	}
	g.EmissiveFactor = [3]float32{float32(m.EmissiveFactor[0]), float32(m.EmissiveFactor[1]), float32(m.EmissiveFactor[2])}

	switch m.AlphaMode {
	case gltf.AlphaMask:
		g.AlphaMode = AlphaMask
	case gltf.AlphaBlend:
		g.AlphaMode = AlphaBlend
	}
	g.AlphaCutoff = float32(m.AlphaCutoffOrDefault())
	if m.DoubleSided {
		g.DoubleSided = 1
	}

	var errs error
	var tr transmissionJSON
	if ok, err := decodeExtension(m.Extensions, ExtTransmission, &tr); err != nil {
		errs = multierr.Append(errs, err)
	} else if ok {
		g.TransmissionFactor = float32(tr.TransmissionFactor)
		if tr.TransmissionTexture != nil && tr.TransmissionTexture.Index != nil {
			slots[TextureTransmission] = tr.TransmissionTexture.Index
		}
	}

	var vol volumeJSON
	if ok, err := decodeExtension(m.Extensions, ExtVolume, &vol); err != nil {
		errs = multierr.Append(errs, err)
	} else if ok {
		g.ThicknessFactor = float32(vol.ThicknessFactor)
		color := [3]float64{1, 1, 1}
		if vol.AttenuationColor != nil {
			color = *vol.AttenuationColor
		}
		g.Absorbance = Absorbance(color, common.DerefOr(vol.AttenuationDistance, math.Inf(1)))
	}

	var es emissiveStrengthJSON
	if ok, err := decodeExtension(m.Extensions, ExtEmissiveStrength, &es); err != nil {
		errs = multierr.Append(errs, err)
	} else if ok && es.EmissiveStrength != nil {
		g.EmissiveStrength = float32(*es.EmissiveStrength)
	}

	var ior iorJSON
	if ok, err := decodeExtension(m.Extensions, ExtIOR, &ior); err != nil {
		errs = multierr.Append(errs, err)
	} else if ok && ior.IOR != nil {
		g.IOR = float32(*ior.IOR)
	}

	return g, slots, errs
}

// defaultFactors returns the glTF default material factors with no textures.
func defaultFactors() GPUMaterial {
	return GPUMaterial{
		BaseColorFactor:   [4]float32{1, 1, 1, 1},
		EmissiveStrength:  1,
		MetallicFactor:    1,
		RoughnessFactor:   1,
		NormalScale:       1,
		OcclusionStrength: 1,
		AlphaCutoff:       0.5,
		IOR:               1.5,
	}
}

// textureSource resolves a texture index to its image and sampler state.
func textureSource(doc *gltf.Document, baseDir string, texIndex int) (*common.ImportedTexture, common.SamplerStagingData, error) {
	sampler := common.DefaultSampler()
	if texIndex < 0 || texIndex >= len(doc.Textures) {
		return nil, sampler, fmt.Errorf("texture %d out of range", texIndex)
	}
	tex := doc.Textures[texIndex]

	source := tex.Source
	var basisu basisuJSON
	if ok, err := decodeExtension(tex.Extensions, ExtTextureBasisu, &basisu); err == nil && ok && basisu.Source != nil {
		source = basisu.Source
	}
	if source == nil {
		return nil, sampler, fmt.Errorf("texture %d: %w", texIndex, ErrNoImage)
	}

	if tex.Sampler != nil && *tex.Sampler >= 0 && *tex.Sampler < len(doc.Samplers) {
		s, err := convertSampler(doc.Samplers[*tex.Sampler])
		if err != nil {
			return nil, sampler, err
		}
		sampler = s
	}

	img, err := imageSource(doc, baseDir, *source)
	return img, sampler, err
}

// imageSource builds an ImportedTexture from a buffer view, a data URI or a path relative to baseDir.
func imageSource(doc *gltf.Document, baseDir string, index int) (*common.ImportedTexture, error) {
	if index < 0 || index >= len(doc.Images) {
		return nil, fmt.Errorf("image %d: %w", index, ErrNoImage)
	}
	img := doc.Images[index]
	out := &common.ImportedTexture{Name: img.Name, MimeType: img.MimeType}
	if out.Name == "" {
		out.Name = fmt.Sprintf("image%d", index)
	}

	switch {
	case img.BufferView != nil:
		data, err := bufferViewBytes(doc, *img.BufferView)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", index, err)
		}
		out.Data = data
	case img.IsEmbeddedResource():
		data, err := img.MarshalData()
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", index, err)
		}
		out.Data = data
	case img.URI != "":
		uri, err := url.PathUnescape(img.URI)
		if err != nil {
			uri = img.URI
		}
		out.Path = filepath.Join(baseDir, filepath.FromSlash(uri))
		if out.Name == fmt.Sprintf("image%d", index) {
			out.Name = uri
		}
	default:
		return nil, fmt.Errorf("image %d: %w", index, ErrNoImage)
	}
	return out, nil
}

func bufferViewBytes(doc *gltf.Document, index int) ([]byte, error) {
	if index < 0 || index >= len(doc.BufferViews) || doc.BufferViews[index] == nil {
		return nil, fmt.Errorf("buffer view %d out of range", index)
	}
	bv := doc.BufferViews[index]
	if bv.Buffer < 0 || bv.Buffer >= len(doc.Buffers) || doc.Buffers[bv.Buffer] == nil {
		return nil, fmt.Errorf("buffer %d out of range", bv.Buffer)
	}
	if bv.ByteOffset < 0 || bv.ByteLength < 0 {
		return nil, fmt.Errorf("buffer view %d has offset %d and length %d", index, bv.ByteOffset, bv.ByteLength)
	}
	data := doc.Buffers[bv.Buffer].Data
	if bv.ByteLength > len(data)-bv.ByteOffset {
		return nil, fmt.Errorf("buffer view %d exceeds buffer", index)
	}
	return data[bv.ByteOffset : bv.ByteOffset+bv.ByteLength], nil
}

// GL enum values used by glTF samplers.
const (
	glNearest              = 9728
	glLinear               = 9729
	glNearestMipmapNearest = 9984
	glLinearMipmapNearest  = 9985
	glNearestMipmapLinear  = 9986
	glLinearMipmapLinear   = 9987
	glRepeat               = 10497
	glClampToEdge          = 33071
	glMirroredRepeat       = 33648
)

// convertSampler maps a glTF sampler onto WebGPU sampler state. Unset fields take the DefaultSampler values.
func convertSampler(s *gltf.Sampler) (common.SamplerStagingData, error) {
	out := common.DefaultSampler()
	if s == nil {
		return out, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return out, fmt.Errorf("sampler: %w", err)
	}
	var sj samplerJSON
	if err := json.Unmarshal(raw, &sj); err != nil {
		return out, fmt.Errorf("sampler: %w", err)
	}

	if sj.MagFilter == glNearest {
		out.MagFilter = wgpu.FilterModeNearest
	}
	switch sj.MinFilter {
	case glNearest, glNearestMipmapNearest:
		out.MinFilter = wgpu.FilterModeNearest
		out.MipmapFilter = wgpu.MipmapFilterModeNearest
	case glLinearMipmapNearest:
		out.MipmapFilter = wgpu.MipmapFilterModeNearest
	case glNearestMipmapLinear:
		out.MinFilter = wgpu.FilterModeNearest
	}
	out.AddressModeU = addressMode(sj.WrapS)
	out.AddressModeV = addressMode(sj.WrapT)
	return out, nil
}

func addressMode(gl int) wgpu.AddressMode {
	switch gl {
	case glClampToEdge:
		return wgpu.AddressModeClampToEdge
	case glMirroredRepeat:
		return wgpu.AddressModeMirrorRepeat
	default:
		return wgpu.AddressModeRepeat
	}
}

// unsupportedExtensions lists material extensions the assembler ignores.
func unsupportedExtensions(m *gltf.Material) []string {
	var out []string
	for name := range m.Extensions {
		if !supportedMaterialExtensions[name] {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}
