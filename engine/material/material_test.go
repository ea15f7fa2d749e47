package material

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-scene/common"
	"github.com/Carmen-Shannon/oxy-scene/engine/gpu"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func pngBytes(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// addTexture embeds data as an image and returns the index of a texture sampling it.
func addTexture(t *testing.T, doc *gltf.Document, data []byte, mime string) int {
	t.Helper()
	img, err := modeler.WriteImage(doc, "img", mime, bytes.NewReader(data))
	require.NoError(t, err)
	doc.Textures = append(doc.Textures, &gltf.Texture{Source: gltf.Index(img)})
	return len(doc.Textures) - 1
}

type fixture struct {
	device    *gpu.MemoryDevice
	assembler MaterialAssembler
	logs      *observer.ObservedLogs
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	core, logs := observer.New(zap.WarnLevel)
	device := gpu.NewMemoryDevice()
	a := NewMaterialAssembler(device, gpu.NewMainQueue(), WithWorkers(2), WithLogger(zap.New(core)))
	t.Cleanup(a.Release)
	return fixture{device: device, assembler: a, logs: logs}
}

func load(t *testing.T, a MaterialAssembler, doc *gltf.Document) []GPUMaterial {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mats, err := a.LoadMaterials(ctx, doc, "")
	require.NoError(t, err)
	return mats
}

func TestMissingTexturesUseSlotFallbacks(t *testing.T) {
	f := newFixture(t)
	doc := gltf.NewDocument()
	doc.Materials = []*gltf.Material{{Name: "plain"}}

	mats := load(t, f.assembler, doc)
	require.Len(t, mats, 1)

	errHandle, err := f.assembler.FallbackHandle(FallbackError)
	require.NoError(t, err)
	whiteHandle, err := f.assembler.FallbackHandle(FallbackWhite)
	require.NoError(t, err)

	m := mats[0]
	assert.Equal(t, uint32(errHandle), m.Textures[TextureBaseColor])
	assert.Equal(t, uint32(whiteHandle), m.Textures[TextureNormal])
	assert.NotEqual(t, m.Textures[TextureBaseColor], m.Textures[TextureNormal])
	for _, slot := range []TextureType{TextureMetallicRoughness, TextureEmissive, TextureTransmission, TextureOcclusion} {
		assert.Equal(t, uint32(whiteHandle), m.Textures[slot], slot.String())
	}
	assert.Zero(t, m.Flags)
	assert.Equal(t, 0, f.assembler.TextureCount())
}

func TestIdenticalTexturesUploadOnce(t *testing.T) {
	f := newFixture(t)
	doc := gltf.NewDocument()
	red := pngBytes(t, color.NRGBA{R: 255, A: 255})
	t0 := addTexture(t, doc, red, "image/png")
	t1 := addTexture(t, doc, red, "image/png")

	doc.Materials = []*gltf.Material{
		{Name: "a", PBRMetallicRoughness: &gltf.PBRMetallicRoughness{BaseColorTexture: &gltf.TextureInfo{Index: t0}}},
		{Name: "b", PBRMetallicRoughness: &gltf.PBRMetallicRoughness{BaseColorTexture: &gltf.TextureInfo{Index: t1}}},
		{Name: "c", NormalTexture: &gltf.NormalTexture{Index: gltf.Index(t0)}},
	}

	mats := load(t, f.assembler, doc)
	require.Len(t, mats, 3)

	assert.True(t, mats[0].HasTexture(TextureBaseColor))
	assert.Equal(t, mats[0].Textures[TextureBaseColor], mats[1].Textures[TextureBaseColor])
	// same pixels, different target format
	assert.True(t, mats[2].HasTexture(TextureNormal))
	assert.NotEqual(t, mats[0].Textures[TextureBaseColor], mats[2].Textures[TextureNormal])

	assert.Equal(t, 2, f.assembler.TextureCount())
	assert.Equal(t, 2+2, f.device.Uploads())
}

func TestReloadReusesUploadedTextures(t *testing.T) {
	f := newFixture(t)
	doc := gltf.NewDocument()
	tex := addTexture(t, doc, pngBytes(t, color.NRGBA{G: 255, A: 255}), "image/png")
	doc.Materials = []*gltf.Material{
		{PBRMetallicRoughness: &gltf.PBRMetallicRoughness{BaseColorTexture: &gltf.TextureInfo{Index: tex}}},
	}

	first := load(t, f.assembler, doc)
	uploads := f.device.Uploads()
	second := load(t, f.assembler, doc)

	assert.Equal(t, first, second)
	assert.Equal(t, uploads, f.device.Uploads())
}

func TestCancelledLoadDropsLateDecodes(t *testing.T) {
	pool := worker.NewDynamicWorkerPool(1, 16, time.Minute)
	t.Cleanup(pool.Stop)

	// occupy the only worker so the decode cannot finish before the load gives up
	release := make(chan struct{})
	released := false
	unblock := func() {
		if !released {
			released = true
			close(release)
		}
	}
	t.Cleanup(unblock)
	pool.SubmitTask(worker.Task{Do: func() (any, error) {
		<-release
		return nil, nil
	}})

	core, logs := observer.New(zap.DebugLevel)
	device := gpu.NewMemoryDevice()
	queue := gpu.NewMainQueue()
	a := NewMaterialAssembler(device, queue, WithWorkerPool(pool), WithLogger(zap.New(core)))
	t.Cleanup(a.Release)

	doc := gltf.NewDocument()
	tex := addTexture(t, doc, pngBytes(t, color.NRGBA{B: 255, A: 255}), "image/png")
	doc.Materials = []*gltf.Material{
		{PBRMetallicRoughness: &gltf.PBRMetallicRoughness{BaseColorTexture: &gltf.TextureInfo{Index: tex}}},
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	mats, err := a.LoadMaterials(cancelled, doc, "")
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, mats)
	uploads := device.Uploads()
	assert.Equal(t, 2, uploads, "only the placeholders")

	unblock()
	ctx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	require.NoError(t, queue.Wait(ctx))
	assert.Equal(t, 1, queue.Drain())

	assert.Equal(t, uploads, device.Uploads())
	assert.Equal(t, 0, a.TextureCount())
	assert.Equal(t, 1, logs.FilterMessage("texture decode finished after its load was cancelled, dropped").Len())

	mats = load(t, a, doc)
	require.Len(t, mats, 1)
	assert.True(t, mats[0].HasTexture(TextureBaseColor))
	assert.Equal(t, 1, a.TextureCount())
	assert.Equal(t, uploads+1, device.Uploads())
}

func TestCorruptTextureFallsBack(t *testing.T) {
	f := newFixture(t)
	doc := gltf.NewDocument()
	tex := addTexture(t, doc, []byte("\x89PNG\r\n\x1a\ngarbage"), "image/png")
	doc.Materials = []*gltf.Material{
		{Name: "broken", PBRMetallicRoughness: &gltf.PBRMetallicRoughness{BaseColorTexture: &gltf.TextureInfo{Index: tex}}},
	}

	mats := load(t, f.assembler, doc)
	errHandle, _ := f.assembler.FallbackHandle(FallbackError)

	assert.Equal(t, uint32(errHandle), mats[0].Textures[TextureBaseColor])
	assert.False(t, mats[0].HasTexture(TextureBaseColor))
	assert.Equal(t, 2, f.device.Textures(), "only the placeholders stay resident")
	assert.Equal(t, 1, f.logs.FilterMessage("texture decode failed, using fallback").Len())
}

func TestUnresolvedTextureFallsBack(t *testing.T) {
	f := newFixture(t)
	doc := gltf.NewDocument()
	doc.Textures = []*gltf.Texture{{}}
	doc.Materials = []*gltf.Material{
		{NormalTexture: &gltf.NormalTexture{Index: gltf.Index(0)}},
		{EmissiveTexture: &gltf.TextureInfo{Index: 7}},
	}

	mats := load(t, f.assembler, doc)
	white, _ := f.assembler.FallbackHandle(FallbackWhite)
	assert.Equal(t, uint32(white), mats[0].Textures[TextureNormal])
	assert.Equal(t, uint32(white), mats[1].Textures[TextureEmissive])
	assert.Equal(t, 2, f.logs.FilterMessage("texture unresolved, using fallback").Len())
}

func TestMaterialExtensions(t *testing.T) {
	f := newFixture(t)
	doc := gltf.NewDocument()
	tex := addTexture(t, doc, pngBytes(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}), "image/png")
	doc.Materials = []*gltf.Material{{
		Name:        "glass",
		DoubleSided: true,
		AlphaMode:   gltf.AlphaBlend,
		Extensions: gltf.Extensions{
			ExtTransmission:       json.RawMessage(`{"transmissionFactor":0.9,"transmissionTexture":{"index":0}}`),
			ExtVolume:             json.RawMessage(`{"thicknessFactor":0.25,"attenuationDistance":2,"attenuationColor":[0.5,1,1]}`),
			ExtEmissiveStrength:   json.RawMessage(`{"emissiveStrength":4}`),
			ExtIOR:                json.RawMessage(`{"ior":1.33}`),
			"KHR_materials_sheen": json.RawMessage(`{}`),
		},
	}}
	require.Equal(t, 0, tex)

	m := load(t, f.assembler, doc)[0]
	assert.InDelta(t, 0.9, m.TransmissionFactor, 1e-6)
	assert.True(t, m.HasTexture(TextureTransmission))
	assert.InDelta(t, 0.25, m.ThicknessFactor, 1e-6)
	assert.InDelta(t, math.Ln2/2, m.Absorbance[0], 1e-6)
	assert.Zero(t, m.Absorbance[1])
	assert.Equal(t, float32(4), m.EmissiveStrength)
	assert.InDelta(t, 1.33, m.IOR, 1e-6)
	assert.Equal(t, AlphaBlend, m.AlphaMode)
	assert.Equal(t, uint32(1), m.DoubleSided)

	warnings := f.logs.FilterMessage("unsupported material extension ignored").All()
	require.Len(t, warnings, 1)
	assert.Equal(t, "KHR_materials_sheen", warnings[0].ContextMap()["extension"])
}

func TestPBRFactorsAndDefaults(t *testing.T) {
	f := newFixture(t)
	metallic, roughness := 0.2, 0.7
	doc := gltf.NewDocument()
	doc.Materials = []*gltf.Material{{
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float64{0.1, 0.2, 0.3, 0.4},
			MetallicFactor:  &metallic,
			RoughnessFactor: &roughness,
		},
		EmissiveFactor: [3]float64{1, 0.5, 0},
	}}

	m := load(t, f.assembler, doc)[0]
	assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3, 0.4}, m.BaseColorFactor[:], 1e-6)
	assert.InDelta(t, 0.2, m.MetallicFactor, 1e-6)
	assert.InDelta(t, 0.7, m.RoughnessFactor, 1e-6)
	assert.Equal(t, [3]float32{1, 0.5, 0}, m.EmissiveFactor)
	assert.Equal(t, float32(1.5), m.IOR)
	assert.Equal(t, float32(0.5), m.AlphaCutoff)
	assert.Equal(t, AlphaOpaque, m.AlphaMode)

	def, err := f.assembler.DefaultMaterial()
	require.NoError(t, err)
	assert.Equal(t, [4]float32{1, 1, 1, 1}, def.BaseColorFactor)
	errHandle, _ := f.assembler.FallbackHandle(FallbackError)
	assert.Equal(t, uint32(errHandle), def.Textures[TextureBaseColor])
}

func TestAbsorbance(t *testing.T) {
	tests := []struct {
		name     string
		color    [3]float64
		distance float64
		want     [3]float32
	}{
		{"white is clear", [3]float64{1, 1, 1}, 3, [3]float32{0, 0, 0}},
		{"infinite distance", [3]float64{0.5, 0.5, 0.5}, math.Inf(1), [3]float32{}},
		{"zero distance", [3]float64{0.5, 0.5, 0.5}, 0, [3]float32{}},
		{"half red", [3]float64{0.5, 1, 1}, 1, [3]float32{float32(math.Ln2), 0, 0}},
		{"black clamps", [3]float64{0, 1, 1}, 1, [3]float32{float32(-math.Log(absorbanceEpsilon)), 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Absorbance(tt.color, tt.distance)
			assert.InDeltaSlice(t, tt.want[:], got[:], 1e-5)
		})
	}
}

func TestConvertSampler(t *testing.T) {
	s, err := convertSampler(&gltf.Sampler{
		MagFilter: gltf.MagNearest,
		MinFilter: gltf.MinNearestMipMapNearest,
		WrapS:     gltf.WrapClampToEdge,
		WrapT:     gltf.WrapMirroredRepeat,
	})
	require.NoError(t, err)
	assert.Equal(t, wgpu.FilterModeNearest, s.MagFilter)
	assert.Equal(t, wgpu.FilterModeNearest, s.MinFilter)
	assert.Equal(t, wgpu.MipmapFilterModeNearest, s.MipmapFilter)
	assert.Equal(t, wgpu.AddressModeClampToEdge, s.AddressModeU)
	assert.Equal(t, wgpu.AddressModeMirrorRepeat, s.AddressModeV)

	def, err := convertSampler(&gltf.Sampler{})
	require.NoError(t, err)
	assert.Equal(t, wgpu.FilterModeLinear, def.MagFilter)
	assert.Equal(t, wgpu.AddressModeRepeat, def.AddressModeU)
}

func TestTextureKey(t *testing.T) {
	s := common.DefaultSampler()
	a := NewTextureKey([]byte{1, 2, 3}, wgpu.TextureFormatRGBA8Unorm, s)
	assert.Equal(t, a, NewTextureKey([]byte{1, 2, 3}, wgpu.TextureFormatRGBA8Unorm, s))
	assert.NotEqual(t, a, NewTextureKey([]byte{1, 2, 4}, wgpu.TextureFormatRGBA8Unorm, s))
	assert.NotEqual(t, a, NewTextureKey([]byte{1, 2, 3}, wgpu.TextureFormatRGBA8UnormSrgb, s))
}

func TestGPUMaterialLayout(t *testing.T) {
	m := defaultFactors()
	m.Textures[TextureNormal] = 9
	m.Flags = 1 << uint(TextureNormal)
	assert.Equal(t, 112, m.Size())

	buf := m.Marshal()
	require.Len(t, buf, 112)
	assert.Equal(t, byte(9), buf[84])
	assert.Equal(t, byte(2), buf[104])
	assert.Len(t, MarshalMaterials([]GPUMaterial{m, m}), 224)
	assert.Contains(t, GPUMaterialSource, "struct Material")
}

func TestPolicyTable(t *testing.T) {
	assert.Equal(t, FallbackError, PolicyOf(TextureBaseColor).Fallback)
	assert.Equal(t, wgpu.TextureFormatRGBA8UnormSrgb, PolicyOf(TextureBaseColor).Format)
	for slot := TextureNormal; slot < TextureTypeCount; slot++ {
		assert.Equal(t, FallbackWhite, PolicyOf(slot).Fallback, slot.String())
	}
	assert.Equal(t, "unknown", TextureTypeCount.String())
}
