// Package material resolves source materials into GPU material records with deduplicated bindless textures.
package material

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-scene/common"
	"github.com/Carmen-Shannon/oxy-scene/engine/gpu"
	"github.com/Carmen-Shannon/oxy-scene/engine/logger"
	"github.com/cogentcore/webgpu/wgpu"
	"github.com/qmuntal/gltf"
	"go.uber.org/zap"
)

// slotRef addresses one texture slot of one material in the output array.
type slotRef struct {
	material int
	slot     TextureType
}

// pendingTexture is a texture whose decode is in flight. Slots that resolve to the same key wait on it together.
type pendingTexture struct {
	key   TextureKey
	name  string
	slots []slotRef
}

// loadCall is the state of one LoadMaterials call shared with its decode continuations. It is only touched on the
// main context.
type loadCall struct {
	materials   []GPUMaterial
	outstanding int
	// cancelled is set when the call gave up waiting; later continuations drop their result.
	cancelled bool
}

// materialAssembler is the implementation of the MaterialAssembler interface.
type materialAssembler struct {
	device  gpu.TextureDevice
	queue   *gpu.MainQueue
	pool    worker.DynamicWorkerPool
	ownPool bool
	workers int
	log     *zap.Logger

	fallbacks [2]gpu.Handle
	textures  map[TextureKey]gpu.Handle
	owned     []gpu.Texture
}

// MaterialAssembler turns source materials into GPUMaterial records.
//
// All methods must be called from the main context that owns the TextureDevice. Decoding runs on the worker pool
// and each finished decode is handed back through the MainQueue, where the texture is created and uploaded.
// Textures are deduplicated by TextureKey for the lifetime of the assembler.
type MaterialAssembler interface {
	// LoadMaterials returns one GPUMaterial per material of the document, in document order.
	// Missing or undecodable textures resolve to their slot's fallback; such failures are logged, never returned.
	//
	// Parameters:
	//   - ctx: cancels waiting for decodes
	//   - doc: the source document
	//   - baseDir: the directory external image URIs of doc resolve against
	//
	// Returns:
	//   - []GPUMaterial: the materials
	//   - error: error if the fallbacks cannot be created or ctx ends before every decode finished
	LoadMaterials(ctx context.Context, doc *gltf.Document, baseDir string) ([]GPUMaterial, error)

	// DefaultMaterial returns a fresh glTF default material with every slot on its fallback.
	DefaultMaterial() (GPUMaterial, error)

	// FallbackHandle returns the handle of a placeholder, creating it on first use.
	FallbackHandle(f Fallback) (gpu.Handle, error)

	// TextureCount returns the number of distinct textures uploaded so far, placeholders excluded.
	TextureCount() int

	// Release destroys every texture the assembler created and stops its own worker pool.
	// The assembler must not be used afterwards.
	Release()
}

var _ MaterialAssembler = &materialAssembler{}

// NewMaterialAssembler creates a MaterialAssembler uploading through device.
//
// Parameters:
//   - device: the texture device owned by the calling context
//   - queue: the main-context queue decoded textures are handed back through
//   - options: builder options
//
// Returns:
//   - MaterialAssembler: the assembler
func NewMaterialAssembler(device gpu.TextureDevice, queue *gpu.MainQueue, options ...MaterialAssemblerBuilderOption) MaterialAssembler {
	a := &materialAssembler{
		device:   device,
		queue:    queue,
		workers:  runtime.NumCPU(),
		textures: make(map[TextureKey]gpu.Handle),
	}
	for _, opt := range options {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.L()
	}
	if a.queue == nil {
		a.queue = gpu.NewMainQueue()
	}
	if a.pool == nil {
		a.pool = worker.NewDynamicWorkerPool(a.workers, 256, time.Second)
		a.ownPool = true
	}
	return a
}

func (a *materialAssembler) LoadMaterials(ctx context.Context, doc *gltf.Document, baseDir string) ([]GPUMaterial, error) {
	for _, f := range []Fallback{FallbackError, FallbackWhite} {
		if _, err := a.FallbackHandle(f); err != nil {
			return nil, err
		}
	}

	call := &loadCall{materials: make([]GPUMaterial, len(doc.Materials))}
	materials := call.materials
	pending := make(map[TextureKey]*pendingTexture)

	for mi, src := range doc.Materials {
		if src == nil {
			materials[mi], _ = a.DefaultMaterial()
			continue
		}
		name := common.Coalesce(src.Name, fmt.Sprintf("material%d", mi))
		for _, ext := range unsupportedExtensions(src) {
			a.log.Warn("unsupported material extension ignored", zap.String("material", name), zap.String("extension", ext))
		}

		mat, slots, err := baseMaterial(src)
		if err != nil {
			a.log.Warn("malformed material extension", zap.String("material", name), zap.Error(err))
		}
		a.applyFallbacks(&mat)
		materials[mi] = mat

		for t, texIndex := range slots {
			if texIndex == nil {
				continue
			}
			slot := TextureType(t)
			ref := slotRef{material: mi, slot: slot}

			img, sampler, err := textureSource(doc, baseDir, *texIndex)
			if err != nil {
				a.log.Error("texture unresolved, using fallback",
					zap.String("material", name), zap.Stringer("slot", slot), zap.Int("texture", *texIndex), zap.Error(err))
				continue
			}
			data, err := img.Bytes()
			if err != nil {
				a.log.Error("texture unreadable, using fallback",
					zap.String("material", name), zap.Stringer("slot", slot), zap.String("texture", img.Name), zap.Error(err))
				continue
			}

			key := NewTextureKey(data, PolicyOf(slot).Format, sampler)
			if h, ok := a.textures[key]; ok {
				setSlot(&materials[mi], slot, h)
				continue
			}
			if p, ok := pending[key]; ok {
				p.slots = append(p.slots, ref)
				continue
			}

			p := &pendingTexture{key: key, name: img.Name, slots: []slotRef{ref}}
			pending[key] = p
			call.outstanding++
			a.submitDecode(p, img, call)
		}
	}

	if err := a.queue.RunUntil(ctx, func() bool { return call.outstanding == 0 }); err != nil {
		call.cancelled = true
		return nil, fmt.Errorf("waiting for %d texture decodes: %w", call.outstanding, err)
	}
	return materials, nil
}

// submitDecode decodes img on the pool and hands the result back to the main queue.
// The continuation is the only code that touches the device and the call state.
func (a *materialAssembler) submitDecode(p *pendingTexture, img *common.ImportedTexture, call *loadCall) {
	a.pool.SubmitTask(worker.Task{
		Payload: p.name,
		Do: func() (any, error) {
			staging, err := img.Decode()
			a.queue.Enqueue(func() {
				call.outstanding--
				if call.cancelled {
					staging.Release()
					a.log.Debug("texture decode finished after its load was cancelled, dropped", zap.String("texture", p.name))
					return
				}
				a.finish(p, staging, err, call.materials)
			})
			return nil, err
		},
	})
}

// finish uploads a decoded texture and patches every waiting slot. On failure the staging data is dropped and the
// slots keep the fallbacks applied when the material was created.
func (a *materialAssembler) finish(p *pendingTexture, staging *common.TextureStagingData, decodeErr error, materials []GPUMaterial) {
	defer staging.Release()

	if decodeErr != nil {
		a.log.Error("texture decode failed, using fallback", zap.String("texture", p.name), zap.Error(decodeErr))
		return
	}

	h, err := a.create(gpu.TextureDescriptor{Label: p.name, Format: p.key.Format, Sampler: p.key.Sampler}, staging)
	if err != nil {
		a.log.Error("texture upload failed, using fallback", zap.String("texture", p.name), zap.Error(err))
		return
	}
	a.textures[p.key] = h
	for _, ref := range p.slots {
		setSlot(&materials[ref.material], ref.slot, h)
	}
}

// create makes staged pixels resident on the device and returns their handle.
func (a *materialAssembler) create(desc gpu.TextureDescriptor, staging *common.TextureStagingData) (gpu.Handle, error) {
	desc.Width, desc.Height = staging.Width, staging.Height
	tex, err := a.device.CreateTexture(desc)
	if err != nil {
		return gpu.InvalidHandle, err
	}
	if err := a.device.Upload(tex, staging); err != nil {
		a.device.Release(tex)
		return gpu.InvalidHandle, err
	}
	h, err := a.device.Handle(tex)
	if err != nil {
		a.device.Release(tex)
		return gpu.InvalidHandle, err
	}
	a.owned = append(a.owned, tex)
	return h, nil
}

func (a *materialAssembler) DefaultMaterial() (GPUMaterial, error) {
	m := defaultFactors()
	for _, f := range []Fallback{FallbackError, FallbackWhite} {
		if _, err := a.FallbackHandle(f); err != nil {
			return m, err
		}
	}
	a.applyFallbacks(&m)
	return m, nil
}

func (a *materialAssembler) FallbackHandle(f Fallback) (gpu.Handle, error) {
	if h := a.fallbacks[f]; h != gpu.InvalidHandle {
		return h, nil
	}
	name := "fallback white"
	if f == FallbackError {
		name = "fallback error"
	}
	h, err := a.create(gpu.TextureDescriptor{
		Label:   name,
		Format:  wgpu.TextureFormatRGBA8Unorm,
		Sampler: common.DefaultSampler(),
	}, fallbackPixels(f))
	if err != nil {
		return gpu.InvalidHandle, fmt.Errorf("create %s placeholder: %w", name, err)
	}
	a.fallbacks[f] = h
	return h, nil
}

func (a *materialAssembler) TextureCount() int {
	return len(a.textures)
}

func (a *materialAssembler) Release() {
	for _, tex := range a.owned {
		a.device.Release(tex)
	}
	a.owned = nil
	a.textures = make(map[TextureKey]gpu.Handle)
	a.fallbacks = [2]gpu.Handle{}
	if a.ownPool && a.pool != nil {
		a.pool.Stop()
		a.pool = nil
	}
}

func (a *materialAssembler) applyFallbacks(m *GPUMaterial) {
	for t := range m.Textures {
		m.Textures[t] = uint32(a.fallbacks[texturePolicies[t].Fallback])
	}
	m.Flags = 0
}

func setSlot(m *GPUMaterial, slot TextureType, h gpu.Handle) {
	m.Textures[slot] = uint32(h)
	m.Flags |= 1 << uint(slot)
}
