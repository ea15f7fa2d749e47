package gpu

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-scene/common"
	"github.com/cogentcore/webgpu/wgpu"
)

// Vulkan format codes carried by KTX2 headers that map onto WebGPU block formats.
const (
	vkFormatBC1RGBAUnorm = 133
	vkFormatBC1RGBASrgb  = 134
	vkFormatBC7Unorm     = 145
	vkFormatBC7Srgb      = 146
)

type blockFormat struct {
	format     wgpu.TextureFormat
	blockBytes uint32
}

var compressedFormats = map[uint32]blockFormat{
	vkFormatBC1RGBAUnorm: {wgpu.TextureFormatBC1RGBAUnorm, 8},
	vkFormatBC1RGBASrgb:  {wgpu.TextureFormatBC1RGBAUnormSrgb, 8},
	vkFormatBC7Unorm:     {wgpu.TextureFormatBC7RGBAUnorm, 16},
	vkFormatBC7Srgb:      {wgpu.TextureFormatBC7RGBAUnormSrgb, 16},
}

type wgpuTexture struct {
	desc    TextureDescriptor
	texture *wgpu.Texture
	view    *wgpu.TextureView
	slot    int
}

// WGPUDevice is a TextureDevice over a WebGPU device. Handles index a slot table of views and samplers that a
// renderer binds as a texture array.
type WGPUDevice struct {
	mu       sync.Mutex
	device   *wgpu.Device
	queue    *wgpu.Queue
	textures map[Texture]*wgpuTexture
	next     Texture
	views    []*wgpu.TextureView
	samplers []*wgpu.Sampler
	cache    map[common.SamplerStagingData]*wgpu.Sampler
	closed   bool
	onClose  func()
}

var _ TextureDevice = &WGPUDevice{}

// NewWGPUDevice wraps a device and its queue.
//
// Parameters:
//   - device: the WebGPU device that owns created objects
//   - queue: the device queue used for uploads
//
// Returns:
//   - *WGPUDevice: the texture device
func NewWGPUDevice(device *wgpu.Device, queue *wgpu.Queue) *WGPUDevice {
	return &WGPUDevice{
		device:   device,
		queue:    queue,
		textures: make(map[Texture]*wgpuTexture),
		cache:    make(map[common.SamplerStagingData]*wgpu.Sampler),
	}
}

func (d *WGPUDevice) CreateTexture(desc TextureDescriptor) (Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrDeviceClosed
	}

	d.next++
	d.textures[d.next] = &wgpuTexture{desc: desc, slot: -1}
	return d.next, nil
}

func (d *WGPUDevice) Upload(tex Texture, staging *common.TextureStagingData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookup(tex)
	if err != nil {
		return err
	}
	if staging.Width != t.desc.Width || staging.Height != t.desc.Height {
		return fmt.Errorf("texture %q: %w", t.desc.Label, ErrUploadSize)
	}

	format := common.Coalesce(t.desc.Format, wgpu.TextureFormatRGBA8Unorm)
	bytesPerRow := staging.Width * 4
	rows := staging.Height
	if staging.Compressed {
		bf, ok := compressedFormats[staging.VkFormat]
		if !ok {
			return fmt.Errorf("texture %q vk format %d: %w", t.desc.Label, staging.VkFormat, ErrUnsupportedFormat)
		}
		format = bf.format
		bytesPerRow = (staging.Width + 3) / 4 * bf.blockBytes
		rows = (staging.Height + 3) / 4
	} else if len(staging.Pixels) != uncompressedSize(staging.Width, staging.Height) {
		return fmt.Errorf("texture %q: %w", t.desc.Label, ErrUploadSize)
	}

	size := wgpu.Extent3D{
		Width:              staging.Width,
		Height:             staging.Height,
		DepthOrArrayLayers: 1,
	}
	texture, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         t.desc.Label,
		Usage:         wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopyDst,
		Dimension:     wgpu.TextureDimension2D,
		Size:          size,
		Format:        format,
		MipLevelCount: 1,
		SampleCount:   1,
	})
	if err != nil {
		return err
	}

	d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  texture,
			MipLevel: 0,
			Origin:   wgpu.Origin3D{},
			Aspect:   wgpu.TextureAspectAll,
		},
		staging.Pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  bytesPerRow,
			RowsPerImage: rows,
		},
		&size,
	)

	view, err := texture.CreateView(nil)
	if err != nil {
		texture.Release()
		return err
	}

	if t.view != nil {
		t.view.Release()
		t.texture.Release()
	}
	t.texture = texture
	t.view = view
	if t.slot >= 0 {
		d.views[t.slot] = view
	}
	return nil
}

func (d *WGPUDevice) Handle(tex Texture) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookup(tex)
	if err != nil {
		return InvalidHandle, err
	}
	if t.slot >= 0 {
		return Handle(t.slot + 1), nil
	}
	if t.view == nil {
		return InvalidHandle, fmt.Errorf("texture %q has no contents", t.desc.Label)
	}

	sampler, err := d.sampler(t.desc.Sampler)
	if err != nil {
		return InvalidHandle, err
	}
	t.slot = len(d.views)
	d.views = append(d.views, t.view)
	d.samplers = append(d.samplers, sampler)
	return Handle(t.slot + 1), nil
}

func (d *WGPUDevice) Release(tex Texture) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[tex]
	if !ok {
		return
	}
	delete(d.textures, tex)
	if t.slot >= 0 {
		d.views[t.slot] = nil
	}
	if t.view != nil {
		t.view.Release()
	}
	if t.texture != nil {
		t.texture.Release()
	}
}

func (d *WGPUDevice) Close() {
	d.mu.Lock()
	ids := make([]Texture, 0, len(d.textures))
	for id := range d.textures {
		ids = append(ids, id)
	}
	d.mu.Unlock()

	for _, id := range ids {
		d.Release(id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.cache {
		s.Release()
	}
	d.cache = nil
	d.views = nil
	d.samplers = nil
	d.closed = true
	if d.onClose != nil {
		d.onClose()
		d.onClose = nil
	}
}

// Views returns the resident texture views indexed by handle - 1. Released slots are nil.
func (d *WGPUDevice) Views() []*wgpu.TextureView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*wgpu.TextureView(nil), d.views...)
}

// Samplers returns the sampler of each resident slot, parallel to Views.
func (d *WGPUDevice) Samplers() []*wgpu.Sampler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*wgpu.Sampler(nil), d.samplers...)
}

func (d *WGPUDevice) sampler(s common.SamplerStagingData) (*wgpu.Sampler, error) {
	if cached, ok := d.cache[s]; ok {
		return cached, nil
	}
	samp, err := d.device.CreateSampler(&wgpu.SamplerDescriptor{
		AddressModeU:  common.Coalesce(s.AddressModeU, wgpu.AddressModeRepeat),
		AddressModeV:  common.Coalesce(s.AddressModeV, wgpu.AddressModeRepeat),
		AddressModeW:  common.Coalesce(s.AddressModeW, wgpu.AddressModeRepeat),
		MagFilter:     common.Coalesce(s.MagFilter, wgpu.FilterModeLinear),
		MinFilter:     common.Coalesce(s.MinFilter, wgpu.FilterModeLinear),
		MipmapFilter:  common.Coalesce(s.MipmapFilter, wgpu.MipmapFilterModeLinear),
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: common.Coalesce(s.MaxAnisotropy, 1),
	})
	if err != nil {
		return nil, err
	}
	d.cache[s] = samp
	return samp, nil
}

func (d *WGPUDevice) lookup(tex Texture) (*wgpuTexture, error) {
	if d.closed {
		return nil, ErrDeviceClosed
	}
	t, ok := d.textures[tex]
	if !ok {
		return nil, fmt.Errorf("texture %d: %w", tex, ErrUnknownTexture)
	}
	return t, nil
}
