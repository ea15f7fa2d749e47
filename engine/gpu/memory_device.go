package gpu

import (
	"fmt"
	"sync"

	"github.com/Carmen-Shannon/oxy-scene/common"
)

// MemoryTexture is the record a MemoryDevice keeps per texture.
type MemoryTexture struct {
	Desc     TextureDescriptor
	Uploaded bool
	Bytes    int
	Handle   Handle
}

// MemoryDevice is a TextureDevice that keeps textures in host memory. It backs headless imports and tests.
type MemoryDevice struct {
	mu         sync.Mutex
	textures   map[Texture]*MemoryTexture
	nextTex    Texture
	nextHandle Handle
	uploads    int
	closed     bool
}

var _ TextureDevice = &MemoryDevice{}

// NewMemoryDevice creates an empty MemoryDevice.
func NewMemoryDevice() *MemoryDevice {
	return &MemoryDevice{textures: make(map[Texture]*MemoryTexture)}
}

func (d *MemoryDevice) CreateTexture(desc TextureDescriptor) (Texture, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, ErrDeviceClosed
	}
	d.nextTex++
	d.textures[d.nextTex] = &MemoryTexture{Desc: desc}
	return d.nextTex, nil
}

func (d *MemoryDevice) Upload(tex Texture, staging *common.TextureStagingData) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookup(tex)
	if err != nil {
		return err
	}
	if staging.Width != t.Desc.Width || staging.Height != t.Desc.Height {
		return fmt.Errorf("texture %q: %dx%d into %dx%d: %w", t.Desc.Label, staging.Width, staging.Height, t.Desc.Width, t.Desc.Height, ErrUploadSize)
	}
	if !staging.Compressed && len(staging.Pixels) != uncompressedSize(staging.Width, staging.Height) {
		return fmt.Errorf("texture %q: %d bytes: %w", t.Desc.Label, len(staging.Pixels), ErrUploadSize)
	}
	t.Uploaded = true
	t.Bytes = len(staging.Pixels)
	d.uploads++
	return nil
}

func (d *MemoryDevice) Handle(tex Texture) (Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, err := d.lookup(tex)
	if err != nil {
		return InvalidHandle, err
	}
	if t.Handle == InvalidHandle {
		d.nextHandle++
		t.Handle = d.nextHandle
	}
	return t.Handle, nil
}

func (d *MemoryDevice) Release(tex Texture) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.textures, tex)
}

func (d *MemoryDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.textures = make(map[Texture]*MemoryTexture)
	d.closed = true
}

// Textures returns the number of live textures.
func (d *MemoryDevice) Textures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.textures)
}

// Uploads returns the number of successful uploads since creation.
func (d *MemoryDevice) Uploads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.uploads
}

// Lookup returns a copy of the texture record, or false if the texture is not live.
func (d *MemoryDevice) Lookup(tex Texture) (MemoryTexture, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.textures[tex]
	if !ok {
		return MemoryTexture{}, false
	}
	return *t, true
}

func (d *MemoryDevice) lookup(tex Texture) (*MemoryTexture, error) {
	if d.closed {
		return nil, ErrDeviceClosed
	}
	t, ok := d.textures[tex]
	if !ok {
		return nil, fmt.Errorf("texture %d: %w", tex, ErrUnknownTexture)
	}
	return t, nil
}
