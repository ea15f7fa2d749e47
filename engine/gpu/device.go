// Package gpu defines the texture upload contract the material pipeline depends on, and the main-context work queue
// that serializes GPU object creation.
package gpu

import (
	"errors"

	"github.com/Carmen-Shannon/oxy-scene/common"
	"github.com/cogentcore/webgpu/wgpu"
)

var (
	// ErrDeviceClosed is returned by every device call after Close.
	ErrDeviceClosed = errors.New("texture device is closed")
	// ErrUnknownTexture is returned for a texture that was never created or was already released.
	ErrUnknownTexture = errors.New("unknown texture")
	// ErrUploadSize is returned when staged pixels do not cover the texture extent.
	ErrUploadSize = errors.New("staging data does not match texture size")
	// ErrUnsupportedFormat is returned for compressed payloads the device cannot upload.
	ErrUnsupportedFormat = errors.New("unsupported texture format")
)

// Texture identifies a texture object owned by a TextureDevice.
type Texture uint32

// Handle is a bindless texture reference. The zero Handle is never issued.
type Handle uint32

// InvalidHandle is the Handle of a texture that has not been made resident.
const InvalidHandle Handle = 0

// TextureDescriptor describes a 2D texture to create.
type TextureDescriptor struct {
	Label  string
	Width  uint32
	Height uint32
	// Format is the target format for uncompressed data. Compressed uploads take their format from the staging data.
	Format  wgpu.TextureFormat
	Sampler common.SamplerStagingData
}

// TextureDevice is the GPU object layer used by material loading.
// Every method must be called from the main context that owns the device; see MainQueue.
type TextureDevice interface {
	// CreateTexture allocates a texture without contents.
	//
	// Parameters:
	//   - desc: the texture descriptor
	//
	// Returns:
	//   - Texture: the new texture
	//   - error: error if the device is closed or creation fails
	CreateTexture(desc TextureDescriptor) (Texture, error)

	// Upload writes the staged level-0 pixels into the whole texture.
	//
	// Parameters:
	//   - tex: the destination texture
	//   - staging: the decoded pixels or compressed payload
	//
	// Returns:
	//   - error: ErrUploadSize when the staging extent differs, ErrUnsupportedFormat for unknown compressed formats
	Upload(tex Texture, staging *common.TextureStagingData) error

	// Handle makes the texture resident and returns its bindless handle. Repeated calls return the same handle.
	Handle(tex Texture) (Handle, error)

	// Release destroys the texture. Releasing an unknown texture is a no-op.
	Release(tex Texture)

	// Close releases every texture and rejects further calls.
	Close()
}

// uncompressedSize returns the RGBA8 byte size of a w x h image.
func uncompressedSize(w, h uint32) int {
	return int(w) * int(h) * 4
}
