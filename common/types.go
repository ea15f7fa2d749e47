// package common contains common types that are used throughout this engine. They are not interface-wrapped structs, just plain structs that express
// commonly used data-types.
package common

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/h2non/filetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrEmptyTexture is returned when a texture carries neither embedded bytes nor a path.
	ErrEmptyTexture = errors.New("texture has neither data nor path")
	// ErrUnknownImageFormat is returned when the image container cannot be identified.
	ErrUnknownImageFormat = errors.New("unknown image format")
)

// MimeKTX2 is the media type registered for KTX2 containers.
const MimeKTX2 = "image/ktx2"

var ktx2Identifier = []byte{0xAB, 'K', 'T', 'X', ' ', '2', '0', 0xBB, '\r', '\n', 0x1A, '\n'}

var ktx2Type = filetype.NewType("ktx2", MimeKTX2)

func init() {
	filetype.AddMatcher(ktx2Type, func(buf []byte) bool {
		return bytes.HasPrefix(buf, ktx2Identifier)
	})
}

// TextureStagingData holds decoded pixel data for a texture pending GPU upload.
type TextureStagingData struct {
	// Pixels holds RGBA8 rows for uncompressed textures, or the raw container payload when Compressed is set.
	Pixels []byte
	// Width is the width of the texture in pixels.
	Width uint32
	// Height is the height of the texture in pixels.
	Height uint32
	// Compressed marks a block-compressed payload that must be uploaded without conversion.
	Compressed bool
	// VkFormat is the format code from a KTX2 header; zero for uncompressed data.
	VkFormat uint32
}

// Release drops the staging memory so it can be collected once an upload is abandoned or complete.
func (s *TextureStagingData) Release() {
	if s == nil {
		return
	}
	s.Pixels = nil
}

// SamplerStagingData holds the sampler configuration a texture was authored with.
// It is comparable so it can participate in texture deduplication keys.
type SamplerStagingData struct {
	AddressModeU, AddressModeV, AddressModeW wgpu.AddressMode
	MagFilter, MinFilter                     wgpu.FilterMode
	MipmapFilter                             wgpu.MipmapFilterMode
	MaxAnisotropy                            uint16
}

// DefaultSampler returns the linear, repeating sampler used when a texture does not reference one.
func DefaultSampler() SamplerStagingData {
	return SamplerStagingData{
		AddressModeU:  wgpu.AddressModeRepeat,
		AddressModeV:  wgpu.AddressModeRepeat,
		AddressModeW:  wgpu.AddressModeRepeat,
		MagFilter:     wgpu.FilterModeLinear,
		MinFilter:     wgpu.FilterModeLinear,
		MipmapFilter:  wgpu.MipmapFilterModeLinear,
		MaxAnisotropy: 1,
	}
}

// ImportedTexture represents image data referenced by an asset.
// For embedded images the Data field contains the encoded bytes; for external images Path points at the file.
type ImportedTexture struct {
	// Name is an identifier for diagnostics.
	Name string

	// Path is the file path for external images (empty for embedded).
	Path string

	// Data contains the encoded image bytes.
	Data []byte

	// MimeType is the declared media type; when empty it is sniffed from the content.
	MimeType string
}

// Bytes returns the encoded image bytes, reading them from Path when nothing is embedded.
// The result is cached on the texture.
//
// Returns:
//   - []byte: the encoded image
//   - error: error if the file cannot be read or the texture is empty
func (t *ImportedTexture) Bytes() ([]byte, error) {
	if t == nil {
		return nil, ErrEmptyTexture
	}
	if len(t.Data) > 0 {
		return t.Data, nil
	}
	if t.Path == "" {
		return nil, ErrEmptyTexture
	}
	data, err := os.ReadFile(t.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read texture file %s: %w", t.Path, err)
	}
	t.Data = data
	return data, nil
}

// DetectMimeType returns the declared media type, or the one sniffed from the content.
func (t *ImportedTexture) DetectMimeType() (string, error) {
	if t.MimeType != "" {
		return t.MimeType, nil
	}
	data, err := t.Bytes()
	if err != nil {
		return "", err
	}
	kind, err := filetype.Match(data)
	if err != nil {
		return "", fmt.Errorf("failed to sniff texture %s: %w", t.Name, err)
	}
	if kind == filetype.Unknown {
		return "", fmt.Errorf("texture %s: %w", t.Name, ErrUnknownImageFormat)
	}
	t.MimeType = kind.MIME.Value
	return t.MimeType, nil
}

// Decode decodes the texture into staging data.
// PNG, JPEG, WebP, BMP and TIFF are decoded to RGBA8. KTX2 containers are passed through as compressed payloads.
//
// Returns:
//   - *TextureStagingData: the staged pixels
//   - error: error if reading or decoding fails
func (t *ImportedTexture) Decode() (*TextureStagingData, error) {
	data, err := t.Bytes()
	if err != nil {
		return nil, err
	}
	mime, err := t.DetectMimeType()
	if err != nil {
		return nil, err
	}
	if mime == MimeKTX2 {
		return decodeKTX2Header(data)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", t.Name, err)
	}

	bounds := img.Bounds()
	rgba, ok := img.(*image.RGBA)
	if !ok || rgba.Stride != bounds.Dx()*4 {
		rgba = image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	}

	return &TextureStagingData{
		Pixels: rgba.Pix,
		Width:  uint32(bounds.Dx()),
		Height: uint32(bounds.Dy()),
	}, nil
}

// KTX2 header layout offsets.
const (
	ktx2HeaderSize       = 80
	ktx2VkFormat         = 12
	ktx2PixelWidth       = 20
	ktx2PixelHeight      = 24
	ktx2Supercompression = 44
)

// ErrTranscodeRequired is returned for KTX2 payloads that need transcoding before upload.
var ErrTranscodeRequired = errors.New("ktx2 payload requires transcoding")

// decodeKTX2Header reads the dimensions and format of a KTX2 container and slices out its level 0 payload.
// Universal (VK_FORMAT_UNDEFINED) and supercompressed containers are rejected.
func decodeKTX2Header(data []byte) (*TextureStagingData, error) {
	if len(data) < ktx2HeaderSize+24 || !bytes.HasPrefix(data, ktx2Identifier) {
		return nil, fmt.Errorf("truncated ktx2 header: %w", ErrUnknownImageFormat)
	}

	vkFormat := binary.LittleEndian.Uint32(data[ktx2VkFormat:])
	if vkFormat == 0 {
		return nil, fmt.Errorf("basis universal payload: %w", ErrTranscodeRequired)
	}
	if scheme := binary.LittleEndian.Uint32(data[ktx2Supercompression:]); scheme != 0 {
		return nil, fmt.Errorf("supercompression scheme %d: %w", scheme, ErrTranscodeRequired)
	}
	// level 0 is the first level index entry and the largest mip
	offset := binary.LittleEndian.Uint64(data[ktx2HeaderSize:])
	length := binary.LittleEndian.Uint64(data[ktx2HeaderSize+8:])
	if offset+length > uint64(len(data)) {
		return nil, fmt.Errorf("ktx2 level 0 out of range: %w", ErrUnknownImageFormat)
	}

	return &TextureStagingData{
		Pixels:     data[offset : offset+length],
		VkFormat:   vkFormat,
		Width:      binary.LittleEndian.Uint32(data[ktx2PixelWidth:]),
		Height:     binary.LittleEndian.Uint32(data[ktx2PixelHeight:]),
		Compressed: true,
	}, nil
}
