package geometry

import (
	"errors"
	"fmt"

	"github.com/qmuntal/gltf"
)

var (
	// ErrUnsupportedFormat is wrapped by every UnsupportedFormatError.
	ErrUnsupportedFormat = errors.New("unsupported accessor format")
	// ErrMissingPosition marks a primitive without a POSITION attribute. Such primitives are skipped.
	ErrMissingPosition = errors.New("primitive has no POSITION attribute")
	// ErrUnsupportedTopology marks a primitive whose mode is not a triangle list.
	ErrUnsupportedTopology = errors.New("unsupported primitive topology")
	// ErrAccessorRange is returned when an accessor or buffer view reads outside its buffer.
	ErrAccessorRange = errors.New("accessor out of range")
)

// UnsupportedFormatError reports an accessor whose numeric encoding cannot be read, such as sparse storage or a
// component type the attribute does not allow.
type UnsupportedFormatError struct {
	Accessor      int
	ComponentType gltf.ComponentType
	Type          gltf.AccessorType
	Reason        string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("accessor %d (component type %d, type %d): %s", e.Accessor, e.ComponentType, e.Type, e.Reason)
}

func (e *UnsupportedFormatError) Unwrap() error {
	return ErrUnsupportedFormat
}
