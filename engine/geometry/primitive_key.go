package geometry

import (
	"fmt"

	"github.com/qmuntal/gltf"
)

// NoAccessor marks an attribute the primitive does not carry.
const NoAccessor = -1

// MeshPrimitiveKey identifies a structurally unique primitive by the accessors it reads.
// Primitives with equal keys share one Block regardless of how many nodes draw them.
type MeshPrimitiveKey struct {
	Position int
	Normal   int
	TexCoord int
	Joints   int
	Weights  int
	Index    int
	Color    int
	Mode     gltf.PrimitiveMode
}

// KeyOf builds the key for a primitive. Missing attributes use NoAccessor.
//
// Parameters:
//   - p: the source primitive
//
// Returns:
//   - MeshPrimitiveKey: the deduplication key
func KeyOf(p *gltf.Primitive) MeshPrimitiveKey {
	attr := func(name string) int {
		if idx, ok := p.Attributes[name]; ok {
			return idx
		}
		return NoAccessor
	}
	k := MeshPrimitiveKey{
		Position: attr(gltf.POSITION),
		Normal:   attr(gltf.NORMAL),
		TexCoord: attr(gltf.TEXCOORD_0),
		Joints:   attr(gltf.JOINTS_0),
		Weights:  attr(gltf.WEIGHTS_0),
		Color:    attr(gltf.COLOR_0),
		Index:    NoAccessor,
		Mode:     p.Mode,
	}
	if p.Indices != nil {
		k.Index = *p.Indices
	}
	return k
}

// Skinned reports whether the key carries both joints and weights.
func (k MeshPrimitiveKey) Skinned() bool {
	return k.Joints != NoAccessor && k.Weights != NoAccessor
}

func (k MeshPrimitiveKey) String() string {
	return fmt.Sprintf("pos=%d nrm=%d uv=%d jnt=%d wgt=%d idx=%d col=%d", k.Position, k.Normal, k.TexCoord, k.Joints, k.Weights, k.Index, k.Color)
}

// PrimitiveRef locates a primitive inside the source document.
type PrimitiveRef struct {
	Mesh      int
	Primitive int
}

// UniqueKeys collects the distinct keys of every primitive in the document, in first-seen order, together with
// the key of each (mesh, primitive) pair.
//
// Parameters:
//   - doc: the source document
//
// Returns:
//   - []MeshPrimitiveKey: distinct keys in mesh order
//   - map[PrimitiveRef]MeshPrimitiveKey: the key of every primitive
func UniqueKeys(doc *gltf.Document) ([]MeshPrimitiveKey, map[PrimitiveRef]MeshPrimitiveKey) {
	var keys []MeshPrimitiveKey
	seen := make(map[MeshPrimitiveKey]struct{})
	refs := make(map[PrimitiveRef]MeshPrimitiveKey)
	for mi, mesh := range doc.Meshes {
		if mesh == nil {
			continue
		}
		for pi, prim := range mesh.Primitives {
			if prim == nil {
				continue
			}
			k := KeyOf(prim)
			refs[PrimitiveRef{Mesh: mi, Primitive: pi}] = k
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	return keys, refs
}
