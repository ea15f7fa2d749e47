package loader

import (
	"github.com/Carmen-Shannon/oxy-scene/engine/geometry"
	"github.com/Carmen-Shannon/oxy-scene/engine/material"
	"github.com/Carmen-Shannon/oxy-scene/engine/model"
	"github.com/Carmen-Shannon/oxy-scene/engine/scenegraph"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"go.uber.org/zap"
)

// noSkin marks geometry placed without joint rebasing.
const noSkin = -1

// placementKey identifies one copy of a block in the flat arrays. Skinned geometry is copied once per skin,
// since its joint indices are rebased per skin.
type placementKey struct {
	key  geometry.MeshPrimitiveKey
	skin int
}

// placement is where a block landed in the flat arrays.
type placement struct {
	baseVertex    uint32
	firstIndex    uint32
	indexCount    uint32
	meshletOffset uint32
	meshletCount  uint32
}

// skinRange is the slice of JointMatrices owned by one skin.
type skinRange struct {
	base  int
	count int
}

// assembly is the running state of one walk. Every append goes through it so the running lengths of the flat
// arrays are the only source of rebasing offsets.
type assembly struct {
	doc             *gltf.Document
	log             *zap.Logger
	blocks          geometry.Blocks
	refs            map[geometry.PrimitiveRef]geometry.MeshPrimitiveKey
	walked          walkedNodes
	defaultMaterial material.GPUMaterial

	arrays     *model.SceneArrays
	placements map[placementKey]placement
	skins      map[int]skinRange

	// the most recently appended mesh, extended when the next draw repeats it
	last    geometry.PrimitiveRef
	lastAt  placementKey
	hasLast bool
}

func newAssembly(doc *gltf.Document, log *zap.Logger, blocks geometry.Blocks, refs map[geometry.PrimitiveRef]geometry.MeshPrimitiveKey,
	walked walkedNodes, materials []material.GPUMaterial, defaultMaterial material.GPUMaterial) *assembly {
	return &assembly{
		doc:             doc,
		log:             log,
		blocks:          blocks,
		refs:            refs,
		walked:          walked,
		defaultMaterial: defaultMaterial,
		arrays:          &model.SceneArrays{Materials: append([]material.GPUMaterial(nil), materials...)},
		placements:      make(map[placementKey]placement, len(blocks)),
		skins:           make(map[int]skinRange),
	}
}

// emitNode appends every primitive the node draws and records the node's instance range.
func (a *assembly) emitNode(graph scenegraph.SceneGraph, v visit) {
	node := a.doc.Nodes[v.src]
	if node.Mesh == nil {
		return
	}
	meshIndex := *node.Mesh
	if meshIndex < 0 || meshIndex >= len(a.doc.Meshes) || a.doc.Meshes[meshIndex] == nil {
		a.log.Error("node references a missing mesh", zap.Int("node", v.src), zap.Int("mesh", meshIndex))
		return
	}

	offsets, err := instanceOffsets(a.doc, node)
	if err != nil {
		a.log.Warn("instancing data unreadable, drawing the node once",
			zap.Int("node", v.src), zap.String("extension", ExtMeshGPUInstancing), zap.Error(err))
	}
	if len(offsets) == 0 {
		offsets = []mgl32.Mat4{mgl32.Ident4()}
	}

	skin := noSkin
	if node.Skin != nil {
		if _, err := a.skin(*node.Skin); err != nil {
			a.log.Warn("skin unreadable, drawing unskinned", zap.Int("node", v.src), zap.Int("skin", *node.Skin), zap.Error(err))
		} else {
			skin = *node.Skin
		}
	}

	start := len(a.arrays.Instances)
	for pi, prim := range a.doc.Meshes[meshIndex].Primitives {
		if prim == nil {
			continue
		}
		ref := geometry.PrimitiveRef{Mesh: meshIndex, Primitive: pi}
		key, ok := a.refs[ref]
		block := a.blocks[key]
		if !ok || block == nil {
			a.log.Debug("primitive excluded", zap.Int("node", v.src), zap.Int("mesh", meshIndex), zap.Int("primitive", pi))
			continue
		}

		at := placementKey{key: key, skin: noSkin}
		if block.JointIndices != nil && skin != noSkin {
			at.skin = skin
		}
		p := a.place(block, at)
		a.appendDraw(ref, at, p, a.materialIndex(prim, v.src, meshIndex, pi), v.global, offsets)
	}

	if end := len(a.arrays.Instances); end > start {
		_ = graph.SetInstanceRange(v.id, scenegraph.InstanceRange{Start: uint32(start), End: uint32(end)})
	}
}

// materialIndex resolves a primitive's material. A primitive without one gets a freshly appended default.
func (a *assembly) materialIndex(prim *gltf.Primitive, node, mesh, primitive int) uint32 {
	if prim.Material != nil {
		if idx := *prim.Material; idx >= 0 && idx < len(a.doc.Materials) {
			return uint32(idx)
		}
		a.log.Warn("primitive references a missing material, using default",
			zap.Int("node", node), zap.Int("mesh", mesh), zap.Int("primitive", primitive), zap.Int("material", *prim.Material))
	}
	a.arrays.Materials = append(a.arrays.Materials, a.defaultMaterial)
	return uint32(len(a.arrays.Materials) - 1)
}

// place appends the block's geometry the first time its placement is seen. Meshlet offsets are rebased onto the
// running lengths of the meshlet index buffers; meshlet vertex indices and the index buffer stay block-local and
// are addressed through the mesh's BaseVertex.
func (a *assembly) place(block *geometry.Block, at placementKey) placement {
	if p, ok := a.placements[at]; ok {
		return p
	}
	arr := a.arrays

	p := placement{
		baseVertex:    uint32(len(arr.Vertices)),
		firstIndex:    uint32(len(arr.Indices)),
		indexCount:    uint32(len(block.Indices)),
		meshletOffset: uint32(len(arr.Meshlets)),
		meshletCount:  uint32(len(block.Meshlets)),
	}
	vertexBase := uint32(len(arr.MeshletVertexIndices))
	localBase := uint32(len(arr.MeshletLocalIndices))

	a.appendJoints(block, at.skin)

	arr.Vertices = append(arr.Vertices, block.Vertices...)
	arr.Positions = append(arr.Positions, block.Positions...)
	arr.Indices = append(arr.Indices, block.Indices...)
	for _, m := range block.Meshlets {
		m.VertexOffset += vertexBase
		m.IndicesOffset += localBase
		arr.Meshlets = append(arr.Meshlets, m)
	}
	arr.MeshletInfos = append(arr.MeshletInfos, block.MeshletInfos...)
	arr.MeshletVertexIndices = append(arr.MeshletVertexIndices, block.MeshletVertexIndices...)
	arr.MeshletLocalIndices = append(arr.MeshletLocalIndices, block.MeshletLocalIndices...)

	a.placements[at] = p
	return p
}

// appendJoints keeps JointIndices and JointWeights parallel to Vertices once anything is skinned. It must run
// before the block's vertices are appended.
func (a *assembly) appendJoints(block *geometry.Block, skin int) {
	arr := a.arrays
	pad := func(n int) {
		arr.JointIndices = append(arr.JointIndices, make([][4]uint32, n)...)
		arr.JointWeights = append(arr.JointWeights, make([][4]float32, n)...)
	}

	if skin == noSkin {
		if len(arr.JointIndices) > 0 {
			pad(len(block.Vertices))
		}
		return
	}
	if len(arr.JointIndices) == 0 {
		pad(len(arr.Vertices))
	}

	r := a.skins[skin]
	dropped := 0
	for i, joints := range block.JointIndices {
		weights := block.JointWeights[i]
		for k := range joints {
			if int(joints[k]) >= r.count {
				joints[k], weights[k] = 0, 0
				dropped++
			}
			joints[k] += uint32(r.base)
		}
		arr.JointIndices = append(arr.JointIndices, joints)
		arr.JointWeights = append(arr.JointWeights, weights)
	}
	if dropped > 0 {
		a.log.Warn("joint influences beyond the skin dropped", zap.Int("skin", skin), zap.Int("influences", dropped))
	}
}

// appendDraw places one instance per offset and either extends the previous mesh, when the previous draw was the
// same primitive at the same placement, or starts a new mesh and draw command.
func (a *assembly) appendDraw(ref geometry.PrimitiveRef, at placementKey, p placement, materialIndex uint32, global mgl32.Mat4, offsets []mgl32.Mat4) {
	arr := a.arrays
	merge := a.hasLast && a.last == ref && a.lastAt == at
	meshIndex := uint32(len(arr.Meshes))
	if merge {
		meshIndex--
	}

	for _, off := range offsets {
		arr.Instances = append(arr.Instances, model.NewGPUMeshInstance(global.Mul4(off), meshIndex))
		arr.InstanceOffsets = append(arr.InstanceOffsets, off)
	}
	n := uint32(len(offsets))

	if merge {
		arr.Meshes[meshIndex].InstanceCount += n
		arr.DrawCommands[meshIndex].InstanceCount += n
		return
	}

	base := uint32(len(arr.Instances)) - n
	arr.Meshes = append(arr.Meshes, model.GPUMesh{
		MaterialIndex: materialIndex,
		MeshletOffset: p.meshletOffset,
		MeshletCount:  p.meshletCount,
		InstanceCount: n,
		BaseInstance:  base,
		BaseVertex:    p.baseVertex,
	})
	arr.DrawCommands = append(arr.DrawCommands, model.GPUDrawElementsCmd{
		Count:         p.indexCount,
		InstanceCount: n,
		FirstIndex:    p.firstIndex,
		BaseVertex:    int32(p.baseVertex),
		BaseInstance:  base,
	})
	a.last, a.lastAt, a.hasLast = ref, at, true
}
