// Package model holds the GPU record layouts and the Model produced by an import: the flat scene arrays plus the
// scene graph that places their instances.
package model

import (
	"github.com/Carmen-Shannon/oxy-scene/common"
	"github.com/Carmen-Shannon/oxy-scene/engine/scenegraph"
	"github.com/Carmen-Shannon/oxy-scene/engine/transform"
	"github.com/go-gl/mathgl/mgl32"
)

// model is the implementation of the Model interface.
type model struct {
	name   string
	source string
	graph  scenegraph.SceneGraph
	arrays *SceneArrays
}

// Model defines the interface for an imported scene.
// A Model owns the flat GPU arrays of one import and the scene graph whose nodes reference instance ranges in them.
// It is not safe for concurrent mutation.
type Model interface {
	// Name retrieves the model identifier.
	//
	// Returns:
	//   - string: the model name
	Name() string

	// Source retrieves the path the model was imported from, empty for in-memory documents.
	//
	// Returns:
	//   - string: the source path
	Source() string

	// Graph retrieves the scene graph.
	//
	// Returns:
	//   - scenegraph.SceneGraph: the graph
	Graph() scenegraph.SceneGraph

	// Arrays retrieves the flat GPU arrays. The pointer stays valid for the life of the model.
	//
	// Returns:
	//   - *SceneArrays: the arrays
	Arrays() *SceneArrays

	// Stats returns the array sizes.
	//
	// Returns:
	//   - Stats: the sizes
	Stats() Stats

	// SetLocalTransform replaces a node's local transform. Instances follow on the next UpdateInstances.
	//
	// Parameters:
	//   - node: the node to move
	//   - t: the new local transform
	//
	// Returns:
	//   - error: scenegraph.ErrInvalidNode for an unknown node
	SetLocalTransform(node scenegraph.NodeID, t transform.Transform) error

	// UpdateInstances recomputes every dirty subtree and writes each visited node's global transform, composed with
	// the per-instance offset, into the instances of its range.
	//
	// Returns:
	//   - int: the number of nodes recomputed
	UpdateInstances() int

	// SnapshotPrev copies every instance's model matrix into its previous-frame slot. Call once per rendered frame.
	SnapshotPrev()

	// MovedInstances returns the indices of instances whose model matrix changed since the last SnapshotPrev.
	//
	// Returns:
	//   - []uint32: the moved instance indices in ascending order
	MovedInstances() []uint32

	// Bounds returns the world-space box of every instance's meshlets.
	//
	// Returns:
	//   - common.AABB: the bounds, empty when there are no instances
	Bounds() common.AABB

	// Clone returns an independent deep copy of the model.
	//
	// Returns:
	//   - Model: the copy
	Clone() Model
}

var _ Model = &model{}

// NewModel creates a new Model instance configured with the provided options.
// A model without a graph or arrays gets empty ones.
//
// Parameters:
//   - options: variadic list of ModelBuilderOption functions to configure the model
//
// Returns:
//   - Model: a new Model instance
func NewModel(options ...ModelBuilderOption) Model {
	m := &model{}
	for _, opt := range options {
		opt(m)
	}
	if m.graph == nil {
		m.graph = scenegraph.NewSceneGraph()
	}
	if m.arrays == nil {
		m.arrays = &SceneArrays{}
	}
	return m
}

func (m *model) Name() string {
	return m.name
}

func (m *model) Source() string {
	return m.source
}

func (m *model) Graph() scenegraph.SceneGraph {
	return m.graph
}

func (m *model) Arrays() *SceneArrays {
	return m.arrays
}

func (m *model) Stats() Stats {
	return m.arrays.Stats()
}

func (m *model) SetLocalTransform(node scenegraph.NodeID, t transform.Transform) error {
	return m.graph.SetLocalTransform(node, t)
}

func (m *model) UpdateInstances() int {
	instances := m.arrays.Instances
	offsets := m.arrays.InstanceOffsets
	return m.graph.RecomputeDirty(func(id scenegraph.NodeID, global mgl32.Mat4) {
		r := m.graph.InstanceRange(id)
		for i := r.Start; i < r.End; i++ {
			instances[i].SetModel(global.Mul4(offsets[i]))
		}
	})
}

func (m *model) SnapshotPrev() {
	for i := range m.arrays.Instances {
		m.arrays.Instances[i].SnapshotPrev()
	}
}

func (m *model) MovedInstances() []uint32 {
	var moved []uint32
	for i := range m.arrays.Instances {
		if m.arrays.Instances[i].DidMove() {
			moved = append(moved, uint32(i))
		}
	}
	return moved
}

func (m *model) Bounds() common.AABB {
	out := common.EmptyAABB()
	a := m.arrays
	for _, mesh := range a.Meshes {
		local := common.EmptyAABB()
		for k := mesh.MeshletOffset; k < mesh.MeshletOffset+mesh.MeshletCount; k++ {
			info := a.MeshletInfos[k]
			local.Extend(info.Min)
			local.Extend(info.Max)
		}
		if local.IsEmpty() {
			continue
		}
		for j := mesh.BaseInstance; j < mesh.BaseInstance+mesh.InstanceCount; j++ {
			out = out.Union(transformBox(local, a.Instances[j].ModelMatrix()))
		}
	}
	return out
}

func (m *model) Clone() Model {
	return &model{
		name:   m.name,
		source: m.source,
		graph:  m.graph.DeepClone(),
		arrays: m.arrays.Clone(),
	}
}

// transformBox returns the box around the eight transformed corners of b.
func transformBox(b common.AABB, mat mgl32.Mat4) common.AABB {
	out := common.EmptyAABB()
	for c := 0; c < 8; c++ {
		p := b.Min
		if c&1 != 0 {
			p[0] = b.Max[0]
		}
		if c&2 != 0 {
			p[1] = b.Max[1]
		}
		if c&4 != 0 {
			p[2] = b.Max[2]
		}
		out.Extend(mgl32.TransformCoordinate(p, mat))
	}
	return out
}
