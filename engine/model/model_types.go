package model

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Carmen-Shannon/oxy-scene/engine/material"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/multierr"
)

// ErrInconsistentArrays is wrapped by every SceneArrays.Validate failure.
var ErrInconsistentArrays = errors.New("inconsistent scene arrays")

// SceneArrays is the flat, GPU-ready output of one import. Every offset stored in a record addresses the global
// arrays below; meshlet vertex indices are relative to the owning mesh's BaseVertex.
type SceneArrays struct {
	// DrawCommands and Meshes are parallel: the draw at index i renders mesh i.
	DrawCommands []GPUDrawElementsCmd
	Meshes       []GPUMesh

	// Instances are grouped by mesh; mesh i owns Instances[BaseInstance : BaseInstance+InstanceCount].
	Instances []GPUMeshInstance
	// InstanceOffsets holds, parallel to Instances, the transform applied after the owning node's global transform.
	// It is the identity unless the node carries per-instance transforms.
	InstanceOffsets []mgl32.Mat4

	Vertices  []GPUVertex
	Positions []mgl32.Vec3
	Indices   []uint32

	Meshlets             []GPUMeshlet
	MeshletInfos         []GPUMeshletInfo
	MeshletVertexIndices []uint32
	MeshletLocalIndices  []uint8

	// JointIndices and JointWeights are empty when nothing is skinned, otherwise parallel to Vertices.
	// Joint indices address JointMatrices.
	JointIndices  [][4]uint32
	JointWeights  [][4]float32
	JointMatrices []mgl32.Mat4

	Materials []material.GPUMaterial
}

// Stats summarizes the array sizes of a SceneArrays.
type Stats struct {
	DrawCommands  int
	Instances     int
	Vertices      int
	Indices       int
	Meshlets      int
	Materials     int
	JointMatrices int
}

func (s Stats) String() string {
	return fmt.Sprintf("%d draws, %d instances, %d vertices, %d indices, %d meshlets, %d materials, %d joints",
		s.DrawCommands, s.Instances, s.Vertices, s.Indices, s.Meshlets, s.Materials, s.JointMatrices)
}

// Stats returns the array sizes.
func (a *SceneArrays) Stats() Stats {
	return Stats{
		DrawCommands:  len(a.DrawCommands),
		Instances:     len(a.Instances),
		Vertices:      len(a.Vertices),
		Indices:       len(a.Indices),
		Meshlets:      len(a.Meshlets),
		Materials:     len(a.Materials),
		JointMatrices: len(a.JointMatrices),
	}
}

// Clone returns a deep copy.
func (a *SceneArrays) Clone() *SceneArrays {
	return &SceneArrays{
		DrawCommands:         slices.Clone(a.DrawCommands),
		Meshes:               slices.Clone(a.Meshes),
		Instances:            slices.Clone(a.Instances),
		InstanceOffsets:      slices.Clone(a.InstanceOffsets),
		Vertices:             slices.Clone(a.Vertices),
		Positions:            slices.Clone(a.Positions),
		Indices:              slices.Clone(a.Indices),
		Meshlets:             slices.Clone(a.Meshlets),
		MeshletInfos:         slices.Clone(a.MeshletInfos),
		MeshletVertexIndices: slices.Clone(a.MeshletVertexIndices),
		MeshletLocalIndices:  slices.Clone(a.MeshletLocalIndices),
		JointIndices:         slices.Clone(a.JointIndices),
		JointWeights:         slices.Clone(a.JointWeights),
		JointMatrices:        slices.Clone(a.JointMatrices),
		Materials:            slices.Clone(a.Materials),
	}
}

// Validate checks that every offset in the arrays resolves.
//
// Returns:
//   - error: every violation found, each wrapping ErrInconsistentArrays, or nil
func (a *SceneArrays) Validate() error {
	var errs error
	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format+": %w", append(args, ErrInconsistentArrays)...))
	}

	if len(a.DrawCommands) != len(a.Meshes) {
		fail("%d draw commands for %d meshes", len(a.DrawCommands), len(a.Meshes))
	}
	if len(a.InstanceOffsets) != len(a.Instances) {
		fail("%d instance offsets for %d instances", len(a.InstanceOffsets), len(a.Instances))
	}
	if len(a.Positions) != len(a.Vertices) {
		fail("%d positions for %d vertices", len(a.Positions), len(a.Vertices))
	}
	if len(a.Meshlets) != len(a.MeshletInfos) {
		fail("%d meshlet infos for %d meshlets", len(a.MeshletInfos), len(a.Meshlets))
	}
	if len(a.JointIndices) != len(a.JointWeights) || (len(a.JointIndices) != 0 && len(a.JointIndices) != len(a.Vertices)) {
		fail("%d joint indices and %d weights for %d vertices", len(a.JointIndices), len(a.JointWeights), len(a.Vertices))
	}

	for i, m := range a.Meshlets {
		if int(m.VertexOffset)+int(m.VertexCount) > len(a.MeshletVertexIndices) {
			fail("meshlet %d vertex range [%d,+%d) exceeds %d", i, m.VertexOffset, m.VertexCount, len(a.MeshletVertexIndices))
		}
		if int(m.IndicesOffset)+int(m.PaddedIndexBytes()) > len(a.MeshletLocalIndices) {
			fail("meshlet %d index range [%d,+%d) exceeds %d", i, m.IndicesOffset, m.PaddedIndexBytes(), len(a.MeshletLocalIndices))
		}
	}

	instances := 0
	for i, mesh := range a.Meshes {
		instances += int(mesh.InstanceCount)
		if int(mesh.MaterialIndex) >= len(a.Materials) {
			fail("mesh %d material %d out of %d", i, mesh.MaterialIndex, len(a.Materials))
		}
		if int(mesh.BaseInstance)+int(mesh.InstanceCount) > len(a.Instances) {
			fail("mesh %d instances [%d,+%d) exceed %d", i, mesh.BaseInstance, mesh.InstanceCount, len(a.Instances))
		} else {
			for j := mesh.BaseInstance; j < mesh.BaseInstance+mesh.InstanceCount; j++ {
				if a.Instances[j].MeshIndex != uint32(i) {
					fail("instance %d belongs to mesh %d, inside the range of mesh %d", j, a.Instances[j].MeshIndex, i)
				}
			}
		}
		if int(mesh.MeshletOffset)+int(mesh.MeshletCount) > len(a.Meshlets) {
			fail("mesh %d meshlets [%d,+%d) exceed %d", i, mesh.MeshletOffset, mesh.MeshletCount, len(a.Meshlets))
			continue
		}
		for k := mesh.MeshletOffset; k < mesh.MeshletOffset+mesh.MeshletCount; k++ {
			m := a.Meshlets[k]
			if int(m.VertexOffset)+int(m.VertexCount) > len(a.MeshletVertexIndices) {
				continue
			}
			for _, v := range a.MeshletVertexIndices[m.VertexOffset : m.VertexOffset+m.VertexCount] {
				if int(mesh.BaseVertex)+int(v) >= len(a.Vertices) {
					fail("mesh %d meshlet %d reads vertex %d of %d", i, k, int(mesh.BaseVertex)+int(v), len(a.Vertices))
					break
				}
			}
		}
	}
	if instances != len(a.Instances) {
		fail("draws cover %d instances, array holds %d", instances, len(a.Instances))
	}

	for i, d := range a.DrawCommands {
		if int(d.FirstIndex)+int(d.Count) > len(a.Indices) {
			fail("draw %d indices [%d,+%d) exceed %d", i, d.FirstIndex, d.Count, len(a.Indices))
			continue
		}
		if d.BaseVertex < 0 {
			fail("draw %d has negative base vertex %d", i, d.BaseVertex)
			continue
		}
		for _, idx := range a.Indices[d.FirstIndex : d.FirstIndex+d.Count] {
			if int(d.BaseVertex)+int(idx) >= len(a.Vertices) {
				fail("draw %d reads vertex %d of %d", i, int(d.BaseVertex)+int(idx), len(a.Vertices))
				break
			}
		}
		if i < len(a.Meshes) && (d.InstanceCount != a.Meshes[i].InstanceCount || d.BaseInstance != a.Meshes[i].BaseInstance) {
			fail("draw %d instance range differs from its mesh", i)
		}
	}

	for i, j := range a.JointIndices {
		for _, idx := range j {
			if len(a.JointMatrices) > 0 && int(idx) >= len(a.JointMatrices) {
				fail("vertex %d joint %d out of %d", i, idx, len(a.JointMatrices))
				break
			}
		}
	}
	return errs
}
