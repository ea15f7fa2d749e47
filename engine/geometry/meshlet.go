package geometry

import (
	"github.com/Carmen-Shannon/oxy-scene/common"
	"github.com/Carmen-Shannon/oxy-scene/engine/model"
	"github.com/go-gl/mathgl/mgl32"
)

const (
	// MaxMeshletVertices is the hardware-reserved vertex limit of one meshlet.
	MaxMeshletVertices = 128
	// MaxMeshletTriangles is the hardware-reserved triangle limit of one meshlet.
	MaxMeshletTriangles = 252
)

// MeshletLimits bounds the greedy clustering. Values above the hardware limits are clamped to them.
type MeshletLimits struct {
	MaxVertices  int
	MaxTriangles int
}

// DefaultMeshletLimits returns the hardware limits.
func DefaultMeshletLimits() MeshletLimits {
	return MeshletLimits{MaxVertices: MaxMeshletVertices, MaxTriangles: MaxMeshletTriangles}
}

func (l MeshletLimits) clamped() MeshletLimits {
	if l.MaxVertices < 3 || l.MaxVertices > MaxMeshletVertices {
		l.MaxVertices = MaxMeshletVertices
	}
	if l.MaxTriangles < 1 || l.MaxTriangles > MaxMeshletTriangles {
		l.MaxTriangles = MaxMeshletTriangles
	}
	return l
}

// meshletSet is the block-local output of buildMeshlets.
type meshletSet struct {
	meshlets      []model.GPUMeshlet
	infos         []model.GPUMeshletInfo
	vertexIndices []uint32
	localIndices  []uint8
}

// buildMeshlets partitions a triangle list into meshlets greedily in index order.
// A meshlet is closed as soon as the next triangle would exceed either limit. Each meshlet's local indices are
// padded with zeros to a multiple of 4 bytes, and its bounds are the box of its member vertex positions.
func buildMeshlets(positions []mgl32.Vec3, indices []uint32, limits MeshletLimits) meshletSet {
	limits = limits.clamped()

	var out meshletSet
	local := make([]int32, len(positions))
	for i := range local {
		local[i] = -1
	}

	var members []uint32
	var tris []uint8
	flush := func() {
		if len(tris) == 0 {
			return
		}
		m := model.GPUMeshlet{
			VertexOffset:  uint32(len(out.vertexIndices)),
			IndicesOffset: uint32(len(out.localIndices)),
			VertexCount:   uint32(len(members)),
			TriangleCount: uint32(len(tris) / 3),
		}
		box := common.EmptyAABB()
		for _, v := range members {
			box.Extend(positions[v])
			local[v] = -1
		}
		out.meshlets = append(out.meshlets, m)
		out.infos = append(out.infos, model.GPUMeshletInfo{Min: box.Min, Max: box.Max})
		out.vertexIndices = append(out.vertexIndices, members...)
		out.localIndices = append(out.localIndices, tris...)
		for len(out.localIndices)%4 != 0 {
			out.localIndices = append(out.localIndices, 0)
		}
		members = members[:0]
		tris = tris[:0]
	}

	for t := 0; t+2 < len(indices); t += 3 {
		tri := [3]uint32{indices[t], indices[t+1], indices[t+2]}

		extra := 0
		for k, v := range tri {
			if local[v] >= 0 {
				continue
			}
			// a vertex repeated within the triangle only counts once
			if (k == 1 && tri[0] == v) || (k == 2 && (tri[0] == v || tri[1] == v)) {
				continue
			}
			extra++
		}
		if len(members)+extra > limits.MaxVertices || len(tris)/3+1 > limits.MaxTriangles {
			flush()
		}

		for _, v := range tri {
			if local[v] < 0 {
				local[v] = int32(len(members))
				members = append(members, v)
			}
			tris = append(tris, uint8(local[v]))
		}
	}
	flush()

	return out
}
