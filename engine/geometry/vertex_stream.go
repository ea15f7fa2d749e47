package geometry

import (
	"github.com/Carmen-Shannon/oxy-scene/common"
	"github.com/Carmen-Shannon/oxy-scene/engine/model"
	"github.com/go-gl/mathgl/mgl32"
)

// unused marks a vertex dropped by a remap table.
const unused = ^uint32(0)

// vertexStream holds the de-interleaved attributes of one primitive while it is processed.
// Optional attributes are nil when the primitive does not carry them.
type vertexStream struct {
	positions []mgl32.Vec3
	normals   []mgl32.Vec3
	texCoords []mgl32.Vec2
	colors    []mgl32.Vec4
	tangents  []mgl32.Vec4
	joints    [][4]uint32
	weights   [][4]float32
}

func (s *vertexStream) len() int {
	return len(s.positions)
}

// vertexIdentity is the full attribute tuple of one vertex, used to find exact duplicates.
type vertexIdentity struct {
	position mgl32.Vec3
	normal   mgl32.Vec3
	texCoord mgl32.Vec2
	color    mgl32.Vec4
	joints   [4]uint32
	weights  [4]float32
}

func (s *vertexStream) identity(i int) vertexIdentity {
	id := vertexIdentity{position: s.positions[i]}
	if s.normals != nil {
		id.normal = s.normals[i]
	}
	if s.texCoords != nil {
		id.texCoord = s.texCoords[i]
	}
	if s.colors != nil {
		id.color = s.colors[i]
	}
	if s.joints != nil {
		id.joints = s.joints[i]
	}
	if s.weights != nil {
		id.weights = s.weights[i]
	}
	return id
}

// permute moves vertex old to remap[old] for every old whose remap entry is not unused.
func (s *vertexStream) permute(remap []uint32, count int) {
	s.positions = permuteSlice(s.positions, remap, count)
	s.normals = permuteSlice(s.normals, remap, count)
	s.texCoords = permuteSlice(s.texCoords, remap, count)
	s.colors = permuteSlice(s.colors, remap, count)
	s.tangents = permuteSlice(s.tangents, remap, count)
	s.joints = permuteSlice(s.joints, remap, count)
	s.weights = permuteSlice(s.weights, remap, count)
}

func permuteSlice[T any](in []T, remap []uint32, count int) []T {
	if in == nil {
		return nil
	}
	out := make([]T, count)
	for old, dst := range remap {
		if dst != unused {
			out[dst] = in[old]
		}
	}
	return out
}

// generateNormals computes area-weighted smooth normals from the triangle list.
func (s *vertexStream) generateNormals(indices []uint32) {
	n := s.len()
	accum := make([]mgl32.Vec3, n)
	for i := 0; i+2 < len(indices); i += 3 {
		i0, i1, i2 := indices[i], indices[i+1], indices[i+2]
		p0, p1, p2 := s.positions[i0], s.positions[i1], s.positions[i2]
		face := p1.Sub(p0).Cross(p2.Sub(p0))
		accum[i0] = accum[i0].Add(face)
		accum[i1] = accum[i1].Add(face)
		accum[i2] = accum[i2].Add(face)
	}

	s.normals = make([]mgl32.Vec3, n)
	for i, a := range accum {
		if a.Len() < 1e-6 {
			s.normals[i] = mgl32.Vec3{0, 1, 0}
			continue
		}
		s.normals[i] = a.Normalize()
	}
}

// generateTangents derives per-vertex tangents from texture-coordinate gradients, orthonormalized against the
// normal, with the bitangent sign in w. Vertices without usable gradients fall back to referenceTangent.
func (s *vertexStream) generateTangents(indices []uint32) {
	n := s.len()
	tan := make([]mgl32.Vec3, n)
	btan := make([]mgl32.Vec3, n)

	if s.texCoords != nil {
		for i := 0; i+2 < len(indices); i += 3 {
			i0, i1, i2 := indices[i], indices[i+1], indices[i+2]
			edge1 := s.positions[i1].Sub(s.positions[i0])
			edge2 := s.positions[i2].Sub(s.positions[i0])
			duv1 := s.texCoords[i1].Sub(s.texCoords[i0])
			duv2 := s.texCoords[i2].Sub(s.texCoords[i0])

			det := duv1[0]*duv2[1] - duv1[1]*duv2[0]
			if det == 0 {
				continue
			}
			inv := 1 / det
			t := edge1.Mul(duv2[1]).Sub(edge2.Mul(duv1[1])).Mul(inv)
			b := edge2.Mul(duv1[0]).Sub(edge1.Mul(duv2[0])).Mul(inv)
			for _, idx := range [3]uint32{i0, i1, i2} {
				tan[idx] = tan[idx].Add(t)
				btan[idx] = btan[idx].Add(b)
			}
		}
	}

	s.tangents = make([]mgl32.Vec4, n)
	for i := 0; i < n; i++ {
		normal := s.normals[i]
		ortho := tan[i].Sub(normal.Mul(normal.Dot(tan[i])))
		if ortho.Len() < 1e-6 {
			s.tangents[i] = referenceTangent(normal)
			continue
		}
		ortho = ortho.Normalize()
		w := float32(1)
		if normal.Cross(ortho).Dot(btan[i]) < 0 {
			w = -1
		}
		s.tangents[i] = ortho.Vec4(w)
	}
}

// referenceTangent returns a unit vector perpendicular to n, built as the cross product of n with the world Y axis,
// or with the X axis when n is nearly parallel to Y.
func referenceTangent(n mgl32.Vec3) mgl32.Vec4 {
	axis := mgl32.Vec3{0, 1, 0}
	if abs32(n.Dot(axis)) > 0.999 {
		axis = mgl32.Vec3{1, 0, 0}
	}
	t := n.Cross(axis)
	if t.Len() < 1e-6 {
		return mgl32.Vec4{1, 0, 0, 1}
	}
	return t.Normalize().Vec4(1)
}

// gpuVertices interleaves the stream into GPU vertices. Missing colors are white.
func (s *vertexStream) gpuVertices() []model.GPUVertex {
	white := model.PackColor(mgl32.Vec4{1, 1, 1, 1})
	out := make([]model.GPUVertex, s.len())
	for i := range out {
		v := model.GPUVertex{
			Position: s.positions[i],
			Normal:   common.PackSnorm8x4(s.normals[i].Vec4(0)),
			Tangent:  common.PackSnorm8x4(s.tangents[i]),
			Color:    white,
		}
		if s.texCoords != nil {
			v.TexCoord = s.texCoords[i]
		}
		if s.colors != nil {
			v.Color = model.PackColor(s.colors[i])
		}
		out[i] = v
	}
	return out
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
