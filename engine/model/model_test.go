package model

import (
	"testing"

	"github.com/Carmen-Shannon/oxy-scene/engine/material"
	"github.com/Carmen-Shannon/oxy-scene/engine/scenegraph"
	"github.com/Carmen-Shannon/oxy-scene/engine/transform"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// twoInstanceModel builds root -> child, where the child draws one triangle mesh twice: once plain and once
// with a local offset of +10 on X.
func twoInstanceModel(t *testing.T) (Model, scenegraph.NodeID, scenegraph.NodeID) {
	t.Helper()
	g := scenegraph.NewSceneGraph()
	root, err := g.AddNode("root", scenegraph.NoNode, transform.FromTranslation(mgl32.Vec3{0, 5, 0}))
	require.NoError(t, err)
	child, err := g.AddNode("child", root, transform.FromTranslation(mgl32.Vec3{1, 0, 0}))
	require.NoError(t, err)
	require.NoError(t, g.SetInstanceRange(child, scenegraph.InstanceRange{Start: 0, End: 2}))

	arrays := &SceneArrays{
		DrawCommands:         []GPUDrawElementsCmd{{Count: 3, InstanceCount: 2}},
		Meshes:               []GPUMesh{{MeshletCount: 1, InstanceCount: 2}},
		Instances:            []GPUMeshInstance{
			NewGPUMeshInstance(mgl32.Ident4(), 0),
			NewGPUMeshInstance(mgl32.Ident4(), 0),
		},
		InstanceOffsets:      []mgl32.Mat4{mgl32.Ident4(), mgl32.Translate3D(10, 0, 0)},
		Vertices:             make([]GPUVertex, 3),
		Positions:            []mgl32.Vec3{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}},
		Indices:              []uint32{0, 1, 2},
		Meshlets:             []GPUMeshlet{{VertexCount: 3, TriangleCount: 1}},
		MeshletInfos:         []GPUMeshletInfo{{Min: [3]float32{0, 0, 0}, Max: [3]float32{1, 1, 0}}},
		MeshletVertexIndices: []uint32{0, 1, 2},
		MeshletLocalIndices:  []uint8{0, 1, 2, 0},
		Materials:            []material.GPUMaterial{{}},
	}
	m := NewModel(WithName("tri"), WithSource("tri.glb"), WithGraph(g), WithArrays(arrays))
	require.NoError(t, arrays.Validate())
	return m, root, child
}

func TestUpdateInstancesComposesOffsets(t *testing.T) {
	m, _, _ := twoInstanceModel(t)

	assert.Equal(t, 2, m.UpdateInstances())
	inst := m.Arrays().Instances
	assert.True(t, inst[0].ModelMatrix().ApproxEqual(mgl32.Translate3D(1, 5, 0)))
	assert.True(t, inst[1].ModelMatrix().ApproxEqual(mgl32.Translate3D(11, 5, 0)))
	assert.True(t, mgl32.Mat4(inst[1].InvModel).ApproxEqualThreshold(mgl32.Translate3D(-11, -5, 0), 1e-5))

	assert.Zero(t, m.UpdateInstances(), "nothing dirty")
}

func TestMovedInstancesBetweenSnapshots(t *testing.T) {
	m, root, _ := twoInstanceModel(t)
	m.UpdateInstances()
	m.SnapshotPrev()
	assert.Empty(t, m.MovedInstances())

	require.NoError(t, m.SetLocalTransform(root, transform.FromTranslation(mgl32.Vec3{0, 6, 0})))
	assert.Empty(t, m.MovedInstances(), "instances follow only on update")

	m.UpdateInstances()
	assert.Equal(t, []uint32{0, 1}, m.MovedInstances())
	assert.Equal(t, []uint32{0, 1}, m.MovedInstances(), "prev is only written by SnapshotPrev")

	m.SnapshotPrev()
	assert.Empty(t, m.MovedInstances())
}

func TestSetLocalTransformUnknownNode(t *testing.T) {
	m, _, _ := twoInstanceModel(t)
	assert.ErrorIs(t, m.SetLocalTransform(42, transform.Identity()), scenegraph.ErrInvalidNode)
}

func TestBounds(t *testing.T) {
	m, _, _ := twoInstanceModel(t)
	m.UpdateInstances()

	b := m.Bounds()
	assert.Equal(t, mgl32.Vec3{1, 5, 0}, b.Min)
	assert.Equal(t, mgl32.Vec3{12, 6, 0}, b.Max)

	assert.True(t, NewModel().Bounds().IsEmpty())
}

func TestCloneIsIndependent(t *testing.T) {
	m, root, _ := twoInstanceModel(t)
	m.UpdateInstances()
	c := m.Clone()

	require.NoError(t, c.SetLocalTransform(root, transform.FromTranslation(mgl32.Vec3{100, 0, 0})))
	c.UpdateInstances()

	assert.True(t, m.Arrays().Instances[0].ModelMatrix().ApproxEqual(mgl32.Translate3D(1, 5, 0)))
	assert.True(t, c.Arrays().Instances[0].ModelMatrix().ApproxEqual(mgl32.Translate3D(101, 0, 0)))
	assert.False(t, m.Graph().IsDirty(root))
	assert.Equal(t, m.Name(), c.Name())
	assert.Equal(t, "tri.glb", c.Source())
	assert.Equal(t, m.Stats(), c.Stats())
}

func TestValidateReportsEveryViolation(t *testing.T) {
	m, _, _ := twoInstanceModel(t)
	a := m.Arrays().Clone()

	a.Meshlets[0].VertexOffset = 2
	a.Meshes[0].MaterialIndex = 3
	a.DrawCommands[0].FirstIndex = 1

	err := a.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInconsistentArrays)
	assert.Contains(t, err.Error(), "meshlet 0 vertex range")
	assert.Contains(t, err.Error(), "material 3")
	assert.Contains(t, err.Error(), "draw 0 indices")

	assert.NoError(t, m.Arrays().Validate(), "clone must not alias")
}

func TestValidateInstanceCoverage(t *testing.T) {
	m, _, _ := twoInstanceModel(t)
	a := m.Arrays().Clone()
	a.Instances = append(a.Instances, NewGPUMeshInstance(mgl32.Ident4(), 0))
	a.InstanceOffsets = append(a.InstanceOffsets, mgl32.Ident4())

	err := a.Validate()
	assert.ErrorIs(t, err, ErrInconsistentArrays)
	assert.Contains(t, err.Error(), "draws cover 2 instances, array holds 3")
}

func TestStats(t *testing.T) {
	m, _, _ := twoInstanceModel(t)
	s := m.Stats()
	assert.Equal(t, Stats{DrawCommands: 1, Instances: 2, Vertices: 3, Indices: 3, Meshlets: 1, Materials: 1}, s)
	assert.Contains(t, s.String(), "2 instances")
}

func TestGPURecordLayouts(t *testing.T) {
	tests := []struct {
		name string
		size int
		buf  []byte
	}{
		{"vertex", (&GPUVertex{}).Size(), (&GPUVertex{}).Marshal()},
		{"meshlet", (&GPUMeshlet{}).Size(), (&GPUMeshlet{}).Marshal()},
		{"meshlet info", (&GPUMeshletInfo{}).Size(), (&GPUMeshletInfo{}).Marshal()},
		{"mesh", (&GPUMesh{}).Size(), (&GPUMesh{}).Marshal()},
		{"instance", (&GPUMeshInstance{}).Size(), (&GPUMeshInstance{}).Marshal()},
		{"draw", (&GPUDrawElementsCmd{}).Size(), (&GPUDrawElementsCmd{}).Marshal()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.buf, tt.size)
		})
	}

	draws := []GPUDrawElementsCmd{{Count: 3}, {Count: 6}}
	assert.Len(t, MarshalAll(draws), 40)
}

func TestMeshletPaddedIndexBytes(t *testing.T) {
	assert.Equal(t, uint32(4), (&GPUMeshlet{TriangleCount: 1}).PaddedIndexBytes())
	assert.Equal(t, uint32(8), (&GPUMeshlet{TriangleCount: 2}).PaddedIndexBytes())
	assert.Equal(t, uint32(12), (&GPUMeshlet{TriangleCount: 4}).PaddedIndexBytes())
}
