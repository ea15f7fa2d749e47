package loader

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Carmen-Shannon/oxy-scene/engine/geometry"
	"github.com/Carmen-Shannon/oxy-scene/engine/gpu"
	"github.com/Carmen-Shannon/oxy-scene/engine/material"
	"github.com/Carmen-Shannon/oxy-scene/engine/model"
	"github.com/Carmen-Shannon/oxy-scene/engine/scenegraph"
	"github.com/Carmen-Shannon/oxy-scene/engine/transform"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// triangleDoc returns a document holding one unlit triangle mesh and no nodes.
func triangleDoc() *gltf.Document {
	doc := gltf.NewDocument()
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}})
	idx := modeler.WriteIndices(doc, []uint16{0, 1, 2})
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{
		Name:       "triangle",
		Primitives: []*gltf.Primitive{{Attributes: map[string]int{gltf.POSITION: pos}, Indices: gltf.Index(idx)}},
	})
	return doc
}

// addNode appends a node and returns its index. Nodes are not attached to the scene.
func addNode(doc *gltf.Document, n *gltf.Node) int {
	doc.Nodes = append(doc.Nodes, n)
	return len(doc.Nodes) - 1
}

func translated(x, y, z float64) [3]float64 {
	return [3]float64{x, y, z}
}

func newAssembler(t *testing.T, opts ...SceneAssemblerBuilderOption) (SceneAssembler, *gpu.MemoryDevice) {
	t.Helper()
	device := gpu.NewMemoryDevice()
	a := NewSceneAssembler(device, append([]SceneAssemblerBuilderOption{WithWorkers(2), WithLogger(zap.NewNop())}, opts...)...)
	t.Cleanup(a.Release)
	return a, device
}

func build(t *testing.T, a SceneAssembler, doc *gltf.Document, root transform.Transform) model.Model {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	m, err := a.BuildScene(ctx, doc, root)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NoError(t, m.Arrays().Validate())
	return m
}

func translationOf(m mgl32.Mat4) mgl32.Vec3 {
	return m.Col(3).Vec3()
}

func TestBuildScene_SharedPrimitiveWithoutMaterial(t *testing.T) {
	doc := triangleDoc()
	a := addNode(doc, &gltf.Node{Name: "a", Mesh: gltf.Index(0), Translation: translated(1, 0, 0)})
	b := addNode(doc, &gltf.Node{Name: "b", Mesh: gltf.Index(0), Translation: translated(-1, 0, 0)})
	doc.Scenes[0].Nodes = []int{a, b}

	asm, _ := newAssembler(t)
	m := build(t, asm, doc, transform.Identity())
	arr := m.Arrays()

	assert.Len(t, arr.Vertices, 3, "one geometry block")
	assert.Len(t, arr.Materials, 2, "one default material per primitive encounter")
	require.Len(t, arr.DrawCommands, 1)
	require.Len(t, arr.Meshes, 1)
	assert.Equal(t, uint32(2), arr.DrawCommands[0].InstanceCount)
	assert.Equal(t, uint32(2), arr.Meshes[0].InstanceCount)

	require.Len(t, arr.Instances, 2)
	assert.Equal(t, arr.Instances[0].MeshIndex, arr.Instances[1].MeshIndex)
	assert.Equal(t, mgl32.Vec3{1, 0, 0}, translationOf(arr.Instances[0].ModelMatrix()))
	assert.Equal(t, mgl32.Vec3{-1, 0, 0}, translationOf(arr.Instances[1].ModelMatrix()))

	g := m.Graph()
	assert.Equal(t, scenegraph.InstanceRange{Start: 0, End: 1}, g.InstanceRange(g.Find("a")))
	assert.Equal(t, scenegraph.InstanceRange{Start: 1, End: 2}, g.InstanceRange(g.Find("b")))
}

func TestBuildScene_DeduplicatesAcrossMeshes(t *testing.T) {
	doc := triangleDoc()
	// a second mesh reading the same accessors has the same key
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{Primitives: []*gltf.Primitive{{
		Attributes: doc.Meshes[0].Primitives[0].Attributes,
		Indices:    doc.Meshes[0].Primitives[0].Indices,
	}}})
	a := addNode(doc, &gltf.Node{Name: "a", Mesh: gltf.Index(0)})
	b := addNode(doc, &gltf.Node{Name: "b", Mesh: gltf.Index(1), Translation: translated(0, 0, 5)})
	doc.Scenes[0].Nodes = []int{a, b}

	asm, _ := newAssembler(t)
	arr := build(t, asm, doc, transform.Identity()).Arrays()

	require.Len(t, arr.Meshes, 2)
	assert.Len(t, arr.Vertices, 3)
	assert.Len(t, arr.Meshlets, 1)
	assert.Equal(t, arr.Meshes[0].BaseVertex, arr.Meshes[1].BaseVertex)
	assert.Equal(t, arr.Meshes[0].MeshletOffset, arr.Meshes[1].MeshletOffset)
	assert.Equal(t, arr.DrawCommands[0].FirstIndex, arr.DrawCommands[1].FirstIndex)
	assert.Equal(t, arr.DrawCommands[0].Count, arr.DrawCommands[1].Count)
}

func TestBuildScene_RebasesOffsets(t *testing.T) {
	doc := triangleDoc()
	var positions [][3]float32
	for y := 0; y <= 4; y++ {
		for x := 0; x <= 4; x++ {
			positions = append(positions, [3]float32{float32(x), float32(y), 0})
		}
	}
	var indices []uint32
	for y := uint32(0); y < 4; y++ {
		for x := uint32(0); x < 4; x++ {
			c := y*5 + x
			indices = append(indices, c, c+1, c+5, c+1, c+6, c+5)
		}
	}
	pos := modeler.WritePosition(doc, positions)
	idx := modeler.WriteIndices(doc, indices)
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{Primitives: []*gltf.Primitive{{
		Attributes: map[string]int{gltf.POSITION: pos},
		Indices:    gltf.Index(idx),
	}}})

	tri := addNode(doc, &gltf.Node{Name: "tri", Mesh: gltf.Index(0)})
	grid := addNode(doc, &gltf.Node{Name: "grid", Mesh: gltf.Index(1)})
	again := addNode(doc, &gltf.Node{Name: "again", Mesh: gltf.Index(0)})
	doc.Scenes[0].Nodes = []int{tri, grid, again}

	asm, _ := newAssembler(t)
	arr := build(t, asm, doc, transform.Identity()).Arrays()

	require.Len(t, arr.Meshes, 3)
	assert.Len(t, arr.Vertices, 3+25)
	assert.Len(t, arr.Indices, 3+len(indices))

	// the triangle is placed first and reused by the third draw
	assert.Equal(t, uint32(0), arr.Meshes[0].BaseVertex)
	assert.Equal(t, uint32(3), arr.Meshes[1].BaseVertex)
	assert.Equal(t, uint32(0), arr.Meshes[2].BaseVertex)
	assert.Equal(t, uint32(3), arr.DrawCommands[1].FirstIndex)
	assert.Equal(t, int32(3), arr.DrawCommands[1].BaseVertex)
	assert.Equal(t, uint32(1), arr.Meshes[1].MeshletOffset)

	// the grid meshlet follows the triangle meshlet: 3 vertex indices and 3 index bytes padded to 4
	gridMeshlet := arr.Meshlets[arr.Meshes[1].MeshletOffset]
	assert.Equal(t, uint32(3), gridMeshlet.VertexOffset)
	assert.Equal(t, uint32(4), gridMeshlet.IndicesOffset)

	for i, ml := range arr.Meshlets {
		assert.LessOrEqual(t, int(ml.VertexOffset+ml.VertexCount), len(arr.MeshletVertexIndices), "meshlet %d", i)
		assert.LessOrEqual(t, int(ml.IndicesOffset+ml.PaddedIndexBytes()), len(arr.MeshletLocalIndices), "meshlet %d", i)
	}

	// each mesh's meshlets rebuild exactly the triangles its draw command reads
	for mi, mesh := range arr.Meshes {
		draw := arr.DrawCommands[mi]
		var fromDraw, fromMeshlets []mgl32.Vec3
		for _, v := range arr.Indices[draw.FirstIndex : draw.FirstIndex+draw.Count] {
			fromDraw = append(fromDraw, arr.Positions[int(draw.BaseVertex)+int(v)])
		}
		for k := mesh.MeshletOffset; k < mesh.MeshletOffset+mesh.MeshletCount; k++ {
			ml := arr.Meshlets[k]
			for j := uint32(0); j < ml.TriangleCount*3; j++ {
				local := arr.MeshletLocalIndices[ml.IndicesOffset+j]
				v := arr.MeshletVertexIndices[ml.VertexOffset+uint32(local)]
				fromMeshlets = append(fromMeshlets, arr.Positions[mesh.BaseVertex+v])
			}
		}
		assert.Equal(t, fromDraw, fromMeshlets, "mesh %d", mi)
	}
}

func TestBuildScene_HierarchyAndRootTransform(t *testing.T) {
	doc := triangleDoc()
	child := addNode(doc, &gltf.Node{Name: "child", Mesh: gltf.Index(0), Translation: translated(0, 0, 2)})
	parent := addNode(doc, &gltf.Node{Name: "parent", Children: []int{child}, Translation: translated(1, 0, 0)})
	doc.Scenes[0].Nodes = []int{parent}

	asm, _ := newAssembler(t)
	m := build(t, asm, doc, transform.FromTranslation(mgl32.Vec3{0, 10, 0}))
	arr := m.Arrays()
	g := m.Graph()

	require.Len(t, arr.Instances, 1)
	assert.True(t, translationOf(arr.Instances[0].ModelMatrix()).ApproxEqual(mgl32.Vec3{1, 10, 2}))

	root := g.Roots()
	require.Len(t, root, 1)
	assert.Equal(t, "root", g.Name(root[0]))
	p := g.Find("parent")
	c := g.Find("child")
	assert.Equal(t, root[0], g.Parent(p))
	assert.Equal(t, p, g.Parent(c))
	assert.Equal(t, scenegraph.InstanceRange{}, g.InstanceRange(p))
	assert.Equal(t, 0, g.DirtyCount())

	require.NoError(t, m.SetLocalTransform(p, transform.FromTranslation(mgl32.Vec3{5, 0, 0})))
	assert.Equal(t, 3, m.UpdateInstances(), "the dirty path from the root is refreshed")
	assert.True(t, translationOf(arr.Instances[0].ModelMatrix()).ApproxEqual(mgl32.Vec3{5, 10, 2}))
	assert.Equal(t, []uint32{0}, m.MovedInstances())
}

func TestBuildScene_NodeMatrix(t *testing.T) {
	doc := triangleDoc()
	n := addNode(doc, &gltf.Node{
		Name:   "m",
		Mesh:   gltf.Index(0),
		Matrix: [16]float64{2, 0, 0, 0, 0, 2, 0, 0, 0, 0, 2, 0, 3, 4, 5, 1},
	})
	doc.Scenes[0].Nodes = []int{n}

	asm, _ := newAssembler(t)
	m := build(t, asm, doc, transform.Identity())

	local := m.Graph().LocalTransform(m.Graph().Find("m"))
	assert.True(t, local.Translation.ApproxEqual(mgl32.Vec3{3, 4, 5}))
	assert.True(t, local.Scale.ApproxEqual(mgl32.Vec3{2, 2, 2}))
	assert.True(t, translationOf(m.Arrays().Instances[0].ModelMatrix()).ApproxEqual(mgl32.Vec3{3, 4, 5}))
}

func TestBuildScene_GPUInstancing(t *testing.T) {
	doc := triangleDoc()
	offsets := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {10, 0, 0}, {20, 0, 0}})
	n := addNode(doc, &gltf.Node{
		Name:        "crowd",
		Mesh:        gltf.Index(0),
		Translation: translated(0, 1, 0),
		Extensions: gltf.Extensions{
			ExtMeshGPUInstancing: map[string]any{"attributes": map[string]int{"TRANSLATION": offsets}},
		},
	})
	doc.Scenes[0].Nodes = []int{n}
	doc.ExtensionsUsed = []string{ExtMeshGPUInstancing}

	asm, _ := newAssembler(t)
	m := build(t, asm, doc, transform.Identity())
	arr := m.Arrays()

	require.Len(t, arr.Instances, 3)
	require.Len(t, arr.DrawCommands, 1)
	assert.Equal(t, uint32(3), arr.DrawCommands[0].InstanceCount)
	for i, want := range []mgl32.Vec3{{0, 1, 0}, {10, 1, 0}, {20, 1, 0}} {
		assert.True(t, translationOf(arr.Instances[i].ModelMatrix()).ApproxEqual(want), "instance %d", i)
	}
	assert.Equal(t, mgl32.Translate3D(10, 0, 0), arr.InstanceOffsets[1])
	assert.Equal(t, scenegraph.InstanceRange{Start: 0, End: 3}, m.Graph().InstanceRange(m.Graph().Find("crowd")))

	// moving the node moves every instance and keeps the per-instance offsets
	require.NoError(t, m.SetLocalTransform(m.Graph().Find("crowd"), transform.Identity()))
	m.UpdateInstances()
	assert.True(t, translationOf(arr.Instances[2].ModelMatrix()).ApproxEqual(mgl32.Vec3{20, 0, 0}))
}

func TestBuildScene_InstancingCountMismatchDrawsOnce(t *testing.T) {
	doc := triangleDoc()
	tr := modeler.WritePosition(doc, [][3]float32{{0, 0, 0}, {10, 0, 0}})
	sc := modeler.WritePosition(doc, [][3]float32{{1, 1, 1}})
	n := addNode(doc, &gltf.Node{
		Mesh: gltf.Index(0),
		Extensions: gltf.Extensions{
			ExtMeshGPUInstancing: map[string]any{"attributes": map[string]int{"TRANSLATION": tr, "SCALE": sc}},
		},
	})
	doc.Scenes[0].Nodes = []int{n}

	core, logs := observer.New(zapcore.WarnLevel)
	asm, _ := newAssembler(t, WithLogger(zap.New(core)))
	arr := build(t, asm, doc, transform.Identity()).Arrays()

	assert.Len(t, arr.Instances, 1)
	assert.Equal(t, 1, logs.FilterMessage("instancing data unreadable, drawing the node once").Len())
}

func TestBuildScene_Skins(t *testing.T) {
	doc := triangleDoc()
	pos := modeler.WritePosition(doc, [][3]float32{{0, 0, 1}, {1, 0, 1}, {0, 1, 1}})
	joints := modeler.WriteJoints(doc, [][4]uint8{{0, 0, 0, 0}, {5, 0, 0, 0}, {0, 0, 0, 0}})
	weights := modeler.WriteWeights(doc, [][4]float32{{1, 0, 0, 0}, {1, 0, 0, 0}, {1, 0, 0, 0}})
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{Primitives: []*gltf.Primitive{{
		Attributes: map[string]int{gltf.POSITION: pos, gltf.JOINTS_0: joints, gltf.WEIGHTS_0: weights},
	}}})

	plain := addNode(doc, &gltf.Node{Name: "plain", Mesh: gltf.Index(0)})
	skinned := addNode(doc, &gltf.Node{Name: "skinned", Mesh: gltf.Index(1), Skin: gltf.Index(0)})
	joint := addNode(doc, &gltf.Node{Name: "joint", Translation: translated(0, 2, 0)})
	doc.Skins = []*gltf.Skin{{Joints: []int{joint}}}
	doc.Scenes[0].Nodes = []int{plain, skinned, joint}

	asm, _ := newAssembler(t)
	arr := build(t, asm, doc, transform.Identity()).Arrays()

	require.Len(t, arr.JointMatrices, 1)
	assert.True(t, translationOf(arr.JointMatrices[0]).ApproxEqual(mgl32.Vec3{0, 2, 0}))

	require.Len(t, arr.Vertices, 6)
	require.Len(t, arr.JointIndices, 6)
	require.Len(t, arr.JointWeights, 6)
	for i := 0; i < 3; i++ {
		assert.Equal(t, [4]float32{}, arr.JointWeights[i], "unskinned vertices are padded")
	}

	// vertex order survives the passes, so the bad influence is the second skinned vertex
	assert.Equal(t, [4]float32{1, 0, 0, 0}, arr.JointWeights[3])
	assert.Equal(t, [4]float32{0, 0, 0, 0}, arr.JointWeights[4])
	for _, j := range arr.JointIndices {
		for _, idx := range j {
			assert.Less(t, int(idx), len(arr.JointMatrices))
		}
	}
}

func TestBuildScene_ExcludesBrokenPrimitives(t *testing.T) {
	doc := triangleDoc()
	doc.Meshes[0].Primitives = append(doc.Meshes[0].Primitives, &gltf.Primitive{
		Attributes: map[string]int{gltf.NORMAL: 0},
	})
	n := addNode(doc, &gltf.Node{Name: "n", Mesh: gltf.Index(0)})
	doc.Scenes[0].Nodes = []int{n}

	asm, _ := newAssembler(t)
	arr := build(t, asm, doc, transform.Identity()).Arrays()

	assert.Len(t, arr.DrawCommands, 1)
	assert.Len(t, arr.Instances, 1)
	assert.ErrorIs(t, asm.Diagnostics(), geometry.ErrMissingPosition)
}

func TestBuildScene_BadAccessorCountsAreIsolated(t *testing.T) {
	doc := triangleDoc()
	pos := doc.Meshes[0].Primitives[0].Attributes[gltf.POSITION]
	view := doc.Accessors[pos].BufferView

	badMatrices := len(doc.Accessors)
	doc.Accessors = append(doc.Accessors, &gltf.Accessor{
		BufferView: view, Count: -1, Type: gltf.AccessorMat4, ComponentType: gltf.ComponentFloat,
	})
	badOffsets := len(doc.Accessors)
	doc.Accessors = append(doc.Accessors, &gltf.Accessor{
		BufferView: view, Count: -1, Type: gltf.AccessorVec3, ComponentType: gltf.ComponentFloat,
	})
	hugePositions := len(doc.Accessors)
	doc.Accessors = append(doc.Accessors, &gltf.Accessor{
		BufferView: view, Count: 1 << 30, Type: gltf.AccessorVec3, ComponentType: gltf.ComponentFloat,
	})
	doc.Meshes = append(doc.Meshes, &gltf.Mesh{Primitives: []*gltf.Primitive{{
		Attributes: map[string]int{gltf.POSITION: hugePositions},
	}}})

	joint := addNode(doc, &gltf.Node{Name: "joint"})
	doc.Skins = []*gltf.Skin{{Joints: []int{joint}, InverseBindMatrices: gltf.Index(badMatrices)}}
	skinned := addNode(doc, &gltf.Node{Name: "skinned", Mesh: gltf.Index(0), Skin: gltf.Index(0)})
	crowd := addNode(doc, &gltf.Node{
		Name: "crowd",
		Mesh: gltf.Index(0),
		Extensions: gltf.Extensions{
			ExtMeshGPUInstancing: map[string]any{"attributes": map[string]int{"TRANSLATION": badOffsets}},
		},
	})
	huge := addNode(doc, &gltf.Node{Name: "huge", Mesh: gltf.Index(1)})
	doc.Scenes[0].Nodes = []int{joint, skinned, crowd, huge}

	core, logs := observer.New(zapcore.WarnLevel)
	asm, _ := newAssembler(t, WithLogger(zap.New(core)))

	var m model.Model
	require.NotPanics(t, func() { m = build(t, asm, doc, transform.Identity()) })
	arr := m.Arrays()

	assert.Empty(t, arr.JointMatrices, "the skin is dropped")
	assert.Len(t, arr.Instances, 2, "skinned and crowd are drawn once each")
	assert.Equal(t, 1, logs.FilterMessage("skin unreadable, drawing unskinned").Len())
	assert.Equal(t, 1, logs.FilterMessage("instancing data unreadable, drawing the node once").Len())
	assert.ErrorIs(t, asm.Diagnostics(), geometry.ErrAccessorRange)
}

func TestBuildScene_WarnsOnUnsupportedExtensions(t *testing.T) {
	doc := triangleDoc()
	doc.ExtensionsUsed = []string{"KHR_materials_sheen", ExtMeshGPUInstancing, "KHR_materials_transmission"}
	doc.ExtensionsRequired = []string{"KHR_materials_sheen"}

	core, logs := observer.New(zapcore.WarnLevel)
	asm, _ := newAssembler(t, WithLogger(zap.New(core)))
	build(t, asm, doc, transform.Identity())

	entries := logs.FilterMessage("unsupported extension ignored").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "KHR_materials_sheen", entries[0].ContextMap()["extension"])
	assert.Equal(t, true, entries[0].ContextMap()["required"])
}

func TestBuildScene_IsRepeatable(t *testing.T) {
	newDoc := func() *gltf.Document {
		doc := triangleDoc()
		a := addNode(doc, &gltf.Node{Name: "a", Mesh: gltf.Index(0), Translation: translated(1, 2, 3)})
		b := addNode(doc, &gltf.Node{Name: "b", Mesh: gltf.Index(0), Children: []int{a}})
		doc.Scenes[0].Nodes = []int{b}
		return doc
	}

	asm, _ := newAssembler(t)
	first := build(t, asm, newDoc(), transform.Identity())
	second := build(t, asm, newDoc(), transform.Identity())
	assert.Equal(t, first.Arrays(), second.Arrays())

	other, _ := newAssembler(t)
	third := build(t, other, newDoc(), transform.Identity())
	assert.Equal(t, first.Arrays(), third.Arrays())
	assert.Equal(t, first.Graph().Len(), third.Graph().Len())
}

func TestBuildScene_SkipsRepeatedNodes(t *testing.T) {
	doc := triangleDoc()
	shared := addNode(doc, &gltf.Node{Name: "shared", Mesh: gltf.Index(0)})
	p1 := addNode(doc, &gltf.Node{Name: "p1", Children: []int{shared}})
	p2 := addNode(doc, &gltf.Node{Name: "p2", Children: []int{shared, p1}})
	doc.Scenes[0].Nodes = []int{p1, p2}

	asm, _ := newAssembler(t)
	m := build(t, asm, doc, transform.Identity())

	assert.Equal(t, 4, m.Graph().Len())
	assert.Len(t, m.Arrays().Instances, 1)
}

func TestBuildScene_WithoutScenesUsesParentlessNodes(t *testing.T) {
	doc := triangleDoc()
	doc.Scenes = nil
	doc.Scene = nil
	child := addNode(doc, &gltf.Node{Name: "child", Mesh: gltf.Index(0)})
	addNode(doc, &gltf.Node{Name: "top", Children: []int{child}})

	asm, _ := newAssembler(t)
	m := build(t, asm, doc, transform.Identity())

	g := m.Graph()
	assert.Equal(t, g.Find("top"), g.Parent(g.Find("child")))
	assert.Equal(t, "scene", m.Name())
}

func saveFixture(t *testing.T) string {
	t.Helper()
	doc := triangleDoc()
	n := addNode(doc, &gltf.Node{Name: "n", Mesh: gltf.Index(0)})
	doc.Scenes[0].Nodes = []int{n}
	path := filepath.Join(t.TempDir(), "triangle.glb")
	require.NoError(t, gltf.SaveBinary(doc, path))
	return path
}

// saveTexturedFixture writes dir/scene.glb whose only material samples the external image dir/tex.png,
// a 2x2 image of c.
func saveTexturedFixture(t *testing.T, dir string, c color.RGBA) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tex.png"), buf.Bytes(), 0o644))

	doc := triangleDoc()
	doc.Images = []*gltf.Image{{URI: "tex.png"}}
	doc.Textures = []*gltf.Texture{{Source: gltf.Index(0)}}
	doc.Materials = []*gltf.Material{{
		Name:                 "painted",
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{BaseColorTexture: &gltf.TextureInfo{Index: 0}},
	}}
	doc.Meshes[0].Primitives[0].Material = gltf.Index(0)
	n := addNode(doc, &gltf.Node{Name: "n", Mesh: gltf.Index(0)})
	doc.Scenes[0].Nodes = []int{n}

	path := filepath.Join(dir, "scene.glb")
	require.NoError(t, gltf.SaveBinary(doc, path))
	return path
}

func TestBuildSceneFromFile_ResolvesImagesPerFile(t *testing.T) {
	root := t.TempDir()
	red := saveTexturedFixture(t, filepath.Join(root, "a"), color.RGBA{R: 255, A: 255})
	green := saveTexturedFixture(t, filepath.Join(root, "b"), color.RGBA{G: 255, A: 255})

	core, logs := observer.New(zapcore.WarnLevel)
	asm, device := newAssembler(t, WithLogger(zap.New(core)))
	ctx := context.Background()

	first, err := asm.BuildSceneFromFile(ctx, red, transform.Identity())
	require.NoError(t, err)
	second, err := asm.BuildSceneFromFile(ctx, green, transform.Identity())
	require.NoError(t, err)

	redHandle := first.Arrays().Materials[0].Textures[material.TextureBaseColor]
	greenHandle := second.Arrays().Materials[0].Textures[material.TextureBaseColor]
	assert.NotEqual(t, redHandle, greenHandle, "each file samples its own tex.png")
	assert.Equal(t, 2, asm.Materials().TextureCount())
	assert.Equal(t, 4, device.Textures(), "two images and the two placeholders")
	assert.Zero(t, logs.FilterMessage("texture unreadable, using fallback").Len())
}

func TestLoader_LoadCachesAndUnloads(t *testing.T) {
	path := saveFixture(t)
	device := gpu.NewMemoryDevice()
	l := NewLoader(device, WithLoaderLogger(zap.NewNop()), WithAssemblerOptions(WithWorkers(2)))
	t.Cleanup(l.Close)

	ctx := context.Background()
	m, err := l.Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "triangle", m.Name())
	assert.Equal(t, path, m.Source())
	assert.Len(t, m.Arrays().Instances, 1)
	assert.Equal(t, 2, device.Textures(), "the two placeholders")

	again, err := l.Load(ctx, path)
	require.NoError(t, err)
	assert.Same(t, m, again)
	assert.Same(t, m, l.Get(path))
	assert.Len(t, l.Models(), 1)

	assert.True(t, l.Unload(path))
	assert.False(t, l.Unload(path))
	assert.Nil(t, l.Get(path))
	assert.Equal(t, 0, device.Textures())
}

func TestLoader_LoadReader(t *testing.T) {
	path := saveFixture(t)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	l := NewLoader(gpu.NewMemoryDevice(), WithLoaderLogger(zap.NewNop()))
	t.Cleanup(l.Close)

	m, err := l.LoadReader(context.Background(), "from-reader", f)
	require.NoError(t, err)
	assert.Len(t, m.Arrays().Vertices, 3)
	assert.Same(t, m, l.Get("from-reader"))
}

func TestLoader_OpenFailures(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	l := NewLoader(gpu.NewMemoryDevice(), WithLoaderLogger(zap.New(core)))
	t.Cleanup(l.Close)
	ctx := context.Background()

	m, err := l.Load(ctx, filepath.Join(t.TempDir(), "missing.glb"))
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrAssetOpen)
	assert.Equal(t, 1, logs.FilterMessage("asset could not be opened").Len())

	bad := filepath.Join(t.TempDir(), "bad.gltf")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = l.Load(ctx, bad)
	assert.ErrorIs(t, err, ErrAssetOpen)

	_, err = l.Load(ctx, "model.obj")
	assert.ErrorIs(t, err, ErrUnsupportedModelFormat)
	assert.Empty(t, l.Models())
}

func TestLoader_WithModel(t *testing.T) {
	pre := model.NewModel(model.WithName("pre"))
	l := NewLoader(gpu.NewMemoryDevice(), WithModel("pre", pre))

	got, err := l.Load(context.Background(), "pre")
	require.NoError(t, err)
	assert.Same(t, pre, got)
	assert.True(t, l.Unload("pre"))
}
