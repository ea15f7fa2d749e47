package loader

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-scene/common"
	"github.com/Carmen-Shannon/oxy-scene/engine/scenegraph"
	"github.com/Carmen-Shannon/oxy-scene/engine/transform"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"go.uber.org/zap"
)

// visit records one source node reached by the walk.
type visit struct {
	src    int
	id     scenegraph.NodeID
	global mgl32.Mat4
}

// walkedNodes holds the bind-pose global matrix of every source node the walk reached.
type walkedNodes struct {
	globals []mgl32.Mat4
	reached []bool
}

func (w walkedNodes) global(src int) (mgl32.Mat4, bool) {
	if src < 0 || src >= len(w.reached) || !w.reached[src] {
		return mgl32.Ident4(), false
	}
	return w.globals[src], true
}

// buildGraph mirrors the active scene's node hierarchy under a synthetic root node.
// The walk is depth-first with children in source order, using an explicit stack; each scene node is attached to
// its parent when it is discovered. A node reachable twice (shared child or cycle) is only taken the first time.
//
// Parameters:
//   - log: receives warnings about malformed hierarchies
//   - doc: the source document
//   - root: the synthetic root's transform
//
// Returns:
//   - scenegraph.SceneGraph: the graph, with the root at NodeID 0
//   - []visit: every reached source node in traversal order
//   - walkedNodes: the bind-pose globals of the reached nodes
func buildGraph(log *zap.Logger, doc *gltf.Document, root transform.Transform) (scenegraph.SceneGraph, []visit, walkedNodes) {
	graph := scenegraph.NewSceneGraph(scenegraph.WithCapacity(len(doc.Nodes) + 1))
	rootID, _ := graph.AddNode("root", scenegraph.NoNode, root)

	walked := walkedNodes{
		globals: make([]mgl32.Mat4, len(doc.Nodes)),
		reached: make([]bool, len(doc.Nodes)),
	}

	type frame struct {
		src          int
		parent       scenegraph.NodeID
		parentGlobal mgl32.Mat4
	}

	roots := sceneRoots(doc)
	stack := make([]frame, 0, len(doc.Nodes))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{src: roots[i], parent: rootID, parentGlobal: root.Matrix()})
	}

	visits := make([]visit, 0, len(doc.Nodes))
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.src < 0 || f.src >= len(doc.Nodes) || doc.Nodes[f.src] == nil {
			log.Warn("node reference out of range, skipped", zap.Int("node", f.src))
			continue
		}
		if walked.reached[f.src] {
			log.Warn("node reached twice, skipped", zap.Int("node", f.src))
			continue
		}
		walked.reached[f.src] = true

		node := doc.Nodes[f.src]
		local := transform.FromMatrix(nodeMatrix(node))
		id, err := graph.AddNode(common.Coalesce(node.Name, fmt.Sprintf("node%d", f.src)), f.parent, local)
		if err != nil {
			log.Error("scene node could not be attached", zap.Int("node", f.src), zap.Error(err))
			continue
		}
		global := f.parentGlobal.Mul4(local.Matrix())
		walked.globals[f.src] = global
		visits = append(visits, visit{src: f.src, id: id, global: global})

		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{src: node.Children[i], parent: id, parentGlobal: global})
		}
	}
	return graph, visits, walked
}

// sceneRoots returns the root nodes of the active scene. Documents without scenes use every node that is no
// other node's child.
func sceneRoots(doc *gltf.Document) []int {
	if len(doc.Scenes) > 0 {
		s := common.DerefOr(doc.Scene, 0)
		if s >= 0 && s < len(doc.Scenes) && doc.Scenes[s] != nil {
			return doc.Scenes[s].Nodes
		}
	}

	hasParent := make([]bool, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n == nil {
			continue
		}
		for _, c := range n.Children {
			if c >= 0 && c < len(hasParent) {
				hasParent[c] = true
			}
		}
	}
	var roots []int
	for i, p := range hasParent {
		if !p {
			roots = append(roots, i)
		}
	}
	return roots
}

// nodeMatrix returns matrix * T * R * S. A node carries either a matrix or TRS, the other part is the identity.
func nodeMatrix(n *gltf.Node) mgl32.Mat4 {
	var m mgl32.Mat4
	for i, v := range n.MatrixOrDefault() {
		m[i] = float32(v)
	}
	t := n.Translation
	r := n.RotationOrDefault()
	s := n.ScaleOrDefault()
	trs := transform.New(
		mgl32.Vec3{float32(t[0]), float32(t[1]), float32(t[2])},
		mgl32.Quat{W: float32(r[3]), V: mgl32.Vec3{float32(r[0]), float32(r[1]), float32(r[2])}},
		mgl32.Vec3{float32(s[0]), float32(s[1]), float32(s[2])},
	)
	return m.Mul4(trs.Matrix())
}
