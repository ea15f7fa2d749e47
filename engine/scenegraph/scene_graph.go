// Package scenegraph implements the node hierarchy produced by asset import.
// Nodes live in an arena and are addressed by NodeID; each node stores its parent and an ordered list of children,
// and dirty flags are kept in a bit-set indexed the same way.
package scenegraph

import (
	"errors"

	"github.com/Carmen-Shannon/oxy-scene/engine/transform"
	"github.com/bits-and-blooms/bitset"
	"github.com/go-gl/mathgl/mgl32"
)

// NodeID addresses a node inside one SceneGraph. IDs are stable for the life of the graph.
type NodeID int32

// NoNode is the parent of every root node.
const NoNode NodeID = -1

var (
	// ErrInvalidNode is returned when a NodeID does not address a node of the graph.
	ErrInvalidNode = errors.New("invalid scene node")
	// ErrInvalidRange is returned when an instance range has End before Start.
	ErrInvalidRange = errors.New("invalid instance range")
)

// InstanceRange is a half-open [Start, End) range into the global instance array.
type InstanceRange struct {
	Start uint32
	End   uint32
}

// Len returns the number of instances in the range.
func (r InstanceRange) Len() uint32 {
	return r.End - r.Start
}

// Contains reports whether instance index i falls inside the range.
func (r InstanceRange) Contains(i uint32) bool {
	return i >= r.Start && i < r.End
}

// Visitor receives each node refreshed by a recompute together with its new global transform.
type Visitor func(id NodeID, global mgl32.Mat4)

// sceneGraph is the implementation of the SceneGraph interface.
type sceneGraph struct {
	names    []string
	locals   []transform.Transform
	globals  []mgl32.Mat4
	parents  []NodeID
	children [][]NodeID
	ranges   []InstanceRange
	roots    []NodeID
	dirty    *bitset.BitSet
}

// SceneGraph is a tree of scene nodes with cached global transforms and incremental invalidation.
// A node's global transform equals its parent's global transform times its local matrix (root nodes use the
// local matrix alone) whenever the node is not dirty.
// A SceneGraph is not safe for concurrent mutation.
type SceneGraph interface {
	// AddNode appends a node under parent (NoNode for a root). The new node starts dirty.
	//
	// Parameters:
	//   - name: the node name, used for diagnostics and lookup
	//   - parent: the parent node, or NoNode
	//   - local: the node's local transform
	//
	// Returns:
	//   - NodeID: the new node's ID
	//   - error: ErrInvalidNode if parent does not exist
	AddNode(name string, parent NodeID, local transform.Transform) (NodeID, error)

	// Len returns the number of nodes.
	Len() int

	// Roots returns the root nodes in insertion order.
	Roots() []NodeID

	// Name returns the node name.
	Name(id NodeID) string

	// Find returns the first node with the given name in insertion order, or NoNode.
	Find(name string) NodeID

	// Parent returns the parent node, or NoNode for roots and invalid IDs.
	Parent(id NodeID) NodeID

	// Children returns the ordered child list. The returned slice must not be modified.
	Children(id NodeID) []NodeID

	// IsRoot reports whether the node has no parent.
	IsRoot(id NodeID) bool

	// IsLeaf reports whether the node has no children.
	IsLeaf(id NodeID) bool

	// LocalTransform returns the node's local transform.
	LocalTransform(id NodeID) transform.Transform

	// SetLocalTransform replaces the node's local transform.
	// The node and all of its ancestors are marked dirty, then its subtree is marked dirty; the subtree scan stops
	// at any node that is already dirty.
	//
	// Parameters:
	//   - id: the node to update
	//   - t: the new local transform
	//
	// Returns:
	//   - error: ErrInvalidNode if id does not exist
	SetLocalTransform(id NodeID, t transform.Transform) error

	// GlobalTransform returns the cached global transform. It is only current while the node is not dirty.
	GlobalTransform(id NodeID) mgl32.Mat4

	// IsDirty reports the node's dirty flag.
	IsDirty(id NodeID) bool

	// DirtyCount returns how many nodes are currently flagged dirty.
	DirtyCount() int

	// InstanceRange returns the range of instance indices contributed by the node.
	InstanceRange(id NodeID) InstanceRange

	// SetInstanceRange records the range of instance indices contributed by the node.
	SetInstanceRange(id NodeID, r InstanceRange) error

	// RecomputeDirtySubtree refreshes global transforms below id.
	// Nothing happens if id is not dirty. Otherwise id and every node of its subtree is recomputed top-down, visited
	// once and cleared, whether or not the descendant was flagged itself.
	//
	// Parameters:
	//   - id: subtree root
	//   - visit: optional callback receiving each refreshed node
	//
	// Returns:
	//   - int: the number of nodes refreshed
	RecomputeDirtySubtree(id NodeID, visit Visitor) int

	// RecomputeDirty runs RecomputeDirtySubtree for every root.
	RecomputeDirty(visit Visitor) int

	// Walk visits nodes depth-first, children in order. Returning false from fn skips that node's children.
	Walk(fn func(id NodeID, depth int) bool)

	// DeepClone returns an independent copy of the graph with identical structure, transforms, ranges and flags.
	DeepClone() SceneGraph
}

var _ SceneGraph = &sceneGraph{}

// NewSceneGraph creates an empty SceneGraph.
//
// Parameters:
//   - options: builder options
//
// Returns:
//   - SceneGraph: the new graph
func NewSceneGraph(options ...SceneGraphBuilderOption) SceneGraph {
	g := &sceneGraph{}
	for _, opt := range options {
		opt(g)
	}
	if g.dirty == nil {
		g.dirty = bitset.New(uint(cap(g.names)))
	}
	return g
}

func (g *sceneGraph) valid(id NodeID) bool {
	return id >= 0 && int(id) < len(g.names)
}

func (g *sceneGraph) AddNode(name string, parent NodeID, local transform.Transform) (NodeID, error) {
	if parent != NoNode && !g.valid(parent) {
		return NoNode, ErrInvalidNode
	}

	id := NodeID(len(g.names))
	g.names = append(g.names, name)
	g.locals = append(g.locals, local)
	g.globals = append(g.globals, mgl32.Ident4())
	g.parents = append(g.parents, parent)
	g.children = append(g.children, nil)
	g.ranges = append(g.ranges, InstanceRange{})

	if parent == NoNode {
		g.roots = append(g.roots, id)
	} else {
		g.children[parent] = append(g.children[parent], id)
	}

	g.markDirty(id)
	return id, nil
}

func (g *sceneGraph) Len() int {
	return len(g.names)
}

func (g *sceneGraph) Roots() []NodeID {
	return g.roots
}

func (g *sceneGraph) Name(id NodeID) string {
	if !g.valid(id) {
		return ""
	}
	return g.names[id]
}

func (g *sceneGraph) Find(name string) NodeID {
	for i, n := range g.names {
		if n == name {
			return NodeID(i)
		}
	}
	return NoNode
}

func (g *sceneGraph) Parent(id NodeID) NodeID {
	if !g.valid(id) {
		return NoNode
	}
	return g.parents[id]
}

func (g *sceneGraph) Children(id NodeID) []NodeID {
	if !g.valid(id) {
		return nil
	}
	return g.children[id]
}

func (g *sceneGraph) IsRoot(id NodeID) bool {
	return g.valid(id) && g.parents[id] == NoNode
}

func (g *sceneGraph) IsLeaf(id NodeID) bool {
	return g.valid(id) && len(g.children[id]) == 0
}

func (g *sceneGraph) LocalTransform(id NodeID) transform.Transform {
	if !g.valid(id) {
		return transform.Identity()
	}
	return g.locals[id]
}

func (g *sceneGraph) SetLocalTransform(id NodeID, t transform.Transform) error {
	if !g.valid(id) {
		return ErrInvalidNode
	}
	g.locals[id] = t
	g.markDirty(id)
	return nil
}

func (g *sceneGraph) GlobalTransform(id NodeID) mgl32.Mat4 {
	if !g.valid(id) {
		return mgl32.Ident4()
	}
	return g.globals[id]
}

func (g *sceneGraph) IsDirty(id NodeID) bool {
	return g.valid(id) && g.dirty.Test(uint(id))
}

func (g *sceneGraph) DirtyCount() int {
	return int(g.dirty.Count())
}

func (g *sceneGraph) InstanceRange(id NodeID) InstanceRange {
	if !g.valid(id) {
		return InstanceRange{}
	}
	return g.ranges[id]
}

func (g *sceneGraph) SetInstanceRange(id NodeID, r InstanceRange) error {
	if !g.valid(id) {
		return ErrInvalidNode
	}
	if r.End < r.Start {
		return ErrInvalidRange
	}
	g.ranges[id] = r
	return nil
}

func (g *sceneGraph) RecomputeDirtySubtree(id NodeID, visit Visitor) int {
	if !g.IsDirty(id) {
		return 0
	}

	type frame struct {
		node         NodeID
		parentGlobal mgl32.Mat4
	}

	start := mgl32.Ident4()
	if p := g.parents[id]; p != NoNode {
		start = g.globals[p]
	}

	stack := []frame{{node: id, parentGlobal: start}}
	refreshed := 0
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		global := f.parentGlobal.Mul4(g.locals[f.node].Matrix())
		g.globals[f.node] = global
		g.dirty.Clear(uint(f.node))
		refreshed++
		if visit != nil {
			visit(f.node, global)
		}

		kids := g.children[f.node]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: kids[i], parentGlobal: global})
		}
	}
	return refreshed
}

func (g *sceneGraph) RecomputeDirty(visit Visitor) int {
	refreshed := 0
	for _, root := range g.roots {
		refreshed += g.RecomputeDirtySubtree(root, visit)
	}
	return refreshed
}

func (g *sceneGraph) Walk(fn func(id NodeID, depth int) bool) {
	type frame struct {
		node  NodeID
		depth int
	}
	stack := make([]frame, 0, len(g.roots))
	for i := len(g.roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{node: g.roots[i]})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(f.node, f.depth) {
			continue
		}
		kids := g.children[f.node]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, frame{node: kids[i], depth: f.depth + 1})
		}
	}
}

func (g *sceneGraph) DeepClone() SceneGraph {
	out := &sceneGraph{
		names:    append([]string(nil), g.names...),
		locals:   append([]transform.Transform(nil), g.locals...),
		globals:  append([]mgl32.Mat4(nil), g.globals...),
		parents:  append([]NodeID(nil), g.parents...),
		children: make([][]NodeID, len(g.children)),
		ranges:   append([]InstanceRange(nil), g.ranges...),
		roots:    append([]NodeID(nil), g.roots...),
		dirty:    g.dirty.Clone(),
	}
	for i, kids := range g.children {
		out.children[i] = append([]NodeID(nil), kids...)
	}
	return out
}

// markDirty flags id and its ancestors, then its descendants.
// A dirty node always has dirty ancestors, so both scans stop at the first node already flagged.
func (g *sceneGraph) markDirty(id NodeID) {
	for p := g.parents[id]; p != NoNode && !g.dirty.Test(uint(p)); p = g.parents[p] {
		g.dirty.Set(uint(p))
	}
	g.dirty.Set(uint(id))

	stack := append([]NodeID(nil), g.children[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if g.dirty.Test(uint(n)) {
			continue
		}
		g.dirty.Set(uint(n))
		stack = append(stack, g.children[n]...)
	}
}
