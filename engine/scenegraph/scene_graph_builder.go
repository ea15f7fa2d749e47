package scenegraph

import (
	"github.com/Carmen-Shannon/oxy-scene/engine/transform"
	"github.com/bits-and-blooms/bitset"
	"github.com/go-gl/mathgl/mgl32"
)

// SceneGraphBuilderOption is a functional option for configuring a SceneGraph via NewSceneGraph.
type SceneGraphBuilderOption func(*sceneGraph)

// WithCapacity is an option builder that preallocates storage for n nodes.
//
// Parameters:
//   - n: the expected node count
//
// Returns:
//   - SceneGraphBuilderOption: a function that applies the capacity option to a scene graph
func WithCapacity(n int) SceneGraphBuilderOption {
	return func(g *sceneGraph) {
		if n <= 0 {
			return
		}
		g.names = make([]string, 0, n)
		g.locals = make([]transform.Transform, 0, n)
		g.globals = make([]mgl32.Mat4, 0, n)
		g.parents = make([]NodeID, 0, n)
		g.children = make([][]NodeID, 0, n)
		g.ranges = make([]InstanceRange, 0, n)
		g.dirty = bitset.New(uint(n))
	}
}
