// Package geometry turns raw primitive accessor data into optimized, meshlet-partitioned blocks.
package geometry

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-scene/common"
	"github.com/Carmen-Shannon/oxy-scene/engine/logger"
	"github.com/Carmen-Shannon/oxy-scene/engine/model"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/qmuntal/gltf"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Block is the processed geometry of one unique primitive. Meshlet offsets and meshlet vertex indices are local to
// the block until the assembler rebases them into the global arrays.
type Block struct {
	Key                  MeshPrimitiveKey
	Vertices             []model.GPUVertex
	Positions            []mgl32.Vec3
	Indices              []uint32
	Meshlets             []model.GPUMeshlet
	MeshletInfos         []model.GPUMeshletInfo
	MeshletVertexIndices []uint32
	MeshletLocalIndices  []uint8
	JointIndices         [][4]uint32
	JointWeights         [][4]float32
	Bounds               common.AABB

	// Degraded is set when the primitive had no normals and shading inputs were synthesized.
	Degraded bool
}

// Blocks maps each processed key to its block. It is written once per key and read-only afterwards.
type Blocks map[MeshPrimitiveKey]*Block

// geometryProcessor is the implementation of the GeometryProcessor interface.
type geometryProcessor struct {
	pool    worker.DynamicWorkerPool
	ownPool bool
	workers int
	limits  MeshletLimits
	log     *zap.Logger
}

// GeometryProcessor computes one Block per distinct MeshPrimitiveKey of a document.
type GeometryProcessor interface {
	// ProcessUniquePrimitives computes a Block for every key, in parallel across keys.
	// Keys are partitioned up front so each task owns a disjoint subset; the call returns only after every task
	// finished. A key that fails is logged, left out of the result and reported in the returned error; the other
	// keys are unaffected.
	//
	// Parameters:
	//   - doc: the source document with loaded buffers
	//   - keys: the distinct keys to process
	//   - flags: the optimization passes to run
	//
	// Returns:
	//   - Blocks: the processed blocks
	//   - error: the combined per-key failures, or nil
	ProcessUniquePrimitives(doc *gltf.Document, keys []MeshPrimitiveKey, flags OptimizationFlags) (Blocks, error)

	// ProcessPrimitive computes the Block of a single key on the calling goroutine.
	ProcessPrimitive(doc *gltf.Document, key MeshPrimitiveKey, flags OptimizationFlags) (*Block, error)

	// Close stops the worker pool if the processor created it.
	Close()
}

var _ GeometryProcessor = &geometryProcessor{}

// NewGeometryProcessor creates a GeometryProcessor.
//
// Parameters:
//   - options: builder options
//
// Returns:
//   - GeometryProcessor: the processor
func NewGeometryProcessor(options ...GeometryProcessorBuilderOption) GeometryProcessor {
	p := &geometryProcessor{
		workers: runtime.NumCPU(),
		limits:  DefaultMeshletLimits(),
	}
	for _, opt := range options {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.L()
	}
	if p.pool == nil {
		p.pool = worker.NewDynamicWorkerPool(p.workers, 256, time.Second)
		p.ownPool = true
	}
	return p
}

func (p *geometryProcessor) Close() {
	if p.ownPool && p.pool != nil {
		p.pool.Stop()
		p.pool = nil
	}
}

func (p *geometryProcessor) ProcessUniquePrimitives(doc *gltf.Document, keys []MeshPrimitiveKey, flags OptimizationFlags) (Blocks, error) {
	parts := p.workers
	if parts > len(keys) {
		parts = len(keys)
	}

	results := make([]*Block, len(keys))
	errs := make([]error, len(keys))

	var wg sync.WaitGroup
	for part := 0; part < parts; part++ {
		wg.Add(1)
		p.pool.SubmitTask(worker.Task{
			ID: part,
			Do: func() (any, error) {
				defer wg.Done()
				for i := part; i < len(keys); i += parts {
					results[i], errs[i] = p.safeProcess(doc, keys[i], flags)
				}
				return nil, nil
			},
		})
	}
	wg.Wait()

	blocks := make(Blocks, len(keys))
	var combined error
	for i, k := range keys {
		if errs[i] != nil {
			p.log.Error("skipping primitive",
				zap.Int("accessor", k.Position),
				zap.Stringer("key", k),
				zap.Error(errs[i]))
			combined = multierr.Append(combined, fmt.Errorf("primitive %s: %w", k, errs[i]))
			continue
		}
		if results[i].Degraded {
			p.log.Warn("primitive has no normals, shading inputs synthesized", zap.Stringer("key", k))
		}
		blocks[k] = results[i]
	}
	return blocks, combined
}

// safeProcess keeps a malformed primitive from taking down a pool worker.
func (p *geometryProcessor) safeProcess(doc *gltf.Document, key MeshPrimitiveKey, flags OptimizationFlags) (b *Block, err error) {
	defer func() {
		if r := recover(); r != nil {
			b, err = nil, fmt.Errorf("processing panicked: %v", r)
		}
	}()
	return p.ProcessPrimitive(doc, key, flags)
}

func (p *geometryProcessor) ProcessPrimitive(doc *gltf.Document, key MeshPrimitiveKey, flags OptimizationFlags) (*Block, error) {
	if key.Mode != gltf.PrimitiveTriangles {
		return nil, ErrUnsupportedTopology
	}
	if key.Position == NoAccessor {
		return nil, ErrMissingPosition
	}

	s, err := loadStream(doc, key)
	if err != nil {
		return nil, err
	}

	indices, err := loadIndices(doc, key, s.len())
	if err != nil {
		return nil, err
	}

	degraded := s.normals == nil
	if degraded {
		s.generateNormals(indices)
	}

	indices = optimize(s, indices, flags)

	if degraded {
		s.tangents = make([]mgl32.Vec4, s.len())
		for i, n := range s.normals {
			s.tangents[i] = referenceTangent(n)
		}
	} else {
		s.generateTangents(indices)
	}

	ms := buildMeshlets(s.positions, indices, p.limits)

	block := &Block{
		Key:                  key,
		Vertices:             s.gpuVertices(),
		Positions:            s.positions,
		Indices:              indices,
		Meshlets:             ms.meshlets,
		MeshletInfos:         ms.infos,
		MeshletVertexIndices: ms.vertexIndices,
		MeshletLocalIndices:  ms.localIndices,
		JointIndices:         s.joints,
		JointWeights:         s.weights,
		Bounds:               common.EmptyAABB(),
		Degraded:             degraded,
	}
	for _, pos := range s.positions {
		block.Bounds.Extend(pos)
	}
	return block, nil
}

// loadStream reads every attribute of the key. Optional attributes whose count disagrees with POSITION are errors.
func loadStream(doc *gltf.Document, key MeshPrimitiveKey) (*vertexStream, error) {
	s := &vertexStream{}

	var err error
	if s.positions, err = ReadVec3(doc, key.Position); err != nil {
		return nil, fmt.Errorf("position: %w", err)
	}
	n := len(s.positions)

	if key.Normal != NoAccessor {
		if s.normals, err = ReadVec3(doc, key.Normal); err != nil {
			return nil, fmt.Errorf("normal: %w", err)
		}
		for i, v := range s.normals {
			if v.Len() > 0 {
				s.normals[i] = v.Normalize()
			}
		}
	}
	if key.TexCoord != NoAccessor {
		if s.texCoords, err = ReadVec2(doc, key.TexCoord); err != nil {
			return nil, fmt.Errorf("texcoord: %w", err)
		}
	}
	if key.Color != NoAccessor {
		if s.colors, err = ReadVec4(doc, key.Color); err != nil {
			return nil, fmt.Errorf("color: %w", err)
		}
	}
	if key.Skinned() {
		if s.joints, err = ReadJoints(doc, key.Joints); err != nil {
			return nil, fmt.Errorf("joints: %w", err)
		}
		weights, err := ReadVec4(doc, key.Weights)
		if err != nil {
			return nil, fmt.Errorf("weights: %w", err)
		}
		s.weights = make([][4]float32, len(weights))
		for i, w := range weights {
			s.weights[i] = w
		}
	}

	for name, l := range map[string]int{
		"normal":   lenOr(s.normals, n),
		"texcoord": lenOr(s.texCoords, n),
		"color":    lenOr(s.colors, n),
		"joints":   lenOr(s.joints, n),
		"weights":  lenOr(s.weights, n),
	} {
		if l != n {
			return nil, fmt.Errorf("%s count %d does not match position count %d: %w", name, l, n, ErrAccessorRange)
		}
	}
	return s, nil
}

func lenOr[T any](s []T, def int) int {
	if s == nil {
		return def
	}
	return len(s)
}

// loadIndices reads the index buffer, or synthesizes 0..n-1 for non-indexed primitives.
func loadIndices(doc *gltf.Document, key MeshPrimitiveKey, vertexCount int) ([]uint32, error) {
	var indices []uint32
	if key.Index == NoAccessor {
		indices = make([]uint32, vertexCount)
		for i := range indices {
			indices[i] = uint32(i)
		}
	} else {
		var err error
		if indices, err = ReadIndices(doc, key.Index); err != nil {
			return nil, fmt.Errorf("indices: %w", err)
		}
	}

	if len(indices)%3 != 0 {
		return nil, fmt.Errorf("index count %d is not a multiple of 3: %w", len(indices), ErrUnsupportedTopology)
	}
	for _, idx := range indices {
		if int(idx) >= vertexCount {
			return nil, fmt.Errorf("index %d beyond %d vertices: %w", idx, vertexCount, ErrAccessorRange)
		}
	}
	return indices, nil
}
