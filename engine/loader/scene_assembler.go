package loader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-scene/common"
	"github.com/Carmen-Shannon/oxy-scene/engine/geometry"
	"github.com/Carmen-Shannon/oxy-scene/engine/gpu"
	"github.com/Carmen-Shannon/oxy-scene/engine/logger"
	"github.com/Carmen-Shannon/oxy-scene/engine/material"
	"github.com/Carmen-Shannon/oxy-scene/engine/model"
	"github.com/Carmen-Shannon/oxy-scene/engine/profiler"
	"github.com/Carmen-Shannon/oxy-scene/engine/transform"
	"github.com/qmuntal/gltf"
	"go.uber.org/zap"
)

// Document extensions handled outside the material assembler.
const (
	ExtMeshGPUInstancing = "EXT_mesh_gpu_instancing"
	ExtMeshQuantization  = "KHR_mesh_quantization"
)

// ErrAssetOpen is returned when the source asset cannot be opened or parsed.
var ErrAssetOpen = errors.New("asset could not be opened")

// sceneAssembler is the implementation of the SceneAssembler interface.
type sceneAssembler struct {
	device  gpu.TextureDevice
	queue   *gpu.MainQueue
	pool    worker.DynamicWorkerPool
	ownPool bool
	workers int
	flags   geometry.OptimizationFlags
	limits  geometry.MeshletLimits
	baseDir string
	log     *zap.Logger

	materials   material.MaterialAssembler
	diagnostics error
}

// SceneAssembler turns a parsed asset into a Model: a SceneGraph mirroring the asset's node hierarchy plus the
// flat GPU-ready arrays every node's primitives were appended to.
// One assembler owns the textures of every scene it built until Release.
type SceneAssembler interface {
	// BuildScene assembles a parsed document.
	// Geometry and materials are computed once up front, then the node hierarchy is walked depth-first in source
	// order and each drawn primitive is appended to the flat arrays with its offsets rebased. Primitives that fail
	// to process are logged and left out; the failures are available from Diagnostics.
	//
	// Parameters:
	//   - ctx: bounds the wait for texture uploads
	//   - doc: the parsed document with its buffers loaded
	//   - root: the transform of the synthetic root every scene node hangs from
	//
	// Returns:
	//   - model.Model: the assembled model
	//   - error: error if materials could not be loaded or the arrays came out inconsistent
	BuildScene(ctx context.Context, doc *gltf.Document, root transform.Transform) (model.Model, error)

	// BuildSceneFromFile opens a .gltf or .glb file and assembles it.
	// External images resolve against the file's directory unless a base directory was configured.
	//
	// Parameters:
	//   - ctx: bounds the wait for texture uploads
	//   - path: the asset path
	//   - root: the transform of the synthetic root
	//
	// Returns:
	//   - model.Model: the assembled model, nil on failure
	//   - error: wraps ErrAssetOpen when the file cannot be opened or parsed
	BuildSceneFromFile(ctx context.Context, path string, root transform.Transform) (model.Model, error)

	// Diagnostics returns the combined per-primitive failures of the last build, or nil.
	Diagnostics() error

	// Materials returns the material assembler holding the scene's textures, nil before the first build.
	Materials() material.MaterialAssembler

	// Release frees every texture created by the assembler and stops a pool it created.
	Release()
}

var _ SceneAssembler = &sceneAssembler{}

// NewSceneAssembler creates a SceneAssembler uploading textures to device.
//
// Parameters:
//   - device: the texture device
//   - options: builder options
//
// Returns:
//   - SceneAssembler: the assembler
func NewSceneAssembler(device gpu.TextureDevice, options ...SceneAssemblerBuilderOption) SceneAssembler {
	a := &sceneAssembler{
		device:  device,
		workers: runtime.NumCPU(),
		flags:   geometry.AllOptimizations(),
		limits:  geometry.DefaultMeshletLimits(),
	}
	for _, opt := range options {
		opt(a)
	}
	if a.log == nil {
		a.log = logger.L()
	}
	if a.queue == nil {
		a.queue = gpu.NewMainQueue()
	}
	if a.pool == nil {
		a.pool = worker.NewDynamicWorkerPool(a.workers, 256, time.Second)
		a.ownPool = true
	}
	return a
}

func (a *sceneAssembler) BuildSceneFromFile(ctx context.Context, path string, root transform.Transform) (model.Model, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		a.log.Error("asset could not be opened", zap.String("file", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrAssetOpen, path, err)
	}
	baseDir := common.Coalesce(a.baseDir, filepath.Dir(path))
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return a.build(ctx, doc, root, name, path, baseDir)
}

func (a *sceneAssembler) BuildScene(ctx context.Context, doc *gltf.Document, root transform.Transform) (model.Model, error) {
	return a.build(ctx, doc, root, "", "", a.baseDir)
}

func (a *sceneAssembler) build(ctx context.Context, doc *gltf.Document, root transform.Transform, name, source, baseDir string) (model.Model, error) {
	if doc == nil {
		a.log.Error("asset could not be opened", zap.String("file", source))
		return nil, fmt.Errorf("%w: nil document", ErrAssetOpen)
	}
	log := a.log
	if source != "" {
		log = log.With(zap.String("file", source))
	}
	prof := profiler.NewProfiler(log)

	a.warnUnsupported(log, doc)

	stop := prof.Start("geometry")
	keys, refs := geometry.UniqueKeys(doc)
	processor := geometry.NewGeometryProcessor(
		geometry.WithWorkers(a.workers),
		geometry.WithWorkerPool(a.pool),
		geometry.WithMeshletLimits(a.limits),
		geometry.WithLogger(log),
	)
	blocks, diag := processor.ProcessUniquePrimitives(doc, keys, a.flags)
	processor.Close()
	a.diagnostics = diag
	stop()

	stop = prof.Start("materials")
	if a.materials == nil {
		a.materials = material.NewMaterialAssembler(a.device, a.queue,
			material.WithWorkers(a.workers),
			material.WithWorkerPool(a.pool),
			material.WithLogger(log),
		)
	}
	materials, err := a.materials.LoadMaterials(ctx, doc, baseDir)
	stop()
	if err != nil {
		log.Error("materials could not be loaded", zap.Error(err))
		return nil, fmt.Errorf("load materials: %w", err)
	}
	defaultMaterial, err := a.materials.DefaultMaterial()
	if err != nil {
		return nil, fmt.Errorf("default material: %w", err)
	}

	stop = prof.Start("walk")
	graph, visits, walked := buildGraph(log, doc, root)
	asm := newAssembly(doc, log, blocks, refs, walked, materials, defaultMaterial)
	for _, v := range visits {
		asm.emitNode(graph, v)
	}
	graph.RecomputeDirty(nil)
	stop()

	arrays := asm.arrays
	if err := arrays.Validate(); err != nil {
		log.Error("assembled arrays are inconsistent", zap.Error(err))
		return nil, fmt.Errorf("assemble scene: %w", err)
	}

	if name == "" {
		name = sceneName(doc)
	}
	m := model.NewModel(
		model.WithName(name),
		model.WithSource(source),
		model.WithGraph(graph),
		model.WithArrays(arrays),
	)
	prof.Summary("scene assembled",
		zap.String("model", name),
		zap.Stringer("stats", arrays.Stats()),
		zap.Int("unique_primitives", len(blocks)),
		zap.Int("nodes", graph.Len()))
	return m, nil
}

func (a *sceneAssembler) Diagnostics() error {
	return a.diagnostics
}

func (a *sceneAssembler) Materials() material.MaterialAssembler {
	return a.materials
}

func (a *sceneAssembler) Release() {
	if a.materials != nil {
		a.materials.Release()
		a.materials = nil
	}
	if a.ownPool && a.pool != nil {
		a.pool.Stop()
		a.pool = nil
	}
}

// warnUnsupported logs every declared extension the import ignores. Unsupported required extensions are still
// only warnings; whatever geometry the document carries is imported.
func (a *sceneAssembler) warnUnsupported(log *zap.Logger, doc *gltf.Document) {
	required := make(map[string]bool, len(doc.ExtensionsRequired))
	for _, name := range doc.ExtensionsRequired {
		required[name] = true
	}
	for _, name := range doc.ExtensionsUsed {
		if supportedExtension(name) {
			continue
		}
		log.Warn("unsupported extension ignored", zap.String("extension", name), zap.Bool("required", required[name]))
	}
}

func supportedExtension(name string) bool {
	switch name {
	case ExtMeshGPUInstancing, ExtMeshQuantization:
		return true
	}
	return material.SupportedExtension(name)
}

// sceneName picks the active scene's name, falling back to "scene".
func sceneName(doc *gltf.Document) string {
	if len(doc.Scenes) == 0 {
		return "scene"
	}
	s := common.DerefOr(doc.Scene, 0)
	if s < 0 || s >= len(doc.Scenes) || doc.Scenes[s] == nil {
		return "scene"
	}
	return common.Coalesce(doc.Scenes[s].Name, "scene")
}
