package loader

import (
	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-scene/engine/geometry"
	"github.com/Carmen-Shannon/oxy-scene/engine/gpu"
	"go.uber.org/zap"
)

// SceneAssemblerBuilderOption is a functional option for configuring a SceneAssembler via NewSceneAssembler.
type SceneAssemblerBuilderOption func(*sceneAssembler)

// WithWorkers is an option builder that sets the worker count of the pool shared by geometry and texture decode.
//
// Parameters:
//   - n: the worker count, values below 1 are treated as 1
//
// Returns:
//   - SceneAssemblerBuilderOption: a function that applies the workers option to an assembler
func WithWorkers(n int) SceneAssemblerBuilderOption {
	return func(a *sceneAssembler) {
		a.workers = max(n, 1)
	}
}

// WithWorkerPool is an option builder that shares an existing pool. The assembler never stops a shared pool.
func WithWorkerPool(pool worker.DynamicWorkerPool) SceneAssemblerBuilderOption {
	return func(a *sceneAssembler) {
		a.pool = pool
		a.ownPool = false
	}
}

// WithMainQueue is an option builder that sets the queue texture uploads are handed back to.
// The goroutine calling BuildScene drains it.
func WithMainQueue(q *gpu.MainQueue) SceneAssemblerBuilderOption {
	return func(a *sceneAssembler) {
		a.queue = q
	}
}

// WithOptimizations is an option builder that selects the geometry passes.
func WithOptimizations(flags geometry.OptimizationFlags) SceneAssemblerBuilderOption {
	return func(a *sceneAssembler) {
		a.flags = flags
	}
}

// WithMeshletLimits is an option builder that sets the meshlet clustering limits.
func WithMeshletLimits(limits geometry.MeshletLimits) SceneAssemblerBuilderOption {
	return func(a *sceneAssembler) {
		a.limits = limits
	}
}

// WithBaseDir is an option builder that sets the directory external image URIs resolve against.
func WithBaseDir(dir string) SceneAssemblerBuilderOption {
	return func(a *sceneAssembler) {
		a.baseDir = dir
	}
}

// WithLogger is an option builder that sets the logger. Defaults to logger.L().
func WithLogger(log *zap.Logger) SceneAssemblerBuilderOption {
	return func(a *sceneAssembler) {
		a.log = log
	}
}
