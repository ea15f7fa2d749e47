package geometry

import (
	"github.com/Carmen-Shannon/automation/tools/worker"
	"go.uber.org/zap"
)

// GeometryProcessorBuilderOption is a functional option for configuring a GeometryProcessor via NewGeometryProcessor.
type GeometryProcessorBuilderOption func(*geometryProcessor)

// WithWorkers is an option builder that sets how many disjoint key partitions are processed concurrently.
//
// Parameters:
//   - n: the worker count, values below 1 are treated as 1
//
// Returns:
//   - GeometryProcessorBuilderOption: a function that applies the workers option to a processor
func WithWorkers(n int) GeometryProcessorBuilderOption {
	return func(p *geometryProcessor) {
		p.workers = max(n, 1)
	}
}

// WithWorkerPool is an option builder that runs tasks on a shared pool instead of a private one.
// The processor never stops a pool it did not create.
//
// Parameters:
//   - pool: the pool to submit partitions to
//
// Returns:
//   - GeometryProcessorBuilderOption: a function that applies the pool option to a processor
func WithWorkerPool(pool worker.DynamicWorkerPool) GeometryProcessorBuilderOption {
	return func(p *geometryProcessor) {
		p.pool = pool
		p.ownPool = false
	}
}

// WithMeshletLimits is an option builder that sets the meshlet clustering limits.
// Limits above the hardware maximum are clamped.
func WithMeshletLimits(limits MeshletLimits) GeometryProcessorBuilderOption {
	return func(p *geometryProcessor) {
		p.limits = limits.clamped()
	}
}

// WithLogger is an option builder that sets the logger used for per-primitive diagnostics.
func WithLogger(log *zap.Logger) GeometryProcessorBuilderOption {
	return func(p *geometryProcessor) {
		p.log = log
	}
}
