package material

import (
	"github.com/Carmen-Shannon/automation/tools/worker"
	"go.uber.org/zap"
)

// MaterialAssemblerBuilderOption is a functional option for configuring a MaterialAssembler.
type MaterialAssemblerBuilderOption func(*materialAssembler)

// WithWorkers sets the decode worker count of an assembler that creates its own pool.
func WithWorkers(n int) MaterialAssemblerBuilderOption {
	return func(a *materialAssembler) {
		a.workers = max(n, 1)
	}
}

// WithWorkerPool shares an existing pool. The assembler does not stop a shared pool.
func WithWorkerPool(pool worker.DynamicWorkerPool) MaterialAssemblerBuilderOption {
	return func(a *materialAssembler) {
		a.pool = pool
		a.ownPool = false
	}
}

// WithLogger sets the logger. Defaults to logger.L().
func WithLogger(l *zap.Logger) MaterialAssemblerBuilderOption {
	return func(a *materialAssembler) {
		a.log = l
	}
}
