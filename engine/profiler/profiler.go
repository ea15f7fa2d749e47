package profiler

import (
	"runtime"
	"sync"
	"time"

	"github.com/Carmen-Shannon/oxy-scene/engine/logger"
	"go.uber.org/zap"
)

// Stage is the measurement of one named import stage.
type Stage struct {
	Name     string
	Duration time.Duration
	// AllocMB is the heap allocated while the stage ran, in megabytes.
	AllocMB float64
	// GCs is the number of garbage collections that completed during the stage.
	GCs uint32
}

// Profiler times named import stages and logs a summary.
// Stages may be started from different goroutines; each Start returns its own stop function.
type Profiler struct {
	mu      sync.Mutex
	log     *zap.Logger
	started time.Time
	stages  []Stage
}

// NewProfiler creates a new Profiler. A nil logger uses the package logger.
//
// Parameters:
//   - log: the logger the summary is written to
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(log *zap.Logger) *Profiler {
	if log == nil {
		log = logger.L()
	}
	return &Profiler{
		log:     log,
		started: time.Now(),
	}
}

// Start begins timing a stage. Calling the returned function ends it and records the measurement.
//
// Parameters:
//   - name: the stage name
//
// Returns:
//   - func(): stops the stage; calling it more than once has no further effect
func (p *Profiler) Start(name string) func() {
	var before runtime.MemStats
	runtime.ReadMemStats(&before)
	begin := time.Now()

	var once sync.Once
	return func() {
		once.Do(func() {
			elapsed := time.Since(begin)
			var after runtime.MemStats
			runtime.ReadMemStats(&after)

			// TotalAlloc only grows, so the delta is the churn of this stage
			stage := Stage{
				Name:     name,
				Duration: elapsed,
				AllocMB:  float64(after.TotalAlloc-before.TotalAlloc) / 1024 / 1024,
				GCs:      after.NumGC - before.NumGC,
			}

			p.mu.Lock()
			p.stages = append(p.stages, stage)
			p.mu.Unlock()

			p.log.Debug("stage finished",
				zap.String("stage", name),
				zap.Duration("took", elapsed),
				zap.Float64("alloc_mb", stage.AllocMB))
		})
	}
}

// Stages returns the recorded stages in completion order.
func (p *Profiler) Stages() []Stage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Stage returns the named stage, if it was recorded.
func (p *Profiler) Stage(name string) (Stage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Elapsed returns the wall time since the profiler was created.
func (p *Profiler) Elapsed() time.Duration {
	return time.Since(p.started)
}

// Summary logs every recorded stage and the total wall time at Info.
//
// Parameters:
//   - msg: the log message
//   - fields: extra fields attached to the entry, such as the source file
func (p *Profiler) Summary(msg string, fields ...zap.Field) {
	stages := p.Stages()
	out := make([]zap.Field, 0, len(fields)+len(stages)+1)
	out = append(out, fields...)
	for _, s := range stages {
		out = append(out, zap.Duration(s.Name, s.Duration))
	}
	out = append(out, zap.Duration("total", p.Elapsed()))
	p.log.Info(msg, out...)
}
