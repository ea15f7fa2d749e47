// Package config handles import configuration loading and management.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/Carmen-Shannon/oxy-scene/engine/geometry"
	"github.com/Carmen-Shannon/oxy-scene/engine/logger"
	"github.com/Carmen-Shannon/oxy-scene/engine/optimizer"
	"github.com/Carmen-Shannon/oxy-scene/engine/transform"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/multierr"
)

// Config holds all import settings.
type Config struct {
	Import    ImportConfig    `yaml:"import"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ImportConfig holds scene assembly settings.
type ImportConfig struct {
	Workers     int           `yaml:"workers"`      // 0 means one per CPU
	QueueSize   int           `yaml:"queue_size"`   // Worker pool task queue size
	IdleTimeout time.Duration `yaml:"idle_timeout"` // Idle time before an extra worker exits

	Remap       bool `yaml:"remap"`        // Merge duplicate vertices
	VertexCache bool `yaml:"vertex_cache"` // Reorder triangles for the post-transform cache
	Fetch       bool `yaml:"fetch"`        // Reorder vertices by first use

	MeshletMaxVertices  int `yaml:"meshlet_max_vertices"`
	MeshletMaxTriangles int `yaml:"meshlet_max_triangles"`

	RootTranslation [3]float32 `yaml:"root_translation"`
	RootScale       float32    `yaml:"root_scale"`
}

// OptimizerConfig holds external optimizer settings.
type OptimizerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Tool    string `yaml:"tool"` // Executable name searched in the working directory and PATH
	Args    string `yaml:"args"` // Extra arguments, shell-quoted
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string            `yaml:"level"`
	Console bool              `yaml:"console"`
	File    logger.FileConfig `yaml:"file"` // Rotation settings; an empty path disables file output
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Import: ImportConfig{
			Workers:             0,
			QueueSize:           256,
			IdleTimeout:         time.Second,
			Remap:               true,
			VertexCache:         true,
			Fetch:               true,
			MeshletMaxVertices:  geometry.MaxMeshletVertices,
			MeshletMaxTriangles: geometry.MaxMeshletTriangles,
			RootScale:           1,
		},
		Optimizer: OptimizerConfig{
			Enabled: false,
			Tool:    optimizer.DefaultToolName,
			Args:    "-cc",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
			File:    logger.DefaultFileConfig(""),
		},
	}
}

// Validate reports every setting out of range.
func (c *Config) Validate() error {
	var errs error
	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf(format, args...))
	}

	if c.Import.Workers < 0 {
		fail("import.workers must not be negative, got %d", c.Import.Workers)
	}
	if c.Import.QueueSize < 1 {
		fail("import.queue_size must be positive, got %d", c.Import.QueueSize)
	}
	if c.Import.IdleTimeout <= 0 {
		fail("import.idle_timeout must be positive, got %s", c.Import.IdleTimeout)
	}
	if v := c.Import.MeshletMaxVertices; v < 3 || v > geometry.MaxMeshletVertices {
		fail("import.meshlet_max_vertices must be in [3, %d], got %d", geometry.MaxMeshletVertices, v)
	}
	if v := c.Import.MeshletMaxTriangles; v < 1 || v > geometry.MaxMeshletTriangles {
		fail("import.meshlet_max_triangles must be in [1, %d], got %d", geometry.MaxMeshletTriangles, v)
	}
	if c.Import.RootScale <= 0 {
		fail("import.root_scale must be positive, got %g", c.Import.RootScale)
	}
	if c.Optimizer.Enabled && c.Optimizer.Tool == "" {
		fail("optimizer.tool is required when the optimizer is enabled")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		fail("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return errs
}

// WorkerCount resolves a zero worker count to the number of CPUs.
func (c *Config) WorkerCount() int {
	if c.Import.Workers == 0 {
		return runtime.NumCPU()
	}
	return c.Import.Workers
}

// OptimizationFlags returns the geometry passes enabled by the import section.
func (c *Config) OptimizationFlags() geometry.OptimizationFlags {
	return geometry.OptimizationFlags{
		Remap:       c.Import.Remap,
		VertexCache: c.Import.VertexCache,
		Fetch:       c.Import.Fetch,
	}
}

// MeshletLimits returns the meshlet clustering limits of the import section.
func (c *Config) MeshletLimits() geometry.MeshletLimits {
	return geometry.MeshletLimits{
		MaxVertices:  c.Import.MeshletMaxVertices,
		MaxTriangles: c.Import.MeshletMaxTriangles,
	}
}

// RootTransform returns the transform of the synthetic root every imported scene hangs from.
func (c *Config) RootTransform() transform.Transform {
	s := c.Import.RootScale
	return transform.New(mgl32.Vec3(c.Import.RootTranslation), mgl32.QuatIdent(), mgl32.Vec3{s, s, s})
}

// InitLogger installs the process-wide logger described by the logging section.
func (c *Config) InitLogger() {
	logger.InitWithFile(c.Logging.Level, c.Logging.File, c.Logging.Console)
}
