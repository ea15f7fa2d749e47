package loader

import (
	"github.com/Carmen-Shannon/oxy-scene/engine/model"
	"github.com/Carmen-Shannon/oxy-scene/engine/transform"
	"go.uber.org/zap"
)

// LoaderBuilderOption is a functional option for configuring a Loader via NewLoader.
type LoaderBuilderOption func(*loader)

// WithRootTransform is an option builder that sets the transform of the synthetic root of every imported scene.
//
// Parameters:
//   - t: the root transform
//
// Returns:
//   - LoaderBuilderOption: a function that applies the root transform option to a loader
func WithRootTransform(t transform.Transform) LoaderBuilderOption {
	return func(l *loader) {
		l.root = t
	}
}

// WithAssemblerOptions is an option builder that passes options to the SceneAssembler of every import.
//
// Parameters:
//   - opts: the assembler options
//
// Returns:
//   - LoaderBuilderOption: a function that applies the assembler options to a loader
func WithAssemblerOptions(opts ...SceneAssemblerBuilderOption) LoaderBuilderOption {
	return func(l *loader) {
		l.options = append(l.options, opts...)
	}
}

// WithLoaderLogger is an option builder that sets the logger handed to every import.
func WithLoaderLogger(log *zap.Logger) LoaderBuilderOption {
	return func(l *loader) {
		l.log = log
	}
}

// WithModel is an option builder that pre-populates the model cache with a model.
// The model owns no textures, so Unload only drops it.
//
// Parameters:
//   - key: the cache key for the model
//   - model: the model to cache
//
// Returns:
//   - LoaderBuilderOption: a function that applies the model option to a loader
func WithModel(key string, model model.Model) LoaderBuilderOption {
	return func(l *loader) {
		l.modelCache[key] = cacheEntry{model: model, assembler: noTextures{}}
	}
}

// noTextures stands in for the assembler of a model that was handed in rather than imported.
type noTextures struct {
	SceneAssembler
}

func (noTextures) Release() {}
