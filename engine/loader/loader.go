package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/oxy-scene/engine/gpu"
	"github.com/Carmen-Shannon/oxy-scene/engine/logger"
	"github.com/Carmen-Shannon/oxy-scene/engine/model"
	"github.com/Carmen-Shannon/oxy-scene/engine/transform"
	"github.com/qmuntal/gltf"
	"go.uber.org/zap"
)

// ErrUnsupportedModelFormat is returned for files that are neither .gltf nor .glb.
var ErrUnsupportedModelFormat = errors.New("unsupported model format")

// cacheEntry pairs a cached model with the assembler owning its textures.
type cacheEntry struct {
	model     model.Model
	assembler SceneAssembler
}

// loader is the implementation of the Loader interface.
type loader struct {
	mu sync.RWMutex

	device     gpu.TextureDevice
	root       transform.Transform
	options    []SceneAssemblerBuilderOption
	log        *zap.Logger
	newScene   func(opts ...SceneAssemblerBuilderOption) SceneAssembler
	modelCache map[string]cacheEntry
}

// Loader imports assets and caches the resulting models by name.
// Every import runs on a fresh SceneAssembler, so imports share no state and may run concurrently.
type Loader interface {
	// Load imports a .gltf or .glb file and caches the result under its path.
	// If the path is already cached, the cached model is returned.
	//
	// Parameters:
	//   - ctx: bounds the wait for texture uploads
	//   - path: the file path to the model file
	//
	// Returns:
	//   - model.Model: the loaded and cached model
	//   - error: error if loading fails
	Load(ctx context.Context, path string) (model.Model, error)

	// LoadReader imports a self-contained asset (GLB, or glTF with embedded buffers) from a reader and caches it by
	// the given name.
	//
	// Parameters:
	//   - ctx: bounds the wait for texture uploads
	//   - name: the cache key for the loaded model
	//   - r: the reader providing model data
	//
	// Returns:
	//   - model.Model: the loaded model
	//   - error: error if loading fails
	LoadReader(ctx context.Context, name string, r io.Reader) (model.Model, error)

	// Get retrieves a cached model by name. Returns nil if not found.
	//
	// Parameters:
	//   - name: the cache key to look up
	//
	// Returns:
	//   - model.Model: the cached model or nil
	Get(name string) model.Model

	// Models returns a copy of the model cache.
	//
	// Returns:
	//   - map[string]model.Model: all cached models keyed by name
	Models() map[string]model.Model

	// Unload drops a cached model and releases its textures.
	//
	// Parameters:
	//   - name: the cache key
	//
	// Returns:
	//   - bool: true if the model was cached
	Unload(name string) bool

	// Close unloads every cached model.
	Close()
}

var _ Loader = &loader{}

// NewLoader creates a new Loader uploading textures to device.
//
// Parameters:
//   - device: the texture device shared by every import
//   - options: a variadic list of LoaderBuilderOption functions to configure the Loader
//
// Returns:
//   - Loader: a new instance of Loader
func NewLoader(device gpu.TextureDevice, options ...LoaderBuilderOption) Loader {
	l := &loader{
		device:     device,
		root:       transform.Identity(),
		modelCache: make(map[string]cacheEntry),
	}
	for _, option := range options {
		option(l)
	}
	if l.log == nil {
		l.log = logger.L()
	}
	l.newScene = func(opts ...SceneAssemblerBuilderOption) SceneAssembler {
		return NewSceneAssembler(l.device, append([]SceneAssemblerBuilderOption{WithLogger(l.log)}, opts...)...)
	}
	return l
}

func (l *loader) Load(ctx context.Context, path string) (model.Model, error) {
	if cached := l.Get(path); cached != nil {
		return cached, nil
	}
	if err := checkFormat(path); err != nil {
		return nil, err
	}

	asm := l.newScene(l.options...)
	m, err := asm.BuildSceneFromFile(ctx, path, l.root)
	if err != nil {
		asm.Release()
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return l.store(path, m, asm), nil
}

func (l *loader) LoadReader(ctx context.Context, name string, r io.Reader) (model.Model, error) {
	if cached := l.Get(name); cached != nil {
		return cached, nil
	}

	doc := new(gltf.Document)
	if err := gltf.NewDecoder(r).Decode(doc); err != nil {
		l.log.Error("asset could not be opened", zap.String("file", name), zap.Error(err))
		return nil, fmt.Errorf("%w: %s: %w", ErrAssetOpen, name, err)
	}

	asm := l.newScene(l.options...)
	m, err := asm.BuildScene(ctx, doc, l.root)
	if err != nil {
		asm.Release()
		return nil, fmt.Errorf("failed to load from reader %q: %w", name, err)
	}
	return l.store(name, m, asm), nil
}

// store caches m unless a concurrent load of the same name won, in which case the loser's textures are released.
func (l *loader) store(name string, m model.Model, asm SceneAssembler) model.Model {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.modelCache[name]; ok {
		asm.Release()
		return existing.model
	}
	l.modelCache[name] = cacheEntry{model: m, assembler: asm}
	return m
}

func (l *loader) Get(name string) model.Model {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.modelCache[name].model
}

func (l *loader) Models() map[string]model.Model {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make(map[string]model.Model, len(l.modelCache))
	for k, v := range l.modelCache {
		result[k] = v.model
	}
	return result
}

func (l *loader) Unload(name string) bool {
	l.mu.Lock()
	entry, ok := l.modelCache[name]
	delete(l.modelCache, name)
	l.mu.Unlock()

	if ok {
		entry.assembler.Release()
	}
	return ok
}

func (l *loader) Close() {
	l.mu.Lock()
	entries := l.modelCache
	l.modelCache = make(map[string]cacheEntry)
	l.mu.Unlock()

	for _, e := range entries {
		e.assembler.Release()
	}
}

// checkFormat accepts the file extensions the glTF decoder handles.
func checkFormat(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".gltf", ".glb":
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedModelFormat, ext)
	}
}
