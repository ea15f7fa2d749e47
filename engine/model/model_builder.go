package model

import (
	"github.com/Carmen-Shannon/oxy-scene/engine/scenegraph"
)

// ModelBuilderOption is a functional option for configuring a Model via NewModel.
type ModelBuilderOption func(*model)

// WithName is an option builder that sets the name of the Model.
//
// Parameters:
//   - name: the model identifier
//
// Returns:
//   - ModelBuilderOption: a function that applies the name option to a model
func WithName(name string) ModelBuilderOption {
	return func(m *model) {
		m.name = name
	}
}

// WithSource is an option builder that records the path the Model was imported from.
//
// Parameters:
//   - path: the source file path
//
// Returns:
//   - ModelBuilderOption: a function that applies the source option to a model
func WithSource(path string) ModelBuilderOption {
	return func(m *model) {
		m.source = path
	}
}

// WithGraph is an option builder that sets the scene graph of the Model.
//
// Parameters:
//   - graph: the scene graph whose instance ranges address the arrays
//
// Returns:
//   - ModelBuilderOption: a function that applies the graph option to a model
func WithGraph(graph scenegraph.SceneGraph) ModelBuilderOption {
	return func(m *model) {
		m.graph = graph
	}
}

// WithArrays is an option builder that sets the flat GPU arrays of the Model.
//
// Parameters:
//   - arrays: the assembled arrays
//
// Returns:
//   - ModelBuilderOption: a function that applies the arrays option to a model
func WithArrays(arrays *SceneArrays) ModelBuilderOption {
	return func(m *model) {
		m.arrays = arrays
	}
}
