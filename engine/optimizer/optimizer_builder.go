package optimizer

import "go.uber.org/zap"

// builder collects options that need post-processing in NewOptimizer.
type builder struct {
	o       *optimizer
	rawArgs string
}

// OptimizerBuilderOption is a functional option for configuring an Optimizer via NewOptimizer.
type OptimizerBuilderOption func(*builder)

// WithToolName is an option builder that sets the executable name to search for.
//
// Parameters:
//   - name: the executable name, without a directory
//
// Returns:
//   - OptimizerBuilderOption: a function that applies the tool name option
func WithToolName(name string) OptimizerBuilderOption {
	return func(b *builder) {
		if name != "" {
			b.o.tool = name
		}
	}
}

// WithToolPath is an option builder that skips the search and runs the given executable.
func WithToolPath(path string) OptimizerBuilderOption {
	return func(b *builder) {
		b.o.path = path
	}
}

// WithArgs is an option builder that sets extra arguments as one shell-quoted string, e.g. `-cc -si 0.5`.
//
// Parameters:
//   - args: the argument string
//
// Returns:
//   - OptimizerBuilderOption: a function that applies the arguments option
func WithArgs(args string) OptimizerBuilderOption {
	return func(b *builder) {
		b.rawArgs = args
	}
}

// WithWorkDir is an option builder that sets the directory searched first and used as the process directory.
// Defaults to the current working directory.
func WithWorkDir(dir string) OptimizerBuilderOption {
	return func(b *builder) {
		b.o.workDir = dir
	}
}

// WithOutput is an option builder that sets the callback receiving the tool's output lines.
func WithOutput(fn LineFunc) OptimizerBuilderOption {
	return func(b *builder) {
		b.o.output = fn
	}
}

// WithLogger is an option builder that sets the logger. Defaults to logger.L().
func WithLogger(log *zap.Logger) OptimizerBuilderOption {
	return func(b *builder) {
		b.o.log = log
	}
}
