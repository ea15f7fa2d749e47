// Package optimizer runs an external mesh optimizer, gltfpack by default, as an offline preprocessing step.
package optimizer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/Carmen-Shannon/oxy-scene/engine/logger"
	"github.com/mattn/go-shellwords"
	"go.uber.org/zap"
)

// DefaultToolName is the executable searched for when no other name is configured.
const DefaultToolName = "gltfpack"

// maxLineBytes is the longest output line passed on.
const maxLineBytes = 1024 * 1024

var (
	// ErrToolNotFound is returned when the tool is neither in the working directory nor on PATH.
	ErrToolNotFound = errors.New("optimizer tool not found")
	// ErrToolFailed is returned when the tool ran and exited unsuccessfully.
	ErrToolFailed = errors.New("optimizer tool failed")
)

// Stream names the output stream a line came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// LineFunc receives each line the tool prints. Calls are serialized.
type LineFunc func(stream Stream, line string)

// optimizer is the implementation of the Optimizer interface.
type optimizer struct {
	tool    string
	args    []string
	workDir string
	path    string
	output  LineFunc
	log     *zap.Logger
}

// Optimizer locates and runs the external optimizer tool.
type Optimizer interface {
	// Locate searches the working directory, then every PATH directory, for the tool.
	//
	// Returns:
	//   - string: the executable path
	//   - error: ErrToolNotFound if no executable matched
	Locate() (string, error)

	// Available reports whether Locate succeeds.
	Available() bool

	// Optimize runs the tool on in and writes the result to out. Each output line is passed to the configured
	// LineFunc and logged, stdout at Info and stderr at Warn.
	//
	// Parameters:
	//   - ctx: cancels the running process
	//   - in: the source asset
	//   - out: the destination asset
	//
	// Returns:
	//   - string: out on success, empty otherwise
	//   - error: ErrToolNotFound, ErrToolFailed or the context error
	Optimize(ctx context.Context, in, out string) (string, error)

	// Args returns the extra arguments passed after -i and -o.
	Args() []string
}

var _ Optimizer = &optimizer{}

// NewOptimizer creates an Optimizer.
//
// Parameters:
//   - options: builder options
//
// Returns:
//   - Optimizer: the optimizer
//   - error: error if the configured argument string cannot be parsed
func NewOptimizer(options ...OptimizerBuilderOption) (Optimizer, error) {
	o := &optimizer{tool: DefaultToolName}
	b := &builder{o: o}
	for _, opt := range options {
		opt(b)
	}
	if o.log == nil {
		o.log = logger.L()
	}
	if b.rawArgs != "" {
		args, err := shellwords.Parse(b.rawArgs)
		if err != nil {
			return nil, fmt.Errorf("parse optimizer arguments %q: %w", b.rawArgs, err)
		}
		o.args = append(o.args, args...)
	}
	return o, nil
}

func (o *optimizer) Args() []string {
	return o.args
}

func (o *optimizer) Locate() (string, error) {
	if o.path != "" {
		return o.path, nil
	}

	dirs := []string{o.workDir}
	if dirs[0] == "" {
		if wd, err := os.Getwd(); err == nil {
			dirs[0] = wd
		}
	}
	dirs = append(dirs, filepath.SplitList(os.Getenv("PATH"))...)

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, name := range executableNames(o.tool) {
			candidate := filepath.Join(dir, name)
			if isExecutable(candidate) {
				o.path = candidate
				return candidate, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %s", ErrToolNotFound, o.tool)
}

func (o *optimizer) Available() bool {
	_, err := o.Locate()
	return err == nil
}

func (o *optimizer) Optimize(ctx context.Context, in, out string) (string, error) {
	log := o.log.With(zap.String("file", in))
	path, err := o.Locate()
	if err != nil {
		log.Warn("optimizer unavailable, using the unoptimized asset", zap.String("tool", o.tool))
		return "", err
	}

	args := append([]string{"-i", in, "-o", out}, o.args...)
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Dir = o.workDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", err
	}

	log.Info("running optimizer", zap.String("tool", path), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		log.Error("optimizer could not start", zap.String("tool", path), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrToolFailed, err)
	}

	var mu sync.Mutex
	emit := func(stream Stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		if stream == Stderr {
			log.Warn(line, zap.String("stream", string(stream)))
		} else {
			log.Info(line, zap.String("stream", string(stream)))
		}
		if o.output != nil {
			o.output(stream, line)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(log, stdout, Stdout, emit)
	}()
	go func() {
		defer wg.Done()
		scanLines(log, stderr, Stderr, emit)
	}()
	// pipes must be drained before Wait closes them
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			log.Warn("optimizer cancelled", zap.Error(ctx.Err()))
			return "", ctx.Err()
		}
		log.Error("optimizer failed", zap.Int("exit_code", exitCode(err)), zap.Error(err))
		return "", fmt.Errorf("%w: %s: %w", ErrToolFailed, o.tool, err)
	}
	log.Info("optimizer finished", zap.String("output", out))
	return out, nil
}

// scanLines emits every non-empty line of r. After a read error, such as a line longer than maxLineBytes, the rest
// of r is discarded so the process never blocks on a full pipe.
func scanLines(log *zap.Logger, r io.Reader, stream Stream, emit func(Stream, string)) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		if line := strings.TrimRight(sc.Text(), "\r"); line != "" {
			emit(stream, line)
		}
	}
	if err := sc.Err(); err != nil {
		log.Warn("optimizer output unreadable, discarding the rest", zap.String("stream", string(stream)), zap.Error(err))
		_, _ = io.Copy(io.Discard, r)
	}
}

// exitCode returns the process exit status, or -1 when the process did not exit normally.
func exitCode(err error) int {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode()
	}
	return -1
}

func executableNames(tool string) []string {
	if runtime.GOOS == "windows" && filepath.Ext(tool) == "" {
		return []string{tool + ".exe", tool}
	}
	return []string{tool}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
