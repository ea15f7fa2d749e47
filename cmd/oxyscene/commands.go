package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/Carmen-Shannon/automation/tools/worker"
	"github.com/Carmen-Shannon/oxy-scene/engine/config"
	"github.com/Carmen-Shannon/oxy-scene/engine/gpu"
	"github.com/Carmen-Shannon/oxy-scene/engine/loader"
	"github.com/Carmen-Shannon/oxy-scene/engine/logger"
	"github.com/Carmen-Shannon/oxy-scene/engine/model"
	"github.com/Carmen-Shannon/oxy-scene/engine/optimizer"
	"github.com/Carmen-Shannon/oxy-scene/engine/scenegraph"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// setup loads the configuration and installs the logger.
func setup(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.GlobalString("config"), config.Overrides{
		Verbose: ctx.GlobalBool("verbose"),
		LogFile: ctx.GlobalString("log-file"),
	})
	if err != nil {
		return nil, err
	}
	cfg.InitLogger()
	return cfg, nil
}

func newOptimizer(cfg *config.Config, args string) (optimizer.Optimizer, error) {
	if args == "" {
		args = cfg.Optimizer.Args
	}
	return optimizer.NewOptimizer(
		optimizer.WithToolName(cfg.Optimizer.Tool),
		optimizer.WithArgs(args),
		optimizer.WithLogger(logger.Named("optimizer")),
	)
}

func inspectScenes(ctx *cli.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if ctx.NArg() == 0 {
		return errors.New("missing scene file")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	pool := worker.NewDynamicWorkerPool(cfg.WorkerCount(), cfg.Import.QueueSize, cfg.Import.IdleTimeout)
	defer pool.Stop()

	device, err := openDevice(ctx.Bool("gpu"), ctx.Bool("software"))
	if err != nil {
		return err
	}
	defer device.Close()

	ld := loader.NewLoader(device,
		loader.WithRootTransform(cfg.RootTransform()),
		loader.WithLoaderLogger(logger.Named("loader")),
		loader.WithAssemblerOptions(
			loader.WithWorkerPool(pool),
			loader.WithOptimizations(cfg.OptimizationFlags()),
			loader.WithMeshletLimits(cfg.MeshletLimits()),
			loader.WithLogger(logger.Named("assembler")),
		),
	)
	defer ld.Close()

	var opt optimizer.Optimizer
	if ctx.Bool("optimize") || cfg.Optimizer.Enabled {
		if opt, err = newOptimizer(cfg, ""); err != nil {
			return err
		}
	}

	for _, path := range ctx.Args() {
		source := path
		if opt != nil {
			source = optimizeBeforeImport(runCtx, opt, path)
		}

		m, err := ld.Load(runCtx, source)
		if err != nil {
			return err
		}
		printModel(m, path, ctx.Bool("nodes"))
	}
	if mem, ok := device.(*gpu.MemoryDevice); ok {
		fmt.Printf("textures: %d resident, %d uploads\n", mem.Textures(), mem.Uploads())
	}
	return nil
}

// openDevice returns a WebGPU device when requested, otherwise an in-memory device that only records uploads.
func openDevice(useGPU, software bool) (gpu.TextureDevice, error) {
	if !useGPU {
		return gpu.NewMemoryDevice(), nil
	}
	d, err := gpu.OpenHeadless(software)
	if err != nil {
		return nil, fmt.Errorf("open gpu device: %w", err)
	}
	return d, nil
}

// optimizeBeforeImport returns the optimized copy of path, or path itself when the tool is unavailable or fails.
// The copy sits next to the source so relative texture URIs still resolve.
func optimizeBeforeImport(ctx context.Context, opt optimizer.Optimizer, path string) string {
	out, err := opt.Optimize(ctx, path, optimizedName(path))
	if err != nil {
		logger.Warn("importing the unoptimized asset", zap.String("file", path), zap.Error(err))
		return path
	}
	return out
}

func optimizedName(path string) string {
	ext := filepath.Ext(path)
	if strings.EqualFold(ext, ".gltf") {
		ext = ".glb"
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ".opt" + ext
}

func printModel(m model.Model, path string, nodes bool) {
	b := m.Bounds()
	fmt.Printf("%s (%s)\n", m.Name(), path)
	fmt.Printf("  %s\n", m.Stats())
	fmt.Printf("  bounds: min %v max %v\n", b.Min, b.Max)
	if !nodes {
		return
	}

	g := m.Graph()
	g.Walk(func(id scenegraph.NodeID, depth int) bool {
		r := g.InstanceRange(id)
		indent := strings.Repeat("  ", depth+1)
		if r.Len() == 0 {
			fmt.Printf("  %s%s\n", indent, g.Name(id))
		} else {
			fmt.Printf("  %s%s [%d, %d)\n", indent, g.Name(id), r.Start, r.End)
		}
		return true
	})
}

func optimizeScene(ctx *cli.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if ctx.NArg() < 1 {
		return errors.New("missing input file")
	}
	in := ctx.Args().Get(0)
	out := ctx.Args().Get(1)
	if out == "" {
		out = optimizedName(in)
	}

	opt, err := newOptimizer(cfg, ctx.String("args"))
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	written, err := opt.Optimize(runCtx, in, out)
	if err != nil {
		return err
	}
	fmt.Println(written)
	return nil
}

func showConfig(ctx *cli.Context) error {
	cfg, err := setup(ctx)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func initConfig(ctx *cli.Context) error {
	path := ctx.Args().First()
	if path == "" {
		path = filepath.Join(config.ConfigDir(), config.FileName)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Default().SaveTo(path); err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
