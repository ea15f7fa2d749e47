package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "oxyscene"
	app.Usage = "import glTF scenes into GPU-ready scene arrays"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config, c",
			Usage: "config file (defaults to ./oxyscene.yaml, then the user config dir)",
		},
		cli.BoolFlag{
			Name:  "verbose, v",
			Usage: "enable debug logging",
		},
		cli.StringFlag{
			Name:  "log-file",
			Usage: "also write logs to this rotating file",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "inspect",
			Usage: "assemble scenes and print their array sizes and node layout",
			Description: `
Import each glTF or GLB file, flatten its node hierarchy and build the
deduplicated geometry, meshlets, materials and instances a renderer would
upload. Textures are decoded but kept in memory.`,
			ArgsUsage: "scene1.glb scene2.gltf ...",
			Flags: []cli.Flag{
				cli.BoolFlag{
					Name:  "nodes, n",
					Usage: "list every node with its instance range",
				},
				cli.BoolFlag{
					Name:  "optimize, O",
					Usage: "run the external optimizer before importing",
				},
				cli.BoolFlag{
					Name:  "gpu",
					Usage: "upload textures to a headless WebGPU device instead of keeping them in memory",
				},
				cli.BoolFlag{
					Name:  "software",
					Usage: "with --gpu, use the fallback software adapter",
				},
			},
			Action: inspectScenes,
		},
		{
			Name:      "optimize",
			Usage:     "run the external optimizer on a scene",
			ArgsUsage: "in.glb [out.glb]",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "args",
					Usage: "extra optimizer arguments, overriding the config",
				},
			},
			Action: optimizeScene,
		},
		{
			Name:  "config",
			Usage: "manage the configuration file",
			Subcommands: []cli.Command{
				{
					Name:   "show",
					Usage:  "print the effective configuration",
					Action: showConfig,
				},
				{
					Name:      "init",
					Usage:     "write the default configuration",
					ArgsUsage: "[path]",
					Action:    initConfig,
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "oxyscene:", err)
		os.Exit(1)
	}
}
