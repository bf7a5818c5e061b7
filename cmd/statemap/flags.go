package main

import "github.com/urfave/cli/v3"

var (
	logLevel  string
	logFormat string
	debug     bool
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

// recipeOptions selects how source names map to target names.
type recipeOptions struct {
	family     string
	recipePath string
	configPath string
	layers     string
	expertBias bool
}

func recipeFlags(o *recipeOptions) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "family",
			Aliases:     []string{"f"},
			Usage:       "built-in source family (deepseek, deepseek-v2, deepseek-v3)",
			Value:       "deepseek",
			Destination: &o.family,
		},
		&cli.StringFlag{
			Name:        "recipe",
			Usage:       "YAML recipe file; replaces --family",
			Destination: &o.recipePath,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "override path to the checkpoint config.json",
			Destination: &o.configPath,
		},
		&cli.StringFlag{
			Name:        "layers",
			Usage:       "override layer kinds, e.g. dense,moe,moe",
			Destination: &o.layers,
		},
		&cli.BoolFlag{
			Name:        "expert-bias",
			Usage:       "force the router expert bias mapping on or off",
			Destination: &o.expertBias,
		},
	}
}

func modelFlag(dst *string, required bool) cli.Flag {
	return &cli.StringFlag{
		Name:        "model",
		Aliases:     []string{"m"},
		Usage:       "source checkpoint (.safetensors file or directory)",
		Destination: dst,
		Required:    required,
	}
}
