package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/statemap/internal/logger"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "statemap",
		Usage: "Map checkpoint state dicts between parameter naming schemas",
		Flags: loggingFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg := LoadConfig()
			applyLogConfig(cmd, cfg)
			level := logLevel
			if debug {
				level = "debug"
			}
			log := logger.Configure(os.Stderr, logFormat, level)
			return logger.WithContext(ctx, log), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			convertCmd(),
			planCmd(),
			schemaCmd(),
			inspectCmd(),
			serveCmd(),
			versionCmd(),
		},
	}
}
