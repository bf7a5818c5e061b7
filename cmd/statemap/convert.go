package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/statemap/internal/convert"
	"github.com/samcharles93/statemap/internal/logger"
	"github.com/samcharles93/statemap/internal/safetensors"
)

func convertCmd() *cli.Command {
	var (
		modelPath string
		outPath   string
		maxShard  string
		workers   int
		dryRun    bool
		ro        recipeOptions
	)

	return &cli.Command{
		Name:  "convert",
		Usage: "Convert a checkpoint to Megatron-core parameter names",
		Flags: append([]cli.Flag{
			modelFlag(&modelPath, true),
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output directory (default: $" + envOutDir + "/<model>-mcore or ./out/<model>-mcore)",
				Destination: &outPath,
			},
			&cli.StringFlag{
				Name:        "max-shard-size",
				Usage:       "largest output shard, e.g. 5GB or 512MiB; 0 writes a single file",
				Value:       "5GB",
				Destination: &maxShard,
			},
			&cli.IntFlag{
				Name:        "workers",
				Aliases:     []string{"j"},
				Usage:       "transform units in parallel",
				Value:       1,
				Destination: &workers,
			},
			&cli.BoolFlag{
				Name:        "dry-run",
				Usage:       "match names and report the plan without reading tensors",
				Destination: &dryRun,
			},
		}, recipeFlags(&ro)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			cfg := LoadConfig()
			applyConvertConfig(cmd, cfg, &workers, &maxShard)
			applyRecipeConfig(cmd, cfg, &ro)

			shardBytes, err := parseByteSize(maxShard)
			if err != nil {
				return fmt.Errorf("--max-shard-size: %w", err)
			}

			model, err := safetensors.OpenModel(modelPath)
			if err != nil {
				return err
			}
			defer func() { _ = model.Close() }()

			rec, err := loadRecipe(ro, cmd.IsSet("expert-bias"), model)
			if err != nil {
				return err
			}
			src := model.Container()
			log.Info("loaded checkpoint", "path", modelPath, "tensors", src.Len(), "recipe", rec.Name, "layers", len(rec.Layers))

			w := cmd.Root().Writer
			opts := convert.Options{Workers: workers}
			if dryRun {
				plan, err := rec.Plan(ctx, src.Keys(), opts)
				if err != nil {
					return err
				}
				missing, unexpected, err := rec.Check(plan)
				if err != nil {
					return err
				}
				printPlan(w, plan, missing, unexpected, false)
				return planGaps(plan, missing, unexpected)
			}

			start := time.Now()
			dst, rep, err := rec.Convert(ctx, src, opts)
			if err != nil {
				return err
			}

			out, defaulted, err := resolveConvertOut(modelPath, outPath, cfg.OutDir)
			if err != nil {
				return err
			}
			if defaulted {
				log.Info("no --out given", "path", out)
			}

			meta := safetensors.NewMetadata(rec.Name)
			var files []string
			if shardBytes == 0 {
				path := filepath.Join(out, "model.safetensors")
				if err := safetensors.WriteFile(path, dst, meta); err != nil {
					return err
				}
				files = []string{path}
			} else {
				files, err = safetensors.WriteSharded(out, dst, shardBytes, meta)
				if err != nil {
					return err
				}
			}

			printReport(w, rep, dst, files)
			log.Info("conversion written",
				"out", out,
				"files", len(files),
				"conversion_id", meta["conversion_id"],
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return nil
		},
	}
}
