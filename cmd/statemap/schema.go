package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/statemap/internal/safetensors"
)

func schemaCmd() *cli.Command {
	var (
		modelPath string
		countOnly bool
		ro        recipeOptions
	)

	return &cli.Command{
		Name:  "schema",
		Usage: "Print the target names a recipe must produce",
		Flags: append([]cli.Flag{
			modelFlag(&modelPath, false),
			&cli.BoolFlag{Name: "count", Usage: "print only the number of targets", Destination: &countOnly},
		}, recipeFlags(&ro)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyRecipeConfig(cmd, LoadConfig(), &ro)

			var model *safetensors.Model
			if modelPath != "" {
				m, err := safetensors.OpenModel(modelPath)
				if err != nil {
					return err
				}
				defer func() { _ = m.Close() }()
				model = m
			}

			rec, err := loadRecipe(ro, cmd.IsSet("expert-bias"), model)
			if err != nil {
				return err
			}
			targets, err := rec.ExpectedTargets()
			if err != nil {
				return err
			}

			w := cmd.Root().Writer
			if countOnly {
				printer.Fprintf(w, "%d\n", len(targets))
				return nil
			}
			for _, t := range targets {
				_, _ = fmt.Fprintln(w, t)
			}
			return nil
		},
	}
}
