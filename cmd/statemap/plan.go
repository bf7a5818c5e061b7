package main

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/statemap/internal/convert"
	"github.com/samcharles93/statemap/internal/safetensors"
)

type planOutput struct {
	Recipe     string        `json:"recipe"`
	Plan       *convert.Plan `json:"plan"`
	Missing    []string      `json:"missing,omitempty"`
	Unexpected []string      `json:"unexpected,omitempty"`
}

func planCmd() *cli.Command {
	var (
		modelPath   string
		showTargets bool
		asJSON      bool
		ro          recipeOptions
	)

	return &cli.Command{
		Name:  "plan",
		Usage: "Match checkpoint names against a recipe without reading tensor data",
		Flags: append([]cli.Flag{
			modelFlag(&modelPath, true),
			&cli.BoolFlag{Name: "targets", Usage: "list every target name", Destination: &showTargets},
			&cli.BoolFlag{Name: "json", Usage: "print the plan as JSON", Destination: &asJSON},
		}, recipeFlags(&ro)...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyRecipeConfig(cmd, LoadConfig(), &ro)

			model, err := safetensors.OpenModel(modelPath)
			if err != nil {
				return err
			}
			defer func() { _ = model.Close() }()

			rec, err := loadRecipe(ro, cmd.IsSet("expert-bias"), model)
			if err != nil {
				return err
			}
			plan, err := rec.Plan(ctx, model.Names(), convert.Options{})
			if err != nil {
				return err
			}
			missing, unexpected, err := rec.Check(plan)
			if err != nil {
				return err
			}

			w := cmd.Root().Writer
			if asJSON {
				b, err := json.MarshalIndent(planOutput{
					Recipe:     rec.Name,
					Plan:       plan,
					Missing:    missing,
					Unexpected: unexpected,
				}, "", "  ")
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(w, string(b))
			} else {
				printPlan(w, plan, missing, unexpected, showTargets)
			}
			return planGaps(plan, missing, unexpected)
		},
	}
}
