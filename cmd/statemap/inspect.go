package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/statemap/internal/safetensors"
)

func inspectCmd() *cli.Command {
	var (
		modelPath string
		filter    string
		limit     int
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "List the tensors in a safetensors checkpoint",
		Flags: []cli.Flag{
			modelFlag(&modelPath, true),
			&cli.StringFlag{Name: "filter", Usage: "only tensors whose name contains this substring", Destination: &filter},
			&cli.IntFlag{Name: "limit", Usage: "max tensors to print (0 = all)", Destination: &limit},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			model, err := safetensors.OpenModel(modelPath)
			if err != nil {
				return err
			}
			defer func() { _ = model.Close() }()

			names := model.Names()
			if filter != "" {
				names = slices.DeleteFunc(names, func(n string) bool { return !strings.Contains(n, filter) })
			}

			w := cmd.Root().Writer
			for _, file := range slices.Sorted(maps.Keys(model.Files)) {
				meta := model.Files[file].Metadata
				_, _ = fmt.Fprintln(w, file)
				for _, k := range slices.Sorted(maps.Keys(meta)) {
					_, _ = fmt.Fprintf(w, "  %s: %s\n", k, meta[k])
				}
			}

			tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
			var total int64
			for i, name := range names {
				ref, _ := model.Tensor(name)
				info := ref.Info()
				total += info.Size()
				if limit > 0 && i >= limit {
					continue
				}
				printer.Fprintf(tw, "%s\t%s\t%v\t%d\n", name, info.DType, info.Shape, info.Size())
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if limit > 0 && len(names) > limit {
				printer.Fprintf(w, "... %d more\n", len(names)-limit)
			}
			printer.Fprintf(w, "tensors: %d, %d bytes\n", len(names), total)
			return nil
		},
	}
}
