package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/normalize"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/pipeline"
)

type restampOutput struct {
	Stamped map[string]int64  `json:"stamped"`
	Errors  map[string]string `json:"errors,omitempty"`
}

func restampView(r pipeline.RestampReport) restampOutput {
	return restampOutput{Stamped: r.Stamped, Errors: errorStrings(r.Errors)}
}

func newRunCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Full load, restamp and normalize in one go",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBulkApp(cmd, g, func(ctx context.Context, a *app) error {
				rep, err := a.orch.Run(ctx)
				if perr := printJSON(cmd.OutOrStdout(), map[string]any{
					"full_load": rep.FullLoad,
					"restamp":   restampView(rep.Restamp),
					"normalize": rep.Normalize,
				}); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
}

func newFullLoadCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "full-load",
		Short: "Copy every collection into its table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBulkApp(cmd, g, func(ctx context.Context, a *app) error {
				if err := a.orch.Bootstrap(ctx); err != nil {
					return err
				}
				rep, err := a.orch.FullLoad(ctx)
				if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
}

func newRestampCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "restamp",
		Short: "Set added_at and modified_at on every source document to the reference instant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBulkApp(cmd, g, func(ctx context.Context, a *app) error {
				return printJSON(cmd.OutOrStdout(), restampView(a.orch.Restamp(ctx)))
			})
		},
	}
}

func newNormalizeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "normalize",
		Short: "Split nested objects into dimension tables and rebuild the normalized tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withBulkApp(cmd, g, func(ctx context.Context, a *app) error {
				if err := a.orch.Bootstrap(ctx); err != nil {
					return err
				}
				reps, err := a.orch.Normalize(ctx)
				if reps == nil {
					reps = []normalize.Report{}
				}
				if perr := printJSON(cmd.OutOrStdout(), reps); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
}
