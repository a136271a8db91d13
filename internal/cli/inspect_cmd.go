package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/mapping"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/timestamp"
)

func newValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the mapping registry without connecting",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issues := g.cfg.Validate()
			for _, iss := range issues {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
			}
			if mapping.HasErrors(issues) {
				return errInvalidConfig
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
			return nil
		},
	}
}

func newLatestCmd(g *globals) *cobra.Command {
	var collection string

	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Print the newest added_at and modified_at of a collection's table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				added, modified, err := a.orch.LatestTimestamps(ctx, collection)
				if err != nil {
					return err
				}
				out := map[string]string{"collection": collection, mapping.AddedAt: "", mapping.ModifiedAt: ""}
				if !added.IsZero() {
					out[mapping.AddedAt] = timestamp.Denormalize(added)
				}
				if !modified.IsZero() {
					out[mapping.ModifiedAt] = timestamp.Denormalize(modified)
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection name")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func newReplayCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "replay-divergence",
		Short: "Re-apply journaled writes the relational store missed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				rep, err := a.replayer.Replay(ctx)
				applied := rep.Applied
				if applied == nil {
					applied = []string{}
				}
				if perr := printJSON(cmd.OutOrStdout(), map[string]any{
					"applied": applied,
					"failed":  errorStrings(rep.Failed),
				}); perr != nil && err == nil {
					err = perr
				}
				return err
			})
		},
	}
}
