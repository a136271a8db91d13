package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
)

// readDocument reads one JSON object from path, or stdin when path is "-".
func readDocument(cmd *cobra.Command, path string) (document.Record, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	rec, err := document.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return rec, nil
}

// parseKey reads a business key given on the command line. JSON scalars keep
// their type ("5" is an integer); anything else is a string.
func parseKey(s string) document.Value {
	if v, err := document.ParseValueJSON([]byte(s)); err == nil {
		switch v.(type) {
		case document.Int, document.Float, document.String, document.Bool:
			return v
		}
	}
	return document.String(s)
}

func newInsertCmd(g *globals) *cobra.Command {
	var collection, file string

	cmd := &cobra.Command{
		Use:   "insert",
		Short: "Insert one document unless its business key already exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := readDocument(cmd, file)
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				out, err := a.orch.Insert(ctx, collection, doc)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"collection": collection,
					"outcome":    out.String(),
				})
			})
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection name")
	cmd.Flags().StringVar(&file, "file", "-", "JSON document (- for stdin)")
	_ = cmd.MarkFlagRequired("collection")
	return cmd
}

func newUpdateCmd(g *globals) *cobra.Command {
	var collection, key, file string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Merge fields into the document with the given business key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fields, err := readDocument(cmd, file)
			if err != nil {
				return err
			}
			return withApp(cmd, g, func(ctx context.Context, a *app) error {
				merged, err := a.orch.Update(ctx, collection, parseKey(key), fields)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), merged)
			})
		},
	}
	cmd.Flags().StringVar(&collection, "collection", "", "collection name")
	cmd.Flags().StringVar(&key, "key", "", "business key of the document")
	cmd.Flags().StringVar(&file, "file", "-", "JSON object with the fields to set (- for stdin)")
	_ = cmd.MarkFlagRequired("collection")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}
