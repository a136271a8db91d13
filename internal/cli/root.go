// Package cli is the loansync command line.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/config"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/logging"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/syncerr"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/timestamp"
)

// Exit codes.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitInvalid    = 2
	ExitDivergence = 3
)

var errInvalidConfig = errors.New("configuration is invalid")

// Execute runs the CLI with os.Args and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return ExitOK
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errInvalidConfig):
		return ExitInvalid
	case errors.Is(err, syncerr.ErrDivergence):
		return ExitDivergence
	default:
		return ExitError
	}
}

// globals are resolved once by the root PersistentPreRunE.
type globals struct {
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "loansync",
		Short:         "Sync micro-finance loan documents into a relational store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(g.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Log.Level = g.logLevel
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return err
			}
			g.cfg, g.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if g.logger != nil {
				_ = g.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML config file (env variables override it)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newRunCmd(g),
		newFullLoadCmd(g),
		newRestampCmd(g),
		newNormalizeCmd(g),
		newInsertCmd(g),
		newUpdateCmd(g),
		newValidateCmd(g),
		newLatestCmd(g),
		newReplayCmd(g),
	)
	return root
}

// withApp opens the stores for the duration of fn.
func withApp(cmd *cobra.Command, g *globals, fn func(ctx context.Context, a *app) error) error {
	return runApp(cmd, g, timestamp.System, fn)
}

// withBulkApp is withApp for bulk commands; new dimension rows carry the
// reference instant like the bulk-loaded facts.
func withBulkApp(cmd *cobra.Command, g *globals, fn func(ctx context.Context, a *app) error) error {
	return runApp(cmd, g, timestamp.Fixed(timestamp.ReferenceInstant()), fn)
}

func runApp(cmd *cobra.Command, g *globals, dimClock timestamp.Clock, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, g.cfg, g.logger, dimClock)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errorStrings(m map[string]error) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, err := range m {
		out[k] = err.Error()
	}
	return out
}
