package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/config"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/dimension"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/divergence"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/loader"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/mapping"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/metrics"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/metrics/datadog"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/normalize"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/pipeline"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/timestamp"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/upsert"
)

// app holds the wired stores and components for one command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry mapping.Registry

	docs     source.DocumentStore
	repo     storage.MultiRepository
	journal  divergence.Journal
	orch     *pipeline.Orchestrator
	replayer *divergence.Replayer

	closers []func(context.Context) error
}

// openApp wires every component. dimClock stamps dimension rows created by
// normalization: bulk commands pass the reference instant so a bootstrap is
// reproducible, live writes pass the wall clock.
func openApp(ctx context.Context, cfg *config.Config, logger *zap.Logger, dimClock timestamp.Clock) (_ *app, err error) {
	issues := cfg.Validate()
	for _, iss := range issues {
		if iss.Severity == config.SeverityWarning {
			logger.Warn("config", zap.String("path", iss.Path), zap.String("issue", iss.Message))
		}
	}
	if mapping.HasErrors(issues) {
		return nil, fmt.Errorf("%w: %s", errInvalidConfig, summarize(issues))
	}

	a := &app{cfg: cfg, logger: logger, registry: cfg.Registry()}
	defer func() {
		if err != nil {
			a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.setupMetrics(ctx)

	if a.docs, err = source.New(ctx, cfg.SourceOptions()); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.docs.Close)

	if a.repo, err = storage.NewMulti(ctx, cfg.SinkOptions()); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { a.repo.Close(); return nil })

	switch cfg.Divergence.Journal {
	case "sqlite":
		j, err := divergence.OpenSQLite(ctx, cfg.Divergence.Path)
		if err != nil {
			return nil, err
		}
		a.journal = j
	default:
		a.journal = divergence.NewMemory()
	}
	a.closers = append(a.closers, func(context.Context) error { return a.journal.Close() })

	enc, err := loader.ParseEncoding(cfg.Loader.StructuredEncoding)
	if err != nil {
		return nil, err
	}
	l := loader.New(a.repo,
		loader.WithBatchSize(cfg.Loader.BatchSize),
		loader.WithWorkers(cfg.Loader.Workers),
		loader.WithOrderedCommits(cfg.Loader.Ordered()),
		loader.WithEncoding(enc),
		loader.WithLogger(logger),
	)
	policy := cfg.RetryPolicy()
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("retrying", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}

	a.orch = pipeline.New(pipeline.Deps{
		Docs:     a.docs,
		Repo:     a.repo,
		Registry: a.registry,
		Loader:   l,
		Upsert: upsert.New(a.docs, a.repo, a.registry, l,
			upsert.WithJournal(a.journal),
			upsert.WithRetry(policy),
			upsert.WithLogger(logger),
		),
		Normalizer: normalize.New(a.repo,
			dimension.New(a.repo, dimension.WithClock(dimClock), dimension.WithLogger(logger)),
			a.registry, enc, logger),
		Retry:            policy,
		AutoCreateTables: cfg.Sink.AutoCreate(),
		Logger:           logger,
	})
	a.replayer = divergence.NewReplayer(a.journal, a.repo, a.registry, l, logger)
	return a, nil
}

// setupMetrics installs the configured backend. A backend that fails to start
// leaves metrics disabled; the run goes on.
func (a *app) setupMetrics(ctx context.Context) {
	switch a.cfg.Metrics.Backend {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    a.cfg.Metrics.JobName,
			Tags:       datadog.ParseTags(a.cfg.Metrics.Tags),
			FlushEvery: a.cfg.Metrics.FlushEvery,
		})
		if err != nil {
			a.logger.Warn("metrics disabled", zap.String("backend", "datadog"), zap.Error(err))
			return
		}
		metrics.SetBackend(b)
		a.closers = append(a.closers, func(context.Context) error { return b.Close() })
		a.logger.Info("metrics enabled", zap.String("backend", "datadog"), zap.String("job", a.cfg.Metrics.JobName))
	default:
		a.logger.Debug("metrics disabled", zap.String("backend", a.cfg.Metrics.Backend))
	}
}

// Close releases everything openApp acquired, newest first.
func (a *app) Close(ctx context.Context) {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("close", zap.Error(err))
	}
}

func summarize(issues []config.Issue) string {
	var parts []string
	for _, iss := range issues {
		if iss.Severity == config.SeverityError {
			parts = append(parts, iss.Path+": "+iss.Message)
		}
	}
	return strings.Join(parts, "; ")
}
