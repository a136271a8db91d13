package config

import (
	"fmt"
	"strings"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/mapping"
)

// Issue is one configuration problem. Errors block a run; warnings do not.
type Issue = mapping.Issue

const (
	SeverityError   = mapping.SeverityError
	SeverityWarning = mapping.SeverityWarning
)

var (
	sourceKinds   = []string{"mongo", "jsonfile", "memory"}
	sinkKinds     = []string{"postgres", "sqlite", "mssql"}
	encodings     = []string{"json", "json+snappy"}
	metricsKinds  = []string{"none", "datadog"}
	journalKinds  = []string{"memory", "sqlite"}
	logFormats    = []string{"json", "console"}
	maxBatchSize  = 100000
	maxLoaderJobs = 64
)

// Validate reports every problem at once, including mapping issues under the
// "mapping." path.
func (c *Config) Validate() []Issue {
	var issues []Issue
	add := func(sev, path, format string, args ...any) {
		issues = append(issues, Issue{Severity: sev, Path: path, Message: fmt.Sprintf(format, args...)})
	}
	oneOf := func(path, v string, allowed []string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		add(SeverityError, path, "%q is not one of %s", v, strings.Join(allowed, "|"))
	}

	oneOf("source.kind", c.Source.Kind, sourceKinds)
	switch c.Source.Kind {
	case "mongo":
		if c.Source.URI == "" {
			add(SeverityError, "source.uri", "required for mongo (or set MONGO_URI)")
		}
		if c.Source.Database == "" {
			add(SeverityError, "source.database", "required for mongo")
		}
	case "jsonfile":
		if c.Source.Dir == "" {
			add(SeverityError, "source.dir", "required for jsonfile")
		}
	case "memory":
		add(SeverityWarning, "source.kind", "memory source starts empty")
	}

	oneOf("sink.kind", c.Sink.Kind, sinkKinds)
	if c.Sink.ConnString() == "" {
		add(SeverityError, "sink.dsn", "required (or set SINK_DSN / PG_HOST)")
	}
	if c.Sink.MaxConns < 0 {
		add(SeverityError, "sink.max_conns", "must be >= 0")
	}

	if c.Loader.BatchSize < 1 || c.Loader.BatchSize > maxBatchSize {
		add(SeverityError, "loader.batch_size", "must be in 1..%d, got %d", maxBatchSize, c.Loader.BatchSize)
	}
	if c.Loader.Workers < 1 || c.Loader.Workers > maxLoaderJobs {
		add(SeverityError, "loader.workers", "must be in 1..%d, got %d", maxLoaderJobs, c.Loader.Workers)
	}
	oneOf("loader.structured_encoding", c.Loader.StructuredEncoding, encodings)
	if !c.Loader.Ordered() && c.Loader.Workers > 1 {
		add(SeverityWarning, "loader.ordered_commits", "unordered commits: a failed load may leave later batches committed")
	}

	if c.Retry.MaxRetries < 0 {
		add(SeverityError, "retry.max_retries", "must be >= 0")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.InitialDelay > c.Retry.MaxDelay {
		add(SeverityError, "retry.initial_delay", "exceeds retry.max_delay")
	}

	oneOf("metrics.backend", c.Metrics.Backend, metricsKinds)
	oneOf("log.format", c.Log.Format, logFormats)

	oneOf("divergence.journal", c.Divergence.Journal, journalKinds)
	if c.Divergence.Journal == "sqlite" && c.Divergence.Path == "" {
		add(SeverityError, "divergence.path", "required for the sqlite journal")
	}

	for _, iss := range c.Registry().Validate() {
		iss.Path = "mapping." + iss.Path
		issues = append(issues, iss)
	}
	return issues
}
