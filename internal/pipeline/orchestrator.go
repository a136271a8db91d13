// Package pipeline drives the sync stages: full load of every collection,
// restamping of the source, dimension normalization, and discrete inserts
// and updates afterwards.
//
// Stages run one after another and each commits on its own. Nothing spans
// two collections or two stages.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/loader"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/logging"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/mapping"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/metrics"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/normalize"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/retry"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/timestamp"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/upsert"
)

// Deps are the collaborators of an Orchestrator. Docs, Repo, Loader,
// Upsert and Normalizer are required.
type Deps struct {
	Docs       source.DocumentStore
	Repo       storage.MultiRepository
	Registry   mapping.Registry
	Loader     *loader.Loader
	Upsert     *upsert.Controller
	Normalizer *normalize.Pass

	// Retry wraps source reads. nil means retry.DefaultConfig().
	Retry *retry.Config

	// AutoCreateTables makes Bootstrap create missing sink tables.
	AutoCreateTables bool

	Logger *zap.Logger
}

type Orchestrator struct {
	docs       source.DocumentStore
	repo       storage.MultiRepository
	registry   mapping.Registry
	loader     *loader.Loader
	upsert     *upsert.Controller
	normalizer *normalize.Pass
	retry      *retry.Config
	autoCreate bool
	logger     *zap.Logger
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		docs:       d.Docs,
		repo:       d.Repo,
		registry:   d.Registry,
		loader:     d.Loader,
		upsert:     d.Upsert,
		normalizer: d.Normalizer,
		retry:      d.Retry,
		autoCreate: d.AutoCreateTables,
		logger:     logging.OrNop(d.Logger),
	}
	if o.retry == nil {
		o.retry = retry.DefaultConfig()
	}
	return o
}

type CollectionReport struct {
	Collection        string
	Table             string
	Read              int
	SentinelsReplaced int
	Loaded            int64
	Batches           int
}

type FullLoadReport struct {
	Collections []CollectionReport
}

type RestampReport struct {
	Stamped map[string]int64
	Errors  map[string]error
}

type RunReport struct {
	FullLoad  FullLoadReport
	Restamp   RestampReport
	Normalize []normalize.Report
}

// step times fn and records it under name.
func (o *Orchestrator) step(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(name, metrics.StepStatus(err), time.Since(start))
	return err
}

// Bootstrap checks both stores and creates missing sink tables.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	return o.step("bootstrap", func() error {
		log := logging.Stage(o.logger, "bootstrap")
		if err := o.docs.Ping(ctx); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		if err := o.repo.Ping(ctx); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		if !o.autoCreate {
			log.Info("table creation disabled")
			return nil
		}
		specs := loader.AdaptSpecs(o.registry.TableSpecs(), o.loader.Encoding())
		if err := o.repo.EnsureTables(ctx, specs); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
		log.Info("sink tables ready", zap.Int("tables", len(specs)))
		return nil
	})
}

// FullLoad copies every collection into its sink table in registry order.
// The first failure stops the run; collections already loaded stay loaded.
func (o *Orchestrator) FullLoad(ctx context.Context) (FullLoadReport, error) {
	var rep FullLoadReport
	err := o.step("full_load", func() error {
		for _, coll := range o.registry.Collections {
			cr, err := o.loadCollection(ctx, coll)
			rep.Collections = append(rep.Collections, cr)
			if err != nil {
				return fmt.Errorf("full load %s: %w", coll.Name, err)
			}
		}
		return nil
	})
	return rep, err
}

func (o *Orchestrator) loadCollection(ctx context.Context, coll mapping.Collection) (CollectionReport, error) {
	start := time.Now()
	cr := CollectionReport{Collection: coll.Name, Table: coll.Table}
	log := logging.Stage(o.logger, "full_load").With(zap.String(logging.KeyCollection, coll.Name))

	recs, err := retry.DoWithResult(ctx, o.retry, func() ([]document.Record, error) {
		return o.docs.Read(ctx, coll.Name)
	})
	if err != nil {
		return cr, err
	}
	cr.Read = len(recs)
	metrics.RecordRecords("read", len(recs))

	cr.SentinelsReplaced = timestamp.ReplaceSentinels(recs, coll.DateFields)
	ref := document.TimeOf(timestamp.ReferenceInstant())
	for i, rec := range recs {
		if v, ok := rec.Get(coll.UniqueKey); !ok || document.IsNull(v) {
			return cr, fmt.Errorf("document #%d has no %s", i, coll.UniqueKey)
		}
		norm, err := timestamp.Normalize(rec, coll.DateFields)
		if err != nil {
			return cr, fmt.Errorf("%s=%s: %w", coll.UniqueKey, document.KeyString(rec[coll.UniqueKey]), err)
		}
		for _, f := range []string{mapping.AddedAt, mapping.ModifiedAt} {
			if document.IsNull(norm[f]) {
				norm[f] = ref
			}
		}
		recs[i] = norm
	}

	res, err := o.loader.Load(ctx, loader.Request{
		Table:            coll.Table,
		Records:          recs,
		Columns:          coll.LoadColumns(),
		StructuredFields: coll.Encoded(),
		KeyField:         coll.UniqueKey,
	})
	cr.Loaded, cr.Batches = res.Rows, res.Batches
	if err != nil {
		return cr, err
	}

	if dim, ok := o.registry.DimensionFor(coll.Table); ok && len(recs) > 0 {
		if err := o.repo.SyncKeySequence(ctx, coll.Table, dim.KeyColumn); err != nil {
			return cr, err
		}
	}

	log.Info("collection loaded",
		zap.String(logging.KeyTable, coll.Table),
		zap.Int("read", cr.Read),
		zap.Int64(logging.KeyRows, cr.Loaded),
		zap.Int("sentinels", cr.SentinelsReplaced),
		logging.Since(start),
	)
	return cr, nil
}

// Restamp sets added_at and modified_at on every source document to the
// frozen reference instant. It is best effort: failures are logged and
// reported per collection, never returned.
func (o *Orchestrator) Restamp(ctx context.Context) RestampReport {
	rep := RestampReport{Stamped: map[string]int64{}, Errors: map[string]error{}}
	log := logging.Stage(o.logger, "restamp")
	ref := document.TimeOf(timestamp.ReferenceInstant())
	stamp := document.Record{mapping.AddedAt: ref, mapping.ModifiedAt: ref}

	_ = o.step("restamp", func() error {
		for _, coll := range o.registry.Collections {
			n, err := o.docs.StampAll(ctx, coll.Name, stamp)
			if err != nil {
				rep.Errors[coll.Name] = err
				log.Warn("restamp failed", zap.String(logging.KeyCollection, coll.Name), zap.Error(err))
				continue
			}
			rep.Stamped[coll.Name] = n
		}
		return nil
	})
	return rep
}

// Normalize runs every normalization of the registry.
func (o *Orchestrator) Normalize(ctx context.Context) ([]normalize.Report, error) {
	var reps []normalize.Report
	err := o.step("normalize", func() error {
		var err error
		reps, err = o.normalizer.RunAll(ctx)
		return err
	})
	return reps, err
}

// Run is the bulk bootstrap: Bootstrap, FullLoad, Restamp, Normalize.
func (o *Orchestrator) Run(ctx context.Context) (RunReport, error) {
	var rep RunReport
	start := time.Now()

	if err := o.Bootstrap(ctx); err != nil {
		return rep, err
	}
	fl, err := o.FullLoad(ctx)
	rep.FullLoad = fl
	if err != nil {
		return rep, err
	}
	rep.Restamp = o.Restamp(ctx)
	if rep.Normalize, err = o.Normalize(ctx); err != nil {
		return rep, err
	}

	o.logger.Info("run complete",
		zap.Int("collections", len(rep.FullLoad.Collections)),
		zap.Int("restamp_errors", len(rep.Restamp.Errors)),
		logging.Since(start),
	)
	return rep, nil
}

// Insert adds one document and refreshes the normalized tables it feeds.
func (o *Orchestrator) Insert(ctx context.Context, collection string, doc document.Record) (upsert.Outcome, error) {
	var out upsert.Outcome
	err := o.step("insert", func() error {
		var err error
		if out, err = o.upsert.Insert(ctx, collection, doc); err != nil {
			return err
		}
		if out == upsert.Inserted {
			return o.renormalize(ctx, collection)
		}
		return nil
	})
	return out, err
}

// Update changes one document and refreshes the normalized tables it feeds.
func (o *Orchestrator) Update(ctx context.Context, collection string, key document.Value, fields document.Record) (document.Record, error) {
	var merged document.Record
	err := o.step("update", func() error {
		var err error
		if merged, err = o.upsert.Update(ctx, collection, key, fields); err != nil {
			return err
		}
		return o.renormalize(ctx, collection)
	})
	return merged, err
}

func (o *Orchestrator) renormalize(ctx context.Context, collection string) error {
	for _, n := range o.registry.NormalizationsFor(collection) {
		if _, err := o.normalizer.Run(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// LatestTimestamps returns MAX(added_at) and MAX(modified_at) of the
// collection's sink table. Both are zero for an empty table.
func (o *Orchestrator) LatestTimestamps(ctx context.Context, collection string) (added, modified time.Time, err error) {
	coll, err := o.registry.MustLookup(collection)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	a, m, ok, err := o.repo.MaxTimestamps(ctx, coll.Table, mapping.AddedAt, mapping.ModifiedAt)
	if err != nil || !ok {
		return time.Time{}, time.Time{}, err
	}
	if added, err = asTime(a); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("latest %s.%s: %w", coll.Table, mapping.AddedAt, err)
	}
	if modified, err = asTime(m); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("latest %s.%s: %w", coll.Table, mapping.ModifiedAt, err)
	}
	return added.In(timestamp.Zone), modified.In(timestamp.Zone), nil
}

func asTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339Nano, t)
	default:
		return time.Time{}, fmt.Errorf("unexpected %T", v)
	}
}
