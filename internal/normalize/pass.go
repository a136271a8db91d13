// Package normalize re-materializes a denormalized sink table into a
// normalized fact table whose nested fields are replaced by dimension keys.
//
// A pass only performs get-or-create lookups and an upsert keyed by the
// fact's business key, so it can be re-run at any time. An unchanged re-run
// creates no dimension rows and changes no facts.
package normalize

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/dimension"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/loader"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/logging"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/mapping"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/metrics"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
)

const upsertChunk = 1000

type Pass struct {
	repo     storage.MultiRepository
	resolver *dimension.Resolver
	registry mapping.Registry
	encoding loader.Encoding
	logger   *zap.Logger
}

// Report summarizes one Run. Skipped lists business keys of rows that were
// not written, with the reason.
type Report struct {
	Target            string
	Rows              int
	DimensionsCreated int64
	FactsChanged      int64
	Skipped           []string
}

func New(repo storage.MultiRepository, resolver *dimension.Resolver, registry mapping.Registry, enc loader.Encoding, logger *zap.Logger) *Pass {
	return &Pass{
		repo:     repo,
		resolver: resolver,
		registry: registry,
		encoding: enc,
		logger:   logging.Stage(logger, "normalize"),
	}
}

// Run normalizes n.Source's table into n.Target. It stops at the first row
// whose nested value cannot be resolved; rows upserted before that stay.
func (p *Pass) Run(ctx context.Context, n mapping.Normalization) (Report, error) {
	start := time.Now()
	rep := Report{Target: n.Target}

	src, err := p.registry.MustLookup(n.Source)
	if err != nil {
		return rep, fmt.Errorf("normalize %s: %w", n.Target, err)
	}
	log := p.logger.With(zap.String(logging.KeyCollection, src.Name), zap.String(logging.KeyTable, n.Target))

	readCols := make([]string, 0, 1+len(n.CarryColumns)+len(n.Dimensions))
	readCols = append(readCols, n.KeyColumn)
	readCols = append(readCols, n.CarryColumns...)
	for _, d := range n.Dimensions {
		readCols = append(readCols, d.Field)
	}

	rows, err := p.repo.SelectRows(ctx, src.Table, readCols, n.KeyColumn)
	if err != nil {
		return rep, fmt.Errorf("normalize %s: read %s: %w", n.Target, src.Table, err)
	}
	rep.Rows = len(rows)

	before := p.resolver.Stats().Created

	targetCols := n.TargetColumns()
	dimOffset := 1 + len(n.CarryColumns)
	pending := make([][]any, 0, min(len(rows), upsertChunk))

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		changed, err := p.repo.UpsertRows(ctx, n.Target, []string{n.KeyColumn}, targetCols, pending)
		if err != nil {
			return fmt.Errorf("normalize %s: upsert: %w", n.Target, err)
		}
		rep.FactsChanged += changed
		pending = pending[:0]
		return nil
	}

	for _, row := range rows {
		key := row[0]
		if key == nil {
			rep.Skipped = append(rep.Skipped, "<null key>: no business key")
			continue
		}
		keyStr := storage.NormalizeKey(key)

		out := make([]any, len(targetCols))
		copy(out, row[:dimOffset])
		for i, d := range n.Dimensions {
			fk, err := p.resolveField(ctx, d, row[dimOffset+i])
			if err != nil {
				// Rows resolved before the bad one are still written.
				ferr := flush()
				rep.DimensionsCreated = p.resolver.Stats().Created - before
				return rep, errors.Join(fmt.Errorf("normalize %s: %s=%s: %w", n.Target, n.KeyColumn, keyStr, err), ferr)
			}
			out[dimOffset+i] = fk
		}

		pending = append(pending, out)
		if len(pending) >= upsertChunk {
			if err := flush(); err != nil {
				return rep, err
			}
		}
	}
	if err := flush(); err != nil {
		return rep, err
	}

	rep.DimensionsCreated = p.resolver.Stats().Created - before
	metrics.RecordRecords("normalized", rep.Rows)
	for _, s := range rep.Skipped {
		log.Warn("row skipped", zap.String("reason", s))
	}
	log.Info("normalized",
		zap.Int(logging.KeyRows, rep.Rows),
		zap.Int64("dimensions_created", rep.DimensionsCreated),
		zap.Int64("facts_changed", rep.FactsChanged),
		logging.Since(start),
	)
	return rep, nil
}

// resolveField returns the dimension key for one stored nested value, or nil
// when the value is NULL.
func (p *Pass) resolveField(ctx context.Context, d mapping.Dimension, raw any) (any, error) {
	v, err := p.encoding.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", d.Field, err)
	}
	switch t := v.(type) {
	case document.Null:
		return nil, nil
	case document.Object:
		key, err := p.resolver.Resolve(ctx, d, document.Record(t))
		if err != nil {
			return nil, err
		}
		return key, nil
	case document.Array:
		return nil, fmt.Errorf("%s holds %d entries; one foreign key cannot reference a sequence", d.Field, len(t))
	default:
		return nil, fmt.Errorf("%s: want an embedded document, got %T", d.Field, v)
	}
}

// RunAll runs every normalization of the registry, in order.
func (p *Pass) RunAll(ctx context.Context) ([]Report, error) {
	out := make([]Report, 0, len(p.registry.Normalizations))
	for _, n := range p.registry.Normalizations {
		rep, err := p.Run(ctx, n)
		out = append(out, rep)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}
