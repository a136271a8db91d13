// Package dimension resolves nested sub-document values to surrogate keys in
// deduplicated dimension tables.
//
// The database primitive is storage.MultiRepository.GetOrCreateDimension,
// which is atomic per backend and backed by a UNIQUE constraint on the value
// columns. On top of it the Resolver keeps an in-process cache and collapses
// concurrent callers for the same value combination onto one database call.
package dimension

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/logging"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/mapping"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/metrics"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/timestamp"
)

// Stats counts resolutions since the Resolver was built.
type Stats struct {
	Created int64
	Reused  int64
	Raced   int64
}

type Resolver struct {
	repo   storage.MultiRepository
	clock  timestamp.Clock
	logger *zap.Logger

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]int64

	created atomic.Int64
	reused  atomic.Int64
	raced   atomic.Int64
}

type Option func(*Resolver)

func WithClock(c timestamp.Clock) Option { return func(r *Resolver) { r.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(r *Resolver) { r.logger = l } }

func New(repo storage.MultiRepository, opts ...Option) *Resolver {
	r := &Resolver{
		repo:  repo,
		clock: timestamp.System,
		cache: make(map[string]int64),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = logging.Stage(r.logger, "dimension")
	return r
}

// Resolve returns the surrogate key of the dim row equal to values projected
// onto dim's value columns, creating the row when none exists. Every call for
// the same combination returns the same key.
func (r *Resolver) Resolve(ctx context.Context, dim mapping.Dimension, values document.Record) (int64, error) {
	cols := dim.ValueColumnNames()
	vals := make([]document.Value, len(cols))
	for i, c := range cols {
		v, ok := values.Get(c)
		if !ok || document.IsNull(v) {
			return 0, fmt.Errorf("dimension %s: value column %q is missing", dim.Table, c)
		}
		vals[i] = v
	}

	fp := Fingerprint(dim.Table, cols, vals)
	if key, ok := r.cached(fp); ok {
		r.reused.Add(1)
		metrics.RecordDimension(dim.Table, metrics.DimensionReused)
		return key, nil
	}

	v, err, _ := r.group.Do(fp, func() (any, error) {
		if key, ok := r.cached(fp); ok {
			r.reused.Add(1)
			metrics.RecordDimension(dim.Table, metrics.DimensionReused)
			return key, nil
		}
		return r.getOrCreate(ctx, dim, cols, vals, fp)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

func (r *Resolver) getOrCreate(ctx context.Context, dim mapping.Dimension, cols []string, vals []document.Value, fp string) (int64, error) {
	bind := make([]any, len(vals))
	for i, v := range vals {
		b, err := bindValue(dim.ValueColumns[i].Type, v)
		if err != nil {
			return 0, fmt.Errorf("dimension %s: column %q: %w", dim.Table, cols[i], err)
		}
		bind[i] = b
	}

	res, err := r.repo.GetOrCreateDimension(ctx, storage.DimensionRow{
		Table:        dim.Table,
		KeyColumn:    dim.KeyColumn,
		ValueColumns: cols,
		Values:       bind,
		StampColumns: []string{mapping.AddedAt, mapping.ModifiedAt},
		Stamp:        r.clock.Now(),
	})
	if err != nil {
		return 0, fmt.Errorf("dimension %s: %w", dim.Table, err)
	}

	switch {
	case res.Created:
		r.created.Add(1)
		metrics.RecordDimension(dim.Table, metrics.DimensionCreated)
		r.logger.Debug("dimension row created", zap.String(logging.KeyTable, dim.Table), zap.Int64(logging.KeyKey, res.Key))
	case res.Raced:
		r.raced.Add(1)
		metrics.RecordDimension(dim.Table, metrics.DimensionConflict)
		r.logger.Info("dimension insert raced; using existing row", zap.String(logging.KeyTable, dim.Table), zap.Int64(logging.KeyKey, res.Key))
	default:
		r.reused.Add(1)
		metrics.RecordDimension(dim.Table, metrics.DimensionReused)
	}

	r.mu.Lock()
	r.cache[fp] = res.Key
	r.mu.Unlock()
	return res.Key, nil
}

func (r *Resolver) cached(fp string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.cache[fp]
	return k, ok
}

// Forget drops the in-process cache. Needed after dimension rows are removed
// or rewritten outside the Resolver.
func (r *Resolver) Forget() {
	r.mu.Lock()
	r.cache = make(map[string]int64)
	r.mu.Unlock()
}

func (r *Resolver) Stats() Stats {
	return Stats{Created: r.created.Load(), Reused: r.reused.Load(), Raced: r.raced.Load()}
}

// bindValue converts v for a value column of logical type typ.
func bindValue(typ string, v document.Value) (any, error) {
	switch typ {
	case storage.TypeText:
		switch v.(type) {
		case document.Object, document.Array:
			b, err := document.MarshalCanonical(v)
			if err != nil {
				return nil, err
			}
			return string(b), nil
		}
		return document.KeyString(v), nil

	case storage.TypeBigInt:
		switch t := v.(type) {
		case document.Int:
			return int64(t), nil
		case document.Float:
			f := float64(t)
			if f != math.Trunc(f) || math.IsInf(f, 0) {
				return nil, fmt.Errorf("%v is not an integer", f)
			}
			return int64(f), nil
		case document.String:
			n, err := strconv.ParseInt(string(t), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", string(t))
			}
			return n, nil
		}
		return nil, fmt.Errorf("%T is not an integer", v)

	case storage.TypeNumeric:
		switch t := v.(type) {
		case document.Int:
			return int64(t), nil
		case document.Float:
			return float64(t), nil
		case document.String:
			f, err := strconv.ParseFloat(string(t), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", string(t))
			}
			return f, nil
		}
		return nil, fmt.Errorf("%T is not a number", v)
	}

	switch v.(type) {
	case document.Object, document.Array:
		b, err := document.MarshalCanonical(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return document.ToSQL(v)
}
