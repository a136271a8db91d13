package divergence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/loader"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/logging"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/mapping"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
)

// Replayer re-applies pending entries to the sink.
type Replayer struct {
	journal  Journal
	repo     storage.MultiRepository
	registry mapping.Registry
	loader   *loader.Loader
	logger   *zap.Logger
}

type ReplayReport struct {
	Applied []string
	Failed  map[string]error
}

func NewReplayer(j Journal, repo storage.MultiRepository, reg mapping.Registry, l *loader.Loader, logger *zap.Logger) *Replayer {
	return &Replayer{journal: j, repo: repo, registry: reg, loader: l, logger: logging.Stage(logger, "replay")}
}

// Replay applies every pending entry, oldest first. An entry that fails stays
// pending; the others still run. The error joins every failure.
func (r *Replayer) Replay(ctx context.Context) (ReplayReport, error) {
	rep := ReplayReport{Failed: map[string]error{}}
	pending, err := r.journal.Pending(ctx)
	if err != nil {
		return rep, err
	}

	var errs []error
	for _, e := range pending {
		if err := ctx.Err(); err != nil {
			return rep, errors.Join(append(errs, err)...)
		}
		log := r.logger.With(zap.String("entry", e.ID), zap.String(logging.KeyCollection, e.Collection), zap.String(logging.KeyKey, e.Key))

		if err := r.apply(ctx, e); err != nil {
			rep.Failed[e.ID] = err
			errs = append(errs, fmt.Errorf("%s %s %s=%s: %w", e.ID, e.Op, e.Collection, e.Key, err))
			log.Warn("replay failed", zap.Error(err))
			continue
		}
		if err := r.journal.Resolve(ctx, e.ID); err != nil {
			rep.Failed[e.ID] = err
			errs = append(errs, err)
			continue
		}
		rep.Applied = append(rep.Applied, e.ID)
		log.Info("replayed", zap.String("op", e.Op))
	}
	return rep, errors.Join(errs...)
}

func (r *Replayer) apply(ctx context.Context, e Entry) error {
	coll, err := r.registry.MustLookup(e.Collection)
	if err != nil {
		return err
	}
	rec, err := RestoreTimes(e.Payload, timeColumns(coll))
	if err != nil {
		return err
	}
	keyVal, ok := rec.Get(coll.UniqueKey)
	if !ok || document.IsNull(keyVal) {
		return fmt.Errorf("payload has no %s", coll.UniqueKey)
	}
	key, err := document.ToSQL(keyVal)
	if err != nil {
		return err
	}

	switch e.Op {
	case OpInsert:
		exists, err := r.repo.KeyExists(ctx, coll.Table, coll.UniqueKey, key)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		_, err = r.loader.Load(ctx, loader.Request{
			Table:            coll.Table,
			Records:          []document.Record{rec},
			Columns:          coll.LoadColumns(),
			StructuredFields: coll.Encoded(),
			KeyField:         coll.UniqueKey,
		})
		return err

	case OpUpdate:
		set := rec.Without(coll.UniqueKey)
		cols := set.SortedKeys()
		vals, err := r.loader.BindRow(set, cols, coll.Encoded())
		if err != nil {
			return err
		}
		n, err := r.repo.UpdateRow(ctx, coll.Table, coll.UniqueKey, key, cols, vals)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("sink has no row %s=%s", coll.UniqueKey, e.Key)
		}
		return nil

	default:
		return fmt.Errorf("unknown op %q", e.Op)
	}
}

func timeColumns(c mapping.Collection) []string {
	return append(append([]string(nil), c.DateFields...), mapping.AddedAt, mapping.ModifiedAt)
}

// RestoreTimes turns RFC3339 strings in fields back into Time values. JSON
// payloads lose the distinction, the sink columns need it back.
func RestoreTimes(rec document.Record, fields []string) (document.Record, error) {
	out := rec.Clone()
	for _, f := range fields {
		s, ok := out[f].(document.String)
		if !ok {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, string(s))
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f, err)
		}
		out[f] = document.TimeOf(t)
	}
	return out, nil
}
