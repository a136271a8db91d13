// Package upsert applies single-document inserts and updates to both the
// document store and the relational sink.
//
// The two stores commit independently. The document store is written first;
// when the sink write then fails (after retries) the call returns a
// *syncerr.Divergence and the write is appended to the divergence journal.
package upsert

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/divergence"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/loader"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/logging"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/mapping"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/metrics"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/retry"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/syncerr"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/timestamp"
)

// Outcome of an Insert.
type Outcome int

const (
	Inserted Outcome = iota + 1
	AlreadyExists
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// Err is syncerr.ErrDuplicateKey for AlreadyExists, nil otherwise.
func (o Outcome) Err() error {
	if o == AlreadyExists {
		return syncerr.ErrDuplicateKey
	}
	return nil
}

var errSinkRowMissing = errors.New("sink has no row for key")

type Controller struct {
	docs     source.DocumentStore
	repo     storage.MultiRepository
	registry mapping.Registry
	loader   *loader.Loader
	clock    timestamp.Clock
	journal  divergence.Journal
	retry    *retry.Config
	logger   *zap.Logger
	keys     keyLocks
}

type Option func(*Controller)

func WithClock(c timestamp.Clock) Option { return func(u *Controller) { u.clock = c } }

func WithJournal(j divergence.Journal) Option { return func(u *Controller) { u.journal = j } }

func WithRetry(cfg *retry.Config) Option { return func(u *Controller) { u.retry = cfg } }

func WithLogger(l *zap.Logger) Option { return func(u *Controller) { u.logger = l } }

func New(docs source.DocumentStore, repo storage.MultiRepository, reg mapping.Registry, l *loader.Loader, opts ...Option) *Controller {
	u := &Controller{
		docs:     docs,
		repo:     repo,
		registry: reg,
		loader:   l,
		clock:    timestamp.System,
		retry:    retry.DefaultConfig(),
	}
	for _, o := range opts {
		o(u)
	}
	if u.journal == nil {
		u.journal = divergence.NewMemory()
	}
	u.logger = logging.Stage(u.logger, "upsert")
	return u
}

// Insert adds doc unless a document with its business key already exists,
// in which case it is a no-op reporting AlreadyExists.
func (u *Controller) Insert(ctx context.Context, collection string, doc document.Record) (Outcome, error) {
	coll, err := u.registry.MustLookup(collection)
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	keyVal, ok := doc.Get(coll.UniqueKey)
	if !ok || document.IsNull(keyVal) {
		return 0, fmt.Errorf("insert %s: document has no %s", coll.Name, coll.UniqueKey)
	}
	keyStr := document.KeyString(keyVal)
	log := u.logger.With(zap.String(logging.KeyCollection, coll.Name), zap.String(logging.KeyKey, keyStr))

	unlock := u.keys.lock(coll.Name, keyStr)
	defer unlock()

	if _, found, err := u.docs.FindOne(ctx, coll.Name, coll.UniqueKey, keyVal); err != nil {
		return 0, fmt.Errorf("insert %s %s=%s: %w", coll.Name, coll.UniqueKey, keyStr, err)
	} else if found {
		return u.skipExisting(log), nil
	}

	rec, err := timestamp.Normalize(doc.Without(source.StoreIDField), coll.DateFields)
	if err != nil {
		return 0, fmt.Errorf("insert %s %s=%s: %w", coll.Name, coll.UniqueKey, keyStr, err)
	}
	now := document.TimeOf(u.clock.Now())
	rec[mapping.AddedAt] = now
	rec[mapping.ModifiedAt] = now

	// The store's own key check covers writers in other processes.
	if err := u.docs.InsertOne(ctx, coll.Name, coll.UniqueKey, rec); errors.Is(err, syncerr.ErrDuplicateKey) {
		return u.skipExisting(log), nil
	} else if err != nil {
		return 0, fmt.Errorf("insert %s %s=%s: %w", coll.Name, coll.UniqueKey, keyStr, err)
	}

	key, err := document.ToSQL(keyVal)
	if err != nil {
		return 0, fmt.Errorf("insert %s: key: %w", coll.Name, err)
	}
	err = retry.Do(ctx, u.retry, func() error {
		exists, err := u.repo.KeyExists(ctx, coll.Table, coll.UniqueKey, key)
		if err != nil {
			return err
		}
		if exists {
			log.Warn("sink already holds key; sink insert skipped")
			return nil
		}
		_, err = u.loader.Load(ctx, loader.Request{
			Table:            coll.Table,
			Records:          []document.Record{rec},
			Columns:          coll.LoadColumns(),
			StructuredFields: coll.Encoded(),
			KeyField:         coll.UniqueKey,
		})
		return err
	})
	if err != nil {
		return 0, u.diverged(ctx, divergence.OpInsert, coll, keyStr, rec, err)
	}

	metrics.RecordRecords("inserted", 1)
	log.Info("inserted")
	return Inserted, nil
}

func (u *Controller) skipExisting(log *zap.Logger) Outcome {
	log.Info("insert skipped; key exists")
	metrics.RecordRecords("insert_skipped", 1)
	return AlreadyExists
}

// Update merges fields onto the document with the given business key and
// refreshes modified_at. added_at is never changed. It fails with
// syncerr.ErrNotFound when no such document exists. The merged document is
// returned.
func (u *Controller) Update(ctx context.Context, collection string, key document.Value, fields document.Record) (document.Record, error) {
	coll, err := u.registry.MustLookup(collection)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	if document.IsNull(key) {
		return nil, fmt.Errorf("update %s: empty key", coll.Name)
	}
	keyStr := document.KeyString(key)
	log := u.logger.With(zap.String(logging.KeyCollection, coll.Name), zap.String(logging.KeyKey, keyStr))

	if v, ok := fields.Get(coll.UniqueKey); ok && document.KeyString(v) != keyStr {
		return nil, fmt.Errorf("update %s %s=%s: the business key cannot be changed", coll.Name, coll.UniqueKey, keyStr)
	}
	set := fields.Without(coll.UniqueKey, source.StoreIDField, mapping.AddedAt, mapping.ModifiedAt)

	unlock := u.keys.lock(coll.Name, keyStr)
	defer unlock()

	existing, found, err := u.docs.FindOne(ctx, coll.Name, coll.UniqueKey, key)
	if err != nil {
		return nil, fmt.Errorf("update %s %s=%s: %w", coll.Name, coll.UniqueKey, keyStr, err)
	}
	if !found {
		return nil, fmt.Errorf("update %s %s=%s: %w", coll.Name, coll.UniqueKey, keyStr, syncerr.ErrNotFound)
	}

	if set, err = timestamp.Normalize(set, coll.DateFields); err != nil {
		return nil, fmt.Errorf("update %s %s=%s: %w", coll.Name, coll.UniqueKey, keyStr, err)
	}
	set[mapping.ModifiedAt] = document.TimeOf(u.clock.Now())
	merged := existing.Merge(set)

	ok, err := u.docs.UpdateOne(ctx, coll.Name, coll.UniqueKey, key, set)
	if err != nil {
		return nil, fmt.Errorf("update %s %s=%s: %w", coll.Name, coll.UniqueKey, keyStr, err)
	}
	if !ok {
		return nil, fmt.Errorf("update %s %s=%s: %w", coll.Name, coll.UniqueKey, keyStr, syncerr.ErrNotFound)
	}

	sinkSet := make(document.Record, len(set))
	for k, v := range set {
		if coll.HasColumn(k) {
			sinkSet[k] = v
		} else {
			log.Debug("field not mapped to the sink", zap.String("field", k))
		}
	}
	cols := sinkSet.SortedKeys()

	sinkKey, err := document.ToSQL(key)
	if err != nil {
		return nil, fmt.Errorf("update %s: key: %w", coll.Name, err)
	}
	err = retry.Do(ctx, u.retry, func() error {
		vals, err := u.loader.BindRow(sinkSet, cols, coll.Encoded())
		if err != nil {
			return err
		}
		n, err := u.repo.UpdateRow(ctx, coll.Table, coll.UniqueKey, sinkKey, cols, vals)
		if err != nil {
			return err
		}
		if n == 0 {
			return errSinkRowMissing
		}
		return nil
	})
	if err != nil {
		payload := sinkSet.Clone()
		payload[coll.UniqueKey] = key
		return merged, u.diverged(ctx, divergence.OpUpdate, coll, keyStr, payload, err)
	}

	metrics.RecordRecords("updated", 1)
	log.Info("updated", zap.Strings("fields", cols))
	return merged, nil
}

// diverged journals a write the sink did not take and builds the error.
func (u *Controller) diverged(ctx context.Context, op string, coll mapping.Collection, key string, payload document.Record, cause error) error {
	metrics.RecordDivergence(op)
	d := &syncerr.Divergence{Op: op, Collection: coll.Name, Key: key, Cause: cause}

	entry, jerr := u.journal.Append(ctx, divergence.NewEntry(op, coll.Name, key, payload, cause, u.clock.Now()))
	if jerr != nil {
		u.logger.Error("divergence not journaled",
			zap.String(logging.KeyCollection, coll.Name), zap.String(logging.KeyKey, key),
			zap.NamedError("sink_error", cause), zap.Error(jerr))
		d.Cause = errors.Join(cause, fmt.Errorf("journal: %w", jerr))
		return d
	}
	d.JournalID = entry.ID
	u.logger.Error("stores diverged",
		zap.String("op", op), zap.String(logging.KeyCollection, coll.Name), zap.String(logging.KeyKey, key),
		zap.String("journal_id", entry.ID), zap.Error(cause))
	return d
}
