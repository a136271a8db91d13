// Package loader writes records into a sink table in fixed-size batches.
//
// Each batch is one InsertBatch call, which the backends run in a single
// transaction. Batches are prepared concurrently; with ordered commits each
// batch commits only after its predecessor did, so a failure on batch k leaves
// exactly batches 1..k-1 in the table.
package loader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/logging"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/metrics"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/syncerr"
)

const DefaultBatchSize = 1000

type Loader struct {
	repo      storage.MultiRepository
	batchSize int
	workers   int
	ordered   bool
	encoding  Encoding
	logger    *zap.Logger
}

type Option func(*Loader)

func WithBatchSize(n int) Option { return func(l *Loader) { l.batchSize = n } }

func WithWorkers(n int) Option { return func(l *Loader) { l.workers = n } }

// WithOrderedCommits controls whether batch k waits for batch k-1 to commit.
func WithOrderedCommits(on bool) Option { return func(l *Loader) { l.ordered = on } }

func WithEncoding(e Encoding) Option { return func(l *Loader) { l.encoding = e } }

func WithLogger(lg *zap.Logger) Option { return func(l *Loader) { l.logger = lg } }

func New(repo storage.MultiRepository, opts ...Option) *Loader {
	l := &Loader{
		repo:      repo,
		batchSize: DefaultBatchSize,
		workers:   1,
		ordered:   true,
		encoding:  EncodingJSON,
	}
	for _, o := range opts {
		o(l)
	}
	if l.batchSize <= 0 {
		l.batchSize = DefaultBatchSize
	}
	if l.workers <= 0 {
		l.workers = 1
	}
	l.logger = logging.Stage(l.logger, "load")
	return l
}

func (l *Loader) Encoding() Encoding { return l.encoding }

// Request is one table load.
type Request struct {
	Table   string
	Records []document.Record

	// StructuredFields are encoded with the loader's Encoding. Other
	// Object/Array values are written as canonical JSON text.
	StructuredFields []string

	// Columns fixes the column list. Empty means the union of record fields.
	Columns []string

	// KeyField names the business key, used to report the keys of a failed batch.
	KeyField string
}

type Result struct {
	Rows      int64
	Batches   int
	Committed []int
}

type batchState struct {
	done   chan struct{}
	failed bool
}

var errPredecessorFailed = errors.New("previous batch did not commit")

// Load writes req.Records. On failure the returned error is a
// *syncerr.LoadBatchFailed naming the first batch that did not commit.
func (l *Loader) Load(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	log := l.logger.With(zap.String(logging.KeyTable, req.Table))

	if len(req.Records) == 0 {
		return Result{}, nil
	}
	cols := req.Columns
	if len(cols) == 0 {
		cols = columnUnion(req.Records)
	}
	structured := make(map[string]bool, len(req.StructuredFields))
	for _, f := range req.StructuredFields {
		structured[f] = true
	}

	batches := partition(req.Records, l.batchSize)
	res := Result{Batches: len(batches)}

	// A failing batch stops only the batches after it: batches before the
	// failure still commit even when the failure happened first. InsertBatch
	// runs on the parent ctx so a started batch finishes or rolls back as a unit.
	var g errgroup.Group
	g.SetLimit(l.workers)

	var (
		mu      sync.Mutex
		failIdx int
		failErr error
	)
	fail := func(idx int, err error) error {
		mu.Lock()
		defer mu.Unlock()
		if failErr == nil || idx < failIdx {
			failIdx, failErr = idx, err
		}
		return err
	}
	failedBefore := func(idx int) bool {
		mu.Lock()
		defer mu.Unlock()
		return failErr != nil && failIdx < idx
	}

	prev := &batchState{done: make(chan struct{})}
	close(prev.done)

	for i, recs := range batches {
		idx := i + 1
		wait := prev
		cur := &batchState{done: make(chan struct{})}
		prev = cur

		g.Go(func() error {
			defer close(cur.done)

			rows, err := l.encodeRows(recs, cols, structured)
			if err != nil {
				cur.failed = true
				return fail(idx, err)
			}

			if l.ordered {
				<-wait.done
				if wait.failed {
					cur.failed = true
					return errPredecessorFailed
				}
			}
			// Last point where cancellation can stop this batch.
			if err := ctx.Err(); err != nil {
				cur.failed = true
				return fail(idx, err)
			}
			if failedBefore(idx) {
				cur.failed = true
				return errPredecessorFailed
			}

			n, err := l.repo.InsertBatch(ctx, req.Table, cols, rows)
			if err != nil {
				cur.failed = true
				return fail(idx, err)
			}

			mu.Lock()
			res.Rows += n
			res.Committed = append(res.Committed, idx)
			mu.Unlock()

			metrics.RecordBatch()
			log.Debug("batch committed", zap.Int(logging.KeyBatch, idx), zap.Int64(logging.KeyRows, n))
			return nil
		})
	}

	_ = g.Wait()
	sort.Ints(res.Committed)
	metrics.RecordRecords("loaded", int(res.Rows))

	if failErr != nil {
		lbf := &syncerr.LoadBatchFailed{
			Table:      req.Table,
			BatchIndex: failIdx,
			Committed:  res.Committed,
			Keys:       batchKeys(batches[failIdx-1], req.KeyField),
			Skipped:    skippedKeys(batches, res.Committed, req.KeyField),
			Cause:      failErr,
		}
		log.Error("load failed",
			zap.Int(logging.KeyBatch, failIdx),
			zap.Ints("committed", res.Committed),
			zap.Error(failErr),
			logging.Since(start),
		)
		return res, lbf
	}

	log.Info("table loaded",
		zap.Int64(logging.KeyRows, res.Rows),
		zap.Int("batches", res.Batches),
		logging.Since(start),
	)
	return res, nil
}

func (l *Loader) encodeRows(recs []document.Record, cols []string, structured map[string]bool) ([][]any, error) {
	rows := make([][]any, len(recs))
	for i, rec := range recs {
		row := make([]any, len(cols))
		for j, c := range cols {
			v, ok := rec[c]
			if !ok || document.IsNull(v) {
				continue
			}
			b, err := l.bind(v, structured[c])
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", i, c, err)
			}
			row[j] = b
		}
		rows[i] = row
	}
	return rows, nil
}

// BindRow converts rec into bind values for cols the same way Load does.
// Single-row writers use it so their rows match bulk-loaded ones.
func (l *Loader) BindRow(rec document.Record, cols []string, structuredFields []string) ([]any, error) {
	structured := make(map[string]bool, len(structuredFields))
	for _, f := range structuredFields {
		structured[f] = true
	}
	rows, err := l.encodeRows([]document.Record{rec}, cols, structured)
	if err != nil {
		return nil, err
	}
	return rows[0], nil
}

func (l *Loader) bind(v document.Value, isStructured bool) (any, error) {
	if isStructured {
		return l.encoding.Encode(v)
	}
	switch v.(type) {
	case document.Object, document.Array:
		return EncodingJSON.Encode(v)
	}
	return document.ToSQL(v)
}

// columnUnion returns every field seen, in first-seen order of each record's
// sorted keys.
func columnUnion(recs []document.Record) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range recs {
		for _, k := range r.SortedKeys() {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

func partition(recs []document.Record, size int) [][]document.Record {
	out := make([][]document.Record, 0, (len(recs)+size-1)/size)
	for start := 0; start < len(recs); start += size {
		out = append(out, recs[start:min(start+size, len(recs))])
	}
	return out
}

func batchKeys(recs []document.Record, keyField string) []string {
	if keyField == "" {
		return nil
	}
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		if v, ok := r[keyField]; ok {
			out = append(out, document.KeyString(v))
		}
	}
	return out
}

// skippedKeys lists the business keys of every batch that did not commit.
func skippedKeys(batches [][]document.Record, committed []int, keyField string) []string {
	if keyField == "" {
		return nil
	}
	done := make(map[int]bool, len(committed))
	for _, idx := range committed {
		done[idx] = true
	}
	var out []string
	for i, recs := range batches {
		if !done[i+1] {
			out = append(out, batchKeys(recs, keyField)...)
		}
	}
	return out
}
