package upsert

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/divergence"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/loader"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/mapping"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/retry"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source/memory"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
	_ "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage/sqlite"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/syncerr"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/timestamp"
)

type env struct {
	docs    *memory.Store
	repo    storage.MultiRepository
	journal *divergence.MemoryJournal
	now     time.Time
	ctrl    *Controller
}

// brokenSink fails every write with a connectivity error.
type brokenSink struct{ storage.MultiRepository }

func (brokenSink) UpdateRow(context.Context, string, string, any, []string, []any) (int64, error) {
	return 0, syncerr.SinkUnavailable(errors.New("connection refused"))
}

func (brokenSink) InsertBatch(context.Context, string, []string, [][]any) (int64, error) {
	return 0, syncerr.SinkUnavailable(errors.New("connection refused"))
}

// slowLookup delays FindOne so concurrent inserts all reach the store
// before any of them has written.
type slowLookup struct {
	source.DocumentStore
	delay time.Duration
}

func (s slowLookup) FindOne(ctx context.Context, collection, keyField string, key document.Value) (document.Record, bool, error) {
	time.Sleep(s.delay)
	return s.DocumentStore.FindOne(ctx, collection, keyField, key)
}

func newEnv(t *testing.T, wrap func(storage.MultiRepository) storage.MultiRepository) *env {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "sink.db")
	repo, err := storage.NewMulti(context.Background(), storage.MultiConfig{Kind: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	reg := mapping.Loans()
	require.NoError(t, repo.EnsureTables(context.Background(), reg.TableSpecs()))

	e := &env{
		docs:    memory.New(),
		repo:    repo,
		journal: divergence.NewMemory(),
		now:     time.Date(2026, 3, 1, 9, 0, 0, 0, timestamp.Zone),
	}
	sink := repo
	if wrap != nil {
		sink = wrap(repo)
	}
	e.ctrl = New(e.docs, sink, reg, loader.New(sink),
		WithClock(func() time.Time { return e.now }),
		WithJournal(e.journal),
		WithRetry(retry.None()),
	)
	return e
}

func customer(id int64, age int64) document.Record {
	return document.Record{
		"customer_id": document.Int(id),
		"first_name":  document.String("Asha"),
		"age":         document.Int(age),
		"joined_date": document.String("2024-10-27"),
	}
}

func sinkRows(t *testing.T, repo storage.MultiRepository) [][]any {
	t.Helper()
	rows, err := repo.SelectRows(context.Background(), "tbl_customers",
		[]string{"customer_id", "age", mapping.AddedAt, mapping.ModifiedAt}, "customer_id")
	require.NoError(t, err)
	return rows
}

func TestInsert_SecondInsertIsNoOp(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	ctx := context.Background()

	out, err := e.ctrl.Insert(ctx, "customers", customer(1, 30))
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)
	assert.NoError(t, out.Err())

	out, err = e.ctrl.Insert(ctx, "customers", customer(1, 99))
	require.NoError(t, err)
	assert.Equal(t, AlreadyExists, out)
	assert.ErrorIs(t, out.Err(), syncerr.ErrDuplicateKey)

	docs, err := e.docs.Read(ctx, "customers")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, document.Int(30), docs[0]["age"])

	rows := sinkRows(t, e.repo)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 30, rows[0][1])
}

func TestInsert_NormalizesDatesAndStamps(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.ctrl.Insert(ctx, "customers", customer(1, 30))
	require.NoError(t, err)

	doc, found, err := e.docs.FindOne(ctx, "customers", "customer_id", document.Int(1))
	require.NoError(t, err)
	require.True(t, found)

	joined, ok := doc["joined_date"].(document.Time)
	require.True(t, ok, "joined_date is %T", doc["joined_date"])
	assert.Equal(t, "2024-10-27 05:30:00", timestamp.Denormalize(joined.Time))
	assert.True(t, e.now.Equal(doc[mapping.AddedAt].(document.Time).Time))
	assert.True(t, e.now.Equal(doc[mapping.ModifiedAt].(document.Time).Time))
}

func TestInsert_SinkAlreadyHasKey(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := loader.New(e.repo).Load(ctx, loader.Request{Table: "tbl_customers", Records: []document.Record{{"customer_id": document.Int(5), "age": document.Int(1)}}})
	require.NoError(t, err)

	out, err := e.ctrl.Insert(ctx, "customers", customer(5, 30))
	require.NoError(t, err)
	assert.Equal(t, Inserted, out)
	assert.Len(t, sinkRows(t, e.repo), 1)
}

func TestInsert_RequiresKey(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	_, err := e.ctrl.Insert(context.Background(), "customers", document.Record{"age": document.Int(3)})
	assert.ErrorContains(t, err, "customer_id")

	_, err = e.ctrl.Insert(context.Background(), "borrowers", customer(1, 2))
	assert.ErrorContains(t, err, "unknown collection")
}

func TestUpdate_RefreshesModifiedKeepsAdded(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.ctrl.Insert(ctx, "customers", customer(1, 30))
	require.NoError(t, err)
	added := e.now

	e.now = e.now.Add(72 * time.Hour)
	merged, err := e.ctrl.Update(ctx, "customers", document.Int(1), document.Record{
		"age":           document.Int(31),
		mapping.AddedAt: document.TimeOf(time.Unix(0, 0)),
	})
	require.NoError(t, err)
	assert.Equal(t, document.Int(31), merged["age"])
	assert.Equal(t, document.String("Asha"), merged["first_name"], "unlisted fields untouched")
	assert.True(t, added.Equal(merged[mapping.AddedAt].(document.Time).Time))
	assert.True(t, e.now.Equal(merged[mapping.ModifiedAt].(document.Time).Time))

	doc, _, err := e.docs.FindOne(ctx, "customers", "customer_id", document.Int(1))
	require.NoError(t, err)
	assert.True(t, document.Equal(merged[mapping.ModifiedAt], doc[mapping.ModifiedAt]))
	assert.True(t, document.Equal(merged[mapping.AddedAt], doc[mapping.AddedAt]))

	rows := sinkRows(t, e.repo)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 31, rows[0][1])

	sinkAdded, sinkModified, ok, err := e.repo.MaxTimestamps(ctx, "tbl_customers", mapping.AddedAt, mapping.ModifiedAt)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, added.Equal(sinkAdded.(time.Time)))
	assert.True(t, e.now.Equal(sinkModified.(time.Time)))
}

func TestUpdate_MissingKeyIsNotFound(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)

	_, err := e.ctrl.Update(context.Background(), "customers", document.Int(404), document.Record{"age": document.Int(1)})
	require.ErrorIs(t, err, syncerr.ErrNotFound)
	assert.Empty(t, sinkRows(t, e.repo))
}

func TestUpdate_CannotChangeKey(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	ctx := context.Background()
	_, err := e.ctrl.Insert(ctx, "customers", customer(1, 30))
	require.NoError(t, err)

	_, err = e.ctrl.Update(ctx, "customers", document.Int(1), document.Record{"customer_id": document.Int(2)})
	assert.ErrorContains(t, err, "cannot be changed")

	_, err = e.ctrl.Update(ctx, "customers", document.Float(1), document.Record{"customer_id": document.Int(1), "age": document.Int(40)})
	assert.NoError(t, err, "restating the same key is allowed")
}

func TestUpdate_SinkFailureDiverges(t *testing.T) {
	t.Parallel()
	e := newEnv(t, func(r storage.MultiRepository) storage.MultiRepository { return brokenSink{r} })
	ctx := context.Background()
	e.docs.Seed("customers", document.Record{"customer_id": document.Int(1), "age": document.Int(30)})

	_, err := e.ctrl.Update(ctx, "customers", document.Int(1), document.Record{"age": document.Int(31)})
	require.ErrorIs(t, err, syncerr.ErrDivergence)
	require.ErrorIs(t, err, syncerr.ErrSinkUnavailable)

	var d *syncerr.Divergence
	require.ErrorAs(t, err, &d)
	assert.Equal(t, "update", d.Op)
	assert.NotEmpty(t, d.JournalID)

	doc, _, err := e.docs.FindOne(ctx, "customers", "customer_id", document.Int(1))
	require.NoError(t, err)
	assert.Equal(t, document.Int(31), doc["age"], "document store keeps its write")

	pending, err := e.journal.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, d.JournalID, pending[0].ID)
	assert.Equal(t, document.Int(1), pending[0].Payload["customer_id"])
	assert.Equal(t, document.Int(31), pending[0].Payload["age"])
}

func TestInsert_SinkFailureDiverges(t *testing.T) {
	t.Parallel()
	e := newEnv(t, func(r storage.MultiRepository) storage.MultiRepository { return brokenSink{r} })
	ctx := context.Background()

	_, err := e.ctrl.Insert(ctx, "customers", customer(1, 30))
	var d *syncerr.Divergence
	require.ErrorAs(t, err, &d)
	assert.Equal(t, "insert", d.Op)
	assert.Equal(t, "1", d.Key)

	_, found, err := e.docs.FindOne(ctx, "customers", "customer_id", document.Int(1))
	require.NoError(t, err)
	assert.True(t, found)

	pending, err := e.journal.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, divergence.OpInsert, pending[0].Op)
}

// insertConcurrently runs Insert of customer 77 once per controller, n times
// each, and returns the outcomes.
func insertConcurrently(t *testing.T, ctrls []*Controller, n int) []Outcome {
	t.Helper()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		out []Outcome
	)
	for _, c := range ctrls {
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(c *Controller) {
				defer wg.Done()
				o, err := c.Insert(context.Background(), "customers", customer(77, 40))
				assert.NoError(t, err)
				mu.Lock()
				out = append(out, o)
				mu.Unlock()
			}(c)
		}
	}
	wg.Wait()
	return out
}

func countOutcomes(outs []Outcome) map[Outcome]int {
	m := map[Outcome]int{}
	for _, o := range outs {
		m[o]++
	}
	return m
}

func TestInsert_ConcurrentSameKeyWritesOnce(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	docs := slowLookup{DocumentStore: e.docs, delay: 20 * time.Millisecond}
	ctrl := New(docs, e.repo, mapping.Loans(), loader.New(e.repo), WithRetry(retry.None()))

	outs := insertConcurrently(t, []*Controller{ctrl}, 4)

	got := countOutcomes(outs)
	assert.Equal(t, 1, got[Inserted])
	assert.Equal(t, 3, got[AlreadyExists])
	stored, err := e.docs.Read(context.Background(), "customers")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Len(t, sinkRows(t, e.repo), 1)
}

func TestInsert_StoreKeyCheckAcrossControllers(t *testing.T) {
	t.Parallel()
	e := newEnv(t, nil)
	docs := slowLookup{DocumentStore: e.docs, delay: 20 * time.Millisecond}
	reg := mapping.Loans()

	// Separate controllers share no key locks, like separate processes.
	var ctrls []*Controller
	for i := 0; i < 3; i++ {
		ctrls = append(ctrls, New(docs, e.repo, reg, loader.New(e.repo), WithRetry(retry.None())))
	}
	outs := insertConcurrently(t, ctrls, 1)

	got := countOutcomes(outs)
	assert.Equal(t, 1, got[Inserted])
	assert.Equal(t, 2, got[AlreadyExists])
	stored, err := e.docs.Read(context.Background(), "customers")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
	assert.Len(t, sinkRows(t, e.repo), 1)
}
