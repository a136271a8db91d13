package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/dimension"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/loader"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/mapping"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/normalize"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/retry"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source/memory"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
	_ "github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage/sqlite"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/syncerr"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/timestamp"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/upsert"
)

type harness struct {
	docs *memory.Store
	repo storage.MultiRepository
	reg  mapping.Registry
	now  time.Time
	orch *Orchestrator
}

// stampless fails StampAll for one collection.
type stampless struct {
	source.DocumentStore
	broken string
}

func (s stampless) StampAll(ctx context.Context, coll string, f document.Record) (int64, error) {
	if coll == s.broken {
		return 0, syncerr.SourceUnavailable(errors.New("stepdown"))
	}
	return s.DocumentStore.StampAll(ctx, coll, f)
}

func newHarness(t *testing.T, enc loader.Encoding, wrap func(source.DocumentStore) source.DocumentStore) *harness {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "sink.db") + "?_pragma=busy_timeout(5000)"
	repo, err := storage.NewMulti(ctx, storage.MultiConfig{Kind: "sqlite", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	h := &harness{
		docs: memory.New(),
		repo: repo,
		reg:  mapping.Loans(),
		now:  time.Date(2026, 5, 4, 10, 0, 0, 0, timestamp.Zone),
	}
	var docs source.DocumentStore = h.docs
	if wrap != nil {
		docs = wrap(docs)
	}
	clock := func() time.Time { return h.now }
	l := loader.New(repo, loader.WithEncoding(enc), loader.WithBatchSize(2))
	h.orch = New(Deps{
		Docs:             docs,
		Repo:             repo,
		Registry:         h.reg,
		Loader:           l,
		Upsert:           upsert.New(docs, repo, h.reg, l, upsert.WithClock(clock), upsert.WithRetry(retry.None())),
		Normalizer:       normalize.New(repo, dimension.New(repo, dimension.WithClock(clock)), h.reg, enc, nil),
		Retry:            retry.None(),
		AutoCreateTables: true,
	})
	return h
}

func terms(rate, months int64) document.Object {
	return document.Object{"interest_rate": document.Int(rate), "repayment_period_in_months": document.Int(months)}
}

func (h *harness) seed() {
	h.docs.Seed("customers",
		document.Record{"customer_id": document.Int(1), "first_name": document.String("Asha"), "age": document.Int(30), "joined_date": document.String("2024-10-27")},
		document.Record{"customer_id": document.Int(2), "first_name": document.String("Ravi"), "age": document.Int(44), "joined_date": document.String("NaT")},
		document.Record{"customer_id": document.Int(3), "first_name": document.String("Meera"), "age": document.Int(25)},
	)
	h.docs.Seed("loan_restructuring",
		document.Record{"restructuring_id": document.Int(1), "loan_id": document.Int(10), "new_loan_terms": terms(5, 36),
			"restructure_terms": document.Object{"reason": document.String("drought"), "new_schedule": document.String("monthly"), "concessions": document.String("none")}},
		document.Record{"restructuring_id": document.Int(2), "loan_id": document.Int(11), "new_loan_terms": document.Object{
			"repayment_period_in_months": document.Float(36), "interest_rate": document.Float(5)}},
	)
}

func (h *harness) normalized(t *testing.T) [][]any {
	t.Helper()
	n := h.reg.Normalizations[0]
	rows, err := h.repo.SelectRows(context.Background(), n.Target, n.TargetColumns(), n.KeyColumn)
	require.NoError(t, err)
	return rows
}

func count(t *testing.T, repo storage.MultiRepository, table, col string) int {
	t.Helper()
	rows, err := repo.SelectRows(context.Background(), table, []string{col}, col)
	require.NoError(t, err)
	return len(rows)
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()
	for _, enc := range []loader.Encoding{loader.EncodingJSON, loader.EncodingJSONSnappy} {
		t.Run(string(enc), func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, enc, nil)
			h.seed()
			ctx := context.Background()

			rep, err := h.orch.Run(ctx)
			require.NoError(t, err)

			require.Len(t, rep.FullLoad.Collections, len(h.reg.Collections))
			for i, cr := range rep.FullLoad.Collections {
				assert.Equal(t, h.reg.Collections[i].Name, cr.Collection, "registry order")
			}
			assert.Equal(t, 3, rep.FullLoad.Collections[0].Read)
			assert.EqualValues(t, 3, rep.FullLoad.Collections[0].Loaded)
			assert.Equal(t, 2, rep.FullLoad.Collections[0].Batches)
			assert.Equal(t, 1, rep.FullLoad.Collections[0].SentinelsReplaced)

			assert.Empty(t, rep.Restamp.Errors)
			assert.EqualValues(t, 3, rep.Restamp.Stamped["customers"])

			require.Len(t, rep.Normalize, 1)
			assert.EqualValues(t, 2, rep.Normalize[0].DimensionsCreated)
			assert.EqualValues(t, 2, rep.Normalize[0].FactsChanged)

			// Both restructurings share one terms row.
			assert.Equal(t, 1, count(t, h.repo, "tbl_new_loan_terms", "new_loan_term_id"))
			rows := h.normalized(t)
			require.Len(t, rows, 2)
			assert.NotNil(t, rows[0][4])
			assert.Equal(t, rows[0][4], rows[1][4])
			assert.NotNil(t, rows[0][5])
			assert.Nil(t, rows[1][5])
		})
	}
}

func TestFullLoad_NormalizesDatesAndStamps(t *testing.T) {
	t.Parallel()
	h := newHarness(t, loader.EncodingJSON, nil)
	h.seed()
	ctx := context.Background()
	require.NoError(t, h.orch.Bootstrap(ctx))
	_, err := h.orch.FullLoad(ctx)
	require.NoError(t, err)

	rows, err := h.repo.SelectRows(ctx, "tbl_customers", []string{"customer_id", "joined_date"}, "customer_id")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.NotNil(t, rows[0][1])
	assert.Nil(t, rows[1][1], "NaT becomes NULL")
	assert.Nil(t, rows[2][1])

	added, modified, err := h.orch.LatestTimestamps(ctx, "customers")
	require.NoError(t, err)
	assert.Equal(t, "2024-10-27 05:30:00", timestamp.Denormalize(added))
	assert.Equal(t, "2024-10-27 05:30:00", timestamp.Denormalize(modified))
}

func TestFullLoad_MissingKeyStops(t *testing.T) {
	t.Parallel()
	h := newHarness(t, loader.EncodingJSON, nil)
	h.docs.Seed("customers", document.Record{"customer_id": document.Int(1)}, document.Record{"age": document.Int(3)})
	ctx := context.Background()
	require.NoError(t, h.orch.Bootstrap(ctx))

	rep, err := h.orch.FullLoad(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "full load customers")
	assert.ErrorContains(t, err, "document #1 has no customer_id")
	assert.Len(t, rep.Collections, 1, "later collections never start")
	assert.Zero(t, count(t, h.repo, "tbl_customers", "customer_id"))
}

func TestRestamp_BestEffort(t *testing.T) {
	t.Parallel()
	h := newHarness(t, loader.EncodingJSON, func(d source.DocumentStore) source.DocumentStore {
		return stampless{DocumentStore: d, broken: "customers"}
	})
	h.seed()
	ctx := context.Background()

	rep := h.orch.Restamp(ctx)
	require.Contains(t, rep.Errors, "customers")
	assert.ErrorIs(t, rep.Errors["customers"], syncerr.ErrSourceUnavailable)
	assert.EqualValues(t, 2, rep.Stamped["loan_restructuring"])

	docs, err := h.docs.Read(ctx, "loan_restructuring")
	require.NoError(t, err)
	for _, d := range docs {
		assert.True(t, timestamp.ReferenceInstant().Equal(d[mapping.AddedAt].(document.Time).Time))
	}
}

func TestNormalize_RerunChangesNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t, loader.EncodingJSON, nil)
	h.seed()
	ctx := context.Background()
	_, err := h.orch.Run(ctx)
	require.NoError(t, err)
	before := h.normalized(t)

	reps, err := h.orch.Normalize(ctx)
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Zero(t, reps[0].DimensionsCreated)
	assert.Zero(t, reps[0].FactsChanged)
	assert.Equal(t, before, h.normalized(t))
}

func TestInsertAndUpdate_Renormalize(t *testing.T) {
	t.Parallel()
	h := newHarness(t, loader.EncodingJSON, nil)
	h.seed()
	ctx := context.Background()
	_, err := h.orch.Run(ctx)
	require.NoError(t, err)

	out, err := h.orch.Insert(ctx, "loan_restructuring", document.Record{
		"restructuring_id": document.Int(3), "loan_id": document.Int(12), "new_loan_terms": terms(5, 36),
	})
	require.NoError(t, err)
	assert.Equal(t, upsert.Inserted, out)

	rows := h.normalized(t)
	require.Len(t, rows, 3)
	assert.Equal(t, rows[0][4], rows[2][4], "existing dimension row reused")
	assert.Equal(t, 1, count(t, h.repo, "tbl_new_loan_terms", "new_loan_term_id"))

	out, err = h.orch.Insert(ctx, "loan_restructuring", document.Record{"restructuring_id": document.Int(3), "loan_id": document.Int(99)})
	require.NoError(t, err)
	assert.Equal(t, upsert.AlreadyExists, out)

	h.now = h.now.Add(time.Hour)
	merged, err := h.orch.Update(ctx, "loan_restructuring", document.Int(2), document.Record{"new_loan_terms": terms(7, 12)})
	require.NoError(t, err)
	assert.True(t, h.now.Equal(merged[mapping.ModifiedAt].(document.Time).Time))

	assert.Equal(t, 2, count(t, h.repo, "tbl_new_loan_terms", "new_loan_term_id"))
	rows = h.normalized(t)
	require.Len(t, rows, 3)
	assert.NotEqual(t, rows[0][4], rows[1][4])

	_, modified, err := h.orch.LatestTimestamps(ctx, "loan_restructuring")
	require.NoError(t, err)
	assert.True(t, h.now.Equal(modified))

	_, err = h.orch.Update(ctx, "loan_restructuring", document.Int(404), document.Record{"loan_id": document.Int(1)})
	assert.ErrorIs(t, err, syncerr.ErrNotFound)
}

func TestLatestTimestamps_EmptyAndUnknown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, loader.EncodingJSON, nil)
	ctx := context.Background()
	require.NoError(t, h.orch.Bootstrap(ctx))

	added, modified, err := h.orch.LatestTimestamps(ctx, "loan_types")
	require.NoError(t, err)
	assert.True(t, added.IsZero())
	assert.True(t, modified.IsZero())

	_, _, err = h.orch.LatestTimestamps(ctx, "borrowers")
	assert.Error(t, err)
}
