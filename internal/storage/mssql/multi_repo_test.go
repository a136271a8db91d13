package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
)

// ---- fakes over the database/sql seams ----

type fakeRow struct {
	key int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.key
	return nil
}

// fakeTx answers QueryRowContext calls from a script, in order.
type fakeTx struct {
	script    []fakeRow
	queries   []string
	committed bool
}

func (t *fakeTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	t.queries = append(t.queries, query)
	return nil, errors.New("not scripted")
}

func (t *fakeTx) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	t.queries = append(t.queries, query)
	if len(t.script) == 0 {
		return fakeRow{err: errors.New("unexpected query: " + query)}
	}
	next := t.script[0]
	t.script = t.script[1:]
	return next
}

func (t *fakeTx) Commit() error   { t.committed = true; return nil }
func (t *fakeTx) Rollback() error { return nil }

type fakeDB struct {
	dbConn
	tx *fakeTx
}

func (d *fakeDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	return d.tx, nil
}

type sqlServerErr struct{ n int32 }

func (e sqlServerErr) Error() string { return "mssql: violation" }
func (e sqlServerErr) SQLErrorNumber() int32 { return e.n }

func termRow() storage.DimensionRow {
	return storage.DimensionRow{
		Table:        "dbo.tbl_new_loan_terms",
		KeyColumn:    "new_loan_term_id",
		ValueColumns: []string{"interest_rate", "repayment_period_in_months"},
		Values:       []any{8.5, int64(24)},
	}
}

func TestGetOrCreateDimension_HitUsesLockedSelect(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{script: []fakeRow{{key: 3}}}
	repo := &MultiRepo{db: &fakeDB{tx: tx}}

	res, err := repo.GetOrCreateDimension(context.Background(), termRow())
	if err != nil || res.Key != 3 || res.Created || res.Raced {
		t.Fatalf("GetOrCreateDimension()=%+v,%v, want plain hit on 3", res, err)
	}
	if !strings.Contains(tx.queries[0], "WITH (UPDLOCK, HOLDLOCK)") {
		t.Fatalf("lookup %q does not take UPDLOCK", tx.queries[0])
	}
	if !tx.committed {
		t.Fatalf("transaction not committed")
	}
}

func TestGetOrCreateDimension_MissInsertsWithOutput(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{script: []fakeRow{{err: sql.ErrNoRows}, {key: 11}}}
	repo := &MultiRepo{db: &fakeDB{tx: tx}}

	res, err := repo.GetOrCreateDimension(context.Background(), termRow())
	if err != nil || res.Key != 11 || !res.Created {
		t.Fatalf("GetOrCreateDimension()=%+v,%v, want created 11", res, err)
	}
	if !strings.Contains(tx.queries[1], "OUTPUT INSERTED.[new_loan_term_id]") {
		t.Fatalf("insert %q lacks OUTPUT clause", tx.queries[1])
	}
}

func TestGetOrCreateDimension_UniqueViolationRefetches(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{script: []fakeRow{{err: sql.ErrNoRows}, {err: sqlServerErr{n: 2627}}, {key: 4}}}
	repo := &MultiRepo{db: &fakeDB{tx: tx}}

	res, err := repo.GetOrCreateDimension(context.Background(), termRow())
	if err != nil || res.Key != 4 || !res.Raced || res.Created {
		t.Fatalf("GetOrCreateDimension()=%+v,%v, want raced key 4", res, err)
	}
	if strings.Contains(tx.queries[2], "UPDLOCK") {
		t.Fatalf("refetch should be a plain read: %q", tx.queries[2])
	}
}

func TestGetOrCreateDimension_OtherInsertErrorSurfaces(t *testing.T) {
	t.Parallel()

	boom := sqlServerErr{n: 547}
	tx := &fakeTx{script: []fakeRow{{err: sql.ErrNoRows}, {err: boom}}}
	repo := &MultiRepo{db: &fakeDB{tx: tx}}

	if _, err := repo.GetOrCreateDimension(context.Background(), termRow()); !errors.Is(err, boom) {
		t.Fatalf("GetOrCreateDimension() err=%v, want wrapped %v", err, boom)
	}
	if tx.committed {
		t.Fatalf("failed resolution must not commit")
	}
}

func TestBuildCreateSQL_GuardAndTypes(t *testing.T) {
	t.Parallel()

	nullable := true
	ddl, err := buildCreateSQL(storage.TableSpec{
		Name:       "dbo.tbl_restructure_terms",
		PrimaryKey: &storage.PrimaryKeySpec{Name: "restructure_term_id", Type: storage.TypeSerial},
		Columns: []storage.ColumnSpec{
			{Name: "reason", Type: storage.TypeText},
			{Name: "added_at", Type: storage.TypeTimestamp, Nullable: &nullable},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"reason"}}},
	})
	if err != nil {
		t.Fatalf("buildCreateSQL() err=%v", err)
	}
	for _, want := range []string{
		"IF OBJECT_ID(N'dbo.tbl_restructure_terms', N'U') IS NULL",
		"CREATE TABLE [dbo].[tbl_restructure_terms]",
		"[restructure_term_id] BIGINT IDENTITY(1,1) PRIMARY KEY",
		"[reason] NVARCHAR(4000) NOT NULL",
		"[added_at] DATETIMEOFFSET NULL",
		"UNIQUE ([reason])",
	} {
		if !strings.Contains(ddl, want) {
			t.Fatalf("ddl missing %q: %s", want, ddl)
		}
	}
}

func TestBuildMergeSQL_ChangedRowsOnly(t *testing.T) {
	t.Parallel()

	q, args := buildMergeSQL("tbl_loan_restructuring_normalized",
		[]string{"restructuring_id"},
		[]string{"restructuring_id", "loan_id"},
		[][]any{{int64(1), int64(10)}, {int64(2), int64(20)}})

	for _, want := range []string{
		"MERGE [tbl_loan_restructuring_normalized] WITH (HOLDLOCK) AS cur USING (VALUES (@p1, @p2), (@p3, @p4)) AS src ([restructuring_id], [loan_id])",
		"ON cur.[restructuring_id] = src.[restructuring_id]",
		"WHEN MATCHED AND EXISTS (SELECT cur.[loan_id] EXCEPT SELECT src.[loan_id]) THEN UPDATE SET [loan_id] = src.[loan_id]",
		"WHEN NOT MATCHED THEN INSERT ([restructuring_id], [loan_id]) VALUES (src.[restructuring_id], src.[loan_id]);",
	} {
		if !strings.Contains(q, want) {
			t.Fatalf("merge missing %q: %s", want, q)
		}
	}
	if len(args) != 4 {
		t.Fatalf("args=%v, want 4", args)
	}
}

func TestChunkRows_ValuesRowCap(t *testing.T) {
	t.Parallel()

	rows := make([][]any, 2500)
	for _, part := range chunkRows(rows, 1) {
		if len(part) > maxValuesRows {
			t.Fatalf("chunk has %d rows, cap is %d", len(part), maxValuesRows)
		}
	}
	for _, part := range chunkRows(rows, 7) {
		if len(part)*7 > maxParams {
			t.Fatalf("chunk uses %d params, cap is %d", len(part)*7, maxParams)
		}
	}
}

func TestMSSQLTableIdent(t *testing.T) {
	t.Parallel()

	if got := mssqlTableIdent("dbo.weird]name"); got != "[dbo].[weird]]name]" {
		t.Fatalf("mssqlTableIdent()=%q", got)
	}
}
