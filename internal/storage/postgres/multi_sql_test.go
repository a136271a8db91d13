package postgres

import (
	"strings"
	"testing"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
)

// boolPtr is a tiny helper to avoid repeating &[]bool literals in tests.
func boolPtr(v bool) *bool { return &v }

func TestBuildCreateSQL_DimensionTable(t *testing.T) {
	t.Parallel()

	spec := storage.TableSpec{
		Name:            "public.tbl_new_loan_terms",
		AutoCreateTable: true,
		PrimaryKey:      &storage.PrimaryKeySpec{Name: "new_loan_term_id", Type: storage.TypeSerial},
		Columns: []storage.ColumnSpec{
			{Name: "interest_rate", Type: storage.TypeNumeric},
			{Name: "repayment_period_in_months", Type: storage.TypeBigInt},
			{Name: "added_at", Type: storage.TypeTimestamp, Nullable: boolPtr(true)},
		},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"interest_rate", "repayment_period_in_months"}}},
	}

	schemaSQL, baseSQL, err := buildCreateSQL(spec)
	if err != nil {
		t.Fatalf("buildCreateSQL() err=%v, want nil", err)
	}
	if schemaSQL != `CREATE SCHEMA IF NOT EXISTS "public";` {
		t.Fatalf("schemaSQL=%q", schemaSQL)
	}
	for _, want := range []string{
		`CREATE TABLE IF NOT EXISTS "public"."tbl_new_loan_terms"`,
		`"new_loan_term_id" BIGSERIAL PRIMARY KEY`,
		`"interest_rate" NUMERIC NOT NULL`,
		`"repayment_period_in_months" BIGINT NOT NULL`,
		`"added_at" TIMESTAMPTZ,`,
		`UNIQUE ("interest_rate", "repayment_period_in_months")`,
	} {
		if !strings.Contains(baseSQL+",", want) {
			t.Fatalf("baseSQL missing %q: %s", want, baseSQL)
		}
	}
}

func TestBuildCreateSQL_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		spec storage.TableSpec
	}{
		{"empty_name", storage.TableSpec{}},
		{"no_columns", storage.TableSpec{Name: "t"}},
		{"pk_without_type", storage.TableSpec{Name: "t", PrimaryKey: &storage.PrimaryKeySpec{Name: "id"}}},
		{"column_without_type", storage.TableSpec{Name: "t", Columns: []storage.ColumnSpec{{Name: "c"}}}},
		{"bad_constraint", storage.TableSpec{
			Name:        "t",
			Columns:     []storage.ColumnSpec{{Name: "c", Type: "text"}},
			Constraints: []storage.ConstraintSpec{{Kind: "check", Columns: []string{"c"}}},
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := buildCreateSQL(tc.spec); err == nil {
				t.Fatalf("buildCreateSQL() err=nil, want error")
			}
		})
	}
}

func TestBuildColumnDef_ReferenceAndPassthroughType(t *testing.T) {
	t.Parallel()

	got, err := buildColumnDef(storage.ColumnSpec{
		Name:       "new_loan_term_id",
		Type:       "integer",
		References: "tbl_new_loan_terms(new_loan_term_id)",
	})
	if err != nil {
		t.Fatalf("buildColumnDef() err=%v", err)
	}
	want := `"new_loan_term_id" integer NOT NULL REFERENCES "tbl_new_loan_terms"("new_loan_term_id")`
	if got != want {
		t.Fatalf("buildColumnDef()=%q, want %q", got, want)
	}
}

func TestBuildInsertSQL_Placeholders(t *testing.T) {
	t.Parallel()

	sql, args := buildInsertSQL("tbl_customers",
		[]string{"customer_id", "first_name"},
		[][]any{{int64(1), "Iris"}, {int64(2), "Francyne"}},
		nil)

	want := `INSERT INTO "tbl_customers" ("customer_id", "first_name") VALUES ($1, $2), ($3, $4)`
	if sql != want {
		t.Fatalf("sql=%q, want %q", sql, want)
	}
	if len(args) != 4 || args[3] != "Francyne" {
		t.Fatalf("args=%v", args)
	}
}

func TestBuildUpsertSQL_OnlyChangedRows(t *testing.T) {
	t.Parallel()

	sql, args := buildUpsertSQL("tbl_loan_restructuring_normalized",
		[]string{"restructuring_id"},
		[]string{"restructuring_id", "loan_id", "new_loan_term_id"},
		[][]any{{int64(1), int64(10), int64(3)}})

	for _, want := range []string{
		`INSERT INTO "tbl_loan_restructuring_normalized" AS cur ("restructuring_id", "loan_id", "new_loan_term_id") VALUES ($1, $2, $3)`,
		`ON CONFLICT ("restructuring_id") DO UPDATE SET "loan_id" = EXCLUDED."loan_id", "new_loan_term_id" = EXCLUDED."new_loan_term_id"`,
		`WHERE (cur."loan_id", cur."new_loan_term_id") IS DISTINCT FROM (EXCLUDED."loan_id", EXCLUDED."new_loan_term_id")`,
	} {
		if !strings.Contains(sql, want) {
			t.Fatalf("sql missing %q: %s", want, sql)
		}
	}
	if len(args) != 3 {
		t.Fatalf("args=%v, want 3", args)
	}

	keysOnly, _ := buildUpsertSQL("t", []string{"a"}, []string{"a"}, [][]any{{1}})
	if !strings.HasSuffix(keysOnly, `ON CONFLICT ("a") DO NOTHING`) {
		t.Fatalf("keys-only upsert=%q, want DO NOTHING", keysOnly)
	}
}

func TestBuildDimensionSQL(t *testing.T) {
	t.Parallel()

	row := storage.DimensionRow{
		Table:        "tbl_restructure_terms",
		KeyColumn:    "restructure_term_id",
		ValueColumns: []string{"reason", "new_schedule"},
		Values:       []any{"hardship", "monthly"},
		StampColumns: []string{"added_at", "modified_at"},
		Stamp:        "2024-10-27T05:30:00+05:30",
	}

	sel, selArgs := buildDimensionSelectSQL(row)
	if sel != `SELECT "restructure_term_id" FROM "tbl_restructure_terms" WHERE "reason" = $1 AND "new_schedule" = $2` {
		t.Fatalf("select=%q", sel)
	}
	if len(selArgs) != 2 {
		t.Fatalf("select args=%v", selArgs)
	}

	ins, insArgs := buildDimensionInsertSQL(row)
	want := `INSERT INTO "tbl_restructure_terms" ("reason", "new_schedule", "added_at", "modified_at") VALUES ($1, $2, $3, $4) ON CONFLICT ("reason", "new_schedule") DO NOTHING RETURNING "restructure_term_id"`
	if ins != want {
		t.Fatalf("insert=%q, want %q", ins, want)
	}
	if len(insArgs) != 4 || insArgs[2] != row.Stamp || insArgs[3] != row.Stamp {
		t.Fatalf("insert args=%v", insArgs)
	}
}

func TestBuildUpdateSQL(t *testing.T) {
	t.Parallel()

	sql, args := buildUpdateSQL("tbl_customers", "customer_id", int64(311001854123),
		[]string{"first_name", "age"}, []any{"Ada", int64(32)})
	if sql != `UPDATE "tbl_customers" SET "first_name" = $1, "age" = $2 WHERE "customer_id" = $3` {
		t.Fatalf("sql=%q", sql)
	}
	if args[2] != int64(311001854123) {
		t.Fatalf("key arg=%v", args[2])
	}
}

func TestBuildSelectSQL(t *testing.T) {
	t.Parallel()

	if got := buildSelectSQL("tbl_loan_restructuring", []string{"restructuring_id", "loan_id"}, "restructuring_id"); got !=
		`SELECT "restructuring_id", "loan_id" FROM "tbl_loan_restructuring" ORDER BY "restructuring_id"` {
		t.Fatalf("buildSelectSQL()=%q", got)
	}
}

func TestChunkRows_RespectsParamLimit(t *testing.T) {
	t.Parallel()

	rows := make([][]any, 70000)
	for i := range rows {
		rows[i] = []any{i}
	}
	parts := chunkRows(rows, 2)
	total := 0
	for _, p := range parts {
		if len(p)*2 > maxParams {
			t.Fatalf("chunk of %d rows exceeds %d params", len(p), maxParams)
		}
		total += len(p)
	}
	if total != len(rows) {
		t.Fatalf("chunks cover %d rows, want %d", total, len(rows))
	}
}

func TestSplitQualifiedName(t *testing.T) {
	t.Parallel()

	if s, n := splitQualifiedName("public.countries"); s != "public" || n != "countries" {
		t.Fatalf("split(public.countries)=(%q,%q)", s, n)
	}
	if s, n := splitQualifiedName("countries"); s != "" || n != "countries" {
		t.Fatalf("split(countries)=(%q,%q)", s, n)
	}
}
