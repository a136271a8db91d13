package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/syncerr"
)

// MultiRepo implements storage.MultiRepository for Microsoft SQL Server.
//
// This implementation supports:
//   - Batched inserts, one transaction per batch.
//   - Dimension get-or-create. The lookup takes UPDLOCK + HOLDLOCK so a
//     concurrent writer for the same value combination waits instead of
//     inserting a duplicate; a UNIQUE violation (2627/2601) still falls back
//     to re-reading the winner's row.
//   - Upsert-by-key via MERGE, updating only rows whose values changed.
//
// Note on driver registration:
//   - This package does NOT blank-import a SQL Server driver. The application
//     registers "sqlserver" elsewhere (see internal/storage/all).
type MultiRepo struct {
	db dbConn
}

const (
	// SQL Server allows 2100 parameters per request; keep headroom.
	maxParams = 2000
	// A single VALUES table constructor is capped at 1000 rows.
	maxValuesRows = 1000
)

// NewMulti constructs a MultiRepo using database/sql and the "sqlserver" driver.
//
// This method validates connectivity via PingContext.
func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}

	conns := cfg.MaxConns
	if conns <= 0 {
		conns = 16
	}
	raw.SetMaxOpenConns(conns)
	raw.SetMaxIdleConns(conns)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, syncerr.SinkUnavailable(fmt.Errorf("mssql: ping: %w", err))
	}
	return &MultiRepo{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this repository.
func (r *MultiRepo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *MultiRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return syncerr.SinkUnavailable(fmt.Errorf("mssql: ping: %w", err))
	}
	return nil
}

// EnsureTables creates tables guarded by OBJECT_ID so reruns are no-ops.
func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertBatch inserts all rows in one transaction.
func (r *MultiRepo) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("mssql: InsertBatch %s: no columns", table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: InsertBatch begin %s: %w", table, err)
	}
	defer tx.Rollback()

	explicitIdentity, err := identityInColumns(ctx, tx, table, columns)
	if err != nil {
		return 0, fmt.Errorf("mssql: InsertBatch %s: %w", table, err)
	}
	if explicitIdentity {
		if _, err := tx.ExecContext(ctx, "SET IDENTITY_INSERT "+mssqlTableIdent(table)+" ON"); err != nil {
			return 0, fmt.Errorf("mssql: InsertBatch %s: identity insert: %w", table, err)
		}
	}

	total := int64(0)
	for _, part := range chunkRows(rows, len(columns)) {
		q, args := buildBulkInsertSQL(table, columns, part)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: InsertBatch %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if explicitIdentity {
		if _, err := tx.ExecContext(ctx, "SET IDENTITY_INSERT "+mssqlTableIdent(table)+" OFF"); err != nil {
			return 0, fmt.Errorf("mssql: InsertBatch %s: identity insert: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: InsertBatch commit %s: %w", table, err)
	}
	return total, nil
}

// GetOrCreateDimension looks up (UPDLOCK, HOLDLOCK) then inserts with OUTPUT.
func (r *MultiRepo) GetOrCreateDimension(ctx context.Context, row storage.DimensionRow) (storage.DimensionResult, error) {
	if err := validateDimensionRow(row); err != nil {
		return storage.DimensionResult{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.DimensionResult{}, fmt.Errorf("mssql: GetOrCreateDimension begin %s: %w", row.Table, err)
	}
	defer tx.Rollback()

	lockSQL, lockArgs := buildDimensionSelectSQL(row, true)
	key, found, err := scanKey(tx.QueryRowContext(ctx, lockSQL, lockArgs...))
	if err != nil {
		return storage.DimensionResult{}, fmt.Errorf("mssql: GetOrCreateDimension select %s: %w", row.Table, err)
	}
	if found {
		return storage.DimensionResult{Key: key}, tx.Commit()
	}

	res := storage.DimensionResult{Created: true}
	insSQL, insArgs := buildDimensionInsertSQL(row)
	key, _, err = scanKey(tx.QueryRowContext(ctx, insSQL, insArgs...))
	switch {
	case err == nil:
		res.Key = key
	case isUniqueViolation(err):
		plainSQL, plainArgs := buildDimensionSelectSQL(row, false)
		key, found, err = scanKey(tx.QueryRowContext(ctx, plainSQL, plainArgs...))
		if err != nil {
			return storage.DimensionResult{}, fmt.Errorf("mssql: GetOrCreateDimension refetch %s: %w", row.Table, err)
		}
		if !found {
			return storage.DimensionResult{}, fmt.Errorf("mssql: GetOrCreateDimension %s: conflicting row vanished: %w", row.Table, syncerr.ErrDimensionConflict)
		}
		res = storage.DimensionResult{Key: key, Raced: true}
	default:
		return storage.DimensionResult{}, fmt.Errorf("mssql: GetOrCreateDimension insert %s: %w", row.Table, err)
	}

	if err := tx.Commit(); err != nil {
		return storage.DimensionResult{}, fmt.Errorf("mssql: GetOrCreateDimension commit %s: %w", row.Table, err)
	}
	return res, nil
}

// UpsertRows runs one MERGE per chunk inside a single transaction.
func (r *MultiRepo) UpsertRows(ctx context.Context, table string, keyColumns []string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(keyColumns) == 0 {
		return 0, fmt.Errorf("mssql: UpsertRows %s: key columns required", table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: UpsertRows begin %s: %w", table, err)
	}
	defer tx.Rollback()

	total := int64(0)
	for _, part := range chunkRows(rows, len(columns)) {
		q, args := buildMergeSQL(table, keyColumns, columns, part)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: UpsertRows %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: UpsertRows commit %s: %w", table, err)
	}
	return total, nil
}

func (r *MultiRepo) UpdateRow(ctx context.Context, table string, keyColumn string, key any, columns []string, values []any) (int64, error) {
	if len(columns) == 0 || len(columns) != len(values) {
		return 0, fmt.Errorf("mssql: UpdateRow %s: %d columns but %d values", table, len(columns), len(values))
	}
	q, args := buildUpdateSQL(table, keyColumn, key, columns, values)
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("mssql: UpdateRow %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (r *MultiRepo) KeyExists(ctx context.Context, table string, keyColumn string, key any) (bool, error) {
	q := fmt.Sprintf("SELECT CASE WHEN EXISTS (SELECT 1 FROM %s WHERE %s = @p1) THEN 1 ELSE 0 END",
		mssqlTableIdent(table), mssqlIdent(keyColumn))
	var n int64
	if err := r.db.QueryRowContext(ctx, q, key).Scan(&n); err != nil {
		return false, fmt.Errorf("mssql: KeyExists %s: %w", table, err)
	}
	return n == 1, nil
}

func (r *MultiRepo) SelectRows(ctx context.Context, table string, columns []string, orderBy string) ([][]any, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("mssql: SelectRows %s: no columns", table)
	}
	rows, err := r.db.QueryContext(ctx, buildSelectSQL(table, columns, orderBy))
	if err != nil {
		return nil, fmt.Errorf("mssql: SelectRows %s: %w", table, err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("mssql: SelectRows scan %s: %w", table, err)
		}
		out = append(out, vals)
	}
	return out, rows.Err()
}

func (r *MultiRepo) MaxTimestamps(ctx context.Context, table, addedColumn, modifiedColumn string) (any, any, bool, error) {
	q := fmt.Sprintf("SELECT MAX(%s), MAX(%s) FROM %s", mssqlIdent(addedColumn), mssqlIdent(modifiedColumn), mssqlTableIdent(table))
	var added, modified sql.NullTime
	if err := r.db.QueryRowContext(ctx, q).Scan(&added, &modified); err != nil {
		return nil, nil, false, fmt.Errorf("mssql: MaxTimestamps %s: %w", table, err)
	}
	var a, m any
	if added.Valid {
		a = added.Time
	}
	if modified.Valid {
		m = modified.Time
	}
	return a, m, added.Valid || modified.Valid, nil
}

// SyncKeySequence is a no-op: an explicit IDENTITY_INSERT above the current
// seed moves the seed forward.
func (r *MultiRepo) SyncKeySequence(ctx context.Context, table, keyColumn string) error {
	return nil
}

/* ---------- helpers ---------- */

// identityInColumns reports whether the table's IDENTITY column is among
// columns, i.e. whether the batch carries explicit surrogate keys.
func identityInColumns(ctx context.Context, tx txConn, table string, columns []string) (bool, error) {
	var name string
	err := tx.QueryRowContext(ctx,
		"SELECT c.name FROM sys.identity_columns c WHERE c.object_id = OBJECT_ID(@p1)", table).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	for _, c := range columns {
		if strings.EqualFold(c, name) {
			return true, nil
		}
	}
	return false, nil
}

func scanKey(row rowScanner) (int64, bool, error) {
	var key int64
	if err := row.Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return key, true, nil
}

// isUniqueViolation matches go-mssqldb's Error without importing the driver.
func isUniqueViolation(err error) bool {
	var numbered interface{ SQLErrorNumber() int32 }
	if !errors.As(err, &numbered) {
		return false
	}
	n := numbered.SQLErrorNumber()
	return n == 2627 || n == 2601
}

func validateDimensionRow(row storage.DimensionRow) error {
	if row.Table == "" || row.KeyColumn == "" {
		return fmt.Errorf("mssql: GetOrCreateDimension: table and key column are required")
	}
	if len(row.ValueColumns) == 0 || len(row.ValueColumns) != len(row.Values) {
		return fmt.Errorf("mssql: GetOrCreateDimension %s: %d value columns but %d values", row.Table, len(row.ValueColumns), len(row.Values))
	}
	for i, v := range row.Values {
		if v == nil {
			return fmt.Errorf("mssql: GetOrCreateDimension %s: value column %s is null", row.Table, row.ValueColumns[i])
		}
	}
	return nil
}

func chunkRows(rows [][]any, width int) [][][]any {
	per := min(max(maxParams/max(width, 1), 1), maxValuesRows)
	out := make([][][]any, 0, len(rows)/per+1)
	for start := 0; start < len(rows); start += per {
		out = append(out, rows[start:min(start+per, len(rows))])
	}
	return out
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	PingContext(ctx context.Context) error
	Close() error
}

// txConn is a small interface over *sql.Tx.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.db.QueryRowContext(ctx, query, args...)
}

func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

func (s *sqlDB) PingContext(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *sqlDB) Close() error { return s.db.Close() }

// sqlTx wraps *sql.Tx to implement txConn.
type sqlTx struct {
	tx *sql.Tx
}

func (s *sqlTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *sqlTx) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.tx.QueryRowContext(ctx, query, args...)
}

func (s *sqlTx) Commit() error { return s.tx.Commit() }

func (s *sqlTx) Rollback() error { return s.tx.Rollback() }

var (
	_ dbConn                  = (*sqlDB)(nil)
	_ txConn                  = (*sqlTx)(nil)
	_ storage.MultiRepository = (*MultiRepo)(nil)
)
