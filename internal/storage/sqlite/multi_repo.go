package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/syncerr"
)

// MultiRepo implements storage.MultiRepository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no native TIMESTAMPTZ type. Timestamps are stored as fixed-width
//     UTC strings so MAX() and ORDER BY compare them chronologically.
//   - SQLite allows a single writer. The pool is capped at one connection so
//     a read-then-write transaction never deadlocks against another connection.
type MultiRepo struct {
	db *sql.DB
}

// SQLITE_MAX_VARIABLE_NUMBER default since 3.32.
const maxParams = 32766

func init() {
	storage.RegisterMulti("sqlite", NewMulti)
}

func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, syncerr.SinkUnavailable(fmt.Errorf("sqlite: ping: %w", err))
	}
	return &MultiRepo{db: db}, nil
}

func (r *MultiRepo) Close() { _ = r.db.Close() }

func (r *MultiRepo) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return syncerr.SinkUnavailable(fmt.Errorf("sqlite: ping: %w", err))
	}
	return nil
}

// EnsureTables creates tables when AutoCreateTable is set. Idempotent.
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
			return fmt.Errorf("create table %s: %w", t.Name, err)
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
		return 0, fmt.Errorf("InsertBatch: %s: no columns", table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("InsertBatch: begin %s: %w", table, err)
	}
	defer tx.Rollback()

	total := int64(0)
	for _, part := range chunkRows(rows, len(columns)) {
		q, args := buildInsertSQL(table, columns, part, nil)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("InsertBatch: insert into %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("InsertBatch: commit %s: %w", table, err)
	}
	return total, nil
}

// GetOrCreateDimension follows the same select / insert-or-ignore / refetch
// sequence as the Postgres backend, relying on the UNIQUE constraint over the
// value columns.
func (r *MultiRepo) GetOrCreateDimension(ctx context.Context, row storage.DimensionRow) (storage.DimensionResult, error) {
	if err := validateDimensionRow(row); err != nil {
		return storage.DimensionResult{}, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.DimensionResult{}, fmt.Errorf("GetOrCreateDimension: begin %s: %w", row.Table, err)
	}
	defer tx.Rollback()

	res, err := dimensionInTx(ctx, tx, row)
	if err != nil {
		return storage.DimensionResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return storage.DimensionResult{}, fmt.Errorf("GetOrCreateDimension: commit %s: %w", row.Table, err)
	}
	return res, nil
}

// rowQuerier is the part of *sql.Tx the dimension lookup needs.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// dimensionInTx looks the row up, inserts it when missing and, when the
// insert hit a row committed since the lookup, re-reads that row's key.
func dimensionInTx(ctx context.Context, q rowQuerier, row storage.DimensionRow) (storage.DimensionResult, error) {
	selSQL, selArgs := buildDimensionSelectSQL(row)
	key, found, err := scanKey(q.QueryRowContext(ctx, selSQL, selArgs...))
	if err != nil {
		return storage.DimensionResult{}, fmt.Errorf("GetOrCreateDimension: select %s: %w", row.Table, err)
	}
	if found {
		return storage.DimensionResult{Key: key}, nil
	}

	insSQL, insArgs := buildDimensionInsertSQL(row)
	key, inserted, err := scanKey(q.QueryRowContext(ctx, insSQL, insArgs...))
	if err != nil {
		return storage.DimensionResult{}, fmt.Errorf("GetOrCreateDimension: insert %s: %w", row.Table, err)
	}
	if inserted {
		return storage.DimensionResult{Key: key, Created: true}, nil
	}

	key, found, err = scanKey(q.QueryRowContext(ctx, selSQL, selArgs...))
	if err != nil {
		return storage.DimensionResult{}, fmt.Errorf("GetOrCreateDimension: refetch %s: %w", row.Table, err)
	}
	if !found {
		return storage.DimensionResult{}, fmt.Errorf("GetOrCreateDimension: %s: conflicting row vanished: %w", row.Table, syncerr.ErrDimensionConflict)
	}
	return storage.DimensionResult{Key: key, Raced: true}, nil
}

func (r *MultiRepo) UpsertRows(ctx context.Context, table string, keyColumns []string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(keyColumns) == 0 {
		return 0, fmt.Errorf("UpsertRows: %s: key columns required", table)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("UpsertRows: begin %s: %w", table, err)
	}
	defer tx.Rollback()

	total := int64(0)
	for _, part := range chunkRows(rows, len(columns)) {
		q, args := buildUpsertSQL(table, keyColumns, columns, part)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("UpsertRows: %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("UpsertRows: commit %s: %w", table, err)
	}
	return total, nil
}

func (r *MultiRepo) UpdateRow(ctx context.Context, table string, keyColumn string, key any, columns []string, values []any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("UpdateRow: %s: no columns to set", table)
	}
	if len(columns) != len(values) {
		return 0, fmt.Errorf("UpdateRow: %s: %d columns but %d values", table, len(columns), len(values))
	}
	q, args := buildUpdateSQL(table, keyColumn, key, columns, values)
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("UpdateRow: %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (r *MultiRepo) KeyExists(ctx context.Context, table string, keyColumn string, key any) (bool, error) {
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = ?)`, sqlTable(table), sqlIdent(keyColumn))
	var n int64
	if err := r.db.QueryRowContext(ctx, q, bindValue(key)).Scan(&n); err != nil {
		return false, fmt.Errorf("KeyExists: %s: %w", table, err)
	}
	return n != 0, nil
}

func (r *MultiRepo) SelectRows(ctx context.Context, table string, columns []string, orderBy string) ([][]any, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("SelectRows: %s: no columns", table)
	}
	rows, err := r.db.QueryContext(ctx, buildSelectSQL(table, columns, orderBy))
	if err != nil {
		return nil, fmt.Errorf("SelectRows: query %s: %w", table, err)
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
			return nil, fmt.Errorf("SelectRows: scan %s: %w", table, err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SelectRows: rows %s: %w", table, err)
	}
	return out, nil
}

// MaxTimestamps parses the stored strings back into time.Time so callers see
// the same types as from Postgres.
func (r *MultiRepo) MaxTimestamps(ctx context.Context, table, addedColumn, modifiedColumn string) (any, any, bool, error) {
	q := fmt.Sprintf(`SELECT MAX(%s), MAX(%s) FROM %s`, sqlIdent(addedColumn), sqlIdent(modifiedColumn), sqlTable(table))
	var added, modified sql.NullString
	if err := r.db.QueryRowContext(ctx, q).Scan(&added, &modified); err != nil {
		return nil, nil, false, fmt.Errorf("MaxTimestamps: %s: %w", table, err)
	}
	if !added.Valid && !modified.Valid {
		return nil, nil, false, nil
	}

	var a, m any
	if added.Valid {
		ts, err := parseSQLiteTime(added.String)
		if err != nil {
			return nil, nil, false, fmt.Errorf("MaxTimestamps: %s.%s: %w", table, addedColumn, err)
		}
		a = ts
	}
	if modified.Valid {
		ts, err := parseSQLiteTime(modified.String)
		if err != nil {
			return nil, nil, false, fmt.Errorf("MaxTimestamps: %s.%s: %w", table, modifiedColumn, err)
		}
		m = ts
	}
	return a, m, true, nil
}

// SyncKeySequence is a no-op: AUTOINCREMENT already records explicit keys
// in sqlite_sequence.
func (r *MultiRepo) SyncKeySequence(ctx context.Context, table, keyColumn string) error {
	return nil
}

/* ---------- helpers ---------- */

func scanKey(row *sql.Row) (int64, bool, error) {
	var key int64
	if err := row.Scan(&key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return key, true, nil
}

func validateDimensionRow(row storage.DimensionRow) error {
	if row.Table == "" || row.KeyColumn == "" {
		return fmt.Errorf("GetOrCreateDimension: table and key column are required")
	}
	if len(row.ValueColumns) == 0 || len(row.ValueColumns) != len(row.Values) {
		return fmt.Errorf("GetOrCreateDimension: %s: %d value columns but %d values", row.Table, len(row.ValueColumns), len(row.Values))
	}
	for i, v := range row.Values {
		if v == nil {
			return fmt.Errorf("GetOrCreateDimension: %s: value column %s is null", row.Table, row.ValueColumns[i])
		}
	}
	return nil
}

func chunkRows(rows [][]any, width int) [][][]any {
	per := max(maxParams/max(width, 1), 1)
	out := make([][][]any, 0, len(rows)/per+1)
	for start := 0; start < len(rows); start += per {
		out = append(out, rows[start:min(start+per, len(rows))])
	}
	return out
}

// bindValue converts Go values into what we store: timestamps become
// fixed-width UTC strings, booleans become 0/1.
func bindValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return formatSQLiteTime(t)
	case *time.Time:
		if t == nil {
			return nil
		}
		return formatSQLiteTime(*t)
	case bool:
		if t {
			return int64(1)
		}
		return int64(0)
	default:
		return v
	}
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(strings.TrimSpace(id), `"`, `""`) + `"`
}

// sqlTable quotes each dot-separated part ("main.t" => "main"."t").
func sqlTable(name string) string {
	parts := strings.Split(strings.TrimSpace(name), ".")
	for i, p := range parts {
		parts[i] = sqlIdent(p)
	}
	return strings.Join(parts, ".")
}

// sqliteTimeLayout is RFC3339 with a fixed nine-digit fraction so that
// lexical order equals chronological order for UTC values.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

// parseSQLiteTime parses timestamps returned by SQLite into time.Time.
//
// Supported formats:
//   - the fixed-width layout we write (a valid RFC3339Nano string)
//   - RFC3339
//   - Common "SQLite-like" formats used by other tools/libs:
//     "2006-01-02 15:04:05Z07:00"
//     "2006-01-02 15:04:05.999999999Z07:00"
//     "2006-01-02 15:04:05" (interpreted as UTC)
func parseSQLiteTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if layout == "2006-01-02 15:04:05" {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC(), nil
			}
			continue
		}
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}

var _ storage.MultiRepository = (*MultiRepo)(nil)
