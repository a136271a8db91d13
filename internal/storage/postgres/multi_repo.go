package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/syncerr"
)

/*
MultiRepo implements storage.MultiRepository for Postgres.

It provides:
  - Batched fact inserts, one transaction per batch
  - Atomic dimension get-or-create using INSERT ... ON CONFLICT DO NOTHING
  - Upsert-by-business-key that only touches rows whose values changed
*/
type MultiRepo struct {
	pool *pgxpool.Pool
}

// Postgres caps bind parameters per statement at 65535.
const maxParams = 65535

// NewMulti creates a new Postgres-backed MultiRepo.
func NewMulti(ctx context.Context, cfg storage.MultiConfig) (storage.MultiRepository, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, syncerr.SinkUnavailable(fmt.Errorf("postgres: create pool: %w", err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, syncerr.SinkUnavailable(fmt.Errorf("postgres: ping: %w", err))
	}
	return &MultiRepo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *MultiRepo) Close() {
	r.pool.Close()
}

// Ping verifies the pool can reach the server.
func (r *MultiRepo) Ping(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return syncerr.SinkUnavailable(fmt.Errorf("postgres: ping: %w", err))
	}
	return nil
}

// EnsureTables creates tables when AutoCreateTable is enabled.
//
// This method is idempotent.
func (r *MultiRepo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if !t.AutoCreateTable {
			continue
		}
		schemaSQL, baseSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := r.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := r.pool.Exec(ctx, baseSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// InsertBatch inserts rows inside one transaction.
//
// Rows are split into statements that stay under the bind-parameter limit, but
// the commit is single: a failure in any statement rolls back the whole batch.
func (r *MultiRepo) InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("InsertBatch: %s: no columns", table)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, classify(fmt.Errorf("InsertBatch: begin %s: %w", table, err))
	}
	defer tx.Rollback(ctx)

	total := int64(0)
	for _, part := range chunkRows(rows, len(columns)) {
		sql, args := buildInsertSQL(table, columns, part, nil)
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return 0, classify(fmt.Errorf("InsertBatch: insert into %s: %w", table, err))
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classify(fmt.Errorf("InsertBatch: commit %s: %w", table, err))
	}
	return total, nil
}

// GetOrCreateDimension resolves a dimension value combination to its key.
//
// Sequence, all in one transaction:
//  1. SELECT by value columns (fast path, no sequence value burned)
//  2. INSERT ... ON CONFLICT (value columns) DO NOTHING RETURNING key
//  3. if the insert returned nothing, a concurrent writer won: SELECT again
//
// Under READ COMMITTED, step 2 blocks on a conflicting in-flight insert until
// that transaction commits, so step 3 always sees the winner's row.
func (r *MultiRepo) GetOrCreateDimension(ctx context.Context, row storage.DimensionRow) (storage.DimensionResult, error) {
	if err := validateDimensionRow(row); err != nil {
		return storage.DimensionResult{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storage.DimensionResult{}, classify(fmt.Errorf("GetOrCreateDimension: begin %s: %w", row.Table, err))
	}
	defer tx.Rollback(ctx)

	res, err := dimensionInTx(ctx, tx, row)
	if err != nil {
		return storage.DimensionResult{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return storage.DimensionResult{}, classify(fmt.Errorf("GetOrCreateDimension: commit %s: %w", row.Table, err))
	}
	return res, nil
}

// rowQuerier is the part of pgx.Tx the dimension lookup needs.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// dimensionInTx looks the row up, inserts it with ON CONFLICT DO NOTHING when
// missing and, when that insert returned nothing because another transaction
// committed the same values first, re-reads the winner's key.
func dimensionInTx(ctx context.Context, q rowQuerier, row storage.DimensionRow) (storage.DimensionResult, error) {
	selSQL, selArgs := buildDimensionSelectSQL(row)
	key, found, err := scanKey(q.QueryRow(ctx, selSQL, selArgs...))
	if err != nil {
		return storage.DimensionResult{}, fmt.Errorf("GetOrCreateDimension: select %s: %w", row.Table, err)
	}
	if found {
		return storage.DimensionResult{Key: key}, nil
	}

	insSQL, insArgs := buildDimensionInsertSQL(row)
	key, inserted, err := scanKey(q.QueryRow(ctx, insSQL, insArgs...))
	if err != nil {
		return storage.DimensionResult{}, fmt.Errorf("GetOrCreateDimension: insert %s: %w", row.Table, err)
	}
	if inserted {
		return storage.DimensionResult{Key: key, Created: true}, nil
	}

	key, found, err = scanKey(q.QueryRow(ctx, selSQL, selArgs...))
	if err != nil {
		return storage.DimensionResult{}, fmt.Errorf("GetOrCreateDimension: refetch %s: %w", row.Table, err)
	}
	if !found {
		return storage.DimensionResult{}, fmt.Errorf("GetOrCreateDimension: %s: conflicting row vanished: %w", row.Table, syncerr.ErrDimensionConflict)
	}
	return storage.DimensionResult{Key: key, Raced: true}, nil
}

// UpsertRows inserts or updates rows by business key in one transaction.
func (r *MultiRepo) UpsertRows(ctx context.Context, table string, keyColumns []string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(keyColumns) == 0 {
		return 0, fmt.Errorf("UpsertRows: %s: key columns required", table)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, classify(fmt.Errorf("UpsertRows: begin %s: %w", table, err))
	}
	defer tx.Rollback(ctx)

	total := int64(0)
	for _, part := range chunkRows(rows, len(columns)) {
		sql, args := buildUpsertSQL(table, keyColumns, columns, part)
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return 0, classify(fmt.Errorf("UpsertRows: %s: %w", table, err))
		}
		total += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, classify(fmt.Errorf("UpsertRows: commit %s: %w", table, err))
	}
	return total, nil
}

// UpdateRow performs UPDATE ... SET ... WHERE keyColumn = key.
func (r *MultiRepo) UpdateRow(ctx context.Context, table string, keyColumn string, key any, columns []string, values []any) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("UpdateRow: %s: no columns to set", table)
	}
	if len(columns) != len(values) {
		return 0, fmt.Errorf("UpdateRow: %s: %d columns but %d values", table, len(columns), len(values))
	}
	sql, args := buildUpdateSQL(table, keyColumn, key, columns, values)
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, classify(fmt.Errorf("UpdateRow: %s: %w", table, err))
	}
	return tag.RowsAffected(), nil
}

// KeyExists checks for a row with keyColumn = key.
func (r *MultiRepo) KeyExists(ctx context.Context, table string, keyColumn string, key any) (bool, error) {
	q := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`, pgTable(table), pgIdent(keyColumn))
	var ok bool
	if err := r.pool.QueryRow(ctx, q, key).Scan(&ok); err != nil {
		return false, classify(fmt.Errorf("KeyExists: %s: %w", table, err))
	}
	return ok, nil
}

// SelectRows returns all rows of table projected onto columns.
func (r *MultiRepo) SelectRows(ctx context.Context, table string, columns []string, orderBy string) ([][]any, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("SelectRows: %s: no columns", table)
	}
	q := buildSelectSQL(table, columns, orderBy)

	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, classify(fmt.Errorf("SelectRows: query %s: %w", table, err))
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		// IMPORTANT: pgx requires that Scan destinations are pointers; Values()
		// decodes every column into its natural Go type instead.
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("SelectRows: scan %s: %w", table, err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("SelectRows: rows %s: %w", table, err)
	}
	return out, nil
}

// MaxTimestamps returns the newest added/modified stamps in table.
func (r *MultiRepo) MaxTimestamps(ctx context.Context, table, addedColumn, modifiedColumn string) (any, any, bool, error) {
	q := fmt.Sprintf(`SELECT MAX(%s), MAX(%s) FROM %s`, pgIdent(addedColumn), pgIdent(modifiedColumn), pgTable(table))
	var added, modified any
	if err := r.pool.QueryRow(ctx, q).Scan(&added, &modified); err != nil {
		return nil, nil, false, classify(fmt.Errorf("MaxTimestamps: %s: %w", table, err))
	}
	return added, modified, added != nil || modified != nil, nil
}

// SyncKeySequence advances the serial sequence behind keyColumn. Columns with
// no owned sequence are left alone (setval on NULL is a no-op).
func (r *MultiRepo) SyncKeySequence(ctx context.Context, table, keyColumn string) error {
	q := fmt.Sprintf(`SELECT setval(pg_get_serial_sequence($1, $2), COALESCE((SELECT MAX(%s) FROM %s), 0) + 1, false)`,
		pgIdent(keyColumn), pgTable(table))
	if _, err := r.pool.Exec(ctx, q, pgTable(table), keyColumn); err != nil {
		return classify(fmt.Errorf("SyncKeySequence: %s.%s: %w", table, keyColumn, err))
	}
	return nil
}

/* ---------- helpers ---------- */

// scanKey scans a single surrogate key. found is false on pgx.ErrNoRows.
func scanKey(row pgx.Row) (int64, bool, error) {
	var key int64
	if err := row.Scan(&key); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return key, true, nil
}

// classify marks connection-level failures as sink-unavailable. Statement
// errors reported by the server (constraint violations etc.) pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return err
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return syncerr.SinkUnavailable(err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return syncerr.SinkUnavailable(err)
	}
	return err
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

// chunkRows splits rows so each statement stays under maxParams.
func chunkRows(rows [][]any, width int) [][][]any {
	per := maxParams / max(width, 1)
	if per < 1 {
		per = 1
	}
	out := make([][][]any, 0, len(rows)/per+1)
	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		out = append(out, rows[start:end])
	}
	return out
}

// pgIdent quotes one identifier.
func pgIdent(name string) string {
	return pgx.Identifier{strings.TrimSpace(name)}.Sanitize()
}

// pgTable quotes a possibly schema-qualified table name ("public.t").
func pgTable(name string) string {
	schema, table := splitQualifiedName(name)
	if schema == "" {
		return pgx.Identifier{table}.Sanitize()
	}
	return pgx.Identifier{schema, table}.Sanitize()
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "public.countries" => ("public", "countries")
//   - "countries"        => ("", "countries")
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

var _ storage.MultiRepository = (*MultiRepo)(nil)
