package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MultiConfig is the minimal configuration needed to create a multi-table repository.
//
// When to use:
//   - Use MultiConfig when constructing a MultiRepository via NewMulti.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is backend-specific.
//
// Errors:
//   - NewMulti returns an error if Kind is empty or unsupported.
type MultiConfig struct {
	Kind string
	DSN  string

	// MaxConns caps the backend's connection pool. Zero keeps the backend default.
	MaxConns int
}

// DimensionRow is the input to GetOrCreateDimension.
//
// Values align with ValueColumns. StampColumns/Stamp are written only when a
// new row is created (added_at/modified_at).
type DimensionRow struct {
	Table        string
	KeyColumn    string
	ValueColumns []string
	Values       []any
	StampColumns []string
	Stamp        any
}

// DimensionResult reports how GetOrCreateDimension obtained the key.
//
// Created is true when this call inserted the row. Raced is true when the
// insert hit the UNIQUE constraint because a concurrent writer committed the
// same value combination first; the key is then the winner's key.
type DimensionResult struct {
	Key     int64
	Created bool
	Raced   bool
}

// MultiRepository is the relational sink used by the sync pipeline.
//
// IMPORTANT: This interface is intentionally minimal and focused on the
// operations the loader, resolver, normalization pass and upsert controller
// need. Each backend implements these semantics in its own idiomatic way
// (Postgres ON CONFLICT, SQLite ON CONFLICT DO NOTHING, SQL Server UPDLOCK).
type MultiRepository interface {
	// Close releases any backend resources (connections, prepared statements, etc).
	//
	// When to use:
	//   - Always call Close when you are done with the repository to avoid leaks.
	//
	// Edge cases:
	//   - Implementations should be safe to call once at process shutdown.
	Close()

	// Ping checks that the sink is reachable.
	Ping(ctx context.Context) error

	// EnsureTables creates tables and constraints as needed.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// InsertBatch writes all rows in one transaction: every row is visible
	// after commit or none is. No dedupe; a duplicate key fails the batch.
	InsertBatch(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)

	// GetOrCreateDimension returns the surrogate key of the row whose value
	// columns equal row.Values, inserting it first if needed. The lookup and
	// insert run as one atomic primitive backed by the table's UNIQUE
	// constraint on the value columns.
	GetOrCreateDimension(ctx context.Context, row DimensionRow) (DimensionResult, error)

	// UpsertRows inserts rows keyed by keyColumns, updating existing rows only
	// when at least one non-key column differs. Returns the number of rows
	// inserted or changed.
	UpsertRows(ctx context.Context, table string, keyColumns []string, columns []string, rows [][]any) (int64, error)

	// UpdateRow sets columns to values on the row whose keyColumn equals key.
	// Returns the number of rows matched.
	UpdateRow(ctx context.Context, table string, keyColumn string, key any, columns []string, values []any) (int64, error)

	// KeyExists reports whether a row with keyColumn = key exists.
	KeyExists(ctx context.Context, table string, keyColumn string, key any) (bool, error)

	// SelectRows returns every row of table projected onto columns, ordered by orderBy
	// when it is non-empty.
	SelectRows(ctx context.Context, table string, columns []string, orderBy string) ([][]any, error)

	// MaxTimestamps returns MAX(addedColumn), MAX(modifiedColumn). ok is false
	// when the table is empty.
	MaxTimestamps(ctx context.Context, table, addedColumn, modifiedColumn string) (added, modified any, ok bool, err error)

	// SyncKeySequence moves a generated key column's sequence past the
	// largest key present, after rows were loaded with explicit keys.
	// Backends whose generator already tracks explicit inserts make it a no-op.
	SyncKeySequence(ctx context.Context, table, keyColumn string) error
}

// ---- multi factories ----

type multiFactory func(ctx context.Context, cfg MultiConfig) (MultiRepository, error)

var (
	multiMu        sync.RWMutex
	multiFactories = map[string]multiFactory{}
)

// RegisterMulti registers a multi-table backend under a kind (e.g. "postgres", "sqlite").
//
// When to use:
//   - Call RegisterMulti from an init() function in a backend package.
//   - The `kind` string becomes the lookup key used by NewMulti.
//
// Panics:
//   - If kind is empty.
//   - If f is nil.
//   - If kind is already registered.
func RegisterMulti(kind string, f multiFactory) {
	multiMu.Lock()
	defer multiMu.Unlock()

	if kind == "" {
		panic("storage: RegisterMulti called with empty kind")
	}
	if f == nil {
		panic("storage: RegisterMulti called with nil factory")
	}
	if _, exists := multiFactories[kind]; exists {
		panic(fmt.Sprintf("storage: multi factory already registered for kind=%q", kind))
	}

	multiFactories[kind] = f
}

// NewMulti constructs a MultiRepository using the registered backend factory.
//
// Concurrency:
//   - Safe for concurrent use with RegisterMulti. NewMulti takes a read lock while
//     selecting the factory.
//
// Errors:
//   - Returns an error if cfg.Kind is empty or unsupported.
//   - Returns whatever error the registered factory returns.
func NewMulti(ctx context.Context, cfg MultiConfig) (MultiRepository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing multi.Kind")
	}

	multiMu.RLock()
	f := multiFactories[cfg.Kind]
	multiMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported multi storage.kind=%s (registered: %v)", cfg.Kind, RegisteredKinds())
	}
	return f(ctx, cfg)
}

// RegisteredKinds lists registered backend kinds in sorted order.
func RegisteredKinds() []string {
	multiMu.RLock()
	defer multiMu.RUnlock()

	out := make([]string, 0, len(multiFactories))
	for k := range multiFactories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
