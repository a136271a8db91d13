// Package source reads and writes the schema-flexible document store the
// pipeline synchronizes from.
//
// Backends register themselves from init() the same way relational sinks do in
// internal/storage; callers blank-import internal/source/all and call New.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
)

// StoreIDField is the store-internal identifier. Every backend drops it.
const StoreIDField = "_id"

// DocumentStore is the document side of the pipeline.
//
// Read returns every document of a collection; an empty or unknown collection
// is an empty slice, not an error. Connectivity failures are wrapped with
// syncerr.SourceUnavailable. Read never retries.
type DocumentStore interface {
	Read(ctx context.Context, collection string) ([]document.Record, error)

	// FindOne returns the document whose keyField equals key.
	FindOne(ctx context.Context, collection, keyField string, key document.Value) (document.Record, bool, error)

	// InsertOne adds rec unless a document with the same keyField value
	// exists, in which case it fails with syncerr.ErrDuplicateKey. The check
	// and the write are one atomic step.
	InsertOne(ctx context.Context, collection, keyField string, rec document.Record) error

	// UpdateOne sets the given fields on the document whose keyField equals
	// key. found is false when no document matched.
	UpdateOne(ctx context.Context, collection, keyField string, key document.Value, set document.Record) (found bool, err error)

	// StampAll sets fields on every document of the collection and returns
	// the number of documents touched.
	StampAll(ctx context.Context, collection string, fields document.Record) (int64, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Config selects and configures a backend.
type Config struct {
	Kind     string
	URI      string // mongo
	Database string // mongo
	Dir      string // jsonfile

	// WriteBack makes the jsonfile backend flush writes to disk on Close.
	WriteBack bool
}

type factory func(ctx context.Context, cfg Config) (DocumentStore, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register makes a backend available under kind. It panics on an empty kind,
// a nil factory or a duplicate registration.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("source: Register called with empty kind")
	}
	if f == nil {
		panic("source: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("source: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New constructs the DocumentStore registered under cfg.Kind.
func New(ctx context.Context, cfg Config) (DocumentStore, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("source: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported source.kind=%s (registered: %v)", cfg.Kind, RegisteredKinds())
	}
	return f(ctx, cfg)
}

// RegisteredKinds lists registered backend kinds in sorted order.
func RegisteredKinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// KeyMatches reports whether v and key name the same business key. Numeric
// keys compare by their text form so Int(7) matches Float(7).
func KeyMatches(v, key document.Value) bool {
	if document.IsNull(v) || document.IsNull(key) {
		return false
	}
	return document.KeyString(v) == document.KeyString(key)
}
