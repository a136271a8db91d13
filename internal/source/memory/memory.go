// Package memory is an in-process DocumentStore. Collections keep insertion
// order. Records handed in or out are deep-copied.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/syncerr"
)

func init() {
	source.Register("memory", func(_ context.Context, _ source.Config) (source.DocumentStore, error) {
		return New(), nil
	})
}

type Store struct {
	mu   sync.RWMutex
	cols map[string][]document.Record
}

var _ source.DocumentStore = (*Store)(nil)

func New() *Store {
	return &Store{cols: map[string][]document.Record{}}
}

// Seed appends records to a collection without any key checks.
func (s *Store) Seed(collection string, recs ...document.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.cols[collection] = append(s.cols[collection], r.Without(source.StoreIDField))
	}
}

// Collections lists collection names that hold at least one document.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.cols))
	for k, v := range s.cols {
		if len(v) > 0 {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (s *Store) Read(ctx context.Context, collection string) ([]document.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.cols[collection]
	out := make([]document.Record, len(src))
	for i, r := range src {
		out[i] = r.Clone()
	}
	return out, nil
}

func (s *Store) FindOne(ctx context.Context, collection, keyField string, key document.Value) (document.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.indexOf(collection, keyField, key); i >= 0 {
		return s.cols[collection][i].Clone(), true, nil
	}
	return nil, false, nil
}

func (s *Store) InsertOne(ctx context.Context, collection, keyField string, rec document.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if key, ok := rec[keyField]; ok && s.indexOf(collection, keyField, key) >= 0 {
		return fmt.Errorf("memory: %s %s=%s: %w", collection, keyField, document.KeyString(key), syncerr.ErrDuplicateKey)
	}
	s.cols[collection] = append(s.cols[collection], rec.Without(source.StoreIDField))
	return nil
}

func (s *Store) UpdateOne(ctx context.Context, collection, keyField string, key document.Value, set document.Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(collection, keyField, key)
	if i < 0 {
		return false, nil
	}
	s.cols[collection][i] = s.cols[collection][i].Merge(set)
	return true, nil
}

func (s *Store) StampAll(ctx context.Context, collection string, fields document.Record) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.cols[collection]
	for i := range docs {
		docs[i] = docs[i].Merge(fields)
	}
	return int64(len(docs)), nil
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Close(context.Context) error { return nil }

// indexOf must be called with s.mu held.
func (s *Store) indexOf(collection, keyField string, key document.Value) int {
	for i, r := range s.cols[collection] {
		if source.KeyMatches(r[keyField], key) {
			return i
		}
	}
	return -1
}
