// Package jsonfile serves a directory of collection exports, one
// <collection>.json file per collection, as a DocumentStore.
//
// Files are streamed into memory on first use. Writes stay in memory until
// Save (or Close when WriteBack is set) rewrites the touched files.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source/memory"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/syncerr"
)

func init() {
	source.Register("jsonfile", func(_ context.Context, cfg source.Config) (source.DocumentStore, error) {
		return Open(cfg.Dir, cfg.WriteBack)
	})
}

type Store struct {
	dir       string
	writeBack bool
	mem       *memory.Store

	mu     sync.Mutex
	loaded map[string]bool
	dirty  map[string]bool
}

var _ source.DocumentStore = (*Store)(nil)

// Open checks dir and returns a store over it. A missing directory is
// reported as source unavailable.
func Open(dir string, writeBack bool) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("jsonfile: dir is required")
	}
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, syncerr.SourceUnavailable(fmt.Errorf("jsonfile: %w", err))
	}
	if !fi.IsDir() {
		return nil, syncerr.SourceUnavailable(fmt.Errorf("jsonfile: %s is not a directory", dir))
	}
	return &Store{
		dir:       dir,
		writeBack: writeBack,
		mem:       memory.New(),
		loaded:    map[string]bool{},
		dirty:     map[string]bool{},
	}, nil
}

func (s *Store) path(collection string) string {
	return filepath.Join(s.dir, collection+".json")
}

// load streams a collection file into memory once. A collection without a
// file is empty.
func (s *Store) load(ctx context.Context, collection string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded[collection] {
		return nil
	}

	f, err := os.Open(s.path(collection))
	if errors.Is(err, fs.ErrNotExist) {
		s.loaded[collection] = true
		return nil
	}
	if err != nil {
		return syncerr.SourceUnavailable(fmt.Errorf("jsonfile: open %s: %w", collection, err))
	}
	defer f.Close()

	var recs []document.Record
	if _, err := StreamDocuments(ctx, f, func(r document.Record) error {
		recs = append(recs, r)
		return nil
	}); err != nil {
		return fmt.Errorf("jsonfile: %s: %w", collection, err)
	}
	s.mem.Seed(collection, recs...)
	s.loaded[collection] = true
	return nil
}

func (s *Store) markDirty(collection string) {
	s.mu.Lock()
	s.dirty[collection] = true
	s.mu.Unlock()
}

func (s *Store) Read(ctx context.Context, collection string) ([]document.Record, error) {
	if err := s.load(ctx, collection); err != nil {
		return nil, err
	}
	return s.mem.Read(ctx, collection)
}

func (s *Store) FindOne(ctx context.Context, collection, keyField string, key document.Value) (document.Record, bool, error) {
	if err := s.load(ctx, collection); err != nil {
		return nil, false, err
	}
	return s.mem.FindOne(ctx, collection, keyField, key)
}

func (s *Store) InsertOne(ctx context.Context, collection, keyField string, rec document.Record) error {
	if err := s.load(ctx, collection); err != nil {
		return err
	}
	if err := s.mem.InsertOne(ctx, collection, keyField, rec); err != nil {
		return err
	}
	s.markDirty(collection)
	return nil
}

func (s *Store) UpdateOne(ctx context.Context, collection, keyField string, key document.Value, set document.Record) (bool, error) {
	if err := s.load(ctx, collection); err != nil {
		return false, err
	}
	found, err := s.mem.UpdateOne(ctx, collection, keyField, key, set)
	if found {
		s.markDirty(collection)
	}
	return found, err
}

func (s *Store) StampAll(ctx context.Context, collection string, fields document.Record) (int64, error) {
	if err := s.load(ctx, collection); err != nil {
		return 0, err
	}
	n, err := s.mem.StampAll(ctx, collection, fields)
	if n > 0 {
		s.markDirty(collection)
	}
	return n, err
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := os.Stat(s.dir); err != nil {
		return syncerr.SourceUnavailable(fmt.Errorf("jsonfile: %w", err))
	}
	return nil
}

// Save rewrites every collection file touched since the last Save as a
// root JSON array. Files are replaced atomically via rename.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	names := make([]string, 0, len(s.dirty))
	for c := range s.dirty {
		names = append(names, c)
	}
	s.mu.Unlock()
	sort.Strings(names)

	for _, c := range names {
		recs, err := s.mem.Read(ctx, c)
		if err != nil {
			return err
		}
		if err := writeCollection(s.path(c), recs); err != nil {
			return fmt.Errorf("jsonfile: save %s: %w", c, err)
		}
		s.mu.Lock()
		delete(s.dirty, c)
		s.mu.Unlock()
	}
	return nil
}

func (s *Store) Close(ctx context.Context) error {
	if s.writeBack {
		return s.Save(ctx)
	}
	return nil
}

func writeCollection(path string, recs []document.Record) error {
	var buf bytes.Buffer
	buf.WriteString("[\n")
	for i, r := range recs {
		b, err := document.MarshalCanonical(document.Object(r))
		if err != nil {
			return err
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, b, "  ", "  "); err != nil {
			return err
		}
		buf.WriteString("  ")
		buf.Write(pretty.Bytes())
		if i < len(recs)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("]\n")

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
