// Package divergence records dual writes that reached the document store but
// not the relational sink, so an operator can replay them later.
//
// Nothing here runs automatically: entries are appended by the upsert
// controller and replayed only on explicit request.
package divergence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
)

const (
	OpInsert = "insert"
	OpUpdate = "update"
)

// Entry is one unreplicated write. Payload is the full document for an
// insert, or the key plus the set columns for an update.
type Entry struct {
	ID         string
	Op         string
	Collection string
	Key        string
	Payload    document.Record
	Cause      string
	RecordedAt time.Time
}

type Journal interface {
	Append(ctx context.Context, e Entry) (Entry, error)
	Pending(ctx context.Context) ([]Entry, error)
	Resolve(ctx context.Context, id string) error
	Close() error
}

// NewEntry fills ID and RecordedAt.
func NewEntry(op, collection, key string, payload document.Record, cause error, at time.Time) Entry {
	e := Entry{
		ID:         uuid.NewString(),
		Op:         op,
		Collection: collection,
		Key:        key,
		Payload:    payload.Clone(),
		RecordedAt: at,
	}
	if cause != nil {
		e.Cause = cause.Error()
	}
	return e
}

// MemoryJournal keeps entries for the life of the process.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemory() *MemoryJournal {
	return &MemoryJournal{entries: map[string]Entry{}}
}

func (j *MemoryJournal) Append(_ context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	e.Payload = e.Payload.Clone()

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, dup := j.entries[e.ID]; dup {
		return Entry{}, fmt.Errorf("divergence: entry %s already recorded", e.ID)
	}
	j.entries[e.ID] = e
	return e, nil
}

// Pending returns unresolved entries, oldest first.
func (j *MemoryJournal) Pending(context.Context) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, 0, len(j.entries))
	for _, e := range j.entries {
		e.Payload = e.Payload.Clone()
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func (j *MemoryJournal) Resolve(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[id]; !ok {
		return fmt.Errorf("divergence: no pending entry %s", id)
	}
	delete(j.entries, id)
	return nil
}

func (j *MemoryJournal) Close() error { return nil }

func sortEntries(es []Entry) {
	sort.SliceStable(es, func(a, b int) bool {
		if !es[a].RecordedAt.Equal(es[b].RecordedAt) {
			return es[a].RecordedAt.Before(es[b].RecordedAt)
		}
		return es[a].ID < es[b].ID
	})
}
