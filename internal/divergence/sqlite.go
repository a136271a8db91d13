package divergence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/golang/snappy"
	_ "modernc.org/sqlite"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
)

const createJournalSQL = `CREATE TABLE IF NOT EXISTS divergence_journal (
	id          TEXT PRIMARY KEY,
	op          TEXT NOT NULL,
	collection  TEXT NOT NULL,
	doc_key     TEXT NOT NULL,
	payload     BLOB NOT NULL,
	cause       TEXT NOT NULL DEFAULT '',
	recorded_at TEXT NOT NULL,
	resolved_at TEXT
);
CREATE INDEX IF NOT EXISTS divergence_journal_pending ON divergence_journal (resolved_at, recorded_at);`

// SQLiteJournal persists entries in a local SQLite file so they survive the
// process. Payloads are canonical JSON compressed with snappy.
type SQLiteJournal struct {
	db  *sql.DB
	now func() time.Time
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("divergence: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, createJournalSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("divergence: init %s: %w", path, err)
	}
	return &SQLiteJournal{db: db, now: time.Now}, nil
}

func (j *SQLiteJournal) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" || e.RecordedAt.IsZero() {
		fresh := NewEntry(e.Op, e.Collection, e.Key, e.Payload, nil, j.now())
		if e.ID == "" {
			e.ID = fresh.ID
		}
		if e.RecordedAt.IsZero() {
			e.RecordedAt = fresh.RecordedAt
		}
	}
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return Entry{}, fmt.Errorf("divergence: encode %s: %w", e.ID, err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO divergence_journal (id, op, collection, doc_key, payload, cause, recorded_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Op, e.Collection, e.Key, payload, e.Cause, e.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("divergence: append %s: %w", e.ID, err)
	}
	return e, nil
}

func (j *SQLiteJournal) Pending(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, op, collection, doc_key, payload, cause, recorded_at FROM divergence_journal WHERE resolved_at IS NULL`)
	if err != nil {
		return nil, fmt.Errorf("divergence: pending: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			payload []byte
			at      string
		)
		if err := rows.Scan(&e.ID, &e.Op, &e.Collection, &e.Key, &payload, &e.Cause, &at); err != nil {
			return nil, fmt.Errorf("divergence: scan: %w", err)
		}
		if e.RecordedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("divergence: %s recorded_at: %w", e.ID, err)
		}
		if e.Payload, err = decodePayload(payload); err != nil {
			return nil, fmt.Errorf("divergence: %s payload: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("divergence: pending: %w", err)
	}
	sortEntries(out)
	return out, nil
}

func (j *SQLiteJournal) Resolve(ctx context.Context, id string) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE divergence_journal SET resolved_at = ? WHERE id = ? AND resolved_at IS NULL`,
		j.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("divergence: resolve %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("divergence: no pending entry %s", id)
	}
	return nil
}

func (j *SQLiteJournal) Close() error { return j.db.Close() }

func encodePayload(rec document.Record) ([]byte, error) {
	b, err := document.MarshalCanonical(document.Object(rec))
	if err != nil {
		return nil, err
	}
	return snappy.Encode(nil, b), nil
}

func decodePayload(b []byte) (document.Record, error) {
	plain, err := snappy.Decode(nil, b)
	if err != nil {
		return nil, err
	}
	return document.ParseJSON(plain)
}
