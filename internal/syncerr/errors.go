// Package syncerr defines the error kinds surfaced by the sync pipeline.
//
// Callers match kinds with errors.Is (sentinels) or errors.As (struct errors).
// Every layer wraps with fmt.Errorf("<op>: %w", err) so the kind survives.
package syncerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSourceUnavailable means the document store could not be reached.
	// Fatal for the run.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSinkUnavailable means the relational sink could not be reached.
	// Fatal for the current stage; previously committed batches stand.
	ErrSinkUnavailable = errors.New("sink unavailable")

	// ErrDuplicateKey reports an insert for a business key that already exists.
	// The insert path treats it as a no-op, not a failure.
	ErrDuplicateKey = errors.New("already exists")

	// ErrNotFound reports an update for a business key that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDimensionConflict marks a lost get-or-create race. It is resolved by
	// re-fetching the winner's key and is never returned to callers.
	ErrDimensionConflict = errors.New("dimension conflict")

	// ErrDivergence marks a write that reached one store but not the other.
	ErrDivergence = errors.New("stores diverged")
)

// SourceUnavailable wraps err so errors.Is(err, ErrSourceUnavailable) holds.
func SourceUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSourceUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
}

// SinkUnavailable wraps err so errors.Is(err, ErrSinkUnavailable) holds.
func SinkUnavailable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrSinkUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrSinkUnavailable, err)
}

// LoadBatchFailed reports that one batch of a table load could not be written.
//
// BatchIndex is 1-based. Committed lists the 1-based indices of batches that
// were committed before the load stopped. Keys holds the business keys of the
// failed batch and Skipped those of every record left unwritten, when the
// loader was told which field carries them.
type LoadBatchFailed struct {
	Table      string
	BatchIndex int
	Committed  []int
	Keys       []string
	Skipped    []string
	Cause      error
}

func (e *LoadBatchFailed) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "load %s: batch %d failed", e.Table, e.BatchIndex)
	if len(e.Committed) > 0 {
		fmt.Fprintf(&b, " (committed batches %v)", e.Committed)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadBatchFailed) Unwrap() error { return e.Cause }

// Divergence reports a dual write that succeeded in the document store and
// failed in the relational sink. The two stores disagree until the journaled
// entry is replayed.
type Divergence struct {
	Op         string // "insert" | "update"
	Collection string
	Key        string
	JournalID  string
	Cause      error
}

func (e *Divergence) Error() string {
	msg := fmt.Sprintf("%s %s key=%s: document store written, sink failed", e.Op, e.Collection, e.Key)
	if e.JournalID != "" {
		msg += " (journal " + e.JournalID + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Divergence) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, ErrDivergence) match any *Divergence.
func (e *Divergence) Is(target error) bool { return target == ErrDivergence }
