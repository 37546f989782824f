package audit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMissingActor is returned when a tracked mutation arrives without the
// acting identity. It is a programming error in the caller.
var ErrMissingActor = errors.New("audit: actor id is required for tracked mutations")

// Entry is one immutable history row.
type Entry struct {
	EntityID  int64
	Field     string
	OldValue  string
	NewValue  string
	ActorID   int64
	CreatedAt time.Time
}

// HistoryWriter persists entries inside the caller's transaction.
type HistoryWriter interface {
	InsertHistory(ctx context.Context, entries []Entry) error
}

// Recorder turns before/after snapshots into history entries.
type Recorder struct {
	entity  string
	table   FieldTable
	skip    []string
	now     func() time.Time
	observe func(entity string, rows int)
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSkippedFields excludes keys such as last-modified timestamps from diffing.
func WithSkippedFields(keys ...string) RecorderOption {
	return func(r *Recorder) { r.skip = append(r.skip, keys...) }
}

// WithRecorderClock overrides time source (useful for tests).
func WithRecorderClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithObserver reports the number of rows written per Record call.
func WithObserver(fn func(entity string, rows int)) RecorderOption {
	return func(r *Recorder) { r.observe = fn }
}

// NewRecorder builds a recorder for one entity type.
func NewRecorder(entity string, table FieldTable, opts ...RecorderOption) *Recorder {
	r := &Recorder{entity: entity, table: table, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequireActor fails fast before a transaction is opened.
func RequireActor(actorID int64) error {
	if actorID <= 0 {
		return ErrMissingActor
	}
	return nil
}

// Record diffs before against after and writes one entry per changed field
// through w. All entries share one timestamp. An error from w must abort the
// caller's transaction.
func (r *Recorder) Record(ctx context.Context, w HistoryWriter, entityID int64, before, after Snapshot, actorID int64) ([]Entry, error) {
	if err := RequireActor(actorID); err != nil {
		return nil, err
	}
	changes := Diff(before, after, r.table, r.skip...)
	if len(changes) == 0 {
		return nil, nil
	}
	now := r.now().UTC()
	entries := make([]Entry, len(changes))
	for i, c := range changes {
		entries[i] = Entry{
			EntityID:  entityID,
			Field:     c.Label,
			OldValue:  c.OldValue,
			NewValue:  c.NewValue,
			ActorID:   actorID,
			CreatedAt: now,
		}
	}
	if err := w.InsertHistory(ctx, entries); err != nil {
		return nil, fmt.Errorf("write %s history: %w", r.entity, err)
	}
	if r.observe != nil {
		r.observe(r.entity, len(entries))
	}
	return entries, nil
}
