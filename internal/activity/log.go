// Package activity keeps a bounded log of recent activity in the store, so the
// operator surfaces can show what the engine did last.
package activity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hpungsan/spr/internal/db"
)

// Key is the store key of the log.
const Key = "logs"

// Entry is one log line.
type Entry struct {
	ID      string         `json:"id"`
	TS      time.Time      `json:"ts"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Extra   map[string]any `json:"extra"`
}

// NewEntry returns an entry stamped with a fresh id.
func NewEntry(ts time.Time, level, message string, extra map[string]any) Entry {
	return Entry{ID: uuid.NewString(), TS: ts, Level: level, Message: message, Extra: extra}
}

// Log is the bounded activity log.
type Log struct {
	store db.Store
	max   int
}

// NewLog returns a log over store keeping at most max entries.
func NewLog(store db.Store, max int) *Log {
	return &Log{store: store, max: max}
}

// Read returns all entries through r, oldest first.
func Read(ctx context.Context, r db.Reader) ([]Entry, error) {
	values, err := r.Get(ctx, Key)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if _, err := db.Decode(values, Key, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Append adds entries and drops the oldest past the cap.
func (l *Log) Append(ctx context.Context, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}
	return l.store.Update(ctx, func(r db.Reader) (db.Patch, error) {
		existing, err := Read(ctx, r)
		if err != nil {
			// A corrupt log is replaced rather than blocking new entries
			existing = nil
		}
		all := append(existing, entries...)
		if l.max > 0 && len(all) > l.max {
			all = all[len(all)-l.max:]
		}
		return db.Patch{Key: all}, nil
	})
}

// List returns all entries, oldest first.
func (l *Log) List(ctx context.Context) ([]Entry, error) {
	return Read(ctx, l.store)
}

// Last returns the newest entry or nil.
func (l *Log) Last(ctx context.Context) (*Entry, error) {
	entries, err := l.List(ctx)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	e := entries[len(entries)-1]
	return &e, nil
}
