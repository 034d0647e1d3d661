// Package journal is the durable local store of captured prompts.
//
// Each event lives under its own key (prompt:<localId>) and a single index key
// lists local ids oldest first. Every mutation is written through immediately.
package journal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hpungsan/spr/internal/db"
	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/prompt"
)

const (
	// IndexKey holds the ordered list of local ids, oldest first.
	IndexKey = "prompts:index"

	eventKeyPrefix = "prompt:"
)

// EventKey returns the store key for a local id.
func EventKey(localID string) string {
	return eventKeyPrefix + localID
}

// Journal is the local event store.
type Journal struct {
	store db.Store

	// max is the retention cap; 0 disables eviction
	max int
}

// New returns a Journal over store that keeps at most max events.
func New(store db.Store, max int) *Journal {
	return &Journal{store: store, max: max}
}

// Max returns the retention cap.
func (j *Journal) Max() int {
	return j.max
}

// View reads the journal through r. Use it inside db.Store.Update.
func (j *Journal) View(r db.Reader) View {
	return NewView(r)
}

// NewView returns a read-only journal handle over r.
func NewView(r db.Reader) View {
	return View{r: r}
}

// View is a read-only handle bound to a reader.
type View struct {
	r db.Reader
}

// Index returns all local ids, oldest first.
func (v View) Index(ctx context.Context) ([]string, error) {
	values, err := v.r.Get(ctx, IndexKey)
	if err != nil {
		return nil, err
	}
	var ids []string
	if _, err := db.Decode(values, IndexKey, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Get returns one event or a NOT_FOUND error.
func (v View) Get(ctx context.Context, localID string) (*prompt.Event, error) {
	events, err := v.GetMany(ctx, []string{localID})
	if err != nil {
		return nil, err
	}
	ev, ok := events[localID]
	if !ok {
		return nil, errors.NewNotFound(localID)
	}
	return ev, nil
}

// GetMany returns the events that exist among ids, keyed by local id.
func (v View) GetMany(ctx context.Context, ids []string) (map[string]*prompt.Event, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = EventKey(id)
	}
	values, err := v.r.Get(ctx, keys...)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*prompt.Event, len(values))
	for _, id := range ids {
		raw, ok := values[EventKey(id)]
		if !ok {
			continue
		}
		var ev prompt.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, errors.NewStorage(fmt.Errorf("decode %s: %w", EventKey(id), err))
		}
		out[id] = &ev
	}
	return out, nil
}

// Last returns the most recently appended event, or nil when the journal is empty.
func (v View) Last(ctx context.Context) (*prompt.Event, error) {
	ids, err := v.Index(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(ids) - 1; i >= 0; i-- {
		events, err := v.GetMany(ctx, ids[i:i+1])
		if err != nil {
			return nil, err
		}
		if ev, ok := events[ids[i]]; ok {
			return ev, nil
		}
	}
	return nil, nil
}

// ListTail returns up to n newest events, newest first.
func (v View) ListTail(ctx context.Context, n int) ([]*prompt.Event, error) {
	ids, err := v.Index(ctx)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return []*prompt.Event{}, nil
	}
	start := max(len(ids)-n, 0)
	tail := ids[start:]

	events, err := v.GetMany(ctx, tail)
	if err != nil {
		return nil, err
	}
	out := make([]*prompt.Event, 0, len(tail))
	for i := len(tail) - 1; i >= 0; i-- {
		if ev, ok := events[tail[i]]; ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

// ListByStatus returns events in any of the given statuses, oldest first.
func (v View) ListByStatus(ctx context.Context, statuses ...prompt.Status) ([]*prompt.Event, error) {
	ids, err := v.Index(ctx)
	if err != nil {
		return nil, err
	}
	events, err := v.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	want := make(map[prompt.Status]bool, len(statuses))
	for _, s := range statuses {
		want[s] = true
	}
	out := []*prompt.Event{}
	for _, id := range ids {
		if ev, ok := events[id]; ok && want[ev.SyncStatus] {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Count returns the number of indexed events.
func (v View) Count(ctx context.Context) (int, error) {
	ids, err := v.Index(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Get returns one event or a NOT_FOUND error.
func (j *Journal) Get(ctx context.Context, localID string) (*prompt.Event, error) {
	return j.View(j.store).Get(ctx, localID)
}

// GetMany returns the events that exist among ids.
func (j *Journal) GetMany(ctx context.Context, ids []string) (map[string]*prompt.Event, error) {
	return j.View(j.store).GetMany(ctx, ids)
}

// Last returns the newest event or nil.
func (j *Journal) Last(ctx context.Context) (*prompt.Event, error) {
	return j.View(j.store).Last(ctx)
}

// ListTail returns up to n newest events, newest first.
func (j *Journal) ListTail(ctx context.Context, n int) ([]*prompt.Event, error) {
	return j.View(j.store).ListTail(ctx, n)
}

// ListByStatus returns events in any of the given statuses, oldest first.
func (j *Journal) ListByStatus(ctx context.Context, statuses ...prompt.Status) ([]*prompt.Event, error) {
	return j.View(j.store).ListByStatus(ctx, statuses...)
}

// Count returns the number of stored events.
func (j *Journal) Count(ctx context.Context) (int, error) {
	return j.View(j.store).Count(ctx)
}
