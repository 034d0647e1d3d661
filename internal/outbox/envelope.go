package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

const (
	// QueueKey is the store key of the queue envelope.
	QueueKey = "syncQueue"

	// Version is the current envelope version.
	Version = 2
)

// Envelope is the persisted form of the queue.
type Envelope struct {
	Version int      `json:"version"`
	Items   []*Entry `json:"items"`
}

// Migrate converts any stored queue shape into the current envelope. It is pure:
// now stamps entries that carry no timestamps of their own.
//
// Accepted shapes:
//   - null or missing: empty queue
//   - v1: a JSON array of local id strings
//   - a bare JSON array of entries
//   - an envelope of any version
func Migrate(raw json.RawMessage, now time.Time) (*Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &Envelope{Version: Version, Items: []*Entry{}}, nil
	}

	switch raw[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return nil, fmt.Errorf("decode queue array: %w", err)
		}
		return migrateArray(elems, now)
	case '{':
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, fmt.Errorf("decode queue envelope: %w", err)
		}
		env.Version = Version
		env.Items = sanitize(env.Items, now)
		return &env, nil
	default:
		return nil, fmt.Errorf("unrecognized queue shape")
	}
}

func migrateArray(elems []json.RawMessage, now time.Time) (*Envelope, error) {
	items := make([]*Entry, 0, len(elems))
	for _, el := range elems {
		el = bytes.TrimSpace(el)
		if len(el) == 0 {
			continue
		}
		switch el[0] {
		case '"':
			var id string
			if err := json.Unmarshal(el, &id); err != nil {
				return nil, fmt.Errorf("decode queue id: %w", err)
			}
			items = append(items, &Entry{LocalID: id, State: StatePending})
		case '{':
			var e Entry
			if err := json.Unmarshal(el, &e); err != nil {
				return nil, fmt.Errorf("decode queue entry: %w", err)
			}
			items = append(items, &e)
		}
	}
	return &Envelope{Version: Version, Items: sanitize(items, now)}, nil
}

// sanitize drops entries without an id and duplicates, and fills missing fields.
func sanitize(items []*Entry, now time.Time) []*Entry {
	seen := make(map[string]bool, len(items))
	out := make([]*Entry, 0, len(items))
	for _, e := range items {
		if e == nil || e.LocalID == "" || seen[e.LocalID] {
			continue
		}
		seen[e.LocalID] = true
		if !e.State.Valid() {
			e.State = StatePending
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = e.CreatedAt
		}
		if e.Attempts < 0 {
			e.Attempts = 0
		}
		out = append(out, e)
	}
	return out
}
