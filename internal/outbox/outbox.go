// Package outbox is the delivery queue: one entry per captured prompt that
// still needs a delivery attempt.
//
// Queue is an in-memory value. Load it from the store, mutate it, and write
// Patch back in the same db.Store.Update.
package outbox

import (
	"context"
	"time"

	"github.com/hpungsan/spr/internal/db"
	"github.com/hpungsan/spr/internal/errors"
)

// State is the delivery state of a queue entry. Terminal states are never stored;
// entries are removed instead.
type State string

const (
	StatePending State = "pending"
	StateSending State = "sending"
	StateFailed  State = "failed"
)

// Valid reports whether s may be stored in the queue.
func (s State) Valid() bool {
	return s == StatePending || s == StateSending || s == StateFailed
}

// Entry is the queue projection of one event.
type Entry struct {
	LocalID       string     `json:"localId"`
	State         State      `json:"state"`
	Attempts      int        `json:"attempts"`
	NextRetryAt   *time.Time `json:"nextRetryAt"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	LastError     string     `json:"lastError,omitempty"`
	LastRequestID string     `json:"lastRequestId,omitempty"`
}

// Due reports whether e may be selected for delivery at now.
func (e *Entry) Due(now time.Time) bool {
	if e.State != StatePending && e.State != StateFailed {
		return false
	}
	return e.NextRetryAt == nil || !e.NextRetryAt.After(now)
}

// Counts is the number of entries per state.
type Counts struct {
	Pending int `json:"pending"`
	Sending int `json:"sending"`
	Failed  int `json:"failed"`
}

// Queue is an ordered set of entries, oldest first.
type Queue struct {
	policy Policy
	items  []*Entry
}

// New returns an empty queue.
func New(policy Policy) *Queue {
	return &Queue{policy: policy, items: []*Entry{}}
}

// Load reads and migrates the queue through r.
func Load(ctx context.Context, r db.Reader, policy Policy, now time.Time) (*Queue, error) {
	values, err := r.Get(ctx, QueueKey)
	if err != nil {
		return nil, err
	}
	env, err := Migrate(values[QueueKey], now)
	if err != nil {
		return nil, errors.NewStorage(err)
	}
	return &Queue{policy: policy, items: env.Items}, nil
}

// Patch returns the write that persists the queue.
func (q *Queue) Patch() db.Patch {
	return db.Patch{QueueKey: &Envelope{Version: Version, Items: q.items}}
}

// Policy returns the queue policy.
func (q *Queue) Policy() Policy {
	return q.policy
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	return len(q.items)
}

// Entries returns a copy of all entries in insertion order.
func (q *Queue) Entries() []Entry {
	out := make([]Entry, len(q.items))
	for i, e := range q.items {
		out[i] = *e
	}
	return out
}

// Get returns a copy of the entry for localID.
func (q *Queue) Get(localID string) (Entry, bool) {
	if e := q.find(localID); e != nil {
		return *e, true
	}
	return Entry{}, false
}

func (q *Queue) find(localID string) *Entry {
	for _, e := range q.items {
		if e.LocalID == localID {
			return e
		}
	}
	return nil
}

// Enqueue adds a pending entry for localID. It is a no-op if one already exists
// and reports whether an entry was added. attempts carries over an event's
// attempt count when a dead prompt is queued again.
func (q *Queue) Enqueue(localID string, attempts int, now time.Time) bool {
	if q.find(localID) != nil {
		return false
	}
	q.items = append(q.items, &Entry{
		LocalID:   localID,
		State:     StatePending,
		Attempts:  attempts,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return true
}

// DueBatch returns up to max due entries in insertion order. max <= 0 uses the policy.
func (q *Queue) DueBatch(max int, now time.Time) []Entry {
	if max <= 0 {
		max = q.policy.MaxBatch
	}
	out := []Entry{}
	for _, e := range q.items {
		if len(out) >= max {
			break
		}
		if e.Due(now) {
			out = append(out, *e)
		}
	}
	return out
}

// MarkSending flags the given entries as in flight.
func (q *Queue) MarkSending(localIDs []string, now time.Time) {
	for _, id := range localIDs {
		if e := q.find(id); e != nil {
			e.State = StateSending
			e.UpdatedAt = now
		}
	}
}

// MarkDelivered removes the entry for localID and reports whether it existed.
func (q *Queue) MarkDelivered(localID string) bool {
	return q.Remove(localID)
}

// Remove drops the entry for localID and reports whether it existed.
func (q *Queue) Remove(localID string) bool {
	for i, e := range q.items {
		if e.LocalID == localID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAll drops every listed entry.
func (q *Queue) RemoveAll(localIDs []string) {
	if len(localIDs) == 0 {
		return
	}
	drop := make(map[string]bool, len(localIDs))
	for _, id := range localIDs {
		drop[id] = true
	}
	kept := q.items[:0]
	for _, e := range q.items {
		if !drop[e.LocalID] {
			kept = append(kept, e)
		}
	}
	q.items = kept
}

// FailOutcome is the result of recording a failed attempt.
type FailOutcome struct {
	// Attempts is the attempt count after this failure
	Attempts int
	// Dead is true when the entry was removed after reaching the attempt limit
	Dead bool
	// NextRetryAt is set when the entry stays queued
	NextRetryAt *time.Time
}

// MarkFailed records a failed attempt. The delay is computed from the attempt
// count before this failure. Once attempts reach the policy limit the entry is
// removed and the outcome is Dead. found is false if no entry exists.
func (q *Queue) MarkFailed(localID, errMsg, requestID string, now time.Time) (FailOutcome, bool) {
	e := q.find(localID)
	if e == nil {
		return FailOutcome{}, false
	}

	delay := q.policy.Backoff(e.Attempts)
	e.Attempts++
	if q.policy.Exhausted(e.Attempts) {
		q.Remove(localID)
		return FailOutcome{Attempts: e.Attempts, Dead: true}, true
	}

	next := now.Add(delay)
	e.State = StateFailed
	e.NextRetryAt = &next
	e.LastError = errMsg
	e.LastRequestID = requestID
	e.UpdatedAt = now
	return FailOutcome{Attempts: e.Attempts, NextRetryAt: &next}, true
}

// ReconcileStaleSending resets entries stuck in sending for longer than the
// policy's staleness window to pending. Attempt counts are unchanged. It returns
// the reset local ids.
func (q *Queue) ReconcileStaleSending(now time.Time) []string {
	var reset []string
	for _, e := range q.items {
		if e.State != StateSending {
			continue
		}
		if now.Sub(e.UpdatedAt) > q.policy.SendingStale {
			e.State = StatePending
			e.UpdatedAt = now
			reset = append(reset, e.LocalID)
		}
	}
	return reset
}

// RetryFailed sets every failed entry back to pending and clears its retry marker
// and error. It returns the reset local ids.
func (q *Queue) RetryFailed(now time.Time) []string {
	var reset []string
	for _, e := range q.items {
		if e.State != StateFailed {
			continue
		}
		e.State = StatePending
		e.NextRetryAt = nil
		e.LastError = ""
		e.UpdatedAt = now
		reset = append(reset, e.LocalID)
	}
	return reset
}

// Counts returns the number of entries per state.
func (q *Queue) Counts() Counts {
	var c Counts
	for _, e := range q.items {
		switch e.State {
		case StatePending:
			c.Pending++
		case StateSending:
			c.Sending++
		case StateFailed:
			c.Failed++
		}
	}
	return c
}

// LastRequestID returns the most recent request id recorded on any entry.
func (q *Queue) LastRequestID() string {
	var (
		id string
		at time.Time
	)
	for _, e := range q.items {
		if e.LastRequestID != "" && !e.UpdatedAt.Before(at) {
			id, at = e.LastRequestID, e.UpdatedAt
		}
	}
	return id
}
