package journal

import (
	"context"
	"time"

	"github.com/hpungsan/spr/internal/db"
	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/prompt"
)

// StatusPatch describes a delivery status change. Nil fields are left unchanged.
type StatusPatch struct {
	Status   *prompt.Status
	Attempts *int

	// NextRetryAt set to a zero time clears the marker
	NextRetryAt *time.Time

	// Error set to "" clears the last error
	Error *string
}

// PutPatch returns a patch that stores events as they are. The index is not touched.
func PutPatch(events ...*prompt.Event) db.Patch {
	p := db.Patch{}
	for _, ev := range events {
		p[EventKey(ev.LocalID)] = ev
	}
	return p
}

// AppendPatch returns the patch that adds ev as the newest event and evicts the
// oldest events past the retention cap, whatever their status. It also returns the
// evicted local ids so callers can drop related state in the same write.
func (j *Journal) AppendPatch(ctx context.Context, r db.Reader, ev *prompt.Event) (db.Patch, []string, error) {
	if ev.LocalID == "" {
		return nil, nil, errors.NewInvalidRequest("local id is required")
	}
	if !ev.SyncStatus.Valid() {
		return nil, nil, errors.NewInvalidRequest("invalid sync status: " + string(ev.SyncStatus))
	}

	ids, err := j.View(r).Index(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range ids {
		if id == ev.LocalID {
			return nil, nil, errors.NewInvalidRequest("duplicate local id: " + ev.LocalID)
		}
	}
	ids = append(ids, ev.LocalID)

	kept, evicted := splitOverCapacity(ids, j.max)
	patch := evictionPatch(kept, evicted)
	patch[EventKey(ev.LocalID)] = ev
	return patch, evicted, nil
}

// EvictPatch returns the patch that trims the journal to max events, oldest first.
// It returns a nil patch when nothing is over capacity.
func (j *Journal) EvictPatch(ctx context.Context, r db.Reader, max int) (db.Patch, []string, error) {
	ids, err := j.View(r).Index(ctx)
	if err != nil {
		return nil, nil, err
	}
	kept, evicted := splitOverCapacity(ids, max)
	if len(evicted) == 0 {
		return nil, nil, nil
	}
	return evictionPatch(kept, evicted), evicted, nil
}

func splitOverCapacity(ids []string, max int) (kept, evicted []string) {
	if max <= 0 || len(ids) <= max {
		return ids, nil
	}
	cut := len(ids) - max
	return ids[cut:], ids[:cut]
}

func evictionPatch(kept, evicted []string) db.Patch {
	p := db.Patch{IndexKey: kept}
	for _, id := range evicted {
		p[EventKey(id)] = nil
	}
	return p
}

// ApplyStatus applies sp to ev in place. Attempt counts never decrease.
func ApplyStatus(ev *prompt.Event, sp StatusPatch) error {
	if sp.Status != nil {
		if !sp.Status.Valid() {
			return errors.NewInvalidRequest("invalid sync status: " + string(*sp.Status))
		}
		ev.SyncStatus = *sp.Status
	}
	if sp.Attempts != nil {
		if *sp.Attempts < ev.SyncAttempts {
			return errors.NewInvalidRequest("sync attempts cannot decrease")
		}
		ev.SyncAttempts = *sp.Attempts
	}
	if sp.NextRetryAt != nil {
		if sp.NextRetryAt.IsZero() {
			ev.NextRetryAt = nil
		} else {
			t := *sp.NextRetryAt
			ev.NextRetryAt = &t
		}
	}
	if sp.Error != nil {
		ev.SyncError = *sp.Error
	}
	return nil
}

// Append stores ev as the newest event and evicts past the retention cap.
// with, if non-nil, receives the evicted ids and returns extra writes that are
// committed in the same atomic Set.
func (j *Journal) Append(ctx context.Context, ev *prompt.Event, with func(evicted []string) db.Patch) ([]string, error) {
	var evicted []string
	err := j.store.Update(ctx, func(r db.Reader) (db.Patch, error) {
		patch, ev2, err := j.AppendPatch(ctx, r, ev)
		if err != nil {
			return nil, err
		}
		evicted = ev2
		if with != nil {
			patch.Merge(with(evicted))
		}
		return patch, nil
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

// EvictOverCapacity trims the journal to max events, oldest first, regardless of status.
func (j *Journal) EvictOverCapacity(ctx context.Context, max int, with func(evicted []string) db.Patch) ([]string, error) {
	var evicted []string
	err := j.store.Update(ctx, func(r db.Reader) (db.Patch, error) {
		patch, ev, err := j.EvictPatch(ctx, r, max)
		if err != nil || patch == nil {
			return nil, err
		}
		evicted = ev
		if with != nil {
			patch.Merge(with(evicted))
		}
		return patch, nil
	})
	if err != nil {
		return nil, err
	}
	return evicted, nil
}

// UpdateStatus applies sp to one event and returns the updated copy.
// with is written in the same atomic Set.
func (j *Journal) UpdateStatus(ctx context.Context, localID string, sp StatusPatch, with db.Patch) (*prompt.Event, error) {
	var updated *prompt.Event
	err := j.store.Update(ctx, func(r db.Reader) (db.Patch, error) {
		ev, err := j.View(r).Get(ctx, localID)
		if err != nil {
			return nil, err
		}
		if err := ApplyStatus(ev, sp); err != nil {
			return nil, err
		}
		updated = ev
		return PutPatch(ev).Merge(with), nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
