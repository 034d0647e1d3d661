// Package syncer runs sync cycles: reconcile stale in-flight entries, pick the
// due batch, persist it as sending, deliver it one by one and record outcomes.
package syncer

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hpungsan/spr/internal/db"
	"github.com/hpungsan/spr/internal/delivery"
	"github.com/hpungsan/spr/internal/journal"
	"github.com/hpungsan/spr/internal/outbox"
	"github.com/hpungsan/spr/internal/prompt"
	"github.com/hpungsan/spr/internal/settings"
	"github.com/hpungsan/spr/internal/status"
)

// Trigger reasons.
const (
	ReasonAlarm       = "alarm"
	ReasonCapture     = "capture"
	ReasonManual      = "manual"
	ReasonRetryFailed = "retry_failed"
	ReasonStartup     = "startup"
)

// Skip reasons.
const (
	SkipBusy          = "busy"
	SkipAutoSyncOff   = "auto_sync_off"
	SkipNotConfigured = "not_configured"
	SkipIdle          = "idle"
)

// Result describes one RunCycle call.
type Result struct {
	status.CycleResult

	Skipped    bool   `json:"skipped"`
	SkipReason string `json:"skipReason,omitempty"`

	// Recovered lists entries reset from a stale sending state
	Recovered []string `json:"recovered,omitempty"`
}

// Options configures a Syncer. Zero values get defaults.
type Options struct {
	Policy   outbox.Policy
	Reporter *status.Reporter
	Logger   *slog.Logger
	Now      func() time.Time

	// BaseContext is used by Trigger; cancel it to stop background cycles
	BaseContext context.Context
}

// Syncer owns the single-flight guard around sync cycles.
type Syncer struct {
	store    db.Store
	journal  *journal.Journal
	client   delivery.Client
	reporter *status.Reporter
	policy   outbox.Policy
	logger   *slog.Logger
	now      func() time.Time
	baseCtx  context.Context

	running atomic.Bool
	wg      sync.WaitGroup
}

// New returns a Syncer.
func New(store db.Store, j *journal.Journal, client delivery.Client, opts Options) *Syncer {
	if opts.Policy == (outbox.Policy{}) {
		opts.Policy = outbox.DefaultPolicy()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BaseContext == nil {
		opts.BaseContext = context.Background()
	}
	return &Syncer{
		store:    store,
		journal:  j,
		client:   client,
		reporter: opts.Reporter,
		policy:   opts.Policy,
		logger:   opts.Logger,
		now:      opts.Now,
		baseCtx:  opts.BaseContext,
	}
}

// Policy returns the queue policy.
func (s *Syncer) Policy() outbox.Policy {
	return s.policy
}

// Running reports whether a cycle is in progress.
func (s *Syncer) Running() bool {
	return s.running.Load()
}

// Trigger starts a cycle in the background unless one is running.
// It reports whether a cycle was started.
func (s *Syncer) Trigger(reason string) bool {
	if s.running.Load() {
		s.logger.Debug("sync trigger dropped", "reason", reason)
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.RunCycle(s.baseCtx, reason); err != nil {
			s.logger.Error("Sync cycle error", "reason", reason, "err", err)
		}
	}()
	return true
}

// Wait blocks until every triggered cycle has finished.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// batchItem is one selected delivery.
type batchItem struct {
	event *prompt.Event
}

// RunCycle runs one sync cycle. A cycle already in progress makes this call a
// no-op with SkipReason "busy". Per-item delivery failures never abort the
// batch; a storage error ends the cycle and is returned.
func (s *Syncer) RunCycle(ctx context.Context, reason string) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Result{Skipped: true, SkipReason: SkipBusy}, nil
	}
	defer s.running.Store(false)

	res := Result{CycleResult: status.CycleResult{Reason: reason}}

	cfg, batch, recovered, skip, err := s.prepare(ctx)
	if err != nil {
		return res, err
	}
	res.Recovered = recovered
	if len(recovered) > 0 {
		s.logger.Warn("Reset stale sending items", "count", len(recovered))
	}
	if skip != "" {
		res.Skipped = true
		res.SkipReason = skip
		return res, nil
	}

	ep := cfg.Endpoint()
	s.logger.Info("Sync cycle start", "reason", reason, "batch", len(batch), "serverUrl", ep.BaseURL)

	for _, item := range batch {
		if ctx.Err() != nil {
			break
		}
		out := s.client.Deliver(ctx, ep, item.event)
		if !out.OK && ctx.Err() != nil {
			// Interrupted mid-request: leave it sending for the next reconciliation
			break
		}
		res.Attempted++

		dead, err := s.applyOutcome(ctx, item.event.LocalID, out)
		if err != nil {
			return res, err
		}
		if out.RequestID != "" {
			res.LastRequestID = out.RequestID
		}
		switch {
		case out.OK:
			res.Succeeded++
		case dead:
			res.Dead++
		default:
			res.Failed++
		}
	}

	if err := ctx.Err(); err != nil {
		s.logger.Warn("Sync cycle interrupted", "reason", reason, "attempted", res.Attempted)
		return res, err
	}

	if err := s.store.Set(ctx, status.SummaryPatch(res.CycleResult, s.now())); err != nil {
		return res, err
	}
	s.logger.Info("Sync cycle done", "reason", reason, "attempted", res.Attempted,
		"succeeded", res.Succeeded, "failed", res.Failed, "dead", res.Dead)

	if s.reporter != nil {
		s.reporter.Push(ctx)
	}
	return res, nil
}

// prepare reconciles stale entries, selects the due batch and persists it as
// sending, all in one atomic write.
func (s *Syncer) prepare(ctx context.Context) (cfg *settings.Settings, batch []batchItem, recovered []string, skip string, err error) {
	now := s.now()
	err = s.store.Update(ctx, func(r db.Reader) (db.Patch, error) {
		cfg, err = settings.Read(ctx, r)
		if err != nil {
			return nil, err
		}
		if !cfg.AutoSync {
			skip = SkipAutoSyncOff
			return nil, nil
		}
		if !cfg.Endpoint().Configured() {
			skip = SkipNotConfigured
			return nil, nil
		}

		q, err := outbox.Load(ctx, r, s.policy, now)
		if err != nil {
			return nil, err
		}
		view := s.journal.View(r)
		patch := db.Patch{}
		changed := false

		recovered = q.ReconcileStaleSending(now)
		if len(recovered) > 0 {
			changed = true
			stale, err := view.GetMany(ctx, recovered)
			if err != nil {
				return nil, err
			}
			pending := prompt.StatusPending
			for _, ev := range stale {
				if ev.SyncStatus == prompt.StatusSending {
					_ = journal.ApplyStatus(ev, journal.StatusPatch{Status: &pending})
					patch.Merge(journal.PutPatch(ev))
				}
			}
		}

		for len(batch) < s.policy.MaxBatch {
			due := q.DueBatch(s.policy.MaxBatch-len(batch), now)
			if len(due) == 0 {
				break
			}
			ids := make([]string, len(due))
			for i, e := range due {
				ids[i] = e.LocalID
			}
			events, err := view.GetMany(ctx, ids)
			if err != nil {
				return nil, err
			}

			var selected []string
			for _, id := range ids {
				ev, ok := events[id]
				if !ok || ev.SyncStatus.Terminal() {
					// Evicted or already settled: nothing left to deliver
					q.Remove(id)
					changed = true
					continue
				}
				selected = append(selected, id)
				batch = append(batch, batchItem{event: ev})
			}
			q.MarkSending(selected, now)
		}

		if len(batch) == 0 {
			skip = SkipIdle
			if !changed {
				return nil, nil
			}
			return patch.Merge(q.Patch()), nil
		}

		sending := prompt.StatusSending
		for _, item := range batch {
			_ = journal.ApplyStatus(item.event, journal.StatusPatch{Status: &sending})
			patch.Merge(journal.PutPatch(item.event))
		}
		return patch.Merge(q.Patch()), nil
	})
	if err != nil {
		return nil, nil, nil, "", err
	}
	return cfg, batch, recovered, skip, nil
}

// applyOutcome records one delivery result on the queue entry and the event.
// It reports whether the event was dead-lettered.
func (s *Syncer) applyOutcome(ctx context.Context, localID string, out delivery.Result) (bool, error) {
	now := s.now()
	dead := false
	var attempts int
	err := s.store.Update(ctx, func(r db.Reader) (db.Patch, error) {
		q, err := outbox.Load(ctx, r, s.policy, now)
		if err != nil {
			return nil, err
		}
		events, err := s.journal.View(r).GetMany(ctx, []string{localID})
		if err != nil {
			return nil, err
		}
		ev, ok := events[localID]
		if !ok {
			// Evicted while in flight
			q.Remove(localID)
			return q.Patch(), nil
		}

		if out.OK {
			q.MarkDelivered(localID)
			synced := prompt.StatusSynced
			var zero time.Time
			empty := ""
			_ = journal.ApplyStatus(ev, journal.StatusPatch{Status: &synced, NextRetryAt: &zero, Error: &empty})
			return journal.PutPatch(ev).Merge(q.Patch()), nil
		}

		outcome, found := q.MarkFailed(localID, out.Error, out.RequestID, now)
		if !found {
			outcome.Attempts = ev.SyncAttempts + 1
			if s.policy.Exhausted(outcome.Attempts) {
				outcome.Dead = true
			} else {
				next := now.Add(s.policy.Backoff(ev.SyncAttempts))
				outcome.NextRetryAt = &next
			}
		}
		attempts = max(outcome.Attempts, ev.SyncAttempts+1)
		dead = outcome.Dead

		sp := journal.StatusPatch{Attempts: &attempts, Error: &out.Error}
		var zero time.Time
		if outcome.Dead {
			st := prompt.StatusDead
			sp.Status = &st
			sp.NextRetryAt = &zero
		} else {
			st := prompt.StatusFailed
			sp.Status = &st
			sp.NextRetryAt = outcome.NextRetryAt
		}
		if err := journal.ApplyStatus(ev, sp); err != nil {
			return nil, err
		}
		return journal.PutPatch(ev).Merge(q.Patch()), nil
	})
	if err != nil {
		return false, err
	}

	switch {
	case out.OK:
		s.logger.Info("Synced prompt", "localId", localID, "requestId", out.RequestID)
	case dead:
		s.logger.Error("Sync failed permanently", "localId", localID, "attempts", attempts, "error", out.Error, "requestId", out.RequestID)
	default:
		s.logger.Error("Sync failed", "localId", localID, "attempts", attempts, "error", out.Error, "requestId", out.RequestID)
	}
	return dead, nil
}
